// Package symbol measures and rasterizes map marker symbols.
package symbol

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/vector"

	"github.com/mohammed-shakir/spatial-query/internal/core/model"
)

var ErrUnknownSymbol = errors.New("unknown symbol")

// penUp separates the paths of a vector symbol.
var penUp = model.Point{X: -99, Y: -99}

const ellipseSegments = 48

type Renderer struct{}

func New() *Renderer { return &Renderer{} }

func lookup(m *model.Map, st *model.Style) (*model.Symbol, error) {
	if st == nil || st.Symbol <= 0 || st.Symbol >= len(m.Symbols) {
		return nil, fmt.Errorf("%w: style symbol out of range", ErrUnknownSymbol)
	}
	return m.Symbols[st.Symbol], nil
}

// MarkerSize is the style size (or the symbol's own height) scaled by the
// style scale factor and the map resolution, with the symbol's aspect
// ratio applied to the width.
func (r *Renderer) MarkerSize(m *model.Map, st *model.Style) (float64, float64, error) {
	sym, err := lookup(m, st)
	if err != nil {
		return 0, 0, err
	}
	size := st.Size
	if size <= 0 {
		size = sym.SizeY
	}
	if size <= 0 {
		size = 1
	}
	scale := st.ScaleFactor
	if scale <= 0 {
		scale = 1
	}
	h := size * scale * m.ResolutionFactor()
	w := h
	if sym.SizeX > 0 && sym.SizeY > 0 {
		w = h * sym.SizeX / sym.SizeY
	}
	return w, h, nil
}

// Render draws the symbol at its marker size, rotated by the style angle,
// centered on a transparent w x h image.
func (r *Renderer) Render(m *model.Map, st *model.Style, w, h int) (*image.NRGBA, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid raster size %dx%d", w, h)
	}
	sym, err := lookup(m, st)
	if err != nil {
		return nil, err
	}
	mw, mh, err := r.MarkerSize(m, st)
	if err != nil {
		return nil, err
	}

	sin, cos := math.Sincos(st.Angle * math.Pi / 180)
	cx, cy := float64(w)/2, float64(h)/2
	place := func(x, y float64) (float32, float32) {
		return float32(cx + x*cos - y*sin), float32(cy + x*sin + y*cos)
	}

	var paths [][][2]float64
	switch sym.Type {
	case model.SymbolEllipse:
		ring := make([][2]float64, 0, ellipseSegments+1)
		for i := 0; i <= ellipseSegments; i++ {
			a := 2 * math.Pi * float64(i) / ellipseSegments
			ring = append(ring, [2]float64{mw / 2 * math.Cos(a), mh / 2 * math.Sin(a)})
		}
		paths = append(paths, ring)
	case model.SymbolVector:
		sx, sy := sym.SizeX, sym.SizeY
		if sx <= 0 || sy <= 0 {
			sx, sy = extent(sym.Points)
		}
		var cur [][2]float64
		for _, p := range sym.Points {
			if p == penUp {
				if len(cur) > 0 {
					paths = append(paths, cur)
				}
				cur = nil
				continue
			}
			cur = append(cur, [2]float64{(p.X/sx - 0.5) * mw, (p.Y/sy - 0.5) * mh})
		}
		if len(cur) > 0 {
			paths = append(paths, cur)
		}
	default:
		return nil, fmt.Errorf("%w: type %d", ErrUnknownSymbol, sym.Type)
	}

	rast := vector.NewRasterizer(w, h)
	filled := sym.Filled || sym.Type == model.SymbolEllipse
	for _, path := range paths {
		if filled {
			for i, p := range path {
				x, y := place(p[0], p[1])
				if i == 0 {
					rast.MoveTo(x, y)
					continue
				}
				rast.LineTo(x, y)
			}
			rast.ClosePath()
			continue
		}
		for i := 1; i < len(path); i++ {
			stroke(rast, place, path[i-1], path[i])
		}
	}

	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	rast.Draw(dst, dst.Bounds(), image.NewUniform(color.NRGBA{A: 255}), image.Point{})
	return dst, nil
}

// stroke adds a one pixel wide quad along a-b.
func stroke(rast *vector.Rasterizer, place func(x, y float64) (float32, float32), a, b [2]float64) {
	dx, dy := b[0]-a[0], b[1]-a[1]
	n := math.Hypot(dx, dy)
	if n == 0 {
		return
	}
	ox, oy := -dy/n*0.5, dx/n*0.5
	x, y := place(a[0]+ox, a[1]+oy)
	rast.MoveTo(x, y)
	x, y = place(b[0]+ox, b[1]+oy)
	rast.LineTo(x, y)
	x, y = place(b[0]-ox, b[1]-oy)
	rast.LineTo(x, y)
	x, y = place(a[0]-ox, a[1]-oy)
	rast.LineTo(x, y)
	rast.ClosePath()
}

func extent(pts []model.Point) (float64, float64) {
	var mx, my float64
	for _, p := range pts {
		if p == penUp {
			continue
		}
		mx = math.Max(mx, p.X)
		my = math.Max(my, p.Y)
	}
	if mx <= 0 {
		mx = 1
	}
	if my <= 0 {
		my = 1
	}
	return mx, my
}
