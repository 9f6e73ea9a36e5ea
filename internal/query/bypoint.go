package query

import (
	"fmt"
	"image"
	"math"
	"slices"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/spatial-query/internal/core/model"
)

// searchSymbol is the on-map footprint of one style of an identification
// class, grown by the search tolerance.
type searchSymbol struct {
	id         int
	classIndex int
	style      *model.Style
	ring       model.Line
}

const rasterCacheSize = 64

func (r *run) byPoint(q PointQuery) error {
	r.resetQueryCache()
	start, stop := r.layerRange()
	cellx, celly := r.m.CellSizes()

	// rasterized symbols, drawn at most once per call
	rasters, _ := lru.New[int, *image.NRGBA](rasterCacheSize)
	nextID := 0

	for i := start; i >= stop; i-- {
		l := r.m.Layers[i]
		limit, ok := r.beginLayer(l)
		if !ok {
			break
		}
		if r.skipLayer(l) {
			continue
		}

		footprint := l.Type == model.LayerPoint && (l.IdentificationClassGroup != "" || l.IdentificationClassAuto)
		var symbols []searchSymbol
		var rect model.Rect
		t := q.Buffer
		if t <= 0 {
			t = r.toGround(l, defaultTolerance(l))
			if footprint && r.e.renderer != nil {
				symbols, rect = r.footprints(l, q.Point, t, &nextID)
			}
		}
		if len(symbols) == 0 {
			rect = model.Rect{MinX: q.Point.X - t, MinY: q.Point.Y - t, MaxX: q.Point.X + t, MaxY: q.Point.Y + t}
		}

		src, paging, err := r.openLayer(l, true)
		if err != nil {
			return err
		}
		found, err := r.whichShapes(l, src, rect)
		if err != nil {
			return err
		}
		if !found {
			continue
		}

		l.SetResultCache(model.NewResultCache())
		group := l.ClassGroup
		if l.Type == model.LayerPoint && l.IdentificationClassGroup != "" {
			group = l.IdentificationClassGroup
		}
		cands := classCandidates(l, group)
		minSize := r.layerMinSize(l)
		proj := r.layerToMap(l)

		for {
			s, err := r.nextShape(l, src, "point")
			if err != nil {
				return err
			}
			if s == nil {
				break
			}
			if r.tooSmall(l, s, minSize, "point") {
				continue
			}

			reprojected := false
			matched := false
			if !footprint {
				if !r.classify(l, s, cands) {
					continue
				}
			} else {
				cls := -1
				for pos := r.nextClass(l, s, cands, -1); pos >= 0; pos = r.nextClass(l, s, cands, pos) {
					ci := cands[pos]
					if l.Classes[ci].Status == model.StatusOff {
						continue
					}
					cls = ci
					if len(symbols) == 0 || s.Type != model.ShapePoint {
						break
					}
					reprojected = true
					if err := proj.Shape(s); err != nil {
						return err
					}
					p := s.Lines[0][0]
					for _, sym := range symbols {
						if sym.classIndex != ci || !r.e.geom.PointInPolygon(p, sym.ring) {
							continue
						}
						matched, err = r.hitSymbol(rasters, sym, p, q.Point, t, cellx, celly)
						if err != nil {
							return err
						}
						break
					}
					break
				}
				if cls == -1 {
					continue
				}
				s.ClassIndex = cls
			}

			if !reprojected {
				if err := proj.Shape(s); err != nil {
					return err
				}
			}

			d := 0.0
			if len(symbols) == 0 || s.Type != model.ShapePoint {
				d = r.e.geom.DistancePointToShape(q.Point, s)
				matched = d <= t
			}

			if matched {
				if !paging && r.startIndex > 1 {
					r.startIndex--
					continue
				}
				if r.spec.Mode == ModeSingle {
					l.ResultCache.Cleanup()
					r.resetQueryCache()
					r.addResult(l.ResultCache, s)
					// the next match must be closer
					t = d
				} else {
					r.addResult(l.ResultCache, s)
				}
			}

			if r.spec.Mode == ModeMultiple && q.MaxResults > 0 && l.ResultCache.NumResults() == q.MaxResults {
				break
			}
			if capReached(l, limit) {
				break
			}
		}

		finishLayer(l, src)
		if l.ResultCache.NumResults() > 0 && r.spec.Mode == ModeSingle && q.MaxResults == 0 {
			break
		}
	}

	r.foundAny("point", start, stop, -1)
	return nil
}

// footprints builds the search polygons of every style that can render
// the layer's identification classes around pt, and their union.
func (r *run) footprints(l *model.Layer, pt model.Point, t float64, nextID *int) ([]searchSymbol, model.Rect) {
	var out []searchSymbol
	rect := model.Rect{MinX: math.Inf(1), MinY: math.Inf(1), MaxX: math.Inf(-1), MaxY: math.Inf(-1)}
	cellx, celly := r.m.CellSizes()
	ext := r.m.Extent

	add := func(ci int) {
		c := l.Classes[ci]
		if !r.m.ScaleInBounds(c.MinScaleDenom, c.MaxScaleDenom) {
			return
		}
		for _, st := range c.Styles {
			if !r.m.ScaleInBounds(st.MinScaleDenom, st.MaxScaleDenom) {
				continue
			}
			if st.Symbol <= 0 || st.Symbol >= len(r.m.Symbols) {
				continue
			}
			sym := r.m.Symbols[st.Symbol]
			w, h, err := r.e.renderer.MarkerSize(r.m, st)
			if err != nil {
				continue
			}
			rot := st.Angle * math.Pi / 180
			sin, cos := math.Sincos(rot)

			// marker center in image space, shifted by the symbol anchor
			cx := math.Round((pt.X - ext.MinX) / cellx)
			cy := math.Round((ext.MaxY - pt.Y) / celly)
			ax, ay := sym.AnchorX*w, sym.AnchorY*h
			cx -= ax*cos - ay*sin
			cy -= ax*sin + ay*cos
			mx := ext.MinX + cx*cellx
			my := ext.MaxY - cy*celly

			corner := func(x, y, dx, dy float64) model.Point {
				ox := (x*cos - y*sin) * cellx
				oy := (x*sin + y*cos) * celly
				return model.Point{X: mx + ox + dx, Y: my + oy + dy}
			}
			p1 := corner(-w/2, -h/2, -t, -t)
			p2 := corner(w/2, -h/2, t, -t)
			p3 := corner(w/2, h/2, t, t)
			p4 := corner(-w/2, h/2, -t, t)
			ring := model.Line{p1, p2, p3, p4, p1}

			out = append(out, searchSymbol{id: *nextID, classIndex: ci, style: st, ring: ring})
			*nextID++
			for _, p := range ring[:4] {
				rect.MinX = math.Min(rect.MinX, p.X)
				rect.MinY = math.Min(rect.MinY, p.Y)
				rect.MaxX = math.Max(rect.MaxX, p.X)
				rect.MaxY = math.Max(rect.MaxY, p.Y)
			}
		}
	}

	switch {
	case l.IdentificationClassGroup != "":
		for i, c := range l.Classes {
			if c.Group != "" && strings.EqualFold(c.Group, l.IdentificationClassGroup) {
				add(i)
				break
			}
		}
	case l.IdentificationClassAuto:
		names := r.spec.StyleNames[l.Index]
		for i, c := range l.Classes {
			if len(names) == 0 || (c.Group != "" && slices.Contains(names, c.Group)) {
				add(i)
			}
		}
	}
	return out, rect
}

// hitSymbol rasterizes sym once and tests whether the query pixel, or any
// pixel within the tolerance box around it, is opaque.
func (r *run) hitSymbol(rasters *lru.Cache[int, *image.NRGBA], sym searchSymbol, at, query model.Point, t, cellx, celly float64) (bool, error) {
	img, ok := rasters.Get(sym.id)
	if !ok {
		w, h, err := r.e.renderer.MarkerSize(r.m, sym.style)
		if err != nil {
			return false, fmt.Errorf("measure symbol %d: %w", sym.style.Symbol, err)
		}
		// room for rotations up to 45 degrees
		w *= 1.5
		h *= 1.5
		img, err = r.e.renderer.Render(r.m, sym.style, int(w), int(h))
		if err != nil {
			return false, fmt.Errorf("draw symbol %d: %w", sym.style.Symbol, err)
		}
		rasters.Add(sym.id, img)
	}

	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	testX := int(math.Round(float64(width/2) + (query.X-at.X)/cellx))
	testY := int(math.Round(float64(height/2) - (query.Y-at.Y)/celly))
	tp := int(math.Ceil(t / math.Max(cellx, celly)))

	for y := -tp; y <= tp; y++ {
		for x := -tp; x <= tp; x++ {
			px, py := testX+x, testY+y
			if px < 0 || px >= width || py < 0 || py >= height {
				continue
			}
			if img.NRGBAAt(b.Min.X+px, b.Min.Y+py).A != 0 {
				return true, nil
			}
		}
	}
	return false, nil
}
