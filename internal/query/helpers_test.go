package query

import (
	"image"
	"image/color"

	"github.com/mohammed-shakir/spatial-query/internal/core/model"
	"github.com/mohammed-shakir/spatial-query/internal/geom"
	"github.com/mohammed-shakir/spatial-query/internal/source/memsource"
)

// testMap is 100x100 ground units on a 101x101 image, one unit per pixel.
func testMap() *model.Map {
	m := model.NewMap("test")
	m.Extent = model.Rect{MinX: 0, MinY: 0, MaxX: 100, MaxY: 100}
	m.Width, m.Height = 101, 101
	return m
}

func pointLayer(m *model.Map, name string, pts []model.Point, opts ...memsource.Option) (*model.Layer, *memsource.Source) {
	shapes := make([]*model.Shape, len(pts))
	for i, p := range pts {
		shapes[i] = model.NewPoint(p.X, p.Y)
	}
	return addLayer(m, name, model.LayerPoint, shapes, opts...)
}

func addLayer(m *model.Map, name string, t model.LayerType, shapes []*model.Shape, opts ...memsource.Option) (*model.Layer, *memsource.Source) {
	src := memsource.New(shapes, opts...)
	l := model.NewLayer(name, t)
	l.Template = "tmpl"
	l.Source = src
	m.AddLayer(l)
	return l, src
}

func square(minx, miny, maxx, maxy float64) *model.Shape {
	s := model.Rect{MinX: minx, MinY: miny, MaxX: maxx, MaxY: maxy}.Polygon()
	s.Bounds = model.InvalidRect
	return s
}

func indexes(l *model.Layer) []int64 {
	if l.ResultCache == nil {
		return nil
	}
	out := make([]int64, 0, len(l.ResultCache.Results))
	for _, r := range l.ResultCache.Results {
		out = append(out, r.ShapeIndex)
	}
	return out
}

type countingEval struct {
	geom.Planar
	intersections int
}

func (c *countingEval) IntersectMultipointPolygon(a, b *model.Shape) bool {
	c.intersections++
	return c.Planar.IntersectMultipointPolygon(a, b)
}

func (c *countingEval) IntersectPolylinePolygon(a, b *model.Shape) bool {
	c.intersections++
	return c.Planar.IntersectPolylinePolygon(a, b)
}

func (c *countingEval) IntersectPolygons(a, b *model.Shape) bool {
	c.intersections++
	return c.Planar.IntersectPolygons(a, b)
}

func (c *countingEval) IntersectPolylines(a, b *model.Shape) bool {
	c.intersections++
	return c.Planar.IntersectPolylines(a, b)
}

var _ geom.Evaluator = (*countingEval)(nil)

// fakeRenderer draws every symbol as a size x size square, opaque or
// fully transparent.
type fakeRenderer struct {
	size    float64
	opaque  bool
	renders int
}

func (f *fakeRenderer) MarkerSize(*model.Map, *model.Style) (float64, float64, error) {
	return f.size, f.size, nil
}

func (f *fakeRenderer) Render(_ *model.Map, _ *model.Style, w, h int) (*image.NRGBA, error) {
	f.renders++
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	if f.opaque {
		for y := range h {
			for x := range w {
				img.SetNRGBA(x, y, color.NRGBA{A: 255})
			}
		}
	}
	return img, nil
}

var _ SymbolRenderer = (*fakeRenderer)(nil)
