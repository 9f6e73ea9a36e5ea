package geom

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"

	"github.com/mohammed-shakir/spatial-query/internal/core/model"
)

// Reprojector converts coordinates between two projections.
type Reprojector interface {
	Point(p model.Point) model.Point
	Rect(r model.Rect) model.Rect
	Shape(s *model.Shape)
}

// ReprojectorFactory builds reprojectors on demand. Strategies create at
// most one per layer per call.
type ReprojectorFactory func(from, to model.Projection) (Reprojector, error)

type orbReprojector struct {
	fn orb.Projection
}

type identity struct{}

func (identity) Point(p model.Point) model.Point { return p }
func (identity) Rect(r model.Rect) model.Rect    { return r }
func (identity) Shape(*model.Shape)              {}

// NewReprojector supports geographic WGS84 and spherical web mercator.
func NewReprojector(from, to model.Projection) (Reprojector, error) {
	if !from.Differs(to) {
		return identity{}, nil
	}
	switch {
	case from == model.ProjWGS84 && to == model.ProjWebMercator:
		return orbReprojector{fn: project.WGS84.ToMercator}, nil
	case from == model.ProjWebMercator && to == model.ProjWGS84:
		return orbReprojector{fn: project.Mercator.ToWGS84}, nil
	default:
		return nil, fmt.Errorf("unsupported reprojection %s -> %s", from, to)
	}
}

func (r orbReprojector) Point(p model.Point) model.Point {
	o := r.fn(orb.Point{p.X, p.Y})
	return model.Point{X: o[0], Y: o[1]}
}

const rectEdgeSamples = 10

// Rect samples each edge so curved projected edges stay inside the result.
func (r orbReprojector) Rect(in model.Rect) model.Rect {
	if !in.Valid() {
		return in
	}
	out := model.Rect{MinX: math.Inf(1), MinY: math.Inf(1), MaxX: math.Inf(-1), MaxY: math.Inf(-1)}
	add := func(x, y float64) {
		p := r.Point(model.Point{X: x, Y: y})
		out.MinX = math.Min(out.MinX, p.X)
		out.MinY = math.Min(out.MinY, p.Y)
		out.MaxX = math.Max(out.MaxX, p.X)
		out.MaxY = math.Max(out.MaxY, p.Y)
	}
	dx := in.Width() / rectEdgeSamples
	dy := in.Height() / rectEdgeSamples
	for i := 0; i <= rectEdgeSamples; i++ {
		x := in.MinX + float64(i)*dx
		y := in.MinY + float64(i)*dy
		add(x, in.MinY)
		add(x, in.MaxY)
		add(in.MinX, y)
		add(in.MaxX, y)
	}
	return out
}

func (r orbReprojector) Shape(s *model.Shape) {
	for _, l := range s.Lines {
		for i := range l {
			l[i] = r.Point(l[i])
		}
	}
	s.ComputeBounds()
}
