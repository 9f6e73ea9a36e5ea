// Package geom holds the geometric predicates and reprojection used by the
// query strategies.
package geom

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/mohammed-shakir/spatial-query/internal/core/model"
)

// Evaluator answers the intersection and distance questions the query
// strategies ask. Polygons follow the even-odd rule over all their rings.
type Evaluator interface {
	IntersectMultipointPolygon(points, polygon *model.Shape) bool
	IntersectPolylinePolygon(line, polygon *model.Shape) bool
	IntersectPolygons(a, b *model.Shape) bool
	IntersectPolylines(a, b *model.Shape) bool
	DistancePointToShape(p model.Point, s *model.Shape) float64
	DistanceShapeToShape(a, b *model.Shape) float64
	PointInPolygon(p model.Point, ring model.Line) bool
}

// Planar implements Evaluator with cartesian math on top of orb/planar.
type Planar struct{}

func NewPlanar() Planar { return Planar{} }

func toOrb(p model.Point) orb.Point { return orb.Point{p.X, p.Y} }

func toRing(l model.Line) orb.Ring {
	r := make(orb.Ring, len(l))
	for i, p := range l {
		r[i] = toOrb(p)
	}
	return r
}

func (Planar) PointInPolygon(p model.Point, ring model.Line) bool {
	if len(ring) < 3 {
		return false
	}
	return planar.RingContains(toRing(ring), toOrb(p))
}

// insidePolygon applies the even-odd rule over every ring of poly.
func insidePolygon(p model.Point, poly *model.Shape) bool {
	inside := false
	pt := toOrb(p)
	for _, l := range poly.Lines {
		if len(l) < 3 {
			continue
		}
		if planar.RingContains(toRing(l), pt) {
			inside = !inside
		}
	}
	return inside
}

func (Planar) IntersectMultipointPolygon(points, polygon *model.Shape) bool {
	for _, l := range points.Lines {
		for _, p := range l {
			if insidePolygon(p, polygon) {
				return true
			}
		}
	}
	return false
}

func (e Planar) IntersectPolylinePolygon(line, polygon *model.Shape) bool {
	// a line wholly inside the polygon never crosses an edge
	for _, l := range line.Lines {
		if len(l) > 0 && insidePolygon(l[0], polygon) {
			return true
		}
	}
	return linesCross(line.Lines, polygon.Lines)
}

func (e Planar) IntersectPolygons(a, b *model.Shape) bool {
	for _, l := range a.Lines {
		if len(l) > 0 && insidePolygon(l[0], b) {
			return true
		}
	}
	for _, l := range b.Lines {
		if len(l) > 0 && insidePolygon(l[0], a) {
			return true
		}
	}
	return linesCross(a.Lines, b.Lines)
}

func (Planar) IntersectPolylines(a, b *model.Shape) bool {
	return linesCross(a.Lines, b.Lines)
}

func (Planar) DistancePointToShape(p model.Point, s *model.Shape) float64 {
	switch s.Type {
	case model.ShapePoint:
		d := math.Inf(1)
		for _, l := range s.Lines {
			for _, q := range l {
				d = math.Min(d, math.Hypot(p.X-q.X, p.Y-q.Y))
			}
		}
		return d
	case model.ShapeLine:
		return segmentDistance(p, s.Lines, false)
	case model.ShapePolygon:
		if insidePolygon(p, s) {
			return 0
		}
		return segmentDistance(p, s.Lines, true)
	default:
		return math.Inf(1)
	}
}

func (e Planar) DistanceShapeToShape(a, b *model.Shape) float64 {
	if a.Type == model.ShapePoint {
		return minPointDistance(e, a, b)
	}
	if b.Type == model.ShapePoint {
		return minPointDistance(e, b, a)
	}
	switch {
	case a.Type == model.ShapePolygon && b.Type == model.ShapePolygon:
		if e.IntersectPolygons(a, b) {
			return 0
		}
	case a.Type == model.ShapePolygon:
		if e.IntersectPolylinePolygon(b, a) {
			return 0
		}
	case b.Type == model.ShapePolygon:
		if e.IntersectPolylinePolygon(a, b) {
			return 0
		}
	default:
		if e.IntersectPolylines(a, b) {
			return 0
		}
	}
	d := math.Inf(1)
	closedA := a.Type == model.ShapePolygon
	closedB := b.Type == model.ShapePolygon
	for _, l := range a.Lines {
		for _, p := range l {
			d = math.Min(d, segmentDistance(p, b.Lines, closedB))
		}
	}
	for _, l := range b.Lines {
		for _, p := range l {
			d = math.Min(d, segmentDistance(p, a.Lines, closedA))
		}
	}
	return d
}

func minPointDistance(e Planar, points, other *model.Shape) float64 {
	d := math.Inf(1)
	for _, l := range points.Lines {
		for _, p := range l {
			d = math.Min(d, e.DistancePointToShape(p, other))
		}
	}
	return d
}

func segmentDistance(p model.Point, lines []model.Line, closed bool) float64 {
	d := math.Inf(1)
	pt := toOrb(p)
	for _, l := range lines {
		if len(l) == 1 {
			d = math.Min(d, math.Hypot(p.X-l[0].X, p.Y-l[0].Y))
			continue
		}
		for i := 1; i < len(l); i++ {
			d = math.Min(d, planar.DistanceFromSegment(toOrb(l[i-1]), toOrb(l[i]), pt))
		}
		if closed && len(l) > 2 && l[0] != l[len(l)-1] {
			d = math.Min(d, planar.DistanceFromSegment(toOrb(l[len(l)-1]), toOrb(l[0]), pt))
		}
	}
	return d
}

func linesCross(a, b []model.Line) bool {
	for _, la := range a {
		for i := 1; i < len(la); i++ {
			for _, lb := range b {
				for j := 1; j < len(lb); j++ {
					if segmentsIntersect(la[i-1], la[i], lb[j-1], lb[j]) {
						return true
					}
				}
			}
		}
	}
	return false
}

func orientation(a, b, c model.Point) float64 {
	return (b.X-a.X)*(c.Y-a.Y) - (b.Y-a.Y)*(c.X-a.X)
}

func onSegment(a, b, p model.Point) bool {
	return math.Min(a.X, b.X) <= p.X && p.X <= math.Max(a.X, b.X) &&
		math.Min(a.Y, b.Y) <= p.Y && p.Y <= math.Max(a.Y, b.Y)
}

func segmentsIntersect(p1, p2, q1, q2 model.Point) bool {
	d1 := orientation(q1, q2, p1)
	d2 := orientation(q1, q2, p2)
	d3 := orientation(p1, p2, q1)
	d4 := orientation(p1, p2, q2)
	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) && ((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	switch {
	case d1 == 0 && onSegment(q1, q2, p1):
		return true
	case d2 == 0 && onSegment(q1, q2, p2):
		return true
	case d3 == 0 && onSegment(p1, p2, q1):
		return true
	case d4 == 0 && onSegment(p1, p2, q2):
		return true
	}
	return false
}
