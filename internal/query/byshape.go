package query

import (
	"fmt"

	"github.com/mohammed-shakir/spatial-query/internal/core/model"
)

func (r *run) byShape(q ShapeQuery) error {
	qs := q.Shape
	if qs == nil {
		return fmt.Errorf("%w: query shape is not defined", ErrMalformedQuery)
	}
	if qs.Type != model.ShapePolygon && qs.Type != model.ShapeLine && qs.Type != model.ShapePoint {
		return fmt.Errorf("%w: query shape must be a polygon, line or point", ErrMalformedQuery)
	}
	qs = qs.Clone()
	qs.ComputeBounds()

	r.resetQueryCache()
	start, stop := r.layerRange()

	for i := start; i >= stop; i-- {
		l := r.m.Layers[i]
		limit, ok := r.beginLayer(l)
		if !ok {
			break
		}
		if r.skipLayer(l) {
			continue
		}

		tol := r.toGround(l, defaultTolerance(l))
		src, _, err := r.openLayer(l, false)
		if err != nil {
			return err
		}
		found, err := r.whichShapes(l, src, qs.Bounds.Expand(tol))
		if err != nil {
			return err
		}
		if !found {
			continue
		}

		l.SetResultCache(model.NewResultCache())
		if err := r.scanAgainst(l, src, qs, tol, limit, nil, "shape"); err != nil {
			return err
		}
		finishLayer(l, src)
	}

	r.foundAny("shape", start, stop, -1)
	return nil
}

// scanAgainst iterates the current selection of src, accepting shapes that
// touch qs within tol. seen, when non-nil, suppresses shapes already in the
// layer's cache.
func (r *run) scanAgainst(l *model.Layer, src model.ShapeSource, qs *model.Shape, tol float64, limit int, seen map[resultKey]struct{}, strategy string) error {
	cands := classCandidates(l, l.ClassGroup)
	minSize := r.layerMinSize(l)
	proj := r.layerToMap(l)

	for {
		s, err := r.nextShape(l, src, strategy)
		if err != nil {
			return err
		}
		if s == nil {
			return nil
		}
		key := resultKey{shape: s.Index, tile: s.TileIndex}
		if seen != nil {
			if _, dup := seen[key]; dup {
				continue
			}
		}
		if r.tooSmall(l, s, minSize, strategy) {
			continue
		}
		if !r.classify(l, s, cands) {
			continue
		}
		if err := proj.Shape(s); err != nil {
			return err
		}
		if r.shapeAccepts(qs, s, tol) && r.accept(l, s, src.Paging()) && seen != nil {
			seen[key] = struct{}{}
		}
		if capReached(l, limit) {
			return nil
		}
	}
}

// shapeAccepts is the (query type, candidate type) acceptance matrix.
// Zero tolerance asks for an exact intersection, otherwise the shapes must
// be closer than tol.
func (r *run) shapeAccepts(qs, s *model.Shape, tol float64) bool {
	g := r.e.geom
	near := func() bool { return g.DistanceShapeToShape(qs, s) < tol }

	switch qs.Type {
	case model.ShapePolygon:
		if tol != 0 {
			return s.Type != model.ShapeNull && near()
		}
		switch s.Type {
		case model.ShapePoint:
			return g.IntersectMultipointPolygon(s, qs)
		case model.ShapeLine:
			return g.IntersectPolylinePolygon(s, qs)
		case model.ShapePolygon:
			return g.IntersectPolygons(s, qs)
		}
	case model.ShapeLine:
		switch s.Type {
		case model.ShapePoint:
			if tol == 0 {
				return g.DistanceShapeToShape(qs, s) == 0
			}
			return near()
		case model.ShapeLine:
			if tol == 0 {
				return g.IntersectPolylines(s, qs)
			}
			return near()
		case model.ShapePolygon:
			if tol == 0 {
				return g.IntersectPolylinePolygon(qs, s)
			}
			return near()
		}
	case model.ShapePoint:
		d := g.DistanceShapeToShape(qs, s)
		return (tol == 0 && d == 0) || d < tol
	}
	return false
}
