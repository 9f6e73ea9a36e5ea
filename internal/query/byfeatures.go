package query

import (
	"fmt"

	"github.com/mohammed-shakir/spatial-query/internal/core/model"
)

type resultKey struct {
	shape int64
	tile  int
}

// byFeatures joins the selection layer's results against the target
// layers: every candidate touching any selection shape is kept once.
func (r *run) byFeatures() error {
	sl, ok := r.m.Layer(r.spec.SelectionLayer)
	if !ok {
		return fmt.Errorf("%w: invalid selection layer index %d", ErrQuery, r.spec.SelectionLayer)
	}
	if sl.ResultCache == nil {
		return fmt.Errorf("%w: selection layer %q has not been queried", ErrQuery, sl.Name)
	}
	if sl.Source == nil {
		return fmt.Errorf("%w: selection layer %q has no data source", ErrQuery, sl.Name)
	}
	selection := sl.ResultCache.Results
	selProj := r.layerToMap(sl)

	r.resetQueryCache()
	start, stop := r.layerRange()

	for i := start; i >= stop; i-- {
		if i == sl.Index {
			continue
		}
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

		seen := make(map[resultKey]struct{})
		for n, res := range selection {
			if n > 0 && capReached(l, limit) {
				break
			}
			qs, err := sl.Source.GetShape(r.ctx, res.TileIndex, res.ShapeIndex)
			if err != nil {
				_ = src.Close()
				_ = sl.Source.Close()
				return fmt.Errorf("fetch selection shape %d from layer %q: %w", res.ShapeIndex, sl.Name, err)
			}
			if qs.Type != model.ShapePolygon && qs.Type != model.ShapeLine {
				_ = src.Close()
				_ = sl.Source.Close()
				return fmt.Errorf("%w: layer %q shape %d is a %s", ErrSelectionShapeType, sl.Name, res.ShapeIndex, qs.Type)
			}
			qs = qs.Clone()
			if err := selProj.Shape(qs); err != nil {
				return err
			}
			if !qs.Bounds.Valid() {
				qs.ComputeBounds()
			}

			found, err := r.whichShapes(l, src, qs.Bounds.Expand(tol))
			if err != nil {
				return err
			}
			if !found {
				break
			}
			if n == 0 {
				l.SetResultCache(model.NewResultCache())
			}
			if err := r.scanAgainst(l, src, qs, tol, limit, seen, "features"); err != nil {
				return err
			}
		}

		if l.ResultCache == nil || l.ResultCache.NumResults() == 0 {
			_ = src.Close()
		}
	}

	r.foundAny("features", start, stop, sl.Index)
	return nil
}
