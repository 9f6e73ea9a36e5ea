package query

import (
	"fmt"

	"github.com/mohammed-shakir/spatial-query/internal/core/model"
)

// byIndex fetches one feature by (tileindex, shapeindex) and appends it to
// the layer's cache, or replaces the cache when ClearResultCache is set.
func (r *run) byIndex(q IndexQuery) error {
	l, ok := r.m.Layer(r.layer)
	if !ok {
		return fmt.Errorf("%w: no query layer defined", ErrQuery)
	}
	if !l.Queryable() {
		return fmt.Errorf("%w: layer %q has no templates defined", ErrQuery, l.Name)
	}
	r.resetQueryCache()

	if q.ClearResultCache {
		l.ClearResultCache()
	}
	src, _, err := r.openLayer(l, false)
	if err != nil {
		return err
	}
	if q.ClearResultCache || l.ResultCache == nil {
		l.SetResultCache(model.NewResultCache())
	}

	s, err := src.GetShape(r.ctx, q.TileIndex, q.ShapeIndex)
	if err != nil {
		return fmt.Errorf("%w: not a valid record request (tile %d, shape %d) on layer %q: %w",
			ErrQuery, q.TileIndex, q.ShapeIndex, l.Name, err)
	}
	if !l.Connection.KeepsResultIndex() {
		s.ResultIndex = -1
	}

	if minSize := r.layerMinSize(l); (s.Type == model.ShapeLine || s.Type == model.ShapePolygon) && minSize > 0 && !s.CheckSize(minSize) {
		_ = src.Close()
		return fmt.Errorf("%w: requested shape not valid against layer %q minimum feature size", ErrQuery, l.Name)
	}

	s.ClassIndex = -1
	cands := classCandidates(l, "")
	if pos := r.nextClass(l, s, cands, -1); pos >= 0 {
		s.ClassIndex = cands[pos]
	}
	if l.Template == "" {
		if s.ClassIndex == -1 || l.Classes[s.ClassIndex].Status == model.StatusOff {
			_ = src.Close()
			return fmt.Errorf("%w: requested shape not valid against layer %q classification", ErrQuery, l.Name)
		}
		if l.Classes[s.ClassIndex].Template == "" {
			_ = src.Close()
			return fmt.Errorf("%w: requested shape on layer %q has no template", ErrQuery, l.Name)
		}
	}

	if err := r.layerToMap(l).Shape(s); err != nil {
		return err
	}
	r.addResult(l.ResultCache, s)
	return nil
}
