package query

import (
	"fmt"

	"github.com/mohammed-shakir/spatial-query/internal/core/model"
)

func (r *run) byFilter(q FilterQuery) error {
	if !q.Filter.IsSet() {
		return fmt.Errorf("%w: filter is not set", ErrMalformedQuery)
	}
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
		if err := r.filterLayer(l, q, limit); err != nil {
			return err
		}
	}

	r.foundAny("filter", start, stop, -1)
	return nil
}

// filterLayer runs the filter scan on one layer. The layer's own filter
// is restored on every exit path.
func (r *run) filterLayer(l *model.Layer, q FilterQuery, limit int) error {
	src, paging, err := r.openLayer(l, true)
	if err != nil {
		return err
	}

	oldFilter, oldItem := l.Filter, l.FilterItem
	defer func() {
		l.Filter, l.FilterItem = oldFilter, oldItem
		src.SetFilter(oldItem, oldFilter)
	}()

	l.FilterItem = q.Item
	if oldFilter.IsSet() {
		merged := MergeFilters(q.Filter, q.Item, oldFilter, oldItem)
		if !merged.IsSet() {
			return fmt.Errorf("%w: layer %q", ErrFilterMerge, l.Name)
		}
		l.Filter = merged
	} else {
		l.Filter = q.Filter
	}
	src.SetFilter(l.FilterItem, l.Filter)
	if err := src.WhichItems(true); err != nil {
		return fmt.Errorf("select items on layer %q: %w", l.Name, err)
	}

	search := q.Rect
	if r.countOnly(l, src, search, paging) {
		return nil
	}
	found, err := r.whichShapes(l, src, search)
	if err != nil || !found {
		return err
	}

	l.SetResultCache(model.NewResultCache())
	cands := classCandidates(l, l.ClassGroup)
	minSize := r.layerMinSize(l)
	proj := r.layerToMap(l)

	for {
		s, err := r.nextShape(l, src, "filter")
		if err != nil {
			return err
		}
		if s == nil {
			break
		}
		if r.tooSmall(l, s, minSize, "filter") {
			continue
		}
		if !r.classify(l, s, cands) {
			continue
		}
		if err := proj.Shape(s); err != nil {
			return err
		}
		if !r.accept(l, s, paging) {
			continue
		}
		if r.spec.Mode == ModeSingle || capReached(l, limit) {
			break
		}
	}

	if !r.spec.OnlyCount {
		finishLayer(l, src)
	}
	return nil
}
