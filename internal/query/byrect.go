package query

import (
	"github.com/mohammed-shakir/spatial-query/internal/core/model"
)

func (r *run) byRect(q RectQuery) error {
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

		search := q.Rect
		if l.Tolerance > 0 {
			search = search.Expand(r.toGround(l, l.Tolerance))
		}
		searchShape := search.Polygon()

		src, paging, err := r.openLayer(l, true)
		if err != nil {
			return err
		}
		if r.countOnly(l, src, search, paging) {
			continue
		}
		found, err := r.whichShapes(l, src, search)
		if err != nil {
			return err
		}
		if !found {
			continue
		}

		l.SetResultCache(model.NewResultCache())
		cands := classCandidates(l, l.ClassGroup)
		minSize := r.layerMinSize(l)
		proj := r.layerToMap(l)
		total := 0

		for {
			s, err := r.nextShape(l, src, "rect")
			if err != nil {
				return err
			}
			if s == nil {
				break
			}
			total++
			if r.tooSmall(l, s, minSize, "rect") {
				continue
			}
			if !r.classify(l, s, cands) {
				continue
			}
			if err := proj.Shape(s); err != nil {
				// an unprojectable shape is skipped, not fatal
				continue
			}

			if r.rectAccepts(s, search, searchShape) {
				if r.accept(l, s, paging) && r.maxFeatures > 0 {
					r.maxFeatures--
				}
			}
			if capReached(l, limit) {
				break
			}
		}

		if paging && limit > 0 && total == limit && total > l.ResultCache.NumResults() {
			l.ResultCache.HasNext = true
		}
		if !r.spec.OnlyCount {
			finishLayer(l, src)
		}
	}

	r.foundAny("rect", start, stop, -1)
	return nil
}

// rectAccepts skips the exact test when the shape bounds sit inside the
// search rectangle.
func (r *run) rectAccepts(s *model.Shape, search model.Rect, searchShape *model.Shape) bool {
	if s.Bounds.Valid() && search.Contains(s.Bounds) {
		return true
	}
	switch s.Type {
	case model.ShapePoint:
		return r.e.geom.IntersectMultipointPolygon(s, searchShape)
	case model.ShapeLine:
		return r.e.geom.IntersectPolylinePolygon(s, searchShape)
	case model.ShapePolygon:
		return r.e.geom.IntersectPolygons(s, searchShape)
	case model.ShapeNull:
		return true
	default:
		return false
	}
}
