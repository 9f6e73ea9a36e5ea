package query

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/mohammed-shakir/spatial-query/internal/core/model"
	"github.com/mohammed-shakir/spatial-query/internal/core/observability"
	"github.com/mohammed-shakir/spatial-query/internal/expr"
	"github.com/mohammed-shakir/spatial-query/internal/geom"
)

// layerRange returns the scan bounds, top layer first.
func (r *run) layerRange() (start, stop int) {
	n := len(r.m.Layers)
	if r.layer < 0 || r.layer >= n {
		return n - 1, 0
	}
	return r.layer, r.layer
}

// beginLayer applies the call-wide feature budget and start index to l and
// drops its previous results. It returns the per-layer cap and false when
// the budget is exhausted and no further layer should be scanned.
func (r *run) beginLayer(l *model.Layer) (int, bool) {
	if r.maxFeatures == 0 {
		return 0, false
	}
	limit := l.MaxFeatures
	if r.maxFeatures > 0 {
		limit = r.maxFeatures
	}
	if l.StartIndex > 1 && r.startIndex < 0 {
		r.startIndex = l.StartIndex
	}
	l.ClearResultCache()
	r.pageLimit = limit
	return limit, true
}

// skipLayer reports whether l is out of play for this query: not
// queryable, switched off, or outside its scale or geo width range.
func (r *run) skipLayer(l *model.Layer) bool {
	if !l.Queryable() || l.Status == model.StatusOff {
		return true
	}
	if !r.m.ScaleInBounds(l.MinScaleDenom, l.MaxScaleDenom) {
		return true
	}
	if l.MaxScaleDenom <= 0 && l.MinScaleDenom <= 0 {
		w := r.m.Extent.Width()
		if l.MaxGeoWidth > 0 && w > l.MaxGeoWidth {
			return true
		}
		if l.MinGeoWidth > 0 && w < l.MinGeoWidth {
			return true
		}
	}
	// raster layers have no vector features to test
	return l.Type == model.LayerRaster
}

// toGround converts a tolerance in the layer's tolerance units to map
// ground units.
func (r *run) toGround(l *model.Layer, t float64) float64 {
	if l.ToleranceUnits == model.UnitsPixels {
		return t * r.m.CellSize()
	}
	return t * model.InchesPerUnit(l.ToleranceUnits) / model.InchesPerUnit(r.m.Units)
}

// defaultTolerance is the layer tolerance in layer units, defaulting to 3
// for point and line layers and 0 for everything else.
func defaultTolerance(l *model.Layer) float64 {
	if l.Tolerance != -1 {
		return l.Tolerance
	}
	if l.Type == model.LayerPoint || l.Type == model.LayerLine {
		return 3
	}
	return 0
}

// openLayer closes and reopens the layer's source so driver filter and
// item state start clean. keepPaging keeps the paging state the reopened
// driver advertises and hands it the current page; otherwise paging is
// switched off.
func (r *run) openLayer(l *model.Layer, keepPaging bool) (model.ShapeSource, bool, error) {
	src := l.Source
	if src == nil {
		return nil, false, fmt.Errorf("%w: layer %q has no data source", ErrQuery, l.Name)
	}
	_ = src.Close()
	if err := src.Open(r.ctx); err != nil {
		return nil, false, fmt.Errorf("open layer %q: %w", l.Name, err)
	}
	paging := src.Paging()
	if !keepPaging {
		paging = false
	}
	src.EnablePaging(paging)
	if paging {
		src.SetPage(r.startIndex, r.pageLimit)
	}
	src.SetFilter(l.FilterItem, l.Filter)
	if err := src.WhichItems(true); err != nil {
		_ = src.Close()
		return nil, false, fmt.Errorf("select items on layer %q: %w", l.Name, err)
	}
	return src, paging, nil
}

// whichShapes scopes src to rect, given in map coordinates. It returns
// false when the rectangle misses the layer.
func (r *run) whichShapes(l *model.Layer, src model.ShapeSource, rect model.Rect) (bool, error) {
	if rect.Valid() && l.Projection.Differs(r.m.Projection) {
		rp, err := r.e.reprojectors(r.m.Projection, l.Projection)
		if err != nil {
			return false, fmt.Errorf("reproject search rect for layer %q: %w", l.Name, err)
		}
		rect = rp.Rect(rect)
	}
	err := src.WhichShapes(r.ctx, rect, true)
	switch {
	case errors.Is(err, model.ErrNoOverlap):
		_ = src.Close()
		return false, nil
	case err != nil:
		_ = src.Close()
		return false, fmt.Errorf("select shapes on layer %q: %w", l.Name, err)
	}
	return true, nil
}

// nextShape returns the next candidate or nil at the end of the selection.
func (r *run) nextShape(l *model.Layer, src model.ShapeSource, strategy string) (*model.Shape, error) {
	if err := r.ctx.Err(); err != nil {
		return nil, err
	}
	s, err := src.NextShape(r.ctx)
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read shape from layer %q: %w", l.Name, err)
	}
	observability.IncShapesScanned(strategy)
	return s, nil
}

// lazyProjector creates the layer to map reprojector on first use and
// keeps it for the rest of the layer scan.
type lazyProjector struct {
	r  *run
	l  *model.Layer
	rp geom.Reprojector
}

func (r *run) layerToMap(l *model.Layer) *lazyProjector {
	return &lazyProjector{r: r, l: l}
}

func (p *lazyProjector) Shape(s *model.Shape) error {
	if !p.l.Projection.Differs(p.r.m.Projection) {
		return nil
	}
	if p.rp == nil {
		rp, err := p.r.e.reprojectors(p.l.Projection, p.r.m.Projection)
		if err != nil {
			return fmt.Errorf("reproject layer %q: %w", p.l.Name, err)
		}
		p.rp = rp
	}
	p.rp.Shape(s)
	return nil
}

// layerMinSize returns the layer minimum feature size in ground units or
// -1 when unset.
func (r *run) layerMinSize(l *model.Layer) float64 {
	if l.MinFeatureSize > 0 {
		return r.m.PixelsToGround(l, l.MinFeatureSize)
	}
	return -1
}

func (r *run) tooSmall(l *model.Layer, s *model.Shape, minSize float64, strategy string) bool {
	if minSize <= 0 || (s.Type != model.ShapeLine && s.Type != model.ShapePolygon) {
		return false
	}
	if s.CheckSize(minSize) {
		return false
	}
	r.e.log.LogAttrs(r.ctx, slog.LevelDebug, "skipping shape smaller than layer minimum feature size",
		slog.String("strategy", strategy),
		slog.String("layer", l.Name),
		slog.Int64("shape", s.Index))
	return true
}

// classCandidates lists the classes classification may pick from.
func classCandidates(l *model.Layer, group string) []int {
	if g := l.ValidClassGroup(group); len(g) > 0 {
		return g
	}
	out := make([]int, len(l.Classes))
	for i := range out {
		out[i] = i
	}
	return out
}

// nextClass returns the position in cands of the first class after
// position after that matches s, or -1. A fallback class only applies when
// no class matched before it.
func (r *run) nextClass(l *model.Layer, s *model.Shape, cands []int, after int) int {
	for pos := after + 1; pos < len(cands); pos++ {
		c := l.Classes[cands[pos]]
		if !r.m.ScaleInBounds(c.MinScaleDenom, c.MaxScaleDenom) {
			continue
		}
		if (s.Type == model.ShapeLine || s.Type == model.ShapePolygon) && c.MinFeatureSize > 0 {
			if !s.CheckSize(r.m.PixelsToGround(l, c.MinFeatureSize)) {
				continue
			}
		}
		if c.Status == model.StatusDelete {
			continue
		}
		ok, err := expr.Match(c.Expression, l.ClassItem, s.Values)
		if err != nil {
			r.e.log.LogAttrs(r.ctx, slog.LevelDebug, "class expression failed",
				slog.String("layer", l.Name), slog.String("class", c.Name), slog.Any("err", err))
			continue
		}
		if !ok {
			continue
		}
		if c.IsFallback && after != -1 {
			return -1
		}
		return pos
	}
	return -1
}

// classify sets s.ClassIndex and reports whether the shape passes class
// and template gating.
func (r *run) classify(l *model.Layer, s *model.Shape, cands []int) bool {
	s.ClassIndex = -1
	if pos := r.nextClass(l, s, cands, -1); pos >= 0 {
		s.ClassIndex = cands[pos]
	}
	if l.Template != "" {
		return true
	}
	if s.ClassIndex == -1 {
		return false
	}
	c := l.Classes[s.ClassIndex]
	return c.Status != model.StatusOff && c.Template != ""
}

// countOnly answers count-only queries straight from the driver when it
// can. It reports false when the caller must fall back to iterating.
func (r *run) countOnly(l *model.Layer, src model.ShapeSource, rect model.Rect, paging bool) bool {
	if !r.spec.OnlyCount || l.Template == "" || l.MinFeatureSize > 0 {
		return false
	}
	n := -1
	var err error
	useLayerCRS := false
	if rect.Valid() && l.Extent.Valid() && l.Projection.Differs(r.m.Projection) {
		if rp, perr := r.e.reprojectors(l.Projection, r.m.Projection); perr == nil {
			ext := rp.Rect(l.Extent.Expand(1e-5))
			if rectsClose(ext, rect, 2e-5) {
				useLayerCRS = true
				n, err = src.ShapeCount(r.ctx, l.Extent, l.Projection)
			}
		}
	}
	if !useLayerCRS {
		n, err = src.ShapeCount(r.ctx, rect, r.m.Projection)
	}
	if err != nil {
		r.e.log.LogAttrs(r.ctx, slog.LevelDebug, "driver count failed; iterating instead",
			slog.String("layer", l.Name), slog.Any("err", err))
		return false
	}
	if n < 0 {
		return false
	}
	if !paging && r.startIndex > 1 {
		n = max(n-(r.startIndex-1), 0)
	}
	l.SetResultCache(model.NewCountCache(n))
	return true
}

func rectsClose(a, b model.Rect, eps float64) bool {
	return math.Abs(a.MinX-b.MinX) <= eps && math.Abs(a.MinY-b.MinY) <= eps &&
		math.Abs(a.MaxX-b.MaxX) <= eps && math.Abs(a.MaxY-b.MaxY) <= eps
}

// finishLayer closes the source of a layer that produced nothing.
func finishLayer(l *model.Layer, src model.ShapeSource) {
	if l.ResultCache == nil || l.ResultCache.NumResults() == 0 {
		_ = src.Close()
	}
}

// capReached reports whether the per-layer cap has been hit.
func capReached(l *model.Layer, limit int) bool {
	return limit > 0 && l.ResultCache.NumResults() == limit
}
