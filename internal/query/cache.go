package query

import (
	"log/slog"

	"github.com/mohammed-shakir/spatial-query/internal/core/model"
	"github.com/mohammed-shakir/spatial-query/internal/core/observability"
)

// queryCache tracks how many shapes one call has materialized. The
// warning latches make each budget log at most once per call.
type queryCache struct {
	cachedShapeCount   int
	cachedShapeRAM     int
	countLimitReached  bool
	memoryLimitReached bool
}

func (r *run) resetQueryCache() { r.qc = queryCache{} }

// canCacheShape decides whether the next accepted shape may be copied into
// the result cache given the call's budgets.
func (r *run) canCacheShape(ramEstimate int) bool {
	opts := r.spec.Cache
	if !opts.Shapes {
		return false
	}
	if r.qc.countLimitReached {
		return false
	}
	if opts.MaxShapeCount > 0 && r.qc.cachedShapeCount >= opts.MaxShapeCount {
		r.qc.countLimitReached = true
		observability.IncCacheBudgetHit("count")
		r.e.log.LogAttrs(r.ctx, slog.LevelWarn, "shape cache count limit reached; further shapes kept as references only",
			slog.Int("limit", opts.MaxShapeCount))
		return false
	}
	if r.qc.memoryLimitReached {
		return false
	}
	if opts.MaxShapeRAM > 0 && r.qc.cachedShapeRAM+ramEstimate > opts.MaxShapeRAM {
		r.qc.memoryLimitReached = true
		observability.IncCacheBudgetHit("ram")
		r.e.log.LogAttrs(r.ctx, slog.LevelWarn, "shape cache memory limit reached; further shapes kept as references only",
			slog.Int("limit_bytes", opts.MaxShapeRAM),
			slog.Int("cached_bytes", r.qc.cachedShapeRAM))
		return false
	}
	return true
}

// addResult appends shape to rc, materializing a copy when the budgets
// allow it.
func (r *run) addResult(rc *model.ResultCache, shape *model.Shape) {
	ram := 0
	if r.spec.Cache.MaxShapeRAM > 0 {
		ram = shape.RAMSize()
	}
	res := model.Result{
		ClassIndex:  shape.ClassIndex,
		TileIndex:   shape.TileIndex,
		ShapeIndex:  shape.Index,
		ResultIndex: shape.ResultIndex,
	}
	if r.canCacheShape(ram) {
		res.Shape = shape.Clone()
		r.qc.cachedShapeCount++
		r.qc.cachedShapeRAM += ram
	}
	rc.Append(res, shape.Bounds)
}

// accept records an accepted shape, honouring the start index skip and
// count-only mode. It reports false when the shape was skipped.
func (r *run) accept(l *model.Layer, shape *model.Shape, paging bool) bool {
	if !paging && r.startIndex > 1 {
		r.startIndex--
		return false
	}
	if r.spec.OnlyCount {
		l.ResultCache.IncCount()
	} else {
		r.addResult(l.ResultCache, shape)
	}
	return true
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
