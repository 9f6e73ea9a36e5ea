package model

// ResultCacheIncrement is the growth step of a result cache's backing array.
const ResultCacheIncrement = 10

// Result identifies one accepted feature. Shape is nil unless the query
// asked for shapes to be cached and the budgets allowed it.
type Result struct {
	ClassIndex  int
	TileIndex   int
	ShapeIndex  int64
	ResultIndex int
	Shape       *Shape
}

type ResultCache struct {
	Results []Result
	Bounds  Rect
	// Count replaces len(Results) for count-only queries.
	Count   int
	HasNext bool

	countOnly bool
}

func NewResultCache() *ResultCache {
	return &ResultCache{Bounds: InvalidRect}
}

// NewCountCache returns a cache that only carries a driver supplied count.
func NewCountCache(n int) *ResultCache {
	return &ResultCache{Bounds: InvalidRect, Count: n, countOnly: true}
}

func (rc *ResultCache) NumResults() int {
	if rc == nil {
		return 0
	}
	if rc.countOnly {
		return rc.Count
	}
	return len(rc.Results)
}

// CountOnly reports whether the cache holds a count without records.
func (rc *ResultCache) CountOnly() bool { return rc != nil && rc.countOnly }

// IncCount bumps the count of a count-only cache. A record cache is
// turned into a count-only one.
func (rc *ResultCache) IncCount() {
	if !rc.countOnly {
		rc.Count = len(rc.Results)
		rc.countOnly = true
	}
	rc.Count++
}

// Append stores r, growing capacity in ResultCacheIncrement steps. The
// first record sets the cache bounds; every later one is unioned in,
// including the sentinel bounds of a NULL shape.
func (rc *ResultCache) Append(r Result, bounds Rect) {
	if len(rc.Results) == cap(rc.Results) {
		grown := make([]Result, len(rc.Results), cap(rc.Results)+ResultCacheIncrement)
		copy(grown, rc.Results)
		rc.Results = grown
	}
	rc.Results = append(rc.Results, r)
	if len(rc.Results) == 1 {
		rc.Bounds = bounds
		return
	}
	rc.Bounds = rc.Bounds.Union(bounds)
}

// Cleanup drops every materialized shape and then the records.
func (rc *ResultCache) Cleanup() {
	if rc == nil {
		return
	}
	for i := range rc.Results {
		rc.Results[i].Shape = nil
	}
	rc.Results = nil
	rc.Count = 0
	rc.Bounds = InvalidRect
	rc.HasNext = false
}
