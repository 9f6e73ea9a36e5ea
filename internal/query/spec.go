// Package query resolves point, rectangle, shape, filter, index and
// feature-join queries against the layers of a map and records the
// matches in each layer's result cache.
package query

import (
	"github.com/mohammed-shakir/spatial-query/internal/core/model"
)

type Mode int

const (
	ModeSingle Mode = iota
	ModeMultiple
)

func (m Mode) String() string {
	if m == ModeMultiple {
		return "multiple"
	}
	return "single"
}

// Kind is the integer query type code used by saved query files.
type Kind int

const (
	KindUnset     Kind = 0
	KindPoint     Kind = 1
	KindRect      Kind = 2
	KindShape     Kind = 3
	KindAttribute Kind = 4
	KindIndex     Kind = 5
	KindFilter    Kind = 6
)

func (k Kind) String() string {
	switch k {
	case KindPoint:
		return "point"
	case KindRect:
		return "rect"
	case KindShape:
		return "shape"
	case KindAttribute:
		return "attribute"
	case KindIndex:
		return "index"
	case KindFilter:
		return "filter"
	default:
		return "unset"
	}
}

// Predicate is one of PointQuery, RectQuery, ShapeQuery, FilterQuery or
// IndexQuery.
type Predicate interface {
	Kind() Kind
}

type PointQuery struct {
	Point model.Point
	// Buffer overrides the layer tolerance when > 0.
	Buffer float64
	// MaxResults caps results per layer in multiple mode. 0 is unbounded.
	MaxResults int
}

type RectQuery struct {
	Rect model.Rect
}

type ShapeQuery struct {
	Shape *model.Shape
}

type FilterQuery struct {
	Item   string
	Filter model.Expression
	// Rect narrows the scan. InvalidRect scans the whole layer.
	Rect model.Rect
}

type IndexQuery struct {
	TileIndex        int
	ShapeIndex       int64
	ClearResultCache bool
}

func (PointQuery) Kind() Kind  { return KindPoint }
func (RectQuery) Kind() Kind   { return KindRect }
func (ShapeQuery) Kind() Kind  { return KindShape }
func (FilterQuery) Kind() Kind { return KindFilter }
func (IndexQuery) Kind() Kind  { return KindIndex }

// CacheOptions bound how many accepted shapes are copied into result
// caches. Zero limits are unbounded.
type CacheOptions struct {
	Shapes        bool
	MaxShapeCount int
	MaxShapeRAM   int
}

// Spec is a complete query. It is passed by value so every call starts
// from the caller's settings.
type Spec struct {
	Mode Mode
	// Layer targets one layer. -1 scans all layers from the top down.
	Layer int
	// SelectionLayer >= 0 runs the predicate on that layer first and then
	// joins its results against Layer.
	SelectionLayer int
	Predicate      Predicate

	MaxFeatures int
	// StartIndex is 1-based. Values > 1 skip matches when the driver
	// cannot page natively.
	StartIndex int
	OnlyCount  bool
	Cache      CacheOptions

	// StyleNames holds the styles requested per layer index, used by
	// automatic identification classes.
	StyleNames map[int][]string
}

func NewSpec(p Predicate) Spec {
	return Spec{
		Mode:           ModeSingle,
		Layer:          -1,
		SelectionLayer: -1,
		Predicate:      p,
		MaxFeatures:    -1,
		StartIndex:     -1,
	}
}

func (s Spec) Kind() Kind {
	if s.Predicate == nil {
		return KindUnset
	}
	return s.Predicate.Kind()
}
