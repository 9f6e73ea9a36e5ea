package model

import (
	"context"
	"errors"
)

// ErrNoOverlap is returned by WhichShapes when the search rectangle misses
// the layer entirely. It is not a query failure.
var ErrNoOverlap = errors.New("no overlap")

// ShapeSource is the driver contract a layer's data source fulfils.
// NextShape returns io.EOF when the current selection is exhausted.
type ShapeSource interface {
	Open(ctx context.Context) error
	Close() error
	WhichItems(all bool) error
	WhichShapes(ctx context.Context, rect Rect, exact bool) error
	NextShape(ctx context.Context) (*Shape, error)
	GetShape(ctx context.Context, tileIndex int, shapeIndex int64) (*Shape, error)
	// ShapeCount returns -1 when the driver cannot count cheaply.
	ShapeCount(ctx context.Context, rect Rect, crs Projection) (int, error)
	Paging() bool
	EnablePaging(on bool)
	// SetPage scopes WhichShapes to matches startIndex (1-based) through
	// startIndex+maxFeatures-1 while paging is enabled.
	SetPage(startIndex, maxFeatures int)
	SetFilter(item string, filter Expression)
}
