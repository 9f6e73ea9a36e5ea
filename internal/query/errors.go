package query

import (
	"errors"

	"github.com/mohammed-shakir/spatial-query/internal/core/model"
)

var (
	ErrMalformedQuery     = errors.New("query is not properly defined")
	ErrQuery              = errors.New("query error")
	ErrSelectionShapeType = errors.New("selection features must be polygons or lines")
	ErrFilterMerge        = errors.New("filter merge failed")
	ErrNoOverlap          = model.ErrNoOverlap
)
