// Package memsource is an in-memory layer source. It backs inline layers
// and the GeoJSON loader, and doubles as the driver used by tests.
package memsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/mohammed-shakir/spatial-query/internal/core/model"
	"github.com/mohammed-shakir/spatial-query/internal/expr"
)

var ErrClosed = errors.New("memsource: source is not open")

type Source struct {
	mu sync.Mutex

	shapes  []*model.Shape
	extent  model.Rect
	canPage bool
	canCnt  bool

	open       bool
	paging     bool
	filterItem string
	filter     model.Expression
	pageStart  int
	pageMax    int

	sel []int
	pos int

	// Opens and Closes count lifecycle calls.
	Opens  int
	Closes int
}

type Option func(*Source)

// WithPaging makes the source advertise native paging.
func WithPaging() Option { return func(s *Source) { s.canPage, s.paging = true, true } }

// WithCount lets ShapeCount answer without iteration.
func WithCount() Option { return func(s *Source) { s.canCnt = true } }

// New stores copies of shapes. Shape i gets index i unless it already
// carries one.
func New(shapes []*model.Shape, opts ...Option) *Source {
	s := &Source{extent: model.InvalidRect}
	for i, sh := range shapes {
		c := sh.Clone()
		if c.Index < 0 {
			c.Index = int64(i)
		}
		if !c.Bounds.Valid() {
			c.ComputeBounds()
		}
		s.shapes = append(s.shapes, c)
		if !c.Bounds.Valid() {
			continue
		}
		if s.extent.Valid() {
			s.extent = s.extent.Union(c.Bounds)
		} else {
			s.extent = c.Bounds
		}
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Extent is the union of every stored shape's bounds.
func (s *Source) Extent() model.Rect { return s.extent }

func (s *Source) Len() int { return len(s.shapes) }

func (s *Source) Open(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = true
	s.paging = s.canPage
	s.pageStart, s.pageMax = 0, 0
	s.Opens++
	return nil
}

func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		s.Closes++
	}
	s.open = false
	s.sel = nil
	s.pos = 0
	return nil
}

// IsOpen reports whether the source is open.
func (s *Source) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *Source) WhichItems(bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return ErrClosed
	}
	return nil
}

func (s *Source) WhichShapes(ctx context.Context, rect model.Rect, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return ErrClosed
	}
	if rect.Valid() && s.extent.Valid() && !rect.Overlaps(s.extent) {
		return model.ErrNoOverlap
	}
	sel, err := s.selectLocked(ctx, rect)
	if err != nil {
		return err
	}
	s.sel, s.pos = s.pageLocked(sel), 0
	return nil
}

// pageLocked trims sel to the current page when paging is on.
func (s *Source) pageLocked(sel []int) []int {
	if !s.paging {
		return sel
	}
	if s.pageStart > 1 {
		sel = sel[min(s.pageStart-1, len(sel)):]
	}
	if s.pageMax > 0 && len(sel) > s.pageMax {
		sel = sel[:s.pageMax]
	}
	return sel
}

func (s *Source) selectLocked(ctx context.Context, rect model.Rect) ([]int, error) {
	var sel []int
	for i, sh := range s.shapes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if rect.Valid() && sh.Bounds.Valid() && !rect.Overlaps(sh.Bounds) {
			continue
		}
		ok, err := expr.Match(s.filter, s.filterItem, sh.Values)
		if err != nil {
			return nil, fmt.Errorf("memsource: filter: %w", err)
		}
		if ok {
			sel = append(sel, i)
		}
	}
	return sel, nil
}

func (s *Source) NextShape(context.Context) (*model.Shape, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil, ErrClosed
	}
	if s.pos >= len(s.sel) {
		return nil, io.EOF
	}
	c := s.shapes[s.sel[s.pos]].Clone()
	c.ResultIndex = s.pos
	s.pos++
	return c, nil
}

// GetShape looks a shape up by its index. tileIndex is ignored.
func (s *Source) GetShape(_ context.Context, _ int, shapeIndex int64) (*model.Shape, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil, ErrClosed
	}
	for _, sh := range s.shapes {
		if sh.Index == shapeIndex {
			return sh.Clone(), nil
		}
	}
	return nil, fmt.Errorf("memsource: no shape with index %d", shapeIndex)
}

// ShapeCount counts shapes overlapping rect after filtering, or returns
// -1 when the source was built without WithCount. The rectangle is
// assumed to be in the source's own coordinates. With paging on, shapes
// before the page start are not counted.
func (s *Source) ShapeCount(ctx context.Context, rect model.Rect, _ model.Projection) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.canCnt {
		return -1, nil
	}
	sel, err := s.selectLocked(ctx, rect)
	if err != nil {
		return -1, err
	}
	if s.paging && s.pageStart > 1 {
		return max(len(sel)-(s.pageStart-1), 0), nil
	}
	return len(sel), nil
}

func (s *Source) Paging() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paging
}

func (s *Source) EnablePaging(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paging = on && s.canPage
}

// SetPage sets the 1-based first match and the page size applied by
// WhichShapes while paging is on. Values <= 1 and <= 0 respectively
// disable them.
func (s *Source) SetPage(startIndex, maxFeatures int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageStart, s.pageMax = startIndex, maxFeatures
}

func (s *Source) SetFilter(item string, filter model.Expression) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filterItem, s.filter = item, filter
}

// Filter returns the filter currently applied.
func (s *Source) Filter() (string, model.Expression) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterItem, s.filter
}

var _ model.ShapeSource = (*Source)(nil)
