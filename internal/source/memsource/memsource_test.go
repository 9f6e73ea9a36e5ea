package memsource

import (
	"errors"
	"io"
	"slices"
	"testing"

	"github.com/mohammed-shakir/spatial-query/internal/core/model"
)

func named(x, y float64, name string) *model.Shape {
	s := model.NewPoint(x, y)
	s.Values = map[string]string{"name": name}
	return s
}

func drain(t *testing.T, s *Source) []int64 {
	t.Helper()
	var out []int64
	for {
		sh, err := s.NextShape(t.Context())
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("NextShape: %v", err)
		}
		out = append(out, sh.Index)
	}
}

func TestSource_SelectsByRectAndFilter(t *testing.T) {
	s := New([]*model.Shape{named(1, 1, "a"), named(2, 2, "b"), named(50, 50, "a")})
	if err := s.Open(t.Context()); err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := s.WhichShapes(t.Context(), model.Rect{MinX: 0, MinY: 0, MaxX: 10, MaxY: 10}, true); err != nil {
		t.Fatalf("WhichShapes: %v", err)
	}
	if got := drain(t, s); len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Fatalf("rect selection=%v want [0 1]", got)
	}

	s.SetFilter("name", model.Expression{Type: model.ExprString, String: "a"})
	if err := s.WhichShapes(t.Context(), model.InvalidRect, true); err != nil {
		t.Fatalf("WhichShapes: %v", err)
	}
	if got := drain(t, s); len(got) != 2 || got[0] != 0 || got[1] != 2 {
		t.Fatalf("filtered selection=%v want [0 2]", got)
	}
}

func TestSource_NoOverlapAndClosed(t *testing.T) {
	s := New([]*model.Shape{named(1, 1, "a")})
	if err := s.WhichShapes(t.Context(), model.InvalidRect, true); !errors.Is(err, ErrClosed) {
		t.Fatalf("err=%v want ErrClosed", err)
	}
	_ = s.Open(t.Context())
	err := s.WhichShapes(t.Context(), model.Rect{MinX: 10, MinY: 10, MaxX: 20, MaxY: 20}, true)
	if !errors.Is(err, model.ErrNoOverlap) {
		t.Fatalf("err=%v want ErrNoOverlap", err)
	}
}

func TestSource_CountAndPaging(t *testing.T) {
	shapes := []*model.Shape{named(1, 1, "a"), named(2, 2, "b")}

	plain := New(shapes)
	if n, err := plain.ShapeCount(t.Context(), model.InvalidRect, ""); err != nil || n != -1 {
		t.Fatalf("count=%d err=%v want -1", n, err)
	}
	plain.EnablePaging(true)
	if plain.Paging() {
		t.Fatal("paging enabled on a source without paging support")
	}

	paged := New(shapes, WithPaging(), WithCount())
	if n, _ := paged.ShapeCount(t.Context(), model.Rect{MinX: 0, MinY: 0, MaxX: 1.5, MaxY: 1.5}, ""); n != 1 {
		t.Fatalf("count=%d want 1", n)
	}
	paged.EnablePaging(false)
	_ = paged.Open(t.Context())
	if !paged.Paging() {
		t.Fatal("reopening should restore driver paging")
	}
}

func TestSource_SetPage(t *testing.T) {
	shapes := []*model.Shape{named(1, 1, "a"), named(2, 2, "b"), named(3, 3, "c"), named(4, 4, "d")}
	cases := []struct {
		name       string
		opts       []Option
		start, size int
		want       []string
	}{
		{"page window", []Option{WithPaging()}, 2, 2, []string{"b", "c"}},
		{"start past the end", []Option{WithPaging()}, 9, 0, nil},
		{"no paging support", nil, 2, 2, []string{"a", "b", "c", "d"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := New(shapes, tc.opts...)
			_ = s.Open(t.Context())
			s.SetPage(tc.start, tc.size)
			if err := s.WhichShapes(t.Context(), model.InvalidRect, true); err != nil {
				t.Fatalf("WhichShapes: %v", err)
			}
			var got []string
			for {
				sh, err := s.NextShape(t.Context())
				if err != nil {
					break
				}
				got = append(got, sh.Values["name"])
			}
			if !slices.Equal(got, tc.want) {
				t.Fatalf("names=%v want %v", got, tc.want)
			}
		})
	}
}

func TestSource_GetShapeReturnsCopies(t *testing.T) {
	s := New([]*model.Shape{named(1, 1, "a")})
	_ = s.Open(t.Context())
	sh, err := s.GetShape(t.Context(), -1, 0)
	if err != nil {
		t.Fatalf("GetShape: %v", err)
	}
	sh.Values["name"] = "changed"
	again, _ := s.GetShape(t.Context(), -1, 0)
	if again.Values["name"] != "a" {
		t.Fatalf("stored shape mutated: %v", again.Values)
	}
	if _, err := s.GetShape(t.Context(), -1, 9); err == nil {
		t.Fatal("expected an error for a missing index")
	}
}
