package service

import (
	"errors"
	"testing"
	"time"

	"github.com/mohammed-shakir/spatial-query/internal/cellmap"
	"github.com/mohammed-shakir/spatial-query/internal/core/model"
	"github.com/mohammed-shakir/spatial-query/internal/hotness"
	"github.com/mohammed-shakir/spatial-query/internal/query"
	"github.com/mohammed-shakir/spatial-query/internal/query/qyfile"
	"github.com/mohammed-shakir/spatial-query/internal/queryevents"
	"github.com/mohammed-shakir/spatial-query/internal/source/memsource"
)

type sink struct{ events []queryevents.Event }

func (s *sink) Publish(ev queryevents.Event) { s.events = append(s.events, ev) }

func testService(t *testing.T) (*Service, *sink) {
	t.Helper()
	m := model.NewMap("demo")
	m.Extent = model.Rect{MinX: 0, MinY: 0, MaxX: 100, MaxY: 100}
	m.Width, m.Height = 101, 101
	m.Projection = model.ProjWGS84
	for _, name := range []string{"wells", "poi"} {
		shapes := []*model.Shape{model.NewPoint(10, 10), model.NewPoint(12, 10), model.NewPoint(80, 80)}
		l := model.NewLayer(name, model.LayerPoint)
		l.Template = "tmpl"
		l.Source = memsource.New(shapes)
		m.AddLayer(l)
	}
	cells, err := cellmap.New(5, 0)
	if err != nil {
		t.Fatalf("cellmap: %v", err)
	}
	ev := &sink{}
	svc := New(m, query.New(nil), qyfile.DirStore{Dir: t.TempDir()}, Options{
		Events:  ev,
		Builder: queryevents.NewBuilder(cells, nil),
		Hotness: hotness.New(time.Minute),
	}, nil)
	return svc, ev
}

func TestSpec_Resolution(t *testing.T) {
	svc, _ := testService(t)

	spec, err := svc.Spec(Request{Type: "point", Mode: "multiple", Layer: "POI", Point: &model.Point{X: 1, Y: 2}, Buffer: 3})
	if err != nil {
		t.Fatalf("Spec: %v", err)
	}
	if spec.Layer != 1 || spec.SelectionLayer != -1 || spec.Mode != query.ModeMultiple {
		t.Fatalf("spec=%+v", spec)
	}
	if p, ok := spec.Predicate.(query.PointQuery); !ok || p.Buffer != 3 {
		t.Fatalf("predicate=%+v", spec.Predicate)
	}

	spec, err = svc.Spec(Request{Type: "index", Layer: "0", ShapeIndex: 2, Append: true})
	if err != nil {
		t.Fatalf("Spec: %v", err)
	}
	if q := spec.Predicate.(query.IndexQuery); q.ClearResultCache || q.ShapeIndex != 2 || spec.Layer != 0 {
		t.Fatalf("spec=%+v", spec)
	}

	bad := []Request{
		{Type: "point"},
		{Type: "rect"},
		{Type: "shape"},
		{Type: "nearest"},
		{Type: "rect", Rect: &model.Rect{}, Mode: "some"},
		{Type: "rect", Rect: &model.Rect{}, Layer: "roads"},
		{Type: "rect", Rect: &model.Rect{}, Layer: "7"},
	}
	for _, req := range bad {
		if _, err := svc.Spec(req); !errors.Is(err, ErrBadRequest) {
			t.Errorf("Spec(%+v) err=%v want ErrBadRequest", req, err)
		}
	}
}

func TestQuery_ReportsTopLayerFirstAndPublishes(t *testing.T) {
	svc, ev := testService(t)
	spec, err := svc.Spec(Request{Type: "rect", Rect: &model.Rect{MinX: 0, MinY: 0, MaxX: 20, MaxY: 20}})
	if err != nil {
		t.Fatalf("Spec: %v", err)
	}
	resp, err := svc.Query(t.Context(), spec)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if resp.Type != "rect" || resp.Total != 4 || len(resp.Layers) != 2 {
		t.Fatalf("resp=%+v", resp)
	}
	if resp.Layers[0].Name != "poi" || resp.Layers[0].NumResults != 2 {
		t.Fatalf("first layer=%+v", resp.Layers[0])
	}
	want := []float64{10, 10, 12, 10}
	for i, v := range want {
		if resp.Bounds[i] != v {
			t.Fatalf("bounds=%v want %v", resp.Bounds, want)
		}
	}
	if len(ev.events) != 1 || ev.events[0].Results != 4 || len(ev.events[0].Cells) == 0 {
		t.Fatalf("events=%+v", ev.events)
	}
}

func TestQuery_IndexAppend(t *testing.T) {
	svc, _ := testService(t)
	rect, _ := svc.Spec(Request{Type: "rect", Rect: &model.Rect{MinX: 0, MinY: 0, MaxX: 100, MaxY: 100}})
	if _, err := svc.Query(t.Context(), rect); err != nil {
		t.Fatalf("rect Query: %v", err)
	}

	steps := []struct {
		req  Request
		want int
	}{
		{Request{Type: "index", Layer: "wells", ShapeIndex: 0}, 1},
		{Request{Type: "index", Layer: "wells", ShapeIndex: 1, Append: true}, 2},
		{Request{Type: "index", Layer: "wells", ShapeIndex: 2}, 1},
	}
	for i, st := range steps {
		spec, err := svc.Spec(st.req)
		if err != nil {
			t.Fatalf("step %d Spec: %v", i, err)
		}
		resp, err := svc.Query(t.Context(), spec)
		if err != nil {
			t.Fatalf("step %d Query: %v", i, err)
		}
		if resp.Total != st.want || len(resp.Layers) != 1 || resp.Layers[0].Name != "wells" {
			t.Fatalf("step %d resp=%+v want %d results on wells only", i, resp, st.want)
		}
	}
}

func TestHotCells_CountsQueriedCells(t *testing.T) {
	svc, _ := testService(t)
	if got := svc.HotCells(5); len(got) != 0 {
		t.Fatalf("hot cells before any query: %+v", got)
	}
	near, _ := svc.Spec(Request{Type: "point", Point: &model.Point{X: 11, Y: 10}, Buffer: 2})
	far, _ := svc.Spec(Request{Type: "point", Point: &model.Point{X: 80, Y: 80}, Buffer: 2})
	for _, spec := range []query.Spec{near, near, far} {
		if _, err := svc.Query(t.Context(), spec); err != nil {
			t.Fatalf("Query: %v", err)
		}
	}
	got := svc.HotCells(5)
	if len(got) != 2 || got[0].Score <= got[1].Score {
		t.Fatalf("hot cells=%+v", got)
	}
}

func TestQuery_ClearsPreviousResults(t *testing.T) {
	svc, _ := testService(t)
	first, _ := svc.Spec(Request{Type: "rect", Layer: "wells", Rect: &model.Rect{MinX: 0, MinY: 0, MaxX: 20, MaxY: 20}})
	if _, err := svc.Query(t.Context(), first); err != nil {
		t.Fatalf("Query: %v", err)
	}
	second, _ := svc.Spec(Request{Type: "rect", Layer: "poi", Rect: &model.Rect{MinX: 70, MinY: 70, MaxX: 90, MaxY: 90}})
	resp, err := svc.Query(t.Context(), second)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(resp.Layers) != 1 || resp.Layers[0].Name != "poi" || resp.Total != 1 {
		t.Fatalf("resp=%+v", resp)
	}
}

func TestSaveAndLoad(t *testing.T) {
	svc, _ := testService(t)
	spec, _ := svc.Spec(Request{Type: "point", Mode: "multiple", Point: &model.Point{X: 11, Y: 10}, Buffer: 2})

	saved, err := svc.Save(t.Context(), spec, "near.qy", qyfile.VariantParams)
	if err != nil {
		t.Fatalf("Save params: %v", err)
	}
	if _, err := svc.Save(t.Context(), spec, "near-results.qy", qyfile.VariantResults); err != nil {
		t.Fatalf("Save results: %v", err)
	}

	other, _ := svc.Spec(Request{Type: "rect", Rect: &model.Rect{MinX: 70, MinY: 70, MaxX: 90, MaxY: 90}})
	if _, err := svc.Query(t.Context(), other); err != nil {
		t.Fatalf("Query: %v", err)
	}

	for _, name := range []string{"near.qy", "near-results.qy"} {
		resp, err := svc.Load(t.Context(), name)
		if err != nil {
			t.Fatalf("Load %s: %v", name, err)
		}
		if resp.Total != saved.Total || len(resp.Layers) != len(saved.Layers) {
			t.Fatalf("%s: loaded=%+v saved=%+v", name, resp, saved)
		}
	}

	if _, err := svc.Save(t.Context(), spec, "near.txt", qyfile.VariantParams); !errors.Is(err, qyfile.ErrNotQueryFile) {
		t.Fatalf("err=%v want ErrNotQueryFile", err)
	}
	if _, err := svc.Load(t.Context(), "missing.qy"); !errors.Is(err, qyfile.ErrNotFound) {
		t.Fatalf("err=%v want ErrNotFound", err)
	}
}
