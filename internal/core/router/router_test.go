package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/spatial-query/internal/core/model"
	"github.com/mohammed-shakir/spatial-query/internal/hotness"
	"github.com/mohammed-shakir/spatial-query/internal/query"
	"github.com/mohammed-shakir/spatial-query/internal/query/qyfile"
	"github.com/mohammed-shakir/spatial-query/internal/service"
)

func TestParseBBOX(t *testing.T) {
	bb, err := parseBBOX("11.0,55.0,12.0,56.0")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	want := model.Rect{MinX: 11, MinY: 55, MaxX: 12, MaxY: 56}
	if bb != want {
		t.Fatalf("got %+v want %+v", bb, want)
	}
	for _, bad := range []string{"11,55,11,56", "11,55,12", "a,55,12,56"} {
		if _, err := parseBBOX(bad); err == nil {
			t.Errorf("parseBBOX(%q) expected error", bad)
		}
	}
}

func TestParsePolygon_TypeChecks(t *testing.T) {
	s, err := parsePolygon(`{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}`)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if s.Type != model.ShapePolygon || len(s.Lines) != 1 {
		t.Fatalf("shape=%+v", s)
	}
	if _, err := parsePolygon(`{"type":"MultiPolygon","coordinates":[[[[0,0],[1,0],[1,1],[0,1],[0,0]]]]}`); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if _, err := parsePolygon(`{"type":"Point","coordinates":[0,0]}`); err == nil {
		t.Fatal("expected error for point geometry")
	}
}

func TestParseQueryRequest(t *testing.T) {
	poly := `{"type":"Polygon","coordinates":[[[11,55],[12,55],[12,56],[11,56],[11,55]]]}`
	cases := []struct {
		name     string
		params   map[string]string
		wantType string
		wantWarn bool
		wantErr  bool
	}{
		{"point inferred", map[string]string{"point": "1,2", "buffer": "3"}, "point", false, false},
		{"rect inferred", map[string]string{"bbox": "0,0,1,1"}, "rect", false, false},
		{"polygon wins", map[string]string{"bbox": "0,0,1,1", "polygon": poly}, "shape", true, false},
		{"filter with bbox", map[string]string{"filter": "([pop] > 100)", "bbox": "0,0,1,1"}, "filter", false, false},
		{"index", map[string]string{"shape_index": "7", "layer": "roads"}, "index", false, false},
		{"explicit type", map[string]string{"type": "RECT", "bbox": "0,0,1,1"}, "rect", false, false},
		{"unsafe filter", map[string]string{"filter": "name = 'x'; DROP TABLE places"}, "", false, true},
		{"nothing", map[string]string{"layer": "roads"}, "", false, true},
		{"bad number", map[string]string{"point": "1,2", "maxfeatures": "many"}, "", false, true},
		{"bad styles", map[string]string{"point": "1,2", "styles": "nocolon"}, "", false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := url.Values{}
			for k, v := range tc.params {
				q.Set(k, v)
			}
			req := httptest.NewRequest(http.MethodGet, "/query?"+q.Encode(), nil)
			got, warn, err := ParseQueryRequest(req)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err=%v wantErr=%v", err, tc.wantErr)
			}
			if (warn != "") != tc.wantWarn {
				t.Fatalf("warn=%q", warn)
			}
			if !tc.wantErr && got.Type != tc.wantType {
				t.Fatalf("type=%q want %q", got.Type, tc.wantType)
			}
		})
	}
}

func TestParseQueryRequest_Fields(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet,
		"/query?point=1,2&buffer=2.5&max_results=3&mode=multiple&layer=poi&maxfeatures=10&startindex=2&onlycount=true&styles=poi:a,b", nil)
	got, _, err := ParseQueryRequest(req)
	if err != nil {
		t.Fatalf("ParseQueryRequest: %v", err)
	}
	if *got.Point != (model.Point{X: 1, Y: 2}) || got.Buffer != 2.5 || got.MaxResults != 3 {
		t.Fatalf("point fields=%+v", got)
	}
	if got.MaxFeatures != 10 || got.StartIndex != 2 || !got.OnlyCount || got.Mode != "multiple" {
		t.Fatalf("paging fields=%+v", got)
	}
	if s := got.Styles["poi"]; len(s) != 2 || s[1] != "b" {
		t.Fatalf("styles=%v", got.Styles)
	}
	if got.TileIndex != -1 {
		t.Fatalf("tile index default=%d want -1", got.TileIndex)
	}
}

type fakeService struct {
	lastReq  service.Request
	lastName string
	variant  qyfile.Variant
	err      error
}

func (f *fakeService) Spec(req service.Request) (query.Spec, error) {
	f.lastReq = req
	if req.Layer == "missing" {
		return query.Spec{}, fmt.Errorf("%w: unknown layer", service.ErrBadRequest)
	}
	return query.NewSpec(query.RectQuery{Rect: *req.Rect}), nil
}

func (f *fakeService) Query(context.Context, query.Spec) (service.Response, error) {
	return service.Response{Type: "rect", Total: 1, Layers: []service.LayerResult{{Name: "poi", NumResults: 1}}}, f.err
}

func (f *fakeService) Save(_ context.Context, _ query.Spec, name string, v qyfile.Variant) (service.Response, error) {
	f.lastName, f.variant = name, v
	return service.Response{}, f.err
}

func (f *fakeService) Load(_ context.Context, name string) (service.Response, error) {
	f.lastName = name
	return service.Response{}, f.err
}

func (f *fakeService) Delete(_ context.Context, name string) error {
	f.lastName = name
	return f.err
}

func (f *fakeService) HotCells(n int) []hotness.Cell {
	return []hotness.Cell{{Cell: "852a1073fffffff", Score: float64(n)}}
}

func newTestRouter(svc QueryService) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := chi.NewRouter()
	r.Get("/query", HandleQuery(logger, svc))
	r.Put("/queries/{name}", HandleSave(logger, svc))
	r.Get("/queries/{name}", HandleLoad(logger, svc))
	r.Delete("/queries/{name}", HandleDelete(logger, svc))
	r.Get("/stats/hot", HandleHot(logger, svc))
	return r
}

func TestHandlers_StatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		method string
		target string
		err    error
		want   int
	}{
		{"query ok", http.MethodGet, "/query?bbox=0,0,1,1", nil, http.StatusOK},
		{"bad request", http.MethodGet, "/query?layer=roads", nil, http.StatusBadRequest},
		{"unknown layer", http.MethodGet, "/query?bbox=0,0,1,1&layer=missing", nil, http.StatusBadRequest},
		{"malformed", http.MethodGet, "/query?bbox=0,0,1,1", query.ErrMalformedQuery, http.StatusBadRequest},
		{"driver failure", http.MethodGet, "/query?bbox=0,0,1,1", errors.New("disk on fire"), http.StatusInternalServerError},
		{"timeout", http.MethodGet, "/query?bbox=0,0,1,1", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"save", http.MethodPut, "/queries/a.qy?bbox=0,0,1,1&variant=results", nil, http.StatusOK},
		{"save bad variant", http.MethodPut, "/queries/a.qy?bbox=0,0,1,1&variant=both", nil, http.StatusBadRequest},
		{"load missing", http.MethodGet, "/queries/a.qy", fmt.Errorf("load: %w", qyfile.ErrNotFound), http.StatusNotFound},
		{"load corrupt", http.MethodGet, "/queries/a.qy", qyfile.ErrParse, http.StatusBadRequest},
		{"delete", http.MethodDelete, "/queries/a.qy", nil, http.StatusNoContent},
		{"delete missing", http.MethodDelete, "/queries/a.qy", fmt.Errorf("delete: %w", qyfile.ErrNotFound), http.StatusNotFound},
		{"delete bad name", http.MethodDelete, "/queries/a.txt", qyfile.ErrNotQueryFile, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeService{err: tc.err}
			rr := httptest.NewRecorder()
			newTestRouter(svc).ServeHTTP(rr, httptest.NewRequest(tc.method, tc.target, nil))
			if rr.Code != tc.want {
				t.Fatalf("status=%d want %d body=%s", rr.Code, tc.want, rr.Body.String())
			}
		})
	}
}

func TestHandleSave_PassesNameAndVariant(t *testing.T) {
	svc := &fakeService{}
	rr := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/queries/near.qy?bbox=0,0,1,1&variant=results", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if svc.lastName != "near.qy" || svc.variant != qyfile.VariantResults {
		t.Fatalf("name=%q variant=%v", svc.lastName, svc.variant)
	}
}

func TestHandleHot(t *testing.T) {
	h := newTestRouter(&fakeService{})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/stats/hot?n=3", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"score":3`) {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}

	for _, n := range []string{"0", "abc", "5000"} {
		rr = httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/stats/hot?n="+n, nil))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("n=%s status=%d want 400", n, rr.Code)
		}
	}
}
