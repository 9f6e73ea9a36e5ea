package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/spatial-query/internal/core/model"
	"github.com/mohammed-shakir/spatial-query/internal/core/observability"
	"github.com/mohammed-shakir/spatial-query/internal/hotness"
	"github.com/mohammed-shakir/spatial-query/internal/query"
	"github.com/mohammed-shakir/spatial-query/internal/query/qyfile"
	"github.com/mohammed-shakir/spatial-query/internal/service"
	"github.com/mohammed-shakir/spatial-query/internal/source/geojsonsource"
)

// QueryService resolves and runs queries for the handlers.
type QueryService interface {
	Spec(req service.Request) (query.Spec, error)
	Query(ctx context.Context, spec query.Spec) (service.Response, error)
	Save(ctx context.Context, spec query.Spec, name string, v qyfile.Variant) (service.Response, error)
	Load(ctx context.Context, name string) (service.Response, error)
	Delete(ctx context.Context, name string) error
	HotCells(n int) []hotness.Cell
}

// HandleQuery serves GET /query.
func HandleQuery(logger *slog.Logger, svc QueryService) http.HandlerFunc {
	return observed("/query", func(w http.ResponseWriter, r *http.Request) {
		spec, ok := parseSpec(logger, svc, w, r)
		if !ok {
			return
		}
		resp, err := svc.Query(r.Context(), spec)
		respond(logger, w, r, resp, err)
	})
}

// HandleSave serves PUT /queries/{name}. The query is run first; the
// variant parameter picks whether the query or its results are stored.
func HandleSave(logger *slog.Logger, svc QueryService) http.HandlerFunc {
	return observed("/queries/{name}", func(w http.ResponseWriter, r *http.Request) {
		var v qyfile.Variant
		switch strings.ToLower(r.URL.Query().Get("variant")) {
		case "", "params":
			v = qyfile.VariantParams
		case "results":
			v = qyfile.VariantResults
		default:
			http.Error(w, "variant must be params or results", http.StatusBadRequest)
			return
		}
		spec, ok := parseSpec(logger, svc, w, r)
		if !ok {
			return
		}
		resp, err := svc.Save(r.Context(), spec, chi.URLParam(r, "name"), v)
		respond(logger, w, r, resp, err)
	})
}

// HandleLoad serves GET /queries/{name}.
func HandleLoad(logger *slog.Logger, svc QueryService) http.HandlerFunc {
	return observed("/queries/{name}", func(w http.ResponseWriter, r *http.Request) {
		resp, err := svc.Load(r.Context(), chi.URLParam(r, "name"))
		respond(logger, w, r, resp, err)
	})
}

// HandleDelete serves DELETE /queries/{name}.
func HandleDelete(logger *slog.Logger, svc QueryService) http.HandlerFunc {
	return observed("/queries/{name}", func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Delete(r.Context(), chi.URLParam(r, "name")); err != nil {
			respond(logger, w, r, service.Response{}, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

// HandleHot serves GET /stats/hot, the most queried H3 cells.
func HandleHot(logger *slog.Logger, svc QueryService) http.HandlerFunc {
	return observed("/stats/hot", func(w http.ResponseWriter, r *http.Request) {
		n := 10
		if raw := r.URL.Query().Get("n"); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil || v <= 0 || v > 1000 {
				http.Error(w, "n must be between 1 and 1000", http.StatusBadRequest)
				return
			}
			n = v
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(svc.HotCells(n)); err != nil {
			logger.WarnContext(r.Context(), "write response failed", "err", err)
		}
	})
}

func observed(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		h(sw, r)
		observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
	}
}

func parseSpec(logger *slog.Logger, svc QueryService, w http.ResponseWriter, r *http.Request) (query.Spec, bool) {
	req, warn, err := ParseQueryRequest(r)
	if warn != "" {
		logger.WarnContext(r.Context(), warn)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return query.Spec{}, false
	}
	spec, err := svc.Spec(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return query.Spec{}, false
	}
	return spec, true
}

func respond(logger *slog.Logger, w http.ResponseWriter, r *http.Request, resp service.Response, err error) {
	if err != nil {
		code := statusFor(err)
		if code >= http.StatusInternalServerError {
			logger.ErrorContext(r.Context(), "query failed", slog.Any("error", err))
		}
		http.Error(w, err.Error(), code)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, qyfile.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrBadRequest),
		errors.Is(err, query.ErrMalformedQuery),
		errors.Is(err, query.ErrQuery),
		errors.Is(err, query.ErrSelectionShapeType),
		errors.Is(err, query.ErrFilterMerge),
		errors.Is(err, qyfile.ErrNotQueryFile),
		errors.Is(err, qyfile.ErrParse):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// ParseQueryRequest validates the query string. The query type comes
// from "type" or, when absent, from whichever location parameter is
// present.
func ParseQueryRequest(r *http.Request) (service.Request, string, error) {
	return ParseQueryValues(r.URL.Query())
}

// ParseQueryValues reads a query from its parameter form. A non-empty
// warning reports input that was ignored.
func ParseQueryValues(v url.Values) (service.Request, string, error) {
	var warn string

	req := service.Request{
		Type:           strings.ToLower(strings.TrimSpace(v.Get("type"))),
		Mode:           strings.TrimSpace(v.Get("mode")),
		Layer:          strings.TrimSpace(v.Get("layer")),
		SelectionLayer: strings.TrimSpace(v.Get("slayer")),
		Item:           strings.TrimSpace(v.Get("item")),
		Filter:         strings.TrimSpace(v.Get("filter")),
		OnlyCount:      v.Get("onlycount") == "true",
		Append:         v.Get("append") == "true",
		TileIndex:      -1,
	}

	rawBBox := strings.TrimSpace(v.Get("bbox"))
	rawPoly := strings.TrimSpace(v.Get("polygon"))
	rawPoint := strings.TrimSpace(v.Get("point"))

	// drop bbox if polygon is given (polygon wins)
	if rawBBox != "" && rawPoly != "" {
		warn = "both bbox and polygon supplied; preferring polygon"
		rawBBox = ""
	}

	if rawBBox != "" {
		bb, err := parseBBOX(rawBBox)
		if err != nil {
			return service.Request{}, warn, fmt.Errorf("invalid bbox: %w", err)
		}
		req.Rect = &bb
	}
	if rawPoly != "" {
		s, err := parsePolygon(rawPoly)
		if err != nil {
			return service.Request{}, warn, fmt.Errorf("invalid polygon: %w", err)
		}
		req.Shape = s
	}
	if rawPoint != "" {
		p, err := parsePoint(rawPoint)
		if err != nil {
			return service.Request{}, warn, fmt.Errorf("invalid point: %w", err)
		}
		req.Point = &p
	}
	if req.Filter != "" && !isSafeFilter(req.Filter) {
		return service.Request{}, warn, errors.New("invalid or disallowed filter")
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"max_results", &req.MaxResults},
		{"maxfeatures", &req.MaxFeatures},
		{"startindex", &req.StartIndex},
		{"tile_index", &req.TileIndex},
	}
	for _, f := range ints {
		if raw := strings.TrimSpace(v.Get(f.name)); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return service.Request{}, warn, fmt.Errorf("invalid %s: %w", f.name, err)
			}
			*f.dst = n
		}
	}
	if raw := strings.TrimSpace(v.Get("buffer")); raw != "" {
		b, err := parseFloat(raw)
		if err != nil {
			return service.Request{}, warn, fmt.Errorf("invalid buffer: %w", err)
		}
		req.Buffer = b
	}
	rawIndex := strings.TrimSpace(v.Get("shape_index"))
	if rawIndex != "" {
		n, err := strconv.ParseInt(rawIndex, 10, 64)
		if err != nil {
			return service.Request{}, warn, fmt.Errorf("invalid shape_index: %w", err)
		}
		req.ShapeIndex = n
	}
	styles, err := parseStyles(v)
	if err != nil {
		return service.Request{}, warn, err
	}
	req.Styles = styles

	if req.Type == "" {
		switch {
		case req.Filter != "":
			req.Type = "filter"
		case rawIndex != "":
			req.Type = "index"
		case req.Shape != nil:
			req.Type = "shape"
		case req.Point != nil:
			req.Type = "point"
		case req.Rect != nil:
			req.Type = "rect"
		default:
			return service.Request{}, warn, errors.New("missing query: give type, bbox, point, polygon, filter or shape_index")
		}
	}
	return req, warn, nil
}

func parseBBOX(bboxParam string) (model.Rect, error) {
	parts := strings.Split(bboxParam, ",")
	if len(parts) != 4 {
		return model.Rect{}, errors.New("expected 4 comma-separated values: minx,miny,maxx,maxy")
	}
	var vals [4]float64
	for i, p := range parts {
		f, err := parseFloat(p)
		if err != nil {
			return model.Rect{}, fmt.Errorf("value %d: %w", i+1, err)
		}
		vals[i] = f
	}
	r := model.Rect{MinX: vals[0], MinY: vals[1], MaxX: vals[2], MaxY: vals[3]}
	if r.MaxX <= r.MinX || r.MaxY <= r.MinY {
		return model.Rect{}, errors.New("coordinates must satisfy maxx>minx and maxy>miny")
	}
	return r, nil
}

func parsePoint(raw string) (model.Point, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 2 {
		return model.Point{}, errors.New("expected x,y")
	}
	x, err := parseFloat(parts[0])
	if err != nil {
		return model.Point{}, fmt.Errorf("x: %w", err)
	}
	y, err := parseFloat(parts[1])
	if err != nil {
		return model.Point{}, fmt.Errorf("y: %w", err)
	}
	return model.Point{X: x, Y: y}, nil
}

func parseFloat(v string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("parse float: %w", err)
	}
	return f, nil
}

// styles=layer:style1,style2 may repeat.
func parseStyles(v url.Values) (map[string][]string, error) {
	raw := v["styles"]
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string][]string, len(raw))
	for _, s := range raw {
		layer, names, ok := strings.Cut(s, ":")
		layer = strings.TrimSpace(layer)
		if !ok || layer == "" {
			return nil, fmt.Errorf("invalid styles %q: expected layer:style[,style]", s)
		}
		for n := range strings.SplitSeq(names, ",") {
			out[layer] = append(out[layer], strings.TrimSpace(n))
		}
	}
	return out, nil
}

var safeFilterPattern = regexp.MustCompile(`^[\w\s\=\>\<\!\(\)\[\]\.\,\'\"\-\/\~\*\^\$\|\&\+\:\%]+$`)

func isSafeFilter(s string) bool {
	if len(s) > 500 {
		return false
	}
	return safeFilterPattern.MatchString(s)
}

func parsePolygon(raw string) (*model.Shape, error) {
	g, err := geojson.UnmarshalGeometry([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	geom := g.Geometry()
	if geom == nil {
		return nil, errors.New("missing coordinates")
	}
	switch t := geom.GeoJSONType(); t {
	case "Polygon", "MultiPolygon", "LineString", "MultiLineString":
		return geojsonsource.Shape(geom)
	default:
		return nil, fmt.Errorf(`unsupported GeoJSON "type": %q (must be a polygon or line)`, t)
	}
}
