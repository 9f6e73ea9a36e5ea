// Package service runs queries against one loaded map on behalf of the
// HTTP server and the CLI. Queries mutate the map's result caches, so
// calls are serialized.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mohammed-shakir/spatial-query/internal/core/model"
	"github.com/mohammed-shakir/spatial-query/internal/expr"
	"github.com/mohammed-shakir/spatial-query/internal/hotness"
	"github.com/mohammed-shakir/spatial-query/internal/logger"
	"github.com/mohammed-shakir/spatial-query/internal/query"
	"github.com/mohammed-shakir/spatial-query/internal/query/qyfile"
	"github.com/mohammed-shakir/spatial-query/internal/queryevents"
)

// ErrBadRequest marks requests that cannot be turned into a query.
var ErrBadRequest = errors.New("bad request")

// hotFloor is the score below which a cell is forgotten.
const hotFloor = 0.01

// Request is a query in caller terms. Layers are given by name or index.
type Request struct {
	Type           string
	Mode           string
	Layer          string
	SelectionLayer string

	Point      *model.Point
	Buffer     float64
	MaxResults int

	Rect  *model.Rect
	Shape *model.Shape

	Item   string
	Filter string

	ShapeIndex int64
	TileIndex  int
	// Append keeps earlier results when querying by index.
	Append bool

	MaxFeatures int
	StartIndex  int
	OnlyCount   bool
	// Styles lists requested style names per layer name.
	Styles map[string][]string
}

type Executor interface {
	Execute(ctx context.Context, m *model.Map, spec query.Spec) error
}

// EventSink receives one event per executed query.
type EventSink interface {
	Publish(ev queryevents.Event)
}

type Options struct {
	Cache   query.CacheOptions
	Timeout time.Duration
	Events  EventSink
	Builder *queryevents.Builder
	// Hotness counts the H3 cells each query touches. Needs Builder.
	Hotness *hotness.Tracker
}

type Service struct {
	mu     sync.Mutex
	m      *model.Map
	engine Executor
	files  *qyfile.Manager
	opts   Options
	log    *slog.Logger
}

func New(m *model.Map, engine Executor, store qyfile.Store, opts Options, log *slog.Logger) *Service {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Service{
		m:      m,
		engine: engine,
		files:  qyfile.NewManager(store, engine, log),
		opts:   opts,
		log:    log,
	}
}

func (s *Service) Map() *model.Map { return s.m }

// Spec resolves req against the served map.
func (s *Service) Spec(req Request) (query.Spec, error) {
	pred, err := s.predicate(req)
	if err != nil {
		return query.Spec{}, err
	}
	spec := query.NewSpec(pred)

	switch strings.ToLower(req.Mode) {
	case "", "single":
	case "multiple":
		spec.Mode = query.ModeMultiple
	default:
		return query.Spec{}, fmt.Errorf("%w: unknown mode %q", ErrBadRequest, req.Mode)
	}
	if spec.Layer, err = s.layerIndex(req.Layer); err != nil {
		return query.Spec{}, err
	}
	if spec.SelectionLayer, err = s.layerIndex(req.SelectionLayer); err != nil {
		return query.Spec{}, err
	}
	if req.MaxFeatures > 0 {
		spec.MaxFeatures = req.MaxFeatures
	}
	if req.StartIndex > 0 {
		spec.StartIndex = req.StartIndex
	}
	spec.OnlyCount = req.OnlyCount
	spec.Cache = s.opts.Cache
	if len(req.Styles) > 0 {
		spec.StyleNames = make(map[int][]string, len(req.Styles))
		for name, styles := range req.Styles {
			i, err := s.layerIndex(name)
			if err != nil {
				return query.Spec{}, err
			}
			spec.StyleNames[i] = styles
		}
	}
	return spec, nil
}

func (s *Service) predicate(req Request) (query.Predicate, error) {
	switch strings.ToLower(req.Type) {
	case "point":
		if req.Point == nil {
			return nil, fmt.Errorf("%w: point query needs a point", ErrBadRequest)
		}
		return query.PointQuery{Point: *req.Point, Buffer: req.Buffer, MaxResults: req.MaxResults}, nil
	case "rect":
		if req.Rect == nil {
			return nil, fmt.Errorf("%w: rect query needs a bbox", ErrBadRequest)
		}
		return query.RectQuery{Rect: *req.Rect}, nil
	case "shape":
		if req.Shape == nil {
			return nil, fmt.Errorf("%w: shape query needs a geometry", ErrBadRequest)
		}
		return query.ShapeQuery{Shape: req.Shape}, nil
	case "filter":
		r := model.InvalidRect
		if req.Rect != nil {
			r = *req.Rect
		}
		return query.FilterQuery{Item: req.Item, Filter: expr.ParseExpression(req.Filter), Rect: r}, nil
	case "index":
		return query.IndexQuery{ShapeIndex: req.ShapeIndex, TileIndex: req.TileIndex, ClearResultCache: !req.Append}, nil
	default:
		return nil, fmt.Errorf("%w: unknown query type %q", ErrBadRequest, req.Type)
	}
}

// layerIndex accepts a layer name or index. Empty means every layer.
func (s *Service) layerIndex(v string) (int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return -1, nil
	}
	if l, ok := s.m.LayerByName(v); ok {
		return l.Index, nil
	}
	if i, err := strconv.Atoi(v); err == nil {
		if _, ok := s.m.Layer(i); ok {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: unknown layer %q", ErrBadRequest, v)
}

// Query runs spec on a clean map and reports the caches.
func (s *Service) Query(ctx context.Context, spec query.Spec) (Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runLocked(ctx, spec)
}

func (s *Service) runLocked(ctx context.Context, spec query.Spec) (Response, error) {
	ctx = logger.WithMap(ctx, s.m.Name)
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	s.freeBefore(spec)
	start := time.Now()
	err := s.engine.Execute(ctx, s.m, spec)
	s.publish(ctx, spec, time.Since(start), err)
	if err != nil {
		return Response{}, err
	}
	return s.responseLocked(spec.Kind()), nil
}

// freeBefore drops earlier results, except the target layer of an index
// query that appends to it.
func (s *Service) freeBefore(spec query.Spec) {
	q, ok := spec.Predicate.(query.IndexQuery)
	if !ok || q.ClearResultCache || spec.Layer < 0 {
		s.m.FreeQuery(-1)
		return
	}
	for i := range s.m.Layers {
		if i != spec.Layer {
			s.m.FreeQuery(i)
		}
	}
}

func (s *Service) publish(ctx context.Context, spec query.Spec, took time.Duration, err error) {
	if s.opts.Builder == nil || (s.opts.Events == nil && s.opts.Hotness == nil) {
		return
	}
	ev := s.opts.Builder.Build(ctx, s.m, spec, took, err)
	if s.opts.Hotness != nil && err == nil {
		s.opts.Hotness.Inc(ev.Cell)
		s.opts.Hotness.Inc(ev.Cells...)
	}
	if s.opts.Events != nil {
		s.opts.Events.Publish(ev)
	}
}

// HotCells lists the n most queried cells.
func (s *Service) HotCells(n int) []hotness.Cell {
	if s.opts.Hotness == nil {
		return []hotness.Cell{}
	}
	out := s.opts.Hotness.Top(n, hotFloor)
	if out == nil {
		out = []hotness.Cell{}
	}
	return out
}

// Save runs spec and stores it, or its results, under name.
func (s *Service) Save(ctx context.Context, spec query.Spec, name string, v qyfile.Variant) (Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := qyfile.CheckName(name); err != nil {
		return Response{}, err
	}
	resp, err := s.runLocked(ctx, spec)
	if err != nil {
		return Response{}, err
	}
	if err := s.files.Save(ctx, s.m, spec, name, v); err != nil {
		return Response{}, err
	}
	return resp, nil
}

// Delete removes a saved file. Current results are kept.
func (s *Service) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.files.Delete(logger.WithMap(ctx, s.m.Name), name)
}

// Load applies a saved file: params are replayed, results installed.
func (s *Service) Load(ctx context.Context, name string) (Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx = logger.WithMap(ctx, s.m.Name)

	s.m.FreeQuery(-1)
	base := query.NewSpec(nil)
	base.Cache = s.opts.Cache
	res, err := s.files.Load(ctx, s.m, name, base)
	if err != nil {
		return Response{}, err
	}
	kind := res.Spec.Kind()
	if res.Variant == qyfile.VariantResults {
		kind = query.KindUnset
	}
	return s.responseLocked(kind), nil
}
