package query

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/mohammed-shakir/spatial-query/internal/core/model"
	"github.com/mohammed-shakir/spatial-query/internal/core/observability"
	"github.com/mohammed-shakir/spatial-query/internal/geom"
	"github.com/mohammed-shakir/spatial-query/internal/logger"
)

// SymbolRenderer measures and rasterizes marker symbols for point
// identification by footprint.
type SymbolRenderer interface {
	// MarkerSize returns the on-screen size of the style's symbol in pixels.
	MarkerSize(m *model.Map, st *model.Style) (w, h float64, err error)
	// Render draws the style's symbol centered on a w x h transparent image.
	Render(m *model.Map, st *model.Style, w, h int) (*image.NRGBA, error)
}

type Engine struct {
	log          *slog.Logger
	geom         geom.Evaluator
	reprojectors geom.ReprojectorFactory
	renderer     SymbolRenderer
}

type Option func(*Engine)

func WithEvaluator(ev geom.Evaluator) Option {
	return func(e *Engine) { e.geom = ev }
}

func WithReprojectors(f geom.ReprojectorFactory) Option {
	return func(e *Engine) { e.reprojectors = f }
}

func WithRenderer(r SymbolRenderer) Option {
	return func(e *Engine) { e.renderer = r }
}

func New(log *slog.Logger, opts ...Option) *Engine {
	if log == nil {
		log = discardLogger()
	}
	e := &Engine{
		log:          log,
		geom:         geom.NewPlanar(),
		reprojectors: geom.NewReprojector,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// run holds the mutable state of one Execute call.
type run struct {
	e    *Engine
	ctx  context.Context
	m    *model.Map
	spec Spec

	layer       int
	maxFeatures int
	startIndex  int
	pageLimit   int
	qc          queryCache
}

// Execute runs spec against m. Matches are left in the ResultCache of each
// touched layer; layers with nothing found end up with no cache or an
// empty one.
func (e *Engine) Execute(ctx context.Context, m *model.Map, spec Spec) error {
	start := time.Now()
	ctx = logger.WithQueryType(logger.WithComponent(ctx, "query"), spec.Kind().String())
	err := e.execute(ctx, m, spec)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	observability.ObserveQuery(spec.Kind().String(), outcome, time.Since(start).Seconds())
	if err == nil && m != nil {
		for _, l := range m.Layers {
			if l.ResultCache != nil {
				observability.ObserveLayerResults(spec.Kind().String(), l.ResultCache.NumResults())
			}
		}
	}
	return err
}

func (e *Engine) execute(ctx context.Context, m *model.Map, spec Spec) error {
	if m == nil {
		return fmt.Errorf("%w: no map", ErrMalformedQuery)
	}
	r := &run{
		e:           e,
		ctx:         ctx,
		m:           m,
		spec:        spec,
		layer:       spec.Layer,
		maxFeatures: spec.MaxFeatures,
		startIndex:  spec.StartIndex,
	}

	if spec.SelectionLayer >= 0 {
		r.layer = spec.SelectionLayer
	}
	if err := r.dispatch(); err != nil {
		return err
	}
	if spec.SelectionLayer >= 0 {
		r.layer = spec.Layer
		return r.byFeatures()
	}
	return nil
}

func (r *run) dispatch() error {
	switch p := r.spec.Predicate.(type) {
	case PointQuery:
		return r.byPoint(p)
	case RectQuery:
		return r.byRect(p)
	case ShapeQuery:
		return r.byShape(p)
	case FilterQuery:
		return r.byFilter(p)
	case IndexQuery:
		return r.byIndex(p)
	case nil:
		return fmt.Errorf("%w: query type not set", ErrMalformedQuery)
	default:
		return fmt.Errorf("%w: unsupported predicate %T", ErrMalformedQuery, p)
	}
}

// foundAny logs the no-match case. A query without matches still succeeds.
func (r *run) foundAny(strategy string, start, stop, skip int) {
	for i := start; i >= stop; i-- {
		if i == skip {
			continue
		}
		if l := r.m.Layers[i]; l.ResultCache != nil && l.ResultCache.NumResults() > 0 {
			return
		}
	}
	r.e.log.LogAttrs(r.ctx, slog.LevelDebug, "no matching record(s) found", slog.String("strategy", strategy))
}
