// Package queryevents publishes a record of every executed query to
// Kafka, tagged with the H3 cells the query touched.
package queryevents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/spatial-query/internal/cellmap"
	"github.com/mohammed-shakir/spatial-query/internal/core/model"
	"github.com/mohammed-shakir/spatial-query/internal/core/observability"
	"github.com/mohammed-shakir/spatial-query/internal/geom"
	"github.com/mohammed-shakir/spatial-query/internal/query"
)

type Event struct {
	Map     string    `json:"map"`
	Type    string    `json:"type"`
	Mode    string    `json:"mode"`
	Layer   int       `json:"layer"`
	Results int       `json:"results"`
	Cell    string    `json:"cell,omitempty"`
	Cells   []string  `json:"cells,omitempty"`
	TookMS  float64   `json:"took_ms"`
	Error   string    `json:"error,omitempty"`
	TS      time.Time `json:"ts"`
}

// Builder turns an executed query into an Event.
type Builder struct {
	cells *cellmap.Mapper
	log   *slog.Logger
}

func NewBuilder(cells *cellmap.Mapper, log *slog.Logger) *Builder {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Builder{cells: cells, log: log}
}

// Build summarizes spec after it ran against m. Locations that cannot be
// mapped to lon/lat leave the cell fields empty.
func (b *Builder) Build(ctx context.Context, m *model.Map, spec query.Spec, took time.Duration, execErr error) Event {
	ev := Event{
		Map:    m.Name,
		Type:   spec.Kind().String(),
		Mode:   spec.Mode.String(),
		Layer:  spec.Layer,
		TookMS: float64(took.Microseconds()) / 1000,
		TS:     time.Now().UTC(),
	}
	if execErr != nil {
		ev.Error = execErr.Error()
	}
	for _, l := range m.Layers {
		ev.Results += l.ResultCache.NumResults()
	}
	if b.cells == nil {
		return ev
	}

	toLonLat, err := geom.NewReprojector(m.Projection, model.ProjWGS84)
	if err != nil {
		b.log.LogAttrs(ctx, slog.LevelDebug, "query location not mappable", slog.Any("error", err))
		return ev
	}

	switch q := spec.Predicate.(type) {
	case query.PointQuery:
		ev.Cell, err = b.cells.CellForPoint(toLonLat.Point(q.Point))
	case query.RectQuery:
		ev.Cells, err = b.cells.CellsForRect(toLonLat.Rect(q.Rect))
	case query.FilterQuery:
		if q.Rect.Valid() {
			ev.Cells, err = b.cells.CellsForRect(toLonLat.Rect(q.Rect))
		}
	case query.ShapeQuery:
		if q.Shape != nil {
			bounds := q.Shape.Bounds
			if !bounds.Valid() {
				c := q.Shape.Clone()
				c.ComputeBounds()
				bounds = c.Bounds
			}
			ev.Cells, err = b.cells.CellsForRect(toLonLat.Rect(bounds))
		}
	}
	if err != nil {
		b.log.LogAttrs(ctx, slog.LevelDebug, "query location not mappable", slog.Any("error", err))
	}
	return ev
}

// key groups events by their resolution 0 cell.
func (ev Event) key() sarama.Encoder {
	cell := ev.Cell
	if cell == "" && len(ev.Cells) > 0 {
		cell = ev.Cells[0]
	}
	if cell == "" {
		return nil
	}
	base, err := cellmap.ToParent(cell, 0)
	if err != nil {
		return nil
	}
	return sarama.StringEncoder(base)
}

type Publisher struct {
	topic   string
	events  chan Event
	prod    sarama.AsyncProducer
	log     *slog.Logger
	stopped chan struct{}
	errsWG  sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewPublisher(brokers []string, topic string, queueSize int, log *slog.Logger) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("queryevents: create async producer: %w", err)
	}
	return NewWithProducer(prod, topic, queueSize, log), nil
}

// NewWithProducer starts a publisher on an existing producer, which the
// publisher then owns.
func NewWithProducer(prod sarama.AsyncProducer, topic string, queueSize int, log *slog.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	p := &Publisher{
		topic:   topic,
		events:  make(chan Event, queueSize),
		prod:    prod,
		log:     log,
		stopped: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				p.log.Warn("queryevents: marshal error", slog.Any("error", err))
				observability.IncEvent("failed")
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   ev.key(),
				Value: sarama.ByteEncoder(b),
			}
			observability.IncEvent("sent")
		}
	}()

	p.errsWG.Add(1)
	go func() {
		defer p.errsWG.Done()
		for err := range p.prod.Errors() {
			if err != nil {
				p.log.Warn("queryevents: producer error", slog.Any("error", err))
				observability.IncEvent("failed")
			}
		}
	}()

	return p
}

// Publish queues ev without blocking. Events are dropped when the queue
// is full.
func (p *Publisher) Publish(ev Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		observability.IncEvent("dropped")
		return
	}
	select {
	case p.events <- ev:
	default:
		observability.IncEvent("dropped")
	}
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.events)
	p.mu.Unlock()

	<-p.stopped
	err := p.prod.Close()
	p.errsWG.Wait()
	if err != nil {
		return fmt.Errorf("queryevents: close producer: %w", err)
	}
	return nil
}
