package queryevents

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"github.com/mohammed-shakir/spatial-query/internal/cellmap"
	"github.com/mohammed-shakir/spatial-query/internal/core/model"
	"github.com/mohammed-shakir/spatial-query/internal/query"
)

func lonLatMap() *model.Map {
	m := model.NewMap("world")
	m.Projection = model.ProjWGS84
	l := model.NewLayer("poi", model.LayerPoint)
	m.AddLayer(l)
	l.SetResultCache(model.NewResultCache())
	l.ResultCache.Append(model.Result{ShapeIndex: 1}, model.InvalidRect)
	l.ResultCache.Append(model.Result{ShapeIndex: 2}, model.InvalidRect)
	return m
}

func TestBuilder_PointAndRect(t *testing.T) {
	cells, err := cellmap.New(7, 0)
	if err != nil {
		t.Fatalf("cellmap: %v", err)
	}
	b := NewBuilder(cells, nil)
	m := lonLatMap()

	pt := model.Point{X: 18.0686, Y: 59.3293}
	ev := b.Build(t.Context(), m, query.NewSpec(query.PointQuery{Point: pt}), 1500*time.Microsecond, nil)
	want, _ := cells.CellForPoint(pt)
	if ev.Cell != want || ev.Results != 2 || ev.Type != "point" || ev.Mode != "single" {
		t.Fatalf("event=%+v", ev)
	}
	if ev.TookMS != 1.5 {
		t.Fatalf("took=%v want 1.5", ev.TookMS)
	}

	rect := query.NewSpec(query.RectQuery{Rect: model.Rect{MinX: 17.9, MinY: 59.3, MaxX: 18.1, MaxY: 59.4}})
	ev = b.Build(t.Context(), m, rect, 0, errors.New("boom"))
	if len(ev.Cells) == 0 || ev.Cell != "" || ev.Error != "boom" {
		t.Fatalf("event=%+v", ev)
	}
}

func TestBuilder_UnmappableLocationLeavesCellsEmpty(t *testing.T) {
	cells, _ := cellmap.New(7, 0)
	b := NewBuilder(cells, nil)
	m := lonLatMap()
	m.Projection = ""

	ev := b.Build(t.Context(), m, query.NewSpec(query.PointQuery{Point: model.Point{X: 5e5, Y: 6e6}}), 0, nil)
	if ev.Cell != "" || ev.Results != 2 {
		t.Fatalf("event=%+v", ev)
	}
}

func TestPublisher_SendsKeyedJSON(t *testing.T) {
	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Errors = true
	prod := mocks.NewAsyncProducer(t, cfg)

	cells, _ := cellmap.New(7, 0)
	pt := model.Point{X: 18.0686, Y: 59.3293}
	cell, _ := cells.CellForPoint(pt)
	base, _ := cellmap.ToParent(cell, 0)

	prod.ExpectInputWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "queries" {
			return fmt.Errorf("topic=%s", msg.Topic)
		}
		k, _ := msg.Key.Encode()
		if string(k) != base {
			return fmt.Errorf("key=%s want %s", k, base)
		}
		v, _ := msg.Value.Encode()
		var ev Event
		if err := json.Unmarshal(v, &ev); err != nil {
			return err
		}
		if ev.Cell != cell || ev.Map != "world" {
			return fmt.Errorf("event=%+v", ev)
		}
		return nil
	})

	p := NewWithProducer(prod, "queries", 4, nil)
	p.Publish(Event{Map: "world", Type: "point", Cell: cell})
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	p.Publish(Event{Map: "world"}) // dropped after close
}

func TestPublisher_ProducerErrorsAreSwallowed(t *testing.T) {
	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Errors = true
	prod := mocks.NewAsyncProducer(t, cfg)
	prod.ExpectInputAndFail(errors.New("broker down"))

	p := NewWithProducer(prod, "queries", 4, nil)
	p.Publish(Event{Map: "world"})
	_ = p.Close()
}
