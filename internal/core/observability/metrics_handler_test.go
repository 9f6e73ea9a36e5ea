package observability

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHelpers_RecordOutcomes(t *testing.T) {
	Init(prometheus.NewRegistry(), true)

	saved := persistOps.WithLabelValues("params", "save", "ok")
	failed := persistOps.WithLabelValues("results", "load", "error")
	budget := cacheBudgetHits.WithLabelValues("ram")
	scanned := shapesScanned.WithLabelValues("point")
	before := []float64{testutil.ToFloat64(saved), testutil.ToFloat64(failed), testutil.ToFloat64(budget), testutil.ToFloat64(scanned)}

	ObservePersist("params", "save", nil, 0.001)
	ObservePersist("results", "load", errors.New("truncated"), 0.001)
	IncCacheBudgetHit("ram")
	IncShapesScanned("point")
	IncShapesScanned("point")

	after := []float64{testutil.ToFloat64(saved), testutil.ToFloat64(failed), testutil.ToFloat64(budget), testutil.ToFloat64(scanned)}
	want := []float64{1, 1, 1, 2}
	for i := range want {
		if d := after[i] - before[i]; d != want[i] {
			t.Fatalf("counter %d moved by %v want %v", i, d, want[i])
		}
	}
}

func TestHelpers_DisabledAreNoOps(t *testing.T) {
	Init(nil, false)
	t.Cleanup(func() { Init(nil, true) })

	c := eventsTotal.WithLabelValues("sent")
	before := testutil.ToFloat64(c)
	IncEvent("sent")
	ObserveQuery("rect", "ok", 0.01)
	if got := testutil.ToFloat64(c); got != before {
		t.Fatalf("events moved from %v to %v while disabled", before, got)
	}
}

func TestSetMap_DefaultsEmptyName(t *testing.T) {
	t.Cleanup(func() { SetMap("") })
	SetMap("world")
	if getMap() != "world" {
		t.Fatalf("map=%q", getMap())
	}
	SetMap("")
	if getMap() != "default" {
		t.Fatalf("map=%q want default", getMap())
	}
}
