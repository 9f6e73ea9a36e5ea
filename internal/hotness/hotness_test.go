package hotness

import (
	"math"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Add(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTrackerForTest(hl time.Duration) (*Tracker, *fakeClock) {
	fc := &fakeClock{now: time.Unix(0, 0).UTC()}
	tr := New(hl)
	tr.now = fc.Now
	return tr, fc
}

func almostEq(t *testing.T, got, want, eps float64) {
	t.Helper()
	if math.Abs(got-want) > eps {
		t.Fatalf("got=%g want=%g (eps=%g)", got, want, eps)
	}
}

func TestIncAndScore_AccumulatesImmediately(t *testing.T) {
	tr, _ := newTrackerForTest(time.Minute)
	cell := "852a1073fffffff"

	tr.Inc(cell)
	almostEq(t, tr.Score(cell), 1.0, 1e-9)
	tr.Inc(cell, cell, "")
	almostEq(t, tr.Score(cell), 3.0, 1e-9)
	if tr.Size() != 1 {
		t.Fatalf("size=%d want 1", tr.Size())
	}
}

func TestHalfLife_DecaysByHalf(t *testing.T) {
	hl := 2 * time.Second
	tr, fc := newTrackerForTest(hl)
	cell := "852a1073fffffff"

	tr.Inc(cell)
	fc.Add(hl)
	almostEq(t, tr.Score(cell), 0.5, 1e-6)
	fc.Add(hl)
	almostEq(t, tr.Score(cell), 0.25, 1e-6)
}

func TestConcurrency_ManyIncSameCell(t *testing.T) {
	tr, _ := newTrackerForTest(time.Minute)
	cell := "hot-city-center"
	const N = 256

	var wg sync.WaitGroup
	wg.Add(N)
	for range N {
		go func() {
			tr.Inc(cell)
			wg.Done()
		}()
	}
	wg.Wait()
	almostEq(t, tr.Score(cell), N, 1e-9)
}

func TestTop_OrdersAndEvicts(t *testing.T) {
	hl := 10 * time.Second
	tr, fc := newTrackerForTest(hl)

	tr.Inc("old")
	fc.Add(5 * hl)
	tr.Inc("a", "a", "a", "b", "b", "c")

	top := tr.Top(2, 0.1)
	if len(top) != 2 || top[0].Cell != "a" || top[1].Cell != "b" {
		t.Fatalf("top=%+v", top)
	}
	almostEq(t, top[0].Score, 3, 1e-9)

	if all := tr.Top(10, 0.1); len(all) != 3 {
		t.Fatalf("all=%+v want a, b and c", all)
	}
	if tr.Size() != 3 {
		t.Fatalf("size=%d: decayed cell should have been evicted", tr.Size())
	}
	if tr.Top(0, 0) != nil {
		t.Fatal("Top(0) should be empty")
	}
}

func TestDecayHelper_Edges(t *testing.T) {
	if got := decay(0, 10, 60); got != 0 {
		t.Fatalf("expected 0, got %g", got)
	}
	if got := decay(5, 0, 60); got != 5 {
		t.Fatalf("expected 5, got %g", got)
	}
	if got := decay(5, 10, 0); got != 5 {
		t.Fatalf("expected 5, got %g", got)
	}
}
