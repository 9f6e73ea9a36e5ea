// Package hotness keeps exponentially decaying hit counts for the H3 cells
// that queries touch.
package hotness

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const numShards = 64

type Tracker struct {
	HalfLife time.Duration

	now func() time.Time

	shards [numShards]shard
}

type shard struct {
	mu sync.RWMutex
	m  map[string]*counter
}

type counter struct {
	score float64
	last  time.Time
}

// Cell is one entry of a Top listing.
type Cell struct {
	Cell  string  `json:"cell"`
	Score float64 `json:"score"`
}

func New(halfLife time.Duration) *Tracker {
	if halfLife <= 0 {
		halfLife = time.Minute
	}
	t := &Tracker{HalfLife: halfLife, now: time.Now}
	for i := range t.shards {
		t.shards[i].m = make(map[string]*counter)
	}
	return t
}

// Inc adds one hit to each cell.
func (t *Tracker) Inc(cells ...string) {
	n := t.now()
	for _, cell := range cells {
		if cell == "" {
			continue
		}
		s := t.pick(cell)
		s.mu.Lock()
		c := s.m[cell]
		if c == nil {
			s.m[cell] = &counter{score: 1, last: n}
		} else {
			c.score = decay(c.score, n.Sub(c.last).Seconds(), t.HalfLife.Seconds()) + 1
			c.last = n
		}
		s.mu.Unlock()
	}
}

func (t *Tracker) Score(cell string) float64 {
	if cell == "" {
		return 0
	}
	s := t.pick(cell)

	s.mu.RLock()
	c := s.m[cell]
	if c == nil {
		s.mu.RUnlock()
		return 0
	}
	score, last := c.score, c.last
	s.mu.RUnlock()

	return decay(score, t.now().Sub(last).Seconds(), t.HalfLife.Seconds())
}

// Top returns the n hottest cells, hottest first. Cells whose score has
// decayed below floor are dropped from the tracker as they are seen.
func (t *Tracker) Top(n int, floor float64) []Cell {
	if n <= 0 {
		return nil
	}
	now := t.now()
	hl := t.HalfLife.Seconds()
	var out []Cell
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		for cell, c := range s.m {
			score := decay(c.score, now.Sub(c.last).Seconds(), hl)
			if score < floor {
				delete(s.m, cell)
				continue
			}
			out = append(out, Cell{Cell: cell, Score: score})
		}
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Cell < out[j].Cell
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func decay(score, dt, halfLife float64) float64 {
	if score == 0 || dt <= 0 || halfLife <= 0 {
		return score
	}
	lambda := math.Ln2 / halfLife
	return score * math.Exp(-lambda*dt)
}

func (t *Tracker) pick(cell string) *shard {
	h := xxhash.Sum64String(cell)
	return &t.shards[h&(numShards-1)]
}

func (t *Tracker) Size() int {
	total := 0
	for i := range t.shards {
		t.shards[i].mu.RLock()
		total += len(t.shards[i].m)
		t.shards[i].mu.RUnlock()
	}
	return total
}
