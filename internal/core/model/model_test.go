package model

import (
	"math"
	"testing"
)

func TestRect_ValidAndContains(t *testing.T) {
	if InvalidRect.Valid() {
		t.Fatal("InvalidRect must not be valid")
	}
	outer := Rect{MinX: 0, MinY: 0, MaxX: 10, MaxY: 10}
	if !outer.Contains(Rect{MinX: 1, MinY: 1, MaxX: 9, MaxY: 9}) {
		t.Fatal("inner rect should be contained")
	}
	if outer.Contains(Rect{MinX: 5, MinY: 5, MaxX: 11, MaxY: 9}) {
		t.Fatal("crossing rect must not be contained")
	}
	if got := outer.Expand(2); got != (Rect{MinX: -2, MinY: -2, MaxX: 12, MaxY: 12}) {
		t.Fatalf("Expand=%+v", got)
	}
}

func TestShape_CloneIsDeep(t *testing.T) {
	s := NewPoint(1, 2)
	s.Values = map[string]string{"name": "a"}
	c := s.Clone()
	c.Lines[0][0].X = 99
	c.Values["name"] = "b"
	if s.Lines[0][0].X != 1 || s.Values["name"] != "a" {
		t.Fatalf("clone shares memory with source: %+v", s)
	}
}

func TestShape_CheckSize(t *testing.T) {
	s := NewShape(ShapeLine)
	s.Lines = []Line{{{X: 0, Y: 0}, {X: 3, Y: 4}}}
	s.ComputeBounds()
	if !s.CheckSize(5) {
		t.Fatal("diagonal 5 should pass min size 5")
	}
	if s.CheckSize(5.01) {
		t.Fatal("diagonal 5 should fail min size 5.01")
	}
}

func TestShape_RAMSizeGrowsWithVertices(t *testing.T) {
	small := NewPoint(0, 0)
	big := NewShape(ShapeLine)
	big.Lines = []Line{make(Line, 100)}
	if small.RAMSize() >= big.RAMSize() {
		t.Fatalf("ram estimate not monotonic: %d >= %d", small.RAMSize(), big.RAMSize())
	}
}

func TestResultCache_AppendGrowsInIncrements(t *testing.T) {
	rc := NewResultCache()
	for i := range 11 {
		rc.Append(Result{ShapeIndex: int64(i)}, Rect{MinX: float64(i), MinY: 0, MaxX: float64(i) + 1, MaxY: 1})
	}
	if rc.NumResults() != 11 {
		t.Fatalf("NumResults=%d want 11", rc.NumResults())
	}
	if cap(rc.Results) != 2*ResultCacheIncrement {
		t.Fatalf("cap=%d want %d", cap(rc.Results), 2*ResultCacheIncrement)
	}
	want := Rect{MinX: 0, MinY: 0, MaxX: 11, MaxY: 1}
	if rc.Bounds != want {
		t.Fatalf("bounds=%+v want %+v", rc.Bounds, want)
	}
}

func TestResultCache_AppendMergesEveryBounds(t *testing.T) {
	rc := NewResultCache()
	rc.Append(Result{ShapeIndex: 0}, InvalidRect)
	if rc.Bounds != InvalidRect {
		t.Fatalf("first record must set bounds directly, got %+v", rc.Bounds)
	}
	rc.Append(Result{ShapeIndex: 1}, Rect{MinX: 2, MinY: 2, MaxX: 4, MaxY: 5})
	rc.Append(Result{ShapeIndex: 2}, InvalidRect)
	want := Rect{MinX: -1, MinY: -1, MaxX: 4, MaxY: 5}
	if rc.Bounds != want {
		t.Fatalf("bounds=%+v want %+v", rc.Bounds, want)
	}
}

func TestLayer_Queryable(t *testing.T) {
	l := NewLayer("roads", LayerLine)
	if l.Queryable() {
		t.Fatal("layer without templates must not be queryable")
	}
	l.Classes = []*Class{{Name: "c", Template: "tmpl"}}
	if !l.Queryable() {
		t.Fatal("class template should make layer queryable")
	}
	l.Type = LayerTileIndex
	if l.Queryable() {
		t.Fatal("tile index layers are never queryable")
	}
}

func TestMap_QueryResultBoundsAndFree(t *testing.T) {
	m := NewMap("m")
	a := m.AddLayer(NewLayer("a", LayerPoint))
	b := m.AddLayer(NewLayer("b", LayerPoint))
	m.AddLayer(NewLayer("c", LayerPoint))

	a.SetResultCache(NewResultCache())
	a.ResultCache.Append(Result{}, Rect{MinX: 0, MinY: 0, MaxX: 1, MaxY: 1})
	b.SetResultCache(NewResultCache())
	b.ResultCache.Append(Result{}, Rect{MinX: 5, MinY: -1, MaxX: 6, MaxY: 0})

	r, n := m.QueryResultBounds()
	if n != 2 {
		t.Fatalf("layers=%d want 2", n)
	}
	if r != (Rect{MinX: 0, MinY: -1, MaxX: 6, MaxY: 1}) {
		t.Fatalf("bounds=%+v", r)
	}

	m.FreeQuery(0)
	if a.ResultCache != nil || b.ResultCache == nil {
		t.Fatal("FreeQuery(0) must only clear layer 0")
	}
	m.FreeQuery(-1)
	if b.ResultCache != nil {
		t.Fatal("FreeQuery(-1) must clear every layer")
	}
}

func TestMap_CellSizeAndPixelsToGround(t *testing.T) {
	m := NewMap("m")
	m.Extent = Rect{MinX: 0, MinY: 0, MaxX: 100, MaxY: 50}
	m.Width, m.Height = 101, 51
	if cs := m.CellSize(); math.Abs(cs-1) > 1e-12 {
		t.Fatalf("cellsize=%g want 1", cs)
	}
	l := NewLayer("l", LayerPolygon)
	if g := m.PixelsToGround(l, 4); math.Abs(g-4) > 1e-12 {
		t.Fatalf("ground=%g want 4", g)
	}
}

func TestInchesPerUnit(t *testing.T) {
	if InchesPerUnit(UnitsFeet) != 12 || InchesPerUnit(UnitsMeters) != 39.3701 {
		t.Fatal("unexpected conversion table")
	}
	if u, err := ParseUnits("DD"); err != nil || u != UnitsDD {
		t.Fatalf("ParseUnits: %v %v", u, err)
	}
}
