package geom

import (
	"math"
	"testing"

	"github.com/mohammed-shakir/spatial-query/internal/core/model"
)

func square(minx, miny, maxx, maxy float64) *model.Shape {
	return model.Rect{MinX: minx, MinY: miny, MaxX: maxx, MaxY: maxy}.Polygon()
}

func line(pts ...model.Point) *model.Shape {
	s := model.NewShape(model.ShapeLine)
	s.Lines = []model.Line{pts}
	s.ComputeBounds()
	return s
}

func TestPlanar_Intersections(t *testing.T) {
	e := NewPlanar()
	sq := square(0, 0, 10, 10)

	tests := []struct {
		name string
		got  bool
		want bool
	}{
		{"point inside", e.IntersectMultipointPolygon(model.NewPoint(5, 5), sq), true},
		{"point outside", e.IntersectMultipointPolygon(model.NewPoint(15, 5), sq), false},
		{"line crossing", e.IntersectPolylinePolygon(line(model.Point{X: -5, Y: 5}, model.Point{X: 5, Y: 5}), sq), true},
		{"line inside", e.IntersectPolylinePolygon(line(model.Point{X: 2, Y: 2}, model.Point{X: 3, Y: 3}), sq), true},
		{"line outside", e.IntersectPolylinePolygon(line(model.Point{X: 20, Y: 20}, model.Point{X: 30, Y: 30}), sq), false},
		{"polygon overlap", e.IntersectPolygons(square(5, 5, 15, 15), sq), true},
		{"polygon contains", e.IntersectPolygons(square(-5, -5, 15, 15), sq), true},
		{"polygon disjoint", e.IntersectPolygons(square(20, 20, 30, 30), sq), false},
		{"lines cross", e.IntersectPolylines(
			line(model.Point{X: 0, Y: 0}, model.Point{X: 10, Y: 10}),
			line(model.Point{X: 0, Y: 10}, model.Point{X: 10, Y: 0})), true},
		{"lines parallel", e.IntersectPolylines(
			line(model.Point{X: 0, Y: 0}, model.Point{X: 10, Y: 0}),
			line(model.Point{X: 0, Y: 1}, model.Point{X: 10, Y: 1})), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Fatalf("got %v want %v", tt.got, tt.want)
			}
		})
	}
}

func TestPlanar_HoleUsesEvenOdd(t *testing.T) {
	e := NewPlanar()
	donut := square(0, 0, 10, 10)
	donut.Lines = append(donut.Lines, square(4, 4, 6, 6).Lines[0])
	if e.IntersectMultipointPolygon(model.NewPoint(5, 5), donut) {
		t.Fatal("point in hole must not intersect")
	}
	if d := e.DistancePointToShape(model.Point{X: 5, Y: 5}, donut); math.Abs(d-1) > 1e-9 {
		t.Fatalf("distance to hole edge=%g want 1", d)
	}
}

func TestPlanar_Distances(t *testing.T) {
	e := NewPlanar()
	if d := e.DistancePointToShape(model.Point{X: 3, Y: 4}, model.NewPoint(0, 0)); d != 5 {
		t.Fatalf("point distance=%g want 5", d)
	}
	l := line(model.Point{X: 0, Y: 0}, model.Point{X: 10, Y: 0})
	if d := e.DistancePointToShape(model.Point{X: 5, Y: 2}, l); math.Abs(d-2) > 1e-9 {
		t.Fatalf("line distance=%g want 2", d)
	}
	if d := e.DistanceShapeToShape(square(0, 0, 1, 1), square(3, 0, 4, 1)); math.Abs(d-2) > 1e-9 {
		t.Fatalf("polygon distance=%g want 2", d)
	}
	if d := e.DistanceShapeToShape(l, square(2, -1, 3, 1)); d != 0 {
		t.Fatalf("crossing distance=%g want 0", d)
	}
}

func TestReprojector_RoundTrip(t *testing.T) {
	fwd, err := NewReprojector(model.ProjWGS84, model.ProjWebMercator)
	if err != nil {
		t.Fatalf("NewReprojector: %v", err)
	}
	back, err := NewReprojector(model.ProjWebMercator, model.ProjWGS84)
	if err != nil {
		t.Fatalf("NewReprojector: %v", err)
	}
	p := model.Point{X: 18.0686, Y: 59.3293}
	q := back.Point(fwd.Point(p))
	if math.Abs(q.X-p.X) > 1e-9 || math.Abs(q.Y-p.Y) > 1e-9 {
		t.Fatalf("round trip %+v -> %+v", p, q)
	}
	r := fwd.Rect(model.Rect{MinX: 0, MinY: 0, MaxX: 1, MaxY: 1})
	if r.MinX != 0 || r.MaxX <= 100000 {
		t.Fatalf("unexpected projected rect %+v", r)
	}
}

func TestReprojector_IdentityAndUnsupported(t *testing.T) {
	id, err := NewReprojector("", model.ProjWGS84)
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	if got := id.Point(model.Point{X: 1, Y: 2}); got != (model.Point{X: 1, Y: 2}) {
		t.Fatalf("identity moved point: %+v", got)
	}
	if _, err := NewReprojector("EPSG:32633", model.ProjWGS84); err == nil {
		t.Fatal("expected unsupported projection error")
	}
}
