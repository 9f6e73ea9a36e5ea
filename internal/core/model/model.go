// Package model defines the map, layer and geometry types shared across the service.
package model

import (
	"fmt"
	"math"
)

type Point struct {
	X, Y float64
}

type Rect struct {
	MinX, MinY float64
	MaxX, MaxY float64
}

// InvalidRect marks an unset rectangle.
var InvalidRect = Rect{MinX: -1, MinY: -1, MaxX: -1, MaxY: -1}

// String representation matching the bbox format used on the wire
func (r Rect) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", r.MinX, r.MinY, r.MaxX, r.MaxY)
}

func (r Rect) Valid() bool {
	if r == InvalidRect {
		return false
	}
	return r.MinX <= r.MaxX && r.MinY <= r.MaxY
}

func (r Rect) Width() float64  { return r.MaxX - r.MinX }
func (r Rect) Height() float64 { return r.MaxY - r.MinY }

func (r Rect) Expand(d float64) Rect {
	return Rect{MinX: r.MinX - d, MinY: r.MinY - d, MaxX: r.MaxX + d, MaxY: r.MaxY + d}
}

func (r Rect) Union(o Rect) Rect {
	return Rect{
		MinX: math.Min(r.MinX, o.MinX),
		MinY: math.Min(r.MinY, o.MinY),
		MaxX: math.Max(r.MaxX, o.MaxX),
		MaxY: math.Max(r.MaxY, o.MaxY),
	}
}

// Contains reports whether o lies entirely inside r.
func (r Rect) Contains(o Rect) bool {
	return o.MinX >= r.MinX && o.MaxX <= r.MaxX && o.MinY >= r.MinY && o.MaxY <= r.MaxY
}

func (r Rect) Overlaps(o Rect) bool {
	return r.MinX <= o.MaxX && o.MinX <= r.MaxX && r.MinY <= o.MaxY && o.MinY <= r.MaxY
}

func (r Rect) ContainsPoint(p Point) bool {
	return p.X >= r.MinX && p.X <= r.MaxX && p.Y >= r.MinY && p.Y <= r.MaxY
}

// Polygon returns the rectangle as a closed single-ring polygon shape.
func (r Rect) Polygon() *Shape {
	s := NewShape(ShapePolygon)
	s.Lines = []Line{{
		{X: r.MinX, Y: r.MinY},
		{X: r.MinX, Y: r.MaxY},
		{X: r.MaxX, Y: r.MaxY},
		{X: r.MaxX, Y: r.MinY},
		{X: r.MinX, Y: r.MinY},
	}}
	s.Bounds = r
	return s
}

type Line []Point

type ShapeType int

const (
	ShapePoint ShapeType = iota
	ShapeLine
	ShapePolygon
	ShapeNull
)

func (t ShapeType) String() string {
	switch t {
	case ShapePoint:
		return "point"
	case ShapeLine:
		return "line"
	case ShapePolygon:
		return "polygon"
	case ShapeNull:
		return "null"
	default:
		return fmt.Sprintf("shape(%d)", int(t))
	}
}

// Shape is a feature as delivered by a layer source. Point shapes keep
// their vertices in Lines like every other type.
type Shape struct {
	Type        ShapeType
	Lines       []Line
	Bounds      Rect
	Values      map[string]string
	Text        string
	Index       int64
	TileIndex   int
	ResultIndex int
	ClassIndex  int
}

func NewShape(t ShapeType) *Shape {
	return &Shape{
		Type:        t,
		Bounds:      InvalidRect,
		Index:       -1,
		TileIndex:   -1,
		ResultIndex: -1,
		ClassIndex:  -1,
	}
}

// NewPoint builds a single-vertex point shape.
func NewPoint(x, y float64) *Shape {
	s := NewShape(ShapePoint)
	s.Lines = []Line{{{X: x, Y: y}}}
	s.ComputeBounds()
	return s
}

func (s *Shape) NumPoints() int {
	n := 0
	for _, l := range s.Lines {
		n += len(l)
	}
	return n
}

// ComputeBounds recomputes Bounds from the vertices. A shape with no
// vertices gets InvalidRect.
func (s *Shape) ComputeBounds() {
	first := true
	var b Rect
	for _, l := range s.Lines {
		for _, p := range l {
			if first {
				b = Rect{MinX: p.X, MinY: p.Y, MaxX: p.X, MaxY: p.Y}
				first = false
				continue
			}
			b.MinX = math.Min(b.MinX, p.X)
			b.MinY = math.Min(b.MinY, p.Y)
			b.MaxX = math.Max(b.MaxX, p.X)
			b.MaxY = math.Max(b.MaxY, p.Y)
		}
	}
	if first {
		s.Bounds = InvalidRect
		return
	}
	s.Bounds = b
}

// Clone returns a deep copy. Result caches only ever hold clones.
func (s *Shape) Clone() *Shape {
	if s == nil {
		return nil
	}
	c := *s
	if s.Lines != nil {
		c.Lines = make([]Line, len(s.Lines))
		for i, l := range s.Lines {
			c.Lines[i] = append(Line(nil), l...)
		}
	}
	if s.Values != nil {
		c.Values = make(map[string]string, len(s.Values))
		for k, v := range s.Values {
			c.Values[k] = v
		}
	}
	return &c
}

const (
	shapeHeaderSize = 96
	lineHeaderSize  = 16
	pointSize       = 16
	valueHeaderSize = 16
)

// RAMSize estimates the memory held by a materialized copy of the shape.
func (s *Shape) RAMSize() int {
	n := shapeHeaderSize
	for _, l := range s.Lines {
		n += lineHeaderSize + len(l)*pointSize
	}
	for k, v := range s.Values {
		n += valueHeaderSize + len(k) + len(v) + 2
	}
	n += len(s.Text)
	return n
}

// CheckSize reports whether the diagonal of the shape bounds reaches
// minSize ground units.
func (s *Shape) CheckSize(minSize float64) bool {
	dx := s.Bounds.Width()
	dy := s.Bounds.Height()
	return minSize*minSize <= dx*dx+dy*dy
}
