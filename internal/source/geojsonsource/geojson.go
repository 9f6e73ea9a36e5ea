// Package geojsonsource loads a GeoJSON FeatureCollection into an
// in-memory layer source.
package geojsonsource

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/spatial-query/internal/core/model"
	"github.com/mohammed-shakir/spatial-query/internal/source/memsource"
)

// Open reads the collection at path.
func Open(path string, opts ...memsource.Option) (*memsource.Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geojson %q: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	return Read(f, opts...)
}

// Read decodes a FeatureCollection. Feature i gets shape index i.
func Read(r io.Reader, opts ...memsource.Option) (*memsource.Source, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read geojson: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(b)
	if err != nil {
		return nil, fmt.Errorf("decode geojson: %w", err)
	}
	shapes := make([]*model.Shape, 0, len(fc.Features))
	for i, f := range fc.Features {
		s, err := Shape(f.Geometry)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
		s.Index = int64(i)
		s.Values = values(f.Properties)
		shapes = append(shapes, s)
	}
	return memsource.New(shapes, append([]memsource.Option{memsource.WithCount()}, opts...)...), nil
}

// Shape converts an orb geometry. Multi geometries keep every part as a
// separate line; a nil geometry becomes a null shape.
func Shape(g orb.Geometry) (*model.Shape, error) {
	var s *model.Shape
	switch g := g.(type) {
	case nil:
		return model.NewShape(model.ShapeNull), nil
	case orb.Point:
		s = model.NewShape(model.ShapePoint)
		s.Lines = []model.Line{{toPoint(g)}}
	case orb.MultiPoint:
		s = model.NewShape(model.ShapePoint)
		s.Lines = []model.Line{toLine(g)}
	case orb.LineString:
		s = model.NewShape(model.ShapeLine)
		s.Lines = []model.Line{toLine(g)}
	case orb.MultiLineString:
		s = model.NewShape(model.ShapeLine)
		for _, ls := range g {
			s.Lines = append(s.Lines, toLine(ls))
		}
	case orb.Polygon:
		s = model.NewShape(model.ShapePolygon)
		for _, ring := range g {
			s.Lines = append(s.Lines, toLine(ring))
		}
	case orb.MultiPolygon:
		s = model.NewShape(model.ShapePolygon)
		for _, p := range g {
			for _, ring := range p {
				s.Lines = append(s.Lines, toLine(ring))
			}
		}
	default:
		return nil, fmt.Errorf("unsupported geometry %s", g.GeoJSONType())
	}
	s.ComputeBounds()
	return s, nil
}

func toPoint(p orb.Point) model.Point { return model.Point{X: p[0], Y: p[1]} }

func toLine[T ~[]orb.Point](pts T) model.Line {
	out := make(model.Line, len(pts))
	for i, p := range pts {
		out[i] = toPoint(p)
	}
	return out
}

func values(props geojson.Properties) map[string]string {
	if len(props) == 0 {
		return nil
	}
	out := make(map[string]string, len(props))
	for k, v := range props {
		switch v := v.(type) {
		case nil:
			out[k] = ""
		case string:
			out[k] = v
		case float64:
			out[k] = strconv.FormatFloat(v, 'f', -1, 64)
		default:
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}
