// Package mapfile loads map definitions written in YAML.
package mapfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mohammed-shakir/spatial-query/internal/core/model"
	"github.com/mohammed-shakir/spatial-query/internal/expr"
	"github.com/mohammed-shakir/spatial-query/internal/source/geojsonsource"
	"github.com/mohammed-shakir/spatial-query/internal/source/memsource"
)

var ErrInvalid = errors.New("invalid map definition")

type File struct {
	Name       string      `yaml:"name"`
	Extent     []float64   `yaml:"extent"` // minx, miny, maxx, maxy
	Size       []int       `yaml:"size"`   // width, height in pixels
	Units      string      `yaml:"units"`
	Scale      float64     `yaml:"scale"`
	Resolution float64     `yaml:"resolution"`
	Projection string      `yaml:"projection"`
	Symbols    []SymbolDef `yaml:"symbols"`
	Layers     []LayerDef  `yaml:"layers"`
}

type SymbolDef struct {
	Name   string      `yaml:"name"`
	Type   string      `yaml:"type"` // ellipse, vector
	Size   []float64   `yaml:"size"`
	Points [][]float64 `yaml:"points"`
	Filled bool        `yaml:"filled"`
	Anchor []float64   `yaml:"anchor"` // 0..1 of width and height, 0.5 0.5 is the center
}

type LayerDef struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Status     string `yaml:"status"`
	Template   string `yaml:"template"`
	ClassItem  string `yaml:"classitem"`
	ClassGroup string `yaml:"classgroup"`

	Identification struct {
		ClassGroup string `yaml:"classgroup"`
		Auto       bool   `yaml:"auto"`
	} `yaml:"identification"`

	Tolerance      *float64 `yaml:"tolerance"`
	ToleranceUnits string   `yaml:"toleranceunits"`
	MinFeatureSize *float64 `yaml:"minfeaturesize"`
	SizeUnits      string   `yaml:"sizeunits"`
	MinScale       float64  `yaml:"minscale"`
	MaxScale       float64  `yaml:"maxscale"`
	MinGeoWidth    float64  `yaml:"mingeowidth"`
	MaxGeoWidth    float64  `yaml:"maxgeowidth"`

	Filter     string    `yaml:"filter"`
	FilterItem string    `yaml:"filteritem"`
	Projection string    `yaml:"projection"`
	Connection string    `yaml:"connection"`
	Data       string    `yaml:"data"`
	Extent     []float64 `yaml:"extent"`

	MaxFeatures *int `yaml:"maxfeatures"`
	StartIndex  *int `yaml:"startindex"`
	Paging      bool `yaml:"paging"`

	Features []FeatureDef `yaml:"features"`
	Classes  []ClassDef   `yaml:"classes"`
}

// FeatureDef is an inline feature. Point features list their vertices in
// a single part.
type FeatureDef struct {
	Type   string            `yaml:"type"`
	Parts  [][][]float64     `yaml:"parts"`
	Values map[string]string `yaml:"values"`
}

type ClassDef struct {
	Name           string     `yaml:"name"`
	Group          string     `yaml:"group"`
	Expression     string     `yaml:"expression"`
	Template       string     `yaml:"template"`
	Status         string     `yaml:"status"`
	MinScale       float64    `yaml:"minscale"`
	MaxScale       float64    `yaml:"maxscale"`
	MinFeatureSize float64    `yaml:"minfeaturesize"`
	Fallback       bool       `yaml:"fallback"`
	Styles         []StyleDef `yaml:"styles"`
}

type StyleDef struct {
	Symbol      string  `yaml:"symbol"`
	Size        float64 `yaml:"size"`
	Angle       float64 `yaml:"angle"`
	ScaleFactor float64 `yaml:"scalefactor"`
	MinScale    float64 `yaml:"minscale"`
	MaxScale    float64 `yaml:"maxscale"`
}

// Load reads and builds the map at path. Relative layer data paths are
// resolved against the file's directory.
func Load(path string) (*model.Map, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read map %s: %w", path, err)
	}
	return Parse(data, filepath.Dir(path))
}

func Parse(data []byte, baseDir string) (*model.Map, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse map: %w", err)
	}
	return f.Build(baseDir)
}

func (f *File) Build(baseDir string) (*model.Map, error) {
	m := model.NewMap(f.Name)
	var err error
	if m.Extent, err = rect(f.Extent, "extent"); err != nil {
		return nil, err
	}
	if len(f.Size) != 2 || f.Size[0] <= 0 || f.Size[1] <= 0 {
		return nil, fmt.Errorf("%w: size must be [width, height]", ErrInvalid)
	}
	m.Width, m.Height = f.Size[0], f.Size[1]
	if f.Units != "" {
		if m.Units, err = model.ParseUnits(f.Units); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}
	if f.Scale > 0 {
		m.ScaleDenom = f.Scale
	}
	if f.Resolution > 0 {
		m.Resolution = f.Resolution
	}
	m.Projection = model.Projection(f.Projection)

	for _, sd := range f.Symbols {
		sym, err := sd.build()
		if err != nil {
			return nil, err
		}
		m.Symbols = append(m.Symbols, sym)
	}
	for _, ld := range f.Layers {
		l, err := ld.build(m, baseDir)
		if err != nil {
			return nil, fmt.Errorf("layer %q: %w", ld.Name, err)
		}
		m.AddLayer(l)
	}
	return m, nil
}

func rect(v []float64, field string) (model.Rect, error) {
	if len(v) == 0 {
		return model.InvalidRect, nil
	}
	if len(v) != 4 {
		return model.InvalidRect, fmt.Errorf("%w: %s needs 4 numbers", ErrInvalid, field)
	}
	return model.Rect{MinX: v[0], MinY: v[1], MaxX: v[2], MaxY: v[3]}, nil
}

func (sd SymbolDef) build() (*model.Symbol, error) {
	sym := &model.Symbol{Name: sd.Name, Filled: sd.Filled}
	switch strings.ToLower(sd.Type) {
	case "", "ellipse":
		sym.Type = model.SymbolEllipse
	case "vector":
		sym.Type = model.SymbolVector
	default:
		return nil, fmt.Errorf("%w: symbol %q has unknown type %q", ErrInvalid, sd.Name, sd.Type)
	}
	if len(sd.Size) == 2 {
		sym.SizeX, sym.SizeY = sd.Size[0], sd.Size[1]
	}
	if len(sd.Anchor) == 2 {
		sym.AnchorX, sym.AnchorY = sd.Anchor[0]-0.5, sd.Anchor[1]-0.5
	}
	for _, p := range sd.Points {
		if len(p) != 2 {
			return nil, fmt.Errorf("%w: symbol %q has a malformed point", ErrInvalid, sd.Name)
		}
		sym.Points = append(sym.Points, model.Point{X: p[0], Y: p[1]})
	}
	return sym, nil
}

var layerTypes = map[string]model.LayerType{
	"point":      model.LayerPoint,
	"line":       model.LayerLine,
	"polygon":    model.LayerPolygon,
	"raster":     model.LayerRaster,
	"annotation": model.LayerAnnotation,
	"query":      model.LayerQuery,
	"circle":     model.LayerCircle,
	"tileindex":  model.LayerTileIndex,
	"chart":      model.LayerChart,
}

var statuses = map[string]model.Status{
	"off":     model.StatusOff,
	"on":      model.StatusOn,
	"default": model.StatusDefault,
	"delete":  model.StatusDelete,
}

var connections = map[string]model.Connection{
	"inline":         model.ConnInline,
	"shapefile":      model.ConnShapefile,
	"tiledshapefile": model.ConnTiledShapefile,
	"flatgeobuf":     model.ConnFlatGeobuf,
	"postgis":        model.ConnPostGIS,
	"ogr":            model.ConnOGR,
	"wfs":            model.ConnWFS,
	"geojson":        model.ConnGeoJSON,
}

var shapeTypes = map[string]model.ShapeType{
	"point":   model.ShapePoint,
	"line":    model.ShapeLine,
	"polygon": model.ShapePolygon,
	"null":    model.ShapeNull,
}

func lookup[T any](table map[string]T, v, def, what string) (T, error) {
	if v == "" {
		v = def
	}
	out, ok := table[strings.ToLower(v)]
	if !ok {
		return out, fmt.Errorf("%w: unknown %s %q", ErrInvalid, what, v)
	}
	return out, nil
}

func units(v string) (model.Units, error) {
	if v == "" {
		return model.UnitsPixels, nil
	}
	u, err := model.ParseUnits(v)
	if err != nil {
		return u, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return u, nil
}

func (ld LayerDef) build(m *model.Map, baseDir string) (*model.Layer, error) {
	lt, err := lookup(layerTypes, ld.Type, "", "layer type")
	if err != nil {
		return nil, err
	}
	l := model.NewLayer(ld.Name, lt)
	if l.Status, err = lookup(statuses, ld.Status, "on", "status"); err != nil {
		return nil, err
	}
	if l.Connection, err = lookup(connections, ld.Connection, "inline", "connection"); err != nil {
		return nil, err
	}
	l.Template = ld.Template
	l.ClassItem = ld.ClassItem
	l.ClassGroup = ld.ClassGroup
	l.IdentificationClassGroup = ld.Identification.ClassGroup
	l.IdentificationClassAuto = ld.Identification.Auto
	if ld.Tolerance != nil {
		l.Tolerance = *ld.Tolerance
	}
	if l.ToleranceUnits, err = units(ld.ToleranceUnits); err != nil {
		return nil, err
	}
	if ld.MinFeatureSize != nil {
		l.MinFeatureSize = *ld.MinFeatureSize
	}
	if l.SizeUnits, err = units(ld.SizeUnits); err != nil {
		return nil, err
	}
	setPositive(&l.MinScaleDenom, ld.MinScale)
	setPositive(&l.MaxScaleDenom, ld.MaxScale)
	setPositive(&l.MinGeoWidth, ld.MinGeoWidth)
	setPositive(&l.MaxGeoWidth, ld.MaxGeoWidth)
	if ld.Filter != "" {
		l.Filter = expr.ParseExpression(ld.Filter)
	}
	l.FilterItem = ld.FilterItem
	l.Projection = model.Projection(ld.Projection)
	if l.Extent, err = rect(ld.Extent, "extent"); err != nil {
		return nil, err
	}
	if ld.MaxFeatures != nil {
		l.MaxFeatures = *ld.MaxFeatures
	}
	if ld.StartIndex != nil {
		l.StartIndex = *ld.StartIndex
	}

	for _, cd := range ld.Classes {
		c, err := cd.build(m)
		if err != nil {
			return nil, err
		}
		l.Classes = append(l.Classes, c)
	}

	var opts []memsource.Option
	if ld.Paging {
		opts = append(opts, memsource.WithPaging())
	}
	switch l.Connection {
	case model.ConnInline:
		shapes := make([]*model.Shape, 0, len(ld.Features))
		for i, fd := range ld.Features {
			s, err := fd.build()
			if err != nil {
				return nil, fmt.Errorf("feature %d: %w", i, err)
			}
			shapes = append(shapes, s)
		}
		l.Source = memsource.New(shapes, append(opts, memsource.WithCount())...)
	case model.ConnGeoJSON:
		if ld.Data == "" {
			return nil, fmt.Errorf("%w: geojson layer needs data", ErrInvalid)
		}
		path := ld.Data
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		if l.Source, err = geojsonsource.Open(path, opts...); err != nil {
			return nil, err
		}
	default:
		// other drivers are attached by the embedding program
	}
	return l, nil
}

func setPositive(dst *float64, v float64) {
	if v > 0 {
		*dst = v
	}
}

func (cd ClassDef) build(m *model.Map) (*model.Class, error) {
	st, err := lookup(statuses, cd.Status, "on", "class status")
	if err != nil {
		return nil, err
	}
	c := &model.Class{
		Name:           cd.Name,
		Group:          cd.Group,
		Template:       cd.Template,
		Status:         st,
		MinScaleDenom:  cd.MinScale,
		MaxScaleDenom:  cd.MaxScale,
		MinFeatureSize: cd.MinFeatureSize,
		IsFallback:     cd.Fallback,
	}
	if cd.Expression != "" {
		c.Expression = expr.ParseExpression(cd.Expression)
	}
	for _, sd := range cd.Styles {
		style := &model.Style{
			Size:          sd.Size,
			Angle:         sd.Angle,
			ScaleFactor:   sd.ScaleFactor,
			MinScaleDenom: sd.MinScale,
			MaxScaleDenom: sd.MaxScale,
		}
		if sd.Symbol != "" {
			if style.Symbol = m.SymbolIndex(sd.Symbol); style.Symbol < 0 {
				return nil, fmt.Errorf("%w: class %q references unknown symbol %q", ErrInvalid, cd.Name, sd.Symbol)
			}
		}
		c.Styles = append(c.Styles, style)
	}
	return c, nil
}

func (fd FeatureDef) build() (*model.Shape, error) {
	t, err := lookup(shapeTypes, fd.Type, "", "feature type")
	if err != nil {
		return nil, err
	}
	s := model.NewShape(t)
	for _, part := range fd.Parts {
		line := make(model.Line, 0, len(part))
		for _, p := range part {
			if len(p) != 2 {
				return nil, fmt.Errorf("%w: malformed vertex", ErrInvalid)
			}
			line = append(line, model.Point{X: p[0], Y: p[1]})
		}
		s.Lines = append(s.Lines, line)
	}
	s.Values = fd.Values
	s.ComputeBounds()
	return s, nil
}
