package model

import (
	"math"
	"strings"
)

type Status int

const (
	StatusOff Status = iota
	StatusOn
	StatusDefault
	StatusDelete
)

type LayerType int

const (
	LayerPoint LayerType = iota
	LayerLine
	LayerPolygon
	LayerRaster
	LayerAnnotation
	LayerQuery
	LayerCircle
	LayerTileIndex
	LayerChart
)

// Connection identifies the kind of driver behind a layer.
type Connection int

const (
	ConnInline Connection = iota
	ConnShapefile
	ConnTiledShapefile
	ConnFlatGeobuf
	ConnPostGIS
	ConnOGR
	ConnWFS
	ConnGeoJSON
)

// KeepsResultIndex reports whether the driver's record numbering is
// stable enough to keep ResultIndex on direct fetches.
func (c Connection) KeepsResultIndex() bool {
	return c == ConnShapefile || c == ConnTiledShapefile || c == ConnFlatGeobuf
}

// Projection is an EPSG style identifier. The empty string means the
// layer shares the map projection.
type Projection string

const (
	ProjWGS84       Projection = "EPSG:4326"
	ProjWebMercator Projection = "EPSG:3857"
)

// Differs mirrors the rule that an unset projection on either side never
// triggers reprojection.
func (p Projection) Differs(o Projection) bool {
	if p == "" || o == "" {
		return false
	}
	return !strings.EqualFold(string(p), string(o))
}

type ExpressionType int

const (
	ExprString ExpressionType = iota
	ExprRegex
	ExprLogical
	ExprNative
)

type Expression struct {
	Type        ExpressionType
	String      string
	Insensitive bool
}

func (e Expression) IsSet() bool { return e.String != "" }

type Symbol struct {
	Name    string
	Type    SymbolType
	SizeX   float64
	SizeY   float64
	Points  []Point
	Filled  bool
	// AnchorX and AnchorY shift the anchor away from the symbol center,
	// as a fraction of its width and height.
	AnchorX float64
	AnchorY float64
}

type SymbolType int

const (
	SymbolEllipse SymbolType = iota
	SymbolVector
)

type Style struct {
	Symbol        int
	Size          float64
	Angle         float64
	ScaleFactor   float64
	MinScaleDenom float64
	MaxScaleDenom float64
}

type Class struct {
	Name           string
	Group          string
	Expression     Expression
	Template       string
	Status         Status
	MinScaleDenom  float64
	MaxScaleDenom  float64
	MinFeatureSize float64
	IsFallback     bool
	Styles         []*Style
}

type Layer struct {
	Name   string
	Index  int
	Status Status
	Type   LayerType

	Template  string
	Classes   []*Class
	ClassItem string
	// ClassGroup restricts classification to classes of the same group.
	ClassGroup string

	IdentificationClassGroup string
	IdentificationClassAuto  bool

	Tolerance      float64
	ToleranceUnits Units
	MinFeatureSize float64
	SizeUnits      Units

	MinScaleDenom float64
	MaxScaleDenom float64
	MinGeoWidth   float64
	MaxGeoWidth   float64

	Filter     Expression
	FilterItem string

	Projection Projection
	Connection Connection
	Extent     Rect

	MaxFeatures int
	StartIndex  int

	Source      ShapeSource
	ResultCache *ResultCache
}

// NewLayer returns a layer with every optional knob unset.
func NewLayer(name string, t LayerType) *Layer {
	return &Layer{
		Name:           name,
		Status:         StatusOn,
		Type:           t,
		Tolerance:      -1,
		ToleranceUnits: UnitsPixels,
		MinFeatureSize: -1,
		SizeUnits:      UnitsPixels,
		MinScaleDenom:  -1,
		MaxScaleDenom:  -1,
		MinGeoWidth:    -1,
		MaxGeoWidth:    -1,
		Extent:         InvalidRect,
		MaxFeatures:    -1,
		StartIndex:     -1,
	}
}

// Queryable is false for tile index layers and for layers without any
// template on the layer or its classes.
func (l *Layer) Queryable() bool {
	if l.Type == LayerTileIndex {
		return false
	}
	if l.Template != "" {
		return true
	}
	for _, c := range l.Classes {
		if c.Template != "" {
			return true
		}
	}
	return false
}

func (l *Layer) SetResultCache(rc *ResultCache) {
	if l.ResultCache != nil && l.ResultCache != rc {
		l.ResultCache.Cleanup()
	}
	l.ResultCache = rc
}

func (l *Layer) ClearResultCache() { l.SetResultCache(nil) }

// ValidClassGroup returns the indexes of classes whose group matches
// group, case-insensitively. Nil means every class is a candidate.
func (l *Layer) ValidClassGroup(group string) []int {
	if group == "" || len(l.Classes) == 0 {
		return nil
	}
	var out []int
	for i, c := range l.Classes {
		if c.Group != "" && strings.EqualFold(c.Group, group) {
			out = append(out, i)
		}
	}
	return out
}

type Map struct {
	Name          string
	Extent        Rect
	Width         int
	Height        int
	Units         Units
	ScaleDenom    float64
	Resolution    float64
	DefResolution float64
	Projection    Projection
	// Symbols[0] is the reserved default symbol and never used for queries.
	Symbols []*Symbol
	Layers  []*Layer
}

func NewMap(name string) *Map {
	return &Map{
		Name:          name,
		Extent:        InvalidRect,
		Units:         UnitsMeters,
		ScaleDenom:    -1,
		Resolution:    72,
		DefResolution: 72,
		Symbols:       []*Symbol{{Name: "default"}},
	}
}

// AddLayer appends l and assigns its index.
func (m *Map) AddLayer(l *Layer) *Layer {
	l.Index = len(m.Layers)
	m.Layers = append(m.Layers, l)
	return l
}

func (m *Map) Layer(i int) (*Layer, bool) {
	if i < 0 || i >= len(m.Layers) {
		return nil, false
	}
	return m.Layers[i], true
}

func (m *Map) LayerByName(name string) (*Layer, bool) {
	for _, l := range m.Layers {
		if strings.EqualFold(l.Name, name) {
			return l, true
		}
	}
	return nil, false
}

func (m *Map) SymbolIndex(name string) int {
	for i, s := range m.Symbols {
		if i > 0 && strings.EqualFold(s.Name, name) {
			return i
		}
	}
	return -1
}

func cellSize(min, max float64, d int) float64 {
	if d <= 1 {
		return max - min
	}
	return (max - min) / float64(d-1)
}

// CellSizes returns the ground size of one pixel along each axis.
func (m *Map) CellSizes() (float64, float64) {
	return cellSize(m.Extent.MinX, m.Extent.MaxX, m.Width), cellSize(m.Extent.MinY, m.Extent.MaxY, m.Height)
}

// CellSize is the larger of the two axis cell sizes.
func (m *Map) CellSize() float64 {
	cx, cy := m.CellSizes()
	return math.Max(cx, cy)
}

func (m *Map) ResolutionFactor() float64 {
	if m.DefResolution <= 0 {
		return 1
	}
	return m.Resolution / m.DefResolution
}

// ScaleInBounds reports whether the map scale falls inside (min, max].
// Unset bounds and an unset map scale always pass.
func (m *Map) ScaleInBounds(min, max float64) bool {
	if m.ScaleDenom <= 0 {
		return true
	}
	if max > 0 && m.ScaleDenom > max {
		return false
	}
	if min > 0 && m.ScaleDenom <= min {
		return false
	}
	return true
}

// PixelsToGround converts a size expressed in the layer's size units to
// map ground units.
func (m *Map) PixelsToGround(l *Layer, v float64) float64 {
	cx, cy := m.CellSizes()
	g := v * math.Max(cx, cy) * m.ResolutionFactor()
	if l.SizeUnits != UnitsPixels {
		g *= InchesPerUnit(m.Units) / InchesPerUnit(l.SizeUnits)
	}
	return g
}

// QueryResultBounds returns the union of result bounds over every layer
// holding results and how many layers contributed.
func (m *Map) QueryResultBounds() (Rect, int) {
	var out Rect
	found := 0
	for _, l := range m.Layers {
		rc := l.ResultCache
		if rc == nil || rc.NumResults() == 0 {
			continue
		}
		if found == 0 {
			out = rc.Bounds
		} else {
			out = out.Union(rc.Bounds)
		}
		found++
	}
	if found == 0 {
		return InvalidRect, 0
	}
	return out, found
}

// FreeQuery drops the result cache of one layer, or of every layer when
// layer is negative.
func (m *Map) FreeQuery(layer int) {
	for i, l := range m.Layers {
		if layer < 0 || layer == i {
			l.ClearResultCache()
		}
	}
}
