package qyfile

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/spatial-query/internal/core/model"
	"github.com/mohammed-shakir/spatial-query/internal/expr"
	"github.com/mohammed-shakir/spatial-query/internal/query"
)

const nullToken = "NULL"

// flatParams mirrors the line layout of a params file. Every predicate
// writes all fields; the ones it does not use keep their defaults.
type flatParams struct {
	mode, kind, layer, slayer int
	point                     model.Point
	buffer                    float64
	maxResults                int
	rect                      model.Rect
	shapeIndex                int64
	tileIndex                 int
	clear                     bool
	filterItem                string
	filter                    model.Expression
	shape                     *model.Shape
}

func defaultParams() flatParams {
	return flatParams{
		mode:       int(query.ModeSingle),
		kind:       int(query.KindUnset),
		layer:      -1,
		slayer:     -1,
		point:      model.Point{X: -1, Y: -1},
		rect:       model.InvalidRect,
		shapeIndex: -1,
		tileIndex:  -1,
		clear:      true,
	}
}

func flatten(spec query.Spec) flatParams {
	p := defaultParams()
	p.mode = int(spec.Mode)
	p.kind = int(spec.Kind())
	p.layer = spec.Layer
	p.slayer = spec.SelectionLayer

	switch q := spec.Predicate.(type) {
	case query.PointQuery:
		p.point, p.buffer, p.maxResults = q.Point, q.Buffer, q.MaxResults
	case query.RectQuery:
		p.rect = q.Rect
	case query.ShapeQuery:
		p.shape = q.Shape
	case query.FilterQuery:
		p.filterItem, p.filter, p.rect = q.Item, q.Filter, q.Rect
	case query.IndexQuery:
		p.shapeIndex, p.tileIndex, p.clear = q.ShapeIndex, q.TileIndex, q.ClearResultCache
	}
	return p
}

// spec rebuilds the query. Unknown or unsupported type codes produce a
// spec without predicate, which the engine rejects as malformed.
func (p flatParams) spec() query.Spec {
	var pred query.Predicate
	switch query.Kind(p.kind) {
	case query.KindPoint:
		pred = query.PointQuery{Point: p.point, Buffer: p.buffer, MaxResults: p.maxResults}
	case query.KindRect:
		pred = query.RectQuery{Rect: p.rect}
	case query.KindShape:
		pred = query.ShapeQuery{Shape: p.shape}
	case query.KindFilter:
		pred = query.FilterQuery{Item: p.filterItem, Filter: p.filter, Rect: p.rect}
	case query.KindIndex:
		pred = query.IndexQuery{ShapeIndex: p.shapeIndex, TileIndex: p.tileIndex, ClearResultCache: p.clear}
	}
	s := query.NewSpec(pred)
	s.Mode = query.Mode(p.mode)
	s.Layer = p.layer
	s.SelectionLayer = p.slayer
	return s
}

func g15(v float64) string { return strconv.FormatFloat(v, 'g', 15, 64) }

// WriteParams writes spec in the params layout.
func WriteParams(w io.Writer, spec query.Spec) error {
	p := flatten(spec)
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "%s - Generated by %s\n", ParamsMagic, generator)
	fmt.Fprintf(bw, "%d %d %d %d\n", p.mode, p.kind, p.layer, p.slayer)
	fmt.Fprintf(bw, "%s %s %s %d\n", g15(p.point.X), g15(p.point.Y),
		strconv.FormatFloat(p.buffer, 'g', -1, 64), p.maxResults)
	fmt.Fprintf(bw, "%s %s %s %s\n", g15(p.rect.MinX), g15(p.rect.MinY), g15(p.rect.MaxX), g15(p.rect.MaxY))
	clearCache := 0
	if p.clear {
		clearCache = 1
	}
	fmt.Fprintf(bw, "%d %d %d\n", p.shapeIndex, p.tileIndex, clearCache)

	item := p.filterItem
	if item == "" {
		item = nullToken
	}
	fmt.Fprintln(bw, item)
	filter := nullToken
	if p.filter.IsSet() {
		filter = expr.FormatExpression(p.filter)
	}
	fmt.Fprintln(bw, filter)

	if p.shape == nil {
		fmt.Fprintf(bw, "%d\n", model.ShapeNull)
	} else {
		fmt.Fprintf(bw, "%d\n%d\n", p.shape.Type, len(p.shape.Lines))
		for _, ln := range p.shape.Lines {
			fmt.Fprintf(bw, "%d\n", len(ln))
			for _, pt := range ln {
				fmt.Fprintf(bw, "%s %s\n", g15(pt.X), g15(pt.Y))
			}
		}
	}
	return bw.Flush()
}

func parseErr(line int, err error) error {
	if err != nil {
		return fmt.Errorf("%w line %d: %w", ErrParse, line, err)
	}
	return fmt.Errorf("%w line %d", ErrParse, line)
}

// readParams parses the lines following the magic header. Anything after
// the shape dump is ignored.
func readParams(r *bufio.Reader) (query.Spec, error) {
	p := defaultParams()
	sc := bufio.NewScanner(r)

	lineno := 1
	next := func() (string, bool) {
		if !sc.Scan() {
			return "", false
		}
		lineno++
		return strings.TrimRight(sc.Text(), "\r"), true
	}

	for lineno < 8 {
		text, ok := next()
		if !ok {
			if err := sc.Err(); err != nil {
				return query.Spec{}, parseErr(lineno+1, err)
			}
			return query.Spec{}, parseErr(lineno+1, io.ErrUnexpectedEOF)
		}
		var err error
		switch lineno {
		case 2:
			err = scanFields(text, &p.mode, &p.kind, &p.layer, &p.slayer)
		case 3:
			err = scanFields(text, &p.point.X, &p.point.Y, &p.buffer, &p.maxResults)
		case 4:
			err = scanFields(text, &p.rect.MinX, &p.rect.MinY, &p.rect.MaxX, &p.rect.MaxY)
		case 5:
			var clearCache int
			err = scanFields(text, &p.shapeIndex, &p.tileIndex, &clearCache)
			p.clear = clearCache != 0
		case 6:
			if text != nullToken {
				p.filterItem = text
			}
		case 7:
			if text != nullToken {
				p.filter = expr.ParseExpression(text)
			}
		case 8:
			var st int
			if err = scanFields(text, &st); err == nil && model.ShapeType(st) != model.ShapeNull {
				p.shape, err = readShape(next, model.ShapeType(st))
			}
		}
		if err != nil {
			return query.Spec{}, parseErr(lineno, err)
		}
	}
	return p.spec(), nil
}

func readShape(next func() (string, bool), t model.ShapeType) (*model.Shape, error) {
	if t < model.ShapePoint || t > model.ShapePolygon {
		return nil, fmt.Errorf("unknown shape type %d", t)
	}
	count := func() (int, error) {
		text, ok := next()
		if !ok {
			return 0, io.ErrUnexpectedEOF
		}
		var n int
		if err := scanFields(text, &n); err != nil {
			return 0, err
		}
		if n < 0 {
			return 0, fmt.Errorf("negative count %d", n)
		}
		return n, nil
	}

	s := model.NewShape(t)
	numLines, err := count()
	if err != nil {
		return nil, err
	}
	for range numLines {
		numPoints, err := count()
		if err != nil {
			return nil, err
		}
		ln := make(model.Line, 0, min(numPoints, 1024))
		for range numPoints {
			text, ok := next()
			if !ok {
				return nil, io.ErrUnexpectedEOF
			}
			var pt model.Point
			if err := scanFields(text, &pt.X, &pt.Y); err != nil {
				return nil, err
			}
			ln = append(ln, pt)
		}
		s.Lines = append(s.Lines, ln)
	}
	s.ComputeBounds()
	return s, nil
}

// scanFields parses the whitespace separated fields of text into dst,
// which must hold *int, *int64 or *float64. Extra fields are ignored.
func scanFields(text string, dst ...any) error {
	fields := strings.Fields(text)
	if len(fields) < len(dst) {
		return fmt.Errorf("want %d values, got %d", len(dst), len(fields))
	}
	for i, d := range dst {
		var err error
		switch v := d.(type) {
		case *int:
			*v, err = strconv.Atoi(fields[i])
		case *int64:
			*v, err = strconv.ParseInt(fields[i], 10, 64)
		case *float64:
			*v, err = strconv.ParseFloat(fields[i], 64)
		default:
			err = fmt.Errorf("unsupported target %T", d)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
