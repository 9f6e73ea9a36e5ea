package qyfile

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/mohammed-shakir/spatial-query/internal/core/model"
)

// Results files store fixed-size records in host byte order; they are
// meant to be read back on the machine that wrote them.
var order = binary.NativeEndian

type layerHeader struct {
	Index      int32
	NumResults int32
	MinX       float64
	MinY       float64
	MaxX       float64
	MaxY       float64
}

type record struct {
	ShapeIndex  int64
	TileIndex   int32
	ResultIndex int32
	ClassIndex  int32
	_           int32
}

var recordSize = binary.Size(record{})

// WriteResults writes the result cache of every layer that has one,
// including empty caches. Count-only caches hold no records and are
// written with zero results.
func WriteResults(w io.Writer, m *model.Map) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%s - Generated by %s\n", ResultsMagic, generator)

	var layers []*model.Layer
	for _, l := range m.Layers {
		if l.ResultCache != nil {
			layers = append(layers, l)
		}
	}
	if err := binary.Write(bw, order, int32(len(layers))); err != nil {
		return err
	}
	for _, l := range layers {
		rc := l.ResultCache
		b := rc.Bounds
		h := layerHeader{
			Index: int32(l.Index), NumResults: int32(len(rc.Results)),
			MinX: b.MinX, MinY: b.MinY, MaxX: b.MaxX, MaxY: b.MaxY,
		}
		if err := binary.Write(bw, order, h); err != nil {
			return err
		}
		recs := make([]record, len(rc.Results))
		for i, r := range rc.Results {
			recs[i] = record{
				ShapeIndex:  r.ShapeIndex,
				TileIndex:   int32(r.TileIndex),
				ResultIndex: int32(r.ResultIndex),
				ClassIndex:  int32(r.ClassIndex),
			}
		}
		if err := binary.Write(bw, order, recs); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// readResults decodes the body following the magic header. size bounds
// the record counts so a corrupt count cannot force a huge allocation;
// pass a negative size when it is unknown.
func readResults(r io.Reader, m *model.Map, size int64) (map[int]*model.ResultCache, error) {
	var n int32
	if err := binary.Read(r, order, &n); err != nil {
		return nil, readErr("layer count", err)
	}
	if n < 0 || int(n) > len(m.Layers) {
		return nil, fmt.Errorf("%w: invalid number of layers %d", ErrParse, n)
	}

	out := make(map[int]*model.ResultCache, n)
	for range n {
		var h layerHeader
		if err := binary.Read(r, order, &h); err != nil {
			return nil, readErr("layer header", err)
		}
		j := int(h.Index)
		if j < 0 || j >= len(m.Layers) {
			return nil, fmt.Errorf("%w: invalid layer index %d", ErrParse, j)
		}
		if _, dup := out[j]; dup {
			return nil, fmt.Errorf("%w: layer %d listed twice", ErrParse, j)
		}
		if h.NumResults < 0 {
			return nil, fmt.Errorf("%w: invalid number of results %d", ErrParse, h.NumResults)
		}
		if h.NumResults > math.MaxInt32/int32(recordSize) ||
			(size >= 0 && int64(h.NumResults)*int64(recordSize) > size) {
			return nil, fmt.Errorf("%w: result count %d exceeds file size", ErrParse, h.NumResults)
		}

		recs := make([]record, h.NumResults)
		if err := binary.Read(r, order, recs); err != nil {
			return nil, readErr("records", err)
		}

		tiled := m.Layers[j].Connection == model.ConnTiledShapefile
		rc := model.NewResultCache()
		rc.Bounds = model.Rect{MinX: h.MinX, MinY: h.MinY, MaxX: h.MaxX, MaxY: h.MaxY}
		rc.Results = make([]model.Result, len(recs))
		for i, rec := range recs {
			res := model.Result{
				ShapeIndex:  rec.ShapeIndex,
				TileIndex:   int(rec.TileIndex),
				ResultIndex: -1,
				ClassIndex:  int(rec.ClassIndex),
			}
			if !tiled {
				res.TileIndex = -1
			}
			rc.Results[i] = res
		}
		out[j] = rc
	}
	return out, nil
}

func readErr(what string, err error) error {
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("%w: reading %s: %w", ErrParse, what, err)
}

// apply installs decoded caches. Nothing is touched when decoding failed.
func apply(m *model.Map, caches map[int]*model.ResultCache) {
	for j, rc := range caches {
		m.Layers[j].SetResultCache(rc)
	}
}
