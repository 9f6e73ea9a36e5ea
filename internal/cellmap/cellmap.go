// Package cellmap maps query locations to H3 cells. Inputs are WGS84
// longitude/latitude degrees.
package cellmap

import (
	"errors"
	"fmt"
	"sort"

	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/spatial-query/internal/core/model"
)

// ErrOutOfRange is returned for coordinates outside lon/lat bounds.
var ErrOutOfRange = errors.New("coordinates outside lon/lat range")

type Mapper struct {
	res int
	// maxCells bounds polyfill output; larger coverings are coarsened.
	maxCells int
}

func New(res, maxCells int) (*Mapper, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	if maxCells <= 0 {
		maxCells = 256
	}
	return &Mapper{res: res, maxCells: maxCells}, nil
}

func (m *Mapper) Res() int { return m.res }

func (m *Mapper) CellForPoint(p model.Point) (string, error) {
	if !inRange(p) {
		return "", fmt.Errorf("%w: %v", ErrOutOfRange, p)
	}
	c, err := h3.LatLngToCell(h3.LatLng{Lat: p.Y, Lng: p.X}, m.res)
	if err != nil {
		return "", fmt.Errorf("h3 cell: %w", err)
	}
	return c.String(), nil
}

// CellsForRect covers r with cells. When the covering at the mapper's
// resolution exceeds the cell budget, coarser resolutions are tried.
func (m *Mapper) CellsForRect(r model.Rect) ([]string, error) {
	if !r.Valid() {
		return nil, errors.New("invalid rectangle")
	}
	if !inRange(model.Point{X: r.MinX, Y: r.MinY}) || !inRange(model.Point{X: r.MaxX, Y: r.MaxY}) {
		return nil, fmt.Errorf("%w: %v", ErrOutOfRange, r)
	}
	center := model.Point{X: (r.MinX + r.MaxX) / 2, Y: (r.MinY + r.MaxY) / 2}
	if r.Width() == 0 || r.Height() == 0 {
		c, err := m.CellForPoint(center)
		if err != nil {
			return nil, err
		}
		return []string{c}, nil
	}
	outer := h3.GeoLoop{
		{Lat: r.MinY, Lng: r.MinX},
		{Lat: r.MinY, Lng: r.MaxX},
		{Lat: r.MaxY, Lng: r.MaxX},
		{Lat: r.MaxY, Lng: r.MinX},
	}
	for res := m.res; res >= 0; res-- {
		cells, err := polyfillOne(outer, nil, res)
		if err != nil {
			return nil, err
		}
		if len(cells) > m.maxCells {
			continue
		}
		if len(cells) == 0 {
			// rectangle smaller than a cell
			c, err := h3.LatLngToCell(h3.LatLng{Lat: center.Y, Lng: center.X}, res)
			if err != nil {
				return nil, fmt.Errorf("h3 cell: %w", err)
			}
			return []string{c.String()}, nil
		}
		return cells, nil
	}
	return nil, fmt.Errorf("rectangle %v needs more than %d cells", r, m.maxCells)
}

// ToParent returns the ancestor of cell at parentRes.
func ToParent(cell string, parentRes int) (string, error) {
	if err := validateRes(parentRes); err != nil {
		return "", err
	}
	var c h3.Cell
	if err := c.UnmarshalText([]byte(cell)); err != nil {
		return "", fmt.Errorf("parse cell: %w", err)
	}
	if !c.IsValid() {
		return "", fmt.Errorf("invalid h3 cell %q", cell)
	}
	curRes := c.Resolution()
	if parentRes > curRes {
		return "", fmt.Errorf("parentRes %d must be <= cell resolution %d", parentRes, curRes)
	}
	if parentRes == curRes {
		return cell, nil
	}
	p, err := c.Parent(parentRes)
	if err != nil {
		return "", fmt.Errorf("h3 parent: %w", err)
	}
	return p.String(), nil
}

func validateRes(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return nil
}

func inRange(p model.Point) bool {
	return p.X >= -180 && p.X <= 180 && p.Y >= -90 && p.Y <= 90
}

// polyfillOne computes unique cells and returns them sorted for determinism.
func polyfillOne(outer h3.GeoLoop, holes []h3.GeoLoop, res int) ([]string, error) {
	poly := h3.GeoPolygon{
		GeoLoop: outer,
		Holes:   holes,
	}

	// v4 returns ([]h3.Cell, error)
	indexes, err := h3.PolygonToCells(poly, res)
	if err != nil {
		return nil, fmt.Errorf("h3 polyfill: %w", err)
	}

	out := make([]string, 0, len(indexes))
	seen := make(map[string]struct{}, len(indexes))
	for _, idx := range indexes {
		s := idx.String()
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}
