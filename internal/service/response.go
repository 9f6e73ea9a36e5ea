package service

import (
	"github.com/mohammed-shakir/spatial-query/internal/core/model"
	"github.com/mohammed-shakir/spatial-query/internal/query"
)

type Record struct {
	ShapeIndex  int64 `json:"shape_index"`
	TileIndex   int   `json:"tile_index"`
	ResultIndex int   `json:"result_index"`
	ClassIndex  int   `json:"class_index"`
}

type LayerResult struct {
	Index      int       `json:"index"`
	Name       string    `json:"name"`
	NumResults int       `json:"num_results"`
	Bounds     []float64 `json:"bounds,omitempty"`
	Records    []Record  `json:"records,omitempty"`
	HasNext    bool      `json:"has_next,omitempty"`
	CountOnly  bool      `json:"count_only,omitempty"`
}

type Response struct {
	Type   string        `json:"type,omitempty"`
	Total  int           `json:"total"`
	Bounds []float64     `json:"bounds,omitempty"`
	Layers []LayerResult `json:"layers"`
}

func rectSlice(r model.Rect) []float64 {
	if !r.Valid() {
		return nil
	}
	return []float64{r.MinX, r.MinY, r.MaxX, r.MaxY}
}

// responseLocked reports every layer holding a result cache, top layer
// first.
func (s *Service) responseLocked(kind query.Kind) Response {
	resp := Response{Layers: []LayerResult{}}
	if kind != query.KindUnset {
		resp.Type = kind.String()
	}
	for i := len(s.m.Layers) - 1; i >= 0; i-- {
		l := s.m.Layers[i]
		rc := l.ResultCache
		if rc == nil {
			continue
		}
		lr := LayerResult{
			Index:      l.Index,
			Name:       l.Name,
			NumResults: rc.NumResults(),
			Bounds:     rectSlice(rc.Bounds),
			HasNext:    rc.HasNext,
			CountOnly:  rc.CountOnly(),
		}
		for _, r := range rc.Results {
			lr.Records = append(lr.Records, Record{
				ShapeIndex:  r.ShapeIndex,
				TileIndex:   r.TileIndex,
				ResultIndex: r.ResultIndex,
				ClassIndex:  r.ClassIndex,
			})
		}
		resp.Total += lr.NumResults
		resp.Layers = append(resp.Layers, lr)
	}
	b, _ := s.m.QueryResultBounds()
	resp.Bounds = rectSlice(b)
	return resp
}
