// Package qyfile saves and loads queries as .qy files. A params file
// records the query itself and is replayed through the engine on load; a
// results file records the result caches and is installed as is.
package qyfile

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/mohammed-shakir/spatial-query/internal/core/model"
	"github.com/mohammed-shakir/spatial-query/internal/core/observability"
	"github.com/mohammed-shakir/spatial-query/internal/logger"
	"github.com/mohammed-shakir/spatial-query/internal/query"
)

const (
	ParamsMagic  = "Spatial Query Params"
	ResultsMagic = "Spatial Query Results"

	generator = "spatial-query"
)

var (
	ErrNotQueryFile = errors.New("not a valid query file")
	ErrParse        = errors.New("parse error")
)

var extension = regexp.MustCompile(`\.qy$`)

// Variant tells which kind of file was saved or loaded.
type Variant int

const (
	VariantParams Variant = iota
	VariantResults
)

func (v Variant) String() string {
	if v == VariantResults {
		return "results"
	}
	return "params"
}

// CheckName rejects names without the .qy extension.
func CheckName(name string) error {
	if !extension.MatchString(name) {
		return fmt.Errorf("%w: %s has incorrect file extension", ErrNotQueryFile, name)
	}
	return nil
}

// Executor runs a replayed query.
type Executor interface {
	Execute(ctx context.Context, m *model.Map, spec query.Spec) error
}

type Manager struct {
	store Store
	exec  Executor
	log   *slog.Logger
}

func NewManager(store Store, exec Executor, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Manager{store: store, exec: exec, log: log}
}

// Save writes either spec or the current result caches of m under name.
func (mg *Manager) Save(ctx context.Context, m *model.Map, spec query.Spec, name string, v Variant) (err error) {
	start := time.Now()
	defer func() { observability.ObservePersist(v.String(), "save", err, time.Since(start).Seconds()) }()

	if err := CheckName(name); err != nil {
		return err
	}
	var buf bytes.Buffer
	if v == VariantResults {
		err = WriteResults(&buf, m)
	} else {
		err = WriteParams(&buf, spec)
	}
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if err := mg.store.Put(ctx, name, buf.Bytes()); err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	mg.log.LogAttrs(logger.WithQueryFile(logger.WithComponent(ctx, "qyfile"), name), slog.LevelDebug, "query saved",
		slog.String("variant", v.String()), slog.Int("bytes", buf.Len()))
	return nil
}

// Delete removes the file stored under name.
func (mg *Manager) Delete(ctx context.Context, name string) (err error) {
	start := time.Now()
	defer func() { observability.ObservePersist("file", "delete", err, time.Since(start).Seconds()) }()

	if err := CheckName(name); err != nil {
		return err
	}
	if err := mg.store.Delete(ctx, name); err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	mg.log.LogAttrs(logger.WithQueryFile(logger.WithComponent(ctx, "qyfile"), name), slog.LevelDebug, "query deleted")
	return nil
}

// LoadResult describes what Load did.
type LoadResult struct {
	Variant Variant
	// Spec is the replayed query of a params file.
	Spec query.Spec
}

// Load reads name and applies it to m. A params file is replayed through
// the executor with base's paging, count and cache settings; its layer
// and selection layer are switched on first. A results file replaces the
// result caches of the layers it lists, or changes nothing on error.
func (mg *Manager) Load(ctx context.Context, m *model.Map, name string, base query.Spec) (res LoadResult, err error) {
	start := time.Now()
	defer func() { observability.ObservePersist(res.Variant.String(), "load", err, time.Since(start).Seconds()) }()

	if err := CheckName(name); err != nil {
		return res, err
	}
	data, err := mg.store.Get(ctx, name)
	if err != nil {
		return res, fmt.Errorf("load %s: %w", name, err)
	}

	br := bufio.NewReader(bytes.NewReader(data))
	header, err := br.ReadString('\n')
	if err != nil && header == "" {
		return res, fmt.Errorf("%w: %s is empty", ErrNotQueryFile, name)
	}

	switch {
	case hasPrefixFold(header, ResultsMagic):
		res.Variant = VariantResults
		caches, err := readResults(br, m, int64(len(data)-len(header)))
		if err != nil {
			return res, fmt.Errorf("load %s: %w", name, err)
		}
		apply(m, caches)
		mg.log.LogAttrs(logger.WithQueryFile(logger.WithComponent(ctx, "qyfile"), name), slog.LevelDebug, "results restored",
			slog.Int("layers", len(caches)))
		return res, nil

	case hasPrefixFold(header, ParamsMagic):
		res.Variant = VariantParams
		spec, err := readParams(br)
		if err != nil {
			return res, fmt.Errorf("load %s: %w", name, err)
		}
		spec.MaxFeatures = base.MaxFeatures
		spec.StartIndex = base.StartIndex
		spec.OnlyCount = base.OnlyCount
		spec.Cache = base.Cache
		spec.StyleNames = base.StyleNames
		res.Spec = spec

		for _, i := range []int{spec.Layer, spec.SelectionLayer} {
			if l, ok := m.Layer(i); ok {
				l.Status = model.StatusOn
			}
		}
		if err := mg.exec.Execute(logger.WithQueryFile(ctx, name), m, spec); err != nil {
			return res, fmt.Errorf("replay %s: %w", name, err)
		}
		return res, nil

	default:
		return res, fmt.Errorf("%w: missing magic string in %s", ErrNotQueryFile, name)
	}
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
