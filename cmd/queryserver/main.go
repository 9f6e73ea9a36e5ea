package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mohammed-shakir/spatial-query/internal/cache/redisstore"
	"github.com/mohammed-shakir/spatial-query/internal/cellmap"
	"github.com/mohammed-shakir/spatial-query/internal/core/config"
	"github.com/mohammed-shakir/spatial-query/internal/core/health"
	"github.com/mohammed-shakir/spatial-query/internal/core/server"
	"github.com/mohammed-shakir/spatial-query/internal/hotness"
	"github.com/mohammed-shakir/spatial-query/internal/logger"
	"github.com/mohammed-shakir/spatial-query/internal/mapfile"
	"github.com/mohammed-shakir/spatial-query/internal/metrics"
	"github.com/mohammed-shakir/spatial-query/internal/query"
	"github.com/mohammed-shakir/spatial-query/internal/query/qyfile"
	"github.com/mohammed-shakir/spatial-query/internal/queryevents"
	"github.com/mohammed-shakir/spatial-query/internal/service"
	"github.com/mohammed-shakir/spatial-query/internal/symbol"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func run() int {
	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   strings.ToLower(os.Getenv("LOG_CONSOLE")) == "true",
		SampleN:   envInt("LOG_SAMPLE_N", 0),
		Component: "queryserver",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	m, err := mapfile.Load(cfg.MapFile)
	if err != nil {
		appLog.Error("failed to load map", "file", cfg.MapFile, "err", err)
		return 1
	}

	prov := metrics.Init(metrics.Config{
		Enabled: cfg.MetricsEnabled,
		Path:    os.Getenv("METRICS_PATH"),
		Map:     m.Name,
		Build: metrics.BuildInfo{
			Version:   Version,
			Revision:  os.Getenv("BUILD_REVISION"),
			Branch:    os.Getenv("BUILD_BRANCH"),
			BuildDate: os.Getenv("BUILD_DATE"),
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ready := map[string]health.Check{}
	store, closeStore, err := openStore(ctx, cfg, m.Name, ready)
	if err != nil {
		appLog.Error("failed to open query store", "driver", cfg.Store.Driver, "err", err)
		return 1
	}
	defer closeStore()

	opts := service.Options{
		Cache: query.CacheOptions{
			Shapes:        cfg.Query.CacheShapes,
			MaxShapeCount: cfg.Query.MaxCachedShapes,
			MaxShapeRAM:   cfg.Query.MaxCachedRAM,
		},
		Timeout: cfg.Query.Timeout,
	}
	if cfg.Events.Enabled || cfg.Events.HotHalfLife > 0 {
		cells, err := cellmap.New(cfg.Events.H3Res, 0)
		if err != nil {
			appLog.Error("invalid event resolution", "res", cfg.Events.H3Res, "err", err)
			return 1
		}
		opts.Builder = queryevents.NewBuilder(cells, appLog)
	}
	if cfg.Events.HotHalfLife > 0 {
		hot := hotness.New(cfg.Events.HotHalfLife)
		opts.Hotness = hot
		prov.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "spatial_hot_cells",
			Help: "H3 cells currently tracked for query hotness.",
		}, func() float64 { return float64(hot.Size()) }))
	}
	if cfg.Events.Enabled {
		pub, err := queryevents.NewPublisher(cfg.Events.BrokerList(), cfg.Events.Topic, 1024, appLog)
		if err != nil {
			appLog.Error("failed to start event publisher", "brokers", cfg.Events.Brokers, "err", err)
			return 1
		}
		defer func() { _ = pub.Close() }()
		opts.Events = pub
	}

	engine := query.New(appLog, query.WithRenderer(symbol.New()))
	svc := service.New(m, engine, store, opts, appLog)

	appLog.Info("starting query server",
		"addr", cfg.Addr,
		"version", Version,
		"map", m.Name,
		"layers", len(m.Layers),
		"store", cfg.Store.Driver)

	handler := server.NewRouter(appLog, svc, server.Routes{
		MetricsPath: prov.Path(),
		Metrics:     prov.Handler(),
		Ready:       ready,
	})
	if err := server.Run(ctx, cfg, appLog, handler); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

func openStore(ctx context.Context, cfg config.Config, mapName string, ready map[string]health.Check) (qyfile.Store, func(), error) {
	switch cfg.Store.Driver {
	case "", "dir":
		if err := os.MkdirAll(cfg.Store.Dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create %s: %w", cfg.Store.Dir, err)
		}
		dir := cfg.Store.Dir
		ready["store"] = func(context.Context) error {
			_, err := os.Stat(dir)
			return err
		}
		return qyfile.DirStore{Dir: dir}, func() {}, nil
	case "redis":
		rc, err := redisstore.New(ctx, cfg.Store.RedisAddr,
			redisstore.WithReadTimeout(cfg.Store.OpTimeout),
			redisstore.WithWriteTimeout(cfg.Store.OpTimeout),
		)
		if err != nil {
			return nil, nil, err
		}
		ready["redis"] = rc.Ping
		return qyfile.NewRedisStore(rc, mapName, cfg.Store.TTL), func() { _ = rc.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown query store %q", cfg.Store.Driver)
	}
}
