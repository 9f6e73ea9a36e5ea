package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type QueryCfg struct {
	// CacheShapes copies accepted shapes into result caches.
	CacheShapes     bool
	MaxCachedShapes int
	MaxCachedRAM    int
	Timeout         time.Duration
}

type StoreCfg struct {
	// Driver is "dir" or "redis".
	Driver    string
	Dir       string
	RedisAddr string
	TTL       time.Duration
	OpTimeout time.Duration
}

// EventsCfg also sets the cell resolution used by the hot cell tracker.
type EventsCfg struct {
	Enabled bool
	Brokers string
	Topic   string
	H3Res   int

	// HotHalfLife of 0 disables hot cell tracking.
	HotHalfLife time.Duration
}

type Config struct {
	Addr           string
	LogLevel       string
	MapFile        string
	MetricsEnabled bool
	Query          QueryCfg
	Store          StoreCfg
	Events         EventsCfg
}

func FromEnv() Config {
	res := getint("EVENTS_H3_RES", 8)
	if res < 0 {
		res = 0
	}
	if res > 15 {
		res = 15
	}

	return Config{
		Addr:           getenv("ADDR", ":8090"),
		LogLevel:       getenv("LOG_LEVEL", "info"),
		MapFile:        getenv("MAP_FILE", "map.yaml"),
		MetricsEnabled: getbool("METRICS_ENABLED", true),
		Query: QueryCfg{
			CacheShapes:     getbool("QUERY_CACHE_SHAPES", false),
			MaxCachedShapes: getint("QUERY_MAX_CACHED_SHAPES", 0),
			MaxCachedRAM:    getint("QUERY_MAX_CACHED_RAM", 0),
			Timeout:         getduration("QUERY_TIMEOUT", 10*time.Second),
		},
		Store: StoreCfg{
			Driver:    strings.ToLower(getenv("QUERY_STORE", "dir")),
			Dir:       getenv("QUERY_DIR", "queries"),
			RedisAddr: getenv("REDIS_ADDR", "localhost:6379"),
			TTL:       getduration("QUERY_TTL", 24*time.Hour),
			OpTimeout: getduration("QUERY_STORE_TIMEOUT", 250*time.Millisecond),
		},
		Events: EventsCfg{
			Enabled: getbool("EVENTS_ENABLED", false),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			Topic:   getenv("KAFKA_TOPIC", "spatial-queries"),
			H3Res:   res,

			HotHalfLife: getduration("HOT_HALF_LIFE", 5*time.Minute),
		},
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// BrokerList splits a comma separated broker list.
func (e EventsCfg) BrokerList() []string {
	var out []string
	for b := range strings.SplitSeq(e.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
