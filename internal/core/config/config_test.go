package config

import (
	"slices"
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{"ADDR", "QUERY_STORE", "QUERY_TTL", "EVENTS_H3_RES", "METRICS_ENABLED", "HOT_HALF_LIFE"} {
		t.Setenv(k, "")
	}
	c := FromEnv()
	if c.Addr != ":8090" || c.Store.Driver != "dir" || c.Store.TTL != 24*time.Hour {
		t.Fatalf("unexpected defaults: %+v", c)
	}
	if !c.MetricsEnabled || c.Events.H3Res != 8 || c.Events.HotHalfLife != 5*time.Minute {
		t.Fatalf("unexpected defaults: %+v", c)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("QUERY_STORE", "Redis")
	t.Setenv("QUERY_TTL", "90s")
	t.Setenv("QUERY_CACHE_SHAPES", "yes")
	t.Setenv("QUERY_MAX_CACHED_SHAPES", "50")
	t.Setenv("EVENTS_H3_RES", "22")
	t.Setenv("METRICS_ENABLED", "0")
	t.Setenv("QUERY_TIMEOUT", "not-a-duration")

	c := FromEnv()
	if c.Store.Driver != "redis" || c.Store.TTL != 90*time.Second {
		t.Fatalf("store=%+v", c.Store)
	}
	if !c.Query.CacheShapes || c.Query.MaxCachedShapes != 50 || c.Query.Timeout != 10*time.Second {
		t.Fatalf("query=%+v", c.Query)
	}
	if c.Events.H3Res != 15 {
		t.Fatalf("h3 res=%d want clamped to 15", c.Events.H3Res)
	}
	if c.MetricsEnabled {
		t.Fatal("metrics should be disabled")
	}
}

func TestBrokerList(t *testing.T) {
	e := EventsCfg{Brokers: " a:9092, ,b:9092 "}
	if got := e.BrokerList(); !slices.Equal(got, []string{"a:9092", "b:9092"}) {
		t.Fatalf("BrokerList=%v", got)
	}
}
