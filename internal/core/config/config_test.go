package config

import (
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("LLM_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	cfg := FromEnv()
	if cfg.Addr != ":8090" || cfg.StoreDriver != "redis" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.InsightTTL != 6*time.Hour {
		t.Fatalf("InsightTTL=%v", cfg.InsightTTL)
	}
	if cfg.CounterRetention != 8*24*time.Hour {
		t.Fatalf("CounterRetention=%v", cfg.CounterRetention)
	}
	if cfg.LLM.APIKey != "" {
		t.Fatalf("api key should be empty by default")
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "Memory")
	t.Setenv("INSIGHT_TTL", "30m")
	t.Setenv("GENERATION_TIMEOUT", "bogus")
	t.Setenv("LLM_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("EVENTS_ENABLED", "yes")
	t.Setenv("KAFKA_BROKERS", " a:9092, ,b:9092 ")

	cfg := FromEnv()
	if cfg.StoreDriver != "memory" {
		t.Fatalf("StoreDriver=%q", cfg.StoreDriver)
	}
	if cfg.InsightTTL != 30*time.Minute {
		t.Fatalf("InsightTTL=%v", cfg.InsightTTL)
	}
	if cfg.GenerationTimeout != 45*time.Second {
		t.Fatalf("invalid duration should fall back to default, got %v", cfg.GenerationTimeout)
	}
	if cfg.LLM.APIKey != "sk-test" {
		t.Fatalf("APIKey=%q", cfg.LLM.APIKey)
	}
	if !cfg.Events.Enabled {
		t.Fatalf("events should be enabled")
	}
	if got := cfg.Events.BrokerList(); len(got) != 2 || got[0] != "a:9092" || got[1] != "b:9092" {
		t.Fatalf("BrokerList=%v", got)
	}
	if got := cfg.KPIUpdates.BrokerList(); len(got) != 2 {
		t.Fatalf("kpi updates brokers=%v", got)
	}
	if cfg.KPIUpdates.Enabled || cfg.KPIUpdates.Topic != "kpi-updates" {
		t.Fatalf("KPIUpdates=%+v", cfg.KPIUpdates)
	}
}
