package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type RedisCfg struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

type LLMCfg struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
}

type EventsCfg struct {
	Enabled   bool
	Brokers   string
	Topic     string
	QueueSize int
}

// KPIUpdatesCfg configures the consumer that refreshes insights when
// upstream KPIs are republished.
type KPIUpdatesCfg struct {
	Enabled       bool
	Brokers       string
	Topic         string
	GroupID       string
	InitialOldest bool
}

type MetricsCfg struct {
	Enabled bool
	Addr    string
	Path    string
}

type Config struct {
	Addr              string
	LogLevel          string
	LogConsole        bool
	LogSampleN        int
	StoreDriver       string
	Redis             RedisCfg
	MemStoreSize      int
	CacheOpTimeout    time.Duration
	InsightTTL        time.Duration
	CounterRetention  time.Duration
	GenerationTimeout time.Duration
	LLM               LLMCfg
	Events            EventsCfg
	KPIUpdates        KPIUpdatesCfg
	Metrics           MetricsCfg
}

func FromEnv() Config {
	return Config{
		Addr:        getenv("ADDR", ":8090"),
		LogLevel:    getenv("LOG_LEVEL", "info"),
		LogConsole:  getbool("LOG_CONSOLE", false),
		LogSampleN:  getint("LOG_SAMPLE_N", 0),
		StoreDriver: strings.ToLower(getenv("STORE_DRIVER", "redis")),
		Redis: RedisCfg{
			Addr:     getenv("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getint("REDIS_DB", 0),
			PoolSize: getint("REDIS_POOL_SIZE", 32),
		},
		MemStoreSize:      getint("MEMSTORE_SIZE", 4096),
		CacheOpTimeout:    getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
		InsightTTL:        getduration("INSIGHT_TTL", 6*time.Hour),
		CounterRetention:  getduration("COUNTER_RETENTION", 8*24*time.Hour),
		GenerationTimeout: getduration("GENERATION_TIMEOUT", 45*time.Second),
		LLM: LLMCfg{
			APIKey:      firstNonEmpty(os.Getenv("LLM_API_KEY"), os.Getenv("OPENAI_API_KEY")),
			BaseURL:     getenv("LLM_BASE_URL", "https://api.openai.com/v1"),
			Model:       getenv("LLM_MODEL", "gpt-4o-mini"),
			Temperature: getfloat("LLM_TEMPERATURE", 0.2),
			MaxTokens:   getint("LLM_MAX_TOKENS", 1200),
		},
		Events: EventsCfg{
			Enabled:   getbool("EVENTS_ENABLED", false),
			Brokers:   getenv("KAFKA_BROKERS", "localhost:9092"),
			Topic:     getenv("KAFKA_TOPIC", "insight-events"),
			QueueSize: getint("EVENTS_QUEUE", 1024),
		},
		KPIUpdates: KPIUpdatesCfg{
			Enabled:       getbool("KPI_UPDATES_ENABLED", false),
			Brokers:       getenv("KAFKA_BROKERS", "localhost:9092"),
			Topic:         getenv("KPI_UPDATES_TOPIC", "kpi-updates"),
			GroupID:       getenv("KPI_UPDATES_GROUP", "exec-insight-refresher"),
			InitialOldest: getbool("KPI_UPDATES_FROM_OLDEST", false),
		},
		Metrics: MetricsCfg{
			Enabled: getbool("METRICS_ENABLED", false),
			Addr:    getenv("METRICS_ADDR", ":9090"),
			Path:    getenv("METRICS_PATH", "/metrics"),
		},
	}
}

// BrokerList splits the comma-separated broker list.
func (e EventsCfg) BrokerList() []string { return splitCSV(e.Brokers) }

func (k KPIUpdatesCfg) BrokerList() []string { return splitCSV(k.Brokers) }

func splitCSV(s string) []string {
	var out []string
	for b := range strings.SplitSeq(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if v != "" {
			return v
		}
	}
	return ""
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

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
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
