package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mohammed-shakir/exec-insight-cache/internal/core/model"
)

type Config struct {
	TargetURL      string
	Concurrency    int
	Duration       time.Duration
	ZipfS          float64
	ZipfV          float64
	Brands         string
	Days           int
	OutputPrefix   string
	RequestTimeout time.Duration
}

func loadConfig() Config {
	var cfg Config
	flag.StringVar(&cfg.TargetURL, "target", "http://localhost:8090/api/insights/executive", "insight endpoint URL")
	flag.IntVar(&cfg.Concurrency, "concurrency", 16, "Concurrent workers")
	flag.DurationVar(&cfg.Duration, "duration", 60*time.Second, "Test duration")
	flag.Float64Var(&cfg.ZipfS, "zipf-s", 1.3, "Zipf parameter s (>1)")
	flag.Float64Var(&cfg.ZipfV, "zipf-v", 1.0, "Zipf parameter v (>=1)")
	flag.StringVar(&cfg.Brands, "brands", "M,K,P", "Comma-separated brand codes")
	flag.IntVar(&cfg.Days, "days", 7, "Distinct as-of dates, counting back from today (UTC)")
	flag.StringVar(&cfg.OutputPrefix, "out", "results/insight", "Output file prefix (JSON/CSV)")
	flag.DurationVar(&cfg.RequestTimeout, "timeout", 2*time.Minute, "Per-request timeout")
	flag.Parse()
	return cfg
}

// makeTuples orders tuples so the most recent dates come first; zipf then
// concentrates traffic on "today" like a real dashboard.
func makeTuples(brands []string, days int, now time.Time) []model.Input {
	var out []model.Input
	for d := range days {
		date := now.UTC().AddDate(0, 0, -d).Format(model.DateLayout)
		for _, mode := range []model.Mode{model.ModeMTD, model.ModeYTD} {
			for _, b := range brands {
				for _, region := range []string{"HKMC", "TW"} {
					out = append(out, model.Input{Region: region, Brand: b, Date: date, Mode: mode})
				}
			}
		}
	}
	return out
}

func splitBrands(s string) []string {
	var out []string
	for b := range strings.SplitSeq(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// request result (one sample per request)
type sample struct {
	Timestamp time.Time
	Latency   time.Duration
	Status    int
	Cached    bool
	ErrorMsg  string
	Tuple     int
}

type summary struct {
	StartTime     time.Time `json:"start"`
	EndTime       time.Time `json:"end"`
	DurationSec   float64   `json:"duration_sec"`
	TotalRequests int64     `json:"total"`
	SuccessCount  int64     `json:"success"`
	ErrorCount    int64     `json:"errors"`
	CachedCount   int64     `json:"cached"`
	CachedRatio   float64   `json:"cached_ratio"`
	ThroughputRPS float64   `json:"throughput_rps"`
	CachedP50Ms   float64   `json:"cached_p50_ms"`
	CachedP99Ms   float64   `json:"cached_p99_ms"`
	FreshP50Ms    float64   `json:"fresh_p50_ms"`
	FreshP99Ms    float64   `json:"fresh_p99_ms"`
	Concurrency   int       `json:"concurrency"`
	Tuples        int       `json:"tuples"`
	TargetURL     string    `json:"target"`
}

type aggregatedResult struct {
	total, success, errors, cached int64
	cachedMs, freshMs              []float64
}

func aggregate(samples <-chan sample, w *csv.Writer) aggregatedResult {
	var agg aggregatedResult
	_ = w.Write([]string{"timestamp", "latency_ms", "status", "cached", "error", "tuple"})
	for s := range samples {
		agg.total++
		ms := float64(s.Latency.Microseconds()) / 1000.0
		if s.ErrorMsg == "" && s.Status == http.StatusOK {
			agg.success++
			if s.Cached {
				agg.cached++
				agg.cachedMs = append(agg.cachedMs, ms)
			} else {
				agg.freshMs = append(agg.freshMs, ms)
			}
		} else {
			agg.errors++
		}
		_ = w.Write([]string{
			s.Timestamp.UTC().Format(time.RFC3339Nano),
			fmt.Sprintf("%.3f", ms),
			strconv.Itoa(s.Status),
			strconv.FormatBool(s.Cached),
			s.ErrorMsg,
			strconv.Itoa(s.Tuple),
		})
	}
	w.Flush()
	return agg
}

func fire(ctx context.Context, c *http.Client, target string, in model.Input) sample {
	s := sample{Timestamp: time.Now()}
	body, _ := json.Marshal(in)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		s.ErrorMsg = err.Error()
		return s
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Do(req)
	s.Latency = time.Since(s.Timestamp)
	if err != nil {
		s.ErrorMsg = err.Error()
		return s
	}
	defer func() { _ = resp.Body.Close() }()
	s.Status = resp.StatusCode
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		s.ErrorMsg = fmt.Sprintf("status=%d", resp.StatusCode)
		return s
	}
	var out struct {
		Meta struct {
			Cached bool `json:"cached"`
		} `json:"meta"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		s.ErrorMsg = "decode: " + err.Error()
		return s
	}
	s.Cached = out.Meta.Cached
	return s
}

func main() {
	cfg := loadConfig()
	if err := os.MkdirAll(filepath.Dir(cfg.OutputPrefix), 0o750); err != nil {
		log.Fatalf("mkdir results: %v", err)
	}
	prefix := fmt.Sprintf("%s_%s", cfg.OutputPrefix, time.Now().UTC().Format("20060102_150405Z"))

	tuples := makeTuples(splitBrands(cfg.Brands), cfg.Days, time.Now())
	if len(tuples) == 0 {
		log.Fatalf("no tuples: check -brands and -days")
	}
	imax := uint64(len(tuples)) - 1

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         (&net.Dialer{Timeout: 4 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			MaxIdleConns:        256,
			MaxIdleConnsPerHost: 128,
			IdleConnTimeout:     90 * time.Second,
		},
		Timeout: cfg.RequestTimeout,
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	csvPath := prefix + "_samples.csv"
	jsonPath := prefix + "_summary.json"
	csvFile, err := os.Create(filepath.Clean(csvPath))
	if err != nil {
		log.Fatalf("open csv: %v", err)
	}
	defer func() { _ = csvFile.Close() }()

	samples := make(chan sample, 4096)
	results := make(chan aggregatedResult, 1)
	go func() { results <- aggregate(samples, csv.NewWriter(csvFile)) }()

	start := time.Now()
	seed := start.UnixNano()
	log.Printf("loadgen start target=%s dur=%s conc=%d zipf(s=%.2f,v=%.2f) tuples=%d",
		cfg.TargetURL, cfg.Duration, cfg.Concurrency, cfg.ZipfS, cfg.ZipfV, len(tuples))

	var wg sync.WaitGroup
	for id := range cfg.Concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			zipf := rand.NewZipf(rand.New(rand.NewSource(seed+int64(id)+1)), cfg.ZipfS, cfg.ZipfV, imax)
			for ctx.Err() == nil {
				idx := int(zipf.Uint64())
				s := fire(ctx, httpClient, cfg.TargetURL, tuples[idx])
				s.Tuple = idx
				if ctx.Err() != nil {
					return
				}
				samples <- s
			}
		}()
	}
	wg.Wait()
	close(samples)

	agg := <-results
	end := time.Now()
	elapsed := end.Sub(start).Seconds()

	sort.Float64s(agg.cachedMs)
	sort.Float64s(agg.freshMs)
	sum := summary{
		StartTime:     start.UTC(),
		EndTime:       end.UTC(),
		DurationSec:   elapsed,
		TotalRequests: agg.total,
		SuccessCount:  agg.success,
		ErrorCount:    agg.errors,
		CachedCount:   agg.cached,
		ThroughputRPS: float64(agg.total) / elapsed,
		CachedP50Ms:   percentile(agg.cachedMs, 50),
		CachedP99Ms:   percentile(agg.cachedMs, 99),
		FreshP50Ms:    percentile(agg.freshMs, 50),
		FreshP99Ms:    percentile(agg.freshMs, 99),
		Concurrency:   cfg.Concurrency,
		Tuples:        len(tuples),
		TargetURL:     cfg.TargetURL,
	}
	if agg.success > 0 {
		sum.CachedRatio = float64(agg.cached) / float64(agg.success)
	}

	if f, err := os.Create(filepath.Clean(jsonPath)); err == nil {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		_ = enc.Encode(sum)
		_ = f.Close()
	}

	log.Printf("done: total=%d succ=%d err=%d cached=%.1f%% thr=%.2f rps cached_p50=%.1fms fresh_p50=%.1fms",
		agg.total, agg.success, agg.errors, 100*sum.CachedRatio, sum.ThroughputRPS, sum.CachedP50Ms, sum.FreshP50Ms)
	log.Printf("wrote %s and %s", jsonPath, csvPath)
}

func percentile(sortedValues []float64, p float64) float64 {
	if len(sortedValues) == 0 {
		return 0
	}
	if p <= 0 {
		return sortedValues[0]
	}
	if p >= 100 {
		return sortedValues[len(sortedValues)-1]
	}
	k := (p / 100.0) * float64(len(sortedValues)-1)
	f := math.Floor(k)
	i := int(f)
	if i >= len(sortedValues)-1 {
		return sortedValues[len(sortedValues)-1]
	}
	d := k - f
	return sortedValues[i]*(1-d) + sortedValues[i+1]*d
}
