// Package model defines core domain types shared across the service.
package model

import (
	"fmt"
	"time"
)

type Mode string

const (
	ModeMTD Mode = "MTD"
	ModeYTD Mode = "YTD"
)

func (m Mode) Valid() bool {
	return m == ModeMTD || m == ModeYTD
}

// RegionKPI holds the upstream KPIs for one region; nil means no data.
type RegionKPI struct {
	MTDYoY            *float64 `json:"mtdYoY" yaml:"mtdYoY"`
	YTDYoY            *float64 `json:"ytdYoY" yaml:"ytdYoY"`
	SeasonSellThrough *float64 `json:"seasonSellThrough" yaml:"seasonSellThrough"`
	OldStockRatio     *float64 `json:"oldStockRatio" yaml:"oldStockRatio"`
	InventoryDays     *float64 `json:"inventoryDays" yaml:"inventoryDays"`
}

type Input struct {
	Region         string    `json:"region" yaml:"region"`
	Brand          string    `json:"brand" yaml:"brand"`
	Date           string    `json:"date" yaml:"date"`
	Mode           Mode      `json:"mode" yaml:"mode"`
	CategoryFilter string    `json:"categoryFilter,omitempty" yaml:"categoryFilter"`
	HKMC           RegionKPI `json:"hkmc" yaml:"hkmc"`
	TW             RegionKPI `json:"tw" yaml:"tw"`
}

const DateLayout = "2006-01-02"

// Validate checks the request dimensions, not the KPI values.
func (in Input) Validate() error {
	if in.Region == "" {
		return fmt.Errorf("%w: missing required field: region", ErrInvalidInput)
	}
	if in.Brand == "" {
		return fmt.Errorf("%w: missing required field: brand", ErrInvalidInput)
	}
	if _, err := time.Parse(DateLayout, in.Date); err != nil {
		return fmt.Errorf("%w: invalid date %q: want YYYY-MM-DD", ErrInvalidInput, in.Date)
	}
	if !in.Mode.Valid() {
		return fmt.Errorf("%w: invalid mode %q: want MTD or YTD", ErrInvalidInput, in.Mode)
	}
	return nil
}

func (in Input) Category() string {
	if in.CategoryFilter == "" {
		return "all"
	}
	return in.CategoryFilter
}

type Tone string

const (
	TonePositive Tone = "positive"
	ToneNeutral  Tone = "neutral"
	ToneWarning  Tone = "warning"
	ToneCritical Tone = "critical"
)

type Block struct {
	ID   string `json:"id"`
	Tone Tone   `json:"tone"`
	Text string `json:"text"`
}

type Action struct {
	Priority string `json:"priority"`
	Text     string `json:"text"`
}

type Meta struct {
	Model       string    `json:"model"`
	Cached      bool      `json:"cached"`
	GeneratedAt time.Time `json:"generatedAt"`
	TTLSeconds  int64     `json:"ttlSeconds"`
}

// Response is the executive insight payload returned to the dashboard.
type Response struct {
	Title       string   `json:"title"`
	AsOfLabel   string   `json:"asOfLabel"`
	SummaryLine string   `json:"summaryLine"`
	CompareLine string   `json:"compareLine"`
	Blocks      []Block  `json:"blocks"`
	Actions     []Action `json:"actions"`
	Meta        Meta     `json:"meta"`
}

// Entry is what the cache store holds for one key.
type Entry struct {
	Payload    Response  `json:"payload"`
	CreatedAt  time.Time `json:"createdAt"`
	TTLSeconds int64     `json:"ttlSeconds"`
}

// LastRunRecord is written by the scheduled refresh job.
type LastRunRecord struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Targets    int       `json:"targets"`
	Refreshed  int       `json:"refreshed"`
	ErrorCount int       `json:"error_count"`
	Errors     []string  `json:"errors,omitempty"`
}
