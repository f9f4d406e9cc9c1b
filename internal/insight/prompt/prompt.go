// Package prompt renders the fixed instruction contract sent to the
// generator. Everything here is derived from the schema constants so the
// instructions and the validator cannot drift apart.
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mohammed-shakir/exec-insight-cache/internal/core/model"
	"github.com/mohammed-shakir/exec-insight-cache/internal/insight/schema"
)

// System returns the instruction contract. It is stable for a given schema
// version.
func System() string {
	tones := make([]string, 0, len(schema.Tones))
	for _, t := range schema.Tones {
		tones = append(tones, string(t))
	}

	var b strings.Builder
	b.WriteString("You write a short executive insight for a retail dashboard covering two regions, HKMC and TW.\n")
	b.WriteString("Reply with a single JSON object and nothing else. No markdown, no commentary.\n\n")
	b.WriteString("Fields:\n")
	fmt.Fprintf(&b, "- title: exactly %q\n", schema.Title)
	b.WriteString("- asOfLabel: date, brand and mode, e.g. \"2026-02-11 · M · MTD\"\n")
	fmt.Fprintf(&b, "- summaryLine: at most %d characters\n", schema.MaxSummaryRunes)
	fmt.Fprintf(&b, "- compareLine: one sentence contrasting HKMC and TW, at most %d characters\n", schema.MaxCompareRunes)
	fmt.Fprintf(&b, "- blocks: exactly %d objects {id, tone, text} with ids in this order: %s\n",
		len(schema.BlockIDs), strings.Join(schema.BlockIDs, ", "))
	fmt.Fprintf(&b, "  tone must be one of: %s\n", strings.Join(tones, ", "))
	fmt.Fprintf(&b, "- actions: 0 to %d objects {priority, text}; priorities in order %s with no gaps\n",
		schema.MaxActions, strings.Join(schema.Priorities, ", "))
	fmt.Fprintf(&b, "  the first action (P1) must state the risk that the %s carries over as %s stock into the next season\n",
		schema.P1Viewpoint[0], schema.P1Viewpoint[1])
	b.WriteString("\nRules:\n")
	b.WriteString("- Year-over-year (YoY) figures are integer percents, e.g. \"YoY 96%\".\n")
	b.WriteString("- Sell-through figures have exactly one decimal, e.g. \"sell-through 41.5%\".\n")
	b.WriteString("- A KPI marked \"no data\" must be described as unavailable, never guessed.\n")
	fmt.Fprintf(&b, "- Never use these phrases: %s.\n", quoteAll(schema.BannedPhrases))
	b.WriteString("- Do not include a meta field.\n")
	return b.String()
}

type kpiView struct {
	MTDYoY            string `json:"mtdYoY"`
	YTDYoY            string `json:"ytdYoY"`
	SeasonSellThrough string `json:"seasonSellThrough"`
	OldStockRatio     string `json:"oldStockRatio"`
	InventoryDays     string `json:"inventoryDays"`
}

type inputView struct {
	Region         string  `json:"region"`
	Brand          string  `json:"brand"`
	Date           string  `json:"date"`
	Mode           string  `json:"mode"`
	CategoryFilter string  `json:"categoryFilter"`
	HKMC           kpiView `json:"hkmc"`
	TW             kpiView `json:"tw"`
}

// User renders the request-specific instructions. KPI values are
// pre-formatted in the output contract's number formats.
func User(in model.Input) (string, error) {
	v := inputView{
		Region:         in.Region,
		Brand:          in.Brand,
		Date:           in.Date,
		Mode:           string(in.Mode),
		CategoryFilter: in.Category(),
		HKMC:           viewKPI(in.HKMC),
		TW:             viewKPI(in.TW),
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("prompt: encode input: %w", err)
	}
	return fmt.Sprintf("Write the executive insight for region %s, brand %s, date %s, mode %s.\nKPIs:\n%s\n",
		in.Region, in.Brand, in.Date, in.Mode, b), nil
}

const noData = "no data"

func viewKPI(k model.RegionKPI) kpiView {
	return kpiView{
		MTDYoY:            FormatYoY(k.MTDYoY),
		YTDYoY:            FormatYoY(k.YTDYoY),
		SeasonSellThrough: FormatSellThrough(k.SeasonSellThrough),
		OldStockRatio:     formatPct1(k.OldStockRatio),
		InventoryDays:     formatDays(k.InventoryDays),
	}
}

// FormatYoY renders a YoY index as an integer percent.
func FormatYoY(v *float64) string {
	if v == nil {
		return noData
	}
	return fmt.Sprintf("%.0f%%", *v)
}

// FormatSellThrough renders a sell-through ratio with one decimal.
func FormatSellThrough(v *float64) string {
	return formatPct1(v)
}

func formatPct1(v *float64) string {
	if v == nil {
		return noData
	}
	return fmt.Sprintf("%.1f%%", *v)
}

func formatDays(v *float64) string {
	if v == nil {
		return noData
	}
	return fmt.Sprintf("%.0f days", *v)
}

func quoteAll(ss []string) string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = fmt.Sprintf("%q", s)
	}
	return strings.Join(out, ", ")
}
