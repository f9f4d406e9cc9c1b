package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/mohammed-shakir/exec-insight-cache/internal/core/model"
)

// ValidationError names the first rule a candidate payload broke.
type ValidationError struct {
	Rule   string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("schema rule %s: %s", e.Rule, e.Detail)
}

func fail(rule, format string, args ...any) *ValidationError {
	return &ValidationError{Rule: rule, Detail: fmt.Sprintf(format, args...)}
}

var requiredFields = []string{"title", "asOfLabel", "summaryLine", "compareLine", "blocks", "actions"}

// Validate parses raw generator output and checks it against the full
// contract. The payload is either accepted whole or rejected; meta is never
// taken from the candidate.
func Validate(raw []byte) (model.Response, error) {
	body := extractJSON(raw)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return model.Response{}, fail(RuleParse, "output is not a JSON object: %v", err)
	}
	for _, f := range requiredFields {
		v, ok := fields[f]
		if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			return model.Response{}, fail(RuleRequired, "missing field %q", f)
		}
	}

	var resp model.Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return model.Response{}, fail(RuleParse, "fields have the wrong types: %v", err)
	}
	resp.Meta = model.Meta{}

	if err := Check(resp); err != nil {
		return model.Response{}, err
	}
	return resp, nil
}

// Check runs the structural and content rules on an already decoded payload.
func Check(r model.Response) error {
	if r.Title != Title {
		return fail(RuleTitle, "title must be %q, got %q", Title, r.Title)
	}
	if strings.TrimSpace(r.AsOfLabel) == "" {
		return fail(RuleRequired, "asOfLabel is empty")
	}
	if strings.TrimSpace(r.SummaryLine) == "" {
		return fail(RuleRequired, "summaryLine is empty")
	}
	if n := utf8.RuneCountInString(r.SummaryLine); n > MaxSummaryRunes {
		return fail(RuleSummaryLength, "summaryLine has %d characters, max %d", n, MaxSummaryRunes)
	}
	if strings.TrimSpace(r.CompareLine) == "" {
		return fail(RuleRequired, "compareLine is empty")
	}
	if n := utf8.RuneCountInString(r.CompareLine); n > MaxCompareRunes {
		return fail(RuleCompareLength, "compareLine has %d characters, max %d", n, MaxCompareRunes)
	}

	if err := checkBlocks(r.Blocks); err != nil {
		return err
	}
	if err := checkActions(r.Actions); err != nil {
		return err
	}

	texts := textFields(r)
	if err := checkBanned(texts); err != nil {
		return err
	}
	return checkNumberFormats(texts)
}

func checkBlocks(blocks []model.Block) error {
	if len(blocks) != len(BlockIDs) {
		return fail(RuleBlocksCount, "want %d blocks, got %d", len(BlockIDs), len(blocks))
	}
	for i, b := range blocks {
		if b.ID != BlockIDs[i] {
			return fail(RuleBlocksOrder, "block %d must be %q, got %q", i, BlockIDs[i], b.ID)
		}
	}
	for _, b := range blocks {
		if !validTone(b.Tone) {
			return fail(RuleBlockTone, "block %q has tone %q", b.ID, b.Tone)
		}
		if strings.TrimSpace(b.Text) == "" {
			return fail(RuleRequired, "block %q has empty text", b.ID)
		}
	}
	return nil
}

func checkActions(actions []model.Action) error {
	if len(actions) > MaxActions {
		return fail(RuleActionsCount, "at most %d actions, got %d", MaxActions, len(actions))
	}
	for i, a := range actions {
		if a.Priority != Priorities[i] {
			return fail(RuleActionPriority, "action %d must be %s, got %q", i, Priorities[i], a.Priority)
		}
		if strings.TrimSpace(a.Text) == "" {
			return fail(RuleRequired, "action %s has empty text", a.Priority)
		}
	}
	if len(actions) > 0 {
		p1 := strings.ToLower(actions[0].Text)
		for _, want := range P1Viewpoint {
			if !strings.Contains(p1, want) {
				return fail(RuleP1Viewpoint, "P1 action must mention %q", want)
			}
		}
	}
	return nil
}

var (
	// a percentage following "YoY" or "year-over-year" within a short
	// window, e.g. "MTD YoY 105%"
	yoyPct = regexp.MustCompile(`(?i)\b(?:yoy|year[- ]over[- ]year)\b[^%\n]{0,16}?(-?\d+(?:\.\d+)?)\s*%`)
	// a percentage directly followed by the label, e.g. "96% YoY", "96% MTD YoY"
	pctYoY = regexp.MustCompile(`(?i)(-?\d+(?:\.\d+)?)\s*%\s*(?:(?:mtd|ytd)\s+)?(?:yoy|year[- ]over[- ]year)\b`)
	// same for sell-through, with or without the hyphen
	sellThroughPct = regexp.MustCompile(`(?i)\bsell[- ]?through\b[^%\n]{0,16}?(\d+(?:\.\d+)?)\s*%`)
	pctSellThrough = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*%\s*(?:season\s+)?sell[- ]?through\b`)
)

func checkBanned(texts []namedText) error {
	for _, t := range texts {
		lower := strings.ToLower(t.text)
		for _, p := range BannedPhrases {
			if strings.Contains(lower, p) {
				return fail(RuleBannedPhrase, "%s contains banned phrase %q", t.name, p)
			}
		}
	}
	return nil
}

// Formatting only: the validator never re-derives the numbers.
func checkNumberFormats(texts []namedText) error {
	for _, t := range texts {
		for _, v := range matches(t.text, yoyPct, pctYoY) {
			if strings.Contains(v, ".") {
				return fail(RuleYoYFormat, "%s renders YoY %s%% with decimals; use an integer percent", t.name, v)
			}
		}
		for _, v := range matches(t.text, sellThroughPct, pctSellThrough) {
			dot := strings.IndexByte(v, '.')
			if dot < 0 || len(v)-dot-1 != 1 {
				return fail(RuleSellThrough, "%s renders sell-through %s%%; use exactly one decimal", t.name, v)
			}
		}
	}
	return nil
}

// matches returns the first capture group of every match of each pattern.
func matches(text string, patterns ...*regexp.Regexp) []string {
	var out []string
	for _, re := range patterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			out = append(out, m[1])
		}
	}
	return out
}

type namedText struct {
	name string
	text string
}

func textFields(r model.Response) []namedText {
	out := []namedText{
		{"asOfLabel", r.AsOfLabel},
		{"summaryLine", r.SummaryLine},
		{"compareLine", r.CompareLine},
	}
	for _, b := range r.Blocks {
		out = append(out, namedText{"blocks." + b.ID, b.Text})
	}
	for _, a := range r.Actions {
		out = append(out, namedText{"actions." + a.Priority, a.Text})
	}
	return out
}

// extractJSON strips a markdown code fence around the object, which some
// generators add even when asked for raw JSON.
func extractJSON(raw []byte) []byte {
	s := bytes.TrimSpace(raw)
	if !bytes.HasPrefix(s, []byte("```")) {
		return s
	}
	if nl := bytes.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = bytes.TrimSuffix(bytes.TrimSpace(s), []byte("```"))
	return bytes.TrimSpace(s)
}
