// Package schema holds the executive insight output contract and the
// validator that enforces it on generated text.
package schema

import "github.com/mohammed-shakir/exec-insight-cache/internal/core/model"

// Version is embedded in every insight cache key. Bump it whenever the
// payload shape or any rule in this package changes.
const Version = "v3"

const (
	Title = "Executive Insight"

	MaxSummaryRunes = 80
	MaxCompareRunes = 120
	MaxActions      = 3
)

var (
	BlockIDs   = []string{"sales", "season", "old"}
	Priorities = []string{"P1", "P2", "P3"}
	Tones      = []model.Tone{model.TonePositive, model.ToneNeutral, model.ToneWarning, model.ToneCritical}

	// P1Viewpoint lists substrings the first action must contain
	// (case-insensitive): the seasonal slowdown carryover risk.
	P1Viewpoint = []string{"seasonal slowdown", "carryover"}

	// BannedPhrases must not appear in any text field (case-insensitive).
	BannedPhrases = []string{"guaranteed", "final conclusion", "will definitely"}
)

// Rule identifiers carried by ValidationError.
const (
	RuleParse          = "parse"
	RuleRequired       = "required_field"
	RuleTitle          = "title"
	RuleSummaryLength  = "summary_length"
	RuleCompareLength  = "compare_length"
	RuleBlocksCount    = "blocks_count"
	RuleBlocksOrder    = "blocks_order"
	RuleBlockTone      = "block_tone"
	RuleActionsCount   = "actions_count"
	RuleActionPriority = "action_priority"
	RuleP1Viewpoint    = "p1_viewpoint"
	RuleBannedPhrase   = "banned_phrase"
	RuleYoYFormat      = "yoy_format"
	RuleSellThrough    = "sell_through_format"
)

func validTone(t model.Tone) bool {
	for _, v := range Tones {
		if t == v {
			return true
		}
	}
	return false
}
