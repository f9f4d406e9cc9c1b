// Package keys builds the namespaced, versioned cache keys shared by every
// instance of the service.
package keys

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/exec-insight-cache/internal/core/model"
)

const (
	Namespace        = "insight"
	FeatureExecutive = "exec"
	FeatureOps       = "ops"

	// OpsVersion versions the counter keyspace independently of the payload
	// schema so a schema bump does not reset today's counters.
	OpsVersion = "v1"

	Separator = ":"
)

var ErrNoSegments = errors.New("keys: at least one segment is required")

// Build joins segments in order. Each segment is escaped so the separator
// never appears inside one; distinct segment lists give distinct keys.
func Build(segments ...string) (string, error) {
	if len(segments) == 0 {
		return "", ErrNoSegments
	}
	var b strings.Builder
	for i, s := range segments {
		if i > 0 {
			b.WriteString(Separator)
		}
		escapeSegment(&b, s)
	}
	return b.String(), nil
}

// InsightSegments returns the canonical segment list for an executive insight.
func InsightSegments(schemaVersion string, in model.Input) []string {
	return []string{
		Namespace,
		FeatureExecutive,
		schemaVersion,
		canonicalDim(in.Region),
		canonicalDim(in.Brand),
		strings.TrimSpace(in.Date),
		filterSegment(in.Mode, in.Category()),
	}
}

func InsightKey(schemaVersion string, in model.Input) (string, error) {
	if strings.TrimSpace(schemaVersion) == "" {
		return "", errors.New("keys: schema version is required")
	}
	return Build(InsightSegments(schemaVersion, in)...)
}

// CounterKey is the day-scoped counter key for kind (hit, miss, refresh).
func CounterKey(kind, dateKey string) string {
	k, _ := Build(Namespace, FeatureOps, OpsVersion, "count", kind, dateKey)
	return k
}

// OpsPrefix is the common prefix of every counter and last-run key.
func OpsPrefix() string {
	return Namespace + Separator + FeatureOps + Separator
}

func LastRunKey() string {
	k, _ := Build(Namespace, FeatureOps, OpsVersion, "last_run")
	return k
}

func canonicalDim(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// folds mode and category into the filter segment, with a digest of the
// full category text so truncation cannot merge two filters.
func filterSegment(mode model.Mode, category string) string {
	cat := collapseASCIIWhitespace(strings.ToLower(category))

	const maxCategoryLen = 96
	shown := cat
	if len(shown) > maxCategoryLen {
		shown = shown[:maxCategoryLen]
		for !utf8.ValidString(shown) {
			shown = shown[:len(shown)-1]
		}
	}

	sum := xxhash.Sum64String(cat)
	return fmt.Sprintf("mode=%s,cat=%s,f=%016x", strings.ToUpper(string(mode)), shown, sum)
}

func escapeSegment(b *strings.Builder, s string) {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isKeySafe(c) {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(b, "%%%02X", c)
	}
}

func isKeySafe(c byte) bool {
	return (c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') ||
		c == '_' || c == '-' || c == '.' || c == '=' || c == ','
}

// converts any run of ASCII whitespace to a single space.
func collapseASCIIWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	wasWS := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f' {
			if !wasWS {
				b.WriteByte(' ')
				wasWS = true
			}
			continue
		}
		b.WriteRune(r)
		wasWS = false
	}
	return strings.TrimSpace(b.String())
}
