package extraction

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/kiranshivaraju/trustgate/pkg/models"
)

// Normalization regexes compiled once at package init.
var (
	reEnumerator = regexp.MustCompile(`^(\(?[0-9]{1,3}[.)]\s+|[0-9]{1,3}(\.[0-9]{1,3})+\.?\s+|\([a-zA-Z]{1,4}\)\s+|[a-z]\)\s+)+`)
	reWhitespace = regexp.MustCompile(`\s+`)
	reTrailing   = regexp.MustCompile(`[\s.;:,]+$`)

	punctuation = strings.NewReplacer("‘", "'", "’", "'", "“", `"`, "”", `"`, "–", "-", "—", "-")
)

// maxClauseBytes bounds stored clause text.
const maxClauseBytes = 4000

// Fingerprint computes a stable SHA-256 fingerprint for an obligation clause.
// Clauses that differ only in numbering, case, quoting or spacing share a fingerprint.
func Fingerprint(clause string) string {
	hash := sha256.Sum256([]byte(NormalizeClause(clause)))
	return fmt.Sprintf("%x", hash)
}

// NormalizeClause applies all normalization rules to a clause.
func NormalizeClause(clause string) string {
	clause = punctuation.Replace(clause)
	clause = reWhitespace.ReplaceAllString(clause, " ")
	clause = strings.TrimSpace(clause)
	clause = reEnumerator.ReplaceAllString(clause, "")
	clause = reTrailing.ReplaceAllString(clause, "")
	clause = strings.ToLower(clause)
	return truncateString(clause, 500)
}

// canonicalText folds typographic quotes and dashes so triggers match either form.
func canonicalText(text string) string {
	return punctuation.Replace(text)
}

// TriggerFor builds a pattern trigger matching the clause with flexible case and spacing.
func TriggerFor(clause string) string {
	words := strings.Fields(NormalizeClause(clause))
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	return `(?i)` + strings.Join(words, `\s+`)
}

// PatternBodyFor builds a single-clause pattern body for a verified clause.
func PatternBodyFor(clause string, fields map[string]string) models.PatternBody {
	return models.PatternBody{
		Clauses: []models.PatternClause{{Trigger: TriggerFor(clause), Fields: fields}},
	}
}

// truncateString truncates s to maxBytes without splitting UTF-8 runes.
func truncateString(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}
