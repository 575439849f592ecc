package extraction

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kiranshivaraju/trustgate/internal/config"
)

// charsPerPage approximates a page of permit text when no page breaks are present.
const charsPerPage = 3000

// Timeout tier names reported in extraction metadata.
const (
	TierSmall  = "small"
	TierMedium = "medium"
	TierLarge  = "large"
)

// DefaultTimeoutTiers is the standard page-count to timeout table.
var DefaultTimeoutTiers = config.TimeoutTiers{
	SmallMaxPages:  10,
	MediumMaxPages: 50,
	Small:          30 * time.Second,
	Medium:         90 * time.Second,
	Large:          180 * time.Second,
}

// PageCount returns declared when positive, otherwise derives it from the text:
// form-feed separated pages, else roughly charsPerPage characters per page.
func PageCount(text string, declared int) int {
	if declared > 0 {
		return declared
	}
	if strings.Contains(text, "\f") {
		return strings.Count(strings.TrimRight(text, "\f"), "\f") + 1
	}
	pages := (utf8.RuneCountInString(text) + charsPerPage - 1) / charsPerPage
	if pages < 1 {
		return 1
	}
	return pages
}

// TimeoutFor looks up the extraction timeout for a page count.
func TimeoutFor(tiers config.TimeoutTiers, pages int) (time.Duration, string) {
	switch {
	case pages <= tiers.SmallMaxPages:
		return tiers.Small, TierSmall
	case pages <= tiers.MediumMaxPages:
		return tiers.Medium, TierMedium
	default:
		return tiers.Large, TierLarge
	}
}
