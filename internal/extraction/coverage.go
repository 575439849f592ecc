package extraction

import "regexp"

var (
	// reSegment splits text into sentence-like segments. Line breaks and form
	// feeds also end a segment.
	reSegment = regexp.MustCompile(`[^.;!?\n\f]+[.;!?]*`)

	// reObligation marks a segment that imposes a duty or prohibition.
	reObligation = regexp.MustCompile(`(?i)\b(shall|must|required to|is required|are required|prohibited|will ensure|is to be|are to be)\b`)
)

type span struct {
	start, end int
}

// obligationSegments returns the byte ranges of text segments that state an obligation.
func obligationSegments(text string) []span {
	var out []span
	for _, loc := range reSegment.FindAllStringIndex(text, -1) {
		if reObligation.MatchString(text[loc[0]:loc[1]]) {
			out = append(out, span{loc[0], loc[1]})
		}
	}
	return out
}

// uncoveredSegments counts the obligation segments of text that no hit overlaps.
func uncoveredSegments(text string, hits []span) int {
	n := 0
	for _, seg := range obligationSegments(text) {
		covered := false
		for _, h := range hits {
			if h.start < seg.end && h.end > seg.start {
				covered = true
				break
			}
		}
		if !covered {
			n++
		}
	}
	return n
}
