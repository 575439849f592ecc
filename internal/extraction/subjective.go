package extraction

import "strings"

// subjectivePhrases are judgment-dependent qualifiers. A clause containing any of
// them cannot be activated without a human reading it.
var subjectivePhrases = []string{
	"as appropriate",
	"where practicable",
	"as necessary",
	"reasonable",
	"where appropriate",
	"if required",
	"sufficient",
	"adequate",
	"as soon as possible",
	"to the satisfaction of",
}

// IsSubjective reports whether the clause contains judgment-dependent language.
func IsSubjective(clause string) bool {
	return len(SubjectivePhrases(clause)) > 0
}

// SubjectivePhrases returns the phrases found in the clause, in list order.
func SubjectivePhrases(clause string) []string {
	text := strings.ToLower(reWhitespace.ReplaceAllString(canonicalText(clause), " "))
	var found []string
	for _, phrase := range subjectivePhrases {
		if strings.Contains(text, phrase) {
			found = append(found, phrase)
		}
	}
	return found
}
