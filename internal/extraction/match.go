package extraction

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/trustgate/pkg/models"
)

// compiledPattern is a pattern body with its triggers compiled.
type compiledPattern struct {
	id      uuid.UUID
	shared  bool
	clauses []compiledClause
}

type compiledClause struct {
	trigger *regexp.Regexp
	fields  map[string]string
}

// clauseMatch is one trigger hit in the document. start and end are byte
// offsets into the matched text.
type clauseMatch struct {
	text   string
	fields map[string]string
	start  int
	end    int
}

// compilePattern decodes and compiles a pattern body. Bodies without clauses are invalid.
func compilePattern(id uuid.UUID, shared bool, body json.RawMessage) (*compiledPattern, error) {
	var pb models.PatternBody
	if err := json.Unmarshal(body, &pb); err != nil {
		return nil, fmt.Errorf("decoding pattern body: %w", err)
	}
	if len(pb.Clauses) == 0 {
		return nil, errors.New("pattern body has no clauses")
	}

	p := &compiledPattern{id: id, shared: shared, clauses: make([]compiledClause, 0, len(pb.Clauses))}
	for i, c := range pb.Clauses {
		re, err := regexp.Compile(c.Trigger)
		if err != nil {
			return nil, fmt.Errorf("clause %d trigger: %w", i, err)
		}
		p.clauses = append(p.clauses, compiledClause{trigger: re, fields: c.Fields})
	}
	return p, nil
}

// match returns the fraction of clauses found in text and the matched clauses.
func (p *compiledPattern) match(text string) (float64, []clauseMatch) {
	var hits []clauseMatch
	for _, c := range p.clauses {
		loc := c.trigger.FindStringIndex(text)
		if loc == nil || loc[0] == loc[1] {
			continue
		}
		hits = append(hits, clauseMatch{text: text[loc[0]:loc[1]], fields: c.fields, start: loc[0], end: loc[1]})
	}
	return float64(len(hits)) / float64(len(p.clauses)), hits
}
