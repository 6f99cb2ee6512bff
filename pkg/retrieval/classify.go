// Package retrieval answers natural-language questions against the
// ingested corpus: keyword classification, graph entity lookup with
// hierarchical traversal, vector search over chunks, and a composer that
// assembles the structured response.
package retrieval

import (
	"strings"

	"github.com/linecook-ai/linecook/pkg/domain"
)

// Closed per-class vocabularies, checked in priority order. Safety
// outranks cleaning so "safely clean the grill" classifies as safety.
var classVocab = []struct {
	typ   domain.QueryType
	words []string
}{
	{domain.QuerySafetyProtocol, []string{"safety", "safe", "hazard", "warning", "danger", "burn", "injury", "caution", "lockout", "ppe"}},
	{domain.QueryCleaningProcedure, []string{"clean", "cleaning", "sanitize", "sanitizing", "degrease", "wash", "rinse", "scrub", "disinfect"}},
	{domain.QueryTroubleshooting, []string{"troubleshoot", "broken", "error", "fault", "fix", "not working", "won't", "wont", "problem", "diagnose", "issue"}},
	{domain.QueryEquipmentMaintenance, []string{"maintenance", "maintain", "service", "repair", "replace", "lubricate", "filter", "calibrate", "inspect", "upkeep"}},
}

// Classify buckets a query into the closed intent set.
func Classify(text string) domain.QueryType {
	lower := strings.ToLower(text)
	for _, class := range classVocab {
		for _, w := range class.words {
			if strings.Contains(lower, w) {
				return class.typ
			}
		}
	}
	return domain.QueryGeneral
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "how": true, "what": true,
	"where": true, "when": true, "which": true, "who": true, "why": true,
	"can": true, "could": true, "should": true, "would": true, "will": true,
	"are": true, "was": true, "were": true, "been": true, "being": true,
	"have": true, "has": true, "had": true, "this": true, "that": true,
	"with": true, "from": true, "into": true, "onto": true, "about": true,
	"you": true, "your": true, "our": true, "their": true, "its": true,
	"does": true, "did": true, "doing": true, "please": true, "need": true,
	"want": true, "tell": true, "show": true, "get": true, "use": true,
}

const maxKeyTerms = 10

// KeyTerms extracts the searchable tokens from a query: stop words and
// tokens under 3 characters are dropped, order preserved, capped at 10.
func KeyTerms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '°' || r == '-')
	})

	var terms []string
	seen := map[string]bool{}
	for _, f := range fields {
		f = strings.Trim(f, "-")
		if len(f) < 3 || stopWords[f] || seen[f] {
			continue
		}
		seen[f] = true
		terms = append(terms, f)
		if len(terms) == maxKeyTerms {
			break
		}
	}
	return terms
}
