package retrieval

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/linecook-ai/linecook/pkg/citation"
	"github.com/linecook-ai/linecook/pkg/domain"
)

// Query runs retrieval and composes the structured answer. An empty
// corpus hit returns the explicit not-found response rather than
// inventing procedure content.
func (r *Retriever) Query(ctx context.Context, req domain.QueryRequest) (domain.ComposedResponse, error) {
	res, err := r.retrieve(ctx, req)
	if err != nil {
		return domain.ComposedResponse{}, err
	}

	if len(res.entities) == 0 && len(res.chunks) == 0 {
		return emptyResponse(res.queryType), nil
	}

	resp := r.compose(ctx, res)
	if req.Speech {
		resp.Notes = append(resp.Notes, SpeechText(resp))
	}
	return resp, nil
}

func emptyResponse(queryType domain.QueryType) domain.ComposedResponse {
	return domain.ComposedResponse{
		TaskTitle: "No matching procedure found",
		Steps: []domain.Step{
			{Number: 1, Text: "No documentation covers this request. Contact management for guidance."},
		},
		Confidence:    0,
		ProcedureType: string(queryType),
		EstimatedTime: "unknown",
	}
}

func (r *Retriever) compose(ctx context.Context, res result) domain.ComposedResponse {
	steps := mineSteps(res.chunks)
	warnings := mineWarnings(res.chunks)
	equipment := equipmentNames(res.entities)

	resp := domain.ComposedResponse{
		TaskTitle:       composeTitle(res),
		Steps:           steps,
		SafetyWarnings:  warnings,
		EquipmentNeeded: equipment,
		EstimatedTime:   estimateTime(len(steps), len(equipment)),
		SourceDocuments: sortedDocIDs(res.documents),
		Confidence:      composeConfidence(res),
		ProcedureType:   string(res.queryType),
	}

	resp.MediaReferences = r.mediaReferences(ctx, resp, res)

	if res.degraded || resp.Confidence < 0.5 {
		if res.degraded && resp.Confidence >= 0.5 {
			resp.Confidence = 0.49
		}
		resp.Notes = append(resp.Notes, "limited data: answer assembled from partial sources")
	}
	return resp
}

func composeTitle(res result) string {
	verb := map[domain.QueryType]string{
		domain.QueryEquipmentMaintenance: "Maintenance",
		domain.QuerySafetyProtocol:       "Safety Protocol",
		domain.QueryCleaningProcedure:    "Cleaning Procedure",
		domain.QueryTroubleshooting:      "Troubleshooting",
		domain.QueryGeneral:              "Reference",
	}[res.queryType]

	if len(res.entities) > 0 {
		return fmt.Sprintf("%s: %s", verb, res.entities[0].entity.CanonicalName)
	}
	return verb
}

var (
	numberedStep = regexp.MustCompile(`(?mi)^\s*(?:step\s+)?(\d+)[.)]\s+(.+)$`)
	inlineStep   = regexp.MustCompile(`(?i)\bstep\s+(\d+)[:.,]?\s+([^.\n]+)`)
	ordinalWords = []string{"first", "second", "third", "then", "next", "finally"}
)

// mineSteps pulls ordered instructions out of chunk text using ordinal
// cues: numeric prefixes, "step N" phrases, and ordinal words.
func mineSteps(chunks []domain.Chunk) []domain.Step {
	type numbered struct {
		n    int
		text string
	}
	var withNumber []numbered
	var withOrder []string
	seen := map[string]bool{}

	add := func(n int, text string) {
		text = strings.TrimSpace(text)
		if text == "" || seen[strings.ToLower(text)] {
			return
		}
		seen[strings.ToLower(text)] = true
		if n > 0 {
			withNumber = append(withNumber, numbered{n: n, text: text})
		} else {
			withOrder = append(withOrder, text)
		}
	}

	for _, c := range chunks {
		// Matching runs over the original text so step wording keeps its
		// casing; the dedup key lowercases separately.
		for _, m := range numberedStep.FindAllStringSubmatch(c.Content, -1) {
			add(atoiSafe(m[1]), m[2])
		}
		for _, m := range inlineStep.FindAllStringSubmatch(c.Content, -1) {
			add(atoiSafe(m[1]), m[2])
		}
		for _, sentence := range splitSentences(c.Content) {
			sl := strings.ToLower(sentence)
			for _, w := range ordinalWords {
				if strings.HasPrefix(sl, w+" ") || strings.HasPrefix(sl, w+",") {
					add(0, sentence)
					break
				}
			}
		}
	}

	sort.SliceStable(withNumber, func(i, j int) bool { return withNumber[i].n < withNumber[j].n })

	var steps []domain.Step
	for _, n := range withNumber {
		steps = append(steps, domain.Step{Number: len(steps) + 1, Text: n.text})
	}
	for _, text := range withOrder {
		steps = append(steps, domain.Step{Number: len(steps) + 1, Text: text})
	}
	return steps
}

var warningKeywords = []string{"warning", "caution", "danger", "safety", "hazard"}

func mineWarnings(chunks []domain.Chunk) []domain.SafetyWarning {
	var out []domain.SafetyWarning
	seen := map[string]bool{}

	for _, c := range chunks {
		for _, sentence := range splitSentences(c.Content) {
			lower := strings.ToLower(sentence)
			hit := false
			for _, kw := range warningKeywords {
				if strings.Contains(lower, kw) {
					hit = true
					break
				}
			}
			if !hit || seen[lower] {
				continue
			}
			seen[lower] = true
			out = append(out, domain.SafetyWarning{
				Text:     strings.TrimSpace(sentence),
				Severity: gradeSeverity(lower),
			})
		}
	}
	return out
}

func gradeSeverity(lower string) domain.Severity {
	switch {
	case strings.Contains(lower, "danger") || strings.Contains(lower, "immediately") || strings.Contains(lower, "never"):
		return domain.SeverityCritical
	case strings.Contains(lower, "warning") || strings.Contains(lower, "burn") || strings.Contains(lower, "hot"):
		return domain.SeverityHigh
	case strings.Contains(lower, "caution"):
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

func equipmentNames(entities []scoredEntity) []string {
	var out []string
	seen := map[string]bool{}
	for _, se := range entities {
		if se.entity.Type != domain.EntityEquipment {
			continue
		}
		if !seen[se.entity.CanonicalName] {
			seen[se.entity.CanonicalName] = true
			out = append(out, se.entity.CanonicalName)
		}
		// Ancestors at equipment levels count as referenced equipment.
		for _, a := range se.ancestors {
			if !seen[a] {
				seen[a] = true
				out = append(out, a)
			}
		}
	}
	return out
}

// estimateTime applies max(5, steps*2) scaled by distinct equipment,
// rounded up to a 5-minute bucket.
func estimateTime(steps, equipment int) string {
	minutes := float64(steps) * 2
	if minutes < 5 {
		minutes = 5
	}
	minutes *= 1 + 0.2*float64(equipment)
	bucketed := int(math.Ceil(minutes/5) * 5)
	return fmt.Sprintf("%d minutes", bucketed)
}

func composeConfidence(res result) float64 {
	if len(res.entities) == 0 && len(res.chunks) == 0 {
		return 0
	}
	var sum float64
	var n int
	for _, se := range res.entities {
		sum += se.score
		n++
	}
	for _, c := range res.chunks {
		sum += c.Score
		n++
	}
	conf := sum / float64(n)
	if conf > 1 {
		conf = 1
	}
	if conf < 0 {
		conf = 0
	}
	return conf
}

// mediaReferences collects stored citations referenced by the composed
// text (steps plus warnings).
func (r *Retriever) mediaReferences(ctx context.Context, resp domain.ComposedResponse, res result) []domain.MediaReference {
	var text strings.Builder
	for _, s := range resp.Steps {
		text.WriteString(s.Text)
		text.WriteString("\n")
	}
	for _, w := range resp.SafetyWarnings {
		text.WriteString(w.Text)
		text.WriteString("\n")
	}

	var stored []domain.VisualCitation
	for docID := range res.documents {
		cits, err := r.graph.CitationsForDocument(ctx, docID)
		if err != nil {
			continue
		}
		stored = append(stored, cits...)
	}

	var out []domain.MediaReference
	for _, c := range citation.FindMatches(text.String(), stored) {
		out = append(out, domain.MediaReference{
			CitationID: c.ID,
			Type:       c.Type,
			Page:       c.Page,
			RefText:    c.RefText,
		})
	}
	return out
}

func sortedDocIDs(docs map[string]domain.Document) []string {
	out := make([]string, 0, len(docs))
	for id := range docs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func splitSentences(text string) []string {
	var out []string
	var current strings.Builder
	for _, r := range text {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			s := strings.TrimSpace(current.String())
			if s != "" && s != "." {
				out = append(out, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		out = append(out, s)
	}
	return out
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
		if n > 1000 {
			return 0
		}
	}
	return n
}
