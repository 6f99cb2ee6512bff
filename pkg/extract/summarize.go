package extract

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/linecook-ai/linecook/pkg/domain"
	"github.com/linecook-ai/linecook/pkg/log"
)

const summaryPromptTemplate = `You are analyzing a quick-service restaurant document.
Produce a JSON object with exactly these fields:
purpose, equipment_focus, target_audience, document_type, qsr_category,
key_procedures, safety_protocols, critical_temperatures,
maintenance_schedules, brand_context, executive_summary,
hierarchical_sections.

document_type must be one of: service-manual, cleaning-guide,
safety-protocol, operation-guide, installation-manual,
troubleshooting-guide, training, reference.
qsr_category must be one of: ice-cream, fryer, grill, beverage,
refrigeration, cleaning, general.

Filename: %s

Document text (may be truncated):
%s`

// maxSummaryInput bounds how much document text goes into the prompt.
const maxSummaryInput = 12000

// Summarizer produces the structured document summary, falling back to a
// rule-based classifier when the LLM answer does not parse.
type Summarizer struct {
	generator domain.Generator
}

func NewSummarizer(generator domain.Generator) *Summarizer {
	return &Summarizer{generator: generator}
}

// Summarize asks the LLM for the structured summary. Any parse failure or
// upstream error routes to the rule-based fallback; summarization never
// fails the pipeline.
func (s *Summarizer) Summarize(ctx context.Context, filename, text string) (domain.DocumentSummary, error) {
	if s.generator != nil {
		if len(text) > maxSummaryInput {
			text = text[:maxSummaryInput]
		}
		prompt := fmt.Sprintf(summaryPromptTemplate, filename, text)

		var summary domain.DocumentSummary
		err := s.generator.GenerateStructured(ctx, prompt, &summary, &domain.GenerationOptions{Temperature: 0.1, MaxTokens: 1500})
		if err == nil {
			return normalizeSummary(summary, filename, text), nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return domain.DocumentSummary{}, err
		}
		log.Warnf("structured summary failed, using rule-based classifier: %v", err)
	}

	return RuleBasedSummary(filename, text), nil
}

// normalizeSummary forces out-of-vocabulary LLM answers back into the
// closed sets.
func normalizeSummary(s domain.DocumentSummary, filename, text string) domain.DocumentSummary {
	if !validDocumentType(s.DocumentType) {
		s.DocumentType = classifyDocumentType(filename, text)
	}
	if !validCategory(s.Category) {
		s.Category = classifyCategory(filename, text)
	}
	if strings.TrimSpace(s.ExecutiveSummary) == "" {
		s.ExecutiveSummary = fallbackExecutiveSummary(filename, s.Category)
	}
	return s
}

// RuleBasedSummary fills the summary shape from filename patterns and
// keyword tables when the LLM path is unavailable.
func RuleBasedSummary(filename, text string) domain.DocumentSummary {
	category := classifyCategory(filename, text)
	docType := classifyDocumentType(filename, text)

	return domain.DocumentSummary{
		Purpose:          fmt.Sprintf("Reference material for %s equipment and procedures", category),
		EquipmentFocus:   string(category),
		TargetAudience:   "QSR crew and maintenance staff",
		DocumentType:     docType,
		Category:         category,
		ExecutiveSummary: fallbackExecutiveSummary(filename, category),
		Sections:         headingLines(text, 12),
	}
}

var categoryKeywords = map[domain.QSRCategory][]string{
	domain.CategoryIceCream:      {"ice cream", "soft serve", "shake", "taylor", "freezer barrel"},
	domain.CategoryFryer:         {"fryer", "fry", "oil", "vat", "frymaster", "shortening"},
	domain.CategoryGrill:         {"grill", "griddle", "platen", "clamshell"},
	domain.CategoryBeverage:      {"beverage", "soda", "drink", "coffee", "espresso", "carbonat"},
	domain.CategoryRefrigeration: {"refrigerat", "freezer", "cooler", "walk-in", "compressor", "condenser"},
	domain.CategoryCleaning:      {"clean", "saniti", "degrease", "detergent", "rinse"},
}

var documentTypeKeywords = map[domain.DocumentType][]string{
	domain.DocTypeCleaningGuide:       {"cleaning", "sanitize", "sanitation"},
	domain.DocTypeSafetyProtocol:      {"safety", "hazard", "lockout", "msds"},
	domain.DocTypeTroubleshootingGuide: {"troubleshoot", "diagnostic", "fault", "error code"},
	domain.DocTypeInstallationManual:  {"install", "installation", "setup"},
	domain.DocTypeTraining:            {"training", "crew guide", "orientation"},
	domain.DocTypeOperationGuide:      {"operation", "operating", "daily use"},
	domain.DocTypeServiceManual:       {"service", "maintenance", "repair", "parts"},
}

func classifyCategory(filename, text string) domain.QSRCategory {
	haystack := strings.ToLower(filename + " " + firstN(text, 4000))
	best := domain.CategoryGeneral
	bestHits := 0
	for category, keywords := range categoryKeywords {
		hits := 0
		for _, kw := range keywords {
			hits += strings.Count(haystack, kw)
		}
		if hits > bestHits {
			best, bestHits = category, hits
		}
	}
	return best
}

func classifyDocumentType(filename, text string) domain.DocumentType {
	haystack := strings.ToLower(filename + " " + firstN(text, 4000))
	// Ordered scan: the first matching type wins so "cleaning" beats the
	// catch-all "service" keywords.
	ordered := []domain.DocumentType{
		domain.DocTypeCleaningGuide,
		domain.DocTypeSafetyProtocol,
		domain.DocTypeTroubleshootingGuide,
		domain.DocTypeInstallationManual,
		domain.DocTypeTraining,
		domain.DocTypeOperationGuide,
		domain.DocTypeServiceManual,
	}
	for _, dt := range ordered {
		for _, kw := range documentTypeKeywords[dt] {
			if strings.Contains(haystack, kw) {
				return dt
			}
		}
	}
	return domain.DocTypeReference
}

func fallbackExecutiveSummary(filename string, category domain.QSRCategory) string {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	base = strings.NewReplacer("-", " ", "_", " ").Replace(base)
	return fmt.Sprintf("%s: %s reference document.", strings.TrimSpace(base), category)
}

// headingLines picks plausible section headings: short lines that are not
// sentence-like.
func headingLines(text string, limit int) []string {
	var sections []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || len(line) > 60 || strings.HasSuffix(line, ".") {
			continue
		}
		if len(strings.Fields(line)) > 8 {
			continue
		}
		sections = append(sections, line)
		if len(sections) >= limit {
			break
		}
	}
	return sections
}

func validDocumentType(t domain.DocumentType) bool {
	switch t {
	case domain.DocTypeServiceManual, domain.DocTypeCleaningGuide, domain.DocTypeSafetyProtocol,
		domain.DocTypeOperationGuide, domain.DocTypeInstallationManual,
		domain.DocTypeTroubleshootingGuide, domain.DocTypeTraining, domain.DocTypeReference:
		return true
	}
	return false
}

func validCategory(c domain.QSRCategory) bool {
	switch c {
	case domain.CategoryIceCream, domain.CategoryFryer, domain.CategoryGrill,
		domain.CategoryBeverage, domain.CategoryRefrigeration, domain.CategoryCleaning,
		domain.CategoryGeneral:
		return true
	}
	return false
}

func firstN(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
