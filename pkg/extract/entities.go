package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/linecook-ai/linecook/pkg/domain"
)

const entityPromptTemplate = `Extract entities from this quick-service restaurant document.
Follow the hierarchy Manual -> Equipment_Type -> Equipment_Model -> Procedure -> Step -> Detail
(hierarchy_level 1 through 6).

Return a JSON object: {"entities": [...]} where each entity has:
entity_text, entity_type, canonical_name, hierarchy_level, parent_entity,
page_reference, section_context, qsr_context, confidence.

entity_type must be one of: equipment, procedure, step, component,
temperature, safety, parameter, tool, document, entity.
confidence is a number in [0,1]. page_reference is the page number the
entity appears on, or 0 if unknown.

Document summary:
%s

Document text (may be truncated):
%s`

// maxEntityInput bounds the document text sent for entity extraction.
const maxEntityInput = 16000

// rawEntity mirrors the LLM's answer shape before normalization.
type rawEntity struct {
	EntityText     string  `json:"entity_text"`
	EntityType     string  `json:"entity_type"`
	CanonicalName  string  `json:"canonical_name"`
	HierarchyLevel int     `json:"hierarchy_level"`
	ParentEntity   string  `json:"parent_entity"`
	PageReference  int     `json:"page_reference"`
	SectionContext string  `json:"section_context"`
	QSRContext     string  `json:"qsr_context"`
	Confidence     float64 `json:"confidence"`
}

type entityEnvelope struct {
	Entities []rawEntity `json:"entities"`
}

// ExtractEntities asks the LLM for the entity list and normalizes every
// record. The caller decides whether a failure routes to the seed graph.
func ExtractEntities(ctx context.Context, generator domain.Generator, documentID string, summary domain.DocumentSummary, pages []PageText) ([]domain.Entity, error) {
	if generator == nil {
		return nil, fmt.Errorf("%w: no generator configured", domain.ErrUpstreamUnavailable)
	}

	text := JoinPages(pages)
	if len(text) > maxEntityInput {
		text = text[:maxEntityInput]
	}
	prompt := fmt.Sprintf(entityPromptTemplate, summary.ExecutiveSummary, text)

	var envelope entityEnvelope
	if err := generator.GenerateStructured(ctx, prompt, &envelope, &domain.GenerationOptions{Temperature: 0.1, MaxTokens: 4000}); err != nil {
		return nil, err
	}
	if len(envelope.Entities) == 0 {
		return nil, fmt.Errorf("%w: extraction returned no entities", domain.ErrContentMalformed)
	}

	entities := make([]domain.Entity, 0, len(envelope.Entities))
	for _, raw := range envelope.Entities {
		name := strings.TrimSpace(raw.CanonicalName)
		if name == "" {
			name = strings.TrimSpace(raw.EntityText)
		}
		if name == "" {
			continue
		}

		e := domain.Entity{
			CanonicalName:  name,
			SurfaceForm:    strings.TrimSpace(raw.EntityText),
			Type:           parseEntityType(raw.EntityType),
			HierarchyLevel: raw.HierarchyLevel,
			ParentEntity:   strings.TrimSpace(raw.ParentEntity),
			QSRContext:     raw.QSRContext,
			Confidence:     raw.Confidence,
			SourceDocIDs:   []string{documentID},
		}
		if raw.PageReference > 0 {
			e.PageRefs = []int{raw.PageReference}
		}
		entities = append(entities, NormalizeEntity(e))
	}

	if len(entities) == 0 {
		return nil, fmt.Errorf("%w: all extracted entities were empty", domain.ErrContentMalformed)
	}
	return entities, nil
}

func parseEntityType(s string) domain.EntityType {
	switch domain.EntityType(strings.ToLower(strings.TrimSpace(s))) {
	case domain.EntityEquipment:
		return domain.EntityEquipment
	case domain.EntityProcedure:
		return domain.EntityProcedure
	case domain.EntityStep:
		return domain.EntityStep
	case domain.EntityComponent:
		return domain.EntityComponent
	case domain.EntityTemperature:
		return domain.EntityTemperature
	case domain.EntitySafety:
		return domain.EntitySafety
	case domain.EntityParameter:
		return domain.EntityParameter
	case domain.EntityTool:
		return domain.EntityTool
	case domain.EntityDocument:
		return domain.EntityDocument
	default:
		return domain.EntityGeneric
	}
}
