package extract

import (
	"strings"

	"github.com/linecook-ai/linecook/pkg/domain"
)

// Relationship derivation. Two sources: the extracted parent hierarchy
// (BELONGS_TO) and deterministic co-mention rules for the semantic edge
// types.

var procedureVerbs = []string{"cleaning", "maintenance", "service", "repair"}

// DeriveRelationships emits the full relationship set for one document's
// deduplicated entities.
func DeriveRelationships(documentID string, entities []domain.Entity) []domain.Relationship {
	var rels []domain.Relationship
	rels = append(rels, deriveHierarchical(documentID, entities)...)
	rels = append(rels, deriveSemantic(documentID, entities)...)
	return dedupRelationships(rels)
}

// deriveHierarchical links each child to the first matching parent at
// hierarchy level - 1.
func deriveHierarchical(documentID string, entities []domain.Entity) []domain.Relationship {
	var rels []domain.Relationship
	for _, child := range entities {
		if child.ParentEntity == "" {
			continue
		}
		for _, parent := range entities {
			if parent.CanonicalName != child.ParentEntity {
				continue
			}
			if parent.HierarchyLevel != child.HierarchyLevel-1 {
				continue
			}
			rels = append(rels, domain.Relationship{
				SourceName:   child.CanonicalName,
				SourceType:   child.Type,
				TargetName:   parent.CanonicalName,
				TargetType:   parent.Type,
				Type:         domain.RelBelongsTo,
				SourceDocIDs: []string{documentID},
				Confidence:   minConfidence(child.Confidence, parent.Confidence),
			})
			break
		}
	}
	return rels
}

func deriveSemantic(documentID string, entities []domain.Entity) []domain.Relationship {
	byType := map[domain.EntityType][]domain.Entity{}
	for _, e := range entities {
		byType[e.Type] = append(byType[e.Type], e)
	}

	var rels []domain.Relationship
	emit := func(src, dst domain.Entity, rel domain.RelationType) {
		rels = append(rels, domain.Relationship{
			SourceName:   src.CanonicalName,
			SourceType:   src.Type,
			TargetName:   dst.CanonicalName,
			TargetType:   dst.Type,
			Type:         rel,
			SourceDocIDs: []string{documentID},
			Confidence:   minConfidence(src.Confidence, dst.Confidence),
		})
	}

	// PROCEDURE_FOR: a procedure serves equipment it mentions, or any
	// co-mentioned equipment when the procedure is a service verb.
	for _, proc := range byType[domain.EntityProcedure] {
		for _, equip := range byType[domain.EntityEquipment] {
			if mentionsEquipment(proc, equip) || hasServiceVerb(proc) {
				emit(proc, equip, domain.RelProcedureFor)
			}
		}
	}

	// CONTAINS: equipment contains its co-mentioned components.
	for _, equip := range byType[domain.EntityEquipment] {
		for _, comp := range byType[domain.EntityComponent] {
			if comp.ParentEntity == equip.CanonicalName || mentionsEquipment(comp, equip) {
				emit(equip, comp, domain.RelContains)
			}
		}
	}

	// REQUIRES: procedures require the tools mentioned alongside them.
	for _, proc := range byType[domain.EntityProcedure] {
		for _, tool := range byType[domain.EntityTool] {
			if contextMentions(proc, tool.CanonicalName) || contextMentions(tool, proc.CanonicalName) {
				emit(proc, tool, domain.RelRequires)
			}
		}
	}

	// SAFETY_WARNING_FOR: safety entities attach to equipment and
	// procedures they reference.
	for _, safety := range byType[domain.EntitySafety] {
		for _, equip := range byType[domain.EntityEquipment] {
			if mentionsEquipment(safety, equip) {
				emit(safety, equip, domain.RelSafetyWarningFor)
			}
		}
		for _, proc := range byType[domain.EntityProcedure] {
			if contextMentions(safety, proc.CanonicalName) {
				emit(safety, proc, domain.RelSafetyWarningFor)
			}
		}
	}

	// PARAMETER_OF: temperatures and parameters bind to the equipment or
	// procedure whose context mentions them.
	params := append(append([]domain.Entity{}, byType[domain.EntityTemperature]...), byType[domain.EntityParameter]...)
	for _, param := range params {
		for _, equip := range byType[domain.EntityEquipment] {
			if mentionsEquipment(param, equip) {
				emit(param, equip, domain.RelParameterOf)
			}
		}
		for _, proc := range byType[domain.EntityProcedure] {
			if contextMentions(param, proc.CanonicalName) || contextMentions(proc, param.CanonicalName) {
				emit(param, proc, domain.RelParameterOf)
			}
		}
	}

	// DOCUMENTS: the document node documents every top-level entity.
	for _, docEntity := range byType[domain.EntityDocument] {
		for _, equip := range byType[domain.EntityEquipment] {
			emit(docEntity, equip, domain.RelDocuments)
		}
	}

	return rels
}

// mentionsEquipment reports whether the equipment's canonical name appears
// in the entity's QSR context or name.
func mentionsEquipment(e, equip domain.Entity) bool {
	needle := strings.ToLower(equip.CanonicalName)
	return strings.Contains(strings.ToLower(e.QSRContext), needle) ||
		strings.Contains(strings.ToLower(e.CanonicalName), needle)
}

func contextMentions(e domain.Entity, name string) bool {
	return strings.Contains(strings.ToLower(e.QSRContext), strings.ToLower(name))
}

func hasServiceVerb(proc domain.Entity) bool {
	haystack := strings.ToLower(proc.CanonicalName + " " + proc.QSRContext)
	for _, verb := range procedureVerbs {
		if strings.Contains(haystack, verb) {
			return true
		}
	}
	return false
}

// dedupRelationships drops repeated (src, dst, type) triples, keeping the
// highest confidence.
func dedupRelationships(rels []domain.Relationship) []domain.Relationship {
	type key struct {
		src, dst string
		rel      domain.RelationType
	}
	seen := map[key]int{}
	var out []domain.Relationship
	for _, r := range rels {
		k := key{r.SourceName, r.TargetName, r.Type}
		if i, ok := seen[k]; ok {
			if r.Confidence > out[i].Confidence {
				out[i].Confidence = r.Confidence
			}
			continue
		}
		seen[k] = len(out)
		out = append(out, r)
	}
	return out
}

func minConfidence(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
