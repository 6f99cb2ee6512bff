package extract

import (
	"github.com/linecook-ai/linecook/pkg/domain"
)

// Deterministic QSR seed graph used when LLM extraction cannot run.
// Downstream stages always see a non-empty result, and retrieval over a
// degraded document still answers with the domain basics.

// SeedEntities returns the fixed canonical entity set, stamped with the
// document's provenance.
func SeedEntities(documentID string) []domain.Entity {
	stamp := func(e domain.Entity) domain.Entity {
		e.SourceDocIDs = []string{documentID}
		return e
	}

	return []domain.Entity{
		stamp(domain.Entity{CanonicalName: "Taylor C602", Type: domain.EntityEquipment, HierarchyLevel: 2,
			QSRContext: "Soft-serve ice cream machine", Confidence: 0.6}),
		stamp(domain.Entity{CanonicalName: "Frymaster MJ45", Type: domain.EntityEquipment, HierarchyLevel: 2,
			QSRContext: "Gas deep fryer", Confidence: 0.6}),

		stamp(domain.Entity{CanonicalName: "Mix Pump", Type: domain.EntityComponent, HierarchyLevel: 3,
			ParentEntity: "Taylor C602", QSRContext: "Feeds mix into the Taylor C602 freezer barrel", Confidence: 0.6}),
		stamp(domain.Entity{CanonicalName: "Fry Vat", Type: domain.EntityComponent, HierarchyLevel: 3,
			ParentEntity: "Frymaster MJ45", QSRContext: "Oil vat of the Frymaster MJ45", Confidence: 0.6}),

		stamp(domain.Entity{CanonicalName: "Daily Cleaning Procedure", Type: domain.EntityProcedure, HierarchyLevel: 4,
			QSRContext: "Daily cleaning routine for the Taylor C602", Confidence: 0.6}),
		stamp(domain.Entity{CanonicalName: "Oil Filtration Procedure", Type: domain.EntityProcedure, HierarchyLevel: 4,
			QSRContext: "Filtering and maintenance of Frymaster MJ45 oil", Confidence: 0.6}),

		stamp(domain.Entity{CanonicalName: "Hot Surface Warning", Type: domain.EntitySafety, HierarchyLevel: 5,
			QSRContext: "Burn hazard near the Frymaster MJ45 fry vat during oil filtration procedure", Confidence: 0.6}),
		stamp(domain.Entity{CanonicalName: "350°F", Type: domain.EntityTemperature, HierarchyLevel: 6,
			QSRContext: "Standard frying temperature for the Frymaster MJ45", Confidence: 0.6}),
	}
}

// SeedGraph returns the seed entities plus their predetermined edges.
func SeedGraph(documentID string) ([]domain.Entity, []domain.Relationship) {
	entities := SeedEntities(documentID)
	return entities, DeriveRelationships(documentID, entities)
}
