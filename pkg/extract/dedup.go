package extract

import (
	"context"
	"errors"
	"sort"

	"github.com/linecook-ai/linecook/pkg/domain"
)

// DedupResult reports how many raw records were merged away.
type DedupResult struct {
	Entities []domain.Entity
	Merged   int
}

// DedupWithinDocument groups extracted entities by (canonical_name,
// entity_type). Each group keeps its most complete record, unions page
// references, and bumps confidence by +0.1 capped at 0.95.
func DedupWithinDocument(entities []domain.Entity) DedupResult {
	type key struct {
		name string
		typ  domain.EntityType
	}

	groups := make(map[key][]domain.Entity)
	var order []key
	for _, e := range entities {
		k := key{e.CanonicalName, e.Type}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], e)
	}

	result := DedupResult{Entities: make([]domain.Entity, 0, len(order))}
	for _, k := range order {
		group := groups[k]
		best := group[0]
		for _, e := range group[1:] {
			if completeness(e) > completeness(best) {
				best = e
			}
		}
		if len(group) > 1 {
			pages := map[int]bool{}
			for _, e := range group {
				for _, p := range e.PageRefs {
					pages[p] = true
				}
			}
			best.PageRefs = sortedPages(pages)
			best.Confidence += 0.1
			if best.Confidence > 0.95 {
				best.Confidence = 0.95
			}
			result.Merged += len(group) - 1
		}
		result.Entities = append(result.Entities, best)
	}
	return result
}

// completeness counts non-empty fields; the most complete record survives
// a merge.
func completeness(e domain.Entity) int {
	n := 0
	if e.SurfaceForm != "" {
		n++
	}
	if e.ParentEntity != "" {
		n++
	}
	if e.QSRContext != "" {
		n++
	}
	if len(e.PageRefs) > 0 {
		n++
	}
	if e.HierarchyLevel > 0 {
		n++
	}
	if e.Confidence > 0 {
		n++
	}
	return n
}

// MergeAcrossDocuments reconciles deduplicated entities against the graph:
// known (canonical_name, entity_type) pairs absorb the new provenance,
// unknown ones pass through for insertion.
func MergeAcrossDocuments(ctx context.Context, graph domain.GraphStore, entities []domain.Entity) ([]domain.Entity, error) {
	merged := make([]domain.Entity, 0, len(entities))
	for _, e := range entities {
		existing, err := graph.GetEntity(ctx, e.CanonicalName, e.Type)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				merged = append(merged, e)
				continue
			}
			return nil, err
		}
		merged = append(merged, unionProvenance(existing, e))
	}
	return merged, nil
}

func unionProvenance(existing, incoming domain.Entity) domain.Entity {
	out := existing
	out.SourceDocIDs = unionStrings(existing.SourceDocIDs, incoming.SourceDocIDs)

	pages := map[int]bool{}
	for _, p := range existing.PageRefs {
		pages[p] = true
	}
	for _, p := range incoming.PageRefs {
		pages[p] = true
	}
	out.PageRefs = sortedPages(pages)

	if incoming.Confidence > out.Confidence {
		out.Confidence = incoming.Confidence
	}
	if out.QSRContext == "" {
		out.QSRContext = incoming.QSRContext
	}
	if out.ParentEntity == "" {
		out.ParentEntity = incoming.ParentEntity
	}
	return out
}

func unionStrings(a, b []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range append(append([]string{}, a...), b...) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func sortedPages(pages map[int]bool) []int {
	out := make([]int, 0, len(pages))
	for p := range pages {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}
