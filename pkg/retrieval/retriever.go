package retrieval

import (
	"context"
	"sort"
	"strings"

	"github.com/linecook-ai/linecook/pkg/config"
	"github.com/linecook-ai/linecook/pkg/domain"
	"github.com/linecook-ai/linecook/pkg/log"
)

// ModeFunc reports the current degradation mode. Wired to the ingest
// mode controller so retrieval shrinks its work under pressure.
type ModeFunc func() domain.DegradationMode

type Retriever struct {
	graph    domain.GraphStore
	index    domain.ChunkIndex
	embedder domain.Embedder
	cfg      config.RetrievalConfig
	mode     ModeFunc
}

func NewRetriever(graph domain.GraphStore, index domain.ChunkIndex, embedder domain.Embedder, cfg config.RetrievalConfig, mode ModeFunc) *Retriever {
	if mode == nil {
		mode = func() domain.DegradationMode { return domain.ModeNormal }
	}
	return &Retriever{graph: graph, index: index, embedder: embedder, cfg: cfg, mode: mode}
}

// scoredEntity pairs an entity with its relevance and ancestor path.
type scoredEntity struct {
	entity    domain.Entity
	score     float64
	ancestors []string
}

// result is everything retrieval gathered for the composer.
type result struct {
	queryType domain.QueryType
	terms     []string
	entities  []scoredEntity
	documents map[string]domain.Document
	chunks    []domain.Chunk
	degraded  bool
}

func (r *Retriever) retrieve(ctx context.Context, req domain.QueryRequest) (result, error) {
	res := result{
		queryType: Classify(req.Text),
		terms:     KeyTerms(req.Text),
		documents: map[string]domain.Document{},
	}

	maxResults := req.MaxResults
	if maxResults <= 0 {
		maxResults = r.cfg.MaxResults
	}
	if maxResults <= 0 {
		maxResults = 10
	}
	topK := r.cfg.TopK
	if topK <= 0 {
		topK = 5
	}
	depth := r.cfg.TraversalDepth
	if depth <= 0 {
		depth = 3
	}
	if r.mode() == domain.ModeMemoryConstrained {
		// Shrink fan-out under memory pressure.
		if topK > 2 {
			topK = topK / 2
		}
		depth = 1
		res.degraded = true
	}
	if r.mode() == domain.ModeLocalQueue {
		res.degraded = true
	}

	// Entity-level retrieval.
	candidates, err := r.graph.FindEntities(ctx, res.terms, maxResults*3)
	if err != nil {
		return res, err
	}
	for _, e := range candidates {
		score := scoreEntity(e, res.terms)
		if score <= 0 {
			continue
		}
		res.entities = append(res.entities, scoredEntity{
			entity:    e,
			score:     score,
			ancestors: r.ancestors(ctx, e, depth),
		})
	}
	sort.SliceStable(res.entities, func(i, j int) bool { return res.entities[i].score > res.entities[j].score })
	if len(res.entities) > maxResults {
		res.entities = res.entities[:maxResults]
	}

	// Document-level retrieval over the entities' provenance.
	for _, se := range res.entities {
		for _, docID := range se.entity.SourceDocIDs {
			if _, ok := res.documents[docID]; ok {
				continue
			}
			doc, err := r.graph.GetDocument(ctx, docID)
			if err != nil {
				continue
			}
			res.documents[docID] = doc
		}
	}

	// Vector retrieval, with lexical fallback when embedding is down.
	res.chunks = r.searchChunks(ctx, req.Text, res.terms, topK)

	// Chunks can surface documents the graph walk missed.
	for _, c := range res.chunks {
		if _, ok := res.documents[c.DocumentID]; !ok {
			if doc, err := r.graph.GetDocument(ctx, c.DocumentID); err == nil {
				res.documents[c.DocumentID] = doc
			}
		}
	}

	return res, nil
}

// scoreEntity implements the relevance formula: weighted name, surface,
// and context matches plus a confidence boost, with a multiplier for
// entities high in the hierarchy.
func scoreEntity(e domain.Entity, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}

	name := strings.ToLower(e.CanonicalName)
	surface := strings.ToLower(e.SurfaceForm)
	qsrContext := strings.ToLower(e.QSRContext)

	var nameHits, surfaceHits, contextHits int
	for _, term := range terms {
		if strings.Contains(name, term) {
			nameHits++
		}
		if strings.Contains(surface, term) {
			surfaceHits++
		}
		if strings.Contains(qsrContext, term) {
			contextHits++
		}
	}
	if nameHits+surfaceHits+contextHits == 0 {
		return 0
	}

	n := float64(len(terms))
	score := 0.5*float64(nameHits)/n + 0.3*float64(surfaceHits)/n + 0.1*float64(contextHits)/n
	score += 0.2 * e.Confidence
	if e.HierarchyLevel > 0 && e.HierarchyLevel <= 3 {
		score *= 1.2
	}
	return score
}

// ancestors walks BELONGS_TO edges upward, bounded by depth.
func (r *Retriever) ancestors(ctx context.Context, e domain.Entity, depth int) []string {
	var path []string
	current := e
	for i := 0; i < depth; i++ {
		rels, err := r.graph.RelationshipsFrom(ctx, current.CanonicalName, current.Type, domain.RelBelongsTo)
		if err != nil || len(rels) == 0 {
			break
		}
		parent := rels[0]
		path = append(path, parent.TargetName)

		next, err := r.graph.GetEntity(ctx, parent.TargetName, parent.TargetType)
		if err != nil {
			break
		}
		current = next
	}
	return path
}

func (r *Retriever) searchChunks(ctx context.Context, query string, terms []string, topK int) []domain.Chunk {
	if r.embedder != nil {
		vec, err := r.embedder.Embed(ctx, query)
		if err == nil {
			chunks, serr := r.index.Search(ctx, vec, topK)
			if serr == nil && len(chunks) > 0 {
				return chunks
			}
		} else {
			log.Warn("query embedding failed, using keyword search", "error", err)
		}
	}

	chunks, err := r.index.SearchKeyword(ctx, terms, topK)
	if err != nil {
		log.Warn("keyword search failed", "error", err)
		return nil
	}
	return chunks
}
