package graph

import (
	"context"
	"fmt"

	"github.com/linecook-ai/linecook/pkg/domain"
	"github.com/linecook-ai/linecook/pkg/log"
)

// DualWriter keeps the property graph and the chunk index in step.
// Insertions run top-down (document, entities, relationships, chunks)
// and deletions run bottom-up, so readers never observe chunks for a
// document whose node is missing.
type DualWriter struct {
	graph    domain.GraphStore
	index    domain.ChunkIndex
	embedder domain.Embedder
}

func NewDualWriter(graph domain.GraphStore, index domain.ChunkIndex, embedder domain.Embedder) *DualWriter {
	return &DualWriter{graph: graph, index: index, embedder: embedder}
}

// WriteResult reports what a WriteDocument call actually persisted.
type WriteResult struct {
	Entities      int
	Relationships int
	Chunks        int
	// EmbeddingsSkipped is set when the embedder was unavailable and
	// chunks were indexed for lexical search only.
	EmbeddingsSkipped bool
}

// WriteDocument persists one ingested document and everything extracted
// from it. Every write is an idempotent upsert, so a retried stage
// converges instead of duplicating nodes.
func (w *DualWriter) WriteDocument(ctx context.Context, doc domain.Document, entities []domain.Entity, rels []domain.Relationship, chunks []domain.Chunk) (WriteResult, error) {
	var res WriteResult

	if err := w.graph.UpsertDocument(ctx, doc); err != nil {
		return res, fmt.Errorf("write document node: %w", err)
	}
	if _, err := w.graph.GetDocument(ctx, doc.ID); err != nil {
		return res, fmt.Errorf("%w: document node not readable after write", domain.ErrInternalInvariant)
	}

	for _, e := range entities {
		if err := w.graph.UpsertEntity(ctx, e); err != nil {
			return res, fmt.Errorf("write entity %s: %w", e.CanonicalName, err)
		}
		res.Entities++
	}

	for _, r := range rels {
		if err := w.graph.UpsertRelationship(ctx, r); err != nil {
			return res, fmt.Errorf("write relationship %s->%s: %w", r.SourceName, r.TargetName, err)
		}
		res.Relationships++
	}

	embedded, skipped := w.embedChunks(ctx, chunks)
	res.EmbeddingsSkipped = skipped
	if err := w.index.ReplaceChunks(ctx, doc.ID, embedded); err != nil {
		return res, fmt.Errorf("index chunks: %w", err)
	}
	res.Chunks = len(embedded)

	// Read-back verification: the index must hold exactly what we wrote.
	stored, err := w.index.ChunksForDocument(ctx, doc.ID)
	if err != nil {
		return res, fmt.Errorf("verify chunk index: %w", err)
	}
	if len(stored) != len(embedded) {
		return res, fmt.Errorf("%w: chunk index holds %d of %d chunks", domain.ErrInternalInvariant, len(stored), len(embedded))
	}

	log.Info("document written", "document_id", doc.ID,
		"entities", res.Entities, "relationships", res.Relationships, "chunks", res.Chunks)
	return res, nil
}

// embedChunks attaches vectors. Embedding failures degrade to
// lexical-only indexing rather than failing the whole write.
func (w *DualWriter) embedChunks(ctx context.Context, chunks []domain.Chunk) ([]domain.Chunk, bool) {
	if w.embedder == nil {
		return chunks, len(chunks) > 0
	}
	out := make([]domain.Chunk, 0, len(chunks))
	skipped := false
	for _, c := range chunks {
		vec, err := w.embedder.Embed(ctx, c.Content)
		if err != nil {
			if ctx.Err() != nil {
				return out, skipped
			}
			log.Warn("chunk embedding failed, indexing lexical only", "chunk_id", c.ID, "error", err)
			skipped = true
		} else {
			c.Vector = vec
		}
		out = append(out, c)
	}
	return out, skipped
}

// WriteCitations persists visual citations for an already-written
// document. Kept separate from WriteDocument because citation discovery
// can run after indexing.
func (w *DualWriter) WriteCitations(ctx context.Context, citations []domain.VisualCitation) error {
	for _, c := range citations {
		if err := w.graph.UpsertCitation(ctx, c); err != nil {
			return fmt.Errorf("write citation %s: %w", c.ID, err)
		}
	}
	return nil
}

// DeleteDocument removes a document from both stores, chunks first so a
// concurrent reader cannot retrieve chunks whose document is gone.
func (w *DualWriter) DeleteDocument(ctx context.Context, documentID string) error {
	if err := w.index.DeleteDocument(ctx, documentID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if err := w.graph.DeleteDocumentCascade(ctx, documentID); err != nil {
		return fmt.Errorf("delete graph nodes: %w", err)
	}
	log.Info("document deleted", "document_id", documentID)
	return nil
}
