package domain

import "context"

// Embedder converts text into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// GenerationOptions tunes a single LLM call.
type GenerationOptions struct {
	Temperature float64
	MaxTokens   int
}

// Generator is the narrow LLM client the core depends on.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts *GenerationOptions) (string, error)
	// GenerateStructured asks for JSON conforming to the schema of out and
	// unmarshals into it. Implementations return ErrContentMalformed when
	// the model answers with something that does not parse.
	GenerateStructured(ctx context.Context, prompt string, out interface{}, opts *GenerationOptions) error
}

// GraphStore is the property graph the dual-writer and retriever share.
type GraphStore interface {
	UpsertDocument(ctx context.Context, doc Document) error
	GetDocument(ctx context.Context, id string) (Document, error)
	ListDocuments(ctx context.Context) ([]Document, error)

	UpsertEntity(ctx context.Context, e Entity) error
	GetEntity(ctx context.Context, canonicalName string, typ EntityType) (Entity, error)
	FindEntities(ctx context.Context, terms []string, limit int) ([]Entity, error)
	EntitiesForDocument(ctx context.Context, documentID string) ([]Entity, error)

	UpsertRelationship(ctx context.Context, r Relationship) error
	RelationshipsFrom(ctx context.Context, canonicalName string, typ EntityType, rel RelationType) ([]Relationship, error)

	UpsertCitation(ctx context.Context, c VisualCitation) error
	GetCitation(ctx context.Context, citationID string) (VisualCitation, error)
	CitationsForDocument(ctx context.Context, documentID string) ([]VisualCitation, error)

	// DeleteDocumentCascade removes the document node, its citations, its
	// provenance on entities, sole-provenance entities themselves, and any
	// relationship left without both endpoints.
	DeleteDocumentCascade(ctx context.Context, documentID string) error

	Stats(ctx context.Context) (GraphStats, error)
	Close() error
}

// ChunkIndex stores chunks for vector and lexical retrieval.
type ChunkIndex interface {
	// ReplaceChunks swaps the whole chunk set for a document atomically.
	ReplaceChunks(ctx context.Context, documentID string, chunks []Chunk) error
	Search(ctx context.Context, vector []float64, topK int) ([]Chunk, error)
	SearchKeyword(ctx context.Context, terms []string, topK int) ([]Chunk, error)
	ChunksForDocument(ctx context.Context, documentID string) ([]Chunk, error)
	DeleteDocument(ctx context.Context, documentID string) error
	Close() error
}

// BlobStore persists raw uploaded bytes.
type BlobStore interface {
	Put(ctx context.Context, documentID, safeFilename string, data []byte) (path string, err error)
	Get(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
}

// ProgressStore tracks per-upload pipeline state. The orchestrator is the
// sole writer; readers observe coherent snapshots.
type ProgressStore interface {
	Create(rec ProgressRecord)
	// Update applies the stage/percent/message triple atomically. Percent
	// regressions and writes to terminal records are rejected with
	// ErrInternalInvariant.
	Update(processID string, stage Stage, percent int, message string, terminal bool) error
	SetCounts(processID string, entities, relationships int)
	Get(processID string) (ProgressRecord, error)
}

// RenderedImage is one artifact found on a document page.
type RenderedImage struct {
	Page int
	XRef int
	BBox []float64
	PNG  []byte
}

// PageRenderer is the external renderer used to enumerate and materialize
// visual artifacts. Implementations convert non-RGB color spaces and
// always return PNG bytes.
type PageRenderer interface {
	PageCount(ctx context.Context, blob []byte) (int, error)
	PageImages(ctx context.Context, blob []byte, page int) ([]RenderedImage, error)
	RenderRegion(ctx context.Context, blob []byte, page int, bbox []float64) ([]byte, error)
}
