package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linecook-ai/linecook/pkg/domain"
)

type fakeIndex struct {
	chunks map[string][]domain.Chunk
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{chunks: map[string][]domain.Chunk{}}
}

func (f *fakeIndex) ReplaceChunks(_ context.Context, documentID string, chunks []domain.Chunk) error {
	f.chunks[documentID] = chunks
	return nil
}

func (f *fakeIndex) Search(_ context.Context, _ []float64, _ int) ([]domain.Chunk, error) {
	return nil, nil
}

func (f *fakeIndex) SearchKeyword(_ context.Context, _ []string, _ int) ([]domain.Chunk, error) {
	return nil, nil
}

func (f *fakeIndex) ChunksForDocument(_ context.Context, documentID string) ([]domain.Chunk, error) {
	return f.chunks[documentID], nil
}

func (f *fakeIndex) DeleteDocument(_ context.Context, documentID string) error {
	delete(f.chunks, documentID)
	return nil
}

func (f *fakeIndex) Close() error { return nil }

type fakeEmbedder struct {
	fail bool
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	if f.fail {
		return nil, errors.New("embedder down")
	}
	return []float64{float64(len(text)), 1}, nil
}

func TestWriteDocumentOrdering(t *testing.T) {
	store := newTestStore(t)
	index := newFakeIndex()
	writer := NewDualWriter(store, index, &fakeEmbedder{})
	ctx := context.Background()

	doc := testDocument("doc-1")
	entities := []domain.Entity{
		{CanonicalName: "Taylor C602", Type: domain.EntityEquipment,
			HierarchyLevel: 2, SourceDocIDs: []string{"doc-1"}, Confidence: 0.8},
	}
	rels := []domain.Relationship{
		{SourceName: "Cleaning", SourceType: domain.EntityProcedure,
			TargetName: "Taylor C602", TargetType: domain.EntityEquipment,
			Type: domain.RelProcedureFor, SourceDocIDs: []string{"doc-1"}, Confidence: 0.7},
	}
	chunks := []domain.Chunk{
		{ID: "doc-1_0", DocumentID: "doc-1", Content: "clean the machine", Page: 1},
	}

	res, err := writer.WriteDocument(ctx, doc, entities, rels, chunks)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Entities)
	assert.Equal(t, 1, res.Relationships)
	assert.Equal(t, 1, res.Chunks)
	assert.False(t, res.EmbeddingsSkipped)

	stored := index.chunks["doc-1"]
	require.Len(t, stored, 1)
	assert.NotEmpty(t, stored[0].Vector)
}

func TestWriteDocumentIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	writer := NewDualWriter(store, newFakeIndex(), &fakeEmbedder{})
	ctx := context.Background()

	doc := testDocument("doc-1")
	entities := []domain.Entity{
		{CanonicalName: "Taylor C602", Type: domain.EntityEquipment,
			SourceDocIDs: []string{"doc-1"}, Confidence: 0.8},
	}

	_, err := writer.WriteDocument(ctx, doc, entities, nil, nil)
	require.NoError(t, err)
	_, err = writer.WriteDocument(ctx, doc, entities, nil, nil)
	require.NoError(t, err)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Nodes)
	assert.Equal(t, 1, stats.Documents)
}

func TestWriteDocumentDegradesWithoutEmbedder(t *testing.T) {
	store := newTestStore(t)
	index := newFakeIndex()
	writer := NewDualWriter(store, index, &fakeEmbedder{fail: true})
	ctx := context.Background()

	chunks := []domain.Chunk{{ID: "doc-1_0", DocumentID: "doc-1", Content: "text", Page: 1}}
	res, err := writer.WriteDocument(ctx, testDocument("doc-1"), nil, nil, chunks)
	require.NoError(t, err)
	assert.True(t, res.EmbeddingsSkipped)

	stored := index.chunks["doc-1"]
	require.Len(t, stored, 1)
	assert.Empty(t, stored[0].Vector)
}

func TestDeleteDocumentRemovesBothSides(t *testing.T) {
	store := newTestStore(t)
	index := newFakeIndex()
	writer := NewDualWriter(store, index, &fakeEmbedder{})
	ctx := context.Background()

	chunks := []domain.Chunk{{ID: "doc-1_0", DocumentID: "doc-1", Content: "text", Page: 1}}
	entities := []domain.Entity{
		{CanonicalName: "Sole Pump", Type: domain.EntityComponent,
			SourceDocIDs: []string{"doc-1"}, Confidence: 0.7},
	}
	_, err := writer.WriteDocument(ctx, testDocument("doc-1"), entities, nil, chunks)
	require.NoError(t, err)

	require.NoError(t, writer.DeleteDocument(ctx, "doc-1"))

	assert.Empty(t, index.chunks["doc-1"])
	_, err = store.GetDocument(ctx, "doc-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = store.GetEntity(ctx, "Sole Pump", domain.EntityComponent)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestWriteCitations(t *testing.T) {
	store := newTestStore(t)
	writer := NewDualWriter(store, newFakeIndex(), nil)
	ctx := context.Background()

	citations := []domain.VisualCitation{
		{ID: "c1", Type: domain.CitationTable, DocumentID: "doc-1", Page: 2, RefText: "table 1"},
	}
	require.NoError(t, writer.WriteCitations(ctx, citations))

	got, err := store.CitationsForDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
