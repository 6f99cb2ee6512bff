package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linecook-ai/linecook/pkg/domain"
)

func newTestIndex(t *testing.T) *SQLiteIndex {
	t.Helper()
	idx, err := NewSQLiteIndex(filepath.Join(t.TempDir(), "chunks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestReplaceChunksSwapsAtomically(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	first := []domain.Chunk{
		{ID: "doc-1_0", DocumentID: "doc-1", Content: "old content", Page: 1},
		{ID: "doc-1_1", DocumentID: "doc-1", Content: "more old content", Page: 2},
	}
	require.NoError(t, idx.ReplaceChunks(ctx, "doc-1", first))

	second := []domain.Chunk{
		{ID: "doc-1_0", DocumentID: "doc-1", Content: "new content", Page: 1},
	}
	require.NoError(t, idx.ReplaceChunks(ctx, "doc-1", second))

	got, err := idx.ChunksForDocument(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new content", got[0].Content)
}

func TestSearchRanksByCosine(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	chunks := []domain.Chunk{
		{ID: "a", DocumentID: "doc-1", Content: "aligned", Vector: []float64{1, 0}},
		{ID: "b", DocumentID: "doc-1", Content: "orthogonal", Vector: []float64{0, 1}},
		{ID: "c", DocumentID: "doc-1", Content: "diagonal", Vector: []float64{1, 1}},
	}
	require.NoError(t, idx.ReplaceChunks(ctx, "doc-1", chunks))

	got, err := idx.Search(ctx, []float64{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "c", got[1].ID)
	assert.Greater(t, got[0].Score, got[1].Score)
}

func TestSearchSkipsVectorlessChunks(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	chunks := []domain.Chunk{
		{ID: "a", DocumentID: "doc-1", Content: "vectored", Vector: []float64{1, 0}},
		{ID: "b", DocumentID: "doc-1", Content: "lexical only"},
	}
	require.NoError(t, idx.ReplaceChunks(ctx, "doc-1", chunks))

	got, err := idx.Search(ctx, []float64{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)

	// The vectorless chunk is still reachable lexically.
	got, err = idx.SearchKeyword(ctx, []string{"lexical"}, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)
}

func TestSearchKeywordScoresByTermHits(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	chunks := []domain.Chunk{
		{ID: "a", DocumentID: "doc-1", Content: "clean the fryer vat with degreaser"},
		{ID: "b", DocumentID: "doc-1", Content: "the fryer holds oil"},
		{ID: "c", DocumentID: "doc-1", Content: "unrelated grill notes"},
	}
	require.NoError(t, idx.ReplaceChunks(ctx, "doc-1", chunks))

	got, err := idx.SearchKeyword(ctx, []string{"fryer", "clean"}, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.InDelta(t, 1.0, got[0].Score, 1e-9)
	assert.InDelta(t, 0.5, got[1].Score, 1e-9)
}

func TestDeleteDocumentScopesToDocument(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.ReplaceChunks(ctx, "doc-1", []domain.Chunk{
		{ID: "doc-1_0", DocumentID: "doc-1", Content: "one"}}))
	require.NoError(t, idx.ReplaceChunks(ctx, "doc-2", []domain.Chunk{
		{ID: "doc-2_0", DocumentID: "doc-2", Content: "two"}}))

	require.NoError(t, idx.DeleteDocument(ctx, "doc-1"))

	got, err := idx.ChunksForDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = idx.ChunksForDocument(ctx, "doc-2")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestChunksForDocumentOrdered(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.ReplaceChunks(ctx, "doc-1", []domain.Chunk{
		{ID: "doc-1_2", DocumentID: "doc-1", Content: "late", Page: 2, Offset: 576},
		{ID: "doc-1_0", DocumentID: "doc-1", Content: "early", Page: 1, Offset: 0},
		{ID: "doc-1_1", DocumentID: "doc-1", Content: "middle", Page: 1, Offset: 288},
	}))

	got, err := idx.ChunksForDocument(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "doc-1_0", got[0].ID)
	assert.Equal(t, "doc-1_1", got[1].ID)
	assert.Equal(t, "doc-1_2", got[2].ID)
}
