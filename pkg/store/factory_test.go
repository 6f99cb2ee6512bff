package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linecook-ai/linecook/pkg/config"
)

func TestFactoryDefaultsToSQLite(t *testing.T) {
	idx, err := NewChunkIndex(config.StorageConfig{
		ChunkDBPath: filepath.Join(t.TempDir(), "chunks.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	assert.IsType(t, &SQLiteIndex{}, idx)
}

func TestFactoryRejectsUnknownBackend(t *testing.T) {
	_, err := NewChunkIndex(config.StorageConfig{ChunkIndex: "pinecone"})
	assert.Error(t, err)
}

func TestPointUUIDIsDeterministic(t *testing.T) {
	a := pointUUID("doc-1_0")
	b := pointUUID("doc-1_0")
	c := pointUUID("doc-1_1")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	// Valid UUIDs pass through untouched.
	id := "b3b1c2d0-1234-4abc-8def-000000000001"
	assert.Equal(t, id, pointUUID(id))
}
