package store

import (
	"fmt"

	"github.com/linecook-ai/linecook/pkg/config"
	"github.com/linecook-ai/linecook/pkg/domain"
)

// NewChunkIndex builds the configured chunk index backend.
func NewChunkIndex(cfg config.StorageConfig) (domain.ChunkIndex, error) {
	switch cfg.ChunkIndex {
	case "", "sqlite":
		return NewSQLiteIndex(cfg.ChunkDBPath)
	case "qdrant":
		return NewQdrantIndex(cfg.QdrantURL, cfg.QdrantCollection)
	default:
		return nil, fmt.Errorf("unknown chunk index backend: %q", cfg.ChunkIndex)
	}
}
