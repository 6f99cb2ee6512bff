package linecook

import (
	"fmt"

	"github.com/linecook-ai/linecook/pkg/blob"
	"github.com/linecook-ai/linecook/pkg/citation"
	"github.com/linecook-ai/linecook/pkg/config"
	"github.com/linecook-ai/linecook/pkg/domain"
	"github.com/linecook-ai/linecook/pkg/extract"
	"github.com/linecook-ai/linecook/pkg/graph"
	"github.com/linecook-ai/linecook/pkg/ingest"
	"github.com/linecook-ai/linecook/pkg/log"
	"github.com/linecook-ai/linecook/pkg/progress"
	"github.com/linecook-ai/linecook/pkg/providers"
	"github.com/linecook-ai/linecook/pkg/retrieval"
	"github.com/linecook-ai/linecook/pkg/store"
	"github.com/linecook-ai/linecook/pkg/validator"
)

// components is the fully wired core, shared by serve and the one-shot
// commands.
type components struct {
	graph     *graph.Store
	index     domain.ChunkIndex
	blobs     *blob.FileStore
	progress  *progress.MemoryStore
	orch      *ingest.Orchestrator
	retriever *retrieval.Retriever
	citations *citation.Service
}

func buildComponents(cfg *config.Config) (*components, error) {
	gs, err := graph.NewStore(cfg.Storage.GraphDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open graph store: %w", err)
	}

	idx, err := store.NewChunkIndex(cfg.Storage)
	if err != nil {
		_ = gs.Close()
		return nil, fmt.Errorf("failed to open chunk index: %w", err)
	}

	blobs, err := blob.NewFileStore(cfg.Storage.UploadsDir)
	if err != nil {
		_ = gs.Close()
		_ = idx.Close()
		return nil, fmt.Errorf("failed to open blob store: %w", err)
	}

	var generator domain.Generator
	var embedder domain.Embedder
	if cfg.Providers.APIKey != "" || cfg.Providers.BaseURL != "" {
		generator = providers.NewOpenAIGenerator(cfg.Providers)
		embedder = providers.NewOpenAIEmbedder(cfg.Providers)
	} else {
		log.Warn("no LLM provider configured, running with seed-graph extraction and keyword search")
	}

	prog := progress.NewMemoryStore(
		progress.WithSoftCap(cfg.Progress.SoftCap),
		progress.WithRetention(cfg.Progress.Retention),
	)
	prog.StartSweeper()

	citations := citation.NewService(gs, blobs, nil)
	chunker := extract.NewChunker(cfg.Chunker.ChunkSize, cfg.Chunker.Overlap, cfg.Chunker.Encoding)
	writer := graph.NewDualWriter(gs, idx, embedder)

	orch := ingest.NewOrchestrator(cfg.Ingest, ingest.Deps{
		Validator: validator.New(),
		Generator: generator,
		Chunker:   chunker,
		Writer:    writer,
		Graph:     gs,
		Index:     idx,
		Blobs:     blobs,
		Progress:  prog,
		Citations: citations,
	})

	retriever := retrieval.NewRetriever(gs, idx, embedder, cfg.Retrieval, orch.Modes().Mode)

	return &components{
		graph:     gs,
		index:     idx,
		blobs:     blobs,
		progress:  prog,
		orch:      orch,
		retriever: retriever,
		citations: citations,
	}, nil
}

func (c *components) Close() {
	c.orch.Shutdown()
	c.progress.Stop()
	if err := c.index.Close(); err != nil {
		log.Warn("chunk index close failed", "error", err)
	}
	if err := c.graph.Close(); err != nil {
		log.Warn("graph store close failed", "error", err)
	}
}
