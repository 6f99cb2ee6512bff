package ingest

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linecook-ai/linecook/pkg/blob"
	"github.com/linecook-ai/linecook/pkg/citation"
	"github.com/linecook-ai/linecook/pkg/config"
	"github.com/linecook-ai/linecook/pkg/domain"
	"github.com/linecook-ai/linecook/pkg/extract"
	"github.com/linecook-ai/linecook/pkg/graph"
	"github.com/linecook-ai/linecook/pkg/progress"
	"github.com/linecook-ai/linecook/pkg/store"
	"github.com/linecook-ai/linecook/pkg/validator"
)

type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	return []float64{float64(len(text) % 7), 1, 0.5}, nil
}

// stubGenerator answers the summarization and entity prompts with canned
// JSON, the way a compliant model would.
type stubGenerator struct {
	summaryJSON  string
	entitiesJSON string
}

func (s *stubGenerator) Generate(_ context.Context, _ string, _ *domain.GenerationOptions) (string, error) {
	return "", nil
}

func (s *stubGenerator) GenerateStructured(_ context.Context, prompt string, out interface{}, _ *domain.GenerationOptions) error {
	payload := s.summaryJSON
	if strings.Contains(prompt, "Extract entities") {
		payload = s.entitiesJSON
	}
	return json.Unmarshal([]byte(payload), out)
}

type testEnv struct {
	orch  *Orchestrator
	graph *graph.Store
	index *store.SQLiteIndex
	blobs *blob.FileStore
}

func newTestEnv(t *testing.T, gen domain.Generator) *testEnv {
	return newTestEnvWithConfig(t, gen, config.IngestConfig{
		MaxConcurrent:  2,
		StageAttempts:  2,
		ExtractTimeout: 5 * time.Second,
		WriteTimeout:   5 * time.Second,
	})
}

func newTestEnvWithConfig(t *testing.T, gen domain.Generator, cfg config.IngestConfig) *testEnv {
	t.Helper()
	dir := t.TempDir()

	gs, err := graph.NewStore(filepath.Join(dir, "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = gs.Close() })

	idx, err := store.NewSQLiteIndex(filepath.Join(dir, "chunks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	blobs, err := blob.NewFileStore(filepath.Join(dir, "uploads"))
	require.NoError(t, err)

	writer := graph.NewDualWriter(gs, idx, stubEmbedder{})
	orch := NewOrchestrator(cfg, Deps{
		Validator: validator.New(),
		Generator: gen,
		Chunker:   extract.NewChunker(64, 16, ""),
		Writer:    writer,
		Graph:     gs,
		Index:     idx,
		Blobs:     blobs,
		Progress:  progress.NewMemoryStore(),
		Citations: citation.NewService(gs, blobs, nil),
	})
	t.Cleanup(orch.Shutdown)

	return &testEnv{orch: orch, graph: gs, index: idx, blobs: blobs}
}

func waitTerminal(t *testing.T, o *Orchestrator, processID string) domain.ProgressRecord {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	rec, err := o.Wait(ctx, processID, 20*time.Millisecond)
	require.NoError(t, err)
	return rec
}

const fryerManual = `Frymaster MJ45 Fryer Maintenance Guide.
Daily cleaning procedure: drain the oil, scrub the fry vat, rinse and dry.
WARNING: oil temperature reaches 350°F. Allow cooling before service.
Weekly maintenance requires the filtration kit and degreaser.`

func TestSubmitRejectsTraversalFilename(t *testing.T) {
	env := newTestEnv(t, nil)

	res := env.orch.Submit(context.Background(), "../../etc/passwd", []byte("x"))
	assert.False(t, res.OK)
	assert.Contains(t, res.Message, domain.ValidationSecurityRisk)

	// The rejection is still pollable as a terminal failed record.
	rec, err := env.orch.Status(res.ProcessID)
	require.NoError(t, err)
	assert.True(t, rec.Terminal)
	assert.Equal(t, domain.StageFailed, rec.Stage)
}

func TestSubmitRejectsUnknownExtension(t *testing.T) {
	env := newTestEnv(t, nil)

	res := env.orch.Submit(context.Background(), "malware.exe", []byte("MZ"))
	assert.False(t, res.OK)
	assert.Contains(t, res.Message, domain.ValidationInvalidType)
}

func TestIngestEndToEndDegraded(t *testing.T) {
	// No generator configured: the pipeline must still complete using the
	// seed graph and mark the result degraded.
	env := newTestEnv(t, nil)
	ctx := context.Background()

	res := env.orch.Submit(ctx, "fryer-manual.txt", []byte(fryerManual))
	require.True(t, res.OK)

	rec := waitTerminal(t, env.orch, res.ProcessID)
	assert.Equal(t, domain.StageVerified, rec.Stage)
	assert.Equal(t, domain.PercentVerified, rec.Percent)
	assert.Contains(t, rec.Message, "degraded")
	assert.Greater(t, rec.EntitiesFound, 0)
	assert.Greater(t, rec.RelationshipsFound, 0)

	doc, err := env.graph.GetDocument(ctx, res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, domain.FileTypeText, doc.FileType)
	assert.NotEmpty(t, doc.ExecutiveSummary)
	assert.Equal(t, domain.CategoryFryer, doc.Category)

	chunks, err := env.index.ChunksForDocument(ctx, res.DocumentID)
	require.NoError(t, err)
	assert.NotEmpty(t, chunks)

	// Seed graph entities carry this document's provenance.
	seed, err := env.graph.GetEntity(ctx, "Taylor C602", domain.EntityEquipment)
	require.NoError(t, err)
	assert.Contains(t, seed.SourceDocIDs, res.DocumentID)
}

func TestIngestWithGeneratorUsesExtractedEntities(t *testing.T) {
	gen := &stubGenerator{
		summaryJSON: `{"executive_summary":"Fryer maintenance manual.","document_type":"service-manual",
			"qsr_category":"fryer","hierarchical_sections":["Cleaning","Safety"]}`,
		entitiesJSON: `{"entities":[
			{"entity_text":"Frymaster MJ45","entity_type":"equipment","canonical_name":"frymaster mj45","hierarchy_level":2,"page_reference":1,"confidence":0.9},
			{"entity_text":"Daily Cleaning","entity_type":"procedure","canonical_name":"daily cleaning","hierarchy_level":4,"qsr_context":"cleaning the Frymaster MJ45","page_reference":1,"confidence":0.8}
		]}`,
	}
	env := newTestEnv(t, gen)
	ctx := context.Background()

	res := env.orch.Submit(ctx, "fryer-manual.txt", []byte(fryerManual))
	require.True(t, res.OK)

	rec := waitTerminal(t, env.orch, res.ProcessID)
	assert.Equal(t, domain.StageVerified, rec.Stage)
	assert.NotContains(t, rec.Message, "degraded")
	assert.Equal(t, 2, rec.EntitiesFound)
	assert.GreaterOrEqual(t, rec.RelationshipsFound, 1)

	doc, err := env.graph.GetDocument(ctx, res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryFryer, doc.Category)
	assert.Equal(t, domain.DocTypeServiceManual, doc.DocumentType)

	// Canonical equipment naming applied before writing.
	_, err = env.graph.GetEntity(ctx, "Frymaster MJ45", domain.EntityEquipment)
	require.NoError(t, err)

	rels, err := env.graph.RelationshipsFrom(ctx, "Daily Cleaning", domain.EntityProcedure, domain.RelProcedureFor)
	require.NoError(t, err)
	assert.NotEmpty(t, rels)
}

func TestPercentNeverRegressesDuringIngest(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	res := env.orch.Submit(ctx, "fryer-manual.txt", []byte(fryerManual))
	require.True(t, res.OK)

	last := 0
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := env.orch.Status(res.ProcessID)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, rec.Percent, last)
		last = rec.Percent
		if rec.Terminal {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("ingestion did not reach a terminal state")
}

func TestDeleteCascadesAndRemovesBlob(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	res := env.orch.Submit(ctx, "fryer-manual.txt", []byte(fryerManual))
	require.True(t, res.OK)
	waitTerminal(t, env.orch, res.ProcessID)

	doc, err := env.graph.GetDocument(ctx, res.DocumentID)
	require.NoError(t, err)
	_, statErr := os.Stat(doc.BlobPath)
	require.NoError(t, statErr)

	require.NoError(t, env.orch.Delete(ctx, res.DocumentID))

	_, err = env.graph.GetDocument(ctx, res.DocumentID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	chunks, err := env.index.ChunksForDocument(ctx, res.DocumentID)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	_, statErr = os.Stat(doc.BlobPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDeleteUnknownDocument(t *testing.T) {
	env := newTestEnv(t, nil)
	err := env.orch.Delete(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func waitForMessage(t *testing.T, o *Orchestrator, processID, substr string) domain.ProgressRecord {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := o.Status(processID)
		require.NoError(t, err)
		if strings.Contains(rec.Message, substr) {
			return rec
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("progress for %s never reported %q", processID, substr)
	return domain.ProgressRecord{}
}

func TestLocalQueueHoldsUploadsUntilRecovery(t *testing.T) {
	gen := &stubGenerator{
		summaryJSON: `{"executive_summary":"Fryer maintenance manual.","document_type":"service-manual","qsr_category":"fryer"}`,
		entitiesJSON: `{"entities":[
			{"entity_text":"Frymaster MJ45","entity_type":"equipment","canonical_name":"frymaster mj45","hierarchy_level":2,"page_reference":1,"confidence":0.9}
		]}`,
	}
	env := newTestEnv(t, gen)
	ctx := context.Background()
	env.orch.Modes().Set(domain.ModeLocalQueue, "upstream unreachable in test")

	res := env.orch.Submit(ctx, "fryer-manual.txt", []byte(fryerManual))
	require.True(t, res.OK)

	rec := waitForMessage(t, env.orch, res.ProcessID, "queued for replay")
	assert.False(t, rec.Terminal)
	assert.Equal(t, domain.StageUploaded, rec.Stage)

	// Nothing is written while the upload waits in the queue.
	_, err := env.graph.GetDocument(ctx, res.DocumentID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	env.orch.Modes().Set(domain.ModeNormal, "upstream recovered in test")

	final := waitTerminal(t, env.orch, res.ProcessID)
	assert.Equal(t, domain.StageVerified, final.Stage)
	assert.NotContains(t, final.Message, "degraded")

	// The replay ran real extraction, not the seed graph.
	_, err = env.graph.GetEntity(ctx, "Frymaster MJ45", domain.EntityEquipment)
	require.NoError(t, err)
}

func TestLocalQueueOverflowFailsSubmission(t *testing.T) {
	env := newTestEnvWithConfig(t, nil, config.IngestConfig{
		MaxConcurrent:  2,
		StageAttempts:  2,
		ExtractTimeout: 5 * time.Second,
		WriteTimeout:   5 * time.Second,
		QueueDepth:     1,
	})
	ctx := context.Background()
	env.orch.Modes().Set(domain.ModeLocalQueue, "upstream unreachable in test")

	first := env.orch.Submit(ctx, "fryer-manual.txt", []byte(fryerManual))
	require.True(t, first.OK)
	waitForMessage(t, env.orch, first.ProcessID, "queued for replay")

	second := env.orch.Submit(ctx, "fryer-manual.txt", []byte(fryerManual))
	require.True(t, second.OK)

	rec := waitTerminal(t, env.orch, second.ProcessID)
	assert.Equal(t, domain.StageFailed, rec.Stage)
	assert.Contains(t, rec.Message, "replay queue full")
}

func TestDeleteDropsQueuedUpload(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.orch.Modes().Set(domain.ModeLocalQueue, "upstream unreachable in test")

	res := env.orch.Submit(ctx, "fryer-manual.txt", []byte(fryerManual))
	require.True(t, res.OK)
	waitForMessage(t, env.orch, res.ProcessID, "queued for replay")

	require.NoError(t, env.orch.Delete(ctx, res.DocumentID))

	rec, err := env.orch.Status(res.ProcessID)
	require.NoError(t, err)
	assert.True(t, rec.Terminal)
	assert.Equal(t, domain.StageFailed, rec.Stage)
	assert.Contains(t, rec.Message, "deleted while queued")

	// Recovery has nothing left to replay for this document.
	env.orch.Modes().Set(domain.ModeNormal, "upstream recovered in test")
	_, err = env.graph.GetDocument(ctx, res.DocumentID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDocLockTablePrunedAfterWork(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	res := env.orch.Submit(ctx, "fryer-manual.txt", []byte(fryerManual))
	require.True(t, res.OK)
	waitTerminal(t, env.orch, res.ProcessID)
	require.NoError(t, env.orch.Delete(ctx, res.DocumentID))
	env.orch.Shutdown()

	env.orch.mu.Lock()
	defer env.orch.mu.Unlock()
	assert.Empty(t, env.orch.docLocks)
}

func TestConcurrentSubmissionsAllComplete(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 6; i++ {
		res := env.orch.Submit(ctx, "fryer-manual.txt", []byte(fryerManual))
		require.True(t, res.OK)
		ids = append(ids, res.ProcessID)
	}

	for _, id := range ids {
		rec := waitTerminal(t, env.orch, id)
		assert.Equal(t, domain.StageVerified, rec.Stage)
	}
}
