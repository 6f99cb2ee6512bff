// Package ingest drives the background document pipeline: validate,
// extract, normalize, dual-write, verify. Submissions return immediately
// with a process id; everything after that is observable only through
// the progress store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/linecook-ai/linecook/pkg/citation"
	"github.com/linecook-ai/linecook/pkg/config"
	"github.com/linecook-ai/linecook/pkg/domain"
	"github.com/linecook-ai/linecook/pkg/extract"
	"github.com/linecook-ai/linecook/pkg/graph"
	"github.com/linecook-ai/linecook/pkg/log"
	"github.com/linecook-ai/linecook/pkg/security"
	"github.com/linecook-ai/linecook/pkg/validator"
)

// Priority orders work under selective-processing mode. Normal-priority
// submissions wait out the degraded window; high-priority ones run.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
)

type Orchestrator struct {
	cfg        config.IngestConfig
	validator  *validator.Validator
	generator  domain.Generator
	summarizer *extract.Summarizer
	chunker    *extract.Chunker
	writer     *graph.DualWriter
	graph      domain.GraphStore
	index      domain.ChunkIndex
	blobs      domain.BlobStore
	progress   domain.ProgressStore
	citations  *citation.Service
	modes      *ModeController

	sem *semaphore.Weighted

	mu       sync.Mutex
	cancels  map[string]context.CancelFunc
	docLocks map[string]*docLock
	queue    []replayJob
	wg       sync.WaitGroup
}

type docLock struct {
	mu   sync.Mutex
	refs int
}

// replayJob is a validated upload held back during local-queue mode,
// replayed once the upstream recovers.
type replayJob struct {
	processID string
	doc       domain.Document
	data      []byte
	vres      domain.ValidationResult
	prio      Priority
}

type Deps struct {
	Validator *validator.Validator
	Generator domain.Generator
	Chunker   *extract.Chunker
	Writer    *graph.DualWriter
	Graph     domain.GraphStore
	Index     domain.ChunkIndex
	Blobs     domain.BlobStore
	Progress  domain.ProgressStore
	Citations *citation.Service
	Modes     *ModeController
}

func NewOrchestrator(cfg config.IngestConfig, deps Deps) *Orchestrator {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	modes := deps.Modes
	if modes == nil {
		modes = NewModeController(cfg.FailureRateTrip, cfg.RecoveryWindow)
	}
	o := &Orchestrator{
		cfg:        cfg,
		validator:  deps.Validator,
		generator:  deps.Generator,
		summarizer: extract.NewSummarizer(deps.Generator),
		chunker:    deps.Chunker,
		writer:     deps.Writer,
		graph:      deps.Graph,
		index:      deps.Index,
		blobs:      deps.Blobs,
		progress:   deps.Progress,
		citations:  deps.Citations,
		modes:      modes,
		sem:        semaphore.NewWeighted(int64(maxConcurrent)),
		cancels:    make(map[string]context.CancelFunc),
		docLocks:   make(map[string]*docLock),
	}
	o.modes.OnChange(o.onModeChange)
	return o
}

func (o *Orchestrator) Modes() *ModeController { return o.modes }

// Submit validates synchronously, persists the blob, and schedules the
// background pipeline. It always returns a pollable process id, even for
// rejected files.
func (o *Orchestrator) Submit(ctx context.Context, filename string, data []byte) domain.SubmitResult {
	return o.SubmitWithPriority(ctx, filename, data, PriorityNormal)
}

func (o *Orchestrator) SubmitWithPriority(ctx context.Context, filename string, data []byte, prio Priority) domain.SubmitResult {
	processID := uuid.NewString()
	documentID := uuid.NewString()

	if err := validator.CheckFilename(filename); err != nil {
		log.Audit("upload rejected", "filename", security.Sanitize(filename), "reason", err.Error())
		return o.rejectSubmit(processID, documentID, fmt.Sprintf("%s: %s", domain.ValidationSecurityRisk, security.SanitizeError(err)))
	}

	res := o.validator.Validate(filename, data)
	if !res.Valid {
		return o.rejectSubmit(processID, documentID, fmt.Sprintf("%s: %s", res.Code, security.Sanitize(res.Detail)))
	}

	path, err := o.blobs.Put(ctx, documentID, validator.SafeFilename(filename), data)
	if err != nil {
		return o.rejectSubmit(processID, documentID, "upload storage failed: "+security.SanitizeError(err))
	}

	doc := domain.Document{
		ID:         documentID,
		Filename:   filename,
		FileType:   res.FileType,
		BlobPath:   path,
		SizeBytes:  int64(len(data)),
		PageCount:  res.PageCount,
		UploadedAt: time.Now().UTC(),
	}

	o.progress.Create(domain.ProgressRecord{
		ProcessID:  processID,
		DocumentID: documentID,
		Stage:      domain.StageUploaded,
		Percent:    domain.PercentUploaded,
		Message:    "upload received",
	})

	o.wg.Add(1)
	go o.runJob(processID, doc, data, res, prio)

	return domain.SubmitResult{ProcessID: processID, DocumentID: documentID, OK: true}
}

func (o *Orchestrator) rejectSubmit(processID, documentID, message string) domain.SubmitResult {
	o.progress.Create(domain.ProgressRecord{
		ProcessID:  processID,
		DocumentID: documentID,
		Stage:      domain.StageFailed,
		Message:    message,
		Terminal:   true,
	})
	return domain.SubmitResult{ProcessID: processID, DocumentID: documentID, OK: false, Message: message}
}

func (o *Orchestrator) Status(processID string) (domain.ProgressRecord, error) {
	return o.progress.Get(processID)
}

// Wait polls until the process reaches a terminal state. Used by the CLI
// ingestion path, which is synchronous by nature.
func (o *Orchestrator) Wait(ctx context.Context, processID string, poll time.Duration) (domain.ProgressRecord, error) {
	if poll <= 0 {
		poll = 200 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		rec, err := o.progress.Get(processID)
		if err != nil {
			return rec, err
		}
		if rec.Terminal {
			return rec, nil
		}
		select {
		case <-ctx.Done():
			return rec, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Delete cancels any in-flight ingestion for the document, drops it from
// the replay queue if it is waiting there, then cascades through both
// stores and removes the blob.
func (o *Orchestrator) Delete(ctx context.Context, documentID string) error {
	o.mu.Lock()
	if cancel, ok := o.cancels[documentID]; ok {
		cancel()
	}
	var queued replayJob
	wasQueued := false
	for i, j := range o.queue {
		if j.doc.ID == documentID {
			queued = j
			wasQueued = true
			o.queue = append(o.queue[:i], o.queue[i+1:]...)
			break
		}
	}
	o.mu.Unlock()

	if wasQueued {
		rec, _ := o.progress.Get(queued.processID)
		if err := o.progress.Update(queued.processID, domain.StageFailed, rec.Percent, "deleted while queued for replay", true); err != nil {
			log.Error("failed to record terminal failure", "process_id", queued.processID, "error", err)
		}
		if err := o.blobs.Delete(ctx, queued.doc.BlobPath); err != nil {
			log.Warn("blob cleanup failed", "document_id", documentID, "error", err)
		}
		return nil
	}

	// Taking the per-document lock waits out the cancelled pipeline.
	release := o.lockDocument(documentID)
	defer release()

	doc, err := o.graph.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if err := o.writer.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	if err := o.blobs.Delete(ctx, doc.BlobPath); err != nil {
		log.Warn("blob cleanup failed", "document_id", documentID, "error", err)
	}
	return nil
}

// Shutdown waits for in-flight pipelines to finish.
func (o *Orchestrator) Shutdown() { o.wg.Wait() }

// lockDocument serializes pipeline runs and deletes on one document. The
// returned release func removes the table entry once nobody holds it, so
// the lock table does not grow with ingestion history.
func (o *Orchestrator) lockDocument(documentID string) func() {
	o.mu.Lock()
	e, ok := o.docLocks[documentID]
	if !ok {
		e = &docLock{}
		o.docLocks[documentID] = e
	}
	e.refs++
	o.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		o.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(o.docLocks, documentID)
		}
		o.mu.Unlock()
	}
}

func (o *Orchestrator) queueDepth() int {
	if o.cfg.QueueDepth > 0 {
		return o.cfg.QueueDepth
	}
	return 64
}

// enqueueReplay parks a validated upload until the upstream recovers.
// The progress record stays non-terminal so pollers keep seeing the
// upload as pending.
func (o *Orchestrator) enqueueReplay(job replayJob) {
	o.mu.Lock()
	if len(o.queue) >= o.queueDepth() {
		o.mu.Unlock()
		o.fail(job.processID, "queueing", fmt.Errorf("%w: replay queue full", domain.ErrUpstreamUnavailable))
		return
	}
	o.queue = append(o.queue, job)
	depth := len(o.queue)
	o.mu.Unlock()

	if err := o.progress.Update(job.processID, domain.StageUploaded, domain.PercentUploaded,
		fmt.Sprintf("queued for replay (position %d): upstream degraded", depth), false); err != nil {
		log.Error("progress update failed", "process_id", job.processID, "error", err)
	}
	log.Info("upload queued for replay", "process_id", job.processID, "document_id", job.doc.ID, "queue_depth", depth)
}

// onModeChange drains the replay queue when the controller recovers to
// normal operation.
func (o *Orchestrator) onModeChange(_, to domain.DegradationMode) {
	if to != domain.ModeNormal {
		return
	}
	o.mu.Lock()
	jobs := o.queue
	o.queue = nil
	o.mu.Unlock()

	for _, j := range jobs {
		log.Info("replaying queued upload", "process_id", j.processID, "document_id", j.doc.ID)
		o.wg.Add(1)
		go o.runJob(j.processID, j.doc, j.data, j.vres, j.prio)
	}
}

func (o *Orchestrator) runJob(processID string, doc domain.Document, data []byte, vres domain.ValidationResult, prio Priority) {
	defer o.wg.Done()

	// Local-queue mode holds validated uploads for replay instead of
	// running extraction against a failing upstream.
	if o.modes.Mode() == domain.ModeLocalQueue {
		o.enqueueReplay(replayJob{processID: processID, doc: doc, data: data, vres: vres, prio: prio})
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	o.mu.Lock()
	o.cancels[doc.ID] = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.cancels, doc.ID)
		o.mu.Unlock()
	}()

	// Selective-processing gate: normal-priority work waits.
	for o.modes.Mode() == domain.ModeSelectiveProcessing && prio < PriorityHigh {
		select {
		case <-ctx.Done():
			o.fail(processID, "queued", ctx.Err())
			return
		case <-time.After(500 * time.Millisecond):
		}
	}

	// Memory-constrained mode halves effective concurrency by weighting
	// each job double.
	weight := int64(1)
	if o.modes.Mode() == domain.ModeMemoryConstrained {
		weight = 2
	}
	if err := o.sem.Acquire(ctx, weight); err != nil {
		o.fail(processID, "queued", err)
		return
	}
	defer o.sem.Release(weight)

	release := o.lockDocument(doc.ID)
	defer release()

	o.run(ctx, processID, doc, data, vres)
}

// run executes the pipeline stages, updating the progress record before
// each stage hands off to the next.
func (o *Orchestrator) run(ctx context.Context, processID string, doc domain.Document, data []byte, vres domain.ValidationResult) {
	update := func(stage domain.Stage, percent int, message string) bool {
		if err := o.progress.Update(processID, stage, percent, message, false); err != nil {
			log.Error("progress update failed", "process_id", processID, "error", err)
			return false
		}
		return true
	}

	// Stage 1: validated. The synchronous path already ran the checks.
	if !update(domain.StageValidated, domain.PercentValidated, "validation passed") {
		return
	}

	// Stage 2: text extraction.
	pages, err := extract.ExtractText(doc.FileType, doc.Filename, data)
	if err != nil {
		o.fail(processID, "text extraction", err)
		return
	}
	if doc.PageCount == 0 {
		doc.PageCount = len(pages)
	}
	if !update(domain.StageTextExtracted, domain.PercentTextExtracted, fmt.Sprintf("extracted %d pages", len(pages))) {
		return
	}

	// Stage 3: summarize + entity extraction, with the seed graph as the
	// degraded path.
	text := extract.JoinPages(pages)
	summary, err := o.summarizer.Summarize(ctx, doc.Filename, text)
	if err != nil {
		o.fail(processID, "summarization", err)
		return
	}
	doc.ExecutiveSummary = summary.ExecutiveSummary
	doc.Category = summary.Category
	doc.DocumentType = summary.DocumentType
	doc.Sections = summary.Sections

	entities, degraded := o.extractEntities(ctx, doc, summary, pages)
	if ctx.Err() != nil {
		o.fail(processID, "entity extraction", ctx.Err())
		return
	}

	deduped := extract.DedupWithinDocument(entities)
	var merged []domain.Entity
	err = o.retryStage(ctx, o.writeTimeout(), func(sctx context.Context) error {
		var merr error
		merged, merr = extract.MergeAcrossDocuments(sctx, o.graph, deduped.Entities)
		return merr
	})
	if err != nil {
		o.fail(processID, "entity merge", err)
		return
	}

	entityMsg := fmt.Sprintf("%d entities (%d merged)", len(merged), deduped.Merged)
	if degraded {
		entityMsg = "degraded extraction: seed graph in use"
	}
	if !update(domain.StageEntitiesExtracted, domain.PercentEntitiesExtracted, entityMsg) {
		return
	}

	// Stage 4: relationships.
	rels := extract.DeriveRelationships(doc.ID, merged)
	o.progress.SetCounts(processID, len(merged), len(rels))
	if !update(domain.StageRelationshipsGenerated, domain.PercentRelationshipsGenerated, fmt.Sprintf("%d relationships", len(rels))) {
		return
	}

	// Stage 5: dual-write.
	chunks := o.chunker.Chunk(doc.ID, pages)
	var writeRes graph.WriteResult
	err = o.retryStage(ctx, o.writeTimeout(), func(sctx context.Context) error {
		var werr error
		writeRes, werr = o.writer.WriteDocument(sctx, doc, merged, rels, chunks)
		return werr
	})
	if err != nil {
		o.fail(processID, "indexing", err)
		return
	}

	if o.citations != nil {
		cits, err := o.citations.Discover(ctx, doc, pages)
		if err == nil {
			if err := o.writer.WriteCitations(ctx, cits); err != nil {
				log.Warn("citation write failed", "document_id", doc.ID, "error", err)
			}
		}
	}
	if !update(domain.StageIndexed, domain.PercentIndexed, fmt.Sprintf("indexed %d chunks", writeRes.Chunks)) {
		return
	}

	// Stage 6: verification read-backs.
	if err := o.verify(ctx, doc.ID, len(chunks), len(merged)); err != nil {
		o.fail(processID, "verification", err)
		return
	}

	finalMsg := "complete"
	if degraded || writeRes.EmbeddingsSkipped {
		finalMsg = "complete (degraded extraction)"
	}
	if err := o.progress.Update(processID, domain.StageVerified, domain.PercentVerified, finalMsg, true); err != nil {
		log.Error("terminal progress update failed", "process_id", processID, "error", err)
	}
	log.Info("ingestion complete", "process_id", processID, "document_id", doc.ID,
		"entities", len(merged), "relationships", len(rels), "chunks", writeRes.Chunks, "degraded", degraded)
}

// extractEntities runs LLM extraction with retries, dropping to the
// deterministic seed graph when the model is unavailable or the mode has
// already degraded.
func (o *Orchestrator) extractEntities(ctx context.Context, doc domain.Document, summary domain.DocumentSummary, pages []extract.PageText) ([]domain.Entity, bool) {
	if o.generator == nil || o.modes.Mode() == domain.ModeLocalQueue {
		return extract.SeedEntities(doc.ID), true
	}

	var entities []domain.Entity
	err := o.retryStage(ctx, o.extractTimeout(), func(sctx context.Context) error {
		ents, eerr := extract.ExtractEntities(sctx, o.generator, doc.ID, summary, pages)
		o.modes.RecordOutcome(eerr == nil || errors.Is(eerr, domain.ErrContentMalformed))
		if eerr == nil {
			entities = ents
		}
		return eerr
	})
	if err != nil {
		log.Warn("entity extraction degraded to seed graph", "document_id", doc.ID, "error", err)
		return extract.SeedEntities(doc.ID), true
	}
	return entities, false
}

func (o *Orchestrator) verify(ctx context.Context, documentID string, wantChunks, wantEntities int) error {
	if _, err := o.graph.GetDocument(ctx, documentID); err != nil {
		return fmt.Errorf("%w: document node missing after write", domain.ErrInternalInvariant)
	}

	chunks, err := o.index.ChunksForDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if wantChunks > 0 && len(chunks) == 0 {
		return fmt.Errorf("%w: no chunks retrievable after indexing", domain.ErrInternalInvariant)
	}

	entities, err := o.graph.EntitiesForDocument(ctx, documentID)
	if err != nil {
		return err
	}
	// Cross-document merging can shrink the per-document view slightly;
	// allow half the reported count before calling it an invariant break.
	if wantEntities > 0 && len(entities)*2 < wantEntities {
		return fmt.Errorf("%w: entity count %d far below extractor report %d", domain.ErrInternalInvariant, len(entities), wantEntities)
	}
	return nil
}

func (o *Orchestrator) fail(processID, stage string, err error) {
	msg := fmt.Sprintf("%s failed: %s", stage, security.SanitizeError(err))
	rec, getErr := o.progress.Get(processID)
	percent := 0
	if getErr == nil {
		percent = rec.Percent
	}
	if uerr := o.progress.Update(processID, domain.StageFailed, percent, msg, true); uerr != nil {
		log.Error("failed to record terminal failure", "process_id", processID, "error", uerr)
	}
	log.Warn("ingestion failed", "process_id", processID, "stage", stage, "error", err)
}

func (o *Orchestrator) extractTimeout() time.Duration {
	if o.cfg.ExtractTimeout > 0 {
		return o.cfg.ExtractTimeout
	}
	return 120 * time.Second
}

func (o *Orchestrator) writeTimeout() time.Duration {
	if o.cfg.WriteTimeout > 0 {
		return o.cfg.WriteTimeout
	}
	return 60 * time.Second
}

func (o *Orchestrator) attempts() int {
	if o.cfg.StageAttempts > 0 {
		return o.cfg.StageAttempts
	}
	return 3
}

// retryStage runs fn under a per-attempt deadline with bounded
// exponential backoff for retryable upstream errors.
func (o *Orchestrator) retryStage(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	backoff := 500 * time.Millisecond
	var err error
	for attempt := 0; attempt < o.attempts(); attempt++ {
		sctx, cancel := context.WithTimeout(ctx, timeout)
		err = fn(sctx)
		cancel()
		if err == nil {
			return nil
		}
		// A per-attempt deadline is retryable as long as the pipeline
		// itself has not been cancelled.
		if !domain.IsRetryable(err) && !(errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return err
}
