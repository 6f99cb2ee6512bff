package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
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
	"github.com/linecook-ai/linecook/pkg/ingest"
	"github.com/linecook-ai/linecook/pkg/progress"
	"github.com/linecook-ai/linecook/pkg/retrieval"
	"github.com/linecook-ai/linecook/pkg/store"
	"github.com/linecook-ai/linecook/pkg/validator"
)

func newTestServer(t *testing.T) (*Server, *ingest.Orchestrator) {
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

	citations := citation.NewService(gs, blobs, nil)
	orch := ingest.NewOrchestrator(config.IngestConfig{
		MaxConcurrent:  2,
		StageAttempts:  2,
		ExtractTimeout: 5 * time.Second,
		WriteTimeout:   5 * time.Second,
	}, ingest.Deps{
		Validator: validator.New(),
		Chunker:   extract.NewChunker(64, 16, ""),
		Writer:    graph.NewDualWriter(gs, idx, nil),
		Graph:     gs,
		Index:     idx,
		Blobs:     blobs,
		Progress:  progress.NewMemoryStore(),
		Citations: citations,
	})
	t.Cleanup(orch.Shutdown)

	retriever := retrieval.NewRetriever(gs, idx, nil, config.RetrievalConfig{TopK: 5, MaxResults: 10, TraversalDepth: 3},
		func() domain.DegradationMode { return orch.Modes().Mode() })

	srv := NewServer(config.ServerConfig{Host: "127.0.0.1", Port: 0}, Deps{
		Orchestrator: orch,
		Retriever:    retriever,
		Citations:    citations,
		Graph:        gs,
		Index:        idx,
	})
	return srv, orch
}

func doRequest(t *testing.T, srv *Server, method, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func uploadFile(t *testing.T, srv *Server, filename, content string) domain.SubmitResult {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	w := doRequest(t, srv, http.MethodPost, "/api/upload", &buf, mw.FormDataContentType())

	var res domain.SubmitResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	return res
}

func waitVerified(t *testing.T, orch *ingest.Orchestrator, processID string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	rec, err := orch.Wait(ctx, processID, 20*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, domain.StageVerified, rec.Stage)
}

const grillManual = `Grill Master 3000 Operation Guide.
Daily cleaning procedure:
1. Scrape the grill plates.
2. Degrease the drip tray.
WARNING: surfaces exceed 400°F during operation.`

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doRequest(t, srv, http.MethodGet, "/api/health", nil, "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "normal")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestUploadAndProgressLifecycle(t *testing.T) {
	srv, orch := newTestServer(t)

	res := uploadFile(t, srv, "grill-manual.txt", grillManual)
	require.True(t, res.OK)
	require.NotEmpty(t, res.ProcessID)

	waitVerified(t, orch, res.ProcessID)

	w := doRequest(t, srv, http.MethodGet, "/api/progress/"+res.ProcessID, nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	var rec domain.ProgressRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, domain.StageVerified, rec.Stage)
	assert.Equal(t, domain.PercentVerified, rec.Percent)
	assert.True(t, rec.Terminal)
}

func TestUploadRejectionReturns422WithKind(t *testing.T) {
	srv, _ := newTestServer(t)

	res := uploadFile(t, srv, "virus.exe", "MZ")
	assert.False(t, res.OK)
	assert.NotEmpty(t, res.ProcessID)
	assert.Contains(t, res.Message, domain.ValidationInvalidType)
}

func TestProgressUnknownProcessIs404(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doRequest(t, srv, http.MethodGet, "/api/progress/nope", nil, "")

	assert.Equal(t, http.StatusNotFound, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "NotFound", body["kind"])
}

func TestDocumentListAndDetail(t *testing.T) {
	srv, orch := newTestServer(t)

	res := uploadFile(t, srv, "grill-manual.txt", grillManual)
	require.True(t, res.OK)
	waitVerified(t, orch, res.ProcessID)

	w := doRequest(t, srv, http.MethodGet, "/api/documents", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var list struct {
		Documents []documentSummary `json:"documents"`
		Total     int               `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Equal(t, 1, list.Total)
	assert.Equal(t, "grill-manual.txt", list.Documents[0].Filename)
	assert.Equal(t, "/api/documents/"+res.DocumentID, list.Documents[0].URL)

	w = doRequest(t, srv, http.MethodGet, "/api/documents/"+res.DocumentID, nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var detail struct {
		TextPreview string `json:"text_preview"`
		EntityCount int    `json:"entity_count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
	assert.NotEmpty(t, detail.TextPreview)
	assert.LessOrEqual(t, len(detail.TextPreview), textPreviewLimit)
	assert.Greater(t, detail.EntityCount, 0)
}

func TestDeleteDocumentEndpoint(t *testing.T) {
	srv, orch := newTestServer(t)

	res := uploadFile(t, srv, "grill-manual.txt", grillManual)
	require.True(t, res.OK)
	waitVerified(t, orch, res.ProcessID)

	w := doRequest(t, srv, http.MethodDelete, "/api/documents/"+res.DocumentID, nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		OK      bool   `json:"ok"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.OK)
	assert.Contains(t, body.Message, res.DocumentID)

	w = doRequest(t, srv, http.MethodGet, "/api/documents/"+res.DocumentID, nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestQueryEndpoint(t *testing.T) {
	srv, orch := newTestServer(t)

	res := uploadFile(t, srv, "grill-manual.txt", grillManual)
	require.True(t, res.OK)
	waitVerified(t, orch, res.ProcessID)

	body := bytes.NewBufferString(`{"text": "how do I clean the grill plates"}`)
	w := doRequest(t, srv, http.MethodPost, "/api/query", body, "application/json")
	require.Equal(t, http.StatusOK, w.Code)

	var resp domain.ComposedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, string(domain.QueryCleaningProcedure), resp.ProcedureType)
	assert.NotEmpty(t, resp.Steps)
}

func TestQueryRejectsEmptyText(t *testing.T) {
	srv, _ := newTestServer(t)

	body := bytes.NewBufferString(`{"text": ""}`)
	w := doRequest(t, srv, http.MethodPost, "/api/query", body, "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCitationEndpoint(t *testing.T) {
	srv, orch := newTestServer(t)

	res := uploadFile(t, srv, "grill-manual.txt", grillManual)
	require.True(t, res.OK)
	waitVerified(t, orch, res.ProcessID)

	// The manual's WARNING sentence is discovered as a safety citation,
	// but text citations have no renderable pixels without a renderer.
	w := doRequest(t, srv, http.MethodGet, "/api/citations/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatusAndGraphStats(t *testing.T) {
	srv, orch := newTestServer(t)

	res := uploadFile(t, srv, "grill-manual.txt", grillManual)
	require.True(t, res.OK)
	waitVerified(t, orch, res.ProcessID)

	w := doRequest(t, srv, http.MethodGet, "/api/status", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var status struct {
		GraphReachable bool   `json:"graph_reachable"`
		IndexReachable bool   `json:"index_reachable"`
		Documents      int    `json:"documents"`
		Mode           string `json:"mode"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.True(t, status.GraphReachable)
	assert.True(t, status.IndexReachable)
	assert.Equal(t, 1, status.Documents)
	assert.Equal(t, string(domain.ModeNormal), status.Mode)

	w = doRequest(t, srv, http.MethodGet, "/api/graph/stats", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var stats domain.GraphStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Greater(t, stats.Nodes, 0)
	assert.Equal(t, 1, stats.Documents)
}

func TestUploadWithoutFileField(t *testing.T) {
	srv, _ := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("name", "x"))
	require.NoError(t, mw.Close())

	w := doRequest(t, srv, http.MethodPost, "/api/upload", &buf, mw.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid")
}
