package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/linecook-ai/linecook/pkg/domain"
	"github.com/linecook-ai/linecook/pkg/security"
)

const textPreviewLimit = 200

// respondError maps taxonomy sentinels to HTTP status codes and always
// carries the stable error kind, so clients can branch without string
// matching.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrValidationRejected), errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrContentMalformed):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrSecurityViolation):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrConflictingWrite):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrDeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	c.JSON(status, gin.H{
		"kind":  domain.ErrorKind(err),
		"error": security.SanitizeError(err),
	})
}

func (s *Server) handleUpload(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		respondError(c, domain.ErrInvalidInput)
		return
	}

	f, err := header.Open()
	if err != nil {
		respondError(c, domain.ErrInvalidInput)
		return
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		respondError(c, domain.ErrInvalidInput)
		return
	}

	res := s.deps.Orchestrator.Submit(c.Request.Context(), header.Filename, data)
	if !res.OK {
		// Rejections still carry a pollable process id.
		c.JSON(http.StatusUnprocessableEntity, res)
		return
	}
	c.JSON(http.StatusAccepted, res)
}

func (s *Server) handleProgress(c *gin.Context) {
	rec, err := s.deps.Orchestrator.Status(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

type documentSummary struct {
	ID           string              `json:"id"`
	Filename     string              `json:"filename"`
	FileType     domain.FileType     `json:"file_type"`
	SizeBytes    int64               `json:"size_bytes"`
	PageCount    int                 `json:"page_count,omitempty"`
	UploadedAt   string              `json:"uploaded_at"`
	URL          string              `json:"url"`
	Category     domain.QSRCategory  `json:"qsr_category"`
	DocumentType domain.DocumentType `json:"document_type"`
}

func (s *Server) handleListDocuments(c *gin.Context) {
	docs, err := s.deps.Graph.ListDocuments(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]documentSummary, 0, len(docs))
	for _, d := range docs {
		out = append(out, documentSummary{
			ID:           d.ID,
			Filename:     d.Filename,
			FileType:     d.FileType,
			SizeBytes:    d.SizeBytes,
			PageCount:    d.PageCount,
			UploadedAt:   d.UploadedAt.Format("2006-01-02T15:04:05Z07:00"),
			URL:          "/api/documents/" + d.ID,
			Category:     d.Category,
			DocumentType: d.DocumentType,
		})
	}
	c.JSON(http.StatusOK, gin.H{"documents": out, "total": len(out)})
}

func (s *Server) handleGetDocument(c *gin.Context) {
	ctx := c.Request.Context()
	doc, err := s.deps.Graph.GetDocument(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	preview := ""
	if chunks, cerr := s.deps.Index.ChunksForDocument(ctx, doc.ID); cerr == nil && len(chunks) > 0 {
		preview = chunks[0].Content
		if len(preview) > textPreviewLimit {
			preview = preview[:textPreviewLimit]
		}
	}

	entities, _ := s.deps.Graph.EntitiesForDocument(ctx, doc.ID)
	citations, _ := s.deps.Graph.CitationsForDocument(ctx, doc.ID)

	c.JSON(http.StatusOK, gin.H{
		"document":       doc,
		"text_preview":   preview,
		"entity_count":   len(entities),
		"citation_count": len(citations),
	})
}

func (s *Server) handleDeleteDocument(c *gin.Context) {
	if err := s.deps.Orchestrator.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "message": "document " + c.Param("id") + " deleted"})
}

func (s *Server) handleQuery(c *gin.Context) {
	var req domain.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Text == "" {
		respondError(c, domain.ErrInvalidInput)
		return
	}

	resp, err := s.deps.Retriever.Query(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCitation(c *gin.Context) {
	png, err := s.deps.Citations.Materialize(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"mode":   s.deps.Orchestrator.Modes().Mode(),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	ctx := c.Request.Context()

	graphOK := true
	stats, err := s.deps.Graph.Stats(ctx)
	if err != nil {
		graphOK = false
	}

	indexOK := true
	if _, err := s.deps.Index.SearchKeyword(ctx, []string{"ping"}, 1); err != nil {
		indexOK = false
	}

	modes := s.deps.Orchestrator.Modes()
	c.JSON(http.StatusOK, gin.H{
		"graph_reachable": graphOK,
		"index_reachable": indexOK,
		"documents":       stats.Documents,
		"mode":            modes.Mode(),
		"mode_reason":     modes.Reason(),
	})
}

func (s *Server) handleGraphStats(c *gin.Context) {
	stats, err := s.deps.Graph.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
