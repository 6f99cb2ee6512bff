// Package api exposes the HTTP surface: upload, progress, documents,
// query, citations, and operational status.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/linecook-ai/linecook/pkg/citation"
	"github.com/linecook-ai/linecook/pkg/config"
	"github.com/linecook-ai/linecook/pkg/domain"
	"github.com/linecook-ai/linecook/pkg/ingest"
	"github.com/linecook-ai/linecook/pkg/log"
	"github.com/linecook-ai/linecook/pkg/retrieval"
)

// Deps are the wired core components the handlers delegate to.
type Deps struct {
	Orchestrator *ingest.Orchestrator
	Retriever    *retrieval.Retriever
	Citations    *citation.Service
	Graph        domain.GraphStore
	Index        domain.ChunkIndex
}

type Server struct {
	cfg    config.ServerConfig
	deps   Deps
	router *gin.Engine
	server *http.Server
}

func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{cfg: cfg, deps: deps}
	s.router = gin.New()
	s.router.Use(RequestID())
	s.router.Use(Logger())
	s.router.Use(gin.Recovery())

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	corsCfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "X-Request-ID"},
		ExposeHeaders: []string{"Content-Length", "X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 1 && origins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = origins
		corsCfg.AllowCredentials = true
	}
	s.router.Use(cors.New(corsCfg))

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.Group("/api")

	api.GET("/health", s.handleHealth)
	api.GET("/status", s.handleStatus)
	api.GET("/graph/stats", s.handleGraphStats)

	api.POST("/upload", s.handleUpload)
	api.GET("/progress/:id", s.handleProgress)

	api.GET("/documents", s.handleListDocuments)
	api.GET("/documents/:id", s.handleGetDocument)
	api.DELETE("/documents/:id", s.handleDeleteDocument)

	api.POST("/query", s.handleQuery)
	api.GET("/citations/:id", s.handleCitation)
}

// Handler returns the underlying router, for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until the context is cancelled, then drains in-flight
// requests and waits for background ingestions.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.deps.Orchestrator.Shutdown()
	return nil
}
