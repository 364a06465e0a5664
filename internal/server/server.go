package server

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"time"

	"medical-qa-rag/internal/config"
	"medical-qa-rag/internal/history"
	"medical-qa-rag/internal/ingest"
	"medical-qa-rag/internal/models"
	"medical-qa-rag/internal/rag"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/yuin/goldmark"
)

const shutdownTimeout = 10 * time.Second

// Asker answers questions against one index.
type Asker interface {
	Ask(ctx context.Context, req rag.Request) (*models.Answer, error)
	IndexName() string
}

// Indexer rebuilds the index on demand.
type Indexer interface {
	LoadOrBuild(ctx context.Context, force bool) (*ingest.Result, error)
}

// Counter reports the number of chunks in the index.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

type Server struct {
	cfg      *config.Config
	engine   *gin.Engine
	asker    Asker
	indexer  Indexer
	index    Counter
	sessions history.Store
	markdown goldmark.Markdown
}

func New(cfg *config.Config, asker Asker, indexer Indexer, index Counter, sessions history.Store) *Server {
	s := &Server{
		cfg:      cfg,
		asker:    asker,
		indexer:  indexer,
		index:    index,
		sessions: sessions,
		markdown: goldmark.New(),
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())
	s.engine = engine
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.health)

	api := s.engine.Group("/api")
	api.GET("/references", s.references)
	api.POST("/ask", s.ask)
	api.POST("/index/rebuild", s.rebuild)

	sessions := api.Group("/sessions")
	sessions.POST("", s.createSession)
	sessions.GET("", s.listSessions)
	sessions.PATCH("/:id", s.renameSession)
	sessions.DELETE("/:id", s.deleteSession)
	sessions.GET("/:id/messages", s.listMessages)
	sessions.POST("/:id/messages", s.postMessage)
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Server.Addr,
		Handler:      s.engine,
		ReadTimeout:  s.cfg.Server.ReadTimeout.Duration,
		WriteTimeout: s.cfg.Server.WriteTimeout.Duration,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	log.Info().Msg("Shutting down HTTP server")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) render(markdown string) string {
	var buf bytes.Buffer
	if err := s.markdown.Convert([]byte(markdown), &buf); err != nil {
		log.Warn().Err(err).Msg("Failed to render answer markdown")
		return ""
	}
	return buf.String()
}
