package main

import (
	"context"
	"fmt"

	"medical-qa-rag/internal/cache"
	"medical-qa-rag/internal/chromemdb"
	"medical-qa-rag/internal/config"
	"medical-qa-rag/internal/db"
	"medical-qa-rag/internal/embedding"
	"medical-qa-rag/internal/helper"
	"medical-qa-rag/internal/history"
	"medical-qa-rag/internal/ingest"
	"medical-qa-rag/internal/llmservice"
	"medical-qa-rag/internal/rag"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/uptrace/bun"
)

// app holds everything a command needs, wired from the config.
type app struct {
	cfg       *config.Config
	indexName string
	model     llms.Model
	store     rag.VectorStore
	chromem   *chromemdb.VectorDBManager
	bunDB     *bun.DB
	redis     *goredis.Client
	cache     *cache.AnswerCache
	builder   *ingest.Builder
	rag       *rag.RAG
	sessions  history.Store
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, indexName: helper.IndexName(cfg.RAG.Documents)}

	model, err := llmservice.NewModel(&cfg.ChatLLM)
	if err != nil {
		return nil, fmt.Errorf("error initializing chat model: %w", err)
	}
	a.model = model

	embedder, err := embedding.NewEmbedder(&cfg.EmbedLLM)
	if err != nil {
		return nil, fmt.Errorf("error initializing embedder: %w", err)
	}

	if cfg.Database.DSN != "" {
		a.bunDB, err = db.Open(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("error connecting to database: %w", err)
		}
	}

	switch cfg.RAG.Store {
	case config.StorePGVector:
		a.store = db.NewPGVectorStore(a.bunDB, a.indexName)
	default:
		if err := helper.CreateFolder(cfg.RAG.IndexDir); err != nil {
			a.Close()
			return nil, fmt.Errorf("error creating index folder: %w", err)
		}
		a.chromem, err = chromemdb.NewVectorDBManager(cfg.RAG.IndexDir, a.indexName, false, cfg.RAG.EncryptionKey, embedder.EmbedQuery)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("error creating vector database manager: %w", err)
		}
		a.store = a.chromem
	}

	if cfg.Redis.Enabled {
		a.redis, err = cache.NewClient(ctx, cfg.Redis)
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Answer cache unavailable, continuing without it")
			a.redis = nil
		}
	}
	a.cache = cache.NewAnswerCache(a.redis, cfg.Redis)

	var opts []rag.Option
	if a.cache.Enabled() {
		opts = append(opts, rag.WithCache(a.cache))
	}
	a.rag = rag.NewRAG(model, embedder, a.store, a.indexName, cfg, opts...)
	a.builder = ingest.NewBuilder(cfg, a.store, embedder, model, ingest.WithInvalidator(a.cache))

	if a.bunDB != nil {
		a.sessions = history.NewPGStore(a.bunDB)
	} else {
		a.sessions = history.NewMemoryStore()
	}

	log.Debug().
		Str("index", a.indexName).
		Str("store", cfg.RAG.Store).
		Bool("cache", a.cache.Enabled()).
		Bool("pg_history", a.bunDB != nil).
		Msg("Application wired")
	return a, nil
}

func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing redis client")
		}
	}
	if a.bunDB != nil {
		if err := a.bunDB.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing database")
		}
	}
}
