package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"medical-qa-rag/internal/config"
	"medical-qa-rag/internal/embedding"
	"medical-qa-rag/internal/helper"
	"medical-qa-rag/internal/models"
	"medical-qa-rag/internal/parser"
	"medical-qa-rag/internal/rag"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

var (
	ErrNoDocuments  = errors.New("no text could be extracted from the documents")
	ErrMissingFiles = errors.New("documents not found")
)

// Result describes one LoadOrBuild call.
type Result struct {
	IndexName string        `json:"index_name"`
	Chunks    int           `json:"chunks"`
	Rebuilt   bool          `json:"rebuilt"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Invalidator drops answers derived from an older build of the index.
type Invalidator interface {
	Clear(ctx context.Context) (int, error)
}

// Replacer is implemented by stores that can swap the whole index in one
// step. Other stores are reset and then filled.
type Replacer interface {
	Replace(ctx context.Context, chunks []models.ChunkEmbedding) error
}

// Builder loads the vector index for a fixed set of documents, building
// it when it is empty. Calls are serialised.
type Builder struct {
	mu          sync.Mutex
	files       []string
	indexName   string
	store       rag.VectorStore
	embedder    embeddings.Embedder
	model       llms.Model
	invalidator Invalidator
	cfg         config.RAGConfig
}

type Option func(*Builder)

// WithInvalidator clears inv after every successful rebuild.
func WithInvalidator(inv Invalidator) Option {
	return func(b *Builder) { b.invalidator = inv }
}

// NewBuilder prepares a builder for cfg.RAG.Documents. model is only used
// when chunk contextualization is enabled and may be nil otherwise.
func NewBuilder(cfg *config.Config, store rag.VectorStore, embedder embeddings.Embedder, model llms.Model, opts ...Option) *Builder {
	b := &Builder{
		files:     cfg.RAG.Documents,
		indexName: helper.IndexName(cfg.RAG.Documents),
		store:     store,
		embedder:  embedder,
		model:     model,
		cfg:       cfg.RAG,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Builder) IndexName() string {
	return b.indexName
}

func (b *Builder) Files() []string {
	return b.files
}

// LoadOrBuild reuses the index when it already holds chunks and force is
// false. Otherwise it parses, embeds and stores every document. The old
// index is only dropped once the new chunks are ready.
func (b *Builder) LoadOrBuild(ctx context.Context, force bool) (*Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	start := time.Now()

	count, err := b.store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count index %s: %w", b.indexName, err)
	}
	if count > 0 && !force {
		log.Info().Str("index", b.indexName).Int("chunks", count).Msg("Index loaded")
		return &Result{IndexName: b.indexName, Chunks: count, Elapsed: time.Since(start)}, nil
	}

	if missing := helper.MissingFiles(b.files); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingFiles, strings.Join(missing, ", "))
	}

	log.Info().Str("index", b.indexName).Strs("files", b.files).Bool("forced", force).Msg("Building index")
	pages, err := b.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	split, err := parser.SplitDocuments(pages, b.cfg.ChunkSize, b.cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	if len(split) == 0 {
		return nil, ErrNoDocuments
	}

	chunks := make([]models.Chunk, len(split))
	for i, d := range split {
		chunks[i] = parser.ToChunk(d)
	}
	if b.cfg.ContextualizeChunks && b.model != nil {
		chunks = embedding.ContextualizeChunks(ctx, b.model, chunks, pageLookup(pages))
	}

	embedded, err := embedding.GenerateEmbedding(ctx, b.embedder, chunks)
	if err != nil {
		return nil, err
	}

	if err := b.replace(ctx, embedded); err != nil {
		return nil, err
	}

	if b.invalidator != nil {
		if _, err := b.invalidator.Clear(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to clear answer cache after rebuild")
		}
	}

	res := &Result{IndexName: b.indexName, Chunks: len(embedded), Rebuilt: true, Elapsed: time.Since(start)}
	log.Info().
		Str("index", res.IndexName).
		Int("pages", len(pages)).
		Int("chunks", res.Chunks).
		Dur("elapsed", res.Elapsed).
		Msg("Index built")
	return res, nil
}

// loadAll parses every file on a worker pool and returns the pages in
// file order.
func (b *Builder) replace(ctx context.Context, chunks []models.ChunkEmbedding) error {
	if r, ok := b.store.(Replacer); ok {
		if err := r.Replace(ctx, chunks); err != nil {
			return fmt.Errorf("failed to replace index %s: %w", b.indexName, err)
		}
		return nil
	}
	if err := b.store.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset index %s: %w", b.indexName, err)
	}
	if err := b.store.AddChunks(ctx, chunks); err != nil {
		return fmt.Errorf("failed to store chunks: %w", err)
	}
	return nil
}

func (b *Builder) loadAll(ctx context.Context) ([]schema.Document, error) {
	workers := b.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	pool, err := ants.NewPool(workers, ants.WithPanicHandler(func(p interface{}) {
		log.Error().Interface("panic", p).Msg("Parser worker panic recovered")
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	defer pool.Release()

	results := make([][]schema.Document, len(b.files))
	errs := make([]error, len(b.files))
	var wg sync.WaitGroup
	for i, file := range b.files {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			errs[i] = fmt.Errorf("parser panicked on %s", file)
			docs, err := parser.LoadDocuments(file)
			if err != nil {
				errs[i] = err
				return
			}
			log.Debug().Str("file", file).Int("pages", len(docs)).Msg("Parsed document")
			results[i], errs[i] = docs, nil
		})
		if err != nil {
			wg.Done()
			errs[i] = fmt.Errorf("failed to schedule %s: %w", file, err)
		}
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	var pages []schema.Document
	for _, docs := range results {
		pages = append(pages, docs...)
	}
	return pages, nil
}

func pageKey(source string, page int) string {
	return fmt.Sprintf("%s#%d", source, page)
}

func pageLookup(pages []schema.Document) func(models.Chunk) string {
	texts := make(map[string]string, len(pages))
	for _, p := range pages {
		c := parser.ToChunk(p)
		texts[pageKey(c.Source, c.PageNumber)] = p.PageContent
	}
	return func(c models.Chunk) string {
		return texts[pageKey(c.Source, c.PageNumber)]
	}
}
