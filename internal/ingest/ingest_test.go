package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"medical-qa-rag/internal/chromemdb"
	"medical-qa-rag/internal/config"
	"medical-qa-rag/internal/embedding"
	"medical-qa-rag/internal/helper"
	"medical-qa-rag/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/fake"
)

const formulary = `2.1 Non-opioid analgesics
Paracetamol is used for mild to moderate pain and fever.

2.2 Opioid analgesics
Morphine is used for severe pain. Codeine is a weak opioid.`

const antibacterials = `6.2 Antibacterials
Amoxicillin is a broad spectrum penicillin.`

func writeDocs(t *testing.T, contents map[string]string) []string {
	t.Helper()
	dir := t.TempDir()
	var files []string
	for name, body := range contents {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		files = append(files, path)
	}
	return files
}

func newBuilder(t *testing.T, files []string) (*Builder, *chromemdb.VectorDBManager) {
	t.Helper()
	cfg := config.Default()
	cfg.RAG.Documents = files
	cfg.RAG.ChunkSize = 80
	cfg.RAG.ChunkOverlap = 10
	cfg.RAG.Workers = 2

	embedder, err := embedding.NewClientEmbedder(embedding.HashClient(256), 0)
	require.NoError(t, err)
	store, err := chromemdb.NewVectorDBManager("", helper.IndexName(files), true, "", embedder.EmbedQuery)
	require.NoError(t, err)
	return NewBuilder(cfg, store, embedder, nil), store
}

func TestLoadOrBuild_BuildsThenReuses(t *testing.T) {
	ctx := context.Background()
	files := writeDocs(t, map[string]string{"formulary.txt": formulary, "antibacterials.md": antibacterials})
	b, store := newBuilder(t, files)
	assert.Equal(t, helper.IndexName(files), b.IndexName())
	assert.Equal(t, files, b.Files())

	res, err := b.LoadOrBuild(ctx, false)
	require.NoError(t, err)
	assert.True(t, res.Rebuilt)
	assert.Greater(t, res.Chunks, 2)
	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, res.Chunks, count)

	again, err := b.LoadOrBuild(ctx, false)
	require.NoError(t, err)
	assert.False(t, again.Rebuilt)
	assert.Equal(t, res.Chunks, again.Chunks)

	forced, err := b.LoadOrBuild(ctx, true)
	require.NoError(t, err)
	assert.True(t, forced.Rebuilt)
	count, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, res.Chunks, count)
}

func TestLoadOrBuild_ChunksCarrySections(t *testing.T) {
	ctx := context.Background()
	files := writeDocs(t, map[string]string{"formulary.txt": formulary})
	b, store := newBuilder(t, files)

	_, err := b.LoadOrBuild(ctx, false)
	require.NoError(t, err)

	sources, err := store.SearchText(ctx, "morphine severe pain", 1)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Contains(t, sources[0].Chunk.Content, "Morphine")
	assert.Equal(t, "2.2 Opioid analgesics", sources[0].Chunk.Section)
	assert.Equal(t, "formulary.txt", sources[0].Chunk.DisplaySource)
}

func TestLoadOrBuild_MissingFileKeepsIndex(t *testing.T) {
	ctx := context.Background()
	files := writeDocs(t, map[string]string{"formulary.txt": formulary})
	b, store := newBuilder(t, files)
	res, err := b.LoadOrBuild(ctx, false)
	require.NoError(t, err)

	require.NoError(t, os.Remove(files[0]))
	_, err = b.LoadOrBuild(ctx, true)
	require.ErrorIs(t, err, ErrMissingFiles)
	assert.Contains(t, err.Error(), "formulary.txt")

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, res.Chunks, count)
}

func TestLoadOrBuild_NoText(t *testing.T) {
	files := writeDocs(t, map[string]string{"blank.txt": "  \n\n  "})
	b, _ := newBuilder(t, files)

	_, err := b.LoadOrBuild(context.Background(), false)
	assert.ErrorIs(t, err, ErrNoDocuments)
}

func TestLoadOrBuild_ParseErrorIsReported(t *testing.T) {
	files := writeDocs(t, map[string]string{"formulary.txt": formulary, "scan.tiff": "binary"})
	b, _ := newBuilder(t, files)

	_, err := b.LoadOrBuild(context.Background(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file format: .tiff")
}

func TestLoadOrBuild_EmbedderErrorKeepsIndex(t *testing.T) {
	ctx := context.Background()
	files := writeDocs(t, map[string]string{"formulary.txt": formulary})
	b, store := newBuilder(t, files)
	res, err := b.LoadOrBuild(ctx, false)
	require.NoError(t, err)

	failing, err := embedding.NewClientEmbedder(embeddings.EmbedderClientFunc(func(context.Context, []string) ([][]float32, error) {
		return nil, errors.New("embedding server down")
	}), 0)
	require.NoError(t, err)
	b.embedder = failing

	_, err = b.LoadOrBuild(ctx, true)
	require.Error(t, err)
	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, res.Chunks, count)
}

func TestLoadOrBuild_Contextualize(t *testing.T) {
	ctx := context.Background()
	files := writeDocs(t, map[string]string{"formulary.txt": formulary})
	b, store := newBuilder(t, files)
	b.cfg.ContextualizeChunks = true
	b.model = fake.NewFakeLLM([]string{"<think>scratch</think>Analgesics chapter of the formulary."})

	_, err := b.LoadOrBuild(ctx, false)
	require.NoError(t, err)

	sources, err := store.SearchText(ctx, "analgesics chapter formulary", 1)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.False(t, strings.Contains(sources[0].Chunk.Content, "chapter"))
}

func TestPageLookup(t *testing.T) {
	files := writeDocs(t, map[string]string{"formulary.txt": formulary})
	b, _ := newBuilder(t, files)
	pages, err := b.loadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, pages, 1)

	lookup := pageLookup(pages)
	assert.Equal(t, formulary, lookup(models.Chunk{Source: files[0], PageNumber: 1}))
	assert.Empty(t, lookup(models.Chunk{Source: files[0], PageNumber: 2}))
}

type countingInvalidator struct{ calls int }

func (c *countingInvalidator) Clear(context.Context) (int, error) {
	c.calls++
	return 0, nil
}

func TestLoadOrBuild_InvalidatesOnRebuildOnly(t *testing.T) {
	ctx := context.Background()
	files := writeDocs(t, map[string]string{"formulary.txt": formulary})
	b, _ := newBuilder(t, files)
	inv := &countingInvalidator{}
	WithInvalidator(inv)(b)

	_, err := b.LoadOrBuild(ctx, false)
	require.NoError(t, err)
	_, err = b.LoadOrBuild(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, inv.calls)

	_, err = b.LoadOrBuild(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 2, inv.calls)
}

// replacingStore swaps the index through Replace and records how it was used.
type replacingStore struct {
	*chromemdb.VectorDBManager
	resets   atomic.Int32
	replaces atomic.Int32
	inFlight atomic.Int32
	overlap  atomic.Bool
}

func (s *replacingStore) Reset(ctx context.Context) error {
	s.resets.Add(1)
	return s.VectorDBManager.Reset(ctx)
}

func (s *replacingStore) Replace(ctx context.Context, chunks []models.ChunkEmbedding) error {
	if s.inFlight.Add(1) > 1 {
		s.overlap.Store(true)
	}
	defer s.inFlight.Add(-1)
	s.replaces.Add(1)
	time.Sleep(20 * time.Millisecond)
	if err := s.VectorDBManager.Reset(ctx); err != nil {
		return err
	}
	return s.VectorDBManager.AddChunks(ctx, chunks)
}

func TestLoadOrBuild_PrefersReplace(t *testing.T) {
	ctx := context.Background()
	files := writeDocs(t, map[string]string{"formulary.txt": formulary})
	b, inner := newBuilder(t, files)
	store := &replacingStore{VectorDBManager: inner}
	b.store = store

	res, err := b.LoadOrBuild(ctx, false)
	require.NoError(t, err)
	_, err = b.LoadOrBuild(ctx, true)
	require.NoError(t, err)

	assert.EqualValues(t, 2, store.replaces.Load())
	assert.Zero(t, store.resets.Load())
	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, res.Chunks, count)
}

func TestLoadOrBuild_ConcurrentRebuilds(t *testing.T) {
	ctx := context.Background()
	files := writeDocs(t, map[string]string{"formulary.txt": formulary, "antibacterials.md": antibacterials})
	b, inner := newBuilder(t, files)
	store := &replacingStore{VectorDBManager: inner}
	b.store = store

	const callers = 4
	var (
		wg      sync.WaitGroup
		results = make([]*Result, callers)
		errs    = make([]error, callers)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = b.LoadOrBuild(ctx, true)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.True(t, results[i].Rebuilt)
		assert.Equal(t, results[0].Chunks, results[i].Chunks)
	}
	assert.False(t, store.overlap.Load(), "rebuilds ran concurrently")
	assert.EqualValues(t, callers, store.replaces.Load())

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, results[0].Chunks, count)
}
