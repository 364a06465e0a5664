package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	"medical-qa-rag/internal/helper"
	"medical-qa-rag/internal/models"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
)

var ErrEncryptionKey = errors.New("encryption key must be 32 bytes")

// meta data will have source filename, display name, page number, chunk id and section

// VectorDBManager encapsulates the chromem-go database operations for one
// named index.
type VectorDBManager struct {
	mu            sync.RWMutex
	db            *chromem.DB
	collection    *chromem.Collection
	embed         chromem.EmbeddingFunc
	dbPath        string
	compress      bool
	encryptionKey string
	filePath      string
}

const (
	compress = false
)

// NewVectorDBManager opens (or creates) the collection collectionName under
// dbPath. embed is used only for text queries and may be nil.
func NewVectorDBManager(dbPath, collectionName string, inMemory bool, encryptionKey string, embed chromem.EmbeddingFunc) (*VectorDBManager, error) {
	var db *chromem.DB
	var err error
	if inMemory {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(dbPath, compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	m := &VectorDBManager{
		db:            db,
		embed:         embed,
		dbPath:        dbPath,
		compress:      compress,
		encryptionKey: encryptionKey,
		filePath:      filepath.Join(dbPath, collectionName+".chromem"),
	}
	if _, err := m.getOrCreateCollection(collectionName); err != nil {
		return nil, err
	}
	return m, nil
}

// create or read collection
func (m *VectorDBManager) getOrCreateCollection(collectionName string) (*chromem.Collection, error) {
	c, err := m.db.GetOrCreateCollection(collectionName, nil, m.embed)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}
	m.collection = c
	return c, nil
}

// Name is the index (collection) name.
func (m *VectorDBManager) Name() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collection.Name
}

// FilePath is where Export writes and Import reads.
func (m *VectorDBManager) FilePath() string {
	return m.filePath
}

func (m *VectorDBManager) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collection.Count(), nil
}

// AddChunks stores embedded chunks. Re-adding a chunk with the same id
// overwrites it.
func (m *VectorDBManager) AddChunks(ctx context.Context, chunks []models.ChunkEmbedding) error {
	if len(chunks) == 0 {
		return nil
	}
	docs := make([]chromem.Document, 0, len(chunks))
	for _, c := range chunks {
		docs = append(docs, chromem.Document{
			ID:        c.ID(),
			Content:   c.Content,
			Metadata:  toMetadata(c.Chunk),
			Embedding: c.Embedding,
		})
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	return nil
}

// Search returns the k chunks closest to embedding, best first. k is
// clamped to the collection size; an empty collection yields no results.
func (m *VectorDBManager) Search(ctx context.Context, embedding []float32, k int) ([]models.Source, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("query embedding must be provided")
	}
	return m.query(ctx, chromem.QueryOptions{QueryEmbedding: embedding, NResults: k})
}

// SearchText embeds text with the collection's embedding function and
// searches with it.
func (m *VectorDBManager) SearchText(ctx context.Context, text string, k int) ([]models.Source, error) {
	if text == "" {
		return nil, fmt.Errorf("query text must be provided")
	}
	if m.embed == nil {
		return nil, fmt.Errorf("no embedding function configured")
	}
	return m.query(ctx, chromem.QueryOptions{QueryText: text, NResults: k})
}

func (m *VectorDBManager) query(ctx context.Context, opts chromem.QueryOptions) ([]models.Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := m.collection.Count()
	if n == 0 || opts.NResults <= 0 {
		return nil, nil
	}
	opts.NResults = min(opts.NResults, n)

	results, err := m.collection.QueryWithOptions(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}

	sources := make([]models.Source, 0, len(results))
	for _, r := range results {
		chunk := fromMetadata(r.Metadata)
		chunk.Content = r.Content
		sources = append(sources, models.Source{
			Chunk:   chunk,
			Score:   r.Similarity,
			Preview: helper.Preview(r.Content, models.PreviewLength),
		})
	}
	return sources, nil
}

// Reset drops every chunk of the index and leaves an empty collection.
func (m *VectorDBManager) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := m.collection.Name
	if err := m.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	_, err := m.getOrCreateCollection(name)
	return err
}

// export to file
func (m *VectorDBManager) Export(_ context.Context) error {
	if len(m.encryptionKey) != 32 {
		return ErrEncryptionKey
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	log.Debug().
		Str("collection", m.collection.Name).
		Str("file", m.filePath).
		Bool("compress", m.compress).
		Msg("Exporting index")

	err := m.db.ExportToFile(m.filePath, m.compress, m.encryptionKey, m.collection.Name)
	if err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

// import from file
func (m *VectorDBManager) Import(_ context.Context) error {
	if len(m.encryptionKey) != 32 {
		return ErrEncryptionKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	name := m.collection.Name
	log.Debug().Str("collection", name).Str("file", m.filePath).Msg("Importing index")

	if err := m.db.ImportFromFile(m.filePath, m.encryptionKey, name); err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}
	_, err := m.getOrCreateCollection(name)
	return err
}

func toMetadata(c models.Chunk) map[string]string {
	meta := map[string]string{
		models.MetaSource:        c.Source,
		models.MetaDisplaySource: c.DisplaySource,
		models.MetaPage:          strconv.Itoa(c.PageNumber),
		models.MetaChunkID:       strconv.Itoa(c.ChunkID),
	}
	if c.Section != "" {
		meta[models.MetaSection] = c.Section
	}
	return meta
}

func fromMetadata(meta map[string]string) models.Chunk {
	page, _ := strconv.Atoi(meta[models.MetaPage])
	chunkID, _ := strconv.Atoi(meta[models.MetaChunkID])
	c := models.Chunk{
		Source:        meta[models.MetaSource],
		DisplaySource: meta[models.MetaDisplaySource],
		Section:       meta[models.MetaSection],
		PageNumber:    page,
		ChunkID:       chunkID,
	}
	if c.Source == "" {
		c.Source = models.UnknownSource
	}
	if c.DisplaySource == "" {
		c.DisplaySource = c.Source
	}
	return c
}
