package parser

import (
	"fmt"
	"strings"

	"medical-qa-rag/internal/models"

	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"
)

// SplitDocuments cuts page documents into overlapping chunks with the
// recursive character splitter. Every chunk keeps its page metadata, gains
// a 1-based chunk_id that restarts on each page and the numbered section
// it falls under.
func SplitDocuments(docs []schema.Document, chunkSize, chunkOverlap int) ([]schema.Document, error) {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = defaultChunkOverlap
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
	)
	chunks, err := textsplitter.SplitDocuments(splitter, docs)
	if err != nil {
		return nil, fmt.Errorf("failed to split documents: %w", err)
	}

	out := make([]schema.Document, 0, len(chunks))
	var (
		lastKey string
		chunkID int
	)
	for _, c := range chunks {
		if strings.TrimSpace(c.PageContent) == "" {
			continue
		}
		key := fmt.Sprintf("%v#%v", c.Metadata[models.MetaSource], c.Metadata[models.MetaPage])
		if key != lastKey {
			lastKey = key
			chunkID = 0
		}
		chunkID++
		c.Metadata[models.MetaChunkID] = chunkID
		out = append(out, c)
	}
	return TagSections(out), nil
}

// ToChunk reads the metadata stamped by LoadDocuments and SplitDocuments.
func ToChunk(doc schema.Document) models.Chunk {
	c := models.Chunk{
		Content:       doc.PageContent,
		Source:        metaString(doc.Metadata, models.MetaSource),
		DisplaySource: metaString(doc.Metadata, models.MetaDisplaySource),
		Section:       metaString(doc.Metadata, models.MetaSection),
		PageNumber:    metaInt(doc.Metadata, models.MetaPage),
		ChunkID:       metaInt(doc.Metadata, models.MetaChunkID),
	}
	if c.Source == "" {
		c.Source = models.UnknownSource
	}
	if c.DisplaySource == "" {
		c.DisplaySource = c.Source
	}
	if c.PageNumber == 0 {
		c.PageNumber = defaultPageNumber
	}
	return c
}

func metaString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func metaInt(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
