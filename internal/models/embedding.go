package models

import (
	"fmt"
	"time"
)

// Chunk represents a parsed chunk with metadata
type Chunk struct {
	Content       string `json:"content"`
	Source        string `json:"source"`
	DisplaySource string `json:"display_source"`
	Section       string `json:"section,omitempty"`
	PageNumber    int    `json:"page"`
	ChunkID       int    `json:"chunk_id"`
	// Context is an optional model-written sentence situating the chunk in
	// its page. It is embedded with the chunk but never shown.
	Context string `json:"-"`
}

// ID is stable for a given file, page and position.
func (c Chunk) ID() string {
	return fmt.Sprintf("%s-p%d-c%d", c.DisplaySource, c.PageNumber, c.ChunkID)
}

// EmbedText is the text sent to the embedder.
func (c Chunk) EmbedText() string {
	if c.Context == "" {
		return c.Content
	}
	return c.Context + ContextSeparator + c.Content
}

type ChunkEmbedding struct {
	Chunk
	Embedding []float32 `json:"-"`
}

// Source is a retrieved chunk as it is cited under an answer.
type Source struct {
	Chunk
	Score   float32 `json:"score"`
	Preview string  `json:"preview"`
}

type Role string

const (
	RoleHuman Role = "human"
	RoleAI    Role = "ai"
)

type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type Session struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Answer is the outcome of one question.
type Answer struct {
	Question           string   `json:"question"`
	StandaloneQuestion string   `json:"standalone_question"`
	Content            string   `json:"answer"`
	Sources            []Source `json:"sources"`
	Cached             bool     `json:"cached"`
}
