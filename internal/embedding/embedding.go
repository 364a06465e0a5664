package embedding

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"medical-qa-rag/internal/config"
	"medical-qa-rag/internal/llmservice"
	"medical-qa-rag/internal/models"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
)

// NewEmbedder creates a new embedder
func NewEmbedder(llmConfig *config.LLMConfig) (*embeddings.EmbedderImpl, error) {
	log.Debug().Interface("config", map[string]string{
		"provider":        llmConfig.Provider,
		"base_url":        llmConfig.BaseURL,
		"embedding_model": llmConfig.Model,
	}).Msg("Loaded embedder config")

	var client embeddings.EmbedderClient
	switch llmConfig.Provider {
	case config.ProviderOllama:
		llm, err := ollama.New(
			ollama.WithServerURL(llmConfig.BaseURL),
			ollama.WithModel(llmConfig.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("error initializing LLM: %w", err)
		}
		client = llm
	case config.ProviderOpenAI, "":
		llm, err := openai.New(
			openai.WithBaseURL(llmConfig.BaseURL),
			openai.WithToken(llmConfig.BearerKey()),
			openai.WithEmbeddingModel(llmConfig.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("error initializing LLM: %w", err)
		}
		client = llm
	default:
		return nil, fmt.Errorf("unknown provider %q", llmConfig.Provider)
	}
	return NewClientEmbedder(client, llmConfig.BatchSize)
}

// NewClientEmbedder wraps any embedding client with batching.
func NewClientEmbedder(client embeddings.EmbedderClient, batchSize int) (*embeddings.EmbedderImpl, error) {
	opts := []embeddings.Option{embeddings.WithStripNewLines(true)}
	if batchSize > 0 {
		opts = append(opts, embeddings.WithBatchSize(batchSize))
	}
	embedder, err := embeddings.NewEmbedder(client, opts...)
	if err != nil {
		return nil, fmt.Errorf("error creating embedder: %w", err)
	}
	return embedder, nil
}

// GenerateEmbedding embeds every chunk. The result is aligned with chunks.
func GenerateEmbedding(ctx context.Context, embedder embeddings.Embedder, chunks []models.Chunk) ([]models.ChunkEmbedding, error) {
	if len(chunks) == 0 {
		log.Info().Msg("No chunks generated from content")
		return nil, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.EmbedText()
	}
	vectors, err := embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed %d chunks: %w", len(chunks), err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	chunkEmbeddings := make([]models.ChunkEmbedding, len(chunks))
	for i, chunk := range chunks {
		chunkEmbeddings[i] = models.ChunkEmbedding{Chunk: chunk, Embedding: vectors[i]}
	}
	return chunkEmbeddings, nil
}

// generate context for each chunk and return new chunks
func GenerateContext(ctx context.Context, model llms.Model, document, chunk string) (string, error) {
	log.Debug().Int("chunk_len", len(chunk)).Msg("Generating context for chunk")
	prompt := fmt.Sprintf(models.ContextPromptTemplate, document, chunk)

	msgContent := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeHuman, prompt),
	}
	return llmservice.GenerateContent(ctx, model, msgContent)
}

// ContextualizeChunks fills Chunk.Context from the page each chunk was cut
// from. pageText returns that page. A failed call leaves the chunk bare.
func ContextualizeChunks(ctx context.Context, model llms.Model, chunks []models.Chunk, pageText func(models.Chunk) string) []models.Chunk {
	out := make([]models.Chunk, len(chunks))
	for i, c := range chunks {
		out[i] = c
		if ctx.Err() != nil {
			continue
		}
		situated, err := GenerateContext(ctx, model, pageText(c), c.Content)
		if err != nil {
			log.Warn().Err(err).Str("chunk", c.ID()).Msg("Failed to contextualize chunk")
			continue
		}
		out[i].Context = situated
	}
	return out
}
