package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"medical-qa-rag/internal/cache"
	"medical-qa-rag/internal/config"
	"medical-qa-rag/internal/llmservice"
	"medical-qa-rag/internal/models"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"
	"github.com/tmc/langchaingo/schema"
)

var ErrEmptyQuestion = errors.New("question is empty")

// VectorStore is one named vector index.
type VectorStore interface {
	Count(ctx context.Context) (int, error)
	AddChunks(ctx context.Context, chunks []models.ChunkEmbedding) error
	Search(ctx context.Context, embedding []float32, k int) ([]models.Source, error)
	Reset(ctx context.Context) error
}

// AnswerCache stores answers per index and standalone question.
type AnswerCache interface {
	Get(ctx context.Context, indexName, question string) (*models.Answer, error)
	Set(ctx context.Context, indexName, question string, answer *models.Answer) error
}

type Request struct {
	Question string           `json:"question"`
	History  []models.Message `json:"history"`
}

type RAG struct {
	model     llms.Model
	embedder  embeddings.Embedder
	store     VectorStore
	indexName string
	cache     AnswerCache
	topK      int
	translate bool

	contextualizePrompt prompts.ChatPromptTemplate
	qaPrompt            prompts.ChatPromptTemplate
	translatePrompt     prompts.PromptTemplate
}

type Option func(*RAG)

// WithCache enables the answer cache.
func WithCache(c AnswerCache) Option {
	return func(r *RAG) { r.cache = c }
}

func NewRAG(model llms.Model, embedder embeddings.Embedder, store VectorStore, indexName string, cfg *config.Config, opts ...Option) *RAG {
	r := &RAG{
		model:     model,
		embedder:  embedder,
		store:     store,
		indexName: indexName,
		topK:      cfg.RAG.TopK,
		translate: cfg.RAG.TranslateQuery,

		contextualizePrompt: prompts.NewChatPromptTemplate([]prompts.MessageFormatter{
			prompts.NewSystemMessagePromptTemplate(cfg.Prompts.Contextualize, nil),
			prompts.MessagesPlaceholder{VariableName: "history"},
			prompts.NewHumanMessagePromptTemplate("{{.input}}", []string{"input"}),
		}),
		qaPrompt: prompts.NewChatPromptTemplate([]prompts.MessageFormatter{
			prompts.NewSystemMessagePromptTemplate(cfg.Prompts.QA, []string{"context"}),
			prompts.MessagesPlaceholder{VariableName: "history"},
			prompts.NewHumanMessagePromptTemplate("{{.input}}", []string{"input"}),
		}),
		translatePrompt: prompts.NewPromptTemplate(cfg.Prompts.Translate, []string{"input"}),
	}
	if r.topK <= 0 {
		r.topK = 4
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RAG) IndexName() string {
	return r.indexName
}

// Ask answers one question against the index, using history to resolve
// follow-up questions.
func (r *RAG) Ask(ctx context.Context, req Request) (*models.Answer, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	start := time.Now()

	input := question
	if r.translate {
		translated, err := r.Translate(ctx, question)
		if err != nil {
			log.Warn().Err(err).Msg("Query translation failed, using original question")
		} else {
			input = translated
		}
	}

	history := llmservice.ToChatMessages(req.History)
	standalone, err := r.Contextualize(ctx, input, history)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		cached, err := r.cache.Get(ctx, r.indexName, standalone)
		switch {
		case err == nil:
			cached.Question = question
			cached.Cached = true
			log.Debug().Str("question", standalone).Msg("Answer cache hit")
			return cached, nil
		case !errors.Is(err, cache.ErrCacheMiss):
			log.Warn().Err(err).Msg("Answer cache read failed")
		}
	}

	sources, err := r.Retrieve(ctx, standalone)
	if err != nil {
		return nil, err
	}

	content, err := r.answer(ctx, input, history, sources)
	if err != nil {
		return nil, err
	}

	ans := &models.Answer{
		Question:           question,
		StandaloneQuestion: standalone,
		Content:            content,
		Sources:            sources,
	}
	if r.cache != nil {
		if err := r.cache.Set(ctx, r.indexName, standalone, ans); err != nil {
			log.Warn().Err(err).Msg("Answer cache write failed")
		}
	}

	log.Info().
		Str("index", r.indexName).
		Int("sources", len(sources)).
		Bool("follow_up", len(history) > 0).
		Dur("elapsed", time.Since(start)).
		Msg("Question answered")
	return ans, nil
}

// Retrieve embeds query and returns the top-k chunks for it.
func (r *RAG) Retrieve(ctx context.Context, query string) ([]models.Source, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuestion
	}
	vec, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	sources, err := r.store.Search(ctx, vec, r.topK)
	if err != nil {
		return nil, fmt.Errorf("failed to search index %s: %w", r.indexName, err)
	}
	return sources, nil
}

// Contextualize rewrites input into a question that stands on its own.
// Without history the input is returned unchanged.
func (r *RAG) Contextualize(ctx context.Context, input string, history []schema.ChatMessage) (string, error) {
	if len(history) == 0 {
		return input, nil
	}
	messages, err := r.contextualizePrompt.FormatMessages(map[string]any{
		"history": history,
		"input":   input,
	})
	if err != nil {
		return "", fmt.Errorf("failed to format contextualize prompt: %w", err)
	}
	out, err := llmservice.GenerateContent(ctx, r.model, llmservice.ToMessageContent(messages))
	if err != nil {
		return "", fmt.Errorf("failed to contextualize question: %w", err)
	}
	if out == "" {
		return input, nil
	}
	return out, nil
}

// Translate renders a Korean medical question in English terminology.
func (r *RAG) Translate(ctx context.Context, question string) (string, error) {
	prompt, err := r.translatePrompt.Format(map[string]any{"input": question})
	if err != nil {
		return "", fmt.Errorf("failed to format translate prompt: %w", err)
	}
	out, err := llmservice.GenerateContent(ctx, r.model, []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeHuman, prompt),
	})
	if err != nil {
		return "", err
	}
	if out == "" {
		return "", llmservice.ErrEmptyResponse
	}
	return out, nil
}

func (r *RAG) answer(ctx context.Context, input string, history []schema.ChatMessage, sources []models.Source) (string, error) {
	messages, err := r.qaPrompt.FormatMessages(map[string]any{
		"context": BuildContext(sources),
		"history": history,
		"input":   input,
	})
	if err != nil {
		return "", fmt.Errorf("failed to format qa prompt: %w", err)
	}
	out, err := llmservice.GenerateContent(ctx, r.model, llmservice.ToMessageContent(messages))
	if err != nil {
		return "", fmt.Errorf("failed to generate answer: %w", err)
	}
	return out, nil
}

// BuildContext stuffs the retrieved chunk contents into one string.
func BuildContext(sources []models.Source) string {
	parts := make([]string, 0, len(sources))
	for _, s := range sources {
		parts = append(parts, s.Content)
	}
	return strings.Join(parts, models.ContextSeparator)
}
