package llmservice

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"medical-qa-rag/internal/config"
	"medical-qa-rag/internal/models"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
)

var (
	ErrEmptyResponse = errors.New("empty response from model")

	thinkRe = regexp.MustCompile(models.ThinkTag)
)

// NewModel builds the chat model described by llmConfig.
func NewModel(llmConfig *config.LLMConfig) (llms.Model, error) {
	log.Debug().
		Str("provider", llmConfig.Provider).
		Str("base_url", llmConfig.BaseURL).
		Str("model", llmConfig.Model).
		Msg("Creating chat model")

	var (
		model llms.Model
		err   error
	)
	switch llmConfig.Provider {
	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithServerURL(llmConfig.BaseURL),
			ollama.WithModel(llmConfig.Model),
		)
	case config.ProviderOpenAI, "":
		model, err = openai.New(
			openai.WithBaseURL(llmConfig.BaseURL),
			openai.WithToken(llmConfig.BearerKey()),
			openai.WithModel(llmConfig.Model),
		)
	default:
		return nil, fmt.Errorf("unknown provider %q", llmConfig.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("error initializing LLM: %w", err)
	}
	return model, nil
}

// call llm
func GenerateContent(ctx context.Context, model llms.Model, messages []llms.MessageContent, options ...llms.CallOption) (string, error) {
	res, err := model.GenerateContent(ctx, messages, options...)
	if err != nil {
		return "", err
	}
	if res == nil || len(res.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return StripThinking(res.Choices[0].Content), nil
}

// StripThinking removes <think>...</think> blocks emitted by reasoning models.
func StripThinking(s string) string {
	return strings.TrimSpace(thinkRe.ReplaceAllString(s, ""))
}

// ToMessageContent converts formatted prompt messages into model input.
func ToMessageContent(messages []schema.ChatMessage) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		out = append(out, llms.TextParts(m.GetType(), m.GetContent()))
	}
	return out
}

// ToChatMessages turns stored chat turns into langchaingo messages.
func ToChatMessages(history []models.Message) []schema.ChatMessage {
	out := make([]schema.ChatMessage, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case models.RoleAI:
			out = append(out, schema.AIChatMessage{Content: m.Content})
		default:
			out = append(out, schema.HumanChatMessage{Content: m.Content})
		}
	}
	return out
}

// FromChatMessages is the inverse of ToChatMessages. Messages that are
// neither human nor ai are skipped.
func FromChatMessages(messages []schema.ChatMessage) []models.Message {
	out := make([]models.Message, 0, len(messages))
	for _, m := range messages {
		switch m.GetType() {
		case schema.ChatMessageTypeAI:
			out = append(out, models.Message{Role: models.RoleAI, Content: m.GetContent()})
		case schema.ChatMessageTypeHuman:
			out = append(out, models.Message{Role: models.RoleHuman, Content: m.GetContent()})
		}
	}
	return out
}
