package llmservice

import (
	"context"
	"testing"

	"medical-qa-rag/internal/config"
	"medical-qa-rag/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/fake"
)

func TestGenerateContent_StripsThinking(t *testing.T) {
	model := fake.NewFakeLLM([]string{"<think>\nrecall WHO list\n</think>\n아스피린은 비마약성 진통제입니다."})

	out, err := GenerateContent(context.Background(), model, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, "아스피린은?"),
	})
	require.NoError(t, err)
	assert.Equal(t, "아스피린은 비마약성 진통제입니다.", out)
}

func TestGenerateContent_NoResponses(t *testing.T) {
	model := fake.NewFakeLLM(nil)

	_, err := GenerateContent(context.Background(), model, nil)
	require.Error(t, err)
}

func TestNewModel(t *testing.T) {
	_, err := NewModel(&config.LLMConfig{Provider: "mystery"})
	require.Error(t, err)

	m, err := NewModel(&config.LLMConfig{Provider: config.ProviderOllama, BaseURL: "http://localhost:11434", Model: "llama3"})
	require.NoError(t, err)
	assert.NotNil(t, m)

	m, err = NewModel(&config.LLMConfig{Provider: config.ProviderOpenAI, BaseURL: "http://localhost:1", Key: "Bearer sk-test", Model: "gpt-4o-mini"})
	require.NoError(t, err)
	assert.NotNil(t, m)
}

func TestToMessageContent(t *testing.T) {
	msgs := ToMessageContent([]llms.ChatMessage{
		llms.SystemChatMessage{Content: "system"},
		llms.HumanChatMessage{Content: "question"},
	})

	require.Len(t, msgs, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, msgs[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, msgs[1].Role)
	assert.Equal(t, llms.TextContent{Text: "question"}, msgs[1].Parts[0])
}

func TestChatMessagesRoundTrip(t *testing.T) {
	history := []models.Message{
		{Role: models.RoleHuman, Content: "What is morphine?"},
		{Role: models.RoleAI, Content: "An opioid analgesic."},
	}

	chat := ToChatMessages(history)
	require.Len(t, chat, 2)
	assert.Equal(t, llms.ChatMessageTypeHuman, chat[0].GetType())
	assert.Equal(t, llms.ChatMessageTypeAI, chat[1].GetType())

	back := FromChatMessages(append(chat, llms.SystemChatMessage{Content: "ignored"}))
	assert.Equal(t, history, back)
}
