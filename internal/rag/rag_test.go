package rag

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"medical-qa-rag/internal/cache"
	"medical-qa-rag/internal/chromemdb"
	"medical-qa-rag/internal/config"
	"medical-qa-rag/internal/embedding"
	"medical-qa-rag/internal/models"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

// stubModel answers through reply and records every call.
type stubModel struct {
	mu    sync.Mutex
	calls [][]llms.MessageContent
	reply func(messages []llms.MessageContent) (string, error)
}

func (m *stubModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, messages)
	m.mu.Unlock()
	out, err := m.reply(messages)
	if err != nil {
		return nil, err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: out}}}, nil
}

func (m *stubModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func (m *stubModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func text(mc llms.MessageContent) string {
	var sb strings.Builder
	for _, p := range mc.Parts {
		if t, ok := p.(llms.TextContent); ok {
			sb.WriteString(t.Text)
		}
	}
	return sb.String()
}

// kind tells which prompt a call was made with.
func kind(messages []llms.MessageContent) string {
	all := ""
	for _, m := range messages {
		all += text(m)
	}
	switch {
	case strings.Contains(all, "Translate the following Korean medical question"):
		return "translate"
	case strings.Contains(all, "formulate a standalone question"):
		return "contextualize"
	default:
		return "qa"
	}
}

const testDim = 1024

var corpus = []string{
	"Morphine is an opioid analgesic used for severe pain.",
	"Paracetamol is a non-opioid analgesic used for fever and mild pain.",
	"Amoxicillin is a penicillin antibacterial.",
	"Salbutamol is a bronchodilator for asthma.",
	"Metformin lowers blood glucose in type 2 diabetes.",
	"Codeine is a weak opioid analgesic.",
}

func newFixture(t *testing.T, cfg *config.Config, reply func([]llms.MessageContent) (string, error), opts ...Option) (*RAG, *stubModel) {
	t.Helper()
	ctx := context.Background()

	embedder, err := embedding.NewClientEmbedder(embedding.HashClient(testDim), 0)
	require.NoError(t, err)
	store, err := chromemdb.NewVectorDBManager("", "idx_test", true, "", nil)
	require.NoError(t, err)

	chunks := make([]models.Chunk, len(corpus))
	for i, c := range corpus {
		chunks[i] = models.Chunk{Content: c, Source: "who.pdf", DisplaySource: "who.pdf", PageNumber: i + 1, ChunkID: 1}
	}
	embedded, err := embedding.GenerateEmbedding(ctx, embedder, chunks)
	require.NoError(t, err)
	require.NoError(t, store.AddChunks(ctx, embedded))

	model := &stubModel{reply: reply}
	return NewRAG(model, embedder, store, "idx_test", cfg, opts...), model
}

func TestAsk_EmptyQuestion(t *testing.T) {
	r, model := newFixture(t, config.Default(), func([]llms.MessageContent) (string, error) { return "x", nil })

	_, err := r.Ask(context.Background(), Request{Question: "   "})
	assert.ErrorIs(t, err, ErrEmptyQuestion)
	assert.Zero(t, model.callCount())
}

func TestAsk_WithoutHistoryPassesQuestionThrough(t *testing.T) {
	r, model := newFixture(t, config.Default(), func(msgs []llms.MessageContent) (string, error) {
		return "<think>hmm</think>모르핀은 마약성 진통제입니다.", nil
	})

	ans, err := r.Ask(context.Background(), Request{Question: "What is morphine opioid analgesic?"})
	require.NoError(t, err)

	assert.Equal(t, "What is morphine opioid analgesic?", ans.StandaloneQuestion)
	assert.Equal(t, "모르핀은 마약성 진통제입니다.", ans.Content)
	assert.False(t, ans.Cached)
	require.Len(t, ans.Sources, 4)
	assert.Contains(t, ans.Sources[0].Content, "Morphine")
	assert.NotEmpty(t, ans.Sources[0].Preview)

	require.Equal(t, 1, model.callCount())
	qa := model.calls[0]
	assert.Equal(t, schema.ChatMessageTypeSystem, qa[0].Role)
	assert.Contains(t, text(qa[0]), "Morphine is an opioid analgesic used for severe pain.")
	assert.Equal(t, schema.ChatMessageTypeHuman, qa[len(qa)-1].Role)
	assert.Equal(t, "What is morphine opioid analgesic?", text(qa[len(qa)-1]))
}

func TestAsk_FollowUpIsContextualized(t *testing.T) {
	r, model := newFixture(t, config.Default(), func(msgs []llms.MessageContent) (string, error) {
		if kind(msgs) == "contextualize" {
			return "What are the adverse effects of codeine opioid?", nil
		}
		return "Constipation and drowsiness.", nil
	})

	ans, err := r.Ask(context.Background(), Request{
		Question: "And its side effects?",
		History: []models.Message{
			{Role: models.RoleHuman, Content: "What is codeine?"},
			{Role: models.RoleAI, Content: "A weak opioid analgesic."},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "And its side effects?", ans.Question)
	assert.Equal(t, "What are the adverse effects of codeine opioid?", ans.StandaloneQuestion)
	assert.Equal(t, "Constipation and drowsiness.", ans.Content)

	require.Equal(t, 2, model.callCount())
	ctxCall := model.calls[0]
	// system, history(2), input
	require.Len(t, ctxCall, 4)
	assert.Equal(t, schema.ChatMessageTypeAI, ctxCall[2].Role)
	assert.Equal(t, "And its side effects?", text(ctxCall[3]))

	qaCall := model.calls[1]
	require.Len(t, qaCall, 4)
	assert.Equal(t, "And its side effects?", text(qaCall[3]))
}

func TestAsk_TranslatesQuery(t *testing.T) {
	cfg := config.Default()
	cfg.RAG.TranslateQuery = true
	r, _ := newFixture(t, cfg, func(msgs []llms.MessageContent) (string, error) {
		if kind(msgs) == "translate" {
			return "[ metformin , biguanide ] diabetes glucose", nil
		}
		return "당뇨병 치료제입니다.", nil
	})

	ans, err := r.Ask(context.Background(), Request{Question: "메트포르민은 무엇인가요?"})
	require.NoError(t, err)

	assert.Equal(t, "메트포르민은 무엇인가요?", ans.Question)
	assert.Equal(t, "[ metformin , biguanide ] diabetes glucose", ans.StandaloneQuestion)
	assert.Contains(t, ans.Sources[0].Content, "Metformin")
}

func TestAsk_TranslationFailureFallsBack(t *testing.T) {
	cfg := config.Default()
	cfg.RAG.TranslateQuery = true
	r, _ := newFixture(t, cfg, func(msgs []llms.MessageContent) (string, error) {
		if kind(msgs) == "translate" {
			return "", errors.New("model unavailable")
		}
		return "ok", nil
	})

	ans, err := r.Ask(context.Background(), Request{Question: "salbutamol asthma"})
	require.NoError(t, err)
	assert.Equal(t, "salbutamol asthma", ans.StandaloneQuestion)
	assert.Equal(t, "ok", ans.Content)
}

func TestAsk_ModelErrorIsReturned(t *testing.T) {
	r, _ := newFixture(t, config.Default(), func([]llms.MessageContent) (string, error) {
		return "", errors.New("boom")
	})

	_, err := r.Ask(context.Background(), Request{Question: "morphine"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestAsk_CacheHitSkipsModel(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	answers := cache.NewAnswerCache(client, config.RedisConfig{
		Enabled:   true,
		TTL:       config.Duration{Duration: time.Minute},
		KeyPrefix: "test:",
	})

	r, model := newFixture(t, config.Default(), func([]llms.MessageContent) (string, error) {
		return "Amoxicillin is an antibiotic.", nil
	}, WithCache(answers))

	first, err := r.Ask(context.Background(), Request{Question: "amoxicillin penicillin"})
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := r.Ask(context.Background(), Request{Question: "amoxicillin penicillin"})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Content, second.Content)
	assert.Len(t, second.Sources, len(first.Sources))
	assert.Equal(t, 1, model.callCount())
}

func TestRetrieve_TopKAndEmptyIndex(t *testing.T) {
	cfg := config.Default()
	cfg.RAG.TopK = 2
	r, _ := newFixture(t, cfg, func([]llms.MessageContent) (string, error) { return "", nil })

	sources, err := r.Retrieve(context.Background(), "opioid analgesic")
	require.NoError(t, err)
	assert.Len(t, sources, 2)

	embedder, err := embedding.NewClientEmbedder(embedding.HashClient(testDim), 0)
	require.NoError(t, err)
	empty, err := chromemdb.NewVectorDBManager("", "idx_empty", true, "", nil)
	require.NoError(t, err)
	r = NewRAG(&stubModel{}, embedder, empty, "idx_empty", cfg)

	sources, err = r.Retrieve(context.Background(), "opioid analgesic")
	require.NoError(t, err)
	assert.Empty(t, sources)
}

func TestRetrieve_EmbedderError(t *testing.T) {
	failing, err := embedding.NewClientEmbedder(embeddings.EmbedderClientFunc(func(context.Context, []string) ([][]float32, error) {
		return nil, errors.New("embedder down")
	}), 0)
	require.NoError(t, err)
	store, err := chromemdb.NewVectorDBManager("", "idx", true, "", nil)
	require.NoError(t, err)
	r := NewRAG(&stubModel{}, failing, store, "idx", config.Default())

	_, err = r.Retrieve(context.Background(), "x")
	require.Error(t, err)
}

func TestBuildContext(t *testing.T) {
	got := BuildContext([]models.Source{
		{Chunk: models.Chunk{Content: "a"}},
		{Chunk: models.Chunk{Content: "b"}},
	})
	assert.Equal(t, "a\n\nb", got)
	assert.Equal(t, "", BuildContext(nil))
}
