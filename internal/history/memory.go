package history

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"medical-qa-rag/internal/helper"
	"medical-qa-rag/internal/llmservice"
	"medical-qa-rag/internal/models"

	"github.com/tmc/langchaingo/memory"
)

type memorySession struct {
	session models.Session
	seq     int
	history *memory.ChatMessageHistory
	times   []time.Time
}

// MemoryStore keeps sessions in process; they are lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memorySession
	seq      int
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*memorySession),
		now:      time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, name string) (*models.Session, error) {
	id, err := helper.GenerateUUID()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.seq++
	ms := &memorySession{
		session: models.Session{ID: id, Name: defaultName(name), CreatedAt: now, UpdatedAt: now},
		seq:     s.seq,
		history: memory.NewChatMessageHistory(),
	}
	s.sessions[id] = ms
	out := ms.session
	return &out, nil
}

func (s *MemoryStore) List(_ context.Context) ([]models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*memorySession, 0, len(s.sessions))
	for _, ms := range s.sessions {
		all = append(all, ms)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].session.UpdatedAt.Equal(all[j].session.UpdatedAt) {
			return all[i].session.UpdatedAt.After(all[j].session.UpdatedAt)
		}
		return all[i].seq > all[j].seq
	})

	out := make([]models.Session, len(all))
	for i, ms := range all {
		out[i] = ms.session
	}
	return out, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ms, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	out := ms.session
	return &out, nil
}

func (s *MemoryStore) Rename(_ context.Context, id, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	ms.session.Name = name
	ms.session.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, id)
	return nil
}

// Append records one turn. The first human turn of an unnamed session
// also names it.
func (s *MemoryStore) Append(ctx context.Context, id string, role models.Role, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}

	var err error
	switch role {
	case models.RoleHuman:
		if len(ms.times) == 0 && ms.session.Name == models.DefaultSession {
			ms.session.Name = SessionName(content)
		}
		err = ms.history.AddUserMessage(ctx, content)
	case models.RoleAI:
		err = ms.history.AddAIMessage(ctx, content)
	default:
		return fmt.Errorf("unknown role %q", role)
	}
	if err != nil {
		return err
	}
	now := s.now()
	ms.times = append(ms.times, now)
	ms.session.UpdatedAt = now
	return nil
}

func (s *MemoryStore) Messages(ctx context.Context, id string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ms, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}

	chat, err := ms.history.Messages(ctx)
	if err != nil {
		return nil, err
	}
	out := llmservice.FromChatMessages(chat)
	for i := range out {
		if i < len(ms.times) {
			out[i].CreatedAt = ms.times[i]
		}
	}
	return out, nil
}
