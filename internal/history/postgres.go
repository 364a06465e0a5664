package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"medical-qa-rag/internal/db"
	"medical-qa-rag/internal/helper"
	"medical-qa-rag/internal/models"

	"github.com/uptrace/bun"
)

// PGStore keeps sessions in the chat_sessions and chat_messages tables.
type PGStore struct {
	db  *bun.DB
	now func() time.Time
}

func NewPGStore(bdb *bun.DB) *PGStore {
	return &PGStore{db: bdb, now: func() time.Time { return time.Now().UTC() }}
}

func (s *PGStore) Create(ctx context.Context, name string) (*models.Session, error) {
	id, err := helper.GenerateUUID()
	if err != nil {
		return nil, err
	}
	now := s.now()
	row := &db.ChatSession{ID: id, Name: defaultName(name), CreatedAt: now, UpdatedAt: now}
	if err := db.CreateSession(ctx, s.db, row); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return toSession(row), nil
}

func (s *PGStore) List(ctx context.Context) ([]models.Session, error) {
	rows, err := db.ListSessions(ctx, s.db)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	out := make([]models.Session, len(rows))
	for i := range rows {
		out[i] = *toSession(&rows[i])
	}
	return out, nil
}

func (s *PGStore) Get(ctx context.Context, id string) (*models.Session, error) {
	row, err := db.GetSession(ctx, s.db, id)
	if err != nil {
		return nil, notFound(err)
	}
	return toSession(row), nil
}

func (s *PGStore) Rename(ctx context.Context, id, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	return notFound(db.RenameSession(ctx, s.db, id, name, s.now()))
}

func (s *PGStore) Delete(ctx context.Context, id string) error {
	return notFound(db.DeleteSession(ctx, s.db, id))
}

func (s *PGStore) Append(ctx context.Context, id string, role models.Role, content string) error {
	if role != models.RoleHuman && role != models.RoleAI {
		return fmt.Errorf("unknown role %q", role)
	}
	return notFound(s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		session, err := db.GetSession(ctx, tx, id)
		if err != nil {
			return err
		}
		now := s.now()
		if role == models.RoleHuman && session.Name == models.DefaultSession {
			existing, err := db.ListMessages(ctx, tx, id)
			if err != nil {
				return err
			}
			if len(existing) == 0 {
				if err := db.RenameSession(ctx, tx, id, SessionName(content), now); err != nil {
					return err
				}
			}
		}
		if err := db.AddMessage(ctx, tx, &db.ChatMessage{SessionID: id, Role: string(role), Content: content, CreatedAt: now}); err != nil {
			return fmt.Errorf("failed to add message: %w", err)
		}
		return db.TouchSession(ctx, tx, id, now)
	}))
}

func (s *PGStore) Messages(ctx context.Context, id string) ([]models.Message, error) {
	if _, err := db.GetSession(ctx, s.db, id); err != nil {
		return nil, notFound(err)
	}
	rows, err := db.ListMessages(ctx, s.db, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	out := make([]models.Message, len(rows))
	for i, r := range rows {
		out[i] = models.Message{Role: models.Role(r.Role), Content: r.Content, CreatedAt: r.CreatedAt}
	}
	return out, nil
}

func toSession(row *db.ChatSession) *models.Session {
	return &models.Session{ID: row.ID, Name: row.Name, CreatedAt: row.CreatedAt, UpdatedAt: row.UpdatedAt}
}

func notFound(err error) error {
	if errors.Is(err, db.ErrNotFound) {
		return ErrSessionNotFound
	}
	return err
}
