package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

var ErrNotFound = errors.New("record not found")

type ChatSession struct {
	bun.BaseModel `bun:"table:chat_sessions,alias:s"`
	ID            string    `bun:"id,pk"`
	Name          string    `bun:"name,notnull"`
	CreatedAt     time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt     time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

type ChatMessage struct {
	bun.BaseModel `bun:"table:chat_messages,alias:m"`
	ID            int64     `bun:"id,pk,autoincrement"`
	SessionID     string    `bun:"session_id,notnull"`
	Role          string    `bun:"role,notnull"`
	Content       string    `bun:"content,notnull"`
	CreatedAt     time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

func CreateSession(ctx context.Context, db bun.IDB, s *ChatSession) error {
	_, err := db.NewInsert().Model(s).Exec(ctx)
	return err
}

func GetSession(ctx context.Context, db bun.IDB, id string) (*ChatSession, error) {
	s := new(ChatSession)
	err := db.NewSelect().Model(s).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ListSessions returns every session, most recently updated first.
func ListSessions(ctx context.Context, db bun.IDB) ([]ChatSession, error) {
	var sessions []ChatSession
	err := db.NewSelect().Model(&sessions).Order("updated_at DESC", "created_at DESC").Scan(ctx)
	return sessions, err
}

func RenameSession(ctx context.Context, db bun.IDB, id, name string, at time.Time) error {
	res, err := db.NewUpdate().
		Model((*ChatSession)(nil)).
		Set("name = ?", name).
		Set("updated_at = ?", at).
		Where("id = ?", id).
		Exec(ctx)
	return affected(res, err)
}

func TouchSession(ctx context.Context, db bun.IDB, id string, at time.Time) error {
	res, err := db.NewUpdate().
		Model((*ChatSession)(nil)).
		Set("updated_at = ?", at).
		Where("id = ?", id).
		Exec(ctx)
	return affected(res, err)
}

// DeleteSession removes the session and its messages.
func DeleteSession(ctx context.Context, db *bun.DB, id string) error {
	return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*ChatMessage)(nil)).Where("session_id = ?", id).Exec(ctx); err != nil {
			return fmt.Errorf("failed to delete messages: %w", err)
		}
		res, err := tx.NewDelete().Model((*ChatSession)(nil)).Where("id = ?", id).Exec(ctx)
		return affected(res, err)
	})
}

func AddMessage(ctx context.Context, db bun.IDB, m *ChatMessage) error {
	_, err := db.NewInsert().Model(m).Exec(ctx)
	return err
}

// ListMessages returns the messages of a session in insertion order.
func ListMessages(ctx context.Context, db bun.IDB, sessionID string) ([]ChatMessage, error) {
	var messages []ChatMessage
	err := db.NewSelect().Model(&messages).Where("session_id = ?", sessionID).Order("id ASC").Scan(ctx)
	return messages, err
}

func affected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
