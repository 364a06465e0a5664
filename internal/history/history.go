package history

import (
	"context"
	"errors"
	"strings"

	"medical-qa-rag/internal/helper"
	"medical-qa-rag/internal/models"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrEmptyName       = errors.New("session name is empty")
)

// Store keeps chat sessions and their messages.
type Store interface {
	Create(ctx context.Context, name string) (*models.Session, error)
	// List returns sessions, most recently active first.
	List(ctx context.Context) ([]models.Session, error)
	Get(ctx context.Context, id string) (*models.Session, error)
	Rename(ctx context.Context, id, name string) error
	Delete(ctx context.Context, id string) error
	Append(ctx context.Context, id string, role models.Role, content string) error
	Messages(ctx context.Context, id string) ([]models.Message, error)
}

// SessionName derives a session title from the first question.
func SessionName(question string) string {
	question = strings.Join(strings.Fields(question), " ")
	if question == "" {
		return models.DefaultSession
	}
	return helper.TruncateRunes(question, models.SessionNameRunes)
}

func defaultName(name string) string {
	if name = strings.TrimSpace(name); name == "" {
		return models.DefaultSession
	}
	return name
}
