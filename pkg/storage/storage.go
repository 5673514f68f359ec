package storage

import (
	"context"
	"errors"

	"github.com/tb0hdan/toolpilot-mcp/pkg/models"
)

// ErrNotFound is returned when a session row does not exist for the user.
var ErrNotFound = errors.New("not found")

type Storage interface {
	// Session rows
	UpsertSession(ctx context.Context, row *models.ToolSession) error
	GetSession(ctx context.Context, id, userID string) (*models.ToolSession, error)
	ListSessions(ctx context.Context, userID string, limit, offset int) ([]models.ToolSession, int64, error)
	DeleteSession(ctx context.Context, id, userID string) error
	DeleteAllSessions(ctx context.Context, userID string) error

	// Interaction rows
	UpsertInteractions(ctx context.Context, rows []models.ToolInteraction) error
	GetInteractions(ctx context.Context, sessionID string) ([]models.ToolInteraction, error)

	// Lifecycle
	Close() error
}
