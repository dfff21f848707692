// Package sessions stores conversation threads and their message history.
package sessions

import (
	"context"
	"errors"

	"github.com/haasonsaas/shopchat/pkg/models"
)

// ErrNotFound is returned when a session id is unknown.
var ErrNotFound = errors.New("sessions: session not found")

// ListOptions controls pagination for List.
type ListOptions struct {
	Limit  int
	Offset int
}

// Store persists sessions and message history.
type Store interface {
	// Create stores a new session, generating ID and timestamps when unset.
	Create(ctx context.Context, session *models.Session) error

	// Get returns a session by id.
	Get(ctx context.Context, id string) (*models.Session, error)

	// Update replaces a session's mutable fields.
	Update(ctx context.Context, session *models.Session) error

	// Delete removes a session and its history.
	Delete(ctx context.Context, id string) error

	// List returns sessions ordered by most recent update.
	List(ctx context.Context, opts ListOptions) ([]*models.Session, error)

	// AppendMessage adds a message to a session's history.
	AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error

	// GetHistory returns up to limit most recent messages in order.
	// A non-positive limit returns the full history.
	GetHistory(ctx context.Context, sessionID string, limit int) ([]*models.Message, error)
}
