package repository

import (
	"context"
	"time"

	"github.com/akinalp/hearth/models"
)

// MessageRepository persists chat messages.
//
// CreateIdempotent: inserts msg unless a row with the same (conversation,
// sender, idempotency token) exists. msg is refreshed from the stored row in
// both cases; created reports whether this call inserted it.
//
// Update: replaces content when non-nil and merges patch into the stored
// metadata (a nil value removes a key). Deleted or missing messages yield
// pkg.ErrNotFound.
//
// SoftDelete: stamps deleted_at. Already deleted or missing messages yield
// pkg.ErrNotFound.
type MessageRepository interface {
	CreateIdempotent(ctx context.Context, msg *models.Message) (created bool, err error)
	GetByID(ctx context.Context, id string) (*models.Message, error)
	Update(ctx context.Context, id string, content *string, patch models.Metadata, editedAt time.Time) error
	SoftDelete(ctx context.Context, id string, deletedAt time.Time) error
}
