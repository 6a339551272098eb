package repository

import (
	"context"

	"github.com/akinalp/hearth/models"
)

// ReactionRepository stores emoji reactions.
//
// Upsert: one reaction per (message, user); reacting again replaces the emoji.
//
// Remove: deletes the user's reaction only if it is emoji. removed=false means
// nothing matched, which callers treat as a no-op.
//
// GetByMessageID: the aggregate of a message, one group per emoji in order of
// first use.
type ReactionRepository interface {
	Upsert(ctx context.Context, messageID, userID, emoji string) error
	Remove(ctx context.Context, messageID, userID, emoji string) (removed bool, err error)
	GetByMessageID(ctx context.Context, messageID string) ([]models.ReactionGroup, error)
}
