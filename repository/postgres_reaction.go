package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/akinalp/hearth/models"
)

type pgReaction struct {
	bun.BaseModel `bun:"table:reactions,alias:r"`

	ID        string    `bun:"id,pk"`
	MessageID string    `bun:"message_id,notnull"`
	UserID    string    `bun:"user_id,notnull"`
	Emoji     string    `bun:"emoji,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

type pgReactionRepo struct {
	db bun.IDB
}

// NewPostgresReactionRepo returns the Postgres ReactionRepository.
func NewPostgresReactionRepo(db bun.IDB) ReactionRepository {
	return &pgReactionRepo{db: db}
}

func (r *pgReactionRepo) Upsert(ctx context.Context, messageID, userID, emoji string) error {
	row := &pgReaction{
		ID:        uuid.NewString(),
		MessageID: messageID,
		UserID:    userID,
		Emoji:     emoji,
		CreatedAt: time.Now().UTC(),
	}

	_, err := r.db.NewInsert().
		Model(row).
		On("CONFLICT (message_id, user_id) DO UPDATE").
		Set("emoji = EXCLUDED.emoji").
		Set("created_at = EXCLUDED.created_at").
		Where("r.emoji <> EXCLUDED.emoji").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert reaction: %w", err)
	}
	return nil
}

func (r *pgReactionRepo) Remove(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	result, err := r.db.NewDelete().
		Model((*pgReaction)(nil)).
		Where("message_id = ?", messageID).
		Where("user_id = ?", userID).
		Where("emoji = ?", emoji).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("remove reaction: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove reaction rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *pgReactionRepo) GetByMessageID(ctx context.Context, messageID string) ([]models.ReactionGroup, error) {
	var rows []struct {
		Emoji string   `bun:"emoji"`
		Count int      `bun:"count"`
		Users []string `bun:"users,array"`
	}

	err := r.db.NewSelect().
		TableExpr("reactions").
		ColumnExpr("emoji").
		ColumnExpr("COUNT(*) AS count").
		ColumnExpr("array_agg(user_id ORDER BY created_at, user_id) AS users").
		Where("message_id = ?", messageID).
		GroupExpr("emoji").
		OrderExpr("MIN(created_at) ASC").
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("get reactions by message: %w", err)
	}

	groups := make([]models.ReactionGroup, 0, len(rows))
	for _, row := range rows {
		groups = append(groups, models.ReactionGroup{
			Emoji: row.Emoji,
			Count: row.Count,
			Users: row.Users,
		})
	}
	return groups, nil
}
