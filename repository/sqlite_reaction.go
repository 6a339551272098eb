package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/akinalp/hearth/database"
	"github.com/akinalp/hearth/models"
)

type sqliteReactionRepo struct {
	db database.TxQuerier
}

// NewSQLiteReactionRepo returns the SQLite ReactionRepository.
func NewSQLiteReactionRepo(db database.TxQuerier) ReactionRepository {
	return &sqliteReactionRepo{db: db}
}

// Upsert relies on UNIQUE(message_id, user_id): a second reaction from the
// same user rewrites the emoji in place instead of adding a row.
func (r *sqliteReactionRepo) Upsert(ctx context.Context, messageID, userID, emoji string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO reactions (id, message_id, user_id, emoji, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(message_id, user_id) DO UPDATE
		SET emoji = excluded.emoji, created_at = excluded.created_at
		WHERE reactions.emoji <> excluded.emoji`,
		uuid.NewString(), messageID, userID, emoji, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert reaction: %w", err)
	}
	return nil
}

func (r *sqliteReactionRepo) Remove(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM reactions WHERE message_id = ? AND user_id = ? AND emoji = ?`,
		messageID, userID, emoji,
	)
	if err != nil {
		return false, fmt.Errorf("remove reaction: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove reaction rows affected: %w", err)
	}
	return affected > 0, nil
}

// GetByMessageID groups by emoji; json_group_array collects the reacting
// users in the order they reacted.
//
//	[{emoji: "👍", count: 2, users: ["u1","u2"]}]
func (r *sqliteReactionRepo) GetByMessageID(ctx context.Context, messageID string) ([]models.ReactionGroup, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT emoji, COUNT(*) AS count, json_group_array(user_id) AS users
		FROM (
			SELECT emoji, user_id, created_at
			FROM reactions
			WHERE message_id = ?
			ORDER BY created_at, user_id
		)
		GROUP BY emoji
		ORDER BY MIN(created_at) ASC`,
		messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("get reactions by message: %w", err)
	}
	defer rows.Close()

	return scanReactionGroups(rows)
}

func scanReactionGroups(rows *sql.Rows) ([]models.ReactionGroup, error) {
	groups := []models.ReactionGroup{}
	for rows.Next() {
		var g models.ReactionGroup
		var users string
		if err := rows.Scan(&g.Emoji, &g.Count, &users); err != nil {
			return nil, fmt.Errorf("scan reaction group: %w", err)
		}
		if err := json.Unmarshal([]byte(users), &g.Users); err != nil {
			return nil, fmt.Errorf("decode reacting users of %s: %w", g.Emoji, err)
		}
		groups = append(groups, g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reaction rows: %w", err)
	}
	return groups, nil
}
