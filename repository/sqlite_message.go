package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/akinalp/hearth/database"
	"github.com/akinalp/hearth/models"
	"github.com/akinalp/hearth/pkg"
)

type sqliteMessageRepo struct {
	db *sql.DB
}

// NewSQLiteMessageRepo returns the SQLite MessageRepository.
func NewSQLiteMessageRepo(db *sql.DB) MessageRepository {
	return &sqliteMessageRepo{db: db}
}

const messageColumns = `id, conversation_id, sender_id, content, type, metadata, reply_to_id,
		idempotency_token, created_at, edited_at, deleted_at`

// CreateIdempotent inserts and re-reads inside one transaction so the caller
// always sees the row that won, whether it was this call or an earlier retry.
func (r *sqliteMessageRepo) CreateIdempotent(ctx context.Context, msg *models.Message) (bool, error) {
	return database.InTx(ctx, r.db, func(tx *sql.Tx) (bool, error) {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, conversation_id, sender_id, content, type, metadata,
				reply_to_id, idempotency_token, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(conversation_id, sender_id, idempotency_token) DO NOTHING`,
			msg.ID, msg.ConversationID, msg.SenderID, msg.Content, string(msg.Type), msg.Metadata,
			msg.ReplyToID, msg.IdempotencyToken, msg.CreatedAt.UTC(),
		)
		if err != nil {
			return false, fmt.Errorf("insert message: %w", err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("insert message rows affected: %w", err)
		}

		row := tx.QueryRowContext(ctx, `SELECT `+messageColumns+`
			FROM messages
			WHERE conversation_id = ? AND sender_id = ? AND idempotency_token = ?`,
			msg.ConversationID, msg.SenderID, msg.IdempotencyToken,
		)
		stored, err := scanMessage(row)
		if err != nil {
			return false, fmt.Errorf("reload message: %w", err)
		}
		*msg = *stored
		return affected > 0, nil
	})
}

func (r *sqliteMessageRepo) GetByID(ctx context.Context, id string) (*models.Message, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)

	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: message", pkg.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get message by id: %w", err)
	}
	return msg, nil
}

// Update merges metadata in SQL with json_patch (RFC 7396), so concurrent edits
// to different keys do not clobber each other.
func (r *sqliteMessageRepo) Update(ctx context.Context, id string, content *string, patch models.Metadata, editedAt time.Time) error {
	if patch == nil {
		patch = models.Metadata{}
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET content = COALESCE(?, content),
			metadata = json_patch(COALESCE(metadata, '{}'), ?),
			edited_at = ?
		WHERE id = ? AND deleted_at IS NULL`,
		content, patch, editedAt.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}

	return requireAffected(result, "message")
}

func (r *sqliteMessageRepo) SoftDelete(ctx context.Context, id string, deletedAt time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE messages SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		deletedAt.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("soft delete message: %w", err)
	}

	return requireAffected(result, "message")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var msg models.Message
	var msgType string

	if err := row.Scan(
		&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Content, &msgType, &msg.Metadata,
		&msg.ReplyToID, &msg.IdempotencyToken, &msg.CreatedAt, &msg.EditedAt, &msg.DeletedAt,
	); err != nil {
		return nil, err
	}

	msg.Type = models.MessageType(msgType)
	msg.RoomID = models.ConversationRoom(msg.ConversationID)
	return &msg, nil
}

func requireAffected(result sql.Result, what string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", what, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", pkg.ErrNotFound, what)
	}
	return nil
}
