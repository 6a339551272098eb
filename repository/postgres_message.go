package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/akinalp/hearth/models"
	"github.com/akinalp/hearth/pkg"
)

// pgMessage is the bun model of the messages table.
type pgMessage struct {
	bun.BaseModel `bun:"table:messages,alias:m"`

	ID               string          `bun:"id,pk"`
	ConversationID   string          `bun:"conversation_id,notnull"`
	SenderID         string          `bun:"sender_id,notnull"`
	Content          *string         `bun:"content"`
	Type             string          `bun:"type,notnull"`
	Metadata         models.Metadata `bun:"metadata,type:jsonb,notnull"`
	ReplyToID        *string         `bun:"reply_to_id"`
	IdempotencyToken string          `bun:"idempotency_token,notnull"`
	CreatedAt        time.Time       `bun:"created_at,notnull"`
	EditedAt         *time.Time      `bun:"edited_at"`
	DeletedAt        *time.Time      `bun:"deleted_at"`
}

func (m *pgMessage) toModel() *models.Message {
	return &models.Message{
		ID:               m.ID,
		ConversationID:   m.ConversationID,
		RoomID:           models.ConversationRoom(m.ConversationID),
		SenderID:         m.SenderID,
		Content:          m.Content,
		Type:             models.MessageType(m.Type),
		Metadata:         m.Metadata,
		ReplyToID:        m.ReplyToID,
		IdempotencyToken: m.IdempotencyToken,
		CreatedAt:        m.CreatedAt,
		EditedAt:         m.EditedAt,
		DeletedAt:        m.DeletedAt,
	}
}

type pgMessageRepo struct {
	db *bun.DB
}

// NewPostgresMessageRepo returns the Postgres MessageRepository.
func NewPostgresMessageRepo(db *bun.DB) MessageRepository {
	return &pgMessageRepo{db: db}
}

func (r *pgMessageRepo) CreateIdempotent(ctx context.Context, msg *models.Message) (bool, error) {
	var created bool

	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		row := &pgMessage{
			ID:               msg.ID,
			ConversationID:   msg.ConversationID,
			SenderID:         msg.SenderID,
			Content:          msg.Content,
			Type:             string(msg.Type),
			Metadata:         msg.Metadata,
			ReplyToID:        msg.ReplyToID,
			IdempotencyToken: msg.IdempotencyToken,
			CreatedAt:        msg.CreatedAt.UTC(),
		}
		if row.Metadata == nil {
			row.Metadata = models.Metadata{}
		}

		result, err := tx.NewInsert().
			Model(row).
			On("CONFLICT (conversation_id, sender_id, idempotency_token) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("insert message rows affected: %w", err)
		}
		created = affected > 0

		stored := new(pgMessage)
		if err := tx.NewSelect().
			Model(stored).
			Where("conversation_id = ?", msg.ConversationID).
			Where("sender_id = ?", msg.SenderID).
			Where("idempotency_token = ?", msg.IdempotencyToken).
			Scan(ctx); err != nil {
			return fmt.Errorf("reload message: %w", err)
		}
		*msg = *stored.toModel()
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

func (r *pgMessageRepo) GetByID(ctx context.Context, id string) (*models.Message, error) {
	row := new(pgMessage)
	err := r.db.NewSelect().Model(row).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: message", pkg.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get message by id: %w", err)
	}
	return row.toModel(), nil
}

// Update merges with jsonb ||; jsonb_strip_nulls drops keys the patch set to null.
func (r *pgMessageRepo) Update(ctx context.Context, id string, content *string, patch models.Metadata, editedAt time.Time) error {
	if patch == nil {
		patch = models.Metadata{}
	}

	result, err := r.db.NewUpdate().
		Model((*pgMessage)(nil)).
		Set("content = COALESCE(?, content)", content).
		Set("metadata = jsonb_strip_nulls(COALESCE(metadata, '{}'::jsonb) || ?::jsonb)", patch).
		Set("edited_at = ?", editedAt.UTC()).
		Where("id = ?", id).
		Where("deleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	return requireAffected(result, "message")
}

func (r *pgMessageRepo) SoftDelete(ctx context.Context, id string, deletedAt time.Time) error {
	result, err := r.db.NewUpdate().
		Model((*pgMessage)(nil)).
		Set("deleted_at = ?", deletedAt.UTC()).
		Where("id = ?", id).
		Where("deleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("soft delete message: %w", err)
	}
	return requireAffected(result, "message")
}
