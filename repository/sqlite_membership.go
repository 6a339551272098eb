package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/akinalp/hearth/database"
	"github.com/akinalp/hearth/models"
	"github.com/akinalp/hearth/pkg"
)

type sqliteMembershipRepo struct {
	db database.TxQuerier
}

// NewSQLiteMembershipRepo returns the SQLite MembershipRepository.
func NewSQLiteMembershipRepo(db database.TxQuerier) MembershipRepository {
	return &sqliteMembershipRepo{db: db}
}

// memberTable maps a room kind onto its participant table and key column.
func memberTable(room models.RoomID) (table, key string, err error) {
	switch room.Kind {
	case models.RoomConversation:
		return "conversation_participants", "conversation_id", nil
	case models.RoomFamily:
		return "family_members", "family_id", nil
	default:
		return "", "", fmt.Errorf("%w: unknown room kind %q", pkg.ErrBadRequest, room.Kind)
	}
}

func (r *sqliteMembershipRepo) IsParticipant(ctx context.Context, userID string, room models.RoomID) (bool, error) {
	table, key, err := memberTable(room)
	if err != nil {
		return false, err
	}

	var exists int
	query := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE %s = ? AND user_id = ?)`, table, key)
	if err := r.db.QueryRowContext(ctx, query, room.ID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check participant: %w", err)
	}
	return exists == 1, nil
}

func (r *sqliteMembershipRepo) ListMembers(ctx context.Context, room models.RoomID) ([]string, error) {
	table, key, err := memberTable(room)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT user_id FROM %s WHERE %s = ? ORDER BY joined_at, user_id`, table, key)
	rows, err := r.db.QueryContext(ctx, query, room.ID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return members, nil
}

func (r *sqliteMembershipRepo) HasAdminRole(ctx context.Context, userID string, room models.RoomID) (bool, error) {
	table, key, err := memberTable(room)
	if err != nil {
		return false, err
	}

	var role string
	query := fmt.Sprintf(`SELECT role FROM %s WHERE %s = ? AND user_id = ?`, table, key)
	err = r.db.QueryRowContext(ctx, query, room.ID, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get member role: %w", err)
	}

	for _, admin := range adminRoles {
		if role == admin {
			return true, nil
		}
	}
	return false, nil
}

func (r *sqliteMembershipRepo) FamilyOf(ctx context.Context, userID string) (string, error) {
	var familyID string
	err := r.db.QueryRowContext(ctx,
		`SELECT family_id FROM family_members WHERE user_id = ? ORDER BY joined_at LIMIT 1`, userID,
	).Scan(&familyID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: family", pkg.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get family of user: %w", err)
	}
	return familyID, nil
}
