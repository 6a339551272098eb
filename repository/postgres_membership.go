package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/akinalp/hearth/models"
	"github.com/akinalp/hearth/pkg"
)

type pgMembershipRepo struct {
	db bun.IDB
}

// NewPostgresMembershipRepo returns the Postgres MembershipRepository.
func NewPostgresMembershipRepo(db bun.IDB) MembershipRepository {
	return &pgMembershipRepo{db: db}
}

func (r *pgMembershipRepo) IsParticipant(ctx context.Context, userID string, room models.RoomID) (bool, error) {
	table, key, err := memberTable(room)
	if err != nil {
		return false, err
	}

	exists, err := r.db.NewSelect().
		TableExpr(table).
		Where("? = ?", bun.Ident(key), room.ID).
		Where("user_id = ?", userID).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("check participant: %w", err)
	}
	return exists, nil
}

func (r *pgMembershipRepo) ListMembers(ctx context.Context, room models.RoomID) ([]string, error) {
	table, key, err := memberTable(room)
	if err != nil {
		return nil, err
	}

	var members []string
	err = r.db.NewSelect().
		TableExpr(table).
		Column("user_id").
		Where("? = ?", bun.Ident(key), room.ID).
		OrderExpr("joined_at, user_id").
		Scan(ctx, &members)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return members, nil
}

func (r *pgMembershipRepo) HasAdminRole(ctx context.Context, userID string, room models.RoomID) (bool, error) {
	table, key, err := memberTable(room)
	if err != nil {
		return false, err
	}

	exists, err := r.db.NewSelect().
		TableExpr(table).
		Where("? = ?", bun.Ident(key), room.ID).
		Where("user_id = ?", userID).
		Where("role IN (?)", bun.In(adminRoles)).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("check admin role: %w", err)
	}
	return exists, nil
}

func (r *pgMembershipRepo) FamilyOf(ctx context.Context, userID string) (string, error) {
	var familyID string
	err := r.db.NewSelect().
		TableExpr("family_members").
		Column("family_id").
		Where("user_id = ?", userID).
		OrderExpr("joined_at").
		Limit(1).
		Scan(ctx, &familyID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: family", pkg.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get family of user: %w", err)
	}
	return familyID, nil
}
