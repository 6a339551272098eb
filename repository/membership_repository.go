package repository

import (
	"context"

	"github.com/akinalp/hearth/models"
)

// MembershipRepository reads the durable participant lists. The lists are
// owned by the conversation and family services; nothing here writes them.
//
// FamilyOf returns pkg.ErrNotFound when the user belongs to no family.
type MembershipRepository interface {
	IsParticipant(ctx context.Context, userID string, room models.RoomID) (bool, error)
	ListMembers(ctx context.Context, room models.RoomID) ([]string, error)
	HasAdminRole(ctx context.Context, userID string, room models.RoomID) (bool, error)
	FamilyOf(ctx context.Context, userID string) (string, error)
}

// adminRoles are the participant roles allowed to moderate a room.
var adminRoles = []string{"admin", "owner"}
