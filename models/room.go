package models

import (
	"fmt"
	"strings"
)

// RoomKind is the kind of logical broadcast group.
type RoomKind string

const (
	RoomConversation RoomKind = "conversation"
	RoomFamily       RoomKind = "family"
)

// RoomID identifies a room as "<kind>:<id>", e.g. "conversation:42" or "family:7".
// Room ids are stable for the lifetime of the conversation or family.
type RoomID struct {
	Kind RoomKind
	ID   string
}

// ParseRoomID parses "<kind>:<id>".
func ParseRoomID(s string) (RoomID, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" || strings.ContainsAny(id, " \t\n") {
		return RoomID{}, fmt.Errorf("invalid room id %q", s)
	}
	switch RoomKind(kind) {
	case RoomConversation, RoomFamily:
		return RoomID{Kind: RoomKind(kind), ID: id}, nil
	default:
		return RoomID{}, fmt.Errorf("invalid room kind %q", kind)
	}
}

func (r RoomID) String() string {
	return string(r.Kind) + ":" + r.ID
}

// ConversationRoom returns the room id of a conversation.
func ConversationRoom(conversationID string) string {
	return RoomID{Kind: RoomConversation, ID: conversationID}.String()
}

// FamilyRoom returns the room id of a family.
func FamilyRoom(familyID string) string {
	return RoomID{Kind: RoomFamily, ID: familyID}.String()
}

// IsFamilyRoom reports whether s names a family room.
func IsFamilyRoom(s string) bool {
	r, err := ParseRoomID(s)
	return err == nil && r.Kind == RoomFamily
}
