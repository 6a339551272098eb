package models

import "time"

// Reaction is one identity's emoji on a message. There is at most one per
// (message, identity): reacting again replaces the emoji.
type Reaction struct {
	ID        string    `json:"id"`
	MessageID string    `json:"messageId"`
	UserID    string    `json:"userId"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"createdAt"`
}

// ReactionGroup is the aggregate view of one emoji on a message.
//
//	👍 3 [user1, user2, user3]
type ReactionGroup struct {
	Emoji string   `json:"emoji"`
	Count int      `json:"count"`
	Users []string `json:"users"`
}

// ReactionCounts flattens groups into emoji → count.
func ReactionCounts(groups []ReactionGroup) map[string]int {
	counts := make(map[string]int, len(groups))
	for _, g := range groups {
		counts[g.Emoji] = g.Count
	}
	return counts
}
