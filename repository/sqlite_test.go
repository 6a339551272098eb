package repository

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
	"github.com/neilotoole/slogt"

	"github.com/akinalp/hearth/database"
	"github.com/akinalp/hearth/models"
	"github.com/akinalp/hearth/pkg"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"), database.SQLiteMigrations(), slogt.New(t))
	if err != nil {
		t.Fatalf("database.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db.Conn
}

func strPtr(s string) *string { return &s }

func newMessage(conversationID, senderID, token string) *models.Message {
	return &models.Message{
		ID:               uuid.NewString(),
		ConversationID:   conversationID,
		SenderID:         senderID,
		Content:          strPtr("hi"),
		Type:             models.MessageText,
		Metadata:         models.Metadata{"client": "ios"},
		IdempotencyToken: token,
		CreatedAt:        time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestMessageCreateIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteMessageRepo(newTestDB(t))

	first := newMessage("c1", "alice", "t1")
	created, err := repo.CreateIdempotent(ctx, first)
	if err != nil {
		t.Fatalf("CreateIdempotent() error = %v", err)
	}
	if !created {
		t.Fatal("first insert reported as duplicate")
	}
	if first.RoomID != "conversation:c1" {
		t.Errorf("RoomID = %q", first.RoomID)
	}

	// A retry carries a fresh row id but the same token.
	retry := newMessage("c1", "alice", "t1")
	retry.Content = strPtr("hi again")
	created, err = repo.CreateIdempotent(ctx, retry)
	if err != nil {
		t.Fatalf("retry CreateIdempotent() error = %v", err)
	}
	if created {
		t.Fatal("retry created a second row")
	}
	if diff := cmp.Diff(first, retry); diff != "" {
		t.Errorf("retry did not return the stored row (-want +got):\n%s", diff)
	}

	// Same token from another sender is a different message.
	other := newMessage("c1", "bob", "t1")
	if created, err := repo.CreateIdempotent(ctx, other); err != nil || !created {
		t.Fatalf("other sender: created=%v err=%v", created, err)
	}
}

func TestMessageUpdateMergesMetadata(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteMessageRepo(newTestDB(t))

	msg := newMessage("c1", "alice", "t1")
	msg.Metadata = models.Metadata{"a": "1", "b": "2"}
	if _, err := repo.CreateIdempotent(ctx, msg); err != nil {
		t.Fatal(err)
	}

	editedAt := time.Date(2026, 4, 1, 11, 0, 0, 0, time.UTC)
	if err := repo.Update(ctx, msg.ID, strPtr("edited"), models.Metadata{"b": "3", "c": "4", "a": nil}, editedAt); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, err := repo.GetByID(ctx, msg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Content == nil || *got.Content != "edited" {
		t.Errorf("Content = %v, want edited", got.Content)
	}
	if diff := cmp.Diff(models.Metadata{"b": "3", "c": "4"}, got.Metadata); diff != "" {
		t.Errorf("Metadata mismatch (-want +got):\n%s", diff)
	}
	if got.EditedAt == nil || !got.EditedAt.Equal(editedAt) {
		t.Errorf("EditedAt = %v, want %v", got.EditedAt, editedAt)
	}

	// Metadata-only edit keeps content.
	if err := repo.Update(ctx, msg.ID, nil, models.Metadata{"d": true}, editedAt); err != nil {
		t.Fatal(err)
	}
	got, _ = repo.GetByID(ctx, msg.ID)
	if *got.Content != "edited" || got.Metadata["d"] != true {
		t.Errorf("after metadata-only edit: content=%q metadata=%v", *got.Content, got.Metadata)
	}
}

func TestMessageSoftDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteMessageRepo(newTestDB(t))

	msg := newMessage("c1", "alice", "t1")
	if _, err := repo.CreateIdempotent(ctx, msg); err != nil {
		t.Fatal(err)
	}

	now := time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)
	if err := repo.SoftDelete(ctx, msg.ID, now); err != nil {
		t.Fatalf("SoftDelete() error = %v", err)
	}
	got, err := repo.GetByID(ctx, msg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsDeleted() {
		t.Error("message not marked deleted")
	}

	if err := repo.SoftDelete(ctx, msg.ID, now); !errors.Is(err, pkg.ErrNotFound) {
		t.Errorf("second SoftDelete() error = %v, want ErrNotFound", err)
	}
	if err := repo.Update(ctx, msg.ID, strPtr("x"), nil, now); !errors.Is(err, pkg.ErrNotFound) {
		t.Errorf("Update() on deleted error = %v, want ErrNotFound", err)
	}
	if _, err := repo.GetByID(ctx, "missing"); !errors.Is(err, pkg.ErrNotFound) {
		t.Errorf("GetByID(missing) error = %v, want ErrNotFound", err)
	}
}

func TestReactionUpsertReplacesAndAggregates(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	messages := NewSQLiteMessageRepo(db)
	reactions := NewSQLiteReactionRepo(db)

	msg := newMessage("c1", "alice", "t1")
	if _, err := messages.CreateIdempotent(ctx, msg); err != nil {
		t.Fatal(err)
	}

	groups, err := reactions.GetByMessageID(ctx, msg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if groups == nil || len(groups) != 0 {
		t.Fatalf("fresh aggregate = %#v, want empty non-nil", groups)
	}

	for _, r := range []struct{ user, emoji string }{
		{"alice", "👍"},
		{"bob", "👍"},
		{"bob", "👍"}, // duplicate is a no-op
		{"carol", "❤️"},
		{"carol", "😂"}, // replaces carol's heart
	} {
		if err := reactions.Upsert(ctx, msg.ID, r.user, r.emoji); err != nil {
			t.Fatalf("Upsert(%s, %s) error = %v", r.user, r.emoji, err)
		}
	}

	groups, err = reactions.GetByMessageID(ctx, msg.ID)
	if err != nil {
		t.Fatal(err)
	}
	for i := range groups {
		sort.Strings(groups[i].Users)
	}
	want := []models.ReactionGroup{
		{Emoji: "👍", Count: 2, Users: []string{"alice", "bob"}},
		{Emoji: "😂", Count: 1, Users: []string{"carol"}},
	}
	if diff := cmp.Diff(want, groups, cmpopts.SortSlices(func(a, b models.ReactionGroup) bool { return a.Emoji < b.Emoji })); diff != "" {
		t.Errorf("aggregate mismatch (-want +got):\n%s", diff)
	}
}

func TestReactionUsersKeepCommas(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	messages := NewSQLiteMessageRepo(db)
	reactions := NewSQLiteReactionRepo(db)

	msg := newMessage("c1", "alice", "t1")
	if _, err := messages.CreateIdempotent(ctx, msg); err != nil {
		t.Fatal(err)
	}
	for _, user := range []string{"doe, jane", "smith,john", `quote"d`} {
		if err := reactions.Upsert(ctx, msg.ID, user, "🎉"); err != nil {
			t.Fatalf("Upsert(%s) error = %v", user, err)
		}
	}

	groups, err := reactions.GetByMessageID(ctx, msg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1", len(groups))
	}
	sort.Strings(groups[0].Users)
	want := models.ReactionGroup{Emoji: "🎉", Count: 3, Users: []string{"doe, jane", `quote"d`, "smith,john"}}
	if diff := cmp.Diff(want, groups[0]); diff != "" {
		t.Errorf("aggregate mismatch (-want +got):\n%s", diff)
	}
}

func TestReactionRemoveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	messages := NewSQLiteMessageRepo(db)
	reactions := NewSQLiteReactionRepo(db)

	msg := newMessage("c1", "alice", "t1")
	if _, err := messages.CreateIdempotent(ctx, msg); err != nil {
		t.Fatal(err)
	}
	if err := reactions.Upsert(ctx, msg.ID, "bob", "👍"); err != nil {
		t.Fatal(err)
	}

	removed, err := reactions.Remove(ctx, msg.ID, "bob", "❤️")
	if err != nil || removed {
		t.Fatalf("Remove(wrong emoji) = %v, %v; want false, nil", removed, err)
	}
	removed, err = reactions.Remove(ctx, msg.ID, "bob", "👍")
	if err != nil || !removed {
		t.Fatalf("Remove() = %v, %v; want true, nil", removed, err)
	}
	removed, err = reactions.Remove(ctx, msg.ID, "bob", "👍")
	if err != nil || removed {
		t.Fatalf("second Remove() = %v, %v; want false, nil", removed, err)
	}
}

func TestNotificationLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteNotificationRepo(newTestDB(t))

	n := &models.Notification{
		ID:        uuid.NewString(),
		UserID:    "bob",
		Type:      "message",
		Title:     "alice",
		Body:      "hi",
		Data:      models.Metadata{"conversationId": "c1"},
		SenderID:  strPtr("alice"),
		CreatedAt: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := repo.Create(ctx, n); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := repo.MarkRead(ctx, n.ID, "alice", time.Now()); !errors.Is(err, pkg.ErrNotFound) {
		t.Errorf("MarkRead by non-owner error = %v, want ErrNotFound", err)
	}

	readAt := time.Date(2026, 4, 1, 1, 0, 0, 0, time.UTC)
	if err := repo.MarkRead(ctx, n.ID, "bob", readAt); err != nil {
		t.Fatalf("MarkRead() error = %v", err)
	}
	if err := repo.MarkRead(ctx, n.ID, "bob", readAt.Add(time.Hour)); err != nil {
		t.Fatalf("second MarkRead() error = %v", err)
	}

	got, err := repo.GetByID(ctx, n.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.NotificationRead {
		t.Errorf("Status = %q, want read", got.Status)
	}
	if got.ReadAt == nil || !got.ReadAt.Equal(readAt) {
		t.Errorf("ReadAt = %v, want first read time %v", got.ReadAt, readAt)
	}
	if diff := cmp.Diff(n.Data, got.Data); diff != "" {
		t.Errorf("Data mismatch (-want +got):\n%s", diff)
	}
}

func seedMembers(t *testing.T, db *sql.DB) {
	t.Helper()
	stmts := []string{
		`INSERT INTO conversation_participants (conversation_id, user_id, role) VALUES ('c1', 'alice', 'owner')`,
		`INSERT INTO conversation_participants (conversation_id, user_id, role) VALUES ('c1', 'bob', 'member')`,
		`INSERT INTO family_members (family_id, user_id, role) VALUES ('f1', 'alice', 'admin')`,
		`INSERT INTO family_members (family_id, user_id, role) VALUES ('f1', 'bob', 'member')`,
		`INSERT INTO family_members (family_id, user_id, role) VALUES ('f1', 'carol', 'member')`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func TestMembership(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedMembers(t, db)
	repo := NewSQLiteMembershipRepo(db)

	conv := models.RoomID{Kind: models.RoomConversation, ID: "c1"}
	family := models.RoomID{Kind: models.RoomFamily, ID: "f1"}

	tests := []struct {
		user string
		room models.RoomID
		want bool
	}{
		{"alice", conv, true},
		{"bob", conv, true},
		{"carol", conv, false},
		{"carol", family, true},
		{"dave", family, false},
	}
	for _, tt := range tests {
		got, err := repo.IsParticipant(ctx, tt.user, tt.room)
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("IsParticipant(%s, %s) = %v, want %v", tt.user, tt.room, got, tt.want)
		}
	}

	members, err := repo.ListMembers(ctx, family)
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(members)
	if diff := cmp.Diff([]string{"alice", "bob", "carol"}, members); diff != "" {
		t.Errorf("ListMembers mismatch (-want +got):\n%s", diff)
	}

	for user, want := range map[string]bool{"alice": true, "bob": false, "carol": false} {
		got, err := repo.HasAdminRole(ctx, user, conv)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("HasAdminRole(%s) = %v, want %v", user, got, want)
		}
	}

	if f, err := repo.FamilyOf(ctx, "bob"); err != nil || f != "f1" {
		t.Errorf("FamilyOf(bob) = %q, %v", f, err)
	}
	if _, err := repo.FamilyOf(ctx, "dave"); !errors.Is(err, pkg.ErrNotFound) {
		t.Errorf("FamilyOf(dave) error = %v, want ErrNotFound", err)
	}
}
