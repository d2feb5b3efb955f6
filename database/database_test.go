// zmforum/database/database_test.go
package database

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"zmforum/models"
)

// setupTestDB creates a fresh on-disk SQLite database for testing.
func setupTestDB(t *testing.T) *DatabaseService {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	dir, err := os.MkdirTemp("", "zmforum_test_db")
	if err != nil {
		t.Fatalf("Failed to create temp dir for test DB: %v", err)
	}
	dbPath := filepath.Join(dir, "test.db?_journal_mode=WAL&_foreign_keys=on")

	ds, err := InitDB(dbPath, filepath.Join(dir, "backups"), logger)
	if err != nil {
		t.Fatalf("Failed to initialize test database: %v", err)
	}

	t.Cleanup(func() {
		ds.DB.Close()
		os.RemoveAll(dir)
	})

	return ds
}

func seededCategoryID(t *testing.T, ds *DatabaseService) int64 {
	t.Helper()
	var id int64
	if err := ds.DB.QueryRow("SELECT id FROM categories WHERE name = 'General Discussion'").Scan(&id); err != nil {
		t.Fatalf("Failed to find seeded category: %v", err)
	}
	return id
}

func testPrincipal(role models.Role) models.Principal {
	return models.Principal{
		UserID:   "user-" + role.String(),
		Nickname: "Nick_" + role.String(),
		SteamID:  "STEAM_0:1:111" + role.String(),
		Role:     role,
	}
}

// TestInitDB checks that the database is seeded with a default section and category.
func TestInitDB(t *testing.T) {
	ds := setupTestDB(t)

	var sectionCount int
	if err := ds.DB.QueryRow("SELECT COUNT(*) FROM sections").Scan(&sectionCount); err != nil {
		t.Fatalf("Failed to query sections: %v", err)
	}
	if sectionCount == 0 {
		t.Error("Expected sections to be seeded, but count is 0")
	}

	cat, err := ds.GetCategory(seededCategoryID(t, ds))
	if err != nil {
		t.Fatalf("Failed to load seeded category: %v", err)
	}
	if len(cat.Tags) != 2 || cat.Tags[0] != "Open" || cat.Tags[1] != "Resolved" {
		t.Errorf("Seeded category tags = %v, want [Open Resolved]", cat.Tags)
	}
}

// TestMigrations verifies that schema migrations run and are recorded.
func TestMigrations(t *testing.T) {
	ds := setupTestDB(t)

	rows, err := ds.DB.Query("SELECT edited_at FROM topics LIMIT 1")
	if err != nil {
		t.Fatalf("Migration test failed. Could not query for edited_at column: %v", err)
	}
	rows.Close()

	var version int
	if err := ds.DB.QueryRow("SELECT version FROM schema_migrations WHERE version = 1").Scan(&version); err != nil {
		t.Fatalf("Migration version 1 was not recorded: %v", err)
	}
}

// TestCounterConsistency walks through a create/reply/delete sequence and
// checks the category aggregates after every step.
func TestCounterConsistency(t *testing.T) {
	ds := setupTestDB(t)
	catID := seededCategoryID(t, ds)
	author := testPrincipal(models.RolePlayer)

	assertCounters := func(step string, topics, posts int) {
		t.Helper()
		cat, err := ds.GetCategory(catID)
		if err != nil {
			t.Fatalf("%s: failed to load category: %v", step, err)
		}
		if cat.TopicCount != topics || cat.PostCount != posts {
			t.Errorf("%s: counters = (%d topics, %d posts), want (%d, %d)",
				step, cat.TopicCount, cat.PostCount, topics, posts)
		}
	}

	assertCounters("empty category", 0, 0)

	topic, err := ds.CreateTopic(catID, author, "First topic", "Hello", "", nil)
	if err != nil {
		t.Fatalf("CreateTopic failed: %v", err)
	}
	assertCounters("after topic", 1, 1)

	for i := 0; i < 3; i++ {
		if _, err := ds.CreateReply(topic.ID, author, "A reply", nil); err != nil {
			t.Fatalf("CreateReply %d failed: %v", i, err)
		}
	}
	assertCounters("after 3 replies", 1, 4)

	fresh, err := ds.GetTopic(topic.ID)
	if err != nil {
		t.Fatalf("GetTopic failed: %v", err)
	}
	if fresh.ReplyCount != 3 {
		t.Errorf("Topic reply_count = %d, want 3", fresh.ReplyCount)
	}

	if err := ds.DeleteTopic(topic.ID, author); err != nil {
		t.Fatalf("DeleteTopic failed: %v", err)
	}
	assertCounters("after topic delete", 0, 0)

	var orphans int
	if err := ds.DB.QueryRow("SELECT COUNT(*) FROM replies WHERE topic_id = ?", topic.ID).Scan(&orphans); err != nil {
		t.Fatalf("Failed to count replies: %v", err)
	}
	if orphans != 0 {
		t.Errorf("Expected 0 orphaned replies after topic delete, got %d", orphans)
	}
}

// TestDeleteReplyUpdatesCounters removes a single reply and checks both the
// topic and category aggregates.
func TestDeleteReplyUpdatesCounters(t *testing.T) {
	ds := setupTestDB(t)
	catID := seededCategoryID(t, ds)
	author := testPrincipal(models.RolePlayer)

	topic, err := ds.CreateTopic(catID, author, "Topic", "Body", "", nil)
	if err != nil {
		t.Fatalf("CreateTopic failed: %v", err)
	}
	reply, err := ds.CreateReply(topic.ID, author, "Reply", nil)
	if err != nil {
		t.Fatalf("CreateReply failed: %v", err)
	}

	if err := ds.DeleteReply(reply.ID, author); err != nil {
		t.Fatalf("DeleteReply failed: %v", err)
	}

	fresh, err := ds.GetTopic(topic.ID)
	if err != nil {
		t.Fatalf("GetTopic failed: %v", err)
	}
	if fresh.ReplyCount != 0 {
		t.Errorf("Topic reply_count = %d after reply delete, want 0", fresh.ReplyCount)
	}
	if fresh.LastReplyAt != nil {
		t.Errorf("Topic last_reply_at should be cleared when the only reply is deleted")
	}

	cat, err := ds.GetCategory(catID)
	if err != nil {
		t.Fatalf("GetCategory failed: %v", err)
	}
	if cat.PostCount != 1 || cat.TopicCount != 1 {
		t.Errorf("Category counters = (%d topics, %d posts), want (1, 1)", cat.TopicCount, cat.PostCount)
	}
}

// TestLastPostPointer verifies that the category's last_post follows writes
// and is recomputed after deletes.
func TestLastPostPointer(t *testing.T) {
	ds := setupTestDB(t)
	catID := seededCategoryID(t, ds)
	alice := models.Principal{UserID: "u-alice", Nickname: "Alice", Role: models.RolePlayer}
	bob := models.Principal{UserID: "u-bob", Nickname: "Bob", Role: models.RolePlayer}

	first, err := ds.CreateTopic(catID, alice, "Older topic", "Body", "", nil)
	if err != nil {
		t.Fatalf("CreateTopic failed: %v", err)
	}
	second, err := ds.CreateTopic(catID, bob, "Newer topic", "Body", "", nil)
	if err != nil {
		t.Fatalf("CreateTopic failed: %v", err)
	}

	cat, err := ds.GetCategory(catID)
	if err != nil {
		t.Fatalf("GetCategory failed: %v", err)
	}
	if cat.LastPost == nil || cat.LastPost.TopicID != second.ID || cat.LastPost.Author != "Bob" {
		t.Fatalf("last_post = %+v, want Bob's topic %d", cat.LastPost, second.ID)
	}

	// A reply on the older topic moves the pointer there.
	if _, err := ds.CreateReply(first.ID, bob, "Necro reply", nil); err != nil {
		t.Fatalf("CreateReply failed: %v", err)
	}
	cat, _ = ds.GetCategory(catID)
	if cat.LastPost == nil || cat.LastPost.TopicID != first.ID {
		t.Fatalf("last_post = %+v, want topic %d after reply", cat.LastPost, first.ID)
	}

	// Deleting the older topic (and its reply) must fall back to the
	// remaining newest event, not leave a dangling pointer.
	if err := ds.DeleteTopic(first.ID, alice); err != nil {
		t.Fatalf("DeleteTopic failed: %v", err)
	}
	cat, _ = ds.GetCategory(catID)
	if cat.LastPost == nil || cat.LastPost.TopicID != second.ID {
		t.Fatalf("last_post = %+v, want topic %d after delete", cat.LastPost, second.ID)
	}

	// Deleting everything clears it.
	if err := ds.DeleteTopic(second.ID, bob); err != nil {
		t.Fatalf("DeleteTopic failed: %v", err)
	}
	cat, _ = ds.GetCategory(catID)
	if cat.LastPost != nil {
		t.Fatalf("last_post = %+v, want nil for an empty category", cat.LastPost)
	}
}

// TestLockedTopicRejectsReplies makes sure a locked topic cannot accept
// replies but unlocking restores the ability.
func TestLockedTopicRejectsReplies(t *testing.T) {
	ds := setupTestDB(t)
	catID := seededCategoryID(t, ds)
	author := testPrincipal(models.RolePlayer)

	topic, err := ds.CreateTopic(catID, author, "Heated thread", "Body", "", nil)
	if err != nil {
		t.Fatalf("CreateTopic failed: %v", err)
	}

	locked, err := ds.ToggleLock(topic.ID, "mod-1")
	if err != nil {
		t.Fatalf("ToggleLock failed: %v", err)
	}
	if !locked.IsLocked {
		t.Fatal("Expected topic to be locked after toggle")
	}

	if _, err := ds.CreateReply(topic.ID, author, "Should fail", nil); !errors.Is(err, ErrLocked) {
		t.Errorf("CreateReply on locked topic: err = %v, want ErrLocked", err)
	}

	unlocked, err := ds.ToggleLock(topic.ID, "mod-1")
	if err != nil {
		t.Fatalf("Second ToggleLock failed: %v", err)
	}
	if unlocked.IsLocked {
		t.Fatal("Expected topic to be unlocked after second toggle")
	}
	if _, err := ds.CreateReply(topic.ID, author, "Works again", nil); err != nil {
		t.Errorf("CreateReply after unlock failed: %v", err)
	}
}

// TestTagVocabulary checks tag validation on create and on SetTag.
func TestTagVocabulary(t *testing.T) {
	ds := setupTestDB(t)
	catID := seededCategoryID(t, ds)
	author := testPrincipal(models.RolePlayer)

	if _, err := ds.CreateTopic(catID, author, "Bad tag", "Body", "NotInVocab", nil); !errors.Is(err, ErrInvalidTag) {
		t.Errorf("CreateTopic with unknown tag: err = %v, want ErrInvalidTag", err)
	}

	topic, err := ds.CreateTopic(catID, author, "Good tag", "Body", "Open", nil)
	if err != nil {
		t.Fatalf("CreateTopic with valid tag failed: %v", err)
	}
	if topic.Tag != "Open" {
		t.Errorf("Topic tag = %q, want Open", topic.Tag)
	}

	if _, err := ds.SetTag(topic.ID, "Bogus", "mod-1"); !errors.Is(err, ErrInvalidTag) {
		t.Errorf("SetTag with unknown tag: err = %v, want ErrInvalidTag", err)
	}

	tagged, err := ds.SetTag(topic.ID, "Resolved", "mod-1")
	if err != nil {
		t.Fatalf("SetTag failed: %v", err)
	}
	if tagged.Tag != "Resolved" {
		t.Errorf("Topic tag = %q after SetTag, want Resolved", tagged.Tag)
	}

	cleared, err := ds.SetTag(topic.ID, "", "mod-1")
	if err != nil {
		t.Fatalf("SetTag clear failed: %v", err)
	}
	if cleared.Tag != "" {
		t.Errorf("Topic tag = %q after clearing, want empty", cleared.Tag)
	}
}

// TestDeleteAuthorization covers the author-or-moderator rule for deletes and
// the author-only rule for edits.
func TestDeleteAuthorization(t *testing.T) {
	ds := setupTestDB(t)
	catID := seededCategoryID(t, ds)
	author := models.Principal{UserID: "u-author", Nickname: "Author", Role: models.RolePlayer}
	stranger := models.Principal{UserID: "u-other", Nickname: "Other", Role: models.RolePlayer}
	mod := models.Principal{UserID: "u-mod", Nickname: "Mod", Role: models.RoleModerator}

	topic, err := ds.CreateTopic(catID, author, "Mine", "Body", "", nil)
	if err != nil {
		t.Fatalf("CreateTopic failed: %v", err)
	}

	if err := ds.DeleteTopic(topic.ID, stranger); !errors.Is(err, ErrForbidden) {
		t.Errorf("Stranger delete: err = %v, want ErrForbidden", err)
	}
	if _, err := ds.EditTopicContent(topic.ID, mod, "Rewritten"); !errors.Is(err, ErrForbidden) {
		t.Errorf("Non-author edit: err = %v, want ErrForbidden", err)
	}

	edited, err := ds.EditTopicContent(topic.ID, author, "Updated body")
	if err != nil {
		t.Fatalf("Author edit failed: %v", err)
	}
	if edited.Content != "Updated body" || edited.EditedAt == nil {
		t.Errorf("Edit did not stick: content=%q edited_at=%v", edited.Content, edited.EditedAt)
	}

	if err := ds.DeleteTopic(topic.ID, mod); err != nil {
		t.Fatalf("Moderator delete failed: %v", err)
	}

	// A moderator delete of someone else's content must leave an audit entry.
	actions, err := ds.ListModActions(10, 0)
	if err != nil {
		t.Fatalf("ListModActions failed: %v", err)
	}
	found := false
	for _, a := range actions {
		if a.Action == "delete_topic" && a.Actor == mod.UserID {
			found = true
		}
	}
	if !found {
		t.Error("Expected a delete_topic audit entry for the moderator")
	}
}

// TestSectionCascade deletes a section and verifies nothing under it survives.
func TestSectionCascade(t *testing.T) {
	ds := setupTestDB(t)
	author := testPrincipal(models.RolePlayer)

	section, err := ds.CreateSection("Doomed", "", "", 5, "admin-1")
	if err != nil {
		t.Fatalf("CreateSection failed: %v", err)
	}
	cat, err := ds.CreateCategory(section.ID, "Doomed Cat", "", "", []string{"Open"}, "admin-1")
	if err != nil {
		t.Fatalf("CreateCategory failed: %v", err)
	}
	topic, err := ds.CreateTopic(cat.ID, author, "Doomed topic", "Body", "", nil)
	if err != nil {
		t.Fatalf("CreateTopic failed: %v", err)
	}
	if _, err := ds.CreateReply(topic.ID, author, "Doomed reply", nil); err != nil {
		t.Fatalf("CreateReply failed: %v", err)
	}

	if err := ds.DeleteSection(section.ID, "admin-1"); err != nil {
		t.Fatalf("DeleteSection failed: %v", err)
	}

	for _, q := range []struct {
		name  string
		query string
		arg   int64
	}{
		{"categories", "SELECT COUNT(*) FROM categories WHERE section_id = ?", section.ID},
		{"topics", "SELECT COUNT(*) FROM topics WHERE category_id = ?", cat.ID},
		{"replies", "SELECT COUNT(*) FROM replies WHERE topic_id = ?", topic.ID},
	} {
		var n int
		if err := ds.DB.QueryRow(q.query, q.arg).Scan(&n); err != nil {
			t.Fatalf("Failed to count %s: %v", q.name, err)
		}
		if n != 0 {
			t.Errorf("Expected 0 %s after section cascade, got %d", q.name, n)
		}
	}

	if err := ds.DeleteSection(section.ID, "admin-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Second DeleteSection: err = %v, want ErrNotFound", err)
	}
}

// TestListTopicsOrderAndFilter checks pinned-first ordering and tag filtering.
func TestListTopicsOrderAndFilter(t *testing.T) {
	ds := setupTestDB(t)
	catID := seededCategoryID(t, ds)
	author := testPrincipal(models.RolePlayer)

	plain, err := ds.CreateTopic(catID, author, "Plain", "Body", "", nil)
	if err != nil {
		t.Fatalf("CreateTopic failed: %v", err)
	}
	tagged, err := ds.CreateTopic(catID, author, "Tagged", "Body", "Open", nil)
	if err != nil {
		t.Fatalf("CreateTopic failed: %v", err)
	}
	newest, err := ds.CreateTopic(catID, author, "Newest", "Body", "", nil)
	if err != nil {
		t.Fatalf("CreateTopic failed: %v", err)
	}
	// Pin the oldest topic; it must still sort ahead of newer ones.
	if _, err := ds.TogglePin(plain.ID, "mod-1"); err != nil {
		t.Fatalf("TogglePin failed: %v", err)
	}

	topics, err := ds.ListTopics(catID, "")
	if err != nil {
		t.Fatalf("ListTopics failed: %v", err)
	}
	if len(topics) != 3 {
		t.Fatalf("ListTopics returned %d topics, want 3", len(topics))
	}
	if topics[0].ID != plain.ID || !topics[0].IsPinned {
		t.Errorf("First topic = %d (pinned=%v), want pinned topic %d first", topics[0].ID, topics[0].IsPinned, plain.ID)
	}
	if topics[1].ID != newest.ID {
		t.Errorf("Second topic = %d, want newest unpinned topic %d", topics[1].ID, newest.ID)
	}

	filtered, err := ds.ListTopics(catID, "Open")
	if err != nil {
		t.Fatalf("ListTopics with tag failed: %v", err)
	}
	if len(filtered) != 1 || filtered[0].ID != tagged.ID {
		t.Errorf("Tag filter returned %d topics, want exactly the tagged one", len(filtered))
	}

	all, err := ds.ListTopics(catID, "all")
	if err != nil {
		t.Fatalf("ListTopics with 'all' failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("'all' filter returned %d topics, want 3", len(all))
	}

	if _, err := ds.ListTopics(999999, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("ListTopics on missing category: err = %v, want ErrNotFound", err)
	}
}

// TestNotificationLifecycle exercises targeting, ownership, and the
// idempotent read flag.
func TestNotificationLifecycle(t *testing.T) {
	ds := setupTestDB(t)

	n, err := ds.CreateNotification("STEAM_0:1:12345", "PlayerOne", "announcement", "Server restart at noon")
	if err != nil {
		t.Fatalf("CreateNotification failed: %v", err)
	}

	bySteam, err := ds.ListNotifications("STEAM_0:1:12345", "")
	if err != nil {
		t.Fatalf("ListNotifications by steamid failed: %v", err)
	}
	if len(bySteam) != 1 || bySteam[0].ID != n.ID {
		t.Fatalf("ListNotifications by steamid returned %d rows", len(bySteam))
	}

	byNick, err := ds.ListNotifications("", "PlayerOne")
	if err != nil {
		t.Fatalf("ListNotifications by nickname failed: %v", err)
	}
	if len(byNick) != 1 {
		t.Fatalf("ListNotifications by nickname returned %d rows", len(byNick))
	}

	owner := models.Principal{UserID: "u-1", SteamID: "STEAM_0:1:12345", Nickname: "PlayerOne", Role: models.RolePlayer}
	stranger := models.Principal{UserID: "u-2", SteamID: "STEAM_0:1:99999", Nickname: "Nobody", Role: models.RolePlayer}
	admin := models.Principal{UserID: "u-3", Role: models.RoleAdmin}

	if err := ds.MarkNotificationRead(n.ID, stranger); !errors.Is(err, ErrForbidden) {
		t.Errorf("Stranger mark-read: err = %v, want ErrForbidden", err)
	}
	if err := ds.MarkNotificationRead(n.ID, owner); err != nil {
		t.Fatalf("Owner mark-read failed: %v", err)
	}
	// Marking an already-read notification succeeds quietly.
	if err := ds.MarkNotificationRead(n.ID, owner); err != nil {
		t.Errorf("Repeat mark-read: err = %v, want nil", err)
	}

	listed, _ := ds.ListNotifications("STEAM_0:1:12345", "")
	if !listed[0].Read {
		t.Error("Notification should report read=true")
	}

	if err := ds.DeleteNotification(n.ID, admin); err != nil {
		t.Fatalf("Admin delete failed: %v", err)
	}
	if err := ds.DeleteNotification(n.ID, admin); !errors.Is(err, ErrNotFound) {
		t.Errorf("Deleting a missing notification: err = %v, want ErrNotFound", err)
	}
}

// TestApplicationFlow covers the cooldown rule and the decision fanout.
func TestApplicationFlow(t *testing.T) {
	ds := setupTestDB(t)

	app, err := ds.CreateApplication("Applicant", "STEAM_0:1:777", 21, "Two years on other servers", "I want to help")
	if err != nil {
		t.Fatalf("CreateApplication failed: %v", err)
	}
	if app.Status != models.ApplicationPending {
		t.Errorf("New application status = %q, want pending", app.Status)
	}

	if _, err := ds.CreateApplication("Applicant", "STEAM_0:1:777", 21, "", ""); !errors.Is(err, ErrCooldown) {
		t.Errorf("Second application inside cooldown: err = %v, want ErrCooldown", err)
	}

	decided, err := ds.DecideApplication(app.ID, models.ApplicationApproved, "admin-1")
	if err != nil {
		t.Fatalf("DecideApplication failed: %v", err)
	}
	if decided.Status != models.ApplicationApproved {
		t.Errorf("Decided status = %q, want approved", decided.Status)
	}

	// The decision must have produced a notification for the applicant in
	// the same transaction.
	notes, err := ds.ListNotifications("STEAM_0:1:777", "")
	if err != nil {
		t.Fatalf("ListNotifications failed: %v", err)
	}
	if len(notes) != 1 {
		t.Fatalf("Got %d notifications after decision, want 1", len(notes))
	}
	if notes[0].Type != "application_approved" {
		t.Errorf("Notification type = %q, want application_approved", notes[0].Type)
	}
	if notes[0].Message != "Your admin application has been approved!" {
		t.Errorf("Notification message = %q", notes[0].Message)
	}

	if _, err := ds.DecideApplication("no-such-id", models.ApplicationRejected, "admin-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Deciding a missing application: err = %v, want ErrNotFound", err)
	}

	if err := ds.DeleteApplication(app.ID, "admin-1"); err != nil {
		t.Fatalf("DeleteApplication failed: %v", err)
	}
	if err := ds.DeleteApplication(app.ID, "admin-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Deleting a missing application: err = %v, want ErrNotFound", err)
	}
}

// TestPurgeOldApplications backdates a row and checks it gets swept.
func TestPurgeOldApplications(t *testing.T) {
	ds := setupTestDB(t)

	old, err := ds.CreateApplication("Oldtimer", "STEAM_0:1:555", 30, "", "")
	if err != nil {
		t.Fatalf("CreateApplication failed: %v", err)
	}
	if _, err := ds.DB.Exec("UPDATE admin_applications SET submitted_at = datetime('now', '-60 days') WHERE id = ?", old.ID); err != nil {
		t.Fatalf("Failed to backdate application: %v", err)
	}

	fresh, err := ds.CreateApplication("Newcomer", "STEAM_0:1:556", 19, "", "")
	if err != nil {
		t.Fatalf("CreateApplication failed: %v", err)
	}

	purged, err := ds.PurgeOldApplications("admin-1")
	if err != nil {
		t.Fatalf("PurgeOldApplications failed: %v", err)
	}
	if purged != 1 {
		t.Errorf("Purged %d applications, want 1", purged)
	}

	remaining, err := ds.ListApplications()
	if err != nil {
		t.Fatalf("ListApplications failed: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != fresh.ID {
		t.Errorf("Expected only the fresh application to survive the purge")
	}
}

// TestBackupDatabase writes a snapshot and checks the file exists.
func TestBackupDatabase(t *testing.T) {
	ds := setupTestDB(t)

	path, err := ds.BackupDatabase()
	if err != nil {
		t.Fatalf("BackupDatabase failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Backup file does not exist: %v", err)
	}
	if info.Size() == 0 {
		t.Error("Backup file is empty")
	}
}
