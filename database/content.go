// zmforum/database/content.go
package database

import (
	"database/sql"
	"fmt"

	"zmforum/config"
	"zmforum/models"
	"zmforum/utils"
)

// CreateTopic inserts a topic and updates its category's counters and
// last_post pointer in the same transaction. The topic itself counts toward
// post_count, so both counters move.
func (ds *DatabaseService) CreateTopic(categoryID int64, author models.Principal, title, content, tag string, mediaURLs []string) (*models.Topic, error) {
	if len(mediaURLs) > config.MaxMediaURLs {
		return nil, ErrTooManyAttachments
	}

	tx, err := ds.DB.Begin()
	if err != nil {
		return nil, err
	}
	defer rollback(tx, ds.logger, "CreateTopic")

	var tagsJSON string
	if err := tx.QueryRow("SELECT tags FROM categories WHERE id = ?", categoryID).Scan(&tagsJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load category: %w", err)
	}
	if tag != "" {
		vocab, err := decodeStrings(tagsJSON)
		if err != nil {
			return nil, fmt.Errorf("corrupt tags for category %d: %w", categoryID, err)
		}
		if !containsTag(vocab, tag) {
			return nil, ErrInvalidTag
		}
	}

	mediaJSON, err := encodeStrings(mediaURLs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode media urls: %w", err)
	}

	now := utils.GetSQLTime()
	res, err := tx.Exec(`
		INSERT INTO topics (category_id, title, content, author_id, author_name, tag, media_urls, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		categoryID, title, content, author.UserID, author.Nickname, tag, mediaJSON, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert topic: %w", err)
	}
	topicID, _ := res.LastInsertId()

	_, err = tx.Exec(`
		UPDATE categories SET topic_count = topic_count + 1, post_count = post_count + 1,
		       last_post_topic_id = ?, last_post_title = ?, last_post_author = ?, last_post_at = ?
		WHERE id = ?`,
		topicID, title, author.Nickname, now, categoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to update category counters: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &models.Topic{
		ID:         topicID,
		CategoryID: categoryID,
		Title:      title,
		Content:    content,
		AuthorID:   author.UserID,
		AuthorName: author.Nickname,
		Tag:        tag,
		MediaURLs:  emptyIfNil(mediaURLs),
		CreatedAt:  now,
	}, nil
}

// CreateReply inserts a reply on an unlocked topic and moves the topic's
// reply_count/last_reply pointers and the category's post_count/last_post in
// the same transaction.
func (ds *DatabaseService) CreateReply(topicID int64, author models.Principal, content string, mediaURLs []string) (*models.Reply, error) {
	if len(mediaURLs) > config.MaxMediaURLs {
		return nil, ErrTooManyAttachments
	}

	tx, err := ds.DB.Begin()
	if err != nil {
		return nil, err
	}
	defer rollback(tx, ds.logger, "CreateReply")

	var categoryID int64
	var title string
	var locked bool
	if err := tx.QueryRow("SELECT category_id, title, locked FROM topics WHERE id = ?", topicID).Scan(&categoryID, &title, &locked); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load topic: %w", err)
	}
	if locked {
		return nil, ErrLocked
	}

	mediaJSON, err := encodeStrings(mediaURLs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode media urls: %w", err)
	}

	now := utils.GetSQLTime()
	res, err := tx.Exec(`
		INSERT INTO replies (topic_id, author_id, author_name, content, media_urls, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		topicID, author.UserID, author.Nickname, content, mediaJSON, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert reply: %w", err)
	}
	replyID, _ := res.LastInsertId()

	if _, err := tx.Exec("UPDATE topics SET reply_count = reply_count + 1, last_reply_at = ?, last_reply_by = ? WHERE id = ?",
		now, author.Nickname, topicID); err != nil {
		return nil, fmt.Errorf("failed to update topic counters: %w", err)
	}
	if _, err := tx.Exec(`
		UPDATE categories SET post_count = post_count + 1,
		       last_post_topic_id = ?, last_post_title = ?, last_post_author = ?, last_post_at = ?
		WHERE id = ?`,
		topicID, title, author.Nickname, now, categoryID); err != nil {
		return nil, fmt.Errorf("failed to update category counters: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &models.Reply{
		ID:         replyID,
		TopicID:    topicID,
		AuthorID:   author.UserID,
		AuthorName: author.Nickname,
		Content:    content,
		MediaURLs:  emptyIfNil(mediaURLs),
		CreatedAt:  now,
	}, nil
}

// DeleteTopic removes a topic and all of its replies, reverses the category
// counters and recomputes last_post, all in one transaction. Authorized for
// the author or moderator-and-above.
func (ds *DatabaseService) DeleteTopic(topicID int64, caller models.Principal) error {
	tx, err := ds.DB.Begin()
	if err != nil {
		return err
	}
	defer rollback(tx, ds.logger, "DeleteTopic")

	var categoryID int64
	var authorID string
	var replyCount int
	if err := tx.QueryRow("SELECT category_id, author_id, reply_count FROM topics WHERE id = ?", topicID).Scan(&categoryID, &authorID, &replyCount); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("failed to load topic: %w", err)
	}

	isAuthor := caller.UserID == authorID
	if !isAuthor && !caller.Role.AtLeast(models.RoleModerator) {
		return ErrForbidden
	}

	if _, err := tx.Exec("DELETE FROM replies WHERE topic_id = ?", topicID); err != nil {
		return fmt.Errorf("failed to delete replies: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM topics WHERE id = ?", topicID); err != nil {
		return fmt.Errorf("failed to delete topic: %w", err)
	}
	if _, err := tx.Exec("UPDATE categories SET topic_count = topic_count - 1, post_count = post_count - ? WHERE id = ?",
		1+replyCount, categoryID); err != nil {
		return fmt.Errorf("failed to update category counters: %w", err)
	}
	if err := recomputeLastPost(tx, categoryID); err != nil {
		return err
	}

	if !isAuthor {
		if err := LogModAction(tx, caller.UserID, "delete_topic", topicID, ""); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// DeleteReply removes a reply, reverses the counters and recomputes the
// category's last_post. Authorized for the author or moderator-and-above.
func (ds *DatabaseService) DeleteReply(replyID int64, caller models.Principal) error {
	tx, err := ds.DB.Begin()
	if err != nil {
		return err
	}
	defer rollback(tx, ds.logger, "DeleteReply")

	var topicID int64
	var authorID string
	if err := tx.QueryRow("SELECT topic_id, author_id FROM replies WHERE id = ?", replyID).Scan(&topicID, &authorID); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("failed to load reply: %w", err)
	}

	isAuthor := caller.UserID == authorID
	if !isAuthor && !caller.Role.AtLeast(models.RoleModerator) {
		return ErrForbidden
	}

	var categoryID int64
	if err := tx.QueryRow("SELECT category_id FROM topics WHERE id = ?", topicID).Scan(&categoryID); err != nil {
		return fmt.Errorf("failed to load parent topic: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM replies WHERE id = ?", replyID); err != nil {
		return fmt.Errorf("failed to delete reply: %w", err)
	}
	if _, err := tx.Exec("UPDATE topics SET reply_count = reply_count - 1 WHERE id = ?", topicID); err != nil {
		return fmt.Errorf("failed to update topic counters: %w", err)
	}
	if _, err := tx.Exec("UPDATE categories SET post_count = post_count - 1 WHERE id = ?", categoryID); err != nil {
		return fmt.Errorf("failed to update category counters: %w", err)
	}
	if err := refreshLastReply(tx, topicID); err != nil {
		return err
	}
	if err := recomputeLastPost(tx, categoryID); err != nil {
		return err
	}

	if !isAuthor {
		if err := LogModAction(tx, caller.UserID, "delete_reply", replyID, ""); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// EditTopicContent updates a topic's body. Only its author may edit.
func (ds *DatabaseService) EditTopicContent(topicID int64, caller models.Principal, content string) (*models.Topic, error) {
	tx, err := ds.DB.Begin()
	if err != nil {
		return nil, err
	}
	defer rollback(tx, ds.logger, "EditTopicContent")

	var authorID string
	if err := tx.QueryRow("SELECT author_id FROM topics WHERE id = ?", topicID).Scan(&authorID); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load topic: %w", err)
	}
	if caller.UserID != authorID {
		return nil, ErrForbidden
	}

	if _, err := tx.Exec("UPDATE topics SET content = ?, edited_at = ? WHERE id = ?", content, utils.GetSQLTime(), topicID); err != nil {
		return nil, fmt.Errorf("failed to update topic content: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ds.GetTopic(topicID)
}

// --- Moderation State ---

// TogglePin flips the pinned flag. Last-writer-wins: concurrent toggles leave
// the flag in whichever state the final write applied.
func (ds *DatabaseService) TogglePin(topicID int64, actor string) (*models.Topic, error) {
	return ds.toggleFlag(topicID, "pinned", "toggle_pin", actor)
}

// ToggleLock flips the locked flag. Locking only blocks future replies; it
// never touches existing ones.
func (ds *DatabaseService) ToggleLock(topicID int64, actor string) (*models.Topic, error) {
	return ds.toggleFlag(topicID, "locked", "toggle_lock", actor)
}

func (ds *DatabaseService) toggleFlag(topicID int64, column, action, actor string) (*models.Topic, error) {
	tx, err := ds.DB.Begin()
	if err != nil {
		return nil, err
	}
	defer rollback(tx, ds.logger, action)

	res, err := tx.Exec(fmt.Sprintf("UPDATE topics SET %s = NOT %s WHERE id = ?", column, column), topicID)
	if err != nil {
		return nil, fmt.Errorf("failed to toggle %s: %w", column, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	if err := LogModAction(tx, actor, action, topicID, ""); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ds.GetTopic(topicID)
}

// SetTag assigns a tag from the category's vocabulary to a topic, or clears
// it with the empty string.
func (ds *DatabaseService) SetTag(topicID int64, tag, actor string) (*models.Topic, error) {
	tx, err := ds.DB.Begin()
	if err != nil {
		return nil, err
	}
	defer rollback(tx, ds.logger, "SetTag")

	var tagsJSON string
	err = tx.QueryRow(`
		SELECT c.tags FROM topics t JOIN categories c ON t.category_id = c.id
		WHERE t.id = ?`, topicID).Scan(&tagsJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load topic category: %w", err)
	}
	if tag != "" {
		vocab, err := decodeStrings(tagsJSON)
		if err != nil {
			return nil, fmt.Errorf("corrupt category tags: %w", err)
		}
		if !containsTag(vocab, tag) {
			return nil, ErrInvalidTag
		}
	}

	if _, err := tx.Exec("UPDATE topics SET tag = ? WHERE id = ?", tag, topicID); err != nil {
		return nil, fmt.Errorf("failed to set tag: %w", err)
	}
	if err := LogModAction(tx, actor, "set_tag", topicID, tag); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ds.GetTopic(topicID)
}

// --- Reads ---

// ListTopics returns the topics in a category, pinned first then newest
// first. filterTag narrows to a single tag; "" or "all" lists everything.
func (ds *DatabaseService) ListTopics(categoryID int64, filterTag string) ([]models.Topic, error) {
	if _, err := ds.GetCategory(categoryID); err != nil {
		return nil, err
	}

	query := topicColumns + " FROM topics WHERE category_id = ?"
	args := []interface{}{categoryID}
	if filterTag != "" && filterTag != "all" {
		query += " AND tag = ?"
		args = append(args, filterTag)
	}
	query += " ORDER BY pinned DESC, created_at DESC, id DESC"

	rows, err := ds.DB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer closeRows(rows, ds.logger, "ListTopics")

	topics := []models.Topic{}
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			ds.logger.Error("Failed to scan topic row", "error", err)
			continue
		}
		topics = append(topics, *t)
	}
	return topics, rows.Err()
}

// GetTopic fetches a single topic. It does not touch view_count; see
// IncrementViewCount.
func (ds *DatabaseService) GetTopic(topicID int64) (*models.Topic, error) {
	row := ds.DB.QueryRow(topicColumns+" FROM topics WHERE id = ?", topicID)
	t, err := scanTopic(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("db error getting topic %d: %w", topicID, err)
	}
	return t, nil
}

// IncrementViewCount bumps a topic's view counter. Fire-and-forget: callers
// may ignore the error, and the count is allowed to be approximate under
// concurrent reads.
func (ds *DatabaseService) IncrementViewCount(topicID int64) error {
	_, err := ds.DB.Exec("UPDATE topics SET view_count = view_count + 1 WHERE id = ?", topicID)
	return err
}

// ListReplies returns a topic's replies in creation order.
func (ds *DatabaseService) ListReplies(topicID int64) ([]models.Reply, error) {
	if _, err := ds.GetTopic(topicID); err != nil {
		return nil, err
	}

	rows, err := ds.DB.Query(`
		SELECT id, topic_id, author_id, author_name, content, media_urls, created_at
		FROM replies WHERE topic_id = ? ORDER BY created_at ASC, id ASC`, topicID)
	if err != nil {
		return nil, err
	}
	defer closeRows(rows, ds.logger, "ListReplies")

	replies := []models.Reply{}
	for rows.Next() {
		var r models.Reply
		var mediaJSON string
		if err := rows.Scan(&r.ID, &r.TopicID, &r.AuthorID, &r.AuthorName, &r.Content, &mediaJSON, &r.CreatedAt); err != nil {
			ds.logger.Error("Failed to scan reply row", "error", err)
			continue
		}
		media, err := decodeStrings(mediaJSON)
		if err != nil {
			ds.logger.Error("Corrupt media urls on reply", "reply_id", r.ID, "error", err)
			media = []string{}
		}
		r.MediaURLs = media
		replies = append(replies, r)
	}
	return replies, rows.Err()
}

// --- Internal Helpers ---

const topicColumns = `
	SELECT id, category_id, title, content, author_id, author_name, tag, media_urls,
	       pinned, locked, view_count, reply_count, created_at, edited_at, last_reply_at, last_reply_by`

func scanTopic(row scannable) (*models.Topic, error) {
	var t models.Topic
	var mediaJSON string
	var editedAt, lastReplyAt sql.NullTime
	var lastReplyBy sql.NullString
	if err := row.Scan(&t.ID, &t.CategoryID, &t.Title, &t.Content, &t.AuthorID, &t.AuthorName,
		&t.Tag, &mediaJSON, &t.IsPinned, &t.IsLocked, &t.ViewCount, &t.ReplyCount,
		&t.CreatedAt, &editedAt, &lastReplyAt, &lastReplyBy); err != nil {
		return nil, err
	}
	media, err := decodeStrings(mediaJSON)
	if err != nil {
		return nil, fmt.Errorf("corrupt media urls for topic %d: %w", t.ID, err)
	}
	t.MediaURLs = media
	if editedAt.Valid {
		t.EditedAt = &editedAt.Time
	}
	if lastReplyAt.Valid {
		t.LastReplyAt = &lastReplyAt.Time
	}
	t.LastReplyBy = lastReplyBy.String
	return &t, nil
}

// recomputeLastPost rebuilds a category's last_post pointer from what remains
// after a delete. One UNION over topics and replies, most recent created_at
// first; ties break toward the higher row id, which keeps the result
// deterministic over identical data.
func recomputeLastPost(tx *sql.Tx, categoryID int64) error {
	var topicID sql.NullInt64
	var title, author sql.NullString
	var at sql.NullTime
	err := tx.QueryRow(`
		SELECT topic_id, title, author, created_at FROM (
			SELECT t.id AS topic_id, t.title AS title, t.author_name AS author, t.created_at AS created_at, t.id AS row_id
			FROM topics t WHERE t.category_id = ?
			UNION ALL
			SELECT t.id, t.title, r.author_name, r.created_at, r.id
			FROM replies r JOIN topics t ON r.topic_id = t.id WHERE t.category_id = ?
		) ORDER BY created_at DESC, row_id DESC LIMIT 1`, categoryID, categoryID).Scan(&topicID, &title, &author, &at)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to recompute last_post: %w", err)
	}

	_, err = tx.Exec(`
		UPDATE categories SET last_post_topic_id = ?, last_post_title = ?, last_post_author = ?, last_post_at = ?
		WHERE id = ?`, topicID, title, author, at, categoryID)
	if err != nil {
		return fmt.Errorf("failed to store recomputed last_post: %w", err)
	}
	return nil
}

// refreshLastReply rebuilds a topic's last_reply pointer after a reply delete.
func refreshLastReply(tx *sql.Tx, topicID int64) error {
	var by sql.NullString
	var at sql.NullTime
	err := tx.QueryRow(`
		SELECT author_name, created_at FROM replies WHERE topic_id = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`, topicID).Scan(&by, &at)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to recompute last_reply: %w", err)
	}
	if _, err := tx.Exec("UPDATE topics SET last_reply_at = ?, last_reply_by = ? WHERE id = ?", at, by, topicID); err != nil {
		return fmt.Errorf("failed to store recomputed last_reply: %w", err)
	}
	return nil
}

func emptyIfNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
