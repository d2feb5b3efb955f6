// zmforum/models/models.go
package models

import (
	"database/sql"
	"time"
)

// --- Core Content Models ---

// Section is a top-level forum grouping. It owns zero or more categories.
type Section struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Icon        string     `json:"icon"`
	Order       int        `json:"order"`
	Categories  []Category `json:"categories"`
}

// LastPost is the denormalized pointer a category keeps to the most recent
// topic or reply anywhere under it. It exists so listing reads never need an
// aggregation query; it is recomputed transactionally with every write that
// can move it.
type LastPost struct {
	TopicID    int64     `json:"topic_id"`
	TopicTitle string    `json:"topic_title"`
	Author     string    `json:"author"`
	Date       time.Time `json:"date"`
}

type Category struct {
	ID          int64     `json:"id"`
	SectionID   int64     `json:"section_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Icon        string    `json:"icon"`
	Tags        []string  `json:"tags"`
	TopicCount  int       `json:"topic_count"`
	PostCount   int       `json:"post_count"`
	LastPost    *LastPost `json:"last_post,omitempty"`
}

type Topic struct {
	ID          int64      `json:"id"`
	CategoryID  int64      `json:"category_id"`
	Title       string     `json:"title"`
	Content     string     `json:"content"`
	AuthorID    string     `json:"author_id"`
	AuthorName  string     `json:"author_name"`
	Tag         string     `json:"tag,omitempty"`
	MediaURLs   []string   `json:"media_urls"`
	IsPinned    bool       `json:"is_pinned"`
	IsLocked    bool       `json:"is_locked"`
	ViewCount   int        `json:"view_count"`
	ReplyCount  int        `json:"reply_count"`
	CreatedAt   time.Time  `json:"created_at"`
	EditedAt    *time.Time `json:"edited_at,omitempty"`
	LastReplyAt *time.Time `json:"last_reply_at,omitempty"`
	LastReplyBy string     `json:"last_reply_by,omitempty"`
}

type Reply struct {
	ID         int64     `json:"id"`
	TopicID    int64     `json:"topic_id"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name"`
	Content    string    `json:"content"`
	MediaURLs  []string  `json:"media_urls"`
	CreatedAt  time.Time `json:"created_at"`
}

// --- Notifications & Applications ---

// Notification targets a principal by the denormalized steamid/nickname pair
// the game server knows players by, not by a stable user id. See the
// zmforum/database package doc for the trade-off.
type Notification struct {
	ID        string    `json:"id"`
	SteamID   string    `json:"steamid,omitempty"`
	Nickname  string    `json:"nickname,omitempty"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// Admin application statuses.
const (
	ApplicationPending  = "pending"
	ApplicationApproved = "approved"
	ApplicationRejected = "rejected"
)

type AdminApplication struct {
	ID          string    `json:"id"`
	Nickname    string    `json:"nickname"`
	SteamID     string    `json:"steamid"`
	Age         int       `json:"age"`
	Experience  string    `json:"experience"`
	Reason      string    `json:"reason"`
	Status      string    `json:"status"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// --- Moderation & System Models ---

type ModAction struct {
	ID        int64          `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Actor     string         `json:"actor"`
	Action    string         `json:"action"`
	TargetID  sql.NullInt64  `json:"target_id"`
	Details   sql.NullString `json:"details"`
}

// StorageService abstracts where uploaded media ends up (local disk or an
// S3-compatible bucket).
type StorageService interface {
	SaveFile(filename string, data []byte, contentType string) (string, error)
	DeleteFile(path string) error
}
