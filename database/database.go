// zmforum/database/database.go

// Package database is the single shared mutable resource of the forum core:
// every durable write (content, counters, moderation state, notifications)
// goes through DatabaseService so one transaction discipline governs all
// aggregate invariants.
//
// Notifications are targeted by the denormalized steamid/nickname pair the
// game server knows players by rather than a stable user id. This is fragile
// if a nickname changes or a user has no steamid; callers should prefer the
// steamid when both are available.
package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"zmforum/models"
	"zmforum/utils"

	_ "github.com/mattn/go-sqlite3"
)

// DatabaseService is the central struct for all database operations.
type DatabaseService struct {
	DB        *sql.DB
	logger    *slog.Logger
	dsn       string
	backupDir string
}

// InitDB connects to the database, runs migrations, and seeds default data.
func InitDB(dataSourceName, backupDir string, logger *slog.Logger) (*DatabaseService, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, err
	}

	// A single writer connection sidesteps SQLITE_BUSY under concurrent
	// mutations and serializes counter updates on the same row.
	db.SetMaxOpenConns(1)

	if _, err = db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to execute base schema: %w", err)
	}

	if err := runMigrations(db, logger); err != nil {
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	// Seed a starting section and category if the forum is empty.
	var sectionCount int
	if err := db.QueryRow("SELECT COUNT(*) FROM sections").Scan(&sectionCount); err == nil && sectionCount == 0 {
		res, err := db.Exec("INSERT INTO sections (name, description, sort_order) VALUES ('Community', 'General community discussion', 0)")
		if err != nil {
			return nil, fmt.Errorf("failed to seed sections: %w", err)
		}
		sectionID, _ := res.LastInsertId()
		_, err = db.Exec("INSERT INTO categories (section_id, name, description, tags) VALUES (?, 'General Discussion', 'Anything about the server.', '[\"Open\",\"Resolved\"]')", sectionID)
		if err != nil {
			return nil, fmt.Errorf("failed to seed categories: %w", err)
		}
	}

	logger.Info("Database initialized.")

	return &DatabaseService{
		DB:        db,
		logger:    logger,
		dsn:       dataSourceName,
		backupDir: backupDir,
	}, nil
}

// runMigrations applies all un-applied migrations.
func runMigrations(db *sql.DB, logger *slog.Logger) error {
	var latestVersion uint
	err := db.QueryRow("SELECT version FROM schema_migrations ORDER BY version DESC LIMIT 1").Scan(&latestVersion)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("could not get db version: %w", err)
	}

	logger.Info("Current database schema version", "version", latestVersion)

	for _, m := range allMigrations {
		if m.Version > latestVersion {
			logger.Info("Applying migration", "version", m.Version)
			tx, err := db.Begin()
			if err != nil {
				return err
			}

			if _, err := tx.Exec(m.Query); err != nil {
				if rerr := tx.Rollback(); rerr != nil {
					logger.Error("Failed to rollback migration", "version", m.Version, "error", rerr)
				}
				return fmt.Errorf("failed to apply migration v%d: %w", m.Version, err)
			}
			if _, err := tx.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)", m.Version, utils.GetSQLTime()); err != nil {
				if rerr := tx.Rollback(); rerr != nil {
					logger.Error("Failed to rollback migration record", "version", m.Version, "error", rerr)
				}
				return fmt.Errorf("failed to record migration v%d: %w", m.Version, err)
			}

			if err := tx.Commit(); err != nil {
				return fmt.Errorf("failed to commit migration v%d: %w", m.Version, err)
			}
			logger.Info("Successfully applied migration", "version", m.Version)
		}
	}
	return nil
}

// BackupDatabase performs an online backup of the live SQLite database using VACUUM INTO.
func (ds *DatabaseService) BackupDatabase() (string, error) {
	if ds.backupDir == "" {
		return "", fmt.Errorf("backup directory is not configured")
	}
	if err := os.MkdirAll(ds.backupDir, 0755); err != nil {
		return "", fmt.Errorf("could not create backup directory %s: %w", ds.backupDir, err)
	}

	timestamp := time.Now().UTC().Format("2006-01-02_15-04-05")
	backupFilename := fmt.Sprintf("zmforum_backup_%s.db", timestamp)
	backupPath := filepath.Join(ds.backupDir, backupFilename)

	ds.logger.Info("Starting database backup", "destination", backupPath)

	_, err := ds.DB.Exec("VACUUM INTO ?", backupPath)
	if err != nil {
		if removeErr := os.Remove(backupPath); removeErr != nil && !os.IsNotExist(removeErr) {
			ds.logger.Error("Failed to remove incomplete backup file", "path", backupPath, "error", removeErr)
		}
		return "", fmt.Errorf("VACUUM INTO command failed: %w", err)
	}

	return backupPath, nil
}

// --- Sections ---

// CreateSection inserts a new top-level section. Caller authorization happens
// at the handler layer; the store only enforces data invariants.
func (ds *DatabaseService) CreateSection(name, description, icon string, order int, actor string) (*models.Section, error) {
	tx, err := ds.DB.Begin()
	if err != nil {
		return nil, err
	}
	defer rollback(tx, ds.logger, "CreateSection")

	res, err := tx.Exec("INSERT INTO sections (name, description, icon, sort_order) VALUES (?, ?, ?, ?)",
		name, description, icon, order)
	if err != nil {
		return nil, fmt.Errorf("failed to insert section: %w", err)
	}
	id, _ := res.LastInsertId()

	if err := LogModAction(tx, actor, "create_section", id, name); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &models.Section{ID: id, Name: name, Description: description, Icon: icon, Order: order, Categories: []models.Category{}}, nil
}

// DeleteSection removes a section and, depth-first, every category, topic and
// reply under it, in one transaction.
func (ds *DatabaseService) DeleteSection(sectionID int64, actor string) error {
	tx, err := ds.DB.Begin()
	if err != nil {
		return err
	}
	defer rollback(tx, ds.logger, "DeleteSection")

	var name string
	if err := tx.QueryRow("SELECT name FROM sections WHERE id = ?", sectionID).Scan(&name); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("failed to load section: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM replies WHERE topic_id IN
		(SELECT t.id FROM topics t JOIN categories c ON t.category_id = c.id WHERE c.section_id = ?)`, sectionID); err != nil {
		return fmt.Errorf("failed to delete replies under section: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM topics WHERE category_id IN (SELECT id FROM categories WHERE section_id = ?)", sectionID); err != nil {
		return fmt.Errorf("failed to delete topics under section: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM categories WHERE section_id = ?", sectionID); err != nil {
		return fmt.Errorf("failed to delete categories under section: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM sections WHERE id = ?", sectionID); err != nil {
		return fmt.Errorf("failed to delete section: %w", err)
	}

	if err := LogModAction(tx, actor, "delete_section", sectionID, name); err != nil {
		return err
	}
	return tx.Commit()
}

// ListSections returns all sections with their nested categories, counters and
// last_post pointers, ordered for display.
func (ds *DatabaseService) ListSections() ([]models.Section, error) {
	rows, err := ds.DB.Query("SELECT id, name, description, icon, sort_order FROM sections ORDER BY sort_order, name")
	if err != nil {
		return nil, err
	}
	defer closeRows(rows, ds.logger, "ListSections sections")

	var sections []models.Section
	index := make(map[int64]*models.Section)
	for rows.Next() {
		var s models.Section
		if err := rows.Scan(&s.ID, &s.Name, &s.Description, &s.Icon, &s.Order); err != nil {
			ds.logger.Error("Failed to scan section row", "error", err)
			continue
		}
		s.Categories = []models.Category{}
		sections = append(sections, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range sections {
		index[sections[i].ID] = &sections[i]
	}

	catRows, err := ds.DB.Query(`
		SELECT id, section_id, name, description, icon, tags, topic_count, post_count,
		       last_post_topic_id, last_post_title, last_post_author, last_post_at
		FROM categories ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer closeRows(catRows, ds.logger, "ListSections categories")

	for catRows.Next() {
		cat, err := scanCategory(catRows)
		if err != nil {
			ds.logger.Error("Failed to scan category row", "error", err)
			continue
		}
		if s, ok := index[cat.SectionID]; ok {
			s.Categories = append(s.Categories, *cat)
		}
	}
	if err := catRows.Err(); err != nil {
		return nil, err
	}

	if sections == nil {
		sections = []models.Section{}
	}
	return sections, nil
}

// --- Categories ---

// CreateCategory inserts a category under an existing section.
func (ds *DatabaseService) CreateCategory(sectionID int64, name, description, icon string, tags []string, actor string) (*models.Category, error) {
	tx, err := ds.DB.Begin()
	if err != nil {
		return nil, err
	}
	defer rollback(tx, ds.logger, "CreateCategory")

	var exists int
	if err := tx.QueryRow("SELECT COUNT(*) FROM sections WHERE id = ?", sectionID).Scan(&exists); err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, ErrNotFound
	}

	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := encodeStrings(tags)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tags: %w", err)
	}

	res, err := tx.Exec("INSERT INTO categories (section_id, name, description, icon, tags) VALUES (?, ?, ?, ?, ?)",
		sectionID, name, description, icon, tagsJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to insert category: %w", err)
	}
	id, _ := res.LastInsertId()

	if err := LogModAction(tx, actor, "create_category", id, name); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &models.Category{ID: id, SectionID: sectionID, Name: name, Description: description, Icon: icon, Tags: tags}, nil
}

// DeleteCategory removes a category with all of its topics and replies.
// Counters die with the category; no section-level counter exists to update.
func (ds *DatabaseService) DeleteCategory(categoryID int64, actor string) error {
	tx, err := ds.DB.Begin()
	if err != nil {
		return err
	}
	defer rollback(tx, ds.logger, "DeleteCategory")

	var name string
	if err := tx.QueryRow("SELECT name FROM categories WHERE id = ?", categoryID).Scan(&name); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("failed to load category: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM replies WHERE topic_id IN (SELECT id FROM topics WHERE category_id = ?)", categoryID); err != nil {
		return fmt.Errorf("failed to delete replies under category: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM topics WHERE category_id = ?", categoryID); err != nil {
		return fmt.Errorf("failed to delete topics under category: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM categories WHERE id = ?", categoryID); err != nil {
		return fmt.Errorf("failed to delete category: %w", err)
	}

	if err := LogModAction(tx, actor, "delete_category", categoryID, name); err != nil {
		return err
	}
	return tx.Commit()
}

// GetCategory fetches a single category with its counters.
func (ds *DatabaseService) GetCategory(categoryID int64) (*models.Category, error) {
	row := ds.DB.QueryRow(`
		SELECT id, section_id, name, description, icon, tags, topic_count, post_count,
		       last_post_topic_id, last_post_title, last_post_author, last_post_at
		FROM categories WHERE id = ?`, categoryID)
	cat, err := scanCategory(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("db error getting category %d: %w", categoryID, err)
	}
	return cat, nil
}

// --- Internal Helpers ---

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanCategory(row scannable) (*models.Category, error) {
	var cat models.Category
	var tagsJSON string
	var lpTopicID sql.NullInt64
	var lpTitle, lpAuthor sql.NullString
	var lpAt sql.NullTime
	if err := row.Scan(&cat.ID, &cat.SectionID, &cat.Name, &cat.Description, &cat.Icon, &tagsJSON,
		&cat.TopicCount, &cat.PostCount, &lpTopicID, &lpTitle, &lpAuthor, &lpAt); err != nil {
		return nil, err
	}
	tags, err := decodeStrings(tagsJSON)
	if err != nil {
		return nil, fmt.Errorf("corrupt tags for category %d: %w", cat.ID, err)
	}
	cat.Tags = tags
	if lpTopicID.Valid {
		cat.LastPost = &models.LastPost{
			TopicID:    lpTopicID.Int64,
			TopicTitle: lpTitle.String,
			Author:     lpAuthor.String,
			Date:       lpAt.Time,
		}
	}
	return &cat, nil
}

func encodeStrings(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeStrings(raw string) ([]string, error) {
	if raw == "" {
		return []string{}, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, err
	}
	if values == nil {
		values = []string{}
	}
	return values, nil
}

func rollback(tx *sql.Tx, logger *slog.Logger, op string) {
	if rerr := tx.Rollback(); rerr != nil && rerr != sql.ErrTxDone {
		logger.Error("Failed to rollback transaction", "op", op, "error", rerr)
	}
}

func closeRows(rows *sql.Rows, logger *slog.Logger, op string) {
	if err := rows.Close(); err != nil {
		logger.Error("Failed to close rows", "op", op, "error", err)
	}
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}
