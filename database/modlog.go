// zmforum/database/modlog.go
package database

import (
	"database/sql"
	"fmt"
	"log/slog"

	"zmforum/models"
	"zmforum/utils"
)

// LogModAction records a moderator's or admin's action to the audit trail.
// It runs inside the caller's transaction so the log row lives or dies with
// the action it describes.
func LogModAction(tx *sql.Tx, actor, action string, targetID int64, details string) error {
	stmt, err := tx.Prepare("INSERT INTO mod_actions (timestamp, actor, action, target_id, details) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare mod action statement: %w", err)
	}
	defer func() {
		if err := stmt.Close(); err != nil {
			slog.Default().Error("Failed to close statement in LogModAction", "error", err)
		}
	}()

	_, err = stmt.Exec(utils.GetSQLTime(), actor, action, targetID, details)
	if err != nil {
		return fmt.Errorf("failed to execute mod action log: %w", err)
	}
	return nil
}

// ListModActions pages through the audit trail, newest first.
func (ds *DatabaseService) ListModActions(limit, offset int) ([]models.ModAction, error) {
	rows, err := ds.DB.Query(`
		SELECT id, timestamp, actor, action, target_id, details
		FROM mod_actions ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer closeRows(rows, ds.logger, "ListModActions")

	actions := []models.ModAction{}
	for rows.Next() {
		var a models.ModAction
		if err := rows.Scan(&a.ID, &a.Timestamp, &a.Actor, &a.Action, &a.TargetID, &a.Details); err != nil {
			ds.logger.Error("Failed to scan mod action row", "error", err)
			continue
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}
