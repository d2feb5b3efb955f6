// zmforum/database/notifications.go
package database

import (
	"database/sql"
	"fmt"

	"zmforum/config"
	"zmforum/models"
	"zmforum/utils"

	"github.com/google/uuid"
)

// insertNotification persists one notification inside an existing transaction,
// so the fanout commits or rolls back together with its trigger event.
func insertNotification(tx *sql.Tx, n models.Notification) error {
	_, err := tx.Exec(`
		INSERT INTO notifications (id, steamid, nickname, type, message, read, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)`,
		n.ID, n.SteamID, n.Nickname, n.Type, n.Message, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

// CreateNotification persists a standalone notification for a principal.
// Moderation actions that want to notify outside an existing transaction use
// this entry point.
func (ds *DatabaseService) CreateNotification(steamid, nickname, ntype, message string) (*models.Notification, error) {
	n := models.Notification{
		ID:        uuid.New().String(),
		SteamID:   steamid,
		Nickname:  nickname,
		Type:      ntype,
		Message:   message,
		CreatedAt: utils.GetSQLTime(),
	}

	tx, err := ds.DB.Begin()
	if err != nil {
		return nil, err
	}
	defer rollback(tx, ds.logger, "CreateNotification")

	if err := insertNotification(tx, n); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &n, nil
}

// ListNotifications returns a principal's notifications, newest first. Each
// supplied identifier narrows the result; at least one must be given. The
// unread count is derived by callers from the read flags, never stored.
func (ds *DatabaseService) ListNotifications(steamid, nickname string) ([]models.Notification, error) {
	query := "SELECT id, steamid, nickname, type, message, read, created_at FROM notifications WHERE 1=1"
	args := []interface{}{}
	if steamid != "" {
		query += " AND steamid = ?"
		args = append(args, steamid)
	}
	if nickname != "" {
		query += " AND nickname = ?"
		args = append(args, nickname)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, config.NotificationLimit)

	rows, err := ds.DB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer closeRows(rows, ds.logger, "ListNotifications")

	notifications := []models.Notification{}
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.SteamID, &n.Nickname, &n.Type, &n.Message, &n.Read, &n.CreatedAt); err != nil {
			ds.logger.Error("Failed to scan notification row", "error", err)
			continue
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// MarkNotificationRead sets the read flag. Only the target principal or an
// admin may do so; marking an already-read notification is a no-op success.
func (ds *DatabaseService) MarkNotificationRead(id string, caller models.Principal) error {
	steamid, nickname, err := ds.notificationTarget(id)
	if err != nil {
		return err
	}
	if !callerOwnsNotification(caller, steamid, nickname) {
		return ErrForbidden
	}

	_, err = ds.DB.Exec("UPDATE notifications SET read = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	return nil
}

// DeleteNotification removes a notification under the same authorization rule
// as MarkNotificationRead.
func (ds *DatabaseService) DeleteNotification(id string, caller models.Principal) error {
	steamid, nickname, err := ds.notificationTarget(id)
	if err != nil {
		return err
	}
	if !callerOwnsNotification(caller, steamid, nickname) {
		return ErrForbidden
	}

	_, err = ds.DB.Exec("DELETE FROM notifications WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete notification: %w", err)
	}
	return nil
}

func (ds *DatabaseService) notificationTarget(id string) (steamid, nickname string, err error) {
	err = ds.DB.QueryRow("SELECT steamid, nickname FROM notifications WHERE id = ?", id).Scan(&steamid, &nickname)
	if err == sql.ErrNoRows {
		return "", "", ErrNotFound
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to load notification: %w", err)
	}
	return steamid, nickname, nil
}

// callerOwnsNotification matches on either denormalized identifier, the way
// the listing endpoint does.
func callerOwnsNotification(caller models.Principal, steamid, nickname string) bool {
	if caller.Role.AtLeast(models.RoleAdmin) {
		return true
	}
	if steamid != "" && caller.SteamID == steamid {
		return true
	}
	if nickname != "" && caller.Nickname == nickname {
		return true
	}
	return false
}
