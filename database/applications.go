// zmforum/database/applications.go
package database

import (
	"database/sql"
	"fmt"
	"time"

	"zmforum/config"
	"zmforum/models"
	"zmforum/utils"

	"github.com/google/uuid"
)

// CreateApplication records a new admin application. A steamid may apply at
// most once per cooldown window.
func (ds *DatabaseService) CreateApplication(nickname, steamid string, age int, experience, reason string) (*models.AdminApplication, error) {
	cutoff := utils.GetSQLTime().AddDate(0, 0, -config.ApplicationCooldownDays)

	var recent int
	if err := ds.DB.QueryRow("SELECT COUNT(*) FROM admin_applications WHERE steamid = ? AND submitted_at >= ?", steamid, cutoff).Scan(&recent); err != nil {
		return nil, fmt.Errorf("failed to check application cooldown: %w", err)
	}
	if recent > 0 {
		return nil, ErrCooldown
	}

	app := models.AdminApplication{
		ID:          uuid.New().String(),
		Nickname:    nickname,
		SteamID:     steamid,
		Age:         age,
		Experience:  experience,
		Reason:      reason,
		Status:      models.ApplicationPending,
		SubmittedAt: utils.GetSQLTime(),
	}

	_, err := ds.DB.Exec(`
		INSERT INTO admin_applications (id, nickname, steamid, age, experience, reason, status, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		app.ID, app.Nickname, app.SteamID, app.Age, app.Experience, app.Reason, app.Status, app.SubmittedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert application: %w", err)
	}
	return &app, nil
}

// ListApplications returns all applications, newest first.
func (ds *DatabaseService) ListApplications() ([]models.AdminApplication, error) {
	rows, err := ds.DB.Query(`
		SELECT id, nickname, steamid, age, experience, reason, status, submitted_at
		FROM admin_applications ORDER BY submitted_at DESC`)
	if err != nil {
		return nil, err
	}
	defer closeRows(rows, ds.logger, "ListApplications")

	apps := []models.AdminApplication{}
	for rows.Next() {
		var a models.AdminApplication
		if err := rows.Scan(&a.ID, &a.Nickname, &a.SteamID, &a.Age, &a.Experience, &a.Reason, &a.Status, &a.SubmittedAt); err != nil {
			ds.logger.Error("Failed to scan application row", "error", err)
			continue
		}
		apps = append(apps, a)
	}
	return apps, rows.Err()
}

// DecideApplication sets an application's status and fans the decision out to
// the applicant as a notification, both in one transaction: an applicant never
// sees a decided application without its notification or vice versa.
func (ds *DatabaseService) DecideApplication(id, status, actor string) (*models.AdminApplication, error) {
	tx, err := ds.DB.Begin()
	if err != nil {
		return nil, err
	}
	defer rollback(tx, ds.logger, "DecideApplication")

	var app models.AdminApplication
	err = tx.QueryRow(`
		SELECT id, nickname, steamid, age, experience, reason, status, submitted_at
		FROM admin_applications WHERE id = ?`, id).Scan(
		&app.ID, &app.Nickname, &app.SteamID, &app.Age, &app.Experience, &app.Reason, &app.Status, &app.SubmittedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load application: %w", err)
	}

	if _, err := tx.Exec("UPDATE admin_applications SET status = ? WHERE id = ?", status, id); err != nil {
		return nil, fmt.Errorf("failed to update application status: %w", err)
	}
	app.Status = status

	notification := models.Notification{
		ID:        uuid.New().String(),
		SteamID:   app.SteamID,
		Nickname:  app.Nickname,
		Type:      "application_" + status,
		Message:   fmt.Sprintf("Your admin application has been %s!", status),
		CreatedAt: utils.GetSQLTime(),
	}
	if err := insertNotification(tx, notification); err != nil {
		return nil, err
	}

	if err := LogModAction(tx, actor, "decide_application", 0, fmt.Sprintf("%s: %s", app.SteamID, status)); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &app, nil
}

// DeleteApplication removes a single application.
func (ds *DatabaseService) DeleteApplication(id, actor string) error {
	tx, err := ds.DB.Begin()
	if err != nil {
		return err
	}
	defer rollback(tx, ds.logger, "DeleteApplication")

	res, err := tx.Exec("DELETE FROM admin_applications WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete application: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if err := LogModAction(tx, actor, "delete_application", 0, id); err != nil {
		return err
	}
	return tx.Commit()
}

// PurgeOldApplications deletes applications older than the cooldown window and
// returns how many were removed.
func (ds *DatabaseService) PurgeOldApplications(actor string) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -config.ApplicationCooldownDays)

	tx, err := ds.DB.Begin()
	if err != nil {
		return 0, err
	}
	defer rollback(tx, ds.logger, "PurgeOldApplications")

	res, err := tx.Exec("DELETE FROM admin_applications WHERE submitted_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge applications: %w", err)
	}
	deleted, _ := res.RowsAffected()

	if err := LogModAction(tx, actor, "purge_applications", 0, fmt.Sprintf("Deleted %d old applications", deleted)); err != nil {
		return 0, err
	}
	return deleted, tx.Commit()
}
