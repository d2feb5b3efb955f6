// zmforum/handlers/moderation.go
package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"zmforum/config"
	"zmforum/models"

	"github.com/go-chi/chi/v5"
)

// --- Topic Moderation ---

// HandleTogglePin flips a topic's pinned flag.
func HandleTogglePin(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleTogglePin")
	mod, _ := PrincipalFromContext(r.Context())

	topicID, err := urlParamInt64(r, "topicID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid topic ID.", app)
		return
	}

	topic, err := app.DB().TogglePin(topicID, mod.UserID)
	if err != nil {
		respondStoreError(w, err, logger, app)
		return
	}

	logger.Info("Topic pin toggled", "topic_id", topicID, "pinned", topic.IsPinned, "moderator", mod.UserID)
	respondJSON(w, http.StatusOK, topic, app)
}

// HandleToggleLock flips a topic's locked flag.
func HandleToggleLock(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleToggleLock")
	mod, _ := PrincipalFromContext(r.Context())

	topicID, err := urlParamInt64(r, "topicID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid topic ID.", app)
		return
	}

	topic, err := app.DB().ToggleLock(topicID, mod.UserID)
	if err != nil {
		respondStoreError(w, err, logger, app)
		return
	}

	logger.Info("Topic lock toggled", "topic_id", topicID, "locked", topic.IsLocked, "moderator", mod.UserID)
	respondJSON(w, http.StatusOK, topic, app)
}

type setTagRequest struct {
	Tag string `json:"tag"`
}

// HandleSetTag assigns a label from the category's tag vocabulary, or clears
// it when the tag is empty.
func HandleSetTag(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleSetTag")
	mod, _ := PrincipalFromContext(r.Context())

	topicID, err := urlParamInt64(r, "topicID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid topic ID.", app)
		return
	}

	var req setTagRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error(), app)
		return
	}
	req.Tag = strings.TrimSpace(req.Tag)
	if len(req.Tag) > config.MaxTagLen {
		respondError(w, http.StatusBadRequest, "Tag exceeds the maximum length.", app)
		return
	}

	topic, err := app.DB().SetTag(topicID, req.Tag, mod.UserID)
	if err != nil {
		respondStoreError(w, err, logger, app)
		return
	}

	logger.Info("Topic tag changed", "topic_id", topicID, "tag", req.Tag, "moderator", mod.UserID)
	respondJSON(w, http.StatusOK, topic, app)
}

// --- Structure Administration ---

type createSectionRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Icon        string `json:"icon,omitempty"`
	Order       int    `json:"order,omitempty"`
}

// HandleCreateSection adds a top-level forum section.
func HandleCreateSection(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleCreateSection")
	admin, _ := PrincipalFromContext(r.Context())

	var req createSectionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error(), app)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || len(req.Name) > config.MaxNameLen {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("Name is required and must be at most %d characters.", config.MaxNameLen), app)
		return
	}

	section, err := app.DB().CreateSection(req.Name, req.Description, req.Icon, req.Order, admin.UserID)
	if err != nil {
		respondStoreError(w, err, logger, app)
		return
	}

	logger.Info("Section created", "section_id", section.ID, "name", section.Name, "admin", admin.UserID)
	respondJSON(w, http.StatusCreated, section, app)
}

// HandleDeleteSection removes a section with all of its categories, topics,
// and replies in one transaction.
func HandleDeleteSection(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleDeleteSection")
	admin, _ := PrincipalFromContext(r.Context())

	sectionID, err := urlParamInt64(r, "sectionID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid section ID.", app)
		return
	}

	if err := app.DB().DeleteSection(sectionID, admin.UserID); err != nil {
		respondStoreError(w, err, logger, app)
		return
	}

	logger.Info("Section deleted", "section_id", sectionID, "admin", admin.UserID)
	respondJSON(w, http.StatusOK, map[string]string{"message": "Section deleted"}, app)
}

type createCategoryRequest struct {
	SectionID   int64    `json:"section_id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Icon        string   `json:"icon,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// HandleCreateCategory adds a category under an existing section.
func HandleCreateCategory(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleCreateCategory")
	admin, _ := PrincipalFromContext(r.Context())

	var req createCategoryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error(), app)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || len(req.Name) > config.MaxNameLen {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("Name is required and must be at most %d characters.", config.MaxNameLen), app)
		return
	}
	for _, tag := range req.Tags {
		if tag == "" || len(tag) > config.MaxTagLen {
			respondError(w, http.StatusBadRequest, "Category tags must be non-empty and fit the maximum length.", app)
			return
		}
	}

	category, err := app.DB().CreateCategory(req.SectionID, req.Name, req.Description, req.Icon, req.Tags, admin.UserID)
	if err != nil {
		respondStoreError(w, err, logger, app)
		return
	}

	logger.Info("Category created", "category_id", category.ID, "section_id", req.SectionID, "admin", admin.UserID)
	respondJSON(w, http.StatusCreated, category, app)
}

// HandleDeleteCategory removes a category with all of its topics and replies.
func HandleDeleteCategory(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleDeleteCategory")
	admin, _ := PrincipalFromContext(r.Context())

	categoryID, err := urlParamInt64(r, "categoryID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid category ID.", app)
		return
	}

	if err := app.DB().DeleteCategory(categoryID, admin.UserID); err != nil {
		respondStoreError(w, err, logger, app)
		return
	}

	logger.Info("Category deleted", "category_id", categoryID, "admin", admin.UserID)
	respondJSON(w, http.StatusOK, map[string]string{"message": "Category deleted"}, app)
}

// --- Admin Applications ---

type createApplicationRequest struct {
	Nickname   string `json:"nickname"`
	SteamID    string `json:"steamid"`
	Age        int    `json:"age"`
	Experience string `json:"experience"`
	Reason     string `json:"reason"`
}

// HandleCreateApplication submits an admin application, subject to the
// once-per-month rule.
func HandleCreateApplication(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleCreateApplication")
	caller, _ := PrincipalFromContext(r.Context())

	if !app.RateLimiter().GetLimiter(caller.UserID).Allow() {
		respondError(w, http.StatusTooManyRequests, "Rate limit exceeded. Please wait a moment.", app)
		return
	}

	var req createApplicationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error(), app)
		return
	}

	req.Nickname = strings.TrimSpace(req.Nickname)
	req.SteamID = strings.TrimSpace(req.SteamID)
	if req.Nickname == "" || req.SteamID == "" {
		respondError(w, http.StatusBadRequest, "Nickname and SteamID are required.", app)
		return
	}
	if req.Age < 13 || req.Age > 120 {
		respondError(w, http.StatusBadRequest, "Age must be between 13 and 120.", app)
		return
	}
	if len(req.Experience) > config.MaxExperienceLen || len(req.Reason) > config.MaxReasonLen {
		respondError(w, http.StatusBadRequest, "A field exceeds the maximum length.", app)
		return
	}

	application, err := app.DB().CreateApplication(req.Nickname, req.SteamID, req.Age, req.Experience, req.Reason)
	if err != nil {
		respondStoreError(w, err, logger, app)
		return
	}

	logger.Info("Admin application submitted", "application_id", application.ID, "steamid", application.SteamID)
	respondJSON(w, http.StatusCreated, application, app)
}

// HandleListApplications returns every application, newest first.
func HandleListApplications(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleListApplications")

	applications, err := app.DB().ListApplications()
	if err != nil {
		respondStoreError(w, err, logger, app)
		return
	}
	respondJSON(w, http.StatusOK, applications, app)
}

type decideApplicationRequest struct {
	Status string `json:"status"`
}

// HandleDecideApplication approves or rejects a pending application and
// notifies the applicant in the same transaction.
func HandleDecideApplication(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleDecideApplication")
	admin, _ := PrincipalFromContext(r.Context())

	applicationID := chi.URLParam(r, "applicationID")

	var req decideApplicationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error(), app)
		return
	}
	if req.Status != models.ApplicationApproved && req.Status != models.ApplicationRejected {
		respondError(w, http.StatusBadRequest, "Status must be 'approved' or 'rejected'.", app)
		return
	}

	application, err := app.DB().DecideApplication(applicationID, req.Status, admin.UserID)
	if err != nil {
		respondStoreError(w, err, logger, app)
		return
	}

	logger.Info("Admin application decided", "application_id", applicationID, "status", req.Status, "admin", admin.UserID)
	respondJSON(w, http.StatusOK, application, app)
}

// HandleDeleteApplication removes a single application record.
func HandleDeleteApplication(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleDeleteApplication")
	admin, _ := PrincipalFromContext(r.Context())

	applicationID := chi.URLParam(r, "applicationID")
	if err := app.DB().DeleteApplication(applicationID, admin.UserID); err != nil {
		respondStoreError(w, err, logger, app)
		return
	}

	logger.Info("Admin application deleted", "application_id", applicationID, "admin", admin.UserID)
	respondJSON(w, http.StatusOK, map[string]string{"message": "Application deleted"}, app)
}

// HandlePurgeApplications deletes applications older than the retention window.
func HandlePurgeApplications(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandlePurgeApplications")
	admin, _ := PrincipalFromContext(r.Context())

	purged, err := app.DB().PurgeOldApplications(admin.UserID)
	if err != nil {
		respondStoreError(w, err, logger, app)
		return
	}

	logger.Info("Old applications purged", "count", purged, "admin", admin.UserID)
	respondJSON(w, http.StatusOK, map[string]int64{"purged": purged}, app)
}

// --- Operations ---

// HandleModLog returns a page of the moderation audit log.
func HandleModLog(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleModLog")

	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			respondError(w, http.StatusBadRequest, "Invalid offset.", app)
			return
		}
		offset = parsed
	}

	actions, err := app.DB().ListModActions(config.ModLogPageSize, offset)
	if err != nil {
		respondStoreError(w, err, logger, app)
		return
	}
	respondJSON(w, http.StatusOK, actions, app)
}

// HandleDatabaseBackup snapshots the live database into the backup directory.
func HandleDatabaseBackup(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleDatabaseBackup")
	owner, _ := PrincipalFromContext(r.Context())

	path, err := app.DB().BackupDatabase()
	if err != nil {
		logger.Error("Backup failed", "error", err)
		respondError(w, http.StatusInternalServerError, "Backup failed.", app)
		return
	}

	logger.Info("Database backup written", "path", path, "owner", owner.UserID)
	respondJSON(w, http.StatusOK, map[string]string{"message": "Backup complete", "path": path}, app)
}
