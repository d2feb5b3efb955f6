// zmforum/handlers/handlers.go

package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"zmforum/database"
	"zmforum/models"

	"github.com/go-chi/chi/v5"
)

// App is an interface that defines the dependencies our handlers need.
type App interface {
	DB() *database.DatabaseService
	RateLimiter() *models.RateLimiter
	Logger() *slog.Logger
	Storage() models.StorageService
	JWTSecret() []byte
	MediaDir() string
}

// errorResponse is the single error shape every endpoint returns.
type errorResponse struct {
	Detail string `json:"detail"`
}

// respondJSON sends a JSON response with a given status code.
func respondJSON(w http.ResponseWriter, status int, payload interface{}, app App) {
	response, err := json.Marshal(payload)
	if err != nil {
		app.Logger().Error("Failed to marshal JSON payload", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		if _, werr := w.Write([]byte(`{"detail":"Failed to marshal JSON response"}`)); werr != nil {
			app.Logger().Error("Failed to write internal server error response", "error", werr)
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(response); err != nil {
		app.Logger().Error("Failed to write JSON response", "error", err)
	}
}

// respondError sends the structured error body with a detail string.
func respondError(w http.ResponseWriter, status int, detail string, app App) {
	respondJSON(w, status, errorResponse{Detail: detail}, app)
}

// respondStoreError maps the store's sentinel errors onto HTTP statuses.
// Anything unrecognized is logged and surfaced as a generic 500 so no storage
// internals leak to clients.
func respondStoreError(w http.ResponseWriter, err error, logger *slog.Logger, app App) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		respondError(w, http.StatusNotFound, "Resource not found.", app)
	case errors.Is(err, database.ErrLocked):
		respondError(w, http.StatusConflict, "Topic is locked.", app)
	case errors.Is(err, database.ErrInvalidTag):
		respondError(w, http.StatusBadRequest, "Tag is not in the category's vocabulary.", app)
	case errors.Is(err, database.ErrTooManyAttachments):
		respondError(w, http.StatusBadRequest, "Too many media attachments.", app)
	case errors.Is(err, database.ErrCooldown):
		respondError(w, http.StatusBadRequest, "You can only apply once per month.", app)
	case errors.Is(err, database.ErrForbidden):
		respondError(w, http.StatusForbidden, "You do not have permission to do that.", app)
	default:
		logger.Error("Store operation failed", "error", err)
		respondError(w, http.StatusInternalServerError, "Database error.", app)
	}
}

// decodeJSON reads a request body into dst with a sane size cap.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// urlParamInt64 parses a chi URL parameter as an id.
func urlParamInt64(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

// MakeHandler adapts our handler signature onto http.HandlerFunc.
func MakeHandler(app App, fn func(http.ResponseWriter, *http.Request, App)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fn(w, r, app)
	}
}

// --- Read Handlers ---

// HandleListSections serves the full forum index: sections with nested
// categories, counters and last_post pointers. Public.
func HandleListSections(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleListSections")
	sections, err := app.DB().ListSections()
	if err != nil {
		logger.Error("Failed to list sections", "error", err)
		respondError(w, http.StatusInternalServerError, "Database error.", app)
		return
	}
	respondJSON(w, http.StatusOK, sections, app)
}

// HandleListTopics serves the topics of one category, pinned first. Public.
// ?tag= narrows to a single tag ("all" and empty list everything).
func HandleListTopics(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleListTopics")
	categoryID, err := strconv.ParseInt(r.URL.Query().Get("category_id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "A numeric category_id query parameter is required.", app)
		return
	}

	topics, err := app.DB().ListTopics(categoryID, r.URL.Query().Get("tag"))
	if err != nil {
		respondStoreError(w, err, logger, app)
		return
	}
	respondJSON(w, http.StatusOK, topics, app)
}

// HandleGetTopic serves a single topic's full detail and bumps its view
// counter. The counter update is fire-and-forget; a failed bump never fails
// the read.
func HandleGetTopic(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleGetTopic")
	topicID, err := urlParamInt64(r, "topicID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid topic ID.", app)
		return
	}

	topic, err := app.DB().GetTopic(topicID)
	if err != nil {
		respondStoreError(w, err, logger, app)
		return
	}

	if err := app.DB().IncrementViewCount(topicID); err != nil {
		logger.Warn("Failed to increment view count", "topic_id", topicID, "error", err)
	} else {
		topic.ViewCount++
	}

	respondJSON(w, http.StatusOK, topic, app)
}

// HandleListReplies serves a topic's replies in creation order. Public.
func HandleListReplies(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleListReplies")
	topicID, err := urlParamInt64(r, "topicID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid topic ID.", app)
		return
	}

	replies, err := app.DB().ListReplies(topicID)
	if err != nil {
		respondStoreError(w, err, logger, app)
		return
	}
	respondJSON(w, http.StatusOK, replies, app)
}

// --- Notification Handlers ---

// HandleListNotifications lists notifications for the steamid/nickname given
// in the query, newest first.
func HandleListNotifications(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleListNotifications")
	steamid := r.URL.Query().Get("steamid")
	nickname := r.URL.Query().Get("nickname")
	if steamid == "" && nickname == "" {
		respondError(w, http.StatusBadRequest, "A steamid or nickname query parameter is required.", app)
		return
	}

	notifications, err := app.DB().ListNotifications(steamid, nickname)
	if err != nil {
		logger.Error("Failed to list notifications", "error", err)
		respondError(w, http.StatusInternalServerError, "Database error.", app)
		return
	}
	respondJSON(w, http.StatusOK, notifications, app)
}

// HandleMarkNotificationRead marks one notification read for its target
// principal (or an admin). Re-marking a read notification succeeds.
func HandleMarkNotificationRead(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleMarkNotificationRead")
	caller, _ := PrincipalFromContext(r.Context())

	if err := app.DB().MarkNotificationRead(chi.URLParam(r, "notificationID"), caller); err != nil {
		respondStoreError(w, err, logger, app)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Notification marked as read"}, app)
}

// HandleDeleteNotification removes one notification under the same
// authorization rule as marking it read.
func HandleDeleteNotification(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleDeleteNotification")
	caller, _ := PrincipalFromContext(r.Context())

	if err := app.DB().DeleteNotification(chi.URLParam(r, "notificationID"), caller); err != nil {
		respondStoreError(w, err, logger, app)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Notification deleted"}, app)
}
