// zmforum/handlers/actions.go
package handlers

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif" // register decoders for the upload sniffing below
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"zmforum/config"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	_ "golang.org/x/image/webp"
)

type createTopicRequest struct {
	CategoryID int64    `json:"category_id"`
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	Tag        string   `json:"tag,omitempty"`
	MediaURLs  []string `json:"media_urls,omitempty"`
}

// HandleCreateTopic creates a new discussion topic in a category.
func HandleCreateTopic(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleCreateTopic")
	author, _ := PrincipalFromContext(r.Context())

	if !app.RateLimiter().GetLimiter(author.UserID).Allow() {
		logger.Warn("Rate limit exceeded", "user_id", author.UserID)
		respondError(w, http.StatusTooManyRequests, "Rate limit exceeded. Please wait a moment.", app)
		return
	}

	var req createTopicRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error(), app)
		return
	}

	req.Title = strings.TrimSpace(req.Title)
	req.Content = strings.TrimSpace(req.Content)
	if req.Title == "" || req.Content == "" {
		respondError(w, http.StatusBadRequest, "Title and content are required.", app)
		return
	}
	if len(req.Title) > config.MaxTitleLen || len(req.Content) > config.MaxContentLen || len(req.Tag) > config.MaxTagLen {
		respondError(w, http.StatusBadRequest, "A field exceeds the maximum length.", app)
		return
	}
	if detail, ok := validateMediaURLs(req.MediaURLs); !ok {
		respondError(w, http.StatusBadRequest, detail, app)
		return
	}

	topic, err := app.DB().CreateTopic(req.CategoryID, author, req.Title, req.Content, req.Tag, req.MediaURLs)
	if err != nil {
		respondStoreError(w, err, logger, app)
		return
	}

	logger.Info("New topic created", "topic_id", topic.ID, "category_id", topic.CategoryID)
	respondJSON(w, http.StatusCreated, topic, app)
}

type createReplyRequest struct {
	TopicID   int64    `json:"topic_id"`
	Content   string   `json:"content"`
	MediaURLs []string `json:"media_urls,omitempty"`
}

// HandleCreateReply posts a reply on an unlocked topic.
func HandleCreateReply(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleCreateReply")
	author, _ := PrincipalFromContext(r.Context())

	if !app.RateLimiter().GetLimiter(author.UserID).Allow() {
		logger.Warn("Rate limit exceeded", "user_id", author.UserID)
		respondError(w, http.StatusTooManyRequests, "Rate limit exceeded. Please wait a moment.", app)
		return
	}

	var req createReplyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error(), app)
		return
	}

	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		respondError(w, http.StatusBadRequest, "Content is required.", app)
		return
	}
	if len(req.Content) > config.MaxContentLen {
		respondError(w, http.StatusBadRequest, "Content exceeds the maximum length.", app)
		return
	}
	if detail, ok := validateMediaURLs(req.MediaURLs); !ok {
		respondError(w, http.StatusBadRequest, detail, app)
		return
	}

	reply, err := app.DB().CreateReply(req.TopicID, author, req.Content, req.MediaURLs)
	if err != nil {
		respondStoreError(w, err, logger, app)
		return
	}

	logger.Info("New reply created", "reply_id", reply.ID, "topic_id", reply.TopicID)
	respondJSON(w, http.StatusCreated, reply, app)
}

type editTopicRequest struct {
	Content string `json:"content"`
}

// HandleEditTopic lets a topic's author revise its body.
func HandleEditTopic(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleEditTopic")
	caller, _ := PrincipalFromContext(r.Context())

	topicID, err := urlParamInt64(r, "topicID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid topic ID.", app)
		return
	}

	var req editTopicRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error(), app)
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" || len(req.Content) > config.MaxContentLen {
		respondError(w, http.StatusBadRequest, "Content is required and must fit the maximum length.", app)
		return
	}

	topic, err := app.DB().EditTopicContent(topicID, caller, req.Content)
	if err != nil {
		respondStoreError(w, err, logger, app)
		return
	}
	respondJSON(w, http.StatusOK, topic, app)
}

// HandleDeleteTopic removes a topic and its replies. The store enforces the
// author-or-moderator rule.
func HandleDeleteTopic(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleDeleteTopic")
	caller, _ := PrincipalFromContext(r.Context())

	topicID, err := urlParamInt64(r, "topicID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid topic ID.", app)
		return
	}

	if err := app.DB().DeleteTopic(topicID, caller); err != nil {
		respondStoreError(w, err, logger, app)
		return
	}

	logger.Info("Topic deleted", "topic_id", topicID, "caller", caller.UserID)
	respondJSON(w, http.StatusOK, map[string]string{"message": "Topic deleted"}, app)
}

// HandleDeleteReply removes a single reply under the same rule.
func HandleDeleteReply(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleDeleteReply")
	caller, _ := PrincipalFromContext(r.Context())

	replyID, err := urlParamInt64(r, "replyID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid reply ID.", app)
		return
	}

	if err := app.DB().DeleteReply(replyID, caller); err != nil {
		respondStoreError(w, err, logger, app)
		return
	}

	logger.Info("Reply deleted", "reply_id", replyID, "caller", caller.UserID)
	respondJSON(w, http.StatusOK, map[string]string{"message": "Reply deleted"}, app)
}

// HandleUploadMedia accepts one image upload, re-encodes it, writes a
// thumbnail, and returns the URLs a client can attach to a topic or reply.
func HandleUploadMedia(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleUploadMedia")

	if err := r.ParseMultipartForm(config.MaxFileSize + 1024); err != nil {
		respondError(w, http.StatusBadRequest, "Form parsing error: "+err.Error(), app)
		return
	}

	mediaURL, thumbURL, err := processMedia(r, app, logger)
	if err != nil {
		logger.Warn("Media processing failed", "error", err)
		respondError(w, http.StatusBadRequest, "Media processing failed: "+err.Error(), app)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]string{
		"url":           mediaURL,
		"thumbnail_url": thumbURL,
	}, app)
}

// --- Internal Helper Functions ---

// validateMediaURLs enforces the attachment cap and that every entry is an
// absolute http(s) URL.
func validateMediaURLs(urls []string) (string, bool) {
	if len(urls) > config.MaxMediaURLs {
		return fmt.Sprintf("At most %d media attachments are allowed.", config.MaxMediaURLs), false
	}
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return "Media URLs must be absolute http(s) URLs.", false
		}
	}
	return "", true
}

// processMedia returns the stored media URL and thumbnail URL.
func processMedia(r *http.Request, app App, logger *slog.Logger) (string, string, error) {
	file, header, err := r.FormFile("file")
	if err != nil {
		return "", "", fmt.Errorf("could not get form file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			logger.Error("Failed to close upload file", "error", err)
		}
	}()

	limitedReader := &io.LimitedReader{R: file, N: config.MaxFileSize + 1}
	data, err := io.ReadAll(limitedReader)
	if err != nil {
		return "", "", fmt.Errorf("could not read file data: %w", err)
	}
	if limitedReader.N == 0 {
		return "", "", fmt.Errorf("file is larger than the %dMB limit", config.MaxFileSize/1024/1024)
	}
	if len(data) == 0 {
		return "", "", fmt.Errorf("file is empty")
	}

	// Magic byte validation
	contentType := http.DetectContentType(data)
	allowedTypes := map[string]bool{
		"image/jpeg": true, "image/png": true, "image/gif": true, "image/webp": true,
	}
	if !allowedTypes[contentType] {
		logger.Warn("User uploaded file with invalid MIME type", "detected_type", contentType, "filename", header.Filename)
		return "", "", fmt.Errorf("unsupported file type: %s. Only JPG, PNG, GIF, and WebP are allowed", contentType)
	}

	reader := bytes.NewReader(data)
	cfg, format, err := image.DecodeConfig(reader)
	if err != nil {
		return "", "", fmt.Errorf("invalid image format, could not decode config: %w", err)
	}
	if cfg.Width > config.MaxWidth || cfg.Height > config.MaxHeight {
		return "", "", fmt.Errorf("image dimensions (%dx%d) exceed maximum (%dx%d)", cfg.Width, cfg.Height, config.MaxWidth, config.MaxHeight)
	}
	if _, err := reader.Seek(0, 0); err != nil {
		return "", "", fmt.Errorf("could not reset reader position: %w", err)
	}

	img, err := imaging.Decode(reader, imaging.AutoOrientation(true))
	if err != nil {
		return "", "", fmt.Errorf("failed to decode image with orientation correction: %w", err)
	}

	// Re-encode everything; non-animated GIFs become JPEG for size.
	outputFormat := "jpeg"
	encodeFormat := imaging.JPEG
	if format == "png" {
		outputFormat = "png"
		encodeFormat = imaging.PNG
	}

	name := uuid.New().String()
	mainFilename := fmt.Sprintf("%s.%s", name, outputFormat)

	mainBuf := new(bytes.Buffer)
	if err := imaging.Encode(mainBuf, img, encodeFormat, imaging.JPEGQuality(90)); err != nil {
		return "", "", fmt.Errorf("failed to encode main image: %w", err)
	}
	mainURL, err := app.Storage().SaveFile(mainFilename, mainBuf.Bytes(), "image/"+outputFormat)
	if err != nil {
		return "", "", fmt.Errorf("failed to store image: %w", err)
	}

	thumb := imaging.Fit(img, config.ThumbnailWidth, config.ThumbnailHeight, imaging.Lanczos)
	thumbFilename := fmt.Sprintf("%s_thumb.jpeg", strings.TrimSuffix(mainFilename, filepath.Ext(mainFilename)))
	thumbBuf := new(bytes.Buffer)
	if err := imaging.Encode(thumbBuf, thumb, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		// A topic without a thumbnail still works; don't fail the upload.
		logger.Error("Failed to encode thumbnail", "error", err)
		return mainURL, "", nil
	}
	thumbURL, err := app.Storage().SaveFile(thumbFilename, thumbBuf.Bytes(), "image/jpeg")
	if err != nil {
		logger.Error("Failed to store thumbnail", "error", err)
		return mainURL, "", nil
	}

	return mainURL, thumbURL, nil
}
