// zmforum/handlers/main_test.go
package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"zmforum/database"
	"zmforum/models"
	"zmforum/utils"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("test-secret-do-not-use")

// MockApplication holds dependencies for handler tests.
type MockApplication struct {
	db          *database.DatabaseService
	rateLimiter *models.RateLimiter
	logger      *slog.Logger
	mediaDir    string
	storage     models.StorageService
}

func (a *MockApplication) DB() *database.DatabaseService    { return a.db }
func (a *MockApplication) RateLimiter() *models.RateLimiter { return a.rateLimiter }
func (a *MockApplication) Logger() *slog.Logger             { return a.logger }
func (a *MockApplication) Storage() models.StorageService   { return a.storage }
func (a *MockApplication) JWTSecret() []byte                { return testSecret }
func (a *MockApplication) MediaDir() string                 { return a.mediaDir }

// setupTestApp creates a full application stack with a test database and
// returns it together with the assembled router.
func setupTestApp(t *testing.T) (*MockApplication, http.Handler) {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	dir, err := os.MkdirTemp("", "zmforum_test_*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	dbPath := filepath.Join(dir, "test.db?_journal_mode=WAL&_foreign_keys=on")
	dbService, err := database.InitDB(dbPath, filepath.Join(dir, "backups"), logger)
	if err != nil {
		t.Fatalf("Failed to initialize test database: %v", err)
	}

	mediaDir := filepath.Join(dir, "media")
	if err := os.MkdirAll(mediaDir, 0755); err != nil {
		t.Fatalf("Failed to create media dir: %v", err)
	}

	app := &MockApplication{
		db: dbService,
		// Generous burst so only the dedicated rate limit test trips it.
		rateLimiter: models.NewRateLimiter(time.Millisecond, 1000, time.Hour, 24*time.Hour),
		logger:      logger,
		mediaDir:    mediaDir,
		storage:     &utils.LocalStorage{MediaDir: mediaDir},
	}

	t.Cleanup(func() {
		app.db.DB.Close()
		os.RemoveAll(dir)
	})

	return app, SetupRouter(app)
}

// mintToken signs a bearer credential the way the identity provider would.
func mintToken(t *testing.T, userID, nickname, steamid, role string) string {
	t.Helper()
	claims := Claims{
		Nickname: nickname,
		SteamID:  steamid,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("Failed to sign test token: %v", err)
	}
	return token
}

func playerToken(t *testing.T) string {
	return mintToken(t, "u-player", "PlayerOne", "STEAM_0:1:100", "player")
}

func modToken(t *testing.T) string {
	return mintToken(t, "u-mod", "ModOne", "STEAM_0:1:200", "moderator")
}

func adminToken(t *testing.T) string {
	return mintToken(t, "u-admin", "AdminOne", "STEAM_0:1:300", "admin")
}

func ownerToken(t *testing.T) string {
	return mintToken(t, "u-owner", "OwnerOne", "STEAM_0:1:400", "owner")
}

// doJSON performs a request with an optional bearer token and JSON body.
func doJSON(t *testing.T, router http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

// decodeBody unmarshals a recorded JSON response.
func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rr.Body.String(), err)
	}
}

// seededCategoryID finds the category created by first-run seeding.
func seededCategoryID(t *testing.T, app *MockApplication) int64 {
	t.Helper()
	var id int64
	if err := app.db.DB.QueryRow("SELECT id FROM categories WHERE name = 'General Discussion'").Scan(&id); err != nil {
		t.Fatalf("Failed to find seeded category: %v", err)
	}
	return id
}

// createTestTopic inserts a topic through the store for handler tests.
func createTestTopic(t *testing.T, app *MockApplication, author models.Principal, title string) *models.Topic {
	t.Helper()
	topic, err := app.db.CreateTopic(seededCategoryID(t, app), author, title, "Body text", "", nil)
	if err != nil {
		t.Fatalf("Failed to create test topic: %v", err)
	}
	return topic
}

func playerPrincipal() models.Principal {
	return models.Principal{UserID: "u-player", Nickname: "PlayerOne", SteamID: "STEAM_0:1:100", Role: models.RolePlayer}
}
