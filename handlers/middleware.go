// zmforum/handlers/middleware.go
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"zmforum/models"
	"zmforum/utils"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
)

// ContextKey is a custom type for context keys to avoid collisions.
type ContextKey string

const PrincipalKey ContextKey = "principal"

// Claims is the payload of the identity provider's bearer credential.
type Claims struct {
	Nickname string `json:"nickname"`
	SteamID  string `json:"steamid,omitempty"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// ParseToken validates a bearer token string and extracts the principal.
func ParseToken(tokenString string, secret []byte) (*models.Principal, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}

	return &models.Principal{
		UserID:   claims.Subject,
		Nickname: claims.Nickname,
		SteamID:  claims.SteamID,
		Role:     models.ParseRole(claims.Role),
	}, nil
}

// PrincipalFromContext returns the authenticated principal, if any.
func PrincipalFromContext(ctx context.Context) (models.Principal, bool) {
	p, ok := ctx.Value(PrincipalKey).(models.Principal)
	return p, ok
}

// Authenticate resolves the Authorization header into a principal on the
// request context. Requests without a credential pass through anonymously;
// a malformed or forged credential is rejected outright.
func Authenticate(app App) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				respondError(w, http.StatusUnauthorized, "Invalid authorization header format.", app)
				return
			}

			principal, err := ParseToken(parts[1], app.JWTSecret())
			if err != nil {
				app.Logger().Warn("Rejected bearer token", "error", err)
				respondError(w, http.StatusUnauthorized, "Invalid or expired token.", app)
				return
			}

			ctx := context.WithValue(r.Context(), PrincipalKey, *principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth rejects requests that carry no authenticated principal.
func RequireAuth(app App) func(http.Handler) http.Handler {
	return requireRole(app, models.RolePlayer)
}

// RequireRole rejects requests whose principal's role is below min.
func RequireRole(app App, min models.Role) func(http.Handler) http.Handler {
	return requireRole(app, min)
}

func requireRole(app App, min models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				respondError(w, http.StatusUnauthorized, "Authentication required.", app)
				return
			}
			if !principal.Role.AtLeast(min) {
				respondError(w, http.StatusForbidden, "Insufficient privileges.", app)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NewStructuredLogger emits one slog line per request with the request id
// chi's middleware assigned.
func NewStructuredLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request",
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"remote", utils.GetIPAddress(r),
			)
		})
	}
}

// SecurityHeaders sets the standard hardening headers on every response.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}
