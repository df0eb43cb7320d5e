package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/dom/scrim-veto/internal/auth"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type contextKey string

const (
	UserIDKey contextKey = "userID"
)

// Auth resolves the caller from a bearer token. Browsers cannot set headers on
// websocket upgrades, so a "token" query parameter is accepted as well.
func Auth(validator *auth.TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.URL.Query().Get("token")
			if token == "" {
				authHeader := r.Header.Get("Authorization")
				if authHeader == "" {
					http.Error(w, "Token required", http.StatusUnauthorized)
					return
				}
				parts := strings.Split(authHeader, " ")
				if len(parts) != 2 || parts[0] != "Bearer" {
					logger.Debug("Invalid authorization header format")
					http.Error(w, "Invalid authorization header", http.StatusUnauthorized)
					return
				}
				token = parts[1]
			}

			userID, err := validator.UserID(token)
			if err != nil {
				logger.Debug("Token validation failed", zap.Error(err))
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetUserID(ctx context.Context) (uuid.UUID, bool) {
	userID, ok := ctx.Value(UserIDKey).(uuid.UUID)
	return userID, ok
}
