// internal/api/middleware.go
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"repo-docs-service/internal/store"
)

type contextKey string

// userIDKey carries the authenticated user ID through the request context.
const userIDKey contextKey = "user_id"

// userID returns the authenticated user set by requireSession.
func userID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// requireSession resolves the Bearer token to a user via the sessions table.
// The session is re-validated on every request; expired tokens are rejected
// by the store query itself.
func (h *Handler) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			respondWithError(w, http.StatusUnauthorized, "Missing or malformed Authorization header")
			return
		}

		uid, err := h.db.GetUserIDBySession(r.Context(), token)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				respondWithError(w, http.StatusUnauthorized, "Invalid or expired session")
				return
			}
			h.logger.Error("Session lookup failed", "error", err)
			respondWithError(w, http.StatusInternalServerError, "Internal server error")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, uid)))
	})
}
