package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hiroki-koketsu/taskboard/internal/auth"
	"github.com/hiroki-koketsu/taskboard/internal/model"
)

// Authenticate validates the bearer token and puts the caller's user id in
// the request context. Requests without a valid token get 401.
func Authenticate(verifier auth.Verifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				respondError(w, http.StatusUnauthorized, model.KindUnauthenticated, "authorization header required")
				return
			}

			scheme, token, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
				respondError(w, http.StatusUnauthorized, model.KindUnauthenticated, "invalid authorization format")
				return
			}

			userID, err := verifier.Verify(r.Context(), token)
			if err != nil {
				msg := "invalid token"
				if errors.Is(err, auth.ErrExpiredToken) {
					msg = "token expired"
				}
				logger.DebugContext(r.Context(), "token rejected", slog.Any("error", err))
				respondError(w, http.StatusUnauthorized, model.KindUnauthenticated, msg)
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithUserID(r.Context(), userID)))
		})
	}
}
