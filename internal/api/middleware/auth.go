package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/fieldsoftheworld/ftw-inference-api/internal/api/shared"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/platform/logger"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/service/auth"
)

// GuestSubject identifies requests admitted while authentication is
// disabled.
const GuestSubject = "guest_user"

// AuthMiddleware provides bearer-token authentication for routes.
type AuthMiddleware struct {
	jwtService auth.JWTService
	disabled   bool
}

// NewAuthMiddleware creates an AuthMiddleware. With disabled set, every
// request passes through as the guest subject and jwtService may be nil.
func NewAuthMiddleware(jwtService auth.JWTService, disabled bool) *AuthMiddleware {
	return &AuthMiddleware{
		jwtService: jwtService,
		disabled:   disabled,
	}
}

// Authenticate validates the token from the Authorization header and adds
// the subject to the request context for authorized requests.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.disabled {
			ctx := context.WithValue(r.Context(), shared.SubjectContextKey, GuestSubject)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Authorization header required")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Invalid authorization format")
			return
		}

		claims, err := m.jwtService.ValidateToken(r.Context(), parts[1])
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrExpiredToken):
				shared.RespondWithError(w, r, http.StatusUnauthorized, "Token expired")
			case errors.Is(err, auth.ErrInvalidToken),
				errors.Is(err, auth.ErrTokenNotYetValid),
				errors.Is(err, auth.ErrMissingToken):
				shared.RespondWithError(w, r, http.StatusUnauthorized, "Invalid token")
			default:
				logger.FromContext(r.Context()).Error("token validation failed",
					slog.String("error", err.Error()))
				shared.RespondWithError(w, r, http.StatusInternalServerError, "Authentication error")
			}
			return
		}

		ctx := context.WithValue(r.Context(), shared.SubjectContextKey, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Subject extracts the authenticated subject from the request context.
// Returns the subject and whether one was set.
func Subject(r *http.Request) (string, bool) {
	subject, ok := r.Context().Value(shared.SubjectContextKey).(string)
	return subject, ok
}
