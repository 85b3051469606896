package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/aliuyar1234/taskshift/internal/apperrors"
	"github.com/aliuyar1234/taskshift/internal/metrics"
	"github.com/aliuyar1234/taskshift/internal/users"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// UserContextKey is the context key for storing the authenticated user
	UserContextKey contextKey = "user"
)

// UserLookup resolves a user by ID.
type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*users.User, error)
}

// AuthMiddleware resolves the bearer token into a user and injects it into
// the context. Requests without a usable token continue unauthenticated;
// RequireAuth rejects them.
func AuthMiddleware(tokens *Tokens, lookup UserLookup, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			userID, err := tokens.Parse(token)
			if err != nil {
				log.Debug().Err(err).Msg("Invalid bearer token")
				m.IncAuthFailure("invalid_token")
				next.ServeHTTP(w, r)
				return
			}

			user, err := lookup.GetByID(r.Context(), userID)
			if err != nil {
				if errors.Is(err, users.ErrUserNotFound) {
					m.IncAuthFailure("unknown_user")
					next.ServeHTTP(w, r)
					return
				}
				apperrors.WriteServiceError(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), UserContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// RequireAuth is middleware that requires authentication
// Returns 401 if the user is not authenticated
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if CurrentUser(r.Context()) == nil {
			apperrors.WriteUnauthorized(w, r, "Authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireVerified is RequireAuth plus a verified email address.
func RequireVerified(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := CurrentUser(r.Context())
		if user == nil {
			apperrors.WriteUnauthorized(w, r, "Authentication required")
			return
		}
		if !user.IsVerified() {
			apperrors.WriteServiceError(w, r, ErrVerificationRequired)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CurrentUser returns the authenticated user, or nil.
func CurrentUser(ctx context.Context) *users.User {
	user, _ := ctx.Value(UserContextKey).(*users.User)
	return user
}

// GetUserID retrieves the user ID from the request context
// Returns uuid.Nil if no user is authenticated
func GetUserID(ctx context.Context) uuid.UUID {
	if user := CurrentUser(ctx); user != nil {
		return user.ID
	}
	return uuid.Nil
}

// WithUser returns a context carrying user, as AuthMiddleware would.
func WithUser(ctx context.Context, user *users.User) context.Context {
	return context.WithValue(ctx, UserContextKey, user)
}
