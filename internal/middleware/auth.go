package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/truenamepath/truename/internal/auth"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// UserContextKey is the key used to store the authenticated user in the request context
	UserContextKey contextKey = "user"

	// AccessTokenCookieName is the cookie the dashboard login sets so that
	// browser navigation (not just fetch with headers) stays authenticated
	AccessTokenCookieName = "truename_access_token"
)

// Authenticator validates a bearer token. Satisfied by *auth.JWTProvider.
type Authenticator interface {
	Authenticate(token string) (*auth.Result, error)
}

// Auth creates middleware that validates JWT tokens from the Authorization header
func Auth(authenticator Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := requestToken(r)
			if !ok {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			result, err := authenticator.Authenticate(token)
			if err != nil {
				http.Error(w, "Authentication failed", http.StatusUnauthorized)
				return
			}
			if !result.Authenticated {
				msg := "Unauthorized"
				if result.Message != "" {
					msg = result.Message
				}
				http.Error(w, msg, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), UserContextKey, result.User)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuth extracts the user when a valid token is present but never
// rejects the request. Used on endpoints that adapt output to the viewer.
func OptionalAuth(authenticator Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := requestToken(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			result, err := authenticator.Authenticate(token)
			if err != nil || !result.Authenticated {
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), UserContextKey, result.User)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUserFromContext retrieves the authenticated user from the request context
func GetUserFromContext(ctx context.Context) *auth.User {
	user, ok := ctx.Value(UserContextKey).(*auth.User)
	if !ok {
		return nil
	}
	return user
}

// requestToken extracts the access token from an "Authorization: Bearer"
// header, falling back to the dashboard cookie for browser navigations
// (export downloads, plain links) that cannot attach headers.
func requestToken(r *http.Request) (string, bool) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	if c, err := r.Cookie(AccessTokenCookieName); err == nil && c.Value != "" {
		return c.Value, true
	}
	return "", false
}
