package middleware

import (
	"net/http"
	"slices"
)

// Roles assignable to dashboard users. Admins manage users and the audit
// log; regular users manage only their own names, contexts, and consents.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// RequireRole gates a handler on the authenticated user holding one of the
// given roles. Chain after Auth; an unauthenticated request gets 401, an
// authenticated one without the role gets 403.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := GetUserFromContext(r.Context())
			switch {
			case user == nil:
				http.Error(w, "Authentication required", http.StatusUnauthorized)
			case !HasRole(user.Roles, roles...):
				http.Error(w, "Insufficient permissions", http.StatusForbidden)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

// HasRole reports whether userRoles satisfy any of the required roles. The
// admin role satisfies every check.
func HasRole(userRoles []string, required ...string) bool {
	if slices.Contains(userRoles, RoleAdmin) {
		return true
	}
	return slices.ContainsFunc(required, func(r string) bool {
		return slices.Contains(userRoles, r)
	})
}
