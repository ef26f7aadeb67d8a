// Package server assembles the HTTP API: dashboard auth and CRUD surfaces
// for names, contexts, clients, and consents, plus the OAuth-facing
// endpoints that client applications call.
package server

import (
	"net/http"

	"github.com/truenamepath/truename/internal/archive"
	"github.com/truenamepath/truename/internal/auth"
	"github.com/truenamepath/truename/internal/config"
	"github.com/truenamepath/truename/internal/db"
	"github.com/truenamepath/truename/internal/events"
	"github.com/truenamepath/truename/internal/middleware"
	"github.com/truenamepath/truename/internal/registry"
	"github.com/truenamepath/truename/internal/resolver"
	"github.com/truenamepath/truename/internal/tokens"
)

// App holds the application dependencies shared by all HTTP handlers.
type App struct {
	Config   *config.Config
	DB       *db.DB
	JWTAuth  *auth.JWTProvider
	OIDCAuth *auth.OIDCProvider // nil when upstream SSO is not configured
	Registry *registry.Service
	Resolver *resolver.Service
	Tokens   *tokens.Service
	Events   *events.Hub         // nil disables the activity feed
	Archive  *archive.Exporter   // nil disables audit snapshots
	Limiter  *middleware.RateLimiter // nil disables OAuth rate limiting
}

// Handler builds the complete route table.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	h := &handlers{app: a}

	// Health endpoints, unauthenticated
	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.HandleFunc("/readyz", h.handleReadyz)

	// Dashboard authentication
	mux.HandleFunc("/api/auth/login", h.handleLogin)
	mux.HandleFunc("/api/auth/logout", h.handleLogout)
	mux.HandleFunc("/api/auth/refresh", h.handleRefreshToken)
	mux.HandleFunc("/api/auth/register", h.handleRegister)
	mux.HandleFunc("/api/auth/me", h.handleAuthMe)
	if a.OIDCAuth != nil {
		mux.HandleFunc("/api/auth/oidc/login", h.handleOIDCLogin)
		mux.HandleFunc("/api/auth/oidc/callback", h.handleOIDCCallback)
	}

	authed := middleware.Auth(a.JWTAuth)
	admin := func(next http.Handler) http.Handler {
		return authed(middleware.RequireRole(middleware.RoleAdmin)(next))
	}

	// Name variants and contexts
	mux.Handle("/api/names", authed(http.HandlerFunc(h.handleNames)))
	mux.Handle("/api/names/", authed(http.HandlerFunc(h.handleNameByID)))
	mux.Handle("/api/contexts", authed(http.HandlerFunc(h.handleContexts)))
	mux.Handle("/api/contexts/", authed(http.HandlerFunc(h.handleContextByID)))

	// Client visibility, consent, and session management
	mux.Handle("/api/clients", authed(http.HandlerFunc(h.handleClients)))
	mux.Handle("/api/clients/", authed(http.HandlerFunc(h.handleClientByID)))
	mux.Handle("/api/consents", authed(http.HandlerFunc(h.handleConsents)))
	mux.Handle("/api/sessions", authed(http.HandlerFunc(h.handleSessions)))
	mux.Handle("/api/sessions/", authed(http.HandlerFunc(h.handleSessionByToken)))
	mux.Handle("/api/dashboard/stats", authed(http.HandlerFunc(h.handleDashboardStats)))

	// Admin surface
	mux.Handle("/api/audit", admin(http.HandlerFunc(h.handleAuditLogs)))
	mux.Handle("/api/audit/export", admin(http.HandlerFunc(h.handleAuditExport)))
	mux.Handle("/api/audit/archive", admin(http.HandlerFunc(h.handleAuditArchive)))
	mux.Handle("/api/audit/filters", admin(http.HandlerFunc(h.handleAuditFilters)))
	mux.Handle("/api/admin/users", admin(http.HandlerFunc(h.handleAdminUsers)))
	mux.Handle("/api/admin/users/", admin(http.HandlerFunc(h.handleAdminUserByID)))

	// OAuth surface for client applications. Registration, introspection,
	// and resolution are rate limited per IP; authorize is a dashboard
	// action by the signed-in user.
	mux.Handle("/oauth/register", a.Limiter.Middleware(http.HandlerFunc(h.handleOAuthRegister)))
	mux.Handle("/oauth/authorize", authed(http.HandlerFunc(h.handleOAuthAuthorize)))
	mux.Handle("/oauth/token", a.Limiter.Middleware(http.HandlerFunc(h.handleOAuthToken)))
	mux.Handle("/oauth/resolve", a.Limiter.Middleware(http.HandlerFunc(h.handleOAuthResolve)))

	// Live activity feed
	if a.Events != nil {
		mux.Handle("/ws/events", a.Events)
	}

	return middleware.SecurityHeaders(middleware.RequestID(mux))
}
