package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/truenamepath/truename/internal/db"
	"github.com/truenamepath/truename/internal/events"
	"github.com/truenamepath/truename/internal/middleware"
	"github.com/truenamepath/truename/internal/registry"
	"github.com/truenamepath/truename/internal/resolver"
	"github.com/truenamepath/truename/internal/tokens"
)

// --- Client-facing OAuth endpoints ---

// handleOAuthRegister issues (or re-issues) a client ID for a
// (publisher domain, app name) pair. Unauthenticated by design: client
// applications call this before any user is involved.
func (h *handlers) handleOAuthRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		PublisherDomain string `json:"publisher_domain"`
		AppName         string `json:"app_name"`
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	client, created, err := h.app.Registry.Register(req.PublisherDomain, req.AppName)
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrInvalidDomain), errors.Is(err, registry.ErrInvalidAppName):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, registry.ErrIDExhausted):
			slog.Error("client ID issuance exhausted", "domain", req.PublisherDomain, "app", req.AppName)
			http.Error(w, "Unable to issue client ID, try again", http.StatusServiceUnavailable)
		default:
			slog.Error("error registering client", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	if created {
		h.app.DB.LogAudit(client.PublisherDomain, "client.register",
			fmt.Sprintf("Registered client %q as %s", client.AppName, client.ClientID))
	}

	resp := struct {
		ClientID        string `json:"client_id"`
		PublisherDomain string `json:"publisher_domain"`
		AppName         string `json:"app_name"`
		Created         bool   `json:"created"`
	}{client.ClientID, client.PublisherDomain, client.AppName, created}

	w.Header().Set("Content-Type", "application/json")
	if created {
		w.WriteHeader(http.StatusCreated)
	}
	json.NewEncoder(w).Encode(resp)
}

// handleOAuthAuthorize is the dashboard user's grant action: consent to a
// client, optionally pin a context for it, and mint a session token the
// client can present on /oauth/resolve.
func (h *handlers) handleOAuthAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	user := middleware.GetUserFromContext(r.Context())

	var req struct {
		ClientID  string `json:"client_id"`
		ContextID string `json:"context_id"`
		Scope     string `json:"scope"`
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if req.ClientID == "" {
		http.Error(w, "Missing required field: client_id", http.StatusBadRequest)
		return
	}
	if req.Scope == "" {
		req.Scope = "openid profile"
	}

	scope, err := resolver.ParseScope(req.Scope)
	if err != nil {
		http.Error(w, "Scope must include openid", http.StatusBadRequest)
		return
	}

	client, err := h.app.Registry.Lookup(req.ClientID)
	if err != nil {
		slog.Error("error looking up client", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if client == nil {
		http.Error(w, "Client not found", http.StatusNotFound)
		return
	}

	if req.ContextID != "" {
		c, err := h.app.DB.GetContext(req.ContextID)
		if err != nil {
			slog.Error("error getting context", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		if c == nil || c.UserID != user.ID {
			http.Error(w, "Context not found", http.StatusNotFound)
			return
		}
		if err := h.app.DB.AssignClientContext(user.ID, req.ClientID, req.ContextID); err != nil {
			slog.Error("error assigning client context", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
	}

	consent := db.Consent{
		UserID:    user.ID,
		ClientID:  req.ClientID,
		Status:    db.ConsentGranted,
		GrantedAt: time.Now(),
	}
	if err := h.app.DB.UpsertConsent(consent); err != nil {
		slog.Error("error granting consent", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	// The token is bound to the context that will apply at resolution
	// time: the explicit assignment when there is one, the permanent
	// Default otherwise.
	appliedCtx, err := h.app.Resolver.ContextFor(user.ID, req.ClientID)
	if err != nil {
		slog.Error("error determining context", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	token, err := h.app.Tokens.Issue(user.ID, req.ClientID, appliedCtx.ID, scope)
	if err != nil {
		slog.Error("error issuing session token", "error", err)
		http.Error(w, "Failed to issue session token", http.StatusInternalServerError)
		return
	}

	h.app.DB.LogAudit(user.Username, "consent.grant",
		fmt.Sprintf("Granted %q (%s) access with context %q", client.AppName, client.ClientID, appliedCtx.Name))
	h.publish(user.ID, events.Event{Type: events.EventConsentChanged, Subject: req.ClientID, Detail: "granted"})

	resp := struct {
		SessionToken string `json:"session_token"`
		TokenType    string `json:"token_type"`
		ExpiresIn    int64  `json:"expires_in"`
		Scope        string `json:"scope"`
		ContextID    string `json:"context_id"`
		ContextName  string `json:"context_name"`
	}{
		SessionToken: token.Token,
		TokenType:    "bearer",
		ExpiresIn:    int64(time.Until(token.ExpiresAt).Seconds()),
		Scope:        scope,
		ContextID:    appliedCtx.ID,
		ContextName:  appliedCtx.Name,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(resp)
}

// handleOAuthToken is RFC 7662 style introspection of a session token.
// Unknown and expired tokens report active=false rather than an error so
// clients cannot distinguish the two.
func (h *handlers) handleOAuthToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Token string `json:"token"`
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if req.Token == "" {
		http.Error(w, "Missing required field: token", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	st, err := h.app.Tokens.Validate(req.Token)
	if err != nil {
		if errors.Is(err, tokens.ErrTokenNotFound) || errors.Is(err, tokens.ErrTokenExpired) {
			json.NewEncoder(w).Encode(map[string]bool{"active": false})
			return
		}
		slog.Error("error validating session token", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	resp := struct {
		Active    bool   `json:"active"`
		Sub       string `json:"sub"`
		ClientID  string `json:"client_id"`
		ContextID string `json:"context_id"`
		Scope     string `json:"scope"`
		Iat       int64  `json:"iat"`
		Exp       int64  `json:"exp"`
	}{
		Active:    true,
		Sub:       st.UserID,
		ClientID:  st.ClientID,
		ContextID: st.ContextID,
		Scope:     st.Scope,
		Iat:       st.IssuedAt.Unix(),
		Exp:       st.ExpiresAt.Unix(),
	}
	json.NewEncoder(w).Encode(resp)
}

// handleOAuthResolve turns a bearer session token into the OIDC claims the
// presenting client is allowed to see, plus a signed JWT carrying the same
// payload for clients that want an assertion.
func (h *handlers) handleOAuthResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	authHeader := r.Header.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		http.Error(w, "Bearer session token required", http.StatusUnauthorized)
		return
	}

	st, err := h.app.Tokens.Validate(parts[1])
	if err != nil {
		if errors.Is(err, tokens.ErrTokenNotFound) || errors.Is(err, tokens.ErrTokenExpired) {
			http.Error(w, "Invalid or expired session token", http.StatusUnauthorized)
			return
		}
		slog.Error("error validating session token", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	result, err := h.app.Resolver.Resolve(st.UserID, st.ClientID, st.Scope)
	if err != nil {
		switch {
		case errors.Is(err, resolver.ErrNoConsent), errors.Is(err, resolver.ErrConsentRevoked):
			http.Error(w, "Access to this user has not been granted", http.StatusForbidden)
		case errors.Is(err, resolver.ErrMissingOpenIDScope):
			http.Error(w, "Scope must include openid", http.StatusBadRequest)
		case errors.Is(err, resolver.ErrUnknownUser), errors.Is(err, resolver.ErrUnknownClient):
			http.Error(w, "Invalid session token binding", http.StatusUnauthorized)
		default:
			slog.Error("error resolving claims", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	claimsToken, err := h.app.JWTAuth.SignClaims(result.Claims)
	if err != nil {
		slog.Error("error signing claims", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.publish(st.UserID, events.Event{Type: events.EventClaimsResolved, Subject: st.ClientID, Detail: result.ContextName})

	resp := struct {
		Claims      map[string]any `json:"claims"`
		ClaimsToken string         `json:"claims_token"`
		ContextID   string         `json:"context_id"`
		ContextName string         `json:"context_name"`
	}{
		Claims:      result.Claims,
		ClaimsToken: claimsToken,
		ContextID:   result.ContextID,
		ContextName: result.ContextName,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// --- Dashboard views of clients, consents, and sessions ---

// clientView is a client joined with the viewing user's relationship to it.
type clientView struct {
	db.Client
	ContextID     string           `json:"context_id,omitempty"`
	ConsentStatus db.ConsentStatus `json:"consent_status,omitempty"`
}

func (h *handlers) handleClients(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	user := middleware.GetUserFromContext(r.Context())

	clients, err := h.app.DB.ListClients()
	if err != nil {
		slog.Error("error listing clients", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	assignments, err := h.app.DB.ListClientAssignmentsByUser(user.ID)
	if err != nil {
		slog.Error("error listing client assignments", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	consents, err := h.app.DB.ListConsentsByUser(user.ID)
	if err != nil {
		slog.Error("error listing consents", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	contextByClient := make(map[string]string, len(assignments))
	for _, a := range assignments {
		contextByClient[a.ClientID] = a.ContextID
	}
	statusByClient := make(map[string]db.ConsentStatus, len(consents))
	for _, c := range consents {
		statusByClient[c.ClientID] = c.Status
	}

	result := make([]clientView, len(clients))
	for i, c := range clients {
		result[i] = clientView{
			Client:        c,
			ContextID:     contextByClient[c.ClientID],
			ConsentStatus: statusByClient[c.ClientID],
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// handleClientByID routes /api/clients/{id}/context: the user pins which of
// their contexts the client sees.
func (h *handlers) handleClientByID(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())

	path := strings.TrimPrefix(r.URL.Path, "/api/clients/")
	clientID, rest, _ := strings.Cut(path, "/")
	if clientID == "" {
		http.Error(w, "Missing client ID", http.StatusBadRequest)
		return
	}
	if rest != "context" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	client, err := h.app.Registry.Lookup(clientID)
	if err != nil {
		slog.Error("error looking up client", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if client == nil {
		http.Error(w, "Client not found", http.StatusNotFound)
		return
	}

	var req struct {
		ContextID string `json:"context_id"`
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if req.ContextID == "" {
		http.Error(w, "Missing required field: context_id", http.StatusBadRequest)
		return
	}

	c, err := h.app.DB.GetContext(req.ContextID)
	if err != nil {
		slog.Error("error getting context", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if c == nil || c.UserID != user.ID {
		http.Error(w, "Context not found", http.StatusNotFound)
		return
	}

	if err := h.app.DB.AssignClientContext(user.ID, clientID, req.ContextID); err != nil {
		slog.Error("error assigning client context", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.app.DB.LogAudit(user.Username, "client.context_assign",
		fmt.Sprintf("Client %q (%s) now sees context %q", client.AppName, clientID, c.Name))
	h.publish(user.ID, events.Event{Type: events.EventContextChanged, Subject: clientID, Detail: "client_assignment"})

	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) handleConsents(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())

	switch r.Method {
	case http.MethodGet:
		consents, err := h.app.DB.ListConsentsByUser(user.ID)
		if err != nil {
			slog.Error("error listing consents", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		if consents == nil {
			consents = []db.Consent{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(consents)

	case http.MethodPost:
		var req struct {
			ClientID string           `json:"client_id"`
			Status   db.ConsentStatus `json:"status"`
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Failed to read request body", http.StatusBadRequest)
			return
		}

		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}

		if req.ClientID == "" {
			http.Error(w, "Missing required field: client_id", http.StatusBadRequest)
			return
		}
		if req.Status != db.ConsentGranted && req.Status != db.ConsentRevoked {
			http.Error(w, "Status must be granted or revoked", http.StatusBadRequest)
			return
		}

		client, err := h.app.Registry.Lookup(req.ClientID)
		if err != nil {
			slog.Error("error looking up client", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		if client == nil {
			http.Error(w, "Client not found", http.StatusNotFound)
			return
		}

		consent := db.Consent{
			UserID:   user.ID,
			ClientID: req.ClientID,
			Status:   req.Status,
		}
		if req.Status == db.ConsentGranted {
			consent.GrantedAt = time.Now()
		} else {
			consent.RevokedAt = time.Now()
		}

		if err := h.app.DB.UpsertConsent(consent); err != nil {
			slog.Error("error updating consent", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		action := "consent.grant"
		detail := "granted"
		if req.Status == db.ConsentRevoked {
			action = "consent.revoke"
			detail = "revoked"
		}
		h.app.DB.LogAudit(user.Username, action,
			fmt.Sprintf("Consent for %q (%s): %s", client.AppName, req.ClientID, req.Status))
		h.publish(user.ID, events.Event{Type: events.EventConsentChanged, Subject: req.ClientID, Detail: detail})

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(consent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// --- Session token management ---

func (h *handlers) handleSessions(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())

	switch r.Method {
	case http.MethodGet:
		sessions, err := h.app.Tokens.ListActive(user.ID)
		if err != nil {
			slog.Error("error listing sessions", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		if sessions == nil {
			sessions = []db.SessionToken{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sessions)

	case http.MethodDelete:
		count, err := h.app.Tokens.RevokeAllForUser(user.ID)
		if err != nil {
			slog.Error("error revoking sessions", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		h.app.DB.LogAudit(user.Username, "token.revoke_all", fmt.Sprintf("Revoked %d session tokens", count))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{"revoked": count})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *handlers) handleSessionByToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	user := middleware.GetUserFromContext(r.Context())

	token := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	if token == "" {
		http.Error(w, "Missing session token", http.StatusBadRequest)
		return
	}

	st, err := h.app.DB.GetSessionToken(token)
	if err != nil {
		slog.Error("error getting session token", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if st == nil || st.UserID != user.ID {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	if err := h.app.Tokens.Revoke(token); err != nil && !errors.Is(err, sql.ErrNoRows) {
		slog.Error("error revoking session token", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.app.DB.LogAudit(user.Username, "token.revoke", fmt.Sprintf("Revoked session token for client %s", st.ClientID))

	w.WriteHeader(http.StatusNoContent)
}
