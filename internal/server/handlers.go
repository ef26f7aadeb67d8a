package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/truenamepath/truename/internal/auth"
	"github.com/truenamepath/truename/internal/db"
	"github.com/truenamepath/truename/internal/events"
	"github.com/truenamepath/truename/internal/middleware"
)

// handlers bundles all HTTP handlers with their app dependencies.
type handlers struct {
	app *App
}

// publish emits a dashboard activity event when the feed is enabled.
func (h *handlers) publish(userID string, event events.Event) {
	if h.app.Events != nil {
		h.app.Events.Publish(userID, event)
	}
}

// createAccount inserts a user together with their permanent Default
// context. The Default context backs resolution whenever a client has no
// explicit context assignment, so no account may exist without one.
func (h *handlers) createAccount(username, email, passwordHash string, roles []string) (*db.User, error) {
	user := db.User{
		ID:           fmt.Sprintf("user-%s-%d", username, time.Now().UnixNano()),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		Roles:        roles,
	}
	if err := h.app.DB.CreateUser(user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	defaultCtx := db.Context{
		ID:          uuid.New().String(),
		UserID:      user.ID,
		Name:        "Default",
		Description: "Fallback context applied when no other assignment matches",
		IsPermanent: true,
	}
	if err := h.app.DB.CreateContext(defaultCtx); err != nil {
		return nil, fmt.Errorf("failed to create Default context: %w", err)
	}
	return &user, nil
}

// decodeJSON unmarshals the request body into v, answering 400 itself on
// malformed input. A false return means the response is already written.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

// setAccessCookie mirrors the access token into a cookie so browser-native
// navigations (websocket handshake, export downloads) authenticate without
// an Authorization header.
func (h *handlers) setAccessCookie(w http.ResponseWriter, r *http.Request, token string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.AccessTokenCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	})
}

// --- Health endpoints ---

func (h *handlers) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (h *handlers) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ready := true
	checks := map[string]any{}

	if err := h.app.DB.Ping(); err != nil {
		ready = false
		checks["database"] = map[string]string{"status": "unhealthy", "error": err.Error()}
	} else {
		checks["database"] = map[string]string{"status": "healthy"}
	}

	w.Header().Set("Content-Type", "application/json")
	if ready {
		checks["status"] = "ready"
		w.WriteHeader(http.StatusOK)
	} else {
		checks["status"] = "not_ready"
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(checks)
}

// --- Auth endpoints ---

func (h *handlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		http.Error(w, "Username and password are required", http.StatusBadRequest)
		return
	}

	result, err := h.app.JWTAuth.Login(req.Username, req.Password)
	if err != nil {
		slog.Warn("login failed", "username", req.Username, "error", err)
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	h.app.DB.LogAudit(req.Username, "auth.login", "User logged in")

	h.setAccessCookie(w, r, result.AccessToken, int(result.ExpiresIn))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func (h *handlers) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.setAccessCookie(w, r, "", -1)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		http.Error(w, "Refresh token is required", http.StatusBadRequest)
		return
	}

	result, err := h.app.JWTAuth.Refresh(req.RefreshToken)
	if err != nil {
		slog.Warn("token refresh failed", "error", err)
		http.Error(w, "Invalid refresh token", http.StatusUnauthorized)
		return
	}

	h.setAccessCookie(w, r, result.AccessToken, int(result.ExpiresIn))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func (h *handlers) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !h.app.Config.AllowRegistration {
		http.Error(w, "Registration is not enabled", http.StatusForbidden)
		return
	}

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Email    string `json:"email"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		http.Error(w, "Username and password are required", http.StatusBadRequest)
		return
	}

	if len(req.Password) < 6 {
		http.Error(w, "Password must be at least 6 characters", http.StatusBadRequest)
		return
	}

	existing, err := h.app.DB.GetUserByUsername(req.Username)
	if err != nil {
		slog.Error("error checking username", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if existing != nil {
		http.Error(w, "Username already taken", http.StatusConflict)
		return
	}

	passwordHash, err := auth.HashPassword(req.Password)
	if err != nil {
		slog.Error("error hashing password", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if _, err := h.createAccount(req.Username, req.Email, passwordHash, []string{middleware.RoleUser}); err != nil {
		slog.Error("error creating user", "username", req.Username, "error", err)
		http.Error(w, "Failed to create user", http.StatusInternalServerError)
		return
	}

	h.app.DB.LogAudit(req.Username, "auth.register", "User registered")

	result, err := h.app.JWTAuth.Login(req.Username, req.Password)
	if err != nil {
		slog.Error("error generating tokens after registration", "error", err)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"message": "Registration successful, please login"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(result)
}

func (h *handlers) handleAuthMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		http.Error(w, "Authorization header required", http.StatusUnauthorized)
		return
	}

	result, err := h.app.JWTAuth.Authenticate(token)
	if err != nil || !result.Authenticated {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result.User)
}

// --- OIDC endpoints ---

func (h *handlers) handleOIDCLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	redirectURL := r.URL.Query().Get("redirect")
	if redirectURL == "" {
		redirectURL = "/"
	}

	loginURL, err := h.app.OIDCAuth.LoginURL(redirectURL)
	if err != nil {
		slog.Error("failed to generate SSO login URL", "error", err)
		http.Error(w, "Failed to generate login URL", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, loginURL, http.StatusFound)
}

func (h *handlers) handleOIDCCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		errDesc := r.URL.Query().Get("error_description")
		slog.Warn("OIDC callback error", "error", errParam, "description", errDesc)
		http.Error(w, fmt.Sprintf("SSO error: %s", errDesc), http.StatusBadRequest)
		return
	}

	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		http.Error(w, "Missing code or state parameter", http.StatusBadRequest)
		return
	}

	result, redirectURL, err := h.app.OIDCAuth.HandleCallback(r.Context(), code, state)
	if err != nil {
		slog.Error("OIDC callback failed", "error", err)
		http.Error(w, "SSO authentication failed", http.StatusUnauthorized)
		return
	}

	h.app.DB.LogAudit(result.User.Username, "auth.sso_login", "User logged in via OIDC SSO")

	h.setAccessCookie(w, r, result.AccessToken, int(h.app.Config.JWTAccessExpiry.Seconds()))

	if redirectURL == "" {
		redirectURL = "/"
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>SSO Login</title></head>
<body>
<script>
localStorage.setItem('truename-access-token', %q);
localStorage.setItem('truename-refresh-token', %q);
localStorage.setItem('truename-user', JSON.stringify(%s));
window.location.href = %q;
</script>
<noscript><p>Login successful. <a href="/">Click here</a> to continue.</p></noscript>
</body>
</html>`, result.AccessToken, result.RefreshToken, mustJSON(result.User), redirectURL)
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
