package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/truenamepath/truename/internal/config"
	"github.com/truenamepath/truename/internal/db"
)

// OIDCProvider implements upstream single sign-on against any OIDC-compliant
// provider (Keycloak, Auth0, Entra ID, Okta). After the upstream callback it
// issues local JWT tokens so the rest of the application works identically to
// password login. CSRF state tokens are stored in the database so any replica
// can complete a callback started by another.
type OIDCProvider struct {
	database *db.DB
	jwt      *JWTProvider

	provider     *oidc.Provider
	verifier     *oidc.IDTokenVerifier
	oauth2Config oauth2.Config
}

// NewOIDCProvider discovers the upstream issuer and builds the provider.
// Discovery fetches .well-known/openid-configuration, so this needs network
// access to the issuer at startup.
func NewOIDCProvider(ctx context.Context, database *db.DB, jwtProvider *JWTProvider, cfg *config.Config) (*OIDCProvider, error) {
	if !cfg.OIDCEnabled() {
		return nil, errors.New("oidc: issuer, client_id, and client_secret are required")
	}

	provider, err := oidc.NewProvider(ctx, cfg.OIDCIssuer)
	if err != nil {
		return nil, fmt.Errorf("oidc: failed to discover provider at %s: %w", cfg.OIDCIssuer, err)
	}

	scopes := []string{oidc.ScopeOpenID, "profile", "email"}
	if cfg.OIDCScopes != "" {
		scopes = strings.Split(cfg.OIDCScopes, ",")
		for i := range scopes {
			scopes[i] = strings.TrimSpace(scopes[i])
		}
	}

	p := &OIDCProvider{
		database: database,
		jwt:      jwtProvider,
		provider: provider,
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.OIDCClientID}),
		oauth2Config: oauth2.Config{
			ClientID:     cfg.OIDCClientID,
			ClientSecret: cfg.OIDCClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  cfg.OIDCRedirectURL,
			Scopes:       scopes,
		},
	}

	go p.cleanupStates()

	return p, nil
}

// LoginURL returns the upstream authorization URL with a fresh CSRF state.
// redirectURL is where the browser lands after the whole flow completes.
func (p *OIDCProvider) LoginURL(redirectURL string) (string, error) {
	state, err := generateState()
	if err != nil {
		return "", fmt.Errorf("oidc: failed to generate state: %w", err)
	}

	if err := p.database.SaveOIDCState(state, redirectURL, time.Now().Add(10*time.Minute)); err != nil {
		return "", fmt.Errorf("oidc: failed to save state: %w", err)
	}

	return p.oauth2Config.AuthCodeURL(state), nil
}

// HandleCallback exchanges the authorization code, verifies the upstream ID
// token, finds or creates the local user, and issues local JWT tokens. The
// returned string is the post-login redirect stored with the state.
func (p *OIDCProvider) HandleCallback(ctx context.Context, code, state string) (*LoginResult, string, error) {
	redirectURL, expiresAt, err := p.database.ConsumeOIDCState(state)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", errors.New("invalid or expired state parameter")
		}
		return nil, "", fmt.Errorf("oidc: failed to validate state: %w", err)
	}
	if time.Now().After(expiresAt) {
		return nil, "", errors.New("state parameter expired")
	}

	oauth2Token, err := p.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return nil, "", fmt.Errorf("oidc: failed to exchange code: %w", err)
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok {
		return nil, "", errors.New("oidc: no id_token in token response")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, "", fmt.Errorf("oidc: failed to verify id_token: %w", err)
	}

	var claims struct {
		Sub               string   `json:"sub"`
		Email             string   `json:"email"`
		PreferredUsername string   `json:"preferred_username"`
		Groups            []string `json:"groups"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, "", fmt.Errorf("oidc: failed to parse claims: %w", err)
	}

	// Prefer preferred_username, fall back to email, then sub.
	username := claims.PreferredUsername
	if username == "" {
		username = claims.Email
	}
	if username == "" {
		username = claims.Sub
	}

	user, err := p.findOrCreateUser(claims.Sub, username, claims.Email, claims.Groups)
	if err != nil {
		return nil, "", fmt.Errorf("oidc: failed to find/create user: %w", err)
	}

	result, err := p.jwt.issueTokens(user)
	if err != nil {
		return nil, "", err
	}
	return result, redirectURL, nil
}

// findOrCreateUser looks up a user by the upstream subject identifier,
// linking an existing local account by username or creating a fresh one.
func (p *OIDCProvider) findOrCreateUser(sub, username, email string, groups []string) (*db.User, error) {
	user, err := p.database.GetUserByAuthProvider("oidc", sub)
	if err != nil {
		return nil, err
	}
	if user != nil {
		if email != "" && user.Email != email {
			user.Email = email
			if err := p.database.UpdateUser(*user); err != nil {
				slog.Warn("failed to update user profile from oidc claims", "error", err)
			}
		}
		return user, nil
	}

	// A local user with the same username gets linked to SSO.
	existing, err := p.database.GetUserByUsername(username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		existing.AuthProvider = "oidc"
		existing.AuthProviderID = sub
		if email != "" {
			existing.Email = email
		}
		if err := p.database.UpdateUser(*existing); err != nil {
			return nil, err
		}
		return existing, nil
	}

	roles := []string{"user"}
	for _, g := range groups {
		switch strings.ToLower(g) {
		case "admin", "admins", "administrators":
			roles = append(roles, "admin")
		}
	}

	newUser := db.User{
		ID:             "oidc-" + uuid.New().String(),
		Username:       username,
		Email:          email,
		PasswordHash:   "", // SSO users have no local password
		Roles:          roles,
		AuthProvider:   "oidc",
		AuthProviderID: sub,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	if err := p.database.CreateUser(newUser); err != nil {
		return nil, err
	}

	// New SSO users get their permanent Default context immediately, the
	// same as password-registered users.
	if err := p.database.CreateContext(db.Context{
		ID:          uuid.New().String(),
		UserID:      newUser.ID,
		Name:        "Default",
		Description: "Fallback context applied when no other assignment matches",
		IsPermanent: true,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}); err != nil {
		return nil, fmt.Errorf("failed to create Default context: %w", err)
	}

	return &newUser, nil
}

// generateState creates a cryptographically random state string for CSRF protection.
func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// cleanupStates periodically removes expired state entries from the database.
func (p *OIDCProvider) cleanupStates() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		if err := p.database.CleanupExpiredOIDCStates(); err != nil {
			slog.Warn("oidc: failed to cleanup expired states", "error", err)
		}
	}
}
