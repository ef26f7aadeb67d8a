// Package resolver decides which name variants an OAuth client sees for a
// user and assembles the OIDC claims payload. Resolution walks client to
// context assignment to per-property name selection, gated by scope and
// consent.
package resolver

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/truenamepath/truename/internal/db"
)

var (
	// ErrUnknownUser is returned when the user does not exist.
	ErrUnknownUser = errors.New("unknown user")

	// ErrUnknownClient is returned when the client ID was never issued.
	ErrUnknownClient = errors.New("unknown client")

	// ErrNoConsent is returned when the user has never granted the client.
	ErrNoConsent = errors.New("user has not granted this client")

	// ErrConsentRevoked is returned when the user revoked the client.
	ErrConsentRevoked = errors.New("user has revoked this client")

	// ErrMissingOpenIDScope is returned when the scope omits openid.
	ErrMissingOpenIDScope = errors.New("scope must include openid")
)

// auditActionResolve is the audit action recorded for every successful
// resolution. The dashboard counts these for its recent-activity stat.
const auditActionResolve = "claims.resolve"

// Result is a completed resolution: the context that was applied and the
// claims payload to return to the client.
type Result struct {
	ContextID   string
	ContextName string
	Claims      map[string]any
}

// Service resolves claims against the database.
type Service struct {
	db     *db.DB
	issuer string
}

// New creates a resolver. issuer becomes the iss claim of every payload.
func New(database *db.DB, issuer string) *Service {
	return &Service{db: database, issuer: issuer}
}

// ParseScope normalizes a space-separated scope string. Only openid and
// profile are honored; anything else is dropped. Returns an error when openid
// is absent.
func ParseScope(scope string) (string, error) {
	var hasOpenID, hasProfile bool
	for _, s := range strings.Fields(scope) {
		switch s {
		case "openid":
			hasOpenID = true
		case "profile":
			hasProfile = true
		}
	}
	if !hasOpenID {
		return "", ErrMissingOpenIDScope
	}
	if hasProfile {
		return "openid profile", nil
	}
	return "openid", nil
}

// Resolve builds the OIDC claims a client receives for a user.
//
// The context is the user's explicit assignment for the client, falling back
// to the permanent Default context. With only the openid scope the payload
// carries sub and no name properties; the profile scope adds every property
// assigned in the context, with the user's preferred name standing in for an
// unassigned "name". Properties with neither an assignment nor a fallback are
// omitted entirely.
func (s *Service) Resolve(userID, clientID, scope string) (*Result, error) {
	scope, err := ParseScope(scope)
	if err != nil {
		return nil, err
	}

	user, err := s.db.GetUserByID(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return nil, ErrUnknownUser
	}

	client, err := s.db.GetClient(clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to load client: %w", err)
	}
	if client == nil {
		return nil, ErrUnknownClient
	}

	consent, err := s.db.GetConsent(userID, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to check consent: %w", err)
	}
	if consent == nil {
		return nil, ErrNoConsent
	}
	if consent.Status == db.ConsentRevoked {
		return nil, ErrConsentRevoked
	}

	context, err := s.contextFor(userID, clientID)
	if err != nil {
		return nil, err
	}

	claims := map[string]any{
		"sub":          userID,
		"iss":          s.issuer,
		"aud":          clientID,
		"iat":          time.Now().Unix(),
		"context_name": context.Name,
	}

	if strings.Contains(scope, "profile") {
		if err := s.addNameClaims(claims, userID, context.ID); err != nil {
			return nil, err
		}
	}

	if err := s.db.TouchClient(clientID); err != nil {
		return nil, fmt.Errorf("failed to touch client: %w", err)
	}
	if err := s.db.LogAudit(userID, auditActionResolve, clientID); err != nil {
		return nil, fmt.Errorf("failed to record resolution: %w", err)
	}

	return &Result{
		ContextID:   context.ID,
		ContextName: context.Name,
		Claims:      claims,
	}, nil
}

// ContextFor returns the context that governs what a client sees: the user's
// explicit assignment, or the permanent Default context.
func (s *Service) ContextFor(userID, clientID string) (*db.Context, error) {
	return s.contextFor(userID, clientID)
}

func (s *Service) contextFor(userID, clientID string) (*db.Context, error) {
	assignment, err := s.db.GetClientContext(userID, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to load client context assignment: %w", err)
	}
	if assignment != nil {
		context, err := s.db.GetContext(assignment.ContextID)
		if err != nil {
			return nil, fmt.Errorf("failed to load assigned context: %w", err)
		}
		if context != nil {
			return context, nil
		}
		// Assignment points at a deleted context; fall through to Default.
	}

	context, err := s.db.GetPermanentContext(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load Default context: %w", err)
	}
	if context == nil {
		return nil, fmt.Errorf("user %s has no Default context", userID)
	}
	return context, nil
}

// addNameClaims fills in the name properties assigned in the context. An
// unassigned "name" falls back to the user's preferred name variant.
func (s *Service) addNameClaims(claims map[string]any, userID, contextID string) error {
	assignments, err := s.db.GetResolvedAssignments(contextID)
	if err != nil {
		return fmt.Errorf("failed to load context assignments: %w", err)
	}
	for _, a := range assignments {
		claims[string(a.OIDCProperty)] = a.NameText
	}

	if _, ok := claims[string(db.PropertyName)]; !ok {
		preferred, err := s.db.GetPreferredName(userID)
		if err != nil {
			return fmt.Errorf("failed to load preferred name: %w", err)
		}
		if preferred != nil {
			claims[string(db.PropertyName)] = preferred.Text
		}
	}
	return nil
}
