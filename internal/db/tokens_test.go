package db

import (
	"database/sql"
	"errors"
	"testing"
	"time"
)

func seedTokenFixtures(t *testing.T, database *DB) (userID, clientID, contextID string) {
	t.Helper()
	userID = seedTestUser(t, database, "sol")
	clientID = seedTestClient(t, database, "chat.example.com", "Teamspace")
	contextID = seedTestContext(t, database, userID, "Default", true)
	return userID, clientID, contextID
}

func TestSessionTokenRoundTrip(t *testing.T) {
	database := newTestDatabase(t)
	userID, clientID, contextID := seedTokenFixtures(t, database)

	tok := SessionToken{
		Token:     "tnp_sess_roundtrip0000000000000000000",
		UserID:    userID,
		ClientID:  clientID,
		ContextID: contextID,
		Scope:     "openid profile",
		IssuedAt:  time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	if err := database.InsertSessionToken(tok); err != nil {
		t.Fatalf("InsertSessionToken() returned error: %v", err)
	}

	got, err := database.GetSessionToken(tok.Token)
	if err != nil {
		t.Fatalf("GetSessionToken() returned error: %v", err)
	}
	if got == nil {
		t.Fatal("GetSessionToken() returned nil")
	}
	if got.UserID != userID || got.ClientID != clientID || got.ContextID != contextID {
		t.Errorf("token binding = (%s, %s, %s)", got.UserID, got.ClientID, got.ContextID)
	}
	if got.Scope != "openid profile" {
		t.Errorf("Scope = %q", got.Scope)
	}
}

func TestSessionTokenDuplicate(t *testing.T) {
	database := newTestDatabase(t)
	userID, clientID, contextID := seedTokenFixtures(t, database)

	tok := SessionToken{
		Token:     "tnp_sess_duplicate0000000000000000000",
		UserID:    userID,
		ClientID:  clientID,
		ContextID: contextID,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	if err := database.InsertSessionToken(tok); err != nil {
		t.Fatalf("InsertSessionToken() returned error: %v", err)
	}

	err := database.InsertSessionToken(tok)
	if err == nil {
		t.Fatal("expected error for duplicate token")
	}
	if !IsUniqueViolation(err) {
		t.Errorf("IsUniqueViolation(%v) = false, want true", err)
	}
}

func TestDeleteExpiredSessionTokens(t *testing.T) {
	database := newTestDatabase(t)
	userID, clientID, contextID := seedTokenFixtures(t, database)

	live := SessionToken{
		Token: "tnp_sess_live000000000000000000000000", UserID: userID,
		ClientID: clientID, ContextID: contextID,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	expired := SessionToken{
		Token: "tnp_sess_expired00000000000000000000", UserID: userID,
		ClientID: clientID, ContextID: contextID,
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	for _, tok := range []SessionToken{live, expired} {
		if err := database.InsertSessionToken(tok); err != nil {
			t.Fatalf("InsertSessionToken() returned error: %v", err)
		}
	}

	removed, err := database.DeleteExpiredSessionTokens()
	if err != nil {
		t.Fatalf("DeleteExpiredSessionTokens() returned error: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	tokens, err := database.ListSessionTokensByUser(userID)
	if err != nil {
		t.Fatalf("ListSessionTokensByUser() returned error: %v", err)
	}
	if len(tokens) != 1 || tokens[0].Token != live.Token {
		t.Errorf("ListSessionTokensByUser() = %v, want only the live token", tokens)
	}
}

func TestDeleteSessionTokenNotFound(t *testing.T) {
	database := newTestDatabase(t)

	err := database.DeleteSessionToken("missing")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("DeleteSessionToken() = %v, want sql.ErrNoRows", err)
	}
}

func TestOIDCStateConsume(t *testing.T) {
	database := newTestDatabase(t)

	expires := time.Now().Add(10 * time.Minute)
	if err := database.SaveOIDCState("state-1", "/dashboard", expires); err != nil {
		t.Fatalf("SaveOIDCState() returned error: %v", err)
	}

	redirect, _, err := database.ConsumeOIDCState("state-1")
	if err != nil {
		t.Fatalf("ConsumeOIDCState() returned error: %v", err)
	}
	if redirect != "/dashboard" {
		t.Errorf("redirect = %q", redirect)
	}

	// Consumed state must be gone.
	_, _, err = database.ConsumeOIDCState("state-1")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("second ConsumeOIDCState() = %v, want sql.ErrNoRows", err)
	}
}

func TestCleanupExpiredOIDCStates(t *testing.T) {
	database := newTestDatabase(t)

	if err := database.SaveOIDCState("stale", "/", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("SaveOIDCState() returned error: %v", err)
	}
	if err := database.CleanupExpiredOIDCStates(); err != nil {
		t.Fatalf("CleanupExpiredOIDCStates() returned error: %v", err)
	}

	_, _, err := database.ConsumeOIDCState("stale")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("ConsumeOIDCState(stale) = %v, want sql.ErrNoRows", err)
	}
}
