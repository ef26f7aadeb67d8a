package tokens

import (
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/truenamepath/truename/internal/config"
	"github.com/truenamepath/truename/internal/db"
)

func newTestService(t *testing.T, ttl time.Duration) (*Service, *db.DB) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	database, err := db.OpenDB("sqlite", dbPath)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cfg := &config.Config{
		SessionTokenTTL:    ttl,
		SessionTokenLength: config.DefaultSessionTokenLength,
		TokenSweepInterval: config.DefaultTokenSweepInterval,
	}
	svc := New(database, cfg)
	t.Cleanup(svc.Stop)
	return svc, database
}

func seedBinding(t *testing.T, database *db.DB) (userID, clientID, contextID string) {
	t.Helper()

	userID = uuid.New().String()
	if err := database.CreateUser(db.User{ID: userID, Username: "sol", Roles: []string{"user"}}); err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	contextID = uuid.New().String()
	if err := database.CreateContext(db.Context{ID: contextID, UserID: userID, Name: "Default", IsPermanent: true}); err != nil {
		t.Fatalf("failed to seed context: %v", err)
	}
	clientID = "tnp_testclient000000"
	if err := database.CreateClient(db.Client{ClientID: clientID, PublisherDomain: "chat.example.com", AppName: "Teamspace"}); err != nil {
		t.Fatalf("failed to seed client: %v", err)
	}
	return userID, clientID, contextID
}

func TestIssueFormatsToken(t *testing.T) {
	svc, database := newTestService(t, time.Hour)
	userID, clientID, contextID := seedBinding(t, database)

	token, err := svc.Issue(userID, clientID, contextID, "openid profile")
	if err != nil {
		t.Fatalf("Issue() returned error: %v", err)
	}

	pattern := regexp.MustCompile(`^tnp_sess_[a-zA-Z0-9]{32}$`)
	if !pattern.MatchString(token.Token) {
		t.Errorf("Token = %q, want tnp_sess_ + 32 alphanumerics", token.Token)
	}
	if token.UserID != userID || token.ClientID != clientID || token.ContextID != contextID {
		t.Errorf("binding = (%s, %s, %s)", token.UserID, token.ClientID, token.ContextID)
	}
	if got := token.ExpiresAt.Sub(token.IssuedAt); got != time.Hour {
		t.Errorf("TTL = %v, want 1h", got)
	}
}

func TestIssueWritesThrough(t *testing.T) {
	svc, database := newTestService(t, time.Hour)
	userID, clientID, contextID := seedBinding(t, database)

	token, err := svc.Issue(userID, clientID, contextID, "openid")
	if err != nil {
		t.Fatalf("Issue() returned error: %v", err)
	}

	// The token must be in the store, not only the cache.
	stored, err := database.GetSessionToken(token.Token)
	if err != nil {
		t.Fatalf("GetSessionToken() returned error: %v", err)
	}
	if stored == nil {
		t.Fatal("issued token missing from the store")
	}
	if stored.Scope != "openid" {
		t.Errorf("stored scope = %q", stored.Scope)
	}
}

func TestValidateCacheHitAndMiss(t *testing.T) {
	svc, database := newTestService(t, time.Hour)
	userID, clientID, contextID := seedBinding(t, database)

	token, err := svc.Issue(userID, clientID, contextID, "openid")
	if err != nil {
		t.Fatalf("Issue() returned error: %v", err)
	}

	got, err := svc.Validate(token.Token)
	if err != nil {
		t.Fatalf("Validate() returned error: %v", err)
	}
	if got.UserID != userID {
		t.Errorf("UserID = %q", got.UserID)
	}

	// A fresh service shares the store but not the cache: validation must
	// still succeed via the store fallback.
	cold := New(database, &config.Config{
		SessionTokenTTL:    time.Hour,
		SessionTokenLength: config.DefaultSessionTokenLength,
		TokenSweepInterval: config.DefaultTokenSweepInterval,
	})
	t.Cleanup(cold.Stop)

	got, err = cold.Validate(token.Token)
	if err != nil {
		t.Fatalf("cold Validate() returned error: %v", err)
	}
	if got.ContextID != contextID {
		t.Errorf("ContextID = %q", got.ContextID)
	}
}

func TestValidateUnknownToken(t *testing.T) {
	svc, _ := newTestService(t, time.Hour)

	_, err := svc.Validate("tnp_sess_never_issued")
	if !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("Validate() = %v, want ErrTokenNotFound", err)
	}
}

func TestValidateExpiredToken(t *testing.T) {
	svc, database := newTestService(t, -time.Minute)
	userID, clientID, contextID := seedBinding(t, database)

	token, err := svc.Issue(userID, clientID, contextID, "openid")
	if err != nil {
		t.Fatalf("Issue() returned error: %v", err)
	}

	// Cache hit path.
	if _, err := svc.Validate(token.Token); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("cached Validate() = %v, want ErrTokenExpired", err)
	}
	// The expired entry was evicted; the store path must agree.
	if _, err := svc.Validate(token.Token); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("store Validate() = %v, want ErrTokenExpired", err)
	}
}

func TestRevoke(t *testing.T) {
	svc, database := newTestService(t, time.Hour)
	userID, clientID, contextID := seedBinding(t, database)

	token, err := svc.Issue(userID, clientID, contextID, "openid")
	if err != nil {
		t.Fatalf("Issue() returned error: %v", err)
	}

	if err := svc.Revoke(token.Token); err != nil {
		t.Fatalf("Revoke() returned error: %v", err)
	}

	if _, err := svc.Validate(token.Token); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("Validate() after revoke = %v, want ErrTokenNotFound", err)
	}
	stored, err := database.GetSessionToken(token.Token)
	if err != nil {
		t.Fatalf("GetSessionToken() returned error: %v", err)
	}
	if stored != nil {
		t.Error("revoked token still present in the store")
	}
}

func TestRevokeEvictsCacheOnStoreMiss(t *testing.T) {
	svc, database := newTestService(t, time.Hour)
	userID, clientID, contextID := seedBinding(t, database)

	token, err := svc.Issue(userID, clientID, contextID, "openid")
	if err != nil {
		t.Fatalf("Issue() returned error: %v", err)
	}

	// Remove the row behind the service's back so only the cache knows it.
	if err := database.DeleteSessionToken(token.Token); err != nil {
		t.Fatalf("DeleteSessionToken() returned error: %v", err)
	}

	if err := svc.Revoke(token.Token); err == nil {
		t.Error("Revoke() of a missing row returned nil error")
	}

	if _, err := svc.Validate(token.Token); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("Validate() after revoke = %v, want ErrTokenNotFound", err)
	}
}

func TestRevokeAllForUser(t *testing.T) {
	svc, database := newTestService(t, time.Hour)
	userID, clientID, contextID := seedBinding(t, database)

	for range 3 {
		if _, err := svc.Issue(userID, clientID, contextID, "openid"); err != nil {
			t.Fatalf("Issue() returned error: %v", err)
		}
	}

	revoked, err := svc.RevokeAllForUser(userID)
	if err != nil {
		t.Fatalf("RevokeAllForUser() returned error: %v", err)
	}
	if revoked != 3 {
		t.Errorf("revoked = %d, want 3", revoked)
	}

	left, err := svc.ListActive(userID)
	if err != nil {
		t.Fatalf("ListActive() returned error: %v", err)
	}
	if len(left) != 0 {
		t.Errorf("ListActive() returned %d tokens, want 0", len(left))
	}
}

func TestSweepPurgesExpired(t *testing.T) {
	svc, database := newTestService(t, -time.Minute)
	userID, clientID, contextID := seedBinding(t, database)

	token, err := svc.Issue(userID, clientID, contextID, "openid")
	if err != nil {
		t.Fatalf("Issue() returned error: %v", err)
	}

	if err := svc.Sweep(); err != nil {
		t.Fatalf("Sweep() returned error: %v", err)
	}

	stored, err := database.GetSessionToken(token.Token)
	if err != nil {
		t.Fatalf("GetSessionToken() returned error: %v", err)
	}
	if stored != nil {
		t.Error("expired token survived the sweep")
	}

	svc.mu.RLock()
	_, cached := svc.cache[token.Token]
	svc.mu.RUnlock()
	if cached {
		t.Error("expired token survived in the cache")
	}
}
