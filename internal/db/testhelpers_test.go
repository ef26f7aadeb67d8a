package db

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
)

// testDBType returns the configured test database type (default: "sqlite").
func testDBType() string {
	if v := os.Getenv("TRUENAME_TEST_DB_TYPE"); v != "" {
		return v
	}
	return "sqlite"
}

// newTestDatabase creates a test database for the db package's own tests.
func newTestDatabase(t *testing.T) *DB {
	t.Helper()

	dbType := testDBType()

	switch dbType {
	case "sqlite":
		dbPath := filepath.Join(t.TempDir(), "test.db")
		database, err := OpenDB("sqlite", dbPath)
		if err != nil {
			t.Fatalf("failed to open SQLite test database: %v", err)
		}
		t.Cleanup(func() { database.Close() })
		return database

	case "postgres":
		dsn := os.Getenv("TRUENAME_TEST_POSTGRES_DSN")
		if dsn == "" {
			t.Skip("TRUENAME_TEST_POSTGRES_DSN not set; skipping Postgres test")
		}
		database, err := OpenDB("postgres", dsn)
		if err != nil {
			t.Fatalf("failed to open Postgres test database: %v", err)
		}
		t.Cleanup(func() { database.Close() })
		truncateAllTables(t, database)
		return database

	default:
		t.Fatalf("unsupported TRUENAME_TEST_DB_TYPE: %s", dbType)
		return nil
	}
}

// truncateAllTables removes all data from Postgres tables.
// Used before each test to ensure a clean state.
func truncateAllTables(t *testing.T, database *DB) {
	t.Helper()

	tables := []string{
		"session_tokens", "consents", "client_context_assignments",
		"context_assignments", "clients", "contexts", "names",
		"oidc_states", "audit_log", "users",
	}

	for _, table := range tables {
		if _, err := database.ExecRaw("TRUNCATE TABLE " + table + " CASCADE"); err != nil {
			t.Fatalf("failed to truncate %s: %v", table, err)
		}
	}
}

// seedTestUser inserts a user and returns its ID.
func seedTestUser(t *testing.T, database *DB, username string) string {
	t.Helper()

	id := uuid.New().String()
	err := database.CreateUser(User{
		ID:        id,
		Username:  username,
		Roles:     []string{"user"},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("failed to seed user %s: %v", username, err)
	}
	return id
}

// seedTestName inserts a name variant and returns its ID.
func seedTestName(t *testing.T, database *DB, userID, text string, property OIDCProperty, preferred bool) string {
	t.Helper()

	id := uuid.New().String()
	err := database.CreateName(Name{
		ID:           id,
		UserID:       userID,
		Text:         text,
		OIDCProperty: property,
		IsPreferred:  preferred,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	})
	if err != nil {
		t.Fatalf("failed to seed name %q: %v", text, err)
	}
	return id
}

// seedTestContext inserts a context and returns its ID.
func seedTestContext(t *testing.T, database *DB, userID, name string, permanent bool) string {
	t.Helper()

	id := uuid.New().String()
	err := database.CreateContext(Context{
		ID:          id,
		UserID:      userID,
		Name:        name,
		IsPermanent: permanent,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	})
	if err != nil {
		t.Fatalf("failed to seed context %q: %v", name, err)
	}
	return id
}

// seedTestClient inserts a client registry row and returns its client ID.
func seedTestClient(t *testing.T, database *DB, domain, app string) string {
	t.Helper()

	clientID := "tnp_" + uuid.New().String()[:16]
	err := database.CreateClient(Client{
		ClientID:        clientID,
		PublisherDomain: domain,
		AppName:         app,
		CreatedAt:       time.Now(),
	})
	if err != nil {
		t.Fatalf("failed to seed client %s/%s: %v", domain, app, err)
	}
	return clientID
}
