package testutil

import (
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/truenamepath/truename/internal/auth"
	"github.com/truenamepath/truename/internal/config"
	"github.com/truenamepath/truename/internal/db"
	"github.com/truenamepath/truename/internal/events"
	"github.com/truenamepath/truename/internal/registry"
	"github.com/truenamepath/truename/internal/resolver"
	"github.com/truenamepath/truename/internal/server"
	"github.com/truenamepath/truename/internal/tokens"
)

const (
	// TestJWTSecret is the JWT secret used for all integration tests.
	TestJWTSecret = "test-jwt-secret-for-integration-tests"
	// TestAdminUsername is the admin username seeded in every test DB.
	TestAdminUsername = "admin"
	// TestAdminPassword is the admin password seeded in every test DB.
	TestAdminPassword = "admin123"
	// TestIssuer is the issuer URL placed in resolved claims.
	TestIssuer = "https://truename.test"
)

// TestServer wraps an httptest.Server with test-specific helpers.
type TestServer struct {
	// Server is the underlying httptest.Server.
	Server *httptest.Server
	// URL is the base URL of the test server (e.g. "http://127.0.0.1:12345").
	URL string
	// AdminToken is a pre-generated admin access token.
	AdminToken string
	// DB is the test database.
	DB *db.DB
	// Tokens is the session token service.
	Tokens *tokens.Service
	// Config is the test configuration.
	Config *config.Config
}

// Option is a function that modifies the test config before server creation.
type Option func(*config.Config)

// WithSessionTokenTTL sets the session token lifetime.
func WithSessionTokenTTL(d time.Duration) Option {
	return func(c *config.Config) { c.SessionTokenTTL = d }
}

// WithRegistrationDisabled turns off self-service registration.
func WithRegistrationDisabled() Option {
	return func(c *config.Config) { c.AllowRegistration = false }
}

// NewTestServer creates a fully wired test server with:
//   - Fresh temp-file SQLite database
//   - JWT auth provider with test secret
//   - Seeded admin user (admin/admin123) with a permanent Default context
//   - Registry, resolver, token, and event services
//   - All routes registered via server.App.Handler()
//
// The server is automatically cleaned up when the test completes.
// Optional Option functions can modify the config before the server is built.
func NewTestServer(t *testing.T, opts ...Option) *TestServer {
	t.Helper()

	// Temp-file SQLite rather than ":memory:" so the sql.DB connection
	// pool sees one shared database across connections.
	dbPath := filepath.Join(t.TempDir(), "test.db")
	database, err := db.Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	cfg := &config.Config{
		Port:   0,
		Issuer: TestIssuer,

		DBType: "sqlite",
		DBPath: dbPath,

		JWTSecret:         TestJWTSecret,
		JWTAccessExpiry:   15 * time.Minute,
		JWTRefreshExpiry:  24 * time.Hour,
		AdminUsername:     TestAdminUsername,
		AdminPassword:     TestAdminPassword,
		AllowRegistration: true,

		ClientIDPrefix:   config.DefaultClientIDPrefix,
		ClientIDLength:   config.DefaultClientIDLength,
		ClientIDAttempts: config.DefaultClientIDAttempts,

		SessionTokenTTL:    config.DefaultSessionTokenTTL,
		TokenSweepInterval: config.DefaultTokenSweepInterval,
		SessionTokenLength: config.DefaultSessionTokenLength,

		// Rate limiting stays off in integration tests so loops of
		// requests do not trip 429s.
		OAuthRateLimit: 0,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	jwtAuth, err := auth.NewJWTProvider(database, cfg)
	if err != nil {
		t.Fatalf("failed to create JWT provider: %v", err)
	}

	passwordHash, err := auth.HashPassword(TestAdminPassword)
	if err != nil {
		t.Fatalf("failed to hash admin password: %v", err)
	}
	if err := database.SeedAdminUser(TestAdminUsername, passwordHash); err != nil {
		t.Fatalf("failed to seed admin user: %v", err)
	}
	if err := database.SeedDefaultContexts(); err != nil {
		t.Fatalf("failed to seed default contexts: %v", err)
	}

	tokenSvc := tokens.New(database, cfg)

	app := &server.App{
		Config:   cfg,
		DB:       database,
		JWTAuth:  jwtAuth,
		OIDCAuth: nil, // no upstream SSO in integration tests
		Registry: registry.New(database, cfg),
		Resolver: resolver.New(database, cfg.Issuer),
		Tokens:   tokenSvc,
		Events:   events.NewHub(jwtAuth),
		Archive:  nil, // enabled per-test where needed
		Limiter:  nil,
	}

	ts := httptest.NewServer(app.Handler())

	adminToken := LoginAs(t, ts.URL, TestAdminUsername, TestAdminPassword)

	t.Cleanup(func() {
		ts.Close()
		tokenSvc.Stop()
		database.Close()
	})

	return &TestServer{
		Server:     ts,
		URL:        ts.URL,
		AdminToken: adminToken,
		DB:         database,
		Tokens:     tokenSvc,
		Config:     cfg,
	}
}
