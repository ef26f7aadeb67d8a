package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// ctx returns a background context for bun queries.
func ctx() context.Context { return context.Background() }

// OIDCProperty identifies which OpenID Connect claim a name variant can serve.
type OIDCProperty string

const (
	PropertyName              OIDCProperty = "name"
	PropertyGivenName         OIDCProperty = "given_name"
	PropertyFamilyName        OIDCProperty = "family_name"
	PropertyNickname          OIDCProperty = "nickname"
	PropertyDisplayName       OIDCProperty = "display_name"
	PropertyPreferredUsername OIDCProperty = "preferred_username"
)

// ValidOIDCProperty reports whether p is one of the supported claim properties.
func ValidOIDCProperty(p OIDCProperty) bool {
	switch p {
	case PropertyName, PropertyGivenName, PropertyFamilyName,
		PropertyNickname, PropertyDisplayName, PropertyPreferredUsername:
		return true
	}
	return false
}

// User represents a dashboard user account
type User struct {
	bun.BaseModel `bun:"table:users"`

	ID             string    `json:"id" bun:"id,pk"`
	Username       string    `json:"username" bun:"username,unique,notnull"`
	Email          string    `json:"email,omitempty" bun:"email"`
	PasswordHash   string    `json:"-" bun:"password_hash"`
	Roles          []string  `json:"roles" bun:"-"`
	AuthProvider   string    `json:"auth_provider,omitempty" bun:"auth_provider"`
	AuthProviderID string    `json:"auth_provider_id,omitempty" bun:"auth_provider_id"`
	CreatedAt      time.Time `json:"created_at" bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time `json:"updated_at" bun:"updated_at,nullzero,notnull,default:current_timestamp"`

	// JSON-serialized DB columns
	RolesJSON string `json:"-" bun:"roles"`
}

// Name represents a single name variant registered by a user.
// A variant carries the text itself plus the OIDC property it can serve
// (given_name, nickname, etc.). At most one variant per user is preferred;
// the preferred variant is the fallback when a context has no assignment.
type Name struct {
	bun.BaseModel `bun:"table:names"`

	ID           string       `json:"id" bun:"id,pk"`
	UserID       string       `json:"user_id" bun:"user_id,notnull"`
	Text         string       `json:"text" bun:"text,notnull"`
	OIDCProperty OIDCProperty `json:"oidc_property" bun:"oidc_property,notnull"`
	IsPreferred  bool         `json:"is_preferred" bun:"is_preferred"`
	CreatedAt    time.Time    `json:"created_at" bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt    time.Time    `json:"updated_at" bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// Context represents a user-defined audience grouping ("Work", "Gaming").
// Every user has exactly one permanent Default context that cannot be
// deleted; it is the fallback when a client has no explicit assignment.
type Context struct {
	bun.BaseModel `bun:"table:contexts"`

	ID          string    `json:"id" bun:"id,pk"`
	UserID      string    `json:"user_id" bun:"user_id,notnull"`
	Name        string    `json:"name" bun:"name,notnull"`
	Description string    `json:"description" bun:"description"`
	IsPermanent bool      `json:"is_permanent" bun:"is_permanent"`
	CreatedAt   time.Time `json:"created_at" bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt   time.Time `json:"updated_at" bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// ContextAssignment maps one OIDC property within a context to a name variant.
type ContextAssignment struct {
	bun.BaseModel `bun:"table:context_assignments"`

	ContextID    string       `json:"context_id" bun:"context_id,pk"`
	OIDCProperty OIDCProperty `json:"oidc_property" bun:"oidc_property,pk"`
	NameID       string       `json:"name_id" bun:"name_id,notnull"`
}

// Client represents a registered OAuth-style client application.
type Client struct {
	bun.BaseModel `bun:"table:clients"`

	ClientID        string    `json:"client_id" bun:"client_id,pk"`
	PublisherDomain string    `json:"publisher_domain" bun:"publisher_domain,notnull"`
	AppName         string    `json:"app_name" bun:"app_name,notnull"`
	CreatedAt       time.Time `json:"created_at" bun:"created_at,nullzero,notnull,default:current_timestamp"`
	LastUsedAt      time.Time `json:"last_used_at,omitempty" bun:"last_used_at,nullzero"`
}

// ClientContextAssignment records which context a user exposes to a client.
type ClientContextAssignment struct {
	bun.BaseModel `bun:"table:client_context_assignments"`

	UserID    string    `json:"user_id" bun:"user_id,pk"`
	ClientID  string    `json:"client_id" bun:"client_id,pk"`
	ContextID string    `json:"context_id" bun:"context_id,notnull"`
	UpdatedAt time.Time `json:"updated_at" bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// ConsentStatus is the state of a user's consent towards a client.
type ConsentStatus string

const (
	ConsentGranted ConsentStatus = "granted"
	ConsentRevoked ConsentStatus = "revoked"
)

// Consent records whether a user has granted or revoked a client's access.
type Consent struct {
	bun.BaseModel `bun:"table:consents"`

	UserID    string        `json:"user_id" bun:"user_id,pk"`
	ClientID  string        `json:"client_id" bun:"client_id,pk"`
	Status    ConsentStatus `json:"status" bun:"status,notnull"`
	GrantedAt time.Time     `json:"granted_at" bun:"granted_at,nullzero,notnull,default:current_timestamp"`
	RevokedAt time.Time     `json:"revoked_at,omitempty" bun:"revoked_at,nullzero"`
}

// SessionToken is an opaque bearer token bound to (user, client, context).
type SessionToken struct {
	bun.BaseModel `bun:"table:session_tokens"`

	Token      string    `json:"token" bun:"token,pk"`
	UserID     string    `json:"user_id" bun:"user_id,notnull"`
	ClientID   string    `json:"client_id" bun:"client_id,notnull"`
	ContextID  string    `json:"context_id" bun:"context_id,notnull"`
	Scope      string    `json:"scope" bun:"scope"`
	IssuedAt   time.Time `json:"issued_at" bun:"issued_at,nullzero,notnull,default:current_timestamp"`
	ExpiresAt  time.Time `json:"expires_at" bun:"expires_at,notnull"`
	LastUsedAt time.Time `json:"last_used_at,omitempty" bun:"last_used_at,nullzero"`
}

// OIDCState represents an upstream-OIDC CSRF state token
type OIDCState struct {
	bun.BaseModel `bun:"table:oidc_states"`

	State       string    `bun:"state,pk"`
	RedirectURL string    `bun:"redirect_url,notnull"`
	ExpiresAt   time.Time `bun:"expires_at,notnull"`
}

// AuditLog represents an audit log entry
type AuditLog struct {
	bun.BaseModel `bun:"table:audit_log"`

	ID        int64     `json:"id" bun:"id,pk,autoincrement"`
	Timestamp time.Time `json:"timestamp" bun:"timestamp,nullzero,notnull,default:current_timestamp"`
	Actor     string    `json:"actor" bun:"actor"`
	Action    string    `json:"action" bun:"action"`
	Details   string    `json:"details" bun:"details"`
}

// DB wraps the bun.DB connection
type DB struct {
	bun    *bun.DB
	dbType string
}

// DBType returns the database type ("sqlite" or "postgres").
func (db *DB) DBType() string {
	return db.dbType
}

// Open opens a SQLite database at the given path.
// This is a convenience wrapper around OpenDB.
func Open(dbPath string) (*DB, error) {
	return OpenDB("sqlite", dbPath)
}

// OpenDB opens a database connection for the given type and DSN,
// runs any pending migrations, and returns the DB handle.
func OpenDB(dbType, dsn string) (*DB, error) {
	var driverName string
	switch dbType {
	case "sqlite":
		driverName = "sqlite"
	case "postgres":
		driverName = "postgres"
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}

	// For SQLite in-memory databases, use shared cache so that the migration
	// connection (opened separately by golang-migrate) sees the same database.
	migrateDSN := dsn
	if dbType == "sqlite" && dsn == ":memory:" {
		dsn = "file::memory:?cache=shared"
		migrateDSN = dsn
	}

	conn, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dbType == "sqlite" {
		// busy_timeout waits up to 5 seconds for locks to clear
		if _, err := conn.Exec("PRAGMA busy_timeout = 5000"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to set busy_timeout: %w", err)
		}

		// WAL mode allows concurrent reads while writing
		if _, err := conn.Exec("PRAGMA journal_mode = WAL"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}

		// Keep at least one connection open to prevent in-memory databases
		// from being destroyed when all connections close.
		conn.SetMaxIdleConns(1)
	}

	// Run all pending migrations (uses its own connection to avoid m.Close() side effects)
	if err := runMigrations(dbType, migrateDSN); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	var bunDB *bun.DB
	switch dbType {
	case "sqlite":
		bunDB = bun.NewDB(conn, sqlitedialect.New())
	case "postgres":
		bunDB = bun.NewDB(conn, pgdialect.New())
	}

	return &DB{bun: bunDB, dbType: dbType}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.bun.Close()
}

// Ping verifies the database connection is alive.
func (db *DB) Ping() error {
	return db.bun.PingContext(ctx())
}

// ExecRaw executes a raw SQL statement. Intended for tests and maintenance.
func (db *DB) ExecRaw(query string, args ...any) (sql.Result, error) {
	return db.bun.ExecContext(ctx(), query, args...)
}

// IsUniqueViolation reports whether err is a unique-constraint violation
// from either backend. SQLite (modernc) surfaces these only through the
// error text; Postgres uses SQLSTATE 23505.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// LogAudit creates an audit log entry
func (db *DB) LogAudit(actor, action, details string) error {
	entry := AuditLog{
		Actor:   actor,
		Action:  action,
		Details: details,
	}
	_, err := db.bun.NewInsert().Model(&entry).Exec(ctx())
	return err
}

// GetAuditLogs returns recent audit log entries
func (db *DB) GetAuditLogs(limit int) ([]AuditLog, error) {
	var logs []AuditLog
	err := db.bun.NewSelect().Model(&logs).
		OrderExpr("timestamp DESC").
		Limit(limit).
		Scan(ctx())
	return logs, err
}

// AuditLogFilter holds query parameters for filtering audit logs
type AuditLogFilter struct {
	Actor  string
	Action string
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

// AuditLogPage holds a page of audit log results with total count
type AuditLogPage struct {
	Logs  []AuditLog `json:"logs"`
	Total int        `json:"total"`
}

// QueryAuditLogs returns audit logs matching the given filter with pagination
func (db *DB) QueryAuditLogs(filter AuditLogFilter) (*AuditLogPage, error) {
	q := db.bun.NewSelect().Model((*AuditLog)(nil))

	if filter.Actor != "" {
		q = q.Where("actor = ?", filter.Actor)
	}
	if filter.Action != "" {
		q = q.Where("action = ?", filter.Action)
	}
	if !filter.From.IsZero() {
		q = q.Where("timestamp >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		q = q.Where("timestamp <= ?", filter.To)
	}

	total, err := q.Count(ctx())
	if err != nil {
		return nil, fmt.Errorf("failed to count audit logs: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	offset := max(filter.Offset, 0)

	var logs []AuditLog
	err = q.OrderExpr("timestamp DESC").
		Limit(limit).
		Offset(offset).
		Scan(ctx(), &logs)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}

	return &AuditLogPage{Logs: logs, Total: total}, nil
}

// GetAuditLogActions returns all distinct action values in the audit log
func (db *DB) GetAuditLogActions() ([]string, error) {
	var actions []string
	err := db.bun.NewSelect().Model((*AuditLog)(nil)).
		ColumnExpr("DISTINCT action").
		OrderExpr("action").
		Scan(ctx(), &actions)
	return actions, err
}

// GetAuditLogActors returns all distinct actor values in the audit log
func (db *DB) GetAuditLogActors() ([]string, error) {
	var actors []string
	err := db.bun.NewSelect().Model((*AuditLog)(nil)).
		ColumnExpr("DISTINCT actor").
		OrderExpr("actor").
		Scan(ctx(), &actors)
	return actors, err
}
