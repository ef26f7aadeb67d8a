// Package config provides centralized configuration management for TrueNamePath.
// Configuration is loaded from environment variables with sensible defaults.
// Required configuration that is missing will cause the application to fail fast
// with helpful error messages.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server configuration
	Port   int
	Issuer string // Issuer URL placed in resolved claims (e.g. "https://truename.example")

	// Database configuration
	DBType     string // "sqlite" (default) or "postgres"
	DBPath     string // SQLite file path (when DBType="sqlite")
	DBDSN      string // Full PostgreSQL DSN (takes precedence over individual params)
	DBHost     string // PostgreSQL host
	DBPort     int    // PostgreSQL port (default: 5432)
	DBName     string // PostgreSQL database name
	DBUser     string // PostgreSQL user
	DBPassword string // PostgreSQL password
	DBSSLMode  string // PostgreSQL SSL mode (default: "disable")

	// JWT authentication configuration (dashboard users)
	JWTSecret         string
	JWTAccessExpiry   time.Duration
	JWTRefreshExpiry  time.Duration
	AdminUsername     string
	AdminPassword     string
	AllowRegistration bool

	// Upstream OIDC/SSO configuration (dashboard sign-in)
	OIDCIssuer       string
	OIDCClientID     string
	OIDCClientSecret string
	OIDCRedirectURL  string
	OIDCScopes       string

	// Client registry configuration
	ClientIDPrefix   string // Prefix for issued client identifiers
	ClientIDLength   int    // Random suffix length
	ClientIDAttempts int    // Max insert attempts on collision

	// Session token configuration
	SessionTokenTTL     time.Duration // Lifetime of issued session tokens
	TokenSweepInterval  time.Duration // How often expired tokens are purged
	SessionTokenLength  int           // Random suffix length of session tokens

	// OAuth endpoint rate limiting
	OAuthRateLimit float64 // Requests per second per IP (0 = disabled)
	OAuthBurst     int     // Maximum burst size for rate limiter

	// Audit archive configuration
	ArchiveBackend         string // "local" or "s3"
	ArchivePath            string // Local directory for audit snapshots
	ArchiveS3Bucket        string // S3 bucket name
	ArchiveS3Region        string // AWS region
	ArchiveS3Endpoint      string // Custom endpoint for MinIO/self-hosted S3
	ArchiveS3Prefix        string // Key prefix within bucket
	ArchiveS3AccessKey     string // Explicit AWS access key ID (optional)
	ArchiveS3SecretKey     string // Explicit AWS secret access key (optional)
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors holds multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("configuration errors:\n  - %s", strings.Join(msgs, "\n  - "))
}

// Default values
const (
	DefaultPort               = 8080
	DefaultIssuer             = "https://truenamepath.local"
	DefaultDBType             = "sqlite"
	DefaultDBPath             = "truename.db"
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "disable"
	DefaultJWTAccessExpiry    = 15 * time.Minute
	DefaultJWTRefreshExpiry   = 24 * time.Hour
	DefaultAdminUsername      = "admin"
	DefaultClientIDPrefix     = "tnp_"
	DefaultClientIDLength     = 16
	DefaultClientIDAttempts   = 3
	DefaultSessionTokenTTL    = 2 * time.Hour
	DefaultTokenSweepInterval = 5 * time.Minute
	DefaultSessionTokenLength = 32
	DefaultOAuthRateLimit     = float64(10) // 10 requests/sec per IP
	DefaultOAuthBurst         = 20          // burst of 20
	DefaultArchiveBackend     = "local"
	DefaultArchivePath        = "/data/audit-archive"
	DefaultArchiveS3Region    = "us-east-1"
	DefaultArchiveS3Prefix    = "audit/"
)

// Load reads configuration from environment variables and returns a Config.
// It applies defaults for optional values and validates the configuration.
// Returns an error if validation fails.
func Load() (*Config, error) {
	cfg := &Config{
		Port:   DefaultPort,
		Issuer: DefaultIssuer,

		DBType:    DefaultDBType,
		DBPath:    DefaultDBPath,
		DBPort:    DefaultDBPort,
		DBSSLMode: DefaultDBSSLMode,

		JWTAccessExpiry:  DefaultJWTAccessExpiry,
		JWTRefreshExpiry: DefaultJWTRefreshExpiry,
		AdminUsername:    DefaultAdminUsername,

		ClientIDPrefix:   DefaultClientIDPrefix,
		ClientIDLength:   DefaultClientIDLength,
		ClientIDAttempts: DefaultClientIDAttempts,

		SessionTokenTTL:    DefaultSessionTokenTTL,
		TokenSweepInterval: DefaultTokenSweepInterval,
		SessionTokenLength: DefaultSessionTokenLength,

		OAuthRateLimit: DefaultOAuthRateLimit,
		OAuthBurst:     DefaultOAuthBurst,

		ArchiveBackend:  DefaultArchiveBackend,
		ArchivePath:     DefaultArchivePath,
		ArchiveS3Region: DefaultArchiveS3Region,
		ArchiveS3Prefix: DefaultArchiveS3Prefix,
	}

	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errs
	}

	return cfg, nil
}

// loadFromEnv populates the config from environment variables.
func (c *Config) loadFromEnv() error {
	var parseErrors ValidationErrors

	if v := os.Getenv("TRUENAME_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "TRUENAME_PORT",
				Message: fmt.Sprintf("invalid port number: %q (must be an integer)", v),
			})
		} else {
			c.Port = port
		}
	}

	if v := os.Getenv("TRUENAME_ISSUER"); v != "" {
		c.Issuer = v
	}

	// Database configuration
	if v := os.Getenv("TRUENAME_DB_TYPE"); v != "" {
		c.DBType = v
	}
	if v := os.Getenv("TRUENAME_DB"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("TRUENAME_DB_DSN"); v != "" {
		c.DBDSN = v
	}
	if v := os.Getenv("TRUENAME_DB_HOST"); v != "" {
		c.DBHost = v
	}
	if v := os.Getenv("TRUENAME_DB_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "TRUENAME_DB_PORT",
				Message: fmt.Sprintf("invalid port number: %q (must be an integer)", v),
			})
		} else {
			c.DBPort = port
		}
	}
	if v := os.Getenv("TRUENAME_DB_NAME"); v != "" {
		c.DBName = v
	}
	if v := os.Getenv("TRUENAME_DB_USER"); v != "" {
		c.DBUser = v
	}
	if v := os.Getenv("TRUENAME_DB_PASSWORD"); v != "" {
		c.DBPassword = v
	}
	if v := os.Getenv("TRUENAME_DB_SSLMODE"); v != "" {
		c.DBSSLMode = v
	}

	// JWT configuration
	if v := os.Getenv("TRUENAME_JWT_SECRET"); v != "" {
		c.JWTSecret = v
	}

	if v := os.Getenv("TRUENAME_JWT_ACCESS_EXPIRY"); v != "" {
		minutes, err := strconv.Atoi(v)
		if err != nil {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "TRUENAME_JWT_ACCESS_EXPIRY",
				Message: fmt.Sprintf("invalid expiry: %q (must be an integer representing minutes)", v),
			})
		} else if minutes <= 0 {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "TRUENAME_JWT_ACCESS_EXPIRY",
				Message: fmt.Sprintf("expiry must be positive: %d", minutes),
			})
		} else {
			c.JWTAccessExpiry = time.Duration(minutes) * time.Minute
		}
	}

	if v := os.Getenv("TRUENAME_JWT_REFRESH_EXPIRY"); v != "" {
		hours, err := strconv.Atoi(v)
		if err != nil {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "TRUENAME_JWT_REFRESH_EXPIRY",
				Message: fmt.Sprintf("invalid expiry: %q (must be an integer representing hours)", v),
			})
		} else if hours <= 0 {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "TRUENAME_JWT_REFRESH_EXPIRY",
				Message: fmt.Sprintf("expiry must be positive: %d", hours),
			})
		} else {
			c.JWTRefreshExpiry = time.Duration(hours) * time.Hour
		}
	}

	if v := os.Getenv("TRUENAME_ADMIN_USERNAME"); v != "" {
		c.AdminUsername = v
	}

	if v := os.Getenv("TRUENAME_ADMIN_PASSWORD"); v != "" {
		c.AdminPassword = v
	}

	if v := os.Getenv("TRUENAME_ALLOW_REGISTRATION"); v != "" {
		c.AllowRegistration = strings.EqualFold(v, "true") || v == "1"
	}

	// Upstream OIDC/SSO configuration
	if v := os.Getenv("TRUENAME_OIDC_ISSUER"); v != "" {
		c.OIDCIssuer = v
	}
	if v := os.Getenv("TRUENAME_OIDC_CLIENT_ID"); v != "" {
		c.OIDCClientID = v
	}
	if v := os.Getenv("TRUENAME_OIDC_CLIENT_SECRET"); v != "" {
		c.OIDCClientSecret = v
	}
	if v := os.Getenv("TRUENAME_OIDC_REDIRECT_URL"); v != "" {
		c.OIDCRedirectURL = v
	}
	if v := os.Getenv("TRUENAME_OIDC_SCOPES"); v != "" {
		c.OIDCScopes = v
	}

	// Client registry configuration
	if v := os.Getenv("TRUENAME_CLIENT_ID_PREFIX"); v != "" {
		c.ClientIDPrefix = v
	}

	if v := os.Getenv("TRUENAME_CLIENT_ID_LENGTH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "TRUENAME_CLIENT_ID_LENGTH",
				Message: fmt.Sprintf("invalid value: %q (must be an integer)", v),
			})
		} else if n < 8 {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "TRUENAME_CLIENT_ID_LENGTH",
				Message: fmt.Sprintf("length must be at least 8: %d", n),
			})
		} else {
			c.ClientIDLength = n
		}
	}

	if v := os.Getenv("TRUENAME_CLIENT_ID_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "TRUENAME_CLIENT_ID_ATTEMPTS",
				Message: fmt.Sprintf("invalid value: %q (must be an integer)", v),
			})
		} else if n < 1 {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "TRUENAME_CLIENT_ID_ATTEMPTS",
				Message: fmt.Sprintf("attempts must be positive: %d", n),
			})
		} else {
			c.ClientIDAttempts = n
		}
	}

	// Session token configuration
	if v := os.Getenv("TRUENAME_SESSION_TOKEN_TTL"); v != "" {
		minutes, err := strconv.Atoi(v)
		if err != nil {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "TRUENAME_SESSION_TOKEN_TTL",
				Message: fmt.Sprintf("invalid TTL: %q (must be an integer representing minutes)", v),
			})
		} else if minutes <= 0 {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "TRUENAME_SESSION_TOKEN_TTL",
				Message: fmt.Sprintf("TTL must be positive: %d", minutes),
			})
		} else {
			c.SessionTokenTTL = time.Duration(minutes) * time.Minute
		}
	}

	if v := os.Getenv("TRUENAME_TOKEN_SWEEP_INTERVAL"); v != "" {
		minutes, err := strconv.Atoi(v)
		if err != nil {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "TRUENAME_TOKEN_SWEEP_INTERVAL",
				Message: fmt.Sprintf("invalid interval: %q (must be an integer representing minutes)", v),
			})
		} else if minutes <= 0 {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "TRUENAME_TOKEN_SWEEP_INTERVAL",
				Message: fmt.Sprintf("interval must be positive: %d", minutes),
			})
		} else {
			c.TokenSweepInterval = time.Duration(minutes) * time.Minute
		}
	}

	// OAuth rate limiting
	if v := os.Getenv("TRUENAME_OAUTH_RATE_LIMIT"); v != "" {
		rl, err := strconv.ParseFloat(v, 64)
		if err != nil {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "TRUENAME_OAUTH_RATE_LIMIT",
				Message: fmt.Sprintf("invalid rate: %q (must be a number)", v),
			})
		} else if rl < 0 {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "TRUENAME_OAUTH_RATE_LIMIT",
				Message: fmt.Sprintf("rate must be non-negative: %v", rl),
			})
		} else {
			c.OAuthRateLimit = rl
		}
	}

	if v := os.Getenv("TRUENAME_OAUTH_BURST"); v != "" {
		b, err := strconv.Atoi(v)
		if err != nil {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "TRUENAME_OAUTH_BURST",
				Message: fmt.Sprintf("invalid burst: %q (must be an integer)", v),
			})
		} else if b < 1 {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "TRUENAME_OAUTH_BURST",
				Message: fmt.Sprintf("burst must be positive: %d", b),
			})
		} else {
			c.OAuthBurst = b
		}
	}

	// Audit archive configuration
	if v := os.Getenv("TRUENAME_ARCHIVE_BACKEND"); v != "" {
		c.ArchiveBackend = v
	}
	if v := os.Getenv("TRUENAME_ARCHIVE_PATH"); v != "" {
		c.ArchivePath = v
	}
	if v := os.Getenv("TRUENAME_ARCHIVE_S3_BUCKET"); v != "" {
		c.ArchiveS3Bucket = v
	}
	if v := os.Getenv("TRUENAME_ARCHIVE_S3_REGION"); v != "" {
		c.ArchiveS3Region = v
	}
	if v := os.Getenv("TRUENAME_ARCHIVE_S3_ENDPOINT"); v != "" {
		c.ArchiveS3Endpoint = v
	}
	if v := os.Getenv("TRUENAME_ARCHIVE_S3_PREFIX"); v != "" {
		c.ArchiveS3Prefix = v
	}
	if v := os.Getenv("TRUENAME_ARCHIVE_S3_ACCESS_KEY_ID"); v != "" {
		c.ArchiveS3AccessKey = v
	}
	if v := os.Getenv("TRUENAME_ARCHIVE_S3_SECRET_ACCESS_KEY"); v != "" {
		c.ArchiveS3SecretKey = v
	}

	if len(parseErrors) > 0 {
		return parseErrors
	}
	return nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "TRUENAME_PORT",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", c.Port),
		})
	}

	switch c.DBType {
	case "sqlite":
		if c.DBPath == "" {
			errs = append(errs, ValidationError{
				Field:   "TRUENAME_DB",
				Message: "database path cannot be empty",
			})
		}
	case "postgres":
		if c.DBDSN == "" && (c.DBHost == "" || c.DBName == "" || c.DBUser == "") {
			errs = append(errs, ValidationError{
				Field:   "TRUENAME_DB_DSN",
				Message: "PostgreSQL requires either TRUENAME_DB_DSN or all of TRUENAME_DB_HOST, TRUENAME_DB_NAME, and TRUENAME_DB_USER",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "TRUENAME_DB_TYPE",
			Message: fmt.Sprintf("unsupported database type: %q (must be \"sqlite\" or \"postgres\")", c.DBType),
		})
	}

	if c.ClientIDPrefix == "" {
		errs = append(errs, ValidationError{
			Field:   "TRUENAME_CLIENT_ID_PREFIX",
			Message: "client ID prefix cannot be empty",
		})
	}

	switch c.ArchiveBackend {
	case "local", "s3":
	default:
		errs = append(errs, ValidationError{
			Field:   "TRUENAME_ARCHIVE_BACKEND",
			Message: fmt.Sprintf("unsupported archive backend: %q (must be \"local\" or \"s3\")", c.ArchiveBackend),
		})
	}

	if c.ArchiveBackend == "s3" && c.ArchiveS3Bucket == "" {
		errs = append(errs, ValidationError{
			Field:   "TRUENAME_ARCHIVE_S3_BUCKET",
			Message: "S3 bucket is required when archive backend is \"s3\"",
		})
	}

	// If one S3 credential is set, both must be set
	if (c.ArchiveS3AccessKey != "") != (c.ArchiveS3SecretKey != "") {
		errs = append(errs, ValidationError{
			Field:   "TRUENAME_ARCHIVE_S3_ACCESS_KEY_ID / TRUENAME_ARCHIVE_S3_SECRET_ACCESS_KEY",
			Message: "both S3 access key ID and secret access key must be set together",
		})
	}

	return errs
}

// DSN returns the database connection string based on the configured database type.
// For SQLite, it returns the file path. For PostgreSQL, it constructs a DSN from
// individual parameters or returns the explicit DSN if set.
func (c *Config) DSN() string {
	switch c.DBType {
	case "postgres":
		if c.DBDSN != "" {
			return c.DBDSN
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
	default:
		return c.DBPath
	}
}

// IsSQLite returns true if the configured database type is SQLite.
func (c *Config) IsSQLite() bool {
	return c.DBType == "" || c.DBType == "sqlite"
}

// IsPostgres returns true if the configured database type is PostgreSQL.
func (c *Config) IsPostgres() bool {
	return c.DBType == "postgres"
}

// OIDCEnabled returns true if upstream OIDC/SSO sign-in is configured with the
// minimum required fields.
func (c *Config) OIDCEnabled() bool {
	return c.OIDCIssuer != "" && c.OIDCClientID != "" && c.OIDCClientSecret != ""
}

// MustLoad loads configuration and panics if it fails.
// Use this for application startup where configuration errors are fatal.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: failed to load configuration\n\n%s\n\nSee .env.example for configuration options.\n", err)
		os.Exit(1)
	}
	return cfg
}

// LoadWithFlags loads configuration from environment variables,
// then applies command-line flag overrides.
func LoadWithFlags(port int, dbPath string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	if port != 0 && port != DefaultPort {
		cfg.Port = port
	}
	if dbPath != "" && dbPath != DefaultDBPath {
		cfg.DBPath = dbPath
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errs
	}

	return cfg, nil
}
