// Package registry issues OAuth-style client identifiers to requesting
// applications. A client is identified by its (publisher domain, app name)
// pair; the first registration mints a random client ID, later registrations
// return the existing one.
package registry

import (
	"crypto/rand"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/truenamepath/truename/internal/config"
	"github.com/truenamepath/truename/internal/db"
)

var (
	// ErrInvalidDomain is returned when the publisher domain is not a
	// plain hostname.
	ErrInvalidDomain = errors.New("invalid publisher domain")

	// ErrInvalidAppName is returned when the app name is empty or too long.
	ErrInvalidAppName = errors.New("invalid app name")

	// ErrIDExhausted is returned when every issuance attempt collided with
	// an existing client ID.
	ErrIDExhausted = errors.New("client ID space exhausted after maximum attempts")
)

// Alphabet for the random portion of issued client IDs. Alphanumerics only so
// the ID survives URL parameters and log greps without escaping.
const idAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

const maxAppNameLength = 100

// hostnamePattern matches bare hostnames: labels of letters, digits, and
// hyphens joined by dots. No scheme, no port, no path.
var hostnamePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)+$`)

// Service implements client registration and lookup against the database.
type Service struct {
	db          *db.DB
	prefix      string
	idLength    int
	maxAttempts int
}

// New creates a registry service using the configured ID issuance parameters.
func New(database *db.DB, cfg *config.Config) *Service {
	return &Service{
		db:          database,
		prefix:      cfg.ClientIDPrefix,
		idLength:    cfg.ClientIDLength,
		maxAttempts: cfg.ClientIDAttempts,
	}
}

// Register looks up or creates the client for (publisherDomain, appName).
// The returned bool reports whether a new client was created. Domain matching
// is case-insensitive; domains are stored lowercased.
func (s *Service) Register(publisherDomain, appName string) (*db.Client, bool, error) {
	publisherDomain = strings.ToLower(strings.TrimSpace(publisherDomain))
	appName = strings.TrimSpace(appName)

	if !hostnamePattern.MatchString(publisherDomain) {
		return nil, false, fmt.Errorf("%w: %q", ErrInvalidDomain, publisherDomain)
	}
	if appName == "" || len(appName) > maxAppNameLength {
		return nil, false, ErrInvalidAppName
	}

	existing, err := s.db.GetClientByApp(publisherDomain, appName)
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up client: %w", err)
	}
	if existing != nil {
		return existing, false, nil
	}

	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		client := db.Client{
			ClientID:        s.generateClientID(),
			PublisherDomain: publisherDomain,
			AppName:         appName,
			CreatedAt:       time.Now(),
		}

		err := s.db.CreateClient(client)
		if err == nil {
			return &client, true, nil
		}
		if !db.IsUniqueViolation(err) {
			return nil, false, fmt.Errorf("failed to register client: %w", err)
		}

		// The violation may be on (publisher_domain, app_name) if a
		// concurrent registration won the race. In that case the row we
		// wanted already exists.
		existing, lookupErr := s.db.GetClientByApp(publisherDomain, appName)
		if lookupErr != nil {
			return nil, false, fmt.Errorf("failed to look up client after collision: %w", lookupErr)
		}
		if existing != nil {
			return existing, false, nil
		}
		// Otherwise the generated client_id collided; try a fresh one.
	}

	return nil, false, ErrIDExhausted
}

// Lookup returns the client for an issued identifier, or nil if unknown.
func (s *Service) Lookup(clientID string) (*db.Client, error) {
	return s.db.GetClient(clientID)
}

// Touch records that the client was just used for a resolution.
func (s *Service) Touch(clientID string) error {
	return s.db.TouchClient(clientID)
}

// generateClientID builds prefix + idLength random alphanumeric characters.
func (s *Service) generateClientID() string {
	buf := make([]byte, s.idLength)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the platform entropy source is
		// broken; nothing sensible to do but stop.
		panic(fmt.Sprintf("failed to read random bytes: %v", err))
	}
	for i, b := range buf {
		buf[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return s.prefix + string(buf)
}
