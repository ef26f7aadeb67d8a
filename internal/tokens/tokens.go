// Package tokens issues and validates the opaque session tokens that OAuth
// clients present on /oauth/resolve. Tokens live in the database; an
// in-memory cache fronts it so validation on the hot path rarely touches the
// store. Every write goes through to the database before the cache is
// updated, so the two never diverge.
package tokens

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/truenamepath/truename/internal/config"
	"github.com/truenamepath/truename/internal/db"
)

// TokenPrefix marks issued session tokens. Keeping it distinct from the
// client-ID prefix means a leaked value in a log is immediately identifiable.
const TokenPrefix = "tnp_sess_"

const tokenAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// maxIssueAttempts bounds the collision retry loop. At 32 random characters a
// collision is astronomically unlikely; the bound exists so a miswired store
// cannot spin forever.
const maxIssueAttempts = 3

var (
	// ErrTokenNotFound is returned when a presented token was never issued
	// or has been revoked.
	ErrTokenNotFound = errors.New("session token not found")

	// ErrTokenExpired is returned when a presented token is past its TTL.
	ErrTokenExpired = errors.New("session token expired")

	// ErrTokenExhausted is returned when every issuance attempt collided.
	ErrTokenExhausted = errors.New("token generation exhausted after maximum attempts")
)

// Service issues, validates, and revokes session tokens.
type Service struct {
	db            *db.DB
	ttl           time.Duration
	length        int
	sweepInterval time.Duration

	mu    sync.RWMutex
	cache map[string]db.SessionToken

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a token service. Call StartSweeper to begin background expiry.
func New(database *db.DB, cfg *config.Config) *Service {
	return &Service{
		db:            database,
		ttl:           cfg.SessionTokenTTL,
		length:        cfg.SessionTokenLength,
		sweepInterval: cfg.TokenSweepInterval,
		cache:         make(map[string]db.SessionToken),
		done:          make(chan struct{}),
	}
}

// Issue mints a session token binding (user, client, context) with the
// requested scope. The token is persisted first and cached second.
func (s *Service) Issue(userID, clientID, contextID, scope string) (*db.SessionToken, error) {
	now := time.Now()

	for attempt := 0; attempt < maxIssueAttempts; attempt++ {
		token := db.SessionToken{
			Token:     s.generateToken(),
			UserID:    userID,
			ClientID:  clientID,
			ContextID: contextID,
			Scope:     scope,
			IssuedAt:  now,
			ExpiresAt: now.Add(s.ttl),
		}

		err := s.db.InsertSessionToken(token)
		if err == nil {
			s.mu.Lock()
			s.cache[token.Token] = token
			s.mu.Unlock()
			return &token, nil
		}
		if !db.IsUniqueViolation(err) {
			return nil, fmt.Errorf("failed to store session token: %w", err)
		}
	}

	return nil, ErrTokenExhausted
}

// Validate checks a presented token and returns its binding. The cache is
// consulted first; a miss falls back to the store and repopulates the cache.
func (s *Service) Validate(token string) (*db.SessionToken, error) {
	s.mu.RLock()
	cached, ok := s.cache[token]
	s.mu.RUnlock()

	if ok {
		if time.Now().After(cached.ExpiresAt) {
			s.evict(token)
			return nil, ErrTokenExpired
		}
		s.touch(token)
		return &cached, nil
	}

	stored, err := s.db.GetSessionToken(token)
	if err != nil {
		return nil, fmt.Errorf("failed to load session token: %w", err)
	}
	if stored == nil {
		return nil, ErrTokenNotFound
	}
	if time.Now().After(stored.ExpiresAt) {
		return nil, ErrTokenExpired
	}

	s.mu.Lock()
	s.cache[token] = *stored
	s.mu.Unlock()
	s.touch(token)
	return stored, nil
}

// Revoke deletes a token from the store and the cache. The cache entry is
// dropped even when the store delete fails so a revoked token never keeps
// validating from memory.
func (s *Service) Revoke(token string) error {
	err := s.db.DeleteSessionToken(token)
	s.evict(token)
	return err
}

// RevokeAllForUser deletes every live token a user holds. Returns how many
// tokens were revoked.
func (s *Service) RevokeAllForUser(userID string) (int, error) {
	tokens, err := s.db.ListSessionTokensByUser(userID)
	if err != nil {
		return 0, fmt.Errorf("failed to list session tokens: %w", err)
	}
	for _, t := range tokens {
		err := s.db.DeleteSessionToken(t.Token)
		s.evict(t.Token)
		if err != nil {
			return 0, fmt.Errorf("failed to revoke token: %w", err)
		}
	}
	return len(tokens), nil
}

// ListActive returns a user's live tokens, straight from the store.
func (s *Service) ListActive(userID string) ([]db.SessionToken, error) {
	return s.db.ListSessionTokensByUser(userID)
}

// StartSweeper launches the background loop that purges expired tokens.
func (s *Service) StartSweeper() {
	go s.sweepLoop()
}

// Stop shuts the sweeper down. Safe to call more than once.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

func (s *Service) sweepLoop() {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.Sweep(); err != nil {
				slog.Error("session token sweep failed", "error", err)
			}
		case <-s.done:
			return
		}
	}
}

// Sweep removes expired tokens from the store and the cache.
func (s *Service) Sweep() error {
	removed, err := s.db.DeleteExpiredSessionTokens()
	if err != nil {
		return err
	}

	now := time.Now()
	s.mu.Lock()
	for token, entry := range s.cache {
		if now.After(entry.ExpiresAt) {
			delete(s.cache, token)
		}
	}
	s.mu.Unlock()

	if removed > 0 {
		slog.Info("purged expired session tokens", "count", removed)
	}
	return nil
}

// touch updates last_used_at in the store and the cached copy. Failures are
// logged, not surfaced: a missed usage timestamp must not fail validation.
func (s *Service) touch(token string) {
	now := time.Now()
	if err := s.db.TouchSessionToken(token); err != nil {
		slog.Warn("failed to touch session token", "error", err)
		return
	}
	s.mu.Lock()
	if entry, ok := s.cache[token]; ok {
		entry.LastUsedAt = now
		s.cache[token] = entry
	}
	s.mu.Unlock()
}

func (s *Service) evict(token string) {
	s.mu.Lock()
	delete(s.cache, token)
	s.mu.Unlock()
}

func (s *Service) generateToken() string {
	buf := make([]byte, s.length)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("failed to read random bytes: %v", err))
	}
	for i, b := range buf {
		buf[i] = tokenAlphabet[int(b)%len(tokenAlphabet)]
	}
	return TokenPrefix + string(buf)
}
