package db

import (
	"database/sql"
	"time"
)

// InsertSessionToken stores a newly issued session token. A duplicate token
// value surfaces as a unique-constraint error for the issuer's retry loop.
func (db *DB) InsertSessionToken(t SessionToken) error {
	_, err := db.bun.NewInsert().Model(&t).Exec(ctx())
	return err
}

// GetSessionToken returns a session token row, or nil if not found
func (db *DB) GetSessionToken(token string) (*SessionToken, error) {
	var t SessionToken
	err := db.bun.NewSelect().Model(&t).Where("token = ?", token).Scan(ctx())
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListSessionTokensByUser returns all live tokens issued for a user
func (db *DB) ListSessionTokensByUser(userID string) ([]SessionToken, error) {
	var tokens []SessionToken
	err := db.bun.NewSelect().Model(&tokens).
		Where("user_id = ?", userID).
		Where("expires_at > ?", time.Now()).
		OrderExpr("issued_at DESC").
		Scan(ctx())
	return tokens, err
}

// TouchSessionToken updates a token's last_used_at timestamp
func (db *DB) TouchSessionToken(token string) error {
	_, err := db.bun.NewUpdate().Model((*SessionToken)(nil)).
		Set("last_used_at = ?", time.Now()).
		Where("token = ?", token).
		Exec(ctx())
	return err
}

// DeleteSessionToken removes a token (revocation)
func (db *DB) DeleteSessionToken(token string) error {
	result, err := db.bun.NewDelete().Model((*SessionToken)(nil)).
		Where("token = ?", token).
		Exec(ctx())
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteExpiredSessionTokens purges tokens past their expiry and returns
// how many were removed
func (db *DB) DeleteExpiredSessionTokens() (int64, error) {
	result, err := db.bun.NewDelete().Model((*SessionToken)(nil)).
		Where("expires_at <= ?", time.Now()).
		Exec(ctx())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// SaveOIDCState stores an upstream-OIDC CSRF state token
func (db *DB) SaveOIDCState(state, redirectURL string, expiresAt time.Time) error {
	s := OIDCState{
		State:       state,
		RedirectURL: redirectURL,
		ExpiresAt:   expiresAt,
	}
	_, err := db.bun.NewInsert().Model(&s).Exec(ctx())
	return err
}

// ConsumeOIDCState atomically loads and deletes a state token.
// Returns sql.ErrNoRows if the state does not exist.
func (db *DB) ConsumeOIDCState(state string) (redirectURL string, expiresAt time.Time, err error) {
	var s OIDCState
	err = db.bun.NewSelect().Model(&s).Where("state = ?", state).Scan(ctx())
	if err != nil {
		return "", time.Time{}, err
	}

	if _, err := db.bun.NewDelete().Model((*OIDCState)(nil)).
		Where("state = ?", state).Exec(ctx()); err != nil {
		return "", time.Time{}, err
	}

	return s.RedirectURL, s.ExpiresAt, nil
}

// CleanupExpiredOIDCStates removes expired CSRF state entries
func (db *DB) CleanupExpiredOIDCStates() error {
	_, err := db.bun.NewDelete().Model((*OIDCState)(nil)).
		Where("expires_at <= ?", time.Now()).
		Exec(ctx())
	return err
}
