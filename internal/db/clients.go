package db

import (
	"database/sql"
	"time"
)

// CreateClient inserts a new client registry row. A unique-constraint error
// (duplicate client_id or duplicate publisher/app pair) is returned as-is so
// callers can detect collisions with IsUniqueViolation.
func (db *DB) CreateClient(c Client) error {
	_, err := db.bun.NewInsert().Model(&c).Exec(ctx())
	return err
}

// GetClient returns a client by its issued identifier, or nil if not found
func (db *DB) GetClient(clientID string) (*Client, error) {
	var c Client
	err := db.bun.NewSelect().Model(&c).Where("client_id = ?", clientID).Scan(ctx())
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetClientByApp returns the client registered for (publisher domain, app
// name), or nil if no such registration exists
func (db *DB) GetClientByApp(publisherDomain, appName string) (*Client, error) {
	var c Client
	err := db.bun.NewSelect().Model(&c).
		Where("publisher_domain = ?", publisherDomain).
		Where("app_name = ?", appName).
		Scan(ctx())
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListClients returns all registered clients
func (db *DB) ListClients() ([]Client, error) {
	var clients []Client
	err := db.bun.NewSelect().Model(&clients).
		OrderExpr("publisher_domain, app_name").
		Scan(ctx())
	return clients, err
}

// TouchClient updates a client's last_used_at timestamp
func (db *DB) TouchClient(clientID string) error {
	_, err := db.bun.NewUpdate().Model((*Client)(nil)).
		Set("last_used_at = ?", time.Now()).
		Where("client_id = ?", clientID).
		Exec(ctx())
	return err
}

// AssignClientContext records which context the user exposes to the client,
// replacing any previous choice.
func (db *DB) AssignClientContext(userID, clientID, contextID string) error {
	assignment := ClientContextAssignment{
		UserID:    userID,
		ClientID:  clientID,
		ContextID: contextID,
		UpdatedAt: time.Now(),
	}
	_, err := db.bun.NewInsert().Model(&assignment).
		On("CONFLICT (user_id, client_id) DO UPDATE").
		Set("context_id = EXCLUDED.context_id").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx())
	return err
}

// GetClientContext returns the context the user has assigned to the client,
// or nil when no explicit assignment exists
func (db *DB) GetClientContext(userID, clientID string) (*ClientContextAssignment, error) {
	var assignment ClientContextAssignment
	err := db.bun.NewSelect().Model(&assignment).
		Where("user_id = ?", userID).
		Where("client_id = ?", clientID).
		Scan(ctx())
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &assignment, nil
}

// ListClientAssignmentsByUser returns all of a user's client-to-context choices
func (db *DB) ListClientAssignmentsByUser(userID string) ([]ClientContextAssignment, error) {
	var assignments []ClientContextAssignment
	err := db.bun.NewSelect().Model(&assignments).
		Where("user_id = ?", userID).
		OrderExpr("client_id").
		Scan(ctx())
	return assignments, err
}

// UpsertConsent records a grant or revocation of a client by a user.
func (db *DB) UpsertConsent(c Consent) error {
	_, err := db.bun.NewInsert().Model(&c).
		On("CONFLICT (user_id, client_id) DO UPDATE").
		Set("status = EXCLUDED.status").
		Set("granted_at = EXCLUDED.granted_at").
		Set("revoked_at = EXCLUDED.revoked_at").
		Exec(ctx())
	return err
}

// GetConsent returns the consent record for (user, client), or nil if the
// user has never interacted with the client
func (db *DB) GetConsent(userID, clientID string) (*Consent, error) {
	var c Consent
	err := db.bun.NewSelect().Model(&c).
		Where("user_id = ?", userID).
		Where("client_id = ?", clientID).
		Scan(ctx())
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListConsentsByUser returns all of a user's consent records
func (db *DB) ListConsentsByUser(userID string) ([]Consent, error) {
	var consents []Consent
	err := db.bun.NewSelect().Model(&consents).
		Where("user_id = ?", userID).
		OrderExpr("client_id").
		Scan(ctx())
	return consents, err
}
