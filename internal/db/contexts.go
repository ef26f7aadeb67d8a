package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrPermanentContext is returned when an operation would delete or demote
// a user's permanent Default context.
var ErrPermanentContext = errors.New("the Default context is permanent and cannot be deleted")

// CreateContext inserts a new context. Context names are unique per user.
func (db *DB) CreateContext(c Context) error {
	_, err := db.bun.NewInsert().Model(&c).Exec(ctx())
	return err
}

// GetContext returns a context by ID, or nil if not found
func (db *DB) GetContext(id string) (*Context, error) {
	var c Context
	err := db.bun.NewSelect().Model(&c).Where("id = ?", id).Scan(ctx())
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListContextsByUser returns all contexts belonging to a user,
// permanent context first
func (db *DB) ListContextsByUser(userID string) ([]Context, error) {
	var contexts []Context
	err := db.bun.NewSelect().Model(&contexts).
		Where("user_id = ?", userID).
		OrderExpr("is_permanent DESC, name").
		Scan(ctx())
	return contexts, err
}

// GetPermanentContext returns the user's permanent Default context,
// or nil when the user has none yet
func (db *DB) GetPermanentContext(userID string) (*Context, error) {
	var c Context
	err := db.bun.NewSelect().Model(&c).
		Where("user_id = ?", userID).
		Where("is_permanent").
		Limit(1).
		Scan(ctx())
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SeedDefaultContexts creates a permanent Default context for every user
// that does not have one yet. Run at startup so accounts created before
// contexts existed (or seeded directly) still resolve.
func (db *DB) SeedDefaultContexts() error {
	users, err := db.ListUsers()
	if err != nil {
		return err
	}
	for _, u := range users {
		existing, err := db.GetPermanentContext(u.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		c := Context{
			ID:          uuid.New().String(),
			UserID:      u.ID,
			Name:        "Default",
			Description: "Fallback context applied when no other assignment matches",
			IsPermanent: true,
		}
		if err := db.CreateContext(c); err != nil {
			return fmt.Errorf("failed to seed default context for %s: %w", u.Username, err)
		}
	}
	return nil
}

// UpdateContext updates a context's name and description. The permanent
// flag is never changed through this path.
func (db *DB) UpdateContext(c Context) error {
	result, err := db.bun.NewUpdate().Model((*Context)(nil)).
		Set("name = ?", c.Name).
		Set("description = ?", c.Description).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", c.ID).
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

// DeleteContext removes a context together with its property assignments and
// any client assignments pointing at it. Permanent contexts are refused.
func (db *DB) DeleteContext(id string) error {
	c, err := db.GetContext(id)
	if err != nil {
		return err
	}
	if c == nil {
		return sql.ErrNoRows
	}
	if c.IsPermanent {
		return ErrPermanentContext
	}

	if _, err := db.bun.NewDelete().Model((*ContextAssignment)(nil)).
		Where("context_id = ?", id).Exec(ctx()); err != nil {
		return fmt.Errorf("failed to remove property assignments: %w", err)
	}
	if _, err := db.bun.NewDelete().Model((*ClientContextAssignment)(nil)).
		Where("context_id = ?", id).Exec(ctx()); err != nil {
		return fmt.Errorf("failed to remove client assignments: %w", err)
	}

	_, err = db.bun.NewDelete().Model((*Context)(nil)).Where("id = ?", id).Exec(ctx())
	return err
}

// AssignName maps an OIDC property within a context to a name variant,
// replacing any existing assignment for that property.
func (db *DB) AssignName(contextID string, property OIDCProperty, nameID string) error {
	if !ValidOIDCProperty(property) {
		return fmt.Errorf("invalid oidc property: %q", property)
	}

	assignment := ContextAssignment{
		ContextID:    contextID,
		OIDCProperty: property,
		NameID:       nameID,
	}
	_, err := db.bun.NewInsert().Model(&assignment).
		On("CONFLICT (context_id, oidc_property) DO UPDATE").
		Set("name_id = EXCLUDED.name_id").
		Exec(ctx())
	return err
}

// UnassignName removes the assignment for one OIDC property in a context
func (db *DB) UnassignName(contextID string, property OIDCProperty) error {
	result, err := db.bun.NewDelete().Model((*ContextAssignment)(nil)).
		Where("context_id = ?", contextID).
		Where("oidc_property = ?", property).
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

// ListAssignments returns all property assignments for a context
func (db *DB) ListAssignments(contextID string) ([]ContextAssignment, error) {
	var assignments []ContextAssignment
	err := db.bun.NewSelect().Model(&assignments).
		Where("context_id = ?", contextID).
		OrderExpr("oidc_property").
		Scan(ctx())
	return assignments, err
}

// ResolvedAssignment joins a context assignment with the name it points at.
type ResolvedAssignment struct {
	OIDCProperty OIDCProperty `bun:"oidc_property"`
	NameText     string       `bun:"name_text"`
}

// GetResolvedAssignments returns the (property, name text) pairs for a
// context in a single query.
func (db *DB) GetResolvedAssignments(contextID string) ([]ResolvedAssignment, error) {
	var resolved []ResolvedAssignment
	err := db.bun.NewRaw(`
		SELECT ca.oidc_property AS oidc_property, n.text AS name_text
		FROM context_assignments ca
		JOIN names n ON n.id = ca.name_id
		WHERE ca.context_id = ?
		ORDER BY ca.oidc_property
	`, contextID).Scan(ctx(), &resolved)
	if err != nil {
		return nil, err
	}
	return resolved, nil
}
