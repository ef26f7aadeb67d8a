package db

import (
	"database/sql"
	"fmt"
	"time"
)

// CreateName inserts a new name variant. When IsPreferred is set, any
// previously preferred variant for the same user is demoted first so the
// at-most-one-preferred invariant holds.
func (db *DB) CreateName(name Name) error {
	if !ValidOIDCProperty(name.OIDCProperty) {
		return fmt.Errorf("invalid oidc property: %q", name.OIDCProperty)
	}
	if name.IsPreferred {
		if err := db.clearPreferred(name.UserID); err != nil {
			return err
		}
	}
	_, err := db.bun.NewInsert().Model(&name).Exec(ctx())
	return err
}

// GetName returns a single name variant by ID, or nil if not found
func (db *DB) GetName(id string) (*Name, error) {
	var name Name
	err := db.bun.NewSelect().Model(&name).Where("id = ?", id).Scan(ctx())
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &name, nil
}

// ListNamesByUser returns all name variants registered by a user
func (db *DB) ListNamesByUser(userID string) ([]Name, error) {
	var names []Name
	err := db.bun.NewSelect().Model(&names).
		Where("user_id = ?", userID).
		OrderExpr("oidc_property, created_at").
		Scan(ctx())
	return names, err
}

// GetPreferredName returns the user's preferred name variant, or nil when
// none is marked preferred
func (db *DB) GetPreferredName(userID string) (*Name, error) {
	var name Name
	err := db.bun.NewSelect().Model(&name).
		Where("user_id = ?", userID).
		Where("is_preferred").
		Limit(1).
		Scan(ctx())
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &name, nil
}

// UpdateName updates an existing name variant
func (db *DB) UpdateName(name Name) error {
	if !ValidOIDCProperty(name.OIDCProperty) {
		return fmt.Errorf("invalid oidc property: %q", name.OIDCProperty)
	}
	if name.IsPreferred {
		if err := db.clearPreferred(name.UserID); err != nil {
			return err
		}
	}
	name.UpdatedAt = time.Now()
	result, err := db.bun.NewUpdate().Model(&name).WherePK().Exec(ctx())
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

// DeleteName removes a name variant and any context assignments pointing at it
func (db *DB) DeleteName(id string) error {
	if _, err := db.bun.NewDelete().Model((*ContextAssignment)(nil)).
		Where("name_id = ?", id).Exec(ctx()); err != nil {
		return fmt.Errorf("failed to remove assignments: %w", err)
	}

	result, err := db.bun.NewDelete().Model((*Name)(nil)).Where("id = ?", id).Exec(ctx())
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

// clearPreferred demotes any currently preferred variant for the user.
func (db *DB) clearPreferred(userID string) error {
	_, err := db.bun.NewUpdate().Model((*Name)(nil)).
		Set("is_preferred = ?", false).
		Where("user_id = ?", userID).
		Where("is_preferred").
		Exec(ctx())
	return err
}
