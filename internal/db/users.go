package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// marshalRoles serializes the Roles slice into the RolesJSON column.
func (u *User) marshalRoles() error {
	if u.Roles == nil {
		u.RolesJSON = "[]"
		return nil
	}
	data, err := json.Marshal(u.Roles)
	if err != nil {
		return fmt.Errorf("failed to marshal roles: %w", err)
	}
	u.RolesJSON = string(data)
	return nil
}

// unmarshalRoles deserializes the RolesJSON column into the Roles slice.
func (u *User) unmarshalRoles() error {
	if u.RolesJSON == "" {
		u.Roles = nil
		return nil
	}
	if err := json.Unmarshal([]byte(u.RolesJSON), &u.Roles); err != nil {
		return fmt.Errorf("failed to unmarshal roles: %w", err)
	}
	return nil
}

// CreateUser inserts a new user account
func (db *DB) CreateUser(user User) error {
	if err := user.marshalRoles(); err != nil {
		return err
	}
	_, err := db.bun.NewInsert().Model(&user).Exec(ctx())
	return err
}

// GetUserByID returns a user by ID, or nil if not found
func (db *DB) GetUserByID(id string) (*User, error) {
	var user User
	err := db.bun.NewSelect().Model(&user).Where("id = ?", id).Scan(ctx())
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := user.unmarshalRoles(); err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByUsername returns a user by username, or nil if not found
func (db *DB) GetUserByUsername(username string) (*User, error) {
	var user User
	err := db.bun.NewSelect().Model(&user).Where("username = ?", username).Scan(ctx())
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := user.unmarshalRoles(); err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByAuthProvider returns a user by external auth provider identity,
// or nil if not found
func (db *DB) GetUserByAuthProvider(provider, providerID string) (*User, error) {
	var user User
	err := db.bun.NewSelect().Model(&user).
		Where("auth_provider = ?", provider).
		Where("auth_provider_id = ?", providerID).
		Scan(ctx())
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := user.unmarshalRoles(); err != nil {
		return nil, err
	}
	return &user, nil
}

// ListUsers returns all user accounts
func (db *DB) ListUsers() ([]User, error) {
	var users []User
	err := db.bun.NewSelect().Model(&users).OrderExpr("username").Scan(ctx())
	if err != nil {
		return nil, err
	}
	for i := range users {
		if err := users[i].unmarshalRoles(); err != nil {
			return nil, err
		}
	}
	return users, nil
}

// UpdateUser updates an existing user account
func (db *DB) UpdateUser(user User) error {
	if err := user.marshalRoles(); err != nil {
		return err
	}
	user.UpdatedAt = time.Now()
	result, err := db.bun.NewUpdate().Model(&user).WherePK().Exec(ctx())
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

// DeleteUser removes a user account by ID
func (db *DB) DeleteUser(id string) error {
	result, err := db.bun.NewDelete().Model((*User)(nil)).Where("id = ?", id).Exec(ctx())
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

// SeedAdminUser creates the admin account if it does not exist yet.
// Existing accounts are left untouched so a changed env password does not
// silently rotate credentials.
func (db *DB) SeedAdminUser(username, passwordHash string) error {
	existing, err := db.GetUserByUsername(username)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	admin := User{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: passwordHash,
		Roles:        []string{"admin"},
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	if err := db.CreateUser(admin); err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}
	return nil
}
