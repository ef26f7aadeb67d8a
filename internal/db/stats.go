package db

import (
	"fmt"
	"time"
)

// DashboardStats summarizes a user's identity surface for the dashboard.
type DashboardStats struct {
	NameCount        int `json:"name_count"`
	ContextCount     int `json:"context_count"`
	ConnectedClients int `json:"connected_clients"`
	ActiveTokens     int `json:"active_tokens"`
	RecentResolves   int `json:"recent_resolves"`
}

// GetDashboardStats computes per-user dashboard statistics.
// RecentResolves counts claim resolutions in the trailing 7 days.
func (db *DB) GetDashboardStats(userID string) (*DashboardStats, error) {
	stats := &DashboardStats{}

	var err error
	stats.NameCount, err = db.bun.NewSelect().Model((*Name)(nil)).
		Where("user_id = ?", userID).Count(ctx())
	if err != nil {
		return nil, fmt.Errorf("failed to count names: %w", err)
	}

	stats.ContextCount, err = db.bun.NewSelect().Model((*Context)(nil)).
		Where("user_id = ?", userID).Count(ctx())
	if err != nil {
		return nil, fmt.Errorf("failed to count contexts: %w", err)
	}

	stats.ConnectedClients, err = db.bun.NewSelect().Model((*Consent)(nil)).
		Where("user_id = ?", userID).
		Where("status = ?", ConsentGranted).
		Count(ctx())
	if err != nil {
		return nil, fmt.Errorf("failed to count connected clients: %w", err)
	}

	stats.ActiveTokens, err = db.bun.NewSelect().Model((*SessionToken)(nil)).
		Where("user_id = ?", userID).
		Where("expires_at > ?", time.Now()).
		Count(ctx())
	if err != nil {
		return nil, fmt.Errorf("failed to count active tokens: %w", err)
	}

	cutoff := time.Now().AddDate(0, 0, -7)
	stats.RecentResolves, err = db.bun.NewSelect().Model((*AuditLog)(nil)).
		Where("actor = ?", userID).
		Where("action = ?", "claims.resolve").
		Where("timestamp >= ?", cutoff).
		Count(ctx())
	if err != nil {
		return nil, fmt.Errorf("failed to count recent resolves: %w", err)
	}

	return stats, nil
}
