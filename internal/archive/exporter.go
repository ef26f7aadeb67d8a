package archive

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/truenamepath/truename/internal/db"
)

// Snapshot is the serialized form of one audit-log export.
type Snapshot struct {
	ID         string        `json:"id"`
	ExportedAt time.Time     `json:"exported_at"`
	ExportedBy string        `json:"exported_by"`
	Filter     SnapshotMeta  `json:"filter"`
	Entries    []db.AuditLog `json:"entries"`
}

// SnapshotMeta records what the snapshot covers.
type SnapshotMeta struct {
	Actor string    `json:"actor,omitempty"`
	From  time.Time `json:"from,omitempty"`
	To    time.Time `json:"to,omitempty"`
}

// Exporter snapshots the audit log into an archive store.
type Exporter struct {
	db    *db.DB
	store Store
}

// NewExporter creates an audit-log exporter.
func NewExporter(database *db.DB, store Store) *Exporter {
	return &Exporter{db: database, store: store}
}

// Export writes all audit entries matching the filter to the archive and
// returns the snapshot's storage path. exportedBy is the admin who asked.
func (e *Exporter) Export(exportedBy string, filter db.AuditLogFilter) (string, error) {
	// Snapshots are complete, not paginated.
	filter.Limit = 1000
	filter.Offset = 0

	var entries []db.AuditLog
	for {
		page, err := e.db.QueryAuditLogs(filter)
		if err != nil {
			return "", fmt.Errorf("failed to read audit log: %w", err)
		}
		entries = append(entries, page.Logs...)
		if len(entries) >= page.Total || len(page.Logs) == 0 {
			break
		}
		filter.Offset += len(page.Logs)
	}

	now := time.Now()
	snapshot := Snapshot{
		ID:         fmt.Sprintf("audit-%s", now.UTC().Format("20060102-150405")),
		ExportedAt: now,
		ExportedBy: exportedBy,
		Filter: SnapshotMeta{
			Actor: filter.Actor,
			From:  filter.From,
			To:    filter.To,
		},
		Entries: entries,
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}

	storagePath, err := e.store.Save(snapshot.ID, bytes.NewReader(data))
	if err != nil {
		return "", err
	}

	if err := e.db.LogAudit(exportedBy, "audit.export", storagePath); err != nil {
		return "", fmt.Errorf("failed to record export: %w", err)
	}

	return storagePath, nil
}
