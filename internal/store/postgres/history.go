package postgres

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/wilsonge/no8s-operator/internal/errors"
	"github.com/wilsonge/no8s-operator/pkg/controlplane/types"
)

type dbHistoryEntry struct {
	ID               int64     `db:"id"`
	ResourceID       int64     `db:"resource_id"`
	Generation       int64     `db:"generation"`
	Success          bool      `db:"success"`
	Phase            string    `db:"phase"`
	PlanOutput       string    `db:"plan_output"`
	ApplyOutput      string    `db:"apply_output"`
	ErrorMessage     string    `db:"error_message"`
	ResourcesCreated int       `db:"resources_created"`
	ResourcesUpdated int       `db:"resources_updated"`
	ResourcesDeleted int       `db:"resources_deleted"`
	DurationSeconds  float64   `db:"duration_seconds"`
	TriggerReason    string    `db:"trigger_reason"`
	DriftDetected    bool      `db:"drift_detected"`
	ReconcileTime    time.Time `db:"reconcile_time"`
}

const historyColumns = `id, resource_id, generation, success, phase, plan_output, apply_output,
	error_message, resources_created, resources_updated, resources_deleted, duration_seconds,
	trigger_reason, drift_detected, reconcile_time`

func (d dbHistoryEntry) toDomain() types.HistoryEntry {
	return types.HistoryEntry{
		ID:               d.ID,
		ResourceID:       d.ResourceID,
		Generation:       d.Generation,
		Success:          d.Success,
		Phase:            types.Phase(d.Phase),
		PlanOutput:       d.PlanOutput,
		ApplyOutput:      d.ApplyOutput,
		ErrorMessage:     d.ErrorMessage,
		ResourcesCreated: d.ResourcesCreated,
		ResourcesUpdated: d.ResourcesUpdated,
		ResourcesDeleted: d.ResourcesDeleted,
		DurationSeconds:  d.DurationSeconds,
		TriggerReason:    types.TriggerReason(d.TriggerReason),
		DriftDetected:    d.DriftDetected,
		ReconcileTime:    d.ReconcileTime,
	}
}

// AppendHistory records a single reconciliation attempt. History is
// append-only: there is no update or delete path.
func (s *Store) AppendHistory(ctx context.Context, entry types.HistoryEntry) (types.HistoryEntry, error) {
	var row dbHistoryEntry
	err := s.db.GetContext(ctx, &row, fmt.Sprintf(`
		INSERT INTO reconciliation_history
			(resource_id, generation, success, phase, plan_output, apply_output, error_message,
			 resources_created, resources_updated, resources_deleted, duration_seconds,
			 trigger_reason, drift_detected)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING %s
	`, historyColumns),
		entry.ResourceID, entry.Generation, entry.Success, string(entry.Phase),
		entry.PlanOutput, entry.ApplyOutput, entry.ErrorMessage,
		entry.ResourcesCreated, entry.ResourcesUpdated, entry.ResourcesDeleted,
		entry.DurationSeconds, string(entry.TriggerReason), entry.DriftDetected)
	if err != nil {
		return types.HistoryEntry{}, apperrors.NewStoreTransient("append_history", err)
	}
	return row.toDomain(), nil
}

// ListHistory returns the newest-first page of attempts for a resource.
func (s *Store) ListHistory(ctx context.Context, resourceID int64, limit, offset int) ([]types.HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []dbHistoryEntry
	err := s.db.SelectContext(ctx, &rows, fmt.Sprintf(`
		SELECT %s FROM reconciliation_history
		WHERE resource_id = $1
		ORDER BY reconcile_time DESC
		LIMIT $2 OFFSET $3
	`, historyColumns), resourceID, limit, offset)
	if err != nil {
		return nil, apperrors.NewStoreTransient("list_history", err)
	}
	out := make([]types.HistoryEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}
