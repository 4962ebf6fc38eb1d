package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/wilsonge/no8s-operator/internal/errors"
	"github.com/wilsonge/no8s-operator/pkg/controlplane/types"
)

type dbResource struct {
	ID                  int64      `db:"id"`
	Name                string     `db:"name"`
	ResourceTypeName    string     `db:"resource_type_name"`
	ResourceTypeVersion string     `db:"resource_type_version"`
	Spec                []byte     `db:"spec"`
	Outputs             []byte     `db:"outputs"`
	Finalizers          []byte     `db:"finalizers"`
	Status              string     `db:"status"`
	StatusMessage       string     `db:"status_message"`
	Generation          int64      `db:"generation"`
	ObservedGeneration  int64      `db:"observed_generation"`
	SpecHash            string     `db:"spec_hash"`
	RetryCount          int        `db:"retry_count"`
	LastReconcileTime   *time.Time `db:"last_reconcile_time"`
	NextReconcileTime   *time.Time `db:"next_reconcile_time"`
	Conditions          []byte     `db:"conditions"`
	CreatedAt           time.Time  `db:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at"`
	DeletedAt           *time.Time `db:"deleted_at"`
}

const resourceColumns = `id, name, resource_type_name, resource_type_version, spec, outputs, finalizers,
	status, status_message, generation, observed_generation, spec_hash, retry_count,
	last_reconcile_time, next_reconcile_time, conditions, created_at, updated_at, deleted_at`

func (d dbResource) toDomain() (types.Resource, error) {
	var spec, outputs map[string]any
	var finalizers []string
	var conditions []types.Condition

	if err := json.Unmarshal(d.Spec, &spec); err != nil {
		return types.Resource{}, err
	}
	if len(d.Outputs) > 0 {
		if err := json.Unmarshal(d.Outputs, &outputs); err != nil {
			return types.Resource{}, err
		}
	}
	if len(d.Finalizers) > 0 {
		if err := json.Unmarshal(d.Finalizers, &finalizers); err != nil {
			return types.Resource{}, err
		}
	}
	if len(d.Conditions) > 0 {
		if err := json.Unmarshal(d.Conditions, &conditions); err != nil {
			return types.Resource{}, err
		}
	}

	return types.Resource{
		ID:                 d.ID,
		Name:               d.Name,
		Type:               types.TypeKey{Name: d.ResourceTypeName, Version: d.ResourceTypeVersion},
		Spec:               spec,
		SpecHash:           d.SpecHash,
		Generation:         d.Generation,
		ObservedGeneration: d.ObservedGeneration,
		Status:             types.Phase(d.Status),
		StatusMessage:      d.StatusMessage,
		RetryCount:         d.RetryCount,
		LastReconcile:      d.LastReconcileTime,
		NextReconcile:      d.NextReconcileTime,
		Conditions:         conditions,
		DeletedAt:          d.DeletedAt,
		Finalizers:         finalizers,
		Outputs:            outputs,
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
	}, nil
}

func scanResource(ctx context.Context, q sqlx.QueryerContext, query string, args ...any) (types.Resource, error) {
	var row dbResource
	if err := sqlx.GetContext(ctx, q, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Resource{}, apperrors.NewNotFound("resource")
		}
		return types.Resource{}, apperrors.NewStoreTransient("scan_resource", err)
	}
	return row.toDomain()
}

func scanResources(ctx context.Context, q sqlx.QueryerContext, query string, args ...any) ([]types.Resource, error) {
	var rows []dbResource
	if err := sqlx.SelectContext(ctx, q, &rows, query, args...); err != nil {
		return nil, apperrors.NewStoreTransient("scan_resources", err)
	}
	out := make([]types.Resource, 0, len(rows))
	for _, r := range rows {
		res, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

func (s *Store) CreateResource(ctx context.Context, r types.Resource) (types.Resource, error) {
	specJSON, err := json.Marshal(r.Spec)
	if err != nil {
		return types.Resource{}, apperrors.Wrap(err, apperrors.ErrorTypeValidation, "encode spec")
	}
	finalizersJSON, _ := json.Marshal(r.Finalizers)
	conditionsJSON, _ := json.Marshal(r.Conditions)
	outputsJSON, _ := json.Marshal(r.Outputs)
	if len(outputsJSON) == 0 {
		outputsJSON = []byte("{}")
	}

	hash := types.SpecHash(r.Spec)

	res, err := scanResource(ctx, s.db, fmt.Sprintf(`
		INSERT INTO resources (name, resource_type_name, resource_type_version, spec, outputs, finalizers,
			status, status_message, generation, observed_generation, spec_hash, conditions)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, 0, $9, $10)
		RETURNING %s
	`, resourceColumns), r.Name, r.Type.Name, r.Type.Version, specJSON, outputsJSON, finalizersJSON,
		types.PhasePending, r.StatusMessage, hash, conditionsJSON)
	if err != nil {
		if isUniqueViolation(err) {
			return types.Resource{}, apperrors.NewConflict(fmt.Sprintf("resource named %q already exists", r.Name))
		}
		return types.Resource{}, err
	}
	return res, nil
}

func (s *Store) GetResource(ctx context.Context, id int64) (types.Resource, error) {
	return scanResource(ctx, s.db, fmt.Sprintf(`SELECT %s FROM resources WHERE id = $1 AND deleted_at IS NULL`, resourceColumns), id)
}

func (s *Store) GetResourceByName(ctx context.Context, key types.TypeKey, name string) (types.Resource, error) {
	return scanResource(ctx, s.db, fmt.Sprintf(`
		SELECT %s FROM resources
		WHERE resource_type_name = $1 AND resource_type_version = $2 AND name = $3 AND deleted_at IS NULL
	`, resourceColumns), key.Name, key.Version, name)
}

// UpdateResourceSpec recomputes spec_hash; if it changed, generation is
// incremented, status reset to pending, and next_reconcile_time cleared.
func (s *Store) UpdateResourceSpec(ctx context.Context, id int64, newSpec map[string]any) (types.Resource, error) {
	newHash := types.SpecHash(newSpec)
	specJSON, err := json.Marshal(newSpec)
	if err != nil {
		return types.Resource{}, apperrors.Wrap(err, apperrors.ErrorTypeValidation, "encode spec")
	}

	return inTx(ctx, s, func(tx *sqlx.Tx) (types.Resource, error) {
		current, err := scanResource(ctx, tx, fmt.Sprintf(`SELECT %s FROM resources WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`, resourceColumns), id)
		if err != nil {
			return types.Resource{}, err
		}

		if current.SpecHash == newHash {
			_, err := tx.ExecContext(ctx, `UPDATE resources SET spec = $1, updated_at = now() WHERE id = $2`, specJSON, id)
			if err != nil {
				return types.Resource{}, apperrors.NewStoreTransient("update_resource_spec", err)
			}
			return scanResource(ctx, tx, fmt.Sprintf(`SELECT %s FROM resources WHERE id = $1`, resourceColumns), id)
		}

		return scanResource(ctx, tx, fmt.Sprintf(`
			UPDATE resources SET
				spec = $1, spec_hash = $2, generation = generation + 1,
				status = $3, next_reconcile_time = NULL, updated_at = now()
			WHERE id = $4
			RETURNING %s
		`, resourceColumns), specJSON, newHash, types.PhasePending, id)
	})
}

func (s *Store) SoftDeleteResource(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE resources SET deleted_at = COALESCE(deleted_at, now()), status = $1, updated_at = now()
		WHERE id = $2
	`, types.PhaseDeleting, id)
	if err != nil {
		return apperrors.NewStoreTransient("soft_delete_resource", err)
	}
	return nil
}

// HardDeleteResource succeeds only if deleted_at is set and finalizers is
// empty, checked against a row locked FOR UPDATE and deleted in the same
// transaction.
func (s *Store) HardDeleteResource(ctx context.Context, id int64) error {
	_, err := inTx(ctx, s, func(tx *sqlx.Tx) (struct{}, error) {
		var deletedAt *time.Time
		var finalizersJSON []byte
		err := tx.QueryRowxContext(ctx, `SELECT deleted_at, finalizers FROM resources WHERE id = $1 FOR UPDATE`, id).Scan(&deletedAt, &finalizersJSON)
		if errors.Is(err, sql.ErrNoRows) {
			return struct{}{}, apperrors.NewNotFound("resource")
		}
		if err != nil {
			return struct{}{}, apperrors.NewStoreTransient("hard_delete_resource", err)
		}
		var finalizers []string
		if len(finalizersJSON) > 0 {
			_ = json.Unmarshal(finalizersJSON, &finalizers)
		}
		if deletedAt == nil || len(finalizers) > 0 {
			return struct{}{}, apperrors.ErrFinalizersPresent
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM resources WHERE id = $1`, id); err != nil {
			return struct{}{}, apperrors.NewStoreTransient("hard_delete_resource", err)
		}
		return struct{}{}, nil
	})
	return err
}

func (s *Store) mutateFinalizers(ctx context.Context, id int64, mutate func(*types.Finalizers)) error {
	_, err := inTx(ctx, s, func(tx *sqlx.Tx) (struct{}, error) {
		var finalizersJSON []byte
		err := tx.QueryRowxContext(ctx, `SELECT finalizers FROM resources WHERE id = $1 FOR UPDATE`, id).Scan(&finalizersJSON)
		if errors.Is(err, sql.ErrNoRows) {
			return struct{}{}, apperrors.NewNotFound("resource")
		}
		if err != nil {
			return struct{}{}, apperrors.NewStoreTransient("mutate_finalizers", err)
		}
		var names []string
		if len(finalizersJSON) > 0 {
			_ = json.Unmarshal(finalizersJSON, &names)
		}
		set := types.NewFinalizers(names)
		mutate(set)
		newJSON, _ := json.Marshal(set.Slice())
		if _, err := tx.ExecContext(ctx, `UPDATE resources SET finalizers = $1, updated_at = now() WHERE id = $2`, newJSON, id); err != nil {
			return struct{}{}, apperrors.NewStoreTransient("mutate_finalizers", err)
		}
		return struct{}{}, nil
	})
	return err
}

func (s *Store) AddFinalizer(ctx context.Context, id int64, name string) error {
	return s.mutateFinalizers(ctx, id, func(f *types.Finalizers) { f.Add(name) })
}

func (s *Store) RemoveFinalizer(ctx context.Context, id int64, name string) error {
	return s.mutateFinalizers(ctx, id, func(f *types.Finalizers) { f.Remove(name) })
}

func (s *Store) UpdateStatus(ctx context.Context, id int64, phase types.Phase, message string, observedGeneration *int64) error {
	var err error
	if observedGeneration != nil {
		_, err = s.db.ExecContext(ctx, `
			UPDATE resources SET status = $1, status_message = $2, observed_generation = $3,
				last_reconcile_time = now(), updated_at = now()
			WHERE id = $4
		`, phase, message, *observedGeneration, id)
	} else {
		_, err = s.db.ExecContext(ctx, `
			UPDATE resources SET status = $1, status_message = $2, updated_at = now()
			WHERE id = $3
		`, phase, message, id)
	}
	if err != nil {
		return apperrors.NewStoreTransient("update_status", err)
	}
	return nil
}

func (s *Store) SetCondition(ctx context.Context, id int64, cond types.Condition) error {
	_, err := inTx(ctx, s, func(tx *sqlx.Tx) (struct{}, error) {
		var conditionsJSON []byte
		if err := tx.QueryRowxContext(ctx, `SELECT conditions FROM resources WHERE id = $1 FOR UPDATE`, id).Scan(&conditionsJSON); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return struct{}{}, apperrors.NewNotFound("resource")
			}
			return struct{}{}, apperrors.NewStoreTransient("set_condition", err)
		}
		var existing []types.Condition
		if len(conditionsJSON) > 0 {
			_ = json.Unmarshal(conditionsJSON, &existing)
		}
		cs := types.ConditionSetFromSlice(existing)
		cs.Set(cond)
		newJSON, _ := json.Marshal(cs.Slice())
		if _, err := tx.ExecContext(ctx, `UPDATE resources SET conditions = $1, updated_at = now() WHERE id = $2`, newJSON, id); err != nil {
			return struct{}{}, apperrors.NewStoreTransient("set_condition", err)
		}
		return struct{}{}, nil
	})
	return err
}

func (s *Store) SetOutputs(ctx context.Context, id int64, doc map[string]any) error {
	docJSON, err := json.Marshal(doc)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeValidation, "encode outputs")
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE resources SET outputs = $1, updated_at = now() WHERE id = $2`, docJSON, id); err != nil {
		return apperrors.NewStoreTransient("set_outputs", err)
	}
	return nil
}

func (s *Store) SetNextReconcile(ctx context.Context, id int64, t *time.Time) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE resources SET next_reconcile_time = $1, updated_at = now() WHERE id = $2`, t, id); err != nil {
		return apperrors.NewStoreTransient("set_next_reconcile", err)
	}
	return nil
}

// SetRetryCount overwrites the resource's retry_count, used by the
// scheduler to reset it to 0 on a successful attempt and to increment it
// on each failure ahead of the next backoff computation.
func (s *Store) SetRetryCount(ctx context.Context, id int64, n int) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE resources SET retry_count = $1, updated_at = now() WHERE id = $2`, n, id); err != nil {
		return apperrors.NewStoreTransient("set_retry_count", err)
	}
	return nil
}

// SetManualTrigger sets next_reconcile_time = now and status = pending,
// unless the resource is currently reconciling (a no-op in that case).
func (s *Store) SetManualTrigger(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE resources SET status = $1, next_reconcile_time = now(), updated_at = now()
		WHERE id = $2 AND status != $3 AND deleted_at IS NULL
	`, types.PhasePending, id, types.PhaseReconciling)
	if err != nil {
		return apperrors.NewStoreTransient("manual_trigger", err)
	}
	return nil
}

// ClaimReconcileBatch atomically claims a batch of resources: an
// UPDATE ... RETURNING flips eligible resources from pending/failed/ready
// into reconciling (deletion-path resources are left in deleting, since
// the scheduler drives them without the reconciling lock), so two ticks
// never claim the same non-deleting candidate. Every deleting resource is
// returned again on each call until it is hard-deleted.
func (s *Store) ClaimReconcileBatch(ctx context.Context, limit int) ([]types.Resource, error) {
	if limit <= 0 {
		return nil, nil
	}
	return inTx(ctx, s, func(tx *sqlx.Tx) ([]types.Resource, error) {
		rows, err := scanResources(ctx, tx, fmt.Sprintf(`
			WITH candidates AS (
				SELECT id FROM resources
				WHERE deleted_at IS NULL AND (
					status = 'pending'
					OR (status = 'failed' AND next_reconcile_time <= now())
					OR (status = 'ready' AND last_reconcile_time IS NOT NULL AND next_reconcile_time <= now())
					OR (generation > observed_generation AND status != 'reconciling')
				)
				ORDER BY next_reconcile_time NULLS FIRST, id
				LIMIT $1
				FOR UPDATE SKIP LOCKED
			)
			UPDATE resources SET status = 'reconciling', updated_at = now()
			WHERE id IN (SELECT id FROM candidates)
			RETURNING %s
		`, resourceColumns), limit)
		if err != nil {
			return nil, err
		}

		deleting, err := scanResources(ctx, tx, fmt.Sprintf(`
			SELECT %s FROM resources WHERE deleted_at IS NOT NULL AND status = 'deleting' LIMIT $1
		`, resourceColumns), limit)
		if err != nil {
			return nil, err
		}
		return append(rows, deleting...), nil
	})
}

func (s *Store) GetResourcesNeedingReconciliation(ctx context.Context, keys []types.TypeKey, limit int) ([]types.Resource, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	names := make([]string, len(keys))
	versions := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.Name
		versions[i] = k.Version
	}
	return scanResources(ctx, s.db, fmt.Sprintf(`
		SELECT %s FROM resources
		WHERE deleted_at IS NULL AND (resource_type_name, resource_type_version) IN (
			SELECT unnest($1::text[]), unnest($2::text[])
		) AND (
			status = 'pending'
			OR (status = 'failed' AND next_reconcile_time <= now())
			OR (status = 'ready' AND last_reconcile_time IS NOT NULL AND next_reconcile_time <= now())
			OR (generation > observed_generation AND status != 'reconciling')
		)
		ORDER BY next_reconcile_time NULLS FIRST, id
		LIMIT $3
	`, resourceColumns), names, versions, limit)
}
