package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	apperrors "github.com/wilsonge/no8s-operator/internal/errors"
	"github.com/wilsonge/no8s-operator/pkg/controlplane/types"
)

type dbWebhook struct {
	ID                  int64          `db:"id"`
	Name                string         `db:"name"`
	ResourceTypeName    sql.NullString `db:"resource_type_name"`
	ResourceTypeVersion sql.NullString `db:"resource_type_version"`
	WebhookURL          string         `db:"webhook_url"`
	WebhookType         string         `db:"webhook_type"`
	Operations          pq.StringArray `db:"operations"`
	TimeoutSeconds      int            `db:"timeout_seconds"`
	FailurePolicy       string         `db:"failure_policy"`
	Ordering            int            `db:"ordering"`
}

const webhookColumns = `id, name, resource_type_name, resource_type_version, webhook_url,
	webhook_type, operations, timeout_seconds, failure_policy, ordering`

func (d dbWebhook) toDomain() types.AdmissionWebhook {
	ops := make([]types.Operation, 0, len(d.Operations))
	for _, o := range d.Operations {
		ops = append(ops, types.Operation(o))
	}
	var filter *types.TypeKey
	if d.ResourceTypeName.Valid && d.ResourceTypeVersion.Valid {
		filter = &types.TypeKey{Name: d.ResourceTypeName.String, Version: d.ResourceTypeVersion.String}
	}
	return types.AdmissionWebhook{
		ID:             d.ID,
		Name:           d.Name,
		TypeFilter:     filter,
		WebhookURL:     d.WebhookURL,
		WebhookType:    types.WebhookType(d.WebhookType),
		Operations:     ops,
		TimeoutSeconds: d.TimeoutSeconds,
		FailurePolicy:  types.FailurePolicy(d.FailurePolicy),
		Ordering:       d.Ordering,
	}
}

func (s *Store) CreateWebhook(ctx context.Context, wh types.AdmissionWebhook) (types.AdmissionWebhook, error) {
	ops := make(pq.StringArray, len(wh.Operations))
	for i, o := range wh.Operations {
		ops[i] = string(o)
	}
	var typeName, typeVersion sql.NullString
	if wh.TypeFilter != nil {
		typeName = sql.NullString{String: wh.TypeFilter.Name, Valid: true}
		typeVersion = sql.NullString{String: wh.TypeFilter.Version, Valid: true}
	}
	if wh.FailurePolicy == "" {
		wh.FailurePolicy = types.FailurePolicyFail
	}
	if wh.TimeoutSeconds == 0 {
		wh.TimeoutSeconds = 10
	}

	var row dbWebhook
	err := s.db.GetContext(ctx, &row, fmt.Sprintf(`
		INSERT INTO admission_webhooks
			(name, resource_type_name, resource_type_version, webhook_url, webhook_type,
			 operations, timeout_seconds, failure_policy, ordering)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING %s
	`, webhookColumns),
		wh.Name, typeName, typeVersion, wh.WebhookURL, string(wh.WebhookType),
		ops, wh.TimeoutSeconds, string(wh.FailurePolicy), wh.Ordering)
	if err != nil {
		if isUniqueViolation(err) {
			return types.AdmissionWebhook{}, apperrors.NewConflict(fmt.Sprintf("webhook %q already exists", wh.Name))
		}
		return types.AdmissionWebhook{}, apperrors.NewStoreTransient("create_webhook", err)
	}
	return row.toDomain(), nil
}

func (s *Store) GetWebhook(ctx context.Context, name string) (types.AdmissionWebhook, error) {
	var row dbWebhook
	err := s.db.GetContext(ctx, &row, fmt.Sprintf(`SELECT %s FROM admission_webhooks WHERE name = $1`, webhookColumns), name)
	if errors.Is(err, sql.ErrNoRows) {
		return types.AdmissionWebhook{}, apperrors.NewNotFound(fmt.Sprintf("webhook %q", name))
	}
	if err != nil {
		return types.AdmissionWebhook{}, apperrors.NewStoreTransient("get_webhook", err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListWebhooks(ctx context.Context) ([]types.AdmissionWebhook, error) {
	var rows []dbWebhook
	err := s.db.SelectContext(ctx, &rows, fmt.Sprintf(`SELECT %s FROM admission_webhooks ORDER BY ordering ASC, id ASC`, webhookColumns))
	if err != nil {
		return nil, apperrors.NewStoreTransient("list_webhooks", err)
	}
	out := make([]types.AdmissionWebhook, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) DeleteWebhook(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM admission_webhooks WHERE name = $1`, name)
	if err != nil {
		return apperrors.NewStoreTransient("delete_webhook", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return apperrors.NewNotFound(fmt.Sprintf("webhook %q", name))
	}
	return nil
}

// ListWebhooksFor returns webhooks of webhookType that apply to op on key,
// ordered for sequential invocation. A webhook with no type filter applies
// to every resource type.
func (s *Store) ListWebhooksFor(ctx context.Context, key types.TypeKey, op types.Operation, webhookType types.WebhookType) ([]types.AdmissionWebhook, error) {
	var rows []dbWebhook
	err := s.db.SelectContext(ctx, &rows, fmt.Sprintf(`
		SELECT %s FROM admission_webhooks
		WHERE webhook_type = $1
		  AND $2 = ANY(operations)
		  AND (resource_type_name IS NULL OR (resource_type_name = $3 AND resource_type_version = $4))
		ORDER BY ordering ASC, id ASC
	`, webhookColumns), string(webhookType), string(op), key.Name, key.Version)
	if err != nil {
		return nil, apperrors.NewStoreTransient("list_webhooks_for", err)
	}
	out := make([]types.AdmissionWebhook, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}
