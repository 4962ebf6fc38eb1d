// Package store defines the durable store contract: every operation is
// atomic, and every query filters out soft-deleted resources except on
// the explicit deletion-path queries that need to see them.
package store

import (
	"context"
	"time"

	"github.com/wilsonge/no8s-operator/pkg/controlplane/types"
)

// Store is the persistence contract consumed by the Write Gateway, the
// Scheduler, and the Reconciler Registry's Context façade.
type Store interface {
	// --- Resource Types ---
	UpsertResourceType(ctx context.Context, rt types.ResourceType) (types.ResourceType, error)
	GetResourceType(ctx context.Context, key types.TypeKey) (types.ResourceType, error)
	GetResourceTypeByID(ctx context.Context, id int64) (types.ResourceType, error)
	ListResourceTypes(ctx context.Context, name string) ([]types.ResourceType, error)
	DeleteResourceType(ctx context.Context, key types.TypeKey) error
	CountResourcesOfType(ctx context.Context, key types.TypeKey) (int, error)

	// --- Resources ---
	CreateResource(ctx context.Context, r types.Resource) (types.Resource, error)
	GetResource(ctx context.Context, id int64) (types.Resource, error)
	GetResourceByName(ctx context.Context, key types.TypeKey, name string) (types.Resource, error)
	UpdateResourceSpec(ctx context.Context, id int64, newSpec map[string]any) (types.Resource, error)
	SoftDeleteResource(ctx context.Context, id int64) error
	HardDeleteResource(ctx context.Context, id int64) error
	AddFinalizer(ctx context.Context, id int64, name string) error
	RemoveFinalizer(ctx context.Context, id int64, name string) error
	UpdateStatus(ctx context.Context, id int64, phase types.Phase, message string, observedGeneration *int64) error
	SetCondition(ctx context.Context, id int64, cond types.Condition) error
	SetOutputs(ctx context.Context, id int64, doc map[string]any) error
	SetNextReconcile(ctx context.Context, id int64, t *time.Time) error
	SetManualTrigger(ctx context.Context, id int64) error
	SetRetryCount(ctx context.Context, id int64, n int) error

	// ClaimReconcileBatch atomically selects up to limit eligible resources
	// and transitions them to reconciling (or leaves deleting-path
	// candidates as deleting),
	// returning full snapshots so the scheduler need not re-fetch.
	ClaimReconcileBatch(ctx context.Context, limit int) ([]types.Resource, error)

	// GetResourcesNeedingReconciliation runs the same selection predicate
	// restricted to types, without claiming — used by
	// ReconcilerContext.GetResourcesNeedingReconciliation.
	GetResourcesNeedingReconciliation(ctx context.Context, keys []types.TypeKey, limit int) ([]types.Resource, error)

	// --- History ---
	AppendHistory(ctx context.Context, entry types.HistoryEntry) (types.HistoryEntry, error)
	ListHistory(ctx context.Context, resourceID int64, limit, offset int) ([]types.HistoryEntry, error)

	// --- Admission webhooks ---
	CreateWebhook(ctx context.Context, wh types.AdmissionWebhook) (types.AdmissionWebhook, error)
	GetWebhook(ctx context.Context, name string) (types.AdmissionWebhook, error)
	ListWebhooks(ctx context.Context) ([]types.AdmissionWebhook, error)
	DeleteWebhook(ctx context.Context, name string) error
	ListWebhooksFor(ctx context.Context, key types.TypeKey, op types.Operation, webhookType types.WebhookType) ([]types.AdmissionWebhook, error)

	// Ping backs the liveness probe's dependency check.
	Ping(ctx context.Context) error

	// Close releases the underlying connection pool.
	Close()
}

// ErrNotFound-style sentinels are intentionally absent here: Store
// implementations return *internal/errors.AppError values (NotFound,
// Conflict, StoreTransient), so callers type-assert/errors.As against
// that package rather than store-local sentinels.
