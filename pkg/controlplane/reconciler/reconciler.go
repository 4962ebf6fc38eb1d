// Package reconciler defines the capability interface third-party plugins
// implement, and the façade (Context) the control plane exposes to them.
// This is the only surface a reconciler or action plugin may touch.
package reconciler

import (
	"context"
	"time"

	"github.com/go-logr/logr"

	"github.com/wilsonge/no8s-operator/pkg/controlplane/types"
)

// Result is the outcome of one reconcile attempt.
type Result struct {
	// RequeueAfter, if non-nil, overrides the default drift interval for
	// scheduling the next reconciliation of this resource.
	RequeueAfter *time.Duration
	// DriftDetected marks whether this attempt found and corrected drift
	// against the external world; recorded on the history entry.
	DriftDetected bool
	// Conditions are domain-specific conditions to merge into the
	// resource's condition set, keyed by Type, following the same
	// transition-time rule as the standard conditions.
	Conditions []types.Condition
	// Outputs, if non-nil, replaces the resource's outputs document.
	Outputs map[string]any
}

// Snapshot is the read-only view of a Resource handed to a reconciler.
// Reconcilers never mutate the store directly except through Context.
type Snapshot struct {
	ID         int64
	Name       string
	Type       types.TypeKey
	Spec       map[string]any
	Generation int64
	Finalizers []string
	Deleting   bool
}

// Reconciler is the capability interface a plugin implements to drive
// resources of its claimed type(s) toward their declared state.
type Reconciler interface {
	// Name identifies the reconciler for logging and conflict detection.
	Name() string
	// ResourceTypes lists the (name, version) pairs this reconciler
	// claims exclusively; registration fails startup if two reconcilers
	// claim the same type (ResourceTypeConflict).
	ResourceTypes() []types.TypeKey
	// Start launches the reconciler's own long-running loop, if any, in
	// the caller's goroutine; it must return when ctx is canceled.
	Start(ctx context.Context, rc Context) error
	// Reconcile drives snap toward its desired state. snap.Deleting is
	// true on the destroy path: a successful Result on a deleting
	// snapshot is only meaningful after RemoveFinalizer has been called
	// for this reconciler's own finalizer.
	Reconcile(ctx context.Context, snap Snapshot, rc Context) (Result, error)
	// Stop signals the reconciler to shut down; Start's goroutine is
	// expected to observe ctx cancellation and return promptly.
	Stop(ctx context.Context) error
}

// ActionPlugin is an opaque handle to an action executor used by
// reconcilers; its shape is defined entirely by the plugin itself and is
// outside the scope of the core.
type ActionPlugin interface {
	Name() string
}

// ActionPluginLookup resolves an action plugin by name.
type ActionPluginLookup interface {
	GetActionPlugin(name string) (ActionPlugin, bool)
}

// Context is the façade over the Store, EventBus, and Status Engine that a
// reconciler is permitted to call. It never publishes events itself —
// publishing RECONCILED is the scheduler's responsibility.
type Context interface {
	// Log is a logger scoped to the calling reconciler.
	Log() logr.Logger

	// GetResourcesNeedingReconciliation runs the selection predicate
	// restricted to the given types without claiming them.
	GetResourcesNeedingReconciliation(ctx context.Context, types_ []types.TypeKey, limit int) ([]Snapshot, error)

	// UpdateStatus writes phase, message and (if non-nil) observed
	// generation through the Store. It does not recompute the standard
	// conditions, and it does not publish; the scheduler publishes
	// RECONCILED after the attempt completes.
	UpdateStatus(ctx context.Context, id int64, phase types.Phase, message string, observedGeneration *int64) error

	// SetCondition merges cond into the resource's condition set by Type,
	// applying the transition-time rule.
	SetCondition(ctx context.Context, id int64, cond types.Condition) error

	// RecordReconciliation appends a history entry. Reconcilers normally
	// do not call this directly — the scheduler records the canonical
	// attempt outcome — but long-running reconcilers may use it to log
	// intermediate progress with trigger reason "manual".
	RecordReconciliation(ctx context.Context, id int64, result Result, success bool, errMsg string, trigger types.TriggerReason) error

	// GetFinalizers returns the resource's current finalizer set.
	GetFinalizers(ctx context.Context, id int64) ([]string, error)

	// RemoveFinalizer removes name from the resource's finalizer set. On
	// the destroy path this must only be called after a confirmed
	// successful destroy of the external resource; calling it before a
	// destroy has actually succeeded leaves nothing to prevent a
	// premature hard delete.
	RemoveFinalizer(ctx context.Context, id int64, name string) error

	// HardDeleteResource attempts the terminal delete; it fails with a
	// FinalizersPresent error if finalizers remain.
	HardDeleteResource(ctx context.Context, id int64) error

	// GetActionPlugin resolves an opaque action plugin by name.
	GetActionPlugin(name string) (ActionPlugin, bool)

	// Done is closed when the reconciler must stop; implementations
	// should select on it between external calls.
	Done() <-chan struct{}
}
