// Package registry implements the Reconciler Registry: explicit startup
// registration of reconciler plugins via Register, conflict detection when two
// plugins claim the same resource type, and the concrete ReconcilerContext
// façade handed to every registered reconciler.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"

	apperrors "github.com/wilsonge/no8s-operator/internal/errors"
	"github.com/wilsonge/no8s-operator/internal/status"
	"github.com/wilsonge/no8s-operator/internal/store"
	"github.com/wilsonge/no8s-operator/pkg/controlplane/reconciler"
	"github.com/wilsonge/no8s-operator/pkg/controlplane/types"
)

// ReconcilerDescriptor is the read-only summary of a registered
// reconciler exposed by List, used by GET /health to report which
// reconcilers are loaded.
type ReconcilerDescriptor struct {
	Name          string
	ResourceTypes []types.TypeKey
}

// Registry owns the resource-type-to-reconciler mapping and the shared
// ReconcilerContext every reconciler is started with.
type Registry struct {
	log   logr.Logger
	store store.Store

	mu          sync.RWMutex
	byType      map[types.TypeKey]reconciler.Reconciler
	reconcilers []reconciler.Reconciler
	actions     map[string]reconciler.ActionPlugin

	done   chan struct{}
	closed sync.Once

	wg sync.WaitGroup
}

// New constructs an empty Registry backed by s.
func New(s store.Store, log logr.Logger) *Registry {
	return &Registry{
		log:     log,
		store:   s,
		byType:  make(map[types.TypeKey]reconciler.Reconciler),
		actions: make(map[string]reconciler.ActionPlugin),
		done:    make(chan struct{}),
	}
}

// Register adds r to the registry, claiming every type it declares. It
// fails startup-fatally with ResourceTypeConflict if any declared type is
// already claimed by a previously registered reconciler.
func (reg *Registry) Register(r reconciler.Reconciler) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	for _, key := range r.ResourceTypes() {
		if existing, ok := reg.byType[key]; ok {
			return apperrors.NewResourceTypeConflict(key.Name, key.Version, existing.Name(), r.Name())
		}
	}
	for _, key := range r.ResourceTypes() {
		reg.byType[key] = r
	}
	reg.reconcilers = append(reg.reconcilers, r)
	return nil
}

// RegisterActionPlugin adds an action plugin resolvable by GetActionPlugin.
func (reg *Registry) RegisterActionPlugin(p reconciler.ActionPlugin) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.actions[p.Name()] = p
}

// Lookup resolves the reconciler claiming key, if any.
func (reg *Registry) Lookup(key types.TypeKey) (reconciler.Reconciler, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.byType[key]
	return r, ok
}

// ContextFor returns the ReconcilerContext a reconciler named name should
// be called with, for both its Start loop and its per-attempt Reconcile
// calls from the scheduler.
func (reg *Registry) ContextFor(name string) reconciler.Context {
	rc := &reconcilerContext{registry: reg, store: reg.store, log: reg.log}
	return rc.forReconciler(name)
}

// List returns a descriptor per registered reconciler for operational
// reporting (GET /health).
func (reg *Registry) List() []ReconcilerDescriptor {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]ReconcilerDescriptor, 0, len(reg.reconcilers))
	for _, r := range reg.reconcilers {
		out = append(out, ReconcilerDescriptor{Name: r.Name(), ResourceTypes: r.ResourceTypes()})
	}
	return out
}

// StartAll launches every registered reconciler's Start loop in its own
// goroutine, passing the shared ReconcilerContext.
func (reg *Registry) StartAll(ctx context.Context) {
	reg.mu.RLock()
	reconcilers := append([]reconciler.Reconciler(nil), reg.reconcilers...)
	reg.mu.RUnlock()

	for _, r := range reconcilers {
		r := r
		reg.wg.Add(1)
		go func() {
			defer reg.wg.Done()
			if err := r.Start(ctx, reg.ContextFor(r.Name())); err != nil {
				reg.log.Error(err, "reconciler loop exited with error", "reconciler", r.Name())
			}
		}()
	}
}

// StopAll signals every reconciler's shutdown_event and awaits their
// Start goroutines, bounded by ctx's deadline.
func (reg *Registry) StopAll(ctx context.Context) {
	reg.closed.Do(func() { close(reg.done) })

	reg.mu.RLock()
	reconcilers := append([]reconciler.Reconciler(nil), reg.reconcilers...)
	reg.mu.RUnlock()
	for _, r := range reconcilers {
		if err := r.Stop(ctx); err != nil {
			reg.log.Error(err, "reconciler stop failed", "reconciler", r.Name())
		}
	}

	waited := make(chan struct{})
	go func() {
		reg.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		reg.log.Info("shutdown grace period elapsed before all reconciler loops returned")
	}
}

// reconcilerContext implements reconciler.Context, scoped per-reconciler
// only for its logger; every other call is shared state.
type reconcilerContext struct {
	registry *Registry
	store    store.Store
	log      logr.Logger
}

func (rc *reconcilerContext) forReconciler(name string) reconciler.Context {
	return &reconcilerContext{registry: rc.registry, store: rc.store, log: rc.log.WithValues("reconciler", name)}
}

func (rc *reconcilerContext) Log() logr.Logger { return rc.log }

func (rc *reconcilerContext) GetResourcesNeedingReconciliation(ctx context.Context, keys []types.TypeKey, limit int) ([]reconciler.Snapshot, error) {
	resources, err := rc.store.GetResourcesNeedingReconciliation(ctx, keys, limit)
	if err != nil {
		return nil, err
	}
	out := make([]reconciler.Snapshot, 0, len(resources))
	for _, r := range resources {
		out = append(out, toSnapshot(r))
	}
	return out, nil
}

func (rc *reconcilerContext) UpdateStatus(ctx context.Context, id int64, phase types.Phase, message string, observedGeneration *int64) error {
	return rc.store.UpdateStatus(ctx, id, phase, message, observedGeneration)
}

func (rc *reconcilerContext) SetCondition(ctx context.Context, id int64, cond types.Condition) error {
	r, err := rc.store.GetResource(ctx, id)
	if err != nil {
		return err
	}
	cs := types.ConditionSetFromSlice(r.Conditions)
	status.SetDomainCondition(cs, cond, time.Now(), r.Generation)
	merged, _ := cs.Get(cond.Type)
	return rc.store.SetCondition(ctx, id, merged)
}

func (rc *reconcilerContext) RecordReconciliation(ctx context.Context, id int64, result reconciler.Result, success bool, errMsg string, trigger types.TriggerReason) error {
	r, err := rc.store.GetResource(ctx, id)
	if err != nil {
		return err
	}
	phase := types.PhaseReady
	if !success {
		phase = types.PhaseFailed
	}
	_, err = rc.store.AppendHistory(ctx, types.HistoryEntry{
		ResourceID:    id,
		Generation:    r.Generation,
		Success:       success,
		Phase:         phase,
		ErrorMessage:  errMsg,
		TriggerReason: trigger,
		DriftDetected: result.DriftDetected,
	})
	return err
}

func (rc *reconcilerContext) GetFinalizers(ctx context.Context, id int64) ([]string, error) {
	r, err := rc.store.GetResource(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.Finalizers, nil
}

func (rc *reconcilerContext) RemoveFinalizer(ctx context.Context, id int64, name string) error {
	return rc.store.RemoveFinalizer(ctx, id, name)
}

func (rc *reconcilerContext) HardDeleteResource(ctx context.Context, id int64) error {
	return rc.store.HardDeleteResource(ctx, id)
}

func (rc *reconcilerContext) GetActionPlugin(name string) (reconciler.ActionPlugin, bool) {
	rc.registry.mu.RLock()
	defer rc.registry.mu.RUnlock()
	p, ok := rc.registry.actions[name]
	return p, ok
}

func (rc *reconcilerContext) Done() <-chan struct{} { return rc.registry.done }

func toSnapshot(r types.Resource) reconciler.Snapshot {
	return reconciler.Snapshot{
		ID:         r.ID,
		Name:       r.Name,
		Type:       r.Type,
		Spec:       r.Spec,
		Generation: r.Generation,
		Finalizers: r.Finalizers,
		Deleting:   r.IsDeleted(),
	}
}
