// Package scheduler implements the reconciliation core: it claims
// eligible resources, dispatches each to its
// registered reconciler under a per-resource lock plus a bounded
// semaphore, applies the Status Engine's transitions, records history,
// and publishes RECONCILED.
package scheduler

import (
	"context"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/semaphore"

	"github.com/wilsonge/no8s-operator/internal/config"
	apperrors "github.com/wilsonge/no8s-operator/internal/errors"
	"github.com/wilsonge/no8s-operator/internal/eventbus"
	"github.com/wilsonge/no8s-operator/internal/metrics"
	"github.com/wilsonge/no8s-operator/internal/registry"
	"github.com/wilsonge/no8s-operator/internal/status"
	"github.com/wilsonge/no8s-operator/internal/store"
	"github.com/wilsonge/no8s-operator/pkg/controlplane/reconciler"
	"github.com/wilsonge/no8s-operator/pkg/controlplane/types"
)

// Scheduler drives the reconciliation tick loop described above.
type Scheduler struct {
	store store.Store
	bus   *eventbus.Bus
	reg   *registry.Registry
	cfg   config.SchedulerConfig
	log   logr.Logger

	sem *semaphore.Weighted

	mu     sync.Mutex
	active map[int64]struct{}
	wg     sync.WaitGroup
}

// New constructs a Scheduler. cfg's MaxConcurrentReconciles bounds both
// the in-flight task count and the size of each claim batch.
func New(s store.Store, bus *eventbus.Bus, reg *registry.Registry, cfg config.SchedulerConfig, log logr.Logger) *Scheduler {
	return &Scheduler{
		store:  s,
		bus:    bus,
		reg:    reg,
		cfg:    cfg,
		log:    log,
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrentReconciles)),
		active: make(map[int64]struct{}),
	}
}

// Run blocks, ticking every cfg.ReconcileInterval, until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ReconcileInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			s.tick(ctx)
			metrics.SchedulerTickDuration.Observe(time.Since(start).Seconds())
		}
	}
}

// Wait blocks until every in-flight reconcile task completes, or ctx's
// deadline elapses first (the shutdown grace period).
func (s *Scheduler) Wait(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Info("shutdown grace period elapsed with reconcile tasks still running")
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	s.mu.Lock()
	available := s.cfg.MaxConcurrentReconciles - len(s.active)
	s.mu.Unlock()
	if available <= 0 {
		return
	}

	batch, err := s.store.ClaimReconcileBatch(ctx, available)
	if err != nil {
		s.log.Error(err, "claim reconcile batch failed")
		return
	}

	for _, r := range batch {
		if !s.claimActive(r.ID) {
			// Already has an in-flight attempt; claim_reconcile_batch
			// should make this unreachable, but the active set is the
			// authoritative in-process guard.
			continue
		}
		if err := s.sem.Acquire(ctx, 1); err != nil {
			s.releaseActive(r.ID)
			return
		}
		metrics.ActiveReconciles.Inc()
		s.wg.Add(1)
		go func(r types.Resource) {
			defer s.wg.Done()
			defer s.sem.Release(1)
			defer metrics.ActiveReconciles.Dec()
			defer s.releaseActive(r.ID)
			s.attempt(ctx, r)
		}(r)
	}
}

func (s *Scheduler) claimActive(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.active[id]; busy {
		return false
	}
	s.active[id] = struct{}{}
	return true
}

func (s *Scheduler) releaseActive(id int64) {
	s.mu.Lock()
	delete(s.active, id)
	s.mu.Unlock()
}

// attempt runs the full per-attempt reconciliation protocol for one
// claimed resource.
func (s *Scheduler) attempt(ctx context.Context, r types.Resource) {
	log := s.log.WithValues("resource_id", r.ID, "resource", r.Name)
	trigger := inferTrigger(r)
	cs := types.ConditionSetFromSlice(r.Conditions)
	now := time.Now()

	if r.IsDeleted() {
		status.Apply(cs, status.TransitionDeletingStart, now, r.Generation, "", "")
		s.persistStandardConditions(ctx, r.ID, cs)
	} else {
		status.Apply(cs, status.TransitionStartReconciling, now, r.Generation, "", "")
		s.persistStandardConditions(ctx, r.ID, cs)
		if err := s.store.UpdateStatus(ctx, r.ID, types.PhaseReconciling, "", nil); err != nil {
			log.Error(err, "failed to mark resource reconciling")
			return
		}
	}

	rec, ok := s.reg.Lookup(r.Type)
	if !ok {
		s.finishNoReconciler(ctx, r, trigger)
		return
	}

	start := time.Now()
	snap := toSnapshot(r)
	result, recErr := rec.Reconcile(ctx, snap, s.reg.ContextFor(rec.Name()))
	duration := time.Since(start)

	outcome := "success"
	if recErr != nil {
		outcome = "failure"
	}
	metrics.ReconcileDuration.WithLabelValues(r.Type.Name, outcome).Observe(duration.Seconds())
	metrics.ReconcileTotal.WithLabelValues(r.Type.Name, outcome).Inc()

	if recErr != nil {
		s.finishFailure(ctx, r, cs, recErr, trigger, duration)
		return
	}
	s.finishSuccess(ctx, r, cs, result, trigger, duration)
}

func (s *Scheduler) finishNoReconciler(ctx context.Context, r types.Resource, trigger types.TriggerReason) {
	now := time.Now()
	msg := apperrors.NewNoReconciler(r.Type.Name, r.Type.Version).Error()
	s.log.Error(nil, "no reconciler registered for resource type at dispatch time", "resource_id", r.ID, "type", r.Type)

	cs := types.ConditionSetFromSlice(r.Conditions)
	status.Apply(cs, status.TransitionFailure, now, r.Generation, "NoReconciler", msg)
	s.persistStandardConditions(ctx, r.ID, cs)

	// Same backoff as any other failure: without it, a resource whose type
	// lost its reconciler is re-claimed and re-failed on every tick forever.
	newRetryCount := r.RetryCount + 1
	backoff := backoffFor(newRetryCount, s.cfg.BackoffBase(), s.cfg.BackoffCap())
	next := now.Add(backoff)

	// A soft-deleted resource stays in deleting, never failed.
	phase := types.PhaseFailed
	if r.IsDeleted() {
		phase = types.PhaseDeleting
	}
	_ = s.store.UpdateStatus(ctx, r.ID, phase, msg, nil)
	_ = s.store.SetRetryCount(ctx, r.ID, newRetryCount)
	_ = s.store.SetNextReconcile(ctx, r.ID, &next)
	_, _ = s.store.AppendHistory(ctx, types.HistoryEntry{
		ResourceID: r.ID, Generation: r.Generation, Success: false, Phase: phase,
		ErrorMessage: msg, TriggerReason: trigger,
	})
	s.publishReconciled(ctx, r.ID)
}

func (s *Scheduler) finishSuccess(ctx context.Context, r types.Resource, cs *types.ConditionSet, result reconciler.Result, trigger types.TriggerReason, duration time.Duration) {
	now := time.Now()

	if result.Outputs != nil {
		if err := s.store.SetOutputs(ctx, r.ID, result.Outputs); err != nil {
			s.log.Error(err, "failed to persist reconciler outputs", "resource_id", r.ID)
		}
	}
	for _, cond := range result.Conditions {
		status.SetDomainCondition(cs, cond, now, r.Generation)
		if merged, ok := cs.Get(cond.Type); ok {
			_ = s.store.SetCondition(ctx, r.ID, merged)
		}
	}

	if r.IsDeleted() {
		s.finishDelete(ctx, r, trigger, duration)
		return
	}

	status.Apply(cs, status.TransitionSuccess, now, r.Generation, "", "")
	s.persistStandardConditions(ctx, r.ID, cs)

	observedGeneration := r.Generation
	_ = s.store.UpdateStatus(ctx, r.ID, types.PhaseReady, "", &observedGeneration)
	_ = s.store.SetRetryCount(ctx, r.ID, 0)

	next := now.Add(s.cfg.DriftInterval())
	if result.RequeueAfter != nil {
		next = now.Add(*result.RequeueAfter)
	}
	_ = s.store.SetNextReconcile(ctx, r.ID, &next)

	_, _ = s.store.AppendHistory(ctx, types.HistoryEntry{
		ResourceID: r.ID, Generation: r.Generation, Success: true, Phase: types.PhaseReady,
		TriggerReason: trigger, DriftDetected: result.DriftDetected, DurationSeconds: duration.Seconds(),
	})
	s.publishReconciled(ctx, r.ID)
}

// finishDelete runs the destroy-path completion: the reconciler having
// returned success is only meaningful once it has removed its own
// finalizer (pkg/controlplane/reconciler's documented
// contract); the scheduler then attempts the hard delete, which stays a
// no-op re-queued for a later tick if other finalizers remain.
func (s *Scheduler) finishDelete(ctx context.Context, r types.Resource, trigger types.TriggerReason, duration time.Duration) {
	err := s.store.HardDeleteResource(ctx, r.ID)
	success := err == nil
	var errMsg string
	if err != nil {
		if apperrors.StatusCode(err) == http.StatusConflict {
			errMsg = "finalizers present; delete deferred"
			_ = s.store.UpdateStatus(ctx, r.ID, types.PhaseDeleting, errMsg, nil)
		} else {
			errMsg = err.Error()
			s.log.Error(err, "hard delete failed", "resource_id", r.ID)
		}
	}

	_, _ = s.store.AppendHistory(ctx, types.HistoryEntry{
		ResourceID: r.ID, Generation: r.Generation, Success: success, Phase: types.PhaseDeleting,
		ErrorMessage: errMsg, TriggerReason: trigger, DurationSeconds: duration.Seconds(),
	})

	if success {
		doc := r.EventDocument()
		doc["status"] = types.PhaseDeleting
		s.bus.Publish(types.Event{
			EventType: types.EventReconciled, ResourceID: r.ID, ResourceName: r.Name,
			ResourceTypeName: r.Type.Name, ResourceTypeVer: r.Type.Version,
			ResourceData: doc, Timestamp: time.Now(),
		})
		return
	}
	s.publishReconciled(ctx, r.ID)
}

func (s *Scheduler) finishFailure(ctx context.Context, r types.Resource, cs *types.ConditionSet, cause error, trigger types.TriggerReason, duration time.Duration) {
	now := time.Now()
	msg := cause.Error()
	reason := "ReconcileFailed"
	if ae, ok := cause.(*apperrors.AppError); ok {
		reason = string(ae.Type)
	}

	if r.IsDeleted() {
		// Per the destroy-path open question, a failed destroy must never
		// remove the resource or its finalizers; it stays in deleting with
		// an explanatory message and is retried on a later tick.
		_ = s.store.UpdateStatus(ctx, r.ID, types.PhaseDeleting, msg, nil)
		_, _ = s.store.AppendHistory(ctx, types.HistoryEntry{
			ResourceID: r.ID, Generation: r.Generation, Success: false, Phase: types.PhaseDeleting,
			ErrorMessage: msg, TriggerReason: trigger, DurationSeconds: duration.Seconds(),
		})
		s.publishReconciled(ctx, r.ID)
		return
	}

	status.Apply(cs, status.TransitionFailure, now, r.Generation, reason, msg)
	s.persistStandardConditions(ctx, r.ID, cs)

	newRetryCount := r.RetryCount + 1
	backoff := backoffFor(newRetryCount, s.cfg.BackoffBase(), s.cfg.BackoffCap())
	next := now.Add(backoff)

	_ = s.store.UpdateStatus(ctx, r.ID, types.PhaseFailed, msg, nil)
	_ = s.store.SetRetryCount(ctx, r.ID, newRetryCount)
	_ = s.store.SetNextReconcile(ctx, r.ID, &next)

	_, _ = s.store.AppendHistory(ctx, types.HistoryEntry{
		ResourceID: r.ID, Generation: r.Generation, Success: false, Phase: types.PhaseFailed,
		ErrorMessage: msg, TriggerReason: trigger, DurationSeconds: duration.Seconds(),
	})
	s.publishReconciled(ctx, r.ID)
}

func (s *Scheduler) persistStandardConditions(ctx context.Context, id int64, cs *types.ConditionSet) {
	for _, condType := range []string{types.ConditionReady, types.ConditionReconciling, types.ConditionDegraded} {
		if c, ok := cs.Get(condType); ok {
			if err := s.store.SetCondition(ctx, id, c); err != nil {
				s.log.Error(err, "failed to persist condition", "resource_id", id, "condition", condType)
			}
		}
	}
}

func (s *Scheduler) publishReconciled(ctx context.Context, id int64) {
	r, err := s.store.GetResource(ctx, id)
	if err != nil {
		s.log.Error(err, "failed to reload resource for RECONCILED event", "resource_id", id)
		return
	}
	s.bus.Publish(types.Event{
		EventType: types.EventReconciled, ResourceID: r.ID, ResourceName: r.Name,
		ResourceTypeName: r.Type.Name, ResourceTypeVer: r.Type.Version,
		ResourceData: r.EventDocument(), Timestamp: time.Now(),
	})
}

// backoffFor computes base * 2^(retryCount-1) capped at cap, the
// standard exponential backoff rule.
func backoffFor(retryCount int, base, cap_ time.Duration) time.Duration {
	if retryCount <= 1 {
		return min(base, cap_)
	}
	factor := math.Pow(2, float64(retryCount-1))
	d := time.Duration(float64(base) * factor)
	if d > cap_ || d <= 0 {
		return cap_
	}
	return d
}

// inferTrigger reconstructs why a claimed resource was eligible, since
// claim_reconcile_batch's selection predicate doesn't persist its own
// reason. The claim has already flipped status to reconciling, so a prior
// failure is recognized by a non-zero retry count. Manual triggers (which
// only set status=pending) leave no trace of their own and are reported as
// retry after a failure, as drift on an already-reconciled resource, and
// as spec_change on one never reconciled.
func inferTrigger(r types.Resource) types.TriggerReason {
	switch {
	case r.IsDeleted():
		return types.TriggerDelete
	case r.RetryCount > 0:
		return types.TriggerRetry
	case r.ObservedGeneration > 0 && r.Generation > r.ObservedGeneration:
		return types.TriggerSpecChange
	case r.ObservedGeneration > 0:
		return types.TriggerDrift
	default:
		return types.TriggerSpecChange
	}
}

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
