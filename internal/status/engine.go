// Package status implements the status engine: it computes the three
// standard conditions (Ready, Reconciling, Degraded) on each
// lifecycle transition, preserving lastTransitionTime when a condition's
// status value is unchanged, and always stamping the current generation.
package status

import (
	"time"

	"github.com/wilsonge/no8s-operator/pkg/controlplane/types"
)

// Transition names a lifecycle event the engine computes conditions for.
type Transition int

const (
	TransitionStartReconciling Transition = iota
	TransitionSuccess
	TransitionFailure
	TransitionDeletingStart
)

// Apply merges the standard conditions for transition into cs, using now
// as the transition timestamp for any condition whose status value
// changes, and generation as every condition's ObservedGeneration. reason
// and message are only consulted for TransitionFailure, where they carry
// the reconciler's reported error.
func Apply(cs *types.ConditionSet, transition Transition, now time.Time, generation int64, reason, message string) {
	switch transition {
	case TransitionStartReconciling:
		set(cs, types.ConditionReady, types.ConditionUnknown, "ReconcileStarted", "", now, generation)
		set(cs, types.ConditionReconciling, types.ConditionTrue, "InProgress", "", now, generation)
		// Degraded is left unchanged.
		touchObservedGeneration(cs, types.ConditionDegraded, generation)

	case TransitionSuccess:
		set(cs, types.ConditionReady, types.ConditionTrue, "ReconcileSuccess", "", now, generation)
		set(cs, types.ConditionReconciling, types.ConditionFalse, "ReconcileComplete", "", now, generation)
		set(cs, types.ConditionDegraded, types.ConditionFalse, "NoErrors", "", now, generation)

	case TransitionFailure:
		set(cs, types.ConditionReady, types.ConditionFalse, reason, message, now, generation)
		set(cs, types.ConditionReconciling, types.ConditionFalse, "ReconcileComplete", "", now, generation)
		set(cs, types.ConditionDegraded, types.ConditionTrue, reason, message, now, generation)

	case TransitionDeletingStart:
		set(cs, types.ConditionReady, types.ConditionUnknown, "Deleting", "", now, generation)
		set(cs, types.ConditionReconciling, types.ConditionFalse, "Deleting", "", now, generation)
		touchObservedGeneration(cs, types.ConditionDegraded, generation)
	}
}

// set merges a single condition into cs, applying the transition-time
// rule: lastTransitionTime only changes when status differs from the
// condition currently stored under the same Type.
func set(cs *types.ConditionSet, condType string, st types.ConditionStatus, reason, message string, now time.Time, generation int64) {
	lastTransition := now
	if existing, ok := cs.Get(condType); ok && existing.Status == st {
		lastTransition = existing.LastTransitionTime
	}
	cs.Set(types.Condition{
		Type:               condType,
		Status:             st,
		Reason:             reason,
		Message:            message,
		LastTransitionTime: lastTransition,
		ObservedGeneration: generation,
	})
}

// touchObservedGeneration stamps ObservedGeneration on an existing
// condition without altering its status or transition time; it is a
// no-op if the condition has never been set.
func touchObservedGeneration(cs *types.ConditionSet, condType string, generation int64) {
	existing, ok := cs.Get(condType)
	if !ok {
		return
	}
	existing.ObservedGeneration = generation
	cs.Set(existing)
}

// SetDomainCondition merges a reconciler-reported domain-specific condition
// into cs obeying the same transition-time rule as the standard conditions.
func SetDomainCondition(cs *types.ConditionSet, cond types.Condition, now time.Time, generation int64) {
	set(cs, cond.Type, cond.Status, cond.Reason, cond.Message, now, generation)
}
