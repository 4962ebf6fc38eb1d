// Package types holds the domain model shared between the control plane
// core and third-party reconciler plugins: resource types, resources,
// conditions, history entries, admission webhooks, and locks.
package types

import "time"

// ResourceTypeStatus is the lifecycle state of a registered ResourceType.
type ResourceTypeStatus string

const (
	ResourceTypeActive     ResourceTypeStatus = "active"
	ResourceTypeDeprecated ResourceTypeStatus = "deprecated"
)

// ResourceType is an immutable (name, version) schema declaration against
// which Resource specs of that type are validated.
type ResourceType struct {
	ID          int64
	Name        string
	Version     string
	Schema      map[string]any
	Description string
	Status      ResourceTypeStatus
	Metadata    map[string]any
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Key identifies a ResourceType by its application key.
func (rt ResourceType) Key() TypeKey {
	return TypeKey{Name: rt.Name, Version: rt.Version}
}

// TypeKey is the (name, version) identity of a ResourceType.
type TypeKey struct {
	Name    string
	Version string
}

// Phase is the coarse lifecycle state of a Resource.
type Phase string

const (
	PhasePending     Phase = "pending"
	PhaseReconciling Phase = "reconciling"
	PhaseReady       Phase = "ready"
	PhaseFailed      Phase = "failed"
	PhaseDeleting    Phase = "deleting"
)

// ConditionStatus is the tri-state value of a Condition.
type ConditionStatus string

const (
	ConditionTrue    ConditionStatus = "True"
	ConditionFalse   ConditionStatus = "False"
	ConditionUnknown ConditionStatus = "Unknown"
)

// Standard condition types computed by the status engine.
const (
	ConditionReady       = "Ready"
	ConditionReconciling = "Reconciling"
	ConditionDegraded    = "Degraded"
)

// Condition is a named boolean-ish state with a transition timestamp.
type Condition struct {
	Type               string
	Status             ConditionStatus
	Reason             string
	Message            string
	LastTransitionTime time.Time
	ObservedGeneration int64
}

// ConditionSet is a keyed-by-type collection of Conditions that preserves
// insertion order for stable output.
type ConditionSet struct {
	order []string
	byKey map[string]Condition
}

// NewConditionSet returns an empty ConditionSet.
func NewConditionSet() *ConditionSet {
	return &ConditionSet{byKey: make(map[string]Condition)}
}

// ConditionSetFromSlice rebuilds a ConditionSet from a previously persisted
// ordered slice (e.g. decoded from the resources.conditions jsonb column).
func ConditionSetFromSlice(conds []Condition) *ConditionSet {
	cs := NewConditionSet()
	for _, c := range conds {
		cs.Set(c)
	}
	return cs
}

// Get returns the condition of the given type, if present.
func (cs *ConditionSet) Get(condType string) (Condition, bool) {
	c, ok := cs.byKey[condType]
	return c, ok
}

// Set inserts or replaces the condition for its Type, preserving the
// position of the first insertion for that type.
func (cs *ConditionSet) Set(c Condition) {
	if _, exists := cs.byKey[c.Type]; !exists {
		cs.order = append(cs.order, c.Type)
	}
	cs.byKey[c.Type] = c
}

// Slice returns the conditions in stable insertion order.
func (cs *ConditionSet) Slice() []Condition {
	out := make([]Condition, 0, len(cs.order))
	for _, k := range cs.order {
		out = append(out, cs.byKey[k])
	}
	return out
}

// Finalizers is an ordered set of finalizer names. Order is preserved for
// stable display; membership is what matters for the hard-delete guard.
type Finalizers struct {
	order []string
	set   map[string]struct{}
}

// NewFinalizers builds a Finalizers set from a persisted ordered slice.
func NewFinalizers(names []string) *Finalizers {
	f := &Finalizers{set: make(map[string]struct{}, len(names))}
	for _, n := range names {
		f.Add(n)
	}
	return f
}

// Add inserts name if absent; no-op on redundant add.
func (f *Finalizers) Add(name string) {
	if _, ok := f.set[name]; ok {
		return
	}
	if f.set == nil {
		f.set = make(map[string]struct{})
	}
	f.set[name] = struct{}{}
	f.order = append(f.order, name)
}

// Remove deletes name if present; no-op otherwise.
func (f *Finalizers) Remove(name string) {
	if _, ok := f.set[name]; !ok {
		return
	}
	delete(f.set, name)
	for i, n := range f.order {
		if n == name {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
}

// Has reports whether name is present.
func (f *Finalizers) Has(name string) bool {
	_, ok := f.set[name]
	return ok
}

// Empty reports whether the set has no members.
func (f *Finalizers) Empty() bool { return len(f.set) == 0 }

// Slice returns the finalizers in stable insertion order.
func (f *Finalizers) Slice() []string {
	out := make([]string, len(f.order))
	copy(out, f.order)
	return out
}

// Resource is the central entity: a user-declared desired state tracked
// against its Resource Type's schema and driven by a reconciler.
type Resource struct {
	ID      int64
	Name    string
	Type    TypeKey
	Spec    map[string]any
	SpecHash string

	Generation         int64
	ObservedGeneration int64

	Status         Phase
	StatusMessage  string
	RetryCount     int
	LastReconcile  *time.Time
	NextReconcile  *time.Time

	Conditions []Condition

	DeletedAt  *time.Time
	Finalizers []string

	Outputs map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsDeleted reports whether the resource has been soft-deleted.
func (r Resource) IsDeleted() bool { return r.DeletedAt != nil }

// EventDocument renders the resource as the payload shape published on
// the EventBus and framed over SSE, and sent to admission webhooks. The
// HTTP API's resource endpoints encode Resource itself, not this shape.
func (r Resource) EventDocument() map[string]any {
	return map[string]any{
		"id":                  r.ID,
		"name":                r.Name,
		"resource_type_name":  r.Type.Name,
		"resource_type_version": r.Type.Version,
		"spec":                r.Spec,
		"outputs":             r.Outputs,
		"status":              r.Status,
		"status_message":      r.StatusMessage,
		"generation":          r.Generation,
		"observed_generation": r.ObservedGeneration,
		"retry_count":         r.RetryCount,
		"finalizers":          r.Finalizers,
		"conditions":          r.Conditions,
		"deleted_at":          r.DeletedAt,
		"created_at":          r.CreatedAt,
		"updated_at":          r.UpdatedAt,
	}
}

// TriggerReason names why a reconciliation attempt was started.
type TriggerReason string

const (
	TriggerSpecChange TriggerReason = "spec_change"
	TriggerDrift      TriggerReason = "drift"
	TriggerManual     TriggerReason = "manual"
	TriggerRetry      TriggerReason = "retry"
	TriggerDelete     TriggerReason = "delete"
)

// HistoryEntry is an append-only reconciliation attempt record.
type HistoryEntry struct {
	ID                int64
	ResourceID        int64
	Generation        int64
	Success           bool
	Phase             Phase
	PlanOutput        string
	ApplyOutput       string
	ErrorMessage      string
	ResourcesCreated  int
	ResourcesUpdated  int
	ResourcesDeleted  int
	DurationSeconds   float64
	TriggerReason     TriggerReason
	DriftDetected     bool
	ReconcileTime     time.Time
}

// WebhookType distinguishes mutating from validating admission webhooks.
type WebhookType string

const (
	WebhookMutating   WebhookType = "mutating"
	WebhookValidating WebhookType = "validating"
)

// FailurePolicy governs what happens when a webhook is unreachable or
// returns a non-2xx response.
type FailurePolicy string

const (
	FailurePolicyFail   FailurePolicy = "Fail"
	FailurePolicyIgnore FailurePolicy = "Ignore"
)

// Operation is a write operation subject to admission.
type Operation string

const (
	OperationCreate Operation = "CREATE"
	OperationUpdate Operation = "UPDATE"
	OperationDelete Operation = "DELETE"
)

// AdmissionWebhook is a registered external HTTP callback.
type AdmissionWebhook struct {
	ID             int64
	Name           string
	TypeFilter     *TypeKey
	WebhookURL     string
	WebhookType    WebhookType
	Operations     []Operation
	TimeoutSeconds int
	FailurePolicy  FailurePolicy
	Ordering       int
}

// MatchesOperation reports whether op is among the webhook's declared ops.
func (w AdmissionWebhook) MatchesOperation(op Operation) bool {
	for _, o := range w.Operations {
		if o == op {
			return true
		}
	}
	return false
}

// MatchesType reports whether the webhook's optional type filter matches key.
func (w AdmissionWebhook) MatchesType(key TypeKey) bool {
	if w.TypeFilter == nil {
		return true
	}
	return *w.TypeFilter == key
}

// Lock is scaffolding for a future multi-node leader-election mode. The
// single-node core never reads or writes it.
type Lock struct {
	ResourceKey        string
	HolderID           string
	AcquiredAt         time.Time
	LeaseDurationSecs  int
}

// EventType names the kind of change an Event reports.
type EventType string

const (
	EventCreated    EventType = "CREATED"
	EventModified   EventType = "MODIFIED"
	EventDeleted    EventType = "DELETED"
	EventReconciled EventType = "RECONCILED"
)

// Event is the payload published on the EventBus and framed over SSE.
type Event struct {
	EventType          EventType
	ResourceID         int64
	ResourceName       string
	ResourceTypeName   string
	ResourceTypeVer    string
	ResourceData       map[string]any
	Timestamp          time.Time
}
