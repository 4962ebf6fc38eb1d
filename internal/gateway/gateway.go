// Package gateway implements the write gateway: the ordered pipeline
// every CREATE/UPDATE/DELETE/finalizer-PATCH runs
// through — resolve type, validate, assert a reconciler is registered,
// run admission, mutate the store, publish. It has no HTTP dependency;
// internal/api calls into it.
package gateway

import (
	"context"
	"time"

	"github.com/go-logr/logr"

	"github.com/wilsonge/no8s-operator/internal/admission"
	apperrors "github.com/wilsonge/no8s-operator/internal/errors"
	"github.com/wilsonge/no8s-operator/internal/eventbus"
	"github.com/wilsonge/no8s-operator/internal/registry"
	"github.com/wilsonge/no8s-operator/internal/store"
	"github.com/wilsonge/no8s-operator/internal/validator"
	"github.com/wilsonge/no8s-operator/pkg/controlplane/types"
)

// Gateway wires the Validator, AdmissionChain, Store, and EventBus into
// the ordered write pipeline.
type Gateway struct {
	store store.Store
	chain *admission.Chain
	bus   *eventbus.Bus
	reg   *registry.Registry
	log   logr.Logger
}

// New constructs a Gateway.
func New(s store.Store, chain *admission.Chain, bus *eventbus.Bus, reg *registry.Registry, log logr.Logger) *Gateway {
	return &Gateway{store: s, chain: chain, bus: bus, reg: reg, log: log}
}

// FinalizerPatch is the body of PUT /resources/{id}/finalizers.
type FinalizerPatch struct {
	Add    []string `json:"add,omitempty"`
	Remove []string `json:"remove,omitempty"`
}

func (gw *Gateway) resolveType(ctx context.Context, key types.TypeKey) (types.ResourceType, error) {
	return gw.store.GetResourceType(ctx, key)
}

func (gw *Gateway) validateSpec(rt types.ResourceType, spec map[string]any) (map[string]any, error) {
	schema, err := validator.ParseSchema(rt.Schema)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "parse resource type schema")
	}
	result := validator.Validate(schema, spec)
	if !result.Ok() {
		msg := result.Errors[0]
		return nil, apperrors.NewSchemaValidation(msg.Path, msg.Message)
	}
	return result.Doc, nil
}

// CreateResource runs the full write pipeline for CREATE.
func (gw *Gateway) CreateResource(ctx context.Context, key types.TypeKey, name string, spec map[string]any) (types.Resource, error) {
	rt, err := gw.resolveType(ctx, key)
	if err != nil {
		return types.Resource{}, err
	}

	defaulted, err := gw.validateSpec(rt, spec)
	if err != nil {
		return types.Resource{}, err
	}

	rec, ok := gw.reg.Lookup(key)
	if !ok {
		return types.Resource{}, apperrors.NewNoReconciler(key.Name, key.Version)
	}

	candidate := types.Resource{Name: name, Type: key, Spec: defaulted, Generation: 1}
	mutated, err := gw.chain.Run(ctx, types.OperationCreate, key, candidate.EventDocument(), nil)
	if err != nil {
		return types.Resource{}, err
	}

	created, err := gw.store.CreateResource(ctx, types.Resource{Name: name, Type: key, Spec: mutated})
	if err != nil {
		return types.Resource{}, err
	}

	// Pre-insert the claimed reconciler's name into finalizers.
	if err := gw.store.AddFinalizer(ctx, created.ID, rec.Name()); err != nil {
		return types.Resource{}, err
	}
	created, err = gw.store.GetResource(ctx, created.ID)
	if err != nil {
		return types.Resource{}, err
	}

	gw.publish(types.EventCreated, created)
	return created, nil
}

// UpdateResource runs the full write pipeline for UPDATE (PUT spec replace).
func (gw *Gateway) UpdateResource(ctx context.Context, id int64, newSpec map[string]any) (types.Resource, error) {
	existing, err := gw.store.GetResource(ctx, id)
	if err != nil {
		return types.Resource{}, err
	}

	rt, err := gw.resolveType(ctx, existing.Type)
	if err != nil {
		return types.Resource{}, err
	}

	defaulted, err := gw.validateSpec(rt, newSpec)
	if err != nil {
		return types.Resource{}, err
	}

	candidate := existing
	candidate.Spec = defaulted
	mutated, err := gw.chain.Run(ctx, types.OperationUpdate, existing.Type, candidate.EventDocument(), existing.EventDocument())
	if err != nil {
		return types.Resource{}, err
	}

	updated, err := gw.store.UpdateResourceSpec(ctx, id, mutated)
	if err != nil {
		return types.Resource{}, err
	}

	gw.publish(types.EventModified, updated)
	return updated, nil
}

// DeleteResource runs the DELETE pipeline: admission then a soft delete.
// The reconciler drives the actual destroy asynchronously.
func (gw *Gateway) DeleteResource(ctx context.Context, id int64) error {
	existing, err := gw.store.GetResource(ctx, id)
	if err != nil {
		return err
	}

	doc := existing.EventDocument()
	if _, err := gw.chain.Run(ctx, types.OperationDelete, existing.Type, doc, doc); err != nil {
		return err
	}

	if err := gw.store.SoftDeleteResource(ctx, id); err != nil {
		return err
	}

	deleted, err := gw.store.GetResource(ctx, id)
	if err != nil {
		// GetResource filters out deleted_at IS NOT NULL rows; re-fetch is
		// expected to 404 here, so fall back to the pre-delete snapshot
		// with the deleted phase stamped on for the event payload.
		gw.log.V(1).Info("resource no longer visible after soft delete, using pre-delete snapshot for event", "resource_id", id)
		existing.Status = types.PhaseDeleting
		gw.publish(types.EventDeleted, existing)
		return nil
	}
	gw.publish(types.EventDeleted, deleted)
	return nil
}

// ManualTrigger implements POST /resources/{id}/reconcile.
func (gw *Gateway) ManualTrigger(ctx context.Context, id int64) error {
	return gw.store.SetManualTrigger(ctx, id)
}

// PatchFinalizers implements PUT /resources/{id}/finalizers, applying each
// add, then each remove, in its own store transaction. The patch as a whole
// is not atomic: if one step fails, the steps before it stay applied.
func (gw *Gateway) PatchFinalizers(ctx context.Context, id int64, patch FinalizerPatch) (types.Resource, error) {
	for _, name := range patch.Add {
		if err := gw.store.AddFinalizer(ctx, id, name); err != nil {
			return types.Resource{}, err
		}
	}
	for _, name := range patch.Remove {
		if err := gw.store.RemoveFinalizer(ctx, id, name); err != nil {
			return types.Resource{}, err
		}
	}
	return gw.store.GetResource(ctx, id)
}

func (gw *Gateway) publish(eventType types.EventType, r types.Resource) {
	gw.bus.Publish(types.Event{
		EventType: eventType, ResourceID: r.ID, ResourceName: r.Name,
		ResourceTypeName: r.Type.Name, ResourceTypeVer: r.Type.Version,
		ResourceData: r.EventDocument(), Timestamp: time.Now(),
	})
}
