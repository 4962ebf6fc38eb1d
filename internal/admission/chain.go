// Package admission implements an ordered mutating-then-validating HTTP
// callback pipeline: each webhook gets one attempt, in ordering/id order,
// with strict failure-policy semantics and JSON Patch application for
// mutating webhooks.
package admission

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/sony/gobreaker"

	apperrors "github.com/wilsonge/no8s-operator/internal/errors"
	"github.com/wilsonge/no8s-operator/pkg/controlplane/types"
)

// WebhookSource resolves the webhooks relevant to a write, already ordered
// by (ordering ASC, id ASC) within each webhook_type.
type WebhookSource interface {
	ListWebhooksFor(ctx context.Context, key types.TypeKey, op types.Operation, webhookType types.WebhookType) ([]types.AdmissionWebhook, error)
}

// Request is the body POSTed to every admission webhook. Resource and
// OldResource are full resource documents (id, name, generation,
// finalizers, spec, ...), shaped like types.Resource.EventDocument, so a
// webhook can implement identity- or state-aware policy rather than
// seeing only the bare spec.
type Request struct {
	Operation   types.Operation `json:"operation"`
	Resource    map[string]any  `json:"resource"`
	OldResource map[string]any  `json:"old_resource,omitempty"`
}

// Response is the body every admission webhook is expected to return.
type Response struct {
	Allowed bool           `json:"allowed"`
	Message string         `json:"message,omitempty"`
	Patches []PatchOp      `json:"patches,omitempty"`
}

const defaultTimeout = 10 * time.Second

// Chain executes the admission pipeline for one write operation.
type Chain struct {
	webhooks WebhookSource
	client   *http.Client
	log      logr.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// New constructs a Chain backed by webhooks, using client for all
// outbound HTTP (a *http.Client with no Timeout set, since each webhook
// carries its own per-call timeout via context).
func New(webhooks WebhookSource, client *http.Client, log logr.Logger) *Chain {
	if client == nil {
		client = http.DefaultClient
	}
	return &Chain{
		webhooks: webhooks,
		client:   client,
		log:      log,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Run executes the chain for op against resource (and oldResource, for
// UPDATE/DELETE) — full resource documents, not bare specs — returning
// the possibly-mutated resource's spec document, or an *errors.AppError
// of type ErrorTypeAdmission on denial.
func (c *Chain) Run(ctx context.Context, op types.Operation, key types.TypeKey, resource, oldResource map[string]any) (map[string]any, error) {
	working := deepCopy(resource)

	mutating, err := c.webhooks.ListWebhooksFor(ctx, key, op, types.WebhookMutating)
	if err != nil {
		return nil, apperrors.NewStoreTransient("list mutating webhooks", err)
	}
	for _, wh := range orderWebhooks(mutating) {
		resp, err := c.call(ctx, wh, op, working, oldResource)
		if err != nil {
			if denyErr := c.handleTransportFailure(wh, err); denyErr != nil {
				return nil, denyErr
			}
			continue
		}
		if !resp.Allowed {
			return nil, apperrors.NewAdmissionDenied(resp.Message)
		}
		working, err = applyPatches(working, resp.Patches, c.log)
		if err != nil {
			return nil, apperrors.NewAdmissionDenied(fmt.Sprintf("invalid patch: %s", err))
		}
	}

	validating, err := c.webhooks.ListWebhooksFor(ctx, key, op, types.WebhookValidating)
	if err != nil {
		return nil, apperrors.NewStoreTransient("list validating webhooks", err)
	}
	for _, wh := range orderWebhooks(validating) {
		resp, err := c.call(ctx, wh, op, working, oldResource)
		if err != nil {
			if denyErr := c.handleTransportFailure(wh, err); denyErr != nil {
				return nil, denyErr
			}
			continue
		}
		if !resp.Allowed {
			return nil, apperrors.NewAdmissionDenied(resp.Message)
		}
		// Validating webhooks' patches are ignored.
	}

	spec, _ := working["spec"].(map[string]any)
	if spec == nil {
		spec = map[string]any{}
	}
	return spec, nil
}

func orderWebhooks(whs []types.AdmissionWebhook) []types.AdmissionWebhook {
	out := make([]types.AdmissionWebhook, len(whs))
	copy(out, whs)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Ordering != out[j].Ordering {
			return out[i].Ordering < out[j].Ordering
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// handleTransportFailure applies the failure_policy rule to a transport
// or non-2xx failure, returning a non-nil error only when the chain must
// abort.
func (c *Chain) handleTransportFailure(wh types.AdmissionWebhook, cause error) error {
	werr := apperrors.NewWebhookTransport(wh.Name, cause)
	if wh.FailurePolicy == types.FailurePolicyIgnore {
		c.log.Info("admission webhook transport failure ignored by policy", "webhook", wh.Name, "error", cause.Error())
		return nil
	}
	return apperrors.NewAdmissionDenied(fmt.Sprintf("webhook %s failed: %s", wh.Name, cause)).WithDetails(werr.Error())
}

func (c *Chain) call(ctx context.Context, wh types.AdmissionWebhook, op types.Operation, resource, oldResource map[string]any) (Response, error) {
	breaker := c.breakerFor(wh.Name)
	result, err := breaker.Execute(func() (any, error) {
		return c.doCall(ctx, wh, op, resource, oldResource)
	})
	if err != nil {
		return Response{}, err
	}
	return result.(Response), nil
}

func (c *Chain) breakerFor(name string) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.breakers[name]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	c.breakers[name] = b
	return b
}

func (c *Chain) doCall(ctx context.Context, wh types.AdmissionWebhook, op types.Operation, resource, oldResource map[string]any) (Response, error) {
	timeout := time.Duration(wh.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(Request{Operation: op, Resource: resource, OldResource: oldResource})
	if err != nil {
		return Response{}, err
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, wh.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Response{}, fmt.Errorf("webhook %s returned status %d", wh.Name, resp.StatusCode)
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, fmt.Errorf("webhook %s returned an undecodable response: %w", wh.Name, err)
	}
	return out, nil
}

func deepCopy(m map[string]any) map[string]any {
	b, _ := json.Marshal(m)
	var out map[string]any
	_ = json.Unmarshal(b, &out)
	if out == nil {
		out = map[string]any{}
	}
	return out
}
