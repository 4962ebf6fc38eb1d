package admission

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/go-logr/logr"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/wilsonge/no8s-operator/pkg/controlplane/types"
)

type fakeWebhookSource struct {
	mutating   []types.AdmissionWebhook
	validating []types.AdmissionWebhook
}

func (f *fakeWebhookSource) ListWebhooksFor(_ context.Context, _ types.TypeKey, _ types.Operation, wt types.WebhookType) ([]types.AdmissionWebhook, error) {
	if wt == types.WebhookMutating {
		return f.mutating, nil
	}
	return f.validating, nil
}

func jsonHandler(body any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}
}

var _ = Describe("Chain", func() {
	var key types.TypeKey

	BeforeEach(func() {
		key = types.TypeKey{Name: "Bucket", Version: "v1"}
	})

	It("applies a mutating webhook's patches in order, then allows a passing validator", func() {
		mutSrv := httptest.NewServer(jsonHandler(Response{
			Allowed: true,
			Patches: []PatchOp{{Op: "add", Path: "/spec/b", Value: 2.0}},
		}))
		defer mutSrv.Close()
		valSrv := httptest.NewServer(jsonHandler(Response{Allowed: true}))
		defer valSrv.Close()

		src := &fakeWebhookSource{
			mutating:   []types.AdmissionWebhook{{Name: "add-b", WebhookURL: mutSrv.URL, Ordering: 10, FailurePolicy: types.FailurePolicyFail, TimeoutSeconds: 5}},
			validating: []types.AdmissionWebhook{{Name: "check-b", WebhookURL: valSrv.URL, Ordering: 20, FailurePolicy: types.FailurePolicyFail, TimeoutSeconds: 5}},
		}
		chain := New(src, http.DefaultClient, logr.Discard())

		out, err := chain.Run(context.Background(), types.OperationCreate, key, map[string]any{"id": 1.0, "spec": map[string]any{"a": 1.0}}, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(out["a"]).To(Equal(1.0))
		Expect(out["b"]).To(Equal(2.0))
	})

	It("aborts the chain when a validating webhook denies", func() {
		valSrv := httptest.NewServer(jsonHandler(Response{Allowed: false, Message: "b too small"}))
		defer valSrv.Close()

		src := &fakeWebhookSource{
			validating: []types.AdmissionWebhook{{Name: "check-b", WebhookURL: valSrv.URL, Ordering: 20, FailurePolicy: types.FailurePolicyFail, TimeoutSeconds: 5}},
		}
		chain := New(src, http.DefaultClient, logr.Discard())

		_, err := chain.Run(context.Background(), types.OperationCreate, key, map[string]any{"spec": map[string]any{"a": 1.0}}, nil)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("b too small"))
	})

	It("ignores a transport failure when failure_policy is Ignore", func() {
		src := &fakeWebhookSource{
			mutating: []types.AdmissionWebhook{{Name: "dead", WebhookURL: "http://127.0.0.1:0", Ordering: 10, FailurePolicy: types.FailurePolicyIgnore, TimeoutSeconds: 1}},
		}
		chain := New(src, http.DefaultClient, logr.Discard())

		out, err := chain.Run(context.Background(), types.OperationCreate, key, map[string]any{"spec": map[string]any{"a": 1.0}}, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(out["a"]).To(Equal(1.0))
	})

	It("aborts the chain on a transport failure when failure_policy is Fail", func() {
		src := &fakeWebhookSource{
			mutating: []types.AdmissionWebhook{{Name: "dead", WebhookURL: "http://127.0.0.1:0", Ordering: 10, FailurePolicy: types.FailurePolicyFail, TimeoutSeconds: 1}},
		}
		chain := New(src, http.DefaultClient, logr.Discard())

		_, err := chain.Run(context.Background(), types.OperationCreate, key, map[string]any{"spec": map[string]any{"a": 1.0}}, nil)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("dead"))
	})

	It("treats a bare /x patch path as /spec/x for compatibility", func() {
		out, err := applyPatches(map[string]any{"spec": map[string]any{"a": 1.0}}, []PatchOp{{Op: "add", Path: "/b", Value: 3.0}}, logr.Discard())
		Expect(err).NotTo(HaveOccurred())
		Expect(out["spec"].(map[string]any)["b"]).To(Equal(3.0))
	})

	It("rejects an unsupported patch op", func() {
		_, err := applyPatches(map[string]any{"spec": map[string]any{"a": 1.0}}, []PatchOp{{Op: "move", Path: "/spec/a"}}, logr.Discard())
		Expect(err).To(HaveOccurred())
	})

	It("gives the webhook the resource's identity alongside its spec", func() {
		var seen Request
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewDecoder(r.Body).Decode(&seen)
			_ = json.NewEncoder(w).Encode(Response{Allowed: true})
		}))
		defer srv.Close()

		src := &fakeWebhookSource{
			validating: []types.AdmissionWebhook{{Name: "check", WebhookURL: srv.URL, Ordering: 10, FailurePolicy: types.FailurePolicyFail, TimeoutSeconds: 5}},
		}
		chain := New(src, http.DefaultClient, logr.Discard())

		resource := map[string]any{"id": 7.0, "name": "bucket-1", "generation": 2.0, "spec": map[string]any{"a": 1.0}}
		_, err := chain.Run(context.Background(), types.OperationUpdate, key, resource, resource)
		Expect(err).NotTo(HaveOccurred())
		Expect(seen.Resource["id"]).To(Equal(7.0))
		Expect(seen.Resource["name"]).To(Equal("bucket-1"))
		Expect(seen.Resource["generation"]).To(Equal(2.0))
	})
})
