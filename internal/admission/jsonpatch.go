package admission

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/go-logr/logr"
)

// PatchOp is one JSON Patch operation as returned by a mutating webhook.
// Only add/replace/remove are supported.
type PatchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
}

// applyPatches applies ops sequentially to resource, the full resource
// document (id, name, generation, finalizers, spec, ...). A path may be
// absolute ("/spec/x") or relative ("/x"); a bare "/x" is treated as
// "/spec/x" for compatibility, emitting a deprecation log line the first
// time it's seen in this call. Every path that does not already start
// with "/spec" is rewritten under it, so patches can only change the spec,
// never the identity fields around it.
func applyPatches(resource map[string]any, ops []PatchOp, log logr.Logger) (map[string]any, error) {
	if len(ops) == 0 {
		return resource, nil
	}

	normalized := make([]PatchOp, 0, len(ops))
	warnedDeprecated := false
	for _, op := range ops {
		if op.Op != "add" && op.Op != "replace" && op.Op != "remove" {
			return nil, fmt.Errorf("unsupported patch op %q", op.Op)
		}
		path := op.Path
		if !strings.HasPrefix(path, "/spec/") && path != "/spec" {
			if !warnedDeprecated {
				log.Info("admission patch omitted leading /spec/ segment; treating as spec-relative (deprecated)", "path", path)
				warnedDeprecated = true
			}
			path = "/spec" + ensureLeadingSlash(path)
		}
		normalized = append(normalized, PatchOp{Op: op.Op, Path: path, Value: op.Value})
	}

	docJSON, err := json.Marshal(resource)
	if err != nil {
		return nil, err
	}

	patchJSON, err := json.Marshal(normalized)
	if err != nil {
		return nil, err
	}
	patch, err := jsonpatch.DecodePatch(patchJSON)
	if err != nil {
		return nil, fmt.Errorf("decode json patch: %w", err)
	}

	patched, err := patch.Apply(docJSON)
	if err != nil {
		return nil, fmt.Errorf("apply json patch: %w", err)
	}

	var out map[string]any
	if err := json.Unmarshal(patched, &out); err != nil {
		return nil, fmt.Errorf("decode patched document: %w", err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func ensureLeadingSlash(path string) string {
	if strings.HasPrefix(path, "/") {
		return path
	}
	return "/" + path
}
