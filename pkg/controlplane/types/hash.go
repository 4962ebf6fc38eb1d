package types

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// SpecHash computes a stable hash of a spec document: keys are sorted
// recursively before serialization so that map-iteration-order differences
// never spuriously bump a Resource's generation.
func SpecHash(spec map[string]any) string {
	canon := canonicalize(spec)
	b, _ := json.Marshal(canon)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// canonicalize rebuilds nested map[string]any and []any values, inserting
// map keys in sorted order; any other value (including maps of other
// concrete types) is passed through unchanged. encoding/json emits every
// map's keys in sorted order on its own, so the serialization is stable
// either way.
func canonicalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out[k] = canonicalize(val[k])
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = canonicalize(e)
		}
		return out
	default:
		return val
	}
}
