package validator

import (
	"encoding/json"
	"regexp"
	"sync"
)

func enumContains(enum []any, value any) bool {
	for _, e := range enum {
		if deepEqual(e, value) {
			return true
		}
	}
	return false
}

// deepEqual compares two decoded-JSON values (map[string]any, []any,
// string, float64, bool, nil) for value equality.
func deepEqual(a, b any) bool {
	ab, _ := json.Marshal(a)
	bb, _ := json.Marshal(b)
	return string(ab) == string(bb)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

var (
	patternCacheMu sync.RWMutex
	patternCache   = map[string]*regexp.Regexp{}
)

func matchPattern(pattern, s string) (bool, error) {
	patternCacheMu.RLock()
	re, ok := patternCache[pattern]
	patternCacheMu.RUnlock()
	if !ok {
		var err error
		re, err = regexp.Compile(pattern)
		if err != nil {
			return false, err
		}
		patternCacheMu.Lock()
		patternCache[pattern] = re
		patternCacheMu.Unlock()
	}
	return re.MatchString(s), nil
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	v := deepCopyValue(m)
	out, _ := v.(map[string]any)
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = deepCopyValue(e)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return val
	}
}

func marshalJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

// wrapAsSchemaDocument wraps a raw JSON Schema Object so kin-openapi's
// document loader (which expects a Schema under components.schemas) can
// decode it; the resulting document is never rendered, only parsed.
func wrapAsSchemaDocument(schemaJSON []byte) []byte {
	doc := map[string]any{
		"openapi": "3.0.0",
		"info":    map[string]any{"title": "resource-type-schema", "version": "1"},
		"paths":   map[string]any{},
	}
	var raw map[string]any
	_ = json.Unmarshal(schemaJSON, &raw)
	doc["components"] = map[string]any{
		"schemas": map[string]any{
			"Spec": raw,
		},
	}
	b, _ := json.Marshal(doc)
	return b
}
