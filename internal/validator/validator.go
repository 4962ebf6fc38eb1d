// Package validator implements a pure OpenAPI v3 subset validation
// function: validate(schema, doc) -> Ok(defaulted doc) | Err([]FieldError).
// It performs no I/O and is fully deterministic.
package validator

import (
	"fmt"
	"sort"

	"github.com/getkin/kin-openapi/openapi3"
)

// FieldError is one validation failure, path-scoped.
type FieldError struct {
	Path    string
	Message string
}

func (e FieldError) String() string { return fmt.Sprintf("%s: %s", e.Path, e.Message) }

// Result is the outcome of Validate: either Errors is empty and Doc holds
// the input document with defaults applied, or Errors is non-empty and Doc
// is the partially-defaulted document (callers must not persist it).
type Result struct {
	Doc    map[string]any
	Errors []FieldError
}

// Ok reports whether validation passed.
func (r Result) Ok() bool { return len(r.Errors) == 0 }

// ParseSchema decodes a raw OpenAPI v3 Schema Object (as stored on a
// ResourceType) into the kin-openapi in-memory representation this
// validator walks.
func ParseSchema(raw map[string]any) (*openapi3.Schema, error) {
	loader := openapi3.NewLoader()
	data, err := marshalJSON(raw)
	if err != nil {
		return nil, err
	}
	doc, err := loader.LoadFromData(wrapAsSchemaDocument(data))
	if err != nil {
		return nil, err
	}
	ref, ok := doc.Components.Schemas["Spec"]
	if !ok || ref == nil || ref.Value == nil {
		return nil, fmt.Errorf("schema did not decode to a usable OpenAPI v3 schema object")
	}
	return ref.Value, nil
}

// Validate checks doc against schema over the supported subset:
// type, required, enum, minimum/maximum, minLength/maxLength, pattern,
// items, properties, additionalProperties, and default (applied top-down
// before validation on missing keys, recursively through nested
// object/array schemas).
func Validate(schema *openapi3.Schema, doc map[string]any) Result {
	var errs []FieldError
	defaulted := applyDefaults(schema, deepCopyMap(doc))
	out, _ := defaulted.(map[string]any)
	walk(schema, "", out, &errs)
	sort.Slice(errs, func(i, j int) bool { return errs[i].Path < errs[j].Path })
	return Result{Doc: out, Errors: errs}
}

func walk(schema *openapi3.Schema, path string, value any, errs *[]FieldError) {
	if schema == nil {
		return
	}

	if len(schema.Enum) > 0 && value != nil {
		if !enumContains(schema.Enum, value) {
			*errs = append(*errs, FieldError{Path: pathOr(path), Message: "value is not one of the allowed enum values"})
		}
	}

	types := schema.Type
	if types == nil || len(*types) == 0 {
		return
	}
	typ := (*types)[0]

	switch typ {
	case "object":
		obj, ok := value.(map[string]any)
		if !ok {
			if value != nil {
				*errs = append(*errs, FieldError{Path: pathOr(path), Message: "expected an object"})
			}
			return
		}
		for _, req := range schema.Required {
			if _, present := obj[req]; !present {
				*errs = append(*errs, FieldError{Path: joinPath(path, req), Message: "required field is missing"})
			}
		}
		for name, propRef := range schema.Properties {
			if propRef == nil || propRef.Value == nil {
				continue
			}
			child, present := obj[name]
			if !present {
				continue
			}
			walk(propRef.Value, joinPath(path, name), child, errs)
		}
		if schema.AdditionalProperties.Has != nil && !*schema.AdditionalProperties.Has {
			for name := range obj {
				if _, known := schema.Properties[name]; !known {
					*errs = append(*errs, FieldError{Path: joinPath(path, name), Message: "additional property is not allowed"})
				}
			}
		}

	case "array":
		arr, ok := value.([]any)
		if !ok {
			if value != nil {
				*errs = append(*errs, FieldError{Path: pathOr(path), Message: "expected an array"})
			}
			return
		}
		if schema.Items != nil && schema.Items.Value != nil {
			for i, elem := range arr {
				walk(schema.Items.Value, fmt.Sprintf("%s[%d]", path, i), elem, errs)
			}
		}

	case "string":
		s, ok := value.(string)
		if !ok {
			if value != nil {
				*errs = append(*errs, FieldError{Path: pathOr(path), Message: "expected a string"})
			}
			return
		}
		if schema.MinLength > 0 && uint64(len(s)) < schema.MinLength {
			*errs = append(*errs, FieldError{Path: pathOr(path), Message: fmt.Sprintf("length must be >= %d", schema.MinLength)})
		}
		if schema.MaxLength != nil && uint64(len(s)) > *schema.MaxLength {
			*errs = append(*errs, FieldError{Path: pathOr(path), Message: fmt.Sprintf("length must be <= %d", *schema.MaxLength)})
		}
		if schema.Pattern != "" {
			if ok, err := matchPattern(schema.Pattern, s); err != nil {
				*errs = append(*errs, FieldError{Path: pathOr(path), Message: "invalid pattern in schema: " + err.Error()})
			} else if !ok {
				*errs = append(*errs, FieldError{Path: pathOr(path), Message: fmt.Sprintf("value does not match pattern %q", schema.Pattern)})
			}
		}

	case "integer", "number":
		n, ok := asFloat(value)
		if !ok {
			if value != nil {
				*errs = append(*errs, FieldError{Path: pathOr(path), Message: "expected a number"})
			}
			return
		}
		if typ == "integer" && n != float64(int64(n)) {
			*errs = append(*errs, FieldError{Path: pathOr(path), Message: "expected an integer"})
		}
		if schema.Min != nil && n < *schema.Min {
			*errs = append(*errs, FieldError{Path: pathOr(path), Message: fmt.Sprintf("must be >= %v", *schema.Min)})
		}
		if schema.Max != nil && n > *schema.Max {
			*errs = append(*errs, FieldError{Path: pathOr(path), Message: fmt.Sprintf("must be <= %v", *schema.Max)})
		}

	case "boolean":
		if _, ok := value.(bool); !ok && value != nil {
			*errs = append(*errs, FieldError{Path: pathOr(path), Message: "expected a boolean"})
		}
	}
}

// applyDefaults recursively fills in schema.Default for missing object
// keys, descending into nested object/array schemas.
func applyDefaults(schema *openapi3.Schema, value any) any {
	if schema == nil {
		return value
	}
	types := schema.Type
	if types == nil || len(*types) == 0 {
		return value
	}
	switch (*types)[0] {
	case "object":
		obj, ok := value.(map[string]any)
		if !ok {
			obj = map[string]any{}
		}
		for name, propRef := range schema.Properties {
			if propRef == nil || propRef.Value == nil {
				continue
			}
			if _, present := obj[name]; !present && propRef.Value.Default != nil {
				obj[name] = deepCopyValue(propRef.Value.Default)
			}
			if v, present := obj[name]; present {
				obj[name] = applyDefaults(propRef.Value, v)
			}
		}
		return obj
	case "array":
		arr, ok := value.([]any)
		if !ok || schema.Items == nil || schema.Items.Value == nil {
			return value
		}
		for i, elem := range arr {
			arr[i] = applyDefaults(schema.Items.Value, elem)
		}
		return arr
	default:
		return value
	}
}

func pathOr(path string) string {
	if path == "" {
		return "/"
	}
	return path
}

func joinPath(base, name string) string {
	if base == "" {
		return "/" + name
	}
	return base + "/" + name
}
