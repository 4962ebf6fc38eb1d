package validator

import (
	"github.com/getkin/kin-openapi/openapi3"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var bucketSchema = map[string]any{
	"type":     "object",
	"required": []any{"a"},
	"properties": map[string]any{
		"a": map[string]any{"type": "integer", "minimum": 0.0, "maximum": 100.0},
		"b": map[string]any{"type": "string", "default": "hello", "minLength": 1.0},
		"tags": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
		"mode": map[string]any{"type": "string", "enum": []any{"fast", "slow"}},
	},
	"additionalProperties": false,
}

var _ = Describe("Validate", func() {
	var schema *openapi3.Schema

	BeforeEach(func() {
		s, err := ParseSchema(bucketSchema)
		Expect(err).NotTo(HaveOccurred())
		schema = s
	})

	It("accepts a conforming document and returns it unchanged aside from defaults", func() {
		res := Validate(schema, map[string]any{"a": 1.0})
		Expect(res.Ok()).To(BeTrue())
		Expect(res.Doc["b"]).To(Equal("hello"))
	})

	It("reports a missing required field", func() {
		res := Validate(schema, map[string]any{})
		Expect(res.Ok()).To(BeFalse())
		Expect(res.Errors[0].Path).To(Equal("/a"))
	})

	It("reports an out-of-range integer", func() {
		res := Validate(schema, map[string]any{"a": 500.0})
		Expect(res.Ok()).To(BeFalse())
	})

	It("reports a disallowed additional property", func() {
		res := Validate(schema, map[string]any{"a": 1.0, "c": "nope"})
		Expect(res.Ok()).To(BeFalse())
		found := false
		for _, e := range res.Errors {
			if e.Path == "/c" {
				found = true
			}
		}
		Expect(found).To(BeTrue())
	})

	It("reports an enum violation", func() {
		res := Validate(schema, map[string]any{"a": 1.0, "mode": "medium"})
		Expect(res.Ok()).To(BeFalse())
	})

	It("validates array items", func() {
		res := Validate(schema, map[string]any{"a": 1.0, "tags": []any{"x", 2.0}})
		Expect(res.Ok()).To(BeFalse())
	})

	It("does not mutate the caller's original document", func() {
		original := map[string]any{"a": 1.0}
		_ = Validate(schema, original)
		_, hasB := original["b"]
		Expect(hasB).To(BeFalse())
	})
})
