package errors

import (
	"errors"
	"net/http"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestErrors(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Control Plane Errors Suite")
}

var _ = Describe("AppError", func() {
	Context("basic construction", func() {
		It("sets the default status code for its type", func() {
			err := New(ErrorTypeValidation, "bad spec")

			Expect(err.Type).To(Equal(ErrorTypeValidation))
			Expect(err.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(err.Cause).To(BeNil())
		})

		It("formats without details", func() {
			err := New(ErrorTypeNotFound, "resource 7")
			Expect(err.Error()).To(Equal("not_found: resource 7"))
		})

		It("formats with details", func() {
			err := New(ErrorTypeValidation, "bad spec").WithDetails("/spec/a: required")
			Expect(err.Error()).To(Equal("validation: bad spec (/spec/a: required)"))
		})
	})

	Context("wrapping", func() {
		It("preserves the cause for errors.Unwrap", func() {
			cause := errors.New("connection refused")
			err := Wrap(cause, ErrorTypeStore, "claim batch failed")

			Expect(err.Cause).To(Equal(cause))
			Expect(errors.Unwrap(err)).To(Equal(cause))
		})
	})

	Context("HTTP status mapping", func() {
		It("maps each taxonomy entry to its documented HTTP status", func() {
			cases := map[ErrorType]int{
				ErrorTypeValidation:   http.StatusBadRequest,
				ErrorTypeAdmission:    http.StatusForbidden,
				ErrorTypeNotFound:     http.StatusNotFound,
				ErrorTypeConflict:     http.StatusConflict,
				ErrorTypeNoReconciler: http.StatusBadRequest,
				ErrorTypeReconcile:    http.StatusInternalServerError,
				ErrorTypeWebhook:      http.StatusInternalServerError,
				ErrorTypeStore:        http.StatusInternalServerError,
				ErrorTypeTypeConflict: http.StatusInternalServerError,
				ErrorTypeCanceled:     http.StatusInternalServerError,
				ErrorTypeInternal:     http.StatusInternalServerError,
			}
			for typ, code := range cases {
				Expect(New(typ, "x").StatusCode).To(Equal(code), string(typ))
			}
		})

		It("extracts status code from an AppError and defaults a plain error to 500", func() {
			Expect(StatusCode(errors.New("plain"))).To(Equal(http.StatusInternalServerError))
			Expect(StatusCode(NewNotFound("resource"))).To(Equal(http.StatusNotFound))
		})
	})

	Describe("predefined constructors", func() {
		It("builds FinalizersPresent as a Conflict", func() {
			Expect(ErrFinalizersPresent.Type).To(Equal(ErrorTypeConflict))
		})

		It("builds NoReconciler with both type coordinates in the message", func() {
			err := NewNoReconciler("S3Bucket", "v1")
			Expect(err.Message).To(ContainSubstring("S3Bucket"))
			Expect(err.Message).To(ContainSubstring("v1"))
		})
	})
})
