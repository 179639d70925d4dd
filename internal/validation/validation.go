// Package validation provides request checks and body limits for the API.
package validation

import (
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Muneeb-Masood/EC-ML/internal/jsonnum"
)

// MaxRequestSize caps request bodies. Geospatial history can be large, so
// this is well above a typical JSON API limit.
const MaxRequestSize = 4 << 20

// MaxIDLength is the longest accepted transaction or user id.
const MaxIDLength = 128

// RequestSizeMiddleware limits request body size.
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// ValidationError describes one rejected field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error reports the first failure.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Check is one deferred validation.
type Check func() *ValidationError

// Validate runs every check and collects the failures.
func Validate(checks ...Check) ValidationErrors {
	var errs ValidationErrors
	for _, check := range checks {
		if err := check(); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs
}

// Required rejects an empty or blank string.
func Required(field, value string) Check {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// MaxLength rejects strings longer than max bytes.
func MaxLength(field, value string, max int) Check {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// OneOf rejects a value outside allowed.
func OneOf(field, value string, allowed ...string) Check {
	return func() *ValidationError {
		for _, a := range allowed {
			if value == a {
				return nil
			}
		}
		return &ValidationError{
			Field:   field,
			Message: "must be one of " + strings.Join(allowed, ", ") + ", got " + quote(value),
		}
	}
}

// Numeric rejects a missing value or one that does not parse as a number.
func Numeric(field string, value jsonnum.Value) Check {
	return func() *ValidationError {
		if !value.Present() {
			return &ValidationError{Field: field, Message: "is required"}
		}
		if _, err := value.Float64(); err != nil {
			return &ValidationError{Field: field, Message: "must be a number"}
		}
		return nil
	}
}

// PresentValue rejects a missing value without judging its content. The
// owning scorer reports malformed values itself.
func PresentValue(field string, value jsonnum.Value) Check {
	return func() *ValidationError {
		if !value.Present() {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// RequiredKeys rejects a map that lacks any of keys. Missing keys are listed
// sorted so the message is stable.
func RequiredKeys[V any](field string, m map[string]V, keys []string) Check {
	return func() *ValidationError {
		if len(m) == 0 {
			return &ValidationError{Field: field, Message: "is required"}
		}
		var missing []string
		for _, k := range keys {
			if _, ok := m[k]; !ok {
				missing = append(missing, quote(k))
			}
		}
		if len(missing) == 0 {
			return nil
		}
		sort.Strings(missing)
		return &ValidationError{Field: field, Message: "missing fields " + strings.Join(missing, ", ")}
	}
}

// When runs check only if cond holds.
func When(cond bool, check Check) Check {
	return func() *ValidationError {
		if !cond {
			return nil
		}
		return check()
	}
}

func quote(s string) string {
	return "'" + s + "'"
}
