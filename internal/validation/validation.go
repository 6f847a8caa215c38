// Package validation provides request validation primitives for the gateway API.
package validation

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (64KB)
const MaxRequestSize = 64 << 10

// Code classifies why a field was rejected.
type Code string

const (
	CodeMissingField      Code = "missing_field"
	CodeOutOfRange        Code = "out_of_range"
	CodeInvalidFieldValue Code = "invalid_field_value"
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// FieldError describes one rejected field.
type FieldError struct {
	Field   string `json:"field"`
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// Errors is the full list of field failures for one request.
type Errors []FieldError

// Error implements the error interface
func (e Errors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	parts := make([]string, len(e))
	for i, fe := range e {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Has reports whether field failed with the given code.
func (e Errors) Has(field string, code Code) bool {
	for _, fe := range e {
		if fe.Field == field && fe.Code == code {
			return true
		}
	}
	return false
}

// Missing builds a missing_field error.
func Missing(field string) FieldError {
	return FieldError{Field: field, Code: CodeMissingField, Message: "is required"}
}

// OutOfRange builds an out_of_range error for an inclusive [min, max] domain.
func OutOfRange(field string, min, max int) FieldError {
	return FieldError{
		Field:   field,
		Code:    CodeOutOfRange,
		Message: "must be between " + strconv.Itoa(min) + " and " + strconv.Itoa(max),
	}
}

// Invalid builds an invalid_field_value error.
func Invalid(field, message string) FieldError {
	return FieldError{Field: field, Code: CodeInvalidFieldValue, Message: message}
}

// Integer parse failures.
var (
	ErrNotInteger  = errors.New("validation: not an integer")
	ErrIntTooLarge = errors.New("validation: integer out of int32 range")
)

// ParseInteger interprets a decoded JSON value as an integer. It accepts
// float64 and json.Number values as well as numeric strings, provided the
// value has no fractional part. Whole numbers beyond int32 yield
// ErrIntTooLarge so callers can report them as out of range.
func ParseInteger(v any) (int, error) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, ErrNotInteger
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if errors.Is(err, strconv.ErrRange) && math.IsInf(parsed, 0) {
			return 0, ErrIntTooLarge
		}
		if err != nil {
			return 0, ErrNotInteger
		}
		f = parsed
	default:
		return 0, ErrNotInteger
	}
	if math.IsInf(f, 0) {
		return 0, ErrIntTooLarge
	}
	if math.IsNaN(f) || f != math.Trunc(f) {
		return 0, ErrNotInteger
	}
	if f > math.MaxInt32 || f < math.MinInt32 {
		return 0, ErrIntTooLarge
	}
	return int(f), nil
}

// Integer is ParseInteger for callers that only need success or failure.
func Integer(v any) (int, bool) {
	n, err := ParseInteger(v)
	return n, err == nil
}

// Flag interprets a decoded JSON value as a 0/1 flag. Booleans map to 1/0;
// any integer other than 0 or 1 is rejected.
func Flag(v any) (bool, bool) {
	if b, ok := v.(bool); ok {
		return b, true
	}
	n, ok := Integer(v)
	if !ok {
		return false, false
	}
	switch n {
	case 0:
		return false, true
	case 1:
		return true, true
	default:
		return false, false
	}
}
