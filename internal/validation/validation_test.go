package validation

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestInteger(t *testing.T) {
	tests := []struct {
		name   string
		input  any
		want   int
		wantOK bool
	}{
		{"float64 integral", float64(60), 60, true},
		{"float64 fractional", 60.5, 0, false},
		{"json number", json.Number("170"), 170, true},
		{"json number fractional", json.Number("1.5"), 0, false},
		{"numeric string", "42", 42, true},
		{"padded string", " 42 ", 42, true},
		{"non numeric string", "abc", 0, false},
		{"bool", true, 0, false},
		{"nil", nil, 0, false},
		{"int", 7, 7, true},
		{"beyond int32", 1e12, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Integer(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseInteger_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  error
	}{
		{"huge float", 1e12, ErrIntTooLarge},
		{"huge negative", -1e12, ErrIntTooLarge},
		{"huge string", "99999999999", ErrIntTooLarge},
		{"overflowing string", "1e400", ErrIntTooLarge},
		{"huge json number", json.Number("5000000000"), ErrIntTooLarge},
		{"fraction", 1.5, ErrNotInteger},
		{"text", "abc", ErrNotInteger},
		{"bool", false, ErrNotInteger},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseInteger(tt.input)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestFlag(t *testing.T) {
	tests := []struct {
		input  any
		want   bool
		wantOK bool
	}{
		{true, true, true},
		{false, false, true},
		{float64(1), true, true},
		{float64(0), false, true},
		{"1", true, true},
		{float64(2), false, false},
		{"yes", false, false},
		{nil, false, false},
	}

	for _, tt := range tests {
		got, ok := Flag(tt.input)
		assert.Equal(t, tt.wantOK, ok, "input %v", tt.input)
		assert.Equal(t, tt.want, got, "input %v", tt.input)
	}
}

func TestErrors_Error(t *testing.T) {
	assert.Equal(t, "validation failed", Errors{}.Error())

	errs := Errors{Missing("age"), OutOfRange("height", 100, 250)}
	msg := errs.Error()
	assert.Contains(t, msg, "age: is required")
	assert.Contains(t, msg, "height: must be between 100 and 250")
}

func TestErrors_Has(t *testing.T) {
	errs := Errors{Missing("age"), Invalid("gender", "must be 1 or 2")}

	assert.True(t, errs.Has("age", CodeMissingField))
	assert.True(t, errs.Has("gender", CodeInvalidFieldValue))
	assert.False(t, errs.Has("gender", CodeOutOfRange))
	assert.False(t, errs.Has("weight", CodeMissingField))
}

func TestRequestSizeMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestSizeMiddleware(16))
	r.POST("/echo", func(c *gin.Context) {
		var body map[string]any
		if err := c.ShouldBindJSON(&body); err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(`{"a":1}`))
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(`{"a":"`+strings.Repeat("x", 64)+`"}`))
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
