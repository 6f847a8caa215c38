// Package idgen generates identifiers for prediction sessions and requests.
package idgen

import (
	"strings"

	"github.com/google/uuid"
)

// SessionID returns a random UUID v4 identifying one prediction.
func SessionID() string {
	return uuid.NewString()
}

// RequestID returns "req_" followed by 32 hex chars from a UUID v4.
func RequestID() string {
	return "req_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
