// File: internal/senza/classify.go
// Brief: Failure classification of senza invocations.

package senza

import (
	"context"
	"errors"
	"strings"
)

// Failure classes reported by ExecutionError.Class.
const (
	ClassRateLimit   = "RATE_LIMIT"
	ClassTimeout     = "TIMEOUT"
	ClassTransport   = "TRANSPORT"
	ClassNotFound    = "NOT_FOUND"
	ClassCredentials = "CREDENTIALS"
	ClassDecode      = "DECODE"
	ClassOther       = "OTHER"
)

// Class buckets the failure by its error and captured output so log
// records can be grouped.
func (e *ExecutionError) Class() string {
	if e == nil {
		return ""
	}
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	msg := strings.ToLower(e.Output)
	if e.Err != nil {
		msg += " " + strings.ToLower(e.Err.Error())
	}
	switch {
	case strings.Contains(msg, "decode json output"):
		return ClassDecode
	case strings.Contains(msg, "throttling") || strings.Contains(msg, "rate exceeded") || strings.Contains(msg, "too many requests"):
		return ClassRateLimit
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		return ClassTimeout
	case strings.Contains(msg, "connection reset") || strings.Contains(msg, "broken pipe") || strings.Contains(msg, "could not connect"):
		return ClassTransport
	case strings.Contains(msg, "does not exist") || strings.Contains(msg, "no matching stacks"):
		return ClassNotFound
	case strings.Contains(msg, "expiredtoken") || strings.Contains(msg, "unable to locate credentials") || strings.Contains(msg, "accessdenied"):
		return ClassCredentials
	default:
		return ClassOther
	}
}

func errorClass(err error) string {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Class()
	}
	return ClassOther
}
