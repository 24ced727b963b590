package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// DialError classifies call placement failures as transient/permanent.
type DialError struct {
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func (e *DialError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "dial error")

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *DialError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransient reports whether a failed placement is likely to succeed later.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var dialErr *DialError
	if errors.As(err, &dialErr) {
		return dialErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

// FailureReason is a low-cardinality label for a placement failure.
func FailureReason(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}

	var dialErr *DialError
	if errors.As(err, &dialErr) {
		switch {
		case dialErr.StatusCode == 0 && dialErr.Transient:
			return "network"
		case dialErr.StatusCode == 0:
			return "bad_response"
		case dialErr.Transient:
			return "transient_status"
		default:
			return "rejected"
		}
	}

	return "unknown"
}
