package link

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a transport-level failure.
type ErrorKind string

const (
	NotFound         ErrorKind = "not_found"
	Timeout          ErrorKind = "timeout"
	LinkLost         ErrorKind = "link_lost"
	PermissionDenied ErrorKind = "permission_denied"
	MtuTooSmall      ErrorKind = "mtu_too_small"
	VersionMismatch  ErrorKind = "version_mismatch"
	Busy             ErrorKind = "busy"
	NotConnected     ErrorKind = "not_connected"
	Cancelled        ErrorKind = "cancelled"
)

// Error represents any transport link problem.
type Error struct {
	Kind ErrorKind
	Msg  string
}

// Error implements the error interface
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Is allows errors.Is to compare link errors by Kind
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Predefined sentinel errors for each failure kind
var (
	ErrNotFound         = &Error{Kind: NotFound}
	ErrTimeout          = &Error{Kind: Timeout}
	ErrLinkLost         = &Error{Kind: LinkLost}
	ErrPermissionDenied = &Error{Kind: PermissionDenied}
	ErrMtuTooSmall      = &Error{Kind: MtuTooSmall}
	ErrVersionMismatch  = &Error{Kind: VersionMismatch}
	ErrBusy             = &Error{Kind: Busy}
	ErrNotConnected     = &Error{Kind: NotConnected}
	ErrCancelled        = &Error{Kind: Cancelled}
)

// Errorf builds a link error of the given kind with a formatted message.
func Errorf(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the ErrorKind from err, or "" if err is not a link error.
func KindOf(err error) ErrorKind {
	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr.Kind
	}
	return ""
}

// NormalizeError maps known go-ble error strings to structured link errors.
// It ensures consistent handling even if the upstream library changes
// messages slightly. Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "context deadline exceeded"):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case containsIgnoreCase(msg, "device not connected"),
		containsIgnoreCase(msg, "connection canceled"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "permission"),
		containsIgnoreCase(msg, "not authorized"):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	default:
		return err
	}
}

// containsIgnoreCase checks substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
