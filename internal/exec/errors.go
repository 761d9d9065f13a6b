package exec

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/spikelink/internal/link"
)

// ErrorKind classifies why an upload or execution failed.
type ErrorKind string

const (
	// ChunkTimeout: a chunk exhausted its retries without an ack.
	ChunkTimeout ErrorKind = "chunk_timeout"
	// StreamGap: the hub's notification sequence skipped ahead,
	// meaning output was lost in flight.
	StreamGap ErrorKind = "stream_gap"
	// SessionBusy: an execute was attempted while another run is in
	// flight on the same session.
	SessionBusy ErrorKind = "session_busy"
	// ExecRejected: the hub refused the execution request.
	ExecRejected ErrorKind = "exec_rejected"
	// HubError: the hub reported a runtime failure (a MicroPython
	// exception) while the program was running.
	HubError ErrorKind = "hub_error"
	// Timeout: a bounded wait expired.
	Timeout ErrorKind = "timeout"
	// LinkLost: the BLE link dropped mid-job.
	LinkLost ErrorKind = "link_lost"
	// Cancelled: the job was aborted by the caller.
	Cancelled ErrorKind = "cancelled"
)

// Error represents a protocol-level execution failure.
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

// Is allows errors.Is to compare exec errors by Kind
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
	ErrChunkTimeout = &Error{Kind: ChunkTimeout}
	ErrStreamGap    = &Error{Kind: StreamGap}
	ErrSessionBusy  = &Error{Kind: SessionBusy}
	ErrExecRejected = &Error{Kind: ExecRejected}
	ErrHubError     = &Error{Kind: HubError}
	ErrTimeout      = &Error{Kind: Timeout}
	ErrLinkLost     = &Error{Kind: LinkLost}
	ErrCancelled    = &Error{Kind: Cancelled}
)

// Errorf builds an exec error of the given kind with a formatted message.
func Errorf(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// classify maps an arbitrary error from the transport or a context to
// the exec taxonomy, preserving the message.
func classify(err error) *Error {
	if err == nil {
		return nil
	}
	var eerr *Error
	if errors.As(err, &eerr) {
		return eerr
	}
	switch {
	case errors.Is(err, link.ErrLinkLost), errors.Is(err, link.ErrNotConnected):
		return &Error{Kind: LinkLost, Msg: err.Error()}
	case errors.Is(err, link.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: Timeout, Msg: err.Error()}
	case errors.Is(err, link.ErrCancelled), errors.Is(err, context.Canceled):
		return &Error{Kind: Cancelled, Msg: err.Error()}
	default:
		// Anything else out of the transport means the link is no
		// longer usable for this job.
		return &Error{Kind: LinkLost, Msg: err.Error()}
	}
}
