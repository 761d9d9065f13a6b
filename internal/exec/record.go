package exec

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/srg/spikelink/internal/frame"
)

// RecordState is the lifecycle of one remote run.
type RecordState int

const (
	RecordRequested RecordState = iota
	RecordRunning
	RecordCompleted
	RecordFailed
)

var recordStateNames = map[RecordState]string{
	RecordRequested: "Requested",
	RecordRunning:   "Running",
	RecordCompleted: "Completed",
	RecordFailed:    "Failed",
}

func (s RecordState) String() string {
	if name, ok := recordStateNames[s]; ok {
		return name
	}
	return "Unknown"
}

// Terminal reports whether s is an end state.
func (s RecordState) Terminal() bool {
	return s == RecordCompleted || s == RecordFailed
}

// EventType tags an OutputEvent variant.
type EventType int

const (
	EventLine EventType = iota
	EventError
	EventDone
)

// ExitInfo describes how a completed run ended on the hub.
type ExitInfo struct {
	Status uint8
}

// Success reports whether the hub finished the program cleanly.
func (e ExitInfo) Success() bool {
	return e.Status == 0
}

// OutputEvent is one element of the run's output sequence: a hub
// output line, a structured error, or the terminal Done marker.
// Exactly one variant is meaningful per Type.
type OutputEvent struct {
	Type    EventType
	Stream  frame.Stream // Line: which hub stream the text came from
	Text    string       // Line: line text; Error: message
	ErrKind ErrorKind    // Error only
	Exit    ExitInfo     // Done only
}

// ExecutionRecord represents one remote run: its job identifier, state,
// accumulated output and terminal error. Output is exposed to the
// caller as a lazy, finite, non-restartable event sequence.
type ExecutionRecord struct {
	jobID uuid.UUID

	mu    sync.Mutex
	state RecordState
	lines []string
	err   *Error

	events   chan OutputEvent // line events, never closed
	terminal chan OutputEvent // guaranteed slot for the terminal event
	out      chan OutputEvent // consumer side, closed after the terminal event
	closed   chan struct{}    // closed once the record is terminal
}

// NewExecutionRecord creates a record in the Requested state and
// starts its event forwarder.
func NewExecutionRecord(jobID uuid.UUID, buffer int) *ExecutionRecord {
	if buffer <= 0 {
		buffer = 1
	}
	r := &ExecutionRecord{
		jobID:    jobID,
		state:    RecordRequested,
		events:   make(chan OutputEvent, buffer),
		terminal: make(chan OutputEvent, 1),
		out:      make(chan OutputEvent, buffer),
		closed:   make(chan struct{}),
	}
	go r.forward()
	return r
}

// forward moves events to the consumer channel, giving callers a
// range-able finite sequence: once the record terminates it drains
// the buffered lines, appends the terminal event and closes the
// channel. The terminal event travels on its own one-slot channel so
// terminalization never waits on the consumer.
func (r *ExecutionRecord) forward() {
	for {
		select {
		case ev := <-r.events:
			r.out <- ev
		case <-r.closed:
			for {
				select {
				case ev := <-r.events:
					r.out <- ev
				default:
					r.out <- <-r.terminal
					close(r.out)
					return
				}
			}
		}
	}
}

// emit enqueues a line event unless the record already terminated
// while the producer was blocked.
func (r *ExecutionRecord) emit(ev OutputEvent) {
	select {
	case <-r.closed:
		return
	default:
	}
	select {
	case r.events <- ev:
	case <-r.closed:
	}
}

// JobID returns the identifier of the associated upload job.
func (r *ExecutionRecord) JobID() uuid.UUID {
	return r.jobID
}

// State returns the current record state.
func (r *ExecutionRecord) State() RecordState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Err returns the terminal error, or nil while the run is live or
// after clean completion.
func (r *ExecutionRecord) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == nil {
		return nil
	}
	return r.err
}

// Lines returns a copy of the output accumulated so far, in delivery
// order.
func (r *ExecutionRecord) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.lines))
	copy(out, r.lines)
	return out
}

// Events returns the run's event sequence. The channel is closed once
// the record reaches Completed or Failed; the terminal Error/Done
// event is always the last element.
func (r *ExecutionRecord) Events() <-chan OutputEvent {
	return r.out
}

// Done is closed when the record reaches a terminal state.
func (r *ExecutionRecord) Done() <-chan struct{} {
	return r.closed
}

// Wait blocks until the record terminates or ctx expires. It returns
// the terminal error for failed runs.
func (r *ExecutionRecord) Wait(ctx context.Context) error {
	select {
	case <-r.closed:
		return r.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetRunning moves Requested → Running once the hub acknowledges the
// execution request.
func (r *ExecutionRecord) SetRunning() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == RecordRequested {
		r.state = RecordRunning
	}
}

// AppendLine appends one hub output line. Lines arriving after the
// record terminated are discarded.
func (r *ExecutionRecord) AppendLine(stream frame.Stream, text string) {
	r.mu.Lock()
	if r.state.Terminal() {
		r.mu.Unlock()
		return
	}
	r.lines = append(r.lines, text)
	r.mu.Unlock()

	r.emit(OutputEvent{Type: EventLine, Stream: stream, Text: text})
}

// Complete finalizes the record as Completed and emits the Done event.
// Later terminalization attempts are no-ops.
func (r *ExecutionRecord) Complete(exit ExitInfo) {
	r.mu.Lock()
	if r.state.Terminal() {
		r.mu.Unlock()
		return
	}
	r.state = RecordCompleted
	r.mu.Unlock()

	r.terminal <- OutputEvent{Type: EventDone, Exit: exit}
	close(r.closed)
}

// Fail finalizes the record as Failed with the given kind and emits
// the Error event. Later terminalization attempts are no-ops, so the
// first failure wins.
func (r *ExecutionRecord) Fail(kind ErrorKind, msg string) {
	r.mu.Lock()
	if r.state.Terminal() {
		r.mu.Unlock()
		return
	}
	r.state = RecordFailed
	r.err = &Error{Kind: kind, Msg: msg}
	r.mu.Unlock()

	r.terminal <- OutputEvent{Type: EventError, ErrKind: kind, Text: msg}
	close(r.closed)
}
