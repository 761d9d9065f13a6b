// Package hub is the host-facing surface of spikelink: connect to a
// LEGO SPIKE hub over BLE, run MicroPython source on it, and consume
// the hub's output as an ordered, finite event stream.
//
//	h, err := hub.Connect(ctx, hub.Filter{}, nil)
//	if err != nil { ... }
//	defer h.Close()
//
//	run, err := h.Run(ctx, source, hub.RunOptions{Slot: 0, Name: "program.py"})
//	if err != nil { ... }
//	for ev := range run.Events() {
//	    ...
//	}
package hub

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/spikelink/internal/exec"
	"github.com/srg/spikelink/internal/link"
	"github.com/srg/spikelink/internal/link/goble"
	"github.com/srg/spikelink/internal/stub"
)

// Filter selects the hub to connect to. A zero Filter picks the first
// device advertising the SPIKE service.
type Filter = link.Filter

// RunOptions name the hub-side destination of a run.
type RunOptions = exec.RunOptions

// OutputEvent is one element of a run's output sequence.
type OutputEvent = exec.OutputEvent

// Event type tags, re-exported for consumers.
const (
	EventLine  = exec.EventLine
	EventError = exec.EventError
	EventDone  = exec.EventDone
)

// Options configures a connection beyond the defaults.
type Options struct {
	// ScanTimeout bounds hub discovery when the filter has no address.
	ScanTimeout time.Duration
	// ConnectTimeout bounds dialing plus the info handshake.
	ConnectTimeout time.Duration
	// Protocol overrides the protocol timing defaults.
	Protocol *exec.Config
	// Catalog overrides the embedded stub catalog used for import
	// validation. Nil selects the default.
	Catalog *stub.Catalog
	// Dialer overrides the transport; nil selects go-ble. Used by
	// tests and simulators.
	Dialer link.Dialer
	// Logger for the connection; nil gets a default logger.
	Logger *logrus.Logger
}

func (o *Options) withDefaults() *Options {
	opts := &Options{}
	if o != nil {
		*opts = *o
	}
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = 10 * time.Second
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	if opts.Protocol == nil {
		opts.Protocol = exec.DefaultConfig()
	}
	if opts.Catalog == nil {
		opts.Catalog = stub.Default()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Dialer == nil {
		opts.Dialer = goble.NewDialer(opts.Logger)
	}
	return opts
}

// Hub is an established connection to one SPIKE hub.
type Hub struct {
	link       link.Link
	controller *exec.Controller
	catalog    *stub.Catalog
	logger     *logrus.Logger
}

// Connect establishes a session with a hub matching filter. The
// returned Hub is ready to run code; Close releases it.
func Connect(ctx context.Context, filter Filter, opts *Options) (*Hub, error) {
	o := opts.withDefaults()

	l, err := o.Dialer.Dial(ctx, filter, link.ConnectOptions{
		ScanTimeout:    o.ScanTimeout,
		ConnectTimeout: o.ConnectTimeout,
	})
	if err != nil {
		return nil, err
	}

	controller, err := exec.NewController(l, o.Protocol, o.Logger)
	if err != nil {
		if discErr := l.Disconnect(); discErr != nil {
			o.Logger.WithField("error", discErr).Warn("Disconnect after failed controller setup")
		}
		return nil, err
	}

	o.Logger.WithFields(logrus.Fields{
		"hub":     l.Session().ID(),
		"mtu":     l.Session().MTU(),
		"version": l.Session().Version(),
	}).Info("Hub session established")

	return &Hub{
		link:       l,
		controller: controller,
		catalog:    o.Catalog,
		logger:     o.Logger,
	}, nil
}

// Session exposes the read-only session state (MTU, version, state).
func (h *Hub) Session() *link.Session {
	return h.link.Session()
}

// Run validates source against the stub catalog, uploads it, and
// starts remote execution. The returned Run's event sequence reports
// progress; errors that can be detected before any wire traffic
// (unknown modules, busy session) are returned synchronously.
func (h *Hub) Run(ctx context.Context, source []byte, opts RunOptions) (*Run, error) {
	if err := h.catalog.Validate(source); err != nil {
		return nil, err
	}
	if opts.Name == "" {
		opts.Name = "program.py"
	}

	record, err := h.controller.Execute(ctx, source, opts)
	if err != nil {
		return nil, err
	}

	return &Run{record: record, controller: h.controller}, nil
}

// Close aborts any in-flight run and disconnects. Idempotent.
func (h *Hub) Close() error {
	h.controller.Abort()
	return h.link.Disconnect()
}

// Run is one remote execution in progress or finished.
type Run struct {
	record     *exec.ExecutionRecord
	controller *exec.Controller
}

// Events returns the run's lazy, finite, non-restartable output
// sequence. The channel closes once the run reaches a terminal state;
// the final element is always an Error or Done event.
func (r *Run) Events() <-chan OutputEvent {
	return r.record.Events()
}

// Wait blocks until the run terminates or ctx expires, returning the
// terminal error for failed runs.
func (r *Run) Wait(ctx context.Context) error {
	return r.record.Wait(ctx)
}

// Done is closed when the run reaches a terminal state.
func (r *Run) Done() <-chan struct{} {
	return r.record.Done()
}

// Lines returns the output accumulated so far.
func (r *Run) Lines() []string {
	return r.record.Lines()
}

// Err returns the terminal error, or nil.
func (r *Run) Err() error {
	return r.record.Err()
}

// Abort cancels the run; its event sequence ends with
// Error(Cancelled). Safe to call from any goroutine.
func (r *Run) Abort() {
	r.controller.Abort()
}
