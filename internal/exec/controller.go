// Package exec implements the remote execution core: chunked code
// upload with stop-and-wait acknowledgement, the execution state
// machine mirrored from the hub, and demultiplexing of the hub's
// notification stream into ordered output events.
package exec

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/srg/spikelink/internal/frame"
	"github.com/srg/spikelink/internal/link"
)

// ControllerState mirrors the hub-side execution progress locally so
// the host knows what to await.
type ControllerState int

const (
	StateIdle ControllerState = iota
	StateAwaitingUpload
	StateAwaitingExecAck
	StateRunning
	StateCompleted
	StateFailed
)

var controllerStateNames = map[ControllerState]string{
	StateIdle:            "Idle",
	StateAwaitingUpload:  "AwaitingUpload",
	StateAwaitingExecAck: "AwaitingExecAck",
	StateRunning:         "Running",
	StateCompleted:       "Completed",
	StateFailed:          "Failed",
}

func (s ControllerState) String() string {
	if name, ok := controllerStateNames[s]; ok {
		return name
	}
	return "Unknown"
}

// RunOptions name the hub-side destination of a run.
type RunOptions struct {
	Slot uint8
	Name string
}

// Controller owns one session's execution pipeline. One job may be in
// flight at a time; a second Execute while one is live fails
// synchronously with SessionBusy rather than queuing, since the hub
// runs one program at a time and silent queuing would hide ordering
// bugs from the caller.
type Controller struct {
	link     link.Link
	cfg      *Config
	demux    *Demux
	uploader *Uploader
	logger   *logrus.Logger

	mu          sync.Mutex
	state       ControllerState
	record      *ExecutionRecord
	cancel      context.CancelFunc // cancels the in-flight run goroutine
	sessionHeld bool               // session claimed for c.record, not yet released
}

// NewController wires the demux into the link's notification stream
// and registers the loss handler that fails in-flight work when the
// link drops.
func NewController(l link.Link, cfg *Config, logger *logrus.Logger) (*Controller, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}

	demux := NewDemux(logger)
	c := &Controller{
		link:     l,
		cfg:      cfg,
		demux:    demux,
		uploader: NewUploader(l, cfg, demux.Acks(), logger),
		logger:   logger,
		state:    StateIdle,
	}

	if err := l.Subscribe(demux.HandleNotification); err != nil {
		return nil, err
	}
	l.OnLoss(c.handleLinkLoss)
	return c, nil
}

// State returns the controller's current state.
func (c *Controller) State() ControllerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Execute starts a remote run of source. The synchronous part only
// validates and reserves the session; the transfer and handshake are
// driven in the background, and the returned record's event sequence
// reports progress. A run is in flight until the record terminates.
func (c *Controller) Execute(ctx context.Context, source []byte, opts RunOptions) (*ExecutionRecord, error) {
	session := c.link.Session()
	if !session.Connected() {
		return nil, link.ErrNotConnected
	}

	c.mu.Lock()
	if c.record != nil && !c.record.State().Terminal() {
		c.mu.Unlock()
		return nil, Errorf(SessionBusy, "a job is already in flight on session %s", session.ID())
	}
	// A terminal record admits the next run immediately. When its
	// finisher has not released the session yet, the existing hold is
	// handed to this run instead of re-claiming it.
	if !c.sessionHeld && !session.SetExecuting(true) {
		c.mu.Unlock()
		return nil, Errorf(SessionBusy, "session %s is busy", session.ID())
	}
	c.sessionHeld = true
	if c.cancel != nil {
		c.cancel()
	}

	jobID := uuid.New()
	record := NewExecutionRecord(jobID, c.cfg.EventBuffer)
	runCtx, cancel := context.WithCancel(ctx)
	c.record = record
	c.cancel = cancel
	c.state = StateAwaitingUpload
	c.mu.Unlock()

	c.demux.SetRecord(record)

	c.logger.WithFields(logrus.Fields{
		"job":   jobID,
		"bytes": len(source),
		"slot":  opts.Slot,
		"name":  opts.Name,
	}).Info("Starting remote execution")

	go c.run(runCtx, record, source, opts)
	return record, nil
}

// run drives upload → exec request → running → terminal.
func (c *Controller) run(ctx context.Context, record *ExecutionRecord, source []byte, opts RunOptions) {
	defer c.finish(record)

	job, err := c.uploader.Upload(ctx, record.JobID(), source)
	if err != nil {
		e := classify(err)
		c.logger.WithFields(logrus.Fields{
			"job":   record.JobID(),
			"state": job.State,
			"error": err,
		}).Error("Upload failed")
		c.fail(record, e.Kind, e.Msg)
		return
	}

	c.setState(StateAwaitingExecAck)
	if err := c.requestExecution(ctx, record, opts); err != nil {
		e := classify(err)
		c.fail(record, e.Kind, e.Msg)
		return
	}
	if record.State().Terminal() {
		// Rejected by the hub before it started running.
		return
	}

	c.setState(StateRunning)
	record.SetRunning()

	// The demux finalizes the record on Done/ErrorReport; here we only
	// bound the wait.
	var execTimeout <-chan time.Time
	if c.cfg.ExecTimeout > 0 {
		timer := time.NewTimer(c.cfg.ExecTimeout)
		defer timer.Stop()
		execTimeout = timer.C
	}

	select {
	case <-record.Done():
	case <-execTimeout:
		c.fail(record, Timeout, "hub did not finish within the execution timeout")
	case <-ctx.Done():
		e := classify(ctx.Err())
		c.fail(record, e.Kind, "execution abandoned: "+e.Msg)
	}
}

// requestExecution sends the ExecRequest and waits for the hub's
// verdict. An ExecReject terminalizes the record with the hub's
// message.
func (c *Controller) requestExecution(ctx context.Context, record *ExecutionRecord, opts RunOptions) error {
	session := c.link.Session()
	buf, err := frame.Encode(frame.Frame{
		Type: frame.TypeExecRequest,
		Seq:  session.NextSeq(),
		Payload: frame.EncodeExecRequest(frame.ExecRequest{
			JobID: record.JobID(),
			Slot:  opts.Slot,
			Name:  opts.Name,
		}),
	})
	if err != nil {
		return err
	}
	if err := c.link.Write(ctx, buf); err != nil {
		return err
	}

	timer := time.NewTimer(c.cfg.ExecAckTimeout)
	defer timer.Stop()

	for {
		select {
		case f := <-c.demux.Ctrl():
			jobID, rest, err := frame.DecodeJobID(f.Payload)
			if err != nil {
				c.logger.WithField("error", err).Warn("Skipping malformed exec handshake frame")
				continue
			}
			if jobID != record.JobID() {
				c.logger.WithField("frame_job", jobID).Warn("Skipping exec handshake for unknown job")
				continue
			}
			if f.Type == frame.TypeExecReject {
				c.logger.WithFields(logrus.Fields{
					"job":    jobID,
					"reason": string(rest),
				}).Error("Hub rejected execution request")
				c.fail(record, ExecRejected, string(rest))
				return nil
			}
			c.logger.WithField("job", jobID).Debug("Hub accepted execution request")
			return nil
		case <-timer.C:
			return Errorf(Timeout, "no exec ack from hub within %s", c.cfg.ExecAckTimeout)
		case <-ctx.Done():
			return classify(ctx.Err())
		}
	}
}

// fail terminalizes the record; the first failure wins.
func (c *Controller) fail(record *ExecutionRecord, kind ErrorKind, msg string) {
	record.Fail(kind, msg)
}

// finish records the terminal controller state and releases the
// session under the controller lock, so a caller admitted after the
// record terminated never observes a half-released session. When a
// later Execute already took over the record slot, the hold belongs
// to that run and finish leaves it alone.
func (c *Controller) finish(record *ExecutionRecord) {
	<-record.Done()

	c.mu.Lock()
	if c.record == record {
		if record.State() == RecordCompleted {
			c.state = StateCompleted
		} else {
			c.state = StateFailed
		}
		if c.cancel != nil {
			c.cancel()
			c.cancel = nil
		}
		c.link.Session().SetExecuting(false)
		c.sessionHeld = false
	}
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"job":   record.JobID(),
		"state": record.State().String(),
	}).Info("Remote execution finished")
}

func (c *Controller) setState(s ControllerState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger.WithFields(logrus.Fields{
		"from": c.state.String(),
		"to":   s.String(),
	}).Debug("Controller state transition")
	c.state = s
}

// Abort cancels the in-flight job, if any, transitioning its record to
// Failed with kind Cancelled. Safe to call from a different goroutine
// than the one awaiting the run, and a no-op when nothing is in
// flight.
func (c *Controller) Abort() {
	c.mu.Lock()
	record := c.record
	cancel := c.cancel
	c.mu.Unlock()

	if record == nil || record.State().Terminal() {
		return
	}
	c.logger.WithField("job", record.JobID()).Info("Aborting in-flight job")
	record.Fail(Cancelled, "job aborted by caller")
	if cancel != nil {
		cancel()
	}
}

// handleLinkLoss fails in-flight work deterministically when the
// transport drops, so callers awaiting the event sequence observe an
// Error(LinkLost) instead of hanging.
func (c *Controller) handleLinkLoss(err error) {
	c.mu.Lock()
	record := c.record
	c.mu.Unlock()

	if record != nil && !record.State().Terminal() {
		c.logger.WithField("job", record.JobID()).Warn("Link lost with job in flight")
		msg := "link lost during execution"
		if err != nil {
			msg = err.Error()
		}
		record.Fail(LinkLost, msg)
	}
}
