package exec

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/srg/spikelink/internal/frame"
)

// Demux routes inbound hub frames to their consumers: chunk acks to
// the uploader, exec handshake frames to the controller, and output
// frames to the active execution record. It is the single place the
// hub-to-host sequence discipline is enforced.
//
// HandleNotification is the link's notification handler, so every
// method it calls runs on the link's delivery goroutine and frames are
// processed strictly in arrival order.
type Demux struct {
	logger *logrus.Logger

	mu      sync.Mutex
	lastSeq uint32
	seen    bool
	record  *ExecutionRecord

	acks chan frame.Frame // ChunkAck / LastChunkAck, consumed by the uploader
	ctrl chan frame.Frame // ExecAck / ExecReject, consumed by the controller
}

// NewDemux creates a demultiplexer. The ack and control channels are
// buffered one deep: stop-and-wait upstream means at most one
// handshake frame is ever outstanding per direction.
func NewDemux(logger *logrus.Logger) *Demux {
	if logger == nil {
		logger = logrus.New()
	}
	return &Demux{
		logger: logger,
		acks:   make(chan frame.Frame, 1),
		ctrl:   make(chan frame.Frame, 1),
	}
}

// Acks is the uploader's view of chunk acknowledgements.
func (d *Demux) Acks() <-chan frame.Frame {
	return d.acks
}

// Ctrl is the controller's view of execution handshake frames.
func (d *Demux) Ctrl() <-chan frame.Frame {
	return d.ctrl
}

// SetRecord activates the record that output frames are appended to.
func (d *Demux) SetRecord(r *ExecutionRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record = r
}

// ActiveRecord returns the record currently receiving output, or nil.
func (d *Demux) ActiveRecord() *ExecutionRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.record
}

// Reset clears sequence tracking and the active record for a fresh
// session. Pending handshake frames from the dead session are drained.
func (d *Demux) Reset() {
	d.mu.Lock()
	d.record = nil
	d.seen = false
	d.lastSeq = 0
	d.mu.Unlock()

	for {
		select {
		case <-d.acks:
		case <-d.ctrl:
		default:
			return
		}
	}
}

// HandleNotification decodes and routes one inbound notification.
// Malformed or checksum-mismatched buffers are dropped before any
// routing so corrupted data never reaches higher layers.
func (d *Demux) HandleNotification(data []byte) {
	f, err := frame.Decode(data)
	if err != nil {
		d.logger.WithFields(logrus.Fields{
			"len":   len(data),
			"error": err,
		}).Warn("Dropping undecodable notification")
		return
	}

	if !d.admit(f) {
		return
	}

	switch f.Type {
	case frame.TypeChunkAck, frame.TypeLastChunkAck:
		d.deliverHandshake(d.acks, f)
	case frame.TypeExecAck, frame.TypeExecReject:
		d.deliverHandshake(d.ctrl, f)
	case frame.TypeOutputLine:
		d.handleOutputLine(f)
	case frame.TypeErrorReport:
		d.handleErrorReport(f)
	case frame.TypeDone:
		d.handleDone(f)
	default:
		d.logger.WithField("frame", f.String()).Debug("Ignoring unexpected frame type")
	}
}

// admit enforces the per-direction sequence invariant: duplicates (at
// or below the last delivered sequence) are dropped, and a gap fails
// the active record with StreamGap because silent output loss must
// never look like success. The transport's stop-and-wait discipline
// makes true reordering impossible absent a link bug, so no
// reassembly is attempted.
func (d *Demux) admit(f frame.Frame) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.seen {
		d.seen = true
		d.lastSeq = f.Seq
		return true
	}

	if f.Seq <= d.lastSeq {
		d.logger.WithFields(logrus.Fields{
			"frame":    f.String(),
			"last_seq": d.lastSeq,
		}).Debug("Dropping duplicate frame")
		return false
	}

	if f.Seq != d.lastSeq+1 {
		d.logger.WithFields(logrus.Fields{
			"frame":    f.String(),
			"last_seq": d.lastSeq,
		}).Error("Sequence gap in hub stream")
		d.lastSeq = f.Seq
		if d.record != nil {
			rec := d.record
			d.mu.Unlock()
			rec.Fail(StreamGap, "hub stream skipped sequence numbers, output was lost")
			d.mu.Lock()
		}
		return false
	}

	d.lastSeq = f.Seq
	return true
}

// deliverHandshake hands a handshake frame to its waiter without ever
// blocking the delivery goroutine. With stop-and-wait flow control a
// full channel means the frame is a late straggler nobody waits for.
func (d *Demux) deliverHandshake(ch chan frame.Frame, f frame.Frame) {
	select {
	case ch <- f:
	default:
		d.logger.WithField("frame", f.String()).Debug("Dropping unawaited handshake frame")
	}
}

func (d *Demux) handleOutputLine(f frame.Frame) {
	rec := d.ActiveRecord()
	if rec == nil {
		d.logger.WithField("frame", f.String()).Debug("Output line with no active run")
		return
	}
	stream, text, err := frame.DecodeOutputLine(f.Payload)
	if err != nil {
		d.logger.WithField("error", err).Warn("Dropping malformed output line")
		return
	}
	rec.AppendLine(stream, text)
}

func (d *Demux) handleErrorReport(f frame.Frame) {
	rec := d.ActiveRecord()
	if rec == nil {
		d.logger.WithField("frame", f.String()).Debug("Error report with no active run")
		return
	}
	jobID, rest, err := frame.DecodeJobID(f.Payload)
	if err != nil {
		d.logger.WithField("error", err).Warn("Dropping malformed error report")
		return
	}
	if jobID != rec.JobID() {
		d.logger.WithFields(logrus.Fields{
			"frame_job":  jobID,
			"active_job": rec.JobID(),
		}).Warn("Error report for unknown job")
		return
	}
	rec.Fail(HubError, string(rest))
}

func (d *Demux) handleDone(f frame.Frame) {
	rec := d.ActiveRecord()
	if rec == nil {
		d.logger.WithField("frame", f.String()).Debug("Done frame with no active run")
		return
	}
	jobID, rest, err := frame.DecodeJobID(f.Payload)
	if err != nil {
		d.logger.WithField("error", err).Warn("Dropping malformed done frame")
		return
	}
	if jobID != rec.JobID() {
		d.logger.WithFields(logrus.Fields{
			"frame_job":  jobID,
			"active_job": rec.JobID(),
		}).Warn("Done frame for unknown job")
		return
	}
	var exit ExitInfo
	if len(rest) > 0 {
		exit.Status = rest[0]
	}
	rec.Complete(exit)
}
