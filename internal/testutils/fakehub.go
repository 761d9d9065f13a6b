// Package testutils provides a scripted in-memory hub link for
// protocol tests: it plays the hub side of the wire protocol without
// any radio, with knobs for dropping acks, rejecting execution,
// injecting sequence gaps and simulating link loss.
package testutils

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/srg/spikelink/internal/frame"
	"github.com/srg/spikelink/internal/link"
)

// ScriptedOutput is what the fake hub streams after accepting an
// execution request.
type ScriptedOutput struct {
	Lines []ScriptedLine
	// ErrorMessage, when set, ends the run with an ErrorReport instead
	// of Done.
	ErrorMessage string
	// ExitStatus is the Done payload status byte.
	ExitStatus uint8
}

// ScriptedLine is one hub output line.
type ScriptedLine struct {
	Stream frame.Stream
	Text   string
}

// Behavior configures how the fake hub misbehaves.
type Behavior struct {
	// DropAcksFor maps a chunk index to how many of its acks to
	// swallow before acking normally.
	DropAcksFor map[uint32]int
	// RejectExec, when set, answers ExecRequest with ExecReject
	// carrying this message.
	RejectExec string
	// SuppressExecAck swallows ExecRequest entirely.
	SuppressExecAck bool
	// GapBeforeLine skips a hub sequence number before emitting the
	// output line with this index (1-based; 0 disables).
	GapBeforeLine int
	// SilentAfterAccept sends ExecAck but never any output, for
	// execution timeout tests.
	SilentAfterAccept bool
}

// FakeHub implements link.Link against a scripted hub.
type FakeHub struct {
	session  *link.Session
	logger   *logrus.Logger
	output   ScriptedOutput
	behavior Behavior

	rxSeq atomic.Uint32 // hub-to-host sequence counter

	mu          sync.Mutex
	handler     link.NotificationHandler
	lossHandler link.LossHandler
	written     []frame.Frame
	chunks      [][]byte
	dropped     map[uint32]int
	closed      bool

	deliverCh chan []byte
	done      chan struct{}
}

// NewFakeHub creates an established fake link with the given MTU. The
// session is already negotiated the way a real dialer leaves it.
func NewFakeHub(mtu int, output ScriptedOutput, behavior Behavior) *FakeHub {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	session := link.NewSession("FA:KE:HU:B0:00:01", logger)
	session.SetNegotiated(mtu, link.ProtocolVersion)

	dropped := make(map[uint32]int, len(behavior.DropAcksFor))
	for k, v := range behavior.DropAcksFor {
		dropped[k] = v
	}

	h := &FakeHub{
		session:   session,
		logger:    logger,
		output:    output,
		behavior:  behavior,
		dropped:   dropped,
		deliverCh: make(chan []byte, 64),
		done:      make(chan struct{}),
	}
	go h.deliver()
	return h
}

// Dialer returns a link.Dialer handing out this fake.
func (h *FakeHub) Dialer() link.Dialer {
	return fakeDialer{hub: h}
}

type fakeDialer struct {
	hub *FakeHub
}

func (d fakeDialer) Dial(_ context.Context, _ link.Filter, _ link.ConnectOptions) (link.Link, error) {
	return d.hub, nil
}

// Session implements link.Link.
func (h *FakeHub) Session() *link.Session {
	return h.session
}

// Subscribe implements link.Link.
func (h *FakeHub) Subscribe(handler link.NotificationHandler) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return link.ErrNotConnected
	}
	h.handler = handler
	return nil
}

// OnLoss implements link.Link.
func (h *FakeHub) OnLoss(handler link.LossHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lossHandler = handler
}

// Disconnect implements link.Link; idempotent.
func (h *FakeHub) Disconnect() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	close(h.deliverCh)
	<-h.done
	h.session.Transition(link.StateDisconnected)
	return nil
}

// TriggerLoss simulates an unexpected link drop.
func (h *FakeHub) TriggerLoss() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	lossHandler := h.lossHandler
	h.mu.Unlock()

	close(h.deliverCh)
	<-h.done
	h.session.Transition(link.StateDisconnected)
	if lossHandler != nil {
		lossHandler(link.ErrLinkLost)
	}
}

// Write implements link.Link: the fake hub consumes the frame and
// reacts the way the scripted hub would.
func (h *FakeHub) Write(_ context.Context, data []byte) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return link.ErrNotConnected
	}
	h.mu.Unlock()

	f, err := frame.Decode(data)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.written = append(h.written, f)
	h.mu.Unlock()

	switch f.Type {
	case frame.TypeInfoRequest:
		h.send(frame.TypeInfoResponse, frame.EncodeInfo(frame.Info{
			Version:       link.ProtocolVersion,
			MaxPacketSize: uint16(h.session.MTU()),
		}))
	case frame.TypeChunk:
		h.handleChunk(f)
	case frame.TypeLastChunk:
		h.handleLastChunk()
	case frame.TypeExecRequest:
		h.handleExecRequest(f)
	}
	return nil
}

func (h *FakeHub) handleChunk(f frame.Frame) {
	h.mu.Lock()
	index := uint32(len(h.chunks))
	if remaining, ok := h.dropped[index]; ok && remaining > 0 {
		h.dropped[index] = remaining - 1
		h.mu.Unlock()
		return // swallow: no ack, no assembly
	}
	h.chunks = append(h.chunks, f.Payload)
	h.mu.Unlock()

	h.send(frame.TypeChunkAck, frame.EncodeChunkAck(index))
}

func (h *FakeHub) handleLastChunk() {
	h.mu.Lock()
	index := uint32(len(h.chunks))
	h.mu.Unlock()
	h.send(frame.TypeLastChunkAck, frame.EncodeChunkAck(index))
}

func (h *FakeHub) handleExecRequest(f frame.Frame) {
	req, err := frame.DecodeExecRequest(f.Payload)
	if err != nil {
		return
	}
	if h.behavior.SuppressExecAck {
		return
	}
	if h.behavior.RejectExec != "" {
		h.send(frame.TypeExecReject, frame.EncodeJobID(req.JobID, []byte(h.behavior.RejectExec)))
		return
	}

	h.send(frame.TypeExecAck, frame.EncodeJobID(req.JobID, nil))
	if h.behavior.SilentAfterAccept {
		return
	}
	go h.streamOutput(req.JobID)
}

func (h *FakeHub) streamOutput(jobID uuid.UUID) {
	for i, line := range h.output.Lines {
		if h.behavior.GapBeforeLine > 0 && h.behavior.GapBeforeLine == i+1 {
			h.rxSeq.Add(1) // burn a sequence number
		}
		h.send(frame.TypeOutputLine, frame.EncodeOutputLine(line.Stream, line.Text))
	}
	if h.output.ErrorMessage != "" {
		h.send(frame.TypeErrorReport, frame.EncodeJobID(jobID, []byte(h.output.ErrorMessage)))
		return
	}
	h.send(frame.TypeDone, frame.EncodeJobID(jobID, []byte{h.output.ExitStatus}))
}

// send frames a hub-to-host notification with the next hub sequence
// number and queues it for ordered delivery.
func (h *FakeHub) send(ftype frame.Type, payload []byte) {
	buf, err := frame.Encode(frame.Frame{
		Type:    ftype,
		Seq:     h.rxSeq.Add(1) - 1,
		Payload: payload,
	})
	if err != nil {
		panic(err)
	}

	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return
	}

	defer func() {
		// A concurrent Disconnect may close the delivery channel
		// between the check and the send.
		_ = recover()
	}()
	h.deliverCh <- buf
}

// SendRaw delivers arbitrary bytes to the host, bypassing the hub
// logic, for malformed-frame and duplicate tests.
func (h *FakeHub) SendRaw(data []byte) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return
	}
	defer func() { _ = recover() }()
	h.deliverCh <- data
}

// deliver is the fake's dedicated notification delivery goroutine.
func (h *FakeHub) deliver() {
	defer close(h.done)
	for data := range h.deliverCh {
		h.mu.Lock()
		handler := h.handler
		h.mu.Unlock()
		if handler != nil {
			handler(data)
		}
	}
}

// WrittenFrames returns every frame the host wrote, in order.
func (h *FakeHub) WrittenFrames() []frame.Frame {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]frame.Frame, len(h.written))
	copy(out, h.written)
	return out
}

// WrittenOfType filters the written frames by type.
func (h *FakeHub) WrittenOfType(t frame.Type) []frame.Frame {
	var out []frame.Frame
	for _, f := range h.WrittenFrames() {
		if f.Type == t {
			out = append(out, f)
		}
	}
	return out
}

// AssembledSource concatenates the chunk payloads received so far.
func (h *FakeHub) AssembledSource() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []byte
	for _, chunk := range h.chunks {
		out = append(out, chunk...)
	}
	return out
}
