package link

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateExecuting
	StateClosing
)

var stateNames = map[State]string{
	StateDisconnected: "Disconnected",
	StateConnecting:   "Connecting",
	StateConnected:    "Connected",
	StateExecuting:    "Executing",
	StateClosing:      "Closing",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "Unknown"
}

// Session represents one logical connection lifetime to a single hub.
// The transport owns it exclusively; every other component holds a
// non-owning reference and observes state through the accessors.
type Session struct {
	mu      sync.RWMutex
	id      string
	mtu     int
	version uint8
	state   State
	logger  *logrus.Logger

	txSeq atomic.Uint32 // next outbound sequence number
}

// NewSession creates a session in the Connecting state. The transport
// promotes it to Connected once MTU and protocol version are settled.
func NewSession(id string, logger *logrus.Logger) *Session {
	if logger == nil {
		logger = logrus.New()
	}
	return &Session{
		id:     id,
		state:  StateConnecting,
		logger: logger,
	}
}

// ID returns the connection identifier (the peer's BLE address).
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// MTU returns the negotiated MTU. Fixed for the session lifetime.
func (s *Session) MTU() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mtu
}

// Version returns the negotiated protocol version.
func (s *Session) Version() uint8 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SetNegotiated records the MTU and protocol version agreed at connect
// time and transitions the session to Connected.
func (s *Session) SetNegotiated(mtu int, version uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mtu = mtu
	s.version = version
	s.transitionLocked(StateConnected)
}

// Transition moves the session to the given state, logging the change.
func (s *Session) Transition(to State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitionLocked(to)
}

func (s *Session) transitionLocked(to State) {
	if s.state == to {
		return
	}
	s.logger.WithFields(logrus.Fields{
		"session": s.id,
		"from":    s.state.String(),
		"to":      to.String(),
	}).Debug("Session state transition")
	s.state = to
}

// SetExecuting flips between Connected and Executing. Returns false
// when the requested transition is not legal from the current state,
// which callers use to serialize one run at a time.
func (s *Session) SetExecuting(executing bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if executing {
		if s.state != StateConnected {
			return false
		}
		s.transitionLocked(StateExecuting)
		return true
	}
	if s.state == StateExecuting {
		s.transitionLocked(StateConnected)
	}
	return true
}

// NextSeq allocates the next host-to-hub sequence number. Sequence
// numbers are monotonic per direction for the session lifetime,
// starting at 0.
func (s *Session) NextSeq() uint32 {
	return s.txSeq.Add(1) - 1
}

// Connected reports whether the session can carry traffic.
func (s *Session) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateConnected || s.state == StateExecuting
}
