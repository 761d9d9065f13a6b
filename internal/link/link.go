// Package link defines the transport abstraction between the protocol
// core and the BLE radio. The go-ble implementation lives in the goble
// subpackage; tests substitute a scripted in-memory link.
package link

import (
	"context"
	"time"
)

// MinMTU is the smallest workable MTU: one full frame header plus
// checksum plus a single payload byte.
const MinMTU = 10

// ProtocolVersion is the wire protocol version this host speaks.
const ProtocolVersion = 1

// NotificationHandler is invoked once per inbound notification, in
// arrival order, on the link's delivery goroutine. Handlers must copy
// data if they retain it beyond the call.
type NotificationHandler func(data []byte)

// LossHandler is invoked exactly once when the link drops
// unexpectedly, so upstream components can fail in-flight work
// deterministically instead of hanging.
type LossHandler func(err error)

// Link is an established transport to one hub. The link exclusively
// owns the underlying BLE characteristics; the codec, uploader and
// controller never touch the radio directly.
type Link interface {
	// Session returns the session owned by this link.
	Session() *Session

	// Write sends one raw frame buffer to the hub's RX characteristic.
	Write(ctx context.Context, data []byte) error

	// Subscribe registers the single inbound notification handler.
	// Notifications are delivered in arrival order on a dedicated
	// goroutine so delivery never blocks the radio callback.
	Subscribe(handler NotificationHandler) error

	// OnLoss registers the handler fired on unexpected link loss.
	OnLoss(handler LossHandler)

	// Disconnect tears the link down. Idempotent: a second call is a
	// no-op and returns nil.
	Disconnect() error
}

// Filter selects which hub to connect to. Address wins when set;
// otherwise the first advertisement matching Name (or, when both are
// empty, advertising the SPIKE service UUID) is used.
type Filter struct {
	Address string
	Name    string
}

// ConnectOptions bounds the connect handshake.
type ConnectOptions struct {
	ScanTimeout    time.Duration
	ConnectTimeout time.Duration
}

// Dialer establishes links. Implemented by goble for real hardware and
// by test fakes.
type Dialer interface {
	Dial(ctx context.Context, filter Filter, opts ConnectOptions) (Link, error)
}
