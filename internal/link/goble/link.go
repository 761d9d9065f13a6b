// Package goble adapts the go-ble/ble client to the link.Link
// abstraction: hub discovery, connection establishment, MTU and
// protocol version negotiation, serialized characteristic writes, and
// ordered notification delivery on a dedicated goroutine.
package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/examples/lib/dev"
	"github.com/sirupsen/logrus"

	"github.com/srg/spikelink/internal/frame"
	"github.com/srg/spikelink/internal/link"
)

const (
	// notifyBuffer is the buffer size of the notification delivery channel.
	notifyBuffer = 128

	// requestedATTMTU is the receive MTU offered during MTU exchange.
	requestedATTMTU = 247

	// attHeaderSize is subtracted from the ATT MTU to get the usable
	// notification/write payload size.
	attHeaderSize = 3

	// fallbackATTMTU is assumed when the peer does not support MTU
	// exchange (BLE 4.0 default).
	fallbackATTMTU = 23
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
var DeviceFactory = func() (ble.Device, error) {
	return dev.DefaultDevice()
}

// Dialer connects to SPIKE hubs over go-ble.
type Dialer struct {
	logger *logrus.Logger
}

// NewDialer creates a Dialer.
func NewDialer(logger *logrus.Logger) *Dialer {
	if logger == nil {
		logger = logrus.New()
	}
	return &Dialer{logger: logger}
}

// Link is the go-ble backed transport to one hub.
type Link struct {
	client  ble.Client
	rxChar  *ble.Characteristic // host writes here
	txChar  *ble.Characteristic // hub notifies here
	session *link.Session
	logger  *logrus.Logger

	writeMutex sync.Mutex

	notifyMu sync.Mutex // serializes notifyCh sends against its close
	notifyCh chan []byte
	closed   atomic.Bool
	teardown sync.Once

	handlerMu   sync.RWMutex
	handler     link.NotificationHandler
	lossHandler link.LossHandler
	infoWait    chan []byte // set only during connect-time negotiation

	done chan struct{} // closed when delivery goroutine exits
}

// Dial resolves the filter to a hub address, connects, discovers the
// SPIKE service, negotiates MTU and protocol version, and returns an
// established link. The returned link's session is Connected.
func (d *Dialer) Dial(ctx context.Context, filter link.Filter, opts link.ConnectOptions) (link.Link, error) {
	address := filter.Address
	if address == "" {
		found, err := d.resolveAddress(ctx, filter, opts)
		if err != nil {
			return nil, err
		}
		address = found
	}

	d.logger.WithFields(logrus.Fields{
		"address": address,
		"timeout": opts.ConnectTimeout,
	}).Info("Connecting to hub...")

	bleDev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", err)
	}
	ble.SetDefaultDevice(bleDev)

	connCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	client, err := ble.Dial(connCtx, ble.NewAddr(address))
	if err != nil {
		normalized := link.NormalizeError(err)
		kind := link.KindOf(normalized)
		if kind == "" {
			kind = link.Timeout
		}
		return nil, link.Errorf(kind, "failed to connect to hub %q: %v", address, err)
	}

	l, err := d.establish(connCtx, client, address)
	if err != nil {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			d.logger.WithField("error", cancelErr).Warn("Failed to cancel connection after establish failure")
		}
		return nil, err
	}
	return l, nil
}

// resolveAddress scans for an advertisement matching the filter.
func (d *Dialer) resolveAddress(ctx context.Context, filter link.Filter, opts link.ConnectOptions) (string, error) {
	scanner := NewScanner(d.logger)
	hubs, err := scanner.Scan(ctx, &ScanOptions{
		Duration:        opts.ScanTimeout,
		DuplicateFilter: true,
	})
	if err != nil {
		return "", link.Errorf(link.NotFound, "hub discovery failed: %v", err)
	}
	for _, hub := range hubs {
		if filter.Name == "" || hub.Name == filter.Name {
			return hub.Address, nil
		}
	}
	if filter.Name != "" {
		return "", link.Errorf(link.NotFound, "no hub named %q found", filter.Name)
	}
	return "", link.Errorf(link.NotFound, "no SPIKE hub found")
}

// establish discovers the SPIKE characteristics, subscribes, and runs
// the info handshake to fix the session MTU and protocol version.
func (d *Dialer) establish(ctx context.Context, client ble.Client, address string) (*Link, error) {
	profile, err := client.DiscoverProfile(true)
	if err != nil {
		return nil, fmt.Errorf("failed to discover profile: %w", err)
	}

	rxChar, txChar, err := findSpikeCharacteristics(profile)
	if err != nil {
		return nil, err
	}

	l := &Link{
		client:   client,
		rxChar:   rxChar,
		txChar:   txChar,
		session:  link.NewSession(address, d.logger),
		logger:   d.logger,
		notifyCh: make(chan []byte, notifyBuffer),
		infoWait: make(chan []byte, 1),
		done:     make(chan struct{}),
	}

	go l.deliverNotifications()

	if err := client.Subscribe(txChar, false, l.enqueueNotification); err != nil {
		l.shutdownDelivery()
		return nil, fmt.Errorf("failed to subscribe to hub notifications: %w", link.NormalizeError(err))
	}

	attMTU, err := client.ExchangeMTU(requestedATTMTU)
	if err != nil {
		d.logger.WithField("error", err).Debug("MTU exchange not supported, assuming BLE default")
		attMTU = fallbackATTMTU
	}

	info, err := l.requestInfo(ctx)
	if err != nil {
		l.shutdownDelivery()
		return nil, err
	}

	mtu, err := negotiateSession(attMTU, info)
	if err != nil {
		l.shutdownDelivery()
		return nil, err
	}

	d.logger.WithFields(logrus.Fields{
		"address":        address,
		"att_mtu":        attMTU,
		"hub_max_packet": info.MaxPacketSize,
		"effective_mtu":  mtu,
		"hub_version":    info.Version,
		"host_version":   link.ProtocolVersion,
	}).Info("Hub negotiation completed")

	l.session.SetNegotiated(mtu, info.Version)

	l.handlerMu.Lock()
	l.infoWait = nil
	l.handlerMu.Unlock()

	go l.monitorDisconnect()

	return l, nil
}

// negotiateSession decides the effective session MTU from the
// exchanged ATT MTU and the hub's advertised limits. The hub must
// speak the host's protocol version, and the smaller of the ATT
// payload and the hub's max packet size must still fit a minimal
// frame.
func negotiateSession(attMTU int, info frame.Info) (int, error) {
	if info.Version != link.ProtocolVersion {
		return 0, link.Errorf(link.VersionMismatch, "hub speaks protocol version %d, host supports %d", info.Version, link.ProtocolVersion)
	}
	mtu := attMTU - attHeaderSize
	if int(info.MaxPacketSize) < mtu {
		mtu = int(info.MaxPacketSize)
	}
	if mtu < link.MinMTU {
		return 0, link.Errorf(link.MtuTooSmall, "negotiated MTU %d below minimum %d", mtu, link.MinMTU)
	}
	return mtu, nil
}

// requestInfo sends InfoRequest and waits for the hub's InfoResponse.
func (l *Link) requestInfo(ctx context.Context) (frame.Info, error) {
	req, err := frame.Encode(frame.Frame{
		Type: frame.TypeInfoRequest,
		Seq:  l.session.NextSeq(),
	})
	if err != nil {
		return frame.Info{}, err
	}
	if err := l.Write(ctx, req); err != nil {
		return frame.Info{}, fmt.Errorf("info request failed: %w", err)
	}

	select {
	case data := <-l.infoWait:
		f, err := frame.Decode(data)
		if err != nil {
			return frame.Info{}, fmt.Errorf("invalid info response: %w", err)
		}
		return frame.DecodeInfo(f.Payload)
	case <-ctx.Done():
		return frame.Info{}, link.Errorf(link.Timeout, "no info response from hub")
	}
}

// findSpikeCharacteristics locates the RX and TX characteristics in
// the discovered profile.
func findSpikeCharacteristics(profile *ble.Profile) (rx, tx *ble.Characteristic, err error) {
	for _, svc := range profile.Services {
		if !uuidMatches(svc.UUID.String(), SpikeServiceUUID) {
			continue
		}
		for _, char := range svc.Characteristics {
			switch {
			case uuidMatches(char.UUID.String(), SpikeRxCharUUID):
				rx = char
			case uuidMatches(char.UUID.String(), SpikeTxCharUUID):
				tx = char
			}
		}
	}
	if rx == nil || tx == nil {
		return nil, nil, link.Errorf(link.NotFound, "device does not expose the SPIKE service")
	}
	return rx, tx, nil
}

// Session returns the session owned by this link.
func (l *Link) Session() *link.Session {
	return l.session
}

// Write sends one frame buffer to the hub's RX characteristic. Writes
// are serialized so concurrent callers cannot interleave partial
// packets on the radio.
func (l *Link) Write(ctx context.Context, data []byte) error {
	if l.closed.Load() {
		return link.ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.Canceled) {
			return link.Errorf(link.Cancelled, "write cancelled: %v", err)
		}
		return link.Errorf(link.Timeout, "write deadline exceeded: %v", err)
	}

	l.writeMutex.Lock()
	defer l.writeMutex.Unlock()

	if err := l.client.WriteCharacteristic(l.rxChar, data, false); err != nil {
		return fmt.Errorf("characteristic write failed: %w", link.NormalizeError(err))
	}
	return nil
}

// Subscribe registers the inbound notification handler.
func (l *Link) Subscribe(handler link.NotificationHandler) error {
	if l.closed.Load() {
		return link.ErrNotConnected
	}
	l.handlerMu.Lock()
	defer l.handlerMu.Unlock()
	l.handler = handler
	return nil
}

// OnLoss registers the unexpected-loss handler.
func (l *Link) OnLoss(handler link.LossHandler) {
	l.handlerMu.Lock()
	defer l.handlerMu.Unlock()
	l.lossHandler = handler
}

// enqueueNotification runs on the go-ble callback goroutine; it copies
// the data (go-ble reuses its receive buffer) and hands it to the
// delivery goroutine without blocking the radio.
func (l *Link) enqueueNotification(data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)

	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()
	if l.closed.Load() {
		return
	}

	select {
	case l.notifyCh <- buf:
	default:
		// Channel full, drop the oldest so the radio callback never stalls.
		select {
		case old := <-l.notifyCh:
			l.logger.WithField("dropped_len", len(old)).Warn("Notification buffer full, dropped oldest")
		default:
		}
		select {
		case l.notifyCh <- buf:
		default:
		}
	}
}

// deliverNotifications is the dedicated delivery goroutine: arrival
// order, one handler invocation at a time.
func (l *Link) deliverNotifications() {
	defer close(l.done)
	for data := range l.notifyCh {
		l.handlerMu.RLock()
		handler := l.handler
		infoWait := l.infoWait
		l.handlerMu.RUnlock()

		if infoWait != nil {
			if f, err := frame.Decode(data); err == nil && f.Type == frame.TypeInfoResponse {
				select {
				case infoWait <- data:
				default:
				}
				continue
			}
		}
		if handler != nil {
			handler(data)
		} else {
			l.logger.WithField("len", len(data)).Debug("Dropping notification with no handler registered")
		}
	}
}

// monitorDisconnect watches the go-ble disconnect channel and fires
// the loss handler when the connection drops outside Disconnect.
func (l *Link) monitorDisconnect() {
	<-l.client.Disconnected()
	if l.closed.Load() {
		return // orderly shutdown already in progress
	}
	l.logger.WithField("session", l.session.ID()).Warn("BLE link lost")
	l.session.Transition(link.StateDisconnected)

	l.handlerMu.RLock()
	lossHandler := l.lossHandler
	l.handlerMu.RUnlock()

	l.shutdownDelivery()

	if lossHandler != nil {
		lossHandler(link.ErrLinkLost)
	}
}

// shutdownDelivery stops the delivery goroutine exactly once. The
// close happens under notifyMu so an in-flight enqueueNotification
// either completes its send first or observes the closed flag.
func (l *Link) shutdownDelivery() {
	if l.closed.CompareAndSwap(false, true) {
		l.notifyMu.Lock()
		close(l.notifyCh)
		l.notifyMu.Unlock()
	}
}

// Disconnect tears the link down. Idempotent: the teardown runs once;
// later calls observe the Disconnected state and return nil.
func (l *Link) Disconnect() error {
	var err error
	l.teardown.Do(func() {
		if l.session.State() == link.StateDisconnected {
			// Link already lost; nothing left to release on the radio.
			return
		}
		l.session.Transition(link.StateClosing)
		l.shutdownDelivery()
		<-l.done

		if unsubErr := l.client.Unsubscribe(l.txChar, false); unsubErr != nil {
			l.logger.WithField("error", unsubErr).Debug("Unsubscribe during disconnect failed")
		}

		cancelErr := l.client.CancelConnection()
		l.session.Transition(link.StateDisconnected)

		if cancelErr != nil {
			l.logger.WithField("error", cancelErr).Warn("Hub disconnected with errors")
			err = fmt.Errorf("disconnect failed: %w", link.NormalizeError(cancelErr))
			return
		}
		l.logger.Info("Hub disconnected")
	})
	return err
}
