package radio

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"
)

// Flag bits carried in byte 2 of every frame (spec §4.2).
const (
	FlagState    byte = 0x10
	FlagCommand  byte = 0x20
	FlagAssign   byte = 0x40
	FlagAck      byte = 0x80
	FlagReset    byte = FlagAssign | 0x01
	FlagDescribe byte = FlagAssign | 0x02
)

// BroadcastAddress is the reserved broadcast/unassigned short address.
const BroadcastAddress byte = 0xFF

// UnassignedAddress is the reserved "no address" value.
const UnassignedAddress byte = 0x00

// Handler receives dispatched frames from the Link Manager (spec §4.2).
// It is the upper-layer equivalent of the original's DeviceHandler.
type Handler interface {
	// Describe is called once a device has completed two-step
	// registration: address and serial are now bound, payload is the
	// MSG_DESCRIBE body (type_id, ...).
	Describe(ctx context.Context, address byte, serial string, payload []byte)
	// Receive is called for ordinary runtime frames (MSG_STATE/MSG_COMMAND).
	Receive(ctx context.Context, address byte, serial string, flags byte, payload []byte)
}

// outboundItem is one queued command awaiting transmission.
type outboundItem struct {
	address byte
	flags   byte
	payload []byte
}

// Link is the Radio Link Manager: the single goroutine permitted to touch
// the Transceiver. It owns dynamic address allocation, two-step
// registration, and the software ack/retry layer on top of the hardware's
// own auto-ack (spec §4.2). Grounded in the original's
// NRF24L01P.__main_loop/__dispatch_received_message/__send_with_acknowledge.
type Link struct {
	dev    *Transceiver
	logger Logger

	outbound chan outboundItem

	mu            sync.Mutex
	serialToAddr  map[string]byte
	addrToSerial  map[byte]string
	nextMessageID byte

	handlersMu sync.RWMutex
	handlers   []Handler
}

// NewLink wires a Link to an already-initialized Transceiver.
func NewLink(dev *Transceiver, logger Logger) *Link {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Link{
		dev:           dev,
		logger:        logger,
		outbound:      make(chan outboundItem, 64),
		serialToAddr:  make(map[string]byte),
		addrToSerial:  make(map[byte]string),
		nextMessageID: 1,
	}
}

// RegisterHandler adds a handler invoked on Describe/Receive events.
func (l *Link) RegisterHandler(h Handler) {
	l.handlersMu.Lock()
	defer l.handlersMu.Unlock()
	l.handlers = append(l.handlers, h)
}

// UnregisterHandler removes a previously registered handler.
func (l *Link) UnregisterHandler(h Handler) {
	l.handlersMu.Lock()
	defer l.handlersMu.Unlock()
	for i, existing := range l.handlers {
		if existing == h {
			l.handlers = append(l.handlers[:i], l.handlers[i+1:]...)
			return
		}
	}
}

// EnqueueCommand queues a command frame for the given short address,
// sent with software ack/retry on the radio thread (spec §4.2).
func (l *Link) EnqueueCommand(ctx context.Context, address byte, payload []byte) error {
	select {
	case l.outbound <- outboundItem{address: address, flags: FlagCommand, payload: payload}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the main loop until ctx is cancelled (spec §4.2/§5). It emits
// one MSG_RESET broadcast on startup so devices re-register.
func (l *Link) Run(ctx context.Context) error {
	l.broadcastReset()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		frame, ok := l.dev.TryReceive(ctx, 300*time.Millisecond)
		if ok {
			l.handleInbound(ctx, frame)
			continue
		}

		select {
		case item := <-l.outbound:
			if err := l.sendWithAck(ctx, item.address, item.flags, item.payload); err != nil {
				l.logger.Warn("dropping outbound frame after retries", "address", item.address, "err", err)
			}
		default:
		}
	}
}

func (l *Link) broadcastReset() {
	frame := packFrame(BroadcastAddress, 0, FlagReset, nil)
	if _, err := l.dev.SendFrame(frame); err != nil {
		l.logger.Warn("failed to broadcast reset", "err", err)
	}
}

// handleInbound implements the per-frame dispatch rules of spec §4.2.
func (l *Link) handleInbound(ctx context.Context, frame Frame) {
	address, msgID, flags, payload := unpackFrame(frame)

	if address != BroadcastAddress {
		// Ack any non-broadcast frame before running upper-layer logic.
		ack := packFrame(address, msgID, FlagAck, nil)
		if _, err := l.dev.SendFrame(ack); err != nil {
			l.logger.Warn("failed to ack inbound frame", "address", address, "err", err)
		}
	}

	switch {
	case address == BroadcastAddress && flags == FlagAssign:
		l.handleAssign(ctx, payload)
	case flags == FlagDescribe:
		l.handleDescribe(ctx, address, payload)
	case flags == FlagAck:
		// Software acks are consumed by sendWithAck's own wait loop; one
		// arriving here is stale (e.g. a retransmitted ack) and is ignored.
	default:
		l.handleRuntime(ctx, address, flags, payload)
	}
}

// handleAssign implements step 1 of two-step registration (spec §4.2).
func (l *Link) handleAssign(ctx context.Context, payload []byte) {
	serial := trimTrailingZeros(payload)
	if serial == "" {
		return
	}

	addr := l.allocateAddress(serial)
	l.logger.Info("assigned short address", "serial", serial, "address", addr)

	if err := l.sendWithAck(ctx, addr, FlagAssign, []byte(serial)); err != nil {
		l.logger.Warn("failed to confirm address assignment", "serial", serial, "err", err)
	}
}

// handleDescribe implements step 2 of two-step registration (spec §4.2).
func (l *Link) handleDescribe(ctx context.Context, address byte, payload []byte) {
	l.mu.Lock()
	serial, ok := l.addrToSerial[address]
	l.mu.Unlock()
	if !ok {
		l.logger.Warn("describe from unregistered address", "address", address)
		return
	}

	l.handlersMu.RLock()
	handlers := append([]Handler(nil), l.handlers...)
	l.handlersMu.RUnlock()
	for _, h := range handlers {
		h.Describe(ctx, address, serial, payload)
	}
}

func (l *Link) handleRuntime(ctx context.Context, address byte, flags byte, payload []byte) {
	l.mu.Lock()
	serial, ok := l.addrToSerial[address]
	l.mu.Unlock()
	if !ok {
		l.logger.Warn("runtime frame from unregistered address", "address", address)
		return
	}

	l.handlersMu.RLock()
	handlers := append([]Handler(nil), l.handlers...)
	l.handlersMu.RUnlock()
	for _, h := range handlers {
		h.Receive(ctx, address, serial, flags, payload)
	}
}

// AddressFor resolves the short address currently bound to serial, for
// callers (e.g. the dispatcher's SEND_COMMAND) that need to route a
// command onto the radio queue.
func (l *Link) AddressFor(serial string) (byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	addr, ok := l.serialToAddr[serial]
	return addr, ok
}

// allocateAddress returns the existing binding for serial, or allocates
// the lowest unused address in [1,254] (spec §3/§4.2, invariant #2).
func (l *Link) allocateAddress(serial string) byte {
	l.mu.Lock()
	defer l.mu.Unlock()

	if addr, ok := l.serialToAddr[serial]; ok {
		return addr
	}
	for addr := byte(1); addr < BroadcastAddress; addr++ {
		if _, taken := l.addrToSerial[addr]; !taken {
			l.serialToAddr[serial] = addr
			l.addrToSerial[addr] = serial
			return addr
		}
	}
	// Address space exhausted (254 devices); spec has no defined behavior
	// here, so reuse the broadcast-adjacent slot is not possible — return
	// the unassigned marker, which the device will simply never ack.
	return UnassignedAddress
}

// sendWithAck implements the software ack/retry layer: up to 3 logical
// retries, each retrying the hardware send up to 3 times, waiting up to
// 300ms per logical attempt for a matching software ack (spec §4.2).
func (l *Link) sendWithAck(ctx context.Context, address byte, flags byte, payload []byte) error {
	for retry := 0; retry < 3; retry++ {
		msgID := l.allocateMessageID()
		frame := packFrame(address, msgID, flags, payload)

		var hwAcked bool
		for attempt := 0; attempt < 3; attempt++ {
			ok, err := l.dev.SendFrame(frame)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrIO, err)
			}
			if ok {
				hwAcked = true
				break
			}
		}
		_ = hwAcked // hardware ack is informative only; software ack below is authoritative

		if l.waitForAck(ctx, address, msgID) {
			return nil
		}
	}
	return ErrMaxRetries
}

// waitForAck blocks up to 300ms for a frame matching (address, msgID,
// MSG_ACK). Unrelated frames that arrive in the meantime are dispatched
// opportunistically rather than dropped.
func (l *Link) waitForAck(ctx context.Context, address byte, msgID byte) bool {
	deadline := time.Now().Add(300 * time.Millisecond)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		frame, ok := l.dev.TryReceive(ctx, remaining)
		if !ok {
			return false
		}
		gotAddr, gotMsgID, gotFlags, _ := unpackFrame(frame)
		if gotAddr == address && gotMsgID == msgID && gotFlags == FlagAck {
			return true
		}
		l.handleInbound(ctx, frame)
	}
}

// allocateMessageID returns the next id in 1..254, wrapping past 254 back
// to 1; 0 is reserved (spec §4.2/§9).
func (l *Link) allocateMessageID() byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextMessageID
	l.nextMessageID++
	if l.nextMessageID > 254 {
		l.nextMessageID = 1
	}
	return id
}

func packFrame(address, msgID, flags byte, payload []byte) Frame {
	var f Frame
	f[0] = address
	f[1] = msgID
	f[2] = flags
	copy(f[3:], payload)
	return f
}

func unpackFrame(f Frame) (address, msgID, flags byte, payload []byte) {
	return f[0], f[1], f[2], f[3:]
}

func trimTrailingZeros(payload []byte) string {
	return string(bytes.TrimRight(payload, "\x00"))
}
