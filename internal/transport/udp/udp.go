// Package udp implements the UDP client transport (spec §4.5): datagram
// framing with a 2-byte head (type+flags), MORE_FOLLOWS fragment
// reassembly, a session table keyed by peer address, and broadcast.
// Grounded in the original's modules/comm/udp.py UDPHandler.
package udp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/rycus86/intellihomehub/internal/auth"
	"github.com/rycus86/intellihomehub/internal/dispatch"
	"github.com/rycus86/intellihomehub/internal/logging"
)

const (
	flagMoreFollows byte = 0x01
	defaultBufferSize    = 1500
	readTimeout          = 500 * time.Millisecond
)

// Config configures one UDP socket (spec §4.5, §6).
type Config struct {
	Host       string // multicast group joined in multicast mode; the socket always binds 0.0.0.0
	Port       int
	Multicast  bool
	Broadcast  bool
	TTL        int
	Loopback   bool
	BufferSize int
}

func (c *Config) setDefaults() {
	if c.TTL == 0 {
		c.TTL = 8
	}
	if c.BufferSize == 0 {
		c.BufferSize = defaultBufferSize
	}
}

type fragmentKey struct {
	peer    string
	msgType byte
}

// Transport is one UDP socket serving the Client Dispatcher.
type Transport struct {
	cfg        Config
	dispatcher *dispatch.Dispatcher
	auth       *auth.Service
	logger     logging.Logger

	conn *net.UDPConn

	sendMu sync.Mutex

	sessionMu sync.Mutex
	sessions  map[string]sessionEntry

	fragmentMu sync.Mutex
	fragments  map[fragmentKey][]byte

	stop chan struct{}
	done chan struct{}
}

type sessionEntry struct {
	addr      *net.UDPAddr
	sessionID string
}

// New builds a Transport; it does not bind the socket until Start.
func New(cfg Config, d *dispatch.Dispatcher, authSvc *auth.Service, logger logging.Logger) *Transport {
	cfg.setDefaults()
	if logger == nil {
		logger = logging.Nop()
	}
	t := &Transport{
		cfg:        cfg,
		dispatcher: d,
		auth:       authSvc,
		logger:     logger,
		sessions:   make(map[string]sessionEntry),
		fragments:  make(map[fragmentKey][]byte),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	d.RegisterBroadcaster(t)
	return t
}

// Start binds the socket with the socket options spec §4.5 requires,
// joins a multicast group if configured, and launches the receive loop.
func (t *Transport) Start(ctx context.Context) error {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
				if sockErr != nil {
					return
				}
				if t.cfg.Broadcast {
					sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
					if sockErr != nil {
						return
					}
				}
				sockErr = syscall.SetsockoptInt(int(fd), syscall.IPPROTO_IP, syscall.IP_MULTICAST_TTL, t.cfg.TTL)
				if sockErr != nil {
					return
				}
				loop := 0
				if t.cfg.Loopback {
					loop = 1
				}
				sockErr = syscall.SetsockoptInt(int(fd), syscall.IPPROTO_IP, syscall.IP_MULTICAST_LOOP, loop)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}

	pc, err := lc.ListenPacket(ctx, "udp4", fmt.Sprintf("0.0.0.0:%d", t.cfg.Port))
	if err != nil {
		return fmt.Errorf("udp: listen: %w", err)
	}
	t.conn = pc.(*net.UDPConn)

	if t.cfg.Multicast && t.cfg.Host != "" {
		if err := t.joinMulticastGroup(t.cfg.Host); err != nil {
			t.conn.Close()
			return fmt.Errorf("udp: join multicast group: %w", err)
		}
	}

	t.logger.Info("udp socket bound", "port", t.cfg.Port, "multicast", t.cfg.Multicast, "broadcast", t.cfg.Broadcast)
	go t.receiveLoop(ctx)
	return nil
}

// joinMulticastGroup issues IP_ADD_MEMBERSHIP for group on the bound socket.
func (t *Transport) joinMulticastGroup(group string) error {
	ip := net.ParseIP(group).To4()
	if ip == nil {
		return fmt.Errorf("invalid multicast group %q", group)
	}
	raw, err := t.conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		mreq := &syscall.IPMreq{}
		copy(mreq.Multiaddr[:], ip)
		sockErr = syscall.SetsockoptIPMreq(int(fd), syscall.IPPROTO_IP, syscall.IP_ADD_MEMBERSHIP, mreq)
	})
	if err != nil {
		return err
	}
	return sockErr
}

// Stop closes the socket, unblocking the receive loop (spec §5).
func (t *Transport) Stop(ctx context.Context) error {
	close(t.stop)
	if t.conn != nil {
		t.conn.Close()
	}
	select {
	case <-t.done:
	case <-time.After(time.Second):
	}
	return nil
}

func (t *Transport) receiveLoop(ctx context.Context) {
	defer close(t.done)
	buf := make([]byte, t.cfg.BufferSize)
	for {
		select {
		case <-t.stop:
			return
		default:
		}

		t.conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, peer, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-t.stop:
				return
			default:
				t.logger.Warn("udp read failed", "err", err)
				continue
			}
		}
		if n < 2 {
			continue
		}
		msgType, flags, body := buf[0], buf[1], append([]byte(nil), buf[2:n]...)
		t.handleDatagram(ctx, peer, msgType, flags, body)
	}
}

func (t *Transport) handleDatagram(ctx context.Context, peer *net.UDPAddr, msgType, flags byte, body []byte) {
	key := fragmentKey{peer: peer.String(), msgType: msgType}
	finished := flags&flagMoreFollows == 0

	t.fragmentMu.Lock()
	merged := append(t.fragments[key], body...)
	if finished {
		delete(t.fragments, key)
	} else {
		t.fragments[key] = merged
	}
	t.fragmentMu.Unlock()

	if !finished {
		return
	}

	if msgType == dispatch.Exit {
		// UDP deletes the session before the dispatcher ever runs (spec
		// §4.5/§9 locked asymmetry with TCP).
		t.sessionMu.Lock()
		delete(t.sessions, peer.String())
		t.sessionMu.Unlock()
		return
	}

	if msgType == dispatch.Login {
		t.handleLogin(ctx, peer, merged)
		return
	}

	session, ok := t.validSession(peer, merged)
	if !ok {
		t.send(dispatch.InvalidSession, nil, peer)
		return
	}
	payload := merged[32:]

	for _, resp := range t.dispatcher.Handle(ctx, session, msgType, payload) {
		t.send(resp.Type, resp.Payload, peer)
	}
}

func (t *Transport) handleLogin(ctx context.Context, peer *net.UDPAddr, payload []byte) {
	session, ok := t.dispatcher.Login(ctx, payload)
	if !ok {
		t.send(dispatch.InvalidSession, nil, peer)
		return
	}
	t.sessionMu.Lock()
	t.sessions[peer.String()] = sessionEntry{addr: peer, sessionID: session.ID}
	t.sessionMu.Unlock()

	resp := dispatch.LoginResponse(session)
	t.send(resp.Type, resp.Payload, peer)
}

// validSession implements spec §4.5: authenticated iff the first 32 bytes
// of the (reassembled) payload equal the peer's stored session id.
func (t *Transport) validSession(peer *net.UDPAddr, payload []byte) (auth.Session, bool) {
	if len(payload) < 32 {
		return auth.Session{}, false
	}
	t.sessionMu.Lock()
	entry, known := t.sessions[peer.String()]
	t.sessionMu.Unlock()
	if !known || entry.sessionID != string(payload[:32]) {
		return auth.Session{}, false
	}
	return t.auth.GetSession(entry.sessionID)
}

func (t *Transport) send(msgType byte, data []byte, dest *net.UDPAddr) {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	maxSize := t.cfg.BufferSize - 2
	for len(data) > maxSize {
		part := append([]byte{msgType, flagMoreFollows}, data[:maxSize]...)
		if _, err := t.conn.WriteToUDP(part, dest); err != nil {
			t.logger.Warn("udp send failed", "err", err)
			return
		}
		data = data[maxSize:]
	}
	part := append([]byte{msgType, 0}, data...)
	if _, err := t.conn.WriteToUDP(part, dest); err != nil {
		t.logger.Warn("udp send failed", "err", err)
	}
}

// Broadcast implements dispatch.Broadcaster: send to every known peer.
func (t *Transport) Broadcast(msgType byte, payload []byte) {
	t.sessionMu.Lock()
	peers := make([]*net.UDPAddr, 0, len(t.sessions))
	for _, e := range t.sessions {
		peers = append(peers, e.addr)
	}
	t.sessionMu.Unlock()
	for _, p := range peers {
		t.send(msgType, payload, p)
	}
}
