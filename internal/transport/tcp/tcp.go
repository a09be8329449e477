// Package tcp implements the TCP client transport (spec §4.6): one accept
// loop, a worker goroutine per connection, a 3-byte head (type + BE u16
// length), and a per-connection session slot. Grounded in the original's
// modules/comm/tcp.py TCPHandler, with the accept-loop/per-connection-
// goroutine/broadcast-closes-on-error shape cross-checked against
// doismellburning-samoyed's kissnet.go.
package tcp

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rycus86/intellihomehub/internal/auth"
	"github.com/rycus86/intellihomehub/internal/dispatch"
	"github.com/rycus86/intellihomehub/internal/logging"
)

const readTimeout = 500 * time.Millisecond

// Config configures the TCP listener (spec §4.6, §6).
type Config struct {
	Host string
	Port int
}

// Transport is one TCP listener serving the Client Dispatcher.
type Transport struct {
	cfg        Config
	dispatcher *dispatch.Dispatcher
	logger     logging.Logger

	listener net.Listener

	connMu sync.Mutex
	conns  map[*connection]struct{}

	stop chan struct{}
	done chan struct{}
}

type connection struct {
	conn    net.Conn
	sendMu  sync.Mutex
	sess    auth.Session
	hasSess bool
}

// New builds a Transport; it does not listen until Start.
func New(cfg Config, d *dispatch.Dispatcher, logger logging.Logger) *Transport {
	if logger == nil {
		logger = logging.Nop()
	}
	t := &Transport{
		cfg:        cfg,
		dispatcher: d,
		logger:     logger,
		conns:      make(map[*connection]struct{}),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	d.RegisterBroadcaster(t)
	return t
}

// Start opens the listening socket and launches the accept loop.
func (t *Transport) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp4", fmt.Sprintf("%s:%d", t.cfg.Host, t.cfg.Port))
	if err != nil {
		return fmt.Errorf("tcp: listen: %w", err)
	}
	t.listener = ln
	t.logger.Info("tcp socket bound", "addr", ln.Addr().String())
	go t.acceptLoop(ctx)
	return nil
}

// Stop closes the listener and every accepted connection, then waits up to
// one second for the accept loop to exit (spec §5).
func (t *Transport) Stop(ctx context.Context) error {
	close(t.stop)
	if t.listener != nil {
		t.listener.Close()
	}
	t.connMu.Lock()
	for c := range t.conns {
		c.conn.Close()
	}
	t.connMu.Unlock()
	select {
	case <-t.done:
	case <-time.After(time.Second):
	}
	return nil
}

func (t *Transport) acceptLoop(ctx context.Context) {
	defer close(t.done)
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.stop:
				return
			default:
				t.logger.Warn("tcp accept failed", "err", err)
				continue
			}
		}
		c := &connection{conn: conn}
		t.connMu.Lock()
		t.conns[c] = struct{}{}
		t.connMu.Unlock()
		go t.serve(ctx, c)
	}
}

func (t *Transport) serve(ctx context.Context, c *connection) {
	defer func() {
		t.connMu.Lock()
		delete(t.conns, c)
		t.connMu.Unlock()
		c.conn.Close()
	}()

	r := bufio.NewReader(c.conn)
	head := make([]byte, 3)
	for {
		select {
		case <-t.stop:
			return
		default:
		}

		c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		if _, err := io.ReadFull(r, head[:1]); err != nil {
			if isTimeout(err) {
				continue
			}
			return // orderly close or reset
		}
		msgType := head[0]

		if _, err := io.ReadFull(r, head[1:3]); err != nil {
			return
		}
		length := binary.BigEndian.Uint16(head[1:3])

		payload := make([]byte, length)
		if length > 0 {
			if _, err := io.ReadFull(r, payload); err != nil {
				return
			}
		}

		t.handleFrame(ctx, c, msgType, payload)
	}
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

func (t *Transport) handleFrame(ctx context.Context, c *connection, msgType byte, payload []byte) {
	if msgType == dispatch.Login {
		session, ok := t.dispatcher.Login(ctx, payload)
		if !ok {
			c.conn.Close()
			return
		}
		c.sess, c.hasSess = session, true
		resp := dispatch.LoginResponse(session)
		t.send(c, resp.Type, resp.Payload)
		return
	}

	// Spec §4.6: "session is considered valid as long as the connection is
	// open" — here interpreted as "a successful login has happened on this
	// connection", which is the meaningfully enforceable reading.
	if !c.hasSess {
		c.conn.Close()
		return
	}

	for _, resp := range t.dispatcher.Handle(ctx, c.sess, msgType, payload) {
		t.send(c, resp.Type, resp.Payload)
	}
}

func (t *Transport) send(c *connection, msgType byte, data []byte) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	head := make([]byte, 3)
	head[0] = msgType
	binary.BigEndian.PutUint16(head[1:], uint16(len(data)))

	if _, err := c.conn.Write(head); err != nil {
		t.logger.Warn("tcp send head failed", "err", err)
		c.conn.Close()
		return
	}
	if len(data) > 0 {
		if _, err := c.conn.Write(data); err != nil {
			t.logger.Warn("tcp send body failed", "err", err)
			c.conn.Close()
		}
	}
}

// Broadcast implements dispatch.Broadcaster: send to every live connection.
func (t *Transport) Broadcast(msgType byte, payload []byte) {
	t.connMu.Lock()
	targets := make([]*connection, 0, len(t.conns))
	for c := range t.conns {
		targets = append(targets, c)
	}
	t.connMu.Unlock()
	for _, c := range targets {
		t.send(c, msgType, payload)
	}
}
