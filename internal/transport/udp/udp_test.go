package udp

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rycus86/intellihomehub/internal/auth"
	"github.com/rycus86/intellihomehub/internal/dispatch"
	"github.com/rycus86/intellihomehub/internal/images"
	"github.com/rycus86/intellihomehub/internal/localize"
	"github.com/rycus86/intellihomehub/internal/registry"
	"github.com/rycus86/intellihomehub/internal/store"
)

func newTestTransport(t *testing.T) (*Transport, *auth.Service, auth.Session) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()

	catalog := registry.NewCatalog()
	catalog.Register(registry.PowerType)
	reg, err := registry.New(ctx, st, catalog)
	require.NoError(t, err)
	hist, err := registry.NewHistory(ctx, st, func() float64 { return 1 })
	require.NoError(t, err)
	svc := &registry.Service{Entities: reg, History: hist}

	authSvc, err := auth.New(ctx, st)
	require.NoError(t, err)

	d := dispatch.New(svc, authSvc, images.New(nil, "images"), localize.New(), noopRadio{}, nil)

	tr := New(Config{Host: "227.1.1.10", Port: 0}, d, authSvc, nil)

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	tr.conn = conn

	session, err := authSvc.Authenticate(ctx, "admin", auth.HashPassword("admin"))
	require.NoError(t, err)

	return tr, authSvc, session
}

type noopRadio struct{}

func (noopRadio) AddressFor(string) (byte, bool)                          { return 0, false }
func (noopRadio) EnqueueCommand(context.Context, byte, []byte) error { return nil }

func somePeer() *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 55000}
}

func TestValidSession(t *testing.T) {
	tr, _, session := newTestTransport(t)
	peer := somePeer()

	tr.sessions[peer.String()] = sessionEntry{addr: peer, sessionID: session.ID}

	got, ok := tr.validSession(peer, []byte(session.ID))
	require.True(t, ok)
	assert.Equal(t, session, got)

	_, ok = tr.validSession(peer, []byte("00000000000000000000000000000000"))
	assert.False(t, ok, "a session id that doesn't match the stored one is invalid")

	unknownPeer := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 55001}
	_, ok = tr.validSession(unknownPeer, []byte(session.ID))
	assert.False(t, ok, "a peer with no stored session is invalid")

	_, ok = tr.validSession(peer, []byte("short"))
	assert.False(t, ok, "a payload shorter than the 32-byte session prefix is invalid")
}

func TestHandleLogin_StoresSession(t *testing.T) {
	tr, _, _ := newTestTransport(t)
	peer := somePeer()

	tr.handleLogin(context.Background(), peer, []byte("admin:"+auth.HashPassword("admin")))

	entry, ok := tr.sessions[peer.String()]
	require.True(t, ok)
	assert.NotEmpty(t, entry.sessionID)
}

func TestHandleDatagram_ExitDeletesSessionBeforeDispatch(t *testing.T) {
	tr, _, session := newTestTransport(t)
	peer := somePeer()
	tr.sessions[peer.String()] = sessionEntry{addr: peer, sessionID: session.ID}

	tr.handleDatagram(context.Background(), peer, dispatch.Exit, 0, nil)

	_, ok := tr.sessions[peer.String()]
	assert.False(t, ok, "EXIT must delete the session before any dispatch happens")
}

func TestHandleDatagram_FragmentReassembly(t *testing.T) {
	tr, _, session := newTestTransport(t)
	peer := somePeer()
	tr.sessions[peer.String()] = sessionEntry{addr: peer, sessionID: session.ID}

	full := append([]byte(session.ID), []byte("ignored-keepalive-body")...)
	first, second := full[:20], full[20:]

	// First fragment: MORE_FOLLOWS set, nothing dispatched yet.
	tr.handleDatagram(context.Background(), peer, dispatch.Keepalive, flagMoreFollows, first)
	tr.fragmentMu.Lock()
	_, pending := tr.fragments[fragmentKey{peer: peer.String(), msgType: dispatch.Keepalive}]
	tr.fragmentMu.Unlock()
	assert.True(t, pending, "a MORE_FOLLOWS fragment must be buffered, not dispatched")

	// Final fragment completes reassembly and clears the pending entry.
	tr.handleDatagram(context.Background(), peer, dispatch.Keepalive, 0, second)
	tr.fragmentMu.Lock()
	_, stillPending := tr.fragments[fragmentKey{peer: peer.String(), msgType: dispatch.Keepalive}]
	tr.fragmentMu.Unlock()
	assert.False(t, stillPending)
}
