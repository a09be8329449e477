package dispatch_test

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strconv"
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

type fakeRadio struct {
	addrs     map[string]byte
	enqueued  []enqueuedCommand
	enqueueErr error
}

type enqueuedCommand struct {
	address byte
	payload []byte
}

func (r *fakeRadio) AddressFor(serial string) (byte, bool) {
	addr, ok := r.addrs[serial]
	return addr, ok
}

func (r *fakeRadio) EnqueueCommand(ctx context.Context, address byte, payload []byte) error {
	if r.enqueueErr != nil {
		return r.enqueueErr
	}
	r.enqueued = append(r.enqueued, enqueuedCommand{address: address, payload: payload})
	return nil
}

type testEnv struct {
	dispatcher *dispatch.Dispatcher
	svc        *registry.Service
	authSvc    *auth.Service
	radio      *fakeRadio
	session    auth.Session
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()

	catalog := registry.NewCatalog()
	catalog.Register(registry.PowerType)
	catalog.Register(registry.LightType)

	reg, err := registry.New(ctx, st, catalog)
	require.NoError(t, err)
	clock := float64(1753800000.123)
	hist, err := registry.NewHistory(ctx, st, func() float64 { return clock })
	require.NoError(t, err)
	svc := &registry.Service{Entities: reg, History: hist}

	authSvc, err := auth.New(ctx, st)
	require.NoError(t, err)

	imgDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(imgDir, "power.png"), []byte("fake-png-bytes"), 0o644))
	imgs := images.New([]string{imgDir}, imgDir)

	loc := localize.New()
	radio := &fakeRadio{addrs: map[string]byte{}}

	d := dispatch.New(svc, authSvc, imgs, loc, radio, nil)

	session, err := authSvc.Authenticate(ctx, "admin", auth.HashPassword("admin"))
	require.NoError(t, err)

	return &testEnv{dispatcher: d, svc: svc, authSvc: authSvc, radio: radio, session: session}
}

func TestLogin_SuccessAndFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	session, ok := env.dispatcher.Login(ctx, []byte("admin:"+auth.HashPassword("admin")))
	require.True(t, ok)
	resp := dispatch.LoginResponse(session)
	assert.Equal(t, dispatch.Login, resp.Type)
	assert.Contains(t, string(resp.Payload), "*", "admin sessions get a trailing '*' marker")

	_, ok = env.dispatcher.Login(ctx, []byte("admin:wrong-hash"))
	assert.False(t, ok)

	_, ok = env.dispatcher.Login(ctx, []byte("malformed-no-colon"))
	assert.False(t, ok)
}

func TestHandle_Keepalive(t *testing.T) {
	env := newTestEnv(t)
	msgs := env.dispatcher.Handle(context.Background(), env.session, dispatch.Keepalive, nil)
	require.Len(t, msgs, 1)
	assert.Equal(t, dispatch.Keepalive, msgs[0].Type)
}

func TestHandle_ListDeviceTypes(t *testing.T) {
	env := newTestEnv(t)
	msgs := env.dispatcher.Handle(context.Background(), env.session, dispatch.ListDeviceTypes, nil)
	require.Len(t, msgs, 1)
	assert.Contains(t, string(msgs[0].Payload), "Power")
	assert.Contains(t, string(msgs[0].Payload), "Light")
}

func TestHandle_SendCommand_FullFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	entity := env.svc.Entities.NewEntity("serial-1", registry.PowerType)
	require.NoError(t, env.svc.Entities.Save(ctx, entity))
	env.radio.addrs["serial-1"] = 5

	msgs := env.dispatcher.Handle(ctx, env.session, dispatch.SendCommand,
		[]byte("serial-1#"+strconv.Itoa(int(registry.CommandOn.ID))))
	require.Len(t, msgs, 1)
	assert.NotEqual(t, dispatch.Error, msgs[0].Type)

	require.Len(t, env.radio.enqueued, 1)
	assert.Equal(t, byte(5), env.radio.enqueued[0].address)
	assert.Equal(t, []byte{0x00, 0x01}, env.radio.enqueued[0].payload)

	count, err := env.svc.History.Count(ctx, registry.Filter{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, count, "a successful command logs one history row")
}

func TestHandle_SendCommand_UnknownDevice(t *testing.T) {
	env := newTestEnv(t)
	msgs := env.dispatcher.Handle(context.Background(), env.session, dispatch.SendCommand,
		[]byte("does-not-exist#"+strconv.Itoa(int(registry.CommandOn.ID))))
	require.Len(t, msgs, 1)
	assert.Equal(t, dispatch.Error, msgs[0].Type)
}

func TestHandle_LoadTypeImage(t *testing.T) {
	env := newTestEnv(t)
	msgs := env.dispatcher.Handle(context.Background(), env.session, dispatch.LoadTypeImage, []byte("power.png"))
	require.Len(t, msgs, 1)
	require.Equal(t, dispatch.LoadTypeImage, msgs[0].Type)

	decoded, err := base64.StdEncoding.DecodeString(string(msgs[0].Payload))
	require.NoError(t, err)
	assert.Equal(t, "fake-png-bytes", string(decoded))
}

func TestHandle_LoadTypeImage_NotFound(t *testing.T) {
	env := newTestEnv(t)
	msgs := env.dispatcher.Handle(context.Background(), env.session, dispatch.LoadTypeImage, []byte("missing.png"))
	require.Len(t, msgs, 1)
	assert.Equal(t, dispatch.Error, msgs[0].Type)
}

func TestHandle_RenameDevice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.svc.Entities.Save(ctx, env.svc.Entities.NewEntity("serial-2", registry.PowerType)))

	msgs := env.dispatcher.Handle(ctx, env.session, dispatch.RenameDevice, []byte("serial-2;New Name"))
	require.Len(t, msgs, 1)
	assert.Equal(t, dispatch.RenameDevice, msgs[0].Type)

	renamed, err := env.svc.Entities.Find(ctx, "serial-2")
	require.NoError(t, err)
	assert.Equal(t, "New Name", renamed.Name)
}

func TestHandle_CountAndListHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	entity := env.svc.Entities.NewEntity("serial-3", registry.PowerType)
	require.NoError(t, env.svc.Entities.Save(ctx, entity))
	require.NoError(t, env.svc.LogCommand(ctx, entity, "Turning the power on"))

	msgs := env.dispatcher.Handle(ctx, env.session, dispatch.CountHistory, []byte(";;"))
	require.Len(t, msgs, 1)
	assert.Equal(t, "1", string(msgs[0].Payload))

	msgs = env.dispatcher.Handle(ctx, env.session, dispatch.ListHistory, []byte(";;;10;0"))
	require.Len(t, msgs, 1)
	payload := string(msgs[0].Payload)
	assert.Contains(t, payload, "Turning the power on")
	assert.Contains(t, payload, "#1753800000.123;", "the timestamp must render as a plain decimal, not Go's default scientific notation")
	assert.NotContains(t, payload, "e+", "a client parsing #timestamp;... can't handle scientific notation")
}

func TestHandle_UserLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	msgs := env.dispatcher.Handle(ctx, env.session, dispatch.UserCreate, []byte("bob;"+auth.HashPassword("pw")))
	require.Len(t, msgs, 1)
	assert.Equal(t, dispatch.UsersChanged, msgs[0].Type)

	msgs = env.dispatcher.Handle(ctx, env.session, dispatch.ListUsers, nil)
	require.Len(t, msgs, 1)
	assert.Contains(t, string(msgs[0].Payload), "bob")

	users, err := env.authSvc.ListUsers(ctx)
	require.NoError(t, err)
	var bobUID int64
	for _, u := range users {
		if u.Username == "bob" {
			bobUID = u.UID
		}
	}
	require.NotZero(t, bobUID)

	msgs = env.dispatcher.Handle(ctx, env.session, dispatch.UserDelete, []byte(strconv.FormatInt(bobUID, 10)))
	require.Len(t, msgs, 1)
	assert.Equal(t, dispatch.UsersChanged, msgs[0].Type)
}

func TestHandle_Exit_ReturnsNoResponses(t *testing.T) {
	env := newTestEnv(t)
	msgs := env.dispatcher.Handle(context.Background(), env.session, dispatch.Exit, nil)
	assert.Nil(t, msgs)
}
