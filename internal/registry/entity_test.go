package registry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rycus86/intellihomehub/internal/registry"
	"github.com/rycus86/intellihomehub/internal/store"
)

func newTestRegistry(t *testing.T) (*registry.Registry, *registry.History) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	catalog := registry.NewCatalog()
	catalog.Register(registry.PowerType)
	catalog.Register(registry.LightType)

	ctx := context.Background()
	reg, err := registry.New(ctx, st, catalog)
	require.NoError(t, err)

	clock := float64(1000)
	hist, err := registry.NewHistory(ctx, st, func() float64 { return clock })
	require.NoError(t, err)

	return reg, hist
}

func TestRegistry_SaveFindList(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	e := reg.NewEntity("serial-1", registry.PowerType)
	require.NoError(t, reg.Save(ctx, e))

	found, err := reg.Find(ctx, "serial-1")
	require.NoError(t, err)
	require.Equal(t, "Unnamed entity", found.Name)
	require.Equal(t, registry.StateUnknown, found.State)

	_, err = reg.Find(ctx, "missing")
	require.ErrorIs(t, err, registry.ErrNotFound)

	all, err := reg.List(ctx, nil, nil)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestRegistry_List_FiltersByTypeAndName(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Save(ctx, reg.NewEntity("p1", registry.PowerType)))
	require.NoError(t, reg.Save(ctx, reg.NewEntity("l1", registry.LightType)))

	powerTypeID := registry.PowerType.TypeID
	onlyPower, err := reg.List(ctx, &powerTypeID, nil)
	require.NoError(t, err)
	require.Len(t, onlyPower, 1)
	require.Equal(t, "p1", onlyPower[0].UniqueID)

	pattern := "%Unnamed%"
	byName, err := reg.List(ctx, nil, &pattern)
	require.NoError(t, err)
	require.Len(t, byName, 2)
}

func TestService_SetStateAppendsHistory(t *testing.T) {
	reg, hist := newTestRegistry(t)
	svc := &registry.Service{Entities: reg, History: hist}
	ctx := context.Background()

	e := reg.NewEntity("serial-2", registry.PowerType)
	require.NoError(t, reg.Save(ctx, e))

	value := "1"
	checkin := 42.0
	updated, err := svc.SetState(ctx, e, registry.StateOn, &value, &checkin)
	require.NoError(t, err)
	require.Equal(t, registry.StateOn, updated.State)
	require.Equal(t, 42.0, updated.LastCheckin)

	n, err := hist.Count(ctx, registry.Filter{})
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	rows, err := hist.Query(ctx, registry.Filter{}, nil, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, registry.ActionState, rows[0].Kind)
}

func TestService_LogCommandDoesNotChangeState(t *testing.T) {
	reg, hist := newTestRegistry(t)
	svc := &registry.Service{Entities: reg, History: hist}
	ctx := context.Background()

	e := reg.NewEntity("serial-3", registry.LightType)
	require.NoError(t, reg.Save(ctx, e))

	require.NoError(t, svc.LogCommand(ctx, e, "Turning the light on"))

	reloaded, err := reg.Find(ctx, "serial-3")
	require.NoError(t, err)
	require.Equal(t, registry.StateUnknown, reloaded.State, "LogCommand must not touch persisted state")

	rows, err := hist.Query(ctx, registry.Filter{}, nil, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, registry.ActionCommand, rows[0].Kind)
}

func TestService_Rename(t *testing.T) {
	reg, hist := newTestRegistry(t)
	svc := &registry.Service{Entities: reg, History: hist}
	ctx := context.Background()

	require.NoError(t, reg.Save(ctx, reg.NewEntity("serial-4", registry.PowerType)))

	renamed, err := svc.Rename(ctx, "serial-4", "Living Room Lamp")
	require.NoError(t, err)
	require.Equal(t, "Living Room Lamp", renamed.Name)
}
