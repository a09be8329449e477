package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rycus86/intellihomehub/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	require.NoError(t, st.EnsureTable(ctx, "kv", "CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)"))
	return st
}

func TestEnsureTable_IsIdempotent(t *testing.T) {
	st := openTestStore(t)
	require.NoError(t, st.EnsureTable(context.Background(), "kv", "CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)"))
}

func TestWithWriter_CommitsOnSuccess(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	err := st.WithWriter(ctx, func(ctx context.Context) error {
		_, err := st.Exec(ctx, "INSERT INTO kv (k, v) VALUES (?, ?)", "a", "1")
		return err
	})
	require.NoError(t, err)

	var v string
	require.NoError(t, st.QueryRow(ctx, "SELECT v FROM kv WHERE k = ?", "a").Scan(&v))
	require.Equal(t, "1", v)
}

func TestWithWriter_RollsBackOnErrRollback(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	err := st.WithWriter(ctx, func(ctx context.Context) error {
		if _, err := st.Exec(ctx, "INSERT INTO kv (k, v) VALUES (?, ?)", "b", "1"); err != nil {
			return err
		}
		return store.ErrRollback
	})
	require.NoError(t, err, "ErrRollback must not surface to the caller")

	var v string
	err = st.QueryRow(ctx, "SELECT v FROM kv WHERE k = ?", "b").Scan(&v)
	require.ErrorIs(t, err, store.ErrNoRow, "rolled-back insert must not be visible")
}

func TestWithWriter_NestedScopeSharesTransaction(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	err := st.WithWriter(ctx, func(ctx context.Context) error {
		_, err := st.Exec(ctx, "INSERT INTO kv (k, v) VALUES (?, ?)", "c", "outer")
		if err != nil {
			return err
		}
		return st.WithWriter(ctx, func(ctx context.Context) error {
			var v string
			return st.QueryRow(ctx, "SELECT v FROM kv WHERE k = ?", "c").Scan(&v)
		})
	})
	require.NoError(t, err)
}
