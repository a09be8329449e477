// Package settings is a thin opaque key/value store over the `settings`
// table spec.md §6 names but leaves without operations. Grounded in the
// original hub's modules/__init__.py Settings helper; supplements a
// feature the distillation dropped (Step 3 of the transformation process).
package settings

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rycus86/intellihomehub/internal/store"
)

const table = "settings"
const createStmt = `CREATE TABLE settings (key TEXT PRIMARY KEY, value TEXT)`

// Settings wraps the settings table.
type Settings struct {
	store *store.Store
}

// New wires Settings to its backing store, creating the table if missing.
func New(ctx context.Context, st *store.Store) (*Settings, error) {
	if err := st.EnsureTable(ctx, table, createStmt); err != nil {
		return nil, fmt.Errorf("settings: ensure table: %w", err)
	}
	return &Settings{store: st}, nil
}

// Get returns the stored value for key, or def if unset.
func (s *Settings) Get(ctx context.Context, key, def string) (string, error) {
	var value string
	err := s.store.QueryRow(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return def, nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// Set upserts key's value.
func (s *Settings) Set(ctx context.Context, key, value string) error {
	return s.store.WithWriter(ctx, func(ctx context.Context) error {
		var existing string
		err := s.store.QueryRow(ctx, "SELECT key FROM settings WHERE key = ?", key).Scan(&existing)
		if err == sql.ErrNoRows {
			_, err := s.store.Exec(ctx, "INSERT INTO settings (key, value) VALUES (?, ?)", key, value)
			return err
		}
		if err != nil {
			return err
		}
		_, err = s.store.Exec(ctx, "UPDATE settings SET value = ? WHERE key = ?", value, key)
		return err
	})
}
