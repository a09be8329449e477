package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/rycus86/intellihomehub/internal/store"
)

// ActionKind distinguishes a state transition from a user-issued command
// in the history log (spec §3/§4.4).
type ActionKind string

const (
	ActionState   ActionKind = "State"
	ActionCommand ActionKind = "Command"
)

const historyTable = "history"
const historyCreateStmt = `CREATE TABLE history (
	timestamp REAL,
	entityid TEXT,
	entityname TEXT,
	action TEXT,
	type TEXT
)`

// HistoryRecord is one append-only row (spec §3).
type HistoryRecord struct {
	Timestamp  float64
	EntityID   string
	EntityName string
	Action     string
	Kind       ActionKind
}

// History is the append-only log, backed by the same Store as the registry.
type History struct {
	store *store.Store
	now   func() float64
}

// NewHistory wires a History to its backing store, creating the history
// table if missing. now lets tests substitute a deterministic clock.
func NewHistory(ctx context.Context, st *store.Store, now func() float64) (*History, error) {
	if err := st.EnsureTable(ctx, historyTable, historyCreateStmt); err != nil {
		return nil, fmt.Errorf("history: ensure table: %w", err)
	}
	return &History{store: st, now: now}, nil
}

// Append writes one record (spec §4.4: atomic).
func (h *History) Append(ctx context.Context, entityID, entityName, action string, kind ActionKind) error {
	return h.store.WithWriter(ctx, func(ctx context.Context) error {
		_, err := h.store.Exec(ctx,
			"INSERT INTO history (timestamp, entityid, entityname, action, type) VALUES (?, ?, ?, ?, ?)",
			h.now(), entityID, entityName, action, string(kind))
		return err
	})
}

// Filter narrows Count/Query by inclusive time bounds and/or entity id.
type Filter struct {
	From     *float64
	To       *float64
	EntityID *string
}

func (f Filter) whereClause() (string, []any) {
	var conds []string
	var args []any
	if f.From != nil {
		conds = append(conds, "timestamp >= ?")
		args = append(args, *f.From)
	}
	if f.To != nil {
		conds = append(conds, "timestamp <= ?")
		args = append(args, *f.To)
	}
	if f.EntityID != nil {
		conds = append(conds, "entityid = ?")
		args = append(args, *f.EntityID)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Count reports how many rows match f.
func (h *History) Count(ctx context.Context, f Filter) (uint64, error) {
	where, args := f.whereClause()
	row := h.store.QueryRow(ctx, "SELECT COUNT(*) FROM history"+where, args...)
	var n uint64
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Query returns rows matching f, newest first, with an optional
// limit/offset page (spec §4.4).
func (h *History) Query(ctx context.Context, f Filter, limit, offset *int64) ([]HistoryRecord, error) {
	where, args := f.whereClause()
	query := "SELECT timestamp, entityid, entityname, action, type FROM history" + where + " ORDER BY timestamp DESC"
	if limit != nil {
		query += " LIMIT ?"
		args = append(args, *limit)
		if offset != nil {
			query += " OFFSET ?"
			args = append(args, *offset)
		}
	}

	rows, err := h.store.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HistoryRecord
	for rows.Next() {
		var r HistoryRecord
		var kind string
		if err := rows.Scan(&r.Timestamp, &r.EntityID, &r.EntityName, &r.Action, &kind); err != nil {
			return nil, err
		}
		r.Kind = ActionKind(kind)
		out = append(out, r)
	}
	return out, rows.Err()
}
