package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rycus86/intellihomehub/internal/store"
)

// ErrUnknownType reports a type_id with no registered Type (spec §4.3:
// "unknown type_id encountered during a load is surfaced as a soft error").
var ErrUnknownType = errors.New("registry: unknown type_id")

// ErrNotFound reports a missing Entity row.
var ErrNotFound = errors.New("registry: entity not found")

const entityTable = "entity"
const entityCreateStmt = `CREATE TABLE entity (
	uniqueid TEXT PRIMARY KEY,
	typeid INTEGER,
	name TEXT,
	stateid INTEGER,
	statevalue TEXT,
	lastcheckin REAL
)`

// Entity is a persistent device row plus the live view of its type (spec §3).
type Entity struct {
	UniqueID     string
	TypeID       uint16
	Name         string
	State        State
	StateValue   *string // nil == SQL NULL / Python None
	LastCheckin  float64

	typ Type
}

// Registry owns the Entity table and the process-wide type Catalog.
type Registry struct {
	store   *store.Store
	catalog *Catalog
}

// New wires a Registry to its backing store and type catalog, creating the
// entity table if it's missing.
func New(ctx context.Context, st *store.Store, catalog *Catalog) (*Registry, error) {
	if err := st.EnsureTable(ctx, entityTable, entityCreateStmt); err != nil {
		return nil, fmt.Errorf("registry: ensure entity table: %w", err)
	}
	return &Registry{store: st, catalog: catalog}, nil
}

// Serialize renders "{unique_id};{type_id};{name};{state};{state_value?};{last_checkin}".
// The trailing ';' before an absent state_value is intentionally not
// suppressed (spec §9 wire-format note), but the value itself is: the
// original guards with "if self.state_value", and "0" is falsy in Python,
// so a falsy state_value (None, "", or "0") renders as the empty string.
func (e Entity) Serialize() string {
	value := ""
	if e.StateValue != nil && *e.StateValue != "0" {
		value = *e.StateValue
	}
	return fmt.Sprintf("%s;%d;%s;%s;%s;%d", e.UniqueID, e.TypeID, e.Name, e.State.Serialize(), value, int64(e.LastCheckin))
}

// DescribeState delegates to the entity's device-class codec.
func (e Entity) DescribeState() string {
	if e.typ.Codec == nil {
		return e.State.Name
	}
	value := ""
	if e.StateValue != nil {
		value = *e.StateValue
	}
	return e.typ.Codec.DescribeState(e.State, value)
}

func scanEntity(row rowScanner, catalog *Catalog) (Entity, error) {
	var e Entity
	var stateID uint16
	var stateValue sql.NullString
	if err := row.Scan(&e.UniqueID, &e.TypeID, &e.Name, &stateID, &stateValue, &e.LastCheckin); err != nil {
		return Entity{}, err
	}
	state, ok := FindState(stateID)
	if !ok {
		state = StateUnknown
	}
	e.State = state
	if stateValue.Valid {
		v := stateValue.String
		e.StateValue = &v
	}
	typ, ok := catalog.Find(e.TypeID)
	if !ok {
		return Entity{}, fmt.Errorf("%w: %d", ErrUnknownType, e.TypeID)
	}
	e.typ = typ
	return e, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Find loads one entity by its unique_id. A row whose type_id is unknown
// is "inert" per spec §3: skipped, not deleted, surfaced as ErrUnknownType.
func (r *Registry) Find(ctx context.Context, uniqueID string) (Entity, error) {
	row := r.store.QueryRow(ctx,
		"SELECT uniqueid, typeid, name, stateid, statevalue, lastcheckin FROM entity WHERE uniqueid = ?",
		uniqueID)
	e, err := scanEntity(row, r.catalog)
	if errors.Is(err, sql.ErrNoRows) {
		return Entity{}, ErrNotFound
	}
	return e, err
}

// List returns entities filtered by type_id and/or a SQL LIKE name
// pattern, ordered by name ascending. An always-appended ORDER BY is
// preserved even with no filters (spec §9, locked Open Question).
func (r *Registry) List(ctx context.Context, typeID *uint16, namePattern *string) ([]Entity, error) {
	query := "SELECT uniqueid, typeid, name, stateid, statevalue, lastcheckin FROM entity"
	var conditions []string
	var args []any
	if typeID != nil {
		conditions = append(conditions, "typeid = ?")
		args = append(args, *typeID)
	}
	if namePattern != nil {
		conditions = append(conditions, "name LIKE ?")
		args = append(args, *namePattern)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY name"

	rows, err := r.store.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		e, err := scanEntity(rows, r.catalog)
		if errors.Is(err, ErrUnknownType) {
			continue // inert row: skip, don't fail the whole list
		}
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Save upserts an entity by its primary key.
func (r *Registry) Save(ctx context.Context, e Entity) error {
	return r.store.WithWriter(ctx, func(ctx context.Context) error {
		existing, err := r.Find(ctx, e.UniqueID)
		if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrUnknownType) {
			return err
		}
		var stateValue any
		if e.StateValue != nil {
			stateValue = *e.StateValue
		}
		if errors.Is(err, ErrNotFound) {
			_, err := r.store.Exec(ctx,
				"INSERT INTO entity (uniqueid, typeid, name, stateid, statevalue, lastcheckin) VALUES (?, ?, ?, ?, ?, ?)",
				e.UniqueID, e.TypeID, e.Name, e.State.ID, stateValue, e.LastCheckin)
			return err
		}
		_, err = r.store.Exec(ctx,
			"UPDATE entity SET typeid=?, name=?, stateid=?, statevalue=?, lastcheckin=? WHERE uniqueid=?",
			e.TypeID, e.Name, e.State.ID, stateValue, e.LastCheckin, e.UniqueID)
		return err
	})
}

// Delete removes an entity row (admin action only per spec §3 lifecycle note).
func (r *Registry) Delete(ctx context.Context, uniqueID string) error {
	return r.store.WithWriter(ctx, func(ctx context.Context) error {
		_, err := r.store.Exec(ctx, "DELETE FROM entity WHERE uniqueid = ?", uniqueID)
		return err
	})
}

// NewEntity constructs an Entity of the given registered type with default
// field values (spec §3: default name "Unnamed entity", state Unknown).
func (r *Registry) NewEntity(uniqueID string, typ Type) Entity {
	return Entity{
		UniqueID: uniqueID,
		TypeID:   typ.TypeID,
		Name:     "Unnamed entity",
		State:    StateUnknown,
		typ:      typ,
	}
}

// Catalog exposes the registry's type catalog to callers that need it
// (the dispatcher's LIST_DEVICE_TYPES, the link manager's DESCRIBE lookup).
func (r *Registry) Catalog() *Catalog { return r.catalog }
