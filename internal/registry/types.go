// Package registry holds the device type/state/command catalog and the
// per-device Entity rows it classifies, together with their append-only
// history. It is grounded in the original hub's entities package: process-wide
// static catalogs of states and commands, and a small polymorphic dispatch
// over device classes (GenericPower, GenericLight, ...) keyed by type_id.
package registry

import (
	"fmt"
	"strings"
)

// ParamType is the optional parameter shape advertised for a command.
type ParamType int

const (
	ParamNone ParamType = iota
	ParamRange0To100
)

func (p ParamType) wire() string {
	if p == ParamRange0To100 {
		return "range(0-100)"
	}
	return ""
}

// State is a process-wide registered entity state (spec §3).
type State struct {
	ID   uint16
	Name string
}

// Serialize renders "{id};{name}".
func (s State) Serialize() string {
	return fmt.Sprintf("%d;%s", s.ID, s.Name)
}

var (
	StateUnknown = State{1, "Unknown"}
	StateOn      = State{2, "On"}
	StateOff     = State{3, "Off"}

	statesByID = map[uint16]State{
		StateUnknown.ID: StateUnknown,
		StateOn.ID:      StateOn,
		StateOff.ID:     StateOff,
	}
)

// FindState resolves a state by id. ok is false for unknown ids (spec: "stays Unknown").
func FindState(id uint16) (State, bool) {
	s, ok := statesByID[id]
	return s, ok
}

// Command is a process-wide registered UI command (spec §3).
type Command struct {
	ID        uint16
	Name      string
	ParamType ParamType
}

// Serialize renders "{id};{name};" + optional parameter type, always with
// the trailing ';' per spec §9's wire-format note.
func (c Command) Serialize() string {
	return fmt.Sprintf("%d;%s;%s", c.ID, c.Name, c.ParamType.wire())
}

var (
	CommandOn          = Command{1, "Turn On", ParamNone}
	CommandOff         = Command{2, "Turn Off", ParamNone}
	CommandSetLevel    = Command{100, "Set level", ParamRange0To100}

	commandsByID = map[uint16]Command{
		CommandOn.ID:       CommandOn,
		CommandOff.ID:      CommandOff,
		CommandSetLevel.ID: CommandSetLevel,
	}
)

// FindCommand resolves a command by id.
func FindCommand(id uint16) (Command, bool) {
	c, ok := commandsByID[id]
	return c, ok
}

// CommTypeRadio is the only communication-type tag the hub currently knows.
const CommTypeRadio = 0x01

// Codec is what each device class implements (spec §4.3).
type Codec interface {
	// OnStateFrame decodes a state payload. ok is false when nothing changed
	// and the caller should not log a history row.
	OnStateFrame(payload []byte, currentValue string) (state State, value string, ok bool)
	// EncodeCommand produces the radio payload for a UI command.
	EncodeCommand(cmd Command, value string) ([]byte, error)
	// DescribeState renders a human-readable description.
	DescribeState(state State, value string) string
	// CommandLogText renders the history row text for a successfully
	// encoded command (spec §4.3, e.g. "Turning the light on").
	CommandLogText(cmd Command, value string) string
}

// Type is a process-wide registered device type (spec §3). Registration is
// idempotent by TypeID, matching the original's class-level side effect,
// replaced here by explicit startup registration (spec §9).
type Type struct {
	TypeID   uint16
	TypeName string
	Codec    Codec
	Commands []Command
	Color    string
	Image    string
	CommType int
}

// Serialize renders "{type_id};{type_name};{color?};{image?};[c1,c2,...]".
func (t Type) Serialize() string {
	cmds := make([]string, len(t.Commands))
	for i, c := range t.Commands {
		cmds[i] = c.Serialize()
	}
	return fmt.Sprintf("%d;%s;%s;%s;[%s]", t.TypeID, t.TypeName, t.Color, t.Image, strings.Join(cmds, ","))
}

// Catalog is a process-wide registry of device Types, built at startup
// (spec §9: "plug-in device types register at startup rather than via
// import-time scanning").
type Catalog struct {
	byID map[uint16]Type
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{byID: make(map[uint16]Type)}
}

// Register adds a type. Repeated registration with the same TypeID is a no-op.
func (c *Catalog) Register(t Type) {
	if _, exists := c.byID[t.TypeID]; exists {
		return
	}
	c.byID[t.TypeID] = t
}

// Find looks up a registered type.
func (c *Catalog) Find(typeID uint16) (Type, bool) {
	t, ok := c.byID[typeID]
	return t, ok
}

// All returns every registered type, ordered by TypeID for determinism.
func (c *Catalog) All() []Type {
	out := make([]Type, 0, len(c.byID))
	for _, t := range c.byID {
		out = append(out, t)
	}
	sortTypesByID(out)
	return out
}

func sortTypesByID(types []Type) {
	for i := 1; i < len(types); i++ {
		for j := i; j > 0 && types[j-1].TypeID > types[j].TypeID; j-- {
			types[j-1], types[j] = types[j], types[j-1]
		}
	}
}
