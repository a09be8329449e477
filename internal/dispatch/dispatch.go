package dispatch

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/rycus86/intellihomehub/internal/auth"
	"github.com/rycus86/intellihomehub/internal/images"
	"github.com/rycus86/intellihomehub/internal/localize"
	"github.com/rycus86/intellihomehub/internal/logging"
	"github.com/rycus86/intellihomehub/internal/registry"
)

// Radio is the subset of the Link Manager the dispatcher needs: resolving
// a device's current short address and queueing an outbound command.
type Radio interface {
	AddressFor(serial string) (byte, bool)
	EnqueueCommand(ctx context.Context, address byte, payload []byte) error
}

// Broadcaster is implemented by each transport so the dispatcher can fan
// out state-change and user-list-change notifications (spec §4.7/§5).
type Broadcaster interface {
	Broadcast(msgType byte, payload []byte)
}

// Dispatcher is the single switch spec §4.7 describes: (transport, peer,
// msg_type, payload) -> responses. It holds no transport-specific state;
// session enforcement is each transport's own responsibility (spec §4.5/§4.6).
type Dispatcher struct {
	Registry *registry.Service
	Auth     *auth.Service
	Images   *images.Resolver
	Loc      localize.Localizer
	Radio    Radio
	logger   logging.Logger

	mu           sync.Mutex
	broadcasters []Broadcaster
}

// New builds a Dispatcher wired to its collaborators.
func New(reg *registry.Service, authSvc *auth.Service, imgs *images.Resolver, loc localize.Localizer, radio Radio, logger logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Dispatcher{Registry: reg, Auth: authSvc, Images: imgs, Loc: loc, Radio: radio, logger: logger}
}

// RegisterBroadcaster adds a transport as a target for server-initiated
// broadcasts (A5 STATE_CHANGED, C5 USERS_CHANGED).
func (d *Dispatcher) RegisterBroadcaster(b Broadcaster) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.broadcasters = append(d.broadcasters, b)
}

func (d *Dispatcher) broadcast(msgType byte, payload []byte) {
	d.mu.Lock()
	targets := append([]Broadcaster(nil), d.broadcasters...)
	d.mu.Unlock()
	for _, b := range targets {
		b.Broadcast(msgType, payload)
	}
}

// BroadcastStateChanged fans out an A5 notification for e. It is called by
// the radio bridge handler whenever a device's registry state changes.
func (d *Dispatcher) BroadcastStateChanged(e registry.Entity) {
	d.broadcast(StateChanged, []byte(e.Serialize()))
}

// Login authenticates "user:passhash" and mints a session (spec §4.7, A1).
// The transport is responsible for calling this only for the LOGIN
// message type and for recording the resulting session itself.
func (d *Dispatcher) Login(ctx context.Context, payload []byte) (auth.Session, bool) {
	parts := strings.SplitN(string(payload), ":", 2)
	if len(parts) != 2 {
		return auth.Session{}, false
	}
	session, err := d.Auth.Authenticate(ctx, parts[0], parts[1])
	if err != nil {
		return auth.Session{}, false
	}
	return session, true
}

// LoginResponse renders the A1 success payload: the session id, with a
// trailing '*' for administrators.
func LoginResponse(session auth.Session) Message {
	text := session.ID
	if session.IsAdmin {
		text += "*"
	}
	return textMessage(Login, text)
}

// Handle runs the authenticated-request switch of spec §4.7. The caller
// (a transport) has already verified sess is valid for this request;
// Handle never re-checks session validity.
func (d *Dispatcher) Handle(ctx context.Context, sess auth.Session, msgType byte, payload []byte) []Message {
	switch msgType {
	case Keepalive:
		return []Message{textMessage(Keepalive, "")}

	case ListDeviceTypes:
		return []Message{d.listDeviceTypes()}

	case ListDevices:
		return []Message{d.listDevices(ctx, payload)}

	case SendCommand:
		return []Message{d.sendCommand(ctx, sess, string(payload))}

	case LoadTypeImage:
		return []Message{d.loadTypeImage(string(payload))}

	case RenameDevice:
		return d.renameDevice(ctx, string(payload))

	case CountHistory:
		return []Message{d.countHistory(ctx, string(payload))}

	case ListHistory:
		return []Message{d.listHistory(ctx, string(payload))}

	case ListUsers:
		return []Message{d.listUsers(ctx)}

	case UserCreate:
		return []Message{d.userCreate(ctx, string(payload))}

	case UserEdit:
		return []Message{d.userEdit(ctx, string(payload))}

	case UserDelete:
		return []Message{d.userDelete(ctx, string(payload))}

	case Exit:
		return nil

	default:
		d.logger.Warn("unhandled message type", "type", fmt.Sprintf("0x%02X", msgType))
		return nil
	}
}

func (d *Dispatcher) listDeviceTypes() Message {
	types := d.Registry.Entities.Catalog().All()
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = t.Serialize()
	}
	return textMessage(ListDeviceTypes, "["+strings.Join(parts, ",")+"]")
}

var listDevicesTypeAndName = regexp.MustCompile(`^[0-9]+;.*$`)
var listDevicesTypeOnly = regexp.MustCompile(`^[0-9]+`)

func (d *Dispatcher) listDevices(ctx context.Context, payload []byte) Message {
	message := string(payload)

	var typeID *uint16
	var namePattern *string
	switch {
	case listDevicesTypeAndName.MatchString(message):
		parts := strings.SplitN(message, ";", 2)
		if id, err := strconv.ParseUint(parts[0], 10, 16); err == nil {
			v := uint16(id)
			typeID = &v
		}
		namePattern = &parts[1]
	case listDevicesTypeOnly.MatchString(message):
		if id, err := strconv.ParseUint(message, 10, 16); err == nil {
			v := uint16(id)
			typeID = &v
		}
	case len(message) > 0:
		namePattern = &message
	}

	entities, err := d.Registry.Entities.List(ctx, typeID, namePattern)
	if err != nil {
		d.logger.Warn("list devices failed", "err", err)
		entities = nil
	}
	parts := make([]string, len(entities))
	for i, e := range entities {
		parts[i] = e.Serialize()
	}
	return textMessage(ListDevices, "["+strings.Join(parts, ",")+"]")
}

func (d *Dispatcher) sendCommand(ctx context.Context, sess auth.Session, message string) Message {
	entityAndCmd := strings.SplitN(message, "#", 2)
	if len(entityAndCmd) != 2 {
		return errorMessage(d.Loc.Localize("error.not.found.device"))
	}
	entityID := entityAndCmd[0]
	cmdID, value := entityAndCmd[1], ""
	if idx := strings.Index(cmdID, ";"); idx >= 0 {
		value = cmdID[idx+1:]
		cmdID = cmdID[:idx]
	}

	entity, err := d.Registry.Entities.Find(ctx, entityID)
	if err != nil {
		return errorMessage(d.Loc.Localize("error.not.found.device") + ": " + entityID)
	}

	cid, err := strconv.ParseUint(cmdID, 10, 16)
	if err != nil {
		return errorMessage(d.Loc.Localize("error.not.found.command") + ": " + cmdID)
	}
	cmd, ok := registry.FindCommand(uint16(cid))
	if !ok {
		return errorMessage(d.Loc.Localize("error.not.found.command") + ": " + cmdID)
	}

	typ, ok := d.Registry.Entities.Catalog().Find(entity.TypeID)
	if !ok {
		return errorMessage(d.Loc.Localize("error.not.found.device") + ": " + entityID)
	}

	radioPayload, err := typ.Codec.EncodeCommand(cmd, value)
	if err != nil {
		return errorMessage(d.Loc.Localize("error.not.found.command") + ": " + cmdID)
	}

	address, ok := d.Radio.AddressFor(entity.UniqueID)
	if !ok {
		return errorMessage(d.Loc.Localize("error.not.found.device") + ": " + entityID)
	}
	if err := d.Radio.EnqueueCommand(ctx, address, radioPayload); err != nil {
		d.logger.Warn("enqueue command failed", "entity", entityID, "err", err)
		return errorMessage(d.Loc.Localize("error.not.found.device") + ": " + entityID)
	}

	if err := d.Registry.LogCommand(ctx, entity, typ.Codec.CommandLogText(cmd, value)); err != nil {
		d.logger.Warn("log command failed", "entity", entityID, "err", err)
	}
	return textMessage(SendCommand, "")
}

func (d *Dispatcher) loadTypeImage(name string) Message {
	data, err := d.Images.Load(name)
	if err != nil {
		return errorMessage(d.Loc.Localize("error.load.image") + ": " + name)
	}
	return textMessage(LoadTypeImage, base64.StdEncoding.EncodeToString(data))
}

func (d *Dispatcher) renameDevice(ctx context.Context, message string) []Message {
	parts := strings.SplitN(message, ";", 2)
	if len(parts) != 2 {
		return []Message{errorMessage(d.Loc.Localize("error.not.found.device"))}
	}
	entity, err := d.Registry.Rename(ctx, parts[0], parts[1])
	if err != nil {
		return []Message{errorMessage(d.Loc.Localize("error.not.found.device") + ": " + parts[0])}
	}
	d.BroadcastStateChanged(entity)
	return []Message{textMessage(RenameDevice, "")}
}

func (d *Dispatcher) countHistory(ctx context.Context, message string) Message {
	filter, err := parseHistoryFilter(message)
	if err != nil {
		return errorMessage(err.Error())
	}
	count, err := d.Registry.History.Count(ctx, filter)
	if err != nil {
		d.logger.Warn("count history failed", "err", err)
		return errorMessage(d.Loc.Localize("error.count.history"))
	}
	return textMessage(CountHistory, strconv.FormatUint(count, 10))
}

func (d *Dispatcher) listHistory(ctx context.Context, message string) Message {
	parts := strings.Split(message, ";")
	if len(parts) != 5 {
		return errorMessage(d.Loc.Localize("error.count.history"))
	}
	filter, err := parseHistoryFilter(strings.Join(parts[:3], ";"))
	if err != nil {
		return errorMessage(err.Error())
	}
	limit, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return errorMessage(d.Loc.Localize("error.count.history"))
	}
	offset, err := strconv.ParseInt(parts[4], 10, 64)
	if err != nil {
		return errorMessage(d.Loc.Localize("error.count.history"))
	}

	records, err := d.Registry.History.Query(ctx, filter, &limit, &offset)
	if err != nil {
		d.logger.Warn("list history failed", "err", err)
		return errorMessage(d.Loc.Localize("error.count.history"))
	}

	var sb strings.Builder
	for _, r := range records {
		ts := strconv.FormatFloat(r.Timestamp, 'f', -1, 64)
		sb.WriteString(fmt.Sprintf("#%s;%s;%s;%s;%s", ts, r.EntityID, r.EntityName, r.Action, r.Kind))
	}
	return textMessage(ListHistory, sb.String())
}

// parseHistoryFilter decodes "{ms_from};{ms_to};{entity_id}", converting
// millisecond wire timestamps to the seconds History uses internally
// (spec §4.7: "divide by 1000 on ingress").
func parseHistoryFilter(message string) (registry.Filter, error) {
	parts := strings.SplitN(message, ";", 3)
	if len(parts) != 3 {
		return registry.Filter{}, fmt.Errorf("malformed history filter")
	}
	var f registry.Filter
	if parts[0] != "" {
		ms, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return registry.Filter{}, err
		}
		v := float64(ms) / 1000.0
		f.From = &v
	}
	if parts[1] != "" {
		ms, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return registry.Filter{}, err
		}
		v := float64(ms) / 1000.0
		f.To = &v
	}
	if parts[2] != "" {
		v := parts[2]
		f.EntityID = &v
	}
	return f, nil
}

func (d *Dispatcher) listUsers(ctx context.Context) Message {
	users, err := d.Auth.ListUsers(ctx)
	if err != nil {
		d.logger.Warn("list users failed", "err", err)
		return errorMessage(d.Loc.Localize("error.list.users"))
	}
	parts := make([]string, len(users))
	for i, u := range users {
		marker := "#"
		if u.IsAdmin {
			marker = "*"
		}
		parts[i] = strconv.FormatInt(u.UID, 10) + marker + u.Username
	}
	return textMessage(ListUsers, strings.Join(parts, ";"))
}

func (d *Dispatcher) userCreate(ctx context.Context, message string) Message {
	parts := strings.SplitN(message, ";", 2)
	if len(parts) != 2 {
		return errorMessage(d.Loc.Localize("error.create.user"))
	}
	if err := d.Auth.CreateUser(ctx, parts[0], parts[1]); err != nil {
		return errorMessage(d.Loc.Localize("error.create.user"))
	}
	d.broadcast(UsersChanged, nil)
	return textMessage(UsersChanged, "")
}

func (d *Dispatcher) userEdit(ctx context.Context, message string) Message {
	parts := strings.SplitN(message, ";", 3)
	if len(parts) != 3 {
		return errorMessage(d.Loc.Localize("error.edit.user"))
	}
	uid, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return errorMessage(d.Loc.Localize("error.edit.user"))
	}
	if err := d.Auth.EditUser(ctx, uid, parts[1], parts[2]); err != nil {
		return errorMessage(d.Loc.Localize("error.edit.user"))
	}
	d.broadcast(UsersChanged, nil)
	return textMessage(UsersChanged, "")
}

func (d *Dispatcher) userDelete(ctx context.Context, message string) Message {
	uid, err := strconv.ParseInt(strings.TrimSpace(message), 10, 64)
	if err != nil {
		return errorMessage(d.Loc.Localize("error.delete.user"))
	}
	if err := d.Auth.DeleteUser(ctx, uid); err != nil {
		return errorMessage(d.Loc.Localize("error.delete.user"))
	}
	d.broadcast(UsersChanged, nil)
	return textMessage(UsersChanged, "")
}
