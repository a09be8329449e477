package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/rycus86/intellihomehub/internal/registry"
)

// RadioHandler bridges the Radio Link Manager's Describe/Receive callbacks
// into the Device Registry, and fans out state changes through the
// Dispatcher. Grounded in the original's client.py RadioHandler.
type RadioHandler struct {
	dispatcher *Dispatcher
}

// NewRadioHandler builds a RadioHandler wired to d.
func NewRadioHandler(d *Dispatcher) *RadioHandler {
	return &RadioHandler{dispatcher: d}
}

// Describe implements radio.Handler: a device has just completed two-step
// registration. Creates the entity on first sight, otherwise just touches
// last_checkin (spec §4.2/§4.3 S1 scenario).
func (h *RadioHandler) Describe(ctx context.Context, address byte, serial string, payload []byte) {
	if len(payload) == 0 {
		return
	}
	typeID := uint16(payload[0])
	typ, ok := h.dispatcher.Registry.Entities.Catalog().Find(typeID)
	if !ok {
		h.dispatcher.logger.Warn("describe from unregistered entity type", "serial", serial, "type", typeID)
		return
	}

	now := float64(time.Now().UnixNano()) / float64(time.Second)

	entity, err := h.dispatcher.Registry.Entities.Find(ctx, serial)
	if errors.Is(err, registry.ErrNotFound) {
		entity = h.dispatcher.Registry.Entities.NewEntity(serial, typ)
		entity.Name = "Unknown device: " + serial
		entity.LastCheckin = now
		if err := h.dispatcher.Registry.Entities.Save(ctx, entity); err != nil {
			h.dispatcher.logger.Warn("save new entity failed", "serial", serial, "err", err)
			return
		}
		h.dispatcher.BroadcastStateChanged(entity)
		return
	}
	if err != nil {
		h.dispatcher.logger.Warn("describe lookup failed", "serial", serial, "err", err)
		return
	}

	entity.LastCheckin = now
	if err := h.dispatcher.Registry.Entities.Save(ctx, entity); err != nil {
		h.dispatcher.logger.Warn("touch checkin failed", "serial", serial, "err", err)
		return
	}
	h.dispatcher.BroadcastStateChanged(entity)
}

// Receive implements radio.Handler: a runtime MSG_STATE/MSG_COMMAND frame
// arrived from a known device. Only MSG_STATE frames carry device state.
func (h *RadioHandler) Receive(ctx context.Context, address byte, serial string, flags byte, payload []byte) {
	entity, err := h.dispatcher.Registry.Entities.Find(ctx, serial)
	if err != nil {
		h.dispatcher.logger.Warn("state frame for unknown entity", "serial", serial, "err", err)
		return
	}

	typ, ok := h.dispatcher.Registry.Entities.Catalog().Find(entity.TypeID)
	if !ok {
		return
	}

	currentValue := ""
	if entity.StateValue != nil {
		currentValue = *entity.StateValue
	}
	state, value, changed := typ.Codec.OnStateFrame(payload, currentValue)
	if !changed {
		return
	}

	now := float64(time.Now().UnixNano()) / float64(time.Second)
	updated, err := h.dispatcher.Registry.SetState(ctx, entity, state, &value, &now)
	if err != nil {
		h.dispatcher.logger.Warn("set state failed", "serial", serial, "err", err)
		return
	}
	h.dispatcher.BroadcastStateChanged(updated)
}
