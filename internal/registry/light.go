package registry

import (
	"fmt"
	"math"
	"strconv"
)

// LightCodec implements Codec for dimmable lights (spec §4.3, type_id 101).
// Grounded in the original's GenericLight entity class.
type LightCodec struct{}

func (LightCodec) OnStateFrame(payload []byte, currentValue string) (State, string, bool) {
	if len(payload) == 0 {
		return State{}, "", false
	}
	s := payload[0]
	switch {
	case s > 0x00 && s < 0xFF:
		level := int(math.Round(float64(s) * 100.0 / 255.0))
		value := strconv.Itoa(level)
		if currentValue != value {
			return StateOn, value, true
		}
	case s == 0x00:
		if currentValue != "0" {
			return StateOff, "0", true
		}
	case s == 0xFF:
		if currentValue != "100" {
			return StateOn, "100", true
		}
	}
	return State{}, "", false
}

func (LightCodec) EncodeCommand(cmd Command, value string) ([]byte, error) {
	switch cmd.ID {
	case CommandSetLevel.ID:
		level, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("registry: invalid light level %q: %w", value, err)
		}
		return []byte{0x00, 0x02, byte(math.Round(float64(level) * 255.0 / 100.0))}, nil
	case CommandOn.ID:
		return []byte{0x00, 0x01}, nil
	case CommandOff.ID:
		return []byte{0x00, 0x00}, nil
	}
	return nil, errUnsupportedCommand(cmd)
}

func (LightCodec) DescribeState(state State, value string) string {
	if level, err := strconv.Atoi(value); err == nil && level > 0 && level < 100 {
		return fmt.Sprintf("%s (%d%%)", state.Name, level)
	}
	return state.Name
}

func (LightCodec) CommandLogText(cmd Command, value string) string {
	switch cmd.ID {
	case CommandSetLevel.ID:
		return "Setting light level to " + value
	case CommandOn.ID:
		return "Turning the light on"
	case CommandOff.ID:
		return "Turning the light off"
	}
	return cmd.Name
}

// LightType is the process-wide registration for GenericLight (spec §4.3).
var LightType = Type{
	TypeID:   101,
	TypeName: "Light",
	Codec:    LightCodec{},
	Commands: []Command{CommandOn, CommandOff, CommandSetLevel},
	Color:    "#CCCC00",
	Image:    "light.png",
	CommType: CommTypeRadio,
}
