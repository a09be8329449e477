package registry

import "strconv"

// PowerCodec implements Codec for simple on/off power outlets (spec §4.3,
// type_id 100). Grounded in the original's GenericPower entity class.
type PowerCodec struct{}

func (PowerCodec) OnStateFrame(payload []byte, currentValue string) (State, string, bool) {
	if len(payload) == 0 {
		return State{}, "", false
	}
	switch payload[0] {
	case 0x00:
		if currentValue != "0" {
			return StateOff, "0", true
		}
	case 0x01:
		if currentValue != "1" {
			return StateOn, "1", true
		}
	}
	return State{}, "", false
}

func (PowerCodec) EncodeCommand(cmd Command, _ string) ([]byte, error) {
	switch cmd.ID {
	case CommandOn.ID:
		return []byte{0x00, 0x01}, nil
	case CommandOff.ID:
		return []byte{0x00, 0x00}, nil
	}
	return nil, errUnsupportedCommand(cmd)
}

func (PowerCodec) DescribeState(state State, _ string) string {
	return state.Name
}

func (PowerCodec) CommandLogText(cmd Command, _ string) string {
	switch cmd.ID {
	case CommandOn.ID:
		return "Turning the power on"
	case CommandOff.ID:
		return "Turning the power off"
	}
	return cmd.Name
}

// PowerType is the process-wide registration for GenericPower (spec §4.3).
var PowerType = Type{
	TypeID:   100,
	TypeName: "Power",
	Codec:    PowerCodec{},
	Commands: []Command{CommandOn, CommandOff},
	Color:    "#99CC00",
	Image:    "power.png",
	CommType: CommTypeRadio,
}

func errUnsupportedCommand(cmd Command) error {
	return &unsupportedCommandError{cmd}
}

type unsupportedCommandError struct{ cmd Command }

func (e *unsupportedCommandError) Error() string {
	return "registry: command " + strconv.Itoa(int(e.cmd.ID)) + " not supported by this device class"
}
