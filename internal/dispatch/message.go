// Package dispatch implements the client-facing message dispatcher (spec
// §4.7): a single typed switch shared by the UDP and TCP transports that
// calls into the registry/history/auth services and emits state-change
// broadcasts. Session enforcement is left to the transports. Grounded in the original's
// modules/client.py ClientModule.handle_received_message and
// modules/comm/__init__.py's Header constants.
package dispatch

// Message types (spec §4.7), named after the original's Header constants.
const (
	Login            byte = 0xA1
	ListDeviceTypes  byte = 0xA2
	ListDevices      byte = 0xA3
	SendCommand      byte = 0xA4
	StateChanged     byte = 0xA5
	LoadTypeImage    byte = 0xA6
	RenameDevice     byte = 0xA7
	CountHistory     byte = 0xB1
	ListHistory      byte = 0xB2
	ListUsers        byte = 0xC1
	UserCreate       byte = 0xC2
	UserEdit         byte = 0xC3
	UserDelete       byte = 0xC4
	UsersChanged     byte = 0xC5
	Keepalive        byte = 0xE0
	Error            byte = 0xF0
	InvalidSession   byte = 0xF1
	Exit             byte = 0xFE
)

// Message is one wire-level response the dispatcher hands back to a
// transport: a type byte plus its ASCII payload.
type Message struct {
	Type    byte
	Payload []byte
}

func textMessage(msgType byte, text string) Message {
	return Message{Type: msgType, Payload: []byte(text)}
}

func errorMessage(text string) Message {
	return textMessage(Error, text)
}
