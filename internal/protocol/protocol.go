package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello     = "HELLO"
	TypeWelcome   = "WELCOME"
	TypePlaySound = "PLAY_SOUND"
	TypePlayNote  = "PLAY_NOTE"
	TypeResult    = "RESULT"
	TypeSound     = "SOUND"
)

// Connection roles.
const (
	RoleComputer = "COMPUTER"
	RoleListener = "LISTENER"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
