package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Role            string `json:"role"`
	Name            string `json:"name,omitempty"`
	// SpeakerID reattaches a computer to an existing speaker.
	SpeakerID string     `json:"speaker_id,omitempty"`
	Pos       [3]float64 `json:"pos"`
	MaxQueue  int        `json:"max_queue,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	SessionID       string      `json:"session_id"`
	Role            string      `json:"role"`
	SpeakerID       string      `json:"speaker_id,omitempty"`
	WorldParams     WorldParams `json:"world_params"`
	CatalogDigest   string      `json:"catalog_digest"`
	Instruments     []string    `json:"instruments"`
}

type WorldParams struct {
	WorldID               string `json:"world_id"`
	TickRateHz            int    `json:"tick_rate_hz"`
	MaxNotesPerTick       int    `json:"max_notes_per_tick"`
	MinTicksBetweenSounds int    `json:"min_ticks_between_sounds"`
}

// PLAY_SOUND (computer -> server). Volume and pitch default to 1.
type PlaySoundMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	ReqID           string   `json:"req_id"`
	Name            string   `json:"name"`
	Volume          *float64 `json:"volume,omitempty"`
	Pitch           *float64 `json:"pitch,omitempty"`
}

// PLAY_NOTE (computer -> server). Pitch is a semitone in 0..24, default 1.
type PlayNoteMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	ReqID           string   `json:"req_id"`
	Instrument      string   `json:"instrument"`
	Volume          *float64 `json:"volume,omitempty"`
	Pitch           *float64 `json:"pitch,omitempty"`
}

// RESULT (server -> computer). Played=false with no code means rate limited.
type ResultMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	Played          bool   `json:"played"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
	ServerTick      uint64 `json:"server_tick"`
}

// SOUND (server -> listener)
type SoundMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	Tick            uint64     `json:"tick"`
	WorldID         string     `json:"world_id"`
	SpeakerID       string     `json:"speaker_id"`
	Sound           string     `json:"sound"`
	Category        string     `json:"category"`
	Volume          float64    `json:"volume"`
	Pitch           float64    `json:"pitch"`
	Pos             [3]float64 `json:"pos"`
}

// OrDefault returns *p, or def when p is nil.
func OrDefault(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}
