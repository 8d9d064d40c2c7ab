package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz int `yaml:"tick_rate_hz"`

	Speaker   Speaker   `yaml:"speaker"`
	Transport Transport `yaml:"transport"`
}

type Speaker struct {
	MaxNotesPerTick       int     `yaml:"max_notes_per_tick"`
	MinTicksBetweenSounds int     `yaml:"min_ticks_between_sounds"`
	MaxVolume             float64 `yaml:"max_volume"`
	BaseRange             float64 `yaml:"base_range"`
	// Main-thread task queue capacity (world side).
	TaskQueue int `yaml:"task_queue"`
}

// Transport limits inbound websocket messages per connection.
type Transport struct {
	MsgsPerSecond float64 `yaml:"msgs_per_second"`
	Burst         int     `yaml:"burst"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: "1.0",
		TickRateHz:      20,
		Speaker: Speaker{
			MaxNotesPerTick:       8,
			MinTicksBetweenSounds: 1,
			MaxVolume:             3.0,
			BaseRange:             16,
			TaskQueue:             1024,
		},
		Transport: Transport{
			MsgsPerSecond: 40,
			Burst:         80,
		},
	}
}

// Load reads a tuning.yaml on top of Defaults; keys absent from the file keep their default.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	switch {
	case t.TickRateHz <= 0:
		return fmt.Errorf("tick_rate_hz must be > 0 (got %d)", t.TickRateHz)
	case t.Speaker.MaxNotesPerTick < 0:
		return fmt.Errorf("speaker.max_notes_per_tick must be >= 0 (got %d)", t.Speaker.MaxNotesPerTick)
	case t.Speaker.MinTicksBetweenSounds < 0:
		return fmt.Errorf("speaker.min_ticks_between_sounds must be >= 0 (got %d)", t.Speaker.MinTicksBetweenSounds)
	case t.Speaker.MaxVolume <= 0:
		return fmt.Errorf("speaker.max_volume must be > 0 (got %v)", t.Speaker.MaxVolume)
	case t.Speaker.BaseRange <= 0:
		return fmt.Errorf("speaker.base_range must be > 0 (got %v)", t.Speaker.BaseRange)
	case t.Speaker.TaskQueue <= 0:
		return fmt.Errorf("speaker.task_queue must be > 0 (got %d)", t.Speaker.TaskQueue)
	case t.Transport.MsgsPerSecond < 0 || t.Transport.Burst < 0:
		return fmt.Errorf("transport limits must be >= 0")
	}
	return nil
}
