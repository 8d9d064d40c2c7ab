package speaker

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"voxelspeaker.ai/internal/sim/catalogs"
	"voxelspeaker.ai/internal/sim/tuning"
)

const TypeName = "speaker"

// ErrInvalidArgument marks caller mistakes (bad names, bad numbers). The gate is
// never consulted when it is returned.
var ErrInvalidArgument = errors.New("invalid argument")

type Resolver interface {
	ResolveSound(name string) (catalogs.SoundID, error)
	ResolveInstrument(name string) (catalogs.SoundID, error)
}

// Scheduler hands work to the thread that owns the world. Submit must not block;
// it returns false when the task was dropped.
type Scheduler interface {
	Submit(task func()) bool
}

// Broadcaster delivers an approved emission. It runs on the scheduler's thread
// and reports nothing back.
type Broadcaster interface {
	Broadcast(e Emission)
}

type Emission struct {
	SpeakerID string
	Sound     catalogs.SoundID
	Category  Category
	Volume    float64
	Pitch     float64
	Range     float64
	Pos       catalogs.Vec3
	// GateTick is the speaker-local tick the emission was approved on.
	GateTick uint64
}

type Limits struct {
	MaxNotesPerTick       int
	MinTicksBetweenSounds int
	MaxVolume             float64
	BaseRange             float64
}

func LimitsFromTuning(t tuning.Speaker) Limits {
	return Limits{
		MaxNotesPerTick:       t.MaxNotesPerTick,
		MinTicksBetweenSounds: t.MinTicksBetweenSounds,
		MaxVolume:             t.MaxVolume,
		BaseRange:             t.BaseRange,
	}
}

type Config struct {
	ID     string
	Pos    catalogs.Vec3
	Limits Limits

	Resolver    Resolver
	Scheduler   Scheduler
	Broadcaster Broadcaster
}

// Speaker is a peripheral that plays named sounds and note-block notes at a
// fixed position. Play* may be called from any goroutine.
type Speaker struct {
	id     string
	pos    catalogs.Vec3
	limits Limits

	resolver Resolver
	sched    Scheduler
	out      Broadcaster

	gate Gate

	detached  atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

func New(cfg Config) *Speaker {
	return &Speaker{
		id:       cfg.ID,
		pos:      cfg.Pos,
		limits:   cfg.Limits,
		resolver: cfg.Resolver,
		sched:    cfg.Scheduler,
		out:      cfg.Broadcaster,
		done:     make(chan struct{}),
	}
}

func (s *Speaker) ID() string            { return s.id }
func (s *Speaker) Pos() catalogs.Vec3    { return s.pos }
func (s *Speaker) Type() string          { return TypeName }
func (s *Speaker) Gate() *Gate           { return &s.gate }
func (s *Speaker) MethodNames() []string { return []string{"playSound", "playNote"} }

// Update advances the speaker by one world tick.
func (s *Speaker) Update() { s.gate.OnTick() }

// Detach removes the speaker from play. Later requests return false without
// consulting the gate. Safe to call more than once.
func (s *Speaker) Detach() {
	s.closeOnce.Do(func() {
		s.detached.Store(true)
		close(s.done)
	})
}

func (s *Speaker) Detached() bool { return s.detached.Load() }

// Done is closed by Detach.
func (s *Speaker) Done() <-chan struct{} { return s.done }

// MadeSound reports whether the speaker played anything in the last ticks ticks.
func (s *Speaker) MadeSound(ticks int) bool { return s.gate.RecentlyEmitted(ticks) }

func (s *Speaker) PlaySound(name string, volume, pitch float64) (bool, error) {
	if err := checkFinite(volume, pitch); err != nil {
		return false, err
	}
	id, err := s.resolver.ResolveSound(name)
	if err != nil {
		return false, fmt.Errorf("%w: malformed sound name %q: %v", ErrInvalidArgument, name, err)
	}
	return s.play(id, CategorySound, volume, pitch), nil
}

// PlayNote plays an instrument at a semitone offset (12 = unshifted pitch).
func (s *Speaker) PlayNote(instrument string, volume, semitone float64) (bool, error) {
	if err := checkFinite(volume, semitone); err != nil {
		return false, err
	}
	id, err := s.resolver.ResolveInstrument(instrument)
	if err != nil {
		return false, fmt.Errorf("%w: invalid instrument %q", ErrInvalidArgument, instrument)
	}
	return s.play(id, CategoryNote, volume, NotePitch(semitone)), nil
}

// NotePitch converts a note-block semitone (0..24) to a playback rate.
func NotePitch(semitone float64) float64 {
	return math.Pow(2, (semitone-12)/12)
}

func (s *Speaker) play(id catalogs.SoundID, cat Category, volume, pitch float64) bool {
	if s.detached.Load() {
		return false
	}
	tick, ok := s.gate.request(cat, s.limits.MaxNotesPerTick, s.limits.MinTicksBetweenSounds)
	if !ok {
		return false
	}

	vol := math.Max(0, math.Min(volume, s.limits.MaxVolume))
	rng := s.limits.BaseRange
	if vol > 1 {
		rng *= vol
	}
	e := Emission{
		SpeakerID: s.id,
		Sound:     id,
		Category:  cat,
		Volume:    vol,
		Pitch:     pitch,
		Range:     rng,
		Pos:       s.pos,
		GateTick:  tick,
	}
	if s.sched != nil && s.out != nil {
		out := s.out
		// A dropped task is not reported; the gate has already committed.
		_ = s.sched.Submit(func() { out.Broadcast(e) })
	}
	return true
}

func checkFinite(vs ...float64) error {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: number expected, got %v", ErrInvalidArgument, v)
		}
	}
	return nil
}
