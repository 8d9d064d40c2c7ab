package speaker

import (
	"sync"

	"voxelspeaker.ai/internal/sim/rates"
)

type Category uint8

const (
	CategorySound Category = iota + 1
	CategoryNote
)

func (c Category) String() string {
	switch c {
	case CategorySound:
		return "SOUND"
	case CategoryNote:
		return "NOTE"
	default:
		return "UNKNOWN"
	}
}

// Gate rate-limits one emitter. OnTick and RequestEmission share a single lock,
// so a decision never observes a half-applied tick.
type Gate struct {
	mu sync.Mutex

	tick          uint64
	lastEmitTick  uint64
	emitted       bool
	notesThisTick int
}

type GateState struct {
	Tick          uint64
	LastEmitTick  uint64
	Emitted       bool
	NotesThisTick int
}

func (g *Gate) OnTick() {
	g.mu.Lock()
	g.tick++
	g.notesThisTick = 0
	g.mu.Unlock()
}

// RecentlyEmitted reports whether the last approved emission is at most window ticks old.
func (g *Gate) RecentlyEmitted(window int) bool {
	if window < 0 {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.emitted && g.tick-g.lastEmitTick <= uint64(window)
}

func (g *Gate) RequestEmission(cat Category, maxNotesPerTick, minTicksBetweenSounds int) bool {
	_, ok := g.request(cat, maxNotesPerTick, minTicksBetweenSounds)
	return ok
}

func (g *Gate) request(cat Category, maxNotesPerTick, minTicksBetweenSounds int) (tick uint64, ok bool) {
	if minTicksBetweenSounds < 0 {
		minTicksBetweenSounds = 0
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	elapsed := rates.Never
	if g.emitted {
		elapsed = g.tick - g.lastEmitTick
	}
	note := cat == CategoryNote
	if !rates.AllowEmission(elapsed, note, g.notesThisTick, maxNotesPerTick, uint64(minTicksBetweenSounds)) {
		return g.tick, false
	}

	g.lastEmitTick = g.tick
	g.emitted = true
	if note {
		g.notesThisTick++
	}
	return g.tick, true
}

func (g *Gate) State() GateState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return GateState{
		Tick:          g.tick,
		LastEmitTick:  g.lastEmitTick,
		Emitted:       g.emitted,
		NotesThisTick: g.notesThisTick,
	}
}
