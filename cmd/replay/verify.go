package main

import (
	"fmt"
	"sort"

	"voxelspeaker.ai/internal/sim/rates"
	"voxelspeaker.ai/internal/sim/tuning"
	"voxelspeaker.ai/internal/sim/world"
)

type speakerSummary struct {
	SpeakerID  string
	Sounds     int
	Notes      int
	Recipients int
	FirstTick  uint64
	LastTick   uint64
}

type violation struct {
	Epoch     int
	SpeakerID string
	GateTick  uint64
	Category  string
	Reason    string
}

func (v violation) String() string {
	return fmt.Sprintf("epoch=%d speaker=%s gate_tick=%d %s: %s", v.Epoch, v.SpeakerID, v.GateTick, v.Category, v.Reason)
}

// auditor accumulates a sound log and re-checks every speaker's emissions
// against the gate rules. A world tick going backwards starts a new epoch
// (server restart), since speaker ids and gates do not survive restarts.
type auditor struct {
	limits tuning.Speaker

	epoch    int
	lastTick uint64
	started  bool

	summaries map[string]*speakerSummary
	pending   map[string][]world.SoundLogEntry
	found     []violation
	total     int
}

func newAuditor(limits tuning.Speaker) *auditor {
	return &auditor{
		limits:    limits,
		summaries: map[string]*speakerSummary{},
		pending:   map[string][]world.SoundLogEntry{},
	}
}

func (a *auditor) Add(e world.SoundLogEntry) {
	if a.started && e.Tick < a.lastTick {
		a.flushEpoch()
		a.epoch++
	}
	a.started = true
	a.lastTick = e.Tick
	a.total++

	key := fmt.Sprintf("%d/%s", a.epoch, e.SpeakerID)
	s := a.summaries[key]
	if s == nil {
		s = &speakerSummary{SpeakerID: e.SpeakerID, FirstTick: e.Tick}
		a.summaries[key] = s
	}
	switch e.Category {
	case "NOTE":
		s.Notes++
	default:
		s.Sounds++
	}
	s.Recipients += e.Recipients
	s.LastTick = e.Tick

	a.pending[e.SpeakerID] = append(a.pending[e.SpeakerID], e)
}

// Finish checks the last epoch and returns all violations found.
func (a *auditor) Finish() []violation {
	a.flushEpoch()
	return a.found
}

func (a *auditor) Summaries() []speakerSummary {
	keys := make([]string, 0, len(a.summaries))
	for k := range a.summaries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]speakerSummary, 0, len(keys))
	for _, k := range keys {
		out = append(out, *a.summaries[k])
	}
	return out
}

func (a *auditor) flushEpoch() {
	ids := make([]string, 0, len(a.pending))
	for id := range a.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		a.found = append(a.found, a.check(id, a.pending[id])...)
	}
	a.pending = map[string][]world.SoundLogEntry{}
}

// check replays one speaker's emissions in gate order. Broadcast order may
// differ from gate order within a tick, so sounds sort ahead of notes there:
// that is the only order in which a sound and notes can share a tick.
func (a *auditor) check(speakerID string, entries []world.SoundLogEntry) []violation {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].GateTick != entries[j].GateTick {
			return entries[i].GateTick < entries[j].GateTick
		}
		return entries[i].Category != "NOTE" && entries[j].Category == "NOTE"
	})

	var (
		out     []violation
		last    uint64
		emitted bool
		notes   int
		curTick uint64
	)
	minTicks := uint64(a.limits.MinTicksBetweenSounds)
	for _, e := range entries {
		if e.GateTick != curTick {
			curTick = e.GateTick
			notes = 0
		}
		elapsed := rates.Never
		if emitted {
			elapsed = e.GateTick - last
		}
		note := e.Category == "NOTE"
		if !rates.AllowEmission(elapsed, note, notes, a.limits.MaxNotesPerTick, minTicks) {
			reason := fmt.Sprintf("only %d ticks after previous emission", elapsed)
			if note && elapsed == 0 {
				reason = fmt.Sprintf("note %d in one tick exceeds max %d", notes+1, a.limits.MaxNotesPerTick)
			}
			out = append(out, violation{Epoch: a.epoch, SpeakerID: speakerID, GateTick: e.GateTick, Category: e.Category, Reason: reason})
		}
		if note {
			notes++
		}
		last = e.GateTick
		emitted = true
	}
	return out
}
