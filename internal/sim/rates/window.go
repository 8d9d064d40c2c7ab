package rates

import "math"

// Never is the elapsed value reported for an emitter that has not emitted yet.
const Never = uint64(math.MaxUint64)

// AllowEmission reports whether an emitter may play, given the ticks elapsed since
// its last emission. Notes get a same-tick exemption (elapsed == 0) up to
// maxNotesPerTick; sounds never do.
func AllowEmission(elapsed uint64, note bool, notesThisTick int, maxNotesPerTick int, minTicksBetween uint64) bool {
	if elapsed >= minTicksBetween {
		return true
	}
	return note && elapsed == 0 && notesThisTick < maxNotesPerTick
}
