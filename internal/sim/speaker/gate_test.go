package speaker

import (
	"sync"
	"testing"
)

func TestGate_OnTickCountsAndResets(t *testing.T) {
	var g Gate
	for n := 1; n <= 50; n++ {
		g.OnTick()
		if st := g.State(); st.Tick != uint64(n) {
			t.Fatalf("tick=%d want %d", st.Tick, n)
		}
	}

	for i := 0; i < 3; i++ {
		if !g.RequestEmission(CategoryNote, 8, 4) {
			t.Fatalf("note %d denied", i)
		}
	}
	if st := g.State(); st.NotesThisTick != 3 {
		t.Fatalf("notesThisTick=%d want 3", st.NotesThisTick)
	}
	g.OnTick()
	if st := g.State(); st.NotesThisTick != 0 {
		t.Fatalf("notesThisTick=%d after tick, want 0", st.NotesThisTick)
	}
}

func TestGate_RecentlyEmitted(t *testing.T) {
	var g Gate
	if g.RecentlyEmitted(100) {
		t.Fatalf("fresh gate reported a recent emission")
	}
	if !g.RequestEmission(CategorySound, 8, 4) {
		t.Fatalf("first sound denied")
	}
	for _, w := range []int{0, 1, 20} {
		if !g.RecentlyEmitted(w) {
			t.Fatalf("RecentlyEmitted(%d)=false right after emission", w)
		}
	}
	g.OnTick()
	g.OnTick()
	if g.RecentlyEmitted(1) {
		t.Fatalf("RecentlyEmitted(1) true two ticks later")
	}
	if !g.RecentlyEmitted(2) {
		t.Fatalf("RecentlyEmitted(2) false two ticks later")
	}
	if g.RecentlyEmitted(-1) {
		t.Fatalf("negative window should be false")
	}
}

func TestGate_SoundCooldown(t *testing.T) {
	var g Gate
	if !g.RequestEmission(CategorySound, 8, 4) {
		t.Fatalf("first sound denied")
	}
	if g.RequestEmission(CategorySound, 8, 4) {
		t.Fatalf("second sound in same tick allowed")
	}
	before := g.State()
	for i := 0; i < 3; i++ {
		g.OnTick()
		if g.RequestEmission(CategorySound, 8, 4) {
			t.Fatalf("sound allowed %d ticks after the last one", i+1)
		}
	}
	if st := g.State(); st.LastEmitTick != before.LastEmitTick {
		t.Fatalf("denied request moved lastEmitTick: %d -> %d", before.LastEmitTick, st.LastEmitTick)
	}
	g.OnTick()
	if !g.RequestEmission(CategorySound, 8, 4) {
		t.Fatalf("sound denied after full cooldown")
	}
	if st := g.State(); st.LastEmitTick != 4 || st.NotesThisTick != 0 {
		t.Fatalf("state=%+v want lastEmitTick=4 notesThisTick=0", st)
	}
}

func TestGate_NotesSameTickExemption(t *testing.T) {
	var g Gate
	for i := 0; i < 8; i++ {
		if !g.RequestEmission(CategoryNote, 8, 4) {
			t.Fatalf("note %d denied", i+1)
		}
	}
	if g.RequestEmission(CategoryNote, 8, 4) {
		t.Fatalf("ninth note allowed")
	}
	if g.RequestEmission(CategorySound, 8, 4) {
		t.Fatalf("sound allowed in the same tick as a note")
	}
	if st := g.State(); st.NotesThisTick != 8 {
		t.Fatalf("notesThisTick=%d want 8", st.NotesThisTick)
	}

	// Next tick: elapsed=1, inside the window and no longer the same tick.
	g.OnTick()
	if g.RequestEmission(CategoryNote, 8, 4) {
		t.Fatalf("note allowed one tick later inside the cooldown")
	}
}

func TestGate_SoundAfterNoteSameTick(t *testing.T) {
	var g Gate
	if !g.RequestEmission(CategoryNote, 8, 4) {
		t.Fatalf("note denied")
	}
	if g.RequestEmission(CategorySound, 8, 4) {
		t.Fatalf("sound allowed after note in same tick")
	}
}

func TestGate_NoteAfterSoundSameTick(t *testing.T) {
	var g Gate
	if !g.RequestEmission(CategorySound, 8, 4) {
		t.Fatalf("sound denied")
	}
	if !g.RequestEmission(CategoryNote, 8, 4) {
		t.Fatalf("note should ride the same-tick exemption after a sound")
	}
}

func TestGate_ZeroCooldown(t *testing.T) {
	var g Gate
	for i := 0; i < 20; i++ {
		if !g.RequestEmission(CategorySound, 0, 0) {
			t.Fatalf("sound %d denied with no cooldown", i)
		}
	}
	if st := g.State(); st.NotesThisTick != 0 {
		t.Fatalf("sounds moved the note counter: %d", st.NotesThisTick)
	}
}

func TestGate_ConcurrentRequestsAndTicks(t *testing.T) {
	const (
		workers  = 16
		requests = 200
		ticks    = 100
		maxNotes = 3
	)
	var g Gate

	var approvedMu sync.Mutex
	approvedByTick := map[uint64]int{}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < requests; i++ {
				tick, ok := g.request(CategoryNote, maxNotes, 1)
				if ok {
					approvedMu.Lock()
					approvedByTick[tick]++
					approvedMu.Unlock()
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < ticks; i++ {
			g.OnTick()
		}
	}()
	wg.Wait()

	st := g.State()
	if st.Tick != ticks {
		t.Fatalf("tick=%d want %d", st.Tick, ticks)
	}
	if st.Emitted && st.LastEmitTick > st.Tick {
		t.Fatalf("lastEmitTick=%d ahead of tick=%d", st.LastEmitTick, st.Tick)
	}
	if st.NotesThisTick > maxNotes {
		t.Fatalf("notesThisTick=%d above cap", st.NotesThisTick)
	}
	for tick, n := range approvedByTick {
		if n > maxNotes {
			t.Fatalf("tick %d approved %d notes, cap %d", tick, n, maxNotes)
		}
	}
}

func TestCategoryString(t *testing.T) {
	if CategorySound.String() != "SOUND" || CategoryNote.String() != "NOTE" || Category(0).String() != "UNKNOWN" {
		t.Fatalf("unexpected category names")
	}
}
