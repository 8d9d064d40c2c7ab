package speaker

import (
	"errors"
	"math"
	"testing"

	"voxelspeaker.ai/internal/sim/catalogs"
)

type queueScheduler struct {
	tasks  []func()
	closed bool
}

func (q *queueScheduler) Submit(task func()) bool {
	if q.closed {
		return false
	}
	q.tasks = append(q.tasks, task)
	return true
}

func (q *queueScheduler) drain() {
	tasks := q.tasks
	q.tasks = nil
	for _, t := range tasks {
		t()
	}
}

type recorder struct{ got []Emission }

func (r *recorder) Broadcast(e Emission) { r.got = append(r.got, e) }

func newTestSpeaker(limits Limits) (*Speaker, *queueScheduler, *recorder) {
	q := &queueScheduler{}
	r := &recorder{}
	s := New(Config{
		ID:          "S1",
		Pos:         catalogs.Vec3{X: 1, Y: 64, Z: -3},
		Limits:      limits,
		Resolver:    catalogs.Defaults(),
		Scheduler:   q,
		Broadcaster: r,
	})
	return s, q, r
}

var testLimits = Limits{MaxNotesPerTick: 8, MinTicksBetweenSounds: 4, MaxVolume: 3, BaseRange: 16}

func TestSpeaker_Identity(t *testing.T) {
	s, _, _ := newTestSpeaker(testLimits)
	if s.Type() != "speaker" {
		t.Fatalf("type=%q", s.Type())
	}
	names := s.MethodNames()
	if len(names) != 2 || names[0] != "playSound" || names[1] != "playNote" {
		t.Fatalf("methods=%v", names)
	}
}

func TestSpeaker_PlaySoundDefersBroadcast(t *testing.T) {
	s, q, r := newTestSpeaker(testLimits)

	ok, err := s.PlaySound("entity.cat.ambient", 1, 1)
	if err != nil || !ok {
		t.Fatalf("PlaySound ok=%v err=%v", ok, err)
	}
	if len(r.got) != 0 {
		t.Fatalf("broadcast ran before the scheduler drained")
	}
	q.drain()
	if len(r.got) != 1 {
		t.Fatalf("broadcasts=%d want 1", len(r.got))
	}
	e := r.got[0]
	if e.Sound.String() != "minecraft:entity.cat.ambient" || e.Category != CategorySound {
		t.Fatalf("emission=%+v", e)
	}
	if e.SpeakerID != "S1" || e.Pos != s.Pos() {
		t.Fatalf("emission identity=%+v", e)
	}

	ok, err = s.PlaySound("entity.cat.ambient", 1, 1)
	if err != nil || ok {
		t.Fatalf("second sound in the same tick: ok=%v err=%v", ok, err)
	}
	if !s.MadeSound(0) {
		t.Fatalf("MadeSound(0)=false after playing")
	}
}

func TestSpeaker_PlaySoundMalformedLeavesGate(t *testing.T) {
	s, q, _ := newTestSpeaker(testLimits)
	_, err := s.PlaySound("Bad Name!", 1, 1)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if st := s.Gate().State(); st.Emitted {
		t.Fatalf("gate touched by a malformed request: %+v", st)
	}
	if len(q.tasks) != 0 {
		t.Fatalf("task submitted for malformed request")
	}
}

func TestSpeaker_PlayNote(t *testing.T) {
	s, q, r := newTestSpeaker(testLimits)
	ok, err := s.PlayNote("HARP", 0.5, 24)
	if err != nil || !ok {
		t.Fatalf("PlayNote ok=%v err=%v", ok, err)
	}
	q.drain()
	e := r.got[0]
	if e.Sound.String() != "minecraft:block.note_block.harp" || e.Category != CategoryNote {
		t.Fatalf("emission=%+v", e)
	}
	if math.Abs(e.Pitch-2) > 1e-9 {
		t.Fatalf("pitch=%v want 2", e.Pitch)
	}
	if st := s.Gate().State(); st.NotesThisTick != 1 {
		t.Fatalf("notesThisTick=%d want 1", st.NotesThisTick)
	}
}

func TestSpeaker_PlayNoteUnknownInstrument(t *testing.T) {
	s, _, _ := newTestSpeaker(testLimits)
	_, err := s.PlayNote("kazoo", 1, 12)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if st := s.Gate().State(); st.Emitted || st.NotesThisTick != 0 {
		t.Fatalf("gate touched: %+v", st)
	}
}

func TestSpeaker_RejectsNonFinite(t *testing.T) {
	s, _, _ := newTestSpeaker(testLimits)
	if _, err := s.PlaySound("ui.click", math.NaN(), 1); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("NaN volume: %v", err)
	}
	if _, err := s.PlayNote("bell", 1, math.Inf(1)); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("Inf pitch: %v", err)
	}
}

func TestSpeaker_VolumeClampAndRange(t *testing.T) {
	cases := []struct {
		in        float64
		wantVol   float64
		wantRange float64
	}{
		{0.5, 0.5, 16},
		{1, 1, 16},
		{2, 2, 32},
		{10, 3, 48},
		{-1, 0, 16},
	}
	for _, c := range cases {
		limits := testLimits
		limits.MinTicksBetweenSounds = 0
		s, q, r := newTestSpeaker(limits)
		if ok, err := s.PlaySound("ui.click", c.in, 1); !ok || err != nil {
			t.Fatalf("volume %v: ok=%v err=%v", c.in, ok, err)
		}
		q.drain()
		e := r.got[0]
		if e.Volume != c.wantVol || e.Range != c.wantRange {
			t.Fatalf("volume %v: got vol=%v range=%v want vol=%v range=%v", c.in, e.Volume, e.Range, c.wantVol, c.wantRange)
		}
	}
}

func TestSpeaker_DroppedTaskStillApproved(t *testing.T) {
	s, q, r := newTestSpeaker(testLimits)
	q.closed = true
	ok, err := s.PlaySound("ui.click", 1, 1)
	if err != nil || !ok {
		t.Fatalf("PlaySound ok=%v err=%v", ok, err)
	}
	if len(r.got) != 0 {
		t.Fatalf("unexpected broadcast")
	}
	if !s.MadeSound(0) {
		t.Fatalf("gate should have committed the emission")
	}
}

func TestSpeaker_UpdateAdvancesGate(t *testing.T) {
	s, _, _ := newTestSpeaker(testLimits)
	for i := 0; i < 7; i++ {
		s.Update()
	}
	if st := s.Gate().State(); st.Tick != 7 {
		t.Fatalf("tick=%d want 7", st.Tick)
	}
}

func TestNotePitch(t *testing.T) {
	if got := NotePitch(12); got != 1 {
		t.Fatalf("NotePitch(12)=%v", got)
	}
	if got := NotePitch(0); math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("NotePitch(0)=%v", got)
	}
}

func TestSpeaker_DetachedRefusesWithoutTouchingGate(t *testing.T) {
	s, q, r := newTestSpeaker(testLimits)
	s.Detach()
	s.Detach()

	select {
	case <-s.Done():
	default:
		t.Fatalf("Done not closed after Detach")
	}
	ok, err := s.PlayNote("harp", 1, 12)
	if err != nil || ok {
		t.Fatalf("detached PlayNote ok=%v err=%v", ok, err)
	}
	q.drain()
	if len(r.got) != 0 {
		t.Fatalf("detached speaker broadcast %d emissions", len(r.got))
	}
	if st := s.Gate().State(); st.Emitted {
		t.Fatalf("gate state changed after detach: %+v", st)
	}
	// Bad arguments are still reported as such.
	if _, err := s.PlayNote("kazoo", 1, 12); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("err=%v", err)
	}
}
