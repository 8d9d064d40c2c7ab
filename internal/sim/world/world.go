package world

import (
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"sync/atomic"

	"voxelspeaker.ai/internal/sim/catalogs"
	"voxelspeaker.ai/internal/sim/speaker"
	"voxelspeaker.ai/internal/sim/tuning"
)

type WorldConfig struct {
	ID         string
	TickRateHz int
	Speaker    tuning.Speaker
	Logger     *log.Logger
}

type JoinRequest struct {
	Name string
	Pos  catalogs.Vec3
	Out  chan []byte
	Resp chan JoinResponse
}

type JoinResponse struct {
	ListenerID string
}

type RecordedJoin struct {
	ListenerID string `json:"listener_id"`
	Name       string `json:"name"`
}

type TickLogEntry struct {
	Tick      uint64         `json:"tick"`
	Joins     []RecordedJoin `json:"joins,omitempty"`
	Leaves    []string       `json:"leaves,omitempty"`
	Tasks     int            `json:"tasks"`
	Emissions int            `json:"emissions"`
	Speakers  int            `json:"speakers"`
	Listeners int            `json:"listeners"`
}

// SoundLogEntry records one delivered emission.
type SoundLogEntry struct {
	Tick       uint64     `json:"tick"`
	WorldID    string     `json:"world_id"`
	SpeakerID  string     `json:"speaker_id"`
	Sound      string     `json:"sound"`
	Category   string     `json:"category"`
	Volume     float64    `json:"volume"`
	Pitch      float64    `json:"pitch"`
	Range      float64    `json:"range"`
	Pos        [3]float64 `json:"pos"`
	GateTick   uint64     `json:"gate_tick"`
	Recipients int        `json:"recipients"`
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

type SoundLogger interface {
	WriteSound(entry SoundLogEntry) error
}

type listener struct {
	ID   string
	Name string
	Pos  catalogs.Vec3
	Out  chan []byte
}

// World is a single-threaded authoritative simulation. Listener state and
// broadcasts belong to the loop goroutine; speakers are shared with transport
// goroutines through spMu.
type World struct {
	cfg      WorldConfig
	catalogs *catalogs.Catalogs
	log      *log.Logger

	tick atomic.Uint64

	spMu     sync.RWMutex
	speakers map[string]*speaker.Speaker

	listeners map[string]*listener

	tasks   chan func()
	join    chan JoinRequest
	leave   chan string
	stop    chan struct{}
	stopped atomic.Bool

	nextSpeakerNum  atomic.Uint64
	nextListenerNum atomic.Uint64

	// Per-tick counter; loop goroutine only.
	emissionsThisTick int

	emissionsTotal atomic.Uint64
	droppedTasks   atomic.Uint64

	// Emissions queued by a speaker that was removed before they ran.
	removedDrops atomic.Uint64

	// Optional loggers (may be nil). Implemented in internal/persistence/*.
	tickLogger  TickLogger
	soundLogger SoundLogger
}

func New(cfg WorldConfig, cats *catalogs.Catalogs) (*World, error) {
	if cfg.ID == "" {
		cfg.ID = "world_1"
	}
	if cfg.TickRateHz <= 0 {
		return nil, fmt.Errorf("tick rate must be > 0 (got %d)", cfg.TickRateHz)
	}
	if cfg.Speaker.TaskQueue <= 0 {
		cfg.Speaker.TaskQueue = tuning.Defaults().Speaker.TaskQueue
	}
	if cats == nil {
		cats = catalogs.Defaults()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &World{
		cfg:       cfg,
		catalogs:  cats,
		log:       logger,
		speakers:  map[string]*speaker.Speaker{},
		listeners: map[string]*listener{},
		tasks:     make(chan func(), cfg.Speaker.TaskQueue),
		join:      make(chan JoinRequest, 64),
		leave:     make(chan string, 64),
		stop:      make(chan struct{}),
	}, nil
}

func (w *World) SetTickLogger(l TickLogger)   { w.tickLogger = l }
func (w *World) SetSoundLogger(l SoundLogger) { w.soundLogger = l }

func (w *World) Join() chan<- JoinRequest { return w.join }
func (w *World) Leave() chan<- string     { return w.leave }

func (w *World) CurrentTick() uint64 { return w.tick.Load() }

func (w *World) ID() string {
	if w == nil {
		return ""
	}
	return w.cfg.ID
}

func (w *World) Config() WorldConfig          { return w.cfg }
func (w *World) Catalogs() *catalogs.Catalogs { return w.catalogs }

// PlaceSpeaker creates a speaker at pos. It starts receiving ticks on the next step.
func (w *World) PlaceSpeaker(pos catalogs.Vec3) *speaker.Speaker {
	id := fmt.Sprintf("S%d", w.nextSpeakerNum.Add(1))
	sp := speaker.New(speaker.Config{
		ID:          id,
		Pos:         pos,
		Limits:      speaker.LimitsFromTuning(w.cfg.Speaker),
		Resolver:    w.catalogs,
		Scheduler:   w,
		Broadcaster: w,
	})
	w.spMu.Lock()
	w.speakers[id] = sp
	w.spMu.Unlock()
	return sp
}

func (w *World) Speaker(id string) (*speaker.Speaker, bool) {
	w.spMu.RLock()
	defer w.spMu.RUnlock()
	sp, ok := w.speakers[id]
	return sp, ok
}

// RemoveSpeaker unregisters and detaches the speaker. Emissions it had already
// queued are dropped by Broadcast.
func (w *World) RemoveSpeaker(id string) bool {
	w.spMu.Lock()
	sp, ok := w.speakers[id]
	if ok {
		delete(w.speakers, id)
	}
	w.spMu.Unlock()
	if !ok {
		return false
	}
	sp.Detach()
	return true
}

// sortedSpeakers returns speakers in id order so tick updates are deterministic.
func (w *World) sortedSpeakers() []*speaker.Speaker {
	w.spMu.RLock()
	out := make([]*speaker.Speaker, 0, len(w.speakers))
	for _, sp := range w.speakers {
		out = append(out, sp)
	}
	w.spMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

type Stats struct {
	WorldID        string `json:"world_id"`
	Tick           uint64 `json:"tick"`
	Speakers       int    `json:"speakers"`
	QueuedTasks    int    `json:"queued_tasks"`
	TaskQueueCap   int    `json:"task_queue_cap"`
	EmissionsTotal uint64 `json:"emissions_total"`
	DroppedTasks   uint64 `json:"dropped_tasks"`
	RemovedDrops   uint64 `json:"removed_drops"`
}

// Stats is safe to call from any goroutine.
func (w *World) Stats() Stats {
	w.spMu.RLock()
	n := len(w.speakers)
	w.spMu.RUnlock()
	return Stats{
		WorldID:        w.cfg.ID,
		Tick:           w.tick.Load(),
		Speakers:       n,
		QueuedTasks:    len(w.tasks),
		TaskQueueCap:   cap(w.tasks),
		EmissionsTotal: w.emissionsTotal.Load(),
		DroppedTasks:   w.droppedTasks.Load(),
		RemovedDrops:   w.removedDrops.Load(),
	}
}
