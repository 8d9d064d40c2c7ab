package world

import (
	"context"
	"fmt"
	"time"
)

func (w *World) Run(ctx context.Context) error {
	defer w.stopped.Store(true)

	interval := time.Second / time.Duration(w.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingJoins []JoinRequest
	var pendingLeaves []string

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.join:
			pendingJoins = append(pendingJoins, req)
		case id := <-w.leave:
			pendingLeaves = append(pendingLeaves, id)
		case <-ticker.C:
			w.step(pendingJoins, pendingLeaves)
			pendingJoins = pendingJoins[:0]
			pendingLeaves = pendingLeaves[:0]
		}
	}
}

func (w *World) Stop() {
	if w.stopped.CompareAndSwap(false, true) {
		close(w.stop)
	}
}

// StepOnce advances the world by a single tick using the same ordering semantics as the server.
// It is primarily intended for deterministic tests.
func (w *World) StepOnce(joins []JoinRequest, leaves []string) (tick uint64) {
	tick = w.tick.Load()
	w.step(joins, leaves)
	return tick
}

// step order: membership, queued main-thread tasks, speaker ticks, tick log.
func (w *World) step(joins []JoinRequest, leaves []string) {
	tick := w.tick.Load()
	entry := TickLogEntry{Tick: tick}

	for _, req := range joins {
		id := w.joinListener(req)
		entry.Joins = append(entry.Joins, RecordedJoin{ListenerID: id, Name: req.Name})
	}
	for _, id := range leaves {
		if _, ok := w.listeners[id]; ok {
			delete(w.listeners, id)
			entry.Leaves = append(entry.Leaves, id)
		}
	}

	w.emissionsThisTick = 0
	entry.Tasks = w.runTasks()
	entry.Emissions = w.emissionsThisTick

	sps := w.sortedSpeakers()
	for _, sp := range sps {
		sp.Update()
	}
	entry.Speakers = len(sps)
	entry.Listeners = len(w.listeners)

	if w.tickLogger != nil {
		if err := w.tickLogger.WriteTick(entry); err != nil {
			w.log.Printf("tick log: tick=%d: %v", tick, err)
		}
	}
	w.tick.Add(1)
}

func (w *World) joinListener(req JoinRequest) string {
	name := req.Name
	if name == "" {
		name = "listener"
	}
	id := fmt.Sprintf("L%d", w.nextListenerNum.Add(1))
	w.listeners[id] = &listener{ID: id, Name: name, Pos: req.Pos, Out: req.Out}
	if req.Resp != nil {
		req.Resp <- JoinResponse{ListenerID: id}
	}
	return id
}

// runTasks drains the tasks that were queued before this tick started.
func (w *World) runTasks() int {
	n := len(w.tasks)
	for i := 0; i < n; i++ {
		task := <-w.tasks
		task()
	}
	return n
}
