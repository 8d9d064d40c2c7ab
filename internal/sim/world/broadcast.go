package world

import (
	"encoding/json"

	"voxelspeaker.ai/internal/protocol"
	"voxelspeaker.ai/internal/sim/speaker"
)

// Submit queues a task for the loop goroutine. It never blocks.
func (w *World) Submit(task func()) bool {
	if task == nil || w.stopped.Load() {
		return false
	}
	select {
	case w.tasks <- task:
		return true
	default:
		w.droppedTasks.Add(1)
		return false
	}
}

// Broadcast must run on the loop goroutine (via Submit).
func (w *World) Broadcast(e speaker.Emission) {
	if _, ok := w.Speaker(e.SpeakerID); !ok {
		w.removedDrops.Add(1)
		return
	}
	tick := w.tick.Load()
	pos := [3]float64{e.Pos.X, e.Pos.Y, e.Pos.Z}
	msg := protocol.SoundMsg{
		Type:            protocol.TypeSound,
		ProtocolVersion: protocol.Version,
		Tick:            tick,
		WorldID:         w.cfg.ID,
		SpeakerID:       e.SpeakerID,
		Sound:           e.Sound.String(),
		Category:        e.Category.String(),
		Volume:          e.Volume,
		Pitch:           e.Pitch,
		Pos:             pos,
	}
	b, err := json.Marshal(msg)
	if err != nil {
		w.log.Printf("broadcast: marshal: %v", err)
		return
	}

	rangeSq := e.Range * e.Range
	recipients := 0
	for _, l := range w.listeners {
		if l.Pos.DistSq(e.Pos) > rangeSq {
			continue
		}
		if l.Out != nil {
			sendLatest(l.Out, b)
		}
		recipients++
	}

	w.emissionsThisTick++
	w.emissionsTotal.Add(1)

	if w.soundLogger != nil {
		if err := w.soundLogger.WriteSound(SoundLogEntry{
			Tick:       tick,
			WorldID:    w.cfg.ID,
			SpeakerID:  e.SpeakerID,
			Sound:      msg.Sound,
			Category:   msg.Category,
			Volume:     e.Volume,
			Pitch:      e.Pitch,
			Range:      e.Range,
			Pos:        pos,
			GateTick:   e.GateTick,
			Recipients: recipients,
		}); err != nil {
			w.log.Printf("sound log: tick=%d speaker=%s: %v", tick, e.SpeakerID, err)
		}
	}
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
