package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"voxelspeaker.ai/internal/persistence/indexdb"
	"voxelspeaker.ai/internal/sim/catalogs"
	"voxelspeaker.ai/internal/sim/tuning"
	"voxelspeaker.ai/internal/sim/world"
)

type runtimeIndex interface {
	world.TickLogger
	world.SoundLogger
	Close() error
	Flush(ctx context.Context) error
	Stats() indexdb.Stats
	UpsertCatalogs(cats *catalogs.Catalogs, tune tuning.Tuning) error
	RunID() string
	CountBySpeaker(ctx context.Context, runID string) ([]indexdb.SpeakerCount, error)
}

func openRuntimeIndex(worldDir string, disableDB bool) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("VS_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		dbPath := filepath.Join(worldDir, "index", "world.sqlite")
		return indexdb.OpenSQLite(dbPath)
	default:
		return nil, fmt.Errorf("unsupported VS_INDEX_BACKEND: %s", backend)
	}
}

type multiTickLogger struct {
	a world.TickLogger
	b world.TickLogger
}

func (m multiTickLogger) WriteTick(entry world.TickLogEntry) error {
	if m.a != nil {
		_ = m.a.WriteTick(entry)
	}
	if m.b != nil {
		_ = m.b.WriteTick(entry)
	}
	return nil
}

type multiSoundLogger struct {
	a world.SoundLogger
	b world.SoundLogger
}

func (m multiSoundLogger) WriteSound(entry world.SoundLogEntry) error {
	if m.a != nil {
		_ = m.a.WriteSound(entry)
	}
	if m.b != nil {
		_ = m.b.WriteSound(entry)
	}
	return nil
}
