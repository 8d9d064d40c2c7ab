package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"voxelspeaker.ai/internal/sim/catalogs"
	"voxelspeaker.ai/internal/sim/tuning"
	"voxelspeaker.ai/internal/sim/world"
)

const schemaVersion = "2"

// SQLiteIndex is a queryable read model of the tick and sound logs. Writes are
// queued and applied by one goroutine; the JSONL logs stay the source of truth.
//
// Ticks and speaker ids restart with every process, so rows are keyed by the
// run that wrote them.
type SQLiteIndex struct {
	db    *sql.DB
	runID string

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	// mu orders enqueues against close(ch).
	mu     sync.RWMutex
	closed atomic.Bool

	dropTick  atomic.Uint64
	dropSound atomic.Uint64
	written   atomic.Uint64
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqSound
	reqFlush
)

type req struct {
	kind reqKind

	tick  world.TickLogEntry
	sound world.SoundLogEntry
	done  chan struct{}
}

type Stats struct {
	QueueDepth     int    `json:"queue_depth"`
	QueueCapacity  int    `json:"queue_capacity"`
	Written        uint64 `json:"written"`
	DropTickTotal  uint64 `json:"drop_tick_total"`
	DropSoundTotal uint64 `json:"drop_sound_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, 65536)
}

func openSQLite(path string, queue int) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	runID := uuid.NewString()
	if _, err := db.Exec(`INSERT INTO runs(run_id, started_at) VALUES(?, ?)`, runID, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db:    db,
		runID: runID,
		ch:    make(chan req, queue),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`); err != nil {
		return err
	}
	var version string
	err := db.QueryRow(`SELECT value FROM meta WHERE key='schema_version'`).Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return err
	}
	if version != "" && version != schemaVersion {
		// Older layouts keyed rows by tick alone; the index is rebuilt from here on.
		for _, t := range []string{"ticks", "sounds"} {
			if _, err := db.Exec(`DROP TABLE IF EXISTS ` + t); err != nil {
				return err
			}
		}
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			joins INTEGER NOT NULL,
			leaves INTEGER NOT NULL,
			tasks INTEGER NOT NULL,
			emissions INTEGER NOT NULL,
			speakers INTEGER NOT NULL,
			listeners INTEGER NOT NULL,
			PRIMARY KEY (run_id, tick)
		);`,
		`CREATE TABLE IF NOT EXISTS sounds (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			speaker_id TEXT NOT NULL,
			sound TEXT NOT NULL,
			category TEXT NOT NULL,
			volume REAL NOT NULL,
			pitch REAL NOT NULL,
			x REAL NOT NULL,
			y REAL NOT NULL,
			z REAL NOT NULL,
			recipients INTEGER NOT NULL,
			PRIMARY KEY (run_id, tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sounds_speaker_tick ON sounds(speaker_id, tick);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','` + schemaVersion + `')`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed.Store(true)
		close(s.ch)
		s.mu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// RunID identifies the rows written by this process.
func (s *SQLiteIndex) RunID() string { return s.runID }

func (s *SQLiteIndex) WriteTick(entry world.TickLogEntry) error {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqTick, tick: entry}:
	default:
		// Drop if the indexer falls behind; JSONL logs remain the source of truth.
		s.dropTick.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) WriteSound(entry world.SoundLogEntry) error {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqSound, sound: entry}:
	default:
		s.dropSound.Add(1)
	}
	return nil
}

// Flush blocks until every request queued before it has been committed.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	if s == nil {
		return nil
	}
	done := make(chan struct{})
	s.mu.RLock()
	if s.closed.Load() {
		s.mu.RUnlock()
		return nil
	}
	select {
	case s.ch <- req{kind: reqFlush, done: done}:
		s.mu.RUnlock()
	case <-ctx.Done():
		s.mu.RUnlock()
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SQLiteIndex) Stats() Stats {
	return Stats{
		QueueDepth:     len(s.ch),
		QueueCapacity:  cap(s.ch),
		Written:        s.written.Load(),
		DropTickTotal:  s.dropTick.Load(),
		DropSoundTotal: s.dropSound.Load(),
	}
}

func (s *SQLiteIndex) UpsertCatalogs(cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	var rows []kv
	if b, _ := json.Marshal(cats.Sounds.Instruments); len(b) > 0 {
		rows = append(rows, kv{name: "instruments", digest: cats.Sounds.Digest, json: b})
	}
	{
		// Tuning: store the values we actually apply (canonical JSON).
		b, _ := json.Marshal(tune)
		sum := sha256.Sum256(b)
		rows = append(rows, kv{name: "tuning", digest: hex.EncodeToString(sum[:]), json: b})
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type SpeakerCount struct {
	SpeakerID string `json:"speaker_id"`
	Sounds    int    `json:"sounds"`
	Notes     int    `json:"notes"`
}

// CountBySpeaker aggregates indexed emissions per speaker id. An empty runID
// counts every run.
func (s *SQLiteIndex) CountBySpeaker(ctx context.Context, runID string) ([]SpeakerCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT speaker_id,
			SUM(CASE WHEN category='SOUND' THEN 1 ELSE 0 END),
			SUM(CASE WHEN category='NOTE' THEN 1 ELSE 0 END)
		FROM sounds WHERE (? = '' OR run_id = ?)
		GROUP BY speaker_id ORDER BY speaker_id`, runID, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SpeakerCount
	for rows.Next() {
		var c SpeakerCount
		if err := rows.Scan(&c.SpeakerID, &c.Sounds, &c.Notes); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertTick, _ := s.db.Prepare(`INSERT INTO ticks(run_id,tick,joins,leaves,tasks,emissions,speakers,listeners) VALUES(?,?,?,?,?,?,?,?)`)
	insertSound, _ := s.db.Prepare(`INSERT INTO sounds(run_id,tick,seq,speaker_id,sound,category,volume,pitch,x,y,z,recipients) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`)
	defer func() {
		if insertTick != nil {
			_ = insertTick.Close()
		}
		if insertSound != nil {
			_ = insertSound.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second

		lastSoundTick uint64
		soundSeq      int
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err == nil {
			s.written.Add(uint64(opCount))
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		if r.kind == reqFlush {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqTick:
			e := r.tick
			if insertTick != nil {
				if _, err := tx.Stmt(insertTick).Exec(
					s.runID, int64(e.Tick), len(e.Joins), len(e.Leaves), e.Tasks, e.Emissions, e.Speakers, e.Listeners,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqSound:
			e := r.sound
			if e.Tick != lastSoundTick {
				lastSoundTick = e.Tick
				soundSeq = 0
			}
			seq := soundSeq
			soundSeq++
			if insertSound != nil {
				if _, err := tx.Stmt(insertSound).Exec(
					s.runID, int64(e.Tick), seq, e.SpeakerID, e.Sound, e.Category, e.Volume, e.Pitch,
					e.Pos[0], e.Pos[1], e.Pos[2], e.Recipients,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	commit()
}
