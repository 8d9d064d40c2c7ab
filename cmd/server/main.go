package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	persistlog "voxelspeaker.ai/internal/persistence/log"
	"voxelspeaker.ai/internal/sim/catalogs"
	"voxelspeaker.ai/internal/sim/tuning"
	"voxelspeaker.ai/internal/sim/world"
	"voxelspeaker.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		worldID    = flag.String("world", "world_1", "world id")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable indexing (ticks/sounds + catalogs)")
		statsEvery = flag.Duration("stats_every", 30*time.Second, "interval between stats log lines (0 to disable)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}

	worldDir := filepath.Join(*dataDir, "worlds", *worldID)
	_ = os.MkdirAll(worldDir, 0o755)

	// Optional read-model index (the JSONL logs stay authoritative).
	idx, err := openRuntimeIndex(worldDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertCatalogs(cats, tune); err != nil {
			logger.Printf("index backend: upsert catalogs: %v", err)
		}
	}

	w, err := world.New(world.WorldConfig{
		ID:         *worldID,
		TickRateHz: tune.TickRateHz,
		Speaker:    tune.Speaker,
		Logger:     log.New(os.Stdout, "[world] ", log.LstdFlags|log.Lmicroseconds),
	}, cats)
	if err != nil {
		logger.Fatalf("world: %v", err)
	}

	tickLog := persistlog.NewTickLogger(worldDir)
	soundLog := persistlog.NewSoundLogger(worldDir)
	defer tickLog.Close()
	defer soundLog.Close()
	if idx != nil {
		w.SetTickLogger(multiTickLogger{a: tickLog, b: idx})
		w.SetSoundLogger(multiSoundLogger{a: soundLog, b: idx})
	} else {
		w.SetTickLogger(tickLog)
		w.SetSoundLogger(soundLog)
	}

	ctx, cancel := signalContext()
	// Deferred last so it runs first: the loggers and the index close only
	// after the world loop has stopped writing to them.
	runDone := make(chan struct{})
	defer func() {
		cancel()
		<-runDone
	}()

	go func() {
		defer close(runDone)
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("world stopped: %v", err)
		}
	}()
	if *statsEvery > 0 {
		go logStats(ctx, logger, w, idx, *statsEvery)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		writeMetrics(rw, w.Stats())
	})
	if envBool("VS_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()) {
		// Local-only admin endpoints.
		registerAdmin(mux, w, idx)
	} else {
		logger.Printf("admin endpoints disabled (VS_ENABLE_ADMIN_HTTP=false)")
	}
	if envBool("VS_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	mux.HandleFunc("/v1/ws", ws.NewServer(w, tune.Transport, logger).Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s world=%s tick_rate=%dHz catalog=%s", *addr, *worldID, tune.TickRateHz, shortDigest(cats.Sounds.Digest))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func logStats(ctx context.Context, logger *log.Logger, w *world.World, idx runtimeIndex, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		st := w.Stats()
		line := "tick=" + humanize.Comma(int64(st.Tick)) +
			" speakers=" + humanize.Comma(int64(st.Speakers)) +
			" emissions=" + humanize.Comma(int64(st.EmissionsTotal)) +
			" dropped_tasks=" + humanize.Comma(int64(st.DroppedTasks))
		if idx != nil {
			is := idx.Stats()
			line += " indexed=" + humanize.Comma(int64(is.Written)) +
				" index_drops=" + humanize.Comma(int64(is.DropTickTotal+is.DropSoundTotal))
		}
		logger.Printf("stats %s", line)
	}
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
