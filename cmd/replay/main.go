package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	persistlog "voxelspeaker.ai/internal/persistence/log"
	"voxelspeaker.ai/internal/sim/tuning"
	"voxelspeaker.ai/internal/sim/world"
)

func main() {
	var (
		worldDir   = flag.String("world_dir", "", "world data dir containing sounds/ (e.g. ./data/worlds/world_1)")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "tuning used by the server that wrote the log")
		speakerID  = flag.String("speaker", "", "only report this speaker (optional)")
		fromTick   = flag.Uint64("from_tick", 0, "skip entries before this world tick (optional)")
		toTick     = flag.Uint64("to_tick", 0, "stop after this world tick (optional)")
		maxReport  = flag.Int("max_violations", 20, "violations to print")
	)
	flag.Parse()

	if *worldDir == "" {
		fmt.Fprintln(os.Stderr, "missing -world_dir")
		os.Exit(2)
	}

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintln(os.Stderr, "load tuning:", err)
			os.Exit(1)
		}
		tune = tuning.Defaults()
	}

	files, err := persistlog.ListFiles(persistlog.SoundsDir(*worldDir), "sounds")
	if err != nil {
		fmt.Fprintln(os.Stderr, "list sound logs:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no sound logs found in", persistlog.SoundsDir(*worldDir))
		os.Exit(1)
	}
	var bytes uint64
	for _, p := range files {
		if fi, err := os.Stat(p); err == nil {
			bytes += uint64(fi.Size())
		}
	}

	a := newAuditor(tune.Speaker)
	want := strings.TrimSpace(*speakerID)
	err = persistlog.ReadSounds(*worldDir, func(e world.SoundLogEntry) error {
		if e.Tick < *fromTick || (*toTick != 0 && e.Tick > *toTick) {
			return nil
		}
		if want != "" && e.SpeakerID != want {
			return nil
		}
		a.Add(e)
		return nil
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	violations := a.Finish()

	fmt.Printf("sound log %s: %s files, %s, %s emissions\n",
		filepath.Base(filepath.Clean(*worldDir)), humanize.Comma(int64(len(files))),
		humanize.Bytes(bytes), humanize.Comma(int64(a.total)))
	for _, s := range a.Summaries() {
		fmt.Printf("  %-8s sounds=%-8s notes=%-8s recipients=%-8s ticks=%d..%d\n",
			s.SpeakerID, humanize.Comma(int64(s.Sounds)), humanize.Comma(int64(s.Notes)),
			humanize.Comma(int64(s.Recipients)), s.FirstTick, s.LastTick)
	}

	if len(violations) == 0 {
		fmt.Printf("gate ok: max_notes_per_tick=%d min_ticks_between_sounds=%d\n",
			tune.Speaker.MaxNotesPerTick, tune.Speaker.MinTicksBetweenSounds)
		return
	}
	for i, v := range violations {
		if i >= *maxReport {
			fmt.Printf("  ... %d more\n", len(violations)-i)
			break
		}
		fmt.Println("  violation", v)
	}
	fmt.Fprintf(os.Stderr, "gate violations: %d\n", len(violations))
	os.Exit(1)
}
