package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"voxelspeaker.ai/internal/persistence/indexdb"
	"voxelspeaker.ai/internal/protocol"
	"voxelspeaker.ai/internal/sim/world"
)

type statsResponse struct {
	World world.Stats    `json:"world"`
	Index *indexdb.Stats `json:"index,omitempty"`
}

func registerAdmin(mux *http.ServeMux, w *world.World, idx runtimeIndex) {
	mux.HandleFunc("/admin/v1/stats", func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		resp := statsResponse{World: w.Stats()}
		if idx != nil {
			st := idx.Stats()
			resp.Index = &st
		}
		writeJSONResponse(rw, http.StatusOK, resp)
	})

	// Per-speaker emission counts from the index.
	mux.HandleFunc("/admin/v1/speakers", func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		if idx == nil {
			writeJSONResponse(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": "index disabled"})
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := idx.Flush(ctx); err != nil {
			writeJSONResponse(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		// Speaker ids restart with the process; ?run=all merges earlier runs.
		runID := idx.RunID()
		if r.URL.Query().Get("run") == "all" {
			runID = ""
		}
		counts, err := idx.CountBySpeaker(ctx, runID)
		if err != nil {
			writeJSONResponse(rw, http.StatusInternalServerError, map[string]any{"ok": false, "code": protocol.ErrInternal, "error": err.Error()})
			return
		}
		writeJSONResponse(rw, http.StatusOK, map[string]any{"ok": true, "tick": w.CurrentTick(), "run_id": idx.RunID(), "speakers": counts})
	})

	mux.HandleFunc("/admin/v1/speakers/remove", func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		id := strings.TrimSpace(r.URL.Query().Get("id"))
		if id == "" {
			writeJSONResponse(rw, http.StatusBadRequest, map[string]any{"ok": false, "code": protocol.ErrBadRequest, "error": "missing id"})
			return
		}
		if !w.RemoveSpeaker(id) {
			writeJSONResponse(rw, http.StatusNotFound, map[string]any{"ok": false, "code": protocol.ErrNotFound, "error": "unknown speaker"})
			return
		}
		writeJSONResponse(rw, http.StatusOK, map[string]any{"ok": true, "speaker_id": id})
	})
}

func writeMetrics(rw http.ResponseWriter, st world.Stats) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

	// Minimal Prometheus exposition format.
	fmt.Fprintf(rw, "# HELP voxelspeaker_world_tick Current world tick.\n")
	fmt.Fprintf(rw, "# TYPE voxelspeaker_world_tick gauge\n")
	fmt.Fprintf(rw, "voxelspeaker_world_tick{world=%q} %d\n", st.WorldID, st.Tick)

	fmt.Fprintf(rw, "# HELP voxelspeaker_world_speakers Placed speakers.\n")
	fmt.Fprintf(rw, "# TYPE voxelspeaker_world_speakers gauge\n")
	fmt.Fprintf(rw, "voxelspeaker_world_speakers{world=%q} %d\n", st.WorldID, st.Speakers)

	fmt.Fprintf(rw, "# HELP voxelspeaker_world_task_queue_depth Pending main-thread tasks.\n")
	fmt.Fprintf(rw, "# TYPE voxelspeaker_world_task_queue_depth gauge\n")
	fmt.Fprintf(rw, "voxelspeaker_world_task_queue_depth{world=%q} %d\n", st.WorldID, st.QueuedTasks)

	fmt.Fprintf(rw, "# HELP voxelspeaker_emissions_total Emissions broadcast to listeners.\n")
	fmt.Fprintf(rw, "# TYPE voxelspeaker_emissions_total counter\n")
	fmt.Fprintf(rw, "voxelspeaker_emissions_total{world=%q} %d\n", st.WorldID, st.EmissionsTotal)

	fmt.Fprintf(rw, "# HELP voxelspeaker_dropped_tasks_total Tasks rejected by a full queue.\n")
	fmt.Fprintf(rw, "# TYPE voxelspeaker_dropped_tasks_total counter\n")
	fmt.Fprintf(rw, "voxelspeaker_dropped_tasks_total{world=%q} %d\n", st.WorldID, st.DroppedTasks)
}

func writeJSONResponse(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
