package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"autorefill/internal/persistence/prefdb"
	"autorefill/internal/sim/refill"
)

func (a *app) handleMetrics(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	var m refill.Metrics
	var sinkFails uint64
	if err := a.loop.Do(ctx, func() {
		m = a.engine.Metrics()
		sinkFails = a.cmds.SinkFailures()
	}); err != nil {
		http.Error(rw, err.Error(), http.StatusServiceUnavailable)
		return
	}

	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
	writeEngineMetrics(rw, m)

	counter(rw, "autorefill_change_sink_failures_total", "Change records a sink failed to store.", sinkFails)

	b := a.bridge.Stats()
	gauge(rw, "autorefill_bridge_sessions", "Attached host sessions.", float64(b.Sessions))
	counter(rw, "autorefill_bridge_fills_sent_total", "FILL messages queued to hosts.", b.FillsSent)
	counter(rw, "autorefill_bridge_fills_dropped_total", "FILL messages dropped on a full host queue.", b.FillsDropped)
	counter(rw, "autorefill_bridge_throttled_total", "Commands answered with E_PROTO_THROTTLED.", b.Throttled)
	counter(rw, "autorefill_bridge_bad_messages_total", "Inbound messages rejected as malformed.", b.BadMessages)

	if db, ok := a.backend.(*prefdb.SQLite); ok {
		st := db.Stats()
		gauge(rw, "autorefill_store_queue_depth", "Pending change records in the sqlite writer.", float64(st.QueueDepth))
		gauge(rw, "autorefill_store_queue_capacity", "Capacity of the sqlite writer queue.", float64(st.QueueCapacity))
		counter(rw, "autorefill_store_changes_written_total", "Change records stored in sqlite.", st.ChangesWritten)
		counter(rw, "autorefill_store_changes_dropped_total", "Change records dropped on a full sqlite queue.", st.DropChangeTotal)
	}

	if s, ok := a.mirror.Stats(); ok {
		gauge(rw, "autorefill_r2_mirror_queue_depth", "Current R2 mirror queue depth.", float64(s.QueueDepth))
		counter(rw, "autorefill_r2_mirror_upload_success_total", "Files uploaded to R2.", s.UploadSuccessTotal)
		counter(rw, "autorefill_r2_mirror_upload_fail_total", "Files that failed to upload after retries.", s.UploadFailTotal)
		counter(rw, "autorefill_r2_mirror_dropped_total", "Files dropped on a saturated upload queue.", s.DroppedTotal)
		counter(rw, "autorefill_r2_mirror_rejected_total", "Files refused because they are not change segments or wipe archives.", s.RejectedTotal)
	}
}

func writeEngineMetrics(w io.Writer, m refill.Metrics) {
	running := 0.0
	if m.Running {
		running = 1
	}
	dirty := 0.0
	if m.Dirty {
		dirty = 1
	}
	gauge(w, "autorefill_running", "1 while the refill tick timer is armed.", running)
	counter(w, "autorefill_ticks_total", "Completed refill ticks.", m.Ticks)
	gauge(w, "autorefill_tracked_objects", "Objects in the tracking cache.", float64(m.Tracked))
	gauge(w, "autorefill_preferences", "Stored actor preferences.", float64(m.Preferences))
	gauge(w, "autorefill_preferences_dirty", "1 while preferences await a flush.", dirty)
	counter(w, "autorefill_preference_writes_total", "Preference flushes to durable storage.", m.Writes)
	counter(w, "autorefill_objects_filled_total", "Objects that received items in a tick.", m.Filled)
	counter(w, "autorefill_amount_added_total", "Items added across all objects.", m.Added)
	counter(w, "autorefill_pruned_total", "Destroyed objects removed from the cache.", m.Pruned)
	counter(w, "autorefill_faults_total", "Per-object tick faults recovered.", m.Faults)
	counter(w, "autorefill_auth_queries_total", "Permission lookups made by the tick.", m.AuthQueries)
	gauge(w, "autorefill_last_tick_ms", "Duration of the most recent tick.", m.LastTickMS)
}

func gauge(w io.Writer, name, help string, v float64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s gauge\n", name)
	fmt.Fprintf(w, "%s %g\n", name, v)
}

func counter(w io.Writer, name, help string, v uint64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s counter\n", name)
	fmt.Fprintf(w, "%s %d\n", name, v)
}
