package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"autorefill/internal/persistence/prefdb"
	"autorefill/internal/protocol"
	"autorefill/internal/sim/commands"
	"autorefill/internal/sim/refill"
	"autorefill/internal/sim/sched"
	"autorefill/internal/sim/tuning"
	"autorefill/internal/transport/ws"
)

// app groups what the HTTP handlers need. Engine and command calls run on the loop.
type app struct {
	loop    *sched.Loop
	engine  *refill.Engine
	cmds    *commands.Service
	bridge  *ws.Server
	backend prefdb.Backend
	mirror  *r2MirrorRuntime
	logger  *log.Logger
}

// adminCaller is the identity for loopback admin requests; it bypasses permission checks.
var adminCaller = commands.Caller{Name: "admin-http", Privileged: true}

type stateResponse struct {
	Metrics  refill.Metrics  `json:"metrics"`
	Settings tuning.Settings `json:"settings"`
	Bridge   ws.Stats        `json:"bridge"`
	Store    *prefdb.Stats   `json:"store,omitempty"`

	ChangeSinkFailures uint64 `json:"change_sink_failures"`
}

func (a *app) routes(mux *http.ServeMux, enableAdmin bool) {
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", a.handleMetrics)

	if !enableAdmin {
		a.logger.Printf("admin http disabled")
		return
	}
	mux.HandleFunc("/admin/v1/state", a.loopbackOnly(http.MethodGet, a.handleState))
	mux.HandleFunc("/admin/v1/prefs", a.loopbackOnly("", a.handlePrefs))
	mux.HandleFunc("/admin/v1/reload", a.loopbackOnly(http.MethodPost, a.handleReload))

	mux.HandleFunc("/debug/pprof/", a.loopbackOnly("", pprof.Index))
	mux.HandleFunc("/debug/pprof/cmdline", a.loopbackOnly("", pprof.Cmdline))
	mux.HandleFunc("/debug/pprof/profile", a.loopbackOnly("", pprof.Profile))
	mux.HandleFunc("/debug/pprof/symbol", a.loopbackOnly("", pprof.Symbol))
	mux.HandleFunc("/debug/pprof/trace", a.loopbackOnly("", pprof.Trace))
}

// loopbackOnly rejects non-local callers and, when method is set, other methods.
func (a *app) loopbackOnly(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if method != "" && r.Method != method {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func (a *app) handleState(rw http.ResponseWriter, r *http.Request) {
	var resp stateResponse
	if !a.onLoop(rw, r, func() {
		resp.Metrics = a.engine.Metrics()
		resp.Settings = a.engine.Settings()
		resp.ChangeSinkFailures = a.cmds.SinkFailures()
	}) {
		return
	}
	resp.Bridge = a.bridge.Stats()
	if db, ok := a.backend.(*prefdb.SQLite); ok {
		st := db.Stats()
		resp.Store = &st
	}
	writeJSONResponse(rw, http.StatusOK, resp)
}

func (a *app) handlePrefs(rw http.ResponseWriter, r *http.Request) {
	actor := strings.TrimSpace(r.URL.Query().Get("actor"))
	var reply commands.Reply
	var run func()
	switch r.Method {
	case http.MethodGet:
		run = func() { reply = a.cmds.AdminQuery(adminCaller, actor) }
	case http.MethodPost:
		mode := strings.TrimSpace(r.URL.Query().Get("mode"))
		if actor == "" || mode == "" {
			http.Error(rw, "actor and mode are required", http.StatusBadRequest)
			return
		}
		run = func() { reply = a.cmds.AdminSet(adminCaller, actor, mode) }
	default:
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !a.onLoop(rw, r, run) {
		return
	}
	writeReply(rw, reply)
}

func (a *app) handleReload(rw http.ResponseWriter, r *http.Request) {
	var reply commands.Reply
	if !a.onLoop(rw, r, func() { reply = a.cmds.AdminReload(adminCaller) }) {
		return
	}
	if reply.OK() {
		a.logger.Printf("settings reloaded via admin http")
	}
	writeReply(rw, reply)
}

// onLoop runs fn on the loop and writes a 503 when the loop is gone or the
// request times out.
func (a *app) onLoop(rw http.ResponseWriter, r *http.Request, fn func()) bool {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := a.loop.Do(ctx, fn); err != nil {
		http.Error(rw, err.Error(), http.StatusServiceUnavailable)
		return false
	}
	return true
}

func writeReply(rw http.ResponseWriter, r commands.Reply) {
	writeJSONResponse(rw, statusForCode(r.Code), r)
}

func statusForCode(code string) int {
	switch code {
	case protocol.CodeOK:
		return http.StatusOK
	case protocol.ErrNotFound:
		return http.StatusNotFound
	case protocol.ErrUsage:
		return http.StatusBadRequest
	case protocol.ErrNoPermission:
		return http.StatusForbidden
	case protocol.ErrRateLimit, protocol.ErrCooldown:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeJSONResponse(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}
