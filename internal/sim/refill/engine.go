// Package refill is the maintenance engine: it tracks fillable objects and tops them
// up on every tick for owners who are authorized and opted in.
package refill

import (
	"fmt"
	"io"
	"log"
	"time"

	"autorefill/internal/sim/host"
	"autorefill/internal/sim/prefs"
	"autorefill/internal/sim/refill/feature/eligibility"
	"autorefill/internal/sim/refill/feature/guard"
	"autorefill/internal/sim/refill/feature/permission"
	"autorefill/internal/sim/refill/feature/tracking"
	"autorefill/internal/sim/sched"
	"autorefill/internal/sim/tuning"
)

// Archiver stores the outgoing preference map before a wipe clears it.
type Archiver func(saved map[string]bool) (string, error)

type Deps struct {
	Sched  sched.Scheduler
	World  host.World
	Auth   host.Authorizer
	Prefs  *prefs.Store
	Logger *log.Logger

	Archive Archiver
}

type Metrics struct {
	Ticks       uint64  `json:"ticks"`
	Tracked     int     `json:"tracked"`
	Preferences int     `json:"preferences"`
	Dirty       bool    `json:"dirty"`
	Writes      uint64  `json:"writes"`
	Filled      uint64  `json:"objects_filled"`
	Added       uint64  `json:"amount_added"`
	Pruned      uint64  `json:"pruned"`
	Faults      uint64  `json:"faults"`
	AuthQueries uint64  `json:"auth_queries"`
	LastTickMS  float64 `json:"last_tick_ms"`
	Running     bool    `json:"running"`
}

// Engine holds every piece of maintenance state. It is not safe for concurrent use;
// all calls must come from the scheduler's goroutine.
type Engine struct {
	cfg     tuning.Settings
	sched   sched.Scheduler
	world   host.World
	logger  *log.Logger
	archive Archiver

	cache    *tracking.Cache
	filter   eligibility.Filter
	gate     *permission.Gate
	prefs    *prefs.Store
	limiter  *guard.RateLimiter
	cooldown *guard.Cooldown

	tickTimer sched.Timer
	metrics   Metrics
}

func New(cfg tuning.Settings, deps Deps) (*Engine, error) {
	if deps.Sched == nil {
		return nil, fmt.Errorf("engine: nil scheduler")
	}
	if deps.World == nil {
		return nil, fmt.Errorf("engine: nil world")
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	store := deps.Prefs
	if store == nil {
		store = prefs.New(nil, deps.Sched, prefs.Options{}, logger)
	}
	cfg.Normalize()
	e := &Engine{
		sched:    deps.Sched,
		world:    deps.World,
		logger:   logger,
		archive:  deps.Archive,
		cache:    tracking.New(),
		gate:     permission.New(deps.Auth, cfg.Permissions.Use),
		prefs:    store,
		limiter:  guard.NewRateLimiter(deps.Sched, cfg.MaxCommandsPerMinute),
		cooldown: guard.NewCooldown(deps.Sched, cfg.CommandCooldown()),
	}
	e.apply(cfg)
	return e, nil
}

func (e *Engine) Settings() tuning.Settings   { return e.cfg }
func (e *Engine) Prefs() *prefs.Store         { return e.prefs }
func (e *Engine) Limiter() *guard.RateLimiter { return e.limiter }
func (e *Engine) Cooldown() *guard.Cooldown   { return e.cooldown }
func (e *Engine) Cache() *tracking.Cache      { return e.cache }
func (e *Engine) Running() bool               { return e.tickTimer != nil }
func (e *Engine) Now() time.Time              { return e.sched.Now() }

// Start loads preferences, scans the world and arms the tick timer.
func (e *Engine) Start() {
	e.prefs.Load()
	e.cache.Rebuild(e.world.Entities())
	e.armTick()
	e.logger.Printf("engine started: tracked=%d prefs=%d interval=%s", e.cache.Len(), e.prefs.Len(), e.cfg.TickInterval())
}

// Stop cancels every timer and writes unsaved preferences.
func (e *Engine) Stop() error {
	sched.StopTimer(e.tickTimer)
	e.tickTimer = nil
	return e.prefs.Close()
}

// Reload swaps in new settings. Timers are cancelled before anything is re-armed so no
// stale callback runs against the old configuration.
func (e *Engine) Reload(cfg tuning.Settings) {
	sched.StopTimer(e.tickTimer)
	e.tickTimer = nil
	e.prefs.CancelPending()

	cfg.Normalize()
	e.apply(cfg)
	e.cache.Rebuild(e.world.Entities())

	e.armTick()
	e.prefs.Resume()
	e.logger.Printf("engine reloaded: tracked=%d interval=%s enabled=%v", e.cache.Len(), e.cfg.TickInterval(), e.cfg.Enabled)
}

func (e *Engine) OnSpawn(ent host.Entity) {
	if ent == nil || ent.Destroyed() {
		return
	}
	e.cache.Add(ent)
}

func (e *Engine) OnDestroy(h host.Handle) {
	e.cache.Remove(h)
}

// OnWipe handles a world reset. With clear_on_wipe set, the current map is archived and
// every preference is forgotten. It reports whether preferences were cleared.
func (e *Engine) OnWipe() (bool, error) {
	if !e.cfg.ClearOnWipe {
		return false, nil
	}
	if e.archive != nil && e.prefs.Len() > 0 {
		path, err := e.archive(e.prefs.Export())
		if err != nil {
			return false, fmt.Errorf("archive preferences: %w", err)
		}
		e.logger.Printf("preferences archived to %s", path)
	}
	e.prefs.Clear()
	if err := e.prefs.Flush(); err != nil {
		return true, err
	}
	return true, nil
}

// EndSession drops the command guard state kept for actor.
func (e *Engine) EndSession(actor host.ActorID) {
	e.limiter.Forget(actor)
	e.cooldown.Forget(actor)
}

func (e *Engine) Metrics() Metrics {
	m := e.metrics
	m.Tracked = e.cache.Len()
	m.Preferences = e.prefs.Len()
	m.Dirty = e.prefs.Dirty()
	m.Writes = e.prefs.Writes()
	m.AuthQueries = e.gate.Queries()
	m.Running = e.Running()
	return m
}

func (e *Engine) apply(cfg tuning.Settings) {
	e.cfg = cfg
	e.filter = eligibility.New(cfg.Whitelist, cfg.Exclude)
	e.gate.SetPermission(cfg.Permissions.Use)
	e.limiter.SetMax(cfg.MaxCommandsPerMinute)
	e.cooldown.SetMin(cfg.CommandCooldown())
	e.prefs.SetOptions(prefs.Options{Default: cfg.DefaultEnabled, Debounce: cfg.SaveDebounce()})
}

func (e *Engine) armTick() {
	e.tickTimer = e.sched.Every(e.cfg.TickInterval(), e.Tick)
}
