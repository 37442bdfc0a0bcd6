// Package commands is the actor and admin command surface over the refill engine.
// Every method must run on the scheduler goroutine that owns the engine.
package commands

import (
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"autorefill/internal/protocol"
	"autorefill/internal/sim/host"
	"autorefill/internal/sim/refill"
	"autorefill/internal/sim/tuning"
)

// Caller identifies who issued a command. Privileged callers (the local console or
// loopback admin HTTP) pass every admin check.
type Caller struct {
	Actor      host.ActorID
	Name       string
	Privileged bool
}

type PrefView struct {
	ActorID host.ActorID `json:"actor_id"`
	Name    string       `json:"name"`
	Enabled bool         `json:"enabled"`
	Default bool         `json:"default,omitempty"`
}

type Reply struct {
	Code         string     `json:"code"`
	Message      string     `json:"message"`
	Enabled      *bool      `json:"enabled,omitempty"`
	Prefs        []PrefView `json:"prefs,omitempty"`
	RetryAfterMs int64      `json:"retry_after_ms,omitempty"`
}

func (r Reply) OK() bool { return r.Code == protocol.CodeOK }

type Deps struct {
	Engine    *refill.Engine
	Auth      host.Authorizer
	Directory host.Directory
	// LoadSettings re-reads the settings file for reload.
	LoadSettings func() (tuning.Settings, error)
	Changes      ChangeSink
	Logger       *log.Logger
}

type Service struct {
	engine    *refill.Engine
	auth      host.Authorizer
	dir       host.Directory
	load      func() (tuning.Settings, error)
	changes   ChangeSink
	logger    *log.Logger
	newID     func() string
	sinkFails uint64
}

func New(deps Deps) (*Service, error) {
	if deps.Engine == nil {
		return nil, fmt.Errorf("commands: nil engine")
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Service{
		engine:  deps.Engine,
		auth:    deps.Auth,
		dir:     deps.Directory,
		load:    deps.LoadSettings,
		changes: deps.Changes,
		logger:  logger,
		newID:   uuid.NewString,
	}, nil
}

func (s *Service) Enable(c Caller) Reply {
	return s.mutate(c, func(bool) bool { return true })
}

func (s *Service) Disable(c Caller) Reply {
	return s.mutate(c, func(bool) bool { return false })
}

func (s *Service) Toggle(c Caller) Reply {
	return s.mutate(c, func(cur bool) bool { return !cur })
}

// Status reports the caller's own preference. It is exempt from the command guards.
func (s *Service) Status(c Caller) Reply {
	if r, ok := s.requireUse(c); !ok {
		return r
	}
	on := s.engine.Prefs().IsEnabled(c.Actor)
	return Reply{Code: protocol.CodeOK, Message: "Auto-refill is " + onOff(on) + ".", Enabled: &on}
}

// AdminSet applies mode (on, off or toggle) to the actor named by ident.
func (s *Service) AdminSet(c Caller, ident, mode string) Reply {
	if r, ok := s.requireAdmin(c); !ok {
		return r
	}
	mode = strings.ToLower(strings.TrimSpace(mode))
	var apply func(bool) bool
	switch mode {
	case "on", "enable", "true":
		apply = func(bool) bool { return true }
	case "off", "disable", "false":
		apply = func(bool) bool { return false }
	case "toggle":
		apply = func(cur bool) bool { return !cur }
	default:
		return usage("set <actor> on|off|toggle")
	}
	target, ok := s.resolve(ident)
	if !ok {
		return notFound(ident)
	}
	store := s.engine.Prefs()
	next := apply(store.IsEnabled(target.ID))
	store.SetEnabled(target.ID, next)
	s.record(SourceAdmin, c, target, next)
	return Reply{
		Code:    protocol.CodeOK,
		Message: fmt.Sprintf("Auto-refill %s for %s.", onOff(next), target.Name),
		Enabled: &next,
	}
}

// AdminQuery lists every stored preference, or reports one actor when ident is set.
// Lookups never materialize a default.
func (s *Service) AdminQuery(c Caller, ident string) Reply {
	if r, ok := s.requireAdmin(c); !ok {
		return r
	}
	store := s.engine.Prefs()
	if strings.TrimSpace(ident) == "" {
		entries := store.Entries()
		views := make([]PrefView, 0, len(entries))
		for _, e := range entries {
			views = append(views, PrefView{ActorID: e.Actor, Name: s.name(e.Actor), Enabled: e.Enabled})
		}
		return Reply{Code: protocol.CodeOK, Message: fmt.Sprintf("%d stored preference(s).", len(views)), Prefs: views}
	}
	target, ok := s.resolve(ident)
	if !ok {
		return notFound(ident)
	}
	on, known := store.Lookup(target.ID)
	view := PrefView{ActorID: target.ID, Name: target.Name, Enabled: on}
	msg := fmt.Sprintf("%s: %s", target.Name, onOff(on))
	if !known {
		view.Enabled = s.engine.Settings().DefaultEnabled
		view.Default = true
		msg = fmt.Sprintf("%s: %s (default)", target.Name, onOff(view.Enabled))
	}
	return Reply{Code: protocol.CodeOK, Message: msg, Enabled: &view.Enabled, Prefs: []PrefView{view}}
}

// AdminReload re-reads settings and restarts the engine timers. A regenerated file
// still reloads, using the defaults that were written back.
func (s *Service) AdminReload(c Caller) Reply {
	if r, ok := s.requireAdmin(c); !ok {
		return r
	}
	if s.load == nil {
		return Reply{Code: protocol.ErrInternal, Message: "Reload is not available."}
	}
	cfg, err := s.load()
	if err != nil {
		if !errors.Is(err, tuning.ErrRegenerated) {
			s.logger.Printf("warn: reload: %v", err)
			return Reply{Code: protocol.ErrInternal, Message: "Reload failed; see server log."}
		}
		s.logger.Printf("warn: reload: %v", err)
	}
	s.engine.Reload(cfg)
	cur := s.engine.Settings()
	return Reply{
		Code:    protocol.CodeOK,
		Message: fmt.Sprintf("Configuration reloaded (interval %s, %d tracked).", cur.TickInterval(), s.engine.Cache().Len()),
	}
}

// EndSession drops guard state once an actor disconnects.
func (s *Service) EndSession(actor host.ActorID) {
	s.engine.EndSession(actor)
}

// SinkFailures counts change records the sink refused.
func (s *Service) SinkFailures() uint64 { return s.sinkFails }

func (s *Service) mutate(c Caller, apply func(cur bool) bool) Reply {
	if r, ok := s.requireUse(c); !ok {
		return r
	}
	lim := s.engine.Limiter()
	if !lim.TryAccept(c.Actor) {
		wait := lim.RetryAfter(c.Actor)
		return Reply{
			Code:         protocol.ErrRateLimit,
			Message:      fmt.Sprintf("Too many changes. Try again in %ds.", ceilSeconds(wait)),
			RetryAfterMs: wait.Milliseconds(),
		}
	}
	cd := s.engine.Cooldown()
	if wait := cd.Remaining(c.Actor); wait > 0 {
		return Reply{
			Code:         protocol.ErrCooldown,
			Message:      fmt.Sprintf("Please wait %ds before changing this again.", ceilSeconds(wait)),
			RetryAfterMs: wait.Milliseconds(),
		}
	}
	cd.Record(c.Actor)

	store := s.engine.Prefs()
	next := apply(store.IsEnabled(c.Actor))
	store.SetEnabled(c.Actor, next)
	self := host.Actor{ID: c.Actor, Name: c.Name}
	s.record(SourceActor, c, self, next)
	return Reply{Code: protocol.CodeOK, Message: "Auto-refill " + onOff(next) + ".", Enabled: &next}
}

func (s *Service) requireUse(c Caller) (Reply, bool) {
	if c.Actor == host.Unowned {
		return usage("this command needs an actor"), false
	}
	perm := s.engine.Settings().Permissions.Use
	if s.auth == nil || !s.auth.HasPermission(c.Actor, perm) {
		return Reply{Code: protocol.ErrNoPermission, Message: "You do not have permission to use auto-refill."}, false
	}
	return Reply{}, true
}

func (s *Service) requireAdmin(c Caller) (Reply, bool) {
	if c.Privileged {
		return Reply{}, true
	}
	perm := s.engine.Settings().Permissions.Admin
	if c.Actor == host.Unowned || s.auth == nil || !s.auth.HasPermission(c.Actor, perm) {
		return Reply{Code: protocol.ErrNoPermission, Message: "You do not have permission to do that."}, false
	}
	return Reply{}, true
}

func (s *Service) resolve(ident string) (host.Actor, bool) {
	if s.dir == nil {
		return host.Actor{}, false
	}
	return s.dir.Resolve(ident)
}

func (s *Service) name(id host.ActorID) string {
	if s.dir == nil {
		return fmt.Sprintf("%d", id)
	}
	return s.dir.Name(id)
}

func (s *Service) record(src Source, c Caller, target host.Actor, enabled bool) {
	if !s.engine.Settings().LogChanges {
		return
	}
	rec := ChangeRecord{
		ID:        s.newID(),
		Time:      s.engine.Now().UTC(),
		Source:    src,
		ActorID:   uint64(c.Actor),
		ActorName: callerName(c),
		Enabled:   enabled,
	}
	if target.ID != c.Actor {
		rec.TargetID = uint64(target.ID)
		rec.TargetName = target.Name
	}
	s.logger.Printf("%s", rec)
	if s.changes == nil {
		return
	}
	if err := s.changes.WriteChange(rec); err != nil {
		s.sinkFails++
		s.logger.Printf("warn: change log: %v", err)
	}
}

func callerName(c Caller) string {
	if c.Name != "" {
		return c.Name
	}
	if c.Actor == host.Unowned {
		return "console"
	}
	return fmt.Sprintf("%d", c.Actor)
}

func usage(text string) Reply {
	return Reply{Code: protocol.ErrUsage, Message: "Usage: " + text}
}

func notFound(ident string) Reply {
	return Reply{Code: protocol.ErrNotFound, Message: fmt.Sprintf("No actor matches %q.", strings.TrimSpace(ident))}
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func ceilSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
