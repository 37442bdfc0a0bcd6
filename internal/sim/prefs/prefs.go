// Package prefs owns the per-actor opt-in map and mirrors it to durable storage on a
// debounced schedule.
package prefs

import (
	"fmt"
	"io"
	"log"
	"sort"
	"strconv"
	"time"

	"autorefill/internal/sim/host"
	"autorefill/internal/sim/sched"
)

// Backend is the durable copy of the preference map, keyed by the decimal actor id.
type Backend interface {
	Load() (map[string]bool, error)
	Save(prefs map[string]bool) error
}

type Options struct {
	// Default is materialized for actors that have no entry yet.
	Default  bool
	Debounce time.Duration
}

type Entry struct {
	Actor   host.ActorID
	Enabled bool
}

type Store struct {
	backend Backend
	sched   sched.Scheduler
	logger  *log.Logger
	opts    Options

	m     map[host.ActorID]bool
	dirty bool
	timer sched.Timer

	writes uint64
}

func New(backend Backend, s sched.Scheduler, opts Options, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Store{
		backend: backend,
		sched:   s,
		logger:  logger,
		opts:    opts,
		m:       map[host.ActorID]bool{},
	}
}

// SetOptions applies reloaded settings. A pending flush keeps its original deadline.
func (s *Store) SetOptions(opts Options) { s.opts = opts }

// Load replaces the in-memory map with the durable copy. Unreadable state is treated
// as empty; the next flush overwrites it.
func (s *Store) Load() {
	s.m = map[host.ActorID]bool{}
	if s.backend == nil {
		return
	}
	raw, err := s.backend.Load()
	if err != nil {
		s.logger.Printf("warn: preferences unreadable, starting empty: %v", err)
		return
	}
	for k, v := range raw {
		id, err := strconv.ParseUint(k, 10, 64)
		if err != nil || id == 0 {
			s.logger.Printf("warn: preferences: skipping invalid actor id %q", k)
			continue
		}
		s.m[host.ActorID(id)] = v
	}
}

// IsEnabled returns the actor's preference, materializing the default on first access.
func (s *Store) IsEnabled(actor host.ActorID) bool {
	if v, ok := s.m[actor]; ok {
		return v
	}
	s.m[actor] = s.opts.Default
	s.markDirty()
	return s.opts.Default
}

// Lookup reads without materializing.
func (s *Store) Lookup(actor host.ActorID) (enabled bool, known bool) {
	enabled, known = s.m[actor]
	return enabled, known
}

func (s *Store) SetEnabled(actor host.ActorID, enabled bool) {
	s.m[actor] = enabled
	s.markDirty()
}

// Toggle flips the stored preference, starting from the default for unknown actors.
func (s *Store) Toggle(actor host.ActorID) bool {
	next := !s.IsEnabled(actor)
	s.SetEnabled(actor, next)
	return next
}

// Entries returns every known preference ordered by actor id.
func (s *Store) Entries() []Entry {
	out := make([]Entry, 0, len(s.m))
	for id, v := range s.m {
		out = append(out, Entry{Actor: id, Enabled: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Actor < out[j].Actor })
	return out
}

func (s *Store) Len() int { return len(s.m) }

// Clear forgets every preference.
func (s *Store) Clear() {
	s.m = map[host.ActorID]bool{}
	s.markDirty()
}

func (s *Store) Dirty() bool { return s.dirty }

// Pending reports whether a debounced flush is armed.
func (s *Store) Pending() bool { return s.timer != nil }

// Writes counts completed durable writes.
func (s *Store) Writes() uint64 { return s.writes }

// ScheduleFlush arms a flush after delay, replacing any pending one.
func (s *Store) ScheduleFlush(delay time.Duration) {
	sched.StopTimer(s.timer)
	s.timer = nil
	if s.sched == nil {
		return
	}
	s.timer = s.sched.After(delay, func() {
		s.timer = nil
		if err := s.Flush(); err != nil {
			s.logger.Printf("warn: preferences flush: %v", err)
		}
	})
}

// Flush writes the full map when it diverges from durable storage. A failed write
// keeps the store dirty and re-arms the debounce timer.
func (s *Store) Flush() error {
	if !s.dirty {
		sched.StopTimer(s.timer)
		s.timer = nil
		return nil
	}
	sched.StopTimer(s.timer)
	s.timer = nil
	if s.backend != nil {
		if err := s.backend.Save(s.encode()); err != nil {
			s.ScheduleFlush(s.opts.Debounce)
			return fmt.Errorf("save preferences: %w", err)
		}
	}
	s.writes++
	s.dirty = false
	return nil
}

// Close cancels the pending timer and writes any unsaved changes.
func (s *Store) Close() error {
	sched.StopTimer(s.timer)
	s.timer = nil
	if !s.dirty {
		return nil
	}
	if s.backend == nil {
		s.dirty = false
		return nil
	}
	if err := s.backend.Save(s.encode()); err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	s.writes++
	s.dirty = false
	return nil
}

// CancelPending stops the debounce timer without writing. Used before a reload
// re-arms timers against new settings.
func (s *Store) CancelPending() {
	sched.StopTimer(s.timer)
	s.timer = nil
}

// Resume re-arms the debounce timer when unsaved changes exist.
func (s *Store) Resume() {
	if s.dirty && s.timer == nil {
		s.ScheduleFlush(s.opts.Debounce)
	}
}

// Export returns a copy of the map in its persisted form.
func (s *Store) Export() map[string]bool { return s.encode() }

func (s *Store) markDirty() {
	s.dirty = true
	s.ScheduleFlush(s.opts.Debounce)
}

func (s *Store) encode() map[string]bool {
	out := make(map[string]bool, len(s.m))
	for id, v := range s.m {
		out[strconv.FormatUint(uint64(id), 10)] = v
	}
	return out
}
