package commands

import (
	"errors"
	"fmt"
	"time"
)

type Source string

const (
	SourceActor Source = "actor"
	SourceAdmin Source = "admin"
)

// ChangeRecord is written once per accepted preference change.
type ChangeRecord struct {
	ID         string    `json:"id"`
	Time       time.Time `json:"time"`
	Source     Source    `json:"source"`
	ActorID    uint64    `json:"actor_id"`
	ActorName  string    `json:"actor_name"`
	TargetID   uint64    `json:"target_id,omitempty"`
	TargetName string    `json:"target_name,omitempty"`
	Enabled    bool      `json:"enabled"`
}

func (r ChangeRecord) String() string {
	state := "off"
	if r.Enabled {
		state = "on"
	}
	if r.TargetID != 0 {
		return fmt.Sprintf("[%s] %s (%d) set auto-refill %s for %s (%d) at %s",
			r.Source, r.ActorName, r.ActorID, state, r.TargetName, r.TargetID, r.Time.Format(time.RFC3339))
	}
	return fmt.Sprintf("[%s] %s (%d) set auto-refill %s at %s",
		r.Source, r.ActorName, r.ActorID, state, r.Time.Format(time.RFC3339))
}

// ChangeSink stores change records durably.
type ChangeSink interface {
	WriteChange(rec ChangeRecord) error
}

// Sinks fans a record out to every sink and joins their errors.
type Sinks []ChangeSink

func (s Sinks) WriteChange(rec ChangeRecord) error {
	var errs []error
	for _, sink := range s {
		if sink == nil {
			continue
		}
		if err := sink.WriteChange(rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
