package refill

import (
	"time"

	"autorefill/internal/sim/host"
	"autorefill/internal/sim/refill/feature/fill"
	"autorefill/internal/sim/refill/feature/tracking"
)

// Tick runs one maintenance pass over a snapshot of the cache.
func (e *Engine) Tick() {
	if !e.cfg.Enabled || e.cache.Len() == 0 {
		return
	}
	stepStart := time.Now()

	snap := e.cache.Snapshot()
	// Authorization never carries over between ticks.
	e.gate.Reset()

	opts := fill.Options{
		ItemKind:      e.cfg.FillItemKind,
		MaxPerTick:    e.cfg.MaxFillPerTick,
		CreateOnEmpty: e.cfg.CreateOnEmpty,
	}
	for _, t := range snap {
		e.processOne(t, opts)
	}

	e.metrics.Ticks++
	e.metrics.LastTickMS = float64(time.Since(stepStart).Microseconds()) / 1000.0
}

func (e *Engine) processOne(t *tracking.Tracked, opts fill.Options) {
	h := t.Handle()
	var res fill.Result
	defer func() {
		if r := recover(); r != nil {
			if res.Changed() {
				// Amounts written before the fault still reach the host.
				e.notifyPartial(h, t.Inventory)
				e.metrics.Added += uint64(res.Added)
			}
			e.cache.Remove(h)
			e.metrics.Faults++
			e.logger.Printf("warn: object %d dropped after fault: %v", h, r)
		}
	}()

	ent := t.Entity
	if ent.Destroyed() {
		e.cache.Remove(h)
		e.metrics.Pruned++
		return
	}
	if !e.filter.IsEligible(ent.Category()) {
		return
	}
	owner := ent.Owner()
	if owner == host.Unowned {
		return
	}
	if !e.gate.IsAuthorized(owner) {
		return
	}
	if !e.prefs.IsEnabled(owner) {
		return
	}

	fill.ApplyTo(&res, t.Inventory, opts)
	if !res.Changed() {
		return
	}
	t.Inventory.MarkDirty()
	e.metrics.Filled++
	e.metrics.Added += uint64(res.Added)
}

func (e *Engine) notifyPartial(h host.Handle, inv host.Inventory) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Printf("warn: object %d change notification failed: %v", h, r)
		}
	}()
	inv.MarkDirty()
}
