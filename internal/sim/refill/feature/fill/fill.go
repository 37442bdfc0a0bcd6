package fill

import "autorefill/internal/sim/host"

type Options struct {
	// ItemKind is the only quantity type that may be topped up or created.
	ItemKind      string
	MaxPerTick    int
	CreateOnEmpty bool
}

// Result describes what one application of the fill algorithm did.
type Result struct {
	Added   int
	Created bool
}

func (r Result) Changed() bool { return r.Added > 0 }

// Apply tops up every slot of the configured kind by at most MaxPerTick, never past
// its capacity. Slots of other kinds are left untouched. An empty inventory gets one
// new slot when CreateOnEmpty is set and the bound is positive.
func Apply(inv host.Inventory, opts Options) Result {
	var res Result
	ApplyTo(&res, inv, opts)
	return res
}

// ApplyTo is Apply with the running total kept in res. If a slot panics, res
// still holds what was written before it.
func ApplyTo(res *Result, inv host.Inventory, opts Options) {
	if inv == nil || opts.MaxPerTick <= 0 || opts.ItemKind == "" {
		return
	}
	slots := inv.Slots()
	if len(slots) == 0 {
		if !opts.CreateOnEmpty {
			return
		}
		amount := min(opts.MaxPerTick, inv.StackCap(opts.ItemKind))
		if amount <= 0 {
			return
		}
		if inv.Create(opts.ItemKind, amount) {
			res.Added += amount
			res.Created = true
		}
		return
	}
	for _, s := range slots {
		if s == nil || s.ItemKind() != opts.ItemKind {
			continue
		}
		amount, capacity := s.Amount(), s.Capacity()
		if amount >= capacity {
			continue
		}
		add := min(opts.MaxPerTick, capacity-amount)
		if add <= 0 {
			continue
		}
		s.SetAmount(amount + add)
		res.Added += add
	}
}
