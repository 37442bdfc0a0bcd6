package tracking

import (
	"sort"

	"autorefill/internal/sim/host"
)

// Tracked is a cached object together with the inventory adapter resolved for its
// kind when it entered the cache.
type Tracked struct {
	Entity    host.Entity
	Kind      host.Kind
	Inventory host.Inventory
}

func (t *Tracked) Handle() host.Handle { return t.Entity.Handle() }

// Cache is the live set of maintained objects.
type Cache struct {
	byHandle map[host.Handle]*Tracked
}

func New() *Cache {
	return &Cache{byHandle: map[host.Handle]*Tracked{}}
}

// Resolve maps an entity to its tracked form. Objects of unknown kind, or without an
// inventory, are not maintainable.
func Resolve(e host.Entity) (*Tracked, bool) {
	if e == nil {
		return nil, false
	}
	switch e.Kind() {
	case host.KindCatcher, host.KindTank:
	default:
		return nil, false
	}
	inv := e.Inventory()
	if inv == nil {
		return nil, false
	}
	return &Tracked{Entity: e, Kind: e.Kind(), Inventory: inv}, true
}

// Rebuild clears the cache and repopulates it from a full enumeration.
func (c *Cache) Rebuild(all []host.Entity) {
	clear(c.byHandle)
	for _, e := range all {
		if e == nil || e.Destroyed() {
			continue
		}
		c.Add(e)
	}
}

// Add is idempotent; re-adding a handle refreshes its adapter.
func (c *Cache) Add(e host.Entity) bool {
	t, ok := Resolve(e)
	if !ok {
		return false
	}
	c.byHandle[t.Handle()] = t
	return true
}

func (c *Cache) Remove(h host.Handle) {
	delete(c.byHandle, h)
}

func (c *Cache) Contains(h host.Handle) bool {
	_, ok := c.byHandle[h]
	return ok
}

func (c *Cache) Len() int { return len(c.byHandle) }

// Snapshot returns a stable copy safe to iterate while the cache is mutated.
func (c *Cache) Snapshot() []*Tracked {
	out := make([]*Tracked, 0, len(c.byHandle))
	for _, t := range c.byHandle {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle() < out[j].Handle() })
	return out
}
