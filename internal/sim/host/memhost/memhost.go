// Package memhost is an in-memory host world. Tests drive it directly and the bridge
// keeps one in sync with a remote host.
package memhost

import (
	"sort"
	"strconv"
	"strings"

	"autorefill/internal/sim/host"
)

type Item struct {
	Kind     string
	Count    int
	MaxCount int
}

func (it *Item) ItemKind() string { return it.Kind }
func (it *Item) Amount() int      { return it.Count }
func (it *Item) SetAmount(n int)  { it.Count = n }
func (it *Item) Capacity() int    { return it.MaxCount }

type Inventory struct {
	owner     *Entity
	Items     []*Item
	MaxSlots  int
	StackCaps map[string]int
}

func (inv *Inventory) Slots() []host.Slot {
	out := make([]host.Slot, 0, len(inv.Items))
	for _, it := range inv.Items {
		out = append(out, it)
	}
	return out
}

func (inv *Inventory) Create(itemKind string, amount int) bool {
	if amount <= 0 {
		return false
	}
	if inv.MaxSlots > 0 && len(inv.Items) >= inv.MaxSlots {
		return false
	}
	inv.Items = append(inv.Items, &Item{Kind: itemKind, Count: amount, MaxCount: inv.StackCap(itemKind)})
	return true
}

func (inv *Inventory) StackCap(itemKind string) int {
	return inv.StackCaps[itemKind]
}

func (inv *Inventory) MarkDirty() {
	if inv.owner == nil {
		return
	}
	inv.owner.DirtyMarks++
	if w := inv.owner.world; w != nil && w.OnDirty != nil {
		w.OnDirty(inv.owner)
	}
}

type Entity struct {
	world *World

	ID         host.Handle
	EntityKind host.Kind
	OwnerID    host.ActorID
	Cat        string
	Gone       bool
	Inv        *Inventory

	DirtyMarks int
}

func (e *Entity) Handle() host.Handle       { return e.ID }
func (e *Entity) Kind() host.Kind           { return e.EntityKind }
func (e *Entity) Owner() host.ActorID       { return e.OwnerID }
func (e *Entity) Category() string          { return e.Cat }
func (e *Entity) Destroyed() bool           { return e.Gone }
func (e *Entity) Inventory() host.Inventory { return e.Inv }

// Spec describes an object to spawn.
type Spec struct {
	Handle    host.Handle
	Kind      host.Kind
	Owner     host.ActorID
	Category  string
	MaxSlots  int
	StackCaps map[string]int
	Items     []Item
}

type World struct {
	entities map[host.Handle]*Entity
	actors   map[host.ActorID]string
	perms    map[host.ActorID]map[string]bool

	// OnDirty is called for every change notification.
	OnDirty func(e *Entity)
}

func New() *World {
	return &World{
		entities: map[host.Handle]*Entity{},
		actors:   map[host.ActorID]string{},
		perms:    map[host.ActorID]map[string]bool{},
	}
}

// Spawn registers an object, replacing any previous object with the same handle.
func (w *World) Spawn(s Spec) *Entity {
	e := &Entity{
		world:      w,
		ID:         s.Handle,
		EntityKind: s.Kind,
		OwnerID:    s.Owner,
		Cat:        s.Category,
	}
	inv := &Inventory{owner: e, MaxSlots: s.MaxSlots, StackCaps: map[string]int{}}
	for k, v := range s.StackCaps {
		inv.StackCaps[k] = v
	}
	for i := range s.Items {
		it := s.Items[i]
		inv.Items = append(inv.Items, &it)
	}
	e.Inv = inv
	w.entities[s.Handle] = e
	return e
}

// Destroy marks the object destroyed and forgets it.
func (w *World) Destroy(h host.Handle) *Entity {
	e := w.entities[h]
	if e == nil {
		return nil
	}
	e.Gone = true
	delete(w.entities, h)
	return e
}

func (w *World) Get(h host.Handle) *Entity { return w.entities[h] }

func (w *World) Entities() []host.Entity {
	handles := make([]host.Handle, 0, len(w.entities))
	for h := range w.entities {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	out := make([]host.Entity, 0, len(handles))
	for _, h := range handles {
		out = append(out, w.entities[h])
	}
	return out
}

func (w *World) SetActor(id host.ActorID, name string) {
	w.actors[id] = name
}

func (w *World) Grant(id host.ActorID, perm string) {
	m := w.perms[id]
	if m == nil {
		m = map[string]bool{}
		w.perms[id] = m
	}
	m[perm] = true
}

func (w *World) Revoke(id host.ActorID, perm string) {
	delete(w.perms[id], perm)
}

func (w *World) HasPermission(id host.ActorID, perm string) bool {
	return w.perms[id][perm]
}

// Resolve accepts a numeric id, an exact name, or a unique case-insensitive name prefix.
func (w *World) Resolve(ident string) (host.Actor, bool) {
	ident = strings.TrimSpace(ident)
	if ident == "" {
		return host.Actor{}, false
	}
	if n, err := strconv.ParseUint(ident, 10, 64); err == nil && n != 0 {
		id := host.ActorID(n)
		if name, ok := w.actors[id]; ok {
			return host.Actor{ID: id, Name: name}, true
		}
		// Offline actors still have a stable id even when the host never named them.
		return host.Actor{ID: id, Name: ident}, true
	}
	lower := strings.ToLower(ident)
	var (
		match host.Actor
		found int
	)
	for id, name := range w.actors {
		ln := strings.ToLower(name)
		if ln == lower {
			return host.Actor{ID: id, Name: name}, true
		}
		if strings.HasPrefix(ln, lower) {
			match = host.Actor{ID: id, Name: name}
			found++
		}
	}
	if found == 1 {
		return match, true
	}
	return host.Actor{}, false
}

func (w *World) Name(id host.ActorID) string {
	if name, ok := w.actors[id]; ok {
		return name
	}
	return strconv.FormatUint(uint64(id), 10)
}
