package main

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"autorefill/internal/protocol"
)

// simHost is the simulated host's view of its own objects.
type simHost struct {
	mu      sync.Mutex
	item    string
	objects map[uint64][]protocol.SlotState
	owners  map[uint64]uint64
	fills   int
}

func newSimHost(item string) *simHost {
	return &simHost{
		item:    item,
		objects: map[uint64][]protocol.SlotState{},
		owners:  map[uint64]uint64{},
	}
}

// spawnAll builds one catcher and one tank per actor. Handles are actor*10+n.
func (h *simHost) spawnAll(actors []uint64, capacity int) []protocol.SpawnMsg {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []protocol.SpawnMsg
	for _, a := range actors {
		for i, kind := range []string{"catcher", "tank"} {
			handle := a*10 + uint64(i+1)
			slots := []protocol.SlotState{{Item: h.item, Amount: capacity, Capacity: capacity}}
			h.objects[handle] = slots
			h.owners[handle] = a
			out = append(out, protocol.SpawnMsg{
				Type:            protocol.TypeSpawn,
				ProtocolVersion: protocol.Version,
				Handle:          handle,
				Kind:            kind,
				Owner:           a,
				Category:        kind + "s",
				MaxSlots:        4,
				StackCaps:       map[string]int{h.item: capacity},
				Slots:           append([]protocol.SlotState(nil), slots...),
			})
		}
	}
	return out
}

// drain removes a random amount of the fill item from every object and returns the
// ITEMS updates to send.
func (h *simHost) drain(r *rand.Rand, max int) []protocol.ItemsMsg {
	h.mu.Lock()
	defer h.mu.Unlock()
	handles := make([]uint64, 0, len(h.objects))
	for hd := range h.objects {
		handles = append(handles, hd)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })

	var out []protocol.ItemsMsg
	for _, hd := range handles {
		slots := h.objects[hd]
		changed := false
		for i := range slots {
			if slots[i].Item != h.item || slots[i].Amount == 0 {
				continue
			}
			n := 1 + r.Intn(max)
			if n > slots[i].Amount {
				n = slots[i].Amount
			}
			slots[i].Amount -= n
			changed = true
		}
		if changed {
			out = append(out, protocol.ItemsMsg{
				Type:            protocol.TypeItems,
				ProtocolVersion: protocol.Version,
				Handle:          hd,
				Slots:           append([]protocol.SlotState(nil), slots...),
			})
		}
	}
	return out
}

// applyFill replaces an object's contents with the server's view.
func (h *simHost) applyFill(m protocol.FillMsg) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.objects[m.Handle]; !ok {
		return fmt.Errorf("FILL for unknown object %d", m.Handle)
	}
	h.objects[m.Handle] = append([]protocol.SlotState(nil), m.Slots...)
	h.fills++
	return nil
}

// total reports the fill item count held by all objects.
func (h *simHost) total() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, slots := range h.objects {
		for _, s := range slots {
			if s.Item == h.item {
				n += s.Amount
			}
		}
	}
	return n
}

func (h *simHost) fillCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fills
}
