package ws

import (
	"encoding/json"
	"fmt"

	"autorefill/internal/protocol"
	"autorefill/internal/sim/commands"
	"autorefill/internal/sim/host"
	"autorefill/internal/sim/host/memhost"
)

// decodeHostEvent parses a host event and returns the closure that applies it on the
// loop goroutine. Actors named by the event are remembered on sess.
func (s *Server) decodeHostEvent(sess *session, typ string, msg []byte) (func(), error) {
	switch typ {
	case protocol.TypeActor:
		var m protocol.ActorMsg
		if err := json.Unmarshal(msg, &m); err != nil || m.ActorID == 0 {
			return nil, fmt.Errorf("malformed ACTOR")
		}
		return func() { s.applyActor(sess, m) }, nil
	case protocol.TypePerm:
		var m protocol.PermMsg
		if err := json.Unmarshal(msg, &m); err != nil || m.ActorID == 0 || m.Perm == "" {
			return nil, fmt.Errorf("malformed PERM")
		}
		return func() {
			sess.see(host.ActorID(m.ActorID))
			s.applyPerm(m)
		}, nil
	case protocol.TypeSpawn:
		var m protocol.SpawnMsg
		if err := json.Unmarshal(msg, &m); err != nil || m.Handle == 0 {
			return nil, fmt.Errorf("malformed SPAWN")
		}
		return func() {
			sess.see(host.ActorID(m.Owner))
			s.applySpawn(m)
		}, nil
	case protocol.TypeDestroy:
		var m protocol.DestroyMsg
		if err := json.Unmarshal(msg, &m); err != nil || m.Handle == 0 {
			return nil, fmt.Errorf("malformed DESTROY")
		}
		return func() { s.applyDestroy(host.Handle(m.Handle)) }, nil
	case protocol.TypeItems:
		var m protocol.ItemsMsg
		if err := json.Unmarshal(msg, &m); err != nil || m.Handle == 0 {
			return nil, fmt.Errorf("malformed ITEMS")
		}
		return func() { s.applyItems(m) }, nil
	case protocol.TypeWipe:
		return s.applyWipe, nil
	default:
		return nil, fmt.Errorf("unsupported message type %q", typ)
	}
}

func (s *Server) applyActor(sess *session, m protocol.ActorMsg) {
	id := host.ActorID(m.ActorID)
	if m.Name != "" {
		s.world.SetActor(id, m.Name)
	}
	if m.Online {
		sess.see(id)
	} else {
		if sess != nil {
			delete(sess.actors, id)
		}
		s.cmds.EndSession(id)
	}
}

func (s *Server) applyPerm(m protocol.PermMsg) {
	id := host.ActorID(m.ActorID)
	if m.Granted {
		s.world.Grant(id, m.Perm)
		return
	}
	s.world.Revoke(id, m.Perm)
}

func (s *Server) applySpawn(m protocol.SpawnMsg) {
	spec := memhost.Spec{
		Handle:    host.Handle(m.Handle),
		Kind:      host.ParseKind(m.Kind),
		Owner:     host.ActorID(m.Owner),
		Category:  m.Category,
		MaxSlots:  m.MaxSlots,
		StackCaps: m.StackCaps,
	}
	for _, sl := range m.Slots {
		spec.Items = append(spec.Items, memhost.Item{Kind: sl.Item, Count: sl.Amount, MaxCount: sl.Capacity})
	}
	if prev := s.world.Get(spec.Handle); prev != nil {
		s.engine.OnDestroy(spec.Handle)
	}
	e := s.world.Spawn(spec)
	s.engine.OnSpawn(e)
}

func (s *Server) applyDestroy(h host.Handle) {
	s.world.Destroy(h)
	s.engine.OnDestroy(h)
}

func (s *Server) applyItems(m protocol.ItemsMsg) {
	e := s.world.Get(host.Handle(m.Handle))
	if e == nil {
		s.log.Printf("warn: ITEMS for unknown object %d", m.Handle)
		return
	}
	items := make([]*memhost.Item, 0, len(m.Slots))
	for _, sl := range m.Slots {
		items = append(items, &memhost.Item{Kind: sl.Item, Count: sl.Amount, MaxCount: sl.Capacity})
	}
	e.Inv.Items = items
}

// applyWipe drops the mirrored world, then lets the engine archive and clear
// preferences when configured to.
func (s *Server) applyWipe() {
	for _, e := range s.world.Entities() {
		h := e.Handle()
		s.world.Destroy(h)
		s.engine.OnDestroy(h)
	}
	cleared, err := s.engine.OnWipe()
	if err != nil {
		s.log.Printf("warn: wipe: %v", err)
		return
	}
	s.log.Printf("world wiped: preferences cleared=%v", cleared)
}

func (s *Server) runCommand(sess *session, m protocol.CmdMsg) commands.Reply {
	if m.Console && s.opts.Token == "" {
		return commands.Reply{Code: protocol.ErrNoPermission, Message: "Console commands need a bridge token."}
	}
	c := commands.Caller{Privileged: m.Console}
	if m.ActorID != 0 {
		c.Actor = host.ActorID(m.ActorID)
		c.Name = s.world.Name(c.Actor)
		sess.see(c.Actor)
	}
	return s.cmds.Dispatch(c, m.Args)
}

func resultFor(m protocol.CmdMsg, r commands.Reply) protocol.ResultMsg {
	out := protocol.ResultMsg{
		Type:            protocol.TypeResult,
		ProtocolVersion: protocol.Version,
		ReqID:           m.ReqID,
		ActorID:         m.ActorID,
		Code:            r.Code,
		Message:         r.Message,
		Enabled:         r.Enabled,
		RetryAfterMs:    r.RetryAfterMs,
	}
	for _, p := range r.Prefs {
		out.Prefs = append(out.Prefs, protocol.PrefEntry{
			ActorID: uint64(p.ActorID),
			Name:    p.Name,
			Enabled: p.Enabled,
			Default: p.Default,
		})
	}
	return out
}

func slotStates(inv *memhost.Inventory) []protocol.SlotState {
	out := []protocol.SlotState{}
	if inv == nil {
		return out
	}
	for _, it := range inv.Items {
		out = append(out, protocol.SlotState{Item: it.Kind, Amount: it.Count, Capacity: it.MaxCount})
	}
	return out
}
