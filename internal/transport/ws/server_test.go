package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"autorefill/internal/protocol"
	"autorefill/internal/sim/commands"
	"autorefill/internal/sim/host"
	"autorefill/internal/sim/host/memhost"
	"autorefill/internal/sim/refill"
	"autorefill/internal/sim/sched"
	"autorefill/internal/sim/tuning"
)

type bridgeFixture struct {
	loop   *sched.Loop
	world  *memhost.World
	engine *refill.Engine
	srv    *Server
	http   *httptest.Server
}

func newBridge(t *testing.T, opts Options) *bridgeFixture {
	t.Helper()
	loop := sched.NewLoop(64)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = loop.Run(ctx) }()
	t.Cleanup(cancel)

	cfg := tuning.Defaults()
	cfg.TickIntervalMs = 60_000
	world := memhost.New()
	engine, err := refill.New(cfg, refill.Deps{Sched: loop, World: world, Auth: world})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	cmds, err := commands.New(commands.Deps{Engine: engine, Auth: world, Directory: world})
	if err != nil {
		t.Fatalf("commands: %v", err)
	}
	if err := loop.Do(ctx, engine.Start); err != nil {
		t.Fatalf("start: %v", err)
	}
	srv := NewServer(Deps{Loop: loop, World: world, Engine: engine, Commands: cmds}, opts)
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)
	return &bridgeFixture{loop: loop, world: world, engine: engine, srv: srv, http: hs}
}

func (f *bridgeFixture) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.http.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	hello := protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, HostName: "test-host"}
	if token != "" {
		hello.Auth = &protocol.HelloAuth{Token: token}
	}
	send(t, conn, hello)
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func recv(t *testing.T, conn *websocket.Conn) (protocol.BaseMessage, []byte) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	base, err := protocol.DecodeBase(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return base, b
}

// sync waits for every previously posted event to be applied.
func (f *bridgeFixture) sync(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	send(t, conn, protocol.CmdMsg{Type: protocol.TypeCmd, ProtocolVersion: protocol.Version, ReqID: "sync", Console: true, Args: []string{"help"}})
	for {
		base, b := recv(t, conn)
		if base.Type != protocol.TypeResult {
			continue
		}
		var res protocol.ResultMsg
		_ = json.Unmarshal(b, &res)
		if res.ReqID == "sync" {
			return
		}
	}
}

func TestServer_RejectsBadToken(t *testing.T) {
	f := newBridge(t, Options{Token: "secret"})
	conn := f.dial(t, "wrong")
	base, b := recv(t, conn)
	if base.Type != protocol.TypeError {
		t.Fatalf("expected ERROR, got %s", base.Type)
	}
	var e protocol.ErrorMsg
	_ = json.Unmarshal(b, &e)
	if e.Code != protocol.ErrProtoBadToken {
		t.Fatalf("expected %s, got %s", protocol.ErrProtoBadToken, e.Code)
	}
}

func TestServer_HandshakeAndFill(t *testing.T) {
	f := newBridge(t, Options{Token: "secret"})
	conn := f.dial(t, "secret")
	base, b := recv(t, conn)
	if base.Type != protocol.TypeWelcome {
		t.Fatalf("expected WELCOME, got %s", base.Type)
	}
	var w protocol.WelcomeMsg
	_ = json.Unmarshal(b, &w)
	if w.SessionID == "" || w.Settings.FillItemKind != "water" {
		t.Fatalf("unexpected welcome: %+v", w)
	}

	v := protocol.Version
	send(t, conn, protocol.ActorMsg{Type: protocol.TypeActor, ProtocolVersion: v, ActorID: 7, Name: "Ann", Online: true})
	send(t, conn, protocol.PermMsg{Type: protocol.TypePerm, ProtocolVersion: v, ActorID: 7, Perm: "autorefill.use", Granted: true})
	send(t, conn, protocol.SpawnMsg{Type: protocol.TypeSpawn, ProtocolVersion: v, Handle: 10, Kind: "catcher", Owner: 7,
		Category: "water.catcher.small", Slots: []protocol.SlotState{{Item: "water", Amount: 95, Capacity: 100}}})
	f.sync(t, conn)

	if err := f.loop.Do(context.Background(), f.engine.Tick); err != nil {
		t.Fatalf("tick: %v", err)
	}
	base, b = recv(t, conn)
	if base.Type != protocol.TypeFill {
		t.Fatalf("expected FILL, got %s", base.Type)
	}
	var fill protocol.FillMsg
	_ = json.Unmarshal(b, &fill)
	if fill.Handle != 10 || len(fill.Slots) != 1 || fill.Slots[0].Amount != 100 {
		t.Fatalf("unexpected fill: %+v", fill)
	}
	if f.srv.Stats().FillsSent != 1 {
		t.Fatalf("expected one fill sent, got %+v", f.srv.Stats())
	}
}

func TestServer_CommandRoundTrip(t *testing.T) {
	f := newBridge(t, Options{Token: "secret"})
	conn := f.dial(t, "secret")
	recv(t, conn)

	v := protocol.Version
	send(t, conn, protocol.ActorMsg{Type: protocol.TypeActor, ProtocolVersion: v, ActorID: 7, Name: "Ann", Online: true})
	send(t, conn, protocol.PermMsg{Type: protocol.TypePerm, ProtocolVersion: v, ActorID: 7, Perm: "autorefill.use", Granted: true})
	send(t, conn, protocol.CmdMsg{Type: protocol.TypeCmd, ProtocolVersion: v, ReqID: "r1", ActorID: 7, Args: []string{"off"}})
	base, b := recv(t, conn)
	if base.Type != protocol.TypeResult {
		t.Fatalf("expected RESULT, got %s", base.Type)
	}
	var res protocol.ResultMsg
	_ = json.Unmarshal(b, &res)
	if res.ReqID != "r1" || res.Code != protocol.CodeOK || res.Enabled == nil || *res.Enabled {
		t.Fatalf("unexpected result: %+v", res)
	}

	send(t, conn, protocol.CmdMsg{Type: protocol.TypeCmd, ProtocolVersion: v, ReqID: "r2", Console: true, Args: []string{"query", "Ann"}})
	_, b = recv(t, conn)
	_ = json.Unmarshal(b, &res)
	if res.ReqID != "r2" || len(res.Prefs) != 1 || res.Prefs[0].Name != "Ann" || res.Prefs[0].Enabled {
		t.Fatalf("unexpected query result: %+v", res)
	}
}

func TestServer_BadMessagesGetErrors(t *testing.T) {
	f := newBridge(t, Options{})
	conn := f.dial(t, "")
	recv(t, conn)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{")); err != nil {
		t.Fatalf("write: %v", err)
	}
	base, _ := recv(t, conn)
	if base.Type != protocol.TypeError {
		t.Fatalf("expected ERROR for malformed frame, got %s", base.Type)
	}
	send(t, conn, map[string]any{"type": "TELEPORT", "protocol_version": protocol.Version})
	base, b := recv(t, conn)
	var e protocol.ErrorMsg
	_ = json.Unmarshal(b, &e)
	if base.Type != protocol.TypeError || e.Ref != "TELEPORT" {
		t.Fatalf("expected ERROR for unknown type, got %+v", e)
	}
	if f.srv.Stats().BadMessages != 2 {
		t.Fatalf("expected two bad messages counted, got %+v", f.srv.Stats())
	}
}

func TestServer_ThrottledCommandStillAnswered(t *testing.T) {
	f := newBridge(t, Options{Token: "secret", InboundPerSec: 0.001, InboundBurst: 1})
	conn := f.dial(t, "secret")
	recv(t, conn)

	v := protocol.Version
	send(t, conn, protocol.CmdMsg{Type: protocol.TypeCmd, ProtocolVersion: v, ReqID: "a", Console: true, Args: []string{"help"}})
	send(t, conn, protocol.CmdMsg{Type: protocol.TypeCmd, ProtocolVersion: v, ReqID: "b", Console: true, Args: []string{"help"}})
	codes := map[string]string{}
	for i := 0; i < 2; i++ {
		_, b := recv(t, conn)
		var res protocol.ResultMsg
		_ = json.Unmarshal(b, &res)
		codes[res.ReqID] = res.Code
	}
	if codes["a"] != protocol.CodeOK || codes["b"] != protocol.ErrProtoThrottled {
		t.Fatalf("unexpected codes: %v", codes)
	}
}

func TestApplyHostEvents(t *testing.T) {
	f := newBridge(t, Options{})
	v := protocol.Version
	do := func(typ string, m any) {
		t.Helper()
		b, _ := json.Marshal(m)
		apply, err := f.srv.decodeHostEvent(nil, typ, b)
		if err != nil {
			t.Fatalf("decode %s: %v", typ, err)
		}
		if err := f.loop.Do(context.Background(), apply); err != nil {
			t.Fatalf("apply %s: %v", typ, err)
		}
	}

	do(protocol.TypeSpawn, protocol.SpawnMsg{Type: protocol.TypeSpawn, ProtocolVersion: v, Handle: 1, Kind: "tank", Owner: 7,
		Category: "water.barrel", Slots: []protocol.SlotState{{Item: "water", Amount: 1, Capacity: 10}}})
	do(protocol.TypeItems, protocol.ItemsMsg{Type: protocol.TypeItems, ProtocolVersion: v, Handle: 1,
		Slots: []protocol.SlotState{{Item: "water", Amount: 4, Capacity: 10}}})
	var tracked int
	_ = f.loop.Do(context.Background(), func() { tracked = f.engine.Cache().Len() })
	if tracked != 1 {
		t.Fatalf("expected spawned tank tracked, got %d", tracked)
	}
	if got := f.world.Get(1).Inv.Items[0].Count; got != 4 {
		t.Fatalf("expected ITEMS applied, got %d", got)
	}

	do(protocol.TypeDestroy, protocol.DestroyMsg{Type: protocol.TypeDestroy, ProtocolVersion: v, Handle: 1})
	_ = f.loop.Do(context.Background(), func() { tracked = f.engine.Cache().Len() })
	if tracked != 0 || f.world.Get(1) != nil {
		t.Fatalf("expected object gone after DESTROY")
	}

	do(protocol.TypeSpawn, protocol.SpawnMsg{Type: protocol.TypeSpawn, ProtocolVersion: v, Handle: 2, Kind: "catcher", Owner: 7})
	do(protocol.TypeWipe, protocol.WipeMsg{Type: protocol.TypeWipe, ProtocolVersion: v})
	_ = f.loop.Do(context.Background(), func() { tracked = f.engine.Cache().Len() })
	if tracked != 0 || len(f.world.Entities()) != 0 {
		t.Fatalf("expected empty mirror after WIPE")
	}

	do(protocol.TypePerm, protocol.PermMsg{Type: protocol.TypePerm, ProtocolVersion: v, ActorID: 7, Perm: "x", Granted: true})
	if !f.world.HasPermission(host.ActorID(7), "x") {
		t.Fatalf("expected permission granted")
	}
	do(protocol.TypePerm, protocol.PermMsg{Type: protocol.TypePerm, ProtocolVersion: v, ActorID: 7, Perm: "x"})
	if f.world.HasPermission(host.ActorID(7), "x") {
		t.Fatalf("expected permission revoked")
	}

	if _, err := f.srv.decodeHostEvent(nil, protocol.TypeSpawn, []byte(`{"type":"SPAWN"}`)); err == nil {
		t.Fatalf("expected SPAWN without handle rejected")
	}
}

func TestServer_ConsoleRefusedWithoutToken(t *testing.T) {
	f := newBridge(t, Options{})
	conn := f.dial(t, "")
	recv(t, conn)

	send(t, conn, protocol.CmdMsg{Type: protocol.TypeCmd, ProtocolVersion: protocol.Version, ReqID: "c1", Console: true, Args: []string{"set", "7", "off"}})
	base, b := recv(t, conn)
	var res protocol.ResultMsg
	_ = json.Unmarshal(b, &res)
	if base.Type != protocol.TypeResult || res.ReqID != "c1" || res.Code != protocol.ErrNoPermission {
		t.Fatalf("expected %s for a console command, got %+v", protocol.ErrNoPermission, res)
	}
	var known bool
	_ = f.loop.Do(context.Background(), func() { _, known = f.engine.Prefs().Lookup(7) })
	if known {
		t.Fatalf("expected no preference written")
	}
}

func TestServer_DetachEndsActorGuards(t *testing.T) {
	f := newBridge(t, Options{Token: "secret"})
	v := protocol.Version

	stay := f.dial(t, "secret")
	recv(t, stay)
	send(t, stay, protocol.ActorMsg{Type: protocol.TypeActor, ProtocolVersion: v, ActorID: 8, Name: "Bo", Online: true})
	f.sync(t, stay)

	conn := f.dial(t, "secret")
	recv(t, conn)
	for _, id := range []uint64{7, 8} {
		send(t, conn, protocol.ActorMsg{Type: protocol.TypeActor, ProtocolVersion: v, ActorID: id, Online: true})
		send(t, conn, protocol.PermMsg{Type: protocol.TypePerm, ProtocolVersion: v, ActorID: id, Perm: "autorefill.use", Granted: true})
		send(t, conn, protocol.CmdMsg{Type: protocol.TypeCmd, ProtocolVersion: v, ReqID: "off", ActorID: id, Args: []string{"off"}})
	}
	f.sync(t, conn)

	guards := func() (limited, cooling int) {
		_ = f.loop.Do(context.Background(), func() {
			limited = f.engine.Limiter().Len()
			cooling = f.engine.Cooldown().Len()
		})
		return limited, cooling
	}
	if l, c := guards(); l != 2 || c != 2 {
		t.Fatalf("expected guard state for both actors, got %d/%d", l, c)
	}

	_ = conn.Close()
	deadline := time.Now().Add(5 * time.Second)
	for {
		l, c := guards()
		if l == 1 && c == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected only the still-attached actor to keep guard state, got %d/%d", l, c)
		}
		time.Sleep(10 * time.Millisecond)
	}
	var kept int
	_ = f.loop.Do(context.Background(), func() { kept = f.engine.Limiter().Count(8) })
	if kept != 1 {
		t.Fatalf("expected actor 8 guard kept while another host reports it, got %d", kept)
	}
}
