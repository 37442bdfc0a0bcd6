package ws

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"autorefill/internal/protocol"
	"autorefill/internal/sim/commands"
	"autorefill/internal/sim/host"
	"autorefill/internal/sim/host/memhost"
	"autorefill/internal/sim/refill"
	"autorefill/internal/sim/sched"
)

type Options struct {
	// Token is the shared secret a host presents in HELLO. Empty disables the check
	// and refuses console commands.
	Token string

	InboundPerSec float64
	InboundBurst  int
	OutQueue      int
}

func (o *Options) normalize() {
	if o.InboundPerSec <= 0 {
		o.InboundPerSec = 200
	}
	if o.InboundBurst <= 0 {
		o.InboundBurst = 400
	}
	if o.OutQueue <= 0 {
		o.OutQueue = 256
	}
}

type Deps struct {
	Loop     *sched.Loop
	World    *memhost.World
	Engine   *refill.Engine
	Commands *commands.Service
	Logger   *log.Logger
}

type Stats struct {
	Sessions     int64  `json:"sessions"`
	FillsSent    uint64 `json:"fills_sent"`
	FillsDropped uint64 `json:"fills_dropped"`
	Throttled    uint64 `json:"throttled"`
	BadMessages  uint64 `json:"bad_messages"`
}

// Server bridges a remote host onto the in-memory world mirror. Decoded host events
// are applied on the loop goroutine; FILL messages are fanned out from there.
type Server struct {
	loop   *sched.Loop
	world  *memhost.World
	engine *refill.Engine
	cmds   *commands.Service
	log    *log.Logger
	opts   Options

	upgrader websocket.Upgrader

	// loop-owned
	sessions map[string]*session

	connected    atomic.Int64
	fillsSent    atomic.Uint64
	fillsDropped atomic.Uint64
	throttled    atomic.Uint64
	badMessages  atomic.Uint64
}

type session struct {
	id   string
	host string
	out  chan []byte

	// actors this host has reported or commanded for; loop-owned.
	actors map[host.ActorID]struct{}
}

func (sess *session) see(id host.ActorID) {
	if sess == nil || id == host.Unowned {
		return
	}
	sess.actors[id] = struct{}{}
}

func NewServer(deps Deps, opts Options) *Server {
	opts.normalize()
	logger := deps.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	s := &Server{
		loop:     deps.Loop,
		world:    deps.World,
		engine:   deps.Engine,
		cmds:     deps.Commands,
		log:      logger,
		opts:     opts,
		sessions: map[string]*session{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	deps.World.OnDirty = s.onDirty
	return s
}

func (s *Server) Stats() Stats {
	return Stats{
		Sessions:     s.connected.Load(),
		FillsSent:    s.fillsSent.Load(),
		FillsDropped: s.fillsDropped.Load(),
		Throttled:    s.throttled.Load(),
		BadMessages:  s.badMessages.Load(),
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess := s.handshake(conn)
		if sess == nil {
			return
		}
		s.connected.Add(1)
		defer s.connected.Add(-1)
		s.log.Printf("host %q attached session=%s", sess.host, sess.id)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-sess.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		lim := rate.NewLimiter(rate.Limit(s.opts.InboundPerSec), s.opts.InboundBurst)

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			if !s.handle(ctx, sess, lim, msg) {
				cancel()
				break
			}
		}

		// Cleanup.
		_ = s.loop.Do(context.Background(), func() { s.detach(sess) })
		s.log.Printf("host %q detached session=%s", sess.host, sess.id)
	}
}

func (s *Server) handshake(conn *websocket.Conn) *session {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		reject(conn, protocol.ErrProtoBadRequest, "expected HELLO")
		return nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		reject(conn, protocol.ErrProtoBadRequest, "malformed HELLO")
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		reject(conn, protocol.ErrProtoBadVersion, "bad protocol_version")
		return nil
	}
	token := ""
	if hello.Auth != nil {
		token = strings.TrimSpace(hello.Auth.Token)
	}
	if s.opts.Token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.Token)) != 1 {
		reject(conn, protocol.ErrProtoBadToken, "bad token")
		return nil
	}
	if hello.HostName == "" {
		hello.HostName = "host"
	}

	sess := &session{
		id:     uuid.NewString(),
		host:   hello.HostName,
		out:    make(chan []byte, s.opts.OutQueue),
		actors: map[host.ActorID]struct{}{},
	}
	var welcome protocol.WelcomeMsg
	err = s.loop.Do(context.Background(), func() {
		s.sessions[sess.id] = sess
		cfg := s.engine.Settings()
		welcome = protocol.WelcomeMsg{
			Type:            protocol.TypeWelcome,
			ProtocolVersion: protocol.Version,
			SessionID:       sess.id,
			Settings: protocol.WelcomeSettings{
				TickIntervalMs: cfg.TickIntervalMs,
				FillItemKind:   cfg.FillItemKind,
				MaxFillPerTick: cfg.MaxFillPerTick,
			},
		}
	})
	if err != nil {
		reject(conn, protocol.ErrInternal, "server shutting down")
		return nil
	}
	if err := writeJSON(conn, welcome); err != nil {
		_ = s.loop.Do(context.Background(), func() { delete(s.sessions, sess.id) })
		return nil
	}
	return sess
}

// handle processes one inbound frame. It returns false when the connection should
// be torn down.
func (s *Server) handle(ctx context.Context, sess *session, lim *rate.Limiter, msg []byte) bool {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		s.badMessages.Add(1)
		s.sendCtx(ctx, sess, protocol.NewError(protocol.ErrProtoBadRequest, "malformed message", ""))
		return true
	}
	if base.ProtocolVersion != "" && base.ProtocolVersion != protocol.Version {
		s.badMessages.Add(1)
		s.sendCtx(ctx, sess, protocol.NewError(protocol.ErrProtoBadVersion, "bad protocol_version", base.Type))
		return true
	}

	if base.Type == protocol.TypeCmd {
		var m protocol.CmdMsg
		if err := json.Unmarshal(msg, &m); err != nil || m.ReqID == "" {
			s.badMessages.Add(1)
			s.sendCtx(ctx, sess, protocol.NewError(protocol.ErrProtoBadRequest, "malformed CMD", base.Type))
			return true
		}
		// Commands are answered even when throttled so the caller always gets a reply.
		if !lim.Allow() {
			s.throttled.Add(1)
			s.sendCtx(ctx, sess, resultFor(m, commands.Reply{Code: protocol.ErrProtoThrottled, Message: "Server busy, try again."}))
			return true
		}
		var reply commands.Reply
		err := s.loop.Do(ctx, func() { reply = s.runCommand(sess, m) })
		if err != nil {
			reply = commands.Reply{Code: protocol.ErrInternal, Message: "Server shutting down."}
		}
		s.sendCtx(ctx, sess, resultFor(m, reply))
		return err == nil
	}

	apply, err := s.decodeHostEvent(sess, base.Type, msg)
	if err != nil {
		s.badMessages.Add(1)
		s.sendCtx(ctx, sess, protocol.NewError(protocol.ErrProtoBadRequest, err.Error(), base.Type))
		return true
	}
	// State updates are never dropped; the mirror would drift. Throttle by waiting.
	if err := lim.Wait(ctx); err != nil {
		return false
	}
	return s.loop.Do(ctx, apply) == nil
}

// detach forgets the session and ends the guard state of every actor it
// reported, unless another attached host still reports that actor.
func (s *Server) detach(sess *session) {
	delete(s.sessions, sess.id)
	for id := range sess.actors {
		if !s.actorAttached(id) {
			s.cmds.EndSession(id)
		}
	}
}

func (s *Server) actorAttached(id host.ActorID) bool {
	for _, other := range s.sessions {
		if _, ok := other.actors[id]; ok {
			return true
		}
	}
	return false
}

// onDirty runs on the loop for every change notification and pushes the object's
// new contents to every attached host.
func (s *Server) onDirty(e *memhost.Entity) {
	if len(s.sessions) == 0 {
		return
	}
	b, err := json.Marshal(protocol.FillMsg{
		Type:            protocol.TypeFill,
		ProtocolVersion: protocol.Version,
		Handle:          uint64(e.ID),
		Slots:           slotStates(e.Inv),
	})
	if err != nil {
		return
	}
	for _, sess := range s.sessions {
		select {
		case sess.out <- b:
			s.fillsSent.Add(1)
		default:
			s.fillsDropped.Add(1)
		}
	}
}

// sendCtx blocks until the frame is queued or the connection goes away.
func (s *Server) sendCtx(ctx context.Context, sess *session, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case sess.out <- b:
	case <-ctx.Done():
	}
}

func reject(conn *websocket.Conn, code, msg string) {
	_ = writeJSON(conn, protocol.NewError(code, msg, protocol.TypeHello))
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, msg), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
