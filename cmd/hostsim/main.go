package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"autorefill/internal/protocol"
)

func main() {
	var (
		url         = flag.String("url", "ws://localhost:8080/v1/bridge", "bridge ws url")
		token       = flag.String("token", os.Getenv("AR_BRIDGE_TOKEN"), "bridge token")
		name        = flag.String("name", "hostsim", "host name")
		actors      = flag.Int("actors", 3, "number of simulated actors")
		perm        = flag.String("perm", "autorefill.use", "permission granted to every actor")
		capacity    = flag.Int("capacity", 100, "fill item capacity per object")
		drainEvery  = flag.Duration("drain", 3*time.Second, "drain interval")
		drainMax    = flag.Int("drain_max", 25, "max items drained per object per interval")
		toggleAfter = flag.Duration("toggle_after", 20*time.Second, "send a toggle command for the first actor after this long (0 = never)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[hostsim] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// gorilla/websocket allows one concurrent writer.
	var wmu sync.Mutex
	send := func(v any) {
		wmu.Lock()
		defer wmu.Unlock()
		if err := conn.WriteJSON(v); err != nil {
			logger.Printf("warn: send: %v", err)
		}
	}

	hello := protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, HostName: *name}
	if *token != "" {
		hello.Auth = &protocol.HelloAuth{Token: *token}
	}
	send(hello)

	var welcome protocol.WelcomeMsg
	_, msg, err := conn.ReadMessage()
	if err != nil {
		logger.Fatalf("read WELCOME: %v", err)
	}
	if err := json.Unmarshal(msg, &welcome); err != nil || welcome.Type != protocol.TypeWelcome {
		logger.Fatalf("expected WELCOME, got %s", string(msg))
	}
	logger.Printf("WELCOME session=%s tick=%dms item=%s", welcome.SessionID, welcome.Settings.TickIntervalMs, welcome.Settings.FillItemKind)

	sim := newSimHost(welcome.Settings.FillItemKind)
	ids := make([]uint64, 0, *actors)
	for i := 1; i <= *actors; i++ {
		id := uint64(i)
		ids = append(ids, id)
		send(protocol.ActorMsg{Type: protocol.TypeActor, ProtocolVersion: protocol.Version, ActorID: id, Name: fmt.Sprintf("sim-%d", i), Online: true})
		send(protocol.PermMsg{Type: protocol.TypePerm, ProtocolVersion: protocol.Version, ActorID: id, Perm: *perm, Granted: true})
	}
	for _, sp := range sim.spawnAll(ids, *capacity) {
		send(sp)
	}
	logger.Printf("registered %d actors, %d objects", len(ids), 2*len(ids))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				continue
			}
			switch base.Type {
			case protocol.TypeFill:
				var m protocol.FillMsg
				if err := json.Unmarshal(msg, &m); err != nil {
					continue
				}
				if err := sim.applyFill(m); err != nil {
					logger.Printf("warn: %v", err)
				}
			case protocol.TypeResult:
				var m protocol.ResultMsg
				if err := json.Unmarshal(msg, &m); err != nil {
					continue
				}
				logger.Printf("RESULT req=%s code=%s %s", m.ReqID, m.Code, m.Message)
			case protocol.TypeError:
				var m protocol.ErrorMsg
				if err := json.Unmarshal(msg, &m); err != nil {
					continue
				}
				logger.Printf("ERROR code=%s ref=%s %s", m.Code, m.Ref, m.Message)
			}
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	drain := time.NewTicker(*drainEvery)
	defer drain.Stop()
	var toggle <-chan time.Time
	if *toggleAfter > 0 && len(ids) > 0 {
		toggle = time.After(*toggleAfter)
	}

	for {
		select {
		case <-stop:
			for _, id := range ids {
				send(protocol.ActorMsg{Type: protocol.TypeActor, ProtocolVersion: protocol.Version, ActorID: id, Online: false})
			}
			wmu.Lock()
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
			wmu.Unlock()
			return
		case <-done:
			logger.Printf("connection closed")
			return
		case <-drain.C:
			for _, m := range sim.drain(r, *drainMax) {
				send(m)
			}
			logger.Printf("drained; held=%d fills=%d", sim.total(), sim.fillCount())
		case <-toggle:
			send(protocol.CmdMsg{
				Type:            protocol.TypeCmd,
				ProtocolVersion: protocol.Version,
				ReqID:           uuid.NewString(),
				ActorID:         ids[0],
				Args:            []string{"toggle"},
			})
		}
	}
}
