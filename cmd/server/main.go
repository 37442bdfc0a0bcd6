package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"autorefill/internal/persistence/archive"
	persistlog "autorefill/internal/persistence/log"
	"autorefill/internal/persistence/prefdb"
	"autorefill/internal/sim/commands"
	"autorefill/internal/sim/host/memhost"
	"autorefill/internal/sim/prefs"
	"autorefill/internal/sim/refill"
	"autorefill/internal/sim/sched"
	"autorefill/internal/sim/tuning"
	"autorefill/internal/transport/ws"
)

func main() {
	addr := flag.String("addr", ":8080", "http listen address")
	configPath := flag.String("config", "./configs/settings.yaml", "settings.yaml path (regenerated when missing or malformed)")
	dataDir := flag.String("data", "./data", "runtime data directory")
	storeKind := flag.String("store", prefdb.KindJSON, "preference store: json|sqlite")
	bridgeToken := flag.String("bridge_token", "", "shared token hosts present in HELLO (env AR_BRIDGE_TOKEN)")
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	if strings.TrimSpace(*bridgeToken) == "" {
		*bridgeToken = strings.TrimSpace(os.Getenv("AR_BRIDGE_TOKEN"))
	}
	if *bridgeToken == "" {
		logger.Printf("warn: no bridge token configured; any host may attach and console commands are refused")
	}

	cfg, err := tuning.Load(*configPath)
	if err != nil {
		// Defaults are still usable.
		logger.Printf("warn: %v", err)
	}

	backend, err := prefdb.Open(*storeKind, *dataDir)
	if err != nil {
		logger.Fatalf("open %s store: %v", *storeKind, err)
	}

	mirror, err := buildR2MirrorRuntime(*dataDir, logger)
	if err != nil {
		logger.Fatalf("r2 mirror: %v", err)
	}

	changeLog := persistlog.NewChangeLogger(*dataDir)
	changeLog.OnSegmentClosed(mirror.Enqueue)
	sinks := commands.Sinks{changeLog}
	if db, ok := backend.(*prefdb.SQLite); ok {
		sinks = append(sinks, db)
	}

	loop := sched.NewLoop(4096)
	world := memhost.New()
	store := prefs.New(backend, loop, prefs.Options{}, logger)
	engine, err := refill.New(cfg, refill.Deps{
		Sched:  loop,
		World:  world,
		Auth:   world,
		Prefs:  store,
		Logger: logger,
		Archive: func(saved map[string]bool) (string, error) {
			p, err := archive.ArchiveWipe(*dataDir, saved, time.Now())
			if err == nil {
				mirror.EnqueueArchive(p)
			}
			return p, err
		},
	})
	if err != nil {
		logger.Fatalf("engine: %v", err)
	}
	cmds, err := commands.New(commands.Deps{
		Engine:       engine,
		Auth:         world,
		Directory:    world,
		LoadSettings: func() (tuning.Settings, error) { return tuning.Load(*configPath) },
		Changes:      sinks,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatalf("commands: %v", err)
	}
	bridge := ws.NewServer(ws.Deps{
		Loop:     loop,
		World:    world,
		Engine:   engine,
		Commands: cmds,
		Logger:   logger,
	}, ws.Options{Token: *bridgeToken})

	ctx, cancel := signalContext()
	defer cancel()

	loopDone := make(chan struct{})
	go func() {
		_ = loop.Run(ctx)
		close(loopDone)
	}()
	if err := loop.Do(ctx, engine.Start); err != nil {
		logger.Fatalf("start engine: %v", err)
	}
	s := engine.Settings()
	logger.Printf("auto-refill started: enabled=%v tick=%dms item=%s store=%s", s.Enabled, s.TickIntervalMs, s.FillItemKind, *storeKind)

	a := &app{
		loop:    loop,
		engine:  engine,
		cmds:    cmds,
		bridge:  bridge,
		backend: backend,
		mirror:  mirror,
		logger:  logger,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/bridge", bridge.Handler())
	a.routes(mux, envBool("AR_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()))

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Printf("http: %v", err)
		cancel()
	}

	<-loopDone
	// The loop has exited; nothing else touches engine state now.
	if err := engine.Stop(); err != nil {
		logger.Printf("warn: final preference flush: %v", err)
	}
	if err := changeLog.Close(); err != nil {
		logger.Printf("warn: close change log: %v", err)
	}
	if err := backend.Close(); err != nil {
		logger.Printf("warn: close store: %v", err)
	}
	mirror.Close()
	logger.Printf("stopped")
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
