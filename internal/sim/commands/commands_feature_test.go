package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/cucumber/godog"

	"autorefill/internal/sim/host"
	"autorefill/internal/sim/host/memhost"
	"autorefill/internal/sim/refill"
	"autorefill/internal/sim/sched"
	"autorefill/internal/sim/tuning"
)

// TestCommandFeatures executes the command scenarios via godog.
func TestCommandFeatures(t *testing.T) {
	suite := godog.TestSuite{
		Name:                "commands",
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:    "pretty",
			Paths:     []string{filepath.Join("features")},
			Strict:    true,
			TestingT:  t,
			Randomize: 0,
		},
	}
	if suite.Run() != 0 {
		t.Fatalf("non-zero godog status")
	}
}

// InitializeScenario wires step definitions for the command feature tests.
func InitializeScenario(ctx *godog.ScenarioContext) {
	state := &commandState{}
	ctx.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		state.reset()
		return ctx, nil
	})

	ctx.Step(`^the default preference is "(on|off)"$`, state.givenDefault)
	ctx.Step(`^a command cooldown of (\d+) seconds$`, state.givenCooldown)
	ctx.Step(`^at most (\d+) changes per minute$`, state.givenRateLimit)
	ctx.Step(`^actor "([^"]+)" with id (\d+) may use auto-refill$`, state.givenUser)
	ctx.Step(`^actor "([^"]+)" with id (\d+) exists$`, state.givenActor)
	ctx.Step(`^actor "([^"]+)" with id (\d+) is an admin$`, state.givenAdmin)
	ctx.Step(`^"([^"]+)" runs "([^"]*)"$`, state.run)
	ctx.Step(`^(\d+) seconds pass$`, state.advance)
	ctx.Step(`^the reply code is "([^"]+)"$`, state.replyCodeIs)
	ctx.Step(`^the reply asks to retry in (\d+) seconds$`, state.retryAfterIs)
	ctx.Step(`^"([^"]+)" has auto-refill "(on|off)"$`, state.preferenceIs)
	ctx.Step(`^(\d+) change records? (?:was|were) written$`, state.recordsWritten)
}

// commandState holds scenario state for the feature tests.
type commandState struct {
	cfg    tuning.Settings
	clock  *sched.Virtual
	world  *memhost.World
	sink   *recordingSink
	ids    map[string]host.ActorID
	svc    *Service
	engine *refill.Engine
	last   Reply
}

func (s *commandState) reset() {
	s.cfg = tuning.Defaults()
	s.clock = sched.NewVirtual(time.Unix(0, 0))
	s.world = memhost.New()
	s.sink = &recordingSink{}
	s.ids = map[string]host.ActorID{}
	s.svc = nil
	s.engine = nil
	s.last = Reply{}
}

// service builds the engine lazily so Given steps can adjust settings first.
func (s *commandState) service() (*Service, error) {
	if s.svc != nil {
		return s.svc, nil
	}
	e, err := refill.New(s.cfg, refill.Deps{Sched: s.clock, World: s.world, Auth: s.world})
	if err != nil {
		return nil, err
	}
	e.Start()
	svc, err := New(Deps{Engine: e, Auth: s.world, Directory: s.world, Changes: s.sink})
	if err != nil {
		return nil, err
	}
	s.engine = e
	s.svc = svc
	return svc, nil
}

func (s *commandState) givenDefault(v string) error {
	s.cfg.DefaultEnabled = v == "on"
	return nil
}

func (s *commandState) givenCooldown(secs int) error {
	s.cfg.CommandCooldownMs = secs * 1000
	return nil
}

func (s *commandState) givenRateLimit(n int) error {
	s.cfg.MaxCommandsPerMinute = n
	return nil
}

func (s *commandState) givenActor(name string, id int) error {
	s.ids[name] = host.ActorID(id)
	s.world.SetActor(host.ActorID(id), name)
	return nil
}

func (s *commandState) givenUser(name string, id int) error {
	_ = s.givenActor(name, id)
	s.world.Grant(host.ActorID(id), s.cfg.Permissions.Use)
	return nil
}

func (s *commandState) givenAdmin(name string, id int) error {
	_ = s.givenActor(name, id)
	s.world.Grant(host.ActorID(id), s.cfg.Permissions.Admin)
	return nil
}

func (s *commandState) run(name, line string) error {
	id, ok := s.ids[name]
	if !ok {
		return fmt.Errorf("unknown actor %q", name)
	}
	svc, err := s.service()
	if err != nil {
		return err
	}
	s.last = svc.DispatchLine(Caller{Actor: id, Name: name}, line)
	return nil
}

func (s *commandState) advance(secs int) error {
	s.clock.Advance(time.Duration(secs) * time.Second)
	return nil
}

func (s *commandState) replyCodeIs(code string) error {
	if s.last.Code != code {
		return fmt.Errorf("expected reply code %s, got %s (%s)", code, s.last.Code, s.last.Message)
	}
	return nil
}

func (s *commandState) retryAfterIs(secs int) error {
	if got := ceilSeconds(time.Duration(s.last.RetryAfterMs) * time.Millisecond); got != secs {
		return fmt.Errorf("expected retry in %ds, got %ds (%s)", secs, got, s.last.Message)
	}
	return nil
}

func (s *commandState) preferenceIs(name, want string) error {
	if _, err := s.service(); err != nil {
		return err
	}
	on, known := s.engine.Prefs().Lookup(s.ids[name])
	if !known {
		return fmt.Errorf("expected stored preference for %s", name)
	}
	if got := onOff(on); got != want {
		return fmt.Errorf("expected %s to be %s, got %s", name, want, got)
	}
	return nil
}

func (s *commandState) recordsWritten(n int) error {
	if len(s.sink.recs) != n {
		return fmt.Errorf("expected %d change records, got %d", n, len(s.sink.recs))
	}
	return nil
}
