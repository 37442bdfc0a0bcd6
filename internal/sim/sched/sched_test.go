package sched

import (
	"context"
	"testing"
	"time"
)

func TestVirtual_AfterFiresOnceAtDeadline(t *testing.T) {
	v := NewVirtual(time.Unix(0, 0))
	fired := 0
	v.After(2*time.Second, func() { fired++ })

	v.Advance(1999 * time.Millisecond)
	if fired != 0 {
		t.Fatalf("expected no fire before deadline, got %d", fired)
	}
	v.Advance(time.Millisecond)
	if fired != 1 {
		t.Fatalf("expected one fire at deadline, got %d", fired)
	}
	v.Advance(time.Hour)
	if fired != 1 {
		t.Fatalf("expected one-shot timer, got %d fires", fired)
	}
	if v.Pending() != 0 {
		t.Fatalf("expected no pending timers, got %d", v.Pending())
	}
}

func TestVirtual_EveryAndStop(t *testing.T) {
	v := NewVirtual(time.Unix(0, 0))
	var at []time.Duration
	start := v.Now()
	tm := v.Every(time.Second, func() { at = append(at, v.Now().Sub(start)) })

	v.Advance(3500 * time.Millisecond)
	if len(at) != 3 {
		t.Fatalf("expected 3 fires, got %d", len(at))
	}
	for i, d := range at {
		if d != time.Duration(i+1)*time.Second {
			t.Fatalf("fire %d at %s", i, d)
		}
	}
	tm.Stop()
	v.Advance(10 * time.Second)
	if len(at) != 3 {
		t.Fatalf("expected stopped timer to stay silent, got %d fires", len(at))
	}
}

func TestVirtual_CallbackCanRearm(t *testing.T) {
	v := NewVirtual(time.Unix(0, 0))
	var pending Timer
	fired := 0
	rearm := func() {
		StopTimer(pending)
		pending = v.After(time.Second, func() { fired++ })
	}
	rearm()
	v.Advance(500 * time.Millisecond)
	rearm()
	v.Advance(500 * time.Millisecond)
	rearm()
	v.Advance(999 * time.Millisecond)
	if fired != 0 {
		t.Fatalf("expected debounced timer not to fire yet, got %d", fired)
	}
	v.Advance(time.Millisecond)
	if fired != 1 {
		t.Fatalf("expected exactly one fire, got %d", fired)
	}
}

func TestLoop_DoRunsOnLoop(t *testing.T) {
	l := NewLoop(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	n := 0
	for i := 0; i < 10; i++ {
		if err := l.Do(ctx, func() { n++ }); err != nil {
			t.Fatalf("Do: %v", err)
		}
	}
	if n != 10 {
		t.Fatalf("expected 10, got %d", n)
	}

	l.Close()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := l.Do(context.Background(), func() {}); err != ErrLoopClosed {
		t.Fatalf("expected ErrLoopClosed, got %v", err)
	}
}

func TestLoop_StoppedTimerDoesNotRun(t *testing.T) {
	l := NewLoop(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = l.Run(ctx) }()

	fired := make(chan struct{}, 1)
	var tm Timer
	if err := l.Do(ctx, func() {
		tm = l.After(20*time.Millisecond, func() { fired <- struct{}{} })
		tm.Stop()
	}); err != nil {
		t.Fatalf("Do: %v", err)
	}
	select {
	case <-fired:
		t.Fatalf("stopped timer fired")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestLoop_EveryTicks(t *testing.T) {
	l := NewLoop(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = l.Run(ctx) }()

	ticks := make(chan struct{}, 16)
	tm := l.Every(5*time.Millisecond, func() {
		select {
		case ticks <- struct{}{}:
		default:
		}
	})
	defer tm.Stop()
	for i := 0; i < 3; i++ {
		select {
		case <-ticks:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for tick %d", i)
		}
	}
}
