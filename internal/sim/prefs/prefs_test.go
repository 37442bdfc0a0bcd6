package prefs

import (
	"errors"
	"testing"
	"time"

	"autorefill/internal/sim/host"
	"autorefill/internal/sim/sched"
)

type memBackend struct {
	data    map[string]bool
	loadErr error
	saveErr error
	saves   []map[string]bool
}

func (b *memBackend) Load() (map[string]bool, error) {
	if b.loadErr != nil {
		return nil, b.loadErr
	}
	return b.data, nil
}

func (b *memBackend) Save(m map[string]bool) error {
	if b.saveErr != nil {
		return b.saveErr
	}
	cp := make(map[string]bool, len(m))
	for k, v := range m {
		cp[k] = v
	}
	b.saves = append(b.saves, cp)
	b.data = cp
	return nil
}

func newStore(t *testing.T, b *memBackend, def bool) (*Store, *sched.Virtual) {
	t.Helper()
	v := sched.NewVirtual(time.Unix(0, 0))
	s := New(b, v, Options{Default: def, Debounce: 2 * time.Second}, nil)
	s.Load()
	return s, v
}

func TestStore_LazyDefaultMaterializesOnce(t *testing.T) {
	for _, def := range []bool{true, false} {
		b := &memBackend{}
		s, v := newStore(t, b, def)

		if got := s.IsEnabled(42); got != def {
			t.Fatalf("expected default %v, got %v", def, got)
		}
		if !s.Dirty() || !s.Pending() {
			t.Fatalf("materialization must mark dirty and arm a flush")
		}
		v.Advance(2 * time.Second)
		if len(b.saves) != 1 {
			t.Fatalf("expected 1 write, got %d", len(b.saves))
		}

		if got := s.IsEnabled(42); got != def {
			t.Fatalf("expected same value on second call, got %v", got)
		}
		if s.Dirty() || s.Pending() {
			t.Fatalf("second read must not re-materialize")
		}
	}
}

func TestStore_FoldMatchesCommandSequence(t *testing.T) {
	b := &memBackend{}
	s, _ := newStore(t, b, true)

	want := true
	ops := []string{"toggle", "disable", "toggle", "toggle", "enable", "toggle"}
	for _, op := range ops {
		switch op {
		case "enable":
			s.SetEnabled(9, true)
			want = true
		case "disable":
			s.SetEnabled(9, false)
			want = false
		case "toggle":
			s.Toggle(9)
			want = !want
		}
	}
	if got, _ := s.Lookup(9); got != want {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestStore_DebounceCollapsesWrites(t *testing.T) {
	b := &memBackend{}
	s, v := newStore(t, b, false)

	for i := 0; i < 10; i++ {
		s.SetEnabled(1, i%2 == 0)
		v.Advance(500 * time.Millisecond)
	}
	if len(b.saves) != 0 {
		t.Fatalf("expected no write while mutations keep arriving, got %d", len(b.saves))
	}
	v.Advance(2 * time.Second)
	if len(b.saves) != 1 {
		t.Fatalf("expected exactly one write, got %d", len(b.saves))
	}
	if b.saves[0]["1"] != false {
		t.Fatalf("expected final value false, got %v", b.saves[0]["1"])
	}
	if s.Dirty() || s.Pending() {
		t.Fatalf("flush must clear dirty and the timer")
	}
}

func TestStore_FlushNoopWhenClean(t *testing.T) {
	b := &memBackend{}
	s, _ := newStore(t, b, false)
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(b.saves) != 0 {
		t.Fatalf("expected no write, got %d", len(b.saves))
	}
}

func TestStore_LoadFailureResetsToEmpty(t *testing.T) {
	b := &memBackend{loadErr: errors.New("unexpected end of JSON input")}
	s, v := newStore(t, b, true)
	if s.Len() != 0 {
		t.Fatalf("expected empty store, got %d", s.Len())
	}
	b.loadErr = nil
	s.SetEnabled(3, false)
	v.Advance(2 * time.Second)
	if len(b.saves) != 1 || len(b.data) != 1 {
		t.Fatalf("expected corrupt copy overwritten, got %+v", b.data)
	}
}

func TestStore_LoadSkipsInvalidKeys(t *testing.T) {
	b := &memBackend{data: map[string]bool{"12": true, "abc": false, "0": true}}
	s, _ := newStore(t, b, false)
	if s.Len() != 1 {
		t.Fatalf("expected 1 valid entry, got %d", s.Len())
	}
	if v, ok := s.Lookup(12); !ok || !v {
		t.Fatalf("expected actor 12 enabled")
	}
}

func TestStore_NilLoadIsEmpty(t *testing.T) {
	b := &memBackend{data: nil}
	s, _ := newStore(t, b, false)
	if s.Len() != 0 {
		t.Fatalf("expected empty store")
	}
}

func TestStore_FailedFlushStaysDirtyAndRetries(t *testing.T) {
	b := &memBackend{saveErr: errors.New("disk full")}
	s, v := newStore(t, b, false)
	s.SetEnabled(1, true)
	v.Advance(2 * time.Second)
	if !s.Dirty() || !s.Pending() {
		t.Fatalf("failed flush must keep dirty and re-arm")
	}
	b.saveErr = nil
	v.Advance(2 * time.Second)
	if s.Dirty() || len(b.saves) != 1 {
		t.Fatalf("expected retry to succeed, dirty=%v saves=%d", s.Dirty(), len(b.saves))
	}
}

func TestStore_CloseWritesAndCancels(t *testing.T) {
	b := &memBackend{}
	s, v := newStore(t, b, false)
	s.SetEnabled(host.ActorID(5), true)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(b.saves) != 1 {
		t.Fatalf("expected final write on close, got %d", len(b.saves))
	}
	v.Advance(time.Minute)
	if len(b.saves) != 1 {
		t.Fatalf("cancelled timer must not write again, got %d", len(b.saves))
	}
}

func TestStore_ClearMarksDirty(t *testing.T) {
	b := &memBackend{data: map[string]bool{"1": true, "2": false}}
	s, v := newStore(t, b, false)
	s.Clear()
	v.Advance(2 * time.Second)
	if len(b.data) != 0 {
		t.Fatalf("expected cleared durable copy, got %+v", b.data)
	}
}
