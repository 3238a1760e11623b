package runner

import (
	"context"
	"testing"
	"time"
)

type fakeRunner struct {
	state State
}

func (f *fakeRunner) Run(ctx context.Context) error { return nil }

func (f *fakeRunner) Stop() error {
	f.state = StateStopped
	return nil
}

func (f *fakeRunner) State() State { return f.state }

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateNew:      "new",
		StateStarting: "starting",
		StateRunning:  "running",
		StateDraining: "draining",
		StateStopped:  "stopped",
		State(99):     "unknown",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}

func TestWaitReturnsStoppedState(t *testing.T) {
	r := &fakeRunner{state: StateStopped}
	if s := Wait(r, time.Second); s != StateStopped {
		t.Fatalf("Wait returned %v, want stopped", s)
	}
}

func TestWaitTimesOut(t *testing.T) {
	r := &fakeRunner{state: StateDraining}
	start := time.Now()
	if s := Wait(r, 30*time.Millisecond); s != StateDraining {
		t.Fatalf("Wait returned %v, want draining", s)
	}
	if time.Since(start) > time.Second {
		t.Fatal("Wait blocked past its timeout")
	}
}
