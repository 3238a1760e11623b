// Package runner defines the lifecycle contract the engine exposes to
// whatever process embeds it.
package runner

import (
	"bytes"
	"context"
	"os"
	"time"

	"github.com/dimiro1/banner"
)

type State int

const (
	StateNew State = iota
	StateStarting
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Runner is the embeddable engine lifecycle: Run blocks until the
// context is cancelled, Stop drains in-flight speech before returning.
type Runner interface {
	Run(ctx context.Context) error
	Stop() error
	State() State
}

// Wait polls r until it reports StateStopped or the timeout elapses.
// It returns the last observed state.
func Wait(r Runner, timeout time.Duration) State {
	deadline := time.Now().Add(timeout)
	for {
		s := r.State()
		if s == StateStopped || time.Now().After(deadline) {
			return s
		}
		time.Sleep(10 * time.Millisecond)
	}
}

const EngineVersion = "dev"

func PrintBanner() {
	tpl := "{{ .Title \"KOTOBA\" \"\" 0 }}\nVersion: " + EngineVersion + "\n"
	banner.Init(os.Stdout, true, true, bytes.NewBufferString(tpl))
}
