// Package runner owns process lifecycle: startup banner, run states, and
// drain-on-shutdown semantics for the gateway process.
package runner

import (
	"bytes"
	"context"
	"os"

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

type Runner interface {
	Run(ctx context.Context) error
	Stop() error
	State() State
}

// Hooks run at the edges of the process lifetime. OnStart fires once the
// runner is live; OnStop fires after draining finishes.
type Hooks struct {
	OnStart func()
	OnStop  func()
}

// Drainer finishes in-flight calls before shutdown completes.
type Drainer interface {
	Drain() error
}

const Version = "dev"

func PrintBanner() {
	tpl := "{{ .Title \"VOICEGATE\" \"\" 0 }}\nVersion: " + Version + "\n"
	banner.Init(os.Stdout, true, true, bytes.NewBufferString(tpl))
}
