package runner

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type fakeDrainer struct {
	delay  time.Duration
	called atomic.Bool
}

func (d *fakeDrainer) Drain() error {
	d.called.Store(true)
	time.Sleep(d.delay)
	return nil
}

func waitForState(t *testing.T, r *LifecycleRunner, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %d, at %d", want, r.State())
}

func TestLifecycleRunAndStop(t *testing.T) {
	var started, stopped atomic.Bool
	drainer := &fakeDrainer{}
	r := NewLifecycleRunner(drainer, Hooks{
		OnStart: func() { started.Store(true) },
		OnStop:  func() { stopped.Store(true) },
	}, time.Second)

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()
	waitForState(t, r, StateRunning)
	if !started.Load() {
		t.Fatalf("OnStart must fire before running")
	}

	if err := r.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if !drainer.called.Load() {
		t.Fatalf("drainer must run on stop")
	}
	if !stopped.Load() {
		t.Fatalf("OnStop must fire after draining")
	}
	if r.State() != StateStopped {
		t.Fatalf("expected stopped, got %d", r.State())
	}
}

func TestLifecycleDrainTimeout(t *testing.T) {
	drainer := &fakeDrainer{delay: time.Second}
	r := NewLifecycleRunner(drainer, Hooks{}, 20*time.Millisecond)

	go func() { _ = r.Run(context.Background()) }()
	waitForState(t, r, StateRunning)

	if err := r.Stop(); err == nil {
		t.Fatalf("expected drain timeout error")
	}
}

func TestLifecycleSecondRunRejected(t *testing.T) {
	r := NewLifecycleRunner(nil, Hooks{}, time.Second)
	go func() { _ = r.Run(context.Background()) }()
	waitForState(t, r, StateRunning)
	defer r.Stop()

	if err := r.Run(context.Background()); err == nil {
		t.Fatalf("expected second run to be rejected")
	}
}

func TestLifecycleContextCancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewLifecycleRunner(&fakeDrainer{}, Hooks{}, time.Second)
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	waitForState(t, r, StateRunning)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if r.State() != StateStopped {
		t.Fatalf("expected stopped after cancel, got %d", r.State())
	}
}
