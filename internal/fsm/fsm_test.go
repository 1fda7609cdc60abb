package fsm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/rs/zerolog"

	"constellation/pkg/wire"
)

func testLogger() zerolog.Logger { return zerolog.Nop() }

func waitState(t *testing.T, f *FSM, want State) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if f.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", f.State(), want)
}

func TestFSM_HappyPath(t *testing.T) {
	defer leaktest.Check(t)()

	runningStarted := make(chan struct{})
	f := New(Actions{
		Running: func(ctx context.Context, stop <-chan struct{}) error {
			close(runningStarted)
			<-stop
			return nil
		},
	}, testLogger())

	if err := f.Initialize(wire.NewConfiguration()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	waitState(t, f, StateInit)

	if err := f.Launch(); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	waitState(t, f, StateOrbit)

	if err := f.Start("run-7"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-runningStarted
	waitState(t, f, StateRun)
	if got := f.RunID(); got != "run-7" {
		t.Fatalf("RunID = %q, want run-7", got)
	}

	if err := f.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	waitState(t, f, StateOrbit)

	if err := f.Land(); err != nil {
		t.Fatalf("Land: %v", err)
	}
	waitState(t, f, StateInit)
}

func TestFSM_IllegalTransition(t *testing.T) {
	defer leaktest.Check(t)()

	f := New(Actions{}, testLogger())
	err := f.Launch()
	var invalid *InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("Launch from NEW: got %v, want InvalidTransitionError", err)
	}
	if invalid.State != StateNew {
		t.Fatalf("invalid.State = %s, want NEW", invalid.State)
	}
}

func TestFSM_ReconfigureOptOut(t *testing.T) {
	defer leaktest.Check(t)()

	f := New(Actions{}, testLogger())
	must(t, f.Initialize(wire.NewConfiguration()))
	waitState(t, f, StateInit)
	must(t, f.Launch())
	waitState(t, f, StateOrbit)

	err := f.Reconfigure(wire.NewConfiguration())
	var notImpl *NotImplementedError
	if !errors.As(err, &notImpl) {
		t.Fatalf("Reconfigure: got %v, want NotImplementedError", err)
	}
	if f.State() != StateOrbit {
		t.Fatalf("state changed on opted-out reconfigure: %s", f.State())
	}
}

func TestFSM_FailureDuringTransitionReachesError(t *testing.T) {
	defer leaktest.Check(t)()

	wantErr := errors.New("boom")
	f := New(Actions{
		Launch: func(ctx context.Context) error { return wantErr },
	}, testLogger())
	must(t, f.Initialize(wire.NewConfiguration()))
	waitState(t, f, StateInit)
	must(t, f.Launch())
	waitState(t, f, StateError)
}

func TestFSM_InterruptFromRunStopsRunLoop(t *testing.T) {
	defer leaktest.Check(t)()

	stopped := make(chan struct{})
	f := New(Actions{
		Running: func(ctx context.Context, stop <-chan struct{}) error {
			<-stop
			close(stopped)
			return nil
		},
	}, testLogger())
	must(t, f.Initialize(wire.NewConfiguration()))
	waitState(t, f, StateInit)
	must(t, f.Launch())
	waitState(t, f, StateOrbit)
	must(t, f.Start("run-1"))
	waitState(t, f, StateRun)

	if err := f.RequestInterrupt(); err != nil {
		t.Fatalf("RequestInterrupt: %v", err)
	}
	waitState(t, f, StateSafe)

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("run loop did not observe interrupt stop signal")
	}
}

func TestFSM_StartWithNilRunningBlocksUntilStop(t *testing.T) {
	defer leaktest.Check(t)()

	f := New(Actions{}, testLogger())
	must(t, f.Initialize(wire.NewConfiguration()))
	waitState(t, f, StateInit)
	must(t, f.Launch())
	waitState(t, f, StateOrbit)
	must(t, f.Start("run-1"))
	waitState(t, f, StateRun)

	if err := f.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	waitState(t, f, StateOrbit)
}

func TestFSM_Observer(t *testing.T) {
	defer leaktest.Check(t)()

	f := New(Actions{}, testLogger())
	ch, cancel := f.Subscribe()
	defer cancel()

	must(t, f.Initialize(wire.NewConfiguration()))

	seen := map[State]bool{}
	deadline := time.After(time.Second)
	for len(seen) < 2 {
		select {
		case change := <-ch:
			seen[change.To] = true
		case <-deadline:
			t.Fatalf("timed out waiting for both transitions, saw %v", seen)
		}
	}
	if !seen[StateInitializing] || !seen[StateInit] {
		t.Fatalf("observer missed a transition: %v", seen)
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
