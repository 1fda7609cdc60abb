package heartbeat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/rs/zerolog"

	"constellation/internal/fsm"
)

func testLogger() zerolog.Logger { return zerolog.Nop() }

func TestPublisher_BeatsAndStops(t *testing.T) {
	defer leaktest.Check(t)()

	ctx := context.Background()
	f := fsm.New(fsm.Actions{}, testLogger())
	pub, err := NewPublisher(ctx, "tcp://127.0.0.1:0", "test.sat1", f, 50*time.Millisecond, testLogger())
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	pub.Start()
	time.Sleep(120 * time.Millisecond)
	if err := pub.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestClampInterval(t *testing.T) {
	cases := map[time.Duration]time.Duration{
		0:                      DefaultInterval,
		100 * time.Millisecond: MinInterval,
		time.Minute:            MaxInterval,
		2 * time.Second:        2 * time.Second,
	}
	for in, want := range cases {
		if got := ClampInterval(in); got != want {
			t.Errorf("ClampInterval(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestReceiver_InterruptsOnSilentPeer(t *testing.T) {
	defer leaktest.Check(t)()

	ctx := context.Background()
	f := fsm.New(fsm.Actions{}, testLogger())
	pub, err := NewPublisher(ctx, "tcp://127.0.0.1:0", "test.pub", f, 20*time.Millisecond, testLogger())
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	pub.Start()

	var (
		mu      sync.Mutex
		reasons []string
	)
	recv := NewReceiver(func(reason string) {
		mu.Lock()
		reasons = append(reasons, reason)
		mu.Unlock()
	}, 20*time.Millisecond, testLogger())
	recv.Start()
	defer recv.Stop()

	if err := recv.Connect(ctx, "peer1", pub.Addr().String()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// Both 20ms intervals clamp to MinInterval (500ms). Give the subscription
	// a moment, then kill the publisher; the receiver should raise an
	// interrupt at the first 1s sweep after Lives intervals pass with no
	// further beats.
	time.Sleep(80 * time.Millisecond)
	if err := pub.Stop(); err != nil {
		t.Fatalf("Stop publisher: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(reasons)
		mu.Unlock()
		if n > 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("receiver never raised an interrupt for a silent peer")
}
