package satellite

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"constellation/internal/fsm"
)

func testLogger() zerolog.Logger { return zerolog.Nop() }

func newTestSatellite(t *testing.T, typ, name string) *Satellite {
	t.Helper()
	s, err := New(context.Background(), Options{
		Type:              typ,
		Name:              name,
		Group:             "test-group",
		BindAddress:       "127.0.0.1",
		BroadcastAddress:  "127.255.255.255",
		HeartbeatInterval: 50 * time.Millisecond,
		Actions:           fsm.Actions{},
	}, testLogger())
	if err != nil {
		t.Fatalf("satellite.New: %v", err)
	}
	t.Cleanup(func() { s.Shutdown() })
	return s
}

func TestSatellite_StartAndShutdown(t *testing.T) {
	s := newTestSatellite(t, "Sensor", "sat1")
	s.Start()

	if got, want := s.CanonicalName(), "Sensor.sat1"; got != want {
		t.Fatalf("CanonicalName() = %q, want %q", got, want)
	}
	if got := s.FSM().State(); got != fsm.StateNew {
		t.Fatalf("initial state = %s, want NEW", got)
	}
}

func TestSatellite_ShutdownNotRequestedWithoutCommand(t *testing.T) {
	s := newTestSatellite(t, "Sensor", "sat2")
	s.Start()

	select {
	case <-s.ShutdownRequested():
		t.Fatal("shutdown requested before any command was sent")
	case <-time.After(50 * time.Millisecond):
	}
}
