// Package heartbeat implements the CHP liveness protocol: a PUB socket that
// announces FSM state at a steady cadence plus an extrasystole on state
// change, and a SUB-side receiver that tracks per-peer deadlines and raises
// an interrupt when a peer falls silent or reports a fault state.
package heartbeat

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/rs/zerolog"

	"constellation/internal/fsm"
	"constellation/pkg/cerrors"
	"constellation/pkg/wire"
)

const (
	// MinInterval and MaxInterval clamp the configurable beat cadence.
	MinInterval = 500 * time.Millisecond
	MaxInterval = 30 * time.Second

	// DefaultInterval matches spec.md's 1Hz default.
	DefaultInterval = time.Second

	// Lives is the number of missed intervals a receiver tolerates before
	// declaring a peer dead.
	Lives = 3
)

// ClampInterval forces interval into [MinInterval, MaxInterval], substituting
// DefaultInterval for a zero value.
func ClampInterval(interval time.Duration) time.Duration {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if interval < MinInterval {
		return MinInterval
	}
	if interval > MaxInterval {
		return MaxInterval
	}
	return interval
}

// Publisher owns the PUB socket and emits one CHP1Message per tick, plus an
// unscheduled extra beat whenever the FSM's state changes.
type Publisher struct {
	log  zerolog.Logger
	sock zmq4.Socket
	name string
	f    *fsm.FSM

	interval time.Duration

	unsubscribe func()
	stop        chan struct{}
	done        chan struct{}
}

// NewPublisher binds a PUB socket at endpoint and wires it to f's state
// changes. The bound address is available from Addr for CHIRP registration.
func NewPublisher(ctx context.Context, endpoint, name string, f *fsm.FSM, interval time.Duration, log zerolog.Logger) (*Publisher, error) {
	sock := zmq4.NewPub(ctx)
	if err := sock.Listen(endpoint); err != nil {
		return nil, &cerrors.NetworkError{Component: "heartbeat", Err: fmt.Errorf("listening on %s: %w", endpoint, err)}
	}
	p := &Publisher{
		log:      log.With().Str("component", "heartbeat.publisher").Logger(),
		sock:     sock,
		name:     name,
		f:        f,
		interval: ClampInterval(interval),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	return p, nil
}

// Addr returns the socket's bound address.
func (p *Publisher) Addr() net.Addr { return p.sock.Addr() }

// Start launches the publish loop in the background.
func (p *Publisher) Start() {
	changes, cancel := p.f.Subscribe()
	p.unsubscribe = cancel
	go p.run(changes)
}

// Stop halts the publish loop and closes the socket.
func (p *Publisher) Stop() error {
	close(p.stop)
	<-p.done
	if p.unsubscribe != nil {
		p.unsubscribe()
	}
	return p.sock.Close()
}

// run ticks at the configured interval and also fires immediately on every
// observed state change, without resetting the ticker: a state change close
// to the next scheduled beat simply produces two beats in quick succession.
func (p *Publisher) run(changes <-chan fsm.StateChange) {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.beat()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.beat()
		case <-changes:
			p.beat()
		}
	}
}

func (p *Publisher) beat() {
	msg := wire.CHP1Message{
		Sender:   p.name,
		Time:     time.Now(),
		State:    byte(p.f.State()),
		Interval: uint16(p.interval.Milliseconds()),
		Status:   p.f.Status(),
	}
	frames, err := msg.Frames()
	if err != nil {
		p.log.Error().Err(err).Msg("encoding heartbeat")
		return
	}
	if err := p.sock.Send(zmq4.NewMsgFrom(frames...)); err != nil {
		p.log.Error().Err(err).Msg("sending heartbeat")
	}
}
