// Package cscp implements the CSCP request/reply command dispatcher: a
// single REP socket that routes each request to the FSM's transition
// commands, the fixed standard commands, or the user command registry, in
// that order, and always emits exactly one reply.
package cscp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"constellation/internal/cscp/command"
	"constellation/internal/fsm"
	"constellation/pkg/cerrors"
	"constellation/pkg/wire"
)

// shutdownStates lists the FSM states shutdown is legal from.
var shutdownStates = map[fsm.State]bool{
	fsm.StateNew: true, fsm.StateInit: true, fsm.StateSafe: true, fsm.StateError: true,
}

// Dispatcher owns the CSCP REP socket and runs the receive/dispatch loop on
// its own goroutine.
type Dispatcher struct {
	log      zerolog.Logger
	sock     zmq4.Socket
	fsm      *fsm.FSM
	config   *wire.Configuration
	registry *command.Registry

	name    string
	version string

	onShutdown       func()
	shutdownInFlight bool

	recv chan recvResult
	stop chan struct{}
	done chan struct{}
}

type recvResult struct {
	msg zmq4.Msg
	err error
}

// New constructs a Dispatcher bound to endpoint (e.g. "tcp://0.0.0.0:0").
// The bound port is recoverable from Addr after New returns, for CHIRP
// registration.
func New(ctx context.Context, endpoint string, name, version string, f *fsm.FSM, cfg *wire.Configuration, registry *command.Registry, onShutdown func(), log zerolog.Logger) (*Dispatcher, error) {
	sock := zmq4.NewRep(ctx)
	if err := sock.Listen(endpoint); err != nil {
		return nil, &cerrors.NetworkError{Component: "cscp", Err: fmt.Errorf("listening on %s: %w", endpoint, err)}
	}
	d := &Dispatcher{
		log:        log.With().Str("component", "cscp").Logger(),
		sock:       sock,
		fsm:        f,
		config:     cfg,
		registry:   registry,
		name:       name,
		version:    version,
		onShutdown: onShutdown,
		recv:       make(chan recvResult),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	return d, nil
}

// Addr returns the socket's bound address.
func (d *Dispatcher) Addr() net.Addr { return d.sock.Addr() }

// Start launches the receive/dispatch loop in the background.
func (d *Dispatcher) Start() {
	go d.readLoop()
	go d.dispatchLoop()
}

// Stop closes the socket, which unblocks any in-flight Recv, and waits for
// the dispatch loop to exit.
func (d *Dispatcher) Stop() error {
	close(d.stop)
	err := d.sock.Close()
	<-d.done
	return err
}

// readLoop is the only goroutine calling Recv; it feeds every result,
// including the terminal error from a closed socket, to recv.
func (d *Dispatcher) readLoop() {
	for {
		msg, err := d.sock.Recv()
		select {
		case d.recv <- recvResult{msg: msg, err: err}:
		case <-d.stop:
			return
		}
		if err != nil {
			return
		}
	}
}

func (d *Dispatcher) dispatchLoop() {
	defer close(d.done)
	for {
		select {
		case <-d.stop:
			return
		case r := <-d.recv:
			if r.err != nil {
				d.log.Error().Err(r.err).Msg("cscp: fatal socket error")
				return
			}
			reply := d.handle(r.msg.Frames)
			frames, err := reply.Frames()
			if err != nil {
				d.log.Error().Err(err).Msg("cscp: encoding reply")
				continue
			}
			if err := d.sock.Send(zmq4.NewMsgFrom(frames...)); err != nil {
				d.log.Error().Err(err).Msg("cscp: sending reply")
			}
			if reply.Type == wire.CSCPSuccess && d.shutdownInFlight {
				d.shutdownInFlight = false
				if d.onShutdown != nil {
					d.onShutdown()
				}
			}
		}
	}
}

func (d *Dispatcher) handle(frames [][]byte) wire.CSCP1Message {
	req, err := wire.DecodeCSCP1Message(frames)
	if err != nil {
		d.log.Warn().Err(err).Msg("cscp: malformed request discarded")
		return d.reply(wire.CSCPError, "", []byte(err.Error()))
	}
	if req.Type != wire.CSCPRequest {
		return d.reply(wire.CSCPError, req.Verb, []byte("not a REQUEST"))
	}

	verb := strings.ToLower(req.Verb)
	state := d.fsm.State()

	if ok, replyType, payload := d.dispatchTransition(verb, req.Payload); ok {
		return d.reply(replyType, verb, payload)
	}

	if verb == "shutdown" {
		if !shutdownStates[state] {
			return d.reply(wire.CSCPInvalid, verb, []byte(fmt.Sprintf("shutdown is not valid in state %s", state)))
		}
		d.shutdownInFlight = true
		return d.reply(wire.CSCPSuccess, verb, nil)
	}
	if value, handled, err := d.handleStandard(verb); handled {
		if err != nil {
			return d.reply(wire.CSCPError, verb, []byte(err.Error()))
		}
		payload, _ := msgpack.Marshal(value)
		return d.reply(wire.CSCPSuccess, verb, payload)
	}

	payload, err := d.registry.Dispatch(context.Background(), verb, state, req.Payload)
	switch {
	case err == nil:
		return d.reply(wire.CSCPSuccess, verb, payload)
	default:
		var unknown *cerrors.UnknownUserCommandError
		var invalid *cerrors.InvalidUserCommandError
		var userErr *cerrors.UserCommandError
		switch {
		case errors.As(err, &invalid):
			return d.reply(wire.CSCPInvalid, verb, []byte(err.Error()))
		case errors.As(err, &userErr):
			return d.reply(wire.CSCPIncomplete, verb, []byte(err.Error()))
		case errors.As(err, &unknown):
			return d.reply(wire.CSCPUnknown, verb, []byte(err.Error()))
		default:
			return d.reply(wire.CSCPError, verb, []byte(err.Error()))
		}
	}
}

func (d *Dispatcher) reply(t wire.CSCPVerbType, verb string, payload []byte) wire.CSCP1Message {
	return wire.CSCP1Message{Sender: d.name, Time: time.Now(), Type: t, Verb: verb, Payload: payload}
}

// absorbConfig merges the keys consumed by a successful initialize or
// reconfigure action into the long-lived configuration get_config reports,
// and logs any key the action never consumed. cfg's used bits were set as a
// side effect of the action's Configuration.Get calls, so this must run
// after the transition has returned.
func (d *Dispatcher) absorbConfig(cfg *wire.Configuration, transitionErr error) {
	if transitionErr != nil {
		return
	}
	d.config.Update(cfg)
	for _, key := range cfg.UnusedKeys() {
		d.log.Warn().Str("key", key).Msg("cscp: configuration key was never consumed")
	}
}
