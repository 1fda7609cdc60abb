package fsm

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"constellation/pkg/wire"
)

// Actions are the user-supplied bodies invoked while transitioning between
// states. Every field is optional; a nil action is treated as an immediate
// success, and a nil Running is replaced by a default run body that blocks
// until the stop token is closed. Reconfigure left nil means the satellite has not opted into
// reconfiguration, and a reconfigure request is rejected with
// NotImplementedError before any transitional state is entered.
type Actions struct {
	Initialize  func(ctx context.Context, cfg *wire.Configuration) error
	Launch      func(ctx context.Context) error
	Land        func(ctx context.Context) error
	Reconfigure func(ctx context.Context, partial *wire.Configuration) error
	Start       func(ctx context.Context, runID string) error
	Running     func(ctx context.Context, stop <-chan struct{}) error
	Stop        func(ctx context.Context) error
	Interrupt   func(ctx context.Context) error
	Failure     func(ctx context.Context, previous State)
}

// StateChange is delivered to every observer on every transition, steady or
// transitional.
type StateChange struct {
	From   State
	To     State
	Status string
}

// FSM is the satellite lifecycle state machine of §4.2. The zero value is
// not usable; construct with New.
type FSM struct {
	log     zerolog.Logger
	actions Actions
	baseCtx context.Context

	mu     sync.Mutex
	state  State
	status string
	runID  string

	runStop     chan struct{}
	runStopOnce *sync.Once
	runActive   bool

	obsMu     sync.Mutex
	observers map[int]chan StateChange
	nextObsID int
}

// New constructs an FSM in state NEW.
func New(actions Actions, log zerolog.Logger) *FSM {
	return &FSM{
		log:       log.With().Str("component", "fsm").Logger(),
		actions:   actions,
		baseCtx:   context.Background(),
		state:     StateNew,
		observers: make(map[int]chan StateChange),
	}
}

// State returns the current state.
func (f *FSM) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Status returns the most recently set human-readable status string.
func (f *FSM) Status() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

// SetStatus lets action code surface the most recent diagnostic, returned
// by the get_status standard command.
func (f *FSM) SetStatus(status string) {
	f.mu.Lock()
	f.status = status
	f.mu.Unlock()
}

// RunID returns the run identifier passed to the most recent start, or "".
func (f *FSM) RunID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runID
}

// Subscribe registers an observer that receives every state change. The
// returned channel is buffered and non-blocking on the publish side: a slow
// observer drops notifications rather than stalling a transition. Call
// cancel to unsubscribe.
func (f *FSM) Subscribe() (ch <-chan StateChange, cancel func()) {
	c := make(chan StateChange, 8)
	f.obsMu.Lock()
	id := f.nextObsID
	f.nextObsID++
	f.observers[id] = c
	f.obsMu.Unlock()
	return c, func() {
		f.obsMu.Lock()
		delete(f.observers, id)
		f.obsMu.Unlock()
		close(c)
	}
}

func (f *FSM) notify(change StateChange) {
	f.obsMu.Lock()
	defer f.obsMu.Unlock()
	for _, c := range f.observers {
		select {
		case c <- change:
		default:
			f.log.Warn().Msg("fsm: observer channel full, dropping state change")
		}
	}
}

// transition validates cmd against the current state, enters the
// transitional state synchronously, and runs action on a dedicated
// goroutine; on success the state advances to the table's target, on
// failure (a returned error or a panic) the FSM routes through fail().
// onSuccess, if non-nil, runs with
// the lock held immediately before the target state is published.
func (f *FSM) transition(cmd Command, action func(ctx context.Context) error, onSuccess func()) error {
	f.mu.Lock()
	from := f.state
	rule, ok := lookup(from, cmd)
	if !ok {
		f.mu.Unlock()
		return &InvalidTransitionError{Command: cmd, State: from}
	}
	f.state = rule.transitional
	f.mu.Unlock()
	f.notify(StateChange{From: from, To: rule.transitional, Status: f.Status()})

	go func() {
		err := func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("action panicked: %v", r)
				}
			}()
			return action(f.baseCtx)
		}()
		if err != nil {
			f.fail(rule.transitional, err)
			return
		}
		f.mu.Lock()
		prev := f.state
		f.state = rule.target
		if onSuccess != nil {
			onSuccess()
		}
		status := f.status
		f.mu.Unlock()
		f.notify(StateChange{From: prev, To: rule.target, Status: status})
	}()
	return nil
}

// fail routes an action failure through the user's Failure hook and lands
// the FSM in ERROR.
func (f *FSM) fail(from State, cause error) {
	if f.actions.Failure != nil {
		f.actions.Failure(f.baseCtx, from)
	}
	f.mu.Lock()
	f.status = fmt.Sprintf("failed in %s: %v", from, cause)
	f.state = StateError
	status := f.status
	f.mu.Unlock()
	f.log.Error().Err(cause).Str("from", from.String()).Msg("fsm: transition failed")
	f.notify(StateChange{From: from, To: StateError, Status: status})
}

// RequestFailure drives the FSM to ERROR from any state, for use by
// satellite code that detects an unrecoverable condition outside a
// transition action.
func (f *FSM) RequestFailure(cause error) {
	f.mu.Lock()
	from := f.state
	f.mu.Unlock()
	f.fail(from, cause)
}

// Initialize runs the initialize(config) transition from NEW/INIT/SAFE/ERROR.
func (f *FSM) Initialize(cfg *wire.Configuration) error {
	return f.transition(CmdInitialize, func(ctx context.Context) error {
		if f.actions.Initialize != nil {
			return f.actions.Initialize(ctx, cfg)
		}
		return nil
	}, nil)
}

// Launch runs the launch transition from INIT.
func (f *FSM) Launch() error {
	return f.transition(CmdLaunch, func(ctx context.Context) error {
		if f.actions.Launch != nil {
			return f.actions.Launch(ctx)
		}
		return nil
	}, nil)
}

// Land runs the land transition from ORBIT.
func (f *FSM) Land() error {
	return f.transition(CmdLand, func(ctx context.Context) error {
		if f.actions.Land != nil {
			return f.actions.Land(ctx)
		}
		return nil
	}, nil)
}

// Reconfigure runs the reconfigure(partial) transition from ORBIT, or
// returns NotImplementedError if the satellite did not opt in by supplying
// Actions.Reconfigure.
func (f *FSM) Reconfigure(partial *wire.Configuration) error {
	if f.actions.Reconfigure == nil {
		return &NotImplementedError{Command: CmdReconfigure}
	}
	return f.transition(CmdReconfigure, func(ctx context.Context) error {
		return f.actions.Reconfigure(ctx, partial)
	}, nil)
}
