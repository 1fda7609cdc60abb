// Package command implements the CSCP user-command registry: typed
// handlers registered with a name, a description, and the set of FSM
// states they are legal in.
package command

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"constellation/internal/fsm"
	"constellation/pkg/cerrors"
	"constellation/pkg/wire"
)

// Handler is a user command body. It receives its positional arguments
// already converted from the wire List and returns a single Value, or a
// zero Value if the command has no return payload.
type Handler func(ctx context.Context, args *wire.List) (wire.Value, error)

// Entry describes one registered user command.
type Entry struct {
	Name        string // lowercase, matches the CSCP verb
	Description string
	States      []fsm.State // empty means legal in any state
	Handler     Handler
}

func (e Entry) validFor(state fsm.State) bool {
	if len(e.States) == 0 {
		return true
	}
	for _, s := range e.States {
		if s == state {
			return true
		}
	}
	return false
}

// Registry holds the satellite's user-registered commands, keyed by
// lowercase name. It is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register adds e to the registry. It is an error to register the same
// name twice or a name that fails wire.ValidateName. Names are not checked
// against the CSCP transition or standard commands; the dispatcher resolves
// those verbs first, so a user command with such a name is never reached.
func (r *Registry) Register(e Entry) error {
	name := strings.ToLower(e.Name)
	if err := wire.ValidateName(name); err != nil {
		return fmt.Errorf("command: invalid name %q: %w", e.Name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("command: %q already registered", name)
	}
	e.Name = name
	r.entries[name] = e
	return nil
}

// Lookup reports whether name is registered, without checking state
// validity.
func (r *Registry) Lookup(name string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[strings.ToLower(name)]
	return e, ok
}

// Describe returns a dictionary of name -> description for every
// registered command, for merging into get_commands.
func (r *Registry) Describe() *wire.Dictionary {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	d := wire.NewDictionary()
	for _, name := range names {
		d.Set(name, wire.StringValue(r.entries[name].Description))
	}
	return d
}

// Dispatch runs the named command against the given FSM state and raw
// payload bytes. The payload, if non-empty, decodes as a MessagePack List
// of positional arguments.
func (r *Registry) Dispatch(ctx context.Context, name string, state fsm.State, payload []byte) ([]byte, error) {
	r.mu.Lock()
	e, ok := r.entries[strings.ToLower(name)]
	r.mu.Unlock()
	if !ok {
		return nil, &cerrors.UnknownUserCommandError{Verb: name}
	}
	if !e.validFor(state) {
		return nil, &cerrors.InvalidUserCommandError{Verb: name, State: state.String()}
	}

	args := wire.NewList()
	if len(payload) > 0 {
		if err := msgpack.Unmarshal(payload, args); err != nil {
			return nil, &cerrors.UserCommandError{Verb: name, Err: fmt.Errorf("decoding arguments: %w", err)}
		}
	}

	result, err := e.Handler(ctx, args)
	if err != nil {
		return nil, &cerrors.UserCommandError{Verb: name, Err: err}
	}
	if result.IsZero() {
		return nil, nil
	}
	out, err := msgpack.Marshal(result)
	if err != nil {
		return nil, &cerrors.UserCommandError{Verb: name, Err: fmt.Errorf("encoding result: %w", err)}
	}
	return out, nil
}
