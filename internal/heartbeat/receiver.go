package heartbeat

import (
	"context"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/rs/zerolog"

	"constellation/internal/fsm"
	"constellation/pkg/wire"
)

// InterruptFunc is invoked when a tracked peer's deadline elapses or it
// reports a fault state. It is typically fsm.FSM.RequestInterrupt wrapped to
// discard the error.
type InterruptFunc func(reason string)

// Receiver maintains one SUB socket per CHIRP-discovered heartbeat peer and
// polls their deadlines once a second, raising InterruptFunc when a peer
// falls silent or announces ERROR/SAFE.
type Receiver struct {
	log         zerolog.Logger
	onInterrupt InterruptFunc
	defaultIval time.Duration

	mu    sync.Mutex
	peers map[string]*peer
	// wake is closed and replaced whenever the peer set transitions from
	// empty to non-empty, so the poll loop can leave its idle wait instead
	// of blocking on a select with no live cases.
	wake chan struct{}

	incoming chan incomingBeat
	stop     chan struct{}
	done     chan struct{}
}

type peer struct {
	key      string
	sock     zmq4.Socket
	lastSeen time.Time
	interval time.Duration
	cancel   context.CancelFunc
}

type incomingBeat struct {
	key string
	msg wire.CHP1Message
	err error
}

// NewReceiver constructs a Receiver. defaultInterval seeds each peer's
// deadline before its first beat arrives.
func NewReceiver(onInterrupt InterruptFunc, defaultInterval time.Duration, log zerolog.Logger) *Receiver {
	return &Receiver{
		log:         log.With().Str("component", "heartbeat.receiver").Logger(),
		onInterrupt: onInterrupt,
		defaultIval: ClampInterval(defaultInterval),
		peers:       make(map[string]*peer),
		wake:        make(chan struct{}),
		incoming:    make(chan incomingBeat),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start launches the poll loop in the background.
func (r *Receiver) Start() { go r.run() }

// Stop halts the poll loop and closes every tracked peer socket.
func (r *Receiver) Stop() error {
	close(r.stop)
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.peers {
		p.cancel()
		p.sock.Close()
	}
	return nil
}

// Connect dials a newly discovered HEARTBEAT peer identified by key
// (normally the CHIRP service's host id plus endpoint). It is a no-op if
// key is already connected.
func (r *Receiver) Connect(ctx context.Context, key, endpoint string) error {
	r.mu.Lock()
	if _, exists := r.peers[key]; exists {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	sock := zmq4.NewSub(ctx)
	if err := sock.Dial(endpoint); err != nil {
		return err
	}
	if err := sock.SetOption(zmq4.OptionSubscribe, ""); err != nil {
		sock.Close()
		return err
	}

	readCtx, cancel := context.WithCancel(ctx)
	p := &peer{key: key, sock: sock, lastSeen: time.Now(), interval: r.defaultIval, cancel: cancel}

	r.mu.Lock()
	wasEmpty := len(r.peers) == 0
	r.peers[key] = p
	if wasEmpty {
		close(r.wake)
		r.wake = make(chan struct{})
	}
	r.mu.Unlock()

	go r.readPeer(readCtx, p)
	return nil
}

// Disconnect tears down the socket for a departed peer.
func (r *Receiver) Disconnect(key string) {
	r.mu.Lock()
	p, ok := r.peers[key]
	if ok {
		delete(r.peers, key)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	p.cancel()
	p.sock.Close()
}

func (r *Receiver) readPeer(ctx context.Context, p *peer) {
	for {
		msg, err := p.sock.Recv()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			select {
			case r.incoming <- incomingBeat{key: p.key, err: err}:
			case <-ctx.Done():
			}
			return
		}
		beat, err := wire.DecodeCHP1Message(msg.Frames)
		select {
		case r.incoming <- incomingBeat{key: p.key, msg: beat, err: err}:
		case <-ctx.Done():
			return
		}
	}
}

// run is the edge-triggered poll loop: it sleeps on wake while no peers are
// registered, and otherwise wakes once a second to sweep deadlines.
func (r *Receiver) run() {
	defer close(r.done)
	for {
		r.mu.Lock()
		empty := len(r.peers) == 0
		wake := r.wake
		r.mu.Unlock()

		if empty {
			select {
			case <-r.stop:
				return
			case <-wake:
			}
			continue
		}

		ticker := time.NewTicker(time.Second)
		r.poll(ticker)
		ticker.Stop()
		select {
		case <-r.stop:
			return
		default:
		}
	}
}

// poll runs the 1s sweep until the peer set becomes empty again or Stop is
// called, at which point run re-enters its idle wait.
func (r *Receiver) poll(ticker *time.Ticker) {
	for {
		select {
		case <-r.stop:
			return
		case b := <-r.incoming:
			r.handleBeat(b)
		case <-ticker.C:
			if r.sweep() {
				return
			}
		}
	}
}

func (r *Receiver) handleBeat(b incomingBeat) {
	if b.err != nil {
		r.log.Warn().Str("peer", b.key).Err(b.err).Msg("heartbeat read failed, dropping peer")
		r.Disconnect(b.key)
		return
	}
	r.mu.Lock()
	p, ok := r.peers[b.key]
	if ok {
		p.lastSeen = time.Now()
		p.interval = ClampInterval(time.Duration(b.msg.Interval) * time.Millisecond)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	state := fsm.State(b.msg.State)
	if state == fsm.StateError || state == fsm.StateSafe {
		r.onInterrupt("peer " + b.key + " reported " + state.String())
	}
}

// sweep checks every peer's deadline and fires the interrupt for any that
// has elapsed. It reports whether the peer set is now empty.
func (r *Receiver) sweep() bool {
	now := time.Now()
	var dead []string
	r.mu.Lock()
	for key, p := range r.peers {
		if now.After(p.lastSeen.Add(Lives * p.interval)) {
			dead = append(dead, key)
		}
	}
	r.mu.Unlock()

	for _, key := range dead {
		r.log.Warn().Str("peer", key).Msg("heartbeat deadline elapsed")
		r.onInterrupt("peer " + key + " missed its heartbeat deadline")
		r.Disconnect(key)
	}

	r.mu.Lock()
	empty := len(r.peers) == 0
	r.mu.Unlock()
	return empty
}
