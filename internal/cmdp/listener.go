package cmdp

import (
	"context"
	"sync"

	"github.com/go-zeromq/zmq4"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"constellation/pkg/wire"
)

// Callback receives every non-notification message forwarded by the
// listener.
type Callback func(msg wire.CMDP1Message)

// Hooks are invoked as the listener learns about peers and their topics.
type Hooks struct {
	NewSenderAvailable func(sender string)
	NewTopicsAvailable func(sender string, topics map[string]string)
}

// Listener maintains one SUB socket per discovered MONITORING peer and a
// two-tier subscription policy: a global tier applied to every peer, and a
// per-host tier of extra topics for one peer only.
type Listener struct {
	log      zerolog.Logger
	callback Callback
	hooks    Hooks

	mu          sync.Mutex
	peers       map[string]*subPeer
	global      map[string]bool
	perHost     map[string]map[string]bool
	available   map[string]map[string]string // sender -> topic -> description

	incoming chan incomingMsg
	stop     chan struct{}
	done     chan struct{}
}

type subPeer struct {
	key    string
	sock   zmq4.Socket
	cancel context.CancelFunc
}

type incomingMsg struct {
	key string
	msg wire.CMDP1Message
	err error
}

// NewListener constructs an empty Listener.
func NewListener(callback Callback, hooks Hooks, log zerolog.Logger) *Listener {
	return &Listener{
		log:       log.With().Str("component", "cmdp.listener").Logger(),
		callback:  callback,
		hooks:     hooks,
		peers:     make(map[string]*subPeer),
		global:    make(map[string]bool),
		perHost:   make(map[string]map[string]bool),
		available: make(map[string]map[string]string),
		incoming:  make(chan incomingMsg),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the dispatch loop in the background.
func (l *Listener) Start() { go l.run() }

// Stop halts the dispatch loop and closes every peer socket.
func (l *Listener) Stop() error {
	close(l.stop)
	<-l.done
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range l.peers {
		p.cancel()
		p.sock.Close()
	}
	return nil
}

// Connect dials a newly discovered MONITORING peer and applies the current
// subscription policy to it.
func (l *Listener) Connect(ctx context.Context, key, endpoint string) error {
	l.mu.Lock()
	if _, exists := l.peers[key]; exists {
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	sock := zmq4.NewSub(ctx)
	if err := sock.Dial(endpoint); err != nil {
		return err
	}

	readCtx, cancel := context.WithCancel(ctx)
	p := &subPeer{key: key, sock: sock, cancel: cancel}

	l.mu.Lock()
	l.peers[key] = p
	topics := l.effectiveTopics(key)
	l.mu.Unlock()

	for t := range topics {
		if err := sock.SetOption(zmq4.OptionSubscribe, t); err != nil {
			l.log.Warn().Str("peer", key).Str("topic", t).Err(err).Msg("subscribe failed")
		}
	}

	go l.readPeer(readCtx, p)
	return nil
}

// Disconnect tears down the socket for a departed peer.
func (l *Listener) Disconnect(key string) {
	l.mu.Lock()
	p, ok := l.peers[key]
	if ok {
		delete(l.peers, key)
	}
	l.mu.Unlock()
	if !ok {
		return
	}
	p.cancel()
	p.sock.Close()
}

// SubscribeTopic adds t to the global tier, applied to every current and
// future peer. Subscribing twice is a no-op.
func (l *Listener) SubscribeTopic(t string) {
	l.mu.Lock()
	already := l.global[t]
	l.global[t] = true
	peers := l.snapshotPeers()
	l.mu.Unlock()
	if already {
		return
	}
	for _, p := range peers {
		p.sock.SetOption(zmq4.OptionSubscribe, t)
	}
}

// UnsubscribeTopic removes t from the global tier. A peer stays subscribed
// if its per-host tier still requests t.
func (l *Listener) UnsubscribeTopic(t string) {
	l.mu.Lock()
	delete(l.global, t)
	var targets []*subPeer
	for key, p := range l.peers {
		if !l.perHost[key][t] {
			targets = append(targets, p)
		}
	}
	l.mu.Unlock()
	for _, p := range targets {
		p.sock.SetOption(zmq4.OptionUnsubscribe, t)
	}
}

// MultiscribeTopics applies a batch of global subscribe/unsubscribe changes.
func (l *Listener) MultiscribeTopics(drop, add []string) {
	for _, t := range drop {
		l.UnsubscribeTopic(t)
	}
	for _, t := range add {
		l.SubscribeTopic(t)
	}
}

// SubscribeHostTopic adds an extra topic for a single peer, independent of
// the global tier.
func (l *Listener) SubscribeHostTopic(key, t string) {
	l.mu.Lock()
	if l.perHost[key] == nil {
		l.perHost[key] = make(map[string]bool)
	}
	already := l.perHost[key][t] || l.global[t]
	l.perHost[key][t] = true
	p := l.peers[key]
	l.mu.Unlock()
	if already || p == nil {
		return
	}
	p.sock.SetOption(zmq4.OptionSubscribe, t)
}

// UnsubscribeHostTopic removes a peer's per-host topic. The peer stays
// subscribed if the global tier still requests t.
func (l *Listener) UnsubscribeHostTopic(key, t string) {
	l.mu.Lock()
	delete(l.perHost[key], t)
	stillWanted := l.global[t]
	p := l.peers[key]
	l.mu.Unlock()
	if stillWanted || p == nil {
		return
	}
	p.sock.SetOption(zmq4.OptionUnsubscribe, t)
}

// MultiscribeHostTopics applies a batch of per-host subscribe/unsubscribe
// changes for a single peer.
func (l *Listener) MultiscribeHostTopics(key string, drop, add []string) {
	for _, t := range drop {
		l.UnsubscribeHostTopic(key, t)
	}
	for _, t := range add {
		l.SubscribeHostTopic(key, t)
	}
}

// effectiveTopics returns the union of the global tier and key's per-host
// tier. Caller must hold l.mu.
func (l *Listener) effectiveTopics(key string) map[string]bool {
	out := make(map[string]bool, len(l.global))
	for t := range l.global {
		out[t] = true
	}
	for t := range l.perHost[key] {
		out[t] = true
	}
	return out
}

func (l *Listener) snapshotPeers() []*subPeer {
	out := make([]*subPeer, 0, len(l.peers))
	for _, p := range l.peers {
		out = append(out, p)
	}
	return out
}

func (l *Listener) readPeer(ctx context.Context, p *subPeer) {
	for {
		raw, err := p.sock.Recv()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			select {
			case l.incoming <- incomingMsg{key: p.key, err: err}:
			case <-ctx.Done():
			}
			return
		}
		msg, decErr := wire.DecodeCMDP1Message(raw.Frames)
		select {
		case l.incoming <- incomingMsg{key: p.key, msg: msg, err: decErr}:
		case <-ctx.Done():
			return
		}
	}
}

func (l *Listener) run() {
	defer close(l.done)
	for {
		select {
		case <-l.stop:
			return
		case m := <-l.incoming:
			l.handle(m)
		}
	}
}

func (l *Listener) handle(m incomingMsg) {
	if m.err != nil {
		l.log.Warn().Str("peer", m.key).Err(m.err).Msg("cmdp: malformed message discarded")
		return
	}
	if m.msg.IsNotification() {
		l.handleNotification(m.key, m.msg)
		return
	}
	if l.callback != nil {
		l.callback(m.msg)
	}
}

func (l *Listener) handleNotification(key string, msg wire.CMDP1Message) {
	dict := wire.NewDictionary()
	if err := msgpack.Unmarshal(msg.Payload, dict); err != nil {
		l.log.Warn().Str("peer", key).Err(err).Msg("cmdp: malformed notification discarded")
		return
	}
	topics := make(map[string]string, dict.Len())
	for _, name := range dict.Keys() {
		v, _ := dict.Get(name)
		desc, _ := v.AsString()
		topics[name] = desc
	}

	l.mu.Lock()
	_, knownSender := l.available[msg.Sender]
	l.available[msg.Sender] = topics
	l.mu.Unlock()

	if !knownSender && l.hooks.NewSenderAvailable != nil {
		l.hooks.NewSenderAvailable(msg.Sender)
	}
	if l.hooks.NewTopicsAvailable != nil {
		l.hooks.NewTopicsAvailable(msg.Sender, topics)
	}
}
