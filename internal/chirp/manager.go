// Package chirp implements the CHIRP service-discovery protocol: a single
// UDP broadcast socket per process that advertises locally registered
// services and maintains a set of services discovered on peers.
package chirp

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/creachadair/taskgroup"
	"github.com/rs/zerolog"

	"constellation/pkg/cerrors"
	"constellation/pkg/wire"
)

// DefaultPort is the well-known UDP port CHIRP broadcasts on.
const DefaultPort = 7123

// recvTimeout bounds each read on the receive loop so Stop is observed
// promptly without a dedicated wakeup socket.
const recvTimeout = 50 * time.Millisecond

// DiscoverCallback is invoked once per newly discovered or departed service
// matching the identifier it was registered for. Callbacks run detached from
// the receive loop and must tolerate concurrent invocation; capture whatever
// context a callback needs as a closure rather than via an untyped blob.
type DiscoverCallback func(svc wire.DiscoveredService, departed bool)

type discoverEntry struct {
	seq int
	id  wire.ServiceIdentifier
	fn  DiscoverCallback
}

// Manager owns one UDP socket: it broadcasts OFFER/DEPART/REQUEST frames for
// the local process and tracks the set of services discovered on peers in
// the same group. A Manager is safe for concurrent use.
type Manager struct {
	log         zerolog.Logger
	conn        *net.UDPConn
	broadcast   *net.UDPAddr
	groupID     wire.GroupID
	hostID      wire.HostID
	hostName    string

	registeredMu sync.Mutex
	registered   map[wire.RegisteredService]struct{}

	discoveredMu sync.Mutex
	discovered   map[wire.DiscoveredServiceKey]wire.DiscoveredService

	callbacksMu sync.Mutex
	callbacks   []discoverEntry
	nextSeq     int

	dispatch taskgroup.StartFunc // bounded pool for detached callbacks
	tasks    *taskgroup.Group

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// Config supplies the addressing a Manager needs to open its socket.
type Config struct {
	Group         string // group name, hashed into the 16-byte group id
	HostName      string // canonical "type.name" of this satellite
	BindAddress   string // local address to bind, e.g. "0.0.0.0" or "" for any
	BroadcastAddr string // broadcast address to send to, e.g. "255.255.255.255"
	Port          int    // UDP port; 0 means DefaultPort
	CallbackPool  int    // bound on concurrent detached discovery callbacks; 0 means 8
}

// New opens a CHIRP socket per cfg but does not start the receive loop; call
// Start to begin discovery.
func New(cfg Config, log zerolog.Logger) (*Manager, error) {
	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}
	pool := cfg.CallbackPool
	if pool == 0 {
		pool = 8
	}

	bindAddr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", cfg.BindAddress, port))
	if err != nil {
		return nil, fmt.Errorf("chirp: resolving bind address: %w", err)
	}
	conn, err := net.ListenUDP("udp4", bindAddr)
	if err != nil {
		return nil, &cerrors.NetworkError{Component: "chirp", Err: fmt.Errorf("binding %s: %w", bindAddr, err)}
	}
	if err := enableBroadcast(conn); err != nil {
		conn.Close()
		return nil, &cerrors.NetworkError{Component: "chirp", Err: fmt.Errorf("enabling broadcast: %w", err)}
	}

	broadcastAddr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", cfg.BroadcastAddr, port))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("chirp: resolving broadcast address: %w", err)
	}

	g, dispatch := taskgroup.New(nil).Limit(pool)
	m := &Manager{
		log:        log.With().Str("component", "chirp").Logger(),
		conn:       conn,
		broadcast:  broadcastAddr,
		groupID:    wire.NewGroupID(cfg.Group),
		hostID:     wire.NewHostID(cfg.HostName),
		hostName:   cfg.HostName,
		registered: make(map[wire.RegisteredService]struct{}),
		discovered: make(map[wire.DiscoveredServiceKey]wire.DiscoveredService),
		tasks:      g,
		dispatch:   dispatch,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	return m, nil
}

// Start launches the receive loop in a background goroutine and returns
// immediately.
func (m *Manager) Start() {
	go m.receiveLoop()
}

// Stop requests the receive loop to exit, waits for it and any in-flight
// discovery callbacks to finish, and releases the socket.
func (m *Manager) Stop() error {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
	m.tasks.Wait()
	return m.conn.Close()
}

// RegisterService adds (id, port) to the local registered set, broadcasting
// an OFFER if it was not already present. Reports whether it was newly
// inserted.
func (m *Manager) RegisterService(id wire.ServiceIdentifier, port uint16) bool {
	svc := wire.RegisteredService{ID: id, Port: port}
	m.registeredMu.Lock()
	_, exists := m.registered[svc]
	if !exists {
		m.registered[svc] = struct{}{}
	}
	m.registeredMu.Unlock()
	if exists {
		return false
	}
	m.send(wire.CHIRPOffer, id, port)
	return true
}

// UnregisterService removes (id, port) from the local registered set,
// broadcasting a DEPART if it was present. Reports whether it was removed.
func (m *Manager) UnregisterService(id wire.ServiceIdentifier, port uint16) bool {
	svc := wire.RegisteredService{ID: id, Port: port}
	m.registeredMu.Lock()
	_, exists := m.registered[svc]
	delete(m.registered, svc)
	m.registeredMu.Unlock()
	if !exists {
		return false
	}
	m.send(wire.CHIRPDepart, id, port)
	return true
}

// SendRequest broadcasts a REQUEST for services of kind id.
func (m *Manager) SendRequest(id wire.ServiceIdentifier) {
	m.send(wire.CHIRPRequest, id, 0)
}

// RegisterDiscoverCallback subscribes fn to be invoked, detached, for every
// newly discovered or departed service matching id.
func (m *Manager) RegisterDiscoverCallback(id wire.ServiceIdentifier, fn DiscoverCallback) {
	m.callbacksMu.Lock()
	defer m.callbacksMu.Unlock()
	m.nextSeq++
	m.callbacks = append(m.callbacks, discoverEntry{seq: m.nextSeq, id: id, fn: fn})
}

// DiscoveredServices returns a snapshot of the discovered set, optionally
// filtered to the given identifiers (no filter means all).
func (m *Manager) DiscoveredServices(ids ...wire.ServiceIdentifier) []wire.DiscoveredService {
	want := make(map[wire.ServiceIdentifier]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	m.discoveredMu.Lock()
	defer m.discoveredMu.Unlock()
	out := make([]wire.DiscoveredService, 0, len(m.discovered))
	for _, svc := range m.discovered {
		if len(want) == 0 || want[svc.ID] {
			out = append(out, svc)
		}
	}
	return out
}

// ForgetDiscoveredServices clears the discovered-service cache.
func (m *Manager) ForgetDiscoveredServices() {
	m.discoveredMu.Lock()
	m.discovered = make(map[wire.DiscoveredServiceKey]wire.DiscoveredService)
	m.discoveredMu.Unlock()
}

func (m *Manager) send(t wire.CHIRPMessageType, id wire.ServiceIdentifier, port uint16) {
	frame := wire.CHIRPMessage{Type: t, GroupID: m.groupID, HostID: m.hostID, Service: id, Port: port}.Encode()
	if _, err := m.conn.WriteToUDP(frame[:], m.broadcast); err != nil {
		m.log.Error().Err(err).Str("type", fmt.Sprintf("%d", t)).Msg("chirp: broadcast failed")
	}
}

func (m *Manager) receiveLoop() {
	defer close(m.done)
	buf := make([]byte, wire.CHIRPFrameSize)
	for {
		select {
		case <-m.stop:
			return
		default:
		}
		if err := m.conn.SetReadDeadline(time.Now().Add(recvTimeout)); err != nil {
			m.log.Error().Err(err).Msg("chirp: setting read deadline")
			return
		}
		n, src, err := m.conn.ReadFromUDP(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			select {
			case <-m.stop:
				return
			default:
			}
			m.log.Error().Err(err).Msg("chirp: fatal socket error")
			return
		}
		msg, err := wire.DecodeCHIRPMessage(buf[:n])
		if err != nil {
			m.log.Warn().Err(err).Str("src", src.String()).Msg("chirp: malformed frame discarded")
			continue
		}
		m.handle(msg, src)
	}
}

func (m *Manager) handle(msg wire.CHIRPMessage, src *net.UDPAddr) {
	if msg.GroupID != m.groupID {
		return
	}
	if msg.HostID == m.hostID {
		return
	}
	switch msg.Type {
	case wire.CHIRPRequest:
		m.registeredMu.Lock()
		var matches []wire.RegisteredService
		for svc := range m.registered {
			if svc.ID == msg.Service {
				matches = append(matches, svc)
			}
		}
		m.registeredMu.Unlock()
		for _, svc := range matches {
			frame := wire.CHIRPMessage{Type: wire.CHIRPOffer, GroupID: m.groupID, HostID: m.hostID, Service: svc.ID, Port: svc.Port}.Encode()
			if _, err := m.conn.WriteToUDP(frame[:], src); err != nil {
				m.log.Error().Err(err).Msg("chirp: offer reply failed")
			}
		}
	case wire.CHIRPOffer, wire.CHIRPDepart:
		departed := msg.Type == wire.CHIRPDepart
		svc := wire.DiscoveredService{HostID: msg.HostID, ID: msg.Service, Port: msg.Port, Address: src.IP.String()}
		key := svc.Key()

		m.discoveredMu.Lock()
		_, existed := m.discovered[key]
		if departed {
			delete(m.discovered, key)
		} else {
			m.discovered[key] = svc
		}
		m.discoveredMu.Unlock()

		changed := (departed && existed) || (!departed && !existed)
		if !changed {
			return
		}
		m.fireCallbacks(svc, departed)
	default:
		m.log.Warn().Uint8("type", uint8(msg.Type)).Msg("chirp: unknown message type discarded")
	}
}

func (m *Manager) fireCallbacks(svc wire.DiscoveredService, departed bool) {
	m.callbacksMu.Lock()
	matches := make([]DiscoverCallback, 0, len(m.callbacks))
	for _, e := range m.callbacks {
		if e.id == svc.ID {
			matches = append(matches, e.fn)
		}
	}
	m.callbacksMu.Unlock()

	for _, fn := range matches {
		fn := fn
		m.dispatch(func() error {
			fn(svc, departed)
			return nil
		})
	}
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	t, ok := err.(timeouter)
	return ok && t.Timeout()
}

// ---- default instance ------------------------------------------------------

var defaultManager atomic.Pointer[Manager]

// SetDefault installs m as the process-wide default Manager, reached by
// subsystems that are not constructed with an explicit one (§9: kept only
// for data-plane producer code that must reach discovery from outside the
// satellite's own constructor chain).
func SetDefault(m *Manager) { defaultManager.Store(m) }

// Default returns the process-wide default Manager, or nil if none was set.
func Default() *Manager { return defaultManager.Load() }
