// Package satellite composes the CHIRP manager, FSM, CSCP dispatcher,
// heartbeat publisher/receiver and CMDP publisher into a single process,
// wiring CHIRP discovery into the heartbeat receiver and the FSM's
// transition commands into the dispatcher.
package satellite

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"constellation/internal/chirp"
	"constellation/internal/cmdp"
	"constellation/internal/cscp"
	"constellation/internal/cscp/command"
	"constellation/internal/fsm"
	"constellation/internal/heartbeat"
	"constellation/pkg/logging"
	"constellation/pkg/wire"
)

// Options configures a Satellite at construction. Endpoints left empty bind
// an ephemeral TCP port on all interfaces.
type Options struct {
	Type, Name, Group string

	BindAddress       string // CHIRP bind address, "" means any
	BroadcastAddress  string // CHIRP broadcast address, e.g. "255.255.255.255"
	CHIRPPort         int    // 0 means chirp.DefaultPort

	CSCPEndpoint      string // "" means "tcp://0.0.0.0:0"
	HeartbeatEndpoint string
	CMDPEndpoint      string
	HeartbeatInterval time.Duration

	Actions  fsm.Actions
	Registry *command.Registry

	CMDPLogDomain    string
	CMDPLogThreshold zerolog.Level
}

// Satellite owns every long-running subsystem of a single process and tears
// them down in the order spec.md requires: CSCP stop, FSM interrupt,
// heartbeat stop, then the CHIRP and CMDP sockets.
type Satellite struct {
	log zerolog.Logger

	canonicalName string
	config        *wire.Configuration

	chirp    *chirp.Manager
	fsm      *fsm.FSM
	cscp     *cscp.Dispatcher
	hbPub    *heartbeat.Publisher
	hbRecv   *heartbeat.Receiver
	cmdp     *cmdp.Publisher
	registry *command.Registry

	shutdownCh chan struct{}
}

// New constructs every subsystem but does not start them; call Start.
func New(ctx context.Context, opts Options, log zerolog.Logger) (*Satellite, error) {
	canonicalName, err := wire.CanonicalName(opts.Type, opts.Name)
	if err != nil {
		return nil, fmt.Errorf("satellite: %w", err)
	}
	log = log.With().Str("satellite", canonicalName).Logger()

	cmdpEndpoint := opts.CMDPEndpoint
	if cmdpEndpoint == "" {
		cmdpEndpoint = "tcp://0.0.0.0:0"
	}
	cmdpPub, err := cmdp.NewPublisher(ctx, cmdpEndpoint, canonicalName, log)
	if err != nil {
		return nil, fmt.Errorf("satellite: starting cmdp publisher: %w", err)
	}
	logDomain := opts.CMDPLogDomain
	if logDomain == "" {
		logDomain = opts.Type
	}
	log = log.Hook(logging.CMDPHook{Sink: cmdpPub, Domain: logDomain, Threshold: opts.CMDPLogThreshold})

	chirpMgr, err := chirp.New(chirp.Config{
		Group:         opts.Group,
		HostName:      canonicalName,
		BindAddress:   opts.BindAddress,
		BroadcastAddr: opts.BroadcastAddress,
		Port:          opts.CHIRPPort,
	}, log)
	if err != nil {
		cmdpPub.Close()
		return nil, fmt.Errorf("satellite: starting chirp: %w", err)
	}

	config := wire.NewConfiguration()
	f := fsm.New(opts.Actions, log)

	registry := opts.Registry
	if registry == nil {
		registry = command.NewRegistry()
	}

	shutdownCh := make(chan struct{})
	cscpEndpoint := opts.CSCPEndpoint
	if cscpEndpoint == "" {
		cscpEndpoint = "tcp://0.0.0.0:0"
	}
	dispatcher, err := cscp.New(ctx, cscpEndpoint, canonicalName, "", f, config, registry, func() {
		close(shutdownCh)
	}, log)
	if err != nil {
		chirpMgr.Stop()
		cmdpPub.Close()
		return nil, fmt.Errorf("satellite: starting cscp: %w", err)
	}

	hbEndpoint := opts.HeartbeatEndpoint
	if hbEndpoint == "" {
		hbEndpoint = "tcp://0.0.0.0:0"
	}
	hbPub, err := heartbeat.NewPublisher(ctx, hbEndpoint, canonicalName, f, opts.HeartbeatInterval, log)
	if err != nil {
		dispatcher.Stop()
		chirpMgr.Stop()
		cmdpPub.Close()
		return nil, fmt.Errorf("satellite: starting heartbeat publisher: %w", err)
	}

	hbRecv := heartbeat.NewReceiver(func(reason string) {
		log.Warn().Str("reason", reason).Msg("heartbeat interrupt")
		if err := f.RequestInterrupt(); err != nil {
			log.Debug().Err(err).Msg("heartbeat interrupt had no effect on current state")
		}
	}, opts.HeartbeatInterval, log)

	s := &Satellite{
		log:           log,
		canonicalName: canonicalName,
		config:        config,
		chirp:         chirpMgr,
		fsm:           f,
		cscp:          dispatcher,
		hbPub:         hbPub,
		hbRecv:        hbRecv,
		cmdp:          cmdpPub,
		registry:      registry,
		shutdownCh:    shutdownCh,
	}

	chirpMgr.RegisterDiscoverCallback(wire.ServiceHeartbeat, s.onHeartbeatPeerDiscovered)
	return s, nil
}

// CanonicalName returns this satellite's "type.name".
func (s *Satellite) CanonicalName() string { return s.canonicalName }

// FSM exposes the satellite's state machine, e.g. for a CLI entry point to
// drive initialize/launch directly rather than via CSCP.
func (s *Satellite) FSM() *fsm.FSM { return s.fsm }

// Registry returns the user command registry, so callers that didn't supply
// one in Options can still register commands before calling Start.
func (s *Satellite) Registry() *command.Registry { return s.registry }

// CMDPPublisher exposes the telemetry publisher, for a satellite
// implementation that wants to emit its own STAT/ metrics alongside the
// automatic logging hook.
func (s *Satellite) CMDPPublisher() *cmdp.Publisher { return s.cmdp }

// Start launches every subsystem and announces the satellite's services over
// CHIRP.
func (s *Satellite) Start() {
	s.chirp.Start()
	s.cscp.Start()
	s.hbPub.Start()
	s.hbRecv.Start()

	s.chirp.RegisterService(wire.ServiceControl, tcpPort(s.cscp.Addr().String()))
	s.chirp.RegisterService(wire.ServiceHeartbeat, tcpPort(s.hbPub.Addr().String()))
	s.chirp.RegisterService(wire.ServiceMonitoring, tcpPort(s.cmdp.Addr().String()))
	s.chirp.SendRequest(wire.ServiceHeartbeat)
}

// ShutdownRequested returns a channel closed once a CSCP "shutdown" request
// has been accepted and replied to.
func (s *Satellite) ShutdownRequested() <-chan struct{} { return s.shutdownCh }

// Shutdown tears every subsystem down in the order spec.md's Lifecycles
// section requires: CSCP stop, FSM request-interrupt, heartbeat stop, then
// the discovery and telemetry sockets.
func (s *Satellite) Shutdown() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	record(s.cscp.Stop())
	if err := s.fsm.RequestInterrupt(); err != nil {
		s.log.Debug().Err(err).Msg("shutdown: interrupt had no effect on current state")
	}
	record(s.hbPub.Stop())
	record(s.hbRecv.Stop())
	record(s.chirp.Stop())
	record(s.cmdp.Close())
	return firstErr
}

func (s *Satellite) onHeartbeatPeerDiscovered(svc wire.DiscoveredService, departed bool) {
	key := fmt.Sprintf("%s:%d", svc.HostID, svc.Port)
	if departed {
		s.hbRecv.Disconnect(key)
		return
	}
	endpoint := fmt.Sprintf("tcp://%s:%d", svc.Address, svc.Port)
	if err := s.hbRecv.Connect(context.Background(), key, endpoint); err != nil {
		s.log.Warn().Str("peer", key).Str("endpoint", endpoint).Err(err).Msg("failed to connect to discovered heartbeat peer")
	}
}

func tcpPort(addr string) uint16 {
	var port uint16
	// addr is of the form "host:port" or "tcp://host:port"; take the
	// trailing decimal run after the last colon.
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			fmt.Sscanf(addr[i+1:], "%d", &port)
			break
		}
	}
	return port
}
