// Command satellite boots a generic Constellation satellite process: a
// CHIRP-discoverable, CSCP-controllable, heartbeat-monitored shell with no
// instrument logic of its own. A concrete satellite type links
// internal/satellite directly and supplies its own fsm.Actions and
// command.Registry; this binary exists to exercise the core against a real
// process and as a worked example of that wiring.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"constellation/internal/satellite"
	"constellation/pkg/logging"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("satellite", flag.ContinueOnError)
	group := fs.String("group", "constellation", "group name this satellite belongs to")
	broadcast := fs.String("broadcast", "255.255.255.255", "CHIRP broadcast address")
	iface := fs.String("interface", "", "network interface to bind CHIRP to, overrides the default any-address bind")
	logLevel := fs.String("log-level", "info", "log level: trace, debug, info, warn, error")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "usage: satellite [flags] <type> <name>")
		fs.PrintDefaults()
		return 1
	}
	satType, satName := fs.Arg(0), fs.Arg(1)

	bindAddr := "0.0.0.0"
	if *iface != "" {
		addr, err := interfaceAddress(*iface)
		if err != nil {
			fmt.Fprintf(os.Stderr, "resolving interface %s: %v\n", *iface, err)
			return 1
		}
		bindAddr = addr
	}

	log := logging.Init(*logLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sat, err := satellite.New(ctx, satellite.Options{
		Type:              satType,
		Name:              satName,
		Group:             *group,
		BindAddress:       bindAddr,
		BroadcastAddress:  *broadcast,
		HeartbeatInterval: time.Second,
	}, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "starting satellite: %v\n", err)
		return 1
	}
	sat.Start()
	log.Info().Str("canonical_name", sat.CanonicalName()).Msg("satellite started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case <-sat.ShutdownRequested():
		log.Info().Msg("shutdown requested over CSCP")
	}

	if err := sat.Shutdown(); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
		return 2
	}
	return 0
}

func interfaceAddress(name string) (string, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return "", err
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return "", err
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String(), nil
		}
	}
	return "", fmt.Errorf("interface %s has no IPv4 address", name)
}
