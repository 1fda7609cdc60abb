package chirp

import (
	"net"
	"syscall"
)

// enableBroadcast sets SO_BROADCAST on conn's underlying file descriptor.
// The net package has no portable API for this; golang.org/x/net's ipv4
// helpers cover multicast control but not plain broadcast, so this is one
// of the few spots that drops to a raw syscall rather than a library call.
func enableBroadcast(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
