//go:build linux

package main

import (
	"context"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// reuseportListen binds addr with SO_REUSEPORT, the literal Go
// equivalent of the inherited-socket fork model (SPEC_FULL.md REDESIGN
// FLAGS): every `--workers N` child binds the same host:port
// independently and the kernel load-balances accepted connections
// across them.
func reuseportListen(addr string) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			if err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			}); err != nil {
				return err
			}
			return sockErr
		},
	}
	return lc.Listen(context.Background(), "tcp", addr)
}
