//go:build !linux

package main

import (
	"fmt"
	"net"
)

// reuseportListen is only implemented on Linux, the platform
// SO_REUSEPORT's shared-accept semantics are defined for.
func reuseportListen(addr string) (net.Listener, error) {
	return nil, fmt.Errorf("--workers requires SO_REUSEPORT, only supported on linux")
}
