//go:build !linux

package ipc

import (
	"net"

	"github.com/pkg/errors"
)

// peerPID is unsupported off Linux; the status reporter shows n/a.
func peerPID(conn *net.UnixConn) (int, error) {
	return 0, errors.New("peer credentials unsupported on this platform")
}
