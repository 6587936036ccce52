//go:build !linux && !darwin

package unixsock

import "net"

// peerUIDMatchesCurrentUser has no credential-check implementation on this
// platform. The carrier still works, but without the UID guard a production
// deployment gets on Linux and Darwin.
func peerUIDMatchesCurrentUser(conn net.Conn) (bool, error) {
	return true, nil
}
