//go:build linux

package server

import (
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

// peerUID reads the SO_PEERCRED credential off a Unix domain socket
// connection and returns the peer's uid as a decimal string, matching the
// format config.Config.IsAdminUser expects (spec.md §7's "uid or username"
// admin_users entries are normalized to uid strings at config load time).
func peerUID(conn net.Conn) (string, error) {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return "", fmt.Errorf("peercred: not a unix socket connection (%T)", conn)
	}

	raw, err := uc.SyscallConn()
	if err != nil {
		return "", fmt.Errorf("peercred: SyscallConn: %w", err)
	}

	var uid uint32
	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		ucred, err := unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
		if err != nil {
			sockErr = err
			return
		}
		uid = ucred.Uid
	})
	if ctrlErr != nil {
		return "", fmt.Errorf("peercred: Control: %w", ctrlErr)
	}
	if sockErr != nil {
		return "", fmt.Errorf("peercred: GetsockoptUcred: %w", sockErr)
	}

	return strconv.FormatUint(uint64(uid), 10), nil
}
