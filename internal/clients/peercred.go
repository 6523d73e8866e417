package clients

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// PeerCredentials returns the pid, uid, and gid of the process on the
// other end of a connected Unix domain socket, using SO_PEERCRED. This is
// how a WDM client's identity is established without any credential the
// client itself could forge (grounded in the original's get_peer_pid).
func PeerCredentials(conn *net.UnixConn) (pid int32, uid, gid uint32, err error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return 0, 0, 0, fmt.Errorf("syscall conn: %w", err)
	}

	var ucred *unix.Ucred
	var ctrlErr error
	err = raw.Control(func(fd uintptr) {
		ucred, ctrlErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return 0, 0, 0, fmt.Errorf("control: %w", err)
	}
	if ctrlErr != nil {
		return 0, 0, 0, fmt.Errorf("getsockopt SO_PEERCRED: %w", ctrlErr)
	}

	return ucred.Pid, ucred.Uid, ucred.Gid, nil
}
