package dbusclient

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// Dial opens the transport described by a (§6.2). Abstract-namespace
// Unix sockets aren't reachable through net.Dial, so those are opened
// directly via golang.org/x/sys/unix and wrapped back into a net.Conn.
func Dial(a Address) (net.Conn, error) {
	switch a.Kind {
	case TransportUnix:
		if a.Abstract != "" {
			return dialAbstractUnix(a.Abstract)
		}
		conn, err := net.Dial("unix", a.Path)
		if err != nil {
			return nil, newErr(CodeTransportIO, "dial", err)
		}
		return conn, nil
	case TransportTCP:
		conn, err := net.Dial(a.Network(), a.netAddr())
		if err != nil {
			return nil, newErr(CodeTransportIO, "dial", err)
		}
		return conn, nil
	default:
		return nil, newErr(CodeUnsupportedTransport, "dial", fmt.Errorf("unknown transport kind %d", a.Kind))
	}
}

func dialAbstractUnix(name string) (net.Conn, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, newErr(CodeTransportIO, "dial abstract unix", err)
	}
	sa := &unix.SockaddrUnix{Name: "\x00" + name}
	if err := unix.Connect(fd, sa); err != nil {
		unix.Close(fd)
		return nil, newErr(CodeTransportIO, "dial abstract unix", err)
	}
	f := os.NewFile(uintptr(fd), "@"+name)
	defer f.Close()
	conn, err := net.FileConn(f)
	if err != nil {
		return nil, newErr(CodeTransportIO, "dial abstract unix", err)
	}
	return conn, nil
}

// PeerCredentials reports the Unix credentials of the process on the
// other end of a Unix-domain conn, as consulted by the server during
// EXTERNAL authentication (§4.3, §6.3).
func PeerCredentials(conn net.Conn) (uid, gid, pid int, err error) {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return 0, 0, 0, newErr(CodeUnsupportedTransport, "peer credentials", fmt.Errorf("not a Unix-domain connection"))
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return 0, 0, 0, newErr(CodeTransportIO, "peer credentials", err)
	}
	var cred *unix.Ucred
	var sysErr error
	ctlErr := raw.Control(func(fd uintptr) {
		cred, sysErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if ctlErr != nil {
		return 0, 0, 0, newErr(CodeTransportIO, "peer credentials", ctlErr)
	}
	if sysErr != nil {
		return 0, 0, 0, newErr(CodeTransportIO, "peer credentials", sysErr)
	}
	return int(cred.Uid), int(cred.Gid), int(cred.Pid), nil
}

// SendWithFDs writes buf to conn along with fds as SCM_RIGHTS ancillary
// data, for messages carrying UNIX_FD-typed values once negotiation has
// agreed on fd passing (§3.1, §9 open question).
func SendWithFDs(conn net.Conn, buf []byte, fds []int) error {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		if len(fds) == 0 {
			_, err := conn.Write(buf)
			return err
		}
		return newErr(CodeUnsupportedTransport, "send with fds", fmt.Errorf("fd passing requires a Unix-domain connection"))
	}
	if len(fds) == 0 {
		_, err := uc.Write(buf)
		return err
	}
	rights := unix.UnixRights(fds...)
	raw, err := uc.SyscallConn()
	if err != nil {
		return newErr(CodeTransportIO, "send with fds", err)
	}
	var sysErr error
	ctlErr := raw.Control(func(fd uintptr) {
		sysErr = unix.Sendmsg(int(fd), buf, rights, nil, 0)
	})
	if ctlErr != nil {
		return newErr(CodeTransportIO, "send with fds", ctlErr)
	}
	if sysErr != nil {
		return newErr(CodeTransportIO, "send with fds", sysErr)
	}
	return nil
}
