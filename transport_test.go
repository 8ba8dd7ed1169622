package dbusclient

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func unixSocketPair(t *testing.T) (client, server net.Conn) {
	t.Helper()
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "dbusclient-test.sock")

	ln, err := net.Listen("unix", sockPath)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	acceptedCh := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		require.NoError(t, err)
		acceptedCh <- c
	}()

	client, err = net.Dial("unix", sockPath)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	server = <-acceptedCh
	t.Cleanup(func() { server.Close() })
	return client, server
}

func TestPeerCredentialsOverUnixSocket(t *testing.T) {
	_, server := unixSocketPair(t)

	uid, gid, pid, err := PeerCredentials(server)
	require.NoError(t, err)
	require.Equal(t, os.Getuid(), uid)
	require.Equal(t, os.Getgid(), gid)
	require.Equal(t, os.Getpid(), pid)
}

func TestPeerCredentialsRejectsNonUnixConn(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	_, _, _, err := PeerCredentials(client)
	require.Error(t, err)
	var derr *Error
	require.ErrorAs(t, err, &derr)
	require.Equal(t, CodeUnsupportedTransport, derr.Code)
}

func TestSendWithFDsRejectsFDsOverNonUnixConn(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	err := SendWithFDs(client, []byte("hi"), []int{0})
	require.Error(t, err)
	var derr *Error
	require.ErrorAs(t, err, &derr)
	require.Equal(t, CodeUnsupportedTransport, derr.Code)
}

func TestSendWithFDsWithoutFDsWritesPlainBytes(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 5)
		n, _ := server.Read(buf)
		done <- buf[:n]
	}()

	require.NoError(t, SendWithFDs(client, []byte("hello"), nil))
	require.Equal(t, []byte("hello"), <-done)
}

func TestSendWithFDsTransfersFDOverUnixSocket(t *testing.T) {
	client, server := unixSocketPair(t)

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	require.NoError(t, SendWithFDs(client, []byte("fd"), []int{int(w.Fd())}))

	uc, ok := server.(*net.UnixConn)
	require.True(t, ok)
	raw, err := uc.SyscallConn()
	require.NoError(t, err)

	var n, oobn int
	buf := make([]byte, 16)
	oob := make([]byte, unix.CmsgSpace(4))
	var recvErr error
	ctlErr := raw.Control(func(fd uintptr) {
		n, oobn, _, _, recvErr = unix.Recvmsg(int(fd), buf, oob, 0)
	})
	require.NoError(t, ctlErr)
	require.NoError(t, recvErr)
	require.Equal(t, "fd", string(buf[:n]))

	scms, err := unix.ParseSocketControlMessage(oob[:oobn])
	require.NoError(t, err)
	require.Len(t, scms, 1)
	fds, err := unix.ParseUnixRights(&scms[0])
	require.NoError(t, err)
	require.Len(t, fds, 1)
	defer unix.Close(fds[0])

	received := os.NewFile(uintptr(fds[0]), "received")
	defer received.Close()
	_, err = received.WriteString("ping")
	require.NoError(t, err)

	out := make([]byte, 4)
	_, err = r.Read(out)
	require.NoError(t, err)
	require.Equal(t, "ping", string(out))
}
