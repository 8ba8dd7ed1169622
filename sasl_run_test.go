package dbusclient

import (
	"bufio"
	"encoding/hex"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeSASLServer plays the server side of a minimal EXTERNAL negotiation
// over conn, mirroring the line protocol a real bus daemon speaks.
func fakeSASLServer(t *testing.T, conn net.Conn) {
	t.Helper()
	r := bufio.NewReader(conn)

	nul := make([]byte, 1)
	_, err := r.Read(nul)
	require.NoError(t, err)

	line, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, line, "AUTH EXTERNAL")

	_, err = conn.Write([]byte("OK 1234deadbeef\r\n"))
	require.NoError(t, err)

	line, err = r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "BEGIN\r\n", line)
}

func TestRunSASLExternalSuccess(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		fakeSASLServer(t, server)
	}()

	r := bufio.NewReader(client)
	unixFD, err := RunSASL(client, r, SASLConfig{
		Mechanisms: []Mechanism{&ExternalMechanism{uid: "1000"}},
	})
	require.NoError(t, err)
	require.False(t, unixFD)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("server side did not finish")
	}
}

func TestRunSASLRejectsEmptyMechanismList(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	r := bufio.NewReader(client)
	_, err := RunSASL(client, r, SASLConfig{})
	require.Error(t, err)
	var derr *Error
	require.ErrorAs(t, err, &derr)
	require.Equal(t, CodeNoMechanismAvailable, derr.Code)
}

func TestRunSASLPreservesCookieUnavailableCode(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	home := t.TempDir()
	t.Setenv("HOME", home)

	go func() {
		r := bufio.NewReader(server)
		nul := make([]byte, 1)
		_, _ = r.Read(nul)

		line, _ := r.ReadString('\n')
		require.Contains(t, line, "AUTH DBUS_COOKIE_SHA1")
		challenge := hex.EncodeToString([]byte("myorg_context 1 1234567890abcdef1234567890abcdef12345678"))
		_, _ = server.Write([]byte("DATA " + challenge + "\r\n"))

		line, _ = r.ReadString('\n')
		require.Contains(t, line, "CANCEL")
	}()

	r := bufio.NewReader(client)
	_, err := RunSASL(client, r, SASLConfig{
		Mechanisms: []Mechanism{NewCookieSHA1Mechanism()},
	})
	require.Error(t, err)
	var derr *Error
	require.ErrorAs(t, err, &derr)
	require.Equal(t, CodeCookieUnavailable, derr.Code)
}

func TestRunSASLFallsBackToNextMechanismOnRejection(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		r := bufio.NewReader(server)
		nul := make([]byte, 1)
		_, _ = r.Read(nul)

		line, _ := r.ReadString('\n')
		require.Contains(t, line, "AUTH EXTERNAL")
		_, _ = server.Write([]byte("REJECTED ANONYMOUS\r\n"))

		line, _ = r.ReadString('\n')
		require.Contains(t, line, "AUTH ANONYMOUS")
		_, _ = server.Write([]byte("OK cafe\r\n"))

		line, _ = r.ReadString('\n')
		require.Equal(t, "BEGIN\r\n", line)
	}()

	r := bufio.NewReader(client)
	_, err := RunSASL(client, r, SASLConfig{
		Mechanisms: []Mechanism{
			&ExternalMechanism{uid: "1000"},
			AnonymousMechanism{Trace: "test"},
		},
	})
	require.NoError(t, err)
}
