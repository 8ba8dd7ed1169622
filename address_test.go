package dbusclient

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want Address
	}{
		{
			name: "unix path",
			in:   "unix:path=/run/user/1000/bus",
			want: Address{Kind: TransportUnix, Path: "/run/user/1000/bus"},
		},
		{
			name: "unix abstract",
			in:   "unix:abstract=/tmp/dbus-abc123",
			want: Address{Kind: TransportUnix, Abstract: "/tmp/dbus-abc123"},
		},
		{
			name: "tcp with family",
			in:   "tcp:host=127.0.0.1,port=12345,family=ipv4",
			want: Address{Kind: TransportTCP, Host: "127.0.0.1", Port: 12345, Family: "ipv4"},
		},
		{
			name: "only first address in a fallback list is parsed",
			in:   "unix:path=/run/user/1000/bus;tcp:host=10.0.0.1,port=1",
			want: Address{Kind: TransportUnix, Path: "/run/user/1000/bus"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseAddress(tc.in)
			require.NoError(t, err)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("ParseAddress(%q) mismatch (-want +got):\n%s", tc.in, diff)
			}
		})
	}
}

func TestParseAddressRejectsMalformed(t *testing.T) {
	bad := []string{
		"",
		"nocolon",
		"unix:",
		"unix:path",
		"tcp:host=127.0.0.1",
		"tcp:host=127.0.0.1,port=notanumber",
		"sctp:host=127.0.0.1,port=1",
	}
	for _, s := range bad {
		t.Run(s, func(t *testing.T) {
			_, err := ParseAddress(s)
			require.Error(t, err)
		})
	}
}

func TestAddressNetwork(t *testing.T) {
	require.Equal(t, "unix", Address{Kind: TransportUnix}.Network())
	require.Equal(t, "tcp4", Address{Kind: TransportTCP, Family: "ipv4"}.Network())
	require.Equal(t, "tcp6", Address{Kind: TransportTCP, Family: "ipv6"}.Network())
	require.Equal(t, "tcp", Address{Kind: TransportTCP}.Network())
}

func TestSystemBusAddressUsesEnvOverride(t *testing.T) {
	t.Setenv("DBUS_SYSTEM_BUS_ADDRESS", "unix:path=/custom/system_bus_socket")
	got, err := SystemBusAddress()
	require.NoError(t, err)
	require.Equal(t, Address{Kind: TransportUnix, Path: "/custom/system_bus_socket"}, got)
}

func TestSessionBusAddressRequiresEnv(t *testing.T) {
	t.Setenv("DBUS_SESSION_BUS_ADDRESS", "")
	_, err := SessionBusAddress()
	require.Error(t, err)
}
