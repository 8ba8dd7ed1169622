package dbusclient

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

// TransportKind names the transport family chosen by an Address (§6.2).
type TransportKind int

const (
	TransportUnix TransportKind = iota
	TransportTCP
)

// Address is a parsed D-Bus server address (§6.2).
type Address struct {
	Kind TransportKind

	// Unix fields.
	Path     string // TransportUnix with "path="
	Abstract string // TransportUnix with "abstract="

	// TCP fields.
	Host   string
	Port   uint16
	Family string // "ipv4", "ipv6", or "" (unspecified)
}

// DefaultSystemBusAddress is used when DBUS_SYSTEM_BUS_ADDRESS is unset
// (§6.2).
const DefaultSystemBusAddress = "unix:path=/var/run/dbus/system_bus_socket"

// SystemBusAddress resolves the system bus address from the environment
// (§6.2).
func SystemBusAddress() (Address, error) {
	if s := os.Getenv("DBUS_SYSTEM_BUS_ADDRESS"); s != "" {
		return ParseAddress(s)
	}
	return ParseAddress(DefaultSystemBusAddress)
}

// SessionBusAddress resolves the session bus address from the
// environment (§6.2). There is no portable platform default once
// DBUS_SESSION_BUS_ADDRESS is absent; callers should treat that case as
// a configuration error specific to their platform.
func SessionBusAddress() (Address, error) {
	s := os.Getenv("DBUS_SESSION_BUS_ADDRESS")
	if s == "" {
		return Address{}, newErr(CodeInvalidAddress, "session bus address", fmt.Errorf("DBUS_SESSION_BUS_ADDRESS is not set"))
	}
	return ParseAddress(s)
}

// ParseAddress parses one "transport:key=value,..." address (§6.2). Only
// the first address in a semicolon-separated list is honored; callers
// wanting fallback-on-failure should split on ';' themselves and retry.
func ParseAddress(s string) (Address, error) {
	if i := strings.IndexByte(s, ';'); i != -1 {
		s = s[:i]
	}

	transport, rest, ok := strings.Cut(s, ":")
	if !ok {
		return Address{}, newErr(CodeInvalidAddress, "parse address", fmt.Errorf("missing ':' separator in %q", s))
	}

	kv := make(map[string]string)
	if rest != "" {
		for _, pair := range strings.Split(rest, ",") {
			k, v, ok := strings.Cut(pair, "=")
			if !ok {
				return Address{}, newErr(CodeInvalidAddress, "parse address", fmt.Errorf("malformed key=value pair %q", pair))
			}
			kv[k] = v
		}
	}

	switch transport {
	case "unix":
		switch {
		case kv["path"] != "":
			return Address{Kind: TransportUnix, Path: kv["path"]}, nil
		case kv["abstract"] != "":
			return Address{Kind: TransportUnix, Abstract: kv["abstract"]}, nil
		default:
			return Address{}, newErr(CodeInvalidAddress, "parse address", fmt.Errorf("unix address needs path= or abstract="))
		}
	case "tcp":
		if kv["host"] == "" || kv["port"] == "" {
			return Address{}, newErr(CodeInvalidAddress, "parse address", fmt.Errorf("tcp address needs host= and port="))
		}
		port, err := strconv.ParseUint(kv["port"], 10, 16)
		if err != nil {
			return Address{}, newErr(CodeInvalidAddress, "parse address", fmt.Errorf("invalid port %q: %w", kv["port"], err))
		}
		family := kv["family"]
		if family != "" && family != "ipv4" && family != "ipv6" {
			return Address{}, newErr(CodeInvalidAddress, "parse address", fmt.Errorf("unknown family %q", family))
		}
		return Address{Kind: TransportTCP, Host: kv["host"], Port: uint16(port), Family: family}, nil
	default:
		return Address{}, newErr(CodeUnsupportedTransport, "parse address", fmt.Errorf("unsupported transport %q", transport))
	}
}

// Network and netAddr render the go net package's dial arguments for a.
func (a Address) Network() string {
	switch a.Kind {
	case TransportUnix:
		return "unix"
	case TransportTCP:
		switch a.Family {
		case "ipv4":
			return "tcp4"
		case "ipv6":
			return "tcp6"
		default:
			return "tcp"
		}
	default:
		return ""
	}
}

func (a Address) netAddr() string {
	switch a.Kind {
	case TransportUnix:
		if a.Abstract != "" {
			// Linux abstract-namespace sockets are addressed with a
			// leading NUL, conventionally spelled "@name" by callers and
			// translated here.
			return "@" + a.Abstract
		}
		return a.Path
	case TransportTCP:
		return net.JoinHostPort(a.Host, strconv.Itoa(int(a.Port)))
	default:
		return ""
	}
}
