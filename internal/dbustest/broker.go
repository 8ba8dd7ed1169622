// Package dbustest provides a minimal in-process message bus for
// exercising a Connection end to end without a real dbus-daemon.
package dbustest

import (
	"bufio"
	"fmt"
	"net"
	"sync"

	dbusclient "github.com/marselester/dbusclient"
)

// Handler answers one method call and returns the values to put in the
// METHOD_RETURN body, or an error to send back as an ERROR message.
type Handler func(call *dbusclient.Message) ([]dbusclient.DType, []dbusclient.Value, error)

// Broker is a single-connection fake bus: it accepts one client, speaks
// EXTERNAL SASL and Hello, then dispatches method calls by
// interface+member to registered Handlers. A call with no Handler gets
// an UnknownMethod error reply if it expects a reply; everything else is
// dropped.
type Broker struct {
	ln     net.Listener
	mu     sync.Mutex
	routes map[string]Handler

	uniqueName string
}

// NewBroker starts listening on loopback TCP and returns a Broker ready
// to Serve. uniqueName is the bus name assigned by Hello.
func NewBroker(uniqueName string) (*Broker, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	return &Broker{ln: ln, routes: make(map[string]Handler), uniqueName: uniqueName}, nil
}

// Addr returns the Address clients should Connect to.
func (b *Broker) Addr() (dbusclient.Address, error) {
	tcpAddr := b.ln.Addr().(*net.TCPAddr)
	return dbusclient.ParseAddress(fmt.Sprintf("tcp:host=127.0.0.1,port=%d", tcpAddr.Port))
}

// Handle registers a Handler for an interface.member pair.
func (b *Broker) Handle(iface, member string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.routes[iface+"."+member] = h
}

// Close stops accepting new connections.
func (b *Broker) Close() error { return b.ln.Close() }

// Serve accepts exactly one connection and runs the protocol loop on
// it. Callers typically run it in a goroutine.
func (b *Broker) Serve() error {
	conn, err := b.ln.Accept()
	if err != nil {
		return err
	}
	defer conn.Close()

	r := bufio.NewReader(conn)
	if err := b.runSASL(conn, r); err != nil {
		return err
	}
	if err := b.runHello(conn, r); err != nil {
		return err
	}
	return b.dispatchLoop(conn, r)
}

// runSASL plays the server side of EXTERNAL authentication: it accepts
// the leading NUL, any AUTH command, replies OK, and waits for BEGIN.
func (b *Broker) runSASL(conn net.Conn, r *bufio.Reader) error {
	nul := make([]byte, 1)
	if _, err := r.Read(nul); err != nil {
		return err
	}
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return err
		}
		switch {
		case len(line) >= 4 && line[:4] == "AUTH":
			if _, err := conn.Write([]byte("OK " + serverGUID + "\r\n")); err != nil {
				return err
			}
		case len(line) >= 5 && line[:5] == "BEGIN":
			return nil
		default:
			if _, err := conn.Write([]byte("REJECTED EXTERNAL ANONYMOUS DBUS_COOKIE_SHA1\r\n")); err != nil {
				return err
			}
		}
	}
}

const serverGUID = "deadbeefdeadbeefdeadbeefdeadbeef"

func (b *Broker) runHello(conn net.Conn, r *bufio.Reader) error {
	frame, err := dbusclient.DecodeFrame(r)
	if err != nil {
		return err
	}
	call, err := b.decodeInbound(frame)
	if err != nil {
		return err
	}
	return b.reply(conn, call, []dbusclient.DType{dbusclient.TString}, []dbusclient.Value{mustString(b.uniqueName)})
}

func (b *Broker) dispatchLoop(conn net.Conn, r *bufio.Reader) error {
	for {
		frame, err := dbusclient.DecodeFrame(r)
		if err != nil {
			return err
		}
		call, err := b.decodeInbound(frame)
		if err != nil {
			return err
		}

		b.mu.Lock()
		h, ok := b.routes[call.Interface+"."+call.Member]
		b.mu.Unlock()
		if !ok {
			if call.ReplyExpected {
				_ = b.replyError(conn, call, "org.freedesktop.DBus.Error.UnknownMethod")
			}
			continue
		}

		sig, body, err := h(call)
		if err != nil {
			_ = b.replyError(conn, call, "org.freedesktop.DBus.Error.Failed")
			continue
		}
		if call.ReplyExpected {
			if err := b.reply(conn, call, sig, body); err != nil {
				return err
			}
		}
	}
}

// decodeInbound treats frame as arriving from the client: it stamps a
// Sender header (a real daemon does this when forwarding, but here the
// broker is the direct peer) before the shared Message validation runs.
func (b *Broker) decodeInbound(frame *dbusclient.Frame) (*dbusclient.Message, error) {
	if frame.HeaderFields == nil {
		frame.HeaderFields = map[dbusclient.HeaderFieldCode]dbusclient.Value{}
	}
	if _, ok := frame.HeaderFields[dbusclient.FieldSender]; !ok {
		frame.HeaderFields[dbusclient.FieldSender] = mustString(":1.client")
	}
	return dbusclient.FrameToMessage(frame)
}

func (b *Broker) reply(conn net.Conn, call *dbusclient.Message, sig []dbusclient.DType, body []dbusclient.Value) error {
	var opts []dbusclient.MethodCallOption
	if len(sig) > 0 {
		opts = append(opts, dbusclient.WithBody(sig, body))
	}
	ret, err := dbusclient.NewMethodReturn(call.Serial, opts...)
	if err != nil {
		return err
	}
	ret.Sender = b.uniqueName
	return b.send(conn, &ret)
}

func (b *Broker) replyError(conn net.Conn, call *dbusclient.Message, name string) error {
	e, err := dbusclient.NewErrorMessage(name, call.Serial)
	if err != nil {
		return err
	}
	e.Sender = b.uniqueName
	return b.send(conn, &e)
}

func (b *Broker) send(conn net.Conn, m *dbusclient.Message) error {
	frame, err := dbusclient.MessageToFrame(m, dbusclient.LittleEndian)
	if err != nil {
		return err
	}
	raw, err := dbusclient.EncodeFrame(frame)
	if err != nil {
		return err
	}
	_, err = conn.Write(raw)
	return err
}

func mustString(s string) dbusclient.Value {
	v, err := dbusclient.NewString(s)
	if err != nil {
		panic(err)
	}
	return v
}
