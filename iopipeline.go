package dbusclient

import (
	"bufio"
	"net"

	"github.com/marselester/dbusclient/internal/stringintern"
)

// ioPipeline is the single-threaded, cooperative I/O executor for one
// transport connection (§4.5, §5 "I/O executor"). SASL and the Hello
// handshake (stages 1 and the C6 handshake driver) run once, directly
// against the transport, before run is started; run then owns stages
// 2-3-7 (byte frame decoder, message decoder, bridge) for the
// connection's lifetime.
type ioPipeline struct {
	conn   net.Conn
	reader *bufio.Reader
	endian Endianness
	bridge *bridge
	log    Logger
	intern *stringintern.Interner
}

// newIOPipeline wraps an already-established connection. reader must be
// the same *bufio.Reader used to drive RunSASL/Handshake during setup,
// so no buffered bytes are lost at the SASL/binary boundary.
func newIOPipeline(conn net.Conn, reader *bufio.Reader, endian Endianness, b *bridge, log Logger, internSize int) *ioPipeline {
	return &ioPipeline{
		conn:   conn,
		reader: reader,
		endian: endian,
		bridge: b,
		log:    log,
		intern: stringintern.New(internSize),
	}
}

// run decodes frames until the transport fails, handing each decoded
// message to the bridge (§4.5 stages 2-3-7). It never invokes user
// code directly; that happens only after the bridge hands off to the
// application executor.
func (p *ioPipeline) run() error {
	for {
		frame, err := DecodeFrame(p.reader)
		if err != nil {
			return err
		}
		msg, err := FrameToMessageInterned(frame, p.intern)
		if err != nil {
			p.log.Warnf("dropping malformed inbound frame: %v", err)
			p.bridge.onInboundFailure(err)
			continue
		}
		p.bridge.onInbound(msg)
	}
}

// writeMessage serializes and writes msg. The bridge calls it from the
// goroutine that is sending (the caller of Connection.Send or
// SendRequest), not from the I/O goroutine; each frame goes out in a
// single conn.Write call.
func (p *ioPipeline) writeMessage(msg *Message) error {
	frame, err := MessageToFrame(msg, p.endian)
	if err != nil {
		return err
	}
	raw, err := EncodeFrame(frame)
	if err != nil {
		return err
	}
	if _, err := p.conn.Write(raw); err != nil {
		return newErr(CodeTransportIO, "write message", err)
	}
	return nil
}

func (p *ioPipeline) close() error {
	return p.conn.Close()
}
