package dbusclient

import (
	"fmt"
	"io"
)

const (
	busName      = "org.freedesktop.DBus"
	busPath      ObjectPath = "/org/freedesktop/DBus"
	busInterface = "org.freedesktop.DBus"
)

// Handshake performs the post-SASL Hello call (§4.4), writing to w and
// decoding frames from r, and returns the unique bus name assigned to
// this connection. nextSerial supplies the outbound message serial; the
// caller owns serial allocation since the bridge hasn't started yet at
// this point in connection setup. r should be the same buffered reader
// passed to RunSASL, for the same reason documented there.
func Handshake(w io.Writer, r io.Reader, endian Endianness, nextSerial func() uint32) (uniqueName string, err error) {
	call, err := NewMethodCall(busPath, "Hello", WithInterface(busInterface), WithDestination(busName))
	if err != nil {
		return "", err
	}
	call.Serial = nextSerial()

	frame, err := MessageToFrame(&call, endian)
	if err != nil {
		return "", err
	}
	raw, err := EncodeFrame(frame)
	if err != nil {
		return "", err
	}
	if _, err := w.Write(raw); err != nil {
		return "", newErr(CodeTransportIO, "handshake", err)
	}

	for {
		replyFrame, err := DecodeFrame(r)
		if err != nil {
			return "", err
		}
		reply, err := FrameToMessage(replyFrame)
		if err != nil {
			return "", err
		}
		if reply.ReplySerial != call.Serial {
			// A signal arriving before Hello completes; not expected from
			// a compliant bus but harmless to skip.
			continue
		}

		switch reply.Type {
		case TypeMethodReturn:
			if len(reply.Body) != 1 {
				return "", newErr(CodeInvalidMessageField, "handshake", fmt.Errorf("Hello reply has %d body values, want 1", len(reply.Body)))
			}
			name, ok := reply.Body[0].StringValue()
			if !ok {
				return "", newErr(CodeInvalidMessageField, "handshake", fmt.Errorf("Hello reply body is not a string"))
			}
			return name, nil
		case TypeError:
			return "", newErr(CodeAuthRejected, "handshake", &RemoteError{Name: reply.ErrorName, Body: reply.Body})
		default:
			continue
		}
	}
}
