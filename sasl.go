package dbusclient

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Mechanism is the client side of one SASL authentication mechanism
// (§4.3). InitialResponse supplies the optional hex-encoded initial
// response sent alongside the AUTH command; Step answers a server DATA
// challenge with a hex-encoded response.
type Mechanism interface {
	Name() string
	InitialResponse() (hexResponse string, ok bool)
	Step(challengeHex string) (responseHex string, err error)
	IsComplete() bool
}

// SASLConfig configures a RunSASL negotiation.
type SASLConfig struct {
	// Mechanisms are tried in order until one succeeds or the list is
	// exhausted.
	Mechanisms []Mechanism
	// NegotiateUnixFD requests UNIX_FDS support after authentication
	// succeeds (§4.3, §9 open question). If the server refuses,
	// negotiation falls back silently and RunSASL still succeeds.
	NegotiateUnixFD bool
}

// RunSASL drives the client side of the SASL handshake, writing to w and
// reading lines from r (§4.3). r must be the same buffered reader the
// caller goes on to use for frame decoding after BEGIN, since bufio may
// have already buffered the first bytes of binary traffic past the
// final SASL line. It returns whether UNIX_FDS were agreed upon.
func RunSASL(w io.Writer, r *bufio.Reader, cfg SASLConfig) (unixFDAgreed bool, err error) {
	if len(cfg.Mechanisms) == 0 {
		return false, newErr(CodeNoMechanismAvailable, "sasl", fmt.Errorf("no mechanisms configured"))
	}

	if _, err := w.Write([]byte{0}); err != nil {
		return false, newErr(CodeTransportIO, "sasl", err)
	}

	remaining := append([]Mechanism(nil), cfg.Mechanisms...)
	var mech Mechanism
	negotiatingFD := false
	if err := sendNextAuth(w, &mech, &remaining); err != nil {
		return false, err
	}

	for {
		line, err := readSASLLine(r)
		if err != nil {
			return false, newErr(CodeTransportIO, "sasl", err)
		}
		cmd, arg := splitCommand(line)

		switch cmd {
		case "OK":
			if cfg.NegotiateUnixFD {
				if err := sendSASLLine(w, "NEGOTIATE_UNIX_FD"); err != nil {
					return false, err
				}
				negotiatingFD = true
				continue
			}
			return false, sendSASLLine(w, "BEGIN")

		case "AGREE_UNIX_FD":
			return true, sendSASLLine(w, "BEGIN")

		case "DATA":
			if mech == nil {
				return false, newErr(CodeSASLProtocolError, "sasl", fmt.Errorf("DATA received before AUTH"))
			}
			respHex, stepErr := mech.Step(arg)
			if stepErr != nil {
				_ = sendSASLLine(w, "CANCEL")
				// A mechanism that already tagged its own failure (e.g.
				// CodeCookieUnavailable) keeps that code; anything else
				// is a generic protocol violation.
				var derr *Error
				if errors.As(stepErr, &derr) {
					return false, derr
				}
				return false, newErr(CodeSASLProtocolError, "sasl", stepErr)
			}
			if err := sendSASLLine(w, "DATA "+respHex); err != nil {
				return false, err
			}

		case "REJECTED":
			if len(remaining) == 0 {
				return false, newErr(CodeAuthRejected, "sasl", fmt.Errorf("server rejected all mechanisms, offered: %s", arg))
			}
			if err := sendNextAuth(w, &mech, &remaining); err != nil {
				return false, err
			}

		case "ERROR":
			if negotiatingFD {
				// The server refused NEGOTIATE_UNIX_FD; authentication has
				// already succeeded, so continue without fd passing.
				return false, sendSASLLine(w, "BEGIN")
			}
			if err := sendSASLLine(w, "CANCEL"); err != nil {
				return false, err
			}

		default:
			return false, newErr(CodeSASLProtocolError, "sasl", fmt.Errorf("unexpected server command %q", cmd))
		}
	}
}

func sendNextAuth(w io.Writer, mechPtr *Mechanism, remaining *[]Mechanism) error {
	if len(*remaining) == 0 {
		return newErr(CodeNoMechanismAvailable, "sasl", fmt.Errorf("no mechanisms left to try"))
	}
	m := (*remaining)[0]
	*remaining = (*remaining)[1:]
	*mechPtr = m

	line := "AUTH " + m.Name()
	if resp, ok := m.InitialResponse(); ok {
		line += " " + resp
	}
	return sendSASLLine(w, line)
}

func sendSASLLine(w io.Writer, s string) error {
	if _, err := io.WriteString(w, s+"\r\n"); err != nil {
		return newErr(CodeTransportIO, "sasl", err)
	}
	return nil
}

func readSASLLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func splitCommand(line string) (cmd, arg string) {
	i := strings.IndexByte(line, ' ')
	if i == -1 {
		return line, ""
	}
	return line[:i], line[i+1:]
}
