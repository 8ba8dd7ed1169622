package dbusclient

import "fmt"

// Code identifies a class of error from the taxonomy in the protocol
// design: codec, framing, transport, SASL, protocol, request and
// configuration failures.
type Code string

// Error codes. See DESIGN.md for the grounding of each taxonomy group.
const (
	// Codec errors (C2).
	CodeInvalidSignature  Code = "invalid_signature"
	CodeUnexpectedEOF     Code = "unexpected_eof"
	CodeInvalidUTF8       Code = "invalid_utf8"
	CodeInvalidPadding    Code = "invalid_padding"
	CodeInvalidBoolean    Code = "invalid_boolean"
	CodeSizeLimitExceeded Code = "size_limit_exceeded"
	CodeTypeMismatch      Code = "type_mismatch"

	// Framing errors (C3).
	CodeUnsupportedProtocolVersion Code = "unsupported_protocol_version"
	CodeMissingRequiredHeader      Code = "missing_required_header"
	CodeBodySignatureMismatch      Code = "body_signature_mismatch"

	// Transport errors.
	CodeTransportIO   Code = "transport_io"
	CodeDisconnected  Code = "disconnected"

	// SASL errors (C5).
	CodeAuthRejected        Code = "auth_rejected"
	CodeSASLProtocolError   Code = "sasl_protocol_error"
	CodeNoMechanismAvailable Code = "no_mechanism_available"
	CodeCookieUnavailable   Code = "cookie_unavailable"

	// Protocol errors.
	CodeInvalidMessageField Code = "invalid_message_field"

	// Request errors (C9).
	CodeTimeout     Code = "timeout"
	CodeCanceled    Code = "canceled"
	CodeRemoteError Code = "remote_error"

	// Configuration errors.
	CodeInvalidAddress       Code = "invalid_address"
	CodeUnsupportedTransport Code = "unsupported_transport"
)

// Error is the error type returned by this module's codec, framing,
// message, SASL, transport and connection operations. It carries a
// stable Code so callers can branch on error class with errors.As
// instead of string matching. Pipeline's handler-management methods and
// a Mechanism's Step return plain errors.
type Error struct {
	Code Code
	// Op names the operation that failed, e.g. "decode array".
	Op string
	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("dbusclient: %s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("dbusclient: %s: %s", e.Op, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, &Error{Code: CodeTimeout}) style matching on
// code alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code == "" {
		return false
	}
	return t.Code == e.Code
}

func newErr(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// Sentinel causes wrapped by newErr at the call sites in bridge.go and
// connection.go; they carry no information beyond their Code, which is
// what callers are expected to match on via errors.Is.
var (
	errDisconnected = fmt.Errorf("connection closed")
	errCanceled     = fmt.Errorf("call canceled")
	errTimeout      = fmt.Errorf("call timed out")
)

// RemoteError is returned by a pending call when the peer replies with a
// D-Bus ERROR message. It is never fatal to the connection (§7).
type RemoteError struct {
	Name string
	Body []Value
}

func (e *RemoteError) Error() string {
	if len(e.Body) > 0 {
		if s, ok := e.Body[0].StringValue(); ok {
			return fmt.Sprintf("%s: %s", e.Name, s)
		}
	}
	return e.Name
}
