package dbusclient

import (
	"fmt"
	"strings"
	"time"
)

// ObjectPath is a validated D-Bus object path (§3.1).
type ObjectPath string

// MessageType is the message kind carried in the frame header (§3.3).
type MessageType byte

const (
	TypeMethodCall   MessageType = 1
	TypeMethodReturn MessageType = 2
	TypeError        MessageType = 3
	TypeSignal       MessageType = 4
)

func (t MessageType) String() string {
	switch t {
	case TypeMethodCall:
		return "METHOD_CALL"
	case TypeMethodReturn:
		return "METHOD_RETURN"
	case TypeError:
		return "ERROR"
	case TypeSignal:
		return "SIGNAL"
	default:
		return "UNKNOWN"
	}
}

// Flags is a bitset of the message flags named in §3.3.
type Flags byte

const (
	FlagNoReplyExpected               Flags = 1 << 0
	FlagNoAutoStart                   Flags = 1 << 1
	FlagAllowInteractiveAuthorization Flags = 1 << 2
)

// Message is the closed sum of the four message variants described in
// §3.2/§9: which fields apply is governed by Type, and accessors for the
// shared fields (Serial, Sig, Body) live on the enclosing struct rather
// than behind virtual dispatch, per the §9 design note. Direction is
// tracked separately (Inbound) since it changes which of
// Destination/Sender is meaningful, not the message's Type.
type Message struct {
	Type  MessageType
	Flags Flags

	// Serial is non-zero and unique per sender for the connection's
	// lifetime (§3.2). Assigned by the bridge on outbound send.
	Serial uint32

	// Path/Member/Interface apply to MethodCall and Signal.
	Path      ObjectPath
	Interface string
	Member    string

	// ErrorName applies to Error.
	ErrorName string

	// ReplySerial applies to MethodReturn and Error.
	ReplySerial uint32

	// Destination is meaningful on outbound messages of every type;
	// Sender is populated by the bus on inbound messages.
	Destination string
	Sender      string

	Inbound bool

	// ReplyExpected applies to MethodCall; it is the logical inverse of
	// FlagNoReplyExpected once the message has been assembled, exposed
	// separately because builders default it to true.
	ReplyExpected bool
	// Timeout overrides the connection's default method-call timeout
	// (§5 "Timeouts"); nil means use the default.
	Timeout *time.Duration

	// Sig/Body: signature presence if and only if body presence (§3.2).
	Sig  []DType
	Body []Value
}

// HasBody reports whether the message carries a non-empty signature and
// body (§3.2 invariant: "both or neither").
func (m *Message) HasBody() bool { return len(m.Sig) > 0 }

// SignatureString renders Sig back to its wire string form.
func (m *Message) SignatureString() string { return Signature(m.Sig) }

// Validate enforces the construction-time invariants of §3.2: non-blank
// names, iface required on signals, reply_serial present on
// returns/errors, sender required on inbound messages, destination
// non-blank if present, and signature/body must both be present or both
// absent.
func (m *Message) Validate() error {
	if len(m.Sig) == 0 && len(m.Body) != 0 {
		return newErr(CodeInvalidMessageField, "validate message", fmt.Errorf("body present without a signature"))
	}
	if len(m.Sig) != 0 && len(m.Body) == 0 {
		return newErr(CodeInvalidMessageField, "validate message", fmt.Errorf("signature present without a body"))
	}
	if m.Destination != "" && strings.TrimSpace(m.Destination) == "" {
		return newErr(CodeInvalidMessageField, "validate message", fmt.Errorf("destination must be non-blank if present"))
	}

	switch m.Type {
	case TypeMethodCall:
		if m.Path == "" {
			return newErr(CodeInvalidMessageField, "validate method call", fmt.Errorf("path must not be blank"))
		}
		if err := validateObjectPath(string(m.Path)); err != nil {
			return newErr(CodeInvalidMessageField, "validate method call", err)
		}
		if m.Member == "" {
			return newErr(CodeInvalidMessageField, "validate method call", fmt.Errorf("member must not be blank"))
		}
	case TypeMethodReturn:
		if m.ReplySerial == 0 {
			return newErr(CodeInvalidMessageField, "validate method return", fmt.Errorf("reply_serial must be present"))
		}
	case TypeError:
		if m.ErrorName == "" {
			return newErr(CodeInvalidMessageField, "validate error", fmt.Errorf("error_name must not be blank"))
		}
		if m.ReplySerial == 0 {
			return newErr(CodeInvalidMessageField, "validate error", fmt.Errorf("reply_serial must be present"))
		}
	case TypeSignal:
		if m.Path == "" {
			return newErr(CodeInvalidMessageField, "validate signal", fmt.Errorf("path must not be blank"))
		}
		if err := validateObjectPath(string(m.Path)); err != nil {
			return newErr(CodeInvalidMessageField, "validate signal", err)
		}
		if m.Interface == "" {
			return newErr(CodeInvalidMessageField, "validate signal", fmt.Errorf("interface is required on signals"))
		}
		if m.Member == "" {
			return newErr(CodeInvalidMessageField, "validate signal", fmt.Errorf("member must not be blank"))
		}
	default:
		return newErr(CodeInvalidMessageField, "validate message", fmt.Errorf("unknown message type %d", m.Type))
	}

	if m.Inbound && m.Sender == "" {
		return newErr(CodeInvalidMessageField, "validate message", fmt.Errorf("sender must be present on inbound messages"))
	}

	return nil
}

// MethodCallOption configures NewMethodCall.
type MethodCallOption func(*Message)

// WithInterface sets the optional Interface field of a method call, or
// the required one of a signal.
func WithInterface(iface string) MethodCallOption {
	return func(m *Message) { m.Interface = iface }
}

// WithDestination sets the message's Destination.
func WithDestination(dest string) MethodCallOption {
	return func(m *Message) { m.Destination = dest }
}

// WithBody attaches a signature and body to the message.
func WithBody(sig []DType, body []Value) MethodCallOption {
	return func(m *Message) {
		m.Sig = sig
		m.Body = body
	}
}

// WithNoReply sets FlagNoReplyExpected and ReplyExpected=false.
func WithNoReply() MethodCallOption {
	return func(m *Message) {
		m.Flags |= FlagNoReplyExpected
		m.ReplyExpected = false
	}
}

// WithCallTimeout overrides the default method-call timeout (§5).
func WithCallTimeout(d time.Duration) MethodCallOption {
	return func(m *Message) { m.Timeout = &d }
}

// NewMethodCall builds an outbound MethodCall (§3.2).
func NewMethodCall(path ObjectPath, member string, opts ...MethodCallOption) (Message, error) {
	m := Message{
		Type:          TypeMethodCall,
		Path:          path,
		Member:        member,
		ReplyExpected: true,
	}
	for _, opt := range opts {
		opt(&m)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// NewMethodReturn builds an outbound MethodReturn replying to replySerial.
func NewMethodReturn(replySerial uint32, opts ...MethodCallOption) (Message, error) {
	m := Message{
		Type:        TypeMethodReturn,
		ReplySerial: replySerial,
	}
	for _, opt := range opts {
		opt(&m)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// NewErrorMessage builds an outbound Error replying to replySerial.
func NewErrorMessage(errorName string, replySerial uint32, opts ...MethodCallOption) (Message, error) {
	m := Message{
		Type:        TypeError,
		ErrorName:   errorName,
		ReplySerial: replySerial,
	}
	for _, opt := range opts {
		opt(&m)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// NewSignal builds an outbound Signal (§3.2: interface is required).
func NewSignal(path ObjectPath, iface, member string, opts ...MethodCallOption) (Message, error) {
	m := Message{
		Type:      TypeSignal,
		Path:      path,
		Interface: iface,
		Member:    member,
		Flags:     FlagNoReplyExpected,
	}
	for _, opt := range opts {
		opt(&m)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}
