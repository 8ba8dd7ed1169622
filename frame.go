package dbusclient

// HeaderFieldCode identifies an entry in a frame's header-field
// dictionary (§3.3, §4.2).
type HeaderFieldCode byte

const (
	FieldPath         HeaderFieldCode = 1
	FieldInterface    HeaderFieldCode = 2
	FieldMember       HeaderFieldCode = 3
	FieldErrorName    HeaderFieldCode = 4
	FieldReplySerial  HeaderFieldCode = 5
	FieldDestination  HeaderFieldCode = 6
	FieldSender       HeaderFieldCode = 7
	FieldSignature    HeaderFieldCode = 8
	FieldUnixFDs      HeaderFieldCode = 9
)

// protocolVersion is the only D-Bus protocol major version this client
// speaks (§4.2).
const protocolVersion = 1

// Frame is a parsed message frame (§3.3): the fixed prologue, the
// header-field dictionary, and the raw body bytes. Header-field values
// are stored unwrapped (the VARIANT layer is an encoding detail, not
// part of the logical value); §9's open question on unknown header-field
// codes is resolved here by simply storing whatever code was seen,
// without requiring it be one of the named constants above.
type Frame struct {
	Endian          Endianness
	Type            MessageType
	Flags           Flags
	ProtocolVersion byte
	BodyLength      uint32
	Serial          uint32
	HeaderFields    map[HeaderFieldCode]Value
	Body            []byte
}
