package dbusclient

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"github.com/marselester/dbusclient/internal/stringintern"
)

// messagePrologueSize is the length of the frame up to and including the
// u32 header-fields array length, as in the teacher's header.go.
const messagePrologueSize = 16

// headerFieldEntryType is the "(yv)" struct describing one header field.
var headerFieldEntryType = TStruct(TByte, TVariant)

// DecodeFrame reads and validates one complete frame from r (§4.2
// "Decode").
func DecodeFrame(r io.Reader) (*Frame, error) {
	var head [messagePrologueSize]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, newErr(CodeUnexpectedEOF, "decode frame", err)
	}

	endian := Endianness(head[0])
	order, err := endian.order()
	if err != nil {
		return nil, newErr(CodeUnsupportedProtocolVersion, "decode frame", err)
	}

	version := head[3]
	if version != protocolVersion {
		return nil, newErr(CodeUnsupportedProtocolVersion, "decode frame", fmt.Errorf("protocol version %d, want %d", version, protocolVersion))
	}

	typ := MessageType(head[1])
	flags := Flags(head[2])
	bodyLen := order.Uint32(head[4:8])
	serial := order.Uint32(head[8:12])
	fieldsLen := order.Uint32(head[12:16])

	if bodyLen > maxFrameBytes {
		return nil, newErr(CodeSizeLimitExceeded, "decode frame", fmt.Errorf("body length %d exceeds %d byte limit", bodyLen, maxFrameBytes))
	}

	d, err := newDecoder(r, endian, messagePrologueSize)
	if err != nil {
		return nil, err
	}

	fields := make(map[HeaderFieldCode]Value)
	start := d.Offset()
	for d.Offset()-start < fieldsLen {
		entry, err := decodeStruct(d, headerFieldEntryType.Fields)
		if err != nil {
			return nil, newErr(CodeMissingRequiredHeader, "decode frame", err)
		}
		fv, _ := entry.StructFields()
		code, _ := fv[0].ByteValue()
		val, _ := fv[1].VariantValue()
		fields[HeaderFieldCode(code)] = val
	}
	if d.Offset()-start != fieldsLen {
		return nil, newErr(CodeUnexpectedEOF, "decode frame", fmt.Errorf("header field array boundary mismatch"))
	}

	if err := d.Align(8); err != nil {
		return nil, err
	}

	if err := validateMandatoryFields(typ, fields); err != nil {
		return nil, err
	}
	if err := validateSignaturePresence(bodyLen, fields); err != nil {
		return nil, err
	}

	body, err := d.ReadN(bodyLen)
	if err != nil {
		return nil, err
	}

	return &Frame{
		Endian:          endian,
		Type:            typ,
		Flags:           flags,
		ProtocolVersion: version,
		BodyLength:      bodyLen,
		Serial:          serial,
		HeaderFields:    fields,
		Body:            body,
	}, nil
}

// EncodeFrame serializes f (§4.2 "Encode").
func EncodeFrame(f *Frame) ([]byte, error) {
	if f.ProtocolVersion != protocolVersion {
		return nil, newErr(CodeUnsupportedProtocolVersion, "encode frame", fmt.Errorf("protocol version %d, want %d", f.ProtocolVersion, protocolVersion))
	}
	if f.BodyLength > maxFrameBytes {
		return nil, newErr(CodeSizeLimitExceeded, "encode frame", fmt.Errorf("body length %d exceeds %d byte limit", f.BodyLength, maxFrameBytes))
	}
	if err := validateMandatoryFields(f.Type, f.HeaderFields); err != nil {
		return nil, err
	}

	e, err := newEncoder(f.Endian, 0)
	if err != nil {
		return nil, err
	}

	e.Byte(byte(f.Endian))
	e.Byte(byte(f.Type))
	e.Byte(byte(f.Flags))
	e.Byte(f.ProtocolVersion)
	e.Uint32(f.BodyLength)
	e.Uint32(f.Serial)
	e.Uint32(0) // header-fields length, patched below
	lenAt := e.dst.Len() - 4

	codes := make([]int, 0, len(f.HeaderFields))
	for c := range f.HeaderFields {
		codes = append(codes, int(c))
	}
	sort.Ints(codes)

	start := e.Offset()
	for _, c := range codes {
		code := HeaderFieldCode(c)
		entry, err := NewStruct(headerFieldEntryType.Fields, []Value{NewByte(byte(code)), NewVariant(f.HeaderFields[code])})
		if err != nil {
			return nil, err
		}
		if err := encodeValue(e, entry); err != nil {
			return nil, err
		}
	}
	fieldsLen := e.Offset() - start
	if err := e.Uint32At(fieldsLen, lenAt); err != nil {
		return nil, newErr(CodeSizeLimitExceeded, "encode frame", err)
	}

	e.Align(8)
	e.dst.Write(f.Body)

	return e.Bytes(), nil
}

// validateMandatoryFields enforces the §4.2 table of required header
// fields per message type.
func validateMandatoryFields(t MessageType, fields map[HeaderFieldCode]Value) error {
	has := func(codes ...HeaderFieldCode) error {
		for _, c := range codes {
			if _, ok := fields[c]; !ok {
				return newErr(CodeMissingRequiredHeader, "validate header", fmt.Errorf("message type %s is missing required header field %d", t, c))
			}
		}
		return nil
	}
	switch t {
	case TypeMethodCall:
		return has(FieldPath, FieldMember)
	case TypeMethodReturn:
		return has(FieldReplySerial)
	case TypeError:
		return has(FieldErrorName, FieldReplySerial)
	case TypeSignal:
		return has(FieldPath, FieldInterface, FieldMember)
	default:
		return newErr(CodeUnsupportedProtocolVersion, "validate header", fmt.Errorf("unknown message type %d", t))
	}
}

// validateSignaturePresence enforces §4.2: the SIGNATURE field must be
// present whenever body_length > 0, and if present while body_length is
// 0 it must be empty.
func validateSignaturePresence(bodyLen uint32, fields map[HeaderFieldCode]Value) error {
	sigVal, hasSig := fields[FieldSignature]
	if bodyLen > 0 && !hasSig {
		return newErr(CodeMissingRequiredHeader, "validate header", fmt.Errorf("body present but SIGNATURE header field is missing"))
	}
	if bodyLen == 0 && hasSig {
		s, _ := sigVal.StringValue()
		if s != "" {
			return newErr(CodeBodySignatureMismatch, "validate header", fmt.Errorf("SIGNATURE %q present with empty body", s))
		}
	}
	return nil
}

// FrameToMessage converts a decoded Frame into an inbound Message (C3
// "Message <-> frame").
func FrameToMessage(f *Frame) (*Message, error) {
	return frameToMessage(f, nil)
}

// FrameToMessageInterned is FrameToMessage but interns decoded body
// strings through in, for use on the hot inbound-frame path (§5 "I/O
// executor").
func FrameToMessageInterned(f *Frame, in *stringintern.Interner) (*Message, error) {
	return frameToMessage(f, in)
}

func frameToMessage(f *Frame, in *stringintern.Interner) (*Message, error) {
	m := &Message{
		Type:    f.Type,
		Flags:   f.Flags,
		Serial:  f.Serial,
		Inbound: true,
	}
	if f.Type == TypeMethodCall {
		m.ReplyExpected = f.Flags&FlagNoReplyExpected == 0
	}

	if v, ok := f.HeaderFields[FieldPath]; ok {
		s, _ := v.StringValue()
		m.Path = ObjectPath(s)
	}
	if v, ok := f.HeaderFields[FieldInterface]; ok {
		m.Interface, _ = v.StringValue()
	}
	if v, ok := f.HeaderFields[FieldMember]; ok {
		m.Member, _ = v.StringValue()
	}
	if v, ok := f.HeaderFields[FieldErrorName]; ok {
		m.ErrorName, _ = v.StringValue()
	}
	if v, ok := f.HeaderFields[FieldReplySerial]; ok {
		m.ReplySerial, _ = v.Uint32Value()
	}
	if v, ok := f.HeaderFields[FieldDestination]; ok {
		m.Destination, _ = v.StringValue()
	}
	if v, ok := f.HeaderFields[FieldSender]; ok {
		m.Sender, _ = v.StringValue()
	}

	if v, ok := f.HeaderFields[FieldSignature]; ok {
		sigStr, _ := v.StringValue()
		if sigStr != "" {
			types, err := ParseSignature(sigStr)
			if err != nil {
				return nil, err
			}
			m.Sig = types
			body, err := decodeBody(f.Body, types, f.Endian, in)
			if err != nil {
				return nil, err
			}
			m.Body = body
		}
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// MessageToFrame converts an outbound Message into a Frame ready for
// EncodeFrame, using endian for the wire byte order.
func MessageToFrame(m *Message, endian Endianness) (*Frame, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	fields := make(map[HeaderFieldCode]Value)
	if m.Path != "" {
		v, err := NewObjectPath(string(m.Path))
		if err != nil {
			return nil, err
		}
		fields[FieldPath] = v
	}
	if m.Interface != "" {
		v, err := NewString(m.Interface)
		if err != nil {
			return nil, err
		}
		fields[FieldInterface] = v
	}
	if m.Member != "" {
		v, err := NewString(m.Member)
		if err != nil {
			return nil, err
		}
		fields[FieldMember] = v
	}
	if m.ErrorName != "" {
		v, err := NewString(m.ErrorName)
		if err != nil {
			return nil, err
		}
		fields[FieldErrorName] = v
	}
	if m.ReplySerial != 0 {
		fields[FieldReplySerial] = NewUint32(m.ReplySerial)
	}
	if m.Destination != "" {
		v, err := NewString(m.Destination)
		if err != nil {
			return nil, err
		}
		fields[FieldDestination] = v
	}
	if m.Sender != "" {
		v, err := NewString(m.Sender)
		if err != nil {
			return nil, err
		}
		fields[FieldSender] = v
	}

	flags := m.Flags
	if m.Type == TypeMethodCall && !m.ReplyExpected {
		flags |= FlagNoReplyExpected
	}

	var body []byte
	if len(m.Sig) > 0 {
		sigStr := Signature(m.Sig)
		v, err := NewSignature(sigStr)
		if err != nil {
			return nil, err
		}
		fields[FieldSignature] = v

		b, err := encodeBody(m.Body, endian)
		if err != nil {
			return nil, err
		}
		body = b
	}

	return &Frame{
		Endian:          endian,
		Type:            m.Type,
		Flags:           flags,
		ProtocolVersion: protocolVersion,
		BodyLength:      uint32(len(body)),
		Serial:          m.Serial,
		HeaderFields:    fields,
		Body:            body,
	}, nil
}

func decodeBody(buf []byte, types []DType, endian Endianness, in *stringintern.Interner) ([]Value, error) {
	d, err := newDecoder(bytes.NewReader(buf), endian, 0)
	if err != nil {
		return nil, err
	}
	d = d.withInterner(in)
	vals := make([]Value, len(types))
	for i, t := range types {
		v, err := decodeValue(d, t)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}

func encodeBody(vals []Value, endian Endianness) ([]byte, error) {
	e, err := newEncoder(endian, 0)
	if err != nil {
		return nil, err
	}
	for _, v := range vals {
		if err := encodeValue(e, v); err != nil {
			return nil, err
		}
	}
	return e.Bytes(), nil
}
