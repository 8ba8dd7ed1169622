package dbusclient

import (
	"bytes"
	"fmt"
)

// EncodeValue implements the §4.1 "Encoder contract": it encodes v as if
// writing started at byte offset, in the given endianness, and returns
// the produced bytes (including any padding prepended to reach v's
// alignment from offset) plus the produced length.
func EncodeValue(v Value, offset uint32, order Endianness) ([]byte, int, error) {
	e, err := newEncoder(order, offset)
	if err != nil {
		return nil, 0, err
	}
	if err := encodeValue(e, v); err != nil {
		return nil, 0, err
	}
	return e.Bytes(), e.dst.Len(), nil
}

// DecodeValue implements the §4.1 "Decoder contract": it decodes a value
// of type t from buf as if reading started at byte offset, and returns
// the value plus the number of bytes consumed (including leading
// padding).
func DecodeValue(buf []byte, offset uint32, t DType, order Endianness) (Value, int, error) {
	d, err := newDecoder(bytes.NewReader(buf), order, offset)
	if err != nil {
		return Value{}, 0, err
	}
	v, err := decodeValue(d, t)
	if err != nil {
		return Value{}, 0, err
	}
	return v, int(d.Offset() - offset), nil
}

func encodeValue(e *encoder, v Value) error {
	switch v.typ.Kind {
	case KindByte:
		b, _ := v.ByteValue()
		e.Byte(b)
	case KindBoolean:
		b, _ := v.BoolValue()
		e.Boolean(b)
	case KindInt16:
		n, _ := v.Int16Value()
		e.Int16(n)
	case KindUint16:
		n, _ := v.Uint16Value()
		e.Uint16(n)
	case KindInt32:
		n, _ := v.Int32Value()
		e.Int32(n)
	case KindUint32:
		n, _ := v.Uint32Value()
		e.Uint32(n)
	case KindInt64:
		n, _ := v.Int64Value()
		e.Int64(n)
	case KindUint64:
		n, _ := v.Uint64Value()
		e.Uint64(n)
	case KindDouble:
		f, _ := v.DoubleValue()
		e.Double(f)
	case KindUnixFd:
		fd, _ := v.UnixFdValue()
		e.UnixFd(fd)
	case KindString:
		s, _ := v.StringValue()
		e.String(s)
	case KindObjectPath:
		s, _ := v.StringValue()
		e.String(s)
	case KindSignature:
		s, _ := v.StringValue()
		if len(s) > 255 {
			return newErr(CodeInvalidSignature, "encode signature", fmt.Errorf("signature longer than 255 bytes"))
		}
		e.Signature(s)
	case KindArray:
		return encodeArray(e, v)
	case KindStruct:
		return encodeStruct(e, v)
	case KindDictEntry:
		return encodeDictEntry(e, v)
	case KindVariant:
		return encodeVariant(e, v)
	default:
		return newErr(CodeTypeMismatch, "encode value", fmt.Errorf("unknown kind %d", v.typ.Kind))
	}
	return nil
}

func decodeValue(d *decoder, t DType) (Value, error) {
	switch t.Kind {
	case KindByte:
		b, err := d.Byte()
		if err != nil {
			return Value{}, err
		}
		return NewByte(b), nil
	case KindBoolean:
		b, err := d.Boolean()
		if err != nil {
			return Value{}, err
		}
		return NewBoolean(b), nil
	case KindInt16:
		n, err := d.Int16()
		if err != nil {
			return Value{}, err
		}
		return NewInt16(n), nil
	case KindUint16:
		n, err := d.Uint16()
		if err != nil {
			return Value{}, err
		}
		return NewUint16(n), nil
	case KindInt32:
		n, err := d.Int32()
		if err != nil {
			return Value{}, err
		}
		return NewInt32(n), nil
	case KindUint32:
		n, err := d.Uint32()
		if err != nil {
			return Value{}, err
		}
		return NewUint32(n), nil
	case KindInt64:
		n, err := d.Int64()
		if err != nil {
			return Value{}, err
		}
		return NewInt64(n), nil
	case KindUint64:
		n, err := d.Uint64()
		if err != nil {
			return Value{}, err
		}
		return NewUint64(n), nil
	case KindDouble:
		f, err := d.Double()
		if err != nil {
			return Value{}, err
		}
		return NewDouble(f), nil
	case KindUnixFd:
		fd, err := d.UnixFd()
		if err != nil {
			return Value{}, err
		}
		return NewUnixFd(fd), nil
	case KindString:
		s, err := d.String()
		if err != nil {
			return Value{}, err
		}
		return NewString(s)
	case KindObjectPath:
		s, err := d.String()
		if err != nil {
			return Value{}, err
		}
		return NewObjectPath(s)
	case KindSignature:
		s, err := d.Signature()
		if err != nil {
			return Value{}, err
		}
		return NewSignature(s)
	case KindArray:
		return decodeArray(d, *t.Elem)
	case KindStruct:
		return decodeStruct(d, t.Fields)
	case KindDictEntry:
		return decodeDictEntry(d, *t.Key, *t.Val)
	case KindVariant:
		return decodeVariant(d)
	default:
		return Value{}, newErr(CodeTypeMismatch, "decode value", fmt.Errorf("unknown kind %d", t.Kind))
	}
}

// encodeArray lays out: align(4), u32 byte-length, align(elem), elements
// back to back each self-aligning, per §4.1.
func encodeArray(e *encoder, v Value) error {
	elem := *v.typ.Elem
	vals, _ := v.ArrayValue()

	e.Align(4)
	e.Uint32(0) // placeholder, patched below
	lenAt := e.dst.Len() - 4

	e.Align(elem.Alignment())
	start := e.Offset()

	for _, el := range vals {
		if err := encodeValue(e, el); err != nil {
			return err
		}
	}

	byteLen := e.Offset() - start
	if byteLen > maxArrayBytes {
		return newErr(CodeSizeLimitExceeded, "encode array", fmt.Errorf("array payload %d bytes exceeds %d byte limit", byteLen, maxArrayBytes))
	}
	if err := e.Uint32At(byteLen, lenAt); err != nil {
		return newErr(CodeSizeLimitExceeded, "encode array", err)
	}
	return nil
}

func decodeArray(d *decoder, elem DType) (Value, error) {
	if err := d.Align(4); err != nil {
		return Value{}, err
	}
	byteLen, err := d.Uint32()
	if err != nil {
		return Value{}, err
	}
	if byteLen > maxArrayBytes {
		return Value{}, newErr(CodeSizeLimitExceeded, "decode array", fmt.Errorf("array payload %d bytes exceeds %d byte limit", byteLen, maxArrayBytes))
	}
	if err := d.Align(elem.Alignment()); err != nil {
		return Value{}, err
	}

	start := d.Offset()
	var vals []Value
	for d.Offset()-start < byteLen {
		v, err := decodeValue(d, elem)
		if err != nil {
			return Value{}, err
		}
		vals = append(vals, v)
	}
	if d.Offset()-start != byteLen {
		return Value{}, newErr(CodeUnexpectedEOF, "decode array", fmt.Errorf("array element boundary does not match declared length"))
	}

	return NewArray(elem, vals)
}

func encodeStruct(e *encoder, v Value) error {
	e.Align(8)
	fields, _ := v.StructFields()
	for _, f := range fields {
		if err := encodeValue(e, f); err != nil {
			return err
		}
	}
	return nil
}

func decodeStruct(d *decoder, fieldTypes []DType) (Value, error) {
	if err := d.Align(8); err != nil {
		return Value{}, err
	}
	vals := make([]Value, len(fieldTypes))
	for i, ft := range fieldTypes {
		v, err := decodeValue(d, ft)
		if err != nil {
			return Value{}, err
		}
		vals[i] = v
	}
	return NewStruct(fieldTypes, vals)
}

func encodeDictEntry(e *encoder, v Value) error {
	e.Align(8)
	k, val, _ := v.DictEntryValue()
	if err := encodeValue(e, k); err != nil {
		return err
	}
	return encodeValue(e, val)
}

func decodeDictEntry(d *decoder, key, val DType) (Value, error) {
	if err := d.Align(8); err != nil {
		return Value{}, err
	}
	k, err := decodeValue(d, key)
	if err != nil {
		return Value{}, err
	}
	v, err := decodeValue(d, val)
	if err != nil {
		return Value{}, err
	}
	return NewDictEntry(key, val, k, v)
}

func encodeVariant(e *encoder, v Value) error {
	inner, _ := v.VariantValue()
	sig := inner.typ.String()
	if len(sig) > 255 {
		return newErr(CodeInvalidSignature, "encode variant", fmt.Errorf("inner signature longer than 255 bytes"))
	}
	e.Signature(sig)
	return encodeValue(e, inner)
}

func decodeVariant(d *decoder) (Value, error) {
	sig, err := d.Signature()
	if err != nil {
		return Value{}, err
	}
	types, err := ParseSignature(sig)
	if err != nil {
		return Value{}, err
	}
	if len(types) != 1 {
		return Value{}, newErr(CodeInvalidSignature, "decode variant", fmt.Errorf("variant signature %q is not exactly one complete type", sig))
	}
	inner, err := decodeValue(d, types[0])
	if err != nil {
		return Value{}, err
	}
	return NewVariant(inner), nil
}
