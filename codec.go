package dbusclient

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/marselester/dbusclient/internal/stringintern"
)

// Endianness is the wire byte-order marker (§4.1): 'l' (0x6C) for
// little-endian, 'B' (0x42) for big-endian.
type Endianness byte

const (
	LittleEndian Endianness = 'l'
	BigEndian    Endianness = 'B'
)

func (e Endianness) order() (binary.ByteOrder, error) {
	switch e {
	case LittleEndian:
		return binary.LittleEndian, nil
	case BigEndian:
		return binary.BigEndian, nil
	default:
		return nil, newErr(CodeUnsupportedProtocolVersion, "byte order", fmt.Errorf("unknown endianness marker %q", byte(e)))
	}
}

const (
	maxArrayBytes = 64 * 1024 * 1024  // §4.1, §6.1
	maxFrameBytes = 128 * 1024 * 1024 // §4.2, §6.1
)

// nextOffset returns the next aligned byte position and the padding
// needed to get there, as in the teacher's decoder (§8 "Alignment").
func nextOffset(current, align uint32) (next, padding uint32) {
	if align <= 1 || current%align == 0 {
		return current, 0
	}
	next = (current + align - 1) &^ (align - 1)
	return next, next - current
}

// encoder is a stateful byte-order-aware writer that tracks the logical
// offset needed to compute alignment padding, in the teacher's manner
// (encoder.go) generalized to every D-Bus primitive.
type encoder struct {
	order  binary.ByteOrder
	endian Endianness
	dst    *bytes.Buffer
	offset uint32
}

func newEncoder(endian Endianness, offset uint32) (*encoder, error) {
	order, err := endian.order()
	if err != nil {
		return nil, err
	}
	return &encoder{order: order, endian: endian, dst: &bytes.Buffer{}, offset: offset}, nil
}

func (e *encoder) Offset() uint32 { return e.offset }

func (e *encoder) Bytes() []byte { return e.dst.Bytes() }

// Align writes zero padding up to the next multiple of n.
func (e *encoder) Align(n uint32) {
	next, padding := nextOffset(e.offset, n)
	if padding == 0 {
		return
	}
	e.dst.Write(make([]byte, padding))
	e.offset = next
}

func (e *encoder) Byte(b byte) {
	e.dst.WriteByte(b)
	e.offset++
}

func (e *encoder) Boolean(b bool) {
	if b {
		e.Uint32(1)
	} else {
		e.Uint32(0)
	}
}

func (e *encoder) Int16(n int16) { e.Uint16(uint16(n)) }

func (e *encoder) Uint16(n uint16) {
	e.Align(2)
	var b [2]byte
	e.order.PutUint16(b[:], n)
	e.dst.Write(b[:])
	e.offset += 2
}

func (e *encoder) Int32(n int32) { e.Uint32(uint32(n)) }

func (e *encoder) Uint32(n uint32) {
	e.Align(4)
	var b [4]byte
	e.order.PutUint32(b[:], n)
	e.dst.Write(b[:])
	e.offset += 4
}

func (e *encoder) Int64(n int64) { e.Uint64(uint64(n)) }

func (e *encoder) Uint64(n uint64) {
	e.Align(8)
	var b [8]byte
	e.order.PutUint64(b[:], n)
	e.dst.Write(b[:])
	e.offset += 8
}

func (e *encoder) Double(f float64) { e.Uint64(math.Float64bits(f)) }

func (e *encoder) UnixFd(fd uint32) { e.Uint32(fd) }

// String encodes D-Bus STRING/OBJECT_PATH: u32 length, UTF-8 body, NUL.
func (e *encoder) String(s string) {
	e.Uint32(uint32(len(s)))
	e.dst.WriteString(s)
	e.dst.WriteByte(0)
	e.offset += uint32(len(s)) + 1
}

// Signature encodes D-Bus SIGNATURE: u8 length, ASCII body, NUL.
func (e *encoder) Signature(s string) {
	e.Byte(byte(len(s)))
	e.dst.WriteString(s)
	e.dst.WriteByte(0)
	e.offset += uint32(len(s)) + 1
}

// Uint32At overwrites a previously written uint32 at a fixed byte offset
// within dst, used to backpatch array/body lengths (teacher's header.go
// pattern).
func (e *encoder) Uint32At(v uint32, at int) error {
	b := e.dst.Bytes()
	if at < 0 || at+4 > len(b) {
		return fmt.Errorf("Uint32At: offset %d out of range", at)
	}
	e.order.PutUint32(b[at:at+4], v)
	return nil
}

// decoder is a stateful byte-order-aware reader mirroring encoder, in the
// teacher's manner (decoder.go) generalized to every D-Bus primitive and
// to strict zero-padding verification (§4.1).
type decoder struct {
	order  binary.ByteOrder
	endian Endianness
	src    io.Reader
	offset uint32

	// intern batches decoded string/signature bytes to cut allocations
	// (teacher's stringConverter, generalized in internal/stringintern).
	// Nil falls back to a plain string conversion per call.
	intern *stringintern.Interner
}

func newDecoder(src io.Reader, endian Endianness, offset uint32) (*decoder, error) {
	order, err := endian.order()
	if err != nil {
		return nil, err
	}
	return &decoder{order: order, endian: endian, src: src, offset: offset}, nil
}

// withInterner returns d configured to intern decoded strings through
// in, for use on the hot inbound-frame path (§5 "I/O executor").
func (d *decoder) withInterner(in *stringintern.Interner) *decoder {
	d.intern = in
	return d
}

func (d *decoder) internString(b []byte) string {
	if d.intern != nil {
		return d.intern.String(b)
	}
	return string(b)
}

func (d *decoder) Offset() uint32 { return d.offset }

// ReadN reads exactly n raw bytes, not advancing alignment beyond the
// bytes actually consumed.
func (d *decoder) ReadN(n uint32) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(d.src, b); err != nil {
		return nil, newErr(CodeUnexpectedEOF, "read", err)
	}
	d.offset += n
	return b, nil
}

// Align discards alignment padding, requiring every padding byte to be
// zero (§4.1: "non-zero padding fails InvalidPadding").
func (d *decoder) Align(n uint32) error {
	_, padding := nextOffset(d.offset, n)
	if padding == 0 {
		return nil
	}
	b, err := d.ReadN(padding)
	if err != nil {
		return err
	}
	for _, c := range b {
		if c != 0 {
			return newErr(CodeInvalidPadding, "align", fmt.Errorf("non-zero padding byte %#x", c))
		}
	}
	return nil
}

func (d *decoder) Byte() (byte, error) {
	b, err := d.ReadN(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *decoder) Boolean() (bool, error) {
	u, err := d.Uint32()
	if err != nil {
		return false, err
	}
	switch u {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, newErr(CodeInvalidBoolean, "decode boolean", fmt.Errorf("value %d is neither 0 nor 1", u))
	}
}

func (d *decoder) Int16() (int16, error) {
	u, err := d.Uint16()
	return int16(u), err
}

func (d *decoder) Uint16() (uint16, error) {
	if err := d.Align(2); err != nil {
		return 0, err
	}
	b, err := d.ReadN(2)
	if err != nil {
		return 0, err
	}
	return d.order.Uint16(b), nil
}

func (d *decoder) Int32() (int32, error) {
	u, err := d.Uint32()
	return int32(u), err
}

func (d *decoder) Uint32() (uint32, error) {
	if err := d.Align(4); err != nil {
		return 0, err
	}
	b, err := d.ReadN(4)
	if err != nil {
		return 0, err
	}
	return d.order.Uint32(b), nil
}

func (d *decoder) Int64() (int64, error) {
	u, err := d.Uint64()
	return int64(u), err
}

func (d *decoder) Uint64() (uint64, error) {
	if err := d.Align(8); err != nil {
		return 0, err
	}
	b, err := d.ReadN(8)
	if err != nil {
		return 0, err
	}
	return d.order.Uint64(b), nil
}

func (d *decoder) Double() (float64, error) {
	u, err := d.Uint64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(u), nil
}

func (d *decoder) UnixFd() (uint32, error) { return d.Uint32() }

// String decodes D-Bus STRING/OBJECT_PATH: u32 length (not including the
// trailing NUL), UTF-8 body, NUL.
func (d *decoder) String() (string, error) {
	n, err := d.Uint32()
	if err != nil {
		return "", err
	}
	b, err := d.ReadN(n + 1)
	if err != nil {
		return "", err
	}
	if b[n] != 0 {
		return "", newErr(CodeInvalidUTF8, "decode string", fmt.Errorf("missing trailing NUL"))
	}
	s := d.internString(b[:n])
	if err := validateDBusString(s); err != nil {
		return "", newErr(CodeInvalidUTF8, "decode string", err)
	}
	return s, nil
}

// Signature decodes D-Bus SIGNATURE: u8 length, ASCII body, NUL. Grammar
// validation is the caller's responsibility via ParseSignature.
func (d *decoder) Signature() (string, error) {
	n, err := d.Byte()
	if err != nil {
		return "", err
	}
	b, err := d.ReadN(uint32(n) + 1)
	if err != nil {
		return "", err
	}
	if b[n] != 0 {
		return "", newErr(CodeInvalidSignature, "decode signature", fmt.Errorf("missing trailing NUL"))
	}
	return string(b[:n]), nil
}
