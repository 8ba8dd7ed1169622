package dbusclient

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Kind is the closed set of D-Bus wire type variants (§3.1).
type Kind byte

const (
	KindByte Kind = iota
	KindBoolean
	KindInt16
	KindUint16
	KindInt32
	KindUint32
	KindInt64
	KindUint64
	KindDouble
	KindUnixFd
	KindString
	KindObjectPath
	KindSignature
	KindArray
	KindStruct
	KindDictEntry
	KindVariant
)

// typeCode maps a Kind to its D-Bus signature character, where one exists
// (container kinds a/(/{ are handled separately since they take
// arguments).
var typeCode = map[Kind]byte{
	KindByte:       'y',
	KindBoolean:    'b',
	KindInt16:      'n',
	KindUint16:     'q',
	KindInt32:      'i',
	KindUint32:     'u',
	KindInt64:      'x',
	KindUint64:     't',
	KindDouble:     'd',
	KindUnixFd:     'h',
	KindString:     's',
	KindObjectPath: 'o',
	KindSignature:  'g',
	KindVariant:    'v',
}

// DType is a D-Bus type descriptor. Scalars are identified by Kind alone;
// Array carries Elem, Struct carries Fields, DictEntry carries Key/Val.
type DType struct {
	Kind   Kind
	Elem   *DType
	Fields []DType
	Key    *DType
	Val    *DType
}

// Scalar type constructors.
var (
	TByte       = DType{Kind: KindByte}
	TBoolean    = DType{Kind: KindBoolean}
	TInt16      = DType{Kind: KindInt16}
	TUint16     = DType{Kind: KindUint16}
	TInt32      = DType{Kind: KindInt32}
	TUint32     = DType{Kind: KindUint32}
	TInt64      = DType{Kind: KindInt64}
	TUint64     = DType{Kind: KindUint64}
	TDouble     = DType{Kind: KindDouble}
	TUnixFd     = DType{Kind: KindUnixFd}
	TString     = DType{Kind: KindString}
	TObjectPath = DType{Kind: KindObjectPath}
	TSignature  = DType{Kind: KindSignature}
	TVariant    = DType{Kind: KindVariant}
)

// TArray builds an Array(elem) type.
func TArray(elem DType) DType {
	e := elem
	return DType{Kind: KindArray, Elem: &e}
}

// TStruct builds a Struct(fields...) type.
func TStruct(fields ...DType) DType {
	fs := make([]DType, len(fields))
	copy(fs, fields)
	return DType{Kind: KindStruct, Fields: fs}
}

// TDictEntry builds a DictEntry(key,val) type. Per §3.1 this must only
// ever appear as the Elem of an Array.
func TDictEntry(key, val DType) DType {
	k, v := key, val
	return DType{Kind: KindDictEntry, Key: &k, Val: &v}
}

func (t DType) isBasic() bool {
	switch t.Kind {
	case KindByte, KindBoolean, KindInt16, KindUint16, KindInt32, KindUint32,
		KindInt64, KindUint64, KindDouble, KindUnixFd, KindString,
		KindObjectPath, KindSignature, KindVariant:
		return true
	default:
		return false
	}
}

// Alignment returns the wire alignment in bytes for t (§4.1).
func (t DType) Alignment() uint32 {
	switch t.Kind {
	case KindByte, KindSignature:
		return 1
	case KindInt16, KindUint16:
		return 2
	case KindBoolean, KindInt32, KindUint32, KindString, KindObjectPath, KindUnixFd:
		return 4
	case KindInt64, KindUint64, KindDouble:
		return 8
	case KindArray:
		return 4
	case KindStruct, KindDictEntry:
		return 8
	case KindVariant:
		return 1
	default:
		return 1
	}
}

// Equal reports whether t and u describe the same D-Bus type.
func (t DType) Equal(u DType) bool {
	if t.Kind != u.Kind {
		return false
	}
	switch t.Kind {
	case KindArray:
		return t.Elem.Equal(*u.Elem)
	case KindStruct:
		if len(t.Fields) != len(u.Fields) {
			return false
		}
		for i := range t.Fields {
			if !t.Fields[i].Equal(u.Fields[i]) {
				return false
			}
		}
		return true
	case KindDictEntry:
		return t.Key.Equal(*u.Key) && t.Val.Equal(*u.Val)
	default:
		return true
	}
}

// String renders t back into its D-Bus signature fragment.
func (t DType) String() string {
	var b strings.Builder
	t.writeTo(&b)
	return b.String()
}

func (t DType) writeTo(b *strings.Builder) {
	switch t.Kind {
	case KindArray:
		b.WriteByte('a')
		t.Elem.writeTo(b)
	case KindStruct:
		b.WriteByte('(')
		for _, f := range t.Fields {
			f.writeTo(b)
		}
		b.WriteByte(')')
	case KindDictEntry:
		// Only ever reached as the Elem of an Array, which already wrote
		// the leading 'a'; dict-entries render as "{key val}".
		b.WriteByte('{')
		t.Key.writeTo(b)
		t.Val.writeTo(b)
		b.WriteByte('}')
	default:
		b.WriteByte(typeCode[t.Kind])
	}
}

// Signature renders a sequence of types as a single signature string.
func Signature(types []DType) string {
	var b strings.Builder
	for _, t := range types {
		t.writeTo(&b)
	}
	return b.String()
}

// Value pairs a DType with its payload (§3.1).
type Value struct {
	typ DType

	b       byte
	boolean bool
	i16     int16
	u16     uint16
	i32     int32
	u32     uint32
	i64     int64
	u64     uint64
	f64     float64
	str     string // String, ObjectPath, Signature
	arr     []Value
	fields  []Value
	dictKey *Value
	dictVal *Value
	variant *Value
}

// Type returns the value's D-Bus type.
func (v Value) Type() DType { return v.typ }

func NewByte(b byte) Value       { return Value{typ: TByte, b: b} }
func NewBoolean(b bool) Value    { return Value{typ: TBoolean, boolean: b} }
func NewInt16(n int16) Value     { return Value{typ: TInt16, i16: n} }
func NewUint16(n uint16) Value   { return Value{typ: TUint16, u16: n} }
func NewInt32(n int32) Value     { return Value{typ: TInt32, i32: n} }
func NewUint32(n uint32) Value   { return Value{typ: TUint32, u32: n} }
func NewInt64(n int64) Value     { return Value{typ: TInt64, i64: n} }
func NewUint64(n uint64) Value   { return Value{typ: TUint64, u64: n} }
func NewDouble(f float64) Value  { return Value{typ: TDouble, f64: f} }
func NewUnixFd(fd uint32) Value  { return Value{typ: TUnixFd, u32: fd} }

// NewString validates UTF-8 without embedded NUL (§3.1).
func NewString(s string) (Value, error) {
	if err := validateDBusString(s); err != nil {
		return Value{}, newErr(CodeInvalidUTF8, "new string", err)
	}
	return Value{typ: TString, str: s}, nil
}

// NewObjectPath validates the object path grammar (§3.1).
func NewObjectPath(s string) (Value, error) {
	if err := validateObjectPath(s); err != nil {
		return Value{}, newErr(CodeInvalidMessageField, "new object path", err)
	}
	return Value{typ: TObjectPath, str: s}, nil
}

// NewSignature validates the signature grammar (§3.1).
func NewSignature(s string) (Value, error) {
	if len(s) > 255 {
		return Value{}, newErr(CodeInvalidSignature, "new signature", fmt.Errorf("signature longer than 255 bytes"))
	}
	if _, err := ParseSignature(s); err != nil {
		return Value{}, err
	}
	return Value{typ: TSignature, str: s}, nil
}

// NewArray validates every element's type equals elem before constructing
// the Array(elem) value (§3.1 invariant).
func NewArray(elem DType, vals []Value) (Value, error) {
	for i, el := range vals {
		if !el.typ.Equal(elem) {
			return Value{}, newErr(CodeTypeMismatch, "new array", fmt.Errorf("element %d has type %s, want %s", i, el.typ, elem))
		}
	}
	cp := make([]Value, len(vals))
	copy(cp, vals)
	return Value{typ: TArray(elem), arr: cp}, nil
}

// NewStruct validates each field's type against the struct's declared
// field types (§3.1 invariant).
func NewStruct(fields []DType, vals []Value) (Value, error) {
	if len(fields) != len(vals) {
		return Value{}, newErr(CodeTypeMismatch, "new struct", fmt.Errorf("%d fields declared, %d values given", len(fields), len(vals)))
	}
	for i := range fields {
		if !vals[i].typ.Equal(fields[i]) {
			return Value{}, newErr(CodeTypeMismatch, "new struct", fmt.Errorf("field %d has type %s, want %s", i, vals[i].typ, fields[i]))
		}
	}
	cp := make([]Value, len(vals))
	copy(cp, vals)
	return Value{typ: TStruct(fields...), fields: cp}, nil
}

// NewDictEntry validates the key is a basic type and both the key and
// value match the declared types (§3.1 invariant).
func NewDictEntry(key, val DType, k, v Value) (Value, error) {
	if !key.isBasic() {
		return Value{}, newErr(CodeTypeMismatch, "new dict entry", fmt.Errorf("dict-entry key type %s is not basic", key))
	}
	if !k.typ.Equal(key) {
		return Value{}, newErr(CodeTypeMismatch, "new dict entry", fmt.Errorf("key has type %s, want %s", k.typ, key))
	}
	if !v.typ.Equal(val) {
		return Value{}, newErr(CodeTypeMismatch, "new dict entry", fmt.Errorf("value has type %s, want %s", v.typ, val))
	}
	kk, vv := k, v
	return Value{typ: TDictEntry(key, val), dictKey: &kk, dictVal: &vv}, nil
}

// NewVariant wraps inner with no type restriction (§3.1).
func NewVariant(inner Value) Value {
	iv := inner
	return Value{typ: TVariant, variant: &iv}
}

// Accessors. Each returns (value, ok); ok is false when v is not of the
// requested kind.

func (v Value) ByteValue() (byte, bool)     { return v.b, v.typ.Kind == KindByte }
func (v Value) BoolValue() (bool, bool)     { return v.boolean, v.typ.Kind == KindBoolean }
func (v Value) Int16Value() (int16, bool)   { return v.i16, v.typ.Kind == KindInt16 }
func (v Value) Uint16Value() (uint16, bool) { return v.u16, v.typ.Kind == KindUint16 }
func (v Value) Int32Value() (int32, bool)   { return v.i32, v.typ.Kind == KindInt32 }
func (v Value) Uint32Value() (uint32, bool) { return v.u32, v.typ.Kind == KindUint32 }
func (v Value) Int64Value() (int64, bool)   { return v.i64, v.typ.Kind == KindInt64 }
func (v Value) Uint64Value() (uint64, bool) { return v.u64, v.typ.Kind == KindUint64 }
func (v Value) DoubleValue() (float64, bool) {
	return v.f64, v.typ.Kind == KindDouble
}
func (v Value) UnixFdValue() (uint32, bool) { return v.u32, v.typ.Kind == KindUnixFd }

// StringValue returns the payload for String, ObjectPath and Signature
// alike, since all three are string-shaped on the wire.
func (v Value) StringValue() (string, bool) {
	switch v.typ.Kind {
	case KindString, KindObjectPath, KindSignature:
		return v.str, true
	default:
		return "", false
	}
}

func (v Value) ArrayValue() ([]Value, bool) { return v.arr, v.typ.Kind == KindArray }
func (v Value) StructFields() ([]Value, bool) {
	return v.fields, v.typ.Kind == KindStruct
}
func (v Value) DictEntryValue() (key, val Value, ok bool) {
	if v.typ.Kind != KindDictEntry {
		return Value{}, Value{}, false
	}
	return *v.dictKey, *v.dictVal, true
}
func (v Value) VariantValue() (Value, bool) {
	if v.typ.Kind != KindVariant {
		return Value{}, false
	}
	return *v.variant, true
}

func validateDBusString(s string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("invalid UTF-8")
	}
	if strings.IndexByte(s, 0) != -1 {
		return fmt.Errorf("embedded NUL byte")
	}
	return nil
}

// validateObjectPath enforces §3.1: non-empty, starts with '/', segments
// match [A-Za-z0-9_]+ separated by '/', no trailing '/' unless exactly "/".
func validateObjectPath(s string) error {
	if s == "" {
		return fmt.Errorf("empty object path")
	}
	if s[0] != '/' {
		return fmt.Errorf("object path must start with '/'")
	}
	if s == "/" {
		return nil
	}
	if s[len(s)-1] == '/' {
		return fmt.Errorf("object path must not end with '/'")
	}
	for _, seg := range strings.Split(s[1:], "/") {
		if seg == "" {
			return fmt.Errorf("empty path segment")
		}
		for _, r := range seg {
			if !isPathSegmentRune(r) {
				return fmt.Errorf("invalid character %q in path segment %q", r, seg)
			}
		}
	}
	return nil
}

func isPathSegmentRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		return true
	default:
		return false
	}
}
