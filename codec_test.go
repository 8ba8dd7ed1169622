package dbusclient

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeValueRoundTrip(t *testing.T) {
	arr, err := NewArray(TUint32, []Value{NewUint32(1), NewUint32(2), NewUint32(3)})
	require.NoError(t, err)

	str, err := NewStruct([]DType{TByte, TString}, []Value{NewByte(7), mustString(t, "hello")})
	require.NoError(t, err)

	cases := []struct {
		name string
		v    Value
	}{
		{"byte", NewByte(0x42)},
		{"boolean true", NewBoolean(true)},
		{"boolean false", NewBoolean(false)},
		{"int16", NewInt16(-1234)},
		{"uint16", NewUint16(1234)},
		{"int32", NewInt32(-123456)},
		{"uint32", NewUint32(123456)},
		{"int64", NewInt64(-1 << 40)},
		{"uint64", NewUint64(1 << 40)},
		{"double", NewDouble(3.25)},
		{"string", mustString(t, "hello, world")},
		{"array", arr},
		{"struct", str},
		{"variant", NewVariant(NewUint32(9))},
	}

	for _, order := range []Endianness{LittleEndian, BigEndian} {
		for _, offset := range []uint32{0, 1, 3, 7} {
			for _, tc := range cases {
				t.Run(tc.name, func(t *testing.T) {
					buf, n, err := EncodeValue(tc.v, offset, order)
					require.NoError(t, err)
					require.Equal(t, len(buf), n)

					got, consumed, err := DecodeValue(buf, offset, tc.v.Type(), order)
					require.NoError(t, err)
					require.Equal(t, n, consumed)
					require.True(t, valuesEqual(tc.v, got), "round trip mismatch for %s", tc.name)
				})
			}
		}
	}
}

func TestArraySizeLimitExceeded(t *testing.T) {
	big := mustString(t, strings.Repeat("a", maxArrayBytes+1))
	arr, err := NewArray(TString, []Value{big})
	require.NoError(t, err)

	_, _, err = EncodeValue(arr, 0, LittleEndian)
	require.Error(t, err)
	var derr *Error
	require.ErrorAs(t, err, &derr)
	require.Equal(t, CodeSizeLimitExceeded, derr.Code)
}

func TestAlignmentPadding(t *testing.T) {
	cases := []struct {
		offset, align, wantPad uint32
	}{
		{0, 4, 0},
		{1, 4, 3},
		{4, 4, 0},
		{5, 8, 3},
		{8, 8, 0},
		{3, 1, 0},
	}
	for _, tc := range cases {
		_, pad := nextOffset(tc.offset, tc.align)
		if pad != tc.wantPad {
			t.Errorf("nextOffset(%d, %d) padding = %d, want %d", tc.offset, tc.align, pad, tc.wantPad)
		}
	}
}

func TestDecodeRejectsNonZeroPadding(t *testing.T) {
	// A uint32 at offset 1 needs 3 bytes of padding; corrupt the second.
	buf := []byte{0, 1, 0, 0, 0x2a, 0, 0, 0}
	_, _, err := DecodeValue(buf, 1, TUint32, LittleEndian)
	require.Error(t, err)
	var derr *Error
	require.ErrorAs(t, err, &derr)
	require.Equal(t, CodeInvalidPadding, derr.Code)
}

func mustString(t *testing.T, s string) Value {
	t.Helper()
	v, err := NewString(s)
	require.NoError(t, err)
	return v
}

// valuesEqual compares two Values structurally; Value's unexported
// fields mean we can't use go-cmp/reflect.DeepEqual directly across a
// decode boundary (interned strings share a differently-addressed
// backing array), so compare through the public accessors instead.
func valuesEqual(a, b Value) bool {
	if !a.Type().Equal(b.Type()) {
		return false
	}
	switch a.Type().Kind {
	case KindByte:
		av, _ := a.ByteValue()
		bv, _ := b.ByteValue()
		return av == bv
	case KindBoolean:
		av, _ := a.BoolValue()
		bv, _ := b.BoolValue()
		return av == bv
	case KindInt16:
		av, _ := a.Int16Value()
		bv, _ := b.Int16Value()
		return av == bv
	case KindUint16:
		av, _ := a.Uint16Value()
		bv, _ := b.Uint16Value()
		return av == bv
	case KindInt32:
		av, _ := a.Int32Value()
		bv, _ := b.Int32Value()
		return av == bv
	case KindUint32:
		av, _ := a.Uint32Value()
		bv, _ := b.Uint32Value()
		return av == bv
	case KindInt64:
		av, _ := a.Int64Value()
		bv, _ := b.Int64Value()
		return av == bv
	case KindUint64:
		av, _ := a.Uint64Value()
		bv, _ := b.Uint64Value()
		return av == bv
	case KindDouble:
		av, _ := a.DoubleValue()
		bv, _ := b.DoubleValue()
		return av == bv
	case KindString, KindObjectPath, KindSignature:
		av, _ := a.StringValue()
		bv, _ := b.StringValue()
		return av == bv
	case KindArray:
		av, _ := a.ArrayValue()
		bv, _ := b.ArrayValue()
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !valuesEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case KindStruct:
		af, _ := a.StructFields()
		bf, _ := b.StructFields()
		if len(af) != len(bf) {
			return false
		}
		for i := range af {
			if !valuesEqual(af[i], bf[i]) {
				return false
			}
		}
		return true
	case KindDictEntry:
		ak, av, _ := a.DictEntryValue()
		bk, bv, _ := b.DictEntryValue()
		return valuesEqual(ak, bk) && valuesEqual(av, bv)
	case KindVariant:
		av, _ := a.VariantValue()
		bv, _ := b.VariantValue()
		return valuesEqual(av, bv)
	default:
		return false
	}
}
