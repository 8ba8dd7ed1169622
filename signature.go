package dbusclient

import "fmt"

// basicCodes is exactly the set named in §3.1: "ybnqiuxtdsoghv".
var basicCodes = map[byte]DType{
	'y': TByte,
	'b': TBoolean,
	'n': TInt16,
	'q': TUint16,
	'i': TInt32,
	'u': TUint32,
	'x': TInt64,
	't': TUint64,
	'd': TDouble,
	's': TString,
	'o': TObjectPath,
	'g': TSignature,
	'h': TUnixFd,
	'v': TVariant,
}

// ParseSignature parses a D-Bus signature string into its sequence of
// complete types (§3.1, §8 "Signature grammar"). An empty string parses
// to a nil, non-error slice (no body).
func ParseSignature(s string) ([]DType, error) {
	if len(s) > 255 {
		return nil, newErr(CodeInvalidSignature, "parse signature", fmt.Errorf("signature longer than 255 bytes"))
	}
	rest := []byte(s)
	var out []DType
	for len(rest) > 0 {
		t, r, err := parseSingle(rest)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
		rest = r
	}
	return out, nil
}

// parseSingle consumes exactly one "single" production from the front of
// b and returns the remainder.
func parseSingle(b []byte) (DType, []byte, error) {
	if len(b) == 0 {
		return DType{}, nil, newErr(CodeInvalidSignature, "parse signature", fmt.Errorf("unexpected end of signature"))
	}

	c := b[0]
	switch c {
	case 'a':
		if len(b) >= 2 && b[1] == '{' {
			return parseDictEntry(b)
		}
		if len(b) < 2 {
			return DType{}, nil, newErr(CodeInvalidSignature, "parse signature", fmt.Errorf("array type code 'a' not followed by an element type"))
		}
		elem, rest, err := parseSingle(b[1:])
		if err != nil {
			return DType{}, nil, err
		}
		return TArray(elem), rest, nil

	case '(':
		rest := b[1:]
		var fields []DType
		for {
			if len(rest) == 0 {
				return DType{}, nil, newErr(CodeInvalidSignature, "parse signature", fmt.Errorf("unterminated struct"))
			}
			if rest[0] == ')' {
				if len(fields) == 0 {
					return DType{}, nil, newErr(CodeInvalidSignature, "parse signature", fmt.Errorf("struct must have at least one field"))
				}
				return TStruct(fields...), rest[1:], nil
			}
			var (
				f   DType
				err error
			)
			f, rest, err = parseSingle(rest)
			if err != nil {
				return DType{}, nil, err
			}
			fields = append(fields, f)
		}

	case ')', '}':
		return DType{}, nil, newErr(CodeInvalidSignature, "parse signature", fmt.Errorf("unexpected closing code %q", c))

	default:
		t, ok := basicCodes[c]
		if !ok {
			return DType{}, nil, newErr(CodeInvalidSignature, "parse signature", fmt.Errorf("unknown type code %q", c))
		}
		return t, b[1:], nil
	}
}

// parseDictEntry consumes "a{" basic single "}" from the front of b. The
// dict-entry type produced here is only valid when used as the Elem of
// an Array, which is the only context that reaches this function (since
// we're always inside a preceding 'a').
func parseDictEntry(b []byte) (DType, []byte, error) {
	rest := b[2:] // skip "a{"
	if len(rest) == 0 {
		return DType{}, nil, newErr(CodeInvalidSignature, "parse signature", fmt.Errorf("unterminated dict-entry"))
	}

	keyCode := rest[0]
	key, ok := basicCodes[keyCode]
	if !ok {
		return DType{}, nil, newErr(CodeInvalidSignature, "parse signature", fmt.Errorf("dict-entry key %q is not a basic type", keyCode))
	}
	rest = rest[1:]

	val, rest, err := parseSingle(rest)
	if err != nil {
		return DType{}, nil, err
	}

	if len(rest) == 0 || rest[0] != '}' {
		return DType{}, nil, newErr(CodeInvalidSignature, "parse signature", fmt.Errorf("dict-entry not closed with '}'"))
	}
	rest = rest[1:]

	return TArray(TDictEntry(key, val)), rest, nil
}
