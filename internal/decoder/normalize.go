package decoder

import (
	"math/big"
	"reflect"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// normalizeValue converts a value produced by go-ethereum's ABI unpacker
// into a JSON-safe representation suitable for lossless persistence
// (spec §3 decoded_args): big integers and byte sequences become
// 0x-prefixed or decimal strings, and arrays/slices become ordered
// []interface{} sequences of normalized elements.
//
// t is the argument's declared ABI type. It is load-bearing, not
// decoration: a fixed byte array (bytesN) and a same-length numeric array
// (e.g. uint8[4]) both unpack to the identical Go runtime type [N]uint8 -
// Go's byte is just an alias for uint8 - so reflection on the decoded
// value alone cannot tell a traits array from a bytes4. The ABI type is
// the only place that distinction still exists.
func normalizeValue(v interface{}, t abi.Type) interface{} {
	if v == nil {
		return nil
	}

	switch t.T {
	case abi.FixedBytesTy, abi.BytesTy, abi.FunctionTy:
		return hexEncodeReflect(reflect.ValueOf(v))
	case abi.AddressTy:
		if addr, ok := v.(common.Address); ok {
			return addr.Hex()
		}
	case abi.ArrayTy, abi.SliceTy:
		var elemType abi.Type
		if t.Elem != nil {
			elemType = *t.Elem
		}
		rv := reflect.ValueOf(v)
		out := make([]interface{}, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = normalizeValue(rv.Index(i).Interface(), elemType)
		}
		return out
	}

	return normalizeScalar(v)
}

// normalizeScalar handles everything normalizeValue doesn't dispatch by ABI
// type: big integers, booleans, strings (including the raw topic hex string
// decodeAgainst keeps when topic parsing fails), and plain integer kinds,
// which keep their sign so unsigned values above 2^63 are not wrapped. It
// also handles addresses/hashes and falls back to reflection-based
// byte/array detection for values reached without a resolved abi.Type (the
// zero value, T: IntTy), preserving the previous best-effort behavior.
func normalizeScalar(v interface{}) interface{} {
	switch val := v.(type) {
	case *big.Int:
		if val == nil {
			return nil
		}
		return val.String()
	case common.Address:
		return val.Hex()
	case common.Hash:
		return val.Hex()
	case []byte:
		return hexString(val)
	case bool, string:
		return val
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Array, reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return hexEncodeReflect(rv)
		}
		return normalizeSequence(rv)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint()
	}

	return v
}

func normalizeSequence(rv reflect.Value) []interface{} {
	out := make([]interface{}, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = normalizeScalar(rv.Index(i).Interface())
	}
	return out
}

func hexEncodeReflect(rv reflect.Value) string {
	b := make([]byte, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		b[i] = byte(rv.Index(i).Uint())
	}
	return hexString(b)
}

func hexString(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, 2+len(b)*2)
	out[0], out[1] = '0', 'x'
	for i, c := range b {
		out[2+i*2] = hextable[c>>4]
		out[2+i*2+1] = hextable[c&0x0f]
	}
	return string(out)
}
