package state

import "math/big"

// decoded_args round-trips through JSON: small integers arrive as float64,
// and amounts that originated as *big.Int arrive as decimal strings
// (normalizeValue's lossless encoding). argNumber reads either, always
// returning a *big.Int so callers never truncate a uint256 through a
// float64 intermediate.
func argNumber(args map[string]interface{}, keys ...string) (*big.Int, bool) {
	for _, k := range keys {
		v, ok := args[k]
		if !ok || v == nil {
			continue
		}
		switch n := v.(type) {
		case float64:
			return big.NewInt(int64(n)), true
		case string:
			if bi, ok := new(big.Int).SetString(n, 10); ok {
				return bi, true
			}
		}
	}
	return nil, false
}

func argString(args map[string]interface{}, keys ...string) (string, bool) {
	for _, k := range keys {
		v, ok := args[k]
		if !ok || v == nil {
			continue
		}
		if s, ok := v.(string); ok {
			return s, true
		}
	}
	return "", false
}
