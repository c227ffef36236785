// Package recordutil holds the small helpers shared by the backfill and
// live ingestion paths for turning a decoder.Event into store rows.
package recordutil

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf16"

	"github.com/ethereum/go-ethereum/common"
)

// MarshalArgs serializes a decoded-args map to its persisted JSON form
// (spec §3 decoded_args). encoding/json emits non-ASCII runes as raw UTF-8,
// so they are re-escaped here as \uXXXX sequences to keep the persisted JSON
// ASCII-only.
func MarshalArgs(args map[string]interface{}) (string, error) {
	if args == nil {
		args = map[string]interface{}{}
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, r := range string(b) {
		if r < 0x80 {
			sb.WriteRune(r)
			continue
		}
		for _, u := range utf16.Encode([]rune{r}) {
			fmt.Fprintf(&sb, `\u%04x`, u)
		}
	}
	return sb.String(), nil
}

// MarshalArgValue serializes a single normalized arg value for the
// event_indexed_args secondary table.
func MarshalArgValue(v interface{}) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// LowerHex renders a contract address lower-case, matching how addresses
// are persisted and looked up throughout the store (spec §3).
func LowerHex(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

const hextable = "0123456789abcdef"

// RawDataHex renders a log's raw data payload as an unprefixed hex string
// for the persisted raw_data column (spec §3), matching the original's
// bytes.hex() encoding. Returns "" for an empty/nil payload.
func RawDataHex(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	out := make([]byte, len(data)*2)
	for i, b := range data {
		out[i*2] = hextable[b>>4]
		out[i*2+1] = hextable[b&0x0f]
	}
	return string(out)
}
