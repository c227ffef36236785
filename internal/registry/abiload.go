package registry

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/degenerus/event-indexer/internal/config"
)

// resolveABIBytes returns the raw ABI JSON for a contract following the
// precedence order from spec §4.1: (a) inline ABI, (b) explicit file or
// directory path, (c) recursive search of abiDir for <Name>.json then
// <Name>.abi.json. The second return value reports whether the source was
// explicit (inline or path given in config) — an explicit source that
// resolves to nothing is a ConfigError, an abi_dir miss is only a warning.
func resolveABIBytes(name string, cc config.ContractConfig, abiDir string) ([]byte, bool, error) {
	if len(cc.ABIInline) > 0 {
		return cc.ABIInline, true, nil
	}

	if cc.ABIPath != "" {
		info, err := os.Stat(cc.ABIPath)
		if err != nil {
			return nil, true, &config.ConfigError{Reason: fmt.Sprintf("abi path for contract %q not found: %s", name, cc.ABIPath)}
		}
		if info.IsDir() {
			found, err := findABIFile(name, cc.ABIPath)
			if err != nil {
				return nil, true, err
			}
			if found == "" {
				return nil, true, nil
			}
			data, err := os.ReadFile(found)
			if err != nil {
				return nil, true, err
			}
			return data, true, nil
		}
		data, err := os.ReadFile(cc.ABIPath)
		if err != nil {
			return nil, true, err
		}
		return data, true, nil
	}

	if abiDir == "" {
		return nil, false, nil
	}
	found, err := findABIFile(name, abiDir)
	if err != nil {
		return nil, false, err
	}
	if found == "" {
		return nil, false, nil
	}
	data, err := os.ReadFile(found)
	if err != nil {
		return nil, false, err
	}
	return data, false, nil
}

// findABIFile looks for "<name>.json" then "<name>.abi.json" directly under
// dir, then falls back to a recursive search for "<name>.json" and, failing
// that, "<name>.abi.json".
func findABIFile(name, dir string) (string, error) {
	if _, err := os.Stat(dir); err != nil {
		return "", nil
	}

	direct := filepath.Join(dir, name+".json")
	if _, err := os.Stat(direct); err == nil {
		return direct, nil
	}
	directAlt := filepath.Join(dir, name+".abi.json")
	if _, err := os.Stat(directAlt); err == nil {
		return directAlt, nil
	}

	var match, altMatch string
	target := name + ".json"
	altTarget := name + ".abi.json"
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if match != "" {
			return filepath.SkipAll
		}
		if !d.IsDir() && d.Name() == target {
			match = path
		} else if !d.IsDir() && altMatch == "" && d.Name() == altTarget {
			altMatch = path
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if match == "" {
		match = altMatch
	}
	return match, nil
}

// parseABI accepts either a raw JSON ABI array or a compiler-artifact object
// with an "abi" key, returning canonical (deterministically re-marshaled)
// bytes suitable for hashing, and the parsed ABI.
func parseABI(raw []byte) ([]byte, *abi.ABI, error) {
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, nil, err
	}

	var arr []interface{}
	switch v := generic.(type) {
	case []interface{}:
		arr = v
	case map[string]interface{}:
		abiField, ok := v["abi"]
		if !ok {
			return nil, nil, fmt.Errorf("object ABI source is missing an \"abi\" key")
		}
		list, ok := abiField.([]interface{})
		if !ok {
			return nil, nil, fmt.Errorf("\"abi\" field is not an array")
		}
		arr = list
	default:
		return nil, nil, fmt.Errorf("unsupported abi JSON shape")
	}

	canonical, err := json.Marshal(arr)
	if err != nil {
		return nil, nil, err
	}

	parsed, err := abi.JSON(bytes.NewReader(canonical))
	if err != nil {
		return nil, nil, err
	}
	return canonical, &parsed, nil
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
