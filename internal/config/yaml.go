package config

import (
	"encoding/json"

	yaml "gopkg.in/yaml.v2"
)

// parseYAML unmarshals raw config bytes, deferring the `contracts` value
// decoding so both shorthand and full-object entries are accepted.
func parseYAML(data []byte) (*Config, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, err
	}
	return &Config{
		RPCWS:                fc.RPCWS,
		RPCHTTP:              fc.RPCHTTP,
		DBPath:               fc.DBPath,
		ABIDir:               fc.ABIDir,
		StartBlock:           fc.StartBlock,
		ReconnectDelay:       fc.ReconnectDelay,
		BatchSize:            fc.BatchSize,
		HealthCheckInterval:  fc.HealthCheckInterval,
		HealthCheckThreshold: fc.HealthCheckThreshold,
		rawContracts:         fc.Contracts,
	}, nil
}

// marshalJSON re-encodes a YAML-decoded inline ABI (map[interface{}]interface{}
// trees) into JSON bytes so it can be parsed by go-ethereum's abi.JSON.
func marshalJSON(v interface{}) ([]byte, error) {
	return json.Marshal(cleanupYAMLValue(v))
}

// cleanupYAMLValue recursively converts the map[interface{}]interface{} and
// []interface{} shapes produced by gopkg.in/yaml.v2 into map[string]interface{}
// and []interface{} so encoding/json can marshal them.
func cleanupYAMLValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(val))
		for k, vv := range val {
			m[toString(k)] = cleanupYAMLValue(vv)
		}
		return m
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, vv := range val {
			out[i] = cleanupYAMLValue(vv)
		}
		return out
	default:
		return val
	}
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, _ := json.Marshal(v)
	return string(b)
}
