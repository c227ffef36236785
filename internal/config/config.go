// Package config loads the YAML configuration consumed at indexer startup.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// ContractConfig describes one watched contract as read from the `contracts`
// section of the config file. Address is required; everything else is
// optional and resolved by the registry loader.
type ContractConfig struct {
	Name          string   `yaml:"-"`
	Address       string   `yaml:"address"`
	DeployedBlock *uint64  `yaml:"deployed_block,omitempty"`
	ABIInline     []byte   `yaml:"-"`
	ABIPath       string   `yaml:"abi,omitempty"`
	// Events restricts decoding to a named subset of the contract's ABI
	// events; empty means every event in the ABI is watched. Consumed by
	// registry.Load.
	Events []string `yaml:"events,omitempty"`
}

// rawContractConfig mirrors the two accepted shapes for a contracts entry:
// a bare address string, or an object with address/deployed_block/abi.
type rawContractConfig struct {
	Address       string      `yaml:"address"`
	DeployedBlock *uint64     `yaml:"deployed_block,omitempty"`
	ABI           interface{} `yaml:"abi,omitempty"`
	Events        []string    `yaml:"events,omitempty"`
}

// Config is the full set of values consumed by the supervisor, loaded from a
// single YAML file. Zero values are replaced with the documented defaults by
// Load.
type Config struct {
	RPCWS                string
	RPCHTTP              string
	DBPath               string
	ABIDir               string
	StartBlock           uint64
	ReconnectDelay       int
	BatchSize            uint64
	HealthCheckInterval  int
	HealthCheckThreshold uint64
	Contracts            map[string]ContractConfig

	rawContracts map[string]yamlRawValue
}

// fileConfig mirrors the on-disk YAML shape. Config itself is kept free of
// yaml tags so callers can build it programmatically (e.g. from tests)
// without fighting the decoder.
type fileConfig struct {
	RPCWS                string                  `yaml:"rpc_ws"`
	RPCHTTP              string                  `yaml:"rpc_http"`
	DBPath               string                  `yaml:"db_path"`
	ABIDir               string                  `yaml:"abi_dir"`
	StartBlock           uint64                  `yaml:"start_block"`
	ReconnectDelay       int                     `yaml:"reconnect_delay"`
	BatchSize            uint64                  `yaml:"batch_size"`
	HealthCheckInterval  int                     `yaml:"health_check_interval"`
	HealthCheckThreshold uint64                  `yaml:"health_check_threshold"`
	Contracts            map[string]yamlRawValue `yaml:"contracts"`
}

// yamlRawValue defers decoding of the `contracts` map values so both the bare
// address shorthand and the full object shape unmarshal cleanly.
type yamlRawValue struct {
	scalar string
	object rawContractConfig
	isObj  bool
}

func (v *yamlRawValue) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err == nil {
		v.scalar = s
		v.isObj = false
		return nil
	}
	var obj rawContractConfig
	if err := unmarshal(&obj); err != nil {
		return err
	}
	v.object = obj
	v.isObj = true
	return nil
}

// Load reads and validates the configuration file at path, applying defaults
// documented in spec §6. Relative ABI paths in `contracts[*].abi` are
// resolved against the directory containing the config file.
func Load(path string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg, err := parseYAML(data)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if len(cfg.rawContracts) == 0 {
		return nil, &ConfigError{Reason: "contracts must not be empty"}
	}

	cfgDir := filepath.Dir(absPath)
	cfg.Contracts = make(map[string]ContractConfig, len(cfg.rawContracts))
	for name, raw := range cfg.rawContracts {
		cc := ContractConfig{Name: name}
		if raw.isObj {
			cc.Address = raw.object.Address
			cc.DeployedBlock = raw.object.DeployedBlock
			cc.Events = raw.object.Events
			switch v := raw.object.ABI.(type) {
			case nil:
				// no inline/explicit ABI source; resolved by abi_dir search.
			case string:
				cc.ABIPath = v
				if !filepath.IsAbs(cc.ABIPath) {
					cc.ABIPath = filepath.Join(cfgDir, cc.ABIPath)
				}
			default:
				inline, err := marshalJSON(v)
				if err != nil {
					return nil, &ConfigError{Reason: fmt.Sprintf("contract %q: invalid inline abi: %v", name, err)}
				}
				cc.ABIInline = inline
			}
		} else {
			cc.Address = raw.scalar
		}

		if cc.Address == "" {
			return nil, &ConfigError{Reason: fmt.Sprintf("contract %q is missing address", name)}
		}
		if cc.ABIPath != "" {
			if _, err := os.Stat(cc.ABIPath); err != nil {
				return nil, &ConfigError{Reason: fmt.Sprintf("abi path for contract %q not found: %s", name, cc.ABIPath)}
			}
		}
		cfg.Contracts[name] = cc
	}

	if cfg.DBPath == "" {
		cfg.DBPath = "./events.db"
	}
	if cfg.ABIDir == "" {
		cfg.ABIDir = "./abis"
	}
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = 5
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 1000
	}
	if cfg.HealthCheckInterval == 0 {
		cfg.HealthCheckInterval = 30
	}
	if cfg.HealthCheckThreshold == 0 {
		cfg.HealthCheckThreshold = 3
	}

	return cfg, nil
}

// ConfigError marks a fatal, non-recoverable configuration problem (spec §7).
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s", e.Reason)
}

// RequireLive validates the fields needed to run the live subscription path,
// returning a *ConfigError when absent.
func (c *Config) RequireLive() error {
	if c.RPCWS == "" {
		return &ConfigError{Reason: "rpc_ws is required for live mode"}
	}
	if c.RPCHTTP == "" {
		return &ConfigError{Reason: "rpc_http is required for backfills and block timestamps"}
	}
	return nil
}

// RequireBackfill validates the fields needed to run a standalone backfill.
func (c *Config) RequireBackfill() error {
	if c.RPCHTTP == "" {
		return &ConfigError{Reason: "rpc_http is required for backfills"}
	}
	return nil
}
