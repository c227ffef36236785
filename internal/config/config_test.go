package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, contents string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
contracts:
  game: "0x0000000000000000000000000000000000000001"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "./events.db", cfg.DBPath)
	require.Equal(t, "./abis", cfg.ABIDir)
	require.Equal(t, 5, cfg.ReconnectDelay)
	require.EqualValues(t, 1000, cfg.BatchSize)
	require.Equal(t, 30, cfg.HealthCheckInterval)
	require.EqualValues(t, 3, cfg.HealthCheckThreshold)
	require.Equal(t, "0x0000000000000000000000000000000000000001", cfg.Contracts["game"].Address)
}

func TestLoadAcceptsBareAddressShorthand(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
contracts:
  game: "0xabc"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "0xabc", cfg.Contracts["game"].Address)
	require.Empty(t, cfg.Contracts["game"].ABIPath)
}

func TestLoadAcceptsFullObjectShape(t *testing.T) {
	dir := t.TempDir()
	abiPath := filepath.Join(dir, "game.json")
	require.NoError(t, os.WriteFile(abiPath, []byte(`[]`), 0o644))

	path := writeConfig(t, dir, `
contracts:
  game:
    address: "0xabc"
    deployed_block: 100
    abi: game.json
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	cc := cfg.Contracts["game"]
	require.Equal(t, "0xabc", cc.Address)
	require.NotNil(t, cc.DeployedBlock)
	require.EqualValues(t, 100, *cc.DeployedBlock)
	require.Equal(t, abiPath, cc.ABIPath)
}

func TestLoadAcceptsInlineABIArray(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
contracts:
  game:
    address: "0xabc"
    abi:
      - type: event
        name: Transfer
        inputs: []
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotEmpty(t, cfg.Contracts["game"].ABIInline)
	require.Contains(t, string(cfg.Contracts["game"].ABIInline), "Transfer")
}

func TestLoadRejectsEmptyContracts(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `rpc_ws: "ws://localhost:8546"`)

	_, err := Load(path)
	require.Error(t, err)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestLoadRejectsMissingExplicitABIPath(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
contracts:
  game:
    address: "0xabc"
    abi: missing.json
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestRequireLiveAndBackfill(t *testing.T) {
	cfg := &Config{}
	require.Error(t, cfg.RequireLive())
	require.Error(t, cfg.RequireBackfill())

	cfg.RPCHTTP = "http://localhost:8545"
	require.NoError(t, cfg.RequireBackfill())
	require.Error(t, cfg.RequireLive())

	cfg.RPCWS = "ws://localhost:8546"
	require.NoError(t, cfg.RequireLive())
}
