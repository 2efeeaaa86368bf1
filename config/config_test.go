// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/luxfi/fhevm"
)

const testKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func buildTestConfig(t *testing.T, args ...string) (Config, error) {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	AddFlags(fs)
	require.NoError(t, fs.Parse(args))
	v, err := BuildViper(fs)
	require.NoError(t, err)
	return NewConfig(v)
}

func TestDefaults(t *testing.T) {
	require := require.New(t)

	cfg, err := buildTestConfig(t)
	require.NoError(err)
	require.Equal(defaultLogLevel, cfg.LogLevel)
	require.Equal(defaultAPIPort, cfg.APIPort)
	require.Equal(fhevm.DefaultInitTimeout, cfg.InitTimeout)
	require.Equal(DefaultSignatureCacheSize, cfg.SignatureCacheSize)

	network, err := cfg.GetNetwork()
	require.NoError(err)
	require.Equal(fhevm.Localhost(), network)

	_, err = cfg.Signer()
	require.ErrorIs(err, errNoPrivateKey)
}

func TestFlagsOverride(t *testing.T) {
	require := require.New(t)

	cfg, err := buildTestConfig(t,
		"--network=custom",
		"--chain-id=7777",
		"--gateway-url=https://gateway.example/api",
		"--log-level=debug",
		"--init-timeout=5s",
		"--private-key="+testKey,
		"--contracts=0x00000000000000000000000000000000000000f1,0x00000000000000000000000000000000000000f2",
	)
	require.NoError(err)

	network, err := cfg.GetNetwork()
	require.NoError(err)
	require.Equal(uint64(7777), network.ChainID)
	require.Equal("https://gateway.example/api", network.GatewayURL)

	level, err := cfg.ZapLevel()
	require.NoError(err)
	require.Equal(zapcore.DebugLevel, level)
	require.Equal(5*time.Second, cfg.InitTimeout)

	s, err := cfg.Signer()
	require.NoError(err)
	require.Equal(common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), s.Address())

	contracts, err := cfg.GetContracts()
	require.NoError(err)
	require.Equal([]common.Address{
		common.HexToAddress("0x00000000000000000000000000000000000000f1"),
		common.HexToAddress("0x00000000000000000000000000000000000000f2"),
	}, contracts)
}

func TestConfigFileAndEnv(t *testing.T) {
	require := require.New(t)

	path := filepath.Join(t.TempDir(), "fhevm.yaml")
	require.NoError(os.WriteFile(path, []byte(`
network: sepolia
gateway-url: https://gateway.sepolia.example/api
api-port: 9000
decrypt-rate: 2.5
contracts:
  - "0x00000000000000000000000000000000000000f1"
`), 0o600))
	t.Setenv("FHEVM_LOG_LEVEL", "warn")

	cfg, err := buildTestConfig(t, "--config-file="+path, "--api-port=9100")
	require.NoError(err)
	require.Equal("warn", cfg.LogLevel)
	require.Equal(uint16(9100), cfg.APIPort)
	require.InDelta(2.5, cfg.DecryptRate, 0.001)
	require.Len(cfg.Contracts, 1)

	network, err := cfg.GetNetwork()
	require.NoError(err)
	require.Equal(fhevm.SepoliaChainID, network.ChainID)
}

func TestMissingConfigFile(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	AddFlags(fs)
	require.NoError(t, fs.Parse([]string{"--config-file=" + filepath.Join(t.TempDir(), "missing.json")}))
	_, err := BuildViper(fs)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "log level", args: []string{"--log-level=loud"}},
		{name: "network", args: []string{"--network=ropsten"}},
		{name: "custom without chain id", args: []string{"--network=custom"}},
		{name: "gateway scheme", args: []string{"--gateway-url=ftp://gateway"}},
		{name: "contract", args: []string{"--contracts=0x1234"}},
		{name: "private key", args: []string{"--private-key=0x1234"}},
		{name: "engine seed", args: []string{"--engine-seed=seed"}},
		{name: "api port", args: []string{"--api-port=0"}},
		{name: "cache size", args: []string{"--signature-cache-size=0"}},
		{name: "burst", args: []string{"--decrypt-burst=0"}},
		{name: "duration", args: []string{"--retry-timeout=-1s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := buildTestConfig(t, tt.args...)
			require.Error(t, err)
		})
	}
}
