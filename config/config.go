// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"

	"github.com/luxfi/fhevm"
	"github.com/luxfi/fhevm/gateway"
	"github.com/luxfi/fhevm/signer"
)

const (
	defaultLogLevel           = "info"
	defaultAPIPort            = uint16(8545)
	defaultMetricsPort        = uint16(9090)
	DefaultSignatureCacheSize = 1024
)

var (
	errInvalidPort      = errors.New("port must be non-zero")
	errInvalidCacheSize = errors.New("signature cache size must be positive")
	errInvalidBurst     = errors.New("decrypt burst must be positive when rate limiting")
	errNegativeDuration = errors.New("durations must not be negative")
	errNoPrivateKey     = errors.New("private key not set")
)

// Config covers both the gateway server and the CLI client.
type Config struct {
	LogLevel   string `mapstructure:"log-level" json:"log-level"`
	Network    string `mapstructure:"network" json:"network"`
	ChainID    uint64 `mapstructure:"chain-id" json:"chain-id"`
	GatewayURL string `mapstructure:"gateway-url" json:"gateway-url"`
	RPCURL     string `mapstructure:"rpc-url" json:"rpc-url"`
	// Hex secp256k1 key used to sign decryption requests and input proofs.
	PrivateKey string `mapstructure:"private-key" json:"-"`

	APIPort     uint16 `mapstructure:"api-port" json:"api-port"`
	MetricsPort uint16 `mapstructure:"metrics-port" json:"metrics-port"`

	InitTimeout        time.Duration `mapstructure:"init-timeout" json:"init-timeout"`
	RetryTimeout       time.Duration `mapstructure:"retry-timeout" json:"retry-timeout"`
	PublicKeyTTL       time.Duration `mapstructure:"public-key-ttl" json:"public-key-ttl"`
	SignatureCacheSize int           `mapstructure:"signature-cache-size" json:"signature-cache-size"`

	// Per-requester decryptions per second served by the gateway. Zero
	// disables limiting.
	DecryptRate  float64 `mapstructure:"decrypt-rate" json:"decrypt-rate"`
	DecryptBurst int     `mapstructure:"decrypt-burst" json:"decrypt-burst"`
	// Hex seed for the in-memory engine's key material. Random when empty.
	EngineSeed string `mapstructure:"engine-seed" json:"-"`
	// Contracts allowed to request decryptions from the served engine.
	Contracts []string `mapstructure:"contracts" json:"contracts"`
}

// AddFlags registers every configuration key on fs.
func AddFlags(fs *pflag.FlagSet) {
	fs.String(ConfigFileKey, "", "Path to a JSON or YAML configuration file")
	fs.String(LogLevelKey, defaultLogLevel, "Log level (debug, info, warn, error)")
	fs.String(NetworkKey, fhevm.NetworkLocalhost, "Network preset (sepolia, localhost, custom)")
	fs.Uint64(ChainIDKey, 0, "Chain ID of a custom network")
	fs.String(GatewayURLKey, "", "Gateway URL including the API prefix")
	fs.String(RPCURLKey, "", "JSON-RPC URL of the chain")
	fs.String(PrivateKeyKey, "", "Hex private key for signing")
	fs.Uint16(APIPortKey, defaultAPIPort, "Port the gateway listens on")
	fs.Uint16(MetricsPortKey, defaultMetricsPort, "Port serving Prometheus metrics")
	fs.Duration(InitTimeoutKey, fhevm.DefaultInitTimeout, "Timeout of one backend binding attempt")
	fs.Duration(RetryTimeoutKey, 0, "Retry backend availability failures for up to this long")
	fs.Duration(PublicKeyTTLKey, fhevm.DefaultPublicKeyTTL, "How long a fetched public key is reused")
	fs.Int(SignatureCacheSizeKey, DefaultSignatureCacheSize, "Number of decryption signatures to cache")
	fs.Float64(DecryptRateKey, gateway.DefaultDecryptRate, "Decryptions per second allowed per requester")
	fs.Int(DecryptBurstKey, gateway.DefaultDecryptBurst, "Decryption burst allowed per requester")
	fs.String(EngineSeedKey, "", "Hex seed for the in-memory engine keys")
	fs.StringSlice(ContractsKey, nil, "Contract addresses allowed to request decryptions")
}

func (c *Config) Validate() error {
	if _, err := c.ZapLevel(); err != nil {
		return err
	}
	if _, err := c.GetNetwork(); err != nil {
		return err
	}
	if _, err := c.GetContracts(); err != nil {
		return err
	}
	if c.PrivateKey != "" {
		if _, err := c.Signer(); err != nil {
			return err
		}
	}
	if c.EngineSeed != "" {
		if _, err := fhevm.FromHex(c.EngineSeed); err != nil {
			return fmt.Errorf("invalid engine seed: %w", err)
		}
	}
	if c.APIPort == 0 || c.MetricsPort == 0 {
		return errInvalidPort
	}
	if c.SignatureCacheSize <= 0 {
		return errInvalidCacheSize
	}
	if c.DecryptRate > 0 && c.DecryptBurst <= 0 {
		return errInvalidBurst
	}
	if c.InitTimeout < 0 || c.RetryTimeout < 0 || c.PublicKeyTTL < 0 {
		return errNegativeDuration
	}
	return nil
}

func (c *Config) ZapLevel() (zapcore.Level, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return level, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// GetNetwork resolves the configured preset.
func (c *Config) GetNetwork() (fhevm.Network, error) {
	network, err := fhevm.PresetNetwork(c.Network, c.ChainID, c.GatewayURL)
	if err != nil {
		return fhevm.Network{}, err
	}
	if c.RPCURL != "" {
		network.RPCURL = c.RPCURL
	}
	return network, network.Validate()
}

func (c *Config) GetContracts() ([]common.Address, error) {
	contracts := make([]common.Address, 0, len(c.Contracts))
	for _, s := range c.Contracts {
		addr, err := fhevm.ParseAddress(s)
		if err != nil {
			return nil, err
		}
		contracts = append(contracts, addr)
	}
	return contracts, nil
}

func (c *Config) GetEngineSeed() ([]byte, error) {
	if c.EngineSeed == "" {
		return nil, nil
	}
	return fhevm.FromHex(c.EngineSeed)
}

// Signer returns the configured local signer.
func (c *Config) Signer() (*signer.LocalSigner, error) {
	if c.PrivateKey == "" {
		return nil, errNoPrivateKey
	}
	return signer.NewLocalSignerFromHex(c.PrivateKey)
}
