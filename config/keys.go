// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

const (
	// Command line option keys
	ConfigFileKey = "config-file"

	// Environment variables are the upper-cased keys with this prefix, e.g.
	// FHEVM_GATEWAY_URL.
	EnvPrefix = "FHEVM"

	// Top-level configuration keys
	LogLevelKey           = "log-level"
	NetworkKey            = "network"
	ChainIDKey            = "chain-id"
	GatewayURLKey         = "gateway-url"
	RPCURLKey             = "rpc-url"
	PrivateKeyKey         = "private-key"
	APIPortKey            = "api-port"
	MetricsPortKey        = "metrics-port"
	InitTimeoutKey        = "init-timeout"
	RetryTimeoutKey       = "retry-timeout"
	PublicKeyTTLKey       = "public-key-ttl"
	SignatureCacheSizeKey = "signature-cache-size"
	DecryptRateKey        = "decrypt-rate"
	DecryptBurstKey       = "decrypt-burst"
	EngineSeedKey         = "engine-seed"
	ContractsKey          = "contracts"
)
