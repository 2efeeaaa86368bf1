// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fhevm

import (
	"errors"
	"fmt"
	"net/url"
)

// Well-known chain IDs.
const (
	MainnetChainID   uint64 = 1
	GoerliChainID    uint64 = 5
	SepoliaChainID   uint64 = 11155111
	LocalhostChainID uint64 = 31337
)

const (
	NetworkMainnet   = "mainnet"
	NetworkSepolia   = "sepolia"
	NetworkLocalhost = "localhost"
	NetworkCustom    = "custom"

	DefaultLocalGatewayURL = "http://localhost:8545/api"
	DefaultLocalRPCURL     = "http://localhost:8545"
)

var (
	chainNames = map[uint64]string{
		MainnetChainID:   NetworkMainnet,
		GoerliChainID:    "goerli",
		SepoliaChainID:   NetworkSepolia,
		LocalhostChainID: NetworkLocalhost,
	}

	errMissingGateway = errors.New("gateway url is required")
)

// Network identifies the chain the signatures are bound to and where its
// gateway lives.
type Network struct {
	Name       string `json:"name" mapstructure:"name"`
	ChainID    uint64 `json:"chainId" mapstructure:"chain-id"`
	GatewayURL string `json:"gatewayUrl" mapstructure:"gateway-url"`
	RPCURL     string `json:"rpcUrl,omitempty" mapstructure:"rpc-url"`
}

// NetworkName returns the conventional name of chainID, or "unknown".
func NetworkName(chainID uint64) string {
	if name, ok := chainNames[chainID]; ok {
		return name
	}
	return "unknown"
}

// Sepolia returns the Sepolia preset with the given gateway.
func Sepolia(gatewayURL string) Network {
	return Network{
		Name:       NetworkSepolia,
		ChainID:    SepoliaChainID,
		GatewayURL: gatewayURL,
		RPCURL:     "https://rpc.sepolia.org",
	}
}

// Localhost returns the local development preset.
func Localhost() Network {
	return Network{
		Name:       NetworkLocalhost,
		ChainID:    LocalhostChainID,
		GatewayURL: DefaultLocalGatewayURL,
		RPCURL:     DefaultLocalRPCURL,
	}
}

// Custom returns a network on an arbitrary chain.
func Custom(chainID uint64, gatewayURL string) Network {
	return Network{
		Name:       NetworkCustom,
		ChainID:    chainID,
		GatewayURL: gatewayURL,
	}
}

// PresetNetwork resolves a preset by name. Mainnet carries no default
// gateway and must be configured explicitly.
func PresetNetwork(name string, chainID uint64, gatewayURL string) (Network, error) {
	switch name {
	case NetworkSepolia:
		return Sepolia(gatewayURL), nil
	case NetworkLocalhost:
		n := Localhost()
		if gatewayURL != "" {
			n.GatewayURL = gatewayURL
		}
		return n, nil
	case NetworkMainnet:
		return Network{Name: NetworkMainnet, ChainID: MainnetChainID, GatewayURL: gatewayURL}, nil
	case NetworkCustom:
		return Custom(chainID, gatewayURL), nil
	default:
		return Network{}, newError(CodeFormat, "network", fmt.Errorf("unknown network %q", name))
	}
}

// Validate requires a chain ID and, when set, a well-formed gateway URL.
// Backends that are reached in process need no gateway.
func (n Network) Validate() error {
	if n.ChainID == 0 {
		return newError(CodeFormat, "network", errZeroChainID)
	}
	if n.GatewayURL == "" {
		return nil
	}
	u, err := url.Parse(n.GatewayURL)
	if err != nil {
		return newError(CodeFormat, "network", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return newError(CodeFormat, "network", fmt.Errorf("unsupported gateway scheme %q", u.Scheme))
	}
	return nil
}

// RequireGateway is Validate plus a mandatory gateway URL.
func (n Network) RequireGateway() error {
	if err := n.Validate(); err != nil {
		return err
	}
	if n.GatewayURL == "" {
		return newError(CodeFormat, "network", errMissingGateway)
	}
	return nil
}

func (n Network) String() string {
	if n.Name != "" {
		return fmt.Sprintf("%s(%d)", n.Name, n.ChainID)
	}
	return fmt.Sprintf("%s(%d)", NetworkName(n.ChainID), n.ChainID)
}
