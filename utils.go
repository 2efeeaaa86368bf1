// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package fhevm

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// IsValidAddress reports whether s is a 20-byte hex address.
func IsValidAddress(s string) bool {
	return common.IsHexAddress(s)
}

// ChecksumAddress returns the EIP-55 form of s.
func ChecksumAddress(s string) (string, error) {
	addr, err := ParseAddress(s)
	if err != nil {
		return "", err
	}
	return addr.Hex(), nil
}

// ParseAddress parses a hex address, rejecting anything that is not 20
// bytes.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, newError(CodeFormat, "parse address", fmt.Errorf("invalid address %q", s))
	}
	return common.HexToAddress(s), nil
}

// FormatAddress shortens an address for display, e.g. 0x1234...abcd.
func FormatAddress(s string) string {
	if len(s) <= 10 {
		return s
	}
	return s[:6] + "..." + s[len(s)-4:]
}

// ToHex encodes data with a 0x prefix.
func ToHex(data []byte) string {
	return hexutil.Encode(data)
}

// FromHex decodes 0x-prefixed hex.
func FromHex(s string) ([]byte, error) {
	b, err := hexutil.Decode(strings.TrimSpace(s))
	if err != nil {
		return nil, newError(CodeFormat, "decode hex", err)
	}
	return b, nil
}
