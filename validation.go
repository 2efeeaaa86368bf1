// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fhevm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

var (
	errNegative   = errors.New("value is negative")
	errNotInteger = errors.New("value is not an unsigned integer")
	errNotBool    = errors.New("value must be a boolean or 0/1")
	errEmpty      = errors.New("ciphertext is empty")
	errNilValue   = errors.New("encrypted value is nil")
)

// MaxValue returns the largest plaintext accepted for typ.
func MaxValue(typ EncryptedType) (*uint256.Int, error) {
	if !typ.Valid() {
		return nil, newError(CodeFormat, "validate", fmt.Errorf("unrecognized encrypted type %q", typ))
	}
	return typ.Max(), nil
}

// ValidateValue checks value against the bound table for typ and returns its
// numeric form. Booleans map to 0 and 1. The input is never modified.
//
// Accepted inputs are the Go integer kinds, bool, *big.Int, *uint256.Int,
// uint256.Int and decimal or 0x-prefixed hex strings.
func ValidateValue(value any, typ EncryptedType) (*uint256.Int, error) {
	if !typ.Valid() {
		return nil, newError(CodeFormat, "validate", fmt.Errorf("unrecognized encrypted type %q", typ))
	}

	if b, ok := value.(bool); ok {
		if typ != TypeBool {
			return nil, newError(CodeRange, "validate", fmt.Errorf("boolean is not a valid %s", typ))
		}
		if b {
			return uint256.NewInt(1), nil
		}
		return new(uint256.Int), nil
	}

	v, err := toUint256(value)
	if err != nil {
		return nil, newError(CodeRange, "validate", fmt.Errorf("%s: %w", typ, err))
	}
	if v.Gt(typ.Max()) {
		if typ == TypeBool {
			return nil, newError(CodeRange, "validate", fmt.Errorf("%s: %w, got %s", typ, errNotBool, v.Dec()))
		}
		return nil, newError(CodeRange, "validate", fmt.Errorf("%s out of range [0, %s]", v.Dec(), typ.Max().Dec()))
	}
	return v, nil
}

// ValidateEnvelope rejects malformed ciphertext envelopes before they reach a
// backend.
func ValidateEnvelope(v *EncryptedValue) error {
	if v == nil {
		return newError(CodeFormat, "validate", errNilValue)
	}
	if !v.Type.Valid() {
		return newError(CodeFormat, "validate", fmt.Errorf("unrecognized encrypted type %q", v.Type))
	}
	if len(v.Ciphertext) == 0 {
		return newError(CodeFormat, "validate", errEmpty)
	}
	return nil
}

func toUint256(value any) (*uint256.Int, error) {
	switch v := value.(type) {
	case uint8:
		return uint256.NewInt(uint64(v)), nil
	case uint16:
		return uint256.NewInt(uint64(v)), nil
	case uint32:
		return uint256.NewInt(uint64(v)), nil
	case uint64:
		return uint256.NewInt(v), nil
	case uint:
		return uint256.NewInt(uint64(v)), nil
	case int8:
		return fromInt64(int64(v))
	case int16:
		return fromInt64(int64(v))
	case int32:
		return fromInt64(int64(v))
	case int64:
		return fromInt64(v)
	case int:
		return fromInt64(int64(v))
	case *big.Int:
		if v == nil {
			return nil, errNotInteger
		}
		if v.Sign() < 0 {
			return nil, errNegative
		}
		out, overflow := uint256.FromBig(v)
		if overflow {
			return nil, fmt.Errorf("%s exceeds 256 bits", v)
		}
		return out, nil
	case *uint256.Int:
		if v == nil {
			return nil, errNotInteger
		}
		return v.Clone(), nil
	case uint256.Int:
		return v.Clone(), nil
	case json.Number:
		return fromString(v.String())
	case string:
		return fromString(v)
	default:
		return nil, fmt.Errorf("%w: %T", errNotInteger, value)
	}
}

func fromInt64(v int64) (*uint256.Int, error) {
	if v < 0 {
		return nil, errNegative
	}
	return uint256.NewInt(uint64(v)), nil
}

func fromString(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "-") {
		return nil, errNegative
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		b, ok := new(big.Int).SetString(s[2:], 16)
		if !ok {
			return nil, fmt.Errorf("%w: %q", errNotInteger, s)
		}
		return toUint256(b)
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", errNotInteger, s)
	}
	return v, nil
}

// decodeJSONValue turns a raw JSON plaintext (boolean, number or string)
// into something ValidateValue accepts.
func decodeJSONValue(raw json.RawMessage) (any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, newError(CodeFormat, "decode value", errors.New("value is required"))
	}
	switch raw[0] {
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, newError(CodeFormat, "decode value", err)
		}
		return b, nil
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, newError(CodeFormat, "decode value", err)
		}
		return s, nil
	default:
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var n json.Number
		if err := dec.Decode(&n); err != nil {
			return nil, newError(CodeFormat, "decode value", err)
		}
		return n, nil
	}
}

// DecodeJSONValue parses a JSON plaintext for typ, as sent by HTTP callers.
func DecodeJSONValue(raw json.RawMessage, typ EncryptedType) (*uint256.Int, error) {
	value, err := decodeJSONValue(raw)
	if err != nil {
		return nil, err
	}
	return ValidateValue(value, typ)
}
