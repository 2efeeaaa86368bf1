// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fhevm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

// EncryptedType is the declared plaintext kind of a ciphertext.
type EncryptedType string

const (
	TypeUint8  EncryptedType = "euint8"
	TypeUint16 EncryptedType = "euint16"
	TypeUint32 EncryptedType = "euint32"
	TypeBool   EncryptedType = "ebool"
)

// Wire tags. These are part of the ciphertext envelope and must not change.
const (
	tagUint8  uint8 = 1
	tagUint16 uint8 = 2
	tagUint32 uint8 = 3
	tagBool   uint8 = 4
)

// EncryptedTypes lists every supported type, narrowest first.
var EncryptedTypes = []EncryptedType{TypeUint8, TypeUint16, TypeUint32, TypeBool}

// ParseEncryptedType parses the canonical type name.
func ParseEncryptedType(s string) (EncryptedType, error) {
	t := EncryptedType(s)
	if !t.Valid() {
		return "", newError(CodeFormat, "parse type", fmt.Errorf("unrecognized encrypted type %q", s))
	}
	return t, nil
}

// TypeFromTag maps a wire tag back to its type.
func TypeFromTag(tag uint8) (EncryptedType, error) {
	switch tag {
	case tagUint8:
		return TypeUint8, nil
	case tagUint16:
		return TypeUint16, nil
	case tagUint32:
		return TypeUint32, nil
	case tagBool:
		return TypeBool, nil
	default:
		return "", newError(CodeFormat, "parse type", fmt.Errorf("unrecognized type tag %d", tag))
	}
}

// Valid reports whether t is one of the recognized kinds.
func (t EncryptedType) Valid() bool {
	return t.Tag() != 0
}

// Tag returns the wire tag of t, or 0 when t is not recognized.
func (t EncryptedType) Tag() uint8 {
	switch t {
	case TypeUint8:
		return tagUint8
	case TypeUint16:
		return tagUint16
	case TypeUint32:
		return tagUint32
	case TypeBool:
		return tagBool
	default:
		return 0
	}
}

// Bits returns the plaintext width of t.
func (t EncryptedType) Bits() uint {
	switch t {
	case TypeUint8:
		return 8
	case TypeUint16:
		return 16
	case TypeUint32:
		return 32
	case TypeBool:
		return 1
	default:
		return 0
	}
}

// Max returns the inclusive upper bound of t's domain, or nil when t is not
// recognized.
func (t EncryptedType) Max() *uint256.Int {
	bits := t.Bits()
	if bits == 0 {
		return nil
	}
	bound := new(uint256.Int).Lsh(uint256.NewInt(1), bits)
	return bound.SubUint64(bound, 1)
}

func (t EncryptedType) String() string {
	return string(t)
}

// EncryptedValue is a ciphertext bound to its declared plaintext type.
//
// Values are immutable once created. Operations over ciphertexts produce new
// values; callers must not modify Ciphertext in place.
type EncryptedValue struct {
	Ciphertext hexutil.Bytes `json:"ciphertext"`
	Type       EncryptedType `json:"type"`
	CreatedAt  time.Time     `json:"createdAt"`
}

// Bytes returns a copy of the ciphertext.
func (v *EncryptedValue) Bytes() []byte {
	return bytes.Clone(v.Ciphertext)
}

// Clone returns a deep copy of v.
func (v *EncryptedValue) Clone() *EncryptedValue {
	return &EncryptedValue{
		Ciphertext: bytes.Clone(v.Ciphertext),
		Type:       v.Type,
		CreatedAt:  v.CreatedAt,
	}
}

// Validate checks the envelope without touching the backend.
func (v *EncryptedValue) Validate() error {
	return ValidateEnvelope(v)
}

// EncryptedInput is an encrypted value plus the submitter's EIP-191
// signature over the ciphertext.
type EncryptedInput struct {
	Value     *EncryptedValue `json:"value"`
	Signer    common.Address  `json:"signer"`
	Signature hexutil.Bytes   `json:"signature"`
}

// DecryptionRequest asks the gateway to reveal one ciphertext to one
// requester, authorized through one contract.
//
// Only Ciphertext, ContractAddress and RequesterAddress are covered by the
// signature. ID is a correlation handle for logs.
type DecryptionRequest struct {
	ID               string         `json:"id,omitempty"`
	Ciphertext       hexutil.Bytes  `json:"ciphertext"`
	Type             EncryptedType  `json:"type"`
	ContractAddress  common.Address `json:"contractAddress"`
	RequesterAddress common.Address `json:"requesterAddress"`
	Signature        hexutil.Bytes  `json:"signature"`
}

// Envelope returns the ciphertext envelope the request refers to.
func (r *DecryptionRequest) Envelope() *EncryptedValue {
	return &EncryptedValue{Ciphertext: r.Ciphertext, Type: r.Type}
}

// PublicKeyRecord is one version of the engine's public key.
type PublicKeyRecord struct {
	Key       hexutil.Bytes `json:"key"`
	Algorithm string        `json:"algorithm"`
	Version   uint32        `json:"version"`
	Timestamp time.Time     `json:"timestamp"`
}

// Equal reports whether two records describe the same key version.
func (r PublicKeyRecord) Equal(o PublicKeyRecord) bool {
	return bytes.Equal(r.Key, o.Key) &&
		r.Algorithm == o.Algorithm &&
		r.Version == o.Version &&
		r.Timestamp.Equal(o.Timestamp)
}

// Plaintext is a decrypted value carrying its declared type.
type Plaintext struct {
	typ   EncryptedType
	value *uint256.Int
}

// NewPlaintext checks value against typ's bound table.
func NewPlaintext(typ EncryptedType, value any) (Plaintext, error) {
	v, err := ValidateValue(value, typ)
	if err != nil {
		return Plaintext{}, err
	}
	return Plaintext{typ: typ, value: v}, nil
}

// Type returns the declared type.
func (p Plaintext) Type() EncryptedType {
	return p.typ
}

// Int returns a copy of the numeric representation. Booleans are 0 or 1.
func (p Plaintext) Int() *uint256.Int {
	if p.value == nil {
		return new(uint256.Int)
	}
	return p.value.Clone()
}

// Value returns the plaintext as uint8, uint16, uint32 or bool according to
// the declared type.
func (p Plaintext) Value() any {
	v := p.Int().Uint64()
	switch p.typ {
	case TypeUint8:
		return uint8(v)
	case TypeUint16:
		return uint16(v)
	case TypeUint32:
		return uint32(v)
	case TypeBool:
		return v == 1
	default:
		return nil
	}
}

// Uint64 returns the numeric representation.
func (p Plaintext) Uint64() uint64 {
	return p.Int().Uint64()
}

// Bool returns the plaintext of an ebool.
func (p Plaintext) Bool() (bool, error) {
	if p.typ != TypeBool {
		return false, newError(CodeFormat, "plaintext", fmt.Errorf("%s is not %s", p.typ, TypeBool))
	}
	return p.Int().Uint64() == 1, nil
}

func (p Plaintext) String() string {
	return fmt.Sprintf("%s(%v)", p.typ, p.Value())
}

type plaintextJSON struct {
	Type  EncryptedType   `json:"type"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON encodes booleans as JSON booleans and integers as decimal
// strings.
func (p Plaintext) MarshalJSON() ([]byte, error) {
	var raw []byte
	if p.typ == TypeBool {
		raw = []byte(fmt.Sprint(p.Uint64() == 1))
	} else {
		raw = []byte(`"` + p.Int().Dec() + `"`)
	}
	return json.Marshal(plaintextJSON{Type: p.typ, Value: raw})
}

func (p *Plaintext) UnmarshalJSON(b []byte) error {
	var aux plaintextJSON
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	value, err := decodeJSONValue(aux.Value)
	if err != nil {
		return err
	}
	pt, err := NewPlaintext(aux.Type, value)
	if err != nil {
		return err
	}
	*p = pt
	return nil
}
