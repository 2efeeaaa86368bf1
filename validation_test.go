// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fhevm

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestValidateValue(t *testing.T) {
	tests := []struct {
		name    string
		value   any
		typ     EncryptedType
		want    uint64
		wantErr error
	}{
		{name: "uint8 zero", value: 0, typ: TypeUint8, want: 0},
		{name: "uint8 max", value: 255, typ: TypeUint8, want: 255},
		{name: "uint8 overflow", value: 256, typ: TypeUint8, wantErr: ErrRange},
		{name: "uint16 max", value: uint16(65535), typ: TypeUint16, want: 65535},
		{name: "uint16 overflow", value: 65536, typ: TypeUint16, wantErr: ErrRange},
		{name: "uint32 max", value: uint32(4294967295), typ: TypeUint32, want: 4294967295},
		{name: "uint32 overflow", value: uint64(4294967296), typ: TypeUint32, wantErr: ErrRange},
		{name: "negative", value: -1, typ: TypeUint32, wantErr: ErrRange},
		{name: "negative big", value: big.NewInt(-5), typ: TypeUint32, wantErr: ErrRange},
		{name: "big in range", value: big.NewInt(70000), typ: TypeUint32, want: 70000},
		{name: "uint256", value: uint256.NewInt(12), typ: TypeUint8, want: 12},
		{name: "decimal string", value: "4000", typ: TypeUint16, want: 4000},
		{name: "hex string", value: "0x00ff", typ: TypeUint8, want: 255},
		{name: "negative string", value: "-3", typ: TypeUint8, wantErr: ErrRange},
		{name: "garbage string", value: "ten", typ: TypeUint8, wantErr: ErrRange},
		{name: "float", value: 1.5, typ: TypeUint8, wantErr: ErrRange},
		{name: "json number", value: json.Number("17"), typ: TypeUint8, want: 17},
		{name: "bool true", value: true, typ: TypeBool, want: 1},
		{name: "bool false", value: false, typ: TypeBool, want: 0},
		{name: "bool from one", value: 1, typ: TypeBool, want: 1},
		{name: "bool from two", value: 2, typ: TypeBool, wantErr: ErrRange},
		{name: "bool for integer type", value: true, typ: TypeUint8, wantErr: ErrRange},
		{name: "unknown type", value: 1, typ: "euint64", wantErr: ErrFormat},
		{name: "empty type", value: 1, typ: "", wantErr: ErrFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require := require.New(t)

			got, err := ValidateValue(tt.value, tt.typ)
			if tt.wantErr != nil {
				require.ErrorIs(err, tt.wantErr)
				return
			}
			require.NoError(err)
			require.Equal(tt.want, got.Uint64())
		})
	}
}

func TestValidateValueDoesNotAlias(t *testing.T) {
	require := require.New(t)

	in := uint256.NewInt(7)
	out, err := ValidateValue(in, TypeUint8)
	require.NoError(err)
	out.SetUint64(9)
	require.Equal(uint64(7), in.Uint64())
}

func TestMaxValue(t *testing.T) {
	tests := []struct {
		typ  EncryptedType
		want uint64
	}{
		{typ: TypeUint8, want: 255},
		{typ: TypeUint16, want: 65535},
		{typ: TypeUint32, want: 4294967295},
		{typ: TypeBool, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			got, err := MaxValue(tt.typ)
			require.NoError(t, err)
			require.Equal(t, tt.want, got.Uint64())
		})
	}

	_, err := MaxValue("euint64")
	require.ErrorIs(t, err, ErrFormat)
}

func TestValidateEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		value   *EncryptedValue
		wantErr error
	}{
		{name: "valid", value: &EncryptedValue{Ciphertext: []byte{1}, Type: TypeUint8}},
		{name: "nil", value: nil, wantErr: ErrFormat},
		{name: "empty ciphertext", value: &EncryptedValue{Type: TypeUint8}, wantErr: ErrFormat},
		{name: "unknown type", value: &EncryptedValue{Ciphertext: []byte{1}, Type: "euint64"}, wantErr: ErrFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEnvelope(tt.value)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestDecodeJSONValue(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		typ     EncryptedType
		want    uint64
		wantErr error
	}{
		{name: "number", raw: `42`, typ: TypeUint8, want: 42},
		{name: "string", raw: `"65535"`, typ: TypeUint16, want: 65535},
		{name: "bool", raw: `true`, typ: TypeBool, want: 1},
		{name: "null", raw: `null`, typ: TypeUint8, wantErr: ErrFormat},
		{name: "missing", raw: ``, typ: TypeUint8, wantErr: ErrFormat},
		{name: "fraction", raw: `1.25`, typ: TypeUint8, wantErr: ErrRange},
		{name: "too large", raw: `300`, typ: TypeUint8, wantErr: ErrRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require := require.New(t)

			got, err := DecodeJSONValue(json.RawMessage(tt.raw), tt.typ)
			if tt.wantErr != nil {
				require.ErrorIs(err, tt.wantErr)
				return
			}
			require.NoError(err)
			require.Equal(tt.want, got.Uint64())
		})
	}
}
