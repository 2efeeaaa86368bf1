// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fhevm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncryptedTypeTags(t *testing.T) {
	require := require.New(t)

	seen := make(map[uint8]bool)
	for _, typ := range EncryptedTypes {
		require.True(typ.Valid())
		tag := typ.Tag()
		require.False(seen[tag], "duplicate tag %d", tag)
		seen[tag] = true

		back, err := TypeFromTag(tag)
		require.NoError(err)
		require.Equal(typ, back)

		parsed, err := ParseEncryptedType(typ.String())
		require.NoError(err)
		require.Equal(typ, parsed)
	}

	_, err := TypeFromTag(0)
	require.ErrorIs(err, ErrFormat)
	_, err = ParseEncryptedType("euint64")
	require.ErrorIs(err, ErrFormat)
	require.Nil(EncryptedType("euint64").Max())
}

func TestPlaintextValue(t *testing.T) {
	tests := []struct {
		typ   EncryptedType
		value any
		want  any
		json  string
	}{
		{typ: TypeUint8, value: 200, want: uint8(200), json: `{"type":"euint8","value":"200"}`},
		{typ: TypeUint16, value: 513, want: uint16(513), json: `{"type":"euint16","value":"513"}`},
		{typ: TypeUint32, value: "4294967295", want: uint32(4294967295), json: `{"type":"euint32","value":"4294967295"}`},
		{typ: TypeBool, value: true, want: true, json: `{"type":"ebool","value":true}`},
		{typ: TypeBool, value: 0, want: false, json: `{"type":"ebool","value":false}`},
	}
	for _, tt := range tests {
		t.Run(tt.json, func(t *testing.T) {
			require := require.New(t)

			pt, err := NewPlaintext(tt.typ, tt.value)
			require.NoError(err)
			require.Equal(tt.want, pt.Value())

			raw, err := json.Marshal(pt)
			require.NoError(err)
			require.JSONEq(tt.json, string(raw))

			var decoded Plaintext
			require.NoError(json.Unmarshal(raw, &decoded))
			require.Equal(tt.want, decoded.Value())
		})
	}
}

func TestPlaintextBool(t *testing.T) {
	require := require.New(t)

	pt, err := NewPlaintext(TypeBool, true)
	require.NoError(err)
	b, err := pt.Bool()
	require.NoError(err)
	require.True(b)

	n, err := NewPlaintext(TypeUint8, 1)
	require.NoError(err)
	_, err = n.Bool()
	require.ErrorIs(err, ErrFormat)

	var bad Plaintext
	require.ErrorIs(json.Unmarshal([]byte(`{"type":"euint8","value":"256"}`), &bad), ErrRange)
}

func TestEncryptedValueCopies(t *testing.T) {
	require := require.New(t)

	v := &EncryptedValue{Ciphertext: []byte{1, 2, 3}, Type: TypeUint8}
	c := v.Clone()
	b := v.Bytes()
	c.Ciphertext[0] = 9
	b[1] = 9
	require.Equal([]byte{1, 2, 3}, []byte(v.Ciphertext))
}
