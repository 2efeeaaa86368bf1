// Copyright (C) 2025, Lux Industries, Inc.
// See the file LICENSE for licensing terms.

package main

import (
	"bytes"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/fhevm"
)

func TestParsePlaintext(t *testing.T) {
	tests := []struct {
		in      string
		typ     fhevm.EncryptedType
		want    any
		wantErr error
	}{
		{in: "true", typ: fhevm.TypeBool, want: true},
		{in: "0", typ: fhevm.TypeBool, want: false},
		{in: "255", typ: fhevm.TypeUint8, want: uint256.NewInt(255)},
		{in: "0xffff", typ: fhevm.TypeUint16, want: uint256.NewInt(65535)},
		{in: "256", typ: fhevm.TypeUint8, wantErr: fhevm.ErrRange},
		{in: "true", typ: fhevm.TypeUint32, wantErr: fhevm.ErrRange},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parsePlaintext(tt.in, tt.typ)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestParseOperand(t *testing.T) {
	require := require.New(t)

	ev, err := parseOperand("euint8:0xdead")
	require.NoError(err)
	require.Equal(fhevm.TypeUint8, ev.Type)
	require.Equal([]byte{0xde, 0xad}, ev.Bytes())

	_, err = parseOperand("0xdead")
	require.ErrorIs(err, fhevm.ErrFormat)
	_, err = parseOperand("euint64:0xdead")
	require.ErrorIs(err, fhevm.ErrFormat)
	_, err = parseOperand("euint8:dead")
	require.ErrorIs(err, fhevm.ErrFormat)
}

func TestPrintResult(t *testing.T) {
	require := require.New(t)
	pt, err := fhevm.NewPlaintext(fhevm.TypeUint16, 1234)
	require.NoError(err)

	var out bytes.Buffer
	require.NoError(printResult(&out, formatJSON, pt))
	require.JSONEq(`{"type":"euint16","value":"1234"}`, out.String())

	out.Reset()
	require.NoError(printResult(&out, formatYAML, keyPair{Address: "alice", PrivateKey: "secret"}))
	require.Equal("address: alice\nprivateKey: secret\n", out.String())
}
