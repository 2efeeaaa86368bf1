// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package backend

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/luxfi/fhevm"
)

// CodecVersion is the ciphertext envelope version written by this engine.
const CodecVersion uint16 = 0

var errUnknownCodecVersion = errors.New("unknown codec version")

// envelope is the RLP layout of a ciphertext produced by MemoryBackend.
type envelope struct {
	Version    uint16
	KeyVersion uint32
	Tag        uint8
	Nonce      []byte
	Sealed     []byte
}

func (e *envelope) Type() (fhevm.EncryptedType, error) {
	return fhevm.TypeFromTag(e.Tag)
}

func marshalEnvelope(e *envelope) ([]byte, error) {
	return rlp.EncodeToBytes(e)
}

// unmarshalEnvelope decodes b. Anything that is not a well-formed envelope
// of a known version is a format error.
func unmarshalEnvelope(b []byte) (*envelope, error) {
	e := new(envelope)
	if err := rlp.DecodeBytes(b, e); err != nil {
		return nil, fhevm.NewError(fhevm.CodeFormat, "decode ciphertext", err)
	}
	if e.Version != CodecVersion {
		return nil, fhevm.NewError(fhevm.CodeFormat, "decode ciphertext", fmt.Errorf("%w: %d", errUnknownCodecVersion, e.Version))
	}
	if _, err := e.Type(); err != nil {
		return nil, err
	}
	return e, nil
}
