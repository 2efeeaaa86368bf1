// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fhevm

import (
	"context"

	"github.com/holiman/uint256"
)

// Backend is the capability contract of a confidential-computation engine
// and its decryption gateway. Implementations must be safe for concurrent
// use.
type Backend interface {
	// Encrypt returns the ciphertext of an already validated plaintext under
	// the current public key version.
	Encrypt(ctx context.Context, typ EncryptedType, value *uint256.Int) ([]byte, error)

	// Decrypt reveals the plaintext of req.Ciphertext after checking the
	// request's authorization. Unauthorized requests must fail with an
	// authorization error and unknown ciphertexts with a not-found error.
	Decrypt(ctx context.Context, req *DecryptionRequest) (Plaintext, error)

	// PublicKey returns the current public key. It never forces rotation.
	PublicKey(ctx context.Context) (PublicKeyRecord, error)
}

// Evaluator is implemented by backends that compute over ciphertexts.
type Evaluator interface {
	Evaluate(ctx context.Context, op Operation, operands ...*EncryptedValue) (*EncryptedValue, error)
}

// Connector binds a Backend for a network. It is called at most once per
// successful initialization.
type Connector interface {
	Connect(ctx context.Context, network Network) (Backend, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context, network Network) (Backend, error)

func (f ConnectorFunc) Connect(ctx context.Context, network Network) (Backend, error) {
	return f(ctx, network)
}

// StaticConnector binds an already constructed backend.
func StaticConnector(b Backend) Connector {
	return ConnectorFunc(func(context.Context, Network) (Backend, error) {
		return b, nil
	})
}
