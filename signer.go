// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package fhevm

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

var (
	ErrNoSigner        = errors.New("no signer configured")
	ErrWrongRequester  = errors.New("requester is not the signer")
	ErrMessageUnsigned = errors.New("signer cannot sign messages")
)

// TypedDataSigner produces EIP-712 signatures for one identity. Types omit
// the EIP712Domain entry, as wallets expect.
type TypedDataSigner interface {
	Address() common.Address
	SignTypedData(
		ctx context.Context,
		domain apitypes.TypedDataDomain,
		types apitypes.Types,
		message apitypes.TypedDataMessage,
	) ([]byte, error)
}

// MessageSigner produces EIP-191 personal signatures. Signers that implement
// it can attach input proofs to encrypted values.
type MessageSigner interface {
	SignMessage(ctx context.Context, data []byte) ([]byte, error)
}

// SignDecryption signs the typed data authorizing requester to decrypt
// ciphertext under domain. A signer never signs for another identity.
func SignDecryption(
	ctx context.Context,
	s TypedDataSigner,
	domain Domain,
	ciphertext []byte,
	requester common.Address,
) ([]byte, error) {
	const op = "sign decryption"
	if s == nil {
		return nil, newError(CodeAuthorization, op, ErrNoSigner)
	}
	if addr := s.Address(); addr != requester {
		return nil, newError(CodeAuthorization, op, fmt.Errorf("%w: signer %s, requester %s", ErrWrongRequester, addr, requester))
	}
	if err := domain.Validate(); err != nil {
		return nil, err
	}
	sig, err := s.SignTypedData(ctx, domain.TypedDataDomain(), DecryptionTypes(), DecryptionMessage(ciphertext, requester))
	if err != nil {
		return nil, newError(CodeAuthorization, op, err)
	}
	return sig, nil
}
