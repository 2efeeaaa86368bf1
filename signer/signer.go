// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

// Package signer provides TypedDataSigner implementations: a local
// secp256k1 key, a remote signing service and an LRU-backed cache that
// avoids re-prompting for identical requests.
package signer

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/luxfi/fhevm"
	"github.com/luxfi/fhevm/cache"
)

var (
	_ fhevm.TypedDataSigner = (*LocalSigner)(nil)
	_ fhevm.MessageSigner   = (*LocalSigner)(nil)
	_ fhevm.TypedDataSigner = (*RemoteSigner)(nil)
	_ fhevm.TypedDataSigner = (*CachedSigner)(nil)
	_ fhevm.MessageSigner   = (*CachedSigner)(nil)

	ErrRemoteAddressMismatch = errors.New("remote signature does not recover to the signer address")
)

// walletRecoveryOffset is added to the recovery id so signatures match what
// browser wallets return.
const walletRecoveryOffset = 27

// LocalSigner signs with a secp256k1 key held in memory.
type LocalSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func NewLocalSigner(key *ecdsa.PrivateKey) *LocalSigner {
	return &LocalSigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}
}

// NewLocalSignerFromHex parses a hex private key, with or without 0x.
func NewLocalSignerFromHex(hexKey string) (*LocalSigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return NewLocalSigner(key), nil
}

// GenerateLocalSigner creates a signer with a fresh random key.
func GenerateLocalSigner() (*LocalSigner, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return NewLocalSigner(key), nil
}

func (s *LocalSigner) Address() common.Address {
	return s.address
}

// PrivateKeyHex exports the key for the keygen command.
func (s *LocalSigner) PrivateKeyHex() string {
	return hexutil.Encode(crypto.FromECDSA(s.key))
}

func (s *LocalSigner) SignTypedData(
	_ context.Context,
	domain apitypes.TypedDataDomain,
	types apitypes.Types,
	message apitypes.TypedDataMessage,
) ([]byte, error) {
	digest, err := typedDataDigest(domain, types, message)
	if err != nil {
		return nil, err
	}
	return s.sign(digest[:])
}

// SignMessage produces an EIP-191 personal signature over data.
func (s *LocalSigner) SignMessage(_ context.Context, data []byte) ([]byte, error) {
	return s.sign(accounts.TextHash(data))
}

func (s *LocalSigner) sign(digest []byte) ([]byte, error) {
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += walletRecoveryOffset
	return sig, nil
}

func typedDataDigest(
	domain apitypes.TypedDataDomain,
	types apitypes.Types,
	message apitypes.TypedDataMessage,
) (common.Hash, error) {
	td, err := fhevm.NewTypedData(domain, types, message)
	if err != nil {
		return common.Hash{}, err
	}
	return fhevm.HashTypedData(td)
}

// SignerClient talks to a remote signing service, such as a KMS or a wallet
// bridge, that signs raw 32-byte digests.
type SignerClient interface {
	Address(ctx context.Context) (common.Address, error)
	SignDigest(ctx context.Context, digest []byte) ([]byte, error)
}

// RemoteSigner computes typed-data digests locally and has them signed by a
// SignerClient.
type RemoteSigner struct {
	client  SignerClient
	address common.Address
}

// NewRemoteSigner resolves the remote identity once.
func NewRemoteSigner(ctx context.Context, client SignerClient) (*RemoteSigner, error) {
	addr, err := client.Address(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get remote address: %w", err)
	}
	return &RemoteSigner{
		client:  client,
		address: addr,
	}, nil
}

func (s *RemoteSigner) Address() common.Address {
	return s.address
}

func (s *RemoteSigner) SignTypedData(
	ctx context.Context,
	domain apitypes.TypedDataDomain,
	types apitypes.Types,
	message apitypes.TypedDataMessage,
) ([]byte, error) {
	digest, err := typedDataDigest(domain, types, message)
	if err != nil {
		return nil, err
	}
	sig, err := s.client.SignDigest(ctx, digest[:])
	if err != nil {
		return nil, fmt.Errorf("failed to sign remotely: %w", err)
	}
	signer, err := fhevm.RecoverSigner(digest[:], sig)
	if err != nil {
		return nil, err
	}
	if signer != s.address {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrRemoteAddressMismatch, signer, s.address)
	}
	return sig, nil
}

// CachedSigner memoizes typed-data signatures by digest. Signing is
// deterministic per digest, so a cached signature is as good as a fresh one.
type CachedSigner struct {
	signer fhevm.TypedDataSigner
	cache  *cache.LRUCache[common.Hash, []byte]
}

func NewCachedSigner(s fhevm.TypedDataSigner, size int) (*CachedSigner, error) {
	c, err := cache.NewLRUCache[common.Hash, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create signature cache: %w", err)
	}
	return &CachedSigner{
		signer: s,
		cache:  c,
	}, nil
}

func (c *CachedSigner) Address() common.Address {
	return c.signer.Address()
}

func (c *CachedSigner) SignTypedData(
	ctx context.Context,
	domain apitypes.TypedDataDomain,
	types apitypes.Types,
	message apitypes.TypedDataMessage,
) ([]byte, error) {
	digest, err := typedDataDigest(domain, types, message)
	if err != nil {
		return nil, err
	}
	sig, err := c.cache.Get(digest, func(common.Hash) ([]byte, error) {
		return c.signer.SignTypedData(ctx, domain, types, message)
	}, false)
	if err != nil {
		return nil, err
	}
	return bytes.Clone(sig), nil
}

// SignMessage forwards to the wrapped signer. Input proofs are not cached.
func (c *CachedSigner) SignMessage(ctx context.Context, data []byte) ([]byte, error) {
	ms, ok := c.signer.(fhevm.MessageSigner)
	if !ok {
		return nil, fhevm.ErrMessageUnsigned
	}
	return ms.SignMessage(ctx, data)
}
