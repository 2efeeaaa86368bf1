// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

// Package backend provides an in-process engine that honours the Backend
// capability contract, and a ledger contract stand-in that holds its
// ciphertexts. The engine seals plaintexts with an AEAD; it is not a
// homomorphic scheme and exists for development and tests.
package backend

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/luxfi/math/set"
	"go.uber.org/zap"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/luxfi/fhevm"
)

// Algorithm names the engine's key scheme in public key records.
const Algorithm = "memory-xchacha20poly1305"

var (
	_ fhevm.Backend   = (*MemoryBackend)(nil)
	_ fhevm.Evaluator = (*MemoryBackend)(nil)

	ErrUnknownCiphertext = errors.New("ciphertext was not issued by this engine")
	ErrUnknownContract   = errors.New("contract is not registered")
	ErrUnknownKey        = errors.New("unknown key version")
	ErrChainMismatch     = errors.New("network chain id does not match the engine")
)

type Option func(*MemoryBackend)

// WithSeed derives every key version from seed instead of a random secret,
// so ciphertexts survive a restart.
func WithSeed(seed []byte) Option {
	return func(b *MemoryBackend) {
		b.secret = append([]byte(nil), seed...)
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(b *MemoryBackend) {
		b.logger = logger
	}
}

// WithContracts registers contracts allowed to authorize decryptions.
func WithContracts(contracts ...common.Address) Option {
	return func(b *MemoryBackend) {
		b.contracts.Add(contracts...)
	}
}

type keyVersion struct {
	record fhevm.PublicKeyRecord
	secret []byte
}

// MemoryBackend is an in-memory implementation of fhevm.Backend and
// fhevm.Evaluator bound to one chain.
//
// Every key version is kept, so ciphertexts stay decryptable after
// rotation. Only ciphertexts this engine produced can be decrypted or
// computed on.
type MemoryBackend struct {
	chainID uint64
	logger  *zap.Logger
	secret  []byte

	mu        sync.RWMutex
	keys      []keyVersion
	contracts set.Set[common.Address]
	issued    map[common.Hash]struct{}
}

func NewMemoryBackend(chainID uint64, opts ...Option) (*MemoryBackend, error) {
	if chainID == 0 {
		return nil, fhevm.Errorf(fhevm.CodeFormat, "new engine", "chain id is zero")
	}
	b := &MemoryBackend{
		chainID:   chainID,
		logger:    zap.NewNop(),
		contracts: set.NewSet[common.Address](4),
		issued:    make(map[common.Hash]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	if len(b.secret) == 0 {
		b.secret = make([]byte, 32)
		if _, err := io.ReadFull(rand.Reader, b.secret); err != nil {
			return nil, fmt.Errorf("failed to generate engine secret: %w", err)
		}
	}
	if _, err := b.RotateKey(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *MemoryBackend) ChainID() uint64 {
	return b.chainID
}

// Connector binds this engine for networks on its chain.
func (b *MemoryBackend) Connector() fhevm.Connector {
	return fhevm.ConnectorFunc(func(_ context.Context, n fhevm.Network) (fhevm.Backend, error) {
		if n.ChainID != b.chainID {
			return nil, fhevm.NewError(fhevm.CodeFormat, "connect", fmt.Errorf("%w: network %d, engine %d", ErrChainMismatch, n.ChainID, b.chainID))
		}
		return b, nil
	})
}

// RegisterContract allows contracts to authorize decryptions.
func (b *MemoryBackend) RegisterContract(contracts ...common.Address) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.contracts.Add(contracts...)
}

// UnregisterContract revokes a contract. Ciphertexts it held stay issued.
func (b *MemoryBackend) UnregisterContract(contract common.Address) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.contracts.Remove(contract)
}

func (b *MemoryBackend) IsRegistered(contract common.Address) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.contracts.Contains(contract)
}

// RotateKey derives the next key version and makes it current. Older
// versions remain available for decryption.
func (b *MemoryBackend) RotateKey() (fhevm.PublicKeyRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	version := uint32(len(b.keys)) + 1
	secret, err := deriveKey(b.secret, version)
	if err != nil {
		return fhevm.PublicKeyRecord{}, err
	}
	public := sha256.Sum256(append([]byte("fhevm public key"), secret...))
	record := fhevm.PublicKeyRecord{
		Key:       public[:],
		Algorithm: Algorithm,
		Version:   version,
		Timestamp: time.Now().UTC(),
	}
	b.keys = append(b.keys, keyVersion{record: record, secret: secret})
	b.logger.Info("Rotated engine key", zap.Uint32("version", version))
	return record, nil
}

// PublicKey returns the current key version. It never rotates.
func (b *MemoryBackend) PublicKey(ctx context.Context) (fhevm.PublicKeyRecord, error) {
	if err := ctx.Err(); err != nil {
		return fhevm.PublicKeyRecord{}, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.keys[len(b.keys)-1].record, nil
}

// PublicKeys returns every key version, oldest first.
func (b *MemoryBackend) PublicKeys() []fhevm.PublicKeyRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()

	records := make([]fhevm.PublicKeyRecord, len(b.keys))
	for i, k := range b.keys {
		records[i] = k.record
	}
	return records
}

func (b *MemoryBackend) Encrypt(ctx context.Context, typ fhevm.EncryptedType, value *uint256.Int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if value == nil {
		return nil, fhevm.Errorf(fhevm.CodeRange, "encrypt", "value is nil")
	}
	if !typ.Valid() {
		return nil, fhevm.Errorf(fhevm.CodeFormat, "encrypt", "unrecognized encrypted type %q", typ)
	}
	if value.Gt(typ.Max()) {
		return nil, fhevm.Errorf(fhevm.CodeRange, "encrypt", "%s out of range for %s", value.Dec(), typ)
	}
	return b.seal(typ, value)
}

// Decrypt checks, in order, the request signature, the contract
// registration and the ciphertext registry before opening the ciphertext.
func (b *MemoryBackend) Decrypt(ctx context.Context, req *fhevm.DecryptionRequest) (fhevm.Plaintext, error) {
	const op = "decrypt"
	if err := ctx.Err(); err != nil {
		return fhevm.Plaintext{}, err
	}
	if err := fhevm.VerifyDecryption(b.chainID, req); err != nil {
		return fhevm.Plaintext{}, err
	}
	if !b.IsRegistered(req.ContractAddress) {
		return fhevm.Plaintext{}, fhevm.NewError(fhevm.CodeNotFound, op, fmt.Errorf("%w: %s", ErrUnknownContract, req.ContractAddress))
	}
	typ, value, err := b.open(req.Ciphertext)
	if err != nil {
		return fhevm.Plaintext{}, err
	}
	if typ != req.Type {
		return fhevm.Plaintext{}, fhevm.Errorf(fhevm.CodeFormat, op, "declared %s, ciphertext holds %s", req.Type, typ)
	}
	return fhevm.NewPlaintext(typ, value)
}

// Evaluate computes op over issued ciphertexts and returns a new ciphertext
// under the current key.
func (b *MemoryBackend) Evaluate(ctx context.Context, op fhevm.Operation, operands ...*fhevm.EncryptedValue) (*fhevm.EncryptedValue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	types := make([]fhevm.EncryptedType, len(operands))
	for i, v := range operands {
		if err := fhevm.ValidateEnvelope(v); err != nil {
			return nil, err
		}
		types[i] = v.Type
	}
	resultType, err := op.ResultType(types...)
	if err != nil {
		return nil, err
	}

	args := make([]*uint256.Int, len(operands))
	for i, v := range operands {
		typ, value, err := b.open(v.Ciphertext)
		if err != nil {
			return nil, err
		}
		if typ != v.Type {
			return nil, fhevm.Errorf(fhevm.CodeFormat, "compute", "operand %d declared %s, ciphertext holds %s", i, v.Type, typ)
		}
		args[i] = value
	}

	// Comparisons yield an ebool but compare in the operand domain.
	domain := resultType
	if op == fhevm.OpGe {
		domain = types[0]
	}
	result, err := apply(op, domain, args...)
	if err != nil {
		return nil, err
	}
	ct, err := b.seal(resultType, result)
	if err != nil {
		return nil, err
	}
	return &fhevm.EncryptedValue{
		Ciphertext: ct,
		Type:       resultType,
		CreatedAt:  time.Now(),
	}, nil
}

// Issued reports whether ciphertext was produced by this engine.
func (b *MemoryBackend) Issued(ciphertext []byte) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	_, ok := b.issued[crypto.Keccak256Hash(ciphertext)]
	return ok
}

func (b *MemoryBackend) seal(typ fhevm.EncryptedType, value *uint256.Int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	current := b.keys[len(b.keys)-1]
	aead, err := chacha20poly1305.NewX(current.secret)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	plain := value.Bytes32()
	env := &envelope{
		Version:    CodecVersion,
		KeyVersion: current.record.Version,
		Tag:        typ.Tag(),
		Nonce:      nonce,
	}
	env.Sealed = aead.Seal(nil, nonce, plain[:], additionalData(env))

	ct, err := marshalEnvelope(env)
	if err != nil {
		return nil, err
	}
	b.issued[crypto.Keccak256Hash(ct)] = struct{}{}
	return ct, nil
}

func (b *MemoryBackend) open(ct []byte) (fhevm.EncryptedType, *uint256.Int, error) {
	const op = "open ciphertext"
	b.mu.RLock()
	_, issued := b.issued[crypto.Keccak256Hash(ct)]
	keys := b.keys
	b.mu.RUnlock()
	if !issued {
		return "", nil, fhevm.NewError(fhevm.CodeNotFound, op, ErrUnknownCiphertext)
	}

	env, err := unmarshalEnvelope(ct)
	if err != nil {
		return "", nil, err
	}
	if env.KeyVersion == 0 || int(env.KeyVersion) > len(keys) {
		return "", nil, fhevm.NewError(fhevm.CodeNotFound, op, fmt.Errorf("%w: %d", ErrUnknownKey, env.KeyVersion))
	}
	aead, err := chacha20poly1305.NewX(keys[env.KeyVersion-1].secret)
	if err != nil {
		return "", nil, err
	}
	if len(env.Nonce) != aead.NonceSize() {
		return "", nil, fhevm.Errorf(fhevm.CodeFormat, op, "nonce length %d", len(env.Nonce))
	}
	plain, err := aead.Open(nil, env.Nonce, env.Sealed, additionalData(env))
	if err != nil {
		return "", nil, fhevm.NewError(fhevm.CodeFormat, op, err)
	}
	typ, err := env.Type()
	if err != nil {
		return "", nil, err
	}
	return typ, new(uint256.Int).SetBytes(plain), nil
}

// additionalData binds the codec version, key version and type tag into the
// seal.
func additionalData(e *envelope) []byte {
	ad := make([]byte, 7)
	binary.BigEndian.PutUint16(ad[0:2], e.Version)
	binary.BigEndian.PutUint32(ad[2:6], e.KeyVersion)
	ad[6] = e.Tag
	return ad
}

func deriveKey(secret []byte, version uint32) ([]byte, error) {
	info := fmt.Appendf(nil, "fhevm engine key v%d", version)
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, info), key); err != nil {
		return nil, fmt.Errorf("failed to derive key v%d: %w", version, err)
	}
	return key, nil
}
