// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/luxfi/ids"

	"github.com/luxfi/fhevm"
)

var ErrUnknownHandle = errors.New("unknown ciphertext handle")

type entry struct {
	value *fhevm.EncryptedValue
	owner common.Address
}

// Ledger stands in for the contract that takes ownership of submitted
// ciphertexts and computes over them. Handles are content addressed.
type Ledger struct {
	address   common.Address
	evaluator fhevm.Evaluator

	mu      sync.RWMutex
	entries map[ids.ID]entry
}

func NewLedger(address common.Address, evaluator fhevm.Evaluator) *Ledger {
	return &Ledger{
		address:   address,
		evaluator: evaluator,
		entries:   make(map[ids.ID]entry),
	}
}

// Address is the contract address decryptions are authorized through.
func (l *Ledger) Address() common.Address {
	return l.address
}

// HandleOf returns the content address of a ciphertext.
func HandleOf(ciphertext []byte) ids.ID {
	return ids.ID(crypto.Keccak256Hash(ciphertext))
}

// Submit verifies the input proof and stores the value on behalf of its
// signer.
func (l *Ledger) Submit(in *fhevm.EncryptedInput) (ids.ID, error) {
	if err := fhevm.VerifyInputSignature(in); err != nil {
		return ids.Empty, err
	}
	return l.Store(in.Value, in.Signer)
}

// Store records v for owner. The ledger keeps its own copy.
func (l *Ledger) Store(v *fhevm.EncryptedValue, owner common.Address) (ids.ID, error) {
	if err := fhevm.ValidateEnvelope(v); err != nil {
		return ids.Empty, err
	}
	handle := HandleOf(v.Ciphertext)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[handle] = entry{value: v.Clone(), owner: owner}
	return handle, nil
}

func (l *Ledger) Load(handle ids.ID) (*fhevm.EncryptedValue, error) {
	e, err := l.get(handle)
	if err != nil {
		return nil, err
	}
	return e.value.Clone(), nil
}

func (l *Ledger) Owner(handle ids.ID) (common.Address, error) {
	e, err := l.get(handle)
	if err != nil {
		return common.Address{}, err
	}
	return e.owner, nil
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.entries)
}

func (l *Ledger) get(handle ids.ID) (entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	e, ok := l.entries[handle]
	if !ok {
		return entry{}, fhevm.NewError(fhevm.CodeNotFound, "load", fmt.Errorf("%w: %s", ErrUnknownHandle, handle))
	}
	return e, nil
}

// Compute applies op to the stored operands and stores the result, owned by
// the owner of the first operand. Foldable operations accept any number of
// operands and reduce them left to right.
func (l *Ledger) Compute(ctx context.Context, op fhevm.Operation, handles ...ids.ID) (ids.ID, error) {
	if len(handles) == 0 {
		return ids.Empty, fhevm.Errorf(fhevm.CodeFormat, "compute", "no operands")
	}
	operands := make([]*fhevm.EncryptedValue, len(handles))
	for i, h := range handles {
		v, err := l.Load(h)
		if err != nil {
			return ids.Empty, err
		}
		operands[i] = v
	}
	owner, err := l.Owner(handles[0])
	if err != nil {
		return ids.Empty, err
	}

	var result *fhevm.EncryptedValue
	if op.Foldable() {
		result, err = fhevm.Fold(ctx, l.evaluator, op, operands)
	} else {
		result, err = fhevm.Evaluate(ctx, l.evaluator, op, operands...)
	}
	if err != nil {
		return ids.Empty, err
	}
	return l.Store(result, owner)
}
