// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package backend

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/fhevm"
	"github.com/luxfi/fhevm/signer"
)

const (
	defaultWait  = 2 * time.Second
	pollInterval = 5 * time.Millisecond
)

func TestLedgerSubmitAndCompute(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	engine := newTestEngine(t)
	ledger := NewLedger(testContract, engine)
	owner, err := signer.GenerateLocalSigner()
	require.NoError(err)

	submit := func(v uint64) ids.ID {
		ev := encryptValue(t, engine, fhevm.TypeUint32, v)
		sig, err := owner.SignMessage(ctx, fhevm.InputProofMessage(ev.Ciphertext))
		require.NoError(err)
		handle, err := ledger.Submit(&fhevm.EncryptedInput{Value: ev, Signer: owner.Address(), Signature: sig})
		require.NoError(err)
		return handle
	}

	a, b, c := submit(100), submit(30), submit(10)
	require.Equal(3, ledger.Len())

	result, err := ledger.Compute(ctx, fhevm.OpSub, a, b, c)
	require.NoError(err)
	got, err := ledger.Owner(result)
	require.NoError(err)
	require.Equal(owner.Address(), got)

	ev, err := ledger.Load(result)
	require.NoError(err)
	pt, err := engine.Decrypt(ctx, signedRequest(t, owner, testChainID, ev, ledger.Address()))
	require.NoError(err)
	require.Equal(uint32(60), pt.Value())

	ge, err := ledger.Compute(ctx, fhevm.OpGe, a, b)
	require.NoError(err)
	ev, err = ledger.Load(ge)
	require.NoError(err)
	require.Equal(fhevm.TypeBool, ev.Type)
}

func TestLedgerRejectsBadInputs(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	engine := newTestEngine(t)
	ledger := NewLedger(testContract, engine)
	alice, err := signer.GenerateLocalSigner()
	require.NoError(err)
	bob, err := signer.GenerateLocalSigner()
	require.NoError(err)

	ev := encryptValue(t, engine, fhevm.TypeUint8, 1)
	sig, err := bob.SignMessage(ctx, fhevm.InputProofMessage(ev.Ciphertext))
	require.NoError(err)
	_, err = ledger.Submit(&fhevm.EncryptedInput{Value: ev, Signer: alice.Address(), Signature: sig})
	require.ErrorIs(err, fhevm.ErrAuthorization)

	_, err = ledger.Load(ids.GenerateTestID())
	require.ErrorIs(err, fhevm.ErrNotFound)
	require.ErrorIs(err, ErrUnknownHandle)

	_, err = ledger.Compute(ctx, fhevm.OpAdd)
	require.ErrorIs(err, fhevm.ErrFormat)
}

func TestLedgerKeepsOwnCopy(t *testing.T) {
	require := require.New(t)
	engine := newTestEngine(t)
	ledger := NewLedger(testContract, engine)

	ct, err := engine.Encrypt(context.Background(), fhevm.TypeUint8, uint256.NewInt(9))
	require.NoError(err)
	ev := &fhevm.EncryptedValue{Ciphertext: ct, Type: fhevm.TypeUint8}
	handle, err := ledger.Store(ev, testContract)
	require.NoError(err)
	require.Equal(HandleOf(ct), handle)

	ev.Ciphertext[0] ^= 0xff
	stored, err := ledger.Load(handle)
	require.NoError(err)
	require.NotEqual(ev.Ciphertext, stored.Ciphertext)
}

func TestCountingConnector(t *testing.T) {
	require := require.New(t)
	engine := newTestEngine(t)
	gate := make(chan struct{})
	conn := NewCountingConnector(engine.Connector()).WithGate(gate)

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := conn.Connect(context.Background(), fhevm.Localhost())
			errs <- err
		}()
	}
	require.Eventually(func() bool { return conn.Attempts() == callers }, defaultWait, pollInterval)
	close(gate)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	blocked := NewCountingConnector(engine.Connector()).WithGate(make(chan struct{}))
	_, err := blocked.Connect(ctx, fhevm.Localhost())
	require.True(errors.Is(err, context.Canceled))
	require.Equal(int64(1), blocked.Attempts())
}
