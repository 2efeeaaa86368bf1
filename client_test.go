// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fhevm_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/fhevm"
	"github.com/luxfi/fhevm/backend"
	"github.com/luxfi/fhevm/signer"
)

var ledgerAddress = common.HexToAddress("0x00000000000000000000000000000000000000f1")

// countingBackend records how often each capability is used.
type countingBackend struct {
	fhevm.Backend
	encrypts   atomic.Int32
	decrypts   atomic.Int32
	publicKeys atomic.Int32
}

func (b *countingBackend) Encrypt(ctx context.Context, typ fhevm.EncryptedType, v *uint256.Int) ([]byte, error) {
	b.encrypts.Add(1)
	return b.Backend.Encrypt(ctx, typ, v)
}

func (b *countingBackend) Decrypt(ctx context.Context, req *fhevm.DecryptionRequest) (fhevm.Plaintext, error) {
	b.decrypts.Add(1)
	return b.Backend.Decrypt(ctx, req)
}

func (b *countingBackend) PublicKey(ctx context.Context) (fhevm.PublicKeyRecord, error) {
	b.publicKeys.Add(1)
	return b.Backend.PublicKey(ctx)
}

// gatedBackend holds PublicKey until release is closed.
type gatedBackend struct {
	fhevm.Backend
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (b *gatedBackend) PublicKey(ctx context.Context) (fhevm.PublicKeyRecord, error) {
	if b.calls.Add(1) == 1 {
		close(b.started)
	}
	select {
	case <-b.release:
	case <-ctx.Done():
		return fhevm.PublicKeyRecord{}, ctx.Err()
	}
	return b.Backend.PublicKey(ctx)
}

type testEnv struct {
	engine  *backend.MemoryBackend
	backend *countingBackend
	signer  *signer.LocalSigner
	client  *fhevm.Client
}

func newTestEnv(t *testing.T, opts ...fhevm.Option) *testEnv {
	t.Helper()
	require := require.New(t)

	engine, err := backend.NewMemoryBackend(fhevm.LocalhostChainID, backend.WithContracts(ledgerAddress))
	require.NoError(err)
	s, err := signer.GenerateLocalSigner()
	require.NoError(err)
	counting := &countingBackend{Backend: engine}

	opts = append([]fhevm.Option{fhevm.WithSigner(s)}, opts...)
	client, err := fhevm.NewClient(fhevm.Localhost(), fhevm.StaticConnector(counting), opts...)
	require.NoError(err)
	return &testEnv{
		engine:  engine,
		backend: counting,
		signer:  s,
		client:  client,
	}
}

func TestClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	tests := []struct {
		name    string
		encrypt func() (*fhevm.EncryptedValue, error)
		want    any
	}{
		{
			name:    "euint8 max",
			encrypt: func() (*fhevm.EncryptedValue, error) { return env.client.EncryptUint8(ctx, 255) },
			want:    uint8(255),
		},
		{
			name:    "euint16",
			encrypt: func() (*fhevm.EncryptedValue, error) { return env.client.EncryptUint16(ctx, 40000) },
			want:    uint16(40000),
		},
		{
			name:    "euint32 max",
			encrypt: func() (*fhevm.EncryptedValue, error) { return env.client.EncryptUint32(ctx, 4294967295) },
			want:    uint32(4294967295),
		},
		{
			name:    "ebool true",
			encrypt: func() (*fhevm.EncryptedValue, error) { return env.client.EncryptBool(ctx, true) },
			want:    true,
		},
		{
			name:    "ebool false",
			encrypt: func() (*fhevm.EncryptedValue, error) { return env.client.EncryptBool(ctx, false) },
			want:    false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require := require.New(t)

			ev, err := tt.encrypt()
			require.NoError(err)
			require.NotEmpty(ev.Ciphertext)
			require.False(ev.CreatedAt.IsZero())

			pt, err := env.client.Decrypt(ctx, ev, ledgerAddress)
			require.NoError(err)
			require.Equal(tt.want, pt.Value())
		})
	}
}

func TestClientEncryptRejectsBeforeBackend(t *testing.T) {
	tests := []struct {
		name    string
		value   any
		typ     fhevm.EncryptedType
		wantErr error
	}{
		{name: "unknown type", value: 1, typ: "euint64", wantErr: fhevm.ErrFormat},
		{name: "overflow", value: 256, typ: fhevm.TypeUint8, wantErr: fhevm.ErrRange},
		{name: "negative", value: -1, typ: fhevm.TypeUint32, wantErr: fhevm.ErrRange},
		{name: "bool as integer", value: true, typ: fhevm.TypeUint16, wantErr: fhevm.ErrRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require := require.New(t)
			env := newTestEnv(t)

			_, err := env.client.Encrypt(context.Background(), tt.value, tt.typ)
			require.ErrorIs(err, tt.wantErr)
			require.False(fhevm.IsRetryable(err))
			require.Zero(env.backend.encrypts.Load())
			require.False(env.client.IsReady())
		})
	}
}

func TestClientDecryptRejectsMalformedEnvelope(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.client.Decrypt(ctx, &fhevm.EncryptedValue{Type: fhevm.TypeUint8}, ledgerAddress)
	require.ErrorIs(err, fhevm.ErrFormat)

	_, err = env.client.DecryptRequest(ctx, &fhevm.DecryptionRequest{Ciphertext: []byte{1}, Type: "euint64"})
	require.ErrorIs(err, fhevm.ErrFormat)

	_, err = env.client.DecryptRequest(ctx, nil)
	require.ErrorIs(err, fhevm.ErrFormat)
	require.Zero(env.backend.decrypts.Load())
}

func TestClientDecryptAuthorization(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	env := newTestEnv(t)
	mallory, err := signer.GenerateLocalSigner()
	require.NoError(err)

	ev, err := env.client.EncryptUint32(ctx, 99)
	require.NoError(err)

	// The client never signs for an identity other than its signer.
	_, err = env.client.NewDecryptionRequest(ctx, ev, ledgerAddress, mallory.Address())
	require.ErrorIs(err, fhevm.ErrAuthorization)

	// A request signed by someone else for the owner's address is refused by
	// the gateway.
	sig, err := fhevm.SignDecryption(ctx, mallory, fhevm.NewDomain(fhevm.LocalhostChainID, ledgerAddress), ev.Ciphertext, mallory.Address())
	require.NoError(err)
	_, err = env.client.DecryptRequest(ctx, &fhevm.DecryptionRequest{
		Ciphertext:       ev.Ciphertext,
		Type:             ev.Type,
		ContractAddress:  ledgerAddress,
		RequesterAddress: env.signer.Address(),
		Signature:        sig,
	})
	require.ErrorIs(err, fhevm.ErrAuthorization)
	require.False(fhevm.IsRetryable(err))

	// Signed correctly but through an unregistered contract.
	_, err = env.client.Decrypt(ctx, ev, common.HexToAddress("0x00000000000000000000000000000000000000ee"))
	require.ErrorIs(err, fhevm.ErrNotFound)

	req, err := env.client.NewDecryptionRequest(ctx, ev, ledgerAddress, env.signer.Address())
	require.NoError(err)
	require.NotEmpty(req.ID)
	pt, err := env.client.DecryptRequest(ctx, req)
	require.NoError(err)
	require.Equal(uint32(99), pt.Value())
}

func TestClientWithoutSigner(t *testing.T) {
	require := require.New(t)
	engine, err := backend.NewMemoryBackend(fhevm.LocalhostChainID)
	require.NoError(err)
	client, err := fhevm.NewClient(fhevm.Localhost(), engine.Connector())
	require.NoError(err)
	ctx := context.Background()

	ev, err := client.EncryptUint8(ctx, 1)
	require.NoError(err)
	_, err = client.Decrypt(ctx, ev, ledgerAddress)
	require.ErrorIs(err, fhevm.ErrAuthorization)
	_, err = client.EncryptInput(ctx, 1, fhevm.TypeUint8)
	require.ErrorIs(err, fhevm.ErrAuthorization)
}

func TestClientEncryptInput(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	env := newTestEnv(t)

	in, err := env.client.EncryptInput(ctx, 12, fhevm.TypeUint16)
	require.NoError(err)
	require.Equal(env.signer.Address(), in.Signer)
	require.NoError(fhevm.VerifyInputSignature(in))

	ledger := backend.NewLedger(ledgerAddress, env.engine)
	handle, err := ledger.Submit(in)
	require.NoError(err)
	stored, err := ledger.Load(handle)
	require.NoError(err)

	pt, err := env.client.Decrypt(ctx, stored, ledger.Address())
	require.NoError(err)
	require.Equal(uint16(12), pt.Value())
}

func TestClientPublicKeySharedFetchOutlivesCaller(t *testing.T) {
	require := require.New(t)

	engine, err := backend.NewMemoryBackend(fhevm.LocalhostChainID)
	require.NoError(err)
	gated := &gatedBackend{
		Backend: engine,
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	client, err := fhevm.NewClient(fhevm.Localhost(), fhevm.StaticConnector(gated))
	require.NoError(err)

	cancelled, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := client.PublicKey(cancelled)
		first <- err
	}()
	<-gated.started

	type result struct {
		record fhevm.PublicKeyRecord
		err    error
	}
	second := make(chan result, 1)
	go func() {
		rec, err := client.PublicKey(context.Background())
		second <- result{rec, err}
	}()

	cancel()
	err = <-first
	require.ErrorIs(err, fhevm.ErrBackendUnavailable)
	require.ErrorIs(err, context.Canceled)

	close(gated.release)
	res := <-second
	require.NoError(res.err)
	want, err := engine.PublicKey(context.Background())
	require.NoError(err)
	require.True(want.Equal(res.record))
	require.Equal(int32(1), gated.calls.Load())
}

func TestClientPublicKeyIsIdempotent(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	env := newTestEnv(t)

	first, err := env.client.PublicKey(ctx)
	require.NoError(err)
	second, err := env.client.PublicKey(ctx)
	require.NoError(err)
	require.True(first.Equal(second))
	require.Equal(int32(1), env.backend.publicKeys.Load())

	refreshed, err := env.client.RefreshPublicKey(ctx)
	require.NoError(err)
	require.True(first.Equal(refreshed))
	require.Equal(int32(2), env.backend.publicKeys.Load())
	require.Len(env.engine.PublicKeys(), 1)

	rotated, err := env.engine.RotateKey()
	require.NoError(err)
	current, err := env.client.RefreshPublicKey(ctx)
	require.NoError(err)
	require.True(rotated.Equal(current))
}

func TestClientSingleBindingUnderConcurrency(t *testing.T) {
	require := require.New(t)

	engine, err := backend.NewMemoryBackend(fhevm.LocalhostChainID)
	require.NoError(err)
	gate := make(chan struct{})
	conn := backend.NewCountingConnector(engine.Connector()).WithGate(gate)
	client, err := fhevm.NewClient(fhevm.Localhost(), conn)
	require.NoError(err)

	const callers = 32
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := client.EncryptUint8(context.Background(), uint8(i))
			errs <- err
		}(i)
	}

	require.Eventually(func() bool { return conn.Attempts() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.False(client.IsReady())
	close(gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(err)
	}
	require.Equal(int64(1), conn.Attempts())
	require.True(client.IsReady())
}

func TestClientFailedBindingIsCached(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	engine, err := backend.NewMemoryBackend(fhevm.LocalhostChainID)
	require.NoError(err)
	var (
		attempts atomic.Int32
		fail     atomic.Bool
	)
	fail.Store(true)
	errDown := errors.New("gateway down")
	conn := fhevm.ConnectorFunc(func(ctx context.Context, n fhevm.Network) (fhevm.Backend, error) {
		attempts.Add(1)
		if fail.Load() {
			return nil, errDown
		}
		return engine, nil
	})

	registry := prometheus.NewRegistry()
	metrics := fhevm.NewClientMetrics(registry)
	client, err := fhevm.NewClient(fhevm.Localhost(), conn, fhevm.WithMetrics(metrics))
	require.NoError(err)

	for i := 0; i < 3; i++ {
		_, err := client.EncryptUint8(ctx, 1)
		require.ErrorIs(err, fhevm.ErrBackendUnavailable)
		require.ErrorIs(err, errDown)
		require.True(fhevm.IsRetryable(err))
	}
	require.Equal(int32(1), attempts.Load())
	require.False(client.IsReady())

	fail.Store(false)
	require.NoError(client.Reinitialize(ctx))
	require.Equal(int32(2), attempts.Load())
	require.True(client.IsReady())

	_, err = client.EncryptUint8(ctx, 1)
	require.NoError(err)
	require.Equal(int32(2), attempts.Load())

	require.Equal(2.0, counterValue(t, registry, "fhevm_client_init_attempt_count"))
	require.Equal(1.0, counterValue(t, registry, "fhevm_client_init_failure_count"))
}

func counterValue(t *testing.T, g prometheus.Gatherer, name string) float64 {
	t.Helper()
	families, err := g.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f.GetMetric()[0].GetCounter().GetValue()
		}
	}
	require.FailNow(t, "metric not found", name)
	return 0
}

func TestClientWaiterHonoursContext(t *testing.T) {
	require := require.New(t)

	engine, err := backend.NewMemoryBackend(fhevm.LocalhostChainID)
	require.NoError(err)
	gate := make(chan struct{})
	conn := backend.NewCountingConnector(engine.Connector()).WithGate(gate)
	client, err := fhevm.NewClient(fhevm.Localhost(), conn)
	require.NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = client.EncryptUint8(ctx, 1)
	require.ErrorIs(err, fhevm.ErrBackendUnavailable)
	require.ErrorIs(err, context.DeadlineExceeded)

	// The binding continues without the caller that started it.
	close(gate)
	require.NoError(client.Init(context.Background()))
	require.Equal(int64(1), conn.Attempts())
}

// flakyBackend fails the first n encryptions with a transport error.
type flakyBackend struct {
	fhevm.Backend
	failures atomic.Int32
	calls    atomic.Int32
}

func (b *flakyBackend) Encrypt(ctx context.Context, typ fhevm.EncryptedType, v *uint256.Int) ([]byte, error) {
	b.calls.Add(1)
	if b.failures.Add(-1) >= 0 {
		return nil, errors.New("connection reset")
	}
	return b.Backend.Encrypt(ctx, typ, v)
}

func TestClientRetries(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	engine, err := backend.NewMemoryBackend(fhevm.LocalhostChainID)
	require.NoError(err)

	flaky := &flakyBackend{Backend: engine}
	flaky.failures.Store(1)
	noRetry, err := fhevm.NewClient(fhevm.Localhost(), fhevm.StaticConnector(flaky))
	require.NoError(err)
	_, err = noRetry.EncryptUint8(ctx, 1)
	require.ErrorIs(err, fhevm.ErrBackendUnavailable)
	require.Equal(int32(1), flaky.calls.Load())

	flaky = &flakyBackend{Backend: engine}
	flaky.failures.Store(1)
	withRetry, err := fhevm.NewClient(fhevm.Localhost(), fhevm.StaticConnector(flaky), fhevm.WithRetryTimeout(5*time.Second))
	require.NoError(err)
	_, err = withRetry.EncryptUint8(ctx, 1)
	require.NoError(err)
	require.Equal(int32(2), flaky.calls.Load())
}

func TestNewClientValidates(t *testing.T) {
	require := require.New(t)

	_, err := fhevm.NewClient(fhevm.Localhost(), nil)
	require.ErrorIs(err, fhevm.ErrFormat)
	_, err = fhevm.NewClient(fhevm.Network{}, fhevm.StaticConnector(nil))
	require.ErrorIs(err, fhevm.ErrFormat)
}
