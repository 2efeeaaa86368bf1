// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fhevm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/luxfi/fhevm/cache"
	"github.com/luxfi/fhevm/utils"
)

const (
	DefaultInitTimeout  = 30 * time.Second
	DefaultPublicKeyTTL = time.Minute
	// DefaultFetchTimeout bounds a shared public key fetch.
	DefaultFetchTimeout = 30 * time.Second
)

var (
	errNilConnector   = errors.New("connector is nil")
	errNilBackend     = errors.New("connector returned no backend")
	errEmptyEncrypted = errors.New("backend returned an empty ciphertext")
	errZeroAddress    = errors.New("contract address is the zero address")
)

type Option func(*Client)

// WithLogger sets the client logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithMetrics(m *ClientMetrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithSigner sets the identity used to authorize decryptions and sign
// encrypted inputs.
func WithSigner(s TypedDataSigner) Option {
	return func(c *Client) {
		c.signer = s
	}
}

// WithInitTimeout bounds a single backend binding attempt.
func WithInitTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.initTimeout = d
	}
}

// WithRetryTimeout enables exponential-backoff retries of backend
// availability failures for up to d per call. Retries are off by default.
func WithRetryTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.retryTimeout = d
	}
}

// WithFetchTimeout bounds a public key fetch shared by concurrent callers.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.fetchTimeout = d
	}
}

// WithPublicKeyTTL sets how long PublicKey serves a cached record.
func WithPublicKeyTTL(d time.Duration) Option {
	return func(c *Client) {
		c.publicKeyTTL = d
	}
}

// Client encrypts values, authorizes decryptions and reads the public key
// against a lazily bound Backend.
//
// The backend is bound on first use. Concurrent first callers share one
// binding attempt; a failed attempt is remembered and returned until
// Reinitialize. A Client is safe for concurrent use.
type Client struct {
	network      Network
	connector    Connector
	signer       TypedDataSigner
	logger       *zap.Logger
	metrics      *ClientMetrics
	initTimeout  time.Duration
	retryTimeout time.Duration
	publicKeyTTL time.Duration
	fetchTimeout time.Duration
	publicKeys   *cache.TTLCache[uint64, PublicKeyRecord]

	lock    sync.Mutex
	attempt *initAttempt
}

// initAttempt is one binding of the backend. done is closed once backend
// or err is set.
type initAttempt struct {
	done    chan struct{}
	backend Backend
	err     error
}

func (a *initAttempt) finished() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}

func NewClient(network Network, connector Connector, opts ...Option) (*Client, error) {
	if connector == nil {
		return nil, newError(CodeFormat, "new client", errNilConnector)
	}
	if err := network.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		network:      network,
		connector:    connector,
		logger:       zap.NewNop(),
		initTimeout:  DefaultInitTimeout,
		publicKeyTTL: DefaultPublicKeyTTL,
		fetchTimeout: DefaultFetchTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.publicKeys = cache.NewTTLCache[uint64, PublicKeyRecord](c.publicKeyTTL)
	return c, nil
}

func (c *Client) Network() Network {
	return c.network
}

// Signer returns the configured signer, or nil.
func (c *Client) Signer() TypedDataSigner {
	return c.signer
}

// Init binds the backend if it is not bound yet.
func (c *Client) Init(ctx context.Context) error {
	_, err := c.bind(ctx)
	return err
}

// IsReady reports whether a backend is bound.
func (c *Client) IsReady() bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	a := c.attempt
	return a != nil && a.finished() && a.err == nil
}

// Reinitialize drops a finished binding, successful or not, and binds
// again. If a binding is in flight the caller joins it instead.
func (c *Client) Reinitialize(ctx context.Context) error {
	c.lock.Lock()
	if a := c.attempt; a != nil && a.finished() {
		c.attempt = nil
	}
	c.lock.Unlock()

	c.publicKeys.Invalidate(c.network.ChainID)
	return c.Init(ctx)
}

// bind returns the bound backend, starting the binding if this is the first
// call. Waiting callers honour their own ctx; the binding itself runs
// detached from it and is bounded by the init timeout.
func (c *Client) bind(ctx context.Context) (Backend, error) {
	c.lock.Lock()
	a := c.attempt
	if a == nil {
		a = &initAttempt{done: make(chan struct{})}
		c.attempt = a
		go c.connect(context.WithoutCancel(ctx), a)
	}
	c.lock.Unlock()

	if a.finished() {
		return a.backend, a.err
	}
	select {
	case <-a.done:
		return a.backend, a.err
	case <-ctx.Done():
		return nil, Classify("init", ctx.Err())
	}
}

func (c *Client) connect(ctx context.Context, a *initAttempt) {
	defer close(a.done)

	ctx, cancel := context.WithTimeout(ctx, c.initTimeout)
	defer cancel()

	b, err := c.connector.Connect(ctx, c.network)
	if err == nil && b == nil {
		err = errNilBackend
	}
	c.metrics.initAttempt(err)
	if err != nil {
		a.err = Classify("init", err)
		c.logger.Warn("Failed to bind backend",
			zap.Stringer("network", c.network),
			zap.Error(err),
		)
		return
	}
	a.backend = b
	c.logger.Info("Bound backend",
		zap.Stringer("network", c.network),
		zap.String("gatewayURL", c.network.GatewayURL),
	)
}

// call runs fn against the bound backend, classifying its error under op
// and retrying availability failures when retries are enabled.
func (c *Client) call(ctx context.Context, op string, fn func(context.Context, Backend) error) error {
	start := time.Now()
	b, err := c.bind(ctx)
	switch {
	case err != nil:
		// A failed binding is cached, so retrying it cannot help.
	case c.retryTimeout <= 0:
		err = Classify(op, fn(ctx, b))
	default:
		err = utils.WithRetriesTimeout(ctx, c.logger, func() error {
			err := Classify(op, fn(ctx, b))
			if err != nil && !IsRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}, c.retryTimeout)
	}
	c.metrics.observe(op, start, err)
	return err
}

// Encrypt validates value against typ and encrypts it. Out-of-range values
// and unknown types fail before the backend is contacted.
func (c *Client) Encrypt(ctx context.Context, value any, typ EncryptedType) (*EncryptedValue, error) {
	const op = "encrypt"
	v, err := ValidateValue(value, typ)
	if err != nil {
		c.metrics.observe(op, time.Now(), err)
		return nil, err
	}

	var ciphertext []byte
	err = c.call(ctx, op, func(ctx context.Context, b Backend) error {
		ct, err := b.Encrypt(ctx, typ, v.Clone())
		if err != nil {
			return err
		}
		if len(ct) == 0 {
			return newError(CodeBackendUnavailable, op, errEmptyEncrypted)
		}
		ciphertext = ct
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &EncryptedValue{
		Ciphertext: ciphertext,
		Type:       typ,
		CreatedAt:  time.Now(),
	}, nil
}

func (c *Client) EncryptUint8(ctx context.Context, v uint8) (*EncryptedValue, error) {
	return c.Encrypt(ctx, v, TypeUint8)
}

func (c *Client) EncryptUint16(ctx context.Context, v uint16) (*EncryptedValue, error) {
	return c.Encrypt(ctx, v, TypeUint16)
}

func (c *Client) EncryptUint32(ctx context.Context, v uint32) (*EncryptedValue, error) {
	return c.Encrypt(ctx, v, TypeUint32)
}

func (c *Client) EncryptBool(ctx context.Context, v bool) (*EncryptedValue, error) {
	return c.Encrypt(ctx, v, TypeBool)
}

// EncryptInput encrypts value and attaches the signer's EIP-191 proof over
// the ciphertext, for submission to a contract.
func (c *Client) EncryptInput(ctx context.Context, value any, typ EncryptedType) (*EncryptedInput, error) {
	const op = "encrypt input"
	ms, ok := c.signer.(MessageSigner)
	if !ok {
		return nil, newError(CodeAuthorization, op, ErrMessageUnsigned)
	}
	ev, err := c.Encrypt(ctx, value, typ)
	if err != nil {
		return nil, err
	}
	sig, err := ms.SignMessage(ctx, InputProofMessage(ev.Ciphertext))
	if err != nil {
		return nil, newError(CodeAuthorization, op, err)
	}
	return &EncryptedInput{
		Value:     ev,
		Signer:    c.signer.Address(),
		Signature: sig,
	}, nil
}

// NewDecryptionRequest signs a request for requester to decrypt ev through
// contract. The configured signer must be the requester.
func (c *Client) NewDecryptionRequest(
	ctx context.Context,
	ev *EncryptedValue,
	contract common.Address,
	requester common.Address,
) (*DecryptionRequest, error) {
	if err := ValidateEnvelope(ev); err != nil {
		return nil, err
	}
	if contract == (common.Address{}) {
		return nil, newError(CodeFormat, "sign decryption", errZeroAddress)
	}
	domain := NewDomain(c.network.ChainID, contract)
	sig, err := SignDecryption(ctx, c.signer, domain, ev.Ciphertext, requester)
	if err != nil {
		return nil, err
	}
	return &DecryptionRequest{
		ID:               uuid.NewString(),
		Ciphertext:       ev.Bytes(),
		Type:             ev.Type,
		ContractAddress:  contract,
		RequesterAddress: requester,
		Signature:        sig,
	}, nil
}

// Decrypt authorizes the configured signer to decrypt ev through contract
// and returns the plaintext.
func (c *Client) Decrypt(ctx context.Context, ev *EncryptedValue, contract common.Address) (Plaintext, error) {
	if c.signer == nil {
		return Plaintext{}, newError(CodeAuthorization, "decrypt", ErrNoSigner)
	}
	req, err := c.NewDecryptionRequest(ctx, ev, contract, c.signer.Address())
	if err != nil {
		return Plaintext{}, err
	}
	return c.DecryptRequest(ctx, req)
}

// DecryptRequest submits an already signed request. The envelope is checked
// before the backend is contacted and the plaintext must carry the declared
// type.
func (c *Client) DecryptRequest(ctx context.Context, req *DecryptionRequest) (Plaintext, error) {
	const op = "decrypt"
	if req == nil {
		return Plaintext{}, newError(CodeFormat, op, errors.New("request is nil"))
	}
	if err := ValidateEnvelope(req.Envelope()); err != nil {
		return Plaintext{}, err
	}

	var pt Plaintext
	err := c.call(ctx, op, func(ctx context.Context, b Backend) error {
		out, err := b.Decrypt(ctx, req)
		if err != nil {
			return err
		}
		if out.Type() != req.Type {
			return newError(CodeFormat, op, fmt.Errorf("backend returned %s for a %s ciphertext", out.Type(), req.Type))
		}
		pt = out
		return nil
	})
	if err != nil {
		c.logger.Debug("Decryption failed",
			zap.String("requestID", req.ID),
			zap.Stringer("requester", req.RequesterAddress),
			zap.Error(err),
		)
		return Plaintext{}, err
	}
	return pt, nil
}

// PublicKey returns the backend's current public key. Reads are cached for
// the public key TTL and concurrent misses share one fetch.
func (c *Client) PublicKey(ctx context.Context) (PublicKeyRecord, error) {
	return c.publicKey(ctx, false)
}

// RefreshPublicKey bypasses the cache. It does not rotate the key.
func (c *Client) RefreshPublicKey(ctx context.Context) (PublicKeyRecord, error) {
	return c.publicKey(ctx, true)
}

// publicKey shares one fetch between concurrent callers. The fetch is
// bounded by the fetch timeout rather than by any caller's deadline.
func (c *Client) publicKey(ctx context.Context, invalidate bool) (PublicKeyRecord, error) {
	const op = "public key"
	rec, err := c.publicKeys.Get(ctx, c.network.ChainID, func(ctx context.Context, _ uint64) (PublicKeyRecord, error) {
		ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
		defer cancel()

		var rec PublicKeyRecord
		err := c.call(ctx, op, func(ctx context.Context, b Backend) error {
			var err error
			rec, err = b.PublicKey(ctx)
			return err
		})
		return rec, err
	}, invalidate)
	return rec, Classify(op, err)
}

// Compute runs one operation over ciphertexts on the backend.
func (c *Client) Compute(ctx context.Context, op Operation, operands ...*EncryptedValue) (*EncryptedValue, error) {
	return Evaluate(ctx, clientEvaluator{c}, op, operands...)
}

// Fold reduces operands left to right with op on the backend.
func (c *Client) Fold(ctx context.Context, op Operation, operands []*EncryptedValue) (*EncryptedValue, error) {
	return Fold(ctx, clientEvaluator{c}, op, operands)
}

// clientEvaluator binds the backend on the first evaluation, so operand
// validation happens before any backend contact.
type clientEvaluator struct {
	c *Client
}

func (e clientEvaluator) Evaluate(ctx context.Context, op Operation, operands ...*EncryptedValue) (*EncryptedValue, error) {
	var out *EncryptedValue
	err := e.c.call(ctx, "compute", func(ctx context.Context, b Backend) error {
		ev, ok := b.(Evaluator)
		if !ok {
			return newError(CodeBackendUnavailable, "compute", errNoEvaluator)
		}
		var err error
		out, err = ev.Evaluate(ctx, op, operands...)
		return err
	})
	return out, err
}
