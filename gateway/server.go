// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/luxfi/fhevm"
	"github.com/luxfi/fhevm/cache"
)

const (
	DefaultRequestTimeout = 30 * time.Second
	// DefaultDecryptRate is the sustained decryptions per second allowed for
	// one requester.
	DefaultDecryptRate  = 10
	DefaultDecryptBurst = 20
	// DefaultLimiterCapacity bounds the number of requesters tracked at once.
	DefaultLimiterCapacity = 4096
)

var errUnknownAction = errors.New("unknown action")

// Engine is what the gateway serves: a backend that evaluates operations and
// rotates its key. ChainID selects the domain decryption signatures are
// checked under.
type Engine interface {
	fhevm.Backend
	fhevm.Evaluator
	RotateKey() (fhevm.PublicKeyRecord, error)
	ChainID() uint64
}

type Option func(*Server)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithMetrics(m *GatewayMetrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithDecryptRateLimit limits decryptions per requester address. A
// non-positive limit disables limiting.
func WithDecryptRateLimit(limit rate.Limit, burst int) Option {
	return func(s *Server) {
		s.decryptRate = limit
		s.decryptBurst = burst
	}
}

func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.requestTimeout = d
	}
}

// Server implements the HTTP routes in front of an Engine.
type Server struct {
	engine         Engine
	logger         *zap.Logger
	metrics        *GatewayMetrics
	requestTimeout time.Duration

	decryptRate  rate.Limit
	decryptBurst int
	limiters     *cache.FIFOCache[common.Address, *rate.Limiter]
}

func NewServer(engine Engine, opts ...Option) *Server {
	s := &Server{
		engine:         engine,
		logger:         zap.NewNop(),
		requestTimeout: DefaultRequestTimeout,
		decryptRate:    DefaultDecryptRate,
		decryptBurst:   DefaultDecryptBurst,
		limiters:       cache.NewFIFOCache[common.Address, *rate.Limiter](DefaultLimiterCapacity),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routes mounted under APIPrefix plus the health check.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET "+APIPrefix+IndexPath, s.route("index", s.handleIndex))
	mux.Handle("POST "+APIPrefix+EncryptPath, s.route("encrypt", s.handleEncrypt))
	mux.Handle("POST "+APIPrefix+DecryptPath, s.route("decrypt", s.handleDecrypt))
	mux.Handle("POST "+APIPrefix+ComputePath, s.route("compute", s.handleCompute))
	mux.Handle("GET "+APIPrefix+KeysPath, s.route("keys", s.handlePublicKey))
	mux.Handle("POST "+APIPrefix+KeysPath, s.route("rotate", s.handleKeyAction))
	mux.Handle(HealthPath, NewHealthHandler(s.checkHealth))
	return mux
}

type handlerFunc func(ctx context.Context, r *http.Request) (responder, error)

func (s *Server) route(name string, h handlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
		defer cancel()

		resp, err := h(ctx, r)
		if err != nil {
			status := StatusForError(err)
			s.logger.Warn(
				"Request failed",
				zap.String("route", name),
				zap.Int("status", status),
				zap.Error(err),
			)
			writeJSONError(s.logger, w, status, fhevm.CodeOf(err), errorMessage(err))
			s.metrics.observe(name, status, startTime)
			return
		}
		resp.response().Success = true
		status := writeJSON(s.logger, w, http.StatusOK, resp)
		s.metrics.observe(name, status, startTime)
	})
}

func decodeRequest(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	if err := dec.Decode(v); err != nil {
		return fhevm.Errorf(fhevm.CodeFormat, "decode request", "could not decode request body: %w", err)
	}
	return nil
}

func (s *Server) handleIndex(context.Context, *http.Request) (responder, error) {
	return &IndexResponse{
		Response: Response{Message: "FHE API endpoint"},
		Endpoints: map[string]string{
			"encrypt": APIPrefix + EncryptPath,
			"decrypt": APIPrefix + DecryptPath,
			"compute": APIPrefix + ComputePath,
			"keys":    APIPrefix + KeysPath,
		},
	}, nil
}

func (s *Server) handleEncrypt(ctx context.Context, r *http.Request) (responder, error) {
	var req EncryptRequest
	if err := decodeRequest(r, &req); err != nil {
		return nil, err
	}
	typ := req.Type
	if typ == "" {
		typ = fhevm.TypeUint32
	}
	if !typ.Valid() {
		return nil, fhevm.Errorf(fhevm.CodeFormat, "encrypt", "unrecognized encrypted type %q", typ)
	}
	value, err := fhevm.DecodeJSONValue(req.Value, typ)
	if err != nil {
		return nil, err
	}
	ct, err := s.engine.Encrypt(ctx, typ, value)
	if err != nil {
		return nil, fhevm.Classify("encrypt", err)
	}
	return &EncryptResponse{
		Response: Response{Message: fmt.Sprintf("Successfully encrypted %s value", typ)},
		Encrypted: &fhevm.EncryptedValue{
			Ciphertext: ct,
			Type:       typ,
			CreatedAt:  time.Now(),
		},
	}, nil
}

func (s *Server) handleDecrypt(ctx context.Context, r *http.Request) (responder, error) {
	var req DecryptRequest
	if err := decodeRequest(r, &req); err != nil {
		return nil, err
	}
	if err := fhevm.ValidateEnvelope(req.Envelope()); err != nil {
		return nil, err
	}
	// Only signed requests spend the requester's tokens.
	if err := fhevm.VerifyDecryption(s.engine.ChainID(), &req); err != nil {
		return nil, err
	}
	if !s.allow(req.RequesterAddress) {
		s.metrics.rateLimited()
		return nil, fhevm.NewError(fhevm.CodeBackendUnavailable, "decrypt", errRateLimited)
	}
	pt, err := s.engine.Decrypt(ctx, &req)
	if err != nil {
		return nil, fhevm.Classify("decrypt", err)
	}
	s.logger.Debug(
		"Decrypted ciphertext",
		zap.String("requestID", req.ID),
		zap.Stringer("requester", req.RequesterAddress),
		zap.Stringer("contract", req.ContractAddress),
	)
	return &DecryptResponse{
		Response:  Response{Message: "Successfully decrypted value"},
		Plaintext: &pt,
	}, nil
}

// allow takes a token from requester's limiter. Limiters are created on
// first use and the oldest are dropped past DefaultLimiterCapacity.
func (s *Server) allow(requester common.Address) bool {
	if s.decryptRate <= 0 {
		return true
	}
	limiter, _ := s.limiters.Get(requester, func(common.Address) (*rate.Limiter, error) {
		return rate.NewLimiter(s.decryptRate, s.decryptBurst), nil
	})
	return limiter.Allow()
}

func (s *Server) handleCompute(ctx context.Context, r *http.Request) (responder, error) {
	const op = "compute"
	var req ComputeRequest
	if err := decodeRequest(r, &req); err != nil {
		return nil, err
	}
	operation, err := fhevm.ParseOperation(string(req.Operation))
	if err != nil {
		return nil, err
	}
	if len(req.Operands) < MinComputeOperands {
		return nil, fhevm.Errorf(fhevm.CodeFormat, op, "at least %d operands are required, got %d", MinComputeOperands, len(req.Operands))
	}

	var result *fhevm.EncryptedValue
	if operation.Foldable() {
		result, err = fhevm.Fold(ctx, s.engine, operation, req.Operands)
	} else {
		result, err = fhevm.Evaluate(ctx, s.engine, operation, req.Operands...)
	}
	if err != nil {
		return nil, err
	}
	return &ComputeResponse{
		Response:     Response{Message: fmt.Sprintf("Successfully performed %s operation", operation)},
		Result:       result,
		Operation:    operation,
		OperandCount: len(req.Operands),
	}, nil
}

func (s *Server) handlePublicKey(ctx context.Context, _ *http.Request) (responder, error) {
	record, err := s.engine.PublicKey(ctx)
	if err != nil {
		return nil, fhevm.Classify("public key", err)
	}
	return &KeyResponse{
		Response:  Response{Message: "Public key retrieved successfully"},
		PublicKey: &record,
	}, nil
}

func (s *Server) handleKeyAction(_ context.Context, r *http.Request) (responder, error) {
	var req KeyRequest
	if err := decodeRequest(r, &req); err != nil {
		return nil, err
	}
	var msg string
	switch req.Action {
	case KeyActionGenerate:
		msg = "New key pair generated"
	case KeyActionRefresh:
		msg = "Keys refreshed"
	default:
		return nil, fhevm.Errorf(fhevm.CodeFormat, "key action", "%w: %q", errUnknownAction, req.Action)
	}

	record, err := s.engine.RotateKey()
	if err != nil {
		return nil, fhevm.Classify("rotate key", err)
	}
	s.metrics.keyRotated()
	s.logger.Info(
		"Rotated public key",
		zap.String("action", req.Action),
		zap.Uint32("version", record.Version),
	)
	return &KeyResponse{
		Response:  Response{Message: msg},
		PublicKey: &record,
	}, nil
}

func (s *Server) checkHealth(ctx context.Context) error {
	_, err := s.engine.PublicKey(ctx)
	return err
}
