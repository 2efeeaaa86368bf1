// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package gateway exposes a confidential-computation engine over HTTP and
// provides the matching fhevm.Backend client.
package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/luxfi/fhevm"
)

const (
	APIPrefix   = "/api"
	IndexPath   = "/fhe"
	EncryptPath = "/fhe/encrypt"
	DecryptPath = "/fhe/decrypt"
	ComputePath = "/fhe/compute"
	KeysPath    = "/keys"
	HealthPath  = "/health"

	// MinComputeOperands is the smallest operand list the compute route
	// accepts.
	MinComputeOperands = 2

	KeyActionGenerate = "generate"
	KeyActionRefresh  = "refresh"

	maxRequestBytes = 1 << 20
)

var errRateLimited = errors.New("rate limit exceeded")

// Response is the envelope shared by every route. Code carries the
// fhevm.Code of a failure.
type Response struct {
	Success bool       `json:"success"`
	Error   string     `json:"error,omitempty"`
	Code    fhevm.Code `json:"code,omitempty"`
	Message string     `json:"message,omitempty"`
}

func (r *Response) response() *Response {
	return r
}

type responder interface {
	response() *Response
}

type IndexResponse struct {
	Response
	Endpoints map[string]string `json:"endpoints"`
}

// EncryptRequest carries a JSON plaintext: a boolean, a number or a decimal
// or 0x-prefixed hex string. Type defaults to euint32.
type EncryptRequest struct {
	Value json.RawMessage     `json:"value"`
	Type  fhevm.EncryptedType `json:"type,omitempty"`
}

type EncryptResponse struct {
	Response
	Encrypted *fhevm.EncryptedValue `json:"encrypted,omitempty"`
}

// DecryptRequest is the signed decryption request as built by
// fhevm.Client.NewDecryptionRequest.
type DecryptRequest = fhevm.DecryptionRequest

type DecryptResponse struct {
	Response
	Plaintext *fhevm.Plaintext `json:"plaintext,omitempty"`
}

type ComputeRequest struct {
	Operation fhevm.Operation         `json:"operation"`
	Operands  []*fhevm.EncryptedValue `json:"operands"`
}

type ComputeResponse struct {
	Response
	Result       *fhevm.EncryptedValue `json:"result,omitempty"`
	Operation    fhevm.Operation       `json:"operation,omitempty"`
	OperandCount int                   `json:"operandCount,omitempty"`
}

type KeyRequest struct {
	Action string `json:"action"`
}

type KeyResponse struct {
	Response
	PublicKey *fhevm.PublicKeyRecord `json:"publicKey,omitempty"`
}

// StatusForError maps an error kind to the HTTP status the server replies
// with.
func StatusForError(err error) int {
	if errors.Is(err, errRateLimited) {
		return http.StatusTooManyRequests
	}
	switch fhevm.CodeOf(err) {
	case fhevm.CodeRange, fhevm.CodeFormat:
		return http.StatusBadRequest
	case fhevm.CodeAuthorization:
		return http.StatusForbidden
	case fhevm.CodeNotFound:
		return http.StatusNotFound
	case fhevm.CodeBackendUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// CodeForStatus recovers an error kind from a status when the body carries
// none.
func CodeForStatus(status int) fhevm.Code {
	switch {
	case status == http.StatusBadRequest:
		return fhevm.CodeFormat
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return fhevm.CodeAuthorization
	case status == http.StatusNotFound:
		return fhevm.CodeNotFound
	default:
		return fhevm.CodeBackendUnavailable
	}
}

// errorMessage strips the kind prefix so the client can re-wrap the cause.
func errorMessage(err error) string {
	var e *fhevm.Error
	if errors.As(err, &e) && e.Err != nil {
		return e.Err.Error()
	}
	return err.Error()
}

// writeJSON returns the status actually written.
func writeJSON(logger *zap.Logger, w http.ResponseWriter, httpStatusCode int, v any) int {
	resp, err := json.Marshal(v)
	if err != nil {
		msg := "Error marshalling JSON response"
		logger.Error(msg, zap.Error(err))
		writeJSONError(logger, w, http.StatusInternalServerError, fhevm.CodeUnknown, msg)
		return http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatusCode)

	if _, err := w.Write(resp); err != nil {
		logger.Error("Error writing response", zap.Error(err))
	}
	return httpStatusCode
}

func writeJSONError(
	logger *zap.Logger,
	w http.ResponseWriter,
	httpStatusCode int,
	code fhevm.Code,
	errorMsg string,
) {
	resp, err := json.Marshal(
		Response{
			Error: errorMsg,
			Code:  code,
		},
	)
	if err != nil {
		msg := "Error marshalling JSON error response"
		logger.Error(msg, zap.Error(err))
		resp = []byte(msg)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatusCode)

	if _, err := w.Write(resp); err != nil {
		logger.Error("Error writing error response", zap.Error(err))
	}
}
