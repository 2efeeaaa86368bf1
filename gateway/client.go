// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/luxfi/fhevm"
)

const DefaultClientTimeout = 30 * time.Second

var (
	_ fhevm.Backend   = (*Client)(nil)
	_ fhevm.Evaluator = (*Client)(nil)

	errMissingResult = errors.New("gateway response is missing its result")
	errTypeMismatch  = errors.New("gateway returned a different type")
)

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithClientLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// Client is a Backend served by a remote gateway. baseURL includes the API
// prefix, as in fhevm.Network.GatewayURL.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fhevm.Errorf(fhevm.CodeFormat, "gateway client", "invalid gateway URL %q", baseURL)
	}
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultClientTimeout},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewConnector binds a Client to the network's gateway and probes the key
// route before handing it out.
func NewConnector(opts ...ClientOption) fhevm.Connector {
	return fhevm.ConnectorFunc(func(ctx context.Context, network fhevm.Network) (fhevm.Backend, error) {
		if err := network.RequireGateway(); err != nil {
			return nil, err
		}
		c, err := NewClient(network.GatewayURL, opts...)
		if err != nil {
			return nil, err
		}
		if _, err := c.PublicKey(ctx); err != nil {
			return nil, err
		}
		c.logger.Info("Connected to gateway", zap.Stringer("network", network), zap.String("url", c.baseURL))
		return c, nil
	})
}

func (c *Client) URL() string {
	return c.baseURL
}

func (c *Client) Encrypt(ctx context.Context, typ fhevm.EncryptedType, value *uint256.Int) ([]byte, error) {
	const op = "encrypt"
	req := EncryptRequest{
		Value: json.RawMessage(strconv.Quote(value.Dec())),
		Type:  typ,
	}
	var resp EncryptResponse
	if err := c.do(ctx, op, http.MethodPost, EncryptPath, req, &resp); err != nil {
		return nil, err
	}
	if resp.Encrypted == nil {
		return nil, fhevm.NewError(fhevm.CodeBackendUnavailable, op, errMissingResult)
	}
	if resp.Encrypted.Type != typ {
		return nil, fhevm.Errorf(fhevm.CodeBackendUnavailable, op, "%w: got %s, want %s", errTypeMismatch, resp.Encrypted.Type, typ)
	}
	return resp.Encrypted.Ciphertext, nil
}

func (c *Client) Decrypt(ctx context.Context, req *fhevm.DecryptionRequest) (fhevm.Plaintext, error) {
	const op = "decrypt"
	var resp DecryptResponse
	if err := c.do(ctx, op, http.MethodPost, DecryptPath, req, &resp); err != nil {
		return fhevm.Plaintext{}, err
	}
	if resp.Plaintext == nil {
		return fhevm.Plaintext{}, fhevm.NewError(fhevm.CodeBackendUnavailable, op, errMissingResult)
	}
	return *resp.Plaintext, nil
}

func (c *Client) PublicKey(ctx context.Context) (fhevm.PublicKeyRecord, error) {
	const op = "public key"
	var resp KeyResponse
	if err := c.do(ctx, op, http.MethodGet, KeysPath, nil, &resp); err != nil {
		return fhevm.PublicKeyRecord{}, err
	}
	if resp.PublicKey == nil {
		return fhevm.PublicKeyRecord{}, fhevm.NewError(fhevm.CodeBackendUnavailable, op, errMissingResult)
	}
	return *resp.PublicKey, nil
}

// RotateKey asks the gateway for a new key version. Old ciphertexts stay
// decryptable.
func (c *Client) RotateKey(ctx context.Context) (fhevm.PublicKeyRecord, error) {
	const op = "rotate key"
	var resp KeyResponse
	if err := c.do(ctx, op, http.MethodPost, KeysPath, KeyRequest{Action: KeyActionRefresh}, &resp); err != nil {
		return fhevm.PublicKeyRecord{}, err
	}
	if resp.PublicKey == nil {
		return fhevm.PublicKeyRecord{}, fhevm.NewError(fhevm.CodeBackendUnavailable, op, errMissingResult)
	}
	return *resp.PublicKey, nil
}

func (c *Client) Evaluate(ctx context.Context, op fhevm.Operation, operands ...*fhevm.EncryptedValue) (*fhevm.EncryptedValue, error) {
	var resp ComputeResponse
	req := ComputeRequest{
		Operation: op,
		Operands:  operands,
	}
	if err := c.do(ctx, "compute", http.MethodPost, ComputePath, req, &resp); err != nil {
		return nil, err
	}
	if resp.Result == nil {
		return nil, fhevm.NewError(fhevm.CodeBackendUnavailable, "compute", errMissingResult)
	}
	return resp.Result, nil
}

// do sends body as JSON and decodes the reply into out. Transport failures
// and malformed replies are BackendUnavailable; gateway errors keep the
// kind they were reported with.
func (c *Client) do(ctx context.Context, op, method, path string, body any, out responder) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fhevm.NewError(fhevm.CodeFormat, op, err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fhevm.NewError(fhevm.CodeFormat, op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fhevm.NewError(fhevm.CodeBackendUnavailable, op, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxRequestBytes))
	if err != nil {
		return fhevm.NewError(fhevm.CodeBackendUnavailable, op, err)
	}
	decodeErr := json.Unmarshal(raw, out)
	envelope := out.response()

	if res.StatusCode != http.StatusOK || !envelope.Success {
		code := envelope.Code
		if decodeErr != nil || code == fhevm.CodeUnknown {
			code = CodeForStatus(res.StatusCode)
		}
		msg := envelope.Error
		if decodeErr != nil || msg == "" {
			msg = fmt.Sprintf("gateway returned status %d", res.StatusCode)
		}
		c.logger.Debug(
			"Gateway request failed",
			zap.String("op", op),
			zap.Int("status", res.StatusCode),
			zap.String("error", msg),
		)
		return fhevm.NewError(code, op, errors.New(msg))
	}
	if decodeErr != nil {
		return fhevm.Errorf(fhevm.CodeBackendUnavailable, op, "could not decode gateway response: %w", decodeErr)
	}
	return nil
}
