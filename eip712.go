// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fhevm

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const (
	// DomainName and DomainVersion identify the decryption protocol. Bumping
	// the version invalidates every outstanding signature.
	DomainName    = "FHEVM"
	DomainVersion = "1"

	DecryptionPrimaryType = "Decryption"
	eip712DomainType      = "EIP712Domain"
)

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrSignerMismatch   = errors.New("signer does not match requester")

	errZeroChainID  = errors.New("domain chain id is zero")
	errZeroContract = errors.New("domain verifying contract is the zero address")
	errNoPrimary    = errors.New("cannot infer primary type")
)

// Domain separates decryption signatures by protocol, chain and contract.
// All four fields are bound into every signature.
type Domain struct {
	Name              string
	Version           string
	ChainID           uint64
	VerifyingContract common.Address
}

// NewDomain returns the decryption domain for a contract on a chain.
func NewDomain(chainID uint64, contract common.Address) Domain {
	return Domain{
		Name:              DomainName,
		Version:           DomainVersion,
		ChainID:           chainID,
		VerifyingContract: contract,
	}
}

// Validate requires every domain field to be set.
func (d Domain) Validate() error {
	switch {
	case d.Name == "":
		return newError(CodeFormat, "domain", errors.New("domain name is empty"))
	case d.Version == "":
		return newError(CodeFormat, "domain", errors.New("domain version is empty"))
	case d.ChainID == 0:
		return newError(CodeFormat, "domain", errZeroChainID)
	case d.VerifyingContract == (common.Address{}):
		return newError(CodeFormat, "domain", errZeroContract)
	}
	return nil
}

// TypedDataDomain converts d to the go-ethereum representation.
func (d Domain) TypedDataDomain() apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:              d.Name,
		Version:           d.Version,
		ChainId:           (*math.HexOrDecimal256)(new(big.Int).SetUint64(d.ChainID)),
		VerifyingContract: d.VerifyingContract.Hex(),
	}
}

func domainTypes() []apitypes.Type {
	return []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	}
}

// DecryptionTypes returns the message schema signed for a decryption, without
// the EIP712Domain entry, in the form wallets expect.
func DecryptionTypes() apitypes.Types {
	return apitypes.Types{
		DecryptionPrimaryType: {
			{Name: "ciphertext", Type: "bytes"},
			{Name: "userAddress", Type: "address"},
		},
	}
}

// DecryptionMessage is the signed payload: exactly the ciphertext and the
// requester.
func DecryptionMessage(ciphertext []byte, requester common.Address) apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"ciphertext":  hexutil.Encode(ciphertext),
		"userAddress": requester.Hex(),
	}
}

// NewTypedData assembles a complete typed-data document, adding the
// EIP712Domain schema when missing and inferring the primary type.
func NewTypedData(
	domain apitypes.TypedDataDomain,
	types apitypes.Types,
	message apitypes.TypedDataMessage,
) (apitypes.TypedData, error) {
	full := make(apitypes.Types, len(types)+1)
	for name, fields := range types {
		full[name] = fields
	}
	if _, ok := full[eip712DomainType]; !ok {
		full[eip712DomainType] = domainTypes()
	}
	primary, err := primaryType(full)
	if err != nil {
		return apitypes.TypedData{}, err
	}
	return apitypes.TypedData{
		Types:       full,
		PrimaryType: primary,
		Domain:      domain,
		Message:     message,
	}, nil
}

// primaryType finds the single struct type that no other type references.
func primaryType(types apitypes.Types) (string, error) {
	referenced := make(map[string]bool)
	for _, fields := range types {
		for _, f := range fields {
			name, _, _ := strings.Cut(f.Type, "[")
			referenced[name] = true
		}
	}
	var primary string
	for name := range types {
		if name == eip712DomainType || referenced[name] {
			continue
		}
		if primary != "" {
			return "", fmt.Errorf("%w: both %s and %s are roots", errNoPrimary, primary, name)
		}
		primary = name
	}
	if primary == "" {
		return "", errNoPrimary
	}
	return primary, nil
}

// DecryptionTypedData builds the document a requester signs to authorize
// decryption of ciphertext under d.
func DecryptionTypedData(d Domain, ciphertext []byte, requester common.Address) apitypes.TypedData {
	types := DecryptionTypes()
	types[eip712DomainType] = domainTypes()
	return apitypes.TypedData{
		Types:       types,
		PrimaryType: DecryptionPrimaryType,
		Domain:      d.TypedDataDomain(),
		Message:     DecryptionMessage(ciphertext, requester),
	}
}

// HashTypedData returns the EIP-712 digest keccak256("\x19\x01" ‖ domainSeparator ‖ hashStruct(message)).
func HashTypedData(td apitypes.TypedData) (common.Hash, error) {
	digest, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return common.Hash{}, newError(CodeFormat, "hash typed data", err)
	}
	return common.BytesToHash(digest), nil
}

// HashDecryption returns the digest a decryption signature must cover.
func HashDecryption(d Domain, ciphertext []byte, requester common.Address) (common.Hash, error) {
	if err := d.Validate(); err != nil {
		return common.Hash{}, err
	}
	return HashTypedData(DecryptionTypedData(d, ciphertext, requester))
}

// RecoverSigner returns the address that produced sig over hash. Both the
// 0/1 and the wallet 27/28 recovery id forms are accepted.
func RecoverSigner(hash []byte, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrInvalidSignature, len(sig))
	}
	normalized := bytes.Clone(sig)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}
	if normalized[crypto.RecoveryIDOffset] > 1 {
		return common.Address{}, fmt.Errorf("%w: recovery id %d", ErrInvalidSignature, sig[crypto.RecoveryIDOffset])
	}
	pub, err := crypto.SigToPub(hash, normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifyDecryption checks that req.Signature was produced by
// req.RequesterAddress over (req.Ciphertext, req.RequesterAddress) under the
// domain of chainID and req.ContractAddress. Every failure is an
// authorization failure.
//
// The base protocol carries no nonce or expiry: a signature stays valid for
// its exact triple until the domain version changes.
func VerifyDecryption(chainID uint64, req *DecryptionRequest) error {
	const op = "verify decryption"
	if req == nil {
		return newError(CodeFormat, op, errors.New("request is nil"))
	}
	domain := NewDomain(chainID, req.ContractAddress)
	hash, err := HashDecryption(domain, req.Ciphertext, req.RequesterAddress)
	if err != nil {
		return newError(CodeAuthorization, op, err)
	}
	signer, err := RecoverSigner(hash[:], req.Signature)
	if err != nil {
		return newError(CodeAuthorization, op, err)
	}
	if signer != req.RequesterAddress {
		return newError(CodeAuthorization, op, fmt.Errorf("%w: recovered %s, requester %s", ErrSignerMismatch, signer, req.RequesterAddress))
	}
	return nil
}

// InputProofMessage is the text a submitter signs for an encrypted input:
// the 0x-prefixed hex form of the ciphertext.
func InputProofMessage(ciphertext []byte) []byte {
	return []byte(hexutil.Encode(ciphertext))
}

// VerifyInputSignature checks the EIP-191 signature attached to an encrypted
// input.
func VerifyInputSignature(in *EncryptedInput) error {
	const op = "verify input"
	if in == nil || in.Value == nil {
		return newError(CodeFormat, op, errNilValue)
	}
	if err := ValidateEnvelope(in.Value); err != nil {
		return err
	}
	signer, err := RecoverSigner(accounts.TextHash(InputProofMessage(in.Value.Ciphertext)), in.Signature)
	if err != nil {
		return newError(CodeAuthorization, op, err)
	}
	if signer != in.Signer {
		return newError(CodeAuthorization, op, fmt.Errorf("%w: recovered %s, expected %s", ErrSignerMismatch, signer, in.Signer))
	}
	return nil
}
