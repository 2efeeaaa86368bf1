// Copyright (C) 2025, Lux Industries, Inc.
// See the file LICENSE for licensing terms.

package main

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/luxfi/fhevm"
	"github.com/luxfi/fhevm/gateway"
	"github.com/luxfi/fhevm/signer"
)

const (
	typeFlag       = "type"
	valueFlag      = "value"
	inputFlag      = "input"
	ciphertextFlag = "ciphertext"
	contractFlag   = "contract"
	opFlag         = "op"
	operandFlag    = "operand"
)

func init() {
	encryptCmd.Flags().String(typeFlag, string(fhevm.TypeUint32), "Encrypted type (euint8, euint16, euint32, ebool)")
	encryptCmd.Flags().String(valueFlag, "", "Plaintext: a decimal or 0x hex integer, or true/false")
	encryptCmd.Flags().Bool(inputFlag, false, "Attach a signed input proof")
	_ = encryptCmd.MarkFlagRequired(valueFlag)

	decryptCmd.Flags().String(ciphertextFlag, "", "Hex ciphertext")
	decryptCmd.Flags().String(typeFlag, string(fhevm.TypeUint32), "Declared encrypted type")
	decryptCmd.Flags().String(contractFlag, "", "Contract authorizing the decryption")
	_ = decryptCmd.MarkFlagRequired(ciphertextFlag)
	_ = decryptCmd.MarkFlagRequired(contractFlag)

	computeCmd.Flags().String(opFlag, string(fhevm.OpAdd), "Operation (add, sub, mul, div, ge, select)")
	computeCmd.Flags().StringArray(operandFlag, nil, "Operand as type:0xciphertext, repeated in order")
	_ = computeCmd.MarkFlagRequired(operandFlag)
}

var pubkeyCmd = &cobra.Command{
	Use:   "pubkey",
	Short: "Print the gateway's current public key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		client, err := cli.newClient()
		if err != nil {
			return err
		}
		record, err := client.PublicKey(cmd.Context())
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), cli.output, record)
	},
}

var rotateKeyCmd = &cobra.Command{
	Use:   "rotate-key",
	Short: "Rotate the gateway's key",
	Long:  `Ask the gateway for a new key version. Existing ciphertexts stay decryptable.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		network, err := cli.network()
		if err != nil {
			return err
		}
		client, err := gateway.NewClient(network.GatewayURL, gateway.WithClientLogger(cli.logger))
		if err != nil {
			return err
		}
		record, err := client.RotateKey(cmd.Context())
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), cli.output, record)
	},
}

var encryptCmd = &cobra.Command{
	Use:   "encrypt",
	Short: "Encrypt a plaintext",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		typ, err := fhevm.ParseEncryptedType(flagString(cmd, typeFlag))
		if err != nil {
			return err
		}
		value, err := parsePlaintext(flagString(cmd, valueFlag), typ)
		if err != nil {
			return err
		}
		client, err := cli.newClient()
		if err != nil {
			return err
		}

		withInput, _ := cmd.Flags().GetBool(inputFlag)
		if withInput {
			in, err := client.EncryptInput(cmd.Context(), value, typ)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), cli.output, in)
		}
		ev, err := client.Encrypt(cmd.Context(), value, typ)
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), cli.output, ev)
	},
}

var decryptCmd = &cobra.Command{
	Use:   "decrypt",
	Short: "Decrypt a ciphertext with an EIP-712 authorization",
	Long: `Sign a decryption request for the configured private key and submit it
to the gateway. The contract must be registered with the gateway.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		typ, err := fhevm.ParseEncryptedType(flagString(cmd, typeFlag))
		if err != nil {
			return err
		}
		ct, err := fhevm.FromHex(flagString(cmd, ciphertextFlag))
		if err != nil {
			return err
		}
		contract, err := fhevm.ParseAddress(flagString(cmd, contractFlag))
		if err != nil {
			return err
		}
		client, err := cli.newClient()
		if err != nil {
			return err
		}
		pt, err := client.Decrypt(cmd.Context(), &fhevm.EncryptedValue{Ciphertext: ct, Type: typ}, contract)
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), cli.output, pt)
	},
}

var computeCmd = &cobra.Command{
	Use:   "compute",
	Short: "Compute over ciphertexts",
	Long: `Arithmetic operations fold left to right over every operand, so
"--op sub" over a, b and c yields (a - b) - c. ge takes two operands and
select takes an ebool condition followed by two branches.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		op, err := fhevm.ParseOperation(flagString(cmd, opFlag))
		if err != nil {
			return err
		}
		specs, _ := cmd.Flags().GetStringArray(operandFlag)
		operands := make([]*fhevm.EncryptedValue, len(specs))
		for i, spec := range specs {
			operands[i], err = parseOperand(spec)
			if err != nil {
				return err
			}
		}
		client, err := cli.newClient()
		if err != nil {
			return err
		}

		var result *fhevm.EncryptedValue
		if op.Foldable() {
			result, err = client.Fold(cmd.Context(), op, operands)
		} else {
			result, err = client.Compute(cmd.Context(), op, operands...)
		}
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), cli.output, result)
	},
}

type keyPair struct {
	Address    string `json:"address"`
	PrivateKey string `json:"privateKey"`
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a signing key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := signer.GenerateLocalSigner()
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), cli.output, keyPair{
			Address:    s.Address().Hex(),
			PrivateKey: s.PrivateKeyHex(),
		})
	},
}

func flagString(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return v
}

// parsePlaintext accepts true/false for ebool and integer strings for
// every type.
func parsePlaintext(s string, typ fhevm.EncryptedType) (any, error) {
	s = strings.TrimSpace(s)
	if typ == fhevm.TypeBool {
		if b, err := strconv.ParseBool(s); err == nil {
			return b, nil
		}
	}
	return fhevm.ValidateValue(s, typ)
}

// parseOperand reads "type:0xciphertext".
func parseOperand(spec string) (*fhevm.EncryptedValue, error) {
	typeName, hexCT, ok := strings.Cut(spec, ":")
	if !ok {
		return nil, fhevm.Errorf(fhevm.CodeFormat, "parse operand", "expected type:0xciphertext, got %q", spec)
	}
	typ, err := fhevm.ParseEncryptedType(typeName)
	if err != nil {
		return nil, err
	}
	ct, err := fhevm.FromHex(hexCT)
	if err != nil {
		return nil, err
	}
	return &fhevm.EncryptedValue{Ciphertext: ct, Type: typ}, nil
}
