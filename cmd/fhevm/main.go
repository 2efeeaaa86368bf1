// Copyright (C) 2025, Lux Industries, Inc.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luxfi/fhevm"
	"github.com/luxfi/fhevm/config"
	"github.com/luxfi/fhevm/gateway"
	"github.com/luxfi/fhevm/signer"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

const outputKey = "output"

// app holds what every command needs once flags are parsed.
type app struct {
	cfg    config.Config
	logger *zap.Logger
	output string
}

var cli app

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fhevm",
	Short: "Confidential computation client and gateway",
	Long: `fhevm encrypts values under the gateway's public key, computes over
ciphertexts and requests EIP-712 authorized decryptions.

The serve command runs a gateway backed by the in-memory engine.`,
	Version:           fmt.Sprintf("%s (built %s)", version, buildDate),
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	PersistentPostRun: func(*cobra.Command, []string) {
		if cli.logger != nil {
			_ = cli.logger.Sync()
		}
	},
}

func init() {
	config.AddFlags(rootCmd.PersistentFlags())
	rootCmd.PersistentFlags().StringP(outputKey, "o", formatJSON, "Output format (json, yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(pubkeyCmd)
	rootCmd.AddCommand(rotateKeyCmd)
	rootCmd.AddCommand(encryptCmd)
	rootCmd.AddCommand(decryptCmd)
	rootCmd.AddCommand(computeCmd)
	rootCmd.AddCommand(keygenCmd)
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	v, err := config.BuildViper(cmd.Root().PersistentFlags())
	if err != nil {
		return fmt.Errorf("couldn't configure flags: %w", err)
	}
	cfg, err := config.NewConfig(v)
	if err != nil {
		return fmt.Errorf("couldn't build config: %w", err)
	}
	output := v.GetString(outputKey)
	if output != formatJSON && output != formatYAML {
		return fmt.Errorf("unknown output format %q", output)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	cli = app{
		cfg:    cfg,
		logger: logger,
		output: output,
	}
	return nil
}

// newLogger writes JSON logs to stderr so stdout carries only results.
func newLogger(cfg config.Config) (*zap.Logger, error) {
	level, err := cfg.ZapLevel()
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.ErrorOutputPaths = []string{"stderr"}
	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger.Named("fhevm"), nil
}

func (a *app) network() (fhevm.Network, error) {
	network, err := a.cfg.GetNetwork()
	if err != nil {
		return fhevm.Network{}, err
	}
	return network, network.RequireGateway()
}

// newClient builds a client bound to the configured gateway. The signer is
// optional; commands that need one fail when it is missing.
func (a *app) newClient() (*fhevm.Client, error) {
	network, err := a.network()
	if err != nil {
		return nil, err
	}
	opts := []fhevm.Option{
		fhevm.WithLogger(a.logger),
		fhevm.WithInitTimeout(a.cfg.InitTimeout),
		fhevm.WithRetryTimeout(a.cfg.RetryTimeout),
		fhevm.WithPublicKeyTTL(a.cfg.PublicKeyTTL),
	}
	if a.cfg.PrivateKey != "" {
		local, err := a.cfg.Signer()
		if err != nil {
			return nil, err
		}
		cached, err := signer.NewCachedSigner(local, a.cfg.SignatureCacheSize)
		if err != nil {
			return nil, err
		}
		opts = append(opts, fhevm.WithSigner(cached))
	}
	return fhevm.NewClient(network, gateway.NewConnector(gateway.WithClientLogger(a.logger)), opts...)
}
