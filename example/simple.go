// Copyright (C) 2025, Lux Industries, Inc.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"fmt"
	"log"

	"github.com/ethereum/go-ethereum/common"
	"github.com/luxfi/ids"

	"github.com/luxfi/fhevm"
	"github.com/luxfi/fhevm/backend"
	"github.com/luxfi/fhevm/signer"
)

// Encrypt three balances, hand them to a ledger contract, compute over them
// there and decrypt the result.
func main() {
	ctx := context.Background()
	ledgerAddress := common.HexToAddress("0x00000000000000000000000000000000000000f1")

	engine, err := backend.NewMemoryBackend(fhevm.LocalhostChainID, backend.WithContracts(ledgerAddress))
	if err != nil {
		log.Fatal(err)
	}
	ledger := backend.NewLedger(ledgerAddress, engine)

	user, err := signer.GenerateLocalSigner()
	if err != nil {
		log.Fatal(err)
	}
	client, err := fhevm.NewClient(fhevm.Localhost(), engine.Connector(), fhevm.WithSigner(user))
	if err != nil {
		log.Fatal(err)
	}

	var handles []ids.ID
	for _, v := range []uint32{100, 30, 10} {
		in, err := client.EncryptInput(ctx, v, fhevm.TypeUint32)
		if err != nil {
			log.Fatal(err)
		}
		handle, err := ledger.Submit(in)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("Submitted %s as %s\n", fhevm.FormatAddress(in.Value.Ciphertext.String()), handle)
		handles = append(handles, handle)
	}

	// sub folds left to right: (100 - 30) - 10
	result, err := ledger.Compute(ctx, fhevm.OpSub, handles...)
	if err != nil {
		log.Fatal(err)
	}
	ev, err := ledger.Load(result)
	if err != nil {
		log.Fatal(err)
	}

	pt, err := client.Decrypt(ctx, ev, ledger.Address())
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Decrypted %s\n", pt)

	pub, err := client.PublicKey(ctx)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Public key v%d (%s): %s\n", pub.Version, pub.Algorithm, fhevm.FormatAddress(pub.Key.String()))
}
