// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package backend

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/luxfi/fhevm"
)

// apply computes op over plaintexts of type typ. Results wrap modulo
// 2^bits of typ. Division by zero yields the dividend.
func apply(op fhevm.Operation, typ fhevm.EncryptedType, args ...*uint256.Int) (*uint256.Int, error) {
	if len(args) != op.Arity() {
		return nil, fhevm.Errorf(fhevm.CodeFormat, "compute", "%s takes %d operands, got %d", op, op.Arity(), len(args))
	}
	mask := typ.Max()
	out := new(uint256.Int)
	switch op {
	case fhevm.OpAdd:
		out.Add(args[0], args[1])
	case fhevm.OpSub:
		out.Sub(args[0], args[1])
	case fhevm.OpMul:
		out.Mul(args[0], args[1])
	case fhevm.OpDiv:
		if args[1].IsZero() {
			out.Set(args[0])
		} else {
			out.Div(args[0], args[1])
		}
	case fhevm.OpGe:
		if !args[0].Lt(args[1]) {
			out.SetOne()
		}
		return out, nil
	case fhevm.OpSelect:
		if args[0].IsZero() {
			out.Set(args[2])
		} else {
			out.Set(args[1])
		}
	default:
		return nil, fhevm.NewError(fhevm.CodeFormat, "compute", fmt.Errorf("unknown operation %q", op))
	}
	return out.And(out, mask), nil
}
