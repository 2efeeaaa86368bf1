// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fhevm

import (
	"context"
	"errors"
	"fmt"
)

// Operation is a homomorphic operation over ciphertexts.
type Operation string

const (
	OpAdd Operation = "add"
	OpSub Operation = "sub"
	OpMul Operation = "mul"
	OpDiv Operation = "div"
	// OpGe compares two integers and yields an ebool.
	OpGe Operation = "ge"
	// OpSelect picks the second operand when the ebool first operand is true,
	// else the third.
	OpSelect Operation = "select"
)

var (
	errNoEvaluator = errors.New("backend cannot evaluate operations")
	errNoOperands  = errors.New("at least one operand is required")
)

// Operations lists every supported operation.
var Operations = []Operation{OpAdd, OpSub, OpMul, OpDiv, OpGe, OpSelect}

func ParseOperation(s string) (Operation, error) {
	op := Operation(s)
	if op.Arity() == 0 {
		return "", newError(CodeFormat, "parse operation", fmt.Errorf("unknown operation %q", s))
	}
	return op, nil
}

// Arity returns the operand count of op, or 0 for unknown operations.
func (o Operation) Arity() int {
	switch o {
	case OpAdd, OpSub, OpMul, OpDiv, OpGe:
		return 2
	case OpSelect:
		return 3
	default:
		return 0
	}
}

// Foldable reports whether op maps (T, T) to T and so can be folded over a
// list.
func (o Operation) Foldable() bool {
	switch o {
	case OpAdd, OpSub, OpMul, OpDiv:
		return true
	default:
		return false
	}
}

func (o Operation) String() string {
	return string(o)
}

// ResultType checks operand types for op and returns the type of the result.
func (o Operation) ResultType(operands ...EncryptedType) (EncryptedType, error) {
	const op = "check operands"
	arity := o.Arity()
	if arity == 0 {
		return "", newError(CodeFormat, op, fmt.Errorf("unknown operation %q", o))
	}
	if len(operands) != arity {
		return "", newError(CodeFormat, op, fmt.Errorf("%s takes %d operands, got %d", o, arity, len(operands)))
	}

	switch o {
	case OpSelect:
		if operands[0] != TypeBool {
			return "", newError(CodeFormat, op, fmt.Errorf("select condition must be %s, got %s", TypeBool, operands[0]))
		}
		if operands[1] != operands[2] {
			return "", newError(CodeFormat, op, fmt.Errorf("select branches differ: %s and %s", operands[1], operands[2]))
		}
		return operands[1], nil
	default:
		a, b := operands[0], operands[1]
		if a != b {
			return "", newError(CodeFormat, op, fmt.Errorf("%s operands differ: %s and %s", o, a, b))
		}
		if a == TypeBool {
			return "", newError(CodeFormat, op, fmt.Errorf("%s is not defined on %s", o, TypeBool))
		}
		if o == OpGe {
			return TypeBool, nil
		}
		return a, nil
	}
}

// Evaluate validates the operands of a single operation and runs it on ev.
func Evaluate(ctx context.Context, ev Evaluator, op Operation, operands ...*EncryptedValue) (*EncryptedValue, error) {
	if ev == nil {
		return nil, newError(CodeBackendUnavailable, "evaluate", errNoEvaluator)
	}
	types := make([]EncryptedType, len(operands))
	for i, v := range operands {
		if err := ValidateEnvelope(v); err != nil {
			return nil, fmt.Errorf("operand %d: %w", i, err)
		}
		types[i] = v.Type
	}
	if _, err := op.ResultType(types...); err != nil {
		return nil, err
	}
	out, err := ev.Evaluate(ctx, op, operands...)
	if err != nil {
		return nil, Classify("evaluate", err)
	}
	return out, nil
}

// Fold reduces operands left to right with a binary operation:
// Fold(sub, [a, b, c]) is sub(sub(a, b), c). Each step waits for the
// previous one, so non-commutative operations keep their meaning. A single
// operand is returned as a copy.
func Fold(ctx context.Context, ev Evaluator, op Operation, operands []*EncryptedValue) (*EncryptedValue, error) {
	const opName = "fold"
	if !op.Foldable() {
		return nil, newError(CodeFormat, opName, fmt.Errorf("%q cannot be folded", op))
	}
	if len(operands) == 0 {
		return nil, newError(CodeFormat, opName, errNoOperands)
	}
	for i, v := range operands {
		if err := ValidateEnvelope(v); err != nil {
			return nil, fmt.Errorf("operand %d: %w", i, err)
		}
		if _, err := op.ResultType(operands[0].Type, v.Type); err != nil {
			return nil, fmt.Errorf("operand %d: %w", i, err)
		}
	}
	if ev == nil {
		return nil, newError(CodeBackendUnavailable, opName, errNoEvaluator)
	}

	acc := operands[0].Clone()
	for _, next := range operands[1:] {
		if err := ctx.Err(); err != nil {
			return nil, Classify(opName, err)
		}
		out, err := ev.Evaluate(ctx, op, acc, next)
		if err != nil {
			return nil, Classify(opName, err)
		}
		acc = out
	}
	return acc, nil
}
