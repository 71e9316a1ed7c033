// Package protocol implements Bytecode2Protocol: the per-operation
// dispatch that turns flat bytecode into a protocol graph, choosing the
// public/share/mixed variant of each operation, attaching its execution
// line (Local or Online) and its preprocessing-element requirements.
package protocol

import (
	"errors"
	"fmt"

	"github.com/nilmpc/coren/compiler/bytecode"
	"github.com/nilmpc/coren/pkg/nada"
	"github.com/nilmpc/coren/pkg/preprocessing"
)

// ErrOperationNotSupported is returned for an operand-type combination the
// MPC layer cannot realize (e.g. a secret exponent, a secret shift amount).
var ErrOperationNotSupported = errors.New("protocol: operation not supported by the MPC layer")

// Address is a protocol's position in the graph. Bytecode2Protocol never
// unrolls further than the bytecode already did, so protocol addresses
// coincide 1:1 with the bytecode addresses they were built from.
type Address = bytecode.Address

// Line tags whether a protocol needs a synchronization round.
type Line uint8

const (
	Local Line = iota
	Online
)

// Kind mirrors the bytecode operation shapes; Variant records which
// public/share combination of operands this instance was built for.
type Kind uint8

const (
	KindLoad Kind = iota
	KindUnary
	KindBinary
	KindNew
	KindGet
	KindIfElse
	KindReveal
	KindPublicKeyDerive
	KindEcdsaSign
	KindEddsaSign
	KindInnerProduct
)

// Variant records which public/secret combination of operands produced
// this protocol instance, the "type metadata" spec.md §4.4 asks per-op
// factories to attach.
type Variant uint8

const (
	AllPublic Variant = iota
	Mixed
	AllShare
)

// Protocol is one node of the protocol graph.
type Protocol struct {
	Address      Address
	Kind         Kind
	UnaryOp      bytecode.UnaryOperator
	BinaryOp     bytecode.BinaryOperator
	Variant      Variant
	Type         nada.Type
	Dependencies []Address
	Line         Line
	Preprocessing map[preprocessing.ElementKind]int

	// Passed through unchanged from the bytecode operation, needed by
	// the VM to actually execute Get/New/Load/sign ops.
	Source      bytecode.LoadSource
	SourceIndex int
	FieldName   string
}

// Graph is a dense, address-keyed protocol DAG plus the output bindings
// carried over unchanged from the bytecode program.
type Graph struct {
	Parties    []string
	Inputs     []nada.Type
	Outputs    []bytecode.Output
	Protocols  []Protocol
}

func variantOf(kinds ...nada.Kind) Variant {
	allPublic, allSecret := true, true
	for _, k := range kinds {
		if k == nada.Secret {
			allPublic = false
		} else {
			allSecret = false
		}
	}
	switch {
	case allPublic:
		return AllPublic
	case allSecret:
		return AllShare
	default:
		return Mixed
	}
}

// Bytecode2Protocol walks a bytecode program's dense operation heap and
// builds a 1:1 protocol graph, dispatching each operation to its
// public/share/mixed variant.
func Bytecode2Protocol(prog *bytecode.Program) (*Graph, error) {
	protocols := make([]Protocol, len(prog.Operations))
	for i, op := range prog.Operations {
		p, err := transform(prog, op)
		if err != nil {
			return nil, fmt.Errorf("protocol: operation %d: %w", op.Address, err)
		}
		protocols[i] = p
	}

	parties := make([]string, len(prog.Parties))
	for i, p := range prog.Parties {
		parties[i] = p.Name
	}
	inputs := make([]nada.Type, len(prog.Inputs))
	for i, in := range prog.Inputs {
		inputs[i] = in.Type
	}

	return &Graph{Parties: parties, Inputs: inputs, Outputs: prog.Outputs, Protocols: protocols}, nil
}

func operandType(prog *bytecode.Program, addr bytecode.Address) nada.Type {
	return prog.Operations[addr].Type
}

func transform(prog *bytecode.Program, op bytecode.Operation) (Protocol, error) {
	base := Protocol{
		Address:       op.Address,
		Type:          op.Type,
		Dependencies:  append([]bytecode.Address(nil), op.Operands...),
		Preprocessing: map[preprocessing.ElementKind]int{},
		Source:        op.Source,
		SourceIndex:   op.SourceIndex,
		FieldName:     op.FieldName,
	}

	switch op.Kind {
	case bytecode.Load:
		base.Kind = KindLoad
		base.Line = Local
		return base, nil

	case bytecode.Unary:
		base.Kind = KindUnary
		base.UnaryOp = op.UnaryOp
		base.Variant = variantOf(operandType(prog, op.Operands[0]).Kind)
		base.Line = Local
		return base, nil

	case bytecode.Binary:
		return transformBinary(prog, op, base)

	case bytecode.New:
		base.Kind = KindNew
		base.Line = Local
		kinds := make([]nada.Kind, len(op.Operands))
		for i, a := range op.Operands {
			kinds[i] = operandType(prog, a).Kind
		}
		base.Variant = variantOf(kinds...)
		return base, nil

	case bytecode.Get:
		base.Kind = KindGet
		base.Line = Local
		base.Variant = variantOf(operandType(prog, op.Operands[0]).Kind)
		return base, nil

	case bytecode.IfElse:
		base.Kind = KindIfElse
		condKind := operandType(prog, op.Operands[0]).Kind
		branchKind := variantOf(operandType(prog, op.Operands[1]).Kind, operandType(prog, op.Operands[2]).Kind)
		if condKind == nada.Public && branchKind == AllPublic {
			base.Line = Local
			base.Variant = AllPublic
		} else {
			base.Line = Online
			base.Variant = AllShare
			// Two batched multiplications: c*a and c*b.
			base.Preprocessing[preprocessing.Multiplication] = 2
		}
		return base, nil

	case bytecode.Reveal:
		base.Kind = KindReveal
		base.Line = Online
		base.Variant = AllShare
		return base, nil

	case bytecode.PublicKeyDerive:
		base.Kind = KindPublicKeyDerive
		base.Line = Online
		base.Variant = AllShare
		return base, nil

	case bytecode.EcdsaSign:
		base.Kind = KindEcdsaSign
		base.Line = Online
		base.Variant = AllShare
		return base, nil

	case bytecode.EddsaSign:
		base.Kind = KindEddsaSign
		base.Line = Online
		base.Variant = AllShare
		return base, nil

	case bytecode.InnerProduct:
		base.Kind = KindInnerProduct
		base.Line = Online
		base.Variant = AllShare
		// One multiplication per element pair; the VM knows the fixed
		// array length of the dependency types, this only records the
		// per-protocol kind needed, not the count (array length is not
		// known at this generic call site without re-deriving element
		// count from the dependency's Type, done by the planner when it
		// binds preprocessing).
		base.Preprocessing[preprocessing.Multiplication] = 0
		return base, nil

	default:
		return Protocol{}, fmt.Errorf("%w: bytecode kind %d", ErrOperationNotSupported, op.Kind)
	}
}

func transformBinary(prog *bytecode.Program, op bytecode.Operation, base Protocol) (Protocol, error) {
	base.Kind = KindBinary
	base.BinaryOp = op.BinaryOp
	leftKind := operandType(prog, op.Operands[0]).Kind
	rightKind := operandType(prog, op.Operands[1]).Kind
	base.Variant = variantOf(leftKind, rightKind)

	switch op.BinaryOp {
	case bytecode.Add, bytecode.Sub:
		base.Line = Local
		return base, nil

	case bytecode.Mul:
		if base.Variant == AllShare {
			base.Line = Online
			base.Preprocessing[preprocessing.Multiplication] = 1
		} else {
			base.Line = Local
		}
		return base, nil

	case bytecode.Power:
		if rightKind == nada.Secret {
			return Protocol{}, fmt.Errorf("%w: power with a secret exponent", ErrOperationNotSupported)
		}
		base.Line = Local
		if leftKind == nada.Secret {
			base.Line = Online
		}
		return base, nil

	case bytecode.LeftShift, bytecode.RightShift:
		if rightKind == nada.Secret {
			return Protocol{}, fmt.Errorf("%w: shift by a secret amount", ErrOperationNotSupported)
		}
		base.Line = Local
		return base, nil

	case bytecode.Div:
		if base.Variant == AllPublic {
			base.Line = Local
			return base, nil
		}
		base.Line = Online
		if rightKind == nada.Secret {
			// r*divisor (mult), reveal, reciprocal-share, then
			// dividend*reciprocal (a second mult): two triples.
			base.Preprocessing[preprocessing.DivisionSecretDivisor] = 1
			base.Preprocessing[preprocessing.Multiplication] = 2
		} else {
			base.Preprocessing[preprocessing.TruncPr] = 1
		}
		return base, nil

	case bytecode.Mod:
		if base.Variant == AllPublic {
			base.Line = Local
			return base, nil
		}
		base.Line = Online
		if rightKind == nada.Secret {
			// Same reciprocal construction as secret-divisor Div, plus a
			// third mult (divisor*quotient) to recover the remainder.
			base.Preprocessing[preprocessing.DivisionSecretDivisor] = 1
			base.Preprocessing[preprocessing.Multiplication] = 3
		} else {
			base.Preprocessing[preprocessing.Modulo] = 1
		}
		return base, nil

	case bytecode.LessThan:
		if base.Variant == AllPublic {
			base.Line = Local
			return base, nil
		}
		base.Line = Online
		base.Preprocessing[preprocessing.Compare] = 1
		return base, nil

	case bytecode.Equals:
		if base.Variant == AllPublic {
			base.Line = Local
			return base, nil
		}
		base.Line = Online
		if base.Type.Kind == nada.Public {
			base.Preprocessing[preprocessing.EqualityPublicOutput] = 1
		} else {
			base.Preprocessing[preprocessing.EqualitySecretOutput] = 1
		}
		return base, nil

	default:
		return Protocol{}, fmt.Errorf("%w: unknown binary operator", ErrOperationNotSupported)
	}
}
