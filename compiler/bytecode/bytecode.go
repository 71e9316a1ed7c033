// Package bytecode implements the flat, linear lowering target of
// compiler/mir: a dense operation heap addressed by integer, with no
// function calls or loops left in it — MIR's Map/Zip/Reduce are unrolled
// into per-element operations during lowering.
package bytecode

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/nilmpc/coren/compiler/mir"
	"github.com/nilmpc/coren/pkg/nada"
)

// Address indexes one operation in a Program's dense heap.
type Address uint64

// OpKind tags the shape of one bytecode operation. Unary/Binary/Ternary
// carry an arithmetic/comparison Operator; the rest are special-cased
// shapes with their own operand conventions.
type OpKind uint8

const (
	Unary OpKind = iota
	Binary
	Ternary
	Load
	Get
	New
	IfElse
	Reveal
	PublicKeyDerive
	InnerProduct
	EcdsaSign
	EddsaSign
)

// UnaryOperator tags a Unary operation.
type UnaryOperator uint8

const (
	Neg UnaryOperator = iota
	Not
	Cast
)

// BinaryOperator tags a Binary operation.
type BinaryOperator uint8

const (
	Add BinaryOperator = iota
	Sub
	Mul
	Div
	Mod
	Power
	LeftShift
	RightShift
	LessThan
	Equals
)

// LoadSource tags where a Load operation reads its value from.
type LoadSource uint8

const (
	FromInput LoadSource = iota
	FromLiteral
)

// Operation is one node of the flat heap.
//
// Field use by Kind:
//   - Unary: Operands = [operand], UnaryOp set
//   - Binary: Operands = [left, right], BinaryOp set
//   - Ternary / IfElse: Operands = [cond, ifTrue, ifFalse]
//   - Load: Operands = nil, Source + SourceIndex name the input/literal
//   - Get: Operands = [base], SourceIndex is the array/tuple index,
//     FieldName is set instead when the base is an Object
//   - New: Operands = element/field values, in declared order
//   - Reveal: Operands = [operand]
//   - PublicKeyDerive: Operands = [secretKeyShare]
//   - EcdsaSign / EddsaSign: Operands = [secretKeyShare, digestOrMessage]
//   - InnerProduct: Operands = [array1, array2]
type Operation struct {
	Address     Address
	Kind        OpKind
	Type        nada.Type
	UnaryOp     UnaryOperator
	BinaryOp    BinaryOperator
	Operands    []Address
	Source      LoadSource
	SourceIndex int
	FieldName   string
	SourceRef   int
}

// Output names one bytecode-addressed program output.
type Output struct {
	Name    string
	Type    nada.Type
	Party   int
	Address Address
}

// Program is the flat, versionless bytecode unit produced by MIR2Bytecode.
type Program struct {
	Parties    []mir.Party
	Inputs     []mir.Input
	Outputs    []Output
	Literals   []mir.Literal
	Operations []Operation
}

// Encode serializes the program with CBOR, matching the wire/disk
// encoding used for every other message and blob structure in this engine.
func (p *Program) Encode() ([]byte, error) {
	return cbor.Marshal(p)
}

// Decode parses a program previously produced by Encode.
func Decode(data []byte) (*Program, error) {
	var p Program
	if err := cbor.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("bytecode: decode: %w", err)
	}
	return &p, nil
}
