// Package mir implements the Medium Intermediate Representation: a typed
// dataflow program consumed from the front-end compiler, consisting of
// parties, inputs, outputs, literals, a dense table of operations, and the
// named functions those operations may call (Map, Zip, Reduce).
package mir

import (
	"errors"
	"fmt"

	"github.com/nilmpc/coren/pkg/nada"
)

// OperandKind tags what an OperandRef points at.
type OperandKind uint8

const (
	OperandOperation OperandKind = iota
	OperandInput
	OperandLiteral
)

// OperandRef addresses one source of a value: another operation's result,
// a program input, or a literal.
type OperandRef struct {
	Kind  OperandKind
	Index uint64
}

// Op builds an OperandRef to an operation by id.
func Op(id uint64) OperandRef { return OperandRef{Kind: OperandOperation, Index: id} }

// In builds an OperandRef to an input by table index.
func In(idx uint64) OperandRef { return OperandRef{Kind: OperandInput, Index: idx} }

// Lit builds an OperandRef to a literal by table index.
func Lit(idx uint64) OperandRef { return OperandRef{Kind: OperandLiteral, Index: idx} }

// Party names one cluster participant.
type Party struct {
	Name      string
	SourceRef int
}

// Input names one program input, bound to a party.
type Input struct {
	Name      string
	Type      nada.Type
	Party     int
	SourceRef int
}

// Output names one program output, bound to a party and to the operation
// that produces its value.
type Output struct {
	Name      string
	Type      nada.Type
	Party     int
	Operation uint64
	SourceRef int
}

// Literal is a compile-time constant, carried as its textual form plus type.
type Literal struct {
	Value string
	Type  nada.Type
}

// OpKind enumerates every MIR operation shape. Map, Zip and Reduce are
// MIR-only: the bytecode lowering unrolls them into per-element operations,
// since the bytecode and protocol layers below have no notion of a function
// call or a loop.
type OpKind uint8

const (
	OpAdd OpKind = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpPower
	OpLeftShift
	OpRightShift
	OpLessThan
	OpEquals
	OpNeg
	OpNot
	OpCast
	OpIfElse
	OpReveal
	OpNew
	OpGet
	OpMap
	OpZip
	OpReduce
	OpPublicKeyDerive
	OpEcdsaSign
	OpEddsaSign
	OpInnerProduct
)

func (k OpKind) String() string {
	names := [...]string{
		"Add", "Sub", "Mul", "Div", "Mod", "Power", "LeftShift", "RightShift",
		"LessThan", "Equals", "Neg", "Not", "Cast", "IfElse", "Reveal", "New",
		"Get", "Map", "Zip", "Reduce", "PublicKeyDerive", "EcdsaSign",
		"EddsaSign", "InnerProduct",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return "Unknown"
}

// Operation is one dense-addressed node of the dataflow graph.
//
// Field use by Kind:
//   - Add/Sub/.../LessThan/Equals: Operands = [left, right]
//   - Neg/Not/Cast: Operands = [operand]
//   - IfElse: Operands = [cond, ifTrue, ifFalse]
//   - Reveal: Operands = [operand]
//   - New: Operands = element/field values in declared order
//   - Get: Operands = [base]; Index (array/tuple) or FieldName (object)
//   - Map: Operands = [array]; Function names the unary element function
//   - Zip: Operands = [array1, array2]
//   - Reduce: Operands = [array, init]; Function names the binary step function
//   - PublicKeyDerive: Operands = [secretKeyShare]
//   - EcdsaSign/EddsaSign: Operands = [secretKeyShare, digestOrMessage]
//   - InnerProduct: Operands = [array1, array2]
type Operation struct {
	ID        uint64
	Kind      OpKind
	Type      nada.Type
	Operands  []OperandRef
	Function  string
	Index     int
	FieldName string
	SourceRef int
}

// Function is a named, callable MIR fragment used by Map/Reduce: a small
// operation list local to the function, with a Result operand referencing
// either a body operation or directly one of the function's parameters.
type Function struct {
	Name       string
	Parameters []nada.Type
	Body       []Operation
	Result     OperandRef
}

// SourceFile names one file referenced by SourceRef indices.
type SourceFile struct {
	Path string
}

// Program is a complete MIR dataflow graph.
type Program struct {
	Parties     []Party
	Inputs      []Input
	Outputs     []Output
	Literals    []Literal
	Operations  []Operation
	Functions   map[string]Function
	SourceFiles []SourceFile
}

// Validate checks structural invariants: operation ids are dense starting
// at 0, operand references stay in range, and every output names an
// existing operation.
func (p *Program) Validate() error {
	for i, op := range p.Operations {
		if op.ID != uint64(i) {
			return fmt.Errorf("mir: operation id %d is not dense (want %d)", op.ID, i)
		}
		for _, ref := range op.Operands {
			if err := p.validateOperand(ref, uint64(i)); err != nil {
				return fmt.Errorf("mir: operation %d: %w", i, err)
			}
		}
		if op.Kind == OpMap || op.Kind == OpReduce {
			if _, ok := p.Functions[op.Function]; !ok {
				return fmt.Errorf("mir: operation %d references unknown function %q", i, op.Function)
			}
		}
	}
	for i, out := range p.Outputs {
		if out.Operation >= uint64(len(p.Operations)) {
			return fmt.Errorf("mir: output %d (%s) references out-of-range operation %d", i, out.Name, out.Operation)
		}
	}
	return nil
}

func (p *Program) validateOperand(ref OperandRef, fromOp uint64) error {
	switch ref.Kind {
	case OperandOperation:
		if ref.Index >= fromOp {
			return fmt.Errorf("operand references operation %d at or after its own position %d", ref.Index, fromOp)
		}
	case OperandInput:
		if ref.Index >= uint64(len(p.Inputs)) {
			return fmt.Errorf("operand references out-of-range input %d", ref.Index)
		}
	case OperandLiteral:
		if ref.Index >= uint64(len(p.Literals)) {
			return fmt.Errorf("operand references out-of-range literal %d", ref.Index)
		}
	default:
		return errors.New("operand has unknown kind")
	}
	return nil
}
