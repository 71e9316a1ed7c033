package vm

import (
	"fmt"
	"math/big"

	"github.com/nilmpc/coren/compiler/bytecode"
	"github.com/nilmpc/coren/compiler/mir"
	"github.com/nilmpc/coren/compiler/protocol"
	"github.com/nilmpc/coren/pkg/field"
	"github.com/nilmpc/coren/pkg/nada"
)

// memory is the VM's runtime value store: one nada.Value per bytecode
// address, plus the parsed input/literal tables it was bootstrapped from.
type memory struct {
	slots map[protocol.Address]nada.Value
}

func newMemory() *memory {
	return &memory{slots: make(map[protocol.Address]nada.Value)}
}

func (m *memory) get(addr protocol.Address) (nada.Value, error) {
	v, ok := m.slots[addr]
	if !ok {
		return nada.Value{}, fmt.Errorf("vm: address %d has no value yet", addr)
	}
	return v, nil
}

func (m *memory) set(addr protocol.Address, v nada.Value) {
	m.slots[addr] = v
}

// parseLiteral turns a literal table entry's textual form into a nada.Value.
// Literals are always public compile-time constants.
func parseLiteral(lit mir.Literal) (nada.Value, error) {
	switch lit.Type.Primitive {
	case nada.Integer:
		n, ok := new(big.Int).SetString(lit.Value, 10)
		if !ok {
			return nada.Value{}, fmt.Errorf("vm: literal %q is not a valid integer", lit.Value)
		}
		return nada.NewPublicInteger(n), nil
	case nada.Boolean:
		switch lit.Value {
		case "true":
			return nada.NewPublicBoolean(true), nil
		case "false":
			return nada.NewPublicBoolean(false), nil
		default:
			return nada.Value{}, fmt.Errorf("vm: literal %q is not a valid boolean", lit.Value)
		}
	default:
		return nada.Value{}, fmt.Errorf("vm: unsupported literal primitive %s", lit.Type.Primitive)
	}
}

// runLocal evaluates a single Local protocol, reading its operand values
// out of memory and writing its result back in. It must never be called
// for a protocol whose Line is Online.
func runLocal(f *field.SafePrime, mem *memory, p protocol.Protocol, inputs []nada.Value, literals []nada.Value) error {
	switch p.Kind {
	case protocol.KindLoad:
		if p.Source == bytecode.FromInput {
			mem.set(p.Address, inputs[p.SourceIndex])
		} else {
			mem.set(p.Address, literals[p.SourceIndex])
		}
		return nil

	case protocol.KindUnary:
		operand, err := mem.get(p.Dependencies[0])
		if err != nil {
			return err
		}
		return runUnaryLocal(f, mem, p, operand)

	case protocol.KindBinary:
		return runBinaryLocal(f, mem, p)

	case protocol.KindNew:
		return runNew(mem, p)

	case protocol.KindGet:
		return runGet(mem, p)

	case protocol.KindIfElse:
		cond, err := mem.get(p.Dependencies[0])
		if err != nil {
			return err
		}
		condBit, err := cond.PublicBoolean()
		if err != nil {
			return fmt.Errorf("vm: local if-else requires a public condition: %w", err)
		}
		branch := p.Dependencies[2]
		if condBit {
			branch = p.Dependencies[1]
		}
		v, err := mem.get(branch)
		if err != nil {
			return err
		}
		mem.set(p.Address, v)
		return nil

	default:
		return fmt.Errorf("vm: protocol kind %d is not Local", p.Kind)
	}
}

func runUnaryLocal(f *field.SafePrime, mem *memory, p protocol.Protocol, operand nada.Value) error {
	switch p.UnaryOp {
	case bytecode.Neg:
		e, err := scalarOf(f, operand)
		if err != nil {
			return err
		}
		out, err := wrapScalar(p.Type, e.Neg())
		if err != nil {
			return err
		}
		mem.set(p.Address, out)
		return nil

	case bytecode.Not:
		e, err := scalarOf(f, operand)
		if err != nil {
			return err
		}
		out, err := wrapScalar(p.Type, f.One().Sub(e))
		if err != nil {
			return err
		}
		mem.set(p.Address, out)
		return nil

	case bytecode.Cast:
		e, err := scalarOf(f, operand)
		if err != nil {
			return err
		}
		out, err := wrapScalar(p.Type, e)
		if err != nil {
			return err
		}
		mem.set(p.Address, out)
		return nil

	default:
		return fmt.Errorf("vm: unknown unary operator %d", p.UnaryOp)
	}
}

func runBinaryLocal(f *field.SafePrime, mem *memory, p protocol.Protocol) error {
	left, err := mem.get(p.Dependencies[0])
	if err != nil {
		return err
	}
	right, err := mem.get(p.Dependencies[1])
	if err != nil {
		return err
	}
	leftE, err := scalarOf(f, left)
	if err != nil {
		return err
	}
	rightE, err := scalarOf(f, right)
	if err != nil {
		return err
	}

	var out field.Element
	switch p.BinaryOp {
	case bytecode.Add:
		out = leftE.Add(rightE)
	case bytecode.Sub:
		out = leftE.Sub(rightE)
	case bytecode.Mul:
		out = leftE.Mul(rightE) // only reached here for the Local (scalar) variant
	case bytecode.Power:
		out = leftE.ExpBig(rightE.Big())
	case bytecode.LeftShift:
		out = f.NewElement(new(big.Int).Lsh(leftE.FloorMod(), uint(rightE.Big().Uint64())))
	case bytecode.RightShift:
		out = f.NewElement(new(big.Int).Rsh(leftE.FloorMod(), uint(rightE.Big().Uint64())))
	case bytecode.Div:
		q, _, err := field.FloorDiv(leftE, rightE)
		if err != nil {
			return err
		}
		out = q
	case bytecode.Mod:
		_, r, err := field.FloorDiv(leftE, rightE)
		if err != nil {
			return err
		}
		out = f.NewElement(r)
	case bytecode.LessThan:
		if leftE.FloorMod().Cmp(rightE.FloorMod()) < 0 {
			out = f.One()
		} else {
			out = f.Zero()
		}
	case bytecode.Equals:
		if leftE.Equal(rightE) {
			out = f.One()
		} else {
			out = f.Zero()
		}
	default:
		return fmt.Errorf("vm: binary operator %d is not Local", p.BinaryOp)
	}

	wrapped, err := wrapScalar(p.Type, out)
	if err != nil {
		return err
	}
	mem.set(p.Address, wrapped)
	return nil
}

func runNew(mem *memory, p protocol.Protocol) error {
	if !p.Type.IsCompound() {
		return fmt.Errorf("vm: New target %d has non-compound type %s", p.Address, p.Type)
	}
	switch p.Type.Compound.Kind {
	case nada.ArrayKind:
		elements := make([]nada.Value, len(p.Dependencies))
		for i, dep := range p.Dependencies {
			v, err := mem.get(dep)
			if err != nil {
				return err
			}
			elements[i] = v
		}
		arr, err := nada.NewArrayValue(*p.Type.Compound.Element, elements)
		if err != nil {
			return err
		}
		mem.set(p.Address, arr)
		return nil

	case nada.TupleKind:
		if len(p.Dependencies) != 2 {
			return fmt.Errorf("vm: tuple New at %d needs exactly 2 operands", p.Address)
		}
		first, err := mem.get(p.Dependencies[0])
		if err != nil {
			return err
		}
		second, err := mem.get(p.Dependencies[1])
		if err != nil {
			return err
		}
		mem.set(p.Address, nada.NewTupleValue(first, second))
		return nil

	case nada.ObjectKind:
		values := make(map[string]nada.Value, len(p.Dependencies))
		for i, dep := range p.Dependencies {
			v, err := mem.get(dep)
			if err != nil {
				return err
			}
			values[p.Type.Compound.Fields[i].Name] = v
		}
		obj, err := nada.NewObjectValue(p.Type.Kind, p.Type.Compound.Fields, values)
		if err != nil {
			return err
		}
		mem.set(p.Address, obj)
		return nil

	default:
		return fmt.Errorf("vm: unknown compound kind %d", p.Type.Compound.Kind)
	}
}

func runGet(mem *memory, p protocol.Protocol) error {
	base, err := mem.get(p.Dependencies[0])
	if err != nil {
		return err
	}
	if p.FieldName != "" {
		obj, err := base.Object()
		if err != nil {
			return err
		}
		v, ok := obj[p.FieldName]
		if !ok {
			return fmt.Errorf("vm: object has no field %q", p.FieldName)
		}
		mem.set(p.Address, v)
		return nil
	}
	if base.Type().IsCompound() && base.Type().Compound.Kind == nada.TupleKind {
		pair, err := base.Tuple()
		if err != nil {
			return err
		}
		mem.set(p.Address, pair[p.SourceIndex])
		return nil
	}
	elements, err := base.Array()
	if err != nil {
		return err
	}
	if p.SourceIndex < 0 || p.SourceIndex >= len(elements) {
		return fmt.Errorf("vm: array index %d out of range (len %d)", p.SourceIndex, len(elements))
	}
	mem.set(p.Address, elements[p.SourceIndex])
	return nil
}
