package bytecode

import (
	"fmt"

	"github.com/nilmpc/coren/compiler/mir"
	"github.com/nilmpc/coren/pkg/nada"
)

// scope binds MIR operand references while inlining a function body: params
// maps parameter index to its already-lowered address, localOps maps a
// body operation's own id to its lowered address. Both are nil at the top
// level, where OperandInput/OperandOperation instead resolve against the
// program's real input table and the global operation-address map.
type scope struct {
	params   map[uint64]Address
	localOps map[uint64]Address
}

type loadKey struct {
	source LoadSource
	index  int
}

type lowering struct {
	mirProg   *mir.Program
	ops       []Operation
	mirOpAddr map[uint64]Address
	loadCache map[loadKey]Address
	addrType  map[Address]nada.Type
}

// Lower flattens a MIR program into bytecode: arithmetic and structural ops
// pass through largely unchanged, while Map/Zip/Reduce are unrolled into
// one Get/New chain per array element, inlining the named function's body
// fresh at each call site.
func Lower(prog *mir.Program) (*Program, error) {
	if err := prog.Validate(); err != nil {
		return nil, fmt.Errorf("bytecode: %w", err)
	}
	l := &lowering{
		mirProg:   prog,
		mirOpAddr: make(map[uint64]Address, len(prog.Operations)),
		loadCache: make(map[loadKey]Address),
		addrType:  make(map[Address]nada.Type),
	}

	for _, op := range prog.Operations {
		addr, err := l.lowerOperation(op, nil)
		if err != nil {
			return nil, fmt.Errorf("bytecode: lowering mir operation %d (%s): %w", op.ID, op.Kind, err)
		}
		l.mirOpAddr[op.ID] = addr
	}

	outputs := make([]Output, len(prog.Outputs))
	for i, out := range prog.Outputs {
		addr, ok := l.mirOpAddr[out.Operation]
		if !ok {
			return nil, fmt.Errorf("bytecode: output %q references unlowered operation %d", out.Name, out.Operation)
		}
		outputs[i] = Output{Name: out.Name, Type: out.Type, Party: out.Party, Address: addr}
	}

	return &Program{
		Parties:    prog.Parties,
		Inputs:     prog.Inputs,
		Outputs:    outputs,
		Literals:   l.literals(),
		Operations: l.ops,
	}, nil
}

func (l *lowering) literals() []mir.Literal {
	return append([]mir.Literal(nil), l.mirProg.Literals...)
}

func (l *lowering) emit(op Operation) Address {
	op.Address = Address(len(l.ops))
	l.ops = append(l.ops, op)
	l.addrType[op.Address] = op.Type
	return op.Address
}

func (l *lowering) loadInput(idx int) Address {
	key := loadKey{FromInput, idx}
	if addr, ok := l.loadCache[key]; ok {
		return addr
	}
	addr := l.emit(Operation{Kind: Load, Type: l.mirProg.Inputs[idx].Type, Source: FromInput, SourceIndex: idx})
	l.loadCache[key] = addr
	return addr
}

func (l *lowering) loadLiteral(idx int) Address {
	key := loadKey{FromLiteral, idx}
	if addr, ok := l.loadCache[key]; ok {
		return addr
	}
	addr := l.emit(Operation{Kind: Load, Type: l.mirProg.Literals[idx].Type, Source: FromLiteral, SourceIndex: idx})
	l.loadCache[key] = addr
	return addr
}

func (l *lowering) resolve(ref mir.OperandRef, sc *scope) (Address, error) {
	switch ref.Kind {
	case mir.OperandInput:
		if sc != nil {
			addr, ok := sc.params[ref.Index]
			if !ok {
				return 0, fmt.Errorf("function parameter %d is not bound in this scope", ref.Index)
			}
			return addr, nil
		}
		return l.loadInput(int(ref.Index)), nil
	case mir.OperandLiteral:
		return l.loadLiteral(int(ref.Index)), nil
	case mir.OperandOperation:
		if sc != nil {
			addr, ok := sc.localOps[ref.Index]
			if !ok {
				return 0, fmt.Errorf("local operation %d has not been lowered yet", ref.Index)
			}
			return addr, nil
		}
		addr, ok := l.mirOpAddr[ref.Index]
		if !ok {
			return 0, fmt.Errorf("operation %d has not been lowered yet", ref.Index)
		}
		return addr, nil
	default:
		return 0, fmt.Errorf("operand has unknown kind %d", ref.Kind)
	}
}

func mapBinaryOp(kind mir.OpKind) (BinaryOperator, bool) {
	switch kind {
	case mir.OpAdd:
		return Add, true
	case mir.OpSub:
		return Sub, true
	case mir.OpMul:
		return Mul, true
	case mir.OpDiv:
		return Div, true
	case mir.OpMod:
		return Mod, true
	case mir.OpPower:
		return Power, true
	case mir.OpLeftShift:
		return LeftShift, true
	case mir.OpRightShift:
		return RightShift, true
	case mir.OpLessThan:
		return LessThan, true
	case mir.OpEquals:
		return Equals, true
	default:
		return 0, false
	}
}

func mapUnaryOp(kind mir.OpKind) (UnaryOperator, bool) {
	switch kind {
	case mir.OpNeg:
		return Neg, true
	case mir.OpNot:
		return Not, true
	case mir.OpCast:
		return Cast, true
	default:
		return 0, false
	}
}

func (l *lowering) lowerOperation(op mir.Operation, sc *scope) (Address, error) {
	if binOp, ok := mapBinaryOp(op.Kind); ok {
		left, err := l.resolve(op.Operands[0], sc)
		if err != nil {
			return 0, err
		}
		right, err := l.resolve(op.Operands[1], sc)
		if err != nil {
			return 0, err
		}
		return l.emit(Operation{Kind: Binary, Type: op.Type, BinaryOp: binOp, Operands: []Address{left, right}, SourceRef: op.SourceRef}), nil
	}
	if unOp, ok := mapUnaryOp(op.Kind); ok {
		operand, err := l.resolve(op.Operands[0], sc)
		if err != nil {
			return 0, err
		}
		return l.emit(Operation{Kind: Unary, Type: op.Type, UnaryOp: unOp, Operands: []Address{operand}, SourceRef: op.SourceRef}), nil
	}

	switch op.Kind {
	case mir.OpIfElse:
		addrs, err := l.resolveAll(op.Operands, sc)
		if err != nil {
			return 0, err
		}
		return l.emit(Operation{Kind: IfElse, Type: op.Type, Operands: addrs, SourceRef: op.SourceRef}), nil

	case mir.OpReveal:
		operand, err := l.resolve(op.Operands[0], sc)
		if err != nil {
			return 0, err
		}
		return l.emit(Operation{Kind: Reveal, Type: op.Type, Operands: []Address{operand}, SourceRef: op.SourceRef}), nil

	case mir.OpNew:
		addrs, err := l.resolveAll(op.Operands, sc)
		if err != nil {
			return 0, err
		}
		return l.emit(Operation{Kind: New, Type: op.Type, Operands: addrs, SourceRef: op.SourceRef}), nil

	case mir.OpGet:
		base, err := l.resolve(op.Operands[0], sc)
		if err != nil {
			return 0, err
		}
		return l.emit(Operation{Kind: Get, Type: op.Type, Operands: []Address{base}, SourceIndex: op.Index, FieldName: op.FieldName, SourceRef: op.SourceRef}), nil

	case mir.OpPublicKeyDerive:
		operand, err := l.resolve(op.Operands[0], sc)
		if err != nil {
			return 0, err
		}
		return l.emit(Operation{Kind: PublicKeyDerive, Type: op.Type, Operands: []Address{operand}, SourceRef: op.SourceRef}), nil

	case mir.OpEcdsaSign:
		addrs, err := l.resolveAll(op.Operands, sc)
		if err != nil {
			return 0, err
		}
		return l.emit(Operation{Kind: EcdsaSign, Type: op.Type, Operands: addrs, SourceRef: op.SourceRef}), nil

	case mir.OpEddsaSign:
		addrs, err := l.resolveAll(op.Operands, sc)
		if err != nil {
			return 0, err
		}
		return l.emit(Operation{Kind: EddsaSign, Type: op.Type, Operands: addrs, SourceRef: op.SourceRef}), nil

	case mir.OpInnerProduct:
		addrs, err := l.resolveAll(op.Operands, sc)
		if err != nil {
			return 0, err
		}
		return l.emit(Operation{Kind: InnerProduct, Type: op.Type, Operands: addrs, SourceRef: op.SourceRef}), nil

	case mir.OpMap:
		return l.lowerMap(op, sc)
	case mir.OpZip:
		return l.lowerZip(op, sc)
	case mir.OpReduce:
		return l.lowerReduce(op, sc)

	default:
		return 0, fmt.Errorf("unsupported mir operation kind %s", op.Kind)
	}
}

func (l *lowering) resolveAll(refs []mir.OperandRef, sc *scope) ([]Address, error) {
	out := make([]Address, len(refs))
	for i, ref := range refs {
		addr, err := l.resolve(ref, sc)
		if err != nil {
			return nil, err
		}
		out[i] = addr
	}
	return out, nil
}

func arrayShape(t nada.Type) (elem nada.Type, size int, ok bool) {
	if !t.IsCompound() {
		return nada.Type{}, 0, false
	}
	return *t.Compound.Element, t.Compound.Size, true
}

// inlineFunction lowers fn's body fresh, binding its parameters to
// paramAddrs, and returns the address of its declared result. Each call
// site gets its own copy of the body's operations: nothing is shared
// across array elements, so there is no aliasing between iterations.
func (l *lowering) inlineFunction(fn mir.Function, paramAddrs []Address) (Address, error) {
	sc := &scope{
		params:   make(map[uint64]Address, len(paramAddrs)),
		localOps: make(map[uint64]Address, len(fn.Body)),
	}
	for i, addr := range paramAddrs {
		sc.params[uint64(i)] = addr
	}
	for _, bodyOp := range fn.Body {
		addr, err := l.lowerOperation(bodyOp, sc)
		if err != nil {
			return 0, fmt.Errorf("inlining function %q: %w", fn.Name, err)
		}
		sc.localOps[bodyOp.ID] = addr
	}
	return l.resolve(fn.Result, sc)
}

func (l *lowering) lowerMap(op mir.Operation, sc *scope) (Address, error) {
	arrayAddr, err := l.resolve(op.Operands[0], sc)
	if err != nil {
		return 0, err
	}
	elemType, size, ok := arrayShape(l.addrType[arrayAddr])
	if !ok {
		return 0, fmt.Errorf("map: operand is not an array type")
	}
	fn, ok := l.mirProg.Functions[op.Function]
	if !ok {
		return 0, fmt.Errorf("map: unknown function %q", op.Function)
	}

	elemAddrs := make([]Address, size)
	for i := 0; i < size; i++ {
		getAddr := l.emit(Operation{Kind: Get, Type: elemType, Operands: []Address{arrayAddr}, SourceIndex: i})
		resultAddr, err := l.inlineFunction(fn, []Address{getAddr})
		if err != nil {
			return 0, fmt.Errorf("map element %d: %w", i, err)
		}
		elemAddrs[i] = resultAddr
	}
	return l.emit(Operation{Kind: New, Type: op.Type, Operands: elemAddrs, SourceRef: op.SourceRef}), nil
}

func (l *lowering) lowerZip(op mir.Operation, sc *scope) (Address, error) {
	leftAddr, err := l.resolve(op.Operands[0], sc)
	if err != nil {
		return 0, err
	}
	rightAddr, err := l.resolve(op.Operands[1], sc)
	if err != nil {
		return 0, err
	}
	leftElem, leftSize, ok := arrayShape(l.addrType[leftAddr])
	if !ok {
		return 0, fmt.Errorf("zip: left operand is not an array type")
	}
	rightElem, rightSize, ok := arrayShape(l.addrType[rightAddr])
	if !ok {
		return 0, fmt.Errorf("zip: right operand is not an array type")
	}
	if leftSize != rightSize {
		return 0, fmt.Errorf("zip: array size mismatch (%d vs %d)", leftSize, rightSize)
	}
	tupleType := nada.NewTuple(leftElem, rightElem)

	elemAddrs := make([]Address, leftSize)
	for i := 0; i < leftSize; i++ {
		l1 := l.emit(Operation{Kind: Get, Type: leftElem, Operands: []Address{leftAddr}, SourceIndex: i})
		r1 := l.emit(Operation{Kind: Get, Type: rightElem, Operands: []Address{rightAddr}, SourceIndex: i})
		elemAddrs[i] = l.emit(Operation{Kind: New, Type: tupleType, Operands: []Address{l1, r1}})
	}
	return l.emit(Operation{Kind: New, Type: op.Type, Operands: elemAddrs, SourceRef: op.SourceRef}), nil
}

func (l *lowering) lowerReduce(op mir.Operation, sc *scope) (Address, error) {
	arrayAddr, err := l.resolve(op.Operands[0], sc)
	if err != nil {
		return 0, err
	}
	acc, err := l.resolve(op.Operands[1], sc)
	if err != nil {
		return 0, err
	}
	elemType, size, ok := arrayShape(l.addrType[arrayAddr])
	if !ok {
		return 0, fmt.Errorf("reduce: operand is not an array type")
	}
	fn, ok := l.mirProg.Functions[op.Function]
	if !ok {
		return 0, fmt.Errorf("reduce: unknown function %q", op.Function)
	}

	for i := 0; i < size; i++ {
		elemAddr := l.emit(Operation{Kind: Get, Type: elemType, Operands: []Address{arrayAddr}, SourceIndex: i})
		acc, err = l.inlineFunction(fn, []Address{acc, elemAddr})
		if err != nil {
			return 0, fmt.Errorf("reduce element %d: %w", i, err)
		}
	}
	return acc, nil
}
