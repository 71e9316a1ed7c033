package bytecode_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nilmpc/coren/compiler/bytecode"
	"github.com/nilmpc/coren/compiler/mir"
	"github.com/nilmpc/coren/pkg/nada"
)

func secretInt() nada.Type { return nada.NewPrimitive(nada.Secret, nada.Integer) }

func TestLowerSimpleAddition(t *testing.T) {
	prog := &mir.Program{
		Parties: []mir.Party{{Name: "party1"}},
		Inputs: []mir.Input{
			{Name: "my_int1", Type: secretInt(), Party: 0},
			{Name: "my_int2", Type: secretInt(), Party: 0},
		},
		Operations: []mir.Operation{
			{ID: 0, Kind: mir.OpAdd, Type: secretInt(), Operands: []mir.OperandRef{mir.In(0), mir.In(1)}},
		},
		Outputs: []mir.Output{{Name: "my_output", Type: secretInt(), Party: 0, Operation: 0}},
	}

	out, err := bytecode.Lower(prog)
	require.NoError(t, err)
	require.Len(t, out.Outputs, 1)
	// Two Load ops (one per input) plus one Binary op.
	require.Len(t, out.Operations, 3)
	assert.Equal(t, bytecode.Load, out.Operations[0].Kind)
	assert.Equal(t, bytecode.Load, out.Operations[1].Kind)
	assert.Equal(t, bytecode.Binary, out.Operations[2].Kind)
	assert.Equal(t, bytecode.Add, out.Operations[2].BinaryOp)
	assert.Equal(t, out.Operations[2].Address, out.Outputs[0].Address)
}

func TestLowerReusesLoadsForRepeatedOperands(t *testing.T) {
	prog := &mir.Program{
		Inputs: []mir.Input{{Name: "x", Type: secretInt(), Party: 0}},
		Operations: []mir.Operation{
			{ID: 0, Kind: mir.OpAdd, Type: secretInt(), Operands: []mir.OperandRef{mir.In(0), mir.In(0)}},
		},
		Outputs: []mir.Output{{Name: "doubled", Type: secretInt(), Party: 0, Operation: 0}},
	}
	out, err := bytecode.Lower(prog)
	require.NoError(t, err)
	// One Load (deduplicated) plus one Binary op.
	require.Len(t, out.Operations, 2)
	assert.Equal(t, []bytecode.Address{0, 0}, out.Operations[1].Operands)
}

func TestLowerZipThenMap(t *testing.T) {
	elemType := secretInt()
	arrType, err := nada.NewArray(elemType, 3)
	require.NoError(t, err)
	tupleType := nada.NewTuple(elemType, elemType)
	zippedType, err := nada.NewArray(tupleType, 3)
	require.NoError(t, err)

	addPair := mir.Function{
		Name:       "add_pair",
		Parameters: []nada.Type{tupleType},
		Body: []mir.Operation{
			{ID: 0, Kind: mir.OpGet, Type: elemType, Operands: []mir.OperandRef{mir.In(0)}, Index: 0},
			{ID: 1, Kind: mir.OpGet, Type: elemType, Operands: []mir.OperandRef{mir.In(0)}, Index: 1},
			{ID: 2, Kind: mir.OpAdd, Type: elemType, Operands: []mir.OperandRef{mir.Op(0), mir.Op(1)}},
		},
		Result: mir.Op(2),
	}

	prog := &mir.Program{
		Inputs: []mir.Input{
			{Name: "left", Type: arrType, Party: 0},
			{Name: "right", Type: arrType, Party: 0},
		},
		Operations: []mir.Operation{
			{ID: 0, Kind: mir.OpZip, Type: zippedType, Operands: []mir.OperandRef{mir.In(0), mir.In(1)}},
			{ID: 1, Kind: mir.OpMap, Type: arrType, Operands: []mir.OperandRef{mir.Op(0)}, Function: "add_pair"},
		},
		Outputs:   []mir.Output{{Name: "sums", Type: arrType, Party: 0, Operation: 1}},
		Functions: map[string]mir.Function{"add_pair": addPair},
	}

	out, err := bytecode.Lower(prog)
	require.NoError(t, err)

	// Final op must be the outer array New of the Map.
	last := out.Operations[len(out.Operations)-1]
	assert.Equal(t, bytecode.New, last.Kind)
	assert.Len(t, last.Operands, 3)
	assert.Equal(t, last.Address, out.Outputs[0].Address)

	// Every kind present confirms the zip+map unrolling actually ran: two
	// Loads for the inputs, per-element (Get,Get,New tuple) x3 plus one
	// outer array New for zip, then per-element (Get outer, Get,Get,Add)
	// x3 for the inlined map function plus its own outer array New.
	counts := map[bytecode.OpKind]int{}
	for _, o := range out.Operations {
		counts[o.Kind]++
	}
	assert.Equal(t, 2, counts[bytecode.Load])
	assert.Equal(t, 3, counts[bytecode.Binary]) // one Add per inlined function call
	assert.Equal(t, 5, counts[bytecode.New])    // 3 zip tuples + 1 zip array + 1 map array
	assert.Equal(t, 15, counts[bytecode.Get])   // zip: 3*2; map: 3*(1 outer + 2 inner)
}

func TestLowerReduceSum(t *testing.T) {
	elemType := secretInt()
	arrType, err := nada.NewArray(elemType, 3)
	require.NoError(t, err)

	sumFn := mir.Function{
		Name:       "sum_step",
		Parameters: []nada.Type{elemType, elemType},
		Body: []mir.Operation{
			{ID: 0, Kind: mir.OpAdd, Type: elemType, Operands: []mir.OperandRef{mir.In(0), mir.In(1)}},
		},
		Result: mir.Op(0),
	}

	prog := &mir.Program{
		Inputs:   []mir.Input{{Name: "arr", Type: arrType, Party: 0}},
		Literals: []mir.Literal{{Value: "0", Type: elemType}},
		Operations: []mir.Operation{
			{ID: 0, Kind: mir.OpReduce, Type: elemType, Operands: []mir.OperandRef{mir.In(0), mir.Lit(0)}, Function: "sum_step"},
		},
		Outputs:   []mir.Output{{Name: "total", Type: elemType, Party: 0, Operation: 0}},
		Functions: map[string]mir.Function{"sum_step": sumFn},
	}

	out, err := bytecode.Lower(prog)
	require.NoError(t, err)
	counts := map[bytecode.OpKind]int{}
	for _, o := range out.Operations {
		counts[o.Kind]++
	}
	assert.Equal(t, 3, counts[bytecode.Binary]) // one Add per array element
	assert.Equal(t, 1, counts[bytecode.Load])   // literal initial accumulator
	assert.Equal(t, 3, counts[bytecode.Get])    // one per array element
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	prog := &mir.Program{
		Inputs: []mir.Input{{Name: "x", Type: secretInt(), Party: 0}},
		Operations: []mir.Operation{
			{ID: 0, Kind: mir.OpNeg, Type: secretInt(), Operands: []mir.OperandRef{mir.In(0)}},
		},
		Outputs: []mir.Output{{Name: "negated", Type: secretInt(), Party: 0, Operation: 0}},
	}
	out, err := bytecode.Lower(prog)
	require.NoError(t, err)

	data, err := out.Encode()
	require.NoError(t, err)

	decoded, err := bytecode.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, out.Outputs[0].Name, decoded.Outputs[0].Name)
	assert.Len(t, decoded.Operations, len(out.Operations))
	assert.Equal(t, bytecode.Unary, decoded.Operations[len(decoded.Operations)-1].Kind)
}
