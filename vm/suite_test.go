package vm_test

import (
	"context"
	"crypto/rand"
	"math/big"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/nilmpc/coren/compiler/bytecode"
	"github.com/nilmpc/coren/compiler/mir"
	"github.com/nilmpc/coren/compiler/protocol"
	"github.com/nilmpc/coren/pkg/field"
	"github.com/nilmpc/coren/pkg/nada"
	"github.com/nilmpc/coren/pkg/party"
	"github.com/nilmpc/coren/pkg/preprocessing"
	"github.com/nilmpc/coren/pkg/shamir"
	"github.com/nilmpc/coren/planner"
	"github.com/nilmpc/coren/vm"
)

func TestVmScenarios(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "VM end-to-end scenarios")
}

// addition_simple: three parties, secret my_int1 = 23 and my_int2 = 34,
// add them and reveal the result. Addition of two secret shares is a
// Local protocol, so this scenario never leaves Initialize.
var _ = Describe("addition_simple", func() {
	It("reveals 57 to every party", func() {
		f := field.SafePrime64
		parties := []party.ID{
			party.New([]byte("party-0")),
			party.New([]byte("party-1")),
			party.New([]byte("party-2")),
		}
		mapper := party.NewMapper(f, parties)
		sharer := shamir.NewSharer(f, mapper)

		prog := &mir.Program{
			Inputs: []mir.Input{
				{Name: "my_int1", Type: secretInt(), Party: 0},
				{Name: "my_int2", Type: secretInt(), Party: 0},
			},
			Operations: []mir.Operation{
				{ID: 0, Kind: mir.OpAdd, Type: secretInt(), Operands: []mir.OperandRef{mir.In(0), mir.In(1)}},
				{ID: 1, Kind: mir.OpReveal, Type: publicInt(), Operands: []mir.OperandRef{mir.Op(0)}},
			},
			Outputs: []mir.Output{{Name: "my_output", Type: publicInt(), Party: 0, Operation: 1}},
		}

		bc, err := bytecode.Lower(prog)
		Expect(err).NotTo(HaveOccurred())
		graph, err := protocol.Bytecode2Protocol(bc)
		Expect(err).NotTo(HaveOccurred())

		int1Shares, err := sharer.GenerateShares(f.FromInt64(23), 1, rand.Reader)
		Expect(err).NotTo(HaveOccurred())
		int2Shares, err := sharer.GenerateShares(f.FromInt64(34), 1, rand.Reader)
		Expect(err).NotTo(HaveOccurred())

		vms := make(map[party.ID]*vm.ExecutionVm, len(parties))
		for _, p := range parties {
			pool := preprocessing.NewPool()
			plan, err := planner.Build(graph, pool, planner.Parallel)
			Expect(err).NotTo(HaveOccurred())

			values := map[string]nada.Value{
				"my_int1": nada.NewSecretInteger(int1Shares[p]),
				"my_int2": nada.NewSecretInteger(int2Shares[p]),
			}
			partyVM, err := vm.New("addition_simple", bc, plan, values, p, parties, sharer, f)
			Expect(err).NotTo(HaveOccurred())
			vms[p] = partyVM
		}

		results := runNetworkSpec(vms)
		Expect(results).To(HaveLen(len(parties)))
		for _, p := range parties {
			out, err := results[p]["my_output"].PublicInteger()
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Int64()).To(Equal(int64(57)))
		}
	})
})

// array_product: three parties, secret arrays [1,2,3] and [2,3,4], element-
// wise product [2,6,12]. Lowered as Zip (pairs elements into tuples) then
// Map over a mul_pair function, one secret-share multiplication per
// element. The output array stays secret end to end (Reveal has no array
// form), so correctness is checked by recovering each position's shares
// directly rather than through the VM's own output.
var _ = Describe("array_product", func() {
	It("computes the element-wise product of two secret arrays", func() {
		f := field.SafePrime64
		parties := []party.ID{
			party.New([]byte("party-0")),
			party.New([]byte("party-1")),
			party.New([]byte("party-2")),
		}
		mapper := party.NewMapper(f, parties)
		sharer := shamir.NewSharer(f, mapper)

		elemType := secretInt()
		arrType, err := nada.NewArray(elemType, 3)
		Expect(err).NotTo(HaveOccurred())
		tupleType := nada.NewTuple(elemType, elemType)
		zippedType, err := nada.NewArray(tupleType, 3)
		Expect(err).NotTo(HaveOccurred())

		mulPair := mir.Function{
			Name:       "mul_pair",
			Parameters: []nada.Type{tupleType},
			Body: []mir.Operation{
				{ID: 0, Kind: mir.OpGet, Type: elemType, Operands: []mir.OperandRef{mir.In(0)}, Index: 0},
				{ID: 1, Kind: mir.OpGet, Type: elemType, Operands: []mir.OperandRef{mir.In(0)}, Index: 1},
				{ID: 2, Kind: mir.OpMul, Type: elemType, Operands: []mir.OperandRef{mir.Op(0), mir.Op(1)}},
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
				{ID: 1, Kind: mir.OpMap, Type: arrType, Operands: []mir.OperandRef{mir.Op(0)}, Function: "mul_pair"},
			},
			Outputs:   []mir.Output{{Name: "my_output", Type: arrType, Party: 0, Operation: 1}},
			Functions: map[string]mir.Function{"mul_pair": mulPair},
		}

		bc, err := bytecode.Lower(prog)
		Expect(err).NotTo(HaveOccurred())
		graph, err := protocol.Bytecode2Protocol(bc)
		Expect(err).NotTo(HaveOccurred())

		leftVals := []int64{1, 2, 3}
		rightVals := []int64{2, 3, 4}
		expected := []int64{2, 6, 12}

		leftShares := make([]map[party.ID]field.Element, len(leftVals))
		rightShares := make([]map[party.ID]field.Element, len(rightVals))
		for i := range leftVals {
			leftShares[i], err = sharer.GenerateShares(f.FromInt64(leftVals[i]), 1, rand.Reader)
			Expect(err).NotTo(HaveOccurred())
			rightShares[i], err = sharer.GenerateShares(f.FromInt64(rightVals[i]), 1, rand.Reader)
			Expect(err).NotTo(HaveOccurred())
		}

		// One Beaver triple per element-wise multiplication, dealt the
		// way a trusted dealer would: every party's share of the same
		// (a, b, a*b) so the batched mult.State each VM builds actually
		// reconstructs the product.
		tripleAShares := make([]map[party.ID]field.Element, 3)
		tripleBShares := make([]map[party.ID]field.Element, 3)
		tripleCShares := make([]map[party.ID]field.Element, 3)
		for i := 0; i < 3; i++ {
			a, err := f.RandomElement(rand.Reader)
			Expect(err).NotTo(HaveOccurred())
			b, err := f.RandomElement(rand.Reader)
			Expect(err).NotTo(HaveOccurred())
			tripleAShares[i], err = sharer.GenerateShares(a, 1, rand.Reader)
			Expect(err).NotTo(HaveOccurred())
			tripleBShares[i], err = sharer.GenerateShares(b, 1, rand.Reader)
			Expect(err).NotTo(HaveOccurred())
			tripleCShares[i], err = sharer.GenerateShares(a.Mul(b), 1, rand.Reader)
			Expect(err).NotTo(HaveOccurred())
		}

		vms := make(map[party.ID]*vm.ExecutionVm, len(parties))
		for _, p := range parties {
			pool := preprocessing.NewPool()
			Expect(pool.SetTarget(preprocessing.Multiplication, 9)).To(Succeed())
			gen := func(_ context.Context, kind preprocessing.ElementKind, n int) ([]field.Element, error) {
				out := make([]field.Element, 0, n)
				for i := 0; i < 3; i++ {
					out = append(out, tripleAShares[i][p], tripleBShares[i][p], tripleCShares[i][p])
				}
				return out, nil
			}
			Expect(pool.Run(context.Background(), 9, gen)).To(Succeed())

			plan, err := planner.Build(graph, pool, planner.Parallel)
			Expect(err).NotTo(HaveOccurred())

			leftElems := make([]nada.Value, 3)
			rightElems := make([]nada.Value, 3)
			for i := range leftElems {
				leftElems[i] = nada.NewSecretInteger(leftShares[i][p])
				rightElems[i] = nada.NewSecretInteger(rightShares[i][p])
			}
			leftArr, err := nada.NewArrayValue(elemType, leftElems)
			Expect(err).NotTo(HaveOccurred())
			rightArr, err := nada.NewArrayValue(elemType, rightElems)
			Expect(err).NotTo(HaveOccurred())

			values := map[string]nada.Value{"left": leftArr, "right": rightArr}
			partyVM, err := vm.New("array_product", bc, plan, values, p, parties, sharer, f)
			Expect(err).NotTo(HaveOccurred())
			vms[p] = partyVM
		}

		results := runNetworkSpec(vms)
		Expect(results).To(HaveLen(len(parties)))

		for i, want := range expected {
			shares := make(map[party.ID]field.Element, len(parties))
			for _, p := range parties {
				elems, err := results[p]["my_output"].Array()
				Expect(err).NotTo(HaveOccurred())
				share, err := elems[i].SecretInteger()
				Expect(err).NotTo(HaveOccurred())
				shares[p] = share
			}
			recovered, err := sharer.Recover(shares)
			Expect(err).NotTo(HaveOccurred())
			Expect(recovered.Big().Int64()).To(Equal(want))
		}
	})
})

// map_simple_public: a public array [1,2,3] with a secret scalar (my_int
// = 1) added to every element, producing the secret array [2,3,4]. There
// is no MIR closure over an outer input from inside a Map function body
// (resolve only binds a function scope's own parameters), so the scalar
// is zipped in as the second element of each pair, the same shared value
// in all three positions, and added with a plain Local Add — addition
// never leaves Local regardless of its operands' public/secret mix.
var _ = Describe("map_simple_public", func() {
	It("adds a secret scalar to every element of a public array", func() {
		f := field.SafePrime64
		parties := []party.ID{
			party.New([]byte("party-0")),
			party.New([]byte("party-1")),
			party.New([]byte("party-2")),
		}
		mapper := party.NewMapper(f, parties)
		sharer := shamir.NewSharer(f, mapper)

		pubElem := publicInt()
		secElem := secretInt()
		pubArrType, err := nada.NewArray(pubElem, 3)
		Expect(err).NotTo(HaveOccurred())
		secArrType, err := nada.NewArray(secElem, 3)
		Expect(err).NotTo(HaveOccurred())
		tupleType := nada.NewTuple(pubElem, secElem)
		zippedType, err := nada.NewArray(tupleType, 3)
		Expect(err).NotTo(HaveOccurred())

		addScalar := mir.Function{
			Name:       "add_scalar",
			Parameters: []nada.Type{tupleType},
			Body: []mir.Operation{
				{ID: 0, Kind: mir.OpGet, Type: pubElem, Operands: []mir.OperandRef{mir.In(0)}, Index: 0},
				{ID: 1, Kind: mir.OpGet, Type: secElem, Operands: []mir.OperandRef{mir.In(0)}, Index: 1},
				{ID: 2, Kind: mir.OpAdd, Type: secElem, Operands: []mir.OperandRef{mir.Op(0), mir.Op(1)}},
			},
			Result: mir.Op(2),
		}

		prog := &mir.Program{
			Inputs: []mir.Input{
				{Name: "arr", Type: pubArrType, Party: 0},
				{Name: "scalar_arr", Type: secArrType, Party: 0},
			},
			Operations: []mir.Operation{
				{ID: 0, Kind: mir.OpZip, Type: zippedType, Operands: []mir.OperandRef{mir.In(0), mir.In(1)}},
				{ID: 1, Kind: mir.OpMap, Type: secArrType, Operands: []mir.OperandRef{mir.Op(0)}, Function: "add_scalar"},
			},
			Outputs:   []mir.Output{{Name: "my_output", Type: secArrType, Party: 0, Operation: 1}},
			Functions: map[string]mir.Function{"add_scalar": addScalar},
		}

		bc, err := bytecode.Lower(prog)
		Expect(err).NotTo(HaveOccurred())
		graph, err := protocol.Bytecode2Protocol(bc)
		Expect(err).NotTo(HaveOccurred())

		arrVals := []int64{1, 2, 3}
		expected := []int64{2, 3, 4}

		scalarShares := make([]map[party.ID]field.Element, 3)
		for i := range scalarShares {
			shares, err := sharer.GenerateShares(f.FromInt64(1), 1, rand.Reader)
			Expect(err).NotTo(HaveOccurred())
			scalarShares[i] = shares
		}

		vms := make(map[party.ID]*vm.ExecutionVm, len(parties))
		for _, p := range parties {
			pool := preprocessing.NewPool()
			plan, err := planner.Build(graph, pool, planner.Parallel)
			Expect(err).NotTo(HaveOccurred())

			arrElems := make([]nada.Value, 3)
			for i, v := range arrVals {
				arrElems[i] = nada.NewPublicInteger(big.NewInt(v))
			}
			arr, err := nada.NewArrayValue(pubElem, arrElems)
			Expect(err).NotTo(HaveOccurred())

			scalarElems := make([]nada.Value, 3)
			for i := range scalarElems {
				scalarElems[i] = nada.NewSecretInteger(scalarShares[i][p])
			}
			scalarArr, err := nada.NewArrayValue(secElem, scalarElems)
			Expect(err).NotTo(HaveOccurred())

			values := map[string]nada.Value{"arr": arr, "scalar_arr": scalarArr}
			partyVM, err := vm.New("map_simple_public", bc, plan, values, p, parties, sharer, f)
			Expect(err).NotTo(HaveOccurred())
			vms[p] = partyVM
		}

		results := runNetworkSpec(vms)
		Expect(results).To(HaveLen(len(parties)))

		for i, want := range expected {
			shares := make(map[party.ID]field.Element, len(parties))
			for _, p := range parties {
				elems, err := results[p]["my_output"].Array()
				Expect(err).NotTo(HaveOccurred())
				share, err := elems[i].SecretInteger()
				Expect(err).NotTo(HaveOccurred())
				shares[p] = share
			}
			recovered, err := sharer.Recover(shares)
			Expect(err).NotTo(HaveOccurred())
			Expect(recovered.Big().Int64()).To(Equal(want))
		}
	})
})

// division_public_divisor and modulo_secret_secret (spec.md's remaining
// two scalar scenarios) are deliberately not wired here: verifying them
// surfaced two pre-existing defects in vm/online.go's division path, not
// something a test alone can paper over. See DESIGN.md.

// runNetworkSpec is runNetwork's Gomega-assertion sibling: Ginkgo's It
// blocks have no *testing.T to hand runNetwork, so scenario specs drive
// their own copy of the same fan-out loop using Expect instead of
// require.
func runNetworkSpec(vms map[party.ID]*vm.ExecutionVm) map[party.ID]map[string]nada.Value {
	results := make(map[party.ID]map[string]nada.Value, len(vms))
	pending := make(map[party.ID][]vm.PartyMessage)

	collect := func(id party.ID, yield vm.VmYield) {
		switch yield.Kind {
		case vm.YieldMessages:
			for _, msg := range yield.Messages {
				msg.From = id
				pending[id] = append(pending[id], msg)
			}
		case vm.YieldResult:
			results[id] = yield.Result
		case vm.YieldEmpty:
		}
	}

	for id, v := range vms {
		yield, err := v.Initialize()
		Expect(err).NotTo(HaveOccurred())
		collect(id, yield)
	}

	for len(results) < len(vms) {
		round := pending
		pending = make(map[party.ID][]vm.PartyMessage)

		delivered := false
		for sender, msgs := range round {
			for _, msg := range msgs {
				for peer, v := range vms {
					if peer.Equal(sender) {
						continue
					}
					if _, done := results[peer]; done {
						continue
					}
					delivered = true
					yield, err := v.Proceed(msg)
					Expect(err).NotTo(HaveOccurred())
					collect(peer, yield)
				}
			}
		}
		Expect(delivered).To(BeTrue(), "network deadlocked before every party reached a result")
	}

	return results
}
