package vm_test

import (
	"context"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

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

func secretInt() nada.Type { return nada.NewPrimitive(nada.Secret, nada.Integer) }
func publicInt() nada.Type { return nada.NewPrimitive(nada.Public, nada.Integer) }

func buildGraph(t *testing.T, prog *mir.Program) (*bytecode.Program, *protocol.Graph) {
	t.Helper()
	bc, err := bytecode.Lower(prog)
	require.NoError(t, err)
	graph, err := protocol.Bytecode2Protocol(bc)
	require.NoError(t, err)
	return bc, graph
}

// TestLocalAdditionYieldsResultWithoutAnOnlineRound exercises a single
// party's view of a purely Local program: Add on two secret shares never
// needs a synchronization round, so Initialize must go straight to
// YieldResult.
func TestLocalAdditionYieldsResultWithoutAnOnlineRound(t *testing.T) {
	prog := &mir.Program{
		Inputs: []mir.Input{
			{Name: "a", Type: secretInt(), Party: 0},
			{Name: "b", Type: secretInt(), Party: 0},
		},
		Operations: []mir.Operation{
			{ID: 0, Kind: mir.OpAdd, Type: secretInt(), Operands: []mir.OperandRef{mir.In(0), mir.In(1)}},
		},
		Outputs: []mir.Output{{Name: "sum", Type: secretInt(), Party: 0, Operation: 0}},
	}
	bc, graph := buildGraph(t, prog)

	pool := preprocessing.NewPool()
	plan, err := planner.Build(graph, pool, planner.Parallel)
	require.NoError(t, err)

	f := field.SafePrime64
	self := party.New([]byte("party-0"))
	mapper := party.NewMapper(f, []party.ID{self})
	sharer := shamir.NewSharer(f, mapper)

	values := map[string]nada.Value{
		"a": nada.NewSecretInteger(f.FromInt64(7)),
		"b": nada.NewSecretInteger(f.FromInt64(35)),
	}

	v, err := vm.New("local-add", bc, plan, values, self, []party.ID{self}, sharer, f)
	require.NoError(t, err)

	yield, err := v.Initialize()
	require.NoError(t, err)
	require.Equal(t, vm.YieldResult, yield.Kind)

	sumShare, err := yield.Result["sum"].SecretInteger()
	require.NoError(t, err)
	require.True(t, sumShare.Equal(f.FromInt64(42)))
}

// partyTriple is one party's correlated slice of a single Beaver triple.
type partyTriple struct {
	a, b, c field.Element
}

// shareAcross splits secret into a degree-1 Shamir sharing across parties.
func shareAcross(t *testing.T, sharer *shamir.Sharer, secret field.Element, parties []party.ID) map[party.ID]field.Element {
	t.Helper()
	shares, err := sharer.GenerateShares(secret, 1, rand.Reader)
	require.NoError(t, err)
	return shares
}

// TestShareMultiplicationAndRevealAcrossThreeParties drives three
// ExecutionVm instances, one per party, through a complete secret*secret
// multiplication followed by a Reveal, routing every Online message
// between them the way a host network would, and checks every party
// recovers the same plaintext product.
func TestShareMultiplicationAndRevealAcrossThreeParties(t *testing.T) {
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
			{Name: "a", Type: secretInt(), Party: 0},
			{Name: "b", Type: secretInt(), Party: 0},
		},
		Operations: []mir.Operation{
			{ID: 0, Kind: mir.OpMul, Type: secretInt(), Operands: []mir.OperandRef{mir.In(0), mir.In(1)}},
			{ID: 1, Kind: mir.OpReveal, Type: publicInt(), Operands: []mir.OperandRef{mir.Op(0)}},
		},
		Outputs: []mir.Output{{Name: "product", Type: publicInt(), Party: 0, Operation: 1}},
	}
	bc, graph := buildGraph(t, prog)

	const aVal, bVal = int64(6), int64(7)
	aShares := shareAcross(t, sharer, f.FromInt64(aVal), parties)
	bShares := shareAcross(t, sharer, f.FromInt64(bVal), parties)

	tripleA := f.FromInt64(11)
	tripleB := f.FromInt64(13)
	tripleC := tripleA.Mul(tripleB)
	tripleAShares := shareAcross(t, sharer, tripleA, parties)
	tripleBShares := shareAcross(t, sharer, tripleB, parties)
	tripleCShares := shareAcross(t, sharer, tripleC, parties)

	vms := make(map[party.ID]*vm.ExecutionVm, len(parties))
	for _, p := range parties {
		pool := preprocessing.NewPool()
		require.NoError(t, pool.SetTarget(preprocessing.Multiplication, 3))
		triple := partyTriple{a: tripleAShares[p], b: tripleBShares[p], c: tripleCShares[p]}
		gen := func(_ context.Context, kind preprocessing.ElementKind, n int) ([]field.Element, error) {
			return []field.Element{triple.a, triple.b, triple.c}, nil
		}
		require.NoError(t, pool.Run(context.Background(), 3, gen))

		plan, err := planner.Build(graph, pool, planner.Parallel)
		require.NoError(t, err)

		values := map[string]nada.Value{
			"a": nada.NewSecretInteger(aShares[p]),
			"b": nada.NewSecretInteger(bShares[p]),
		}

		partyVM, err := vm.New("share-mul-reveal", bc, plan, values, p, parties, sharer, f)
		require.NoError(t, err)
		vms[p] = partyVM
	}

	results := runNetwork(t, vms)
	require.Len(t, results, len(parties))

	for _, p := range parties {
		product, err := results[p]["product"].PublicInteger()
		require.NoError(t, err)
		require.Equal(t, aVal*bVal, product.Int64())
	}
}

// runNetwork drives every ExecutionVm to completion by round-robin
// delivering each party's outgoing messages to every other party, mirroring
// how a real cluster's host would fan out broadcasts.
func runNetwork(t *testing.T, vms map[party.ID]*vm.ExecutionVm) map[party.ID]map[string]nada.Value {
	t.Helper()

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
		require.NoError(t, err)
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
					require.NoError(t, err)
					collect(peer, yield)
				}
			}
		}
		require.True(t, delivered, "network deadlocked before every party reached a result")
	}

	return results
}
