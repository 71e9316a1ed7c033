package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/nilmpc/coren/pkg/field"
	"github.com/nilmpc/coren/pkg/party"
	"github.com/nilmpc/coren/pkg/preprocessing"
	"github.com/nilmpc/coren/pkg/shamir"
	"github.com/nilmpc/coren/planner"
	"github.com/nilmpc/coren/protocols/division"
)

// selectPrime resolves the --prime flag to a concrete field, the same
// three sizes pkg/field ships as named constants.
func selectPrime(name string) (*field.SafePrime, error) {
	switch name {
	case "64":
		return field.SafePrime64, nil
	case "128":
		return field.SafePrime128, nil
	case "256":
		return field.SafePrime256, nil
	default:
		return nil, fmt.Errorf("unknown --prime %q (want 64, 128, or 256)", name)
	}
}

// selectStrategy resolves the --strategy flag to a planner.Strategy.
func selectStrategy(name string) (planner.Strategy, error) {
	switch name {
	case "parallel", "":
		return planner.Parallel, nil
	case "sequential":
		return planner.Sequential, nil
	default:
		return 0, fmt.Errorf("unknown --strategy %q (want parallel or sequential)", name)
	}
}

// localCluster is a simulated set of parties sharing a single field and
// sharer, the local-test-cluster setup every subcommand needs.
type localCluster struct {
	field   *field.SafePrime
	parties []party.ID
	mapper  *party.Mapper
	sharer  *shamir.Sharer
}

func newLocalCluster(f *field.SafePrime, n int) *localCluster {
	parties := make([]party.ID, n)
	for i := 0; i < n; i++ {
		parties[i] = party.New([]byte{byte('a' + i)})
	}
	party.Sort(parties)
	mapper := party.NewMapper(f, parties)
	return &localCluster{
		field:   f,
		parties: parties,
		mapper:  mapper,
		sharer:  shamir.NewSharer(f, mapper),
	}
}

// allElementKinds mirrors pkg/preprocessing's unexported allKinds: the
// full set of element kinds a plan may draw from.
var allElementKinds = []preprocessing.ElementKind{
	preprocessing.Compare,
	preprocessing.DivisionSecretDivisor,
	preprocessing.EqualityPublicOutput,
	preprocessing.EqualitySecretOutput,
	preprocessing.Modulo,
	preprocessing.TruncPr,
	preprocessing.Trunc,
	preprocessing.RandomInteger,
	preprocessing.RandomBoolean,
	preprocessing.Multiplication,
}

// correlatedUnit builds one logical unit of a correlated kind (a Beaver
// triple, a masking pair, ...) as a per-party share map: every party's
// slice at index i is that party's share of the SAME underlying secret(s),
// which independent per-party sampling cannot guarantee.
type correlatedUnit func(c *localCluster) (map[party.ID][]field.Element, error)

// correlatedKind pairs one vm/online.go-consumed element kind with the
// width (elements per unit, mirroring planner.elementsPerUnit) and
// generator its trusted-dealer construction needs.
type correlatedKind struct {
	kind  preprocessing.ElementKind
	width int
	build correlatedUnit
}

func shareScalar(c *localCluster, secret field.Element) (map[party.ID]field.Element, error) {
	return c.sharer.GenerateShares(secret, degree, rand.Reader)
}

// tripleUnit deals one Beaver triple (a, b, a*b), the same construction
// protocols/threshold's GenerateAuxInfoTrustedDealer uses to bootstrap
// signing triples.
func tripleUnit(c *localCluster) (map[party.ID][]field.Element, error) {
	a, err := c.field.RandomElement(rand.Reader)
	if err != nil {
		return nil, err
	}
	b, err := c.field.RandomElement(rand.Reader)
	if err != nil {
		return nil, err
	}
	aShares, err := shareScalar(c, a)
	if err != nil {
		return nil, err
	}
	bShares, err := shareScalar(c, b)
	if err != nil {
		return nil, err
	}
	abShares, err := shareScalar(c, a.Mul(b))
	if err != nil {
		return nil, err
	}
	out := make(map[party.ID][]field.Element, len(c.parties))
	for _, p := range c.parties {
		out[p] = []field.Element{aShares[p], bShares[p], abShares[p]}
	}
	return out, nil
}

// nonzeroElement draws a uniformly random nonzero field element, retrying
// on the negligible-probability zero draw.
func nonzeroElement(c *localCluster) (field.Element, error) {
	for {
		e, err := c.field.RandomElement(rand.Reader)
		if err != nil {
			return field.Element{}, err
		}
		if !e.IsZero() {
			return e, nil
		}
	}
}

// singleMaskUnit deals one invertible random mask, shared once: the
// DivisionSecretDivisor reservation consumed by the secret-divisor
// Div/Mod RAN-INV-style reciprocal masking.
func singleMaskUnit(c *localCluster) (map[party.ID][]field.Element, error) {
	r, err := nonzeroElement(c)
	if err != nil {
		return nil, err
	}
	rShares, err := shareScalar(c, r)
	if err != nil {
		return nil, err
	}
	out := make(map[party.ID][]field.Element, len(c.parties))
	for _, p := range c.parties {
		out[p] = []field.Element{rShares[p]}
	}
	return out, nil
}

// maskingPairUnit deals one (r, rHigh) pair for the masked-reveal +
// TruncPR construction shared by comparisons, public-divisor division and
// modulo, and the two legs of a secret-output equality: rHigh and rLow are
// drawn independently, then r = rHigh<<DefaultPrecisionBits + rLow is
// shared alongside rHigh itself, so TruncPR's high-half subtraction lines
// up with what was actually masked into the revealed value.
func maskingPairUnit(c *localCluster) (map[party.ID][]field.Element, error) {
	rLow, err := c.field.RandomElement(rand.Reader)
	if err != nil {
		return nil, err
	}
	rHigh, err := c.field.RandomElement(rand.Reader)
	if err != nil {
		return nil, err
	}
	r := rHigh.Mul(c.field.FromUint64(1 << division.DefaultPrecisionBits)).Add(rLow)
	rShares, err := shareScalar(c, r)
	if err != nil {
		return nil, err
	}
	rHighShares, err := shareScalar(c, rHigh)
	if err != nil {
		return nil, err
	}
	out := make(map[party.ID][]field.Element, len(c.parties))
	for _, p := range c.parties {
		out[p] = []field.Element{rShares[p], rHighShares[p]}
	}
	return out, nil
}

// equalityPublicUnit deals the EqualityPublicOutput bundle vm/online.go
// expects: a nonzero random mask, then an embedded Beaver triple for the
// Online r*(x-y) multiplication.
func equalityPublicUnit(c *localCluster) (map[party.ID][]field.Element, error) {
	mask, err := singleMaskUnit(c)
	if err != nil {
		return nil, err
	}
	triple, err := tripleUnit(c)
	if err != nil {
		return nil, err
	}
	out := make(map[party.ID][]field.Element, len(c.parties))
	for _, p := range c.parties {
		out[p] = append(append([]field.Element{}, mask[p]...), triple[p]...)
	}
	return out, nil
}

// equalitySecretUnit deals the EqualitySecretOutput bundle: two masking
// pairs (one per comparison leg, x<y and y<x) followed by an embedded
// triple for the final AND of their negations.
func equalitySecretUnit(c *localCluster) (map[party.ID][]field.Element, error) {
	pair1, err := maskingPairUnit(c)
	if err != nil {
		return nil, err
	}
	pair2, err := maskingPairUnit(c)
	if err != nil {
		return nil, err
	}
	triple, err := tripleUnit(c)
	if err != nil {
		return nil, err
	}
	out := make(map[party.ID][]field.Element, len(c.parties))
	for _, p := range c.parties {
		bundle := append([]field.Element{}, pair1[p]...)
		bundle = append(bundle, pair2[p]...)
		bundle = append(bundle, triple[p]...)
		out[p] = bundle
	}
	return out, nil
}

var correlatedKinds = []correlatedKind{
	{preprocessing.Multiplication, 3, tripleUnit},
	{preprocessing.Compare, 2, maskingPairUnit},
	{preprocessing.TruncPr, 2, maskingPairUnit},
	{preprocessing.Modulo, 2, maskingPairUnit},
	{preprocessing.DivisionSecretDivisor, 1, singleMaskUnit},
	{preprocessing.EqualityPublicOutput, 4, equalityPublicUnit},
	{preprocessing.EqualitySecretOutput, 7, equalitySecretUnit},
}

// roundUp rounds target up to the nearest multiple of width.
func roundUp(target uint64, width int) uint64 {
	w := uint64(width)
	if rem := target % w; rem != 0 {
		target += w - rem
	}
	return target
}

// correlatedBuffer holds one kind's full dealer output, read out
// party-by-party, unit-by-unit, as Pool.Run's Generator calls arrive.
type correlatedBuffer struct {
	mu     sync.Mutex
	shares map[party.ID][]field.Element // flattened, width elements per unit
	cursor map[party.ID]int
}

// dealCorrelated runs every correlatedKind's dealer up front, before any
// party's Pool.Run is invoked: a production deployment replaces this with
// an offline MPC preprocessing protocol, but the local simulated cluster
// has no such counterpart, so one dealer samples every secret in the
// clear and Shamir-shares it across parties — the same trusted-dealer
// shape protocols/threshold's GenerateAuxInfoTrustedDealer uses. Dealing
// everything before any Run call (rather than lazily inside a Generator)
// is what guarantees two different parties' i-th unit of a kind are
// shares of the same secret, since Pool.Run fans a kind's generation out
// across parties sequentially and calls a fresh Generator closure each
// time; independent per-call sampling would otherwise silently break
// Shamir reconstruction for every kind it touches.
func dealCorrelated(c *localCluster, target uint64) (map[preprocessing.ElementKind]*correlatedBuffer, error) {
	buffers := make(map[preprocessing.ElementKind]*correlatedBuffer, len(correlatedKinds))
	for _, ck := range correlatedKinds {
		rounded := roundUp(target, ck.width)
		units := rounded / uint64(ck.width)
		shares := make(map[party.ID][]field.Element, len(c.parties))
		for _, p := range c.parties {
			shares[p] = make([]field.Element, 0, rounded)
		}
		for i := uint64(0); i < units; i++ {
			unit, err := ck.build(c)
			if err != nil {
				return nil, fmt.Errorf("dealing %s unit %d: %w", ck.kind, i, err)
			}
			for _, p := range c.parties {
				shares[p] = append(shares[p], unit[p]...)
			}
		}
		buffers[ck.kind] = &correlatedBuffer{shares: shares, cursor: make(map[party.ID]int, len(c.parties))}
	}
	return buffers, nil
}

func (b *correlatedBuffer) take(p party.ID, n int) ([]field.Element, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	start := b.cursor[p]
	if start+n > len(b.shares[p]) {
		return nil, fmt.Errorf("correlated buffer exhausted for party %s: want %d more, have %d", p, n, len(b.shares[p])-start)
	}
	b.cursor[p] = start + n
	return b.shares[p][start : start+n], nil
}

// fillPreprocessingPools builds one preprocessing.Pool per party, filled
// by a trusted dealer. Every kind vm/online.go actually drives
// (Multiplication, Compare, TruncPr, Modulo, DivisionSecretDivisor,
// EqualityPublicOutput, EqualitySecretOutput) is dealt correlated shares
// up front via dealCorrelated; the remaining kinds (Trunc, RandomInteger,
// RandomBoolean) are not yet consumed by any Online protocol, so
// independent per-party randomness remains a harmless placeholder for
// them.
func fillPreprocessingPools(c *localCluster, target uint64) (map[party.ID]*preprocessing.Pool, error) {
	pools := make(map[party.ID]*preprocessing.Pool, len(c.parties))
	for _, p := range c.parties {
		pools[p] = preprocessing.NewPool()
	}

	widthOf := func(kind preprocessing.ElementKind) int {
		for _, ck := range correlatedKinds {
			if ck.kind == kind {
				return ck.width
			}
		}
		return 1
	}
	for _, p := range c.parties {
		for _, kind := range allElementKinds {
			if err := pools[p].SetTarget(kind, roundUp(target, widthOf(kind))); err != nil {
				return nil, err
			}
		}
	}

	buffers, err := dealCorrelated(c, target)
	if err != nil {
		return nil, err
	}

	independentGen := func(_ party.ID) preprocessing.Generator {
		return func(_ context.Context, _ preprocessing.ElementKind, n int) ([]field.Element, error) {
			out := make([]field.Element, n)
			for i := range out {
				e, err := c.field.RandomElement(rand.Reader)
				if err != nil {
					return nil, err
				}
				out[i] = e
			}
			return out, nil
		}
	}

	dealerGen := func(p party.ID) preprocessing.Generator {
		fallback := independentGen(p)
		return func(ctx context.Context, kind preprocessing.ElementKind, n int) ([]field.Element, error) {
			buf, ok := buffers[kind]
			if !ok {
				return fallback(ctx, kind, n)
			}
			return buf.take(p, n)
		}
	}

	// batchSize must be a multiple of every correlated kind's width (1,
	// 2, 3, 4, 7 today) so Pool.Run never asks a Generator for a
	// fractional unit; 840 is a multiple of lcm(1,2,3,4,7) = 84.
	const batchSize = 840
	for _, p := range c.parties {
		if err := pools[p].Run(context.Background(), batchSize, dealerGen(p)); err != nil {
			return nil, fmt.Errorf("filling preprocessing pool for party %s: %w", p, err)
		}
	}
	return pools, nil
}
