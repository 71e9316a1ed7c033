package threshold

import (
	"fmt"
	"io"
	"sync"

	"github.com/nilmpc/coren/pkg/field"
	"github.com/nilmpc/coren/pkg/party"
	"github.com/nilmpc/coren/pkg/shamir"
	"github.com/nilmpc/coren/protocols/beaver"
)

// AuxInfo is one signing session's worth of pre-generated Beaver triples:
// ECDSASign consumes exactly two (one for the k*b masking round, one for
// the final s = k^-1*(digest + r*privateKey) round); EdDSASign consumes
// none, since Schnorr signing is purely additive.
type AuxInfo struct {
	ABTriple beaver.Triple
	STriple  beaver.Triple
}

// auxInfoKey identifies one generation of a key's auxiliary material, the
// way the teacher's lss/config keys its chain-key and RID to a keygen
// generation rather than to the long-term key itself: resharing or
// refreshing a key advances the generation without reusing old
// auxiliary randomness.
type auxInfoKey struct {
	self       party.ID
	generation uint64
}

// AuxInfoCache is a version-keyed ring of pre-generated signing sessions'
// auxiliary material, one ring per (party, generation) pair. Signing
// consumes one AuxInfo per session; replenishment (a further DKG-derived
// or trusted-dealer batch) is the caller's responsibility, mirroring how
// preprocessing.Pool separates generation from consumption.
type AuxInfoCache struct {
	mu    sync.Mutex
	batch map[auxInfoKey][]AuxInfo
}

// NewAuxInfoCache builds an empty cache.
func NewAuxInfoCache() *AuxInfoCache {
	return &AuxInfoCache{batch: make(map[auxInfoKey][]AuxInfo)}
}

// Deposit appends freshly generated auxiliary material for self's view of
// the given generation.
func (c *AuxInfoCache) Deposit(self party.ID, generation uint64, items []AuxInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := auxInfoKey{self: self, generation: generation}
	c.batch[key] = append(c.batch[key], items...)
}

// ErrAuxInfoExhausted is returned when a generation's cache has no more
// auxiliary material to hand out; the caller must deposit a fresh batch
// before signing again at that generation.
var ErrAuxInfoExhausted = fmt.Errorf("threshold: auxiliary info exhausted for this generation")

// Take pops one signing session's worth of auxiliary material.
func (c *AuxInfoCache) Take(self party.ID, generation uint64) (AuxInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := auxInfoKey{self: self, generation: generation}
	items := c.batch[key]
	if len(items) == 0 {
		return AuxInfo{}, ErrAuxInfoExhausted
	}
	c.batch[key] = items[1:]
	return items[0], nil
}

// Available reports how many signing sessions' worth of material remain
// cached for self at generation.
func (c *AuxInfoCache) Available(self party.ID, generation uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batch[auxInfoKey{self: self, generation: generation}])
}

// GenerateAuxInfoTrustedDealer produces n batches of correlated Beaver
// triples over f, Shamir-shared among parties at the given threshold, and
// returns each party's share of every batch.
//
// This is a trusted-dealer bootstrap, the same role soatok's FROST
// trusted-dealer keygen plays for key material: it is useful for tests
// and for standing up a cluster's first auxiliary-info deposit, but it is
// not a secure multi-party generation protocol, since the dealer sees
// every triple in the clear. A production deployment must instead derive
// auxiliary info from a further DKG-style protocol (see KeyShare's own
// commit-then-reveal construction in ECDSAKeygen/EdDSAKeygen) rather than
// calling this function.
func GenerateAuxInfoTrustedDealer(f *field.SafePrime, parties []party.ID, threshold int, sharer *shamir.Sharer, n int, rnd io.Reader) (map[party.ID][]AuxInfo, error) {
	out := make(map[party.ID][]AuxInfo, len(parties))
	for _, p := range parties {
		out[p] = make([]AuxInfo, n)
	}
	for i := 0; i < n; i++ {
		ab, err := dealOneTriple(f, parties, threshold, sharer, rnd)
		if err != nil {
			return nil, err
		}
		s, err := dealOneTriple(f, parties, threshold, sharer, rnd)
		if err != nil {
			return nil, err
		}
		for _, p := range parties {
			out[p][i] = AuxInfo{ABTriple: ab[p], STriple: s[p]}
		}
	}
	return out, nil
}

func dealOneTriple(f *field.SafePrime, parties []party.ID, threshold int, sharer *shamir.Sharer, rnd io.Reader) (map[party.ID]beaver.Triple, error) {
	a, err := f.RandomElement(rnd)
	if err != nil {
		return nil, err
	}
	b, err := f.RandomElement(rnd)
	if err != nil {
		return nil, err
	}
	c := a.Mul(b)

	aShares, err := sharer.GenerateShares(a, threshold, rnd)
	if err != nil {
		return nil, err
	}
	bShares, err := sharer.GenerateShares(b, threshold, rnd)
	if err != nil {
		return nil, err
	}
	cShares, err := sharer.GenerateShares(c, threshold, rnd)
	if err != nil {
		return nil, err
	}

	out := make(map[party.ID]beaver.Triple, len(parties))
	for _, p := range parties {
		out[p] = beaver.NewTriple(aShares[p], bShares[p], cShares[p])
	}
	return out, nil
}
