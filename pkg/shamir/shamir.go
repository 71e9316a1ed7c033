// Package shamir implements Shamir secret sharing over a safe-prime field,
// including robust recovery that tolerates a bounded number of corrupted
// shares via Reed-Solomon decoding.
package shamir

import (
	"errors"
	"io"

	"github.com/nilmpc/coren/pkg/field"
	"github.com/nilmpc/coren/pkg/party"
	"github.com/nilmpc/coren/pkg/polynomial"
)

// ErrAbscissaMapping is returned when a party has no abscissa in the mapper.
var ErrAbscissaMapping = errors.New("shamir: abscissa mapping failed")

// ErrShareCountMismatch is returned by multi-secret recovery when parties
// contribute differing numbers of shares.
var ErrShareCountMismatch = errors.New("shamir: share count mismatch")

// ErrNoShares is returned when recovery is attempted with no shares at all.
var ErrNoShares = errors.New("shamir: no shares provided")

// Sharer generates and recovers shares for a fixed party set and field.
type Sharer struct {
	field  *field.SafePrime
	mapper *party.Mapper
}

// NewSharer builds a Sharer over the given field and party mapping.
func NewSharer(f *field.SafePrime, mapper *party.Mapper) *Sharer {
	return &Sharer{field: f, mapper: mapper}
}

// PartyCount returns the number of parties this sharer operates over.
func (s *Sharer) PartyCount() int { return s.mapper.Count() }

// GenerateShares splits secret into one share per party, hidden behind a
// random polynomial of the given degree whose constant term is the secret.
func (s *Sharer) GenerateShares(secret field.Element, degree int, rnd io.Reader) (map[party.ID]field.Element, error) {
	coeffs := make([]field.Element, degree+1)
	coeffs[0] = secret
	for i := 1; i <= degree; i++ {
		c, err := s.field.RandomElement(rnd)
		if err != nil {
			return nil, err
		}
		coeffs[i] = c
	}
	poly := polynomial.New(s.field.Zero(), coeffs)

	shares := make(map[party.ID]field.Element, s.mapper.Count())
	for _, p := range s.mapper.Parties() {
		x, ok := s.mapper.Abscissa(p)
		if !ok {
			return nil, ErrAbscissaMapping
		}
		shares[p] = poly.Eval(x)
	}
	return shares, nil
}

// Recover reconstructs the secret from an exact (non-corrupted) set of
// shares using Lagrange interpolation at zero. At least degree+1 shares are
// required.
func (s *Sharer) Recover(shares map[party.ID]field.Element) (field.Element, error) {
	if len(shares) == 0 {
		return field.Element{}, ErrNoShares
	}
	xs := make([]field.Element, 0, len(shares))
	ys := make([]field.Element, 0, len(shares))
	for p, y := range shares {
		x, ok := s.mapper.Abscissa(p)
		if !ok {
			return field.Element{}, ErrAbscissaMapping
		}
		xs = append(xs, x)
		ys = append(ys, y)
	}
	weights, err := polynomial.LagrangeCoefficientsAtZero(s.field.Zero(), s.field.One(), xs)
	if err != nil {
		return field.Element{}, err
	}
	result := s.field.Zero()
	for i, y := range ys {
		result = result.Add(y.Mul(weights[i]))
	}
	return result, nil
}

// RecoverRobust reconstructs the secret-hiding polynomial even if up to
// maxErrors of the given shares are corrupted, using Gao-style
// error-correction decoding. degree is the sharing polynomial's degree.
func (s *Sharer) RecoverRobust(shares map[party.ID]field.Element, degree, maxErrors int) (field.Element, error) {
	if len(shares) == 0 {
		return field.Element{}, ErrNoShares
	}
	seq := polynomial.NewPointSequence[field.Element]()
	for p, y := range shares {
		x, ok := s.mapper.Abscissa(p)
		if !ok {
			return field.Element{}, ErrAbscissaMapping
		}
		seq.Push(polynomial.NewPoint(x, y))
	}
	poly, _, err := polynomial.GaoDecode(s.field.Zero(), s.field.One(), seq, degree, maxErrors)
	if err != nil {
		return field.Element{}, err
	}
	return poly.Eval(s.field.Zero()), nil
}

// Weigh applies this party's Lagrange coefficient to a single share, the
// building block used by protocols that sum partial reveals rather than
// calling Recover directly (e.g. reveal-and-add style batching).
func (s *Sharer) Weigh(local party.ID, peers []party.ID, share field.Element) (field.Element, error) {
	xs := make([]field.Element, len(peers))
	for i, p := range peers {
		x, ok := s.mapper.Abscissa(p)
		if !ok {
			return field.Element{}, ErrAbscissaMapping
		}
		xs[i] = x
	}
	weights, err := polynomial.LagrangeCoefficientsAtZero(s.field.Zero(), s.field.One(), xs)
	if err != nil {
		return field.Element{}, err
	}
	localX, ok := s.mapper.Abscissa(local)
	if !ok {
		return field.Element{}, ErrAbscissaMapping
	}
	for i, x := range xs {
		if x.Equal(localX) {
			return share.Mul(weights[i]), nil
		}
	}
	return field.Element{}, ErrAbscissaMapping
}

// HyperMap maps a vector of shares through a Vandermonde-derived
// hyper-invertible matrix, the transform used by preprocessing's
// double-sharing construction to turn n uncorrelated sharings into n
// sharings with a guaranteed output-sharing-polynomial degree bound. The
// matrix used is the party mapper's Vandermonde matrix built from distinct
// party abscissae, which is invertible for any square submatrix by
// construction (a Vandermonde matrix over a field has full rank whenever
// its nodes are distinct).
func (s *Sharer) HyperMap(shares []field.Element) ([]field.Element, error) {
	n := len(shares)
	parties := s.mapper.Parties()
	if n > len(parties) {
		return nil, ErrAbscissaMapping
	}
	xs := make([]field.Element, n)
	for i := 0; i < n; i++ {
		x, ok := s.mapper.Abscissa(parties[i])
		if !ok {
			return nil, ErrAbscissaMapping
		}
		xs[i] = x
	}
	out := make([]field.Element, n)
	for row := 0; row < n; row++ {
		sum := s.field.Zero()
		for col := 0; col < n; col++ {
			sum = sum.Add(shares[col].Mul(xs[row].ExpUint64(uint64(col))))
		}
		out[row] = sum
	}
	return out, nil
}
