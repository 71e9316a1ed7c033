// Package compare implements the Online LESS-THAN comparison of two
// secret-shared values as a single masked reveal, composing
// protocols/reveal with protocols/division's TruncPR exactly the way
// protocols/mult composes a Beaver triple with a batched reveal.
package compare

import (
	"math/big"

	"github.com/nilmpc/coren/pkg/field"
	"github.com/nilmpc/coren/pkg/party"
	"github.com/nilmpc/coren/pkg/shamir"
	"github.com/nilmpc/coren/protocols/division"
	"github.com/nilmpc/coren/protocols/reveal"
)

// ShiftBits bounds the magnitudes this comparison supports: LessThan only
// gives the correct indicator when the true difference x-y, as a signed
// integer, satisfies |x-y| < 1<<ShiftBits.
const ShiftBits = division.DefaultPrecisionBits

// Message is the single broadcast payload of a comparison: this party's
// share of the shifted, masked difference.
type Message = reveal.Message

// State drives LESS-THAN (is x<y, for two secret operands) as one masked
// reveal: shift x-y into the non-negative range [0, 2^(ShiftBits+1)) with
// a public offset (Local), mask the shift with a preprocessed random pair
// (rShare, rHighShare), reveal the sum, and recover the indicator from its
// high half exactly the way TruncPR recovers a shifted quotient. The
// indicator itself is never revealed — only the masked, offset difference
// is — so the output stays a secret share throughout.
type State struct {
	inner      *reveal.State
	rHighShare field.Element
	f          *field.SafePrime
}

// New starts a comparison among parties, given this party's share of the
// preprocessed mask's high half.
func New(sharer *shamir.Sharer, parties []party.ID, f *field.SafePrime, rHighShare field.Element) *State {
	return &State{inner: reveal.New(sharer, parties), rHighShare: rHighShare, f: f}
}

// MaskedDifference computes the Local masked share to broadcast: the
// public shift offset, plus x's share minus y's share, plus the
// preprocessed mask's low half.
func MaskedDifference(f *field.SafePrime, xShare, yShare, rShare field.Element) field.Element {
	offset := f.NewElement(new(big.Int).Lsh(big.NewInt(1), ShiftBits))
	return offset.Add(xShare).Sub(yShare).Add(rShare)
}

// StoreMessage records a peer's broadcast share of the masked difference.
func (s *State) StoreMessage(from party.ID, msg Message) error {
	return s.inner.StoreMessage(from, msg)
}

// IsReady reports whether every expected party has contributed.
func (s *State) IsReady() bool { return s.inner.IsReady() }

// Finalize reconstructs the masked shifted difference and returns this
// party's share of the less-than indicator.
func (s *State) Finalize() (field.Element, error) {
	c, err := s.inner.Finalize()
	if err != nil {
		return field.Element{}, err
	}
	quotient := division.TruncPR(c, ShiftBits, s.rHighShare, s.f)
	return s.f.One().Sub(quotient), nil
}
