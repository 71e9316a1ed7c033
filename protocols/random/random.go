// Package random implements the preprocessing randomness sub-protocols:
// RAN (a jointly random share with no party knowing the secret), RAN-INV (a
// jointly random share together with a share of its inverse), RAN-BIT (a
// share of a uniform 0/1 value via the invertible-random + square-root
// trick), RAN-BITWISE (a batch of RAN-BITs composed into a bitwise number),
// and RAN-QUAT (pairs of bits with their cross product, for base-4
// comparisons).
package random

import (
	"errors"

	"github.com/nilmpc/coren/pkg/basictypes"
	"github.com/nilmpc/coren/pkg/field"
	"github.com/nilmpc/coren/pkg/party"
)

// ErrAbort is returned by a random-material sub-protocol that drew a
// degenerate value (zero, or a non-quadratic-residue). This is not a fatal
// error: per the spec's randomness-abort semantics, the caller retries the
// whole sub-protocol with fresh preprocessing material.
var ErrAbort = errors.New("random: degenerate draw, retry with fresh randomness")

// JoinState collects each party's independently-chosen random contribution
// for a single joint random value and sums them locally: this is the RAN
// protocol. Online because it requires one round of message exchange, but
// the combination itself (summation) is Local.
type JoinState struct {
	jar *basictypes.Jar[field.Element]
}

// NewJoin starts a joint-random draw among the given parties.
func NewJoin(parties []party.ID) *JoinState {
	return &JoinState{jar: basictypes.NewJar[field.Element](len(parties))}
}

// StoreContribution records one party's randomly chosen share contribution.
func (s *JoinState) StoreContribution(from party.ID, contribution field.Element) error {
	return s.jar.Add(from, contribution)
}

// IsReady reports whether every party has contributed.
func (s *JoinState) IsReady() bool { return s.jar.IsFull() }

// Finalize sums every contribution into this party's share of the joint
// random value.
func (s *JoinState) Finalize(f *field.SafePrime) (field.Element, error) {
	if !s.jar.IsFull() {
		return field.Element{}, errors.New("random: not every party has contributed")
	}
	sum := f.Zero()
	for _, e := range s.jar.Elements() {
		sum = sum.Add(e.Element)
	}
	return sum, nil
}

// InvertFromRevealed completes RAN-INV once c = a*b has already been
// revealed (via protocols/reveal): if c is zero, the draw must be retried
// (ErrAbort); otherwise this party's share of a^-1 is bShare * c^-1.
func InvertFromRevealed(bShare, c field.Element) (field.Element, error) {
	if c.IsZero() {
		return field.Element{}, ErrAbort
	}
	cInv, err := c.Inverse()
	if err != nil {
		return field.Element{}, err
	}
	return bShare.Mul(cInv), nil
}

// BitFromRevealedSquare completes RAN-BIT once rSquared = r*r has already
// been revealed: if rSquared is a non-residue or zero, the draw aborts
// (ErrAbort); otherwise this party's bit share is (r/sqrt(rSquared) + 1)/2,
// using the field's canonical square root and relying on the fact that
// adding (or scaling by) a public constant to every party's share is a
// valid Local operation on a Shamir sharing.
func BitFromRevealedSquare(rShare, rSquared field.Element, f *field.SafePrime) (field.Element, error) {
	if rSquared.IsZero() {
		return field.Element{}, ErrAbort
	}
	root, err := rSquared.Sqrt()
	if err != nil {
		return field.Element{}, ErrAbort
	}
	rootInv, err := root.Inverse()
	if err != nil {
		return field.Element{}, ErrAbort
	}
	two := f.FromUint64(2)
	twoInv, err := two.Inverse()
	if err != nil {
		return field.Element{}, err
	}
	return rShare.Mul(rootInv).Add(f.One()).Mul(twoInv), nil
}

// BitwiseFromBits packs k already-generated RAN-BIT shares (least
// significant first) into a BitwiseNumberShares.
func BitwiseFromBits(bits []field.Element) *BitwiseNumberShares {
	cp := make([]field.Element, len(bits))
	copy(cp, bits)
	return &BitwiseNumberShares{bits: cp}
}

// BitwiseNumberShares is an ordered collection of bit shares, least to most
// significant, representing a secret-shared integer as its bit expansion.
type BitwiseNumberShares struct {
	bits []field.Element
}

// Bits returns the bit shares, least significant first.
func (b *BitwiseNumberShares) Bits() []field.Element { return b.bits }

// Len returns the number of bits.
func (b *BitwiseNumberShares) Len() int { return len(b.bits) }

// Compose reconstructs the field element sum(bit_i * 2^i) from the bit
// shares, a Local operation once the individual bit shares are known
// (each term is a public-scalar multiplication of a share).
func (b *BitwiseNumberShares) Compose(f *field.SafePrime) field.Element {
	sum := f.Zero()
	pow := f.One()
	two := f.FromUint64(2)
	for _, bit := range b.bits {
		sum = sum.Add(bit.Mul(pow))
		pow = pow.Mul(two)
	}
	return sum
}

// QuatShare is a pair of consecutive random bits (low, high) together with
// their cross product low*high, the base-4 comparison building block.
type QuatShare struct {
	Low   field.Element
	High  field.Element
	Cross field.Element
}

// NewQuatShare packages a low/high bit pair with their already-finalized
// cross-product share (computed Online via a single Beaver multiplication).
func NewQuatShare(low, high, cross field.Element) QuatShare {
	return QuatShare{Low: low, High: high, Cross: cross}
}
