// Package division implements probabilistic truncation and division by
// both public and secret divisors, composed from protocols/random's
// bitwise randomness, protocols/reveal, and protocols/mult.
package division

import (
	"math/big"

	"github.com/nilmpc/coren/pkg/field"
	"github.com/nilmpc/coren/protocols/random"
)

// ErrAbort is returned when a degenerate random draw forces a retry;
// re-exported from protocols/random since it is the only failure mode the
// protocols in this package can hit.
var ErrAbort = random.ErrAbort

// DefaultPrecisionBits is the fixed-point/masking width vm/online.go uses
// for every masked-reveal construction built on this package: comparisons,
// public-divisor division and modulo, and the reciprocal masking step of
// secret-divisor division. 32 bits keeps the revealed mask's magnitude
// hidden while leaving the bulk of field.SafePrime64's ~64-bit range as
// statistical slack above it.
const DefaultPrecisionBits = 32

// TruncPR completes probabilistic truncation by shiftBits of a value x,
// given c = x + r already revealed (via protocols/reveal) for a random r =
// (rHigh << shiftBits) + rLow drawn via RAN-BITWISE: the result is
// floor((c - (c mod 2^shiftBits)) / 2^shiftBits) - rHighShare, where
// rHighShare is this party's share of rHigh (random.BitwiseNumberShares
// composed from bits[shiftBits:]). The result is floor(x / 2^shiftBits),
// or one more than that exactly when adding rLow to x's low shiftBits bits
// carries into the high bits.
func TruncPR(c field.Element, shiftBits uint, rHighShare field.Element, f *field.SafePrime) field.Element {
	cBig := c.Big()
	mod := new(big.Int).Lsh(big.NewInt(1), shiftBits)
	rem := new(big.Int).Mod(cBig, mod)
	shifted := new(big.Int).Sub(cBig, rem)
	shifted.Rsh(shifted, shiftBits)
	quotient := f.NewElement(shifted)
	return quotient.Sub(rHighShare)
}

// ScaleByReciprocal multiplies a share by a public fixed-point reciprocal
// of divisor, scaled by 2^precisionBits: the Local first half of dividing
// a secret value by a public divisor, to be followed by a TruncPR round
// that shifts the result back down by precisionBits.
func ScaleByReciprocal(xShare field.Element, divisor uint64, precisionBits uint, f *field.SafePrime) field.Element {
	recip := FixedPointReciprocal(divisor, precisionBits)
	return xShare.Mul(f.NewElement(recip))
}

// FixedPointReciprocal computes ceil(2^precisionBits / divisor), the
// public fixed-point approximation of 1/divisor used by
// ScaleByReciprocal. Rounding up makes (x * recip) >> precisionBits equal
// floor(x / divisor) whenever x * divisor < 2^precisionBits.
func FixedPointReciprocal(divisor uint64, precisionBits uint) *big.Int {
	scale := new(big.Int).Lsh(big.NewInt(1), precisionBits)
	d := new(big.Int).SetUint64(divisor)
	scale.Add(scale, d).Sub(scale, big.NewInt(1))
	return scale.Div(scale, d)
}

// ModuloPublicDivisor computes x mod divisor for a public divisor, given
// the already-completed quotient share (DivisionPublicDivisor's result):
// x mod d = x - d*quotient, a Local public-scalar operation once both
// shares are known.
func ModuloPublicDivisor(xShare, quotientShare field.Element, divisor uint64, f *field.SafePrime) field.Element {
	d := f.FromUint64(divisor)
	return xShare.Sub(d.Mul(quotientShare))
}

// Modulo2mPublicDivisor computes x mod 2^m given the already-completed
// TruncPR quotient share for a shift of m bits: x mod 2^m = x -
// 2^m*quotient, the power-of-two special case of ModuloPublicDivisor.
func Modulo2mPublicDivisor(xShare, quotientShare field.Element, m uint, f *field.SafePrime) field.Element {
	twoM := new(big.Int).Lsh(big.NewInt(1), m)
	return xShare.Sub(f.NewElement(twoM).Mul(quotientShare))
}

// ReciprocalShare completes the secret-divisor reciprocal protocol: given a
// jointly random invertible mask r (drawn via RAN-INV) and c = divisor*r
// already revealed, this party's share of 1/divisor is rShare * c^-1
// (identical math to random.InvertFromRevealed, generalized here from a
// jointly random secret to an arbitrary one). ErrAbort if c is zero and
// the draw must be retried.
func ReciprocalShare(rShare, c field.Element) (field.Element, error) {
	return random.InvertFromRevealed(rShare, c)
}

// DivisionSecretDivisor completes division of a dividend by a secret
// divisor, given the already-finalized Online product of the dividend
// share and the divisor's reciprocal share (protocols/mult, using
// ReciprocalShare's output as one operand). This treats division as the
// field's exact multiplicative inverse rather than a truncating integer
// division: the result is the integer quotient only when the dividend is
// an exact multiple of the divisor, and dividend * divisor^-1 in the field
// otherwise. vm/online.go's secret-divisor Div and Mod pass arbitrary
// dividends through it; see DESIGN.md.
func DivisionSecretDivisor(dividendTimesReciprocal field.Element) field.Element {
	return dividendTimesReciprocal
}

// ModuloSecretDivisor computes x mod divisor for a secret divisor, given
// the already-finalized product divisorTimesQuotient (divisor times the
// DivisionSecretDivisor quotient): x mod divisor = x -
// divisor*quotient, the secret-divisor analogue of ModuloPublicDivisor.
func ModuloSecretDivisor(xShare, divisorTimesQuotientShare field.Element) field.Element {
	return xShare.Sub(divisorTimesQuotientShare)
}
