// Package bitops implements secure bitwise arithmetic on bit-decomposed
// shares: the single-bit full-adder primitive used to ripple-carry add two
// bitwise-shared numbers together, one round per bit position.
//
// This is a sequential, two-multiplication-per-bit construction rather than
// a logarithmic-depth carry-lookahead adder; see DESIGN.md for why the
// simpler, higher-round-count construction was chosen.
package bitops

import "github.com/nilmpc/coren/pkg/field"

// Xor returns this party's share of a XOR b for two 0/1 shares, given the
// already-finalized product ab = a*b: a+b-2ab, which is 0 when a and b
// agree and 1 otherwise.
func Xor(a, b, ab field.Element) field.Element {
	return a.Add(b).Sub(ab.Add(ab))
}

// PendingProducts returns the operand pair of a full-adder round's second
// multiplication, (a xor b) and carryIn, given the already-finalized
// ab = a*b of its first. The caller multiplies the pair (e.g. via
// protocols/mult, batched with every other bit position doing the same
// round) and passes ab and that product to Finish.
func PendingProducts(a, b, carryIn, ab field.Element) (xorA, carry field.Element) {
	return Xor(a, b, ab), carryIn
}

// Finish completes one bit of ripple-carry addition given the two
// already-finalized products for this round: ab (= a*b) and xorCarry (=
// (a xor b)*carryIn). It returns this bit's sum share and the carry share
// to feed into the next, more significant bit's round.
func Finish(a, b, carryIn, ab, xorCarry field.Element) (sum, carryOut field.Element) {
	t1 := Xor(a, b, ab)
	sum = Xor(t1, carryIn, xorCarry)
	carryOut = ab.Add(xorCarry)
	return sum, carryOut
}

// RippleAdder drives a full bitwise addition across a fixed bit length,
// least-significant bit first, tracking the running carry between rounds.
// Each round still needs two Online multiplications driven externally
// (ab and (a xor b)*carryIn); RippleAdder only holds the Local state
// between rounds.
type RippleAdder struct {
	carry field.Element
	sums  []field.Element
}

// NewRippleAdder starts a ripple-carry addition with an initial carry-in
// (normally the field's zero).
func NewRippleAdder(carryIn field.Element) *RippleAdder {
	return &RippleAdder{carry: carryIn}
}

// CarryIn returns the carry share to use for this round's multiplications.
func (r *RippleAdder) CarryIn() field.Element { return r.carry }

// Advance consumes one round's already-finalized ab and xorCarry products
// for the current bit position and appends the resulting sum bit,
// updating the running carry for the next round.
func (r *RippleAdder) Advance(a, b, ab, xorCarry field.Element) {
	sum, carryOut := Finish(a, b, r.carry, ab, xorCarry)
	r.sums = append(r.sums, sum)
	r.carry = carryOut
}

// Sums returns the accumulated sum bits, least significant first.
func (r *RippleAdder) Sums() []field.Element { return r.sums }

// FinalCarry returns the carry out of the most significant bit processed
// so far (the overflow bit of the addition).
func (r *RippleAdder) FinalCarry() field.Element { return r.carry }
