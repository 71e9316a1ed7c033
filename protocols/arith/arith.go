// Package arith implements the Local arithmetic protocols: addition,
// subtraction, public-scalar multiplication, and if-else (as two batched
// multiplications). Share x share multiplication lives in protocols/beaver
// plus protocols/mult, since it is Online.
package arith

import "github.com/nilmpc/coren/pkg/field"

// Add computes left + right. Both operands may be either a public value or
// a share; the type rule (public+public->public, otherwise share) is
// enforced by the compiler layer, not here — arithmetically the two cases
// are identical field additions.
func Add(left, right field.Element) field.Element {
	return left.Add(right)
}

// Sub computes left - right.
func Sub(left, right field.Element) field.Element {
	return left.Sub(right)
}

// Neg computes -value.
func Neg(value field.Element) field.Element {
	return value.Neg()
}

// ScalarMul computes scalar * share, a Local operation since a public value
// multiplying a share needs no communication.
func ScalarMul(scalar, share field.Element) field.Element {
	return scalar.Mul(share)
}

// IfElseLocal computes c*a + (1-c)*b given the already-finalized products
// cTimesA = c*a and cTimesB = c*b (the Online work, two batched
// multiplications, is delegated to the mult protocol); (1-c)*b expands to
// b - c*b, so this needs only b and cTimesB besides cTimesA.
func IfElseLocal(cTimesA, b, cTimesB field.Element) field.Element {
	return cTimesA.Add(b.Sub(cTimesB))
}
