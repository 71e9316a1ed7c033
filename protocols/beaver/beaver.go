// Package beaver implements the use (not the generation) of Beaver triples:
// the standard trick that turns one secure multiplication into one local
// mask step plus one reveal of the masked operands.
package beaver

import "github.com/nilmpc/coren/pkg/field"

// Triple holds one party's shares of (left, right, result) with
// result = left*right, reconstructed over the whole cluster.
type Triple struct {
	Left   field.Element
	Right  field.Element
	Result field.Element
}

// NewTriple wraps a party's shares of a triple. It is the caller's
// responsibility (the preprocessing generator) to ensure the invariant
// result = left*right holds across all parties' shares.
func NewTriple(left, right, result field.Element) Triple {
	return Triple{Left: left, Right: right, Result: result}
}

// PrepareMultiplication is the Local step of a secure multiplication: it
// masks this party's shares of the two operands with the triple's operand
// shares, producing the values that must be revealed (summed across the
// threshold) before the multiplication can be finalized.
func (t Triple) PrepareMultiplication(left, right field.Element) (maskedLeft, maskedRight field.Element) {
	return left.Sub(t.Left), right.Sub(t.Right)
}

// FinalizeMultiplication is the Local step run after the masked operands
// have been revealed (leftScalar = x-a, rightScalar = y-b): it reconstructs
// a share of x*y as c + (x-a)*b + (y-b)*a + (x-a)*(y-b).
func (t Triple) FinalizeMultiplication(leftScalar, rightScalar field.Element) field.Element {
	out := leftScalar.Mul(t.Right)
	out = out.Add(rightScalar.Mul(t.Left))
	out = out.Add(t.Result)
	out = out.Add(leftScalar.Mul(rightScalar))
	return out
}
