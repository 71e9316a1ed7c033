// Package polynomial implements polynomials over any field element type
// satisfying Elem, point sequences, Lagrange interpolation, Gao error
// correction and bivariate polynomials.
package polynomial

// Elem is the minimal ring/field contract a coefficient type must satisfy.
// Both pkg/field.Element and pkg/gf256.Element implement it.
type Elem[E any] interface {
	Add(E) E
	Sub(E) E
	Mul(E) E
	Neg() E
	Div(E) (E, error)
	Inv() (E, error)
	IsZero() bool
	Equal(E) bool
}
