package polynomial

import "errors"

// ErrEmptyPolynomial is returned by operations that need at least one coefficient.
var ErrEmptyPolynomial = errors.New("polynomial: no coefficients")

// ErrDegreeMismatch is returned by division when the divisor is the zero polynomial.
var ErrDegreeMismatch = errors.New("polynomial: division by zero polynomial")

// Polynomial is an ordered list of coefficients, lowest-degree first.
type Polynomial[E Elem[E]] struct {
	zero         E
	coefficients []E
}

// New creates a polynomial from coefficients, lowest-degree first. zero must
// be the additive identity of E's field, since Go generics have no way to
// conjure a field's zero value from the type alone.
func New[E Elem[E]](zero E, coefficients []E) *Polynomial[E] {
	cp := make([]E, len(coefficients))
	copy(cp, coefficients)
	return &Polynomial[E]{zero: zero, coefficients: cp}
}

// AddCoefficient appends a coefficient, increasing the polynomial's degree.
func (p *Polynomial[E]) AddCoefficient(c E) {
	p.coefficients = append(p.coefficients, c)
}

// Coefficients returns the coefficient slice, lowest-degree first.
func (p *Polynomial[E]) Coefficients() []E { return p.coefficients }

// IsEmpty reports whether the polynomial has no coefficients.
func (p *Polynomial[E]) IsEmpty() bool { return len(p.coefficients) == 0 }

// Canonicalize removes trailing (highest-degree) zero coefficients.
func (p *Polynomial[E]) Canonicalize() {
	for len(p.coefficients) > 0 && p.coefficients[len(p.coefficients)-1].IsZero() {
		p.coefficients = p.coefficients[:len(p.coefficients)-1]
	}
}

// Degree returns the polynomial's degree, or 0 if it has no coefficients.
func (p *Polynomial[E]) Degree() int {
	if len(p.coefficients) == 0 {
		return 0
	}
	return len(p.coefficients) - 1
}

// Eval evaluates the polynomial at x using Horner's method.
func (p *Polynomial[E]) Eval(x E) E {
	result := p.zero
	for i := len(p.coefficients) - 1; i >= 0; i-- {
		result = result.Mul(x).Add(p.coefficients[i])
	}
	return result
}

// GetCoefficient returns the coefficient at idx.
func (p *Polynomial[E]) GetCoefficient(idx int) (E, error) {
	var zero E
	if idx < 0 || idx >= len(p.coefficients) {
		return zero, ErrEmptyPolynomial
	}
	return p.coefficients[idx], nil
}

// LastCoefficient returns the leading (highest-degree) coefficient.
func (p *Polynomial[E]) LastCoefficient() (E, error) {
	var zero E
	if len(p.coefficients) == 0 {
		return zero, ErrEmptyPolynomial
	}
	return p.coefficients[len(p.coefficients)-1], nil
}

// Add returns p + other.
func (p *Polynomial[E]) Add(other *Polynomial[E]) *Polynomial[E] {
	n := len(p.coefficients)
	if len(other.coefficients) > n {
		n = len(other.coefficients)
	}
	out := make([]E, n)
	for i := 0; i < n; i++ {
		a, b := p.zero, p.zero
		if i < len(p.coefficients) {
			a = p.coefficients[i]
		}
		if i < len(other.coefficients) {
			b = other.coefficients[i]
		}
		out[i] = a.Add(b)
	}
	result := New(p.zero, out)
	result.Canonicalize()
	return result
}

// Sub returns p - other.
func (p *Polynomial[E]) Sub(other *Polynomial[E]) *Polynomial[E] {
	neg := make([]E, len(other.coefficients))
	for i, c := range other.coefficients {
		neg[i] = c.Neg()
	}
	return p.Add(New(p.zero, neg))
}

// Mul returns the product p * other via naive convolution.
func (p *Polynomial[E]) Mul(other *Polynomial[E]) *Polynomial[E] {
	if p.IsEmpty() || other.IsEmpty() {
		return New(p.zero, nil)
	}
	out := make([]E, len(p.coefficients)+len(other.coefficients)-1)
	for i := range out {
		out[i] = p.zero
	}
	for i, a := range p.coefficients {
		if a.IsZero() {
			continue
		}
		for j, b := range other.coefficients {
			out[i+j] = out[i+j].Add(a.Mul(b))
		}
	}
	result := New(p.zero, out)
	result.Canonicalize()
	return result
}

// Div performs polynomial long division, returning (quotient, remainder).
// It fails if other is the zero polynomial.
func (p *Polynomial[E]) Div(other *Polynomial[E]) (*Polynomial[E], *Polynomial[E], error) {
	divisor := New(other.zero, other.coefficients)
	divisor.Canonicalize()
	if divisor.IsEmpty() {
		return nil, nil, ErrDegreeMismatch
	}
	remainder := New(p.zero, p.coefficients)
	remainder.Canonicalize()
	leadDivisor, _ := divisor.LastCoefficient()
	leadInv, err := leadDivisor.Inv()
	if err != nil {
		return nil, nil, err
	}

	quotientDegree := remainder.Degree() - divisor.Degree()
	if remainder.IsEmpty() || remainder.Degree() < divisor.Degree() {
		return New(p.zero, nil), remainder, nil
	}
	quotientCoeffs := make([]E, quotientDegree+1)
	for i := range quotientCoeffs {
		quotientCoeffs[i] = p.zero
	}

	for !remainder.IsEmpty() && remainder.Degree() >= divisor.Degree() {
		lead, _ := remainder.LastCoefficient()
		coeff := lead.Mul(leadInv)
		shift := remainder.Degree() - divisor.Degree()
		quotientCoeffs[shift] = coeff

		termCoeffs := make([]E, shift+1)
		for i := range termCoeffs {
			termCoeffs[i] = p.zero
		}
		termCoeffs[shift] = coeff
		term := New(p.zero, termCoeffs)
		scaled := term.Mul(divisor)
		remainder = remainder.Sub(scaled)
		remainder.Canonicalize()
	}
	quotient := New(p.zero, quotientCoeffs)
	quotient.Canonicalize()
	return quotient, remainder, nil
}

// Equal reports structural equality after canonicalization.
func (p *Polynomial[E]) Equal(other *Polynomial[E]) bool {
	a := New(p.zero, p.coefficients)
	a.Canonicalize()
	b := New(p.zero, other.coefficients)
	b.Canonicalize()
	if len(a.coefficients) != len(b.coefficients) {
		return false
	}
	for i := range a.coefficients {
		if !a.coefficients[i].Equal(b.coefficients[i]) {
			return false
		}
	}
	return true
}
