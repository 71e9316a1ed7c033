package polynomial

// Bivariate is a polynomial in two variables, stored as a list of
// row-polynomials in x, each of whose coefficients is itself a coefficient of
// y^row. f(x, y) = sum_row RowAt(row)(x) * y^row.
type Bivariate[E Elem[E]] struct {
	zero E
	rows []*Polynomial[E]
}

// NewBivariate builds a bivariate polynomial from its row-polynomials.
func NewBivariate[E Elem[E]](zero E, rows []*Polynomial[E]) *Bivariate[E] {
	cp := make([]*Polynomial[E], len(rows))
	copy(cp, rows)
	return &Bivariate[E]{zero: zero, rows: cp}
}

// EvalX reduces along the x axis, evaluating every row at x and returning the
// resulting univariate polynomial in y.
func (b *Bivariate[E]) EvalX(x E) *Polynomial[E] {
	coeffs := make([]E, len(b.rows))
	for i, row := range b.rows {
		coeffs[i] = row.Eval(x)
	}
	p := New(b.zero, coeffs)
	p.Canonicalize()
	return p
}

// EvalY reduces along the y axis, evaluating the polynomial-of-rows at y.
func (b *Bivariate[E]) EvalY(y E) *Polynomial[E] {
	if len(b.rows) == 0 {
		return New(b.zero, nil)
	}
	// Horner's method treating each row as a coefficient of y^row.
	result := New(b.zero, b.rows[len(b.rows)-1].Coefficients())
	for i := len(b.rows) - 2; i >= 0; i-- {
		scaled := make([]E, len(result.Coefficients()))
		for j, c := range result.Coefficients() {
			scaled[j] = c.Mul(y)
		}
		result = New(b.zero, scaled).Add(b.rows[i])
	}
	return result
}

// Eval evaluates the bivariate polynomial fully at (x, y).
func (b *Bivariate[E]) Eval(x, y E) E {
	return b.EvalX(x).Eval(y)
}

// Rows returns the row polynomials.
func (b *Bivariate[E]) Rows() []*Polynomial[E] { return b.rows }
