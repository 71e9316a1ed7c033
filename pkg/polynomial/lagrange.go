package polynomial

import "errors"

// ErrInterpolation is returned when a point sequence cannot be interpolated,
// e.g. it is empty or has duplicate abscissae.
var ErrInterpolation = errors.New("polynomial: interpolation failed")

// LagrangePolynomial reconstructs the unique polynomial of degree < len(points)
// passing through every point in the sequence, using the standard Lagrange
// basis-polynomial construction.
func LagrangePolynomial[E Elem[E]](zero, one E, seq *PointSequence[E]) (*Polynomial[E], error) {
	pts := seq.Points()
	if len(pts) == 0 {
		return nil, ErrInterpolation
	}
	if seq.HasDuplicates() {
		return nil, ErrInterpolation
	}

	result := New(zero, nil)
	for i, pi := range pts {
		// basis_i(x) = prod_{j != i} (x - x_j) / (x_i - x_j)
		basis := New(zero, []E{one})
		denom := one
		for j, pj := range pts {
			if i == j {
				continue
			}
			term := New(zero, []E{pj.X.Neg(), one}) // (x - x_j)
			basis = basis.Mul(term)
			denom = denom.Mul(pi.X.Sub(pj.X))
		}
		denomInv, err := denom.Inv()
		if err != nil {
			return nil, err
		}
		scale := pi.Y.Mul(denomInv)
		scaled := make([]E, len(basis.coefficients))
		for k, c := range basis.coefficients {
			scaled[k] = c.Mul(scale)
		}
		result = result.Add(New(zero, scaled))
	}
	return result, nil
}

// LagrangeCoefficientsAtZero returns, for each abscissa x_i in xs, the weight
// w_i such that sum_i w_i*y_i recovers P(0) for any polynomial P interpolated
// through (x_i, y_i). This is the fast path used by Shamir secret recovery,
// which only needs the constant term and not the full polynomial.
func LagrangeCoefficientsAtZero[E Elem[E]](zero, one E, xs []E) (map[int]E, error) {
	coeffs := make(map[int]E, len(xs))
	for i, xi := range xs {
		num := one
		den := one
		for j, xj := range xs {
			if i == j {
				continue
			}
			num = num.Mul(xj.Neg())
			den = den.Mul(xi.Sub(xj))
		}
		denInv, err := den.Inv()
		if err != nil {
			return nil, err
		}
		coeffs[i] = num.Mul(denInv)
	}
	return coeffs, nil
}
