package polynomial

import "errors"

// ErrUnrecoverable is returned by GaoDecode when too many points are corrupted
// to recover a unique polynomial.
var ErrUnrecoverable = errors.New("polynomial: unrecoverable, too many errors")

// ErrEmptySequence is returned by GaoDecode on an empty point sequence.
var ErrEmptySequence = errors.New("polynomial: empty point sequence")

// ErrHasDuplicates is returned by GaoDecode when the sequence has duplicate abscissae.
var ErrHasDuplicates = errors.New("polynomial: sequence has duplicate abscissae")

// GaoDecode recovers the unique polynomial of degree <= degree consistent
// with at least len(points)-maxError of the given evaluations, tolerating up
// to maxError arbitrary corruptions. It requires len(points) >= degree+1+2*maxError.
//
// Returns the decoded polynomial and the error-locator polynomial (whose
// roots are the abscissae of the corrupted points).
func GaoDecode[E Elem[E]](zero, one E, seq *PointSequence[E], degree, maxError int) (*Polynomial[E], *Polynomial[E], error) {
	if seq.IsEmpty() {
		return nil, nil, ErrEmptySequence
	}
	if seq.HasDuplicates() {
		return nil, nil, ErrHasDuplicates
	}

	maxDegree := degree + 1
	minRemDegree := maxDegree + maxError
	minSequenceLen := minRemDegree + maxError
	if seq.Len() < minSequenceLen {
		return nil, nil, ErrUnrecoverable
	}

	faultyPoly, err := LagrangePolynomial(zero, one, seq)
	if err != nil {
		return nil, nil, err
	}

	encodePoly := New(zero, []E{one})
	for _, pi := range seq.Points() {
		term := New(zero, []E{pi.X.Neg(), one})
		encodePoly = encodePoly.Mul(term)
	}

	r0 := encodePoly
	r1 := faultyPoly
	s0 := New(zero, []E{one})
	s1 := New(zero, nil)
	t0 := New(zero, nil)
	t1 := New(zero, []E{one})

	for {
		q, r2, err := r0.Div(r1)
		if err != nil {
			return nil, nil, err
		}

		if r0.Degree() < minRemDegree {
			g, leftover, err := r0.Div(t0)
			if err != nil {
				return nil, nil, err
			}
			if leftover.IsEmpty() {
				return g, t0, nil
			}
			return nil, nil, ErrUnrecoverable
		}

		s1Old, t1Old := s1, t1
		s1 = s0.Sub(s1.Mul(q))
		t1 = t0.Sub(t1.Mul(q))
		r0 = r1
		s0 = s1Old
		t0 = t1Old
		r1 = r2
	}
}
