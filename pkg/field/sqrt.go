package field

import "math/big"

var (
	big0 = big.NewInt(0)
	big1 = big.NewInt(1)
	big2 = big.NewInt(2)
	big3 = big.NewInt(3)
	big4 = big.NewInt(4)
)

// Sqrt computes a square root of e using the direct formula when p = 3 (mod 4)
// and Tonelli-Shanks otherwise. It never panics; it returns ErrNonQuadraticResidue
// when e has no square root in the field.
func (e Element) Sqrt() (Element, error) {
	p := e.field.p
	mod4 := new(big.Int).Mod(p, big4)
	if mod4.Cmp(big3) == 0 {
		exp := new(big.Int).Add(p, big1)
		exp.Rsh(exp, 2)
		r := e.ExpBig(exp)
		r = r.canonicalSqrtRoot()
		if !r.Mul(r).Equal(e) {
			return Element{}, ErrNonQuadraticResidue
		}
		return r, nil
	}
	return e.tonelliShanks()
}

// canonicalSqrtRoot picks the smaller of {r, -r} as centered residues, so that
// Sqrt is deterministic regardless of which root the algorithm first finds.
func (e Element) canonicalSqrtRoot() Element {
	neg := e.Neg()
	absNeg := new(big.Int).Abs(neg.FloorMod())
	absSelf := new(big.Int).Abs(e.FloorMod())
	if absNeg.Cmp(absSelf) < 0 {
		return neg
	}
	return e
}

func (e Element) tonelliShanks() (Element, error) {
	f := e.field
	p := f.p

	// Factor p-1 = q * 2^s with q odd.
	q := new(big.Int).Sub(p, big1)
	s := 0
	for new(big.Int).And(q, big1).Sign() == 0 {
		q.Rsh(q, 1)
		s++
	}

	// Find a quadratic non-residue z.
	exponent := new(big.Int).Rsh(new(big.Int).Sub(p, big1), 1)
	z := f.One()
	i := new(big.Int).Set(big2)
	for i.Cmp(p) < 0 {
		zi := f.NewElement(i)
		if !zi.ExpBig(exponent).Equal(f.One()) {
			z = zi
			break
		}
		i.Add(i, big1)
	}
	c := z.ExpBig(q)

	t := e.ExpBig(q)
	qPlus1Over2 := new(big.Int).Rsh(new(big.Int).Add(q, big1), 1)
	r := e.ExpBig(qPlus1Over2)

	for {
		if t.IsZero() {
			return Element{}, ErrNonQuadraticResidue
		}
		if t.Equal(f.One()) {
			return r.canonicalSqrtRoot(), nil
		}
		// Find the least i, 0<i<s, such that t^(2^i) = 1.
		i := 1
		tt := t.Mul(t)
		for i < s {
			if tt.Equal(f.One()) {
				break
			}
			tt = tt.Mul(tt)
			i++
		}
		if i == s {
			return Element{}, ErrNonQuadraticResidue
		}
		power := s - i - 1
		b := c
		for j := 0; j < power; j++ {
			b = b.Mul(b)
		}
		s = i
		r = r.Mul(b)
		c = b.Mul(b)
		t = t.Mul(c)
	}
}

// FloorDiv performs floor-division `(e - (e mod divisor)) / divisor` on the
// signed, centered-residue interpretation of e and divisor, matching spec.md
// §4.3's numeric semantics. It fails if divisor is the zero element.
func FloorDiv(a, b Element) (quotient Element, remainder *big.Int, err error) {
	if b.IsZero() {
		return Element{}, nil, ErrDivByZero
	}
	av := a.FloorMod()
	bv := b.FloorMod()
	q, r := new(big.Int), new(big.Int)
	q.DivMod(av, bv, r)
	// big.Int.DivMod implements Euclidean division (r >= 0); adjust to the
	// sign-of-divisor convention used by the engine: |r| < |b|, sign(r) == sign(b).
	if r.Sign() != 0 && bv.Sign() < 0 {
		r.Add(r, bv)
		q.Sub(q, big1)
	}
	return a.field.NewElement(q), r, nil
}
