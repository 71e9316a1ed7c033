package polynomial_test

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nilmpc/coren/pkg/field"
	"github.com/nilmpc/coren/pkg/polynomial"
)

func p433(t *testing.T) *field.SafePrime {
	t.Helper()
	f, err := field.NewPrimeField(big.NewInt(433))
	require.NoError(t, err)
	return f
}

func makePoly(t *testing.T, f *field.SafePrime, coeffs []int64) *polynomial.Polynomial[field.Element] {
	t.Helper()
	elems := make([]field.Element, len(coeffs))
	for i, c := range coeffs {
		elems[i] = f.FromInt64(c)
	}
	return polynomial.New(f.Zero(), elems)
}

func TestEvalHorner(t *testing.T) {
	f := p433(t)
	poly := makePoly(t, f, []int64{10, 2, 3})
	result := poly.Eval(f.FromUint64(2))
	assert.True(t, result.Equal(f.FromUint64(26))) // 10 + 2*2 + 3*4
}

func TestLagrangePolynomial(t *testing.T) {
	f := p433(t)
	// y = 5 + 68x
	seq := polynomial.NewPointSequence[field.Element]()
	for x := int64(1); x <= 3; x++ {
		y := 5 + 68*x
		seq.Push(polynomial.NewPoint(f.FromInt64(x), f.FromInt64(y)))
	}
	got, err := polynomial.LagrangePolynomial(f.Zero(), f.One(), seq)
	require.NoError(t, err)
	expected := makePoly(t, f, []int64{5, 68})
	assert.True(t, got.Equal(expected))
}

func TestGaoDecodeRecoversFromOneError(t *testing.T) {
	f := p433(t)
	// y = 5 + 68x, first coordinate corrupted: expected y(1)=73 but we supply 130.
	coords := [][2]int64{{1, 130}, {2, 141}, {3, 209}, {4, 277}}
	seq := polynomial.NewPointSequence[field.Element]()
	for _, c := range coords {
		seq.Push(polynomial.NewPoint(f.FromInt64(c[0]), f.FromInt64(c[1])))
	}
	decoded, locator, err := polynomial.GaoDecode(f.Zero(), f.One(), seq, 1, 1)
	require.NoError(t, err)
	assert.True(t, decoded.Equal(makePoly(t, f, []int64{5, 68})))
	assert.True(t, locator.Equal(makePoly(t, f, []int64{205, 228})))
}

func TestGaoDecodeUnrecoverableWithTwoErrors(t *testing.T) {
	f := p433(t)
	coords := [][2]int64{{1, 60}, {2, 253}, {3, 209}, {4, 277}}
	seq := polynomial.NewPointSequence[field.Element]()
	for _, c := range coords {
		seq.Push(polynomial.NewPoint(f.FromInt64(c[0]), f.FromInt64(c[1])))
	}
	_, _, err := polynomial.GaoDecode(f.Zero(), f.One(), seq, 1, 1)
	assert.ErrorIs(t, err, polynomial.ErrUnrecoverable)
}

func TestGaoDecodeRejectsEmptyAndDuplicates(t *testing.T) {
	f := p433(t)
	empty := polynomial.NewPointSequence[field.Element]()
	_, _, err := polynomial.GaoDecode(f.Zero(), f.One(), empty, 1, 1)
	assert.ErrorIs(t, err, polynomial.ErrEmptySequence)

	dup := polynomial.NewPointSequence[field.Element]()
	dup.Push(polynomial.NewPoint(f.FromInt64(1), f.FromInt64(2)))
	dup.Push(polynomial.NewPoint(f.FromInt64(1), f.FromInt64(3)))
	_, _, err = polynomial.GaoDecode(f.Zero(), f.One(), dup, 1, 1)
	assert.ErrorIs(t, err, polynomial.ErrHasDuplicates)
}
