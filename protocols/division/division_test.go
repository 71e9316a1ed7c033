package division_test

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nilmpc/coren/pkg/field"
	"github.com/nilmpc/coren/pkg/party"
	"github.com/nilmpc/coren/pkg/shamir"
	"github.com/nilmpc/coren/protocols/beaver"
	"github.com/nilmpc/coren/protocols/division"
	"github.com/nilmpc/coren/protocols/mult"
	"github.com/nilmpc/coren/protocols/random"
)

func threeParties(t *testing.T) (*field.SafePrime, []party.ID, *shamir.Sharer) {
	t.Helper()
	f := field.SafePrime64
	parties := []party.ID{party.New([]byte{1}), party.New([]byte{2}), party.New([]byte{3})}
	mapper := party.NewMapper(f, parties)
	return f, parties, shamir.NewSharer(f, mapper)
}

func TestTruncPR(t *testing.T) {
	f, parties, sharer := threeParties(t)

	x := f.FromUint64(100) // 100 >> 3 == 12 (100 = 0b1100100)
	const shift = 3

	rLow := f.FromUint64(3)  // < 2^3; 100's low bits are 4 and 4+3 < 8, so no carry
	rHigh := f.FromUint64(7) // arbitrary high part
	r := rHigh.Mul(f.FromUint64(1 << shift)).Add(rLow)

	xShares, err := sharer.GenerateShares(x, 1, rand.Reader)
	require.NoError(t, err)
	rShares, err := sharer.GenerateShares(r, 1, rand.Reader)
	require.NoError(t, err)
	rHighShares, err := sharer.GenerateShares(rHigh, 1, rand.Reader)
	require.NoError(t, err)

	maskedShares := make(map[party.ID]field.Element, len(parties))
	for _, p := range parties {
		maskedShares[p] = xShares[p].Add(rShares[p])
	}
	c, err := sharer.Recover(maskedShares)
	require.NoError(t, err)

	quotientShares := make(map[party.ID]field.Element, len(parties))
	for _, p := range parties {
		quotientShares[p] = division.TruncPR(c, shift, rHighShares[p], f)
	}
	quotient, err := sharer.Recover(quotientShares)
	require.NoError(t, err)
	assert.True(t, quotient.Equal(f.FromUint64(12)))
}

func TestModuloPublicDivisorAndModulo2m(t *testing.T) {
	f, _, _ := threeParties(t)

	x := f.FromUint64(17)
	quotient := f.FromUint64(17 / 5) // 3
	remainder := division.ModuloPublicDivisor(x, quotient, 5, f)
	assert.True(t, remainder.Equal(f.FromUint64(17%5)))

	x2 := f.FromUint64(13) // 13 mod 8 = 5, 13 >> 3 = 1
	q2 := f.FromUint64(1)
	rem2 := division.Modulo2mPublicDivisor(x2, q2, 3, f)
	assert.True(t, rem2.Equal(f.FromUint64(5)))
}

func TestFixedPointReciprocalAndScale(t *testing.T) {
	f, parties, sharer := threeParties(t)

	const precision = 16
	x := f.FromUint64(100)
	xShares, err := sharer.GenerateShares(x, 1, rand.Reader)
	require.NoError(t, err)

	scaledShares := make(map[party.ID]field.Element, len(parties))
	for _, p := range parties {
		scaledShares[p] = division.ScaleByReciprocal(xShares[p], 5, precision, f)
	}
	scaled, err := sharer.Recover(scaledShares)
	require.NoError(t, err)

	got := scaled.Big()
	got.Rsh(got, precision)
	assert.Equal(t, int64(20), got.Int64()) // 100/5 == 20
}

func TestReciprocalShareAndDivisionSecretDivisor(t *testing.T) {
	f, parties, sharer := threeParties(t)

	divisor := f.FromUint64(6)
	dividend := f.FromUint64(18) // exact multiple of divisor

	rVal, err := f.RandomElement(rand.Reader)
	require.NoError(t, err)
	for rVal.IsZero() {
		rVal, err = f.RandomElement(rand.Reader)
		require.NoError(t, err)
	}

	rShares, err := sharer.GenerateShares(rVal, 1, rand.Reader)
	require.NoError(t, err)
	divisorShares, err := sharer.GenerateShares(divisor, 1, rand.Reader)
	require.NoError(t, err)
	dividendShares, err := sharer.GenerateShares(dividend, 1, rand.Reader)
	require.NoError(t, err)

	a, b := f.FromUint64(23), f.FromUint64(29)
	c := a.Mul(b)
	as, err := sharer.GenerateShares(a, 1, rand.Reader)
	require.NoError(t, err)
	bs, err := sharer.GenerateShares(b, 1, rand.Reader)
	require.NoError(t, err)
	cs, err := sharer.GenerateShares(c, 1, rand.Reader)
	require.NoError(t, err)

	states := make(map[party.ID]*mult.State, len(parties))
	for _, p := range parties {
		states[p] = mult.New(sharer, []beaver.Triple{beaver.NewTriple(as[p], bs[p], cs[p])}, parties)
	}
	for _, sender := range parties {
		msg, err := states[sender].PrepareLocal([]field.Element{divisorShares[sender]}, []field.Element{rShares[sender]})
		require.NoError(t, err)
		for _, receiver := range parties {
			require.NoError(t, states[receiver].StoreMessage(sender, msg))
		}
	}
	maskedDivisorShares := make(map[party.ID]field.Element, len(parties))
	for _, p := range parties {
		out, err := states[p].Finalize()
		require.NoError(t, err)
		maskedDivisorShares[p] = out[0]
	}
	maskedDivisor, err := sharer.Recover(maskedDivisorShares)
	require.NoError(t, err)

	reciprocalShares := make(map[party.ID]field.Element, len(parties))
	for _, p := range parties {
		rs, err := division.ReciprocalShare(rShares[p], maskedDivisor)
		require.NoError(t, err)
		reciprocalShares[p] = rs
	}

	// quotient = dividend * (1/divisor), via a second multiplication.
	a2, b2 := f.FromUint64(31), f.FromUint64(37)
	c2 := a2.Mul(b2)
	as2, err := sharer.GenerateShares(a2, 1, rand.Reader)
	require.NoError(t, err)
	bs2, err := sharer.GenerateShares(b2, 1, rand.Reader)
	require.NoError(t, err)
	cs2, err := sharer.GenerateShares(c2, 1, rand.Reader)
	require.NoError(t, err)

	states2 := make(map[party.ID]*mult.State, len(parties))
	for _, p := range parties {
		states2[p] = mult.New(sharer, []beaver.Triple{beaver.NewTriple(as2[p], bs2[p], cs2[p])}, parties)
	}
	for _, sender := range parties {
		msg, err := states2[sender].PrepareLocal([]field.Element{dividendShares[sender]}, []field.Element{reciprocalShares[sender]})
		require.NoError(t, err)
		for _, receiver := range parties {
			require.NoError(t, states2[receiver].StoreMessage(sender, msg))
		}
	}
	quotientShares := make(map[party.ID]field.Element, len(parties))
	for _, p := range parties {
		out, err := states2[p].Finalize()
		require.NoError(t, err)
		quotientShares[p] = division.DivisionSecretDivisor(out[0])
	}
	quotient, err := sharer.Recover(quotientShares)
	require.NoError(t, err)
	assert.True(t, quotient.Equal(f.FromUint64(3)))
}

func TestReciprocalShareAbortsOnZeroMask(t *testing.T) {
	f := field.SafePrime64
	_, err := division.ReciprocalShare(f.FromUint64(9), f.Zero())
	assert.ErrorIs(t, err, random.ErrAbort)
}
