package random_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nilmpc/coren/pkg/field"
	"github.com/nilmpc/coren/pkg/party"
	"github.com/nilmpc/coren/protocols/random"
)

func TestJoinSumsContributions(t *testing.T) {
	f := field.SafePrime64
	parties := []party.ID{party.New([]byte{1}), party.New([]byte{2}), party.New([]byte{3})}

	state := random.NewJoin(parties)
	contribs := []uint64{10, 20, 30}
	for i, p := range parties {
		require.NoError(t, state.StoreContribution(p, f.FromUint64(contribs[i])))
	}
	assert.True(t, state.IsReady())

	sum, err := state.Finalize(f)
	require.NoError(t, err)
	assert.True(t, sum.Equal(f.FromUint64(60)))
}

func TestInvertFromRevealed(t *testing.T) {
	f := field.SafePrime64
	b := f.FromUint64(7)
	c := f.FromUint64(21) // pretend c = a*b for some a

	inv, err := random.InvertFromRevealed(b, c)
	require.NoError(t, err)
	// a^-1 share should satisfy inv * c = b (since inv = b * c^-1).
	assert.True(t, inv.Mul(c).Equal(b))
}

func TestInvertFromRevealedAbortsOnZero(t *testing.T) {
	f := field.SafePrime64
	_, err := random.InvertFromRevealed(f.FromUint64(7), f.Zero())
	assert.ErrorIs(t, err, random.ErrAbort)
}

func TestBitFromRevealedSquareProducesBit(t *testing.T) {
	f := field.SafePrime64
	r := f.FromUint64(9)
	rSquared := r.Mul(r)

	bit, err := random.BitFromRevealedSquare(r, rSquared, f)
	require.NoError(t, err)
	assert.True(t, bit.Mul(bit).Equal(bit), "bit must satisfy b*b=b")
}

func TestBitFromRevealedSquareAbortsOnZero(t *testing.T) {
	f := field.SafePrime64
	_, err := random.BitFromRevealedSquare(f.Zero(), f.Zero(), f)
	assert.ErrorIs(t, err, random.ErrAbort)
}

func TestBitwiseCompose(t *testing.T) {
	f := field.SafePrime64
	bits := []field.Element{f.FromUint64(1), f.FromUint64(0), f.FromUint64(1)} // 1 + 0*2 + 1*4 = 5
	bw := random.BitwiseFromBits(bits)
	assert.Equal(t, 3, bw.Len())
	assert.True(t, bw.Compose(f).Equal(f.FromUint64(5)))
}
