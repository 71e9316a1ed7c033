package reveal_test

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nilmpc/coren/pkg/field"
	"github.com/nilmpc/coren/pkg/party"
	"github.com/nilmpc/coren/pkg/shamir"
	"github.com/nilmpc/coren/protocols/reveal"
)

func TestRevealRoundTrip(t *testing.T) {
	f := field.SafePrime64
	parties := []party.ID{party.New([]byte{1}), party.New([]byte{2}), party.New([]byte{3})}
	mapper := party.NewMapper(f, parties)
	sharer := shamir.NewSharer(f, mapper)

	secret := f.FromUint64(777)
	shares, err := sharer.GenerateShares(secret, 1, rand.Reader)
	require.NoError(t, err)

	state := reveal.New(sharer, parties)
	for _, p := range parties {
		require.NoError(t, state.StoreMessage(p, reveal.Message{Share: shares[p]}))
	}
	assert.True(t, state.IsReady())

	got, err := state.Finalize()
	require.NoError(t, err)
	assert.True(t, got.Equal(secret))
}

func TestRevealRejectsDuplicateAndIncomplete(t *testing.T) {
	f := field.SafePrime64
	parties := []party.ID{party.New([]byte{1}), party.New([]byte{2}), party.New([]byte{3})}
	mapper := party.NewMapper(f, parties)
	sharer := shamir.NewSharer(f, mapper)

	state := reveal.New(sharer, parties)
	require.NoError(t, state.StoreMessage(parties[0], reveal.Message{Share: f.FromUint64(1)}))
	assert.Error(t, state.StoreMessage(parties[0], reveal.Message{Share: f.FromUint64(2)}))

	_, err := state.Finalize()
	assert.ErrorIs(t, err, reveal.ErrNotReady)
}
