package mult_test

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nilmpc/coren/pkg/field"
	"github.com/nilmpc/coren/pkg/party"
	"github.com/nilmpc/coren/pkg/shamir"
	"github.com/nilmpc/coren/protocols/beaver"
	"github.com/nilmpc/coren/protocols/mult"
)

func TestBatchedMultiplication(t *testing.T) {
	f := field.SafePrime64
	parties := []party.ID{party.New([]byte{1}), party.New([]byte{2}), party.New([]byte{3})}
	mapper := party.NewMapper(f, parties)
	sharer := shamir.NewSharer(f, mapper)

	lefts := []uint64{3, 5, 7}
	rights := []uint64{4, 6, 8}

	leftSharesByIdx := make([]map[party.ID]field.Element, len(lefts))
	rightSharesByIdx := make([]map[party.ID]field.Element, len(rights))
	triplesByIdx := make([]map[party.ID]beaver.Triple, len(lefts))

	for i := range lefts {
		ls, err := sharer.GenerateShares(f.FromUint64(lefts[i]), 1, rand.Reader)
		require.NoError(t, err)
		rs, err := sharer.GenerateShares(f.FromUint64(rights[i]), 1, rand.Reader)
		require.NoError(t, err)
		leftSharesByIdx[i] = ls
		rightSharesByIdx[i] = rs

		a := f.FromUint64(uint64(10 + i))
		b := f.FromUint64(uint64(20 + i))
		c := a.Mul(b)
		as, err := sharer.GenerateShares(a, 1, rand.Reader)
		require.NoError(t, err)
		bs, err := sharer.GenerateShares(b, 1, rand.Reader)
		require.NoError(t, err)
		cs, err := sharer.GenerateShares(c, 1, rand.Reader)
		require.NoError(t, err)

		triples := make(map[party.ID]beaver.Triple, len(parties))
		for _, p := range parties {
			triples[p] = beaver.NewTriple(as[p], bs[p], cs[p])
		}
		triplesByIdx[i] = triples
	}

	states := make(map[party.ID]*mult.State, len(parties))
	for _, p := range parties {
		triples := make([]beaver.Triple, len(lefts))
		for i := range lefts {
			triples[i] = triplesByIdx[i][p]
		}
		states[p] = mult.New(sharer, triples, parties)
	}

	for _, sender := range parties {
		leftBatch := make([]field.Element, len(lefts))
		rightBatch := make([]field.Element, len(rights))
		for i := range lefts {
			leftBatch[i] = leftSharesByIdx[i][sender]
			rightBatch[i] = rightSharesByIdx[i][sender]
		}
		msg, err := states[sender].PrepareLocal(leftBatch, rightBatch)
		require.NoError(t, err)

		for _, receiver := range parties {
			require.NoError(t, states[receiver].StoreMessage(sender, msg))
		}
	}

	outputShares := make([][]field.Element, len(parties))
	for idx, p := range parties {
		assert.True(t, states[p].IsReady())
		out, err := states[p].Finalize()
		require.NoError(t, err)
		outputShares[idx] = out
	}

	for i := range lefts {
		recoverSet := make(map[party.ID]field.Element, len(parties))
		for idx, p := range parties {
			recoverSet[p] = outputShares[idx][i]
		}
		result, err := sharer.Recover(recoverSet)
		require.NoError(t, err)
		assert.True(t, result.Equal(f.FromUint64(lefts[i]*rights[i])))
	}
}
