package preprocessing_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nilmpc/coren/pkg/field"
	"github.com/nilmpc/coren/pkg/preprocessing"
)

func sequentialGenerator(f *field.SafePrime) preprocessing.Generator {
	counters := map[preprocessing.ElementKind]uint64{}
	return func(_ context.Context, kind preprocessing.ElementKind, n int) ([]field.Element, error) {
		out := make([]field.Element, n)
		for i := 0; i < n; i++ {
			counters[kind]++
			out[i] = f.FromUint64(counters[kind])
		}
		return out, nil
	}
}

func TestRunGeneratesUntilTargetReached(t *testing.T) {
	f := field.SafePrime64
	pool := preprocessing.NewPool()
	require.NoError(t, pool.SetTarget(preprocessing.Compare, 10))
	require.NoError(t, pool.SetTarget(preprocessing.Trunc, 4))

	require.NoError(t, pool.Run(context.Background(), 3, sequentialGenerator(f)))

	offsets, err := pool.Offsets(preprocessing.Compare)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), offsets.Latest)
	assert.Equal(t, uint64(10), offsets.Committed)

	offsets, err = pool.Offsets(preprocessing.Trunc)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), offsets.Latest)

	// Kinds with no target set stay untouched.
	offsets, err = pool.Offsets(preprocessing.Modulo)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), offsets.Target)
}

func TestReserveAtomicAcrossKinds(t *testing.T) {
	f := field.SafePrime64
	pool := preprocessing.NewPool()
	require.NoError(t, pool.SetTarget(preprocessing.Compare, 5))
	require.NoError(t, pool.SetTarget(preprocessing.Modulo, 2))
	require.NoError(t, pool.Run(context.Background(), 5, sequentialGenerator(f)))

	// Asking for more Modulo elements than exist must reserve nothing,
	// including from Compare, which has plenty.
	_, err := pool.Reserve(map[preprocessing.ElementKind]int{
		preprocessing.Compare: 3,
		preprocessing.Modulo:  3,
	})
	var shortage *preprocessing.ErrShortage
	require.ErrorAs(t, err, &shortage)
	assert.Equal(t, preprocessing.Modulo, shortage.Kind)

	compareOffsets, err := pool.Offsets(preprocessing.Compare)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), compareOffsets.Reserved)

	batch, err := pool.Reserve(map[preprocessing.ElementKind]int{
		preprocessing.Compare: 3,
		preprocessing.Modulo:  2,
	})
	require.NoError(t, err)
	assert.Len(t, batch[preprocessing.Compare], 3)
	assert.Len(t, batch[preprocessing.Modulo], 2)

	compareOffsets, err = pool.Offsets(preprocessing.Compare)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), compareOffsets.Reserved)
}

func TestReclaimFollowsDeleteCandidate(t *testing.T) {
	f := field.SafePrime64
	pool := preprocessing.NewPool()
	require.NoError(t, pool.SetTarget(preprocessing.RandomBoolean, 4))
	require.NoError(t, pool.Run(context.Background(), 4, sequentialGenerator(f)))

	_, err := pool.Reserve(map[preprocessing.ElementKind]int{preprocessing.RandomBoolean: 2})
	require.NoError(t, err)

	require.NoError(t, pool.MarkDeleteCandidate(preprocessing.RandomBoolean))
	require.NoError(t, pool.ReclaimDeleted(preprocessing.RandomBoolean))

	offsets, err := pool.Offsets(preprocessing.RandomBoolean)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), offsets.Deleted)
	assert.NoError(t, offsets.Validate())
}
