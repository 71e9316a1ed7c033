package basictypes_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nilmpc/coren/pkg/basictypes"
	"github.com/nilmpc/coren/pkg/party"
)

func TestJarDefaultIsEmpty(t *testing.T) {
	jar := basictypes.NewJar[int](0)
	assert.True(t, jar.IsEmpty())
	assert.Equal(t, 0, jar.StoredPartyCount())
}

func TestJarDuplicateParty(t *testing.T) {
	p := party.New([]byte{1})
	jar := basictypes.NewJar[int](2)
	require.NoError(t, jar.Add(p, 1))
	err := jar.Add(p, 1)
	assert.Error(t, err)
}

func TestJarFull(t *testing.T) {
	jar := basictypes.NewJar[int](2)
	require.NoError(t, jar.Add(party.New([]byte{1}), 1))
	assert.False(t, jar.IsFull())
	require.NoError(t, jar.Add(party.New([]byte{2}), 2))
	assert.True(t, jar.IsFull())
}

func TestJarElementsSortedByParty(t *testing.T) {
	jar := basictypes.NewJar[int](3)
	ids := []party.ID{party.New([]byte{0}), party.New([]byte{1}), party.New([]byte{2})}
	require.NoError(t, jar.Add(ids[2], 2))
	require.NoError(t, jar.Add(ids[0], 0))
	require.NoError(t, jar.Add(ids[1], 1))

	elements := jar.Elements()
	require.Len(t, elements, 3)
	for i, e := range elements {
		assert.True(t, e.Party.Equal(ids[i]))
		assert.Equal(t, i, e.Element)
	}
}

func TestJarWithElements(t *testing.T) {
	jar, err := basictypes.NewJarWithElements(map[party.ID]int{
		party.New([]byte{0}): 0,
		party.New([]byte{1}): 1,
	})
	require.NoError(t, err)
	assert.True(t, jar.IsFull())
	assert.Equal(t, 2, jar.StoredPartyCount())
}
