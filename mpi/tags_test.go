package mpi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTagManager(t *testing.T) {
	m := newTagManager()

	// Delivery before the claim is kept on the channel
	m.Channel(4) <- []byte("early")
	c, err := m.Claim(4, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("early"), <-c)

	_, err = m.Claim(4, 1)
	assert.Equal(t, TagExists{Tag: 4, Peer: 1}, err)

	looked, ok := m.Lookup(4)
	require.True(t, ok)
	assert.Equal(t, c, looked)

	m.Delete(4)
	_, ok = m.Lookup(4)
	assert.False(t, ok)

	// Unclaimed tags are not visible to Lookup
	m.Channel(5)
	_, ok = m.Lookup(5)
	assert.False(t, ok)

	_, err = m.Claim(4, 1)
	assert.NoError(t, err)
}

func TestHashPassword(t *testing.T) {
	assert.Equal(t, hashPassword("a"), hashPassword("a"))
	assert.NotEqual(t, hashPassword("a"), hashPassword("b"))
	assert.NotEqual(t, "a", hashPassword("a"))
}
