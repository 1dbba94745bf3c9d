package ring

import (
	"testing"

	"github.com/amanotk/hellohpc/mpi"
	"github.com/amanotk/hellohpc/mpi/mpitest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNeighbours(t *testing.T) {
	for size := 1; size <= 16; size++ {
		seenNext := make(map[int]bool)
		for rank := 0; rank < size; rank++ {
			next, prev := Next(rank, size), Prev(rank, size)
			assert.Equal(t, (rank+1)%size, next)
			assert.Equal(t, (rank-1+size)%size, prev)
			assert.Equal(t, rank, Prev(next, size), "size %d rank %d", size, rank)
			assert.Equal(t, rank, Next(prev, size), "size %d rank %d", size, rank)
			seenNext[next] = true
		}
		assert.Len(t, seenNext, size, "successor is not a bijection for size %d", size)
	}
	assert.Equal(t, 0, Next(0, 1))
	assert.Equal(t, 0, Prev(0, 1))
	assert.Equal(t, 0, Next(3, 4))
	assert.Equal(t, 3, Prev(0, 4))
}

func TestNewBuffer(t *testing.T) {
	assert.Equal(t, []int{-3, -3, -3, -3}, NewBuffer(4, -3))
	assert.Empty(t, NewBuffer(0, 1))
}

// exchange runs the whole ring exchange on every rank and returns the
// buffers each rank received.
func exchange(t *testing.T, nproc, size int) (recv1, recv2 [][]int) {
	world := mpitest.World(t, nproc)
	recv1 = make([][]int, nproc)
	recv2 = make([][]int, nproc)
	errs := mpitest.Run(t, world, func(comm mpi.Mpi) error {
		rank := comm.Rank()
		r1, r2 := NewBuffer(size, 0), NewBuffer(size, 0)
		err := SendRecv(comm, NewBuffer(size, +rank), NewBuffer(size, -rank), &r1, &r2)
		recv1[rank], recv2[rank] = r1, r2
		return err
	})
	for rank, err := range errs {
		require.NoError(t, err, "rank %d", rank)
	}
	return recv1, recv2
}

func TestSendRecvFourNodes(t *testing.T) {
	recv1, recv2 := exchange(t, 4, 4)
	assert.Equal(t, []int{-3, -3, -3, -3}, recv1[2])
	assert.Equal(t, []int{1, 1, 1, 1}, recv2[2])
	for rank := 0; rank < 4; rank++ {
		assert.NoError(t, Check(rank, 4, 4, recv1[rank], recv2[rank]))
	}
}

func TestSendRecvSizes(t *testing.T) {
	for _, nproc := range []int{1, 2, 3, 5} {
		recv1, recv2 := exchange(t, nproc, 4)
		for rank := 0; rank < nproc; rank++ {
			assert.NoError(t, Check(rank, nproc, 4, recv1[rank], recv2[rank]), "nproc %d rank %d", nproc, rank)
		}
	}
}

func TestCheckMismatch(t *testing.T) {
	assert.NoError(t, Check(2, 4, 2, []int{-3, -3}, []int{1, 1}))
	assert.Error(t, Check(2, 4, 2, []int{-3, 3}, []int{1, 1}))
	assert.Error(t, Check(2, 4, 2, []int{-3, -3}, []int{1, 2}))
	assert.Error(t, Check(2, 4, 2, []int{-3}, []int{1, 1}))
}

func TestSendRecvNotInitialized(t *testing.T) {
	var r1, r2 []int
	assert.Error(t, SendRecv(&mpi.Network{}, nil, nil, &r1, &r2))
}
