package mpi_test

import (
	"errors"
	"testing"
	"time"

	"github.com/amanotk/hellohpc/mpi"
	"github.com/amanotk/hellohpc/mpi/mpitest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsendIrecv(t *testing.T) {
	world := mpitest.World(t, 2)
	errs := mpitest.Run(t, world, func(comm mpi.Mpi) error {
		peer := 1 - comm.Rank()
		got := make([]int, 3)
		// Both sides post the receive first, nobody has to go first
		recv := mpi.Irecv(comm, &got, peer, 1)
		send := mpi.Isend(comm, []int{comm.Rank(), comm.Rank(), comm.Rank()}, peer, 1)
		if err := mpi.WaitAll(recv, send); err != nil {
			return err
		}
		for _, v := range got {
			if v != peer {
				return errors.New("wrong payload")
			}
		}
		return nil
	})
	for rank, err := range errs {
		require.NoError(t, err, "rank %d", rank)
	}
}

func TestRequestDone(t *testing.T) {
	world := mpitest.World(t, 1)
	comm := world[0]
	var got string
	recv := mpi.Irecv(comm, &got, 0, 0)
	time.Sleep(10 * time.Millisecond)
	assert.False(t, recv.Done())

	require.NoError(t, mpi.Isend(comm, "self", 0, 0).Wait())
	require.NoError(t, recv.Wait())
	assert.True(t, recv.Done())
	assert.Equal(t, "self", got)
}

func TestWaitAllReportsFirstError(t *testing.T) {
	world := mpitest.World(t, 1)
	comm := world[0]
	ok := mpi.Isend(comm, 1, 0, 2)
	var got int
	okRecv := mpi.Irecv(comm, &got, 0, 2)
	bad := mpi.Isend(comm, 1, 5, 2)
	err := mpi.WaitAll(ok, okRecv, bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request 2")
	assert.Equal(t, 1, got)
}
