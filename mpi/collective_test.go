package mpi_test

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/amanotk/hellohpc/mpi"
	"github.com/amanotk/hellohpc/mpi/mpitest"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestBarrier(t *testing.T) {
	const size = 4
	world := mpitest.World(t, size)
	var arrived atomic.Int32
	errs := mpitest.Run(t, world, func(comm mpi.Mpi) error {
		for round := int32(1); round <= 3; round++ {
			arrived.Add(1)
			if err := mpi.Barrier(comm); err != nil {
				return err
			}
			if got := arrived.Load(); got < round*size {
				return errors.Errorf("left barrier %d with only %d arrivals", round, got)
			}
			if err := mpi.Barrier(comm); err != nil {
				return err
			}
		}
		return nil
	})
	for rank, err := range errs {
		require.NoError(t, err, "rank %d", rank)
	}
}

func TestBcast(t *testing.T) {
	type payload struct {
		Name string
		Dims []int
	}
	world := mpitest.World(t, 3)
	for _, root := range []int{0, 2} {
		errs := mpitest.Run(t, world, func(comm mpi.Mpi) error {
			var p payload
			if comm.Rank() == root {
				p = payload{Name: "data", Dims: []int{4, 12}}
			}
			if err := mpi.Bcast(comm, &p, root); err != nil {
				return err
			}
			if p.Name != "data" || len(p.Dims) != 2 || p.Dims[1] != 12 {
				return errors.Errorf("rank %d got %+v", comm.Rank(), p)
			}
			return nil
		})
		for rank, err := range errs {
			require.NoError(t, err, "root %d rank %d", root, rank)
		}
	}
}

func TestBcastClearsStaleFields(t *testing.T) {
	type payload struct {
		Name string
		Rows int
	}
	world := mpitest.World(t, 2)
	errs := mpitest.Run(t, world, func(comm mpi.Mpi) error {
		p := payload{Name: "stale", Rows: 9}
		if comm.Rank() == mpi.Root {
			p = payload{Rows: 4}
		}
		if err := mpi.Bcast(comm, &p, mpi.Root); err != nil {
			return err
		}
		if p != (payload{Rows: 4}) {
			return errors.Errorf("rank %d got %+v", comm.Rank(), p)
		}
		return nil
	})
	for rank, err := range errs {
		require.NoError(t, err, "rank %d", rank)
	}
}

func TestBarrierSingle(t *testing.T) {
	world := mpitest.World(t, 1)
	require.NoError(t, mpi.Barrier(world[0]))
	v := 3
	require.NoError(t, mpi.Bcast(world[0], &v, 0))
}

func TestFinalizeAllDeliversPendingMessages(t *testing.T) {
	const size = 3
	world := mpitest.World(t, size)
	got := make([]string, size)
	errs := mpitest.Run(t, world, func(comm mpi.Mpi) error {
		rank := comm.Rank()
		if rank != mpi.Root {
			// No Wait: the sender goes straight to shutdown
			if err := comm.Send(fmt.Sprintf("from %d", rank), mpi.Root, 7); err != nil {
				return err
			}
			return mpi.FinalizeAll(comm)
		}
		for i := 1; i < size; i++ {
			if err := comm.Receive(&got[i], i, 7); err != nil {
				return err
			}
		}
		return mpi.FinalizeAll(comm)
	})
	for rank, err := range errs {
		require.NoError(t, err, "rank %d", rank)
	}
	require.Equal(t, []string{"", "from 1", "from 2"}, got)
}

func TestFinalizeAllSingle(t *testing.T) {
	world := mpitest.World(t, 1)
	require.NoError(t, mpi.FinalizeAll(world[0]))
}
