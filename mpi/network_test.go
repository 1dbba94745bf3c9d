package mpi_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/amanotk/hellohpc/mpi"
	"github.com/amanotk/hellohpc/mpi/mpitest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestNetworkRanks(t *testing.T) {
	world := mpitest.World(t, 3)
	for i, comm := range world {
		assert.Equal(t, i, comm.Rank())
		assert.Equal(t, 3, comm.Size())
	}
}

func TestNetworkSendReceive(t *testing.T) {
	world := mpitest.World(t, 3)
	errs := mpitest.Run(t, world, func(comm mpi.Mpi) error {
		rank, size := comm.Rank(), comm.Size()
		var g errgroup.Group
		for i := 0; i < size; i++ {
			i := i
			g.Go(func() error {
				msg := fmt.Sprintf("hello node %d, I'm node %d", i, rank)
				if err := comm.Send(msg, i, 0); err != nil {
					return err
				}
				return comm.Wait(i, 0)
			})
			g.Go(func() error {
				var msg string
				if err := comm.Receive(&msg, i, 0); err != nil {
					return err
				}
				if want := fmt.Sprintf("hello node %d, I'm node %d", rank, i); msg != want {
					return fmt.Errorf("got %q, want %q", msg, want)
				}
				return nil
			})
		}
		return g.Wait()
	})
	for rank, err := range errs {
		require.NoError(t, err, "rank %d", rank)
	}
}

func TestNetworkMessageBeforeReceive(t *testing.T) {
	world := mpitest.World(t, 2)
	require.NoError(t, world[0].Send([]int{1, 2, 3}, 1, 7))

	// The message is held until the receive is posted
	time.Sleep(50 * time.Millisecond)
	var got []int
	require.NoError(t, world[1].Receive(&got, 0, 7))
	assert.Equal(t, []int{1, 2, 3}, got)
	require.NoError(t, world[0].Wait(1, 7))
}

func TestNetworkTagReuse(t *testing.T) {
	world := mpitest.World(t, 2)
	for round := 0; round < 5; round++ {
		require.NoError(t, world[0].Send(round, 1, 3))
		var got int
		require.NoError(t, world[1].Receive(&got, 0, 3))
		assert.Equal(t, round, got)
		require.NoError(t, world[0].Wait(1, 3))
	}
}

func TestNetworkTagExists(t *testing.T) {
	world := mpitest.World(t, 2)
	require.NoError(t, world[0].Send(1, 1, 5))
	err := world[0].Send(2, 1, 5)
	var tagErr mpi.TagExists
	require.ErrorAs(t, err, &tagErr)
	assert.Equal(t, 5, tagErr.Tag)
	assert.Equal(t, 1, tagErr.Peer)

	var got int
	require.NoError(t, world[1].Receive(&got, 0, 5))
	require.NoError(t, world[0].Wait(1, 5))
	assert.Equal(t, 1, got)
}

func TestNetworkSelfSend(t *testing.T) {
	world := mpitest.World(t, 1)
	comm := world[0]
	require.NoError(t, comm.Send("talking to myself", 0, 0))
	var got string
	require.NoError(t, comm.Receive(&got, 0, 0))
	require.NoError(t, comm.Wait(0, 0))
	assert.Equal(t, "talking to myself", got)
}

func TestNetworkErrors(t *testing.T) {
	world := mpitest.World(t, 2)
	assert.Error(t, world[0].Send(1, 2, 0), "destination out of range")
	assert.Error(t, world[0].Wait(1, 9), "nothing sent with this tag")
	var got int
	assert.Error(t, world[0].Receive(&got, -1, 0), "source out of range")
}

func TestNetworkInitErrors(t *testing.T) {
	t.Run("not initialized", func(t *testing.T) {
		n := &mpi.Network{}
		assert.Equal(t, -1, n.Rank())
		assert.Equal(t, 0, n.Size())
		assert.Error(t, n.Send(1, 0, 0))
	})
	t.Run("duplicate addresses", func(t *testing.T) {
		n := &mpi.Network{Addr: ":5000", Addrs: []string{":5000", ":5000"}}
		assert.Error(t, n.Init())
		assert.Equal(t, -1, n.Rank())
	})
	t.Run("local address missing", func(t *testing.T) {
		n := &mpi.Network{Addr: ":5002", Addrs: []string{":5000", ":5001"}}
		assert.Error(t, n.Init())
	})
	t.Run("bad password", func(t *testing.T) {
		nets, err := mpitest.Networks(2)
		require.NoError(t, err)
		for _, n := range nets {
			n.Timeout = 2 * time.Second
		}
		nets[1].Password = "something else"
		errs := make(chan error, 2)
		for _, n := range nets {
			n := n
			go func() { errs <- n.Init() }()
		}
		assert.Error(t, <-errs)
		assert.Error(t, <-errs)
		for _, n := range nets {
			n.Finalize()
		}
	})
}
