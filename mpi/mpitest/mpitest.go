// Package mpitest runs several mpi.Network processes inside one test binary,
// each on its own loopback port, so code written against mpi.Mpi can be
// exercised with a real group.
package mpitest

import (
	"net"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/amanotk/hellohpc/mpi"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Timeout bounds both Init and Run. A collective that some rank never calls
// stalls forever, so tests rely on it.
var Timeout = 20 * time.Second

// Password is used by every network started by World.
const Password = "mpitest"

// FreeAddrs returns n loopback addresses that were free when checked.
func FreeAddrs(n int) ([]string, error) {
	addrs := make([]string, n)
	listeners := make([]net.Listener, n)
	defer func() {
		for _, l := range listeners {
			if l != nil {
				l.Close()
			}
		}
	}()
	for i := range addrs {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return nil, errors.Wrap(err, "looking for a free port")
		}
		listeners[i] = l
		addrs[i] = l.Addr().String()
	}
	return addrs, nil
}

// Networks returns size uninitialized networks that form one group.
func Networks(size int) ([]*mpi.Network, error) {
	addrs, err := FreeAddrs(size)
	if err != nil {
		return nil, err
	}
	nets := make([]*mpi.Network, size)
	for i := range nets {
		nets[i] = &mpi.Network{
			NetProto: "tcp",
			Addr:     addrs[i],
			Addrs:    addrs,
			Timeout:  Timeout,
			Password: Password,
		}
	}
	return nets, nil
}

// World initializes a group of size processes and returns them indexed by
// rank. They are finalized when the test ends.
func World(t testing.TB, size int) []mpi.Mpi {
	t.Helper()
	nets, err := Networks(size)
	if err != nil {
		t.Fatalf("mpitest: %+v", err)
	}
	var g errgroup.Group
	for _, n := range nets {
		g.Go(n.Init)
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("mpitest: init: %+v", err)
	}
	t.Cleanup(func() {
		for _, n := range nets {
			n.Finalize()
		}
	})

	world := make([]mpi.Mpi, size)
	for i, n := range nets {
		world[i] = n
	}
	sort.Slice(world, func(i, j int) bool { return world[i].Rank() < world[j].Rank() })
	return world
}

// Run calls fn once per rank of world, concurrently, and returns the error of
// each rank. It fails the test if some rank has not returned within Timeout.
func Run(t testing.TB, world []mpi.Mpi, fn func(comm mpi.Mpi) error) []error {
	t.Helper()
	errs, ok := RunWithin(world, Timeout, fn)
	if !ok {
		t.Fatalf("mpitest: group did not finish within %s", Timeout)
	}
	return errs
}

// RunWithin is Run with an explicit bound. It reports false if some rank was
// still running when the bound passed; those ranks are left running and get
// an error saying so in the returned slice, which is a snapshot the stalled
// ranks never write to.
func RunWithin(world []mpi.Mpi, d time.Duration, fn func(comm mpi.Mpi) error) ([]error, bool) {
	var mux sync.Mutex
	errs := make([]error, len(world))
	finished := make([]bool, len(world))
	done := make(chan int, len(world))
	for i, comm := range world {
		i, comm := i, comm
		go func() {
			var err error
			defer func() {
				if r := recover(); r != nil {
					err = errors.Errorf("rank %d panicked: %v", i, r)
				}
				mux.Lock()
				errs[i], finished[i] = err, true
				mux.Unlock()
				done <- i
			}()
			err = fn(comm)
		}()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	for range world {
		select {
		case <-done:
		case <-timer.C:
			mux.Lock()
			defer mux.Unlock()
			snapshot := make([]error, len(errs))
			for i := range errs {
				if finished[i] {
					snapshot[i] = errs[i]
				} else {
					snapshot[i] = errors.Errorf("rank %d still running after %s", i, d)
				}
			}
			return snapshot, false
		}
	}
	return errs, true
}
