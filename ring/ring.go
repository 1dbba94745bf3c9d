// Package ring exchanges buffers between the neighbours of a ring of
// processes with non-blocking sends and receives, and checks what arrived.
//
// Every process sends its rank to its successor and its negated rank to its
// predecessor, and receives the matching buffers from both neighbours. All
// four operations are posted before anyone waits, so no process has to go
// first.
package ring

import (
	"github.com/amanotk/hellohpc/mpi"
	"github.com/pkg/errors"
)

// Next returns the successor of rank in a ring of size processes.
func Next(rank, size int) int {
	return (rank + 1) % size
}

// Prev returns the predecessor of rank in a ring of size processes.
func Prev(rank, size int) int {
	return (rank - 1 + size) % size
}

// Messages travelling to the successor carry the forward tag of their
// sender, messages travelling to the predecessor the backward one. With two
// processes successor and predecessor are the same node, and the tags are
// what tells the two buffers apart.
func forwardTag(rank int) int  { return 2 * rank }
func backwardTag(rank int) int { return 2*rank + 1 }

// NewBuffer returns a buffer of the given size with every element set to fill.
func NewBuffer(size, fill int) []int {
	buf := make([]int, size)
	for i := range buf {
		buf[i] = fill
	}
	return buf
}

// SendRecv sends send1 to the successor and send2 to the predecessor of comm,
// and receives recv1 from the successor and recv2 from the predecessor. It
// returns once all four operations have completed. The buffers must not be
// touched until then.
func SendRecv(comm mpi.Mpi, send1, send2 []int, recv1, recv2 *[]int) error {
	rank, size := comm.Rank(), comm.Size()
	if rank < 0 || size < 1 {
		return errors.New("ring: mpi is not initialized")
	}
	next, prev := Next(rank, size), Prev(rank, size)

	reqs := []*mpi.Request{
		mpi.Isend(comm, send1, next, forwardTag(rank)),
		mpi.Isend(comm, send2, prev, backwardTag(rank)),
		mpi.Irecv(comm, recv1, next, backwardTag(next)),
		mpi.Irecv(comm, recv2, prev, forwardTag(prev)),
	}
	return errors.WithMessagef(mpi.WaitAll(reqs...), "ring: exchange on node %d of %d", rank, size)
}

// Check verifies that recv1 holds the negated rank of the successor and recv2
// the rank of the predecessor, in every one of size elements.
func Check(rank, nproc, size int, recv1, recv2 []int) error {
	if len(recv1) != size || len(recv2) != size {
		return errors.Errorf("ring: received %d and %d elements, want %d", len(recv1), len(recv2), size)
	}
	want1, want2 := -Next(rank, nproc), Prev(rank, nproc)
	for i := 0; i < size; i++ {
		if recv1[i] != want1 {
			return errors.Errorf("ring: element %d from successor is %d, want %d", i, recv1[i], want1)
		}
		if recv2[i] != want2 {
			return errors.Errorf("ring: element %d from predecessor is %d, want %d", i, recv2[i], want2)
		}
	}
	return nil
}
