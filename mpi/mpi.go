// Package mpi implements an mpi-like interface for go, used by the hellohpc
// probes to check that a distributed-memory environment is wired correctly.
// While this package presents a familiar interface to users of MPI, it does
// not follow the MPI standard exactly. In cases where package documentation
// disagrees with the MPI standard, the package documentation should be
// considered correct.
//
// A single program is executed in parallel on different machines (or as
// several processes on one machine). Init determines the size, the number of
// processes taking part, and assigns each process a unique integer "rank"
// with 0 <= rank < size. Init establishes connections among all of the
// processes to allow point-to-point communication, and Finalize tears them
// down again. No other call is valid outside of that bracket.
//
// Point-to-point communication uses Send, Wait and Receive. The non-blocking
// forms Isend and Irecv post an operation and return a Request; WaitAll
// joins a group of requests. Barrier and Bcast are collective: every process
// must call them, in the same order, or the group blocks forever. There is
// no timeout on any communication call once Init has returned.
//
// Package mpi also adds several flags.
//
//	-mpi-addr : address of the local running process
//	-mpi-alladdr: comma separated list of the addresses of all the processes
//	-mpi-inittimeout: time.Duration for how long init can take before timing out.
//	-mpi-protocol: string to represent the protocol to use
//	-mpi-password: password to use at MPI initialization
//
// Specific implementations are free to use or ignore these as desired.
// flag.Parse() must be called in order to use these flags. The launchers in
// mpirun/ set them for every process they start.
//
// By default, the Network implementation is used. See type documentation for
// behavior.
package mpi

import "fmt"

var mpier Mpi = &Network{}

// Register sets an Mpi implementation to be used in calls to MPI. Register
// should normally be called during program initialization and not again.
func Register(mpi Mpi) {
	mpier = mpi
}

// World returns the registered implementation, for the helpers in this
// package that take an explicit Mpi.
func World() Mpi {
	return mpier
}

// Init initializes the communication network. Init must be called before any
// other functions are called, and should only be called once during program
// execution
func Init() error {
	return mpier.Init()
}

// Finalize cleans up the commication network. After a call to finalize, no more
// Mpi calls may be made (though programs are free to continue execution)
func Finalize() {
	mpier.Finalize()
}

// Rank returns the rank of the local process. Each process has a unique rank
// in the network, and the rank of each process is agreed upon by all
// processes. The value of rank will not change during program execution.
// 0 <= Rank() < Size(). As a special case, if the size of the network is zero
// (for example Init was not called), Rank returns -1
func Rank() int {
	return mpier.Rank()
}

// Size returns the total number of nodes. Size returns 0 if MPI is not initialized
func Size() int {
	return mpier.Size()
}

// Send transmits the data to the destination node with the given tag. Send may
// be called concurrently between any number of goroutines, but {destination, tag}
// pairs must be unique among concurrent calls to send.
// Send returns once the data has been serialized and handed to the
// connection (thus data is again free to be modified), but does not wait for
// confirmation of receipt. Wait may be used to do this. Once a call to Wait
// has completed, a {destination, tag} pair may be reused. A process may send
// to itself.
func Send(data interface{}, destination, tag int) error {
	return mpier.Send(data, destination, tag)
}

// Wait blocks until confirmation from destination that the data sent with the
// given tag has been received. Wait also frees the {destination, tag} pair for
// re-use.
func Wait(destination, tag int) error {
	return mpier.Wait(destination, tag)
}

// Receive reads the message sent by source with the given tag and
// deserializes it into data. Data should be a pointer to the type sent. A
// message that arrives before Receive is called is held until it is.
func Receive(data interface{}, source, tag int) error {
	return mpier.Receive(data, source, tag)
}

// Mpi is a set of routines for performing parallel computation. See the
// function descriptions for documentation.
type Mpi interface {
	Init() error
	Finalize()
	Rank() int
	Size() int
	Send(data interface{}, destination, tag int) error
	Wait(destination, tag int) error
	Receive(data interface{}, source, tag int) error
}

// TagExists is an error type indicating the tag already has a concurrent request
// between the destination and source node
type TagExists struct {
	Tag  int
	Peer int
}

func (t TagExists) Error() string {
	return fmt.Sprintf("tag %v already in use with node %v", t.Tag, t.Peer)
}
