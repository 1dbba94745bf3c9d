package mpi

import (
	"fmt"
	"io"
	"os"
)

// PrintAllProcs causes mpi.Printf to print on all processes -- otherwise just 0
var PrintAllProcs = false

// Printf does fmt.Printf only on the Root rank (see also AllPrintf to do all)
// and PrintAllProcs var to override for debugging, and print all
func Printf(format string, args ...interface{}) {
	Fprintf(os.Stdout, mpier, format, args...)
}

// Println does fmt.Println only on the Root rank
func Println(args ...interface{}) {
	Fprintf(os.Stdout, mpier, "%s", fmt.Sprintln(args...))
}

// AllPrintf does fmt.Printf on all nodes, with node rank printed first.
// This is best for debugging MPI itself.
func AllPrintf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stdout, "P%d: "+format, append([]interface{}{mpier.Rank()}, args...)...)
}

// Fprintf writes to w only when m is the Root rank, or on every rank with a
// rank prefix when PrintAllProcs is set. A process where m is not initialized
// prints as if it were Root.
func Fprintf(w io.Writer, m Mpi, format string, args ...interface{}) {
	rank := m.Rank()
	if rank <= Root {
		fmt.Fprintf(w, format, args...)
		return
	}
	if !PrintAllProcs {
		return
	}
	fmt.Fprintf(w, "P%d: "+format, append([]interface{}{rank}, args...)...)
}
