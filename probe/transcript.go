package probe

import (
	"io"

	"github.com/amanotk/hellohpc/mpi"
	"github.com/muesli/termenv"
)

// Transcript prints the step-by-step report of a probe. Only the root
// process prints, see mpi.Fprintf. Outcomes are coloured when the writer is
// a terminal.
type Transcript struct {
	w    io.Writer
	out  *termenv.Output
	comm mpi.Mpi
}

// NewTranscript returns a transcript written to w on behalf of comm.
func NewTranscript(w io.Writer, comm mpi.Mpi) *Transcript {
	return &Transcript{w: w, out: termenv.NewOutput(w), comm: comm}
}

// Printf prints on the root process only.
func (t *Transcript) Printf(format string, args ...interface{}) {
	mpi.Fprintf(t.w, t.comm, format, args...)
}

// Step prints "label ... ", runs fn and finishes the line with "done" or
// "failed". It returns the error of fn.
func (t *Transcript) Step(label string, fn func() error) error {
	t.Printf("%s ... ", label)
	err := fn()
	t.Report(err, "done")
	return err
}

// Report finishes a line with success, or with "failed" if err is not nil.
func (t *Transcript) Report(err error, success string) {
	if err != nil {
		t.Printf("%s\n", t.out.String("failed").Foreground(t.out.Color("1")))
		return
	}
	t.Printf("%s\n", t.out.String(success).Foreground(t.out.Color("2")))
}
