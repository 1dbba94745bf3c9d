// Package probe holds the small pieces shared by the hellohpc probes: an
// accumulator for sequences of checked sub-steps, and the transcript printed
// by the root process.
package probe

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Steps accumulates the outcome of a sequence of sub-steps. A failed step
// does not stop the sequence: later steps, cleanup in particular, still run,
// and the conjunction is reported at the end with OK or Err.
//
// The zero value is ready to use.
type Steps struct {
	errs []error
}

// Check records the outcome of one sub-step. A failure is logged right away,
// with msg describing the step, on the error stream. It reports whether err
// was nil.
func (s *Steps) Check(err error, msg string) bool {
	if err == nil {
		return true
	}
	klog.ErrorDepth(1, fmt.Sprintf("%s %v", msg, err))
	s.errs = append(s.errs, errors.WithMessage(err, msg))
	return false
}

// Add records the outcome of a sub-step whose failure was already logged
// where it happened. It reports whether err was nil.
func (s *Steps) Add(err error, msg string) bool {
	if err == nil {
		return true
	}
	s.errs = append(s.errs, errors.WithMessage(err, msg))
	return false
}

// Fail records a failed sub-step that has no underlying error.
func (s *Steps) Fail(msg string) {
	klog.ErrorDepth(1, msg)
	s.errs = append(s.errs, errors.New(msg))
}

// OK reports whether every recorded sub-step succeeded.
func (s *Steps) OK() bool {
	return len(s.errs) == 0
}

// Err returns nil if every sub-step succeeded, and a Failures holding every
// failure otherwise.
func (s *Steps) Err() error {
	if len(s.errs) == 0 {
		return nil
	}
	return Failures(append([]error(nil), s.errs...))
}

// Failures is the set of sub-steps of one operation that failed, in order.
type Failures []error

func (f Failures) Error() string {
	msgs := make([]string, len(f))
	for i, err := range f {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Unwrap exposes the individual failures to errors.Is and errors.As.
func (f Failures) Unwrap() []error {
	return f
}
