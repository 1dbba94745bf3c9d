package mpi

import "github.com/pkg/errors"

// Request is a posted non-blocking operation. The buffer handed to the
// operation belongs to it until Wait returns.
type Request struct {
	done chan struct{}
	err  error
}

func post(op func() error) *Request {
	r := &Request{done: make(chan struct{})}
	go func() {
		defer close(r.done)
		r.err = op()
	}()
	return r
}

// Wait blocks until the operation completes and returns its error.
func (r *Request) Wait() error {
	<-r.done
	return r.err
}

// Done reports whether the operation has completed, without blocking.
func (r *Request) Done() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Isend posts a Send on m followed by the Wait for its confirmation, and
// returns immediately. The request completes once destination has received
// the data.
func Isend(m Mpi, data interface{}, destination, tag int) *Request {
	return post(func() error {
		if err := m.Send(data, destination, tag); err != nil {
			return err
		}
		return m.Wait(destination, tag)
	})
}

// Irecv posts a Receive on m and returns immediately. data must not be read
// until the request completes.
func Irecv(m Mpi, data interface{}, source, tag int) *Request {
	return post(func() error {
		return m.Receive(data, source, tag)
	})
}

// WaitAll blocks until every request has completed, in whatever order they
// finish, and returns the first error in argument order.
func WaitAll(reqs ...*Request) error {
	var first error
	for i, r := range reqs {
		if err := r.Wait(); err != nil && first == nil {
			first = errors.WithMessagef(err, "request %d", i)
		}
	}
	return first
}
