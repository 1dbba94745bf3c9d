package mpi

import (
	"reflect"

	"github.com/pkg/errors"
)

// Root is the rank that coordinates collective operations.
const Root = 0

// Negative tags are reserved for the collectives, user tags are expected to
// be non-negative.
const (
	tagBarrier = -1 - iota
	tagRelease
	tagBcast
)

// Barrier blocks until every process of m has called Barrier.
func Barrier(m Mpi) error {
	size := m.Size()
	if size <= 1 {
		return nil
	}
	if m.Rank() != Root {
		if err := m.Send(true, Root, tagBarrier); err != nil {
			return errors.WithMessage(err, "barrier")
		}
		if err := m.Wait(Root, tagBarrier); err != nil {
			return errors.WithMessage(err, "barrier")
		}
		var ok bool
		return errors.WithMessage(m.Receive(&ok, Root, tagRelease), "barrier")
	}

	reqs := make([]*Request, 0, size-1)
	for i := 0; i < size; i++ {
		if i == Root {
			continue
		}
		arrived := new(bool)
		reqs = append(reqs, Irecv(m, arrived, i, tagBarrier))
	}
	if err := WaitAll(reqs...); err != nil {
		return errors.WithMessage(err, "barrier")
	}
	reqs = reqs[:0]
	for i := 0; i < size; i++ {
		if i == Root {
			continue
		}
		reqs = append(reqs, Isend(m, true, i, tagRelease))
	}
	return errors.WithMessage(WaitAll(reqs...), "barrier")
}

// Bcast copies data from root to every other process of m. data must be a
// pointer on every process; on root it is only read. Elsewhere the pointee
// is cleared first, since gob leaves out zero fields.
func Bcast(m Mpi, data interface{}, root int) error {
	size := m.Size()
	if m.Rank() != root {
		if v := reflect.ValueOf(data); v.Kind() == reflect.Ptr && !v.IsNil() {
			v.Elem().Set(reflect.Zero(v.Elem().Type()))
		}
		return errors.WithMessage(m.Receive(data, root, tagBcast), "bcast")
	}
	reqs := make([]*Request, 0, size)
	for i := 0; i < size; i++ {
		if i == root {
			continue
		}
		reqs = append(reqs, Isend(m, data, i, tagBcast))
	}
	return errors.WithMessage(WaitAll(reqs...), "bcast")
}

// FinalizeAll waits at a barrier for every process of m and then finalizes
// m, so no process closes its connections while messages to or from it are
// still in flight. The barrier error is returned; m is finalized regardless.
func FinalizeAll(m Mpi) error {
	err := Barrier(m)
	m.Finalize()
	return err
}
