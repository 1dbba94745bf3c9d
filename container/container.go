// Package container stores named, typed, N-dimensional datasets in a single
// container file and reads and writes rectangular selections (hyperslabs)
// of them.
//
// The storage engine is pluggable. The "bolt" backend, always available,
// keeps datasets in a bbolt database file. The "hdf5" backend, compiled in
// with the hdf5 build tag, writes real HDF5 files through the HDF5 C library.
//
// Every handle is meant to be short lived: open it, act once, close it.
package container

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
)

// DType is the element type of a dataset.
type DType int

const (
	InvalidDType DType = iota
	Int32
)

func (d DType) String() string {
	switch d {
	case Int32:
		return "int32"
	}
	return fmt.Sprintf("DType(%d)", int(d))
}

// Size returns the size in bytes of one element, 0 for an invalid type.
func (d DType) Size() int {
	switch d {
	case Int32:
		return 4
	}
	return 0
}

// ParseDType returns the DType named s.
func ParseDType(s string) (DType, error) {
	switch s {
	case "int32", "int":
		return Int32, nil
	}
	return InvalidDType, errors.Errorf("unsupported element type %q", s)
}

// Mode selects how a container file is opened.
type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
)

// Backend is a storage engine for container files.
type Backend interface {
	// Ext is the file name extension used by the backend, dot included.
	Ext() string
	// Create creates an empty container at path, truncating any existing file.
	Create(path string) error
	// Open opens an existing container.
	Open(path string, mode Mode) (File, error)
}

// File is an open container.
type File interface {
	// CreateDataset allocates a dataset of the given element type and extents.
	// Elements that were never written read as zero.
	CreateDataset(name string, dtype DType, dims []int) (Dataset, error)
	OpenDataset(name string) (Dataset, error)
	Close() error
}

// Dataset is an open dataset.
type Dataset interface {
	DType() DType
	Dims() []int
	// WriteHyperslab writes data, packed in row-major order, to the selection.
	WriteHyperslab(sel Hyperslab, data []int32) error
	// ReadHyperslab reads the selection into data in row-major order.
	ReadHyperslab(sel Hyperslab, data []int32) error
	Close() error
}

// DefaultBackend is the backend used when none is configured.
const DefaultBackend = "bolt"

var backends = make(map[string]Backend)

// Register makes a backend available under name. It is meant to be called
// from init functions.
func Register(name string, b Backend) {
	if _, dup := backends[name]; dup {
		panic("container: backend registered twice: " + name)
	}
	backends[name] = b
}

// Lookup returns the backend registered under name.
func Lookup(name string) (Backend, error) {
	b, ok := backends[name]
	if !ok {
		return nil, errors.Errorf("unknown container backend %q (available: %v)", name, Backends())
	}
	return b, nil
}

// Backends lists the registered backend names.
func Backends() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateShape checks the extents given for a new dataset.
func ValidateShape(dtype DType, dims []int) error {
	if dtype.Size() == 0 {
		return errors.Errorf("unsupported element type %s", dtype)
	}
	if len(dims) == 0 {
		return errors.New("dataset needs at least one dimension")
	}
	for i, d := range dims {
		if d <= 0 {
			return errors.Errorf("dimension %d of %v is not positive", i, dims)
		}
	}
	return nil
}
