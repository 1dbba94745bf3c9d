//go:build hdf5

package container

import (
	"os"

	"github.com/pkg/errors"
	"gonum.org/v1/hdf5"
)

func init() {
	Register("hdf5", HDF5Backend{})
}

// HDF5Backend writes HDF5 files through the HDF5 C library. Datasets are
// simple dataspaces of native 32-bit integers, and selections map directly
// to HDF5 hyperslabs. It needs cgo and libhdf5, and is only compiled with
// the hdf5 build tag.
//
// The serial HDF5 library is not safe for concurrent writers in several
// processes, so a file should only be opened by one process at a time.
type HDF5Backend struct{}

func (HDF5Backend) Ext() string { return ".h5" }

func (HDF5Backend) Create(path string) error {
	f, err := hdf5.CreateFile(path, hdf5.F_ACC_TRUNC)
	if err != nil {
		return errors.Wrapf(err, "creating %q", path)
	}
	return errors.Wrapf(f.Close(), "closing %q", path)
}

func (HDF5Backend) Open(path string, mode Mode) (File, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrapf(err, "opening %q", path)
	}
	flags := hdf5.F_ACC_RDONLY
	if mode == ReadWrite {
		flags = hdf5.F_ACC_RDWR
	}
	f, err := hdf5.OpenFile(path, flags)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %q", path)
	}
	return &hdf5File{f: f}, nil
}

type hdf5File struct {
	f *hdf5.File
}

func (h *hdf5File) CreateDataset(name string, dtype DType, dims []int) (Dataset, error) {
	if err := ValidateShape(dtype, dims); err != nil {
		return nil, errors.WithMessagef(err, "creating dataset %q", name)
	}
	space, err := hdf5.CreateSimpleDataspace(toUint(dims), nil)
	if err != nil {
		return nil, errors.Wrapf(err, "creating dataspace for %q", name)
	}
	defer space.Close()
	ds, err := h.f.CreateDataset(name, hdf5.T_NATIVE_INT32, space)
	if err != nil {
		return nil, errors.Wrapf(err, "creating dataset %q", name)
	}
	return &hdf5Dataset{ds: ds, name: name, dtype: dtype, dims: append([]int(nil), dims...)}, nil
}

func (h *hdf5File) OpenDataset(name string) (Dataset, error) {
	ds, err := h.f.OpenDataset(name)
	if err != nil {
		return nil, errors.Wrapf(err, "opening dataset %q", name)
	}
	space := ds.Space()
	defer space.Close()
	dims, _, err := space.SimpleExtentDims()
	if err != nil {
		ds.Close()
		return nil, errors.Wrapf(err, "reading extents of %q", name)
	}
	dtype, err := ds.Datatype()
	if err != nil {
		ds.Close()
		return nil, errors.Wrapf(err, "reading element type of %q", name)
	}
	defer dtype.Close()
	d := &hdf5Dataset{ds: ds, name: name, dims: make([]int, len(dims))}
	for i, v := range dims {
		d.dims[i] = int(v)
	}
	// Transfers use the file type as the memory type, so anything but a
	// native 32-bit signed integer stays InvalidDType and is refused
	if dtype.Equal(hdf5.T_NATIVE_INT32) {
		d.dtype = Int32
	}
	return d, nil
}

func (h *hdf5File) Close() error {
	return h.f.Close()
}

type hdf5Dataset struct {
	ds    *hdf5.Dataset
	name  string
	dtype DType
	dims  []int
}

func (d *hdf5Dataset) DType() DType { return d.dtype }
func (d *hdf5Dataset) Dims() []int  { return append([]int(nil), d.dims...) }

// spaces returns the memory and file dataspaces for a transfer of sel.
func (d *hdf5Dataset) spaces(sel Hyperslab, data []int32) (mem, file *hdf5.Dataspace, err error) {
	if d.dtype != Int32 {
		return nil, nil, errors.Errorf("dataset %q holds %s, not int32", d.name, d.dtype)
	}
	if err := sel.Validate(d.dims); err != nil {
		return nil, nil, err
	}
	if len(data) != sel.Len() {
		return nil, nil, errors.Errorf("buffer of %d elements for a selection of %d", len(data), sel.Len())
	}
	mem, err = hdf5.CreateSimpleDataspace(toUint(sel.Count), nil)
	if err != nil {
		return nil, nil, errors.Wrap(err, "creating memory dataspace")
	}
	file = d.ds.Space()
	if err := file.SelectHyperslab(toUint(sel.Offset), nil, toUint(sel.Count), nil); err != nil {
		mem.Close()
		file.Close()
		return nil, nil, errors.Wrap(err, "selecting hyperslab")
	}
	return mem, file, nil
}

func (d *hdf5Dataset) WriteHyperslab(sel Hyperslab, data []int32) error {
	mem, file, err := d.spaces(sel, data)
	if err != nil {
		return errors.WithMessagef(err, "writing dataset %q", d.name)
	}
	if sel.Len() == 0 {
		mem.Close()
		file.Close()
		return nil
	}
	defer mem.Close()
	defer file.Close()
	return errors.Wrapf(d.ds.WriteSubset(&data, mem, file), "writing dataset %q", d.name)
}

func (d *hdf5Dataset) ReadHyperslab(sel Hyperslab, data []int32) error {
	mem, file, err := d.spaces(sel, data)
	if err != nil {
		return errors.WithMessagef(err, "reading dataset %q", d.name)
	}
	if sel.Len() == 0 {
		mem.Close()
		file.Close()
		return nil
	}
	defer mem.Close()
	defer file.Close()
	return errors.Wrapf(d.ds.ReadSubset(&data, mem, file), "reading dataset %q", d.name)
}

func (d *hdf5Dataset) Close() error {
	return d.ds.Close()
}

func toUint(v []int) []uint {
	out := make([]uint, len(v))
	for i, x := range v {
		out[i] = uint(x)
	}
	return out
}
