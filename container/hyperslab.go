package container

import (
	"github.com/pkg/errors"
)

// Hyperslab is a rectangular selection: Count elements along each dimension,
// starting at Offset.
type Hyperslab struct {
	Offset []int
	Count  []int
}

// Whole selects every element of an array with extents dims.
func Whole(dims []int) Hyperslab {
	return Hyperslab{Offset: make([]int, len(dims)), Count: append([]int(nil), dims...)}
}

// Len returns the number of selected elements.
func (h Hyperslab) Len() int {
	if len(h.Count) == 0 {
		return 0
	}
	n := 1
	for _, c := range h.Count {
		n *= c
	}
	return n
}

// Validate checks that the selection lies inside an array with extents dims.
func (h Hyperslab) Validate(dims []int) error {
	if len(h.Offset) != len(dims) || len(h.Count) != len(dims) {
		return errors.Errorf("selection %v+%v does not have rank %d", h.Offset, h.Count, len(dims))
	}
	for i := range dims {
		if h.Offset[i] < 0 || h.Count[i] < 0 || h.Offset[i]+h.Count[i] > dims[i] {
			return errors.Errorf("selection %v+%v exceeds extents %v in dimension %d", h.Offset, h.Count, dims, i)
		}
	}
	return nil
}

// Runs calls fn for every run of contiguous selected elements of an array
// with extents dims, in row-major order. start is the linear index of the
// run in the array, n its length and packed the index of its first element
// in the packed selection. The selection must be valid for dims.
func (h Hyperslab) Runs(dims []int, fn func(start, n, packed int) error) error {
	if h.Len() == 0 {
		return nil
	}
	rank := len(dims)
	last := rank - 1

	// Odometer over the leading dimensions
	coord := make([]int, last)
	copy(coord, h.Offset[:last])
	packed := 0
	for {
		start := 0
		for i := 0; i < last; i++ {
			start = start*dims[i] + coord[i]
		}
		start = start*dims[last] + h.Offset[last]
		if err := fn(start, h.Count[last], packed); err != nil {
			return err
		}
		packed += h.Count[last]

		i := last - 1
		for ; i >= 0; i-- {
			coord[i]++
			if coord[i] < h.Offset[i]+h.Count[i] {
				break
			}
			coord[i] = h.Offset[i]
		}
		if i < 0 {
			return nil
		}
	}
}

// Gather copies the selection of src, an array with extents dims, into a
// packed slice.
func Gather(src []int32, dims []int, sel Hyperslab) ([]int32, error) {
	if err := sel.Validate(dims); err != nil {
		return nil, err
	}
	if n := product(dims); len(src) != n {
		return nil, errors.Errorf("buffer holds %d elements, extents %v need %d", len(src), dims, n)
	}
	out := make([]int32, sel.Len())
	err := sel.Runs(dims, func(start, n, packed int) error {
		copy(out[packed:packed+n], src[start:start+n])
		return nil
	})
	return out, err
}

// Scatter copies packed into the selection of dst, an array with extents
// dims.
func Scatter(dst []int32, dims []int, sel Hyperslab, packed []int32) error {
	if err := sel.Validate(dims); err != nil {
		return err
	}
	if n := product(dims); len(dst) != n {
		return errors.Errorf("buffer holds %d elements, extents %v need %d", len(dst), dims, n)
	}
	if len(packed) != sel.Len() {
		return errors.Errorf("%d elements given for a selection of %d", len(packed), sel.Len())
	}
	return sel.Runs(dims, func(start, n, p int) error {
		copy(dst[start:start+n], packed[p:p+n])
		return nil
	})
}

func product(dims []int) int {
	n := 1
	for _, d := range dims {
		n *= d
	}
	return n
}
