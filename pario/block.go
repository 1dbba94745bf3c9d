// Package pario reads and writes one dataset of a container file
// collectively: every process of an mpi group calls the same operations in
// the same order, each with its own disjoint block of the global array.
//
// Only the root process touches the container. The others ship their
// requests, and their data, to it and wait for its answer, which is what
// makes every operation collective: nobody returns before every process of
// the group has called it.
package pario

import (
	"github.com/amanotk/hellohpc/container"
)

// Block is the part of a global array owned by one process. The local
// buffer has extents Count, and its selection starting at MemOffset maps to
// the selection of the global array starting at Offset.
type Block struct {
	Dims      []int // global extents
	Count     []int // local extents
	Offset    []int // position of the block in the global array
	MemOffset []int // position of the selection in the local buffer
}

// ColumnBlock splits a rows x (cols*size) array into size blocks of cols
// columns each, and returns the block of rank.
func ColumnBlock(rows, cols, rank, size int) Block {
	return Block{
		Dims:      []int{rows, cols * size},
		Count:     []int{rows, cols},
		Offset:    []int{0, cols * rank},
		MemOffset: []int{0, 0},
	}
}

// Len is the number of elements of the local buffer.
func (b Block) Len() int {
	return container.Hyperslab{Count: b.Count}.Len()
}

// File returns the selection of the block in the global array.
func (b Block) File() container.Hyperslab {
	return container.Hyperslab{Offset: b.Offset, Count: b.Count}
}

// Memory returns the selection of the block in the local buffer.
func (b Block) Memory() container.Hyperslab {
	return container.Hyperslab{Offset: b.MemOffset, Count: b.Count}
}

// Fill returns a local buffer for b where every element holds its row-major
// index in the global array, row*columns + col for two dimensions. It
// assumes a zero MemOffset.
func Fill(b Block) []int32 {
	data := make([]int32, b.Len())
	sel := b.File()
	if sel.Validate(b.Dims) != nil {
		return data
	}
	_ = sel.Runs(b.Dims, func(start, n, packed int) error {
		for i := 0; i < n; i++ {
			data[packed+i] = int32(start + i)
		}
		return nil
	})
	return data
}

// Mismatches counts the positions where a and b differ. Elements present in
// only one of them count as mismatches.
func Mismatches(a, b []int32) int {
	n, extra := len(a), len(b)-len(a)
	if extra < 0 {
		n, extra = len(b), -extra
	}
	count := extra
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			count++
		}
	}
	return count
}

// overlaps reports whether two selections of the same rank share an element.
func overlaps(a, b container.Hyperslab) bool {
	if a.Len() == 0 || b.Len() == 0 {
		return false
	}
	for i := range a.Offset {
		if a.Offset[i]+a.Count[i] <= b.Offset[i] || b.Offset[i]+b.Count[i] <= a.Offset[i] {
			return false
		}
	}
	return true
}

func sameDims(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
