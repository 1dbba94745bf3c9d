package container

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHyperslabValidate(t *testing.T) {
	dims := []int{4, 8}
	assert.NoError(t, Hyperslab{Offset: []int{0, 4}, Count: []int{4, 4}}.Validate(dims))
	assert.NoError(t, Whole(dims).Validate(dims))
	assert.Error(t, Hyperslab{Offset: []int{0, 5}, Count: []int{4, 4}}.Validate(dims))
	assert.Error(t, Hyperslab{Offset: []int{0}, Count: []int{4}}.Validate(dims))
	assert.Error(t, Hyperslab{Offset: []int{-1, 0}, Count: []int{1, 1}}.Validate(dims))
}

func TestHyperslabRuns(t *testing.T) {
	type run struct{ start, n, packed int }
	var runs []run
	sel := Hyperslab{Offset: []int{1, 2}, Count: []int{2, 3}}
	require.NoError(t, sel.Runs([]int{4, 8}, func(start, n, packed int) error {
		runs = append(runs, run{start, n, packed})
		return nil
	}))
	assert.Equal(t, []run{{10, 3, 0}, {18, 3, 3}}, runs)

	runs = nil
	require.NoError(t, Hyperslab{Offset: []int{3}, Count: []int{2}}.Runs([]int{6}, func(start, n, packed int) error {
		runs = append(runs, run{start, n, packed})
		return nil
	}))
	assert.Equal(t, []run{{3, 2, 0}}, runs)

	calls := 0
	require.NoError(t, Hyperslab{Offset: []int{0, 0}, Count: []int{0, 3}}.Runs([]int{2, 3}, func(int, int, int) error {
		calls++
		return nil
	}))
	assert.Zero(t, calls)
}

func TestHyperslabRunsThreeDims(t *testing.T) {
	dims := []int{2, 3, 4}
	sel := Hyperslab{Offset: []int{0, 1, 1}, Count: []int{2, 2, 2}}
	var starts []int
	require.NoError(t, sel.Runs(dims, func(start, n, packed int) error {
		assert.Equal(t, 2, n)
		assert.Equal(t, len(starts)*2, packed)
		starts = append(starts, start)
		return nil
	}))
	assert.Equal(t, []int{5, 9, 17, 21}, starts)
}

func TestGatherScatter(t *testing.T) {
	dims := []int{3, 4}
	src := make([]int32, 12)
	for i := range src {
		src[i] = int32(i)
	}
	sel := Hyperslab{Offset: []int{1, 1}, Count: []int{2, 2}}
	packed, err := Gather(src, dims, sel)
	require.NoError(t, err)
	assert.Equal(t, []int32{5, 6, 9, 10}, packed)

	dst := make([]int32, 12)
	require.NoError(t, Scatter(dst, dims, sel, packed))
	assert.Equal(t, []int32{0, 0, 0, 0, 0, 5, 6, 0, 0, 9, 10, 0}, dst)

	_, err = Gather(src[:5], dims, sel)
	assert.Error(t, err)
	assert.Error(t, Scatter(dst, dims, sel, packed[:3]))
}

func TestDType(t *testing.T) {
	dt, err := ParseDType("int32")
	require.NoError(t, err)
	assert.Equal(t, Int32, dt)
	assert.Equal(t, 4, dt.Size())
	assert.Equal(t, "int32", dt.String())
	_, err = ParseDType("float16")
	assert.Error(t, err)
	assert.Zero(t, InvalidDType.Size())
}

func TestValidateShape(t *testing.T) {
	assert.NoError(t, ValidateShape(Int32, []int{4, 8}))
	assert.Error(t, ValidateShape(InvalidDType, []int{4, 8}))
	assert.Error(t, ValidateShape(Int32, nil))
	assert.Error(t, ValidateShape(Int32, []int{4, 0}))
}

func TestRegistry(t *testing.T) {
	b, err := Lookup(DefaultBackend)
	require.NoError(t, err)
	assert.Equal(t, ".db", b.Ext())
	assert.Contains(t, Backends(), "bolt")
	_, err = Lookup("netcdf")
	assert.Error(t, err)
	assert.Panics(t, func() { Register("bolt", &BoltBackend{}) })
}
