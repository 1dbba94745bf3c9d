package main

import (
	"testing"

	"github.com/amanotk/hellohpc/internal/slurm"
	"github.com/stretchr/testify/assert"
)

func TestSrunArgs(t *testing.T) {
	nodes := []string{"cn1", "cn2"}
	addrs := slurm.Addrs(nodes, 5000)
	got := srunArgs(nodes, addrs, 1, 12, "hellompi", []string{"-v", "2"}, "pw")
	assert.Equal(t, []string{
		"-N", "1", "-n", "1", "-c", "12", "--nodelist", "cn2", "hellompi",
		"-v", "2",
		"-mpi-addr", "cn2:5001",
		"-mpi-alladdr", "cn1:5000,cn2:5001",
		"-mpi-password", "pw",
	}, got)
}
