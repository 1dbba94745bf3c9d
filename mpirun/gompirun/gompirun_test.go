package main

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalAddrs(t *testing.T) {
	assert.Equal(t, []string{":6000", ":6001", ":6002"}, localAddrs(3, 6000))
}

func TestProcessArgs(t *testing.T) {
	args := []string{"-rows", "8"}
	got := processArgs(args, ":5001", []string{":5000", ":5001"}, "secret")
	assert.Equal(t, []string{
		"-rows", "8",
		"-mpi-addr", ":5001",
		"-mpi-alladdr", ":5000,:5001",
		"-mpi-password", "secret",
	}, got)
	assert.Equal(t, []string{"-rows", "8"}, args, "caller arguments are left alone")
}

func TestLaunch(t *testing.T) {
	if _, err := exec.LookPath("true"); err != nil {
		t.Skip("no true command")
	}
	require.NoError(t, launch(context.Background(), "true", localAddrs(3, 5000), nil, "pw"))
}

func TestLaunchFailure(t *testing.T) {
	if _, err := exec.LookPath("false"); err != nil {
		t.Skip("no false command")
	}
	assert.Error(t, launch(context.Background(), "false", localAddrs(2, 5000), nil, "pw"))
}
