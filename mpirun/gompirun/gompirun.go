/*
gompirun launches the processes of an mpi job on the local machine.

Running locally is mostly useful for debugging and prototyping, and for the
hellohpc probes themselves. Any shared memory parallelism should be set in
the program itself using runtime.GOMAXPROCS.

Usage:

	gompirun [-timeout d] [-baseport p] N program [args...]

starts N copies of program, listening on consecutive localhost ports from
baseport, and appends -mpi-addr, -mpi-alladdr and -mpi-password to the
arguments of each. All processes share a password drawn for the run.

Each process runs in a process group of its own, with stdin closed. When one
process fails, or gompirun is interrupted, the groups of the others are
killed. A collective call that some process never makes blocks the group
forever; -timeout kills the group after the given duration.

	go install github.com/amanotk/hellohpc/mpirun/gompirun
	gompirun 4 hellompi
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/amanotk/hellohpc/internal/procgroup"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

var (
	flagTimeout  = flag.Duration("timeout", 0, "kill every process after this long, 0 never")
	flagBaseport = flag.Int("baseport", 5000, "port of the process of rank 0, the others count up from it")
)

func main() {
	klog.InitFlags(nil)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] N program [args...]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() < 2 {
		flag.Usage()
		os.Exit(2)
	}
	nNodes, err := strconv.Atoi(flag.Arg(0))
	if err != nil {
		klog.Exitf("error parsing the number of processes: %v", err)
	}
	if nNodes < 1 {
		klog.Exitf("number of processes must be positive, got %d", nNodes)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *flagTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *flagTimeout)
		defer cancel()
	}
	err = launch(ctx, flag.Arg(1), localAddrs(nNodes, *flagBaseport), flag.Args()[2:], uuid.NewString())
	if err != nil {
		klog.Errorf("%v", err)
		klog.Flush()
		os.Exit(1)
	}
}

// localAddrs returns n localhost addresses on consecutive ports.
func localAddrs(n, baseport int) []string {
	addrs := make([]string, n)
	for i := range addrs {
		addrs[i] = ":" + strconv.Itoa(baseport+i)
	}
	return addrs
}

// processArgs returns the arguments of the process listening on addr.
func processArgs(args []string, addr string, addrs []string, password string) []string {
	a := append([]string(nil), args...)
	return append(a,
		"-mpi-addr", addr,
		"-mpi-alladdr", strings.Join(addrs, ","),
		"-mpi-password", password)
}

// launch runs one process of program per address and waits for all of
// them. The first failure cancels the others.
func launch(ctx context.Context, program string, addrs []string, args []string, password string) error {
	g, ctx := errgroup.WithContext(ctx)
	start := time.Now()
	for i, addr := range addrs {
		i, addr := i, addr
		g.Go(func() error {
			cmd := exec.CommandContext(ctx, program, processArgs(args, addr, addrs, password)...)
			procgroup.Set(cmd)
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
			klog.V(1).Infof("starting process %d on %s", i, addr)
			if err := cmd.Run(); err != nil {
				if ctx.Err() != nil {
					return errors.Wrapf(ctx.Err(), "process %d on %s stopped", i, addr)
				}
				return errors.Wrapf(err, "process %d on %s", i, addr)
			}
			return nil
		})
	}
	err := g.Wait()
	klog.V(1).Infof("%d processes finished after %s", len(addrs), time.Since(start))
	return err
}
