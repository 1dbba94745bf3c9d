/*
gompirunslurm launches the processes of an mpi job within a slurm
allocation, one process per allocated node. To use, first allocate nodes with
salloc, and then call

	gompirunslurm [-baseport p] ncores program [args...]

For example,

	salloc -N6 -c12
	gompirunslurm 12 hellompi

Note that this syntax differs from that of gompirun. The number of cores
here is the number of cores per distributed process (not the number of
processes). The processes are started with srun, and get -mpi-addr,
-mpi-alladdr and -mpi-password appended to their arguments.
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

	"github.com/amanotk/hellohpc/internal/procgroup"
	"github.com/amanotk/hellohpc/internal/slurm"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

var flagBaseport = flag.Int("baseport", 5000, "port of the process of rank 0, the others count up from it")

func main() {
	klog.InitFlags(nil)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] ncores program [args...]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() < 2 {
		flag.Usage()
		os.Exit(2)
	}
	nCores, err := strconv.Atoi(flag.Arg(0))
	if err != nil {
		klog.Exitf("error parsing the number of cores: %v", err)
	}
	if nCores < 1 {
		klog.Exitf("number of cores must be positive, got %d", nCores)
	}
	nodes, err := slurm.Nodes()
	if err != nil {
		klog.Exitf("%v", err)
	}
	klog.V(1).Infof("launching on %d nodes: %s", len(nodes), strings.Join(nodes, " "))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := launch(ctx, nodes, nCores, flag.Arg(1), flag.Args()[2:], uuid.NewString()); err != nil {
		klog.Errorf("%v", err)
		klog.Flush()
		os.Exit(1)
	}
}

// srunArgs returns the srun arguments that start the process of rank i.
func srunArgs(nodes, addrs []string, i, nCores int, program string, args []string, password string) []string {
	a := []string{"-N", "1", "-n", "1", "-c", strconv.Itoa(nCores), "--nodelist", nodes[i], program}
	a = append(a, args...)
	return append(a,
		"-mpi-addr", addrs[i],
		"-mpi-alladdr", strings.Join(addrs, ","),
		"-mpi-password", password)
}

func launch(ctx context.Context, nodes []string, nCores int, program string, args []string, password string) error {
	addrs := slurm.Addrs(nodes, *flagBaseport)
	g, ctx := errgroup.WithContext(ctx)
	for i := range nodes {
		i := i
		g.Go(func() error {
			cmd := exec.CommandContext(ctx, "srun", srunArgs(nodes, addrs, i, nCores, program, args, password)...)
			procgroup.Set(cmd)
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
			return errors.Wrapf(cmd.Run(), "process %d on %s", i, nodes[i])
		})
	}
	return g.Wait()
}
