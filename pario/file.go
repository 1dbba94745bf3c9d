package pario

import (
	"fmt"

	"github.com/amanotk/hellohpc/container"
	"github.com/amanotk/hellohpc/mpi"
	"github.com/amanotk/hellohpc/probe"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Tags used between the processes and the root. Ring probes use small
// tags, so these stay well clear of them.
const (
	tagRequest = 1<<20 + iota
	tagStatus
)

type op int

const (
	opCreate op = iota
	opCreateDataset
	opWrite
	opRead
)

func (o op) String() string {
	switch o {
	case opCreate:
		return "create"
	case opCreateDataset:
		return "create dataset"
	case opWrite:
		return "write"
	case opRead:
		return "read"
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// request is what every process hands to the root for one collective call.
type request struct {
	Op    op
	Name  string
	DType container.DType
	Dims  []int
	Block Block
	Data  []int32
}

// status is the answer of the root to one process. Failures holds the
// failed steps that concern that process.
type status struct {
	Failures []string
	Data     []int32
}

// File is a container file shared by every process of Comm. Each method is
// collective, and acquires and releases its own handles.
type File struct {
	Comm    mpi.Mpi
	Backend container.Backend
	Path    string
}

// Create creates the container, truncating any existing file.
func (f *File) Create() error {
	return f.collective(&request{Op: opCreate}, nil)
}

// CreateDataset allocates a dataset of the given element type and global
// extents. Every process must pass the same arguments.
func (f *File) CreateDataset(name string, dtype container.DType, dims []int) error {
	return f.collective(&request{Op: opCreateDataset, Name: name, DType: dtype, Dims: dims}, nil)
}

// Write stores the block of the calling process. data is the local buffer,
// with extents block.Count. Blocks of different processes must not overlap.
func (f *File) Write(name string, block Block, data []int32) error {
	return f.collective(&request{Op: opWrite, Name: name, Block: block, Data: data}, nil)
}

// Read fills data, the local buffer with extents block.Count, from the block
// of the calling process.
func (f *File) Read(name string, block Block, data []int32) error {
	var local probe.Steps
	if len(data) != block.Len() {
		local.Check(errors.Errorf("buffer of %d elements for local extents %v", len(data), block.Count),
			"Error selecting hyperslab for source.")
		data = nil
	}
	return f.collective(&request{Op: opRead, Name: name, Block: block}, func(st *status) {
		if data != nil && st.Data != nil {
			copy(data, st.Data)
		}
	}, local.Err())
}

// collective runs req on every process and returns the failures that
// concern the calling one. got, when not nil, is handed the answer of the
// root. Failures found before the call are passed in pre; the process still
// takes part so that the others do not stall.
func (f *File) collective(req *request, got func(*status), pre ...error) error {
	comm := f.Comm
	rank, size := comm.Rank(), comm.Size()
	if rank < 0 || size < 1 {
		return errors.New("pario: mpi is not initialized")
	}

	var st *status
	var err error
	if rank == mpi.Root {
		st, err = f.aggregate(req)
	} else {
		st, err = exchange(comm, req)
	}

	var fails probe.Failures
	for _, e := range pre {
		if e != nil {
			fails = append(fails, e)
		}
	}
	if err != nil {
		klog.Errorf("pario: %s on node %d: %v", req.Op, rank, err)
		fails = append(fails, err)
	}
	if st != nil {
		for _, msg := range st.Failures {
			if rank != mpi.Root {
				// The root logged it in its own stream, this is the only
				// trace on this process
				klog.Error(msg)
			}
			fails = append(fails, errors.New(msg))
		}
		if got != nil && len(st.Failures) == 0 {
			got(st)
		}
	}
	if len(fails) == 0 {
		return nil
	}
	return fails
}

// exchange sends req to the root and waits for its answer.
func exchange(comm mpi.Mpi, req *request) (*status, error) {
	if err := comm.Send(req, mpi.Root, tagRequest); err != nil {
		return nil, errors.WithMessagef(err, "sending %s request", req.Op)
	}
	if err := comm.Wait(mpi.Root, tagRequest); err != nil {
		return nil, errors.WithMessagef(err, "sending %s request", req.Op)
	}
	st := &status{}
	if err := comm.Receive(st, mpi.Root, tagStatus); err != nil {
		return nil, errors.WithMessagef(err, "receiving %s status", req.Op)
	}
	return st, nil
}

// aggregate runs on the root: it gathers the request of every process,
// serves them all on one set of handles and answers every process, even
// when some steps failed.
func (f *File) aggregate(own *request) (*status, error) {
	comm := f.Comm
	size := comm.Size()

	reqs := make([]*request, size)
	reqs[mpi.Root] = own
	pending := make([]*mpi.Request, size)
	for i := range reqs {
		if i == mpi.Root {
			continue
		}
		reqs[i] = &request{}
		pending[i] = mpi.Irecv(comm, reqs[i], i, tagRequest)
	}
	out := newOutcome(size)
	for i, p := range pending {
		if p == nil {
			continue
		}
		if !out.ranks[i].Check(p.Wait(), fmt.Sprintf("Error receiving request from node %d.", i)) {
			reqs[i] = nil
		}
	}
	klog.V(1).Infof("pario: %s %q on %q for %d processes", own.Op, own.Name, f.Path, size)

	for i, r := range reqs {
		if r != nil && r.Op != own.Op {
			out.ranks[i].Fail(fmt.Sprintf("Node %d called %s while the root called %s.", i, r.Op, own.Op))
			reqs[i] = nil
		}
	}

	switch own.Op {
	case opCreate:
		f.create(out)
	case opCreateDataset:
		f.createDataset(reqs, out)
	case opWrite:
		f.write(reqs, out)
	case opRead:
		f.read(reqs, out)
	default:
		out.all.Fail(fmt.Sprintf("Unknown operation %s.", own.Op))
	}

	statuses := out.statuses()
	sends := make([]*mpi.Request, 0, size-1)
	for i, st := range statuses {
		if i == mpi.Root {
			continue
		}
		sends = append(sends, mpi.Isend(comm, st, i, tagStatus))
	}
	return statuses[mpi.Root], errors.WithMessagef(mpi.WaitAll(sends...), "answering %s", own.Op)
}

func (f *File) create(out *outcome) {
	out.all.Check(f.Backend.Create(f.Path), "Error creating file.")
}

func (f *File) createDataset(reqs []*request, out *outcome) {
	own := reqs[mpi.Root]
	for i, r := range reqs {
		if r == nil || i == mpi.Root {
			continue
		}
		if r.Name != own.Name || r.DType != own.DType || !sameDims(r.Dims, own.Dims) {
			out.ranks[i].Fail(fmt.Sprintf("Error creating dataset: node %d asked for %q %s %v, the root for %q %s %v.",
				i, r.Name, r.DType, r.Dims, own.Name, own.DType, own.Dims))
		}
	}

	file, err := f.Backend.Open(f.Path, container.ReadWrite)
	if !out.all.Check(err, "Error opening file.") {
		return
	}
	if out.all.Check(container.ValidateShape(own.DType, own.Dims), "Error creating dataspace.") {
		ds, err := file.CreateDataset(own.Name, own.DType, own.Dims)
		if out.all.Check(err, "Error creating dataset.") {
			out.all.Check(ds.Close(), "Error closing dataset.")
		}
	}
	out.all.Check(file.Close(), "Error closing file.")
}

// open opens the file and the dataset for a transfer. A nil dataset means
// the transfer cannot happen; the file, when not nil, still has to be closed.
func (f *File) open(name string, mode container.Mode, out *outcome) (container.File, container.Dataset) {
	file, err := f.Backend.Open(f.Path, mode)
	if !out.all.Check(err, "Error opening file.") {
		return nil, nil
	}
	ds, err := file.OpenDataset(name)
	if !out.all.Check(err, "Error opening dataset.") {
		return file, nil
	}
	if ds.DType() != container.Int32 {
		out.all.Fail(fmt.Sprintf("Error getting dataset type: %s is not %s.", ds.DType(), container.Int32))
		out.all.Check(ds.Close(), "Error closing dataset.")
		return file, nil
	}
	return file, ds
}

func (f *File) release(file container.File, ds container.Dataset, out *outcome) {
	if ds != nil {
		out.all.Check(ds.Close(), "Error closing dataset.")
	}
	if file != nil {
		out.all.Check(file.Close(), "Error closing file.")
	}
}

// selections checks the block of every process against the dataset extents
// and reports which processes can take part in the transfer.
func selections(reqs []*request, dims []int, out *outcome) []bool {
	ok := make([]bool, len(reqs))
	for i, r := range reqs {
		if r == nil {
			continue
		}
		steps := &out.ranks[i]
		b := r.Block
		if b.Dims != nil && !sameDims(b.Dims, dims) {
			steps.Fail(fmt.Sprintf("Error getting dataspace: node %d expects extents %v, dataset %q has %v.", i, b.Dims, r.Name, dims))
			continue
		}
		if !steps.Check(b.File().Validate(dims), "Error selecting hyperslab for destination.") {
			continue
		}
		if !steps.Check(b.Memory().Validate(b.Count), "Error selecting hyperslab for source.") {
			continue
		}
		ok[i] = true
	}
	return ok
}

func (f *File) write(reqs []*request, out *outcome) {
	file, ds := f.open(reqs[mpi.Root].Name, container.ReadWrite, out)
	defer f.release(file, ds, out)
	if ds == nil {
		return
	}
	dims := ds.Dims()
	ok := selections(reqs, dims, out)

	// Overlapping blocks make the result depend on the order of the writes
	for i := range reqs {
		for j := 0; j < i && ok[i]; j++ {
			if ok[j] && overlaps(reqs[i].Block.File(), reqs[j].Block.File()) {
				out.ranks[i].Fail(fmt.Sprintf("Error selecting hyperslab for destination: block of node %d overlaps the block of node %d.", i, j))
				ok[i] = false
			}
		}
	}

	for i, r := range reqs {
		if !ok[i] {
			continue
		}
		packed, err := container.Gather(r.Data, r.Block.Count, r.Block.Memory())
		if !out.ranks[i].Check(err, "Error selecting hyperslab for source.") {
			continue
		}
		out.ranks[i].Check(ds.WriteHyperslab(r.Block.File(), packed), "Error writing data.")
	}
}

func (f *File) read(reqs []*request, out *outcome) {
	file, ds := f.open(reqs[mpi.Root].Name, container.ReadOnly, out)
	defer f.release(file, ds, out)
	if ds == nil {
		return
	}
	ok := selections(reqs, ds.Dims(), out)
	for i, r := range reqs {
		if !ok[i] {
			continue
		}
		sel := r.Block.File()
		packed := make([]int32, sel.Len())
		if !out.ranks[i].Check(ds.ReadHyperslab(sel, packed), "Error reading data.") {
			continue
		}
		data := make([]int32, r.Block.Len())
		if out.ranks[i].Check(container.Scatter(data, r.Block.Count, r.Block.Memory(), packed), "Error selecting hyperslab for source.") {
			out.data[i] = data
		}
	}
}

// outcome collects the failed steps of one collective call on the root,
// those that concern the whole group and those of each process.
type outcome struct {
	all   probe.Steps
	ranks []probe.Steps
	data  [][]int32
}

func newOutcome(size int) *outcome {
	return &outcome{ranks: make([]probe.Steps, size), data: make([][]int32, size)}
}

func (o *outcome) statuses() []*status {
	shared := messages(&o.all)
	sts := make([]*status, len(o.ranks))
	for i := range o.ranks {
		st := &status{Failures: append(append([]string(nil), shared...), messages(&o.ranks[i])...)}
		if len(st.Failures) == 0 {
			st.Data = o.data[i]
		}
		sts[i] = st
	}
	return sts
}

func messages(s *probe.Steps) []string {
	fails, _ := s.Err().(probe.Failures)
	msgs := make([]string, len(fails))
	for i, err := range fails {
		msgs[i] = err.Error()
	}
	return msgs
}
