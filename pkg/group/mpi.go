package group

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Comm is the boundary a real MPI binding would implement: a communicator
// with a fixed size and rank, node-local collectives, and Split. No Go MPI
// binding exists in this module's dependency stack, so the only
// implementation shipped here is FakeComm, an in-process deterministic
// stand-in used by tests and by callers with no MPI runtime available.
type Comm interface {
	Size() int
	Rank() int
	Pid() int
	Barrier() error
	Split(color, key int) (Comm, error)
	Gatherv(tx []byte, root int) ([][]byte, error)
	Scatterv(tx [][]byte, root int) ([]byte, error)
}

// MPI is the Group backend wrapping a Comm.
type MPI struct {
	comm Comm
}

// NewMPI wraps an existing communicator as a Group.
func NewMPI(comm Comm) *MPI {
	return &MPI{comm: comm}
}

func (g *MPI) Size() int { return g.comm.Size() }

func (g *MPI) Rank() int { return g.comm.Rank() }

// PIDs performs an Allgather of getpid(), host-group PIDs only, per the
// MPI backend contract: a Gatherv to root followed by a Scatterv of the
// flattened result back to everyone.
func (g *MPI) PIDs() ([]int, error) {
	mine := make([]byte, 8)
	putInt64(mine, int64(g.comm.Pid()))

	gathered, err := g.comm.Gatherv(mine, 0)
	if err != nil {
		return nil, errors.Wrap(err, "mpi group: pids gather failed")
	}

	bcastBufs := make([][]byte, g.comm.Size())
	if g.Rank() == 0 {
		flat := make([]byte, 0, 8*len(gathered))
		for _, b := range gathered {
			flat = append(flat, b...)
		}
		for i := range bcastBufs {
			bcastBufs[i] = flat
		}
	}
	flat, err := g.comm.Scatterv(bcastBufs, 0)
	if err != nil {
		return nil, errors.Wrap(err, "mpi group: pids broadcast failed")
	}
	pids := make([]int, len(flat)/8)
	for i := range pids {
		pids[i] = int(getInt64(flat[i*8 : i*8+8]))
	}
	return pids, nil
}

func (g *MPI) Barrier() error {
	return g.comm.Barrier()
}

func (g *MPI) MakeIntrinsic(intrinsic IntrinsicScope) error {
	return nil
}

func (g *MPI) Self() (Group, error) {
	self, err := g.comm.Split(g.comm.Rank(), 0)
	if err != nil {
		return nil, errors.Wrap(err, "mpi group: self split failed")
	}
	return NewMPI(self), nil
}

func (g *MPI) Split(color, key int) (Group, error) {
	child, err := g.comm.Split(color, key)
	if err != nil {
		return nil, errors.Wrap(err, "mpi group: split failed")
	}
	return NewMPI(child), nil
}

func (g *MPI) GatherBBuff(tx []byte, root int) ([][]byte, AllocType, error) {
	rx, err := g.comm.Gatherv(tx, root)
	if err != nil {
		return nil, AllocPrivate, errors.Wrap(err, "mpi group: gather failed")
	}
	return rx, AllocPrivate, nil
}

func (g *MPI) ScatterBBuff(tx [][]byte, root int) ([]byte, error) {
	rx, err := g.comm.Scatterv(tx, root)
	if err != nil {
		return nil, errors.Wrap(err, "mpi group: scatter failed")
	}
	return rx, nil
}

func putInt64(b []byte, v int64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
}

func getInt64(b []byte) int64 {
	var v int64
	for i := 0; i < 8; i++ {
		v |= int64(b[i]) << (8 * uint(i))
	}
	return v
}

// fakeCommShared is the state every rank of one simulated communicator
// references: a barrier sized to that communicator, and the rank-indexed
// slots gather/scatter read and write through.
type fakeCommShared struct {
	mu           sync.Mutex
	barrier      *cyclicBarrier
	gather       [][]byte
	scatter      [][]byte
	childByColor map[int]*fakeCommShared
}

// FakeComm is an in-process, deterministic Comm used where no MPI runtime
// is available: every "rank" is a goroutine sharing one address space,
// communicating through a barrier and shared slots rather than a wire
// protocol. It exists for tests and single-node development, not
// production multi-node use.
type FakeComm struct {
	size   int
	rank   int
	pid    int
	shared *fakeCommShared
}

// NewFakeCommSet builds n FakeComms sharing one communicator, one per
// simulated rank, ranks 0..n-1 in order.
func NewFakeCommSet(n, pid int) []*FakeComm {
	shared := &fakeCommShared{barrier: newCyclicBarrier(n), gather: make([][]byte, n)}
	comms := make([]*FakeComm, n)
	for r := 0; r < n; r++ {
		comms[r] = &FakeComm{size: n, rank: r, pid: pid, shared: shared}
	}
	return comms
}

func (c *FakeComm) Size() int { return c.size }
func (c *FakeComm) Rank() int { return c.rank }
func (c *FakeComm) Pid() int  { return c.pid }

func (c *FakeComm) Barrier() error {
	c.shared.barrier.Wait()
	return nil
}

func (c *FakeComm) Gatherv(tx []byte, root int) ([][]byte, error) {
	c.shared.barrier.Wait()
	c.shared.mu.Lock()
	if c.shared.gather == nil {
		c.shared.gather = make([][]byte, c.size)
	}
	c.shared.gather[c.rank] = tx
	c.shared.mu.Unlock()
	c.shared.barrier.Wait()

	c.shared.mu.Lock()
	out := c.shared.gather
	c.shared.mu.Unlock()
	if c.rank != root {
		return nil, nil
	}
	return out, nil
}

func (c *FakeComm) Scatterv(tx [][]byte, root int) ([]byte, error) {
	if c.rank == root {
		c.shared.mu.Lock()
		c.shared.scatter = tx
		c.shared.mu.Unlock()
	}
	c.shared.barrier.Wait()

	c.shared.mu.Lock()
	mine := c.shared.scatter[c.rank]
	c.shared.mu.Unlock()
	c.shared.barrier.Wait()
	return mine, nil
}

// Split partitions the communicator exactly like MPI_Comm_split: members
// sharing the same color form one new communicator, ordered by key then by
// original rank.
func (c *FakeComm) Split(color, key int) (Comm, error) {
	// Drain any collective still using the shared gather/scatter slots
	// before this call starts reusing them for color/key exchange.
	c.shared.barrier.Wait()
	c.shared.mu.Lock()
	if c.shared.gather == nil {
		c.shared.gather = make([][]byte, c.size)
	}
	ckr := make([]byte, 16)
	putInt64(ckr[0:8], int64(color))
	putInt64(ckr[8:16], int64(key))
	c.shared.gather[c.rank] = ckr
	c.shared.mu.Unlock()
	c.shared.barrier.Wait()

	c.shared.mu.Lock()
	all := append([][]byte(nil), c.shared.gather...)
	c.shared.mu.Unlock()

	type ckrRank struct {
		color, key, rank int
	}
	entries := make([]ckrRank, c.size)
	for r, b := range all {
		entries[r] = ckrRank{
			color: int(getInt64(b[0:8])),
			key:   int(getInt64(b[8:16])),
			rank:  r,
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.color != b.color {
			return a.color < b.color
		}
		if a.key != b.key {
			return a.key < b.key
		}
		return a.rank < b.rank
	})

	var members []int
	for _, e := range entries {
		if e.color == color {
			members = append(members, e.rank)
		}
	}
	newSize := len(members)
	newRank := -1
	for i, r := range members {
		if r == c.rank {
			newRank = i
			break
		}
	}
	if newRank < 0 {
		return nil, errors.Errorf("fake comm: rank %d not present in its own color group", c.rank)
	}

	// Rank 0 of the parent communicator stands up one shared state per
	// distinct color — everyone else just looks theirs up by color once it
	// barriers into existence, so every member of a color group ends up
	// sharing the identical barrier instance instead of each allocating its
	// own (which would never rendezvous).
	if c.rank == 0 {
		c.shared.mu.Lock()
		c.shared.childByColor = make(map[int]*fakeCommShared)
		seen := map[int]int{}
		for _, e := range entries {
			seen[e.color]++
		}
		for col, n := range seen {
			c.shared.childByColor[col] = &fakeCommShared{barrier: newCyclicBarrier(n), gather: make([][]byte, n)}
		}
		c.shared.mu.Unlock()
	}
	c.shared.barrier.Wait()

	c.shared.mu.Lock()
	childShared := c.shared.childByColor[color]
	c.shared.mu.Unlock()

	return &FakeComm{size: newSize, rank: newRank, pid: c.pid, shared: childShared}, nil
}
