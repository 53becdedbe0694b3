package group

import (
	"os"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// threadContext is shared by every group descended from one root Thread
// group, the goroutine analog of the pthread backend's process-wide
// context: it lets a non-master member look up a freshly split child group
// by the id the master published, instead of racing to create its own.
type threadContext struct {
	mu    sync.Mutex
	byGID map[uint64]*Thread
}

func newThreadContext() *threadContext {
	return &threadContext{byGID: make(map[uint64]*Thread)}
}

type colorKeyRank struct {
	color, key, rank int
}

// Thread is the state shared by every goroutine cooperating in one
// node-local, non-MPI group. Go goroutines have no OS-visible identity to
// register the way the pthread backend registers TIDs, so membership is
// established explicitly: each cooperating goroutine calls Join once, and
// keeps the returned Member as its handle into every subsequent group call.
type Thread struct {
	ctx     *threadContext
	size    int
	barrier *cyclicBarrier

	mu          sync.Mutex
	joined      int
	joinOrder   []int64
	nextJoinTok int64
	tokenToRank map[int64]int

	gatherData  [][]byte
	scatterData [][]byte
	ckrs        []colorKeyRank
	subgroupGID []uint64
}

// NewThread creates a new root thread group of the given size. Exactly
// `size` goroutines must call Join on the returned group before any of them
// proceeds to use it collectively.
func NewThread(size int) *Thread {
	return newThreadInContext(newThreadContext(), size)
}

func newThreadInContext(ctx *threadContext, size int) *Thread {
	t := &Thread{
		ctx:         ctx,
		size:        size,
		barrier:     newCyclicBarrier(size),
		tokenToRank: make(map[int64]int),
		gatherData:  make([][]byte, size),
		ckrs:        make([]colorKeyRank, size),
	}
	return t
}

// Member is one goroutine's handle into a shared Thread group; it
// implements Group.
type Member struct {
	t    *Thread
	rank int
}

// Join registers the calling goroutine as a member of t, blocking until
// every expected member has joined, then returns this goroutine's handle.
// Ranks are assigned in the order goroutines enter Join (not the order they
// were started), standing in for the pthread backend's TID-sort election
// without relying on any OS thread identity.
func (t *Thread) Join() (*Member, error) {
	t.mu.Lock()
	tok := t.nextJoinTok
	t.nextJoinTok++
	t.joinOrder = append(t.joinOrder, tok)
	t.joined++
	master := t.joined == 1
	t.mu.Unlock()

	t.barrier.Wait()

	if master {
		t.mu.Lock()
		sorted := append([]int64(nil), t.joinOrder...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		for rank, tk := range sorted {
			t.tokenToRank[tk] = rank
		}
		t.mu.Unlock()
	}
	t.barrier.Wait()

	t.mu.Lock()
	rank := t.tokenToRank[tok]
	t.mu.Unlock()

	return &Member{t: t, rank: rank}, nil
}

func (m *Member) Size() int { return m.t.size }

func (m *Member) Rank() int { return m.rank }

func (m *Member) PIDs() ([]int, error) {
	pids := make([]int, m.t.size)
	pid := os.Getpid()
	for i := range pids {
		pids[i] = pid
	}
	return pids, nil
}

func (m *Member) Barrier() error {
	m.t.barrier.Wait()
	return nil
}

func (m *Member) MakeIntrinsic(intrinsic IntrinsicScope) error {
	return nil
}

// Self creates a new single-member group for the calling goroutine alone.
func (m *Member) Self() (Group, error) {
	self := NewThread(1)
	return self.Join()
}

// Split partitions the parent group by color/key, following the same
// sort-then-slice algorithm as the pthread backend: every member publishes
// its (color, key, rank) into a shared slot, the group barriers, the master
// (rank 0) sorts by (color, key, rank) and assigns one child group id per
// distinct color, and every member joins its assigned child.
func (m *Member) Split(color, key int) (Group, error) {
	t := m.t
	t.mu.Lock()
	t.ckrs[m.rank] = colorKeyRank{color: color, key: key, rank: m.rank}
	t.mu.Unlock()
	t.barrier.Wait()

	var childGID uint64
	var subIndex int

	if m.rank == 0 {
		t.mu.Lock()
		sorted := append([]colorKeyRank(nil), t.ckrs...)
		sort.Slice(sorted, func(i, j int) bool {
			a, b := sorted[i], sorted[j]
			if a.color != b.color {
				return a.color < b.color
			}
			if a.key != b.key {
				return a.key < b.key
			}
			return a.rank < b.rank
		})

		colors := distinctColorsInOrder(sorted)
		gids := make([]uint64, len(colors))
		for i := range gids {
			gids[i] = NewGroupID()
		}
		t.subgroupGID = gids
		t.mu.Unlock()
	}
	t.barrier.Wait()

	// Every member (including the master) now recomputes its own subgroup
	// index/size from the same sorted view, deterministically.
	t.mu.Lock()
	sorted := append([]colorKeyRank(nil), t.ckrs...)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.color != b.color {
			return a.color < b.color
		}
		if a.key != b.key {
			return a.key < b.key
		}
		return a.rank < b.rank
	})
	colors := distinctColorsInOrder(sorted)
	for i, c := range colors {
		if c == color {
			subIndex = i
			break
		}
	}
	childGID = t.subgroupGID[subIndex]
	t.mu.Unlock()

	if m.rank == 0 {
		t.ctx.mu.Lock()
		for i, gid := range t.subgroupGID {
			if _, ok := t.ctx.byGID[gid]; !ok {
				t.ctx.byGID[gid] = newThreadInContext(t.ctx, childSizeForColor(sorted, colors[i]))
			}
		}
		t.ctx.mu.Unlock()
	}
	t.barrier.Wait()

	t.ctx.mu.Lock()
	child := t.ctx.byGID[childGID]
	t.ctx.mu.Unlock()

	member, err := child.Join()
	if err != nil {
		return nil, errors.Wrap(err, "thread group: child join failed")
	}

	t.barrier.Wait()
	if m.rank == 0 {
		t.ctx.mu.Lock()
		for _, gid := range t.subgroupGID {
			delete(t.ctx.byGID, gid)
		}
		t.ctx.mu.Unlock()
	}

	return member, nil
}

func distinctColorsInOrder(sorted []colorKeyRank) []int {
	var out []int
	for i, e := range sorted {
		if i == 0 || e.color != sorted[i-1].color {
			out = append(out, e.color)
		}
	}
	return out
}

func childSizeForColor(sorted []colorKeyRank, color int) int {
	n := 0
	for _, e := range sorted {
		if e.color == color {
			n++
		}
	}
	return n
}

// GatherBBuff gathers tx from every member to a shared, rank-indexed slot;
// the result is shared, backend-owned storage (AllocSharedGlobal), matching
// the pthread backend's gather semantics.
func (m *Member) GatherBBuff(tx []byte, root int) ([][]byte, AllocType, error) {
	t := m.t
	t.barrier.Wait()
	t.mu.Lock()
	t.gatherData[m.rank] = tx
	t.mu.Unlock()
	t.barrier.Wait()

	t.mu.Lock()
	out := t.gatherData
	t.mu.Unlock()
	return out, AllocSharedGlobal, nil
}

// ScatterBBuff scatters tx[rank] from root to every member.
func (m *Member) ScatterBBuff(tx [][]byte, root int) ([]byte, error) {
	t := m.t
	if m.rank == root {
		if len(tx) != t.size {
			return nil, errors.Errorf("thread group: scatter expects %d buffers, got %d", t.size, len(tx))
		}
		t.mu.Lock()
		t.scatterData = tx
		t.mu.Unlock()
	}
	t.barrier.Wait()

	t.mu.Lock()
	mine := t.scatterData[m.rank]
	t.mu.Unlock()
	t.barrier.Wait()

	return mine, nil
}
