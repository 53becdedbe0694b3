package group

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// joinAll drives n goroutines through root.Join concurrently and waits for
// all of them, returning each goroutine's Member handle in rank-independent
// (join-order) slice order.
func joinAll(t *testing.T, root *Thread, n int) []*Member {
	t.Helper()
	members := make([]*Member, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			m, err := root.Join()
			require.NoError(t, err)
			members[i] = m
		}(i)
	}
	wg.Wait()
	return members
}

func TestThreadJoinAssignsDistinctRanks(t *testing.T) {
	root := NewThread(4)
	members := joinAll(t, root, 4)

	seen := map[int]bool{}
	for _, m := range members {
		assert.Equal(t, 4, m.Size())
		seen[m.Rank()] = true
	}
	assert.Len(t, seen, 4)
}

func TestThreadGatherBBuffCollectsAllRanks(t *testing.T) {
	root := NewThread(3)
	members := joinAll(t, root, 3)

	results := make([][][]byte, 3)
	var wg sync.WaitGroup
	wg.Add(3)
	for i, m := range members {
		go func(i int, m *Member) {
			defer wg.Done()
			rx, alloc, err := m.GatherBBuff([]byte(fmt.Sprintf("r%d", m.Rank())), 0)
			require.NoError(t, err)
			assert.Equal(t, AllocSharedGlobal, alloc)
			results[i] = rx
		}(i, m)
	}
	wg.Wait()

	for _, rx := range results {
		require.Len(t, rx, 3)
		for r, b := range rx {
			assert.Equal(t, fmt.Sprintf("r%d", r), string(b))
		}
	}
}

func TestThreadScatterBBuffDistributesByRank(t *testing.T) {
	root := NewThread(3)
	members := joinAll(t, root, 3)

	tx := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	out := make([][]byte, 3)
	var wg sync.WaitGroup
	wg.Add(3)
	for i, m := range members {
		go func(i int, m *Member) {
			defer wg.Done()
			rx, err := m.ScatterBBuff(tx, 0)
			require.NoError(t, err)
			out[i] = rx
		}(i, m)
	}
	wg.Wait()

	for i, m := range members {
		assert.Equal(t, tx[m.Rank()], out[i])
	}
}

func TestThreadSplitPartitionsByColor(t *testing.T) {
	root := NewThread(4)
	members := joinAll(t, root, 4)

	// ranks 0,1 -> color 0; ranks 2,3 -> color 1
	children := make([]Group, 4)
	var wg sync.WaitGroup
	wg.Add(4)
	for i, m := range members {
		go func(i int, m *Member) {
			defer wg.Done()
			color := m.Rank() / 2
			child, err := m.Split(color, m.Rank())
			require.NoError(t, err)
			children[i] = child
		}(i, m)
	}
	wg.Wait()

	for _, c := range children {
		assert.Equal(t, 2, c.Size())
	}
}
