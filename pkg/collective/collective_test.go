package collective

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openhpc/quovadis-go/pkg/bitmap"
	"github.com/openhpc/quovadis-go/pkg/group"
	"github.com/openhpc/quovadis-go/pkg/hwpool"
	"github.com/openhpc/quovadis-go/pkg/sysfs"
)

func joinMembers(t *testing.T, n int) []*group.Member {
	t.Helper()
	root := group.NewThread(n)
	members := make([]*group.Member, n)
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

func TestBcastValue(t *testing.T) {
	members := joinMembers(t, 3)

	out := make([]int32, 3)
	var wg sync.WaitGroup
	wg.Add(3)
	for i, m := range members {
		go func(i int, m *group.Member) {
			defer wg.Done()
			v, err := BcastValue(m, 0, 42)
			require.NoError(t, err)
			out[i] = v
		}(i, m)
	}
	wg.Wait()

	for _, v := range out {
		assert.Equal(t, int32(42), v)
	}
}

func TestGatherValues(t *testing.T) {
	members := joinMembers(t, 3)

	out := make([][]int32, 3)
	var wg sync.WaitGroup
	wg.Add(3)
	for i, m := range members {
		go func(i int, m *group.Member) {
			defer wg.Done()
			vals, err := GatherValues(m, 0, int32(m.Rank()*10))
			require.NoError(t, err)
			out[i] = vals
		}(i, m)
	}
	wg.Wait()

	root := -1
	for i, m := range members {
		if m.Rank() == 0 {
			root = i
		}
	}
	require.GreaterOrEqual(t, root, 0)
	assert.Equal(t, []int32{0, 10, 20}, out[root])
}

func TestGatherScatterHWPools(t *testing.T) {
	members := joinMembers(t, 2)

	pools := make([]*hwpool.Pool, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	for i, m := range members {
		go func(i int, m *group.Member) {
			defer wg.Done()
			cs := bitmap.New(m.Rank())
			oracle := sysfs.NewOracle(nil, nil)
			pool, err := hwpool.Initialize(oracle, cs)
			require.NoError(t, err)
			pools[i] = pool
		}(i, m)
	}
	wg.Wait()

	gathered := make([][]*hwpool.Pool, 2)
	wg.Add(2)
	for i, m := range members {
		go func(i int, m *group.Member) {
			defer wg.Done()
			rx, err := GatherHWPools(m, 0, pools[i])
			require.NoError(t, err)
			gathered[i] = rx
		}(i, m)
	}
	wg.Wait()

	root := -1
	for i, m := range members {
		if m.Rank() == 0 {
			root = i
		}
	}
	require.Len(t, gathered[root], 2)
}
