package split

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openhpc/quovadis-go/pkg/bitmap"
	"github.com/openhpc/quovadis-go/pkg/group"
	"github.com/openhpc/quovadis-go/pkg/hwpool"
	"github.com/openhpc/quovadis-go/pkg/qverr"
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
			members[m.Rank()] = m
		}(i)
	}
	wg.Wait()
	return members
}

func TestCollectiveSplitPacksEveryMemberAndAgrees(t *testing.T) {
	oracle := sysfs.NewOracle(nil, nil)
	parentPool, err := hwpool.Initialize(oracle, bitmap.New(0, 1, 2, 3))
	require.NoError(t, err)

	members := joinMembers(t, 4)

	colors := make([]int, 4)
	pools := make([]*hwpool.Pool, 4)
	errs := make([]error, 4)
	var wg sync.WaitGroup
	wg.Add(4)
	for i, m := range members {
		go func(i int, m *group.Member) {
			defer wg.Done()
			c, p, err := Collective(m, oracle, parentPool, 2, int(Packed), sysfs.Last, bitmap.Empty())
			colors[i] = c
			pools[i] = p
			errs[i] = err
		}(i, m)
	}
	wg.Wait()

	for i := range members {
		require.NoError(t, errs[i])
		require.NotNil(t, pools[i])
	}
	assert.Equal(t, colors[0], colors[1])
	assert.Equal(t, colors[2], colors[3])
	assert.NotEqual(t, colors[0], colors[2])
}

func TestCollectiveSplitPropagatesRootFailureToEveryMember(t *testing.T) {
	oracle := sysfs.NewOracle(nil, nil)
	parentPool, err := hwpool.Initialize(oracle, bitmap.New(0, 1, 2, 3))
	require.NoError(t, err)

	members := joinMembers(t, 2)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	for i, m := range members {
		// rank 0 sends a non-negative color, rank 1 sends a sentinel: mixed
		// signs, which the root's classification step rejects.
		color := 0
		if m.Rank() == 1 {
			color = int(Packed)
		}
		go func(i int, m *group.Member, color int) {
			defer wg.Done()
			_, _, err := Collective(m, oracle, parentPool, 2, color, sysfs.Last, bitmap.Empty())
			errs[i] = err
		}(i, m, color)
	}
	wg.Wait()

	for i := range members {
		assert.Error(t, errs[i])
	}
	assert.Equal(t, qverr.ErrInvalidArg, qverr.CodeOf(errs[0]))
	assert.Equal(t, qverr.CodeOf(errs[0]), qverr.CodeOf(errs[1]))
}

func TestThreadSplitComputesOneChildPoolPerColor(t *testing.T) {
	oracle := sysfs.NewOracle(nil, nil)
	parentPool, err := hwpool.Initialize(oracle, bitmap.New(0, 1, 2, 3))
	require.NoError(t, err)

	colors, pools, err := ThreadSplit(oracle, parentPool, 2, []int{int(Spread), int(Spread), int(Spread), int(Spread)}, sysfs.Last, bitmap.Empty())
	require.NoError(t, err)
	require.Len(t, colors, 4)
	require.Len(t, pools, 4)
	assert.Equal(t, colors[0], colors[2])
	assert.Equal(t, colors[1], colors[3])
}
