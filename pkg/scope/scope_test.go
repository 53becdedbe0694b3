package scope

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openhpc/quovadis-go/pkg/bitmap"
	"github.com/openhpc/quovadis-go/pkg/group"
	"github.com/openhpc/quovadis-go/pkg/hwpool"
	"github.com/openhpc/quovadis-go/pkg/rmi"
	"github.com/openhpc/quovadis-go/pkg/split"
	"github.com/openhpc/quovadis-go/pkg/sysfs"
	"github.com/openhpc/quovadis-go/pkg/task"
)

// fakeRMI stands in for an *rmi.Client: a task's bind calls operate on an
// in-memory cpuset instead of a real daemon connection, and
// GetIntrinsicHWPool returns a canned pool instead of deriving one
// server-side.
type fakeRMI struct {
	mu   sync.Mutex
	bind bitmap.Bitmap
	pool *hwpool.Pool
}

func (f *fakeRMI) GetCPUBind() (bitmap.Bitmap, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bind.Clone(), nil
}

func (f *fakeRMI) SetCPUBind(cs bitmap.Bitmap) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bind = cs.Clone()
	return nil
}

func (f *fakeRMI) GetIntrinsicHWPool(intrinsic rmi.Intrinsic, pids []int32) (*hwpool.Pool, error) {
	return f.pool, nil
}

func TestCreateBindsIntrinsicAndBuildsRootScope(t *testing.T) {
	oracle := sysfs.NewOracle(nil, nil)
	pool, err := hwpool.Initialize(oracle, bitmap.New(0, 1, 2, 3))
	require.NoError(t, err)

	fr := &fakeRMI{bind: bitmap.New(0, 1, 2, 3), pool: pool}
	tsk, err := task.New(fr)
	require.NoError(t, err)

	sc, err := Create(oracle, tsk, fr, group.NewProcess(), rmi.IntrinsicUser, nil, CreateOptions{})
	require.NoError(t, err)
	assert.True(t, sc.Cpuset().Equals(bitmap.New(0, 1, 2, 3)))
}

func TestCreateAcceptsAndIgnoresHints(t *testing.T) {
	oracle := sysfs.NewOracle(nil, nil)
	pool, err := hwpool.Initialize(oracle, bitmap.New(0, 1))
	require.NoError(t, err)
	fr := &fakeRMI{bind: bitmap.New(0, 1), pool: pool}
	tsk, err := task.New(fr)
	require.NoError(t, err)

	sc, err := Create(oracle, tsk, fr, group.NewProcess(), rmi.IntrinsicUser, nil, CreateOptions{Hints: "anything"})
	require.NoError(t, err)
	assert.NotNil(t, sc)
}

func joinScopeMembers(t *testing.T, oracle *sysfs.Oracle, parentPool *hwpool.Pool, n int) []*Scope {
	t.Helper()
	root := group.NewThread(n)
	scopes := make([]*Scope, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			m, err := root.Join()
			require.NoError(t, err)
			fr := &fakeRMI{bind: parentPool.Cpuset()}
			tsk, err := task.New(fr)
			require.NoError(t, err)
			scopes[m.Rank()] = newScope(oracle, tsk, m, parentPool)
		}(i)
	}
	wg.Wait()
	return scopes
}

func TestScopeSplitProducesDisjointChildPools(t *testing.T) {
	oracle := sysfs.NewOracle(nil, nil)
	parentPool, err := hwpool.Initialize(oracle, bitmap.New(0, 1, 2, 3))
	require.NoError(t, err)

	scopes := joinScopeMembers(t, oracle, parentPool, 4)

	children := make([]*Scope, 4)
	errs := make([]error, 4)
	var wg sync.WaitGroup
	wg.Add(4)
	for i, sc := range scopes {
		go func(i int, sc *Scope) {
			defer wg.Done()
			c, err := sc.Split(2, int(split.Packed))
			children[i] = c
			errs[i] = err
		}(i, sc)
	}
	wg.Wait()

	for i := range scopes {
		require.NoError(t, errs[i])
		require.NotNil(t, children[i])
	}
	assert.True(t, children[0].Cpuset().Equals(children[1].Cpuset()))
	assert.True(t, children[2].Cpuset().Equals(children[3].Cpuset()))
	assert.False(t, children[0].Cpuset().Equals(children[2].Cpuset()))
	assert.True(t, children[0].Cpuset().Union(children[2].Cpuset()).Equals(parentPool.Cpuset()))
}

func TestScopeThreadSplitAssignsOneResultPerColor(t *testing.T) {
	oracle := sysfs.NewOracle(nil, nil)
	parentPool, err := hwpool.Initialize(oracle, bitmap.New(0, 1, 2, 3))
	require.NoError(t, err)

	fr := &fakeRMI{bind: bitmap.New(0, 1, 2, 3)}
	tsk, err := task.New(fr)
	require.NoError(t, err)
	sc := newScope(oracle, tsk, group.NewProcess(), parentPool)

	results, err := sc.ThreadSplit(2, []int{int(split.Spread), int(split.Spread), int(split.Spread), int(split.Spread)}, sysfs.Last)
	require.NoError(t, err)
	require.Len(t, results, 4)
	assert.Equal(t, results[0].Color, results[2].Color)
	assert.Equal(t, results[1].Color, results[3].Color)

	root := group.NewThread(1)
	member, err := root.Join()
	require.NoError(t, err)
	child := sc.FromGroup(member, results[0].Pool)
	assert.True(t, child.Cpuset().Equals(results[0].Pool.Cpuset()))
}

func TestScopeBindPushPopRoundTrip(t *testing.T) {
	oracle := sysfs.NewOracle(nil, nil)
	fullPool, err := hwpool.Initialize(oracle, bitmap.New(0, 1, 2, 3, 4, 5, 6, 7))
	require.NoError(t, err)
	childPool, err := hwpool.Initialize(oracle, bitmap.New(0, 1, 2, 3))
	require.NoError(t, err)

	fr := &fakeRMI{bind: fullPool.Cpuset()}
	tsk, err := task.New(fr)
	require.NoError(t, err)
	sc := newScope(oracle, tsk, group.NewProcess(), childPool)

	require.NoError(t, sc.BindPush())
	cur, err := fr.GetCPUBind()
	require.NoError(t, err)
	assert.True(t, cur.Equals(childPool.Cpuset()))

	require.NoError(t, sc.BindPop())
	cur, err = fr.GetCPUBind()
	require.NoError(t, err)
	assert.True(t, cur.Equals(fullPool.Cpuset()))
}

func TestScopeDeviceID(t *testing.T) {
	oracle := sysfs.NewOracle(nil, []sysfs.DeviceDescriptor{
		{Type: sysfs.GPU, Affinity: bitmap.New(0, 1), PCIBusID: "0000:01:00.0", UUID: "gpu-0"},
	})
	pool, err := hwpool.Initialize(oracle, bitmap.New(0, 1))
	require.NoError(t, err)

	fr := &fakeRMI{bind: bitmap.New(0, 1)}
	tsk, err := task.New(fr)
	require.NoError(t, err)
	sc := newScope(oracle, tsk, group.NewProcess(), pool)

	id, err := sc.DeviceID(sysfs.GPU, 0, sysfs.IDFormatUUID)
	require.NoError(t, err)
	assert.Equal(t, "gpu-0", id)

	n, err := sc.NObjects(sysfs.GPU)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
