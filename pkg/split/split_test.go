package split

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openhpc/quovadis-go/pkg/bitmap"
	"github.com/openhpc/quovadis-go/pkg/hwpool"
	"github.com/openhpc/quovadis-go/pkg/sysfs"
)

func gpuDev(uuid string, affinity bitmap.Bitmap) sysfs.DeviceDescriptor {
	return sysfs.DeviceDescriptor{
		Type:     sysfs.GPU,
		Affinity: affinity,
		PCIBusID: "0000:01:00.0/" + uuid,
		UUID:     uuid,
	}
}

func TestUserDefinedSplitPartitionsMembersByColor(t *testing.T) {
	oracle := sysfs.NewOracle(nil, nil)
	parentPool, err := hwpool.Initialize(oracle, bitmap.New(0, 1, 2, 3, 4, 5, 6, 7))
	require.NoError(t, err)

	members := []Member{
		{Color: 0, Affinity: bitmap.New(0)},
		{Color: 1, Affinity: bitmap.New(1)},
		{Color: 0, Affinity: bitmap.New(2)},
		{Color: 1, Affinity: bitmap.New(3)},
	}
	agg := newAggregate(oracle, parentPool, sysfs.Last, 2, members)
	require.NoError(t, agg.split())

	assert.Equal(t, agg.members[0].Color, agg.members[2].Color)
	assert.Equal(t, agg.members[1].Color, agg.members[3].Color)
	assert.NotEqual(t, agg.members[0].Color, agg.members[1].Color)
	require.Len(t, agg.pools, 2)
	assert.True(t, agg.pools[agg.members[0].Color].Cpuset().Equals(bitmap.New(0, 1, 2, 3)))
	assert.True(t, agg.pools[agg.members[1].Color].Cpuset().Equals(bitmap.New(4, 5, 6, 7)))
}

func TestPackedSplitFillsResourcesInOrder(t *testing.T) {
	oracle := sysfs.NewOracle(nil, nil)
	parentPool, err := hwpool.Initialize(oracle, bitmap.New(0, 1, 2, 3, 4, 5, 6, 7))
	require.NoError(t, err)

	members := make([]Member, 4)
	for i := range members {
		members[i] = Member{Color: int(Packed)}
	}
	agg := newAggregate(oracle, parentPool, sysfs.Last, 2, members)
	require.NoError(t, agg.split())

	assert.Equal(t, 0, agg.members[0].Color)
	assert.Equal(t, 0, agg.members[1].Color)
	assert.Equal(t, 1, agg.members[2].Color)
	assert.Equal(t, 1, agg.members[3].Color)
}

func TestSpreadSplitAlternatesResources(t *testing.T) {
	oracle := sysfs.NewOracle(nil, nil)
	parentPool, err := hwpool.Initialize(oracle, bitmap.New(0, 1, 2, 3, 4, 5, 6, 7))
	require.NoError(t, err)

	members := make([]Member, 4)
	for i := range members {
		members[i] = Member{Color: int(Spread)}
	}
	agg := newAggregate(oracle, parentPool, sysfs.Last, 2, members)
	require.NoError(t, agg.split())

	assert.Equal(t, 0, agg.members[0].Color)
	assert.Equal(t, 1, agg.members[1].Color)
	assert.Equal(t, 0, agg.members[2].Color)
	assert.Equal(t, 1, agg.members[3].Color)
}

func TestAffinityPreservingSplitRoundRobinsTiedMembers(t *testing.T) {
	oracle := sysfs.NewOracle(nil, nil)
	parentPool, err := hwpool.Initialize(oracle, bitmap.New(0, 1, 2, 3, 4, 5, 6, 7))
	require.NoError(t, err)

	members := []Member{
		{Color: int(AffinityPreserving), Affinity: bitmap.New(0, 1, 2, 3)}, // only chunk 0
		{Color: int(AffinityPreserving), Affinity: bitmap.New(4, 5, 6, 7)}, // only chunk 1
		{Color: int(AffinityPreserving), Affinity: bitmap.New(0, 1, 2, 3, 4, 5, 6, 7)}, // tied
		{Color: int(AffinityPreserving), Affinity: bitmap.New(0, 1, 2, 3, 4, 5, 6, 7)}, // tied
	}
	agg := newAggregate(oracle, parentPool, sysfs.NUMANode, 2, members)
	require.NoError(t, agg.split())

	assert.Equal(t, agg.members[0].Color, agg.members[2].Color)
	assert.Equal(t, agg.members[1].Color, agg.members[3].Color)
	assert.NotEqual(t, agg.members[0].Color, agg.members[1].Color)
}

func TestSplitAtGPUDeviceTypePacksMembersOntoDeviceAffinities(t *testing.T) {
	gpu0 := gpuDev("gpu-0", bitmap.New(0, 1, 2, 3))
	gpu1 := gpuDev("gpu-1", bitmap.New(4, 5, 6, 7))
	oracle := sysfs.NewOracle(nil, []sysfs.DeviceDescriptor{gpu0, gpu1})
	parentPool, err := hwpool.Initialize(oracle, bitmap.New(0, 1, 2, 3, 4, 5, 6, 7))
	require.NoError(t, err)

	members := make([]Member, 4)
	for i := range members {
		members[i] = Member{Color: int(Packed)}
	}
	agg := newAggregate(oracle, parentPool, sysfs.GPU, 2, members)
	require.NoError(t, agg.split())

	require.Len(t, agg.pools, 2)
	devs0 := agg.pools[agg.members[0].Color].Devices()[sysfs.GPU]
	devs1 := agg.pools[agg.members[2].Color].Devices()[sysfs.GPU]
	require.Len(t, devs0, 1)
	require.Len(t, devs1, 1)
	assert.NotEqual(t, devs0[0].UUID, devs1[0].UUID)
}

func TestSplitRejectsMixedSignColors(t *testing.T) {
	oracle := sysfs.NewOracle(nil, nil)
	parentPool, err := hwpool.Initialize(oracle, bitmap.New(0, 1, 2, 3))
	require.NoError(t, err)

	members := []Member{{Color: 0}, {Color: int(Packed)}}
	agg := newAggregate(oracle, parentPool, sysfs.Last, 2, members)
	assert.Error(t, agg.split())
}

func TestSplitUserDefinedRedistributesDevicesRoundRobin(t *testing.T) {
	gpu0 := gpuDev("gpu-0", bitmap.New(0, 1))
	gpu1 := gpuDev("gpu-1", bitmap.New(3, 4))
	gpu2 := gpuDev("gpu-2", bitmap.New(2))
	oracle := sysfs.NewOracle(nil, []sysfs.DeviceDescriptor{gpu0, gpu1, gpu2})
	parentPool, err := hwpool.Initialize(oracle, bitmap.New(0, 1, 2, 3, 4, 5))
	require.NoError(t, err)

	members := []Member{{Color: 0}, {Color: 1}, {Color: 0}}
	agg := newAggregate(oracle, parentPool, sysfs.Last, 2, members)
	require.NoError(t, agg.split())

	total := 0
	for _, p := range agg.pools {
		total += len(p.Devices()[sysfs.GPU])
	}
	assert.Equal(t, 3, total)
}
