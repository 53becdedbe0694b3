package hwpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openhpc/quovadis-go/pkg/bitmap"
	"github.com/openhpc/quovadis-go/pkg/sysfs"
	"github.com/openhpc/quovadis-go/pkg/wire"
)

func gpuDev(uuid string, affinity bitmap.Bitmap) sysfs.DeviceDescriptor {
	return sysfs.DeviceDescriptor{
		Type:     sysfs.GPU,
		Affinity: affinity,
		Ordinal:  0,
		VendorID: "NVIDIA",
		Name:     "Test GPU",
		PCIBusID: "0000:01:00.0/" + uuid,
		UUID:     uuid,
	}
}

func TestInitializeAddsDevicesWithAffinity(t *testing.T) {
	cs := bitmap.New(0, 1, 2, 3)
	inCs := gpuDev("GPU-in", bitmap.New(0, 1))
	outCs := gpuDev("GPU-out", bitmap.New(6, 7))

	oracle := sysfs.NewOracle(nil, []sysfs.DeviceDescriptor{inCs, outCs})
	pool, err := Initialize(oracle, cs)
	require.NoError(t, err)

	devs := pool.Devices()
	require.Len(t, devs[sysfs.GPU], 1)
	assert.Equal(t, "GPU-in", devs[sysfs.GPU][0].UUID)
	assert.True(t, cs.Equals(pool.Cpuset()))
}

func TestAddDeviceRejectsAffinityOutsideCpuset(t *testing.T) {
	pool, err := Initialize(sysfs.NewOracle(nil, nil), bitmap.New(0, 1))
	require.NoError(t, err)

	err = pool.AddDevice(gpuDev("GPU-x", bitmap.New(5)))
	assert.Error(t, err)
}

func TestAddDeviceRejectsUnsupportedType(t *testing.T) {
	pool, err := Initialize(sysfs.NewOracle(nil, nil), bitmap.New(0, 1))
	require.NoError(t, err)

	dev := gpuDev("GPU-x", bitmap.New(0))
	dev.Type = sysfs.NUMANode
	assert.Error(t, pool.AddDevice(dev))
}

func TestNObjectsCountsDevicesByType(t *testing.T) {
	cs := bitmap.New(0, 1, 2, 3)
	oracle := sysfs.NewOracle(nil, []sysfs.DeviceDescriptor{
		gpuDev("GPU-a", bitmap.New(0)),
		gpuDev("GPU-b", bitmap.New(1)),
	})
	pool, err := Initialize(oracle, cs)
	require.NoError(t, err)

	n, err := pool.NObjects(oracle, sysfs.GPU)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestReleaseDevicesEmptiesMultimapRetainsCpuset(t *testing.T) {
	cs := bitmap.New(0, 1)
	oracle := sysfs.NewOracle(nil, []sysfs.DeviceDescriptor{gpuDev("GPU-a", bitmap.New(0))})
	pool, err := Initialize(oracle, cs)
	require.NoError(t, err)
	require.Len(t, pool.Devices()[sysfs.GPU], 1)

	require.NoError(t, pool.ReleaseDevices())

	assert.Empty(t, pool.Devices())
	assert.True(t, cs.Equals(pool.Cpuset()))
}

func TestPackUnpackRoundTrip(t *testing.T) {
	cs := bitmap.New(0, 1, 2, 3)
	oracle := sysfs.NewOracle(nil, []sysfs.DeviceDescriptor{
		gpuDev("GPU-a", bitmap.New(0, 1)),
		gpuDev("GPU-b", bitmap.New(2, 3)),
	})
	pool, err := Initialize(oracle, cs)
	require.NoError(t, err)

	buf := wire.NewBuffer()
	pool.Pack(buf)

	out, err := Unpack(wire.FromBytes(buf.Bytes()))
	require.NoError(t, err)

	assert.True(t, cs.Equals(out.Cpuset()))
	assert.Len(t, out.Devices()[sysfs.GPU], 2)

	var uuids []string
	for _, d := range out.Devices()[sysfs.GPU] {
		uuids = append(uuids, d.UUID)
	}
	assert.ElementsMatch(t, []string{"GPU-a", "GPU-b"}, uuids)
}
