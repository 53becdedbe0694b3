package gpu

import (
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeAffinity(t *testing.T) {
	b := decodeAffinity([]uint{0b101, 0b1})
	assert.ElementsMatch(t, []int{0, 2, strconv.IntSize}, b.List())
}

func TestBusID(t *testing.T) {
	var raw [32]int8
	copy(raw[:], "0000:3B:00.0\x00garbage")
	assert.Equal(t, "0000:3b:00.0", busID(raw))
}

func TestVisibleOrdinalsDefaultsToAll(t *testing.T) {
	os.Unsetenv("NVIDIA_VISIBLE_DEVICES")
	ords := visibleOrdinals([]string{"GPU-a", "GPU-b", "GPU-c"})
	assert.Equal(t, []int{0, 1, 2}, ords)
}

func TestVisibleOrdinalsByIndex(t *testing.T) {
	os.Setenv("NVIDIA_VISIBLE_DEVICES", "2,0")
	defer os.Unsetenv("NVIDIA_VISIBLE_DEVICES")

	ords := visibleOrdinals([]string{"GPU-a", "GPU-b", "GPU-c"})
	assert.Equal(t, 1, ords[0])
	assert.Equal(t, -1, ords[1])
	assert.Equal(t, 0, ords[2])
}

func TestAffinityFromSysfsMissingDeviceReturnsError(t *testing.T) {
	_, err := affinityFromSysfs("0000:ff:ff.f")
	assert.Error(t, err)
}

func TestVisibleOrdinalsByUUID(t *testing.T) {
	os.Setenv("NVIDIA_VISIBLE_DEVICES", "GPU-b")
	defer os.Unsetenv("NVIDIA_VISIBLE_DEVICES")

	ords := visibleOrdinals([]string{"GPU-a", "GPU-b", "GPU-c"})
	assert.Equal(t, -1, ords[0])
	assert.Equal(t, 0, ords[1])
	assert.Equal(t, -1, ords[2])
}
