package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScalarRoundTrip(t *testing.T) {
	b := NewBuffer()
	b.WriteUint32(42)
	b.WriteInt32(-7)
	b.WriteUint64(1 << 40)
	b.WriteString("hwtopo")

	r := FromBytes(b.Bytes())
	u32, err := r.ReadUint32()
	require.NoError(t, err)
	assert.EqualValues(t, 42, u32)

	i32, err := r.ReadInt32()
	require.NoError(t, err)
	assert.EqualValues(t, -7, i32)

	u64, err := r.ReadUint64()
	require.NoError(t, err)
	assert.EqualValues(t, 1<<40, u64)

	s, err := r.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "hwtopo", s)
}

func TestBlobRoundTrip(t *testing.T) {
	b := NewBuffer()
	payload := []byte{1, 2, 3, 4, 5}
	b.WriteBlob(payload)

	r := FromBytes(b.Bytes())
	out, err := r.ReadBlob()
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestVectorRoundTrip(t *testing.T) {
	b := NewBuffer()
	PackStrings(b, []string{"a", "bb", "ccc"})
	PackInt32s(b, []int32{1, -2, 3})

	r := FromBytes(b.Bytes())
	strs, err := UnpackStrings(r)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "bb", "ccc"}, strs)

	ints, err := UnpackInt32s(r)
	require.NoError(t, err)
	assert.Equal(t, []int32{1, -2, 3}, ints)
}

func TestReadPastEndFails(t *testing.T) {
	r := FromBytes([]byte{1, 2})
	_, err := r.ReadUint32()
	assert.Error(t, err)
}
