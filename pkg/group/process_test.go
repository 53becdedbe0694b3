package group

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessSizeAndRank(t *testing.T) {
	p := NewProcess()
	assert.Equal(t, 1, p.Size())
	assert.Equal(t, 0, p.Rank())
}

func TestProcessGatherScatterRoundTrip(t *testing.T) {
	p := NewProcess()
	rx, alloc, err := p.GatherBBuff([]byte("hi"), 0)
	require.NoError(t, err)
	assert.Equal(t, AllocPrivate, alloc)
	require.Len(t, rx, 1)
	assert.Equal(t, "hi", string(rx[0]))

	out, err := p.ScatterBBuff([][]byte{[]byte("bye")}, 0)
	require.NoError(t, err)
	assert.Equal(t, "bye", string(out))
}

func TestProcessGatherRejectsNonZeroRoot(t *testing.T) {
	p := NewProcess()
	_, _, err := p.GatherBBuff(nil, 1)
	assert.Error(t, err)
}
