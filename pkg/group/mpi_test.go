package group

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeCommPIDsAgreeAcrossRanks(t *testing.T) {
	comms := NewFakeCommSet(3, 4242)
	groups := make([]*MPI, 3)
	for i, c := range comms {
		groups[i] = NewMPI(c)
	}

	results := make([][]int, 3)
	var wg sync.WaitGroup
	wg.Add(3)
	for i, g := range groups {
		go func(i int, g *MPI) {
			defer wg.Done()
			pids, err := g.PIDs()
			require.NoError(t, err)
			results[i] = pids
		}(i, g)
	}
	wg.Wait()

	for _, pids := range results {
		assert.Equal(t, []int{4242, 4242, 4242}, pids)
	}
}

func TestFakeCommSplitPartitionsByColor(t *testing.T) {
	comms := NewFakeCommSet(4, 1)

	children := make([]Comm, 4)
	var wg sync.WaitGroup
	wg.Add(4)
	for i, c := range comms {
		go func(i int, c *FakeComm) {
			defer wg.Done()
			child, err := c.Split(c.Rank()%2, c.Rank())
			require.NoError(t, err)
			children[i] = child
		}(i, c)
	}
	wg.Wait()

	for _, c := range children {
		assert.Equal(t, 2, c.Size())
	}
}

func TestFakeCommGatherScatterRoundTrip(t *testing.T) {
	comms := NewFakeCommSet(3, 1)

	gathered := make([][][]byte, 3)
	var wg sync.WaitGroup
	wg.Add(3)
	for i, c := range comms {
		go func(i int, c *FakeComm) {
			defer wg.Done()
			tx := []byte{byte(c.Rank())}
			rx, err := c.Gatherv(tx, 0)
			require.NoError(t, err)
			gathered[i] = rx
		}(i, c)
	}
	wg.Wait()

	require.NotNil(t, gathered[0])
	for r, b := range gathered[0] {
		assert.Equal(t, byte(r), b[0])
	}
}
