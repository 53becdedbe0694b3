// Package collective provides typed collective operations (broadcast,
// scatter, gather) built on top of a group's raw byte-buffer gather/scatter,
// plus hardware-pool-specific variants the splitting engine uses to
// exchange pools between cooperating members.
package collective

import (
	"github.com/pkg/errors"

	"github.com/openhpc/quovadis-go/pkg/group"
	"github.com/openhpc/quovadis-go/pkg/hwpool"
	"github.com/openhpc/quovadis-go/pkg/wire"
)

// ScatterValues has the root pack one int32 per member into its own buffer
// and scatters them; every member, including the root, gets its own value
// back.
func ScatterValues(g group.Group, root int, values []int32) (int32, error) {
	var tx [][]byte
	if g.Rank() == root {
		if len(values) != g.Size() {
			return 0, errors.Errorf("collective: scatter_values expects %d values, got %d", g.Size(), len(values))
		}
		tx = make([][]byte, len(values))
		for i, v := range values {
			b := wire.NewBuffer()
			b.WriteInt32(v)
			tx[i] = b.Bytes()
		}
	}
	rx, err := g.ScatterBBuff(tx, root)
	if err != nil {
		return 0, errors.Wrap(err, "collective: scatter_values failed")
	}
	v, err := wire.FromBytes(rx).ReadInt32()
	if err != nil {
		return 0, errors.Wrap(err, "collective: scatter_values failed to unpack result")
	}
	return v, nil
}

// BcastValue scatters the same value to every member, root included.
func BcastValue(g group.Group, root int, value int32) (int32, error) {
	var values []int32
	if g.Rank() == root {
		values = make([]int32, g.Size())
		for i := range values {
			values[i] = value
		}
	}
	return ScatterValues(g, root, values)
}

// GatherValues gathers one int32 per member to root, in rank order; only
// root's returned slice is populated, matching the gather contract.
func GatherValues(g group.Group, root int, value int32) ([]int32, error) {
	tx := wire.NewBuffer()
	tx.WriteInt32(value)

	rx, _, err := g.GatherBBuff(tx.Bytes(), root)
	if err != nil {
		return nil, errors.Wrap(err, "collective: gather_values failed")
	}
	if g.Rank() != root {
		return nil, nil
	}
	out := make([]int32, len(rx))
	for i, b := range rx {
		v, err := wire.FromBytes(b).ReadInt32()
		if err != nil {
			return nil, errors.Wrapf(err, "collective: gather_values failed to unpack member %d", i)
		}
		out[i] = v
	}
	return out, nil
}

// GatherHWPools gathers one hardware pool per member to root, in rank order.
func GatherHWPools(g group.Group, root int, pool *hwpool.Pool) ([]*hwpool.Pool, error) {
	tx := wire.NewBuffer()
	pool.Pack(tx)

	rx, _, err := g.GatherBBuff(tx.Bytes(), root)
	if err != nil {
		return nil, errors.Wrap(err, "collective: gather_hwpools failed")
	}
	if g.Rank() != root {
		return nil, nil
	}
	out := make([]*hwpool.Pool, len(rx))
	for i, b := range rx {
		p, err := hwpool.Unpack(wire.FromBytes(b))
		if err != nil {
			return nil, errors.Wrapf(err, "collective: gather_hwpools failed to unpack member %d", i)
		}
		out[i] = p
	}
	return out, nil
}

// ScatterHWPools scatters pools[rank] from root to every member.
func ScatterHWPools(g group.Group, root int, pools []*hwpool.Pool) (*hwpool.Pool, error) {
	var tx [][]byte
	if g.Rank() == root {
		if len(pools) != g.Size() {
			return nil, errors.Errorf("collective: scatter_hwpools expects %d pools, got %d", g.Size(), len(pools))
		}
		tx = make([][]byte, len(pools))
		for i, p := range pools {
			b := wire.NewBuffer()
			p.Pack(b)
			tx[i] = b.Bytes()
		}
	}
	rx, err := g.ScatterBBuff(tx, root)
	if err != nil {
		return nil, errors.Wrap(err, "collective: scatter_hwpools failed")
	}
	return hwpool.Unpack(wire.FromBytes(rx))
}
