package split

import (
	"github.com/pkg/errors"

	"github.com/openhpc/quovadis-go/pkg/bitmap"
	"github.com/openhpc/quovadis-go/pkg/collective"
	"github.com/openhpc/quovadis-go/pkg/group"
	"github.com/openhpc/quovadis-go/pkg/hwpool"
	"github.com/openhpc/quovadis-go/pkg/qverr"
	"github.com/openhpc/quovadis-go/pkg/sysfs"
)

// rootRank does the actual split computation; every other member only
// contributes its color/affinity and receives the scattered result.
const rootRank = 0

func gatherAffinities(g group.Group, root int, mine bitmap.Bitmap) ([]bitmap.Bitmap, error) {
	rx, _, err := g.GatherBBuff([]byte(mine.String()), root)
	if err != nil {
		return nil, err
	}
	if g.Rank() != root {
		return nil, nil
	}
	out := make([]bitmap.Bitmap, len(rx))
	for i, b := range rx {
		cs, err := bitmap.Parse(string(b))
		if err != nil {
			return nil, errors.Wrapf(err, "split: failed to parse gathered affinity %d", i)
		}
		out[i] = cs
	}
	return out, nil
}

// Collective performs a group-wide hardware split: every member supplies
// its own requested color and current affinity; the root gathers them,
// computes the split, and the result is scattered back as each member's new
// color and child pool. Any failure during the root's computation has its
// qverr.Code broadcast before the scatter is attempted, so every member
// observes the same code instead of some members hanging on a scatter that
// never comes.
func Collective(g group.Group, oracle *sysfs.Oracle, parentPool *hwpool.Pool, npieces, color int, splitAt sysfs.HWObjType, myAffinity bitmap.Bitmap) (int, *hwpool.Pool, error) {
	colors, err := collective.GatherValues(g, rootRank, int32(color))
	if err != nil {
		return 0, nil, errors.Wrap(err, "split: failed to gather colors")
	}
	affs, err := gatherAffinities(g, rootRank, myAffinity)
	if err != nil {
		return 0, nil, errors.Wrap(err, "split: failed to gather affinities")
	}

	var (
		agg      *aggregate
		splitErr error
	)
	if g.Rank() == rootRank {
		members := make([]Member, len(colors))
		for i := range members {
			members[i] = Member{Color: int(colors[i]), Affinity: affs[i]}
		}
		agg = newAggregate(oracle, parentPool, splitAt, npieces, members)
		splitErr = agg.split()
	}

	// Explicit barrier in case the underlying collectives poll heavily for
	// completion, matching the root's computation taking longer than a
	// plain gather/scatter round trip.
	if err := g.Barrier(); err != nil {
		return 0, nil, errors.Wrap(err, "split: barrier before broadcasting split status failed")
	}

	code, err := collective.BcastValue(g, rootRank, int32(qverr.CodeOf(splitErr)))
	if err != nil {
		return 0, nil, errors.Wrap(err, "split: failed to broadcast split status")
	}
	if rc := qverr.Code(code); !rc.OK() {
		if g.Rank() == rootRank {
			return 0, nil, splitErr
		}
		return 0, nil, qverr.New(rc, "split: the split failed on the root")
	}

	var (
		newColors []int32
		pools     []*hwpool.Pool
	)
	if g.Rank() == rootRank {
		newColors = make([]int32, len(agg.members))
		pools = make([]*hwpool.Pool, len(agg.members))
		for i, mem := range agg.members {
			newColors[i] = int32(mem.Color)
			pools[i] = agg.pools[mem.Color]
		}
	}

	newColor, err := collective.ScatterValues(g, rootRank, newColors)
	if err != nil {
		return 0, nil, errors.Wrap(err, "split: failed to scatter new colors")
	}
	newPool, err := collective.ScatterHWPools(g, rootRank, pools)
	if err != nil {
		return 0, nil, errors.Wrap(err, "split: failed to scatter child pools")
	}
	return int(newColor), newPool, nil
}

// ThreadSplit computes k child pools for a single task about to fan out
// into k cooperating threads, each requesting its own color. Unlike
// Collective there is no group coordination to perform: the calling task
// already knows every thread's requested color, and all of them share the
// calling task's current affinity.
func ThreadSplit(oracle *sysfs.Oracle, parentPool *hwpool.Pool, npieces int, kcolors []int, splitAt sysfs.HWObjType, myAffinity bitmap.Bitmap) ([]int, []*hwpool.Pool, error) {
	members := make([]Member, len(kcolors))
	for i, c := range kcolors {
		members[i] = Member{Color: c, Affinity: myAffinity}
	}
	agg := newAggregate(oracle, parentPool, splitAt, npieces, members)
	if err := agg.split(); err != nil {
		return nil, nil, err
	}

	colors := make([]int, len(agg.members))
	pools := make([]*hwpool.Pool, len(agg.members))
	for i, mem := range agg.members {
		colors[i] = mem.Color
		pools[i] = agg.pools[mem.Color]
	}
	return colors, pools, nil
}
