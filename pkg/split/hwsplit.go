// Package split implements the hardware splitting engine: given a parent
// pool, a requested number of pieces, and each member's color and current
// affinity, it computes one child pool and one non-negative color per
// member. The per-process computation lives here; Collective and
// ThreadSplit in collective.go wire it to a group of cooperating members.
package split

import (
	"sort"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/openhpc/quovadis-go/pkg/bitmap"
	"github.com/openhpc/quovadis-go/pkg/hwpool"
	"github.com/openhpc/quovadis-go/pkg/qverr"
	"github.com/openhpc/quovadis-go/pkg/sysfs"
)

// Sentinel is a negative, caller-supplied color value that requests an
// automatic splitting policy instead of an explicit color assignment.
type Sentinel int

const (
	// Undefined is not itself a valid split request; a group where every
	// member passes it fails classification just like any other
	// unrecognized negative sentinel.
	Undefined Sentinel = -1
	// AffinityPreserving maps members to resources favoring their current affinity.
	AffinityPreserving Sentinel = -2
	// Packed maps members to resources in contiguous blocks.
	Packed Sentinel = -3
	// Spread maps members to resources round-robin.
	Spread Sentinel = -4
)

// supportedDeviceTypesForSplit lists the device types the splitter knows
// how to redistribute across child pools.
var supportedDeviceTypesForSplit = []sysfs.HWObjType{sysfs.GPU}

// Member is one group member's input to a hardware split: its requested
// color and current CPU affinity. After a split runs, Color is overwritten
// with the resulting, non-negative color the caller feeds to group.Split.
type Member struct {
	Affinity bitmap.Bitmap
	Color    int
}

// aggregate holds everything the computing task needs to perform a split:
// the parent pool being divided, per-member color/affinity, and — once
// split() has run — the resulting child pools.
type aggregate struct {
	oracle     *sysfs.Oracle
	parentPool *hwpool.Pool
	splitAt    sysfs.HWObjType
	splitSize  int
	members    []Member
	pools      []*hwpool.Pool
}

func newAggregate(oracle *sysfs.Oracle, parentPool *hwpool.Pool, splitAt sysfs.HWObjType, splitSize int, members []Member) *aggregate {
	return &aggregate{
		oracle:     oracle,
		parentPool: parentPool,
		splitAt:    splitAt,
		splitSize:  splitSize,
		members:    members,
	}
}

func (a *aggregate) groupSize() int { return len(a.members) }

// splitCpuset divides the parent's cpuset into splitSize contiguous chunks.
func (a *aggregate) splitCpuset() ([]bitmap.Bitmap, error) {
	out := make([]bitmap.Bitmap, a.splitSize)
	for i := range out {
		cs, err := a.oracle.SplitCpusetByChunkID(a.parentPool.Cpuset(), a.splitSize, i)
		if err != nil {
			return nil, errors.Wrap(err, "split: failed to split parent cpuset")
		}
		out[i] = cs
	}
	return out, nil
}

// osdevCpusets returns the affinities of every parent device of splitAt's
// type, the primary cpusets when splitting at a device type.
func (a *aggregate) osdevCpusets() []bitmap.Bitmap {
	devs := a.parentPool.Devices()[a.splitAt]
	out := make([]bitmap.Bitmap, len(devs))
	for i, d := range devs {
		out[i] = d.Affinity
	}
	return out
}

// primaryCpusets resolves the resource set members are mapped onto: a host
// resource type or Last (the generic split() entry point) splits the
// parent's cpuset into pieces; a device type instead maps onto each
// device's own affinity (the split_at() entry point).
func (a *aggregate) primaryCpusets() ([]bitmap.Bitmap, error) {
	if a.splitAt == sysfs.Last || sysfs.IsHostResource(a.splitAt) {
		return a.splitCpuset()
	}
	return a.osdevCpusets(), nil
}

// affinityPreservingPolicy is the fallback mapper for members (or devices)
// whose affinity never intersects any primary cpuset: packed for the
// generic split, spread for split_at a concrete resource type.
func (a *aggregate) affinityPreservingPolicy() mapFn {
	if a.splitAt == sysfs.Last {
		return mapPacked
	}
	return mapSpread
}

// releaseDevices clears every child pool's devices ahead of a redistribution
// pass. Pools are independent, so a failure on one doesn't stop the rest
// from being cleared; every failure is reported together rather than just
// the first.
func (a *aggregate) releaseDevices() error {
	var result *multierror.Error
	for _, p := range a.pools {
		if err := p.ReleaseDevices(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// applyCpusetMapping builds one child pool per cpuset and records each
// member's new color as the resource index it landed on.
func (a *aggregate) applyCpusetMapping(m resourceMap, cpusets []bitmap.Bitmap) error {
	pools := make([]*hwpool.Pool, len(cpusets))
	for i, cs := range cpusets {
		p, err := hwpool.Initialize(a.oracle, cs)
		if err != nil {
			return errors.Wrapf(err, "split: failed to initialize child pool %d", i)
		}
		pools[i] = p
	}
	a.pools = pools

	flat := m.flatten(a.groupSize())
	for i, tid := range flat {
		a.members[i].Color = tid
	}
	return nil
}

// splitDevicesUserDefined redistributes the parent's devices round-robin
// across the distinct colors actually assigned, one device type at a time.
func (a *aggregate) splitDevicesUserDefined() error {
	if err := a.releaseDevices(); err != nil {
		return err
	}

	colorSet := map[int]struct{}{}
	for _, mem := range a.members {
		colorSet[mem.Color] = struct{}{}
	}
	colors := make([]int, 0, len(colorSet))
	for c := range colorSet {
		colors = append(colors, c)
	}
	sort.Ints(colors)

	for _, devt := range supportedDeviceTypesForSplit {
		devs := a.parentPool.Devices()[devt]
		if len(devs) == 0 {
			continue
		}
		devColor := make([]int, len(devs))
		devi := 0
		for devi < len(devs) {
			for _, c := range colors {
				if devi >= len(devs) {
					break
				}
				devColor[devi] = c
				devi++
			}
		}
		for di, d := range devs {
			if err := a.pools[devColor[di]].AddDevice(d); err != nil {
				return err
			}
		}
	}
	return nil
}

// splitDevicesAffinityPreserving redistributes devices using the same
// affinity-preserving mapping as members, but with the devices themselves
// as the "from" side and the already-chosen member cpusets as the "to" side.
func (a *aggregate) splitDevicesAffinityPreserving(cpusets []bitmap.Bitmap) error {
	if err := a.releaseDevices(); err != nil {
		return err
	}

	policy := a.affinityPreservingPolicy()
	for _, devt := range supportedDeviceTypesForSplit {
		devs := a.parentPool.Devices()[devt]
		if len(devs) == 0 {
			continue
		}
		devAffs := make([]bitmap.Bitmap, len(devs))
		for i, d := range devs {
			devAffs[i] = d.Affinity
		}

		m := resourceMap{}
		if err := affinityPreserving(m, policy, devAffs, cpusets); err != nil {
			return errors.Wrap(err, "split: affinity-preserving device mapping failed")
		}

		devids := make([]int, 0, len(m))
		for devid := range m {
			devids = append(devids, devid)
		}
		sort.Ints(devids)
		for _, devid := range devids {
			if err := a.pools[m[devid]].AddDevice(devs[devid]); err != nil {
				return err
			}
		}
	}
	return nil
}

// splitUserDefined splits the parent cpuset into splitSize chunks, packs
// requested colors onto adjacent chunks, then redistributes devices.
func (a *aggregate) splitUserDefined() error {
	cpusets, err := a.splitCpuset()
	if err != nil {
		return err
	}

	colors := make([]int, a.groupSize())
	for i, mem := range a.members {
		colors[i] = mem.Color
	}

	m := resourceMap{}
	if err := mapColors(m, colors, cpusets); err != nil {
		return qverr.Wrap(qverr.ErrSplit, err, "split: user-defined color mapping failed")
	}
	if err := a.applyCpusetMapping(m, cpusets); err != nil {
		return err
	}
	return a.splitDevicesUserDefined()
}

func (a *aggregate) splitAffinityPreservingPass1() error {
	cpusets, err := a.primaryCpusets()
	if err != nil {
		return err
	}

	affs := make([]bitmap.Bitmap, a.groupSize())
	for i, mem := range a.members {
		affs[i] = mem.Affinity
	}

	m := resourceMap{}
	policy := a.affinityPreservingPolicy()
	if err := affinityPreserving(m, policy, affs, cpusets); err != nil {
		return qverr.Wrap(qverr.ErrSplit, err, "split: affinity-preserving mapping failed")
	}
	if m.nMapped() != a.groupSize() {
		return qverr.New(qverr.ErrInternal, "split: affinity-preserving mapping left %d of %d members unmapped", a.groupSize()-m.nMapped(), a.groupSize())
	}
	return a.applyCpusetMapping(m, cpusets)
}

func (a *aggregate) splitAffinityPreserving() error {
	if err := a.splitAffinityPreservingPass1(); err != nil {
		return err
	}
	cpusets, err := a.primaryCpusets()
	if err != nil {
		return err
	}
	return a.splitDevicesAffinityPreserving(cpusets)
}

func (a *aggregate) splitPacked() error {
	cpusets, err := a.primaryCpusets()
	if err != nil {
		return err
	}
	m := resourceMap{}
	if err := mapPacked(m, a.groupSize(), cpusets); err != nil {
		return err
	}
	if m.nMapped() != a.groupSize() {
		return qverr.New(qverr.ErrInternal, "split: packed mapping left members unmapped")
	}
	return a.applyCpusetMapping(m, cpusets)
}

func (a *aggregate) splitSpread() error {
	cpusets, err := a.primaryCpusets()
	if err != nil {
		return err
	}
	m := resourceMap{}
	if err := mapSpread(m, a.groupSize(), cpusets); err != nil {
		return err
	}
	if m.nMapped() != a.groupSize() {
		return qverr.New(qverr.ErrInternal, "split: spread mapping left members unmapped")
	}
	return a.applyCpusetMapping(m, cpusets)
}

// clampColors maps each input color to its rank within the sorted set of
// distinct colors present, so the result always falls in [0, ndistinct).
func clampColors(colors []int) []int {
	set := map[int]struct{}{}
	for _, c := range colors {
		set[c] = struct{}{}
	}
	distinct := make([]int, 0, len(set))
	for c := range set {
		distinct = append(distinct, c)
	}
	sort.Ints(distinct)

	rank := make(map[int]int, len(distinct))
	for i, c := range distinct {
		rank[c] = i
	}
	out := make([]int, len(colors))
	for i, c := range colors {
		out[i] = rank[c]
	}
	return out
}

// split classifies a.members' colors and dispatches to the matching
// algorithm, mutating a.members[i].Color in place to the resulting,
// non-negative resource id and populating a.pools.
func (a *aggregate) split() error {
	tcolors := make([]int, a.groupSize())
	for i, mem := range a.members {
		tcolors[i] = mem.Color
	}
	sort.Ints(tcolors)

	if tcolors[0] >= 0 {
		raw := make([]int, a.groupSize())
		for i, mem := range a.members {
			raw[i] = mem.Color
		}
		clamped := clampColors(raw)
		for i := range a.members {
			a.members[i].Color = clamped[i]
		}
		return a.splitUserDefined()
	}

	if tcolors[0] != tcolors[len(tcolors)-1] {
		return qverr.New(qverr.ErrInvalidArg, "split: colors must be all non-negative or all equal to the same negative sentinel")
	}

	switch Sentinel(tcolors[0]) {
	case AffinityPreserving:
		return a.splitAffinityPreserving()
	case Packed:
		return a.splitPacked()
	case Spread:
		return a.splitSpread()
	default:
		return qverr.New(qverr.ErrInvalidArg, "split: unsupported color sentinel %d", tcolors[0])
	}
}
