package split

import (
	"math"
	"sort"

	"github.com/openhpc/quovadis-go/pkg/bitmap"
)

// resourceMap is a from-id -> to-id mapping: which resource (cpuset/device
// slot index) each consumer (group member or device) ultimately lands on.
// Go has no ordered-map type, so iteration order is recovered with
// sortedFids/sortedRids helpers wherever the original's std::map ordering
// mattered.
type resourceMap map[int]int

func (m resourceMap) nMapped() int {
	return len(m)
}

func (m resourceMap) mapped(fid int) bool {
	_, ok := m[fid]
	return ok
}

// flatten renders m as a dense slice indexed by consumer id, for callers
// that know every id in [0, n) was mapped.
func (m resourceMap) flatten(n int) []int {
	out := make([]int, n)
	for fid, tid := range m {
		out[fid] = tid
	}
	return out
}

// mapFn is the pluggable "map the rest" policy used by affinityPreserving,
// matching qvi_map_fn_t — either mapPacked or mapSpread.
type mapFn func(m resourceMap, nfids int, tores []bitmap.Bitmap) error

// maxFit returns the largest value <= maxChunk that still fits in spaceLeft.
func maxFit(maxChunk, spaceLeft int) int {
	r := maxChunk
	for r > spaceLeft {
		r--
	}
	return r
}

// maxIPerK returns ceil(i / k), the max number of i-things assignable to
// each of k buckets.
func maxIPerK(i, k int) int {
	return int(math.Ceil(float64(i) / float64(k)))
}

// mapPacked assigns consumers [0, nfids) to resources in contiguous blocks,
// filling each resource to ceil(nfids/ntres) before moving to the next.
func mapPacked(m resourceMap, nfids int, tres []bitmap.Bitmap) error {
	ntres := len(tres)
	maxcpr := maxIPerK(nfids, ntres)
	fid := 0
	nmapped := m.nMapped()
	for tid := 0; tid < ntres; tid++ {
		nmap := maxFit(maxcpr, nfids-nmapped)
		for i := 0; i < nmap; i++ {
			if !m.mapped(fid) {
				m[fid] = tid
				nmapped++
			}
			fid++
		}
	}
	return nil
}

// mapSpread assigns consumers to resources round-robin.
func mapSpread(m resourceMap, nfids int, tres []bitmap.Bitmap) error {
	ntres := len(tres)
	tid := 0
	for fid := 0; fid < nfids; fid++ {
		if m.mapped(fid) {
			continue
		}
		m[fid] = tid % ntres
		tid++
	}
	return nil
}

// mapColors maps each consumer's requested color to a resource: distinct
// colors are packed onto adjacent resources first, then every consumer
// inherits its color's resource.
func mapColors(m resourceMap, fcolors []int, tres []bitmap.Bitmap) error {
	colorSet := make(map[int]struct{}, len(fcolors))
	for _, c := range fcolors {
		colorSet[c] = struct{}{}
	}
	colorVec := make([]int, 0, len(colorSet))
	for c := range colorSet {
		colorVec = append(colorVec, c)
	}
	sort.Ints(colorVec)

	color2csi := make(map[int]int, len(colorVec))
	for i, c := range colorVec {
		color2csi[c] = i
	}

	csi2cpui := resourceMap{}
	if err := mapPacked(csi2cpui, len(colorVec), tres); err != nil {
		return err
	}

	for fid, c := range fcolors {
		if m.mapped(fid) {
			continue
		}
		csi := color2csi[c]
		m[fid] = csi2cpui[csi]
	}
	return nil
}

// disjointAffinity assigns every consumer named in damap to its resource,
// visiting resources and consumers in ascending id order for determinism.
func disjointAffinity(m resourceMap, damap shaffinityMap) {
	for _, tid := range damap.sortedResourceIDs() {
		for _, fid := range sortedIDs(damap[tid]) {
			if m.mapped(fid) {
				continue
			}
			m[fid] = tid
		}
	}
}

// shaffinityMap maps a resource id to the set of consumer ids whose affinity
// intersects it.
type shaffinityMap map[int]map[int]struct{}

func (s shaffinityMap) sortedResourceIDs() []int {
	ids := make([]int, 0, len(s))
	for rid := range s {
		ids = append(ids, rid)
	}
	sort.Ints(ids)
	return ids
}

func sortedIDs(set map[int]struct{}) []int {
	ids := make([]int, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// calcShaffinity computes, for every resource cpuset, the set of consumer
// ids whose affinity intersects it.
func calcShaffinity(faffs, tores []bitmap.Bitmap) shaffinityMap {
	res := make(shaffinityMap, len(tores))
	for cid, fa := range faffs {
		for rid, ta := range tores {
			if fa.Intersects(ta) {
				if res[rid] == nil {
					res[rid] = make(map[int]struct{})
				}
				res[rid][cid] = struct{}{}
			}
		}
	}
	return res
}

// kSetIntersection finds the consumer ids shared between the first
// resource's affinity set and each subsequent one in resource-id order,
// matching the upstream algorithm exactly (it does not compute a true
// intersection across every resource, only against the first).
func kSetIntersection(smap shaffinityMap) map[int]struct{} {
	result := map[int]struct{}{}
	if len(smap) <= 1 {
		return result
	}
	rids := smap.sortedResourceIDs()
	first := smap[rids[0]]
	for _, rid := range rids[1:] {
		other := smap[rid]
		for cid := range first {
			if _, ok := other[cid]; ok {
				result[cid] = struct{}{}
			}
		}
	}
	return result
}

// makeSharedAffinityMapDisjoint removes interids from every resource's set
// except for a round-robin share of up to ceil(|interids|/|resources|) per
// resource, so a subsequent disjointAffinity pass can assign each tied
// consumer to exactly one resource.
func makeSharedAffinityMapDisjoint(samap shaffinityMap, interids map[int]struct{}) {
	ninter := len(interids)
	nres := len(samap)
	maxcpr := maxIPerK(ninter, nres)

	rids := samap.sortedResourceIDs()
	dmap := make(shaffinityMap, len(samap))
	for _, rid := range rids {
		dmap[rid] = make(map[int]struct{})
		for cid := range samap[rid] {
			if _, isInter := interids[cid]; !isInter {
				dmap[rid][cid] = struct{}{}
			}
		}
	}

	remaining := make(map[int]struct{}, len(interids))
	for cid := range interids {
		remaining[cid] = struct{}{}
	}

	for _, rid := range rids {
		nids := 0
		for _, cid := range sortedIDs(samap[rid]) {
			if _, ok := remaining[cid]; !ok {
				continue
			}
			dmap[rid][cid] = struct{}{}
			delete(remaining, cid)
			nids++
			if nids == maxcpr || len(remaining) == 0 {
				break
			}
		}
	}

	for rid := range samap {
		delete(samap, rid)
	}
	for rid, s := range dmap {
		samap[rid] = s
	}
}

// affinityPreserving maps consumers to resources favoring their existing
// affinity: consumers tied across every resource are round-robined, then
// the rest are assigned by mapRest (the fallback policy).
func affinityPreserving(m resourceMap, mapRest mapFn, faffs, tores []bitmap.Bitmap) error {
	ncon := len(faffs)
	resAff := calcShaffinity(faffs, tores)
	inter := kSetIntersection(resAff)

	if len(inter) == 0 {
		disjointAffinity(m, resAff)
		return nil
	}

	makeSharedAffinityMapDisjoint(resAff, inter)
	disjointAffinity(m, resAff)

	if err := mapRest(m, ncon, tores); err != nil {
		for k := range m {
			delete(m, k)
		}
		return err
	}
	return nil
}
