// Package bitmap wraps a dense set of nonnegative processing-unit indices,
// the runtime's representation of a cpuset.
package bitmap

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/utils/cpuset"
)

// Bitmap is an opaque, never-nil wrapper over a set of PU indices. The zero
// value is a valid, empty bitmap.
type Bitmap struct {
	cset cpuset.CPUSet
}

// Empty returns an empty bitmap.
func Empty() Bitmap {
	return Bitmap{cset: cpuset.New()}
}

// New returns a bitmap containing exactly the given PU ids.
func New(pus ...int) Bitmap {
	return Bitmap{cset: cpuset.New(pus...)}
}

// FromCPUSet wraps an existing k8s.io/utils/cpuset.CPUSet.
func FromCPUSet(cs cpuset.CPUSet) Bitmap {
	return Bitmap{cset: cs}
}

// Parse parses the list form ("0-3,8") of a bitmap.
func Parse(s string) (Bitmap, error) {
	if s == "" {
		return Empty(), nil
	}
	cs, err := cpuset.Parse(s)
	if err != nil {
		return Bitmap{}, errors.Wrapf(err, "failed to parse bitmap %q", s)
	}
	return Bitmap{cset: cs}, nil
}

// ParseHex parses the hex form of a bitmap: a comma-separated sequence of
// 32-bit big-endian hex words, most-significant word first, matching the
// hwloc hex bitmap string convention.
func ParseHex(s string) (Bitmap, error) {
	s = strings.TrimPrefix(s, "0x")
	words := strings.Split(s, ",")
	var pus []int
	bitBase := 0
	for i := len(words) - 1; i >= 0; i-- {
		w := words[i]
		v, err := strconv.ParseUint(w, 16, 32)
		if err != nil {
			return Bitmap{}, errors.Wrapf(err, "failed to parse hex bitmap word %q", w)
		}
		for bit := 0; bit < 32; bit++ {
			if v&(1<<uint(bit)) != 0 {
				pus = append(pus, bitBase+bit)
			}
		}
		bitBase += 32
	}
	return New(pus...), nil
}

// String renders the bitmap in list form ("0-3,8"); the empty bitmap renders as "".
func (b Bitmap) String() string {
	if b.cset.Size() == 0 {
		return ""
	}
	return b.cset.String()
}

// Short renders the bitmap using run-length strides ("0-8:2" for every
// other PU from 0 to 8) where that's shorter than the plain list form,
// handy in log lines over wide, regularly-strided cpusets (e.g. one
// hyperthread sibling per core).
func (b Bitmap) Short() string {
	if b.cset.Size() == 0 {
		return ""
	}
	return shortenStrided(b.cset)
}

// shortenStrided renders cs with run-length strides ("0-8:2") in place of any
// comma-separated run that advances by a constant step, falling back to
// cs.String() verbatim for any run it can't express that way (including
// runs the k8s.io/utils/cpuset package already collapsed to "a-b" form).
func shortenStrided(cs cpuset.CPUSet) string {
	str, sep := "", ""

	beg, end, step := -1, -1, -1
	for _, pu := range strings.Split(cs.String(), ",") {
		if strings.Contains(pu, "-") {
			str += sep + pu
			sep = ","
			continue
		}
		i, err := strconv.ParseInt(pu, 10, 0)
		if err != nil {
			return cs.String()
		}
		id := int(i)
		if beg < 0 {
			beg, end = id, id
			continue
		}
		if step < 0 {
			end = id
			step = end - beg
			continue
		}
		if id-end == step {
			end = id
			continue
		}
		str += sep + strideRun(beg, end, step)
		sep = ","
		beg, end = id, id
		step = -1
	}

	if beg >= 0 {
		str += sep + strideRun(beg, end, step)
	}

	return str
}

// strideRun renders the single run beg..end advancing by step.
func strideRun(beg, end, step int) string {
	if beg < 0 {
		return ""
	}
	if beg == end {
		return strconv.FormatInt(int64(beg), 10)
	}

	b, e := strconv.FormatInt(int64(beg), 10), strconv.FormatInt(int64(end), 10)
	if step == 1 {
		return b + "-" + e
	}
	if beg+step == end {
		return b + "," + e
	}

	s := strconv.FormatInt(int64(step), 10)
	return b + "-" + e + ":" + s
}

// Hex renders the bitmap as a comma-separated sequence of 32-bit hex words,
// most-significant word first.
func (b Bitmap) Hex() string {
	if b.cset.Size() == 0 {
		return "0x0"
	}
	maxPU := 0
	for _, pu := range b.cset.List() {
		if pu > maxPU {
			maxPU = pu
		}
	}
	nwords := maxPU/32 + 1
	words := make([]uint32, nwords)
	for _, pu := range b.cset.List() {
		words[pu/32] |= 1 << uint(pu%32)
	}
	var sb strings.Builder
	for i := nwords - 1; i >= 0; i-- {
		if i != nwords-1 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatUint(uint64(words[i]), 16))
	}
	return sb.String()
}

// CPUSet exposes the underlying cpuset.CPUSet.
func (b Bitmap) CPUSet() cpuset.CPUSet {
	return b.cset
}

// Clone returns an independent copy of b (CPUSet is itself immutable/value-like,
// so this is mostly documentation of intent at call sites).
func (b Bitmap) Clone() Bitmap {
	return Bitmap{cset: cpuset.New(b.cset.List()...)}
}

// Size returns the number of PUs in the bitmap.
func (b Bitmap) Size() int {
	return b.cset.Size()
}

// IsEmpty reports whether the bitmap contains no PUs.
func (b Bitmap) IsEmpty() bool {
	return b.cset.IsEmpty()
}

// List returns the PU ids in ascending order.
func (b Bitmap) List() []int {
	return b.cset.List()
}

// Contains reports whether pu is a member of the bitmap.
func (b Bitmap) Contains(pu int) bool {
	return b.cset.Contains(pu)
}

// Equals reports whether b and other contain exactly the same PUs.
func (b Bitmap) Equals(other Bitmap) bool {
	return b.cset.Equals(other.cset)
}

// Union returns the union of b and other.
func (b Bitmap) Union(other Bitmap) Bitmap {
	return Bitmap{cset: b.cset.Union(other.cset)}
}

// AndNot returns b with every PU in other removed (set difference).
func (b Bitmap) AndNot(other Bitmap) Bitmap {
	return Bitmap{cset: b.cset.Difference(other.cset)}
}

// Intersection returns the PUs present in both b and other.
func (b Bitmap) Intersection(other Bitmap) Bitmap {
	return Bitmap{cset: b.cset.Intersection(other.cset)}
}

// Intersects reports whether b and other share at least one PU.
func (b Bitmap) Intersects(other Bitmap) bool {
	return !b.cset.Intersection(other.cset).IsEmpty()
}

// IsSubsetOf reports whether every PU in b is also in other.
func (b Bitmap) IsSubsetOf(other Bitmap) bool {
	return b.cset.IsSubsetOf(other.cset)
}
