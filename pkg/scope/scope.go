// Package scope implements the runtime's public handle: a scope pairs a
// cooperation group (pkg/group) with the hardware pool (pkg/hwpool) it
// currently owns. Scopes are created from one of the node's intrinsic
// resources, then collectively or locally split into child scopes that get
// pushed onto a task's bind stack to constrain its affinity.
package scope

import (
	"github.com/pkg/errors"

	"github.com/openhpc/quovadis-go/pkg/bitmap"
	"github.com/openhpc/quovadis-go/pkg/group"
	"github.com/openhpc/quovadis-go/pkg/hwpool"
	logger "github.com/openhpc/quovadis-go/pkg/log"
	"github.com/openhpc/quovadis-go/pkg/rmi"
	"github.com/openhpc/quovadis-go/pkg/split"
	"github.com/openhpc/quovadis-go/pkg/sysfs"
	"github.com/openhpc/quovadis-go/pkg/task"
)

var log = logger.Get("scope")

// RMIClient is the subset of *rmi.Client a scope needs: the bind calls Task
// already depends on, plus the intrinsic pool lookup Create uses to seed a
// root scope. Declared here, rather than satisfied by importing pkg/rmi's
// concrete type everywhere, so tests can substitute a fake.
type RMIClient interface {
	task.BindClient
	GetIntrinsicHWPool(intrinsic rmi.Intrinsic, pids []int32) (*hwpool.Pool, error)
}

// CreateOptions carries qv_scope_create's hints parameter. The runtime never
// reads Hints today; the field exists only so callers porting code that
// populates hints still have somewhere to put it. Left reserved per the
// original API's own open question.
type CreateOptions struct {
	Hints interface{}
}

// Scope is the public handle pairing a group with a hardware pool. It
// exclusively owns its pool; the group may be shared with sibling scopes
// produced by the same split (Go's GC retires the group once every scope
// referencing it is gone, so no explicit retain/release bookkeeping is
// needed beyond what pkg/group's own child-group table already does during
// a split's barrier-bracketed join).
type Scope struct {
	oracle *sysfs.Oracle
	task   *task.Task
	group  group.Group
	pool   *hwpool.Pool
}

func newScope(oracle *sysfs.Oracle, t *task.Task, g group.Group, pool *hwpool.Pool) *Scope {
	return &Scope{oracle: oracle, task: t, group: g, pool: pool}
}

// Group returns the scope's cooperation group.
func (s *Scope) Group() group.Group { return s.group }

// Pool returns the scope's hardware pool.
func (s *Scope) Pool() *hwpool.Pool { return s.pool }

// Cpuset returns the scope's pool's cpuset.
func (s *Scope) Cpuset() bitmap.Bitmap { return s.pool.Cpuset() }

// intrinsicGroupScope maps an RMI-level intrinsic to the group-level
// intrinsic MakeIntrinsic expects. SYSTEM has no group-level counterpart —
// the RMI server rejects it before a scope would ever be built from it.
func intrinsicGroupScope(i rmi.Intrinsic) (group.IntrinsicScope, bool) {
	switch i {
	case rmi.IntrinsicUser:
		return group.IntrinsicUser, true
	case rmi.IntrinsicJob:
		return group.IntrinsicJob, true
	case rmi.IntrinsicProcess:
		return group.IntrinsicProcess, true
	default:
		return 0, false
	}
}

// Create derives a root scope for one of the runtime's intrinsic resources.
// The group is bound via MakeIntrinsic and the pool comes from the daemon's
// GET_INTRINSIC_HWPOOL. pids is only consulted for JOB (every pid sharing
// the job) and PROCESS (must name exactly the caller); USER ignores it and
// SYSTEM is rejected by the server before Create can return one.
func Create(oracle *sysfs.Oracle, t *task.Task, rmiClient RMIClient, g group.Group, intrinsic rmi.Intrinsic, pids []int32, _ CreateOptions) (*Scope, error) {
	if gi, ok := intrinsicGroupScope(intrinsic); ok {
		if err := g.MakeIntrinsic(gi); err != nil {
			return nil, errors.Wrap(err, "scope: create: make_intrinsic failed")
		}
	}
	pool, err := rmiClient.GetIntrinsicHWPool(intrinsic, pids)
	if err != nil {
		return nil, errors.Wrap(err, "scope: create: failed to obtain intrinsic hardware pool")
	}
	log.Debug("create: intrinsic=%d cpuset=%s", intrinsic, pool.Cpuset())
	return newScope(oracle, t, g, pool), nil
}

// Split collectively divides the scope into npieces child scopes at PU
// granularity. color is either a non-negative user color or one of the
// split package's sentinels (split.AffinityPreserving, split.Packed,
// split.Spread). Every member of the scope's group must call Split with
// values that agree on npieces; the group exchanges colors and affinities,
// the split runs once on the group's root, and results are scattered back.
func (s *Scope) Split(npieces, color int) (*Scope, error) {
	return s.SplitAt(npieces, color, sysfs.Last)
}

// SplitAt is Split generalized to an arbitrary split_at granularity: a host
// object type (e.g. sysfs.NUMANode), a device type (sysfs.GPU), or
// sysfs.Last for equal PU chunking.
func (s *Scope) SplitAt(npieces, color int, splitAt sysfs.HWObjType) (*Scope, error) {
	myAffinity, err := s.task.RMI().GetCPUBind()
	if err != nil {
		return nil, errors.Wrap(err, "scope: split: failed to read current affinity")
	}
	newColor, newPool, err := split.Collective(s.group, s.oracle, s.pool, npieces, color, splitAt, myAffinity)
	if err != nil {
		return nil, errors.Wrap(err, "scope: split: collective split failed")
	}
	childGroup, err := s.group.Split(newColor, s.group.Rank())
	if err != nil {
		return nil, errors.Wrap(err, "scope: split: group split failed")
	}
	return newScope(s.oracle, s.task, childGroup, newPool), nil
}

// ThreadSplitResult pairs one about-to-be-spawned member's assigned color
// with its child pool, computed by the parent before any thread or
// goroutine exists to join a group of its own.
type ThreadSplitResult struct {
	Color int
	Pool  *hwpool.Pool
}

// ThreadSplit computes npieces child pools for the calling task's own
// fan-out into cooperating threads, one requested color per member-to-be.
// Unlike Split there is no group-wide coordination to perform here: the
// caller already knows every member's requested color and current affinity.
// Each spawned thread subsequently joins its own child group (e.g. via a
// group.Thread built for npieces members) and pairs it with its assigned
// result using FromGroup.
func (s *Scope) ThreadSplit(npieces int, colors []int, splitAt sysfs.HWObjType) ([]ThreadSplitResult, error) {
	myAffinity, err := s.task.RMI().GetCPUBind()
	if err != nil {
		return nil, errors.Wrap(err, "scope: thread_split: failed to read current affinity")
	}
	newColors, pools, err := split.ThreadSplit(s.oracle, s.pool, npieces, colors, splitAt, myAffinity)
	if err != nil {
		return nil, errors.Wrap(err, "scope: thread_split: failed")
	}
	results := make([]ThreadSplitResult, len(pools))
	for i, pool := range pools {
		results[i] = ThreadSplitResult{Color: newColors[i], Pool: pool}
	}
	return results, nil
}

// FromGroup pairs an already-joined group with pool into a new child scope,
// retaining this scope's oracle and task. A goroutine spawned to fill one
// slot of a ThreadSplit calls this once it has joined its own child group,
// using the ThreadSplitResult assigned to that slot.
func (s *Scope) FromGroup(g group.Group, pool *hwpool.Pool) *Scope {
	return newScope(s.oracle, s.task, g, pool)
}

// NObjects returns the number of objects of type t contained in the scope's
// pool.
func (s *Scope) NObjects(t sysfs.HWObjType) (int, error) {
	return s.pool.NObjects(s.oracle, t)
}

// DeviceID formats the i-th device of type t within the scope's pool,
// according to idFormat (UUID, PCI bus id, or ordinal).
func (s *Scope) DeviceID(t sysfs.HWObjType, i int, idFormat sysfs.DeviceIDFormat) (string, error) {
	return s.oracle.GetDeviceIDInCpuset(t, i, s.pool.Cpuset(), idFormat)
}

// BindPush pushes the scope's cpuset onto the task's bind stack, applying it
// as the task's current affinity via RMI.
func (s *Scope) BindPush() error {
	return s.task.BindPush(s.pool.Cpuset())
}

// BindPop restores the task's affinity to the bind stack entry below the
// scope's.
func (s *Scope) BindPop() error {
	return s.task.BindPop()
}
