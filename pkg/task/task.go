// Package task tracks one caller's connection to the node daemon and the
// LIFO stack of cpusets it has pushed onto its own affinity.
package task

import (
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/openhpc/quovadis-go/pkg/bitmap"
	logger "github.com/openhpc/quovadis-go/pkg/log"
)

var log = logger.Get("task")

// BindClient is the subset of the RMI client a Task needs to change this
// process's affinity. The concrete implementation lives in pkg/rmi; task
// depends only on this interface to avoid an import cycle.
type BindClient interface {
	SetCPUBind(cs bitmap.Bitmap) error
	GetCPUBind() (bitmap.Bitmap, error)
}

// Task is the per-caller handle: an RMI connection plus the bind stack the
// runtime pushes and pops as scopes are entered and left. An internal mutex
// serializes push, pop and top on the same Task.
type Task struct {
	mu     sync.Mutex
	rmi    BindClient
	stack  []bitmap.Bitmap
}

// Mytid returns the calling process's id (os.Getpid), not the id of the
// calling OS thread; the RMI client sends the same value as its tid.
func Mytid() int {
	return os.Getpid()
}

// New creates a task bound to rmi, seeding its bind stack with the task's
// current affinity so pop() always has a base to fall back to.
func New(rmi BindClient) (*Task, error) {
	cur, err := rmi.GetCPUBind()
	if err != nil {
		return nil, errors.Wrap(err, "task: failed to read initial cpu bind")
	}
	return &Task{
		rmi:   rmi,
		stack: []bitmap.Bitmap{cur},
	}, nil
}

// RMI returns the task's RMI client connection.
func (t *Task) RMI() BindClient {
	return t.rmi
}

// BindPush applies cs to the task's affinity via RMI, then pushes it onto
// the bind stack on success. The RMI call is the sole path for changing
// affinity so the server's view stays authoritative.
func (t *Task) BindPush(cs bitmap.Bitmap) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.rmi.SetCPUBind(cs); err != nil {
		return errors.Wrap(err, "task: bind_push failed to apply cpuset")
	}
	t.stack = append(t.stack, cs.Clone())
	log.Debug("bind_push: depth=%d cpuset=%s", len(t.stack), cs)
	return nil
}

// BindPop removes the top of the bind stack and re-applies the new top to
// the task's affinity. The base entry (the task's affinity at construction
// time) can never be popped. A failure to re-apply the new top leaves the
// stack's recorded state inconsistent with the task's actual affinity —
// the caller should treat it as fatal.
func (t *Task) BindPop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.stack) < 2 {
		return errors.New("task: bind_pop: cannot pop the base bind entry")
	}
	t.stack = t.stack[:len(t.stack)-1]
	top := t.stack[len(t.stack)-1]
	if err := t.rmi.SetCPUBind(top); err != nil {
		return errors.Wrap(err, "task: bind_pop: failed to restore prior cpuset, bind stack state is undefined")
	}
	log.Debug("bind_pop: depth=%d cpuset=%s", len(t.stack), top)
	return nil
}

// BindTop returns a clone of the cpuset currently at the top of the bind stack.
func (t *Task) BindTop() bitmap.Bitmap {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stack[len(t.stack)-1].Clone()
}
