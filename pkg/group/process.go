package group

import (
	"os"

	"github.com/pkg/errors"
)

// Process is the trivial single-member backend: one task, rank 0, in a
// group of size 1. Barrier is a no-op and gather/scatter degenerate to a
// move since there is only ever one member to move data to or from.
type Process struct {
	intrinsic IntrinsicScope
}

// NewProcess creates a single-member process group.
func NewProcess() *Process {
	return &Process{}
}

func (p *Process) Size() int { return 1 }

func (p *Process) Rank() int { return 0 }

func (p *Process) PIDs() ([]int, error) {
	return []int{os.Getpid()}, nil
}

func (p *Process) Barrier() error { return nil }

func (p *Process) MakeIntrinsic(intrinsic IntrinsicScope) error {
	p.intrinsic = intrinsic
	return nil
}

func (p *Process) Self() (Group, error) {
	return NewProcess(), nil
}

// Split always returns a new single-member process group: splitting a
// group of one has no real partitioning to do.
func (p *Process) Split(color, key int) (Group, error) {
	return NewProcess(), nil
}

func (p *Process) GatherBBuff(tx []byte, root int) ([][]byte, AllocType, error) {
	if root != 0 {
		return nil, AllocPrivate, errors.Errorf("process group: gather root must be 0, got %d", root)
	}
	return [][]byte{tx}, AllocPrivate, nil
}

func (p *Process) ScatterBBuff(tx [][]byte, root int) ([]byte, error) {
	if root != 0 {
		return nil, errors.Errorf("process group: scatter root must be 0, got %d", root)
	}
	if len(tx) != 1 {
		return nil, errors.Errorf("process group: scatter expects exactly 1 buffer, got %d", len(tx))
	}
	return tx[0], nil
}
