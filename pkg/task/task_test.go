package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openhpc/quovadis-go/pkg/bitmap"
)

type fakeRMI struct {
	cur     bitmap.Bitmap
	failSet bool
}

func (f *fakeRMI) GetCPUBind() (bitmap.Bitmap, error) { return f.cur, nil }

func (f *fakeRMI) SetCPUBind(cs bitmap.Bitmap) error {
	if f.failSet {
		return assert.AnError
	}
	f.cur = cs
	return nil
}

func TestNewSeedsStackWithCurrentBind(t *testing.T) {
	base := bitmap.New(0, 1, 2, 3)
	tsk, err := New(&fakeRMI{cur: base})
	require.NoError(t, err)
	assert.True(t, base.Equals(tsk.BindTop()))
}

func TestBindPushPopRoundTrip(t *testing.T) {
	base := bitmap.New(0, 1, 2, 3)
	rmi := &fakeRMI{cur: base}
	tsk, err := New(rmi)
	require.NoError(t, err)

	child := bitmap.New(0, 1)
	require.NoError(t, tsk.BindPush(child))
	assert.True(t, child.Equals(tsk.BindTop()))
	assert.True(t, child.Equals(rmi.cur))

	require.NoError(t, tsk.BindPop())
	assert.True(t, base.Equals(tsk.BindTop()))
	assert.True(t, base.Equals(rmi.cur))
}

func TestBindPopCannotRemoveBase(t *testing.T) {
	rmi := &fakeRMI{cur: bitmap.New(0, 1)}
	tsk, err := New(rmi)
	require.NoError(t, err)

	assert.Error(t, tsk.BindPop())
}

func TestBindPushPropagatesApplyFailure(t *testing.T) {
	rmi := &fakeRMI{cur: bitmap.New(0, 1)}
	tsk, err := New(rmi)
	require.NoError(t, err)

	rmi.failSet = true
	assert.Error(t, tsk.BindPush(bitmap.New(0)))
}
