package qverr

import (
	"testing"

	goerrors "errors"

	"github.com/stretchr/testify/assert"
)

func TestCodeOfRoundTrips(t *testing.T) {
	err := New(ErrInvalidArg, "bad color %d", -7)
	assert.Equal(t, ErrInvalidArg, CodeOf(err))
	assert.Equal(t, Success, CodeOf(nil))
}

func TestCodeOfUnwrappedErrorIsGenericErr(t *testing.T) {
	assert.Equal(t, Err, CodeOf(goerrors.New("plain error")))
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.NoError(t, Wrap(ErrSys, nil, "unused"))
}

func TestWrapPreservesChain(t *testing.T) {
	cause := goerrors.New("disk full")
	err := Wrap(ErrFileIO, cause, "failed to write %s", "topo.xml")
	assert.Equal(t, ErrFileIO, CodeOf(err))
	assert.True(t, goerrors.Is(err, cause))
}

func TestCodeStringKnownAndUnknown(t *testing.T) {
	assert.Equal(t, "ERR_INVLD_ARG", ErrInvalidArg.String())
	assert.Equal(t, "ERR_UNKNOWN", Code(999).String())
}

func TestCodeOK(t *testing.T) {
	assert.True(t, Success.OK())
	assert.True(t, SuccessAlreadyDone.OK())
	assert.True(t, SuccessShutdown.OK())
	assert.False(t, Err.OK())
	assert.False(t, ErrNotFound.OK())
}
