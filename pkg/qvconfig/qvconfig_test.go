package qvconfig

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPortExplicitBeatsEnv(t *testing.T) {
	os.Setenv(EnvPort, "4000")
	defer os.Unsetenv(EnvPort)

	port, err := Port(5555)
	require.NoError(t, err)
	assert.Equal(t, 5555, port)
}

func TestPortFallsBackToEnv(t *testing.T) {
	os.Setenv(EnvPort, "4000")
	defer os.Unsetenv(EnvPort)

	port, err := Port(0)
	require.NoError(t, err)
	assert.Equal(t, 4000, port)
}

func TestPortDefaultsToNoPort(t *testing.T) {
	os.Unsetenv(EnvPort)

	port, err := Port(0)
	require.NoError(t, err)
	assert.Equal(t, NoPort, port)
}

func TestPortRejectsMalformedEnv(t *testing.T) {
	os.Setenv(EnvPort, "not-a-number")
	defer os.Unsetenv(EnvPort)

	_, err := Port(0)
	assert.Error(t, err)
}

func TestTmpDirPrecedence(t *testing.T) {
	os.Setenv(EnvTmpDir, "/qv-session")
	os.Setenv("TMPDIR", "/generic-tmp")
	defer os.Unsetenv(EnvTmpDir)
	defer os.Unsetenv("TMPDIR")

	assert.Equal(t, "/qv-session", TmpDir())

	os.Unsetenv(EnvTmpDir)
	assert.Equal(t, "/generic-tmp", TmpDir())

	os.Unsetenv("TMPDIR")
	assert.Equal(t, "/tmp", TmpDir())
}

func TestLogExceptions(t *testing.T) {
	os.Unsetenv(EnvLogExceptions)
	assert.False(t, LogExceptions())

	os.Setenv(EnvLogExceptions, "1")
	defer os.Unsetenv(EnvLogExceptions)
	assert.True(t, LogExceptions())
}
