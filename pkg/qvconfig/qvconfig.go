// Package qvconfig resolves the runtime's environment-variable and
// command-line configuration knobs, matching the teacher's ambient
// precedence of "explicit argument beats environment beats default".
package qvconfig

import (
	"os"
	"strconv"

	"github.com/pkg/errors"
)

const (
	// EnvPort is the environment variable carrying the daemon's requested
	// TCP port.
	EnvPort = "QV_PORT"
	// EnvTmpDir is the environment variable carrying the base directory for
	// the daemon's session directory.
	EnvTmpDir = "QV_TMPDIR"
	// EnvLogExceptions, when set to any non-empty value, requests that
	// caught exceptions be logged before being converted to a return code.
	EnvLogExceptions = "QVI_ENV_VEXCEPT"
)

// NoPort means "no port requested/resolved yet".
const NoPort = 0

// Port resolves the TCP port to use, in precedence order: an explicit
// argument (explicit > 0), then QV_PORT, then NoPort if neither is set.
func Port(explicit int) (int, error) {
	if explicit > 0 {
		return explicit, nil
	}
	v, ok := os.LookupEnv(EnvPort)
	if !ok || v == "" {
		return NoPort, nil
	}
	port, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.Wrapf(err, "qvconfig: invalid %s %q", EnvPort, v)
	}
	return port, nil
}

// TmpDir resolves the base directory for a daemon's session directory:
// QV_TMPDIR, falling back to TMPDIR, falling back to /tmp.
func TmpDir() string {
	for _, name := range []string{EnvTmpDir, "TMPDIR"} {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			return v
		}
	}
	return "/tmp"
}

// LogExceptions reports whether QVI_ENV_VEXCEPT is set, requesting caught
// exceptions be logged before being converted to a return code.
func LogExceptions() bool {
	v, ok := os.LookupEnv(EnvLogExceptions)
	return ok && v != ""
}
