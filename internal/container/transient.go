// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"syscall"
)

var transientMessages = []string{
	// Rootless Podman races and OCI runtime hiccups.
	"ping_group_range",
	"OCI runtime error",
	// Network errors.
	"Temporary failure resolving",
	"Could not resolve host",
	"connection timed out",
	"connection refused",
	"connection reset by peer",
	// Overlay mount races.
	"error creating overlay mount",
	"error mounting layer",
}

// IsTransientError reports whether err is worth retrying: engine exit code
// 125, refused or reset connections, and known engine races. Context
// cancellation is never transient.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 125 {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	errStr := err.Error()
	for _, msg := range transientMessages {
		if strings.Contains(errStr, msg) {
			return true
		}
	}
	return false
}
