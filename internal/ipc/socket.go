package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// ErrAlreadyRunning means another process owns the recording socket.
var ErrAlreadyRunning = errors.New("pyronotes session already running")

// OwnerError describes the live owner that refused a second recording.
type OwnerError struct {
	Path      string
	State     string
	SessionID string
}

func (e *OwnerError) Error() string {
	msg := ErrAlreadyRunning.Error()
	if e.State != "" {
		msg += " (" + e.State
		if e.SessionID != "" {
			msg += ", session " + e.SessionID
		}
		msg += ")"
	}
	return msg
}

func (e *OwnerError) Is(target error) bool {
	return target == ErrAlreadyRunning
}

// RuntimeSocketPath is where the recording owner listens. PYRONOTES_SOCKET
// overrides the XDG runtime location.
func RuntimeSocketPath() (string, error) {
	if override := strings.TrimSpace(os.Getenv("PYRONOTES_SOCKET")); override != "" {
		return override, nil
	}
	runtimeDir := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR"))
	if runtimeDir == "" {
		return "", errors.New("XDG_RUNTIME_DIR is not set (or set PYRONOTES_SOCKET)")
	}
	return filepath.Join(runtimeDir, "pyronotes.sock"), nil
}

// Acquire makes the caller the recording owner by listening on path. A live
// owner yields an *OwnerError carrying its state; a socket file nobody
// answers on is unlinked and the listen retried.
func Acquire(ctx context.Context, path string, probeTimeout time.Duration, retries int) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("ensure runtime socket dir: %w", err)
	}

	for attempt := 0; attempt <= retries; attempt++ {
		listener, err := net.Listen("unix", path)
		if err == nil {
			_ = os.Chmod(path, 0o600)
			return listener, nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("listen unix %s: %w", path, err)
		}

		owner, alive, probeErr := Status(ctx, path, probeTimeout)
		if alive {
			return nil, &OwnerError{Path: path, State: owner.State, SessionID: owner.SessionID}
		}
		if probeErr != nil {
			return nil, fmt.Errorf("probe existing socket %s: %w", path, probeErr)
		}

		if removeErr := os.Remove(path); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale socket %s: %w", path, removeErr)
		}

		if attempt < retries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(25*(attempt+1)) * time.Millisecond):
			}
		}
	}

	return nil, fmt.Errorf("failed to acquire socket %s after %d retries", path, retries)
}
