package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// A BuildInProgressError is returned when another run already holds the
// session lock for the same target and output path.
type BuildInProgressError struct {
	Target     string
	OutputPath string
}

func (e *BuildInProgressError) Error() string {
	return fmt.Sprintf("a build for target %q writing to %q is already in progress", e.Target, e.OutputPath)
}

// LockSession takes an exclusive lock keyed on (target, output path).
// Builds for distinct targets or outputs proceed in parallel; an
// overlapping run on the same key fails fast with BuildInProgressError.
// The returned release function must be called when the run finishes.
func LockSession(stateDir, target, outputPath string) (func(), error) {
	lockDir := filepath.Join(stateDir, "locks")
	if err := os.MkdirAll(lockDir, 0755); err != nil {
		return nil, err
	}

	key := sha256.Sum256([]byte(outputPath))
	lockPath := filepath.Join(lockDir, fmt.Sprintf("%s-%s.lock", target, hex.EncodeToString(key[:8])))

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, &BuildInProgressError{Target: target, OutputPath: outputPath}
		}
		return nil, fmt.Errorf("locking session %q: %w", lockPath, err)
	}

	release := func() {
		// closing the descriptor drops the flock
		f.Close()
	}
	return release, nil
}
