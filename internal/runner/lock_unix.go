//go:build !windows

package runner

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"regshots/internal/apperrors"
)

// acquireLock takes an exclusive, non-blocking lock on path, creating it if
// needed. The lock file is left in place on release; removing it would let a
// third run lock a fresh inode while a second still holds the old one.
func acquireLock(path string) (*os.File, error) {
	lockFile, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := unix.Flock(int(lockFile.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		lockFile.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, apperrors.Conflict(path, "another run with the same test name is in progress")
		}
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}

	return lockFile, nil
}

func releaseLock(lockFile *os.File) error {
	if lockFile == nil {
		return nil
	}
	_ = unix.Flock(int(lockFile.Fd()), unix.LOCK_UN)
	return lockFile.Close()
}
