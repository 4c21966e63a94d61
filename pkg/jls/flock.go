package jls

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// acquireFlock takes an exclusive, non-blocking lock on a sidecar
// ".lock" file next to path, generalizing the teacher's
// pkg/barrel.CreateFlockFile from a single fixed-name lockfile per
// directory to one lockfile per JLS file (multiple files in the same
// directory must be independently writable).
func acquireFlock(lockPath string) (*os.File, error) {
	f, err := os.Create(lockPath)
	if err != nil {
		return nil, fmt.Errorf("jls: cannot create lock file %q: %w", lockPath, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("jls: file is locked by another writer %q: %w", lockPath, err)
	}
	return f, nil
}

// releaseFlock mirrors the teacher's DestroyFlockFile: unlock, close,
// then remove the sidecar file so a later writer doesn't need to
// clean up a stale lock.
func releaseFlock(f *os.File) error {
	if f == nil {
		return nil
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		return fmt.Errorf("jls: cannot unlock %q: %w", f.Name(), err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("jls: cannot close lock fd %q: %w", f.Name(), err)
	}
	if err := os.Remove(f.Name()); err != nil {
		return fmt.Errorf("jls: cannot remove lock file %q: %w", f.Name(), err)
	}
	return nil
}
