package session

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/thomasrohde/strands-workflow/workflow/werrors"
)

// lock acquires the session's exclusive ".lock" file, bounded by the
// store's lockTimeout, mirroring the original implementation's
// session_lock context manager (filelock.FileLock with a timeout that
// raises TimeoutError). Returns a release function the caller must defer.
func (s *Store) lock(sessionID string) (func(), error) {
	lockPath := filepath.Join(s.sessionDir(sessionID), lockFileName)

	fl := flock.New(lockPath)

	ctx, cancel := context.WithTimeout(context.Background(), s.lockTimeout)
	defer cancel()

	locked, err := fl.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil || !locked {
		return nil, werrors.SessionLockTimeout(sessionID, err)
	}

	return func() { _ = fl.Unlock() }, nil
}

// atomicWrite writes data to path by first writing a sibling temp file and
// renaming it into place, so a crash mid-write never leaves a corrupt
// session file behind.
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return werrors.IO(err, "writing temp file %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return werrors.IO(err, "renaming %s to %s", tmp, path)
	}
	return nil
}
