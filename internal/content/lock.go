package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const lockRetryDelay = 20 * time.Millisecond

// Lock serializes work on one guide, across goroutines and processes sharing
// the same content root. It blocks until the lock is held or ctx is done.
//
// Callers hold it around the whole mutation: relational transaction, directory
// replace and rich-metadata write. Without it, two updates could commit in one
// order and write the sidecar in the other.
func (s *Store) Lock(ctx context.Context, guideID string) (unlock func(), err error) {
	if err := checkGuideID(guideID); err != nil {
		return nil, err
	}

	fl := flock.New(s.lockPath(guideID))
	locked, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("content: locking guide %s: %w", guideID, err)
	}
	if !locked {
		return nil, fmt.Errorf("content: lock for guide %s not acquired", guideID)
	}

	return func() {
		if err := fl.Unlock(); err != nil {
			s.logger.Warn("failed to release guide lock",
				slog.String("guideID", guideID),
				slog.String("error", err.Error()),
			)
		}
	}, nil
}

// RemoveLock deletes the guide's lock file. Call it only once the guide row is
// gone, typically while still holding the lock.
//
// Unlinking a held lock file lets a later caller lock a fresh file while a
// waiter still locks the old inode, so the two no longer exclude each other.
// That is safe here because guide ids are never reused and every locked
// section re-reads the guide under the lock: both find it missing and stop.
func (s *Store) RemoveLock(guideID string) {
	if checkGuideID(guideID) != nil {
		return
	}
	if err := os.Remove(s.lockPath(guideID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("failed to remove guide lock file",
			slog.String("guideID", guideID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Store) lockPath(guideID string) string {
	return filepath.Join(s.root, lockDirName, guideDirPrefix+guideID+".lock")
}
