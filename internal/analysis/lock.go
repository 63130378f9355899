package analysis

import (
	"fmt"

	"github.com/gofrs/flock"

	"github.com/tphakala/birdnet-walker/internal/logger"
)

// lockFolder takes the advisory lock at path without waiting.
func lockFolder(path string) (*flock.Flock, error) {
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring lock %s: %w", path, err)
	}
	if !locked {
		return nil, ErrFolderLocked
	}
	return fl, nil
}

// unlockFolder releases the lock. The lock file itself is left in place.
func unlockFolder(fl *flock.Flock) {
	if fl == nil {
		return
	}
	if err := fl.Unlock(); err != nil {
		GetLogger().Warn("failed to release folder lock",
			logger.String("path", fl.Path()),
			logger.Error(err))
	}
}
