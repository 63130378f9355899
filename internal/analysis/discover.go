package analysis

import (
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/tphakala/birdnet-walker/internal/errors"
	"github.com/tphakala/birdnet-walker/internal/logger"
)

// isWAV matches the two extensions AudioMoth writes.
func isWAV(name string) bool {
	ext := filepath.Ext(name)
	return ext == ".wav" || ext == ".WAV"
}

// FindWAVFiles returns the WAV files directly inside dir, sorted by name.
func FindWAVFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.New(err).
			Component("analysis").
			Category(errors.CategoryFileIO).
			Context("operation", "list_wav_files").
			Context("folder", dir).
			Build()
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !isWAV(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	slices.Sort(files)
	return files, nil
}

// FindFolders returns the folders below root that contain WAV files. Without
// recursive only root itself is considered.
func FindFolders(root string, recursive bool) ([]string, error) {
	if !recursive {
		files, err := FindWAVFiles(root)
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			return nil, nil
		}
		return []string{root}, nil
	}

	seen := make(map[string]struct{})
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			GetLogger().Warn("skipping unreadable directory",
				logger.String("path", path),
				logger.Error(err))
			return fs.SkipDir
		}
		if !d.IsDir() && isWAV(d.Name()) {
			seen[filepath.Dir(path)] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, errors.New(err).
			Component("analysis").
			Category(errors.CategoryFileIO).
			Context("operation", "find_folders").
			Context("folder", root).
			Build()
	}

	folders := make([]string, 0, len(seen))
	for dir := range seen {
		folders = append(folders, dir)
	}
	slices.Sort(folders)
	return folders, nil
}
