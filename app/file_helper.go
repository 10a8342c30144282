package app

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/ludo-technologies/connscan/domain"
	"github.com/ludo-technologies/connscan/internal/watcher"
)

// FileHelper collects the files a scan should analyze
type FileHelper struct{}

// NewFileHelper creates a new FileHelper
func NewFileHelper() *FileHelper {
	return &FileHelper{}
}

// CollectFiles walks paths and returns the absolute paths of matching
// files, sorted and without duplicates. Files named explicitly are always
// included; directories are filtered with the same rules as the watcher.
func (h *FileHelper) CollectFiles(paths, includePatterns, excludePatterns []string, respectGitignore bool) ([]string, error) {
	seen := make(map[string]struct{})
	var dirs []string

	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, domain.NewInvalidInputError("invalid path "+path, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, domain.NewFileNotFoundError(path, err)
		}
		if info.IsDir() {
			dirs = append(dirs, abs)
			continue
		}
		seen[abs] = struct{}{}
	}

	if len(dirs) > 0 {
		filter, err := watcher.NewFilter(dirs, includePatterns, excludePatterns)
		if err != nil {
			return nil, domain.NewInvalidInputError("invalid scan paths", err)
		}
		if respectGitignore {
			if err := filter.LoadGitignores(); err != nil {
				return nil, domain.NewInvalidInputError("unreadable .gitignore", err)
			}
		}
		for _, dir := range dirs {
			err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if d.IsDir() {
					// Skip excluded directories early
					if filter.SkipDir(p) {
						return filepath.SkipDir
					}
					return nil
				}
				if d.Type().IsRegular() && filter.Match(p) {
					seen[p] = struct{}{}
				}
				return nil
			})
			if err != nil {
				return nil, domain.NewFileNotFoundError(dir, err)
			}
		}
	}

	files := make([]string, 0, len(seen))
	for f := range seen {
		files = append(files, f)
	}
	sort.Strings(files)
	return files, nil
}

// FileExists checks if a regular file exists
func (h *FileHelper) FileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return !info.IsDir(), nil
}
