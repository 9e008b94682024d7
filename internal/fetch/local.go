package fetch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// LocalFetcher resolves plain directory references against a search path.
type LocalFetcher struct {
	searchPath []string
}

// NewLocalFetcher creates a LocalFetcher searching the given directories.
func NewLocalFetcher(searchPath []string) *LocalFetcher {
	return &LocalFetcher{searchPath: searchPath}
}

// Match reports whether ref names an existing directory.
func (f *LocalFetcher) Match(ref string) bool {
	_, ok := f.find(ref)
	return ok
}

// Fetch returns the existing directory; nothing is copied.
func (f *LocalFetcher) Fetch(_ context.Context, ref, _ string) (Result, error) {
	dir, ok := f.find(ref)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return Result{Dir: dir}, nil
}

func (f *LocalFetcher) find(ref string) (string, bool) {
	if ref == "" {
		return "", false
	}
	if filepath.IsAbs(ref) {
		return ref, isDir(ref)
	}
	for _, part := range f.searchPath {
		p := filepath.Clean(filepath.Join(part, ref))
		if isDir(p) {
			abs, err := filepath.Abs(p)
			if err != nil {
				return p, true
			}
			return abs, true
		}
	}
	return "", false
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
