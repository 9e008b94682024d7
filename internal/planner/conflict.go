package planner

import (
	"fmt"
	"path/filepath"

	"github.com/danieljhkim/charmbuild/internal/hash"
	"github.com/danieljhkim/charmbuild/internal/layerconfig"
	"github.com/danieljhkim/charmbuild/internal/manifest"
	"github.com/danieljhkim/charmbuild/internal/pathspec"
)

// Conflict reasons.
const (
	ConflictAdded    = "added"
	ConflictModified = "modified"
	ConflictDeleted  = "deleted"
)

// Conflict is an output path changed since the previous build wrote it.
type Conflict struct {
	// Path is relative to the output directory.
	Path string

	// Reason is one of the Conflict* constants.
	Reason string
}

func (c Conflict) String() string {
	return fmt.Sprintf("File in destination directory was %s after charm build: %s", c.Reason, c.Path)
}

// ConflictChecker compares an output directory with the manifest of the
// build that produced it.
type ConflictChecker struct {
	hasher hash.Hasher
	ignore *pathspec.Matcher
}

// NewConflictChecker creates a ConflictChecker. The default ignores are
// never reported.
func NewConflictChecker(hasher hash.Hasher) *ConflictChecker {
	return &ConflictChecker{
		hasher: hasher,
		ignore: pathspec.MustNew(layerconfig.DefaultIgnores),
	}
}

// Check returns the conflicts in dir, in added, modified, deleted order.
// A directory without a manifest has none.
func (c *ConflictChecker) Check(dir string) ([]Conflict, error) {
	m, err := manifest.LoadIfExists(filepath.Join(dir, manifest.FileName))
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, nil
	}
	delta, err := manifest.Compare(m, dir, c.hasher, c.ignore)
	if err != nil {
		return nil, fmt.Errorf("failed to compare %s with its manifest: %w", dir, err)
	}

	var conflicts []Conflict
	for _, rel := range delta.Added {
		conflicts = append(conflicts, Conflict{Path: rel, Reason: ConflictAdded})
	}
	for _, rel := range delta.Changed {
		conflicts = append(conflicts, Conflict{Path: rel, Reason: ConflictModified})
	}
	for _, rel := range delta.Removed {
		conflicts = append(conflicts, Conflict{Path: rel, Reason: ConflictDeleted})
	}
	return conflicts, nil
}
