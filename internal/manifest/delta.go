package manifest

import (
	iofs "io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/danieljhkim/charmbuild/internal/fsops"
	"github.com/danieljhkim/charmbuild/internal/hash"
	"github.com/danieljhkim/charmbuild/internal/pathspec"
)

// Delta is the difference between an output directory and its manifest.
type Delta struct {
	// Added files are on disk but not in the manifest.
	Added []string

	// Changed files differ from their recorded digest. Files owned by the
	// build layer are never reported.
	Changed []string

	// Removed files are in the manifest but not on disk.
	Removed []string
}

// Empty reports whether nothing differs.
func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Changed) == 0 && len(d.Removed) == 0
}

// Compare walks root and compares every regular file with m. Paths
// matched by ignore are skipped on disk and in m alike.
func Compare(m *Manifest, root string, hasher hash.Hasher, ignore *pathspec.Matcher) (Delta, error) {
	current := map[string]string{}
	err := fsops.Walk(root, func(rel string, d iofs.DirEntry) error {
		if ignore != nil && ignore.Match(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			current[rel] = ""
			return nil
		}
		sig, ok, err := hash.Sign(hasher, filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			return err
		}
		if ok {
			current[rel] = sig
		} else {
			current[rel] = ""
		}
		return nil
	})
	if err != nil {
		return Delta{}, err
	}

	var d Delta
	for rel, sig := range current {
		if sig == "" {
			continue
		}
		entry, ok := m.Signatures[rel]
		if !ok {
			d.Added = append(d.Added, rel)
			continue
		}
		if entry.Layer == BuildLayer {
			continue
		}
		if entry.Digest != sig {
			d.Changed = append(d.Changed, rel)
		}
	}
	for rel := range m.Signatures {
		if ignore != nil && ignore.Match(rel, false) {
			continue
		}
		if _, ok := current[rel]; !ok {
			d.Removed = append(d.Removed, rel)
		}
	}

	sort.Strings(d.Added)
	sort.Strings(d.Changed)
	sort.Strings(d.Removed)
	return d, nil
}

// Prune deletes files recorded in old but absent from sigs, and returns
// their paths sorted.
func Prune(fs fsops.FS, root string, old *Manifest, sigs Signatures) ([]string, error) {
	if old == nil {
		return nil, nil
	}
	var removed []string
	for rel := range old.Signatures {
		if rel == FileName {
			continue
		}
		if _, ok := sigs[rel]; ok {
			continue
		}
		if err := fs.ValidateRelPath(rel); err != nil {
			return removed, err
		}
		if err := fs.Remove(filepath.Join(root, filepath.FromSlash(rel))); err != nil && !os.IsNotExist(err) {
			return removed, err
		}
		removed = append(removed, rel)
	}
	sort.Strings(removed)
	return removed, nil
}
