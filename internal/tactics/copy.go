package tactics

import (
	"context"
	"fmt"

	"github.com/danieljhkim/charmbuild/internal/manifest"
)

// IgnoreTactic drops an entry the next layer up asked to ignore. It
// replaces whatever a lower layer produced for the path.
type IgnoreTactic struct {
	Base
}

// triggerIgnore relies on the planner having compiled src.Config's
// patterns; a config that fails to compile ignores nothing.
func triggerIgnore(src Source) bool {
	if src.Config == nil {
		return false
	}
	m, err := src.Config.IgnoreMatcher()
	return err == nil && m.Match(src.Rel, src.IsDir)
}

func newIgnore(src Source) Tactic {
	return &IgnoreTactic{Base: NewBase(src)}
}

func (t *IgnoreTactic) String() string { return t.describe("Ignore") }

// Kind returns static.
func (t *IgnoreTactic) Kind() string { return manifest.KindStatic }

// Sign signs nothing.
func (t *IgnoreTactic) Sign() (manifest.Signatures, error) { return manifest.Signatures{}, nil }

// Combine discards existing.
func (t *IgnoreTactic) Combine(existing Tactic) Tactic { return t }

// ExcludeTactic skips an entry its own layer excludes, leaving what lower
// layers produced for the path in place.
type ExcludeTactic struct {
	Base
}

func triggerExclude(src Source) bool {
	m, err := src.Layer.MustConfig().ExcludeMatcher()
	return err == nil && m.Match(src.Rel, src.IsDir)
}

func newExclude(src Source) Tactic {
	return &ExcludeTactic{Base: NewBase(src)}
}

func (t *ExcludeTactic) String() string { return t.describe("Exclude") }

// Kind returns static.
func (t *ExcludeTactic) Kind() string { return manifest.KindStatic }

// Sign signs nothing.
func (t *ExcludeTactic) Sign() (manifest.Signatures, error) { return manifest.Signatures{}, nil }

// Combine keeps existing.
func (t *ExcludeTactic) Combine(existing Tactic) Tactic { return existing }

// ManifestTactic skips a stale .build.manifest shipped inside a layer.
type ManifestTactic struct {
	Base
}

func newManifest(src Source) Tactic {
	return &ManifestTactic{Base: NewBase(src)}
}

func (t *ManifestTactic) String() string { return t.describe("Manifest") }

// Kind returns static.
func (t *ManifestTactic) Kind() string { return manifest.KindStatic }

// Sign signs nothing; the build writes its own manifest.
func (t *ManifestTactic) Sign() (manifest.Signatures, error) { return manifest.Signatures{}, nil }

// Combine discards existing.
func (t *ManifestTactic) Combine(existing Tactic) Tactic { return t }

// CopyTactic copies a file verbatim, or creates a directory.
type CopyTactic struct {
	Base
}

func newCopy(src Source) Tactic {
	return &CopyTactic{Base: NewBase(src)}
}

func (t *CopyTactic) String() string { return t.describe("Copy") }

// Kind returns static.
func (t *CopyTactic) Kind() string { return manifest.KindStatic }

// Call copies the entry, preserving its mode.
func (t *CopyTactic) Call(ctx context.Context) error {
	target := t.target()
	dst := target.Path(t.src.Rel)
	if t.src.IsDir {
		if err := target.FS.MkdirAll(dst, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", t.src.Rel, err)
		}
		return nil
	}
	if err := target.FS.Copy(t.src.Path(), dst); err != nil {
		return fmt.Errorf("failed to copy %s: %w", t.src.Rel, err)
	}
	return nil
}

// Sign signs the copied file.
func (t *CopyTactic) Sign() (manifest.Signatures, error) {
	return t.target().Sign(t.src.Rel, t.src.Layer.ID(), t.Kind())
}

// Combine discards existing; the higher layer's file wins.
func (t *CopyTactic) Combine(existing Tactic) Tactic { return t }
