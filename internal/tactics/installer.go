package tactics

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/danieljhkim/charmbuild/internal/builderr"
	"github.com/danieljhkim/charmbuild/internal/execx"
	"github.com/danieljhkim/charmbuild/internal/manifest"
)

// InstallerExt marks a file naming a pip requirement to install into the
// charm.
const InstallerExt = ".pypi"

// InstallerTactic installs the requirement named in a .pypi file. Scripts
// land in bin/ and packages next to the .pypi file.
type InstallerTactic struct {
	Base

	tracked []string
}

func triggerInstaller(src Source) bool {
	return !src.IsDir && path.Ext(src.Rel) == InstallerExt
}

func newInstaller(src Source) Tactic {
	return &InstallerTactic{Base: NewBase(src)}
}

func (t *InstallerTactic) String() string { return t.describe("Installer") }

// Kind returns dynamic.
func (t *InstallerTactic) Kind() string { return manifest.KindDynamic }

// Combine discards existing.
func (t *InstallerTactic) Combine(existing Tactic) Tactic { return t }

// Call runs pip into a temporary user base and moves the result into the
// charm.
func (t *InstallerTactic) Call(ctx context.Context) error {
	target := t.target()
	data, err := target.FS.ReadFile(t.src.Path())
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", t.src.Rel, err)
	}
	spec := strings.TrimSpace(string(data))
	if spec == "" {
		return builderr.Newf("No requirement given in %s", t.src.Rel)
	}

	userBase, err := os.MkdirTemp("", "charm-pypi-")
	if err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer func() {
		_ = os.RemoveAll(userBase)
	}()

	if _, err := target.Runner.Run(ctx, execx.Command{
		Name: "pip3",
		Args: []string{"install", "--user", "--ignore-installed", spec},
		Env:  []string{"PYTHONUSERBASE=" + userBase},
	}); err != nil {
		return builderr.Wrap(err, "Unable to install %s", spec)
	}

	if err := t.move(userBase, "bin/*", "bin"); err != nil {
		return err
	}
	return t.move(userBase, "lib/python*/site-packages/*", path.Dir(t.src.Rel))
}

// move moves every match of pattern below root into the output
// directory destDir, replacing what is there.
func (t *InstallerTactic) move(root, pattern, destDir string) error {
	target := t.target()
	matches, err := doublestar.Glob(os.DirFS(root), pattern)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", pattern, err)
	}
	for _, m := range matches {
		rel := path.Join(destDir, path.Base(m))
		dst := target.Path(rel)
		if err := target.FS.RemoveAll(dst); err != nil {
			return fmt.Errorf("failed to replace %s: %w", rel, err)
		}
		if err := target.FS.Rename(filepath.Join(root, filepath.FromSlash(m)), dst); err != nil {
			return fmt.Errorf("failed to move %s: %w", rel, err)
		}
		t.tracked = append(t.tracked, rel)
	}
	return nil
}

// Sign signs every file installed.
func (t *InstallerTactic) Sign() (manifest.Signatures, error) {
	sigs := manifest.Signatures{}
	for _, rel := range t.tracked {
		s, err := t.target().SignTree(rel, t.src.Layer.ID(), t.Kind())
		if err != nil {
			return nil, err
		}
		sigs.Merge(s)
	}
	return sigs, nil
}
