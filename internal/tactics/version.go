package tactics

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/danieljhkim/charmbuild/internal/execx"
	"github.com/danieljhkim/charmbuild/internal/layers"
	"github.com/danieljhkim/charmbuild/internal/manifest"
)

// VersionFile records the charm's revision.
const VersionFile = "version"

const probeTimeout = 30 * time.Second

// fallbackProbes are tried when git cannot describe the charm.
var fallbackProbes = []execx.Command{
	{Name: "bzr", Args: []string{"version-info"}},
	{Name: "hg", Args: []string{"id", "-n"}},
}

// VersionTactic writes the charm's VCS revision to the version file. When
// the charm is not a checkout, the charm's own version file is kept.
type VersionTactic struct {
	top    *layers.Layer
	target *Target
	wrote  bool
}

// NewVersionTactic creates the version tactic for the top layer.
func NewVersionTactic(top *layers.Layer, target *Target) *VersionTactic {
	return &VersionTactic{top: top, target: target}
}

func (v *VersionTactic) String() string { return "Version " + v.top.Dir }

// Kind returns dynamic.
func (v *VersionTactic) Kind() string { return manifest.KindDynamic }

// RelPath returns the version file.
func (v *VersionTactic) RelPath() string { return VersionFile }

// Layer returns the top layer.
func (v *VersionTactic) Layer() *layers.Layer { return v.top }

// Lint does nothing.
func (v *VersionTactic) Lint(ctx context.Context) error { return nil }

// Read does nothing.
func (v *VersionTactic) Read(ctx context.Context) error { return nil }

// Build does nothing.
func (v *VersionTactic) Build(ctx context.Context) error { return nil }

// Combine discards existing.
func (v *VersionTactic) Combine(existing Tactic) Tactic { return v }

// revision asks git, then bzr, then hg for the charm's revision.
func (v *VersionTactic) revision(ctx context.Context) string {
	log := v.target.log()
	if v.target.Git != nil {
		sha, err := v.target.Git.Describe(ctx, v.top.Dir)
		if err == nil && sha != "" {
			return sha
		}
		log.Debug("failed to get version", "vcs", "git", "error", err)
	}
	for _, probe := range fallbackProbes {
		cmd := probe
		cmd.Dir = v.top.Dir
		cmd.Timeout = probeTimeout
		out, err := v.target.Runner.Run(ctx, cmd)
		if sha := strings.TrimSpace(string(out)); err == nil && sha != "" {
			return sha
		}
		if errors.Is(err, execx.ErrNotFound) {
			continue
		}
		log.Debug("failed to get version", "vcs", cmd.Name, "error", err)
	}
	return ""
}

// Call writes the version file.
func (v *VersionTactic) Call(ctx context.Context) error {
	current := v.revision(ctx)

	var previous string
	if data, err := os.ReadFile(filepath.Join(v.top.Dir, VersionFile)); err == nil {
		previous = strings.TrimSpace(string(data))
	}
	if current != "" && previous != "" && current != previous {
		v.target.log().Warn(fmt.Sprintf("version %s is out of update, new sha %s will be used!", previous, current))
	}

	sha := current
	if sha == "" {
		sha = previous
	}
	if sha == "" {
		v.target.log().Debug("no version information available")
		return nil
	}
	if err := v.target.FS.AtomicWrite(v.target.Path(VersionFile), []byte(sha), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", VersionFile, err)
	}
	v.wrote = true
	return nil
}

// Sign signs the version file if it was written.
func (v *VersionTactic) Sign() (manifest.Signatures, error) {
	if !v.wrote {
		return manifest.Signatures{}, nil
	}
	return v.target.Sign(VersionFile, v.top.ID(), v.Kind())
}
