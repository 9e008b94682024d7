package tactics

import (
	"context"
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"

	"github.com/danieljhkim/charmbuild/internal/fsops"
	"github.com/danieljhkim/charmbuild/internal/layerconfig"
	"github.com/danieljhkim/charmbuild/internal/layers"
	"github.com/danieljhkim/charmbuild/internal/manifest"
	"github.com/danieljhkim/charmbuild/internal/pathspec"
)

// RelationsDir holds the copied interface layers.
const RelationsDir = "hooks/relations"

// InterfaceCopy copies an interface layer into hooks/relations/<name>.
//
// Several endpoints may use one interface. The copies of one build share a
// record of the interfaces already copied, so each is refreshed only once.
type InterfaceCopy struct {
	iface    *layers.Layer
	relation Relation
	target   *Target
	config   *layerconfig.Config
	copied   map[string]bool
}

// NewInterfaceCopy creates the copy of iface for an endpoint. config is the
// top layer's config; copied is shared by the copies of one build.
func NewInterfaceCopy(iface *layers.Layer, rel Relation, target *Target, config *layerconfig.Config, copied map[string]bool) *InterfaceCopy {
	if config == nil {
		config = layerconfig.New()
	}
	if copied == nil {
		copied = map[string]bool{}
	}
	return &InterfaceCopy{iface: iface, relation: rel, target: target, config: config, copied: copied}
}

func (c *InterfaceCopy) String() string {
	return fmt.Sprintf("InterfaceCopy %s (%s %s)", c.iface.Name(), c.relation.Role, c.relation.Name)
}

// Kind returns static.
func (c *InterfaceCopy) Kind() string { return manifest.KindStatic }

// RelPath returns the interface's directory in the charm.
func (c *InterfaceCopy) RelPath() string { return RelationsDir + "/" + c.iface.Name() }

// Layer returns the interface.
func (c *InterfaceCopy) Layer() *layers.Layer { return c.iface }

// ID is the interface's manifest ID.
func (c *InterfaceCopy) ID() string { return layers.NamespaceInterface + ":" + c.iface.Name() }

// Lint checks that the interface implements the endpoint's role.
func (c *InterfaceCopy) Lint(ctx context.Context) error {
	impl := c.relation.Role + ".py"
	if _, err := os.Stat(filepath.Join(c.iface.Dir, impl)); err != nil {
		return fmt.Errorf("Missing implementation for interface role: %s", impl)
	}
	if _, err := pathspec.New(c.ignores()); err != nil {
		return fmt.Errorf("Invalid ignore pattern for interface %s: %w", c.iface.Name(), err)
	}
	return nil
}

// Read does nothing.
func (c *InterfaceCopy) Read(ctx context.Context) error { return nil }

// Build does nothing.
func (c *InterfaceCopy) Build(ctx context.Context) error { return nil }

// Combine discards existing.
func (c *InterfaceCopy) Combine(existing Tactic) Tactic { return c }

func (c *InterfaceCopy) ignores() []string {
	ifaceConfig := c.iface.MustConfig()
	var out []string
	out = append(out, c.config.Ignores()...)
	out = append(out, ifaceConfig.Ignores()...)
	out = append(out, c.config.Excludes()...)
	out = append(out, ifaceConfig.Excludes()...)
	return out
}

// Call replaces the interface's directory with a fresh copy.
func (c *InterfaceCopy) Call(ctx context.Context) error {
	name := c.iface.Name()
	if c.copied[name] {
		return nil
	}
	c.copied[name] = true

	fs := c.target.FS
	dest := c.target.Path(c.RelPath())
	if err := fs.RemoveAll(dest); err != nil {
		return fmt.Errorf("failed to clear %s: %w", c.RelPath(), err)
	}
	if err := fs.MkdirAll(dest, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", c.RelPath(), err)
	}

	ignore, err := pathspec.New(c.ignores())
	if err != nil {
		return fmt.Errorf("invalid ignore pattern for interface %s: %w", name, err)
	}
	err = fsops.Walk(c.iface.Dir, func(rel string, d iofs.DirEntry) error {
		if ignore.Match(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		dst := filepath.Join(dest, filepath.FromSlash(rel))
		if d.IsDir() {
			return fs.MkdirAll(dst, 0755)
		}
		return fs.Copy(filepath.Join(c.iface.Dir, filepath.FromSlash(rel)), dst)
	})
	if err != nil {
		return fmt.Errorf("failed to copy interface %s: %w", name, err)
	}

	initFile := filepath.Join(dest, "__init__.py")
	if ok, _ := fs.Exists(initFile); !ok {
		if err := fs.AtomicWrite(initFile, nil, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", initFile, err)
		}
	}
	c.target.log().Debug("copied interface", "interface", name, "from", c.iface.Dir)
	return nil
}

// Sign signs every file of the copied interface.
func (c *InterfaceCopy) Sign() (manifest.Signatures, error) {
	return c.target.SignTree(c.RelPath(), c.ID(), c.Kind())
}
