package tactics

import (
	"context"
	"fmt"
	"strings"

	"github.com/danieljhkim/charmbuild/internal/builderr"
	"github.com/danieljhkim/charmbuild/internal/layers"
	"github.com/danieljhkim/charmbuild/internal/manifest"
)

// Hook paths in the charm.
const (
	HooksDir     = "hooks"
	HookTemplate = "hooks/hook.template"
)

// StandardHooks are rendered from the hook template unless a layer
// provides them.
var StandardHooks = []string{
	"install",
	"config-changed",
	"leader-elected",
	"leader-settings-changed",
	"start",
	"stop",
	"update-status",
	"upgrade-charm",
	"pre-series-upgrade",
	"post-series-upgrade",
}

var (
	relationHooks = []string{
		"{}-relation-joined",
		"{}-relation-changed",
		"{}-relation-broken",
		"{}-relation-departed",
	}
	storageHooks = []string{
		"{}-storage-attached",
		"{}-storage-detaching",
	}
)

// HookBind renders hooks from hooks/hook.template, which must already be
// in the output directory when Call runs.
type HookBind struct {
	label    string
	name     string
	owner    *layers.Layer
	target   *Target
	hooks    []string
	provided func(rel string) bool
	quiet    bool

	tracked []string
}

func newHookBind(label, name string, patterns []string, owner *layers.Layer, target *Target, provided func(string) bool) *HookBind {
	b := &HookBind{
		label:    label,
		name:     name,
		owner:    owner,
		target:   target,
		provided: provided,
	}
	for _, p := range patterns {
		b.hooks = append(b.hooks, HooksDir+"/"+strings.ReplaceAll(p, "{}", name))
	}
	return b
}

// NewStandardHooksBind renders the standard hooks.
func NewStandardHooksBind(owner *layers.Layer, target *Target, provided func(string) bool) *HookBind {
	b := newHookBind("StandardHooks", "hook", StandardHooks, owner, target, provided)
	b.quiet = true
	return b
}

// NewInterfaceBind renders the hooks of a relation endpoint.
func NewInterfaceBind(relation string, owner *layers.Layer, target *Target, provided func(string) bool) *HookBind {
	return newHookBind("InterfaceBind", relation, relationHooks, owner, target, provided)
}

// NewStorageBind renders the hooks of a storage endpoint.
func NewStorageBind(storage string, owner *layers.Layer, target *Target, provided func(string) bool) *HookBind {
	return newHookBind("StorageBind", storage, storageHooks, owner, target, provided)
}

func (b *HookBind) String() string {
	return fmt.Sprintf("%s %s (%s)", b.label, b.name, b.owner.ID())
}

// Kind returns dynamic.
func (b *HookBind) Kind() string { return manifest.KindDynamic }

// RelPath returns the hooks directory.
func (b *HookBind) RelPath() string { return HooksDir }

// Layer returns the layer that provided the hook template.
func (b *HookBind) Layer() *layers.Layer { return b.owner }

// Lint does nothing.
func (b *HookBind) Lint(ctx context.Context) error { return nil }

// Read does nothing.
func (b *HookBind) Read(ctx context.Context) error { return nil }

// Build does nothing.
func (b *HookBind) Build(ctx context.Context) error { return nil }

// Combine discards existing.
func (b *HookBind) Combine(existing Tactic) Tactic { return b }

// Call writes every hook no layer provides.
func (b *HookBind) Call(ctx context.Context) error {
	tmpl, err := b.target.FS.ReadFile(b.target.Path(HookTemplate))
	if err != nil {
		return builderr.Wrap(err, "Unable to read %s", HookTemplate)
	}
	content := []byte(renderHook(string(tmpl), b.name))
	for _, rel := range b.hooks {
		if b.provided != nil && b.provided(rel) {
			if b.quiet {
				b.target.log().Debug("hook provided by a layer", "hook", rel)
			} else {
				b.target.log().Warn("hook already provided by a layer, not rendering it", "hook", rel)
			}
			continue
		}
		if err := b.target.FS.AtomicWrite(b.target.Path(rel), content, 0755); err != nil {
			return fmt.Errorf("failed to write %s: %w", rel, err)
		}
		b.tracked = append(b.tracked, rel)
	}
	return nil
}

func renderHook(tmpl, name string) string {
	return strings.NewReplacer("{{", "{", "}}", "}", "{}", name).Replace(tmpl)
}

// Sign signs the hooks written.
func (b *HookBind) Sign() (manifest.Signatures, error) {
	sigs := manifest.Signatures{}
	for _, rel := range b.tracked {
		s, err := b.target.Sign(rel, b.owner.ID(), b.Kind())
		if err != nil {
			return nil, err
		}
		sigs.Merge(s)
	}
	return sigs, nil
}
