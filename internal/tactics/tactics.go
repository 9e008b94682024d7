// Package tactics decides how each file of each layer lands in the charm.
//
// While planning, every file of every layer is offered to the candidate
// tactics in order; the first whose trigger matches handles it. When a
// lower layer already produced a tactic for the same path, the new tactic
// is combined with it so exactly one tactic survives per output path.
//
// Tactics then run in phases: Lint, Read, Call, Sign and Build.
package tactics

import (
	"context"
	"fmt"
	iofs "io/fs"
	"path/filepath"
	"sort"

	"github.com/hashicorp/go-hclog"

	"github.com/danieljhkim/charmbuild/internal/builderr"
	"github.com/danieljhkim/charmbuild/internal/execx"
	"github.com/danieljhkim/charmbuild/internal/fsops"
	"github.com/danieljhkim/charmbuild/internal/gitx"
	"github.com/danieljhkim/charmbuild/internal/hash"
	"github.com/danieljhkim/charmbuild/internal/layerconfig"
	"github.com/danieljhkim/charmbuild/internal/layers"
	"github.com/danieljhkim/charmbuild/internal/manifest"
)

// Tactic processes one output path (or, for bind tactics, a set of them).
type Tactic interface {
	fmt.Stringer

	// Kind is manifest.KindStatic or manifest.KindDynamic.
	Kind() string

	// RelPath is the slash-separated output path the tactic owns.
	RelPath() string

	// Layer is the layer that contributed the tactic.
	Layer() *layers.Layer

	// Lint validates the tactic's input before anything is written.
	Lint(ctx context.Context) error

	// Read loads the tactic's input.
	Read(ctx context.Context) error

	// Call writes the tactic's output into the target.
	Call(ctx context.Context) error

	// Sign returns the signatures of the files the tactic wrote.
	Sign() (manifest.Signatures, error)

	// Build runs after every tactic has been called and signed.
	Build(ctx context.Context) error

	// Combine merges the tactic a lower layer produced for the same path
	// and returns the tactic that survives.
	Combine(existing Tactic) Tactic
}

// Target is the charm being built.
type Target struct {
	// Dir is the output directory.
	Dir string

	FS     fsops.FS
	Hasher hash.Hasher
	Runner execx.Runner
	Git    gitx.GitRepo
	Logger hclog.Logger
}

// NewTarget returns a target writing to dir with real filesystem, hashing
// and process runners.
func NewTarget(dir string, logger hclog.Logger) *Target {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	runner := execx.NewRealRunner(logger.Named("exec"))
	return &Target{
		Dir:    dir,
		FS:     fsops.NewRealFS(),
		Hasher: hash.NewSHA256Hasher(),
		Runner: runner,
		Git:    gitx.NewRealGitRepo(runner),
		Logger: logger,
	}
}

func (t *Target) log() hclog.Logger {
	if t == nil || t.Logger == nil {
		return hclog.NewNullLogger()
	}
	return t.Logger
}

// Path joins a slash-separated relative path onto the output directory.
func (t *Target) Path(rel string) string {
	return filepath.Join(t.Dir, filepath.FromSlash(rel))
}

// Sign signs the output file at rel. Missing and non-regular files yield
// no signature.
func (t *Target) Sign(rel, layerID, kind string) (manifest.Signatures, error) {
	sig, ok, err := hash.Sign(t.Hasher, t.Path(rel))
	if err != nil {
		return nil, fmt.Errorf("failed to sign %s: %w", rel, err)
	}
	if !ok {
		return manifest.Signatures{}, nil
	}
	return manifest.Signatures{rel: {Layer: layerID, Kind: kind, Digest: sig}}, nil
}

// SignTree signs every regular file below the output path rel.
func (t *Target) SignTree(rel, layerID, kind string) (manifest.Signatures, error) {
	sigs := manifest.Signatures{}
	root := t.Path(rel)
	info, err := t.FS.Stat(root)
	if err != nil || !info.IsDir() {
		return t.Sign(rel, layerID, kind)
	}
	err = fsops.Walk(root, func(sub string, d iofs.DirEntry) error {
		if d.IsDir() {
			return nil
		}
		s, err := t.Sign(rel+"/"+sub, layerID, kind)
		if err != nil {
			return err
		}
		sigs.Merge(s)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sigs, nil
}

// Source is a layer entry offered to the tactics while planning.
type Source struct {
	// Rel is the entry's slash-separated path inside its layer.
	Rel string

	// IsDir is true for directories.
	IsDir bool

	// Layer is the layer holding the entry.
	Layer *layers.Layer

	// Config is the config chain through the next layer up. Ignore
	// patterns are read from it.
	Config *layerconfig.Config

	// Current is the config chain through Layer. Custom tactic names are
	// read from it.
	Current *layerconfig.Config

	Target *Target
}

// Path returns the entry's absolute path.
func (s Source) Path() string {
	return s.Layer.Path(s.Rel)
}

// Base carries what every file tactic needs. Concrete tactics embed it and
// supply their own Kind, Sign and Combine.
type Base struct {
	src Source
}

// NewBase returns a Base for src.
func NewBase(src Source) Base {
	return Base{src: src}
}

// Source returns the entry the tactic was created for.
func (b *Base) Source() Source { return b.src }

// RelPath returns the output path, which is the entry's path.
func (b *Base) RelPath() string { return b.src.Rel }

// Layer returns the contributing layer.
func (b *Base) Layer() *layers.Layer { return b.src.Layer }

// Lint does nothing.
func (b *Base) Lint(ctx context.Context) error { return nil }

// Read does nothing.
func (b *Base) Read(ctx context.Context) error { return nil }

// Call does nothing.
func (b *Base) Call(ctx context.Context) error { return nil }

// Build does nothing.
func (b *Base) Build(ctx context.Context) error { return nil }

func (b *Base) describe(name string) string {
	return fmt.Sprintf("%s %s (%s)", name, b.src.Rel, b.src.Layer.ID())
}

func (b *Base) target() *Target { return b.src.Target }

func (b *Base) log() hclog.Logger {
	return b.src.Target.log()
}

// Factory constructs a tactic for the entries its trigger accepts.
type Factory struct {
	Name    string
	Trigger func(src Source) bool
	New     func(src Source) Tactic
}

// Defaults returns the built-in factories in selection order.
func Defaults() []Factory {
	return []Factory{
		{Name: "Ignore", Trigger: triggerIgnore, New: newIgnore},
		{Name: "Exclude", Trigger: triggerExclude, New: newExclude},
		{Name: "Manifest", Trigger: exactly(manifest.FileName), New: newManifest},
		{Name: "Wheelhouse", Trigger: exactly(WheelhouseFile), New: func(src Source) Tactic { return NewWheelhouse(src, false) }},
		{Name: "Installer", Trigger: triggerInstaller, New: newInstaller},
		{Name: "Copyright", Trigger: exactly(CopyrightFile), New: newCopyright},
		{Name: "DistYAML", Trigger: exactly("dist.yaml"), New: documentFactory("dist", "")},
		{Name: "ResourcesYAML", Trigger: exactly("resources.yaml"), New: documentFactory("resources", "")},
		{Name: "MetadataYAML", Trigger: exactly(MetadataFile), New: newMetadata},
		{Name: "ConfigYAML", Trigger: exactly("config.yaml"), New: documentFactory("config", "options")},
		{Name: "ActionsYAML", Trigger: exactly("actions.yaml"), New: documentFactory("actions", "")},
		{Name: "LayerYAML", Trigger: triggerLayerYAML, New: newLayerYAML},
		{Name: "Copy", Trigger: func(Source) bool { return true }, New: newCopy},
	}
}

func exactly(rel string) func(Source) bool {
	return func(src Source) bool { return src.Rel == rel }
}

// Registry holds the custom tactics layers may name in their `tactics`
// list. Custom tactics are tried before the defaults.
type Registry struct {
	custom   map[string]Factory
	defaults []Factory
}

// NewRegistry returns a registry holding only the default tactics.
func NewRegistry() *Registry {
	return &Registry{custom: map[string]Factory{}, defaults: Defaults()}
}

// Register adds a custom tactic.
func (r *Registry) Register(f Factory) error {
	if f.Name == "" || f.Trigger == nil || f.New == nil {
		return fmt.Errorf("invalid tactic %q: name, trigger and constructor are required", f.Name)
	}
	if _, ok := r.custom[f.Name]; ok {
		return fmt.Errorf("tactic %q already registered", f.Name)
	}
	r.custom[f.Name] = f
	return nil
}

// Names returns the registered custom tactic names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.custom))
	for n := range r.custom {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Check reports an error for a custom tactic name that is not registered.
func (r *Registry) Check(name string) error {
	if _, ok := r.custom[name]; !ok {
		return fmt.Errorf("unknown tactic %q", name)
	}
	return nil
}

// Select picks the tactic for src and combines it with existing, the
// tactic a lower layer produced for the same path, if any.
func (r *Registry) Select(src Source, existing Tactic) (Tactic, error) {
	candidates := make([]Factory, 0, len(r.defaults)+4)
	if src.Current != nil {
		for _, name := range src.Current.Tactics() {
			f, ok := r.custom[name]
			if !ok {
				return nil, fmt.Errorf("unknown tactic %q", name)
			}
			candidates = append(candidates, f)
		}
	}
	candidates = append(candidates, r.defaults...)

	for _, f := range candidates {
		if !f.Trigger(src) {
			continue
		}
		t := f.New(src)
		if existing != nil {
			t = t.Combine(existing)
		}
		return t, nil
	}
	return nil, builderr.Newf("Unable to process file: %s (no tactics matched)", src.Rel)
}
