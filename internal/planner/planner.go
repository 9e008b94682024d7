package planner

import (
	"context"
	"fmt"
	iofs "io/fs"

	"github.com/hashicorp/go-hclog"

	"github.com/danieljhkim/charmbuild/internal/builderr"
	"github.com/danieljhkim/charmbuild/internal/fsops"
	"github.com/danieljhkim/charmbuild/internal/layerconfig"
	"github.com/danieljhkim/charmbuild/internal/layers"
	"github.com/danieljhkim/charmbuild/internal/tactics"
)

// Planner turns a resolved charm into a Plan.
type Planner struct {
	registry  *tactics.Registry
	target    *tactics.Target
	overrides string
	logger    hclog.Logger
}

// New creates a Planner writing into target. A nil registry uses the
// default tactics only.
func New(registry *tactics.Registry, target *tactics.Target, logger hclog.Logger) *Planner {
	if registry == nil {
		registry = tactics.NewRegistry()
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Planner{registry: registry, target: target, logger: logger}
}

// WithWheelhouseOverrides applies the requirements file at path on top of
// every layer's wheelhouse.txt.
func (p *Planner) WithWheelhouseOverrides(path string) *Planner {
	p.overrides = path
	return p
}

// Build plans the whole charm: every layer file, then the hook, interface
// and storage bindings, then the version file.
func (p *Planner) Build(ctx context.Context, res *layers.Resolution) (*Plan, error) {
	if res == nil || len(res.Layers) == 0 {
		return nil, fmt.Errorf("nothing to plan: no layers resolved")
	}

	out := newOutputs()
	if err := p.planLayers(res, out); err != nil {
		return nil, err
	}

	plan := NewPlan(res.IDs())
	for _, t := range out.all() {
		plan.Add(t)
	}

	p.planHooks(out, plan)
	if err := p.planInterfaces(ctx, res, out, plan); err != nil {
		return nil, err
	}
	if err := p.planStorage(ctx, res, out, plan); err != nil {
		return nil, err
	}
	plan.Add(tactics.NewVersionTactic(res.Top(), p.target))

	p.logger.Debug("plan built", "tactics", plan.Len(), "layers", len(plan.LayerIDs))
	return plan, nil
}

// planLayers offers every entry of every layer to the registry. Ignore
// rules are read from the config chain through the next layer up, so a
// layer can drop files its bases provide.
func (p *Planner) planLayers(res *layers.Resolution, out *outputs) error {
	ls := res.Layers
	current := layerconfig.New()
	next := layerconfig.New().AddConfig(ls[0].MustConfig())

	for i, layer := range ls {
		p.logger.Info("processing layer", "layer", layer.ID(), "dir", layer.Dir)
		current = current.AddConfig(layer.MustConfig())
		if i+1 < len(ls) {
			next = next.AddConfig(ls[i+1].MustConfig())
		} else {
			// An empty level marks that no layer follows.
			next = next.NewChildWith(nil)
		}
		if err := compilePatterns(layer, next); err != nil {
			return err
		}

		err := fsops.Walk(layer.Dir, func(rel string, d iofs.DirEntry) error {
			src := tactics.Source{
				Rel:     rel,
				IsDir:   d.IsDir(),
				Layer:   layer,
				Config:  next,
				Current: current,
				Target:  p.target,
			}
			existing, _ := out.get(rel)
			t, err := p.registry.Select(src, existing)
			if err != nil {
				return err
			}
			out.set(rel, t)
			return nil
		})
		if err != nil {
			if builderr.Is(err) {
				return err
			}
			return fmt.Errorf("failed to plan layer %s: %w", layer.ID(), err)
		}
	}

	if p.overrides != "" {
		src := tactics.Source{
			Rel:     tactics.WheelhouseFile,
			Layer:   res.Top(),
			Config:  next,
			Current: current,
			Target:  p.target,
		}
		var t tactics.Tactic = tactics.NewWheelhouseOverrides(src, p.overrides)
		if existing, ok := out.get(tactics.WheelhouseFile); ok {
			t = t.Combine(existing)
		}
		out.set(tactics.WheelhouseFile, t)
	}
	return nil
}

// compilePatterns compiles the exclude list of layer and the ignore list
// of the layer above it before any of layer's entries are offered.
func compilePatterns(layer *layers.Layer, next *layerconfig.Config) error {
	if _, err := layer.MustConfig().ExcludeMatcher(); err != nil {
		return builderr.Wrap(err, "Invalid exclude pattern in %s", layer.ConfigFile())
	}
	if _, err := next.IgnoreMatcher(); err != nil {
		return builderr.Wrap(err, "Invalid ignore pattern in the layer above %s", layer.ID())
	}
	return nil
}

// templateOwner returns the layer providing the hook template.
func templateOwner(out *outputs) (*layers.Layer, bool) {
	if !out.provides(tactics.HookTemplate) {
		return nil, false
	}
	t, _ := out.get(tactics.HookTemplate)
	return t.Layer(), true
}

func (p *Planner) planHooks(out *outputs, plan *Plan) {
	owner, ok := templateOwner(out)
	if !ok {
		p.logger.Debug("no hook template, standard hooks not rendered")
		return
	}
	plan.Add(tactics.NewStandardHooksBind(owner, p.target, out.provides))
}

// metadata returns the processed metadata tactic, or nil when no layer
// provides metadata.yaml.
func metadata(ctx context.Context, out *outputs) (*tactics.MetadataTactic, error) {
	t, ok := out.get(tactics.MetadataFile)
	if !ok {
		return nil, nil
	}
	meta, ok := t.(*tactics.MetadataTactic)
	if !ok {
		return nil, nil
	}
	if _, err := meta.Process(ctx); err != nil {
		return nil, err
	}
	return meta, nil
}

func (p *Planner) planInterfaces(ctx context.Context, res *layers.Resolution, out *outputs, plan *Plan) error {
	meta, err := metadata(ctx, out)
	if err != nil {
		return err
	}
	if meta == nil {
		if len(res.Interfaces) > 0 {
			return builderr.Newf("Includes interfaces but no metadata.yaml to bind them")
		}
		return nil
	}

	relations := meta.Relations()
	used := make(map[string]bool, len(relations))
	for _, r := range relations {
		used[r.Interface] = true
	}

	var owner *layers.Layer
	if len(relations) > 0 {
		var ok bool
		if owner, ok = templateOwner(out); !ok {
			return builderr.Newf("At least one layer must provide %s", tactics.HookTemplate)
		}
	}

	copied := map[string]bool{}
	topConfig := res.Top().MustConfig()
	for _, iface := range res.Interfaces {
		if !used[iface.Name()] {
			p.logger.Warn(fmt.Sprintf("layer.yaml includes %s which isn't used in metadata.yaml", iface.Name()))
			continue
		}
		p.logger.Info("processing interface", "interface", iface.Name(), "dir", iface.Dir)
		for _, r := range relations {
			if r.Interface != iface.Name() {
				continue
			}
			plan.Add(tactics.NewInterfaceCopy(iface, r, p.target, topConfig, copied))
		}
	}

	for _, r := range relations {
		plan.Add(tactics.NewInterfaceBind(r.Name, owner, p.target, out.provides))
	}
	return nil
}

func (p *Planner) planStorage(ctx context.Context, res *layers.Resolution, out *outputs, plan *Plan) error {
	meta, err := metadata(ctx, out)
	if err != nil || meta == nil {
		return err
	}
	names := meta.StorageNames()
	if len(names) == 0 {
		return nil
	}
	if _, ok := templateOwner(out); !ok {
		return builderr.Newf("At least one layer must provide %s", tactics.HookTemplate)
	}

	storage := meta.Storage()
	for _, name := range names {
		owner := layerByID(res, storage[name])
		if owner == nil {
			owner = meta.Layer()
		}
		plan.Add(tactics.NewStorageBind(name, owner, p.target, out.provides))
	}
	return nil
}

func layerByID(res *layers.Resolution, id string) *layers.Layer {
	for _, l := range res.Layers {
		if l.ID() == id {
			return l
		}
	}
	return nil
}
