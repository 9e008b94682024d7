package layers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/danieljhkim/charmbuild/internal/builderr"
	"github.com/danieljhkim/charmbuild/internal/fetch"
)

// Resolution is the flattened inheritance graph of a charm.
type Resolution struct {
	// Layers are ordered base first; the charm itself is last.
	Layers []*Layer

	// Interfaces are in first-included order.
	Interfaces []*Layer
}

// Top returns the charm layer.
func (r *Resolution) Top() *Layer {
	if len(r.Layers) == 0 {
		return nil
	}
	return r.Layers[len(r.Layers)-1]
}

// IDs lists the layer IDs followed by "interface:<name>" entries.
func (r *Resolution) IDs() []string {
	ids := make([]string, 0, len(r.Layers)+len(r.Interfaces))
	for _, l := range r.Layers {
		ids = append(ids, l.ID())
	}
	for _, i := range r.Interfaces {
		ids = append(ids, NamespaceInterface+":"+i.Name())
	}
	return ids
}

// TacticCheck validates a custom tactic name declared by a layer.
type TacticCheck func(name string) error

// Resolver fetches layers and interfaces into a cache directory.
type Resolver struct {
	fetcher     fetch.Fetcher
	cacheDir    string
	checkTactic TacticCheck
	logger      hclog.Logger
}

// NewResolver creates a Resolver downloading into cacheDir.
func NewResolver(fetcher fetch.Fetcher, cacheDir string, logger hclog.Logger) *Resolver {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Resolver{
		fetcher:  fetcher,
		cacheDir: cacheDir,
		logger:   logger,
	}
}

// WithTacticCheck makes the resolver validate custom tactic names as each
// layer config is loaded.
func (r *Resolver) WithTacticCheck(check TacticCheck) *Resolver {
	r.checkTactic = check
	return r
}

// Top loads the charm at charmDir as the top layer.
func (r *Resolver) Top(charmDir string) (*Layer, error) {
	abs, err := filepath.Abs(charmDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", charmDir, err)
	}
	if !isDir(abs) {
		return nil, builderr.Newf("Unable to locate %s. Do you need to set %s?", charmDir, LayerEnvVar)
	}
	top := NewAt(charmDir, NamespaceLayer, abs)
	if err := r.configure(top); err != nil {
		return nil, err
	}
	return top, nil
}

// Resolve walks the includes of top recursively. Layers are appended after
// their own includes, so bases come first; top is appended last.
func (r *Resolver) Resolve(ctx context.Context, top *Layer) (*Resolution, error) {
	if err := r.configure(top); err != nil {
		return nil, err
	}
	switch {
	case !top.MustConfig().Configured():
		r.logger.Warn("The top level layer expects a valid layer.yaml file")
	case len(top.Includes()) == 0:
		r.logger.Warn("The top level layer does not include any layers", "layer", top.URL)
	}

	res := &Resolution{}
	if err := r.resolveIncludes(ctx, top, res, nil); err != nil {
		return nil, err
	}
	res.Layers = append(res.Layers, top)
	return res, nil
}

// resolveIncludes appends the includes of layer to res. stack holds the
// names of the layers being resolved, outermost first.
func (r *Resolver) resolveIncludes(ctx context.Context, layer *Layer, res *Resolution, stack []string) error {
	for _, ref := range layer.Includes() {
		if err := ctx.Err(); err != nil {
			return err
		}

		if strings.HasPrefix(ref, NamespaceInterface+":") {
			if hasName(res.Interfaces, NameFromURL(ref, NamespaceInterface)) {
				continue
			}
			iface, err := r.Fetch(ctx, ref, NamespaceInterface)
			if err != nil {
				return err
			}
			if hasName(res.Interfaces, iface.Name()) {
				continue
			}
			res.Interfaces = append(res.Interfaces, iface)
			continue
		}

		if hasName(res.Layers, NameFromURL(ref, NamespaceLayer)) {
			continue
		}
		base, err := r.Fetch(ctx, ref, NamespaceLayer)
		if err != nil {
			return err
		}
		if hasName(res.Layers, base.Name()) {
			continue
		}
		if err := checkCycle(stack, base.Name()); err != nil {
			return err
		}
		if err := r.resolveIncludes(ctx, base, res, append(stack[:len(stack):len(stack)], base.Name())); err != nil {
			return err
		}
		res.Layers = append(res.Layers, base)
	}
	return nil
}

// Fetch materializes one reference and loads its config.
//
// A reference no fetcher recognizes is tried as a local directory.
func (r *Resolver) Fetch(ctx context.Context, ref, namespace string) (*Layer, error) {
	layer := New(ref, namespace)
	dest := filepath.Join(r.cacheDir, namespace)
	if err := os.MkdirAll(dest, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	res, err := r.fetcher.Fetch(ctx, ref, dest)
	switch {
	case err == nil:
		layer.Dir = res.Dir
		layer.Fetched = res.Fetched
		layer.Revision = res.Revision
	case errors.Is(err, fetch.ErrNotFound):
		layer.Dir = ref
	default:
		return nil, builderr.Wrap(err, "Unable to fetch %s", ref)
	}

	if !isDir(layer.Dir) {
		return nil, builderr.Newf("Unable to locate %s. Do you need to set %s?", ref, layer.EnvVar())
	}
	if abs, err := filepath.Abs(layer.Dir); err == nil {
		layer.Dir = abs
	}

	if err := r.configure(layer); err != nil {
		return nil, err
	}
	r.logger.Debug("fetched", "namespace", namespace, "ref", ref, "dir", layer.Dir, "fetched", layer.Fetched)
	return layer, nil
}

// configure loads the layer's config and decodes its declaration.
func (r *Resolver) configure(layer *Layer) error {
	cfg, err := layer.Config()
	if err != nil {
		return builderr.Wrap(err, "Unable to load config for %s", layer.URL)
	}
	decl, err := cfg.Declaration()
	if err != nil {
		return builderr.Wrap(err, "Invalid config in %s", layer.ConfigFile())
	}
	layer.decl = decl
	if r.checkTactic != nil {
		for _, name := range decl.Tactics {
			if err := r.checkTactic(name); err != nil {
				return builderr.Wrap(err, "Invalid tactic in %s", layer.ConfigFile())
			}
		}
	}
	return nil
}

// checkCycle fails when name is already being resolved.
func checkCycle(stack []string, name string) error {
	for i, n := range stack {
		if n == name {
			chain := append(append([]string(nil), stack[i:]...), name)
			return builderr.Newf("Include cycle detected: %s", strings.Join(chain, " -> "))
		}
	}
	return nil
}

func hasName(layers []*Layer, name string) bool {
	for _, l := range layers {
		if l.Name() == name {
			return true
		}
	}
	return false
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
