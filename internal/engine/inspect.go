package engine

import (
	iofs "io/fs"
	"path/filepath"
	"strings"

	"github.com/danieljhkim/charmbuild/internal/builderr"
	"github.com/danieljhkim/charmbuild/internal/fsops"
	"github.com/danieljhkim/charmbuild/internal/layerconfig"
	"github.com/danieljhkim/charmbuild/internal/layers"
	"github.com/danieljhkim/charmbuild/internal/manifest"
	"github.com/danieljhkim/charmbuild/internal/pathspec"
	"github.com/danieljhkim/charmbuild/internal/yamldoc"
)

// Inspect reports which layer produced each file of a built charm and
// which files changed since it was built.
func (e *Engine) Inspect(req *InspectRequest) (*InspectResult, error) {
	dir, err := filepath.Abs(req.Dir)
	if err != nil {
		return nil, err
	}

	m, err := manifest.LoadIfExists(filepath.Join(dir, manifest.FileName))
	if err != nil {
		return nil, builderr.Wrap(err, "Unable to read the manifest of %s", dir)
	}
	if m == nil {
		return nil, builderr.Wrap(ErrNotBuilt, "%s has no %s", dir, manifest.FileName)
	}
	doc, err := yamldoc.Load(filepath.Join(dir, layers.LayerConfigFile))
	if err != nil {
		return nil, builderr.Wrap(ErrNotBuilt, "%s has no readable %s", dir, layers.LayerConfigFile)
	}
	is, _ := doc.GetString("is")

	ignore := pathspec.MustNew(layerconfig.DefaultIgnores)
	delta, err := manifest.Compare(m, dir, e.hasher, ignore)
	if err != nil {
		return nil, err
	}
	status := map[string]string{}
	for _, rel := range delta.Added {
		status[rel] = StatusAdded
	}
	for _, rel := range delta.Changed {
		status[rel] = StatusChanged
	}

	result := &InspectResult{Dir: dir, Is: is, Layers: legend(m.Layers)}
	err = fsops.Walk(dir, func(rel string, d iofs.DirEntry) error {
		if ignore.Match(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		entry := InspectEntry{
			Rel:    rel,
			Depth:  strings.Count(rel, "/"),
			IsDir:  d.IsDir(),
			Status: status[rel],
		}
		if sig, ok := m.Signatures[rel]; ok {
			entry.Layer = sig.Layer
		}
		result.Entries = append(result.Entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// legend orders the manifest's layers top first with interfaces last. The
// build layer is left out; its files are build artifacts.
func legend(ids []string) []string {
	var ls, ifaces []string
	for i := len(ids) - 1; i >= 0; i-- {
		id := ids[i]
		switch {
		case id == manifest.BuildLayer:
		case strings.HasPrefix(id, layers.NamespaceInterface+":"):
			ifaces = append(ifaces, id)
		default:
			ls = append(ls, id)
		}
	}
	return append(ls, ifaces...)
}
