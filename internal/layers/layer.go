// Package layers resolves the inheritance graph of a charm.
//
// A charm is itself a layer. Its layer.yaml names the layers and interfaces
// it includes; each included layer may include more. Resolution fetches
// every reference once, keyed by name, and orders layers base first.
package layers

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/danieljhkim/charmbuild/internal/layerconfig"
)

// Namespaces of fetched entities.
const (
	NamespaceLayer     = "layer"
	NamespaceInterface = "interface"
)

// Config file names.
const (
	LayerConfigFile       = "layer.yaml"
	LegacyLayerConfigFile = "composer.yaml"
	InterfaceConfigFile   = "interface.yaml"
)

// Search-path environment variables, named in resolution errors.
const (
	LayerEnvVar     = "CHARM_LAYERS_DIR"
	InterfaceEnvVar = "CHARM_INTERFACES_DIR"
)

// Layer is a fetched layer or interface.
type Layer struct {
	// URL is the reference the layer was declared with.
	URL string

	// Namespace is NamespaceLayer or NamespaceInterface.
	Namespace string

	// Dir is the local directory holding the layer's files.
	Dir string

	// Revision is the fetched branch or revision, if known.
	Revision string

	// Fetched is true when Dir was downloaded for this build.
	Fetched bool

	id     string
	config *layerconfig.Config
	decl   layerconfig.Declaration
}

// New creates an unfetched layer for ref.
func New(ref, namespace string) *Layer {
	return &Layer{URL: ref, Namespace: namespace}
}

// NewAt creates a layer for an existing directory.
func NewAt(ref, namespace, dir string) *Layer {
	return &Layer{URL: ref, Namespace: namespace, Dir: dir}
}

// Name returns the configured name, or a name derived from the URL.
func (l *Layer) Name() string {
	if l.config != nil {
		if n := l.config.Name(); n != "" {
			return n
		}
	}
	return NameFromURL(l.URL, l.Namespace)
}

// ID identifies the layer in the manifest.
func (l *Layer) ID() string {
	if l.id != "" {
		return l.id
	}
	return l.URL
}

// SetID overrides the manifest ID; the top layer is identified by the
// charm name.
func (l *Layer) SetID(id string) {
	l.id = id
}

// EnvVar returns the variable users set to point at local copies.
func (l *Layer) EnvVar() string {
	if l.Namespace == NamespaceInterface {
		return InterfaceEnvVar
	}
	return LayerEnvVar
}

// ConfigFile returns the path of the layer's config file. Layers fall back
// to the legacy composer.yaml when layer.yaml is absent.
func (l *Layer) ConfigFile() string {
	if l.Namespace == NamespaceInterface {
		return filepath.Join(l.Dir, InterfaceConfigFile)
	}
	current := filepath.Join(l.Dir, LayerConfigFile)
	if _, err := os.Stat(current); err != nil {
		legacy := filepath.Join(l.Dir, LegacyLayerConfigFile)
		if _, err := os.Stat(legacy); err == nil {
			return legacy
		}
	}
	return current
}

// Config loads the layer's config on first use. A missing file yields an
// empty, unconfigured config.
func (l *Layer) Config() (*layerconfig.Config, error) {
	if l.config != nil {
		return l.config, nil
	}
	cfg := layerconfig.New()
	if l.Dir != "" {
		if err := cfg.Configure(l.ConfigFile(), true); err != nil {
			return nil, err
		}
	}
	l.config = cfg
	return cfg, nil
}

// Includes returns the references the layer's config declares.
func (l *Layer) Includes() []string {
	return l.decl.Includes
}

// MustConfig returns the loaded config, or an empty one if loading has not
// happened or failed.
func (l *Layer) MustConfig() *layerconfig.Config {
	if l.config == nil {
		return layerconfig.New()
	}
	return l.config
}

// Path joins rel onto the layer directory.
func (l *Layer) Path(rel string) string {
	return filepath.Join(l.Dir, filepath.FromSlash(rel))
}

func (l *Layer) String() string {
	return l.Namespace + " " + l.URL + ":" + l.Dir
}

// NameFromURL strips a namespace prefix, or else takes the last path
// segment.
func NameFromURL(url, namespace string) string {
	if namespace != "" && strings.HasPrefix(url, namespace+":") {
		return url[len(namespace)+1:]
	}
	url = strings.TrimRight(url, "/")
	if i := strings.LastIndex(url, "/"); i >= 0 {
		return url[i+1:]
	}
	return url
}
