package engine

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/danieljhkim/charmbuild/internal/builderr"
	"github.com/danieljhkim/charmbuild/internal/layers"
	"github.com/danieljhkim/charmbuild/internal/tactics"
	"github.com/danieljhkim/charmbuild/internal/yamldoc"
)

// charmMetadata loads the top layer's own metadata.yaml. A charm without one
// yields nil.
func charmMetadata(top *layers.Layer) (*yamldoc.Document, error) {
	path := top.Path(tactics.MetadataFile)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	doc, err := yamldoc.Load(path)
	if err != nil {
		return nil, builderr.Wrap(err, "Failed to process %s. Ensure the YAML is valid", path)
	}
	return doc, nil
}

// charmName picks the explicit name, then the metadata name, then the name
// of the charm directory.
func charmName(explicit string, meta *yamldoc.Document, dir string) (string, error) {
	name := explicit
	if name == "" && meta != nil {
		name, _ = meta.GetString("name")
	}
	if name == "" {
		name = filepath.Base(filepath.Clean(dir))
	}
	if name == "" || name[0] < 'a' || name[0] > 'z' {
		return "", builderr.Newf("Charm name must start with a lower-case letter")
	}
	return name, nil
}

// resolveUserPath makes a user-provided path absolute and checks that it
// exists.
func resolveUserPath(userPath string) (string, error) {
	abs, err := filepath.Abs(userPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %q: %w", userPath, err)
	}
	if _, err := os.Stat(abs); err != nil {
		if os.IsNotExist(err) {
			return "", builderr.Newf("Missing required path: %s", abs)
		}
		return "", builderr.Wrap(err, "Unable to read from: %s", abs)
	}
	return abs, nil
}
