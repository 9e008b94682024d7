package integration

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danieljhkim/charmbuild/internal/config"
	"github.com/danieljhkim/charmbuild/internal/engine"
	"github.com/danieljhkim/charmbuild/internal/fetch"
	"github.com/danieljhkim/charmbuild/internal/manifest"
)

// TestBuild_BaseMidTop builds "top", which includes "mid", which includes
// "base", into <out>/trusty.
func TestBuild_BaseMidTop(t *testing.T) {
	root := t.TempDir()
	layersDir := filepath.Join(root, "layers")
	interfacesDir := filepath.Join(root, "interfaces")

	writeTree(t, filepath.Join(layersDir, "base"), map[string]string{
		"metadata.yaml":       "name: top\nsummary: Base\nprovides:\n  db:\n    interface: mysql\n",
		"config.yaml":         "options:\n  key:\n    type: string\n    default: null\n",
		"hooks/hook.template": "#!/bin/sh\n# {}\n",
		"hooks/start":         "base start\n",
	})
	writeTree(t, filepath.Join(layersDir, "mid"), map[string]string{
		"layer.yaml":  "includes: ['layer:base']\n",
		"hooks/start": "mid start\n",
	})
	writeTree(t, filepath.Join(interfacesDir, "mysql"), map[string]string{
		"interface.yaml": "name: mysql\n",
		"provides.py":    "class MySQLProvides: pass\n",
	})
	charmDir := filepath.Join(root, "top")
	writeTree(t, charmDir, map[string]string{
		"layer.yaml": "includes: ['layer:mid', 'interface:mysql']\nrepo: https://example.com/top\n",
	})

	paths, err := config.Resolve(config.Options{
		CharmDir:  charmDir,
		OutputDir: filepath.Join(root, "out"),
		Series:    "trusty",
		CacheDir:  filepath.Join(root, "cache"),
		PID:       1,
	}, func(string) string { return "" })
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	eng, logs := setupTestEngine(t, root)
	result, err := eng.Build(context.Background(), &engine.BuildRequest{
		Paths:  paths,
		Series: "trusty",
		Fetch: fetch.Options{
			LayerIndexes:  []string{"file://" + filepath.Join(root, "no-index") + "/"},
			LayersDir:     layersDir,
			InterfacesDir: interfacesDir,
			Getter:        fetch.NewFakeGetter(nil),
		},
	})
	if err != nil {
		t.Fatalf("Build() error = %v\nlogs:\n%s", err, logs.String())
	}

	out := filepath.Join(root, "out", "trusty", "top")
	if result.TargetDir != out {
		t.Fatalf("TargetDir = %s, want %s", result.TargetDir, out)
	}
	if got := readFile(t, filepath.Join(out, "hooks", "start")); got != "mid start\n" {
		t.Errorf("hooks/start = %q, want mid's copy", got)
	}
	for _, suffix := range []string{"joined", "changed", "broken", "departed"} {
		hook := "db-relation-" + suffix
		if got := readFile(t, filepath.Join(out, "hooks", hook)); got != "#!/bin/sh\n# "+hook+"\n" {
			t.Errorf("hooks/%s = %q", hook, got)
		}
	}
	if got := readFile(t, filepath.Join(out, "config.yaml")); !strings.Contains(got, "key:") {
		t.Errorf("config.yaml = %q", got)
	}
	if !strings.Contains(logs.String(), "DEPRECATED: use of --series flag") {
		t.Errorf("expected a --series deprecation warning, logs:\n%s", logs.String())
	}

	m, err := manifest.Load(filepath.Join(out, manifest.FileName))
	if err != nil {
		t.Fatalf("failed to load manifest: %v", err)
	}
	if got := m.Signatures["metadata.yaml"].Layer; got != "layer:base" {
		t.Errorf("metadata.yaml owned by %q, want layer:base", got)
	}
	if got := m.Signatures["hooks/start"].Layer; got != "layer:mid" {
		t.Errorf("hooks/start owned by %q, want layer:mid", got)
	}
}
