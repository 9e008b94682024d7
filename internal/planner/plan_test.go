package planner

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/hashicorp/go-hclog"

	"github.com/danieljhkim/charmbuild/internal/builderr"
	"github.com/danieljhkim/charmbuild/internal/execx"
	"github.com/danieljhkim/charmbuild/internal/layerconfig"
	"github.com/danieljhkim/charmbuild/internal/layers"
	"github.com/danieljhkim/charmbuild/internal/tactics"
)

type env struct {
	t      *testing.T
	root   string
	target *tactics.Target
	logs   *bytes.Buffer
	logger hclog.Logger
}

func newEnv(t *testing.T) *env {
	t.Helper()
	root := t.TempDir()
	logs := &bytes.Buffer{}
	logger := hclog.New(&hclog.LoggerOptions{Output: logs, Level: hclog.Warn})
	return &env{
		t:      t,
		root:   root,
		target: tactics.NewTarget(filepath.Join(root, "out"), logger),
		logs:   logs,
		logger: logger,
	}
}

func (e *env) dir(name string, files map[string]string) string {
	e.t.Helper()
	dir := filepath.Join(e.root, "src", name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		e.t.Fatal(err)
	}
	for rel, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			e.t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			e.t.Fatal(err)
		}
	}
	return dir
}

func (e *env) layer(name string, files map[string]string) *layers.Layer {
	e.t.Helper()
	l := layers.NewAt("layer:"+name, layers.NamespaceLayer, e.dir(name, files))
	if _, err := l.Config(); err != nil {
		e.t.Fatal(err)
	}
	return l
}

func (e *env) iface(name string, files map[string]string) *layers.Layer {
	e.t.Helper()
	l := layers.NewAt("interface:"+name, layers.NamespaceInterface, e.dir("interface-"+name, files))
	if _, err := l.Config(); err != nil {
		e.t.Fatal(err)
	}
	return l
}

func (e *env) build(res *layers.Resolution) (*Plan, error) {
	return New(nil, e.target, e.logger).Build(context.Background(), res)
}

func describe(plan *Plan) []string {
	var out []string
	for _, t := range plan.Tactics {
		out = append(out, fmt.Sprintf("%T %s", t, t.RelPath()))
	}
	return out
}

const template = "#!/bin/sh\nexec run {}\n"

func TestBuild_FileOrderAndShadowing(t *testing.T) {
	e := newEnv(t)
	base := e.layer("base", map[string]string{
		"README.md":           "base",
		"hooks/hook.template": template,
		"layer.yaml":          "repo: https://example.com/base\n",
		"metadata.yaml":       "name: base\n",
	})
	top := e.layer("top", map[string]string{
		"README.md":   "top",
		"config.yaml": "options: {}\n",
		"layer.yaml":  "includes: ['layer:base']\n",
	})
	top.SetID("mycharm")

	plan, err := e.build(&layers.Resolution{Layers: []*layers.Layer{base, top}})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	want := []string{
		"*tactics.CopyTactic README.md",
		"*tactics.CopyTactic hooks",
		"*tactics.CopyTactic hooks/hook.template",
		"*tactics.LayerYAMLTactic layer.yaml",
		"*tactics.MetadataTactic metadata.yaml",
		"*tactics.DocumentTactic config.yaml",
		"*tactics.HookBind hooks",
		"*tactics.VersionTactic version",
	}
	if diff := cmp.Diff(want, describe(plan)); diff != "" {
		t.Errorf("plan mismatch (-want +got):\n%s", diff)
	}
	if got := plan.Tactics[0].Layer(); got != top {
		t.Errorf("README.md should come from the top layer, got %s", got.ID())
	}
	if got := plan.Tactics[3].Layer(); got != top {
		t.Errorf("layer.yaml should be combined into the top layer's tactic")
	}
	if diff := cmp.Diff([]string{"layer:base", "mycharm"}, plan.LayerIDs); diff != "" {
		t.Errorf("layer IDs mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_TopLayerIgnoresBaseFiles(t *testing.T) {
	e := newEnv(t)
	base := e.layer("base", map[string]string{"docs/a.md": "a", "keep.md": "k"})
	top := e.layer("top", map[string]string{"layer.yaml": "ignore: ['docs']\n"})

	plan, err := e.build(&layers.Resolution{Layers: []*layers.Layer{base, top}})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	kinds := map[string]string{}
	for _, t := range plan.Tactics {
		kinds[t.RelPath()] = fmt.Sprintf("%T", t)
	}
	if kinds["docs/a.md"] != "*tactics.IgnoreTactic" || kinds["docs"] != "*tactics.IgnoreTactic" {
		t.Errorf("docs should be ignored: %v", kinds)
	}
	if kinds["keep.md"] != "*tactics.CopyTactic" {
		t.Errorf("keep.md should be copied: %v", kinds)
	}
}

func TestBuild_InterfacesAndBinds(t *testing.T) {
	e := newEnv(t)
	base := e.layer("base", map[string]string{"hooks/hook.template": template})
	top := e.layer("top", map[string]string{
		"metadata.yaml": `name: top
requires:
  db: {interface: mysql}
  cache: {interface: mysql}
provides:
  website: {interface: http}
`,
	})
	mysql := e.iface("mysql", map[string]string{"requires.py": ""})
	pgsql := e.iface("pgsql", map[string]string{"requires.py": ""})

	plan, err := e.build(&layers.Resolution{
		Layers:     []*layers.Layer{base, top},
		Interfaces: []*layers.Layer{mysql, pgsql},
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	var got []string
	for _, t := range plan.Tactics {
		switch t.(type) {
		case *tactics.InterfaceCopy, *tactics.HookBind:
			got = append(got, t.String())
		}
	}
	want := []string{
		"StandardHooks hook (layer:base)",
		"InterfaceCopy mysql (requires db)",
		"InterfaceCopy mysql (requires cache)",
		"InterfaceBind website (layer:base)",
		"InterfaceBind db (layer:base)",
		"InterfaceBind cache (layer:base)",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("bindings mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(e.logs.String(), "layer.yaml includes pgsql which isn't used in metadata.yaml") {
		t.Errorf("expected unused interface warning, got logs:\n%s", e.logs.String())
	}
	if diff := cmp.Diff([]string{"layer:base", "layer:top", "interface:mysql", "interface:pgsql"}, plan.LayerIDs); diff != "" {
		t.Errorf("layer IDs mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_StorageOwnedByDeclaringLayer(t *testing.T) {
	e := newEnv(t)
	base := e.layer("base", map[string]string{
		"hooks/hook.template": template,
		"metadata.yaml":       "name: base\nstorage:\n  data: {type: filesystem}\n",
	})
	top := e.layer("top", map[string]string{
		"metadata.yaml": "name: top\nstorage:\n  logs: {type: filesystem}\n",
	})

	plan, err := e.build(&layers.Resolution{Layers: []*layers.Layer{base, top}})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	var binds []string
	for _, t := range plan.Tactics {
		if b, ok := t.(*tactics.HookBind); ok && strings.HasPrefix(b.String(), "StorageBind") {
			binds = append(binds, b.String())
		}
	}
	sort.Strings(binds)
	want := []string{
		"StorageBind data (layer:base)",
		"StorageBind logs (layer:top)",
	}
	if diff := cmp.Diff(want, binds); diff != "" {
		t.Errorf("storage owners mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_BindingErrors(t *testing.T) {
	tests := []struct {
		name       string
		files      map[string]string
		interfaces bool
		wantErr    string
	}{
		{
			name:       "interfaces without metadata",
			files:      map[string]string{"hooks/hook.template": template},
			interfaces: true,
			wantErr:    "Includes interfaces but no metadata.yaml to bind them",
		},
		{
			name:    "relations without hook template",
			files:   map[string]string{"metadata.yaml": "name: x\nrequires:\n  db: {interface: mysql}\n"},
			wantErr: "At least one layer must provide hooks/hook.template",
		},
		{
			name:    "storage without hook template",
			files:   map[string]string{"metadata.yaml": "name: x\nstorage:\n  data: {type: block}\n"},
			wantErr: "At least one layer must provide hooks/hook.template",
		},
		{
			name:    "malformed metadata",
			files:   map[string]string{"metadata.yaml": "name: [x\n"},
			wantErr: "Ensure the YAML is valid",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			res := &layers.Resolution{Layers: []*layers.Layer{e.layer("top", tt.files)}}
			if tt.interfaces {
				res.Interfaces = []*layers.Layer{e.iface("mysql", nil)}
			}
			_, err := e.build(res)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !builderr.Is(err) {
				t.Errorf("expected a BuildError, got %T: %v", err, err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestBuild_WheelhouseOverrides(t *testing.T) {
	e := newEnv(t)
	base := e.layer("base", map[string]string{"wheelhouse.txt": "six\ncharmhelpers\n"})
	top := e.layer("top", nil)
	top.SetID("mycharm")
	overrides := filepath.Join(e.root, "overrides.txt")
	if err := os.WriteFile(overrides, []byte("six==1.15.0\n"), 0644); err != nil {
		t.Fatal(err)
	}

	plan, err := New(nil, e.target, e.logger).
		WithWheelhouseOverrides(overrides).
		Build(context.Background(), &layers.Resolution{Layers: []*layers.Layer{base, top}})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	var wh *tactics.WheelhouseTactic
	for _, t := range plan.Tactics {
		if w, ok := t.(*tactics.WheelhouseTactic); ok {
			wh = w
		}
	}
	if wh == nil {
		t.Fatal("no wheelhouse tactic planned")
	}
	e.target.Runner = execx.NewFakeRunner(nil)
	if err := wh.Call(context.Background()); err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	got, err := os.ReadFile(e.target.Path(tactics.WheelhouseFile))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"# layer:base",
		"# six  # overridden by mycharm",
		"charmhelpers",
		"",
		"# mycharm",
		"six==1.15.0",
		"",
	}
	if diff := cmp.Diff(strings.Join(want, "\n")+"\n", string(got)); diff != "" {
		t.Errorf("wheelhouse.txt mismatch (-want +got):\n%s", diff)
	}
}

func TestCompilePatterns(t *testing.T) {
	e := newEnv(t)
	l := e.layer("base", map[string]string{"layer.yaml": "exclude: ['docs']\n"})

	if err := compilePatterns(l, layerconfig.New().NewChildWith(nil)); err != nil {
		t.Fatalf("compilePatterns failed: %v", err)
	}
	bad := layerconfig.New().NewChildWith(map[string]any{"ignore": []any{"docs/["}})
	err := compilePatterns(l, bad)
	if !builderr.Is(err) || !strings.Contains(err.Error(), "docs/[") {
		t.Fatalf("expected BuildError naming the pattern, got %v", err)
	}
}

func TestBuild_UnknownCustomTactic(t *testing.T) {
	e := newEnv(t)
	top := e.layer("top", map[string]string{"layer.yaml": "tactics: ['layer.Missing']\n", "a.txt": "a"})
	_, err := e.build(&layers.Resolution{Layers: []*layers.Layer{top}})
	if err == nil || !strings.Contains(err.Error(), "layer.Missing") {
		t.Errorf("expected unknown tactic error, got %v", err)
	}
}

func TestBuild_NoLayers(t *testing.T) {
	e := newEnv(t)
	if _, err := e.build(&layers.Resolution{}); err == nil {
		t.Error("expected an error for an empty resolution")
	}
}

func TestOutputs_Provides(t *testing.T) {
	e := newEnv(t)
	l := e.layer("base", map[string]string{"hooks/install": ""})
	src := tactics.Source{Rel: "hooks/install", Layer: l, Target: e.target}

	out := newOutputs()
	out.set("hooks/install", &tactics.CopyTactic{Base: tactics.NewBase(src)})
	out.set("hooks/start", &tactics.IgnoreTactic{Base: tactics.NewBase(src)})
	out.set("hooks/install", &tactics.CopyTactic{Base: tactics.NewBase(src)})

	if !out.provides("hooks/install") {
		t.Error("copied hook should count as provided")
	}
	if out.provides("hooks/start") || out.provides("hooks/stop") {
		t.Error("ignored and missing hooks are not provided")
	}
	if diff := cmp.Diff([]string{"hooks/install", "hooks/start"}, out.order); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}
