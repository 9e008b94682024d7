package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/require"

	"github.com/danieljhkim/charmbuild/internal/builderr"
	"github.com/danieljhkim/charmbuild/internal/config"
	"github.com/danieljhkim/charmbuild/internal/manifest"
)

// resetFlags restores every package-level flag value, since rootCmd is
// shared between tests.
func resetFlags(t *testing.T) {
	t.Helper()
	logLevel, verbose, debug, jsonOutput = "info", false, false, false
	buildOutputDir, buildBuildDir, buildCacheDir, buildSeries, buildName = "", "", "", "", ""
	buildForce, buildReport = false, false
	buildWheelhouseOverrides, buildLayerIndex, buildBranch = "", "", ""
	buildNoLocalLayers = false
	layersAnnotate, layersForceColor = false, false
	withoutColor(t)
}

func withoutColor(t *testing.T) {
	t.Helper()
	old := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = old })
}

func runCLI(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	resetFlags(t)
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err = rootCmd.Execute()
	return out.String(), errOut.String(), err
}

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
}

// newCharm lays out a charm "webapp" including a local layer "basic" and
// returns the build arguments for it.
func newCharm(t *testing.T) (root string, args []string) {
	t.Helper()
	root = t.TempDir()
	writeFiles(t, filepath.Join(root, "layers", "basic"), map[string]string{
		"layer.yaml":  "defines:\n  packages:\n    type: array\n    default: []\n",
		"README.md":   "basic\n",
		"lib/core.py": "CORE = True\n",
	})
	charmDir := filepath.Join(root, "charm")
	writeFiles(t, charmDir, map[string]string{
		"layer.yaml":    "includes: ['layer:basic']\nrepo: https://example.com/webapp\n",
		"metadata.yaml": "name: webapp\nsummary: A web app\nseries: [jammy]\n",
		"README.md":     "webapp\n",
	})
	t.Setenv(config.EnvBuildDir, "")
	t.Setenv(config.EnvJujuRepository, "")
	t.Setenv(config.EnvLayersDir, filepath.Join(root, "layers"))
	t.Setenv(config.EnvInterfacesDir, filepath.Join(root, "interfaces"))

	return root, []string{
		"build", charmDir,
		"--build-dir", filepath.Join(root, "builds"),
		"--cache-dir", filepath.Join(root, "cache"),
		"--layer-index", "file://" + filepath.Join(root, "no-index") + "/",
	}
}

func TestBuildCommand(t *testing.T) {
	root, args := newCharm(t)

	stdout, stderr, err := runCLI(t, append(args, "--report")...)
	require.NoError(t, err, stderr)
	require.Contains(t, stdout, "Built webapp")
	require.Contains(t, stdout, "Build Report")
	require.Contains(t, stdout, "New build; all files were modified.")

	target := filepath.Join(root, "builds", "webapp")
	data, err := os.ReadFile(filepath.Join(target, "lib", "core.py"))
	require.NoError(t, err)
	require.Equal(t, "CORE = True\n", string(data))
	require.FileExists(t, filepath.Join(target, manifest.FileName))

	stdout, stderr, err = runCLI(t, append(args, "--json")...)
	require.NoError(t, err, stderr)
	var out buildOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	require.Equal(t, "webapp", out.Name)
	require.Equal(t, target, out.TargetDir)
	require.False(t, out.NewBuild)
	require.Empty(t, out.Added)
	require.Empty(t, out.Changed)
	require.Equal(t, []string{"layer:basic", "webapp"}, out.Layers)
}

func TestBuildCommand_Conflicts(t *testing.T) {
	root, args := newCharm(t)
	_, stderr, err := runCLI(t, args...)
	require.NoError(t, err, stderr)

	target := filepath.Join(root, "builds", "webapp")
	require.NoError(t, os.WriteFile(filepath.Join(target, "README.md"), []byte("edited\n"), 0644))

	_, stderr, err = runCLI(t, args...)
	require.ErrorIs(t, err, builderr.ErrModified)
	require.Contains(t, stderr, "Conflict: File in destination directory was modified after charm build: README.md")

	stdout, stderr, err := runCLI(t, append(args, "--force")...)
	require.NoError(t, err, stderr)
	require.Contains(t, stdout, "Overwrote 1 modified file")
}

func TestBuildCommand_Errors(t *testing.T) {
	_, args := newCharm(t)

	t.Run("unknown log level", func(t *testing.T) {
		_, _, err := runCLI(t, append(args, "--log-level", "loud")...)
		require.ErrorContains(t, err, "unknown log level")
	})

	t.Run("missing charm", func(t *testing.T) {
		missing := append([]string{"build", filepath.Join(t.TempDir(), "nope")}, args[2:]...)
		_, _, err := runCLI(t, missing...)
		require.Error(t, err)
		require.True(t, builderr.Is(err), "want a BuildError, got %v", err)
	})

	t.Run("bad charm name", func(t *testing.T) {
		_, _, err := runCLI(t, append(args, "--name", "Webapp")...)
		require.ErrorContains(t, err, "Charm name must start with a lower-case letter")
	})

	t.Run("too many arguments", func(t *testing.T) {
		_, _, err := runCLI(t, "build", "a", "b")
		require.Error(t, err)
	})
}

func TestLayersCommand(t *testing.T) {
	root, args := newCharm(t)
	_, stderr, err := runCLI(t, args...)
	require.NoError(t, err, stderr)

	target := filepath.Join(root, "builds", "webapp")
	require.NoError(t, os.WriteFile(filepath.Join(target, "README.md"), []byte("edited\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(target, "notes.txt"), []byte("todo\n"), 0644))

	stdout, stderr, err := runCLI(t, "layers", target, "--annotate")
	require.NoError(t, err, stderr)
	require.Contains(t, stdout, "Inspect webapp")
	require.Contains(t, stdout, "# webapp\n# layer:basic\n")
	require.Contains(t, stdout, "README.md * (from webapp)")
	require.Contains(t, stdout, "notes.txt +")
	require.Contains(t, stdout, "core.py (from layer:basic)")
	require.Contains(t, stdout, manifest.FileName+" (build artifact)")

	_, _, err = runCLI(t, "layers", filepath.Join(root, "charm"))
	require.Error(t, err, "an unbuilt charm has no manifest")
}
