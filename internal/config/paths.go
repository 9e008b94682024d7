// Package config manages charm-build configuration and filesystem paths.
//
// Paths are derived from command-line flags first and the environment
// second. The build directory receives finished charms; the cache directory
// holds fetched layers and interfaces for the duration of one build.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Environment variables honored by charm-build.
const (
	EnvBuildDir       = "CHARM_BUILD_DIR"
	EnvJujuRepository = "JUJU_REPOSITORY"
	EnvCacheDir       = "CHARM_CACHE_DIR"
	EnvLayersDir      = "CHARM_LAYERS_DIR"
	EnvInterfacesDir  = "CHARM_INTERFACES_DIR"

	// Legacy aliases of EnvLayersDir and EnvInterfacesDir.
	EnvLayerPath     = "LAYER_PATH"
	EnvInterfacePath = "INTERFACE_PATH"
)

// DefaultBuildDir is used when neither flags nor the environment name one.
const DefaultBuildDir = "/tmp/charm-builds"

// EnvVars documents every honored variable, for help output.
var EnvVars = [][2]string{
	{EnvBuildDir, "Directory under which built charms are placed"},
	{EnvJujuRepository, "Build dir parent when CHARM_BUILD_DIR is unset; default local layer search path"},
	{EnvCacheDir, "Directory to cache build dependencies (default: ~/.cache/charm)"},
	{EnvLayersDir, "Directory searched for local layers"},
	{EnvInterfacesDir, "Directory searched for local interfaces"},
	{EnvLayerPath, "Deprecated: alias of CHARM_LAYERS_DIR"},
	{EnvInterfacePath, "Deprecated: alias of CHARM_INTERFACES_DIR"},
}

// Options are the flag values that influence path selection.
type Options struct {
	// CharmDir is the source directory of the top layer.
	CharmDir string

	// OutputDir is an alias for BuildDir that adds the series component.
	OutputDir string

	// BuildDir places built charms directly under it.
	BuildDir string

	// CacheDir overrides CHARM_CACHE_DIR.
	CacheDir string

	// Series is appended to OutputDir and JUJU_REPOSITORY ("builds" if empty).
	Series string

	// PID names the per-process cache directory. Defaults to os.Getpid().
	PID int
}

// Paths contains all the filesystem paths used by a build.
type Paths struct {
	// CharmDir is the absolute source directory of the top layer.
	CharmDir string

	// BuildDir is the directory under which the charm is written.
	BuildDir string

	// CacheDir is the per-process dependency cache.
	CacheDir string

	// LayersDir and InterfacesDir are searched for local layers and
	// interfaces. Both fall back to JUJU_REPOSITORY, then ".".
	LayersDir     string
	InterfacesDir string

	// SearchPath holds the directories plain layer paths are resolved in:
	// the working directory, JUJU_REPOSITORY, then LAYER_PATH entries.
	SearchPath []string

	// Warnings collects non-fatal notices (deprecations, defaults).
	Warnings []string
}

// Getenv looks up an environment variable.
type Getenv func(key string) string

// Resolve derives build paths from opts and the environment.
// A nil getenv reads the process environment.
func Resolve(opts Options, getenv Getenv) (*Paths, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if opts.CharmDir == "" {
		opts.CharmDir = "."
	}
	charmDir, err := filepath.Abs(opts.CharmDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve charm directory: %w", err)
	}

	p := &Paths{CharmDir: charmDir}

	if err := p.resolveBuildDir(opts, getenv); err != nil {
		return nil, err
	}
	if err := p.resolveCacheDir(opts, getenv); err != nil {
		return nil, err
	}
	p.resolveSearchPaths(getenv)
	return p, nil
}

func (p *Paths) resolveBuildDir(opts Options, getenv Getenv) error {
	series := opts.Series
	if series == "" {
		series = "builds"
	}

	buildDir := opts.BuildDir
	switch {
	case buildDir != "":
	case opts.OutputDir != "":
		buildDir = filepath.Join(opts.OutputDir, series)
	case getenv(EnvBuildDir) != "":
		buildDir = getenv(EnvBuildDir)
	case getenv(EnvJujuRepository) != "":
		buildDir = filepath.Join(getenv(EnvJujuRepository), series)
	default:
		p.Warnings = append(p.Warnings, "Build dir not specified via command-line or environment; defaulting to "+DefaultBuildDir)
		buildDir = DefaultBuildDir
	}

	abs, err := filepath.Abs(buildDir)
	if err != nil {
		return fmt.Errorf("failed to resolve build directory: %w", err)
	}
	if IsNested(abs, p.CharmDir) {
		return fmt.Errorf("build directory nested under source directory; this would recursively nest build artifacts, specify a different one with --build-dir or $%s", EnvBuildDir)
	}
	p.BuildDir = abs
	return nil
}

func (p *Paths) resolveCacheDir(opts Options, getenv Getenv) error {
	cacheDir := opts.CacheDir
	if cacheDir == "" {
		cacheDir = getenv(EnvCacheDir)
	}
	if cacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get user home directory: %w", err)
		}
		cacheDir = filepath.Join(home, ".cache", "charm")
	}

	pid := opts.PID
	if pid == 0 {
		pid = os.Getpid()
	}
	abs, err := filepath.Abs(cacheDir)
	if err != nil {
		return fmt.Errorf("failed to resolve cache directory: %w", err)
	}
	abs = filepath.Join(abs, fmt.Sprint(pid))
	if IsNested(abs, p.CharmDir) {
		return fmt.Errorf("cache directory nested under source directory; this would recursively nest build artifacts, specify a different one with --cache-dir or $%s", EnvCacheDir)
	}
	p.CacheDir = abs
	return nil
}

func (p *Paths) resolveSearchPaths(getenv Getenv) {
	repo := getenv(EnvJujuRepository)
	if repo == "" {
		repo = "."
	}

	p.LayersDir = p.preferred(getenv, EnvLayersDir, EnvLayerPath, repo)
	p.InterfacesDir = p.preferred(getenv, EnvInterfacesDir, EnvInterfacePath, repo)

	if wd, err := os.Getwd(); err == nil {
		p.SearchPath = append(p.SearchPath, wd)
	}
	p.SearchPath = append(p.SearchPath, repo)
	if lp := getenv(EnvLayerPath); lp != "" {
		for _, part := range strings.Split(lp, string(os.PathListSeparator)) {
			if part != "" {
				p.SearchPath = append(p.SearchPath, part)
			}
		}
	}
}

// preferred returns the current variable, else the legacy one (with a
// deprecation warning), else fallback.
func (p *Paths) preferred(getenv Getenv, current, legacy, fallback string) string {
	if v := getenv(current); v != "" {
		return v
	}
	if v := getenv(legacy); v != "" {
		p.Warnings = append(p.Warnings, fmt.Sprintf("DEPRECATED: %s environment variable; please use %s instead", legacy, current))
		return v
	}
	return fallback
}

// TargetDir returns the output directory for a charm named name.
func (p *Paths) TargetDir(name string) string {
	return filepath.Join(p.BuildDir, name)
}

// EnsureDirectories creates the build and cache directories.
func (p *Paths) EnsureDirectories() error {
	for _, dir := range []string{p.BuildDir, p.CacheDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// IsNested reports whether path is parent or lies below it.
func IsNested(path, parent string) bool {
	rel, err := filepath.Rel(parent, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
