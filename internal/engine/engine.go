// Package engine drives charm builds.
//
// The engine package acts as the orchestration layer between CLI commands and
// the lower-level build packages. It resolves the layers of a charm, asks the
// planner for a plan, executes the plan phase by phase and persists the
// manifest of the result.
//
// Key components:
//   - Engine: Main orchestrator that coordinates all operations
//   - Build: Validates the target, fetches layers, plans and executes
//   - Inspect: Reports which layer produced each file of a built charm
package engine

import (
	"github.com/hashicorp/go-hclog"

	"github.com/danieljhkim/charmbuild/internal/clock"
	"github.com/danieljhkim/charmbuild/internal/execx"
	"github.com/danieljhkim/charmbuild/internal/fetch"
	"github.com/danieljhkim/charmbuild/internal/fsops"
	"github.com/danieljhkim/charmbuild/internal/gitx"
	"github.com/danieljhkim/charmbuild/internal/hash"
	"github.com/danieljhkim/charmbuild/internal/tactics"
)

// Engine orchestrates charm builds.
// It is the main API surface called by the CLI.
type Engine struct {
	fs       fsops.FS
	hasher   hash.Hasher
	runner   execx.Runner
	gitRepo  gitx.GitRepo
	clock    clock.Clock
	registry *tactics.Registry
	logger   hclog.Logger

	// fetcher overrides the fetcher chain built from each request.
	fetcher fetch.Fetcher
}

// New creates a new Engine with the given dependencies. A nil registry
// holds only the default tactics; a nil logger discards everything.
func New(
	fs fsops.FS,
	hasher hash.Hasher,
	runner execx.Runner,
	gitRepo gitx.GitRepo,
	clk clock.Clock,
	registry *tactics.Registry,
	logger hclog.Logger,
) *Engine {
	if registry == nil {
		registry = tactics.NewRegistry()
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Engine{
		fs:       fs,
		hasher:   hasher,
		runner:   runner,
		gitRepo:  gitRepo,
		clock:    clk,
		registry: registry,
		logger:   logger,
	}
}

// WithFetcher makes every build resolve layers through f instead of the
// chain described by the request's fetch options.
func (e *Engine) WithFetcher(f fetch.Fetcher) *Engine {
	e.fetcher = f
	return e
}

func (e *Engine) fetcherFor(req *BuildRequest) fetch.Fetcher {
	if e.fetcher != nil {
		return e.fetcher
	}
	opts := req.Fetch
	if opts.Logger == nil {
		opts.Logger = e.logger.Named("fetch")
	}
	if req.Paths != nil {
		if opts.LayersDir == "" {
			opts.LayersDir = req.Paths.LayersDir
		}
		if opts.InterfacesDir == "" {
			opts.InterfacesDir = req.Paths.InterfacesDir
		}
		if len(opts.SearchPath) == 0 {
			opts.SearchPath = req.Paths.SearchPath
		}
	}
	return fetch.NewChain(opts)
}

// target returns the tactics target writing to dir with the engine's
// collaborators.
func (e *Engine) target(dir string) *tactics.Target {
	return &tactics.Target{
		Dir:    dir,
		FS:     e.fs,
		Hasher: e.hasher,
		Runner: e.runner,
		Git:    e.gitRepo,
		Logger: e.logger.Named("tactics"),
	}
}
