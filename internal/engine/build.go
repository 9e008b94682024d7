package engine

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/danieljhkim/charmbuild/internal/builderr"
	"github.com/danieljhkim/charmbuild/internal/clock"
	"github.com/danieljhkim/charmbuild/internal/layers"
	"github.com/danieljhkim/charmbuild/internal/manifest"
	"github.com/danieljhkim/charmbuild/internal/planner"
	"github.com/danieljhkim/charmbuild/internal/yamldoc"
)

// Build builds the charm described by req.
//
// Algorithm steps:
// 1. Load the top layer and derive the charm name
// 2. Validate (repo key, series, conflicts in the target)
// 3. Resolve the included layers and interfaces
// 4. Plan and execute the plan
// 5. Compare the output with the previous manifest, removing stale files
// 6. Persist the new manifest
// 7. Return result
func (e *Engine) Build(ctx context.Context, req *BuildRequest) (*BuildResult, error) {
	if req == nil || req.Paths == nil {
		return nil, fmt.Errorf("%w: build paths are required", ErrValidation)
	}
	timer := clock.Start(e.clock)
	paths := req.Paths
	for _, w := range paths.Warnings {
		e.logger.Warn(w)
	}
	if err := paths.EnsureDirectories(); err != nil {
		return nil, err
	}
	defer e.cleanup(paths.CacheDir)

	charmDir := req.CharmDir
	if charmDir == "" {
		charmDir = paths.CharmDir
	}
	resolver := layers.NewResolver(e.fetcherFor(req), paths.CacheDir, e.logger.Named("layers")).
		WithTacticCheck(e.registry.Check)
	top, err := resolver.Top(charmDir)
	if err != nil {
		return nil, err
	}
	meta, err := charmMetadata(top)
	if err != nil {
		return nil, err
	}
	name, err := charmName(req.Name, meta, top.Dir)
	if err != nil {
		return nil, err
	}
	top.SetID(name)

	targetDir := paths.TargetDir(name)
	e.checkRepo(ctx, top)
	e.checkSeries(meta, req.Series)
	conflicts, err := e.checkConflicts(targetDir, req.Force)
	if err != nil {
		return nil, err
	}

	e.logger.Info("Destination charm directory", "dir", targetDir)

	res, err := resolver.Resolve(ctx, top)
	if err != nil {
		return nil, err
	}

	p := planner.New(e.registry, e.target(targetDir), e.logger.Named("planner"))
	if req.WheelhouseOverrides != "" {
		overrides, err := resolveUserPath(req.WheelhouseOverrides)
		if err != nil {
			return nil, err
		}
		p = p.WithWheelhouseOverrides(overrides)
	}
	plan, err := p.Build(ctx, res)
	if err != nil {
		return nil, err
	}

	sigs, err := e.execute(ctx, plan, targetDir, req.Force)
	if err != nil {
		return nil, err
	}

	result := &BuildResult{
		Name:      name,
		TargetDir: targetDir,
		Conflicts: conflicts,
		Layers:    plan.LayerIDs,
		Plan:      plan,
	}

	manifestPath := filepath.Join(targetDir, manifest.FileName)
	old, err := manifest.LoadIfExists(manifestPath)
	if err != nil {
		return nil, err
	}
	if old == nil {
		result.NewBuild = true
	} else {
		delta, err := manifest.Compare(old, targetDir, e.hasher, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to compare %s with its manifest: %w", targetDir, err)
		}
		result.Added, result.Changed = delta.Added, delta.Changed
		result.Removed, err = manifest.Prune(e.fs, targetDir, old, sigs)
		if err != nil {
			return nil, fmt.Errorf("failed to remove stale files: %w", err)
		}
	}

	if err := manifest.New(sigs, plan.LayerIDs).Save(e.fs, manifestPath); err != nil {
		return nil, err
	}

	result.Duration = timer.Elapsed()
	e.logger.Debug("build finished", "charm", name, "files", len(sigs), "duration", result.Duration)
	return result, nil
}

// checkRepo warns when the top layer does not say where it can be cloned
// from.
func (e *Engine) checkRepo(ctx context.Context, top *layers.Layer) {
	if _, ok := top.MustConfig().Get("repo"); ok {
		return
	}
	msg := fmt.Sprintf("Please add a `repo` key to your %s", filepath.Base(top.ConfigFile()))
	if repo := e.gitRepo.RecommendedRepo(ctx, top.Dir); repo != "" {
		msg += ", e.g. repo: " + repo
	} else {
		msg += ", with a url from which your layer can be cloned."
	}
	e.logger.Warn(msg)
}

// checkSeries warns about charms that rely on a build series instead of
// declaring their series.
func (e *Engine) checkSeries(meta *yamldoc.Document, series string) {
	if meta != nil && len(meta.GetStrings("series")) > 0 {
		return
	}
	if series != "" {
		e.logger.Warn("DEPRECATED: use of --series flag; specify series in metadata.yaml instead")
		return
	}
	e.logger.Warn("DEPRECATED: implicit series; specify series in metadata.yaml instead")
}

// checkConflicts reports files changed in the target since the previous
// build. They are fatal unless forced.
func (e *Engine) checkConflicts(targetDir string, force bool) ([]planner.Conflict, error) {
	conflicts, err := planner.NewConflictChecker(e.hasher).Check(targetDir)
	if err != nil {
		return nil, builderr.Wrap(err, "Unable to read the previous build of %s", targetDir)
	}
	if len(conflicts) == 0 {
		return nil, nil
	}
	for _, c := range conflicts {
		e.logger.Warn("Conflict: " + c.String())
	}
	if !force {
		return conflicts, builderr.Wrap(builderr.ErrModified, "Unable to continue due to unexpected modifications (try --force)")
	}
	e.logger.Info("Continuing with known changes to target layer. Changes will be overwritten")
	return conflicts, nil
}

func (e *Engine) cleanup(cacheDir string) {
	e.logger.Debug("cleaning up", "dir", cacheDir)
	if err := e.fs.RemoveAll(cacheDir); err != nil {
		e.logger.Warn("failed to remove cache directory", "dir", cacheDir, "error", err)
	}
}
