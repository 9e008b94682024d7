// Package gitx answers the few questions a build asks of the charm's
// version control checkout: where it can be cloned from and which
// revision it is at.
package gitx

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/danieljhkim/charmbuild/internal/execx"
)

// GitRepo provides an abstraction for git repository operations.
type GitRepo interface {
	// Discover finds the git repository root starting from dir.
	Discover(dir string) (root string, err error)

	// RecommendedRepo returns the URL the checkout at dir can be cloned
	// from, preferring an "upstream" remote over "origin". It returns ""
	// when dir is not a checkout or has no remotes.
	RecommendedRepo(ctx context.Context, dir string) string

	// Describe returns `git describe --dirty --always` for dir.
	Describe(ctx context.Context, dir string) (string, error)
}

// RealGitRepo implements GitRepo by running git.
type RealGitRepo struct {
	runner execx.Runner
}

// NewRealGitRepo creates a new RealGitRepo.
func NewRealGitRepo(runner execx.Runner) *RealGitRepo {
	return &RealGitRepo{runner: runner}
}

// Discover finds the git repository root by walking up from dir looking for .git.
func (g *RealGitRepo) Discover(dir string) (string, error) {
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	current := absPath
	for {
		gitDir := filepath.Join(current, ".git")
		if info, err := os.Stat(gitDir); err == nil {
			// .git can be a directory or a file (for worktrees/submodules)
			if info.IsDir() || info.Mode().IsRegular() {
				return current, nil
			}
		}

		parent := filepath.Dir(current)
		if parent == current {
			return "", fmt.Errorf("not in a git repository")
		}
		current = parent
	}
}

// RecommendedRepo parses `git remote -v` in dir.
func (g *RealGitRepo) RecommendedRepo(ctx context.Context, dir string) string {
	out, err := g.runner.Run(ctx, execx.Command{Name: "git", Args: []string{"remote", "-v"}, Dir: dir})
	if err != nil {
		return ""
	}
	return parseRemotes(string(out))
}

// Describe runs git describe in dir.
func (g *RealGitRepo) Describe(ctx context.Context, dir string) (string, error) {
	out, err := g.runner.Run(ctx, execx.Command{
		Name: "git",
		Args: []string{"describe", "--dirty", "--always"},
		Dir:  dir,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

var remoteLine = regexp.MustCompile(`(\S+)\s+(\S+)\s+\(([^)]+)\)`)

// parseRemotes picks a fetch URL from `git remote -v` output: upstream,
// then origin, then the first remote by name.
func parseRemotes(out string) string {
	urls := map[string]string{}
	for _, line := range strings.Split(out, "\n") {
		m := remoteLine.FindStringSubmatch(line)
		if m == nil || m[3] != "fetch" {
			continue
		}
		if m[1] == "upstream" {
			return m[2]
		}
		urls[m[1]] = m[2]
	}
	if url, ok := urls["origin"]; ok {
		return url
	}
	names := make([]string, 0, len(urls))
	for name := range urls {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) > 0 {
		return urls[names[0]]
	}
	return ""
}

// FakeGitRepo implements GitRepo with predetermined values for testing.
type FakeGitRepo struct {
	Root     string
	Repo     string
	Revision string
	Err      error
}

// NewFakeGitRepo creates a new FakeGitRepo.
func NewFakeGitRepo(root, repo, revision string) *FakeGitRepo {
	return &FakeGitRepo{Root: root, Repo: repo, Revision: revision}
}

// Discover returns the predetermined root.
func (g *FakeGitRepo) Discover(dir string) (string, error) {
	if g.Err != nil {
		return "", g.Err
	}
	return g.Root, nil
}

// RecommendedRepo returns the predetermined repo URL.
func (g *FakeGitRepo) RecommendedRepo(ctx context.Context, dir string) string {
	return g.Repo
}

// Describe returns the predetermined revision.
func (g *FakeGitRepo) Describe(ctx context.Context, dir string) (string, error) {
	if g.Err != nil {
		return "", g.Err
	}
	return g.Revision, nil
}
