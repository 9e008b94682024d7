package engine

import (
	"github.com/danieljhkim/charmbuild/internal/config"
	"github.com/danieljhkim/charmbuild/internal/fetch"
)

// BuildRequest represents a request to build a charm.
type BuildRequest struct {
	// CharmDir is the source directory of the charm (the top layer)
	CharmDir string

	// Paths are the resolved build, cache and layer directories
	Paths *config.Paths

	// Name overrides the charm name
	Name string

	// Series is the deprecated --series flag
	Series string

	// Force continues past conflicts and lint failures
	Force bool

	// WheelhouseOverrides is an optional wheelhouse.txt applied last
	WheelhouseOverrides string

	// Fetch configures the fetcher chain; empty directories default to Paths
	Fetch fetch.Options
}

// InspectRequest represents a request to inspect a built charm.
type InspectRequest struct {
	// Dir is the built charm's directory
	Dir string
}
