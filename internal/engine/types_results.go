package engine

import (
	"time"

	"github.com/danieljhkim/charmbuild/internal/planner"
)

// BuildResult represents the result of a charm build.
type BuildResult struct {
	// Name is the charm name
	Name string

	// TargetDir is the directory the charm was written to
	TargetDir string

	// NewBuild is true when the target had no manifest before this build
	NewBuild bool

	// Added, Changed and Removed compare the output with the previous build
	Added   []string
	Changed []string
	Removed []string

	// Conflicts were found in the target before building (only with Force)
	Conflicts []planner.Conflict

	// Layers lists the layer IDs, base first, then interfaces
	Layers []string

	// Plan is the executed plan
	Plan *planner.Plan

	// Duration is the wall time of the build
	Duration time.Duration
}

// Report returns the lines of the post-build report.
func (r *BuildResult) Report() []string {
	if r.NewBuild {
		return []string{"New build; all files were modified."}
	}
	var lines []string
	for _, group := range []struct {
		sigil string
		paths []string
	}{
		{"+", r.Added},
		{" ", r.Changed},
		{"-", r.Removed},
	} {
		for _, p := range group.paths {
			lines = append(lines, " "+group.sigil+" "+p)
		}
	}
	if len(lines) == 0 {
		return []string{"No new changes; no files were modified."}
	}
	return lines
}

// Entry statuses reported by Inspect.
const (
	StatusAdded   = "+"
	StatusChanged = "*"
)

// InspectEntry is one file or directory of a built charm.
type InspectEntry struct {
	// Rel is the slash-separated path below the charm directory
	Rel string `json:"rel"`

	// Depth is the number of directories above the entry
	Depth int `json:"depth"`

	IsDir bool `json:"is_dir"`

	// Layer is the layer ID recorded in the manifest, empty if unrecorded
	Layer string `json:"layer,omitempty"`

	// Status is StatusAdded, StatusChanged or empty
	Status string `json:"status,omitempty"`
}

// InspectResult represents the layer breakdown of a built charm.
type InspectResult struct {
	// Dir is the charm directory
	Dir string `json:"dir"`

	// Is is the charm's own layer, from its layer.yaml
	Is string `json:"is"`

	// Layers is the legend order: top layer first, interfaces last
	Layers []string `json:"layers"`

	// Entries are in tree order, parents before their children
	Entries []InspectEntry `json:"entries"`
}

// LayerIndex returns the legend position of id, or -1 for build artifacts
// and unknown layers.
func (r *InspectResult) LayerIndex(id string) int {
	for i, l := range r.Layers {
		if l == id {
			return i
		}
	}
	return -1
}
