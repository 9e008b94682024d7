package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/danieljhkim/charmbuild/internal/config"
	"github.com/danieljhkim/charmbuild/internal/engine"
	"github.com/danieljhkim/charmbuild/internal/fetch"
)

var (
	buildOutputDir           string
	buildBuildDir            string
	buildCacheDir            string
	buildSeries              string
	buildName                string
	buildForce               bool
	buildReport              bool
	buildWheelhouseOverrides string
	buildLayerIndex          string
	buildBranch              string
	buildNoLocalLayers       bool
)

var buildCmd = &cobra.Command{
	Use:   "build [charm]",
	Short: "Build a charm from its top layer",
	Long: `Build a charm from the top layer in the given directory (default ".").

The layers and interfaces named in layer.yaml are fetched from the local
layer directories, the layer index or a remote source, merged base first,
and written to <build-dir>/<charm name>.

Files in the output that were edited since the previous build stop the
build unless --force is given.`,
	Example: `  charm-build build
  charm-build build ./my-charm --build-dir /tmp/charms --report
  charm-build build -i https://index.example.com/,DEFAULT --branch stable`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBuild,
}

func init() {
	f := buildCmd.Flags()
	f.StringVarP(&buildOutputDir, "output-dir", "o", "", "Same as --build-dir, but with <series or \"builds\"> appended")
	f.StringVarP(&buildBuildDir, "build-dir", "d", "", "Directory under which to place built charms (default $"+config.EnvBuildDir+")")
	f.StringVarP(&buildCacheDir, "cache-dir", "C", "", "Directory to cache build dependencies (default $"+config.EnvCacheDir+")")
	f.StringVarP(&buildSeries, "series", "s", "", "Deprecated: specify series in metadata.yaml instead")
	f.StringVarP(&buildName, "name", "n", "", "Build a charm of this name instead of the one in metadata.yaml")
	f.BoolVarP(&buildForce, "force", "f", false, "Continue despite lint failures or modified files in the output")
	f.BoolVarP(&buildReport, "report", "r", false, "Show a report of added, changed and removed files")
	f.StringVarP(&buildWheelhouseOverrides, "wheelhouse-overrides", "w", "", "Wheelhouse file whose entries override the layers' wheelhouses")
	f.StringVarP(&buildLayerIndex, "layer-index", "i", "", "Comma-separated list of layer index URLs (DEFAULT names the public index)")
	f.StringVar(&buildBranch, "branch", "", "Branch or revision to fetch layers from, overriding the index")
	f.BoolVar(&buildNoLocalLayers, "no-local-layers", false, "Do not use local copies of layers or interfaces")
}

// buildOutput is the JSON form of a build result.
type buildOutput struct {
	Name      string   `json:"name"`
	TargetDir string   `json:"target_dir"`
	NewBuild  bool     `json:"new_build"`
	Added     []string `json:"added"`
	Changed   []string `json:"changed"`
	Removed   []string `json:"removed"`
	Conflicts []string `json:"conflicts,omitempty"`
	Layers    []string `json:"layers"`
	Duration  string   `json:"duration"`
}

func runBuild(cmd *cobra.Command, args []string) error {
	charmDir := "."
	if len(args) == 1 {
		charmDir = args[0]
	}

	logger, err := newLogger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	paths, err := config.Resolve(config.Options{
		CharmDir:  charmDir,
		OutputDir: buildOutputDir,
		BuildDir:  buildBuildDir,
		CacheDir:  buildCacheDir,
		Series:    buildSeries,
	}, nil)
	if err != nil {
		return err
	}

	req := &engine.BuildRequest{
		Paths:               paths,
		Name:                buildName,
		Series:              buildSeries,
		Force:               buildForce,
		WheelhouseOverrides: buildWheelhouseOverrides,
		Fetch: fetch.Options{
			LayerIndexes:  fetch.ParseIndexes(buildLayerIndex),
			Branch:        buildBranch,
			NoLocalLayers: buildNoLocalLayers,
		},
	}

	result, err := newEngine(logger).Build(cmd.Context(), req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return outputJSON(out, newBuildOutput(result))
	}
	printBuildResult(out, result, buildReport)
	return nil
}

func newBuildOutput(r *engine.BuildResult) buildOutput {
	o := buildOutput{
		Name:      r.Name,
		TargetDir: r.TargetDir,
		NewBuild:  r.NewBuild,
		Added:     nonNil(r.Added),
		Changed:   nonNil(r.Changed),
		Removed:   nonNil(r.Removed),
		Layers:    r.Layers,
		Duration:  r.Duration.Round(time.Millisecond).String(),
	}
	for _, c := range r.Conflicts {
		o.Conflicts = append(o.Conflicts, c.String())
	}
	return o
}

func printBuildResult(w io.Writer, r *engine.BuildResult, report bool) {
	PrintSuccess(w, fmt.Sprintf("Built %s in %s", r.Name, r.Duration.Round(time.Millisecond)))
	PrintLabelValue(w, "Output", r.TargetDir)
	PrintLabelValue(w, "Layers", strings.Join(r.Layers, ", "))
	if len(r.Conflicts) > 0 {
		PrintWarning(w, fmt.Sprintf("Overwrote %s", PrintCount(len(r.Conflicts), "modified file", "modified files")))
	}

	if !report {
		return
	}
	PrintSection(w, "Build Report")
	for _, line := range r.Report() {
		PrintInfo(w, line)
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
