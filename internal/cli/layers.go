package cli

import (
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/danieljhkim/charmbuild/internal/engine"
	"github.com/danieljhkim/charmbuild/internal/manifest"
)

var (
	layersAnnotate   bool
	layersForceColor bool
)

// layerTheme colors the layers of a charm, top layer first. Layers beyond
// the theme reuse it from the start.
var layerTheme = []*color.Color{
	color.New(color.FgHiWhite, color.Bold),
	color.New(color.FgGreen),
	color.New(color.FgCyan),
	color.New(color.FgMagenta),
	color.New(color.FgYellow),
	color.New(color.FgRed),
	color.New(color.FgBlue),
	color.New(color.FgHiGreen),
	color.New(color.FgHiCyan),
	color.New(color.FgHiMagenta),
	color.New(color.FgHiYellow),
	color.New(color.FgHiRed),
}

var layersCmd = &cobra.Command{
	Use:   "layers [charm]",
	Short: "Show the layer each file of a built charm came from",
	Long: `Show the files of a built charm as a tree, colored by the layer that
produced them.

Files added since the build are marked with "+" and files changed since the
build with "*". Without color, or with --annotate, each file is followed by
the name of its layer.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLayers,
}

func init() {
	layersCmd.Flags().BoolVarP(&layersAnnotate, "annotate", "a", false, "Name the owning layer after each file")
	layersCmd.Flags().BoolVarP(&layersForceColor, "force-color", "c", false, "Color the output even when it is not a terminal")
}

func runLayers(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}
	if layersForceColor {
		color.NoColor = false
	}

	logger, err := newLogger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	result, err := newEngine(logger).Inspect(&engine.InspectRequest{Dir: dir})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return outputJSON(out, result)
	}
	renderLayers(out, result, layersAnnotate || color.NoColor)
	return nil
}

// renderLayers prints the legend followed by the file tree.
func renderLayers(w io.Writer, r *engine.InspectResult, annotate bool) {
	_, _ = fmt.Fprintf(w, "Inspect %s\n\n", r.Is)
	for i, id := range r.Layers {
		_, _ = layerColor(i).Fprintf(w, "# %s\n", id)
	}
	_, _ = fmt.Fprintf(w, "\n%s\n", r.Dir)

	for i, e := range r.Entries {
		var line strings.Builder
		line.WriteString(treePrefix(r.Entries, i))
		line.WriteString(layerColor(r.LayerIndex(e.Layer)).Sprint(path.Base(e.Rel)))
		if e.Status != "" {
			line.WriteString(" " + e.Status)
		}
		if note := annotation(e.Layer); annotate && note != "" {
			line.WriteString(" " + note)
		}
		_, _ = fmt.Fprintln(w, line.String())
	}
}

// layerColor returns the color of the legend entry at index i; -1 is
// used for files no layer owns.
func layerColor(i int) *color.Color {
	if i < 0 {
		return dimColor
	}
	return layerTheme[i%len(layerTheme)]
}

func annotation(layer string) string {
	switch layer {
	case "":
		return ""
	case manifest.BuildLayer:
		return "(build artifact)"
	default:
		return "(from " + layer + ")"
	}
}

// treePrefix draws the guides in front of entry i.
func treePrefix(entries []engine.InspectEntry, i int) string {
	depth := entries[i].Depth
	var b strings.Builder
	for level := 0; level < depth; level++ {
		if hasNextSibling(entries, i, level) {
			b.WriteString(" │    ")
		} else {
			b.WriteString("      ")
		}
	}
	if hasNextSibling(entries, i, depth) {
		b.WriteString(" ├─── ")
	} else {
		b.WriteString(" └─── ")
	}
	return b.String()
}

// hasNextSibling reports whether another entry at depth follows entry i
// before the walk leaves the directory that holds it.
func hasNextSibling(entries []engine.InspectEntry, i, depth int) bool {
	for _, e := range entries[i+1:] {
		if e.Depth < depth {
			return false
		}
		if e.Depth == depth {
			return true
		}
	}
	return false
}
