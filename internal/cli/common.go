package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hashicorp/go-hclog"

	"github.com/danieljhkim/charmbuild/internal/clock"
	"github.com/danieljhkim/charmbuild/internal/engine"
	"github.com/danieljhkim/charmbuild/internal/execx"
	"github.com/danieljhkim/charmbuild/internal/fsops"
	"github.com/danieljhkim/charmbuild/internal/gitx"
	"github.com/danieljhkim/charmbuild/internal/hash"
	"github.com/danieljhkim/charmbuild/internal/tactics"
)

// newLogger creates the root logger from the global logging flags.
func newLogger(w io.Writer) (hclog.Logger, error) {
	level := hclog.LevelFromString(logLevel)
	if level == hclog.NoLevel {
		return nil, fmt.Errorf("unknown log level %q", logLevel)
	}
	if verbose || debug {
		level = hclog.Debug
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:        "build",
		Level:       level,
		Output:      w,
		Color:       hclog.AutoColor,
		DisableTime: !debug,
	}), nil
}

// newEngine creates a new engine with real implementations of all dependencies.
func newEngine(logger hclog.Logger) *engine.Engine {
	runner := execx.NewRealRunner(logger.Named("exec"))
	return engine.New(
		fsops.NewRealFS(),
		hash.NewSHA256Hasher(),
		runner,
		gitx.NewRealGitRepo(runner),
		&clock.RealClock{},
		tactics.NewRegistry(),
		logger,
	)
}

// formatJSON formats a value as JSON.
func formatJSON(v interface{}) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// formatError formats an error for display.
func formatError(err error) string {
	return errorColor.Sprintf("Error: %v", err)
}

// outputJSON writes a value as indented JSON.
func outputJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
