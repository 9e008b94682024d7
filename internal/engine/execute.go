package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/danieljhkim/charmbuild/internal/builderr"
	"github.com/danieljhkim/charmbuild/internal/manifest"
	"github.com/danieljhkim/charmbuild/internal/planner"
	"github.com/danieljhkim/charmbuild/internal/tactics"
)

// Execution phases, in order.
const (
	PhaseLint  = "lint"
	PhaseRead  = "read"
	PhaseCall  = "call"
	PhaseSign  = "sign"
	PhaseBuild = "build"
)

// Phases lists the execution phases in order.
var Phases = []string{PhaseLint, PhaseRead, PhaseCall, PhaseSign, PhaseBuild}

// execute runs every tactic of plan through each phase in turn and returns
// the merged signatures. Every tactic finishes a phase before any tactic
// starts the next one. targetDir is created once lint has passed.
func (e *Engine) execute(ctx context.Context, plan *planner.Plan, targetDir string, force bool) (manifest.Signatures, error) {
	if err := e.lint(ctx, plan, force); err != nil {
		return nil, err
	}
	if err := e.fs.MkdirAll(targetDir, 0755); err != nil {
		return nil, builderr.Wrap(err, "Unable to create required path: %s", targetDir)
	}

	sigs := manifest.Signatures{}
	for _, phase := range Phases[1:] {
		e.logger.Debug("running phase", "phase", phase, "tactics", plan.Len())
		for _, t := range plan.Tactics {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			var err error
			switch phase {
			case PhaseRead:
				err = t.Read(ctx)
			case PhaseCall:
				e.logger.Trace("calling", "tactic", t.String())
				err = t.Call(ctx)
			case PhaseSign:
				var s manifest.Signatures
				s, err = t.Sign()
				sigs.Merge(s)
			case PhaseBuild:
				err = t.Build(ctx)
			}
			if err != nil {
				return nil, phaseError(phase, t, err)
			}
		}
	}
	return sigs, nil
}

// lint collects the problems of every tactic. With force they are logged
// and the build continues.
func (e *Engine) lint(ctx context.Context, plan *planner.Plan, force bool) error {
	var result *multierror.Error
	for _, t := range plan.Tactics {
		if err := t.Lint(ctx); err != nil {
			e.logger.Error("lint failed", "tactic", t.String(), "error", err)
			result = multierror.Append(result, err)
		}
	}
	if result == nil {
		return nil
	}
	if force {
		e.logger.Warn("Continuing despite lint failures", "count", result.Len())
		return nil
	}
	result.ErrorFormat = lintFormat
	return &builderr.BuildError{Err: fmt.Errorf("%w:\n%s", builderr.ErrLint, result.Error())}
}

func lintFormat(errs []error) string {
	lines := make([]string, 0, len(errs))
	for _, err := range errs {
		lines = append(lines, "  * "+err.Error())
	}
	return strings.Join(lines, "\n")
}

func phaseError(phase string, t tactics.Tactic, err error) error {
	if builderr.Is(err) {
		return err
	}
	return fmt.Errorf("%s phase failed for %s: %w", phase, t, err)
}
