package engine

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/danieljhkim/charmbuild/internal/builderr"
	"github.com/danieljhkim/charmbuild/internal/layers"
	"github.com/danieljhkim/charmbuild/internal/manifest"
	"github.com/danieljhkim/charmbuild/internal/planner"
	"github.com/danieljhkim/charmbuild/internal/tactics"
)

// recordingTactic appends "<name>:<phase>" to a shared log.
type recordingTactic struct {
	name    string
	log     *[]string
	lintErr error
	callErr error
}

func (r *recordingTactic) record(phase string) { *r.log = append(*r.log, r.name+":"+phase) }

func (r *recordingTactic) String() string { return "Recording " + r.name }
func (r *recordingTactic) Kind() string { return manifest.KindStatic }
func (r *recordingTactic) RelPath() string { return r.name }
func (r *recordingTactic) Layer() *layers.Layer { return layers.New("layer:test", layers.NamespaceLayer) }
func (r *recordingTactic) Combine(tactics.Tactic) tactics.Tactic { return r }

func (r *recordingTactic) Lint(ctx context.Context) error {
	r.record(PhaseLint)
	return r.lintErr
}

func (r *recordingTactic) Read(ctx context.Context) error {
	r.record(PhaseRead)
	return nil
}

func (r *recordingTactic) Call(ctx context.Context) error {
	r.record(PhaseCall)
	return r.callErr
}

func (r *recordingTactic) Sign() (manifest.Signatures, error) {
	r.record(PhaseSign)
	return manifest.Signatures{r.name: {Layer: "layer:test", Kind: manifest.KindStatic, Digest: "d-" + r.name}}, nil
}

func (r *recordingTactic) Build(ctx context.Context) error {
	r.record(PhaseBuild)
	return nil
}

func newPlan(ts ...tactics.Tactic) *planner.Plan {
	plan := planner.NewPlan([]string{"layer:test"})
	for _, t := range ts {
		plan.Add(t)
	}
	return plan
}

func TestExecute_PhaseOrder(t *testing.T) {
	s := newScenario(t)
	var log []string
	a := &recordingTactic{name: "a", log: &log}
	b := &recordingTactic{name: "b", log: &log}

	sigs, err := s.engine.execute(context.Background(), newPlan(a, b), s.target(), false)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	want := []string{
		"a:lint", "b:lint",
		"a:read", "b:read",
		"a:call", "b:call",
		"a:sign", "b:sign",
		"a:build", "b:build",
	}
	if diff := cmp.Diff(want, log); diff != "" {
		t.Errorf("phase order mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a", "b"}, sigs.Paths()); diff != "" {
		t.Errorf("signatures mismatch (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(s.target()); err != nil {
		t.Errorf("target directory should be created, stat err = %v", err)
	}
}

func TestExecute_LintCollectsEveryFailure(t *testing.T) {
	s := newScenario(t)
	var log []string
	a := &recordingTactic{name: "a", log: &log, lintErr: errors.New("a is broken")}
	b := &recordingTactic{name: "b", log: &log, lintErr: errors.New("b is broken")}

	_, err := s.engine.execute(context.Background(), newPlan(a, b), s.target(), false)
	if !errors.Is(err, builderr.ErrLint) || !builderr.Is(err) {
		t.Fatalf("expected a lint BuildError, got %v", err)
	}
	for _, want := range []string{"a is broken", "b is broken"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q: %v", want, err)
		}
	}
	if diff := cmp.Diff([]string{"a:lint", "b:lint"}, log); diff != "" {
		t.Errorf("nothing should run after a failed lint (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(s.target()); !os.IsNotExist(err) {
		t.Errorf("target directory should not exist after a failed lint, stat err = %v", err)
	}
}

func TestExecute_ForceSkipsLintFailures(t *testing.T) {
	s := newScenario(t)
	var log []string
	a := &recordingTactic{name: "a", log: &log, lintErr: errors.New("a is broken")}

	if _, err := s.engine.execute(context.Background(), newPlan(a), s.target(), true); err != nil {
		t.Fatalf("forced execute failed: %v", err)
	}
	if len(log) != len(Phases) {
		t.Errorf("log = %v, want every phase to run", log)
	}
}

func TestExecute_CallErrors(t *testing.T) {
	s := newScenario(t)
	var log []string

	plain := &recordingTactic{name: "a", log: &log, callErr: errors.New("disk full")}
	_, err := s.engine.execute(context.Background(), newPlan(plain), s.target(), false)
	if err == nil || !strings.Contains(err.Error(), "call phase failed for Recording a: disk full") {
		t.Errorf("error = %v", err)
	}

	fatal := &recordingTactic{name: "b", log: &log, callErr: builderr.Newf("Missing hook template")}
	_, err = s.engine.execute(context.Background(), newPlan(fatal), s.target(), false)
	if err == nil || err.Error() != "Missing hook template" {
		t.Errorf("BuildErrors should pass through unchanged, got %v", err)
	}
}

func TestExecute_Cancelled(t *testing.T) {
	s := newScenario(t)
	var log []string
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.engine.execute(ctx, newPlan(&recordingTactic{name: "a", log: &log}), s.target(), false)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
