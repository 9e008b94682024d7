package planner

import (
	"github.com/danieljhkim/charmbuild/internal/tactics"
)

// Plan is the ordered work of one build.
type Plan struct {
	// Tactics run in this order in every phase.
	Tactics []tactics.Tactic

	// LayerIDs are recorded in the manifest: layers base first, then
	// interface:<name> entries.
	LayerIDs []string
}

// NewPlan creates an empty Plan.
func NewPlan(layerIDs []string) *Plan {
	return &Plan{
		Tactics:  []tactics.Tactic{},
		LayerIDs: append([]string(nil), layerIDs...),
	}
}

// Add appends a tactic to the plan.
func (p *Plan) Add(t tactics.Tactic) {
	p.Tactics = append(p.Tactics, t)
}

// Len returns the number of tactics.
func (p *Plan) Len() int {
	return len(p.Tactics)
}

// outputs maps entry paths to their tactics, remembering the order paths
// were first seen.
type outputs struct {
	order  []string
	byPath map[string]tactics.Tactic
}

func newOutputs() *outputs {
	return &outputs{byPath: make(map[string]tactics.Tactic)}
}

func (o *outputs) get(rel string) (tactics.Tactic, bool) {
	t, ok := o.byPath[rel]
	return t, ok
}

func (o *outputs) set(rel string, t tactics.Tactic) {
	if _, ok := o.byPath[rel]; !ok {
		o.order = append(o.order, rel)
	}
	o.byPath[rel] = t
}

// provides reports whether some layer supplies rel itself.
func (o *outputs) provides(rel string) bool {
	t, ok := o.byPath[rel]
	if !ok {
		return false
	}
	switch t.(type) {
	case *tactics.IgnoreTactic, *tactics.ExcludeTactic:
		return false
	}
	return true
}

func (o *outputs) all() []tactics.Tactic {
	out := make([]tactics.Tactic, 0, len(o.order))
	for _, rel := range o.order {
		out = append(out, o.byPath[rel])
	}
	return out
}
