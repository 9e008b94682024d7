// Package planner handles the planning phase of a charm build.
//
// The planner walks every resolved layer, base first, and asks the tactic
// registry which tactic owns each entry. A path seen again in a higher
// layer is combined with the tactic already planned for it, so exactly one
// tactic survives per output path. Bindings computed from the merged
// metadata follow the file tactics.
//
// Key responsibilities:
//   - Generate a Plan with tactics in deterministic, first-seen order
//   - Thread the current and next-layer config chains through selection
//   - Bind standard hooks, relation endpoints and storage to the hook template
//   - Detect output files edited since the previous build
package planner
