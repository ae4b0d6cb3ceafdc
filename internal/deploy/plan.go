package deploy

import (
	"fmt"
	"slices"
	"strings"

	"azwebvm/internal/graph"
	"azwebvm/internal/resource"
	"azwebvm/internal/state"
)

// StepOp is what the engine does with one resource.
type StepOp string

const (
	OpSame    StepOp = "same"
	OpCreate  StepOp = "create"
	OpUpdate  StepOp = "update"
	OpReplace StepOp = "replace"
	OpDelete  StepOp = "delete"
)

// Step is one planned resource operation. Old is nil for creates, New is nil
// for deletes.
type Step struct {
	Name string
	Kind resource.Kind
	Op   StepOp
	Old  *resource.State
	New  resource.Args
	// Diff renders changed attributes of updates and replacements.
	Diff string
	// Cause names the replaced dependency that forced this replacement.
	Cause string
}

// Plan lists deletes in teardown order followed by the declared resources in
// dependency order.
type Plan struct {
	Steps []Step
}

// Count returns how many steps carry op.
func (p *Plan) Count(op StepOp) int {
	n := 0
	for _, s := range p.Steps {
		if s.Op == op {
			n++
		}
	}
	return n
}

// Step returns the step of the named resource. A replaced resource is
// reported once, with OpReplace.
func (p *Plan) Step(name string) (Step, bool) {
	for _, s := range p.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return Step{}, false
}

// HasChanges reports whether applying the plan would call the provider.
func (p *Plan) HasChanges() bool {
	return slices.ContainsFunc(p.Steps, func(s Step) bool { return s.Op != OpSame })
}

// Summary is a one-line count of the planned operations.
func (p *Plan) Summary() string {
	var parts []string
	for _, op := range []StepOp{OpCreate, OpUpdate, OpReplace, OpDelete, OpSame} {
		if n := p.Count(op); n > 0 {
			parts = append(parts, fmt.Sprintf("%d to %s", n, op))
		}
	}
	if len(parts) == 0 {
		return "no resources"
	}
	return strings.Join(parts, ", ")
}

// snapshotGraph rebuilds the dependency graph of the recorded resources.
// Dependencies that are no longer recorded are dropped.
func snapshotGraph(snap *state.Snapshot) (*graph.Graph[*resource.State], error) {
	states := snap.List()
	recorded := make(map[string]bool, len(states))
	for _, st := range states {
		recorded[st.Name] = true
	}
	g := graph.New[*resource.State]()
	for _, st := range states {
		deps := slices.DeleteFunc(slices.Clone(st.Dependencies), func(d string) bool { return !recorded[d] })
		if _, err := g.AddUnchecked(st.Name, st, deps...); err != nil {
			return nil, err
		}
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("recorded state is inconsistent: %w", err)
	}
	return g, nil
}

// plan diffs the declared resources against the snapshot.
func plan(declared *graph.Graph[*Resource], prior *graph.Graph[*resource.State]) (*Plan, error) {
	order, err := declared.TopoOrder()
	if err != nil {
		return nil, err
	}

	steps := make(map[string]*Step, declared.Len())
	for _, i := range order {
		r := declared.Node(i).Value
		step := &Step{Name: r.name, Kind: r.args.Kind(), New: r.args}
		if node, ok := prior.Lookup(r.name); ok {
			step.Old = node.Value
			switch resource.Compare(node.Value.Args, r.args) {
			case resource.NoChange:
				step.Op = OpSame
			case resource.InPlace:
				step.Op = OpUpdate
				step.Diff = resource.Diff(node.Value.Args, r.args)
			case resource.Replace:
				step.Op = OpReplace
				step.Diff = resource.Diff(node.Value.Args, r.args)
			}
		} else {
			step.Op = OpCreate
		}
		steps[r.name] = step
	}

	// A replaced resource gets a new ID, so everything built on it is
	// rebuilt as well.
	for _, i := range order {
		n := declared.Node(i)
		if steps[n.Key].Op != OpReplace || steps[n.Key].Cause != "" {
			continue
		}
		for _, d := range declared.TransitiveDependents(i) {
			dep := steps[declared.Node(d).Key]
			if dep.Op == OpSame || dep.Op == OpUpdate {
				dep.Op = OpReplace
				dep.Cause = n.Key
			}
		}
	}

	p := &Plan{}
	reverse, err := prior.ReverseOrder()
	if err != nil {
		return nil, err
	}
	for _, i := range reverse {
		st := prior.Node(i).Value
		if _, ok := declared.Lookup(st.Name); !ok {
			p.Steps = append(p.Steps, Step{Name: st.Name, Kind: st.Kind, Op: OpDelete, Old: st})
		}
	}
	for _, i := range order {
		p.Steps = append(p.Steps, *steps[declared.Node(i).Key])
	}
	return p, nil
}

// destroyPlan deletes every recorded resource.
func destroyPlan(prior *graph.Graph[*resource.State]) (*Plan, error) {
	reverse, err := prior.ReverseOrder()
	if err != nil {
		return nil, err
	}
	p := &Plan{}
	for _, i := range reverse {
		st := prior.Node(i).Value
		p.Steps = append(p.Steps, Step{Name: st.Name, Kind: st.Kind, Op: OpDelete, Old: st})
	}
	return p, nil
}
