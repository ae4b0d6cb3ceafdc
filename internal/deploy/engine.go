package deploy

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"azwebvm/internal/config"
	"azwebvm/internal/graph"
	"azwebvm/internal/logging"
	"azwebvm/internal/provider"
	"azwebvm/internal/resource"
	"azwebvm/internal/state"
)

// Options tunes an Engine.
type Options struct {
	// Parallel bounds the number of concurrent provider calls.
	Parallel int
}

// Engine applies Programs to one provider and one state store.
type Engine struct {
	provider provider.Provider
	store    state.Store
	parallel int
	log      *zap.Logger
}

// UpdateResult describes a finished update. It is returned even when the
// update failed, together with the error.
type UpdateResult struct {
	ID      string
	Plan    *Plan
	Outputs map[string]string
}

func NewEngine(p provider.Provider, store state.Store, opts Options) *Engine {
	parallel := opts.Parallel
	if parallel <= 0 {
		parallel = config.DefaultParallel
	}
	return &Engine{
		provider: p,
		store:    store,
		parallel: parallel,
		log:      logging.Component("engine"),
	}
}

// Preview evaluates the program and diffs it against the stored snapshot
// without calling the provider.
func (e *Engine) Preview(ctx context.Context, project, stackName string, prog Program) (*Plan, error) {
	// Cancelling on return rejects every pending export.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	snap, err := state.LoadOrNew(ctx, e.store, project, stackName)
	if err != nil {
		return nil, fmt.Errorf("failed to load stack %s: %w", stackName, err)
	}
	stack, err := e.evaluate(ctx, project, stackName, prog, true)
	if err != nil {
		return nil, err
	}
	prior, err := snapshotGraph(snap)
	if err != nil {
		return nil, err
	}
	return plan(stack.resources, prior)
}

// Up provisions the declared resources and stores the stack outputs. The
// snapshot is saved even when the update fails; outputs are only stored when
// every step and every export succeeded.
func (e *Engine) Up(ctx context.Context, project, stackName string, prog Program) (*UpdateResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	snap, err := state.LoadOrNew(ctx, e.store, project, stackName)
	if err != nil {
		return nil, fmt.Errorf("failed to load stack %s: %w", stackName, err)
	}
	stack, err := e.evaluate(ctx, project, stackName, prog, false)
	if err != nil {
		return nil, err
	}
	prior, err := snapshotGraph(snap)
	if err != nil {
		return nil, err
	}
	p, err := plan(stack.resources, prior)
	if err != nil {
		return nil, err
	}

	result := &UpdateResult{ID: uuid.NewString(), Plan: p}
	log := e.log.With(zap.String("update_id", result.ID), zap.String("stack", stackName))
	log.Info("Starting update", zap.String("plan", p.Summary()))

	pool := pond.NewPool(e.parallel)
	defer pool.StopAndWait()

	err = e.apply(ctx, pool, stack, snap, prior, p, log)
	if err == nil {
		result.Outputs, err = awaitExports(ctx, stack)
	}
	if err == nil {
		snap.SetOutputs(result.Outputs)
	} else {
		snap.SetOutputs(nil)
		result.Outputs = nil
	}
	snap.SetUpdateID(result.ID)

	if saveErr := e.store.Save(context.WithoutCancel(ctx), snap); saveErr != nil {
		log.Error("Failed to save snapshot", zap.Error(saveErr))
		err = errors.Join(err, fmt.Errorf("failed to save snapshot: %w", saveErr))
	}
	if err != nil {
		log.Error("Update failed", zap.Error(err))
		return result, err
	}

	log.Info("Update succeeded", zap.Int("outputs", len(result.Outputs)))
	return result, nil
}

// maxLoggedNames caps resource name lists in log entries.
const maxLoggedNames = 10

// Destroy deletes every recorded resource, dependents first.
func (e *Engine) Destroy(ctx context.Context, project, stackName string) (*UpdateResult, error) {
	snap, err := state.LoadOrNew(ctx, e.store, project, stackName)
	if err != nil {
		return nil, fmt.Errorf("failed to load stack %s: %w", stackName, err)
	}
	prior, err := snapshotGraph(snap)
	if err != nil {
		return nil, err
	}
	p, err := destroyPlan(prior)
	if err != nil {
		return nil, err
	}

	result := &UpdateResult{ID: uuid.NewString(), Plan: p}
	log := e.log.With(zap.String("update_id", result.ID), zap.String("stack", stackName))
	log.Info("Starting destroy", zap.String("plan", p.Summary()))

	pool := pond.NewPool(e.parallel)
	defer pool.StopAndWait()

	err = e.deleteAll(ctx, pool, snap, prior, p.Steps, log)
	snap.SetOutputs(nil)
	snap.SetUpdateID(result.ID)

	if saveErr := e.store.Save(context.WithoutCancel(ctx), snap); saveErr != nil {
		err = errors.Join(err, fmt.Errorf("failed to save snapshot: %w", saveErr))
	}
	if err != nil {
		var left []string
		for _, st := range snap.List() {
			left = append(left, st.Name)
		}
		log.Error("Destroy failed", zap.Error(err),
			zap.Strings("remaining", logging.TruncateSlice(left, maxLoggedNames)))
		return result, err
	}
	log.Info("Destroy succeeded", zap.Int("deleted", len(p.Steps)))
	return result, nil
}

func (e *Engine) evaluate(ctx context.Context, project, stackName string, prog Program, dryRun bool) (*Stack, error) {
	stack := newStack(ctx, project, stackName, e.provider, dryRun)
	if err := prog(stack); err != nil {
		return nil, fmt.Errorf("failed to evaluate program: %w", err)
	}
	if err := stack.resources.Validate(); err != nil {
		return nil, fmt.Errorf("invalid resource graph: %w", err)
	}
	return stack, nil
}

// apply runs the deletes, old halves of replacements included, and then the
// declared resources. Every declared resource output settles before apply
// returns.
func (e *Engine) apply(ctx context.Context, pool pond.Pool, stack *Stack, snap *state.Snapshot, prior *graph.Graph[*resource.State], p *Plan, log *zap.Logger) error {
	var deletes []Step
	for _, s := range p.Steps {
		if s.Op == OpDelete || s.Op == OpReplace {
			deletes = append(deletes, s)
		}
	}
	if err := e.deleteAll(ctx, pool, snap, prior, deletes, log); err != nil {
		for _, r := range stack.Resources() {
			r.reject(fmt.Errorf("%s was not provisioned: %w", r.name, err))
		}
		return err
	}

	steps := make(map[string]Step, len(p.Steps))
	for _, s := range p.Steps {
		if s.Op != OpDelete {
			steps[s.Name] = s
		}
	}

	var mu sync.Mutex
	provisioned := make(map[string]*resource.State)

	nodes := stack.resources.Nodes()
	preds := make([][]int, len(nodes))
	for i, n := range nodes {
		preds[i] = n.Deps
	}

	run := func(ctx context.Context, i int) error {
		r := nodes[i].Value
		step := steps[r.name]

		deps := make(map[string]*resource.State)
		mu.Lock()
		for _, ref := range r.args.References() {
			deps[ref] = provisioned[ref]
		}
		mu.Unlock()

		st, err := e.provision(ctx, step, &provider.Request{Name: r.name, Args: r.args, Deps: deps}, log)
		if err != nil {
			stepErr := &StepError{Name: r.name, Op: step.Op, Err: err}
			r.reject(stepErr)
			return stepErr
		}

		mu.Lock()
		provisioned[r.name] = st
		mu.Unlock()
		snap.Upsert(st)
		r.resolve(st.Clone())
		return nil
	}
	skip := func(i int, cause error) {
		r := nodes[i].Value
		log.Warn("Skipping resource", zap.String("resource", r.name), zap.Error(cause))
		r.reject(fmt.Errorf("%s was not provisioned: %w", r.name, cause))
	}

	return runDAG(ctx, pool, preds, run, skip)
}

func (e *Engine) provision(ctx context.Context, step Step, req *provider.Request, log *zap.Logger) (*resource.State, error) {
	log = log.With(zap.String("resource", step.Name), zap.String("kind", string(step.Kind)), zap.String("op", string(step.Op)))

	if step.Op == OpSame {
		st := step.Old.Clone()
		st.Args = req.Args
		return st, nil
	}

	if step.Diff != "" {
		log.Debug("Changed attributes", zap.String("diff", logging.Truncate(step.Diff)))
	}
	log.Info("Provisioning resource")

	var (
		res *provider.Result
		err error
	)
	switch step.Op {
	case OpCreate, OpReplace:
		res, err = e.provider.Create(ctx, req)
	case OpUpdate:
		res, err = e.provider.Update(ctx, req, step.Old)
	default:
		return nil, fmt.Errorf("unexpected step %s", step.Op)
	}
	if err != nil {
		log.Error("Provisioning failed", zap.String("error", logging.Truncate(err.Error())))
		return nil, err
	}

	now := time.Now()
	st := &resource.State{
		Name:         step.Name,
		Kind:         req.Args.Kind(),
		ID:           res.ID,
		Args:         req.Args,
		Outputs:      maps.Clone(res.Outputs),
		Dependencies: req.Args.References(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if step.Op == OpUpdate && step.Old != nil {
		st.CreatedAt = step.Old.CreatedAt
	}
	log.Info("Resource provisioned", zap.String("id", res.ID))
	return st, nil
}

// deleteAll deletes the recorded resources of steps. A resource is deleted
// only after every recorded resource depending on it is gone.
func (e *Engine) deleteAll(ctx context.Context, pool pond.Pool, snap *state.Snapshot, prior *graph.Graph[*resource.State], steps []Step, log *zap.Logger) error {
	if len(steps) == 0 {
		return nil
	}
	index := make(map[string]int, len(steps))
	for i, s := range steps {
		index[s.Name] = i
	}
	preds := make([][]int, len(steps))
	for j, s := range steps {
		node, ok := prior.Lookup(s.Name)
		if !ok {
			continue
		}
		for _, d := range node.Deps {
			if i, ok := index[prior.Node(d).Key]; ok {
				preds[i] = append(preds[i], j)
			}
		}
	}

	run := func(ctx context.Context, i int) error {
		s := steps[i]
		l := log.With(zap.String("resource", s.Name), zap.String("kind", string(s.Kind)))
		l.Info("Deleting resource", zap.String("id", s.Old.ID))
		if err := e.provider.Delete(ctx, s.Old); err != nil {
			l.Error("Delete failed", zap.String("error", logging.Truncate(err.Error())))
			return &StepError{Name: s.Name, Op: OpDelete, Err: err}
		}
		snap.Remove(s.Name)
		return nil
	}
	skip := func(i int, cause error) {
		log.Warn("Skipping delete", zap.String("resource", steps[i].Name), zap.Error(cause))
	}
	return runDAG(ctx, pool, preds, run, skip)
}

func awaitExports(ctx context.Context, stack *Stack) (map[string]string, error) {
	outputs := make(map[string]string, len(stack.order))
	var errs []error
	for _, name := range stack.order {
		v, err := stack.exports[name].Await(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("output %s: %w", name, err))
			continue
		}
		outputs[name] = v
	}
	return outputs, errors.Join(errs...)
}
