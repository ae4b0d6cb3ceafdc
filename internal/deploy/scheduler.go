package deploy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/alitto/pond/v2"
)

// StepError carries the resource and operation that failed.
type StepError struct {
	Name string
	Op   StepOp
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("failed to %s %s: %v", e.Op, e.Name, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// ErrSkipped is the cause recorded for steps that never started because an
// earlier step failed.
var ErrSkipped = errors.New("skipped after an earlier failure")

// scheduler submits a task to the pool once all of its predecessors
// finished, so waiting never holds a worker. After the first failure no new
// task starts; the rest are handed to skip.
type scheduler struct {
	pool pond.Pool
	run  func(ctx context.Context, i int) error
	skip func(i int, cause error)

	mu         sync.Mutex
	remaining  []int
	dependents [][]int
	failed     bool
	errs       []error
	wg         sync.WaitGroup
}

// runDAG executes len(preds) tasks; preds[i] lists the tasks that must
// complete before task i starts. preds must describe a DAG.
func runDAG(ctx context.Context, pool pond.Pool, preds [][]int, run func(context.Context, int) error, skip func(int, error)) error {
	s := &scheduler{
		pool:       pool,
		run:        run,
		skip:       skip,
		remaining:  make([]int, len(preds)),
		dependents: make([][]int, len(preds)),
	}
	var roots []int
	for i, ps := range preds {
		s.remaining[i] = len(ps)
		if len(ps) == 0 {
			roots = append(roots, i)
		}
		for _, p := range ps {
			s.dependents[p] = append(s.dependents[p], i)
		}
	}

	// remaining is owned by the workers once the first root is submitted.
	s.wg.Add(len(preds))
	for _, i := range roots {
		s.dispatch(ctx, i)
	}
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		s.errs = append(s.errs, err)
	}
	return errors.Join(s.errs...)
}

func (s *scheduler) halted(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed {
		return ErrSkipped
	}
	return nil
}

func (s *scheduler) dispatch(ctx context.Context, i int) {
	if cause := s.halted(ctx); cause != nil {
		s.skip(i, cause)
		s.complete(ctx, i)
		return
	}
	s.pool.Submit(func() {
		if cause := s.halted(ctx); cause != nil {
			s.skip(i, cause)
		} else if err := s.run(ctx, i); err != nil {
			s.mu.Lock()
			s.failed = true
			s.errs = append(s.errs, err)
			s.mu.Unlock()
		}
		s.complete(ctx, i)
	})
}

func (s *scheduler) complete(ctx context.Context, i int) {
	s.mu.Lock()
	var ready []int
	for _, d := range s.dependents[i] {
		s.remaining[d]--
		if s.remaining[d] == 0 {
			ready = append(ready, d)
		}
	}
	s.mu.Unlock()

	for _, d := range ready {
		s.dispatch(ctx, d)
	}
	s.wg.Done()
}
