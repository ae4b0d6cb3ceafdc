package deploy

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/alitto/pond/v2"
)

func TestRunDAGOrdersAndSkips(t *testing.T) {
	// 0 <- 1 <- 3
	// 0 <- 2
	preds := [][]int{nil, {0}, {0}, {1}}

	tests := []struct {
		name        string
		failing     int
		wantRun     []int
		wantSkipped []int
	}{
		{"all succeed", -1, []int{0, 1, 2, 3}, nil},
		{"root fails", 0, []int{0}, []int{1, 2, 3}},
		// A single worker starts 2 only after 1 failed.
		{"middle fails", 1, []int{0, 1}, []int{2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := pond.NewPool(1)
			defer pool.StopAndWait()

			var mu sync.Mutex
			var ran, skipped []int
			boom := errors.New("boom")

			err := runDAG(context.Background(), pool, preds,
				func(_ context.Context, i int) error {
					mu.Lock()
					ran = append(ran, i)
					mu.Unlock()
					if i == tt.failing {
						return boom
					}
					return nil
				},
				func(i int, cause error) {
					if !errors.Is(cause, ErrSkipped) {
						t.Errorf("unexpected skip cause %v", cause)
					}
					mu.Lock()
					skipped = append(skipped, i)
					mu.Unlock()
				})

			if tt.failing >= 0 && !errors.Is(err, boom) {
				t.Fatalf("expected boom, got %v", err)
			}
			if tt.failing < 0 && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			slices.Sort(skipped)
			if tt.failing < 0 && !slices.Equal(ran, tt.wantRun) {
				// One worker runs the ready tasks in submission order.
				t.Errorf("ran %v, want %v", ran, tt.wantRun)
			}
			if tt.failing >= 0 {
				slices.Sort(ran)
				if !slices.Equal(ran, tt.wantRun) {
					t.Errorf("ran %v, want %v", ran, tt.wantRun)
				}
			}
			if !slices.Equal(skipped, tt.wantSkipped) {
				t.Errorf("skipped %v, want %v", skipped, tt.wantSkipped)
			}
		})
	}
}

func TestRunDAGCancelled(t *testing.T) {
	pool := pond.NewPool(2)
	defer pool.StopAndWait()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var skipped int
	err := runDAG(ctx, pool, [][]int{nil, {0}},
		func(context.Context, int) error {
			t.Error("no task may run after cancellation")
			return nil
		},
		func(int, error) { skipped++ })

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if skipped != 2 {
		t.Errorf("expected 2 skipped tasks, got %d", skipped)
	}
}

func TestRunDAGStartsLateDependentOnce(t *testing.T) {
	// Many roots keep the dispatch loop busy while task 0 finishes and
	// releases the last task.
	const roots = 2000
	preds := make([][]int, roots+2)
	preds[roots+1] = []int{0}

	for round := 0; round < 5; round++ {
		pool := pond.NewPool(8)

		var mu sync.Mutex
		runs := make(map[int]int)
		err := runDAG(context.Background(), pool, preds,
			func(_ context.Context, i int) error {
				mu.Lock()
				runs[i]++
				mu.Unlock()
				return nil
			},
			func(i int, cause error) { t.Errorf("task %d skipped: %v", i, cause) })
		pool.StopAndWait()

		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(runs) != len(preds) {
			t.Fatalf("ran %d distinct tasks, want %d", len(runs), len(preds))
		}
		for i, n := range runs {
			if n != 1 {
				t.Fatalf("task %d ran %d times", i, n)
			}
		}
	}
}
