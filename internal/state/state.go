package state

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	"azwebvm/internal/resource"
)

// ErrNotFound is returned by Store.Load when a stack has no snapshot yet.
var ErrNotFound = errors.New("stack snapshot not found")

// Snapshot represents the recorded state of one stack
type Snapshot struct {
	mu sync.RWMutex

	Project      string                     `json:"project"`
	Stack        string                     `json:"stack"`
	CreatedAt    time.Time                  `json:"created_at"`
	UpdatedAt    time.Time                  `json:"updated_at"`
	LastUpdateID string                     `json:"last_update_id,omitempty"`
	Resources    map[string]*resource.State `json:"resources"`
	Outputs      map[string]string          `json:"outputs,omitempty"`
}

// New creates a new empty snapshot
func New(project, stack string) *Snapshot {
	return &Snapshot{
		Project:   project,
		Stack:     stack,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
		Resources: make(map[string]*resource.State),
	}
}

// Upsert records the state of a resource
func (s *Snapshot) Upsert(st *resource.State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Resources == nil {
		s.Resources = make(map[string]*resource.State)
	}
	s.Resources[st.Name] = st.Clone()
	s.UpdatedAt = time.Now()
}

// Remove forgets a resource
func (s *Snapshot) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.Resources, name)
	s.UpdatedAt = time.Now()
}

// Get returns a copy of the resource state
func (s *Snapshot) Get(name string) (*resource.State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, exists := s.Resources[name]
	return st.Clone(), exists
}

// List returns copies of every resource state ordered by name
func (s *Snapshot) List() []*resource.State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*resource.State, 0, len(s.Resources))
	for _, name := range slices.Sorted(maps.Keys(s.Resources)) {
		out = append(out, s.Resources[name].Clone())
	}
	return out
}

// Len returns the number of recorded resources
func (s *Snapshot) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.Resources)
}

// SetOutputs replaces the stack outputs. nil clears them.
func (s *Snapshot) SetOutputs(outputs map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Outputs = maps.Clone(outputs)
}

// GetOutputs returns a copy of the stack outputs
func (s *Snapshot) GetOutputs() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.Outputs)
}

// SetUpdateID records the ID of the update that last wrote the snapshot
func (s *Snapshot) SetUpdateID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastUpdateID = id
	s.UpdatedAt = time.Now()
}

// Store persists snapshots
type Store interface {
	Load(ctx context.Context, project, stack string) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
	ListStacks(ctx context.Context, project string) ([]string, error)
	Close() error
}

// LoadOrNew returns the stored snapshot, or an empty one for a new stack
func LoadOrNew(ctx context.Context, store Store, project, stack string) (*Snapshot, error) {
	snap, err := store.Load(ctx, project, stack)
	if errors.Is(err, ErrNotFound) {
		return New(project, stack), nil
	}
	if err != nil {
		return nil, err
	}
	return snap, nil
}
