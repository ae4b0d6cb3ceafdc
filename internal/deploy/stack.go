// Package deploy turns a Program into provider calls. A Program declares
// resources on a Stack, the engine diffs them against the stored snapshot and
// runs the resulting steps in dependency order on a bounded worker pool.
package deploy

import (
	"context"
	"fmt"

	"azwebvm/internal/graph"
	"azwebvm/internal/output"
	"azwebvm/internal/provider"
	"azwebvm/internal/resource"
)

// Program declares the desired resources of a stack.
type Program func(*Stack) error

// Resource is a declared resource. Its Output settles once the engine has
// provisioned it, or failed to.
type Resource struct {
	name    string
	args    resource.Args
	out     output.Output[*resource.State]
	resolve func(*resource.State)
	reject  func(error)
}

func (r *Resource) Name() string {
	return r.name
}

func (r *Resource) Args() resource.Args {
	return r.args
}

// Output resolves with the recorded state after the resource reached the
// created state.
func (r *Resource) Output() output.Output[*resource.State] {
	return r.out
}

// Stack collects the declarations of one Program run.
type Stack struct {
	ctx      context.Context
	project  string
	name     string
	provider provider.Provider
	dryRun   bool

	resources *graph.Graph[*Resource]
	exports   map[string]output.Output[string]
	order     []string
}

func newStack(ctx context.Context, project, name string, p provider.Provider, dryRun bool) *Stack {
	return &Stack{
		ctx:       ctx,
		project:   project,
		name:      name,
		provider:  p,
		dryRun:    dryRun,
		resources: graph.New[*Resource](),
		exports:   make(map[string]output.Output[string]),
	}
}

// DryRun reports whether the Program runs for a preview. Programs must not
// persist anything in that case.
func (s *Stack) DryRun() bool {
	return s.dryRun
}

// Context is cancelled when the update ends. Continuations registered by the
// Program should run under it.
func (s *Stack) Context() context.Context {
	return s.ctx
}

func (s *Stack) Project() string {
	return s.project
}

func (s *Stack) Name() string {
	return s.name
}

// Register declares a resource under a logical name. Every resource the args
// reference must already be registered.
func (s *Stack) Register(name string, args resource.Args) (*Resource, error) {
	if name == "" {
		return nil, fmt.Errorf("resource name must not be empty")
	}
	out, resolve, reject := output.New[*resource.State]()
	r := &Resource{
		name:    name,
		args:    args,
		out:     out,
		resolve: resolve,
		reject:  reject,
	}
	if _, err := s.resources.Add(name, r, args.References()...); err != nil {
		return nil, fmt.Errorf("failed to register %s: %w", name, err)
	}
	return r, nil
}

// Export publishes a stack output.
func (s *Stack) Export(name string, value output.Output[string]) {
	if _, exists := s.exports[name]; !exists {
		s.order = append(s.order, name)
	}
	s.exports[name] = value
}

// GetPublicIP reads the current state of a public IP from the provider.
func (s *Stack) GetPublicIP(ctx context.Context, name, resourceGroup string) (*provider.PublicIPInfo, error) {
	return s.provider.GetPublicIP(ctx, name, resourceGroup)
}

// Resources returns the declared resources in declaration order.
func (s *Stack) Resources() []*Resource {
	nodes := s.resources.Nodes()
	out := make([]*Resource, len(nodes))
	for i, n := range nodes {
		out[i] = n.Value
	}
	return out
}

// Exports returns the names of the published outputs in export order.
func (s *Stack) Exports() []string {
	return append([]string(nil), s.order...)
}
