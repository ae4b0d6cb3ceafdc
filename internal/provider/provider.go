package provider

import (
	"context"
	"errors"
	"fmt"

	"azwebvm/internal/resource"
)

// ErrNotFound is returned when a queried object does not exist in the cloud.
var ErrNotFound = errors.New("not found")

// Request describes one resource operation. Deps holds the recorded state of
// every resource the args reference, keyed by logical name.
type Request struct {
	Name string
	Args resource.Args
	Deps map[string]*resource.State
}

// Ref returns the state of a referenced resource.
func (r *Request) Ref(logical string) (*resource.State, error) {
	dep, ok := r.Deps[logical]
	if !ok || dep == nil {
		return nil, fmt.Errorf("%s: dependency %q is not provisioned", r.Name, logical)
	}
	return dep, nil
}

// RefOutput returns an output of a referenced resource and fails when the
// provider did not record it.
func (r *Request) RefOutput(logical, key string) (string, error) {
	dep, err := r.Ref(logical)
	if err != nil {
		return "", err
	}
	v := dep.Output(key)
	if v == "" {
		return "", fmt.Errorf("%s: dependency %q has no %s", r.Name, logical, key)
	}
	return v, nil
}

// Result is what a provider reports after creating or updating a resource.
type Result struct {
	ID      string
	Outputs map[string]string
}

// PublicIPInfo is a point-in-time read of a public IP address resource.
type PublicIPInfo struct {
	ID                string
	Name              string
	ResourceGroup     string
	IPAddress         string
	AllocationMethod  resource.AllocationMethod
	ProvisioningState string
}

// Provider manages Azure resources
type Provider interface {
	Name() string
	Create(ctx context.Context, req *Request) (*Result, error)
	Update(ctx context.Context, req *Request, prev *resource.State) (*Result, error)
	Delete(ctx context.Context, prev *resource.State) error
	// GetPublicIP reads the current state of a public IP, bypassing anything
	// recorded by the engine.
	GetPublicIP(ctx context.Context, name, resourceGroup string) (*PublicIPInfo, error)
}
