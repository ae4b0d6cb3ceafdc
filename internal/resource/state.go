package resource

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"
)

// Well known output keys recorded by providers.
const (
	OutID                 = "id"
	OutName               = "name"
	OutResourceGroupName  = "resourceGroupName"
	OutLocation           = "location"
	OutVirtualNetworkName = "virtualNetworkName"
	OutIPAddress          = "ipAddress"
	OutPrivateIPAddress   = "privateIpAddress"
	OutOSDiskName         = "osDiskName"
)

// State is what the engine remembers about a provisioned resource.
type State struct {
	Name         string            `json:"name"`
	Kind         Kind              `json:"kind"`
	ID           string            `json:"id"`
	Args         Args              `json:"-"`
	Outputs      map[string]string `json:"outputs,omitempty"`
	Dependencies []string          `json:"dependencies,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Output returns the named output or an empty string.
func (s *State) Output(key string) string {
	if s == nil {
		return ""
	}
	return s.Outputs[key]
}

// Clone returns a copy that shares no maps or slices with s.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := *s
	c.Outputs = maps.Clone(s.Outputs)
	c.Dependencies = slices.Clone(s.Dependencies)
	return &c
}

type stateAlias State

type stateJSON struct {
	*stateAlias
	Args json.RawMessage `json:"args"`
}

func (s State) MarshalJSON() ([]byte, error) {
	args, err := json.Marshal(s.Args)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal args of %s: %w", s.Name, err)
	}
	alias := stateAlias(s)
	return json.Marshal(stateJSON{stateAlias: &alias, Args: args})
}

func (s *State) UnmarshalJSON(data []byte) error {
	aux := stateJSON{stateAlias: (*stateAlias)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("failed to unmarshal state: %w", err)
	}
	args, err := decodeArgs(s.Kind, aux.Args)
	if err != nil {
		return fmt.Errorf("resource %s: %w", s.Name, err)
	}
	s.Args = args
	return nil
}

func decodeArgs(kind Kind, raw json.RawMessage) (Args, error) {
	switch kind {
	case KindResourceGroup:
		return unmarshalArgs[ResourceGroupArgs](raw)
	case KindVirtualNetwork:
		return unmarshalArgs[VirtualNetworkArgs](raw)
	case KindSubnet:
		return unmarshalArgs[SubnetArgs](raw)
	case KindPublicIP:
		return unmarshalArgs[PublicIPArgs](raw)
	case KindNetworkInterface:
		return unmarshalArgs[NetworkInterfaceArgs](raw)
	case KindVirtualMachine:
		return unmarshalArgs[VirtualMachineArgs](raw)
	default:
		return nil, fmt.Errorf("unknown resource kind: %q", kind)
	}
}

func unmarshalArgs[T Args](raw json.RawMessage) (Args, error) {
	var v T
	if len(raw) == 0 || string(raw) == "null" {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal args: %w", err)
	}
	return v, nil
}
