package provider

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"azwebvm/internal/logging"
	"azwebvm/internal/resource"
)

// Call records one operation received by the in-memory cloud.
type Call struct {
	Op   string
	Kind resource.Kind
	Name string
	At   time.Time
}

const (
	OpCreate      = "create"
	OpUpdate      = "update"
	OpDelete      = "delete"
	OpGetPublicIP = "getPublicIP"
)

type memObject struct {
	id      string
	kind    resource.Kind
	name    string
	group   string
	args    resource.Args
	address string
	// refs holds the IDs this object points at (subnet, public IP, NICs)
	refs []string
}

type memDisk struct {
	name  string
	group string
	owner string
}

// MemoryProvider is an in-process cloud. Dynamic public IP addresses are
// only assigned while a VM is attached to the IP through a network
// interface, as Azure does.
type MemoryProvider struct {
	mu        sync.Mutex
	objects   map[string]*memObject
	disks     map[string]*memDisk
	seeds     map[string]string
	failures  map[string]error
	delays    map[resource.Kind]time.Duration
	calls     []Call
	nextOctet int
	logger    *zap.Logger
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		objects:   make(map[string]*memObject),
		disks:     make(map[string]*memDisk),
		seeds:     make(map[string]string),
		failures:  make(map[string]error),
		delays:    make(map[resource.Kind]time.Duration),
		nextOctet: 10,
		logger:    logging.Component("memory-cloud"),
	}
}

func (p *MemoryProvider) Name() string {
	return "memory"
}

// SeedAddress fixes the address handed out for a public IP. key is
// "<resource group>/<ip name>".
func (p *MemoryProvider) SeedAddress(key, address string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seeds[key] = address
}

// FailOn makes create and update of the named physical resource fail.
func (p *MemoryProvider) FailOn(name string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[name] = err
}

// SetDelay slows down every create of kind.
func (p *MemoryProvider) SetDelay(kind resource.Kind, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delays[kind] = d
}

// Calls returns every recorded call in order.
func (p *MemoryProvider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.calls)
}

// Count returns how many calls of op hit resources of kind. An empty kind
// matches every kind.
func (p *MemoryProvider) Count(op string, kind resource.Kind) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c.Op == op && (kind == "" || c.Kind == kind) {
			n++
		}
	}
	return n
}

// Disks returns the names of existing managed disks, sorted.
func (p *MemoryProvider) Disks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.disks))
	for _, d := range p.disks {
		names = append(names, d.name)
	}
	slices.Sort(names)
	return names
}

// Exists reports whether a resource of kind with the physical name exists.
func (p *MemoryProvider) Exists(kind resource.Kind, name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, o := range p.objects {
		if o.kind == kind && o.name == name {
			return true
		}
	}
	return false
}

// Len returns the number of live resources.
func (p *MemoryProvider) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.objects)
}

func (p *MemoryProvider) record(op string, kind resource.Kind, name string) {
	p.calls = append(p.calls, Call{Op: op, Kind: kind, Name: name, At: time.Now()})
}

func armID(group string, kind resource.Kind, name string) string {
	if kind == resource.KindResourceGroup {
		return "/subscriptions/memory/resourceGroups/" + name
	}
	return fmt.Sprintf("/subscriptions/memory/resourceGroups/%s/providers/%s/%s", group, kind, name)
}

func (p *MemoryProvider) wait(ctx context.Context, kind resource.Kind) error {
	p.mu.Lock()
	d := p.delays[kind]
	p.mu.Unlock()
	if d == 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *MemoryProvider) Create(ctx context.Context, req *Request) (*Result, error) {
	if err := p.wait(ctx, req.Args.Kind()); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.record(OpCreate, req.Args.Kind(), req.Args.PhysicalName())
	if err := p.failures[req.Args.PhysicalName()]; err != nil {
		return nil, err
	}

	obj, err := p.build(req)
	if err != nil {
		return nil, err
	}
	if _, exists := p.objects[obj.id]; exists {
		return nil, fmt.Errorf("%s %s already exists", obj.kind, obj.name)
	}
	p.objects[obj.id] = obj

	switch a := req.Args.(type) {
	case resource.VirtualMachineArgs:
		p.attachDisks(obj, a)
		p.assignAddresses(obj)
	case resource.PublicIPArgs:
		if a.AllocationMethod == resource.Static {
			p.allocate(obj)
		}
	}
	p.logger.Debug("Created resource", zap.String("id", obj.id))
	return p.result(obj), nil
}

func (p *MemoryProvider) Update(ctx context.Context, req *Request, prev *resource.State) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.record(OpUpdate, req.Args.Kind(), req.Args.PhysicalName())
	if err := p.failures[req.Args.PhysicalName()]; err != nil {
		return nil, err
	}

	obj, ok := p.objects[prev.ID]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", prev.Kind, prev.Output(resource.OutName), ErrNotFound)
	}
	next, err := p.build(req)
	if err != nil {
		return nil, err
	}
	if next.id != obj.id {
		return nil, fmt.Errorf("%s %s cannot be renamed in place", obj.kind, obj.name)
	}
	obj.args = next.args
	obj.refs = next.refs
	if vm, ok := req.Args.(resource.VirtualMachineArgs); ok {
		for id, d := range p.disks {
			if d.owner == obj.id && !slices.ContainsFunc(vm.DataDisks, func(dd resource.DataDisk) bool { return dd.Name == d.name }) && d.name != vm.OSDisk.Name {
				delete(p.disks, id)
			}
		}
		p.attachDisks(obj, vm)
		p.assignAddresses(obj)
	}
	return p.result(obj), nil
}

// build resolves references into IDs the way ARM request bodies carry them.
func (p *MemoryProvider) build(req *Request) (*memObject, error) {
	obj := &memObject{kind: req.Args.Kind(), name: req.Args.PhysicalName(), args: req.Args}
	switch a := req.Args.(type) {
	case resource.ResourceGroupArgs:
		obj.group = a.Name
	case resource.VirtualNetworkArgs:
		rg, err := req.RefOutput(a.ResourceGroup, resource.OutName)
		if err != nil {
			return nil, err
		}
		obj.group = rg
	case resource.SubnetArgs:
		rg, err := req.RefOutput(a.ResourceGroup, resource.OutName)
		if err != nil {
			return nil, err
		}
		vnetID, err := req.RefOutput(a.VirtualNetwork, resource.OutID)
		if err != nil {
			return nil, err
		}
		if _, ok := p.objects[vnetID]; !ok {
			return nil, fmt.Errorf("virtual network %s: %w", a.VirtualNetwork, ErrNotFound)
		}
		obj.group = rg
		obj.refs = []string{vnetID}
	case resource.PublicIPArgs:
		rg, err := req.RefOutput(a.ResourceGroup, resource.OutName)
		if err != nil {
			return nil, err
		}
		obj.group = rg
	case resource.NetworkInterfaceArgs:
		rg, err := req.RefOutput(a.ResourceGroup, resource.OutName)
		if err != nil {
			return nil, err
		}
		subnetID, err := req.RefOutput(a.IPConfiguration.Subnet, resource.OutID)
		if err != nil {
			return nil, err
		}
		pipID, err := req.RefOutput(a.IPConfiguration.PublicIP, resource.OutID)
		if err != nil {
			return nil, err
		}
		obj.group = rg
		obj.refs = []string{subnetID, pipID}
	case resource.VirtualMachineArgs:
		rg, err := req.RefOutput(a.ResourceGroup, resource.OutName)
		if err != nil {
			return nil, err
		}
		obj.group = rg
		for _, nic := range a.NetworkInterfaces {
			id, err := req.RefOutput(nic, resource.OutID)
			if err != nil {
				return nil, err
			}
			obj.refs = append(obj.refs, id)
		}
	default:
		return nil, fmt.Errorf("unsupported resource kind: %s", req.Args.Kind())
	}

	for _, ref := range obj.refs {
		if _, ok := p.objects[ref]; !ok {
			return nil, fmt.Errorf("%s %s references missing %s: %w", obj.kind, obj.name, ref, ErrNotFound)
		}
	}
	if obj.kind != resource.KindResourceGroup {
		if _, ok := p.objects[armID("", resource.KindResourceGroup, obj.group)]; !ok {
			return nil, fmt.Errorf("resource group %s: %w", obj.group, ErrNotFound)
		}
	}
	obj.id = armID(obj.group, obj.kind, obj.name)
	return obj, nil
}

func (p *MemoryProvider) attachDisks(vm *memObject, a resource.VirtualMachineArgs) {
	add := func(name string) {
		id := armID(vm.group, "Microsoft.Compute/disks", name)
		p.disks[id] = &memDisk{name: name, group: vm.group, owner: vm.id}
	}
	add(a.OSDisk.Name)
	for _, d := range a.DataDisks {
		add(d.Name)
	}
}

// assignAddresses hands out addresses to dynamic public IPs reachable from
// the VM's network interfaces.
func (p *MemoryProvider) assignAddresses(vm *memObject) {
	for _, nicID := range vm.refs {
		nic, ok := p.objects[nicID]
		if !ok {
			continue
		}
		for _, ref := range nic.refs {
			pip, ok := p.objects[ref]
			if !ok || pip.kind != resource.KindPublicIP || pip.address != "" {
				continue
			}
			p.allocate(pip)
		}
	}
}

func (p *MemoryProvider) allocate(pip *memObject) {
	if seed, ok := p.seeds[pip.group+"/"+pip.name]; ok {
		pip.address = seed
		return
	}
	pip.address = fmt.Sprintf("198.51.100.%d", p.nextOctet)
	p.nextOctet++
}

func (p *MemoryProvider) result(obj *memObject) *Result {
	outputs := map[string]string{
		resource.OutID:   obj.id,
		resource.OutName: obj.name,
	}
	switch a := obj.args.(type) {
	case resource.ResourceGroupArgs:
		outputs[resource.OutLocation] = a.Location
	case resource.VirtualNetworkArgs:
		outputs[resource.OutResourceGroupName] = obj.group
		outputs[resource.OutLocation] = a.Location
	case resource.SubnetArgs:
		outputs[resource.OutResourceGroupName] = obj.group
		outputs[resource.OutVirtualNetworkName] = p.objects[obj.refs[0]].name
	case resource.PublicIPArgs:
		outputs[resource.OutResourceGroupName] = obj.group
		outputs[resource.OutLocation] = a.Location
	case resource.NetworkInterfaceArgs:
		outputs[resource.OutResourceGroupName] = obj.group
		outputs[resource.OutPrivateIPAddress] = "10.0.2.4"
	case resource.VirtualMachineArgs:
		outputs[resource.OutResourceGroupName] = obj.group
		outputs[resource.OutOSDiskName] = a.OSDisk.Name
	}
	return &Result{ID: obj.id, Outputs: outputs}
}

func (p *MemoryProvider) Delete(ctx context.Context, prev *resource.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.record(OpDelete, prev.Kind, prev.Output(resource.OutName))
	obj, ok := p.objects[prev.ID]
	if !ok {
		p.logger.Warn("Resource already deleted", zap.String("id", prev.ID))
		return nil
	}

	if obj.kind == resource.KindResourceGroup {
		// Deleting a group deletes everything in it.
		for id, o := range p.objects {
			if o.group == obj.name {
				delete(p.objects, id)
			}
		}
		for id, d := range p.disks {
			if d.group == obj.name {
				delete(p.disks, id)
			}
		}
		return nil
	}

	for _, o := range p.objects {
		if slices.Contains(o.refs, obj.id) {
			return fmt.Errorf("%s %s is in use by %s %s", obj.kind, obj.name, o.kind, o.name)
		}
	}
	delete(p.objects, obj.id)

	if vm, ok := obj.args.(resource.VirtualMachineArgs); ok {
		for id, d := range p.disks {
			if d.owner != obj.id {
				continue
			}
			isOS := d.name == vm.OSDisk.Name
			if (isOS && vm.DeleteOSDiskOnTermination) || (!isOS && vm.DeleteDataDisksOnTermination) {
				delete(p.disks, id)
			} else {
				d.owner = ""
			}
		}
		p.releaseAddresses(obj)
	}
	return nil
}

// releaseAddresses drops dynamic addresses once no VM uses them.
func (p *MemoryProvider) releaseAddresses(vm *memObject) {
	for _, nicID := range vm.refs {
		nic, ok := p.objects[nicID]
		if !ok {
			continue
		}
		for _, ref := range nic.refs {
			pip, ok := p.objects[ref]
			if !ok || pip.kind != resource.KindPublicIP {
				continue
			}
			if a, ok := pip.args.(resource.PublicIPArgs); ok && a.AllocationMethod == resource.Static {
				continue
			}
			pip.address = ""
		}
	}
}

func (p *MemoryProvider) GetPublicIP(ctx context.Context, name, resourceGroup string) (*PublicIPInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.record(OpGetPublicIP, resource.KindPublicIP, name)
	obj, ok := p.objects[armID(resourceGroup, resource.KindPublicIP, name)]
	if !ok {
		return nil, fmt.Errorf("public IP %s in resource group %s: %w", name, resourceGroup, ErrNotFound)
	}
	info := &PublicIPInfo{
		ID:                obj.id,
		Name:              obj.name,
		ResourceGroup:     obj.group,
		IPAddress:         obj.address,
		ProvisioningState: "Succeeded",
	}
	if a, ok := obj.args.(resource.PublicIPArgs); ok {
		info.AllocationMethod = a.AllocationMethod
	}
	return info, nil
}

// Snapshot lists live resource IDs, sorted. Handy in test failure output.
func (p *MemoryProvider) Snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Sorted(maps.Keys(p.objects))
}
