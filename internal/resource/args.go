// Package resource describes the Azure objects the engine manages: their
// declared arguments, the state recorded after provisioning, and the rules
// deciding whether a change is applied in place or needs a replacement.
package resource

import (
	"fmt"
	"slices"
)

// Kind identifies a resource type.
type Kind string

const (
	KindResourceGroup    Kind = "azure:core/resourceGroup"
	KindVirtualNetwork   Kind = "azure:network/virtualNetwork"
	KindSubnet           Kind = "azure:network/subnet"
	KindPublicIP         Kind = "azure:network/publicIp"
	KindNetworkInterface Kind = "azure:network/networkInterface"
	KindVirtualMachine   Kind = "azure:compute/virtualMachine"
)

// Args are the declared inputs of a resource. References to other resources
// are held by logical name and resolved by the engine before provider calls.
type Args interface {
	Kind() Kind
	// PhysicalName is the name the resource gets in the cloud.
	PhysicalName() string
	// References lists the logical names this resource depends on.
	References() []string
	// RequiresReplace reports whether moving from prev to these args cannot be
	// done in place.
	RequiresReplace(prev Args) bool
}

// AllocationMethod of an IP address.
type AllocationMethod string

const (
	Dynamic AllocationMethod = "Dynamic"
	Static  AllocationMethod = "Static"
)

type ResourceGroupArgs struct {
	Name     string            `json:"name"`
	Location string            `json:"location"`
	Tags     map[string]string `json:"tags,omitempty"`
}

func (a ResourceGroupArgs) Kind() Kind           { return KindResourceGroup }
func (a ResourceGroupArgs) PhysicalName() string { return a.Name }
func (a ResourceGroupArgs) References() []string { return nil }

func (a ResourceGroupArgs) RequiresReplace(prev Args) bool {
	p, ok := prev.(ResourceGroupArgs)
	return !ok || p.Name != a.Name || p.Location != a.Location
}

type VirtualNetworkArgs struct {
	Name          string            `json:"name"`
	ResourceGroup string            `json:"resourceGroup"`
	Location      string            `json:"location"`
	AddressSpaces []string          `json:"addressSpaces"`
	Tags          map[string]string `json:"tags,omitempty"`
}

func (a VirtualNetworkArgs) Kind() Kind           { return KindVirtualNetwork }
func (a VirtualNetworkArgs) PhysicalName() string { return a.Name }
func (a VirtualNetworkArgs) References() []string { return []string{a.ResourceGroup} }

func (a VirtualNetworkArgs) RequiresReplace(prev Args) bool {
	p, ok := prev.(VirtualNetworkArgs)
	return !ok || p.Name != a.Name || p.ResourceGroup != a.ResourceGroup || p.Location != a.Location
}

type SubnetArgs struct {
	Name           string `json:"name"`
	ResourceGroup  string `json:"resourceGroup"`
	VirtualNetwork string `json:"virtualNetwork"`
	AddressPrefix  string `json:"addressPrefix"`
}

func (a SubnetArgs) Kind() Kind           { return KindSubnet }
func (a SubnetArgs) PhysicalName() string { return a.Name }

func (a SubnetArgs) References() []string {
	return []string{a.ResourceGroup, a.VirtualNetwork}
}

func (a SubnetArgs) RequiresReplace(prev Args) bool {
	p, ok := prev.(SubnetArgs)
	return !ok || p.Name != a.Name || p.ResourceGroup != a.ResourceGroup || p.VirtualNetwork != a.VirtualNetwork
}

type PublicIPArgs struct {
	Name             string            `json:"name"`
	ResourceGroup    string            `json:"resourceGroup"`
	Location         string            `json:"location"`
	AllocationMethod AllocationMethod  `json:"allocationMethod"`
	Tags             map[string]string `json:"tags,omitempty"`
}

func (a PublicIPArgs) Kind() Kind           { return KindPublicIP }
func (a PublicIPArgs) PhysicalName() string { return a.Name }
func (a PublicIPArgs) References() []string { return []string{a.ResourceGroup} }

func (a PublicIPArgs) RequiresReplace(prev Args) bool {
	p, ok := prev.(PublicIPArgs)
	return !ok || p.Name != a.Name || p.ResourceGroup != a.ResourceGroup || p.Location != a.Location
}

// IPConfiguration binds a network interface to one subnet and one public IP.
type IPConfiguration struct {
	Name                       string           `json:"name"`
	Subnet                     string           `json:"subnet"`
	PublicIP                   string           `json:"publicIp"`
	PrivateIPAddressAllocation AllocationMethod `json:"privateIpAddressAllocation"`
}

type NetworkInterfaceArgs struct {
	Name            string            `json:"name"`
	ResourceGroup   string            `json:"resourceGroup"`
	Location        string            `json:"location"`
	IPConfiguration IPConfiguration   `json:"ipConfiguration"`
	Tags            map[string]string `json:"tags,omitempty"`
}

func (a NetworkInterfaceArgs) Kind() Kind           { return KindNetworkInterface }
func (a NetworkInterfaceArgs) PhysicalName() string { return a.Name }

func (a NetworkInterfaceArgs) References() []string {
	return []string{a.ResourceGroup, a.IPConfiguration.Subnet, a.IPConfiguration.PublicIP}
}

func (a NetworkInterfaceArgs) RequiresReplace(prev Args) bool {
	p, ok := prev.(NetworkInterfaceArgs)
	return !ok || p.Name != a.Name || p.ResourceGroup != a.ResourceGroup || p.Location != a.Location
}

// ImageReference pins the marketplace image a VM boots from.
type ImageReference struct {
	Publisher string `json:"publisher"`
	Offer     string `json:"offer"`
	SKU       string `json:"sku"`
	Version   string `json:"version"`
}

func (r ImageReference) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", r.Publisher, r.Offer, r.SKU, r.Version)
}

type OSDisk struct {
	Name         string `json:"name"`
	Caching      string `json:"caching"`
	CreateOption string `json:"createOption"`
	StorageType  string `json:"storageType"`
}

type DataDisk struct {
	Name   string `json:"name"`
	Lun    int32  `json:"lun"`
	SizeGB int32  `json:"sizeGb"`
}

type OSProfile struct {
	ComputerName  string `json:"computerName"`
	AdminUsername string `json:"adminUsername"`
	AdminPassword Secret `json:"adminPassword"`
	// CustomData is the plain boot script. Providers encode it as needed.
	CustomData                    string   `json:"customData,omitempty"`
	DisablePasswordAuthentication bool     `json:"disablePasswordAuthentication"`
	SSHPublicKeys                 []string `json:"sshPublicKeys,omitempty"`
}

type VirtualMachineArgs struct {
	Name                         string            `json:"name"`
	ResourceGroup                string            `json:"resourceGroup"`
	Location                     string            `json:"location"`
	Size                         string            `json:"size"`
	NetworkInterfaces            []string          `json:"networkInterfaces"`
	OSProfile                    OSProfile         `json:"osProfile"`
	Image                        ImageReference    `json:"image"`
	OSDisk                       OSDisk            `json:"osDisk"`
	DataDisks                    []DataDisk        `json:"dataDisks,omitempty"`
	DeleteOSDiskOnTermination    bool              `json:"deleteOsDiskOnTermination"`
	DeleteDataDisksOnTermination bool              `json:"deleteDataDisksOnTermination"`
	Tags                         map[string]string `json:"tags,omitempty"`
}

func (a VirtualMachineArgs) Kind() Kind           { return KindVirtualMachine }
func (a VirtualMachineArgs) PhysicalName() string { return a.Name }

func (a VirtualMachineArgs) References() []string {
	return append([]string{a.ResourceGroup}, a.NetworkInterfaces...)
}

// RequiresReplace is true when anything baked into the VM at creation time
// changes. Size, tags, disk lifecycle flags and attached interfaces are
// updated in place.
func (a VirtualMachineArgs) RequiresReplace(prev Args) bool {
	p, ok := prev.(VirtualMachineArgs)
	if !ok {
		return true
	}
	return p.Name != a.Name ||
		p.ResourceGroup != a.ResourceGroup ||
		p.Location != a.Location ||
		p.Image != a.Image ||
		p.OSDisk.Name != a.OSDisk.Name ||
		p.OSProfile.ComputerName != a.OSProfile.ComputerName ||
		p.OSProfile.AdminUsername != a.OSProfile.AdminUsername ||
		!p.OSProfile.AdminPassword.Equal(a.OSProfile.AdminPassword) ||
		p.OSProfile.CustomData != a.OSProfile.CustomData ||
		!slices.Equal(p.OSProfile.SSHPublicKeys, a.OSProfile.SSHPublicKeys)
}
