package provider

import (
	"encoding/base64"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v2"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/network/armnetwork"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"

	"azwebvm/internal/resource"
)

func toTags(tags map[string]string) map[string]*string {
	if len(tags) == 0 {
		return nil
	}
	out := make(map[string]*string, len(tags))
	for k, v := range tags {
		out[k] = to.Ptr(v)
	}
	return out
}

func toValue[T any](v *T) T {
	if v == nil {
		var zero T
		return zero
	}
	return *v
}

func allocationMethod(m resource.AllocationMethod) *armnetwork.IPAllocationMethod {
	if m == resource.Static {
		return to.Ptr(armnetwork.IPAllocationMethodStatic)
	}
	return to.Ptr(armnetwork.IPAllocationMethodDynamic)
}

func resourceGroupParams(a resource.ResourceGroupArgs) armresources.ResourceGroup {
	return armresources.ResourceGroup{
		Location: to.Ptr(a.Location),
		Tags:     toTags(a.Tags),
	}
}

func virtualNetworkParams(a resource.VirtualNetworkArgs) armnetwork.VirtualNetwork {
	prefixes := make([]*string, 0, len(a.AddressSpaces))
	for _, p := range a.AddressSpaces {
		prefixes = append(prefixes, to.Ptr(p))
	}
	return armnetwork.VirtualNetwork{
		Location: to.Ptr(a.Location),
		Tags:     toTags(a.Tags),
		Properties: &armnetwork.VirtualNetworkPropertiesFormat{
			AddressSpace: &armnetwork.AddressSpace{AddressPrefixes: prefixes},
		},
	}
}

func subnetParams(a resource.SubnetArgs) armnetwork.Subnet {
	return armnetwork.Subnet{
		Properties: &armnetwork.SubnetPropertiesFormat{
			AddressPrefix: to.Ptr(a.AddressPrefix),
		},
	}
}

func publicIPParams(a resource.PublicIPArgs) armnetwork.PublicIPAddress {
	return armnetwork.PublicIPAddress{
		Location: to.Ptr(a.Location),
		Tags:     toTags(a.Tags),
		Properties: &armnetwork.PublicIPAddressPropertiesFormat{
			PublicIPAllocationMethod: allocationMethod(a.AllocationMethod),
		},
	}
}

func networkInterfaceParams(a resource.NetworkInterfaceArgs, subnetID, publicIPID string) armnetwork.Interface {
	ipConfig := &armnetwork.InterfaceIPConfiguration{
		Name: to.Ptr(a.IPConfiguration.Name),
		Properties: &armnetwork.InterfaceIPConfigurationPropertiesFormat{
			Subnet:                    &armnetwork.Subnet{ID: to.Ptr(subnetID)},
			PrivateIPAllocationMethod: allocationMethod(a.IPConfiguration.PrivateIPAddressAllocation),
			PublicIPAddress:           &armnetwork.PublicIPAddress{ID: to.Ptr(publicIPID)},
			Primary:                   to.Ptr(true),
		},
	}
	return armnetwork.Interface{
		Location: to.Ptr(a.Location),
		Tags:     toTags(a.Tags),
		Properties: &armnetwork.InterfacePropertiesFormat{
			IPConfigurations: []*armnetwork.InterfaceIPConfiguration{ipConfig},
		},
	}
}

func diskDeleteOption(deleteOnTermination bool) *armcompute.DiskDeleteOptionTypes {
	if deleteOnTermination {
		return to.Ptr(armcompute.DiskDeleteOptionTypesDelete)
	}
	return to.Ptr(armcompute.DiskDeleteOptionTypesDetach)
}

// virtualMachineParams builds the VM body. nicIDs are the resolved IDs of
// a.NetworkInterfaces, in the same order.
func virtualMachineParams(a resource.VirtualMachineArgs, nicIDs []string) armcompute.VirtualMachine {
	osDisk := &armcompute.OSDisk{
		Name:         to.Ptr(a.OSDisk.Name),
		CreateOption: to.Ptr(armcompute.DiskCreateOptionTypes(a.OSDisk.CreateOption)),
		DeleteOption: diskDeleteOption(a.DeleteOSDiskOnTermination),
	}
	if a.OSDisk.Caching != "" {
		osDisk.Caching = to.Ptr(armcompute.CachingTypes(a.OSDisk.Caching))
	}
	if a.OSDisk.StorageType != "" {
		osDisk.ManagedDisk = &armcompute.ManagedDiskParameters{
			StorageAccountType: to.Ptr(armcompute.StorageAccountTypes(a.OSDisk.StorageType)),
		}
	}

	var dataDisks []*armcompute.DataDisk
	for _, d := range a.DataDisks {
		dataDisks = append(dataDisks, &armcompute.DataDisk{
			Name:         to.Ptr(d.Name),
			Lun:          to.Ptr(d.Lun),
			DiskSizeGB:   to.Ptr(d.SizeGB),
			CreateOption: to.Ptr(armcompute.DiskCreateOptionTypesEmpty),
			DeleteOption: diskDeleteOption(a.DeleteDataDisksOnTermination),
		})
	}

	linux := &armcompute.LinuxConfiguration{
		DisablePasswordAuthentication: to.Ptr(a.OSProfile.DisablePasswordAuthentication),
	}
	if len(a.OSProfile.SSHPublicKeys) > 0 {
		keys := make([]*armcompute.SSHPublicKey, 0, len(a.OSProfile.SSHPublicKeys))
		for _, k := range a.OSProfile.SSHPublicKeys {
			keys = append(keys, &armcompute.SSHPublicKey{
				Path:    to.Ptr("/home/" + a.OSProfile.AdminUsername + "/.ssh/authorized_keys"),
				KeyData: to.Ptr(k),
			})
		}
		linux.SSH = &armcompute.SSHConfiguration{PublicKeys: keys}
	}

	osProfile := &armcompute.OSProfile{
		ComputerName:       to.Ptr(a.OSProfile.ComputerName),
		AdminUsername:      to.Ptr(a.OSProfile.AdminUsername),
		LinuxConfiguration: linux,
	}
	if pw := a.OSProfile.AdminPassword.Reveal(); pw != "" {
		osProfile.AdminPassword = to.Ptr(pw)
	}
	if a.OSProfile.CustomData != "" {
		osProfile.CustomData = to.Ptr(base64.StdEncoding.EncodeToString([]byte(a.OSProfile.CustomData)))
	}

	nics := make([]*armcompute.NetworkInterfaceReference, 0, len(nicIDs))
	for i, id := range nicIDs {
		nics = append(nics, &armcompute.NetworkInterfaceReference{
			ID: to.Ptr(id),
			Properties: &armcompute.NetworkInterfaceReferenceProperties{
				Primary: to.Ptr(i == 0),
			},
		})
	}

	return armcompute.VirtualMachine{
		Location: to.Ptr(a.Location),
		Tags:     toTags(a.Tags),
		Properties: &armcompute.VirtualMachineProperties{
			HardwareProfile: &armcompute.HardwareProfile{
				VMSize: to.Ptr(armcompute.VirtualMachineSizeTypes(a.Size)),
			},
			StorageProfile: &armcompute.StorageProfile{
				ImageReference: &armcompute.ImageReference{
					Publisher: to.Ptr(a.Image.Publisher),
					Offer:     to.Ptr(a.Image.Offer),
					SKU:       to.Ptr(a.Image.SKU),
					Version:   to.Ptr(a.Image.Version),
				},
				OSDisk:    osDisk,
				DataDisks: dataDisks,
			},
			OSProfile: osProfile,
			NetworkProfile: &armcompute.NetworkProfile{
				NetworkInterfaces: nics,
			},
		},
	}
}

// virtualMachineUpdate carries the attributes that can change in place.
func virtualMachineUpdate(a resource.VirtualMachineArgs, nicIDs []string) armcompute.VirtualMachineUpdate {
	full := virtualMachineParams(a, nicIDs)
	return armcompute.VirtualMachineUpdate{
		Tags: full.Tags,
		Properties: &armcompute.VirtualMachineProperties{
			HardwareProfile: full.Properties.HardwareProfile,
			NetworkProfile:  full.Properties.NetworkProfile,
			StorageProfile: &armcompute.StorageProfile{
				OSDisk: &armcompute.OSDisk{
					DeleteOption: full.Properties.StorageProfile.OSDisk.DeleteOption,
				},
			},
		},
	}
}
