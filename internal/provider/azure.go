package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v2"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/network/armnetwork"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"
	"go.uber.org/zap"

	"azwebvm/internal/config"
	"azwebvm/internal/logging"
	"azwebvm/internal/resource"
)

// AzureProvider implements the Provider interface for Azure Resource Manager
type AzureProvider struct {
	groups     *armresources.ResourceGroupsClient
	vnets      *armnetwork.VirtualNetworksClient
	subnets    *armnetwork.SubnetsClient
	publicIPs  *armnetwork.PublicIPAddressesClient
	interfaces *armnetwork.InterfacesClient
	vms        *armcompute.VirtualMachinesClient
	logger     *zap.Logger
}

// armScope is the token scope of Azure Resource Manager.
const armScope = "https://management.azure.com/.default"

// NewAzureProvider creates a provider authenticated with a service principal
// when client credentials are configured, or with the default Azure
// credential chain otherwise. A token is requested up front so that bad
// credentials fail before any step runs.
func NewAzureProvider(ctx context.Context, cfg config.AzureConfig) (*AzureProvider, error) {
	cred, err := newCredential(cfg)
	if err != nil {
		return nil, err
	}
	if err := checkCredential(ctx, cred); err != nil {
		return nil, err
	}
	opts := &arm.ClientOptions{
		ClientOptions: policy.ClientOptions{
			Transport: newHTTPClient(cfg),
			Retry:     policy.RetryOptions{MaxRetries: -1},
		},
	}
	return newAzureProvider(cfg.SubscriptionID, cred, opts)
}

func newCredential(cfg config.AzureConfig) (azcore.TokenCredential, error) {
	if cfg.TenantID != "" && cfg.ClientID != "" && cfg.ClientSecret != "" {
		cred, err := azidentity.NewClientSecretCredential(cfg.TenantID, cfg.ClientID, cfg.ClientSecret, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create client secret credential: %w", err)
		}
		return cred, nil
	}
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create default azure credential: %w", err)
	}
	return cred, nil
}

func checkCredential(ctx context.Context, cred azcore.TokenCredential) error {
	if _, err := cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{armScope}}); err != nil {
		return fmt.Errorf("failed to authenticate to Azure: %w", err)
	}
	return nil
}

func newAzureProvider(subscriptionID string, cred azcore.TokenCredential, opts *arm.ClientOptions) (*AzureProvider, error) {
	p := &AzureProvider{logger: logging.Component("azure")}
	var err error
	if p.groups, err = armresources.NewResourceGroupsClient(subscriptionID, cred, opts); err != nil {
		return nil, fmt.Errorf("failed to create resource groups client: %w", err)
	}
	if p.vnets, err = armnetwork.NewVirtualNetworksClient(subscriptionID, cred, opts); err != nil {
		return nil, fmt.Errorf("failed to create virtual networks client: %w", err)
	}
	if p.subnets, err = armnetwork.NewSubnetsClient(subscriptionID, cred, opts); err != nil {
		return nil, fmt.Errorf("failed to create subnets client: %w", err)
	}
	if p.publicIPs, err = armnetwork.NewPublicIPAddressesClient(subscriptionID, cred, opts); err != nil {
		return nil, fmt.Errorf("failed to create public IP addresses client: %w", err)
	}
	if p.interfaces, err = armnetwork.NewInterfacesClient(subscriptionID, cred, opts); err != nil {
		return nil, fmt.Errorf("failed to create network interfaces client: %w", err)
	}
	if p.vms, err = armcompute.NewVirtualMachinesClient(subscriptionID, cred, opts); err != nil {
		return nil, fmt.Errorf("failed to create virtual machines client: %w", err)
	}
	return p, nil
}

func (p *AzureProvider) Name() string {
	return "azure"
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}

// Create provisions the resource and waits for the long-running operation
func (p *AzureProvider) Create(ctx context.Context, req *Request) (*Result, error) {
	p.logger.Info("Creating resource",
		zap.String("resource", req.Name),
		zap.String("kind", string(req.Args.Kind())),
		zap.String("name", req.Args.PhysicalName()))
	return p.put(ctx, req)
}

// Update re-applies the declared args. Virtual machines go through PATCH so
// that only in-place attributes are sent.
func (p *AzureProvider) Update(ctx context.Context, req *Request, prev *resource.State) (*Result, error) {
	p.logger.Info("Updating resource",
		zap.String("resource", req.Name),
		zap.String("kind", string(req.Args.Kind())),
		zap.String("diff", logging.Truncate(resource.Diff(prev.Args, req.Args))))

	vm, ok := req.Args.(resource.VirtualMachineArgs)
	if !ok {
		return p.put(ctx, req)
	}
	rg, err := req.RefOutput(vm.ResourceGroup, resource.OutName)
	if err != nil {
		return nil, err
	}
	nicIDs, err := p.nicIDs(req, vm)
	if err != nil {
		return nil, err
	}
	poller, err := p.vms.BeginUpdate(ctx, rg, vm.Name, virtualMachineUpdate(vm, nicIDs), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to update virtual machine %s: %w", vm.Name, err)
	}
	resp, err := poller.PollUntilDone(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for virtual machine %s update: %w", vm.Name, err)
	}
	return vmResult(resp.VirtualMachine, vm.Name, rg), nil
}

func (p *AzureProvider) put(ctx context.Context, req *Request) (*Result, error) {
	switch a := req.Args.(type) {
	case resource.ResourceGroupArgs:
		resp, err := p.groups.CreateOrUpdate(ctx, a.Name, resourceGroupParams(a), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create resource group %s: %w", a.Name, err)
		}
		return &Result{
			ID: toValue(resp.ID),
			Outputs: map[string]string{
				resource.OutID:       toValue(resp.ID),
				resource.OutName:     a.Name,
				resource.OutLocation: toValue(resp.Location),
			},
		}, nil

	case resource.VirtualNetworkArgs:
		rg, err := req.RefOutput(a.ResourceGroup, resource.OutName)
		if err != nil {
			return nil, err
		}
		poller, err := p.vnets.BeginCreateOrUpdate(ctx, rg, a.Name, virtualNetworkParams(a), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create virtual network %s: %w", a.Name, err)
		}
		resp, err := poller.PollUntilDone(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to wait for virtual network %s: %w", a.Name, err)
		}
		return &Result{
			ID: toValue(resp.ID),
			Outputs: map[string]string{
				resource.OutID:                toValue(resp.ID),
				resource.OutName:              a.Name,
				resource.OutResourceGroupName: rg,
				resource.OutLocation:          toValue(resp.Location),
			},
		}, nil

	case resource.SubnetArgs:
		rg, err := req.RefOutput(a.ResourceGroup, resource.OutName)
		if err != nil {
			return nil, err
		}
		vnet, err := req.RefOutput(a.VirtualNetwork, resource.OutName)
		if err != nil {
			return nil, err
		}
		poller, err := p.subnets.BeginCreateOrUpdate(ctx, rg, vnet, a.Name, subnetParams(a), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create subnet %s: %w", a.Name, err)
		}
		resp, err := poller.PollUntilDone(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to wait for subnet %s: %w", a.Name, err)
		}
		return &Result{
			ID: toValue(resp.ID),
			Outputs: map[string]string{
				resource.OutID:                 toValue(resp.ID),
				resource.OutName:               a.Name,
				resource.OutResourceGroupName:  rg,
				resource.OutVirtualNetworkName: vnet,
			},
		}, nil

	case resource.PublicIPArgs:
		rg, err := req.RefOutput(a.ResourceGroup, resource.OutName)
		if err != nil {
			return nil, err
		}
		poller, err := p.publicIPs.BeginCreateOrUpdate(ctx, rg, a.Name, publicIPParams(a), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create public IP %s: %w", a.Name, err)
		}
		resp, err := poller.PollUntilDone(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to wait for public IP %s: %w", a.Name, err)
		}
		// A dynamic address is not assigned yet, so no ipAddress output here.
		return &Result{
			ID: toValue(resp.ID),
			Outputs: map[string]string{
				resource.OutID:                toValue(resp.ID),
				resource.OutName:              a.Name,
				resource.OutResourceGroupName: rg,
				resource.OutLocation:          toValue(resp.Location),
			},
		}, nil

	case resource.NetworkInterfaceArgs:
		rg, err := req.RefOutput(a.ResourceGroup, resource.OutName)
		if err != nil {
			return nil, err
		}
		subnetID, err := req.RefOutput(a.IPConfiguration.Subnet, resource.OutID)
		if err != nil {
			return nil, err
		}
		publicIPID, err := req.RefOutput(a.IPConfiguration.PublicIP, resource.OutID)
		if err != nil {
			return nil, err
		}
		poller, err := p.interfaces.BeginCreateOrUpdate(ctx, rg, a.Name, networkInterfaceParams(a, subnetID, publicIPID), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create network interface %s: %w", a.Name, err)
		}
		resp, err := poller.PollUntilDone(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to wait for network interface %s: %w", a.Name, err)
		}
		outputs := map[string]string{
			resource.OutID:                toValue(resp.ID),
			resource.OutName:              a.Name,
			resource.OutResourceGroupName: rg,
		}
		if props := resp.Properties; props != nil && len(props.IPConfigurations) > 0 {
			if cfg := props.IPConfigurations[0]; cfg != nil && cfg.Properties != nil {
				outputs[resource.OutPrivateIPAddress] = toValue(cfg.Properties.PrivateIPAddress)
			}
		}
		return &Result{ID: toValue(resp.ID), Outputs: outputs}, nil

	case resource.VirtualMachineArgs:
		rg, err := req.RefOutput(a.ResourceGroup, resource.OutName)
		if err != nil {
			return nil, err
		}
		nicIDs, err := p.nicIDs(req, a)
		if err != nil {
			return nil, err
		}
		p.logger.Debug("Virtual machine boot script",
			zap.String("resource", req.Name),
			zap.String("custom_data", logging.Truncate(a.OSProfile.CustomData)))
		poller, err := p.vms.BeginCreateOrUpdate(ctx, rg, a.Name, virtualMachineParams(a, nicIDs), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create virtual machine %s: %w", a.Name, err)
		}
		resp, err := poller.PollUntilDone(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to wait for virtual machine %s: %w", a.Name, err)
		}
		return vmResult(resp.VirtualMachine, a.Name, rg), nil

	default:
		return nil, fmt.Errorf("unsupported resource kind: %s", req.Args.Kind())
	}
}

func (p *AzureProvider) nicIDs(req *Request, a resource.VirtualMachineArgs) ([]string, error) {
	ids := make([]string, 0, len(a.NetworkInterfaces))
	for _, nic := range a.NetworkInterfaces {
		id, err := req.RefOutput(nic, resource.OutID)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func vmResult(vm armcompute.VirtualMachine, name, rg string) *Result {
	outputs := map[string]string{
		resource.OutID:                toValue(vm.ID),
		resource.OutName:              name,
		resource.OutResourceGroupName: rg,
	}
	if props := vm.Properties; props != nil && props.StorageProfile != nil && props.StorageProfile.OSDisk != nil {
		outputs[resource.OutOSDiskName] = toValue(props.StorageProfile.OSDisk.Name)
	}
	return &Result{ID: toValue(vm.ID), Outputs: outputs}
}

// Delete removes the resource and waits for completion. A resource that is
// already gone counts as deleted.
func (p *AzureProvider) Delete(ctx context.Context, prev *resource.State) error {
	name := prev.Output(resource.OutName)
	rg := prev.Output(resource.OutResourceGroupName)
	p.logger.Info("Deleting resource",
		zap.String("resource", prev.Name),
		zap.String("kind", string(prev.Kind)),
		zap.String("name", name))

	err := p.delete(ctx, prev.Kind, name, rg, prev.Output(resource.OutVirtualNetworkName))
	if isNotFound(err) {
		p.logger.Warn("Resource already deleted", zap.String("resource", prev.Name))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", prev.Kind, name, err)
	}
	return nil
}

func (p *AzureProvider) delete(ctx context.Context, kind resource.Kind, name, rg, vnet string) error {
	switch kind {
	case resource.KindResourceGroup:
		poller, err := p.groups.BeginDelete(ctx, name, nil)
		if err != nil {
			return err
		}
		_, err = poller.PollUntilDone(ctx, nil)
		return err
	case resource.KindVirtualNetwork:
		poller, err := p.vnets.BeginDelete(ctx, rg, name, nil)
		if err != nil {
			return err
		}
		_, err = poller.PollUntilDone(ctx, nil)
		return err
	case resource.KindSubnet:
		poller, err := p.subnets.BeginDelete(ctx, rg, vnet, name, nil)
		if err != nil {
			return err
		}
		_, err = poller.PollUntilDone(ctx, nil)
		return err
	case resource.KindPublicIP:
		poller, err := p.publicIPs.BeginDelete(ctx, rg, name, nil)
		if err != nil {
			return err
		}
		_, err = poller.PollUntilDone(ctx, nil)
		return err
	case resource.KindNetworkInterface:
		poller, err := p.interfaces.BeginDelete(ctx, rg, name, nil)
		if err != nil {
			return err
		}
		_, err = poller.PollUntilDone(ctx, nil)
		return err
	case resource.KindVirtualMachine:
		// OS and data disks carry DeleteOption=Delete and go with the VM.
		poller, err := p.vms.BeginDelete(ctx, rg, name, nil)
		if err != nil {
			return err
		}
		_, err = poller.PollUntilDone(ctx, nil)
		return err
	default:
		return fmt.Errorf("unsupported resource kind: %s", kind)
	}
}

// GetPublicIP reads the public IP straight from ARM
func (p *AzureProvider) GetPublicIP(ctx context.Context, name, resourceGroup string) (*PublicIPInfo, error) {
	resp, err := p.publicIPs.Get(ctx, resourceGroup, name, nil)
	if isNotFound(err) {
		return nil, fmt.Errorf("public IP %s in resource group %s: %w", name, resourceGroup, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get public IP %s: %w", name, err)
	}

	info := &PublicIPInfo{
		ID:            toValue(resp.ID),
		Name:          name,
		ResourceGroup: resourceGroup,
	}
	if props := resp.Properties; props != nil {
		info.IPAddress = toValue(props.IPAddress)
		info.AllocationMethod = resource.AllocationMethod(toValue(props.PublicIPAllocationMethod))
		info.ProvisioningState = string(toValue(props.ProvisioningState))
	}
	p.logger.Debug("Read public IP",
		zap.String("name", info.Name),
		zap.String("ip_address", info.IPAddress),
		zap.String("provisioning_state", info.ProvisioningState))
	return info, nil
}
