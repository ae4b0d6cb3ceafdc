// Package webvm declares a single Azure VM serving a static page, together
// with its resource group and network, and publishes the VM's public IP.
package webvm

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"azwebvm/internal/config"
	"azwebvm/internal/deploy"
	"azwebvm/internal/logging"
	"azwebvm/internal/output"
	"azwebvm/internal/resource"
	"azwebvm/internal/ssh"
)

// Program reads the stack configuration from bag and declares the web VM.
// Without a configured sshPublicKey the admin key comes from keys; a nil
// keys leaves the VM with password authentication only.
func Program(bag *config.Bag, keys ssh.KeyProvider) deploy.Program {
	return func(stack *deploy.Stack) error {
		settings, err := LoadSettings(bag)
		if err != nil {
			return err
		}

		if settings.SSHPublicKey != "" {
			if settings.SSHPublicKey, err = ssh.NormalizePublicKey(settings.SSHPublicKey); err != nil {
				return fmt.Errorf("%s: %w", KeySSHPublicKey, err)
			}
		} else if keys != nil {
			kp, err := stackKeyPair(stack, keys)
			if err != nil {
				return err
			}
			settings.SSHPublicKey = kp.PublicKey
		}

		_, err = Define(stack, settings)
		return err
	}
}

// stackKeyPair returns the stack's admin key pair. A preview only reads the
// key store; when nothing is stored yet it plans with a throwaway pair.
func stackKeyPair(stack *deploy.Stack, keys ssh.KeyProvider) (*ssh.KeyPair, error) {
	name := stack.Project() + "-" + stack.Name()
	log := logging.Component("webvm").With(zap.String("key", name))

	var (
		kp  *ssh.KeyPair
		err error
	)
	if stack.DryRun() {
		kp, err = keys.Get(stack.Context(), name)
		if errors.Is(err, ssh.ErrKeyNotFound) {
			log.Info("No SSH key pair stored yet, up will create one")
			return ssh.GenerateKeyPair()
		}
	} else {
		kp, err = keys.GetOrCreate(stack.Context(), name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get SSH key pair: %w", err)
	}

	fp, err := kp.Fingerprint()
	if err != nil {
		return nil, fmt.Errorf("stored SSH key pair %s: %w", name, err)
	}
	log.Info("Using SSH key pair", zap.String("fingerprint", fp))
	return kp, nil
}

// Deployment holds the declared resources.
type Deployment struct {
	ResourceGroup    *deploy.Resource
	VirtualNetwork   *deploy.Resource
	Subnet           *deploy.Resource
	PublicIP         *deploy.Resource
	NetworkInterface *deploy.Resource
	VirtualMachine   *deploy.Resource

	// PublicIPAddress resolves once the VM and the public IP are created.
	PublicIPAddress output.Output[string]
}

// Define registers the resources on stack and exports publicIP.
func Define(stack *deploy.Stack, s Settings) (*Deployment, error) {
	n := names{prefix: s.NamePrefix}
	d := &Deployment{}
	var err error

	bootScript, err := GenerateBootScript(s.PageText, s.HTTPPort)
	if err != nil {
		return nil, err
	}

	if d.ResourceGroup, err = stack.Register(n.group(), resource.ResourceGroupArgs{
		Name:     n.groupName(),
		Location: s.Location,
	}); err != nil {
		return nil, err
	}

	if d.VirtualNetwork, err = stack.Register(n.network(), resource.VirtualNetworkArgs{
		Name:          n.network(),
		ResourceGroup: n.group(),
		Location:      s.Location,
		AddressSpaces: []string{DefaultAddressSpace},
	}); err != nil {
		return nil, err
	}

	if d.Subnet, err = stack.Register(n.subnet(), resource.SubnetArgs{
		Name:           n.subnet(),
		ResourceGroup:  n.group(),
		VirtualNetwork: n.network(),
		AddressPrefix:  DefaultSubnetPrefix,
	}); err != nil {
		return nil, err
	}

	if d.PublicIP, err = stack.Register(n.publicIP(), resource.PublicIPArgs{
		Name:             n.publicIP(),
		ResourceGroup:    n.group(),
		Location:         s.Location,
		AllocationMethod: resource.Dynamic,
	}); err != nil {
		return nil, err
	}

	if d.NetworkInterface, err = stack.Register(n.nic(), resource.NetworkInterfaceArgs{
		Name:          n.nic(),
		ResourceGroup: n.group(),
		Location:      s.Location,
		IPConfiguration: resource.IPConfiguration{
			Name:                       DefaultIPConfigName,
			Subnet:                     n.subnet(),
			PublicIP:                   n.publicIP(),
			PrivateIPAddressAllocation: resource.Dynamic,
		},
	}); err != nil {
		return nil, err
	}

	vm := resource.VirtualMachineArgs{
		Name:              n.vm(),
		ResourceGroup:     n.group(),
		Location:          s.Location,
		Size:              s.VMSize,
		NetworkInterfaces: []string{n.nic()},
		OSProfile: resource.OSProfile{
			ComputerName:  DefaultComputerName,
			AdminUsername: s.Username,
			AdminPassword: s.Password,
			CustomData:    bootScript,
			// Password login stays on next to the key.
			DisablePasswordAuthentication: false,
		},
		Image: s.Image,
		OSDisk: resource.OSDisk{
			Name:         DefaultOSDiskName,
			CreateOption: "FromImage",
		},
		DeleteOSDiskOnTermination:    true,
		DeleteDataDisksOnTermination: true,
	}
	if s.SSHPublicKey != "" {
		vm.OSProfile.SSHPublicKeys = []string{s.SSHPublicKey}
	}
	if d.VirtualMachine, err = stack.Register(n.vm(), vm); err != nil {
		return nil, err
	}

	d.PublicIPAddress = output.JoinThen(stack.Context(), d.VirtualMachine.Output(), d.PublicIP.Output(),
		func(ctx context.Context, _ *resource.State, ip *resource.State) (string, error) {
			return readAddress(ctx, stack, ip)
		})
	stack.Export(OutputPublicIP, d.PublicIPAddress)
	return d, nil
}

// readAddress queries the provider for the address currently assigned to
// the public IP. The name and group come from the IP's own recorded state.
func readAddress(ctx context.Context, stack *deploy.Stack, ip *resource.State) (string, error) {
	name := ip.Output(resource.OutName)
	group := ip.Output(resource.OutResourceGroupName)

	info, err := stack.GetPublicIP(ctx, name, group)
	if err != nil {
		return "", fmt.Errorf("failed to read public IP %s: %w", name, err)
	}
	if info.IPAddress == "" {
		return "", fmt.Errorf("public IP %s in %s has no address assigned", name, group)
	}

	logging.Logger().Info("Public IP address assigned",
		zap.String("name", name),
		zap.String("resource_group", group),
		zap.String("address", info.IPAddress))
	return info.IPAddress, nil
}
