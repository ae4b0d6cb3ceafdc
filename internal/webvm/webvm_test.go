package webvm_test

import (
	"context"
	"errors"
	"slices"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"azwebvm/internal/config"
	"azwebvm/internal/deploy"
	"azwebvm/internal/provider"
	"azwebvm/internal/resource"
	"azwebvm/internal/ssh"
	"azwebvm/internal/state"
	"azwebvm/internal/webvm"
)

const (
	project = "azure-test"
	stack   = "dev"
)

// blankAddress reports public IPs without an assigned address.
type blankAddress struct {
	*provider.MemoryProvider
}

func (b blankAddress) GetPublicIP(ctx context.Context, name, group string) (*provider.PublicIPInfo, error) {
	info, err := b.MemoryProvider.GetPublicIP(ctx, name, group)
	if err != nil {
		return nil, err
	}
	info.IPAddress = ""
	return info, nil
}

// groupDeleteWatch records the disks still present when the resource group
// delete starts.
type groupDeleteWatch struct {
	*provider.MemoryProvider
	disksAtGroupDelete []string
}

func (w *groupDeleteWatch) Delete(ctx context.Context, st *resource.State) error {
	if st.Kind == resource.KindResourceGroup {
		w.disksAtGroupDelete = w.Disks()
	}
	return w.MemoryProvider.Delete(ctx, st)
}

func baseConfig() map[string]string {
	return map[string]string{
		"azure-test:username":   "azureuser",
		"azure-test:password":   "Passw0rd!",
		"azure-test:location":   "westus",
		"azure-test:namePrefix": "my",
	}
}

func indexOf(calls []provider.Call, op string, kind resource.Kind) int {
	return slices.IndexFunc(calls, func(c provider.Call) bool { return c.Op == op && c.Kind == kind })
}

var _ = Describe("Web VM deployment", func() {
	var (
		ctx    context.Context
		cloud  *provider.MemoryProvider
		store  *state.MemoryStore
		engine *deploy.Engine
		values map[string]string
		keys   *ssh.InMemoryKeyProvider
	)

	up := func() (*deploy.UpdateResult, error) {
		return engine.Up(ctx, project, stack, webvm.Program(config.NewBag(project, values), keys))
	}

	BeforeEach(func() {
		ctx = context.Background()
		cloud = provider.NewMemoryProvider()
		cloud.SeedAddress("my-rg/my-ip", "203.0.113.5")
		store = state.NewMemoryStore()
		engine = deploy.NewEngine(cloud, store, deploy.Options{})
		values = baseConfig()
		keys = ssh.NewInMemoryKeyProvider()
	})

	Context("Publishing the public IP", func() {
		It("should export the address assigned to the IP", func() {
			result, err := up()
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Outputs).To(Equal(map[string]string{"publicIP": "203.0.113.5"}))

			snap, err := store.Load(ctx, project, stack)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.GetOutputs()).To(HaveKeyWithValue("publicIP", "203.0.113.5"))
		})

		It("should read the address only after the VM and the IP are created", func() {
			cloud.SetDelay(resource.KindVirtualMachine, 50*time.Millisecond)

			_, err := up()
			Expect(err).NotTo(HaveOccurred())

			calls := cloud.Calls()
			read := indexOf(calls, provider.OpGetPublicIP, resource.KindPublicIP)
			Expect(read).To(BeNumerically(">", indexOf(calls, provider.OpCreate, resource.KindVirtualMachine)))
			Expect(read).To(BeNumerically(">", indexOf(calls, provider.OpCreate, resource.KindPublicIP)))
			Expect(cloud.Count(provider.OpGetPublicIP, "")).To(Equal(1))
		})

		It("should read the IP by its own name and resource group", func() {
			values["azure-test:namePrefix"] = "web"
			cloud.SeedAddress("web-rg/web-ip", "203.0.113.77")

			result, err := up()
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Outputs["publicIP"]).To(Equal("203.0.113.77"))
		})

		It("should fail without output when no address is assigned", func() {
			engine = deploy.NewEngine(blankAddress{cloud}, store, deploy.Options{})

			_, err := up()
			Expect(err).To(MatchError(ContainSubstring("has no address assigned")))

			snap, err := store.Load(ctx, project, stack)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.GetOutputs()).To(BeEmpty())
			Expect(snap.Len()).To(Equal(6))
		})

		It("should not read the address when the VM fails", func() {
			cloud.FailOn("my-vm", errors.New("SkuNotAvailable"))

			_, err := up()
			Expect(err).To(MatchError(ContainSubstring("SkuNotAvailable")))
			Expect(cloud.Count(provider.OpGetPublicIP, "")).To(Equal(0))
		})
	})

	Context("Configuration", func() {
		DescribeTable("should fail before any provider call when a required value is missing",
			func(key string) {
				delete(values, key)

				_, err := up()
				var missing *config.MissingKeyError
				Expect(errors.As(err, &missing)).To(BeTrue())
				Expect(missing.Key).To(Equal(key))
				Expect(cloud.Calls()).To(BeEmpty())
			},
			Entry("username", "azure-test:username"),
			Entry("password", "azure-test:password"),
			Entry("location", "azure-test:location"),
		)

		It("should reject an invalid SSH public key before any provider call", func() {
			values["azure-test:sshPublicKey"] = "ssh-rsa definitely-not-a-key"

			_, err := up()
			Expect(err).To(MatchError(ContainSubstring("sshPublicKey")))
			Expect(cloud.Calls()).To(BeEmpty())
		})

		It("should give the VM the stack's SSH key next to the password", func() {
			_, err := up()
			Expect(err).NotTo(HaveOccurred())

			kp, err := keys.GetOrCreate(ctx, "azure-test-dev")
			Expect(err).NotTo(HaveOccurred())

			snap, err := store.Load(ctx, project, stack)
			Expect(err).NotTo(HaveOccurred())
			vm, ok := snap.Get("my-vm")
			Expect(ok).To(BeTrue())
			args := vm.Args.(resource.VirtualMachineArgs)
			Expect(args.OSProfile.SSHPublicKeys).To(Equal([]string{kp.PublicKey}))
			Expect(args.OSProfile.DisablePasswordAuthentication).To(BeFalse())
			Expect(args.OSProfile.AdminPassword.Equal(resource.NewSecret("Passw0rd!"))).To(BeTrue())
			Expect(args.DeleteOSDiskOnTermination).To(BeTrue())
			Expect(args.DeleteDataDisksOnTermination).To(BeTrue())
		})
	})

	Context("Redeploying", func() {
		BeforeEach(func() {
			_, err := up()
			Expect(err).NotTo(HaveOccurred())
		})

		It("should not replace the VM when nothing changed", func() {
			result, err := up()
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Plan.HasChanges()).To(BeFalse())
			Expect(cloud.Count(provider.OpDelete, "")).To(Equal(0))
			Expect(result.Outputs["publicIP"]).To(Equal("203.0.113.5"))
		})

		It("should replace exactly the VM when the image SKU changes", func() {
			values["azure-test:imageSku"] = "18.04-LTS"

			result, err := up()
			Expect(err).NotTo(HaveOccurred())
			step, _ := result.Plan.Step("my-vm")
			Expect(step.Op).To(Equal(deploy.OpReplace))
			Expect(result.Plan.Count(deploy.OpReplace)).To(Equal(1))
			Expect(cloud.Count(provider.OpDelete, resource.KindVirtualMachine)).To(Equal(1))
			Expect(cloud.Count(provider.OpDelete, "")).To(Equal(1))
			Expect(result.Outputs["publicIP"]).To(Equal("203.0.113.5"))
		})

		It("should delete the disks together with the VM on teardown", func() {
			Expect(cloud.Disks()).To(ContainElement("myosdisk1"))

			watch := &groupDeleteWatch{MemoryProvider: cloud}
			engine = deploy.NewEngine(watch, store, deploy.Options{})

			_, err := engine.Destroy(ctx, project, stack)
			Expect(err).NotTo(HaveOccurred())
			Expect(cloud.Count(provider.OpDelete, resource.KindResourceGroup)).To(Equal(1))
			Expect(watch.disksAtGroupDelete).To(BeEmpty())
			Expect(cloud.Disks()).To(BeEmpty())
			Expect(cloud.Len()).To(Equal(0))
			Expect(cloud.Count(provider.OpDelete, resource.KindVirtualMachine)).To(Equal(1))
		})
	})

	Context("SSH keys during preview", func() {
		It("should not store a key pair", func() {
			plan, err := engine.Preview(ctx, project, stack, webvm.Program(config.NewBag(project, values), keys))
			Expect(err).NotTo(HaveOccurred())
			Expect(plan.Count(deploy.OpCreate)).To(Equal(6))

			_, err = keys.Get(ctx, "azure-test-dev")
			Expect(err).To(MatchError(ssh.ErrKeyNotFound))
		})

		It("should plan no change with the key stored by up", func() {
			_, err := up()
			Expect(err).NotTo(HaveOccurred())

			plan, err := engine.Preview(ctx, project, stack, webvm.Program(config.NewBag(project, values), keys))
			Expect(err).NotTo(HaveOccurred())
			Expect(plan.HasChanges()).To(BeFalse())
		})
	})

	Context("Resource graph", func() {
		It("should declare every resource after the resources it references", func() {
			plan, err := engine.Preview(ctx, project, stack, webvm.Program(config.NewBag(project, values), keys))
			Expect(err).NotTo(HaveOccurred())
			Expect(plan.Steps).To(HaveLen(6))

			seen := make(map[string]bool)
			for _, step := range plan.Steps {
				for _, ref := range step.New.References() {
					Expect(seen).To(HaveKey(ref), "%s references %s", step.Name, ref)
				}
				seen[step.Name] = true
			}
			Expect(cloud.Calls()).To(BeEmpty())
		})
	})
})
