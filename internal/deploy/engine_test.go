package deploy_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"azwebvm/internal/deploy"
	"azwebvm/internal/graph"
	"azwebvm/internal/logging"
	"azwebvm/internal/output"
	"azwebvm/internal/provider"
	"azwebvm/internal/resource"
	"azwebvm/internal/state"
)

const (
	project = "azure-test"
	stack   = "dev"
)

// stuckDelete refuses to delete one resource.
type stuckDelete struct {
	*provider.MemoryProvider
	name string
}

func (p stuckDelete) Delete(ctx context.Context, st *resource.State) error {
	if st.Output(resource.OutName) == p.name {
		return errors.New("OperationNotAllowed")
	}
	return p.MemoryProvider.Delete(ctx, st)
}

// topology describes the web VM resources with a few knobs the tests turn.
type topology struct {
	ipLocation string
	ipTags     map[string]string
	vmSize     string
	imageSKU   string
	withVM     bool
	exports    map[string]output.Output[string]
}

func defaultTopology() *topology {
	return &topology{ipLocation: "westus", vmSize: "Standard_A0", imageSKU: "16.04-LTS", withVM: true}
}

func (tp *topology) program(declared map[string]*deploy.Resource) deploy.Program {
	return func(s *deploy.Stack) error {
		decls := []struct {
			name string
			args resource.Args
		}{
			{"my", resource.ResourceGroupArgs{Name: "my-rg", Location: "westus"}},
			{"my-network", resource.VirtualNetworkArgs{Name: "my-network", ResourceGroup: "my", Location: "westus", AddressSpaces: []string{"10.0.0.0/16"}}},
			{"my-subnet", resource.SubnetArgs{Name: "my-subnet", ResourceGroup: "my", VirtualNetwork: "my-network", AddressPrefix: "10.0.2.0/24"}},
			{"my-ip", resource.PublicIPArgs{Name: "my-ip", ResourceGroup: "my", Location: tp.ipLocation, AllocationMethod: resource.Dynamic, Tags: tp.ipTags}},
			{"my-nic", resource.NetworkInterfaceArgs{Name: "my-nic", ResourceGroup: "my", Location: "westus", IPConfiguration: resource.IPConfiguration{
				Name: "webserveripcfg", Subnet: "my-subnet", PublicIP: "my-ip", PrivateIPAddressAllocation: resource.Dynamic,
			}}},
		}
		if tp.withVM {
			decls = append(decls, struct {
				name string
				args resource.Args
			}{"my-vm", resource.VirtualMachineArgs{
				Name:              "my-vm",
				ResourceGroup:     "my",
				Location:          "westus",
				Size:              tp.vmSize,
				NetworkInterfaces: []string{"my-nic"},
				OSProfile: resource.OSProfile{
					ComputerName:  "hostname",
					AdminUsername: "azureuser",
					AdminPassword: resource.NewSecret("s3cret!"),
				},
				Image:                     resource.ImageReference{Publisher: "canonical", Offer: "UbuntuServer", SKU: tp.imageSKU, Version: "latest"},
				OSDisk:                    resource.OSDisk{Name: "myosdisk1", CreateOption: "FromImage"},
				DeleteOSDiskOnTermination: true,
			}})
		}
		for _, d := range decls {
			r, err := s.Register(d.name, d.args)
			if err != nil {
				return err
			}
			if declared != nil {
				declared[d.name] = r
			}
		}
		for name, o := range tp.exports {
			s.Export(name, o)
		}
		return nil
	}
}

var _ = Describe("Engine", func() {
	var (
		ctx    context.Context
		cloud  *provider.MemoryProvider
		store  *state.MemoryStore
		engine *deploy.Engine
		tp     *topology
	)

	mutations := func() int {
		return cloud.Count(provider.OpCreate, "") + cloud.Count(provider.OpUpdate, "") + cloud.Count(provider.OpDelete, "")
	}

	BeforeEach(func() {
		ctx = context.Background()
		cloud = provider.NewMemoryProvider()
		store = state.NewMemoryStore()
		engine = deploy.NewEngine(cloud, store, deploy.Options{Parallel: 4})
		tp = defaultTopology()
	})

	Context("Declaring resources", func() {
		It("should reject references to resources declared later", func() {
			_, err := engine.Up(ctx, project, stack, func(s *deploy.Stack) error {
				_, err := s.Register("my-ip", resource.PublicIPArgs{Name: "my-ip", ResourceGroup: "my"})
				return err
			})

			var missing *graph.MissingRefError
			Expect(errors.As(err, &missing)).To(BeTrue())
			Expect(missing.To).To(Equal("my"))
			Expect(cloud.Calls()).To(BeEmpty())
			Expect(store.Saves()).To(Equal(0))
		})

		It("should reject duplicate names", func() {
			_, err := engine.Up(ctx, project, stack, func(s *deploy.Stack) error {
				if _, err := s.Register("my", resource.ResourceGroupArgs{Name: "my-rg"}); err != nil {
					return err
				}
				_, err := s.Register("my", resource.ResourceGroupArgs{Name: "other-rg"})
				return err
			})

			var dup *graph.DuplicateError
			Expect(errors.As(err, &dup)).To(BeTrue())
			Expect(cloud.Calls()).To(BeEmpty())
		})
	})

	Context("First deployment", func() {
		It("should create every resource and store the exports", func() {
			declared := make(map[string]*deploy.Resource)
			prog := tp.program(declared)
			wrapped := func(s *deploy.Stack) error {
				if err := prog(s); err != nil {
					return err
				}
				s.Export("vmId", output.Apply(s.Context(), declared["my-vm"].Output(),
					func(_ context.Context, st *resource.State) (string, error) { return st.ID, nil }))
				return nil
			}

			result, err := engine.Up(ctx, project, stack, wrapped)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Plan.Count(deploy.OpCreate)).To(Equal(6))
			Expect(result.Outputs).To(HaveKeyWithValue("vmId", HaveSuffix("/my-vm")))
			Expect(cloud.Count(provider.OpCreate, "")).To(Equal(6))

			snap, err := store.Load(ctx, project, stack)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.Len()).To(Equal(6))
			Expect(snap.LastUpdateID).To(Equal(result.ID))
			Expect(snap.GetOutputs()).To(Equal(result.Outputs))

			nic, ok := snap.Get("my-nic")
			Expect(ok).To(BeTrue())
			Expect(nic.Dependencies).To(ConsistOf("my", "my-subnet", "my-ip"))
		})

		It("should create a resource only after its dependencies", func() {
			_, err := engine.Up(ctx, project, stack, tp.program(nil))
			Expect(err).NotTo(HaveOccurred())

			position := make(map[string]int)
			for i, c := range cloud.Calls() {
				position[c.Name] = i
			}
			Expect(position["my-rg"]).To(BeNumerically("<", position["my-network"]))
			Expect(position["my-network"]).To(BeNumerically("<", position["my-subnet"]))
			Expect(position["my-subnet"]).To(BeNumerically("<", position["my-nic"]))
			Expect(position["my-ip"]).To(BeNumerically("<", position["my-nic"]))
			Expect(position["my-nic"]).To(BeNumerically("<", position["my-vm"]))
		})
	})

	Context("Subsequent deployments", func() {
		BeforeEach(func() {
			_, err := engine.Up(ctx, project, stack, tp.program(nil))
			Expect(err).NotTo(HaveOccurred())
		})

		It("should not call the provider when nothing changed", func() {
			before := mutations()
			result, err := engine.Up(ctx, project, stack, tp.program(nil))
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Plan.HasChanges()).To(BeFalse())
			Expect(mutations()).To(Equal(before))
		})

		It("should give every update its own ID", func() {
			first, err := store.Load(ctx, project, stack)
			Expect(err).NotTo(HaveOccurred())
			result, err := engine.Up(ctx, project, stack, tp.program(nil))
			Expect(err).NotTo(HaveOccurred())
			Expect(result.ID).NotTo(Equal(first.LastUpdateID))
		})

		It("should update the VM size in place", func() {
			tp.vmSize = "Standard_B1s"
			result, err := engine.Up(ctx, project, stack, tp.program(nil))
			Expect(err).NotTo(HaveOccurred())

			step, _ := result.Plan.Step("my-vm")
			Expect(step.Op).To(Equal(deploy.OpUpdate))
			Expect(step.Diff).To(ContainSubstring("Standard_B1s"))
			Expect(cloud.Count(provider.OpUpdate, resource.KindVirtualMachine)).To(Equal(1))
			Expect(cloud.Count(provider.OpDelete, "")).To(Equal(0))
		})

		It("should replace only the VM when the image changes", func() {
			tp.imageSKU = "18.04-LTS"
			result, err := engine.Up(ctx, project, stack, tp.program(nil))
			Expect(err).NotTo(HaveOccurred())

			Expect(result.Plan.Count(deploy.OpReplace)).To(Equal(1))
			Expect(cloud.Count(provider.OpDelete, resource.KindVirtualMachine)).To(Equal(1))
			Expect(cloud.Count(provider.OpCreate, resource.KindVirtualMachine)).To(Equal(2))
			Expect(cloud.Count(provider.OpDelete, resource.KindNetworkInterface)).To(Equal(0))
		})

		It("should replace everything built on a replaced resource", func() {
			tp.ipLocation = "eastus"
			plan, err := engine.Preview(ctx, project, stack, tp.program(nil))
			Expect(err).NotTo(HaveOccurred())

			for name, cause := range map[string]string{"my-ip": "", "my-nic": "my-ip", "my-vm": "my-ip"} {
				step, ok := plan.Step(name)
				Expect(ok).To(BeTrue())
				Expect(step.Op).To(Equal(deploy.OpReplace), name)
				Expect(step.Cause).To(Equal(cause), name)
			}
			subnet, _ := plan.Step("my-subnet")
			Expect(subnet.Op).To(Equal(deploy.OpSame))

			_, err = engine.Up(ctx, project, stack, tp.program(nil))
			Expect(err).NotTo(HaveOccurred())
			Expect(cloud.Count(provider.OpDelete, "")).To(Equal(3))
			Expect(cloud.Exists(resource.KindPublicIP, "my-ip")).To(BeTrue())
		})

		It("should update tags without replacing dependents", func() {
			tp.ipTags = map[string]string{"env": "dev"}
			result, err := engine.Up(ctx, project, stack, tp.program(nil))
			Expect(err).NotTo(HaveOccurred())

			step, _ := result.Plan.Step("my-ip")
			Expect(step.Op).To(Equal(deploy.OpUpdate))
			Expect(result.Plan.Count(deploy.OpReplace)).To(Equal(0))
		})

		It("should delete resources that are no longer declared", func() {
			tp.withVM = false
			result, err := engine.Up(ctx, project, stack, tp.program(nil))
			Expect(err).NotTo(HaveOccurred())

			step, _ := result.Plan.Step("my-vm")
			Expect(step.Op).To(Equal(deploy.OpDelete))
			Expect(cloud.Exists(resource.KindVirtualMachine, "my-vm")).To(BeFalse())
			Expect(cloud.Disks()).To(BeEmpty())

			snap, err := store.Load(ctx, project, stack)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.Len()).To(Equal(5))
		})

		It("should not touch the provider on preview", func() {
			tp.imageSKU = "18.04-LTS"
			before := len(cloud.Calls())
			saves := store.Saves()

			plan, err := engine.Preview(ctx, project, stack, tp.program(nil))
			Expect(err).NotTo(HaveOccurred())
			Expect(plan.Summary()).To(Equal("1 to replace, 5 to same"))
			Expect(cloud.Calls()).To(HaveLen(before))
			Expect(store.Saves()).To(Equal(saves))
		})
	})

	Context("Failures", func() {
		It("should skip dependents of a failed resource and store no outputs", func() {
			cloud.FailOn("my-nic", errors.New("quota exceeded"))
			declared := make(map[string]*deploy.Resource)
			tp.exports = map[string]output.Output[string]{"constant": output.Of("x")}

			_, err := engine.Up(ctx, project, stack, tp.program(declared))
			Expect(err).To(HaveOccurred())

			var stepErr *deploy.StepError
			Expect(errors.As(err, &stepErr)).To(BeTrue())
			Expect(stepErr.Name).To(Equal("my-nic"))
			Expect(stepErr.Op).To(Equal(deploy.OpCreate))
			Expect(err.Error()).To(ContainSubstring("quota exceeded"))

			Expect(cloud.Count(provider.OpCreate, resource.KindVirtualMachine)).To(Equal(0))
			_, vmErr := declared["my-vm"].Output().Value()
			Expect(vmErr).To(MatchError(deploy.ErrSkipped))

			snap, err := store.Load(ctx, project, stack)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.GetOutputs()).To(BeEmpty())
			_, recorded := snap.Get("my-ip")
			Expect(recorded).To(BeTrue())
			_, recorded = snap.Get("my-nic")
			Expect(recorded).To(BeFalse())
		})

		It("should fail the update when an export is rejected", func() {
			tp.exports = map[string]output.Output[string]{"broken": output.Failed[string](errors.New("read failed"))}

			_, err := engine.Up(ctx, project, stack, tp.program(nil))
			Expect(err).To(MatchError(ContainSubstring("read failed")))

			snap, err := store.Load(ctx, project, stack)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.Len()).To(Equal(6))
			Expect(snap.GetOutputs()).To(BeEmpty())
		})

		It("should stop when the context is cancelled", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			_, err := engine.Up(cctx, project, stack, tp.program(nil))
			Expect(err).To(MatchError(context.Canceled))
			Expect(cloud.Count(provider.OpCreate, "")).To(Equal(0))
		})
	})

	Context("Destroy", func() {
		It("should delete everything, dependents first", func() {
			_, err := engine.Up(ctx, project, stack, tp.program(nil))
			Expect(err).NotTo(HaveOccurred())

			result, err := engine.Destroy(ctx, project, stack)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Plan.Count(deploy.OpDelete)).To(Equal(6))
			Expect(cloud.Len()).To(Equal(0))
			Expect(cloud.Disks()).To(BeEmpty())

			var deleted []string
			for _, c := range cloud.Calls() {
				if c.Op == provider.OpDelete {
					deleted = append(deleted, c.Name)
				}
			}
			Expect(deleted[0]).To(Equal("my-vm"))
			Expect(deleted[len(deleted)-1]).To(Equal("my-rg"))

			snap, err := store.Load(ctx, project, stack)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.Len()).To(Equal(0))
		})

		It("should keep and report what is left when a delete fails", func() {
			_, err := engine.Up(ctx, project, stack, tp.program(nil))
			Expect(err).NotTo(HaveOccurred())

			core, logs := observer.New(zap.InfoLevel)
			logging.SetLogger(zap.New(core))
			DeferCleanup(logging.SetLogger, zap.NewNop())
			engine = deploy.NewEngine(stuckDelete{MemoryProvider: cloud, name: "my-vm"}, store, deploy.Options{Parallel: 4})

			_, err = engine.Destroy(ctx, project, stack)
			Expect(err).To(MatchError(ContainSubstring("OperationNotAllowed")))

			snap, err := store.Load(ctx, project, stack)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.Len()).To(Equal(6))

			failed := logs.FilterMessage("Destroy failed").All()
			Expect(failed).To(HaveLen(1))
			Expect(failed[0].ContextMap()["remaining"]).To(ConsistOf(
				"my", "my-ip", "my-network", "my-nic", "my-subnet", "my-vm"))
		})

		It("should be a no-op for an unknown stack", func() {
			result, err := engine.Destroy(ctx, project, "prod")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Plan.Steps).To(BeEmpty())
			Expect(cloud.Calls()).To(BeEmpty())
		})
	})
})
