package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"azwebvm/internal/logging"
	"azwebvm/internal/state"
)

// stackCmd groups commands working on recorded stack state
var stackCmd = &cobra.Command{
	Use:   "stack",
	Short: "Inspect recorded stacks",
}

var stackExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Print the stack's recorded state as YAML",
	Long:  `Print the recorded resources, their outputs and the stack outputs. Secrets appear only as digests.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		ctx, cancel := signalContext()
		defer cancel()

		store := openStore(ctx, cfg)
		defer store.Close()

		snap, err := state.LoadOrNew(ctx, store, cfg.Project, cfg.Stack)
		if err != nil {
			logging.Logger().Fatal("Failed to load stack", zap.Error(err))
		}
		if err := exportSnapshot(os.Stdout, snap); err != nil {
			logging.Logger().Fatal("Failed to export stack", zap.Error(err))
		}
	},
}

var stackListCmd = &cobra.Command{
	Use:   "ls",
	Short: "List the project's stacks",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		ctx, cancel := signalContext()
		defer cancel()

		store := openStore(ctx, cfg)
		defer store.Close()

		stacks, err := store.ListStacks(ctx, cfg.Project)
		if err != nil {
			logging.Logger().Fatal("Failed to list stacks", zap.Error(err))
		}
		for _, s := range stacks {
			marker := " "
			if s == cfg.Stack {
				marker = "*"
			}
			fmt.Printf("%s %s\n", marker, s)
		}
	},
}

func init() {
	rootCmd.AddCommand(stackCmd)
	stackCmd.AddCommand(stackExportCmd)
	stackCmd.AddCommand(stackListCmd)
}

type exportedResource struct {
	Name         string            `yaml:"name"`
	Kind         string            `yaml:"kind"`
	ID           string            `yaml:"id"`
	Dependencies []string          `yaml:"dependencies,omitempty"`
	Args         map[string]any    `yaml:"args"`
	Outputs      map[string]string `yaml:"outputs,omitempty"`
	UpdatedAt    time.Time         `yaml:"updated_at"`
}

type exportedStack struct {
	Project      string             `yaml:"project"`
	Stack        string             `yaml:"stack"`
	LastUpdateID string             `yaml:"last_update_id,omitempty"`
	UpdatedAt    time.Time          `yaml:"updated_at"`
	Resources    []exportedResource `yaml:"resources"`
	Outputs      map[string]string  `yaml:"outputs,omitempty"`
}

// exportSnapshot writes the snapshot as YAML. Args go through their JSON
// form so that field names and secret digests match the stored state.
func exportSnapshot(w io.Writer, snap *state.Snapshot) error {
	out := exportedStack{
		Project:      snap.Project,
		Stack:        snap.Stack,
		LastUpdateID: snap.LastUpdateID,
		UpdatedAt:    snap.UpdatedAt,
		Outputs:      snap.GetOutputs(),
	}
	for _, st := range snap.List() {
		raw, err := json.Marshal(st.Args)
		if err != nil {
			return fmt.Errorf("failed to encode args of %s: %w", st.Name, err)
		}
		var args map[string]any
		if err := json.Unmarshal(raw, &args); err != nil {
			return fmt.Errorf("failed to decode args of %s: %w", st.Name, err)
		}
		out.Resources = append(out.Resources, exportedResource{
			Name:         st.Name,
			Kind:         string(st.Kind),
			ID:           st.ID,
			Dependencies: st.Dependencies,
			Args:         args,
			Outputs:      st.Outputs,
			UpdatedAt:    st.UpdatedAt,
		})
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return err
	}
	return enc.Close()
}
