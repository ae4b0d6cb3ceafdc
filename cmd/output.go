package cmd

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"azwebvm/internal/logging"
	"azwebvm/internal/state"
)

// outputCmd represents the output command
var outputCmd = &cobra.Command{
	Use:   "output [name]",
	Short: "Print the stack outputs",
	Long:  `Print the outputs recorded by the last successful up. With a name only that value is printed.`,
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		ctx, cancel := signalContext()
		defer cancel()

		store := openStore(ctx, cfg)
		defer store.Close()

		snap, err := store.Load(ctx, cfg.Project, cfg.Stack)
		if errors.Is(err, state.ErrNotFound) {
			logging.Logger().Fatal("Stack has not been deployed", zap.String("stack", cfg.Stack))
		}
		if err != nil {
			logging.Logger().Fatal("Failed to load stack", zap.Error(err))
		}

		outputs := snap.GetOutputs()
		if len(args) == 1 {
			v, ok := outputs[args[0]]
			if !ok {
				logging.Logger().Fatal("Output not found", zap.String("name", args[0]))
			}
			fmt.Println(v)
			return
		}
		printOutputs(os.Stdout, outputs)
	},
}

func init() {
	rootCmd.AddCommand(outputCmd)
}

func printOutputs(w io.Writer, outputs map[string]string) {
	if len(outputs) == 0 {
		return
	}
	fmt.Fprintln(w, "Outputs:")
	for _, k := range slices.Sorted(maps.Keys(outputs)) {
		fmt.Fprintf(w, "    %s: %q\n", k, outputs[k])
	}
}
