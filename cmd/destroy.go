package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"azwebvm/internal/logging"
)

var (
	destroyParallel int
	destroyYes      bool
)

// destroyCmd represents the destroy command
var destroyCmd = &cobra.Command{
	Use:   "destroy",
	Short: "Delete every resource of the stack",
	Long:  `Tear the stack down. The VM goes first, together with its disks, and the resource group last.`,
	Run: func(cmd *cobra.Command, args []string) {
		if !destroyYes {
			logging.Logger().Fatal("Refusing to destroy without --yes")
		}
		cfg := loadConfig()

		ctx, cancel := signalContext()
		defer cancel()

		engine, store := newEngine(ctx, cfg, destroyParallel)
		defer store.Close()

		result, err := engine.Destroy(ctx, cfg.Project, cfg.Stack)
		if result != nil {
			printPlan(os.Stdout, result.Plan, false)
		}
		if err != nil {
			logging.Logger().Fatal("Destroy failed with provider error", zap.Error(err))
		}
		fmt.Printf("Stack %s destroyed\n", cfg.Stack)
	},
}

func init() {
	rootCmd.AddCommand(destroyCmd)

	destroyCmd.Flags().IntVarP(&destroyParallel, "parallel", "p", 0, "Maximum number of concurrent deletes (default from config)")
	destroyCmd.Flags().BoolVarP(&destroyYes, "yes", "y", false, "Confirm the teardown")
}
