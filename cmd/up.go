package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"azwebvm/internal/logging"
	"azwebvm/internal/ssh"
	"azwebvm/internal/webvm"
)

var upParallel int

// upCmd represents the up command
var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Create or update the stack's resources",
	Long: `Deploy the web VM to the selected stack. Resources that changed are updated
in place or replaced, and the public IP address is printed once the VM is running.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		ctx, cancel := signalContext()
		defer cancel()

		engine, store := newEngine(ctx, cfg, upParallel)
		defer store.Close()

		keys := ssh.NewKeyProvider(cfg.SSH)
		defer keys.Close()

		result, err := engine.Up(ctx, cfg.Project, cfg.Stack, webvm.Program(cfg.Bag(), keys))
		if result != nil {
			printPlan(os.Stdout, result.Plan, false)
		}
		if err != nil {
			logging.Logger().Fatal("Deployment failed with provider error", zap.Error(err))
		}

		fmt.Println("Deployment succeeded")
		printOutputs(os.Stdout, result.Outputs)
	},
}

func init() {
	rootCmd.AddCommand(upCmd)

	upCmd.Flags().IntVarP(&upParallel, "parallel", "p", 0, "Maximum number of concurrent resource operations (default from config)")
}
