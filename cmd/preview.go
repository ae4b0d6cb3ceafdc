package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"azwebvm/internal/deploy"
	"azwebvm/internal/logging"
	"azwebvm/internal/ssh"
	"azwebvm/internal/webvm"
)

var previewDiff bool

// previewCmd represents the preview command
var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Show what up would change",
	Long:  `Diff the declared resources against the stack's recorded state without calling the cloud.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		ctx, cancel := signalContext()
		defer cancel()

		engine, store := newEngine(ctx, cfg, 0)
		defer store.Close()

		keys := ssh.NewKeyProvider(cfg.SSH)
		defer keys.Close()

		plan, err := engine.Preview(ctx, cfg.Project, cfg.Stack, webvm.Program(cfg.Bag(), keys))
		if err != nil {
			logging.Logger().Fatal("Preview failed", zap.Error(err))
		}
		printPlan(os.Stdout, plan, previewDiff)
	},
}

func init() {
	rootCmd.AddCommand(previewCmd)

	previewCmd.Flags().BoolVarP(&previewDiff, "diff", "d", false, "Show changed attributes")
}

var opSymbols = map[deploy.StepOp]string{
	deploy.OpSame:    " ",
	deploy.OpCreate:  "+",
	deploy.OpUpdate:  "~",
	deploy.OpReplace: "+-",
	deploy.OpDelete:  "-",
}

func printPlan(w io.Writer, plan *deploy.Plan, showDiff bool) {
	for _, s := range plan.Steps {
		line := fmt.Sprintf("%-2s %-8s %-20s %s", opSymbols[s.Op], s.Op, s.Name, s.Kind)
		if s.Cause != "" {
			line += fmt.Sprintf(" (replaced with %s)", s.Cause)
		}
		fmt.Fprintln(w, strings.TrimRight(line, " "))
		if showDiff && s.Diff != "" {
			for _, d := range strings.Split(strings.TrimRight(s.Diff, "\n"), "\n") {
				fmt.Fprintf(w, "      %s\n", d)
			}
		}
	}
	fmt.Fprintf(w, "Resources: %s\n", plan.Summary())
}
