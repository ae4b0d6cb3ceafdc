package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"azwebvm/internal/config"
	"azwebvm/internal/deploy"
	"azwebvm/internal/logging"
	"azwebvm/internal/provider"
	"azwebvm/internal/state"
)

var (
	configPath string
	stackName  string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "azwebvm",
	Short: "Deploy a web server VM to Azure",
	Long: `azwebvm provisions an Azure resource group, virtual network, subnet,
public IP, network interface and Linux VM serving a static page, and
publishes the VM's public IP address as the stack output publicIP.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default $CONFIG_PATH or azwebvm.yaml)")
	rootCmd.PersistentFlags().StringVarP(&stackName, "stack", "s", "", "Stack to operate on (overrides the config file)")
}

// loadConfig reads the config file and applies the persistent flags
func loadConfig() *config.Config {
	path := configPath
	if path == "" {
		path = config.Path()
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		logging.Logger().Fatal("Failed to load configuration", zap.String("path", path), zap.Error(err))
	}
	if stackName != "" {
		cfg.Stack = stackName
	}

	logging.Logger().Debug("Configuration loaded",
		zap.String("project", cfg.Project),
		zap.String("stack", cfg.Stack),
		zap.String("provider", string(cfg.Provider.Type)),
		zap.String("backend", string(cfg.Backend.Type)))
	return cfg
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func openStore(ctx context.Context, cfg *config.Config) state.Store {
	store, err := state.NewStore(ctx, cfg.Backend)
	if err != nil {
		logging.Logger().Fatal("Failed to open state backend", zap.Error(err))
	}
	return store
}

// newEngine wires the configured provider and state backend
func newEngine(ctx context.Context, cfg *config.Config, parallel int) (*deploy.Engine, state.Store) {
	p, err := provider.New(ctx, cfg.Provider)
	if err != nil {
		logging.Logger().Fatal("Failed to create provider", zap.Error(err))
	}
	store := openStore(ctx, cfg)
	if parallel <= 0 {
		parallel = cfg.Parallel
	}
	return deploy.NewEngine(p, store, deploy.Options{Parallel: parallel}), store
}
