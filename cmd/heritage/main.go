// Command heritage is a terminal client for the cultural heritage platform:
// sign in, manage the account, and follow notifications.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nhle/heritage-client/internal/app"
	"github.com/nhle/heritage-client/internal/logging"
	"github.com/nhle/heritage-client/internal/model"
)

var (
	// Global flags
	configPath string
	noKeyring  bool
	verbose    bool

	cfg    *model.AppConfig
	logger *zap.Logger
)

// rootCmd launches the interactive UI when run without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "heritage",
	Short: "Terminal client for the heritage platform",
	Long: `heritage signs you in to the heritage platform and keeps an eye on
your notifications.

Run without arguments to start the interactive interface.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = model.LoadConfig(configPath)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Log.Level = "debug"
		}
		logger, err = logging.New(cfg.Log)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger.Debug("config loaded", zap.String("path", configPath), zap.String("api", cfg.API.BaseURL))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runInteractive,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", model.DefaultConfigPath(), "Path to the config file")
	rootCmd.PersistentFlags().BoolVar(&noKeyring, "no-keyring", false, "Keep the session token in memory only")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd, registerCmd, passwordCmd, profileCmd)
	rootCmd.AddCommand(notificationsCmd, watchCmd, configCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runInteractive restores the remembered session and runs the TUI until
// the user quits.
func runInteractive(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(true)
	if err != nil {
		return err
	}
	defer rt.Close()

	rt.restore(cmd.Context())

	root := app.New(rt.session, rt.poller, cfg.Notifications.PageSize)
	defer root.Close()

	if _, err := tea.NewProgram(root, tea.WithAltScreen(), tea.WithContext(cmd.Context())).Run(); err != nil {
		return fmt.Errorf("running interface: %w", err)
	}
	return nil
}
