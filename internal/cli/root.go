// Package cli provides the command-line interface for the spread terminal.
package cli

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"kyoto-terminal/internal/broker"
	"kyoto-terminal/internal/config"
	"kyoto-terminal/internal/instrument"
	"kyoto-terminal/internal/logging"
	"kyoto-terminal/internal/models"
	"kyoto-terminal/internal/workspace"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2024-01-01"
)

// App holds the application dependencies.
type App struct {
	Config      *config.Config
	Logger      zerolog.Logger
	Underlyings *instrument.Underlyings
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	rootCmd := &cobra.Command{
		Use:   "kyoto",
		Short: "Kyoto - live multi-leg option spread terminal",
		Long: `Kyoto watches multi-leg option strategies on Indian index options.

Each tile is a strategy (vertical, calendar, butterfly, iron condor, iron fly)
on one underlying and expiry. While watching, quotes are refreshed every tick
with one provider request per underlying/expiry, and every tile shows its net
DEBIT or CREDIT.

Use 'kyoto help <command>' for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if dir, _ := cmd.Flags().GetString("config"); dir != "" {
				loaded, err := config.Load(dir)
				if err != nil {
					return err
				}
				app.Config = loaded
			}
			if app.Config == nil {
				app.Config = config.Default()
			}

			// Handle debug flag
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}

			app.Underlyings = instrument.NewUnderlyings(app.Config.Underlyings)
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/kyoto)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored output")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newWatchCmd(app))
	rootCmd.AddCommand(newKeyCmd(app))
	rootCmd.AddCommand(newChainCmd(app))
	rootCmd.AddCommand(newQuoteCmd(app))
	rootCmd.AddCommand(newPriceCmd(app))
	rootCmd.AddCommand(newTemplatesCmd(app))
	rootCmd.AddCommand(newHistoryCmd(app))

	return rootCmd
}

// fetcher builds the configured quote fetcher.
func (app *App) fetcher(mode broker.Mode) (broker.QuoteFetcher, error) {
	logger := logging.WithOperation(app.Logger, "fetch")
	return broker.New(broker.Config{
		Mode: mode,
		Upstox: broker.UpstoxConfig{
			BaseURL: app.Config.Provider.BaseURL,
			Timeout: app.Config.Provider.Timeout,
			Logger:  &logger,
		},
		Underlyings: app.Underlyings,
		Paper: broker.PaperFetcherConfig{
			Spots:      app.Config.Paper.Spots,
			StrikeStep: app.Config.Defaults.StrikeStep,
			Vol:        app.Config.Paper.Volatility,
		},
	})
}

// mode returns the provider mode, honoring a --paper flag when cmd has one.
func (app *App) mode(cmd *cobra.Command) broker.Mode {
	if paper, _ := cmd.Flags().GetBool("paper"); paper {
		return broker.ModePaper
	}
	return broker.Mode(app.Config.Provider.Mode)
}

// token reads the access token on every call so a token added to the
// environment is picked up without restarting.
func (app *App) token() broker.TokenSource {
	return broker.TokenFunc(func() string {
		return app.Config.AccessToken()
	})
}

// workspaces builds the workspace manager seeded from config.
func (app *App) workspaces() (*workspace.Manager, error) {
	cfg := app.Config
	kind, err := models.ParseStrategyKind(cfg.Defaults.Strategy)
	if err != nil {
		kind = models.Vertical
	}
	names := make([]string, len(cfg.Workspaces))
	for i, ws := range cfg.Workspaces {
		names[i] = ws.Name
	}
	m := workspace.NewManager(workspace.Defaults{
		Underlying: cfg.Defaults.Underlying,
		Strategy:   kind,
		Strike:     cfg.Defaults.Strike,
		StrikeStep: cfg.Defaults.StrikeStep,
	}, names...)

	for _, ws := range cfg.Workspaces {
		name := strings.TrimSpace(ws.Name)
		for _, tc := range ws.Tiles {
			spec := workspace.TileSpec{
				Underlying: tc.Underlying,
				Expiry:     tc.Expiry,
				Strike:     tc.Strike,
				Legs:       tc.Legs,
			}
			if tc.Strategy != "" {
				k, err := models.ParseStrategyKind(tc.Strategy)
				if err != nil {
					return nil, fmt.Errorf("workspace %s: %w", name, err)
				}
				spec.Strategy = k
			}
			if _, err := m.AddTile(name, spec); err != nil {
				return nil, fmt.Errorf("workspace %s: %w", name, err)
			}
		}
	}
	return m, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("Kyoto v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			return showConfig(output, app.Config)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": config.DefaultConfigDir()})
			} else {
				output.Println(filepath.Join(config.DefaultConfigDir(), "config.toml"))
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
			} else {
				output.Success("Configuration is valid")
			}
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) error {
	output.Bold("Provider")
	output.Printf("  Mode:        %s\n", cfg.Provider.Mode)
	output.Printf("  Base URL:    %s\n", cfg.Provider.BaseURL)
	output.Printf("  Timeout:     %s\n", cfg.Provider.Timeout)
	token := "not set"
	if t := cfg.AccessToken(); t != "" {
		token = logging.MaskCredential(t)
	}
	output.Printf("  Token:       %s\n", token)
	output.Println()

	output.Bold("Refresh")
	output.Printf("  Interval:    %s\n", cfg.Refresh.Interval)
	output.Printf("  Workers:     %d\n", cfg.Refresh.Workers)
	if cfg.Refresh.BreakerFailures > 0 {
		output.Printf("  Breaker:     %d failures, %s cooldown\n", cfg.Refresh.BreakerFailures, cfg.Refresh.BreakerCooldown)
	} else {
		output.Printf("  Breaker:     off\n")
	}
	output.Println()

	output.Bold("Defaults")
	output.Printf("  Underlying:  %s\n", cfg.Defaults.Underlying)
	output.Printf("  Strategy:    %s\n", cfg.Defaults.Strategy)
	output.Printf("  Strike:      %.0f (step %.0f)\n", cfg.Defaults.Strike, cfg.Defaults.StrikeStep)
	output.Println()

	output.Bold("Underlyings")
	u := instrument.NewUnderlyings(cfg.Underlyings)
	symbols := u.Symbols()
	sort.Strings(symbols)
	for _, sym := range symbols {
		key, _ := u.IndexKey(sym)
		output.Printf("  %-12s %s\n", sym, key)
	}
	output.Println()

	output.Bold("Workspaces")
	if len(cfg.Workspaces) == 0 {
		output.Dim("  none configured")
	}
	for _, ws := range cfg.Workspaces {
		output.Printf("  %-12s %d tiles\n", ws.Name, len(ws.Tiles))
	}
	output.Println()

	output.Bold("Alerts")
	webhook := "off"
	if cfg.Alerts.WebhookURL != "" {
		webhook = cfg.Alerts.WebhookURL
	}
	output.Printf("  Bell:        %t\n", cfg.Alerts.Bell)
	output.Printf("  Webhook:     %s\n", webhook)
	output.Printf("  Rules:       %d\n", len(cfg.Alerts.Rules))

	return nil
}
