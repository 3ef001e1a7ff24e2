package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"kyoto-terminal/internal/broker"
	"kyoto-terminal/internal/config"
	"kyoto-terminal/internal/logging"
	"kyoto-terminal/internal/metrics"
	"kyoto-terminal/internal/models"
	"kyoto-terminal/internal/notify"
	"kyoto-terminal/internal/quotes"
	"kyoto-terminal/internal/resilience"
	"kyoto-terminal/internal/store"
	"kyoto-terminal/internal/stream"
	"kyoto-terminal/internal/workspace"
	"kyoto-terminal/pkg/utils"
)

func newWatchCmd(app *App) *cobra.Command {
	var (
		workspaceName string
		record        bool
		once          bool
		interval      time.Duration
		alertFlags    []string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the tiles of a workspace with live refresh",
		Long: `Start the live refresh loop on a workspace and print every frame.

Workspaces and their tiles come from [[workspaces]] in config.toml. Without
any configured tiles a single default tile is watched. SIGHUP clears the
quote cache.`,
		Example: `  kyoto watch
  kyoto watch --workspace Weekly --record
  kyoto watch --once --json
  kyoto watch --paper --alert 1:above:40 --alert 2:below:-15`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			logger := app.Logger

			ws, err := app.workspaces()
			if err != nil {
				return err
			}
			if workspaceName != "" {
				if err := ws.SetActive(workspaceName); err != nil {
					return err
				}
			}
			if _, tiles := ws.Visible(); len(tiles) == 0 {
				if _, err := ws.AddTile(ws.Active(), workspace.TileSpec{}); err != nil {
					return err
				}
			}

			mode := app.mode(cmd)
			fetcher, err := app.fetcher(mode)
			if err != nil {
				return err
			}
			if mode.RequiresToken() && app.Config.AccessToken() == "" {
				output.Warning("No access token configured; set UPSTOX_ACCESS_TOKEN or use --paper")
			}
			if mode != broker.ModePaper && !utils.IsMarketOpen() {
				output.Warning("Market is %s; prices may be stale. Next open: %s",
					utils.GetMarketStatus(), utils.GetNextMarketOpen(time.Now()).Format("Mon 02 Jan 15:04"))
			}

			if interval <= 0 {
				interval = app.Config.Refresh.Interval
			}

			monitor, err := app.alertMonitor(cmd, alertFlags)
			if err != nil {
				return err
			}

			hub := stream.NewHub()
			defer hub.Close()

			loop := stream.NewLoop(stream.LoopConfig{
				Fetcher:        fetcher,
				Cache:          quotes.New(),
				Tiles:          ws,
				Token:          app.token(),
				Publisher:      hub,
				Interval:       interval,
				Workers:        app.Config.Refresh.Workers,
				SkipTokenCheck: !mode.RequiresToken(),
				Breakers:       app.breakers(),
				Logger:         &logger,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if once {
				frame := loop.Tick(ctx)
				return renderFrame(output, frame)
			}

			if app.Config.Metrics.Enabled {
				srv := metrics.Serve(app.Config.Metrics.Addr)
				defer srv.Close()
				logger.Info().Str("addr", app.Config.Metrics.Addr).Msg("Metrics endpoint started")
			}

			if record || app.Config.Store.Enabled {
				journal, err := store.NewSQLiteStore(app.storePath())
				if err != nil {
					return err
				}
				defer journal.Close()
				go store.Record(ctx, journal, hub.Subscribe("journal"), logger)
			}

			if monitor.Count() > 0 {
				go monitor.Run(ctx, hub.Subscribe("alerts"))
			}

			hup := make(chan os.Signal, 1)
			signal.Notify(hup, syscall.SIGHUP)
			defer signal.Stop(hup)
			go clearOnSignal(ctx, hup, loop.Cache(), logger)

			frames := hub.Subscribe("cli")
			loop.Enable()
			go loop.Run(ctx)

			for {
				select {
				case <-ctx.Done():
					loop.Disable()
					output.Dim("Stopped after %d ticks", loop.Cycle())
					return nil
				case frame, ok := <-frames:
					if !ok {
						return nil
					}
					if err := renderFrame(output, frame); err != nil {
						return err
					}
				}
			}
		},
	}

	cmd.Flags().StringVarP(&workspaceName, "workspace", "w", "", "workspace to watch (default: first configured)")
	cmd.Flags().BoolVar(&record, "record", false, "journal every frame to SQLite")
	cmd.Flags().BoolVar(&once, "once", false, "run a single tick and exit")
	cmd.Flags().DurationVar(&interval, "interval", 0, "refresh interval (default: refresh.interval)")
	cmd.Flags().Bool("paper", false, "use offline paper prices")
	cmd.Flags().StringArrayVar(&alertFlags, "alert", nil, "net-cost alert as tile:condition:level (repeatable)")

	return cmd
}

// renderFrame prints one frame as a table of tiles.
func renderFrame(output *Output, frame models.Frame) error {
	if output.IsJSON() {
		return output.JSON(frame)
	}

	output.Bold("%s  cycle %d  %s", frame.Workspace, frame.Cycle,
		frame.At.In(utils.IndiaLocation).Format("15:04:05"))

	table := NewTable(output, "TILE", "UNDERLYING", "EXPIRY", "STRATEGY", "LEGS", "NET")
	for _, r := range frame.Results {
		table.AddRow(
			fmt.Sprintf("#%d", r.TileID),
			r.Underlying,
			r.Expiry,
			string(r.Strategy),
			legSummary(output, r.Legs),
			output.Status(r),
		)
	}
	table.Render()

	if len(frame.Errors) > 0 {
		groups := make([]string, 0, len(frame.Errors))
		for g := range frame.Errors {
			groups = append(groups, g)
		}
		sort.Strings(groups)
		for _, g := range groups {
			if asOf, ok := frame.Stale[g]; ok {
				output.Warning("  %s: %s (prices from cycle %d)", g, frame.Errors[g], asOf)
				continue
			}
			output.Warning("  %s: %s", g, frame.Errors[g])
		}
	}
	output.Println()
	return nil
}

func legSummary(output *Output, legs []models.LegQuote) string {
	s := ""
	for i, l := range legs {
		if i > 0 {
			s += " "
		}
		sign := "+"
		if l.Quantity < 0 {
			sign = ""
		}
		s += fmt.Sprintf("%s%d %.0f%s@%s", sign, l.Quantity, l.Strike, l.Type, output.Price(l.Price))
	}
	return s
}

// clearOnSignal empties the quote cache on every signal until ctx is done.
// Tiles read WAITING until their groups are fetched again.
func clearOnSignal(ctx context.Context, sigs <-chan os.Signal, cache *quotes.Cache, logger zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigs:
			groups := cache.Len()
			cache.Clear()
			metrics.CachedGroups.Set(0)
			logger.Info().Int("groups", groups).Msg("Quote cache cleared")
		}
	}
}

// breakers returns per-group circuit breakers, nil when disabled.
func (app *App) breakers() *resilience.GroupBreakers {
	cfg := resilience.DefaultBreakerConfig()
	cfg.FailureThreshold = app.Config.Refresh.BreakerFailures
	cfg.Cooldown = app.Config.Refresh.BreakerCooldown
	if !cfg.Enabled() {
		return nil
	}
	return resilience.NewGroupBreakers(cfg)
}

// alertMonitor builds the monitor from configured rules plus --alert flags.
func (app *App) alertMonitor(cmd *cobra.Command, flags []string) (*stream.AlertMonitor, error) {
	cfg := app.Config.Alerts
	noColor, _ := cmd.Flags().GetBool("no-color")

	notifiers := notify.MultiNotifier{
		notify.NewTerminalNotifier(cmd.ErrOrStderr(), cfg.Bell, app.Config.UI.ColorEnabled && !noColor),
	}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, notify.NewWebhookNotifier(cfg.WebhookURL))
	}

	logger := logging.WithOperation(app.Logger, "alerts")
	monitor := stream.NewAlertMonitor(notifiers, &logger)

	for _, r := range cfg.Rules {
		monitor.AddAlert(stream.Alert{
			TileID:    r.Tile,
			Condition: stream.AlertCondition(r.Condition),
			Level:     r.Level,
		})
	}
	for _, f := range flags {
		a, err := stream.ParseAlert(f)
		if err != nil {
			return nil, err
		}
		monitor.AddAlert(a)
	}
	return monitor, nil
}

// storePath resolves the journal database path.
func (app *App) storePath() string {
	if app.Config.Store.Path != "" {
		return app.Config.Store.Path
	}
	return filepath.Join(config.DefaultConfigDir(), "kyoto.db")
}
