package cli

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"kyoto-terminal/internal/broker"
	apperrors "kyoto-terminal/internal/errors"
	"kyoto-terminal/internal/grouping"
	"kyoto-terminal/internal/instrument"
	"kyoto-terminal/internal/models"
	"kyoto-terminal/internal/valuation"
	"kyoto-terminal/internal/workspace"
)

func newKeyCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "key <underlying> <expiry> <strike> <CE|PE>",
		Short: "Print the instrument identifier of one option contract",
		Example: `  kyoto key NIFTY 2024-01-25 21700 CE
  # NSE_FO|NIFTY24JAN2521700CE`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			strike, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return apperrors.Wrapf(apperrors.ErrInvalidStrike, "%s", args[2])
			}
			typ, ok := models.ParseOptionType(args[3])
			if !ok {
				return apperrors.Wrapf(apperrors.ErrInvalidOptionType, "%s", args[3])
			}
			key, err := instrument.Resolve(args[0], args[1], strike, typ)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]string{"instrument_key": key})
			}
			output.Println(key)
			return nil
		},
	}
}

func newChainCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chain <underlying> <expiry>",
		Short: "Fetch the option chain of one underlying and expiry",
		Example: `  kyoto chain NIFTY 2024-01-25
  kyoto chain BANKNIFTY 2024-01-24 --paper`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			mode := app.mode(cmd)
			if mode == broker.ModeQuotes {
				mode = broker.ModeChain
			}
			fetcher, err := app.fetcher(mode)
			if err != nil {
				return err
			}

			req := models.GroupRequest{Group: models.NewFetchGroup(args[0], args[1])}
			table, err := fetcher.Fetch(cmd.Context(), req, app.Config.AccessToken())
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(table)
			}

			keys := make([]string, 0, len(table))
			for k := range table {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			output.Bold("%s  %d contracts", req.Group, len(keys))
			t := NewTable(output, "INSTRUMENT", "LTP")
			for _, k := range keys {
				t.AddRow(k, output.Price(table[k]))
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().Bool("paper", false, "use offline paper prices")
	return cmd
}

func newQuoteCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "quote <instrument_key>...",
		Short: "Fetch last prices of instrument identifiers in one batch",
		Example: `  kyoto quote "NSE_FO|NIFTY24JAN2521700CE" "NSE_FO|NIFTY24JAN2521800CE"`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			fetcher, err := app.fetcher(broker.ModeQuotes)
			if err != nil {
				return err
			}

			keys := broker.Dedupe(args)
			req := models.GroupRequest{Group: models.NewFetchGroup("batch", ""), Keys: keys}
			table, err := fetcher.Fetch(cmd.Context(), req, app.Config.AccessToken())
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(table)
			}

			t := NewTable(output, "INSTRUMENT", "LTP")
			for _, k := range keys {
				t.AddRow(k, output.Price(table[k]))
			}
			t.Render()
			return nil
		},
	}
}

func newPriceCmd(app *App) *cobra.Command {
	var legsFlag string

	cmd := &cobra.Command{
		Use:   "price <strategy> <underlying> <expiry> [strike]",
		Short: "Value one strategy once",
		Long: `Fetch the group of one strategy and print its legs and net DEBIT or CREDIT.

Every leg starts at strike with the template's option type. --legs overrides
legs by position as strike:type pairs; an empty entry keeps the default.`,
		Example: `  kyoto price vertical NIFTY 2024-01-25 21700 --legs 21700:CE,21800:CE
  kyoto price iron_condor NIFTY 2024-01-25 --legs 21500:PE,21600:PE,21800:CE,21900:CE
  kyoto price butterfly BANKNIFTY 2024-01-24 47000 --paper`,
		Args: cobra.RangeArgs(3, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			kind, err := models.ParseStrategyKind(args[0])
			if err != nil {
				return err
			}
			spec := workspace.TileSpec{Underlying: args[1], Expiry: args[2], Strategy: kind}
			if len(args) == 4 {
				spec.Strike, err = strconv.ParseFloat(args[3], 64)
				if err != nil {
					return apperrors.Wrapf(apperrors.ErrInvalidStrike, "%s", args[3])
				}
			}
			if legsFlag != "" {
				spec.Legs, err = parseLegs(legsFlag)
				if err != nil {
					return err
				}
			}

			ws, err := app.workspaces()
			if err != nil {
				return err
			}
			tile, err := ws.AddTile(ws.Active(), spec)
			if err != nil {
				return err
			}

			mode := app.mode(cmd)
			fetcher, err := app.fetcher(mode)
			if err != nil {
				return err
			}
			result, fetchErr := priceTile(cmd.Context(), fetcher, tile, app.Config.AccessToken())

			if output.IsJSON() {
				return output.JSON(result)
			}
			if fetchErr != nil {
				output.Warning("%v", fetchErr)
			}
			renderResult(output, result)
			return nil
		},
	}

	cmd.Flags().StringVar(&legsFlag, "legs", "", "per-leg overrides as strike:type, comma separated")
	cmd.Flags().Bool("paper", false, "use offline paper prices")
	return cmd
}

// priceTile fetches the tile's group once and values the tile against it.
// A failed fetch still yields a result, which is WAITING.
func priceTile(ctx context.Context, fetcher broker.QuoteFetcher, tile models.Tile, token string) (models.ValuationResult, error) {
	var table models.QuoteTable
	var fetchErr error
	for _, req := range grouping.Group([]models.Tile{tile}) {
		table, fetchErr = fetcher.Fetch(ctx, req, token)
	}
	return valuation.Value(tile, valuation.TableLookup(table)), fetchErr
}

func renderResult(output *Output, r models.ValuationResult) {
	output.Bold("%s %s %s", r.Strategy, r.Underlying, r.Expiry)
	t := NewTable(output, "LEG", "QTY", "STRIKE", "TYPE", "LTP", "INSTRUMENT")
	for _, l := range r.Legs {
		key := l.Key
		if key == "" {
			key = output.DimText("unresolved")
		}
		t.AddRow(l.Label, fmt.Sprintf("%+d", l.Quantity), fmt.Sprintf("%.0f", l.Strike), string(l.Type), output.Price(l.Price), key)
	}
	t.Render()
	output.Printf("Net: %s\n", output.Status(r))
}

// parseLegs reads "21700:CE,21800,:PE" into position-indexed overrides.
func parseLegs(s string) ([]models.LegOverride, error) {
	parts := strings.Split(s, ",")
	legs := make([]models.LegOverride, len(parts))
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		strikeStr, typStr, _ := strings.Cut(part, ":")
		if strikeStr = strings.TrimSpace(strikeStr); strikeStr != "" {
			strike, err := strconv.ParseFloat(strikeStr, 64)
			if err != nil {
				return nil, apperrors.Wrapf(apperrors.ErrInvalidStrike, "leg %d: %s", i+1, strikeStr)
			}
			legs[i].Strike = strike
		}
		if typStr = strings.TrimSpace(typStr); typStr != "" {
			typ, ok := models.ParseOptionType(typStr)
			if !ok {
				return nil, apperrors.Wrapf(apperrors.ErrInvalidOptionType, "leg %d: %s", i+1, typStr)
			}
			legs[i].Type = typ
		}
	}
	return legs, nil
}

func newTemplatesCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "templates",
		Short: "List strategy templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			var all []models.StrategyTemplate
			for _, kind := range models.StrategyKinds() {
				tmpl, _ := models.Template(kind)
				all = append(all, tmpl)
			}
			if output.IsJSON() {
				return output.JSON(all)
			}

			for _, tmpl := range all {
				output.Bold("%s (%s)", tmpl.Name, tmpl.Kind)
				for i, leg := range tmpl.Legs {
					output.Printf("  %d. %-12s %+d %s\n", i+1, leg.Label, leg.Quantity, leg.DefaultType)
				}
			}
			return nil
		},
	}
}
