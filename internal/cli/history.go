package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"kyoto-terminal/internal/models"
	"kyoto-terminal/internal/store"
	"kyoto-terminal/pkg/utils"
)

func newHistoryCmd(app *App) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <tile-id>",
		Short: "Show recorded valuations of a tile",
		Long:  "Show valuations journaled by 'kyoto watch --record', newest first.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid tile id %q", args[0])
			}

			journal, err := store.NewSQLiteStore(app.storePath())
			if err != nil {
				return err
			}
			defer journal.Close()

			rows, err := journal.TileHistory(cmd.Context(), id, limit)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(rows)
			}
			if len(rows) == 0 {
				output.Dim("No recorded valuations for tile #%d", id)
				return nil
			}

			t := NewTable(output, "TIME", "CYCLE", "WORKSPACE", "GROUP", "STRATEGY", "NET")
			for _, r := range rows {
				t.AddRow(
					r.At.In(utils.IndiaLocation).Format("02 Jan 15:04:05"),
					strconv.FormatUint(r.Cycle, 10),
					r.Workspace,
					r.Group.String(),
					string(r.Strategy),
					output.Status(models.ValuationResult{Status: r.Status, Magnitude: r.Magnitude}),
				)
			}
			t.Render()
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of rows")
	return cmd
}
