package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iudanet/offsync/internal/models"
)

func (c *Cli) conflictsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "conflicts [id]",
		Short: "List unresolved conflicts or show one in detail",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				conflict, err := c.app.Resolver.Get(args[0])
				if err != nil {
					return err
				}
				return printJSON(c.io, conflict)
			}

			conflicts := c.app.Resolver.PendingConflicts()
			if len(conflicts) == 0 {
				c.io.Println("No unresolved conflicts")
				return nil
			}

			tw := newTable(c.io)
			fmt.Fprintln(tw, "ID\tENTITY\tTYPE\tSEVERITY\tFIELDS\tSUGGESTED\tDETECTED")
			for _, conflict := range conflicts {
				suggested := "-"
				if conflict.SuggestedResolution != nil {
					suggested = string(conflict.SuggestedResolution.Strategy)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					conflict.ID,
					entityRef(conflict.EntityType, conflict.EntityID),
					conflict.ConflictType,
					conflict.Severity,
					strings.Join(conflict.ConflictedFields, ","),
					suggested,
					ago(conflict.DetectedAt))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			c.io.Printf("\nTotal: %d\n", len(conflicts))
			return nil
		},
	}
}

func (c *Cli) resolveCommand() *cobra.Command {
	var strategy string
	cmd := &cobra.Command{
		Use:   "resolve <conflict-id>",
		Short: "Resolve a pending conflict",
		Long: `Resolves a conflict with the given strategy. Without --strategy the
suggested resolution is applied, which only works for auto-resolvable
conflicts. A resolved version that differs from the server is queued.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var s models.Strategy
			if strategy != "" {
				parsed, err := models.ParseStrategy(strategy)
				if err != nil {
					return err
				}
				s = parsed
			}

			res, err := c.app.Driver.Resolve(cmd.Context(), args[0], s)
			if err != nil {
				return err
			}

			c.io.Printf("✓ Conflict %s resolved with %s\n", args[0], res.Strategy)
			if res.Copy != nil {
				c.io.Println("Local version kept as a new entity")
			}
			if pending := c.app.Queue.Len(); pending > 0 {
				c.io.Printf("Pending operations: %d\n", pending)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&strategy, "strategy", "s", "", "local, remote, merge or copy")
	return cmd
}
