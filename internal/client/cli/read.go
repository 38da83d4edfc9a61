package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iudanet/offsync/internal/models"
)

func (c *Cli) getCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <collection> <id>",
		Short: "Show an entity from the cache, fetching it when online",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, ok, err := c.app.Driver.Read(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%s not found", entityRef(args[0], args[1]))
			}
			return printJSON(c.io, value)
		},
	}
}

func (c *Cli) refreshCommand() *cobra.Command {
	var strategy string
	cmd := &cobra.Command{
		Use:   "refresh <collection> [id]",
		Short: "Reconcile cached entities with the server",
		Long: `Fetches the server version and reconciles it with the cached copy.
With an id, conflicts are resolved by the configured rules or left pending.
Without an id, every cached entity of the collection is reconciled and
conflicts are resolved with --strategy.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			collection := args[0]

			if len(args) == 2 {
				res, err := c.app.Driver.Refresh(cmd.Context(), collection, args[1])
				if err != nil {
					return err
				}
				switch {
				case res.Conflict == nil:
					c.io.Printf("✓ %s is up to date\n", entityRef(collection, args[1]))
				case res.Resolution != nil:
					c.io.Printf("✓ Conflict resolved automatically (%s)\n", res.Resolution.Strategy)
				default:
					c.io.Printf("⚠️  Conflict %s needs resolution: %s, fields %v\n",
						res.Conflict.ID, res.Conflict.ConflictType, res.Conflict.ConflictedFields)
					c.io.Printf("Run 'offsync resolve %s --strategy <local|remote|merge|copy>'.\n", res.Conflict.ID)
				}
				if res.Value == nil {
					c.io.Println("(deleted)")
					return nil
				}
				return printJSON(c.io, res.Value)
			}

			s, err := models.ParseStrategy(strategy)
			if err != nil {
				return err
			}
			results, err := c.app.Driver.RefreshCollection(cmd.Context(), collection, s)

			resolved := 0
			for _, r := range results {
				switch {
				case r.Err != nil:
					c.io.Printf("✗ %s: %v\n", entityRef(collection, r.ID), r.Err)
				case r.Resolution != nil:
					resolved++
					c.io.Printf("✓ %s: %s resolved with %s\n", entityRef(collection, r.ID), r.Conflict.ConflictType, r.Resolution.Strategy)
				}
			}
			c.io.Printf("Reconciled %d entities, %d conflict(s) resolved\n", len(results), resolved)
			return err
		},
	}
	cmd.Flags().StringVarP(&strategy, "strategy", "s", string(models.StrategyRemoteWins),
		"strategy for collection refresh: local, remote, merge, latest, copy")
	return cmd
}
