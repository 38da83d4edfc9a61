package cli

import (
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/iudanet/offsync/internal/models"
)

func (c *Cli) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connectivity, queue, conflicts and cache state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := c.app

			c.io.Println("=== Offline Sync Status ===")
			c.io.Println()
			c.io.Printf("Connectivity: %s\n", a.Monitor.Status())

			last, err := a.Driver.LastSyncTime(cmd.Context())
			if err != nil {
				// Не прерываем выполнение, просто показываем предупреждение
				c.io.Printf("Warning: failed to get last sync time: %v\n", err)
			} else {
				c.io.Printf("Last sync:    %s\n", ago(last))
			}
			c.io.Println()

			ops := a.Queue.List()
			byPriority := make(map[models.Priority]int)
			for _, op := range ops {
				byPriority[op.Priority]++
			}
			if len(ops) > 0 {
				c.io.Printf("⚠️  Pending sync: %d operation(s) waiting to be delivered\n", len(ops))
				for _, p := range []models.Priority{models.PriorityCritical, models.PriorityHigh, models.PriorityNormal, models.PriorityLow} {
					if n := byPriority[p]; n > 0 {
						c.io.Printf("   %-8s %d\n", p, n)
					}
				}
				c.io.Println("Run 'offsync drain' to send them now.")
			} else {
				c.io.Println("✓ All local changes delivered to server")
			}

			if conflicts := a.Resolver.PendingConflicts(); len(conflicts) > 0 {
				c.io.Printf("⚠️  Unresolved conflicts: %d (see 'offsync conflicts')\n", len(conflicts))
			}
			c.io.Println()

			stats := a.Cache.Stats()
			c.io.Printf("Cache: %s entries, %s durable, ~%s\n",
				humanize.Comma(int64(stats.Entries)),
				humanize.Comma(int64(stats.Durable)),
				humanize.Bytes(uint64(stats.Bytes)))
			return nil
		},
	}
}

func (c *Cli) cacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Maintain the local cache",
	}

	var maxBytes string
	clean := &cobra.Command{
		Use:   "clean",
		Short: "Remove expired entries and enforce the memory limit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit := c.app.Config.Cache.MaxBytes
			if maxBytes != "" {
				parsed, err := humanize.ParseBytes(maxBytes)
				if err != nil {
					return err
				}
				limit = int(parsed)
			}

			expired := c.app.Cache.CleanExpired(cmd.Context())
			evicted := 0
			if limit > 0 {
				evicted = c.app.Cache.EnforceMemoryLimit(cmd.Context(), limit)
			}

			stats := c.app.Cache.Stats()
			c.io.Printf("Expired removed: %d\n", expired)
			c.io.Printf("Evicted:         %d\n", evicted)
			c.io.Printf("Remaining:       %d entries, ~%s\n", stats.Entries, humanize.Bytes(uint64(stats.Bytes)))
			return nil
		},
	}
	clean.Flags().StringVar(&maxBytes, "max-bytes", "", `memory limit, e.g. "64MB" (default from config)`)

	cmd.AddCommand(clean)
	return cmd
}
