package cli

import (
	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"

	"github.com/iudanet/offsync/internal/client/sync"
)

func (c *Cli) runCommand() *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Stay in the foreground and sync whenever connectivity allows",
		Long: `Follows connectivity changes, drains the queue after reconnects and
periodically while it is not empty, and sweeps the cache. Stops on Ctrl+C.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				wg          conc.WaitGroup
				unsubscribe = func() {}
			)
			if !quiet {
				var events <-chan sync.Event
				events, unsubscribe = c.app.Driver.Subscribe(64)
				wg.Go(func() {
					for ev := range events {
						c.printEvent(ev)
					}
				})
			}

			c.io.Printf("Syncing with %s (%s). Press Ctrl+C to stop.\n",
				c.app.Config.Remote.URL, c.app.Monitor.Status())
			err := c.app.Run(cmd.Context())

			unsubscribe()
			wg.Wait()

			c.io.Printf("Stopped. Pending operations: %d\n", c.app.Queue.Len())
			return err
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print sync events")
	return cmd
}

func (c *Cli) printEvent(ev sync.Event) {
	switch ev.Type {
	case sync.EventOperationSent:
		c.io.Printf("✓ sent %s %s\n", ev.Operation.Kind, ev.Operation.EntityKey())
	case sync.EventOperationFailed:
		c.io.Printf("… %s %s failed (attempt %d/%d): %v\n",
			ev.Operation.Kind, ev.Operation.EntityKey(), ev.Operation.Attempts, ev.Operation.MaxAttempts, ev.Err)
	case sync.EventOperationDropped:
		c.io.Printf("✗ dropped %s %s: %v\n", ev.Operation.Kind, ev.Operation.EntityKey(), ev.Err)
	case sync.EventConflictDetected:
		c.io.Printf("⚠️  conflict %s on %s (%s)\n",
			ev.Conflict.ID, entityRef(ev.Conflict.EntityType, ev.Conflict.EntityID), ev.Conflict.ConflictType)
	case sync.EventDrainFinished:
		if r := ev.Result; r != nil && (r.Sent > 0 || r.Failed > 0 || r.Dropped > 0) {
			c.io.Printf("drain: sent %d, failed %d, dropped %d, deferred %d\n", r.Sent, r.Failed, r.Dropped, r.Deferred)
		}
	}
}
