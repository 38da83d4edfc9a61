package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iudanet/offsync/internal/client/sync"
	"github.com/iudanet/offsync/internal/models"
	"github.com/iudanet/offsync/internal/validation"
)

func (c *Cli) enqueueCommand() *cobra.Command {
	var (
		data     string
		priority string
	)
	cmd := &cobra.Command{
		Use:   "enqueue <create|update|delete> <collection> [id]",
		Short: "Write an entity locally and queue it for the server",
		Example: `  offsync enqueue create trips --data '{"name":"Lviv"}'
  offsync enqueue update trips 42 --data @trip.json --priority high
  offsync enqueue delete trips 42`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := models.ParseOperationKind(args[0])
			if err != nil {
				return err
			}
			p, err := models.ParsePriority(priority)
			if err != nil {
				return err
			}
			payload, err := readPayload(data, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if err := validation.ValidateCollection(args[1]); err != nil {
				return err
			}
			if len(args) == 3 {
				if err := validation.ValidateEntityID(args[2]); err != nil {
					return err
				}
			}
			if kind != models.OperationDelete && payload.IsNull() {
				return fmt.Errorf("%s requires --data", kind)
			}

			op := models.PendingOperation{
				Kind:             kind,
				TargetCollection: args[1],
				Payload:          payload,
				Priority:         p,
			}
			if len(args) == 3 {
				op.TargetID = args[2]
			}

			id, err := c.app.Driver.Write(cmd.Context(), op)
			if err != nil {
				return err
			}

			// Create без идентификатора адресуется по ID операции
			entityID := op.TargetID
			if entityID == "" {
				entityID = id
			}
			c.io.Printf("✓ %s %s written locally\n", kind, entityRef(op.TargetCollection, entityID))
			if pending := c.app.Queue.Len(); pending > 0 {
				c.io.Printf("Pending operations: %d\n", pending)
			} else {
				c.io.Println("All operations delivered to server")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&data, "data", "d", "", `entity JSON, "@file" or "-" for stdin`)
	cmd.Flags().StringVarP(&priority, "priority", "p", "normal", "low, normal, high or critical")
	return cmd
}

func (c *Cli) queueCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "List operations waiting for delivery",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ops := c.app.Queue.List()
			if len(ops) == 0 {
				c.io.Println("Queue is empty")
				return nil
			}

			tw := newTable(c.io)
			fmt.Fprintln(tw, "ID\tKIND\tENTITY\tPRIORITY\tATTEMPTS\tQUEUED\tNEXT ATTEMPT\tLAST ERROR")
			for _, op := range ops {
				next := "now"
				if !op.Due(c.now()) {
					next = ago(op.NextAttemptAt)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\t%s\n",
					shortID(op.ID),
					op.Kind,
					entityRef(op.TargetCollection, op.TargetID),
					op.Priority,
					op.Attempts, op.MaxAttempts,
					ago(op.EnqueuedAt),
					next,
					op.LastError)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			c.io.Printf("\nTotal: %d\n", len(ops))
			return nil
		},
	}
}

func (c *Cli) drainCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Send queued operations to the server now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.app.Queue.Len() == 0 {
				c.io.Println("Queue is empty, nothing to send")
				return nil
			}

			result, err := c.app.Driver.Drain(cmd.Context())
			if errors.Is(err, sync.ErrOffline) {
				return fmt.Errorf("cannot drain while offline: %d operation(s) stay queued", c.app.Queue.Len())
			}
			if err != nil {
				return err
			}

			c.io.Println("=== Drain ===")
			c.io.Printf("Sent:     %d\n", result.Sent)
			c.io.Printf("Failed:   %d (will retry)\n", result.Failed)
			c.io.Printf("Dropped:  %d\n", result.Dropped)
			c.io.Printf("Deferred: %d\n", result.Deferred)

			for _, f := range result.Failures {
				reason := "attempts exhausted"
				if f.Permanent {
					reason = "rejected by server"
				}
				c.io.Printf("⚠️  %s %s dropped (%s): %v\n",
					f.Operation.Kind, f.Operation.EntityKey(), reason, f.Err)
			}
			if result.Dropped > 0 {
				return fmt.Errorf("%d operation(s) were dropped without delivery", result.Dropped)
			}
			return nil
		},
	}
}
