package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/facturador/internal/app"
	"github.com/odyssey-erp/facturador/jobs"
)

// QueueOps is the queue surface used by the jobs subcommands.
type QueueOps interface {
	jobs.QueueOperations
	Close() error
}

// JobsCLI wraps manual management helpers for the invoice queue.
type JobsCLI struct {
	ops QueueOps
}

// NewJobsCLI wraps queue operations for the CLI.
func NewJobsCLI(ops QueueOps) *JobsCLI {
	return &JobsCLI{ops: ops}
}

// Stats prints queue counters.
func (c *JobsCLI) Stats(w io.Writer, asJSON bool) error {
	stats, err := c.ops.Stats()
	if err != nil {
		return err
	}
	if asJSON {
		return json.NewEncoder(w).Encode(stats)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "queue\t%s\n", stats.Queue)
	fmt.Fprintf(tw, "pending\t%d\n", stats.Pending)
	fmt.Fprintf(tw, "active\t%d\n", stats.Active)
	fmt.Fprintf(tw, "scheduled\t%d\n", stats.Scheduled)
	fmt.Fprintf(tw, "retry\t%d\n", stats.Retry)
	fmt.Fprintf(tw, "archived\t%d\n", stats.Archived)
	fmt.Fprintf(tw, "completed\t%d\n", stats.Completed)
	return tw.Flush()
}

// Failed lists archived and retrying tasks.
func (c *JobsCLI) Failed(w io.Writer, size int) error {
	tasks, err := c.ops.Failed(size)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Fprintln(w, "no failed tasks")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INVOICE\tSTATE\tRETRIED\tLAST ERROR")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%s\n", t.InvoiceID, t.State, t.Retried, t.MaxRetry, t.LastError)
	}
	return tw.Flush()
}

// Retry moves the task of an invoice back to pending.
func (c *JobsCLI) Retry(w io.Writer, invoiceID string) error {
	if err := c.ops.RetryInvoice(invoiceID); err != nil {
		return err
	}
	fmt.Fprintf(w, "requeued %s\n", jobs.InvoiceTaskID(invoiceID))
	return nil
}

// Close releases the connection.
func (c *JobsCLI) Close() error {
	return c.ops.Close()
}

// newQueueOps is swapped in tests.
var newQueueOps = func() (QueueOps, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, err
	}
	return jobs.NewRedisInspector(cfg.RedisOptions()), nil
}

func newJobsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage the invoice queue",
	}
	withCLI := func(run func(*JobsCLI, *cobra.Command, []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			ops, err := newQueueOps()
			if err != nil {
				return err
			}
			c := NewJobsCLI(ops)
			defer c.Close()
			return run(c, cmd, args)
		}
	}

	var asJSON bool
	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show invoice queue counters",
		Args:  cobra.NoArgs,
		RunE: withCLI(func(c *JobsCLI, cmd *cobra.Command, _ []string) error {
			return c.Stats(cmd.OutOrStdout(), asJSON)
		}),
	}
	stats.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	var size int
	failed := &cobra.Command{
		Use:   "failed",
		Short: "List archived and retrying invoice tasks",
		Args:  cobra.NoArgs,
		RunE: withCLI(func(c *JobsCLI, cmd *cobra.Command, _ []string) error {
			return c.Failed(cmd.OutOrStdout(), size)
		}),
	}
	failed.Flags().IntVar(&size, "size", 20, "page size")

	retry := &cobra.Command{
		Use:   "retry <invoice-id>",
		Short: "Run an archived or retrying invoice task now",
		Args:  cobra.ExactArgs(1),
		RunE: withCLI(func(c *JobsCLI, cmd *cobra.Command, args []string) error {
			return c.Retry(cmd.OutOrStdout(), args[0])
		}),
	}

	cmd.AddCommand(stats, failed, retry)
	return cmd
}
