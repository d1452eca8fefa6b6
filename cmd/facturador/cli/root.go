// Package cli holds the facturador command tree.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "dev"

// NewRootCommand assembles every subcommand.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "facturador",
		Short: "Electronic invoice emission for the SRI",
		Long: `facturador creates electronic invoices from CRM deals, signs them,
submits them to the SRI and tracks their authorization.

Configuration is read from the environment and an optional .env file.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newServeCommand(),
		newMigrateCommand(),
		newJobsCommand(),
		newAccessKeyCommand(),
		newCertCommand(),
	)
	return root
}

// Execute runs the command tree and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}
