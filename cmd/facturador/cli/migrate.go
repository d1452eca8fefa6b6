package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/facturador/internal/app"
	"github.com/odyssey-erp/facturador/internal/platform/db"
	"github.com/odyssey-erp/facturador/migrations"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			pool, err := db.New(cmd.Context(), cfg.PGDSN)
			if err != nil {
				return err
			}
			defer pool.Close()
			version, err := db.Migrate(pool, migrations.FS)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", version)
			return nil
		},
	}
}
