package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/facturador/internal/accesskey"
)

func newAccessKeyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accesskey",
		Short: "Inspect SRI access keys",
	}
	cmd.AddCommand(&cobra.Command{
		Use:     "validate <key>",
		Short:   "Check length, digits and the mod 11 check digit",
		Example: "  facturador accesskey validate 1405202401179001234500110010010000000011234567811",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !accesskey.Validate(args[0]) {
				return fmt.Errorf("%w: %s", accesskey.ErrInvalidKey, args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), "valid")
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "parse <key>",
		Short: "Split a valid key into its fields as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parts, err := accesskey.Parse(args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				accesskey.Parts
				Series string `json:"series"`
			}{parts, parts.Series()})
		},
	})
	return cmd
}
