package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/facturador/internal/signing"
)

func newCertCommand() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "cert",
		Short: "Signing certificate helpers",
	}
	inspect := &cobra.Command{
		Use:   "inspect <file.p12>",
		Short: "Print subject and validity of a PKCS#12 certificate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("SIGNING_CERT_PASSWORD")
			}
			info, err := signing.InspectCertificate(args[0], password)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "subject:    %s\n", info.Subject)
			fmt.Fprintf(out, "issuer:     %s\n", info.Issuer)
			fmt.Fprintf(out, "serial:     %s\n", info.Serial)
			fmt.Fprintf(out, "not before: %s\n", info.NotBefore.Format(time.RFC3339))
			fmt.Fprintf(out, "not after:  %s\n", info.NotAfter.Format(time.RFC3339))
			soon, err := info.Check(time.Now())
			if err != nil {
				return err
			}
			if soon {
				fmt.Fprintln(out, "warning: certificate expires within 30 days")
			}
			return nil
		},
	}
	inspect.Flags().StringVar(&password, "password", "", "bundle password (defaults to SIGNING_CERT_PASSWORD)")
	cmd.AddCommand(inspect)
	return cmd
}
