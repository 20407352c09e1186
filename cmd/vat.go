package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/sitecheck/internal/report"
)

func newVATCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vat",
		Short: "Checks VAT-inclusive course pricing through the EU proxy",
		Long: `Loads the course page through the configured proxy and requires VAT-inclusive
prices. Session and load failures are retried with a fresh session up to
retry.max_attempts times.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			format, err := report.ParseFormat(appInstance.Config().Report.Format)
			if err != nil {
				return err
			}
			summary, runErr := appInstance.Runner().RunVAT(cmd.Context())
			if summary.RunID != "" {
				if err := writeReport(cmd.OutOrStdout(), format, summary); err != nil {
					return err
				}
			}
			return runErr
		},
	}
	cmd.Flags().String("format", "", "report format: text, json or yaml")
	return cmd
}
