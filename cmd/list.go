package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/sitecheck/internal/scenario"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Lists the available scenarios",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, sc := range appInstance.Runner().Catalog() {
				keys := make([]string, 0, len(sc.Checks))
				for _, k := range sc.Checks {
					keys = append(keys, string(k))
				}
				fmt.Fprintf(out, "%-22s %s [%s]\n", sc.Name, sc.Description, strings.Join(keys, ","))
			}
			fmt.Fprintf(out, "%-22s %s\n", scenario.VATScenario, "course page shows VAT-inclusive prices through the EU proxy")
			return nil
		},
	}
}
