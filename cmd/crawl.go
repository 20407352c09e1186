package cmd

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/sitecheck/internal/linkcrawl"
)

func newCrawlCmd() *cobra.Command {
	var (
		parallelism int
		patterns    []string
		asJSON      bool
	)
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawls the site and reports incorrectly linked URLs",
		Long: `Walks the site from the configured start URLs with colly and lists every
anchor matching crawl.patterns (by default links to repository file views),
grouped by the page they appear on.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if len(patterns) == 0 {
				patterns = appInstance.Config().Crawl.Patterns
			}
			if parallelism == 0 {
				parallelism = appInstance.Config().Crawl.Parallelism
			}
			res, err := appInstance.Crawler().Start(cmd.Context(), linkcrawl.IncorrectlyLinkedRule(patterns), parallelism)
			if err != nil {
				return fmt.Errorf("run crawl: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			fmt.Fprintf(out, "cores: %d\nstart: %s\nend: %s\nvisited: %d\n",
				runtime.NumCPU(), res.StartedAt.Format("15:04:05"), res.FinishedAt.Format("15:04:05"), res.Visited)
			fmt.Fprintf(out, "%s: %d link(s) on %d page(s)\n", res.Rule, res.Total(), len(res.Matched))
			for _, page := range res.Pages() {
				fmt.Fprintf(out, "\n%s\n", page)
				for _, href := range res.Matched[page] {
					fmt.Fprintf(out, "  %s\n", href)
				}
			}
			if res.Total() > 0 {
				return fmt.Errorf("found %d incorrectly linked url(s)", res.Total())
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&parallelism, "parallelism", 0, "concurrent requests (0 uses crawl.parallelism, then every CPU)")
	cmd.Flags().StringSliceVar(&patterns, "pattern", nil, "href substrings to flag (default crawl.patterns)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}
