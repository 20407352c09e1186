package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecheck/internal/report"
	"github.com/JakeFAU/sitecheck/internal/scenario"
)

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check [scenario...]",
		Short: "Runs one or more scenarios across the article corpus",
		Long: `Runs each named scenario (default: all-technical) across the full corpus and
writes one report per scenario. Exits non-zero when any scenario recorded a
failure.`,
		RunE: runCheckCommand,
	}
	cmd.Flags().Int("workers", 0, "worker pool size (0 uses every CPU)")
	cmd.Flags().Bool("sequential", false, "single rate-limited worker")
	cmd.Flags().String("format", "", "report format: text, json or yaml")
	cmd.Flags().String("output", "", "report file (default stdout)")
	return cmd
}

func runCheckCommand(cmd *cobra.Command, args []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.Config()
	format, err := report.ParseFormat(cfg.Report.Format)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if cfg.Report.Output != "" {
		f, err := os.Create(cfg.Report.Output)
		if err != nil {
			return fmt.Errorf("create report file: %w", err)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil {
				appInstance.Logger().Warn("Failed to close report file", zap.Error(cerr))
			}
		}()
		out = f
	}

	names := args
	if len(names) == 0 {
		names = []string{scenario.AllTechnical}
	}

	var failed []string
	for _, name := range names {
		res, runErr := appInstance.Runner().Run(cmd.Context(), name)
		if res.RunID != "" {
			if err := writeReport(out, format, res.Summary()); err != nil {
				return err
			}
		}
		if runErr != nil {
			if cmd.Context().Err() != nil || res.RunID == "" {
				return runErr
			}
			appInstance.Logger().Error("Scenario failed", zap.String("scenario", name), zap.Error(runErr))
			failed = append(failed, name)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d scenario(s) failed: %v", len(failed), failed)
	}
	return nil
}

func writeReport(w io.Writer, format report.Format, s report.Summary) error {
	if err := report.Render(w, format, s); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
