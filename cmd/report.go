package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/NicoCuadrado/Barrio-seguro/internal/analytics"
	"github.com/NicoCuadrado/Barrio-seguro/internal/constants"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print access statistics",
	Long: `Print a summary of the access log: totals, peak and quiet hours,
activity by time of day, visits per day and the most active residents.`,
	Args: cobra.NoArgs,
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().Int("days", constants.DefaultReportDays, "Days covered by the per-day analysis")
	reportCmd.Flags().Int("top", constants.DefaultTopResidents, "Number of most active residents")
	reportCmd.Flags().Bool("json", false, "Output as JSON")
}

func runReport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	report, err := analytics.Build(ctx, a.store, time.Now(), analytics.Options{
		Days: mustGetInt(cmd, "days"),
		Top:  mustGetInt(cmd, "top"),
	})
	if err != nil {
		return fmt.Errorf("building report: %w", err)
	}

	if mustGetBool(cmd, "json") {
		return outputJSON(report)
	}
	return analytics.WriteText(os.Stdout, report)
}
