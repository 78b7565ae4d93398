package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/NicoCuadrado/Barrio-seguro/internal/artifact"
	"github.com/NicoCuadrado/Barrio-seguro/internal/constants"
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete old access events and visitor crops",
	Long: `Delete access events older than --days and visitor crops older than the
configured crop retention. Nothing is deleted without --yes.`,
	Args: cobra.NoArgs,
	RunE: runPurge,
}

func init() {
	rootCmd.AddCommand(purgeCmd)

	purgeCmd.Flags().Int("days", constants.DefaultPurgeDays, "Keep events from the last N days")
	purgeCmd.Flags().Bool("yes", false, "Confirm the deletion")
}

func runPurge(cmd *cobra.Command, args []string) error {
	days := mustGetInt(cmd, "days")
	if days < 1 {
		return fmt.Errorf("--days must be at least 1, got %d", days)
	}

	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	now := time.Now()
	cutoff := now.AddDate(0, 0, -days)
	if !mustGetBool(cmd, "yes") {
		fmt.Printf("Would delete events before %s and crops older than %s from %s\n",
			cutoff.Format(time.DateTime), a.cfg.Gate.CropRetention, a.cfg.Gate.CropDir)
		fmt.Println("Re-run with --yes to delete")
		return nil
	}

	deleted, err := a.store.PurgeEventsBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("purging events: %w", err)
	}

	crops, err := artifact.NewCropStore(a.cfg.Gate.CropDir, artifact.WithLogger(a.logger))
	if err != nil {
		return err
	}
	removed, err := crops.PurgeOlderThan(now, a.cfg.Gate.CropRetention)
	if err != nil {
		return fmt.Errorf("purging crops: %w", err)
	}

	a.logger.Info("purge finished",
		zap.Int64("events", deleted),
		zap.Int("crops", removed),
		zap.Time("cutoff", cutoff))
	fmt.Printf("Deleted %d events and %d crops\n", deleted, removed)
	return nil
}
