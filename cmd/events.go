package cmd

import (
	"fmt"
	"time"

	"lpr-manager/feature/access"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var purgeBefore string

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Maintain the recorded event history",
}

var eventsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete events recorded before a cutoff, with their snapshots",
	Long: `Delete events recorded before --before (RFC3339 or YYYY-MM-DD).
Without --yes the matching count is reported and a confirmation is asked.`,
	RunE: runEventsPurge,
}

var eventsSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove stored snapshots no event references",
	RunE:  runEventsSweep,
}

func init() {
	eventsPurgeCmd.Flags().StringVar(&purgeBefore, "before", "", "Cutoff (RFC3339 or YYYY-MM-DD)")
	_ = eventsPurgeCmd.MarkFlagRequired("before")
	eventsPurgeCmd.Flags().BoolVar(&yesConfirm, "yes", false, "Auto-confirm deletion (non-interactive)")
	eventsSweepCmd.Flags().BoolVar(&yesConfirm, "yes", false, "Auto-confirm removal (non-interactive)")

	eventsCmd.AddCommand(eventsPurgeCmd, eventsSweepCmd)
	RootCmd.AddCommand(eventsCmd)
}

func parseCutoff(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --before %q: want RFC3339 or YYYY-MM-DD", v)
	}
	return t, nil
}

func runEventsPurge(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	before, err := parseCutoff(purgeBefore)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, appOptions{storage: true})
	if err != nil {
		return err
	}
	defer a.close()
	svc := access.NewService(a.store, a.snapshots, a.logger)

	preview, err := svc.Purge(ctx, before, false)
	if err != nil {
		return err
	}
	a.logger.Info("Events matching cutoff", zap.Time("before", before), zap.Int64("matched", preview.Matched))
	if preview.Matched == 0 {
		return nil
	}
	if !confirmDestructiveAction() {
		a.logger.Warn("Operation cancelled by user. No changes were made.")
		return nil
	}

	res, err := svc.Purge(ctx, before, true)
	if err != nil {
		return err
	}
	a.logger.Info("Purge finished",
		zap.Int("deleted", res.Deleted),
		zap.Int("batches", res.Batches),
		zap.Int("objects_removed", res.ObjectsRemoved),
		zap.Int("object_errors", res.ObjectErrors),
	)
	if res.ObjectErrors > 0 {
		a.logger.Warn("Some snapshots were left behind; run 'events sweep' to collect them")
	}
	return nil
}

func runEventsSweep(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, appOptions{storage: true})
	if err != nil {
		return err
	}
	defer a.close()
	svc := access.NewService(a.store, a.snapshots, a.logger)

	preview, err := svc.SweepOrphans(ctx, false)
	if err != nil {
		return err
	}
	a.logger.Info("Orphaned snapshots", zap.Int("scanned", preview.Scanned), zap.Int("orphans", len(preview.Orphans)))
	if len(preview.Orphans) == 0 {
		return nil
	}
	if !confirmDestructiveAction() {
		a.logger.Warn("Operation cancelled by user. No changes were made.")
		return nil
	}

	res, err := svc.SweepOrphans(ctx, true)
	if err != nil {
		return err
	}
	a.logger.Info("Sweep finished", zap.Int("orphans", len(res.Orphans)), zap.Int("removed", res.Removed))
	return nil
}
