package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"lpr-manager/core/reconcile"
	"lpr-manager/core/store"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Flags shared by reconcile commands
	applyDiff    bool
	pruneDevice  bool
	dryRunDevice bool
	yesConfirm   bool
	deviceIDs    []uint
)

// reconcileCmd is the parent command for all reconcile operations.
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile device access lists with the canonical database",
	Long: `Detect and repair drift between the canonical allow list and what each
device holds. Every write is paced and serialized per device.`,
}

var reconcileDiffCmd = &cobra.Command{
	Use:   "diff <device-id>",
	Short: "Report (and optionally apply) the diff for one device",
	Long: `Compare the canonical allow list with the device's list.

Examples:
  # Report only
  reconcile diff 3

  # Upsert missing entries (with interactive confirmation)
  reconcile diff 3 --apply

  # Also remove entries the canonical list does not allow
  reconcile diff 3 --apply --prune --yes`,
	Args: cobra.ExactArgs(1),
	RunE: runReconcileDiff,
}

var reconcileRepairCmd = &cobra.Command{
	Use:   "repair <subject>",
	Short: "Upsert one subject on the devices missing it",
	Long: `Targeted repair. Without --device the subject is audited across the fleet
first and written only to reachable devices that miss it.`,
	Args: cobra.ExactArgs(1),
	RunE: runReconcileRepair,
}

var reconcileResyncCmd = &cobra.Command{
	Use:   "resync <device-id>...",
	Short: "Clear devices and repopulate them from the canonical allow list",
	Long: `Full resync. Each device is cleared, then every allow entry is written back.
The device is exposed until repopulation finishes; Ctrl-C stops the pass and
reports how far it got.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runReconcileResync,
}

func init() {
	reconcileDiffCmd.Flags().BoolVar(&applyDiff, "apply", false, "Apply the planned writes")
	reconcileDiffCmd.Flags().BoolVar(&pruneDevice, "prune", false, "Remove entries not classified allow")
	reconcileDiffCmd.Flags().BoolVar(&dryRunDevice, "dry-run", false, "Force dry-run (no writes even with --yes)")
	reconcileDiffCmd.Flags().BoolVar(&yesConfirm, "yes", false, "Auto-confirm writes (non-interactive)")

	reconcileRepairCmd.Flags().UintSliceVar(&deviceIDs, "device", nil, "Device ids to repair (default: audit decides)")

	reconcileResyncCmd.Flags().BoolVar(&yesConfirm, "yes", false, "Auto-confirm the destructive clear (non-interactive)")

	reconcileCmd.AddCommand(reconcileDiffCmd, reconcileRepairCmd, reconcileResyncCmd)
	RootCmd.AddCommand(reconcileCmd)
}

// signalContext is cancelled on Ctrl-C so long passes can report partial results.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func parseDeviceArgs(args []string) ([]uint, error) {
	ids := make([]uint, 0, len(args))
	for _, arg := range args {
		n, err := strconv.ParseUint(arg, 10, 32)
		if err != nil || n == 0 {
			return nil, fmt.Errorf("invalid device id %q", arg)
		}
		ids = append(ids, uint(n))
	}
	return ids, nil
}

func runReconcileDiff(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	ids, err := parseDeviceArgs(args)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.close()
	l := a.logger

	d, err := a.store.Device(ctx, ids[0])
	if err != nil {
		return err
	}

	opts := reconcile.Options{
		DoPrune:   pruneDevice,
		DryRun:    dryRunDevice,
		Confirmed: false, // Set after the confirmation prompt
	}

	// Step 1: Plan (always runs)
	l.Info("Planning reconciliation...", zap.String("device", d.Name))
	plan, err := a.engine.Diff(ctx, *d, opts)
	if err != nil {
		return fmt.Errorf("failed to plan reconciliation: %w", err)
	}

	// Step 2: Print report
	printPlan(l, plan)

	// Step 3: Check if writes are requested
	if !applyDiff {
		l.Info("No writes requested. Use --apply to upsert missing entries, with --prune to also remove extras.")
		return nil
	}
	if len(plan.Actions) == 0 {
		l.Info("No actions required based on current flags.")
		return nil
	}
	if dryRunDevice {
		l.Info("Dry-run mode: No changes were made.")
		return nil
	}

	// Step 4: Apply (if confirmed)
	if !confirmDestructiveAction() {
		l.Warn("Operation cancelled by user. No changes were made.")
		return nil
	}
	opts.Confirmed = true

	l.Info("Applying actions...")
	o, err := a.engine.Apply(ctx, *d, plan, opts)
	if err != nil {
		return fmt.Errorf("failed to apply plan: %w", err)
	}
	printOutcome(l, o)
	return nil
}

func runReconcileRepair(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.close()
	l := a.logger

	var devices []store.Device
	if len(deviceIDs) == 0 {
		all, err := a.store.Devices(ctx)
		if err != nil {
			return err
		}
		report, err := a.auditor.Audit(ctx, args[0], all)
		if err != nil {
			return err
		}
		printAudit(l, report)
		missing := report.Missing()
		if len(missing) == 0 {
			l.Info("No reachable device misses the subject.")
			return nil
		}
		if devices, err = a.store.DevicesByIDs(ctx, missing); err != nil {
			return err
		}
	} else if devices, err = a.store.DevicesByIDs(ctx, deviceIDs); err != nil {
		return err
	}

	report, err := a.engine.Repair(ctx, args[0], devices)
	if err != nil {
		return err
	}
	for _, r := range report.Results {
		l.Info("Device result",
			zap.Uint("device_id", r.DeviceID),
			zap.String("device", r.DeviceName),
			zap.Bool("succeeded", r.Succeeded),
			zap.Bool("unreachable", r.Unreachable),
			zap.String("error", r.Error),
		)
	}
	l.Info("Targeted repair finished",
		zap.String("subject", report.Subject),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
	)
	if report.Failed > 0 {
		return fmt.Errorf("repair failed on %d device(s)", report.Failed)
	}
	return nil
}

func runReconcileResync(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	ids, err := parseDeviceArgs(args)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.close()
	l := a.logger

	devices, err := a.store.DevicesByIDs(ctx, ids)
	if err != nil {
		return err
	}
	allowed, err := a.store.AllowedSubjects(ctx)
	if err != nil {
		return err
	}
	for _, d := range devices {
		l.Warn("Device will be cleared and repopulated",
			zap.Uint("device_id", d.ID), zap.String("device", d.Name), zap.Int("entries", len(allowed)))
	}

	if !confirmDestructiveAction() {
		l.Warn("Operation cancelled by user. No changes were made.")
		return nil
	}

	failed := 0
	for _, o := range a.engine.ResyncBatch(ctx, devices) {
		printOutcome(l, o)
		if o.Status != reconcile.StatusCompleted {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("resync incomplete on %d device(s)", failed)
	}
	return nil
}

// printPlan prints a formatted diff report using logger.
func printPlan(l *zap.Logger, plan *reconcile.Plan) {
	s := plan.Summary

	l.Info("Reconciliation report",
		zap.String("device", plan.DeviceName),
		zap.Int("canonical", s.Canonical),
		zap.Int("on_device", s.OnDevice),
		zap.Int("present", s.Present),
		zap.Int("missing", s.Missing),
		zap.Int("extra", s.Extra),
		zap.Bool("in_sync", s.InSync()),
	)

	if len(plan.Actions) > 0 {
		l.Info("Planned actions",
			zap.Int("upsert_actions", s.UpsertActions),
			zap.Int("remove_actions", s.RemoveActions),
			zap.Int("total_actions", len(plan.Actions)),
		)

		// Show sample of actions (max 5 for logger)
		maxShow := min(5, len(plan.Actions))
		for i := 0; i < maxShow; i++ {
			action := plan.Actions[i]
			l.Info("Sample action",
				zap.String("type", string(action.Type)),
				zap.String("subject", action.Subject),
				zap.String("reason", action.Reason),
			)
		}
		if len(plan.Actions) > maxShow {
			l.Info("Additional actions not shown", zap.Int("count", len(plan.Actions)-maxShow))
		}
	}
}

func printOutcome(l *zap.Logger, o *reconcile.Outcome) {
	fields := []zap.Field{
		zap.Uint("device_id", o.DeviceID),
		zap.String("device", o.DeviceName),
		zap.String("mode", o.Mode),
		zap.String("status", string(o.Status)),
		zap.Int("attempted", o.Attempted),
		zap.Int("added", o.Added),
		zap.Int("removed", o.Removed),
		zap.Int("failed", o.Failed),
		zap.Int("remaining", o.Remaining),
		zap.String("clear_status", string(o.ClearStatus)),
	}
	if o.Error != "" {
		fields = append(fields, zap.String("error", o.Error))
	}
	l.Info("Reconciliation outcome", fields...)
	for _, f := range o.Failures {
		l.Warn("Failed write", zap.String("subject", f.Subject), zap.String("reason", f.Reason))
	}
}

// confirmDestructiveAction prompts the user for confirmation or uses --yes flag.
func confirmDestructiveAction() bool {
	if yesConfirm {
		fmt.Println("\n✓ Auto-confirmed via --yes flag")
		return true
	}

	fmt.Print("\n⚠️  Type 'yes' to confirm device writes: ")
	reader := bufio.NewReader(os.Stdin)
	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}

	response = strings.TrimSpace(response)
	return response == "yes"
}
