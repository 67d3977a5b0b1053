package cmd

import (
	"lpr-manager/core/audit"
	"lpr-manager/core/store"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var auditDeviceIDs []uint

var auditCmd = &cobra.Command{
	Use:   "audit <subject>",
	Short: "Report which devices hold a subject (read-only)",
	Args:  cobra.ExactArgs(1),
	RunE:  runAudit,
}

func init() {
	auditCmd.Flags().UintSliceVar(&auditDeviceIDs, "device", nil, "Device ids to query (default: whole fleet)")
	RootCmd.AddCommand(auditCmd)
}

func runAudit(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	var devices []store.Device
	if devices, err = a.store.DevicesByIDs(ctx, auditDeviceIDs); err != nil {
		return err
	}

	report, err := a.auditor.Audit(ctx, args[0], devices)
	if err != nil {
		return err
	}
	printAudit(a.logger, report)
	return nil
}

func printAudit(l *zap.Logger, r *audit.Report) {
	for _, p := range r.Devices {
		fields := []zap.Field{
			zap.Uint("device_id", p.DeviceID),
			zap.String("device", p.DeviceName),
			zap.Bool("reachable", p.Reachable),
		}
		if p.Reachable {
			fields = append(fields, zap.Bool("present", p.Present))
		} else {
			fields = append(fields, zap.String("error", p.Error))
		}
		l.Info("Device presence", fields...)
	}
	l.Info("Audit summary",
		zap.String("subject", r.Subject),
		zap.Int("devices", r.Summary.Devices),
		zap.Int("present", r.Summary.Present),
		zap.Int("missing", r.Summary.Missing),
		zap.Int("unreachable", r.Summary.Unreachable),
	)
}
