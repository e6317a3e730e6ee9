package cmd

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"elm327-diag/elm327"
)

func newScanCmd(a *app) *cobra.Command {
	var (
		format  string
		publish bool
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "read VIN, trouble codes and MIL state",
		Long: `Connect to the vehicle, read the VIN, calibration id, ECU name, MIL state
and stored, pending and permanent trouble codes, then print the report.
With MQTT enabled the report is also published to <topic>/<vin>/report.`,
		Args: cobra.NoArgs,
		PreRunE: func(*cobra.Command, []string) error {
			return checkFormat(format)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if publish {
				a.cfg.MQTT.Enabled = true
			}
			return a.withSession(cmd.Context(), func(ctx context.Context, s *elm327.Session) error {
				report, scanErr := a.collectReport(ctx, s)
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if err := writeReport(cmd.OutOrStdout(), format, report); err != nil {
					return err
				}
				if err := a.publishReport(report); err != nil {
					log.Error().Err(err).Msg("failed to publish report")
					return err
				}
				return scanErr
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatText, "output format: text, json or csv")
	cmd.Flags().BoolVar(&publish, "publish", false, "publish the report to MQTT even if mqtt.enabled is false")
	return cmd
}
