package cmd

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"elm327-diag/elm327"
)

func newInfoCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "info",
		Short: "print adapter information",
		Args:  cobra.NoArgs,
		PreRunE: func(*cobra.Command, []string) error {
			return checkFormat(format)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withSession(cmd.Context(), func(ctx context.Context, s *elm327.Session) error {
				info, err := s.Describe(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					log.Warn().Err(err).Msg("some adapter queries failed")
				}
				return writeAdapterInfo(cmd.OutOrStdout(), format, info)
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatText, "output format: text or json")
	return cmd
}
