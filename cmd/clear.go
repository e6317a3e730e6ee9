package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/manifoldco/promptui"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"elm327-diag/elm327"
)

func newClearCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "clear trouble codes and turn off the MIL",
		Long: `Send service 04 to erase stored trouble codes and freeze frame data.
Readiness monitors are reset too, so the vehicle may fail an inspection
until the drive cycles complete again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				if !confirm(cmd, "Clear all trouble codes and reset readiness monitors") {
					fmt.Fprintln(cmd.OutOrStdout(), "aborted")
					return nil
				}
			}
			return a.withSession(cmd.Context(), func(ctx context.Context, s *elm327.Session) error {
				if err := s.ClearTroubleCodes(ctx); err != nil {
					return err
				}
				okColor.Fprintln(cmd.OutOrStdout(), "trouble codes cleared")
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

// confirm asks a y/N question on the command's streams. Anything but y is no.
func confirm(cmd *cobra.Command, question string) bool {
	prompt := promptui.Prompt{
		Label:     question,
		IsConfirm: true,
		Stdin:     io.NopCloser(cmd.InOrStdin()),
		Stdout:    nopWriteCloser{cmd.ErrOrStderr()},
	}
	_, err := prompt.Run()
	if err != nil && !errors.Is(err, promptui.ErrAbort) {
		log.Debug().Err(err).Msg("confirmation prompt failed")
	}
	return err == nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
