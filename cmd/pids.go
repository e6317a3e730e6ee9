package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"elm327-diag/common"
	"elm327-diag/elm327"
	"elm327-diag/obd"
)

func newPIDsCmd(a *app) *cobra.Command {
	var (
		format   string
		count    int
		interval time.Duration
		publish  bool
		list     bool
		freeze   int
	)
	cmd := &cobra.Command{
		Use:   "pids",
		Short: "read live data for the supported PIDs",
		Args:  cobra.NoArgs,
		PreRunE: func(*cobra.Command, []string) error {
			if count < 1 {
				return fmt.Errorf("--count must be at least 1")
			}
			if freeze > 0xFF {
				return fmt.Errorf("--freeze must be a frame number between 0 and 255")
			}
			return checkFormat(format)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if publish {
				a.cfg.MQTT.Enabled = true
			}
			return a.withSession(cmd.Context(), func(ctx context.Context, s *elm327.Session) error {
				supported, read, err := pidSource(ctx, s, freeze)
				if err != nil {
					return err
				}
				if list {
					for _, pid := range supported {
						fmt.Fprintf(cmd.OutOrStdout(), "%02X  %s\n", pid, obd.PIDName(pid))
					}
					return nil
				}

				if freeze >= 0 && format == formatText {
					writeFreezeCode(ctx, cmd.OutOrStdout(), s, byte(freeze))
				}

				live := livePIDs(supported)
				if len(live) == 0 {
					warnColor.Fprintln(cmd.OutOrStdout(), "vehicle reports no decodable live PIDs")
					return nil
				}

				sink, err := a.connectSink()
				if err != nil {
					return err
				}
				vin := ""
				if sink != nil {
					defer sink.Close()
					if vin, err = s.VIN(ctx); err != nil && !errors.Is(err, elm327.ErrNoData) {
						log.Warn().Err(err).Msg("VIN unavailable, publishing under unknown")
					}
				}

				for round := 0; round < count; round++ {
					if round > 0 {
						select {
						case <-ctx.Done():
							return ctx.Err()
						case <-a.clock.After(interval):
						}
					}
					readings := readLive(ctx, read, live)
					if ctx.Err() != nil {
						return ctx.Err()
					}
					if err := writeReadings(cmd.OutOrStdout(), format, readings); err != nil {
						return err
					}
					if sink == nil {
						continue
					}
					for _, r := range readings {
						if err := sink.PublishReading(vin, r); err != nil {
							return err
						}
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatText, "output format: text, json or csv")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of rounds to read")
	cmd.Flags().DurationVarP(&interval, "interval", "i", time.Second, "pause between rounds")
	cmd.Flags().BoolVar(&publish, "publish", false, "publish readings to MQTT")
	cmd.Flags().BoolVarP(&list, "list", "l", false, "only list the supported PIDs")
	cmd.Flags().IntVar(&freeze, "freeze", -1, "read stored freeze frame N instead of live data")
	return cmd
}

// livePIDs keeps the supported PIDs that have a decoder.
func livePIDs(supported []byte) []byte {
	var live []byte
	for _, pid := range obd.LivePIDs() {
		if slices.Contains(supported, pid) {
			live = append(live, pid)
		}
	}
	return live
}

// pidReader reads one PID value, live or from a freeze frame.
type pidReader func(ctx context.Context, pid byte) (common.Reading, error)

// pidSource picks live data or, for frame >= 0, the freeze frame.
func pidSource(ctx context.Context, s *elm327.Session, frame int) ([]byte, pidReader, error) {
	if frame < 0 {
		supported, err := s.SupportedPIDs(ctx)
		return supported, s.ReadPID, err
	}
	supported, err := s.FreezeFramePIDs(ctx, byte(frame))
	read := func(ctx context.Context, pid byte) (common.Reading, error) {
		return s.ReadFreezePID(ctx, pid, byte(frame))
	}
	return supported, read, err
}

func writeFreezeCode(ctx context.Context, w io.Writer, s *elm327.Session, frame byte) {
	entry, err := s.FreezeFrameCode(ctx, frame)
	if err != nil {
		log.Debug().Err(err).Uint8("frame", frame).Msg("freeze frame code unavailable")
		return
	}
	fmt.Fprintf(w, "Freeze frame %d stored by ", frame)
	codeColor.Fprint(w, entry.Code.String())
	fmt.Fprintf(w, "  %s\n", entry.Description)
}

func readLive(ctx context.Context, read pidReader, pids []byte) []common.Reading {
	readings := make([]common.Reading, 0, len(pids))
	for _, pid := range pids {
		r, err := read(ctx, pid)
		if err != nil {
			if ctx.Err() != nil {
				return readings
			}
			log.Debug().Err(err).Str("pid", fmt.Sprintf("%02X", pid)).Msg("pid read failed")
			continue
		}
		readings = append(readings, r)
	}
	return readings
}
