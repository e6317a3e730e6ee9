package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"elm327-diag/common"
	"elm327-diag/elm327"
	"elm327-diag/obd"
)

// parseKinds maps --kind to the services to query.
func parseKinds(s string) ([]obd.CodeKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return allKinds, nil
	case "stored":
		return []obd.CodeKind{obd.Stored}, nil
	case "pending":
		return []obd.CodeKind{obd.Pending}, nil
	case "permanent":
		return []obd.CodeKind{obd.Permanent}, nil
	default:
		return nil, fmt.Errorf("unknown code kind %q (want stored, pending, permanent or all)", s)
	}
}

func newCodesCmd(a *app) *cobra.Command {
	var (
		format string
		kind   string
	)
	cmd := &cobra.Command{
		Use:   "codes",
		Short: "read diagnostic trouble codes",
		Args:  cobra.NoArgs,
		PreRunE: func(*cobra.Command, []string) error {
			if _, err := parseKinds(kind); err != nil {
				return err
			}
			return checkFormat(format)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			kinds, _ := parseKinds(kind)
			return a.withSession(cmd.Context(), func(ctx context.Context, s *elm327.Session) error {
				var (
					codes []common.TroubleCodeEntry
					errs  []error
				)
				for _, k := range kinds {
					entries, err := s.TroubleCodes(ctx, k)
					if err != nil {
						if !errors.Is(err, obd.ErrFormat) {
							return err
						}
						errs = append(errs, err)
					}
					codes = append(codes, exportCodes(k, entries)...)
				}
				if err := writeCodes(cmd.OutOrStdout(), format, codes); err != nil {
					return err
				}
				return errors.Join(errs...)
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatText, "output format: text, json or csv")
	cmd.Flags().StringVarP(&kind, "kind", "k", "all", "stored, pending, permanent or all")
	return cmd
}
