package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"elm327-diag/common"
	"elm327-diag/elm327"
	"elm327-diag/obd"
)

var allKinds = []obd.CodeKind{obd.Stored, obd.Pending, obd.Permanent}

// collectReport reads everything a scan reports. Missing vehicle text and
// undecodable codes are logged and joined into the returned error; the
// report holds whatever was read.
func (a *app) collectReport(ctx context.Context, s *elm327.Session) (common.Report, error) {
	report := common.Report{
		ID:        uuid.NewString(),
		Adapter:   s.Info(),
		Timestamp: a.now(),
	}

	var errs []error
	soft := func(what string, err error) error {
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || errors.Is(err, elm327.ErrInvalidState) {
			return err
		}
		log.Warn().Err(err).Str("field", what).Msg("scan field unavailable")
		if !errors.Is(err, elm327.ErrNoData) {
			errs = append(errs, fmt.Errorf("%s: %w", what, err))
		}
		return nil
	}

	var err error
	report.Protocol, err = s.Protocol(ctx)
	if fatal := soft("protocol", err); fatal != nil {
		return report, fatal
	}
	report.Adapter.Protocol = report.Protocol

	report.VIN, err = s.VIN(ctx)
	if fatal := soft("vin", err); fatal != nil {
		return report, fatal
	}
	report.CalibrationID, err = s.CalibrationID(ctx)
	if fatal := soft("calibration id", err); fatal != nil {
		return report, fatal
	}
	report.ECUName, err = s.ECUName(ctx)
	if fatal := soft("ecu name", err); fatal != nil {
		return report, fatal
	}

	status, err := s.MonitorStatus(ctx)
	if fatal := soft("monitor status", err); fatal != nil {
		return report, fatal
	}
	report.MILOn = status.MILOn

	for _, kind := range allKinds {
		entries, err := s.TroubleCodes(ctx, kind)
		if fatal := soft(kind.String()+" codes", err); fatal != nil {
			return report, fatal
		}
		codes := exportCodes(kind, entries)
		switch kind {
		case obd.Stored:
			report.Stored = codes
		case obd.Pending:
			report.Pending = codes
		case obd.Permanent:
			report.Permanent = codes
		}
	}

	log.Info().
		Str("id", report.ID).
		Str("vin", report.VIN).
		Int("codes", len(report.AllCodes())).
		Bool("mil", report.MILOn).
		Msg("scan complete")
	return report, errors.Join(errs...)
}

func exportCodes(kind obd.CodeKind, entries []obd.TroubleCodeEntry) []common.TroubleCodeEntry {
	out := make([]common.TroubleCodeEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, common.TroubleCodeEntry{
			Kind:        kind.String(),
			Code:        e.Code.String(),
			Description: e.Description,
		})
	}
	return out
}

// publishReport sends the report when MQTT is enabled.
func (a *app) publishReport(report common.Report) error {
	sink, err := a.connectSink()
	if err != nil || sink == nil {
		return err
	}
	defer sink.Close()
	if err := sink.PublishReport(report); err != nil {
		return err
	}
	log.Info().Str("vin", report.VIN).Msg("report published")
	return nil
}

// connectSink returns nil when MQTT publishing is disabled.
func (a *app) connectSink() (reportSink, error) {
	cfg := a.cfg.MQTT
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.Username != "" && cfg.Password == "" {
		password, err := a.readPassword()
		if err != nil {
			return nil, err
		}
		cfg.Password = password
	}
	sink := a.newSink(cfg)
	if err := sink.Connect(); err != nil {
		return nil, err
	}
	return sink, nil
}
