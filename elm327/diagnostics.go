package elm327

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"elm327-diag/common"
	"elm327-diag/obd"
)

// Byte pairs the adapter puts in front of each payload line: the positive
// response service id, then the PID, then a record index for service 09 or
// the frame number for service 02.
const (
	headerCodes   = 1
	headerCurrent = 2
	headerInfo    = 3
	headerFreeze  = 3
)

// pidFreezeCode is the service 02 PID holding the code that stored a frame.
const pidFreezeCode = 0x02

// maxPIDRange is the last supported-PIDs range request (01E0).
const maxPIDRange = 0xE0

// VIN reads the vehicle identification number (0902).
func (s *Session) VIN(ctx context.Context) (string, error) {
	return s.vehicleText(ctx, obd.CmdVIN)
}

// CalibrationID reads the calibration id (0904).
func (s *Session) CalibrationID(ctx context.Context) (string, error) {
	return s.vehicleText(ctx, obd.CmdCalibrationID)
}

// ECUName reads the ECU name (090A).
func (s *Session) ECUName(ctx context.Context) (string, error) {
	return s.vehicleText(ctx, obd.CmdECUName)
}

func (s *Session) vehicleText(ctx context.Context, cmd obd.Command) (string, error) {
	resp, err := s.Query(ctx, cmd)
	if err != nil {
		return "", err
	}
	if resp.IsNoData() {
		return "", fmt.Errorf("%s: %w", cmd, ErrNoData)
	}
	payload := obd.PrunerFor(cmd).Prune(resp, headerInfo)
	text, err := obd.DecodeText(payload)
	if err != nil {
		return "", fmt.Errorf("%s: %w", cmd, err)
	}
	return text, nil
}

// TroubleCodes reads stored, pending or permanent codes. NO DATA means no
// codes. When some groups fail to decode, the decodable entries are returned
// together with the error.
func (s *Session) TroubleCodes(ctx context.Context, kind obd.CodeKind) ([]obd.TroubleCodeEntry, error) {
	cmd := kind.Command()
	resp, err := s.Query(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if resp.IsNoData() {
		return nil, nil
	}
	payload := obd.PrunerFor(cmd).Prune(resp, headerCodes)
	entries, err := s.decoder.Decode(payload)
	if err != nil {
		s.log.Warn().Err(err).Stringer("kind", kind).Msg("some trouble codes could not be decoded")
		return entries, fmt.Errorf("%s codes: %w", kind, err)
	}
	return entries, nil
}

// ClearTroubleCodes sends service 04 and checks for the positive response.
func (s *Session) ClearTroubleCodes(ctx context.Context) error {
	resp, err := s.Query(ctx, obd.CmdClearCodes)
	if err != nil {
		return err
	}
	for _, line := range resp.Lines() {
		if strings.HasPrefix(strings.TrimSpace(line), "44") {
			s.log.Info().Msg("trouble codes cleared")
			return nil
		}
	}
	return fmt.Errorf("clear trouble codes rejected: %q", resp.Text())
}

// MonitorStatus reads 0101: MIL state and number of stored codes.
func (s *Session) MonitorStatus(ctx context.Context) (obd.MonitorStatus, error) {
	resp, err := s.Query(ctx, obd.CmdMonitorStatus)
	if err != nil {
		return obd.MonitorStatus{}, err
	}
	if resp.IsNoData() {
		return obd.MonitorStatus{}, fmt.Errorf("%s: %w", obd.CmdMonitorStatus, ErrNoData)
	}
	return obd.ParseMonitorStatus(obd.LinePruner{}.Prune(resp, headerCurrent))
}

// SupportedPIDs resolves the service 01 PIDs the vehicle supports. The 0100
// reply Connect got is reused for the first range.
func (s *Session) SupportedPIDs(ctx context.Context) ([]byte, error) {
	s.stateMu.Lock()
	first := s.first01
	s.stateMu.Unlock()

	return s.supportedRanges(ctx, headerCurrent, first, obd.CurrentData)
}

// ReadPID reads one live data value.
func (s *Session) ReadPID(ctx context.Context, pid byte) (obd.Reading, error) {
	return s.readValue(ctx, obd.CurrentData(pid), pid, headerCurrent)
}

// FreezeFramePIDs resolves the PIDs recorded in the given stored freeze frame.
// Frame 0 is the one stored with the first confirmed code; MonitorStatus
// reports how many codes, and so frames, there are.
func (s *Session) FreezeFramePIDs(ctx context.Context, frame byte) ([]byte, error) {
	return s.supportedRanges(ctx, headerFreeze, "", func(base byte) obd.Command {
		return obd.FreezeFrame(base, frame)
	})
}

// ReadFreezePID reads pid as recorded in the given freeze frame.
func (s *Session) ReadFreezePID(ctx context.Context, pid, frame byte) (obd.Reading, error) {
	return s.readValue(ctx, obd.FreezeFrame(pid, frame), pid, headerFreeze)
}

// FreezeFrameCode reads the trouble code that caused frame to be stored.
func (s *Session) FreezeFrameCode(ctx context.Context, frame byte) (obd.TroubleCodeEntry, error) {
	cmd := obd.FreezeFrame(pidFreezeCode, frame)
	resp, err := s.Query(ctx, cmd)
	if err != nil {
		return obd.TroubleCodeEntry{}, err
	}
	if resp.IsNoData() {
		return obd.TroubleCodeEntry{}, fmt.Errorf("%s: %w", cmd, ErrNoData)
	}
	entries, err := s.decoder.Decode(obd.LinePruner{}.Prune(resp, headerFreeze))
	if err != nil {
		return obd.TroubleCodeEntry{}, fmt.Errorf("%s: %w", cmd, err)
	}
	// 0000 means the frame slot is empty
	if len(entries) == 0 {
		return obd.TroubleCodeEntry{}, fmt.Errorf("%s: %w", cmd, ErrNoData)
	}
	return entries[0], nil
}

// supportedRanges walks the supported-PIDs bitmaps 00, 20, ... E0 built by
// request while each one flags the next. A non-empty first replaces the
// request for range 00.
func (s *Session) supportedRanges(ctx context.Context, header int, first obd.RawResponse, request func(base byte) obd.Command) ([]byte, error) {
	var all []byte
	for base := 0; base <= maxPIDRange; base += 0x20 {
		cmd := request(byte(base))
		resp := first
		if base > 0 || resp == "" {
			var err error
			if resp, err = s.Query(ctx, cmd); err != nil {
				return all, err
			}
		}
		if resp.IsNoData() {
			break
		}
		pids, more, err := obd.SupportedPIDs(byte(base), obd.LinePruner{}.Prune(resp, header))
		if err != nil {
			return all, fmt.Errorf("%s: %w", cmd, err)
		}
		all = append(all, pids...)
		if !more {
			break
		}
	}
	return all, nil
}

func (s *Session) readValue(ctx context.Context, cmd obd.Command, pid byte, header int) (obd.Reading, error) {
	resp, err := s.Query(ctx, cmd)
	if err != nil {
		return obd.Reading{}, err
	}
	if resp.IsNoData() {
		return obd.Reading{}, fmt.Errorf("%s: %w", cmd, ErrNoData)
	}
	return obd.DecodePID(pid, obd.LinePruner{}.Prune(resp, header))
}

// Protocol returns the bus protocol the adapter settled on (AT DP).
func (s *Session) Protocol(ctx context.Context) (string, error) {
	resp, err := s.Query(ctx, obd.CmdProtocol)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

var describeQueries = []obd.Command{
	obd.CmdVersion,
	obd.CmdIdentity,
	obd.CmdDescription,
	obd.CmdProtocol,
	obd.CmdVoltage,
	obd.CmdCANStatus,
	obd.CmdKeyWords,
	obd.CmdBufferDump,
	obd.CmdProgrammable,
}

// Describe runs every adapter information query. Queries that fail leave
// their field empty and are reported in the joined error.
func (s *Session) Describe(ctx context.Context) (common.AdapterInfo, error) {
	var (
		info common.AdapterInfo
		errs []error
	)
	for _, cmd := range describeQueries {
		resp, err := s.Query(ctx, cmd)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrInvalidState) {
				return info, err
			}
			errs = append(errs, err)
			continue
		}
		setInfo(&info, cmd, resp)
	}
	return info, errors.Join(errs...)
}
