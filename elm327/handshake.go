package elm327

import (
	"strings"

	"elm327-diag/obd"
)

// MatchMode says how a setup reply is compared with the expected text.
type MatchMode int

const (
	MatchExact MatchMode = iota
	MatchSuffix
	MatchContains
)

// Severity says what a setup mismatch does to the session.
type Severity int

const (
	// SeverityWarn logs the mismatch and continues; the adapter may already
	// be in the requested mode.
	SeverityWarn Severity = iota
	// SeverityFatal fails the session.
	SeverityFatal
)

func (s Severity) String() string {
	if s == SeverityFatal {
		return "fatal"
	}
	return "warn"
}

// SetupStep is one row of the adapter configuration table.
type SetupStep struct {
	Command  obd.Command
	Expect   string
	Match    MatchMode
	Severity Severity
}

// Check compares resp with the expected reply.
func (s SetupStep) Check(resp obd.RawResponse) error {
	got := string(resp)
	var ok bool
	switch s.Match {
	case MatchSuffix:
		ok = strings.HasSuffix(got, s.Expect)
	case MatchContains:
		ok = strings.Contains(got, s.Expect)
	default:
		ok = got == s.Expect
	}
	if ok {
		return nil
	}
	return &MismatchError{Command: s.Command.String(), Expected: s.Expect, Got: got}
}

// DefaultSetup is the ELM327 configuration sequence. The echo-off reply
// still carries the echo of the command itself.
func DefaultSetup() []SetupStep {
	return []SetupStep{
		{Command: obd.CmdEchoOff, Expect: "AT E0\nOK\n", Match: MatchExact, Severity: SeverityWarn},
		{Command: obd.CmdSpacesOff, Expect: "OK\n", Match: MatchExact, Severity: SeverityWarn},
		{Command: obd.CmdSetProtocol, Expect: "OK\n", Match: MatchExact, Severity: SeverityWarn},
		{Command: obd.CmdSetBusSpeed, Expect: "OK\n", Match: MatchExact, Severity: SeverityWarn},
	}
}

// infoQueries are sent after setup; their answers only feed AdapterInfo.
var infoQueries = []obd.Command{obd.CmdIdentity, obd.CmdDescription, obd.CmdVoltage}
