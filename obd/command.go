package obd

import (
	"fmt"
	"strings"
)

// Command is a single outbound request to the adapter: either an AT
// configuration directive or an OBDII service request. The zero value is not
// a valid command.
type Command struct {
	text    string
	service byte
	at      bool
}

// AT builds an adapter directive, e.g. AT("E0") -> "AT E0".
func AT(directive string) Command {
	return Command{text: "AT " + strings.TrimSpace(directive), at: true}
}

// Request builds an OBDII service request from a service id and optional
// parameter bytes, e.g. Request(0x09, 0x02) -> "0902".
func Request(service byte, params ...byte) Command {
	var b strings.Builder
	fmt.Fprintf(&b, "%02X", service)
	for _, p := range params {
		fmt.Fprintf(&b, "%02X", p)
	}
	return Command{text: b.String(), service: service}
}

// String returns the command text without the line terminator.
func (c Command) String() string {
	return c.text
}

// Bytes returns a fresh copy of the command text.
func (c Command) Bytes() []byte {
	return []byte(c.text)
}

// IsAT reports whether the command is an adapter directive.
func (c Command) IsAT() bool {
	return c.at
}

// Service returns the OBDII service id; ok is false for AT directives.
func (c Command) Service() (service byte, ok bool) {
	if c.at || c.text == "" {
		return 0, false
	}
	return c.service, true
}

// Adapter directives used by the handshake and the info queries.
var (
	CmdReset        = AT("Z")
	CmdEchoOff      = AT("E0")
	CmdSpacesOff    = AT("S0")
	CmdSetProtocol  = AT("SP A3")
	CmdSetBusSpeed  = AT("IB 10")
	CmdIdentity     = AT("@1")
	CmdDescription  = AT("@2")
	CmdVoltage      = AT("RV")
	CmdProtocol     = AT("DP")
	CmdVersion      = AT("I")
	CmdCANStatus    = AT("CS")
	CmdKeyWords     = AT("KW")
	CmdBufferDump   = AT("BD")
	CmdProgrammable = AT("PPS")
)

// Service requests.
var (
	CmdSupportedPIDs  = Request(0x01, 0x00)
	CmdMonitorStatus  = Request(0x01, 0x01)
	CmdStoredCodes    = Request(0x03)
	CmdClearCodes     = Request(0x04)
	CmdPendingCodes   = Request(0x07)
	CmdVINCount       = Request(0x09, 0x01)
	CmdVIN            = Request(0x09, 0x02)
	CmdCalibrationID  = Request(0x09, 0x04)
	CmdECUName        = Request(0x09, 0x0A)
	CmdPermanentCodes = Request(0x0A)
)

// CurrentData returns the service 01 request for a single PID.
func CurrentData(pid byte) Command {
	return Request(0x01, pid)
}

// FreezeFrame returns the service 02 request for pid in stored frame.
func FreezeFrame(pid, frame byte) Command {
	return Request(0x02, pid, frame)
}
