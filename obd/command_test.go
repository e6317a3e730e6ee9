package obd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommandText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		cmd  Command
		text string
		at   bool
	}{
		{CmdReset, "AT Z", true},
		{CmdEchoOff, "AT E0", true},
		{CmdSpacesOff, "AT S0", true},
		{CmdSetProtocol, "AT SP A3", true},
		{CmdSetBusSpeed, "AT IB 10", true},
		{CmdIdentity, "AT @1", true},
		{CmdDescription, "AT @2", true},
		{CmdVoltage, "AT RV", true},
		{CmdProtocol, "AT DP", true},
		{CmdSupportedPIDs, "0100", false},
		{CmdVIN, "0902", false},
		{CmdStoredCodes, "03", false},
		{CmdPendingCodes, "07", false},
		{CmdPermanentCodes, "0A", false},
		{CurrentData(0x0C), "010C", false},
		{FreezeFrame(0x0C, 0x00), "020C00", false},
		{FreezeFrame(0x00, 0x01), "020001", false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.text, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.text, tt.cmd.String())
			assert.Equal(t, []byte(tt.text), tt.cmd.Bytes())
			assert.Equal(t, tt.at, tt.cmd.IsAT())
		})
	}
}

func TestCommandService(t *testing.T) {
	t.Parallel()

	svc, ok := CmdVIN.Service()
	assert.True(t, ok)
	assert.Equal(t, byte(0x09), svc)

	_, ok = CmdEchoOff.Service()
	assert.False(t, ok)

	_, ok = Command{}.Service()
	assert.False(t, ok)
}

func TestCommandBytesIsCopy(t *testing.T) {
	t.Parallel()

	b := CmdReset.Bytes()
	b[0] = 'X'
	assert.Equal(t, "AT Z", CmdReset.String())
}
