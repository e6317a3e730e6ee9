package obd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		pid          byte
		payload      PrunedPayload
		expectedName string
		expectedVal  float64
		expectError  bool
	}{
		{
			name:         "RPM",
			pid:          0x0C,
			payload:      "1AF0",
			expectedName: "engine_rpm",
			expectedVal:  1724, // ((26 * 256) + 240) / 4
		},
		{
			name:         "vehicle speed",
			pid:          0x0D,
			payload:      "32",
			expectedName: "vehicle_speed",
			expectedVal:  50,
		},
		{
			name:         "coolant temperature",
			pid:          0x05,
			payload:      "5A",
			expectedName: "coolant_temperature",
			expectedVal:  50, // 0x5A - 40
		},
		{
			name:         "fuel trim",
			pid:          0x06,
			payload:      "80",
			expectedName: "short_term_fuel_trim_1",
			expectedVal:  0,
		},
		{
			name:         "control module voltage",
			pid:          0x42,
			payload:      "3840",
			expectedName: "control_module_voltage",
			expectedVal:  14.4,
		},
		{
			name:         "second ECU bytes ignored",
			pid:          0x0D,
			payload:      "3233",
			expectedName: "vehicle_speed",
			expectedVal:  50,
		},
		{
			name:        "too short",
			pid:         0x0C,
			payload:     "1A",
			expectError: true,
		},
		{
			name:        "unsupported PID",
			pid:         0xFF,
			payload:     "1234",
			expectError: true,
		},
		{
			name:        "not hex",
			pid:         0x0D,
			payload:     "XY",
			expectError: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			reading, err := DecodePID(tt.pid, tt.payload)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectedName, reading.Name)
			assert.InDelta(t, tt.expectedVal, reading.Value, 0.001)
			assert.Equal(t, string(tt.payload), reading.Raw)
		})
	}
}

func TestLivePIDs(t *testing.T) {
	t.Parallel()

	pids := LivePIDs()
	require.NotEmpty(t, pids)
	for i := 1; i < len(pids); i++ {
		assert.Less(t, pids[i-1], pids[i])
	}
	for _, pid := range pids {
		assert.NotContains(t, PIDName(pid), "unknown_")
	}
	assert.Equal(t, "unknown_FF", PIDName(0xFF))
}
