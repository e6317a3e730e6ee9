package obd

import (
	"fmt"
	"slices"

	"elm327-diag/common"
)

// Reading is a decoded live data value.
type Reading = common.Reading

type pidSpec struct {
	Name    string
	Unit    string
	Bytes   int
	Formula func(d []byte) float64
}

// pidSpecs holds the service 01 PIDs that can be read as live data.
var pidSpecs = map[byte]pidSpec{
	// engine
	0x04: {"engine_load", "%", 1, percent},
	0x05: {"coolant_temperature", "°C", 1, celsius},
	0x0B: {"intake_manifold_pressure", "kPa", 1, single},
	0x0C: {"engine_rpm", "rpm", 2, func(d []byte) float64 { return word(d) / 4 }},
	0x0D: {"vehicle_speed", "km/h", 1, single},
	0x0F: {"intake_air_temperature", "°C", 1, celsius},
	0x11: {"throttle_position", "%", 1, percent},

	// fuel
	0x06: {"short_term_fuel_trim_1", "%", 1, trim},
	0x07: {"long_term_fuel_trim_1", "%", 1, trim},
	0x08: {"short_term_fuel_trim_2", "%", 1, trim},
	0x09: {"long_term_fuel_trim_2", "%", 1, trim},
	0x0A: {"fuel_pressure", "kPa", 1, func(d []byte) float64 { return float64(d[0]) * 3 }},
	0x2F: {"fuel_level", "%", 1, percent},

	// misc
	0x1F: {"run_time", "s", 2, word},
	0x21: {"distance_with_mil", "km", 2, word},
	0x33: {"barometric_pressure", "kPa", 1, single},
	0x42: {"control_module_voltage", "V", 2, func(d []byte) float64 { return word(d) / 1000 }},
}

func single(d []byte) float64  { return float64(d[0]) }
func percent(d []byte) float64 { return float64(d[0]) * 100 / 255 }
func celsius(d []byte) float64 { return float64(d[0]) - 40 }
func trim(d []byte) float64    { return (float64(d[0]) - 128) * 100 / 128 }
func word(d []byte) float64    { return float64(d[0])*256 + float64(d[1]) }

// DecodePID decodes the pruned reply to 01<pid>, or to 02<pid><frame> for a
// freeze frame value (response header removed). Extra bytes from additional
// ECUs are ignored.
func DecodePID(pid byte, payload PrunedPayload) (Reading, error) {
	spec, ok := pidSpecs[pid]
	if !ok {
		return Reading{}, &LookupError{Table: "pid", Key: fmt.Sprintf("%02X", pid)}
	}
	data, err := payloadBytes(payload)
	if err != nil {
		return Reading{}, fmt.Errorf("PID %02X: %w", pid, err)
	}
	if len(data) < spec.Bytes {
		return Reading{}, &FormatError{
			Group:  string(payload),
			Reason: fmt.Sprintf("PID %02X needs %d bytes, got %d", pid, spec.Bytes, len(data)),
		}
	}
	return Reading{
		PID:   fmt.Sprintf("%02X", pid),
		Name:  spec.Name,
		Value: spec.Formula(data[:spec.Bytes]),
		Unit:  spec.Unit,
		Raw:   string(payload),
	}, nil
}

// LivePIDs returns the PIDs DecodePID understands, in ascending order.
func LivePIDs() []byte {
	pids := make([]byte, 0, len(pidSpecs))
	for pid := range pidSpecs {
		pids = append(pids, pid)
	}
	slices.Sort(pids)
	return pids
}

// PIDName returns the metric name for a PID, or unknown_XX.
func PIDName(pid byte) string {
	if spec, ok := pidSpecs[pid]; ok {
		return spec.Name
	}
	return fmt.Sprintf("unknown_%02X", pid)
}
