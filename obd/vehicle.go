package obd

import (
	"encoding/hex"
	"strings"
)

// pidRangeWidth is the number of PIDs covered by one supported-PIDs bitmap.
const pidRangeWidth = 0x20

const maxPID = 0xFF

// SupportedPIDs resolves a supported-PIDs bitmap (the pruned reply to 0100,
// 0120, ...) into the PIDs it marks as supported. When several ECUs answer,
// their bitmaps are merged. more reports whether the next range is supported.
func SupportedPIDs(base byte, payload PrunedPayload) (pids []byte, more bool, err error) {
	s := string(payload)
	if len(s) == 0 || len(s)%8 != 0 {
		return nil, false, &FormatError{Group: s, Reason: "bitmap must be a multiple of 8 hex characters"}
	}
	var mask uint32
	for off := 0; off < len(s); off += 8 {
		b, err := hex.DecodeString(s[off : off+8])
		if err != nil {
			return nil, false, &FormatError{Offset: off, Group: s[off : off+8], Reason: "not hexadecimal"}
		}
		mask |= uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	}
	for i := 0; i < pidRangeWidth; i++ {
		pid := int(base) + i + 1
		if pid > maxPID {
			break
		}
		if mask&(1<<(31-i)) != 0 {
			pids = append(pids, byte(pid))
		}
	}
	// the last bit of the E0 range has no range after it
	more = mask&1 != 0 && int(base)+pidRangeWidth < maxPID
	return pids, more, nil
}

// MonitorStatus is the decoded reply to 0101.
type MonitorStatus struct {
	MILOn               bool
	StoredCodes         int
	CompressionIgnition bool
}

// ParseMonitorStatus decodes the pruned 0101 payload (bytes A B C D).
func ParseMonitorStatus(payload PrunedPayload) (MonitorStatus, error) {
	data, err := payloadBytes(payload)
	if err != nil {
		return MonitorStatus{}, err
	}
	if len(data) < 2 {
		return MonitorStatus{}, &FormatError{Group: string(payload), Reason: "monitor status needs at least 2 bytes"}
	}
	return MonitorStatus{
		MILOn:               data[0]&0x80 != 0,
		StoredCodes:         int(data[0] & 0x7F),
		CompressionIgnition: data[1]&0x08 != 0,
	}, nil
}

// DecodeText turns a hex payload of ASCII bytes (VIN, calibration id, ECU
// name) into text. NUL padding becomes spaces and the result is trimmed.
func DecodeText(payload PrunedPayload) (string, error) {
	data, err := payloadBytes(payload)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, c := range data {
		switch {
		case c == 0:
			b.WriteByte(' ')
		case c >= 0x20 && c < 0x7F:
			b.WriteByte(c)
		}
	}
	return strings.Join(strings.Fields(b.String()), " "), nil
}

func payloadBytes(payload PrunedPayload) ([]byte, error) {
	s := string(payload)
	if len(s)%2 != 0 {
		return nil, &FormatError{Offset: len(s) - 1, Group: s, Reason: "odd number of hex characters"}
	}
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, &FormatError{Group: s, Reason: err.Error()}
	}
	return data, nil
}
