package common

import "time"

// Reading is one decoded live data value.
type Reading struct {
	PID   string  `json:"pid" csv:"pid"`     // e.g. "0C"
	Name  string  `json:"name" csv:"name"`   // e.g. "engine_rpm"
	Value float64 `json:"value" csv:"value"` // decoded value
	Unit  string  `json:"unit" csv:"unit"`   // e.g. "rpm"
	Raw   string  `json:"raw" csv:"raw"`     // pruned hex payload
}

// TroubleCodeEntry is a trouble code as exported in reports.
type TroubleCodeEntry struct {
	Kind        string `json:"kind" csv:"kind"` // stored, pending, permanent
	Code        string `json:"code" csv:"code"`
	Description string `json:"description" csv:"description"`
}

// AdapterInfo collects the adapter's answers to the AT information queries.
// Fields the adapter did not answer are left empty.
type AdapterInfo struct {
	Version      string `json:"version,omitempty"`      // AT I
	Identity     string `json:"identity,omitempty"`     // AT @1
	Description  string `json:"description,omitempty"`  // AT @2
	Protocol     string `json:"protocol,omitempty"`     // AT DP
	Voltage      string `json:"voltage,omitempty"`      // AT RV
	CANStatus    string `json:"can_status,omitempty"`   // AT CS
	KeyWords     string `json:"key_words,omitempty"`    // AT KW
	BufferDump   string `json:"buffer_dump,omitempty"`  // AT BD
	Programmable string `json:"programmable,omitempty"` // AT PPS
}

// Report is the result of one diagnostic scan.
type Report struct {
	ID            string             `json:"id"`
	VIN           string             `json:"vin"`
	CalibrationID string             `json:"calibration_id,omitempty"`
	ECUName       string             `json:"ecu_name,omitempty"`
	Protocol      string             `json:"protocol"`
	Adapter       AdapterInfo        `json:"adapter"`
	MILOn         bool               `json:"mil_on"`
	Stored        []TroubleCodeEntry `json:"stored"`
	Pending       []TroubleCodeEntry `json:"pending"`
	Permanent     []TroubleCodeEntry `json:"permanent"`
	Timestamp     time.Time          `json:"timestamp"`
}

// AllCodes returns stored, pending and permanent codes in that order.
func (r *Report) AllCodes() []TroubleCodeEntry {
	all := make([]TroubleCodeEntry, 0, len(r.Stored)+len(r.Pending)+len(r.Permanent))
	all = append(all, r.Stored...)
	all = append(all, r.Pending...)
	return append(all, r.Permanent...)
}
