package obd

import "strings"

// Adapter status texts that can appear in place of a payload.
const (
	textSearching       = "SEARCHING..."
	textBusInit         = "BUS INIT:"
	textBusInitNoSpace  = "BUSINIT:"
	textNoData          = "NO DATA"
	textUnableToConnect = "UNABLE TO CONNECT"
)

// statusPrefixes start the progress lines the adapter prints ahead of a
// payload while it finds or wakes the bus.
var statusPrefixes = []string{textSearching, textBusInit, textBusInitNoSpace}

// RawResponse is the framed text of one adapter reply: prompt removed, CR
// normalized to LF, no doubled line breaks.
type RawResponse string

// PrunedPayload is a contiguous string of hex digit pairs with the adapter
// prefixes removed.
type PrunedPayload string

// Lines splits the response on LF. A trailing empty line is dropped.
func (r RawResponse) Lines() []string {
	s := string(r)
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// Contains reports whether substr appears anywhere in the response.
func (r RawResponse) Contains(substr string) bool {
	return strings.Contains(string(r), substr)
}

// IsNoData reports whether the adapter answered NO DATA.
func (r RawResponse) IsNoData() bool {
	return r.Contains(textNoData)
}

// IsUnableToConnect reports whether the adapter failed to reach the vehicle
// bus. A failed ISO 9141 / KWP slow init counts too.
func (r RawResponse) IsUnableToConnect() bool {
	if r.Contains(textUnableToConnect) {
		return true
	}
	for _, line := range r.Lines() {
		if isStatusLine(line) && strings.Contains(line, "ERROR") {
			return true
		}
	}
	return false
}

// WithoutStatus removes the SEARCHING... lines printed while the adapter
// auto-detects the protocol and the BUS INIT: lines printed while it wakes an
// ISO 9141 or KWP bus.
func (r RawResponse) WithoutStatus() RawResponse {
	var b strings.Builder
	for _, line := range strings.SplitAfter(string(r), "\n") {
		if isStatusLine(line) {
			continue
		}
		b.WriteString(line)
	}
	return RawResponse(b.String())
}

func isStatusLine(line string) bool {
	line = strings.TrimSpace(line)
	for _, prefix := range statusPrefixes {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

// Text returns the response trimmed of surrounding whitespace and with line
// breaks folded into single spaces. Used for AT query answers.
func (r RawResponse) Text() string {
	return strings.Join(strings.Fields(strings.ReplaceAll(string(r), "\n", " ")), " ")
}

// Len returns the number of hex characters in the payload.
func (p PrunedPayload) Len() int {
	return len(p)
}
