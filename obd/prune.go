package obd

import "strings"

// Pruner removes adapter-injected prefixes from every line of a response and
// concatenates what remains.
type Pruner interface {
	Prune(resp RawResponse, removeBytePairs int) PrunedPayload
}

// LinePruner drops the same number of byte pairs from every line.
type LinePruner struct{}

func (LinePruner) Prune(resp RawResponse, removeBytePairs int) PrunedPayload {
	var b strings.Builder
	for _, line := range resp.Lines() {
		b.WriteString(dropPairs(line, removeBytePairs))
	}
	return PrunedPayload(b.String())
}

// VINPruner handles the STN11xx layout of the 0902 reply: line 1 carries the
// "0:" line number plus the 49 02 01 acknowledgement, lines 2 and 3 carry a
// single line number pair. Other lines fall back to the caller's count.
type VINPruner struct{}

const (
	vinAckPairs        = 4
	vinLineNumberPairs = 1
)

func (VINPruner) Prune(resp RawResponse, removeBytePairs int) PrunedPayload {
	var b strings.Builder
	for i, line := range resp.Lines() {
		switch {
		case i == 1:
			b.WriteString(dropPairs(line, vinAckPairs))
		case i >= 2 && i < 4:
			b.WriteString(dropPairs(line, vinLineNumberPairs))
		default:
			b.WriteString(dropPairs(line, removeBytePairs))
		}
	}
	return PrunedPayload(b.String())
}

// PrunerFor selects the pruning strategy for a request.
func PrunerFor(cmd Command) Pruner {
	if cmd == CmdVIN {
		return VINPruner{}
	}
	return LinePruner{}
}

func dropPairs(line string, pairs int) string {
	n := 2 * pairs
	if n <= 0 {
		return line
	}
	if n >= len(line) {
		return ""
	}
	return line[n:]
}
