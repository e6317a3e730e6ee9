package obd

import (
	"errors"
	"strconv"
	"strings"
)

// NotFoundDescription replaces descriptions missing from every table.
const NotFoundDescription = "[DESCRIPTION NOT FOUND]"

// groupWidth is the number of hex characters per trouble code.
const groupWidth = 4

// CodeKind selects which trouble code service to query.
type CodeKind int

const (
	Stored CodeKind = iota
	Pending
	Permanent
)

func (k CodeKind) String() string {
	switch k {
	case Stored:
		return "stored"
	case Pending:
		return "pending"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Command returns the service request for this kind.
func (k CodeKind) Command() Command {
	switch k {
	case Pending:
		return CmdPendingCodes
	case Permanent:
		return CmdPermanentCodes
	default:
		return CmdStoredCodes
	}
}

// TroubleCode is a decoded DTC such as P0133. Prefix is whatever the prefix
// table maps the first hex digit to; with the embedded table that is the SAE
// system letter plus the first code digit ("P0", "C1", "U3"). Body holds the
// remaining three digits in upper case.
type TroubleCode struct {
	Prefix string
	Body   string
}

func (c TroubleCode) String() string {
	return c.Prefix + c.Body
}

// Letter returns the system letter: P powertrain, C chassis, B body or U
// network. It is empty when the prefix is.
func (c TroubleCode) Letter() string {
	if c.Prefix == "" {
		return ""
	}
	return c.Prefix[:1]
}

// TroubleCodeEntry pairs a code with its description.
type TroubleCodeEntry struct {
	Code        TroubleCode
	Description string
}

// Decoder turns pruned trouble code payloads into entries. It only reads its
// tables.
type Decoder struct {
	tables *Tables
}

func NewDecoder(tables *Tables) *Decoder {
	return &Decoder{tables: tables}
}

// Decode consumes the payload four hex characters at a time. Zero groups are
// padding and are skipped. A group that fails to decode is reported in the
// joined error and does not stop the remaining groups. A trailing group
// shorter than four characters is rejected, never truncated.
func (d *Decoder) Decode(payload PrunedPayload) ([]TroubleCodeEntry, error) {
	var (
		entries []TroubleCodeEntry
		errs    []error
	)
	s := string(payload)
	for off := 0; off < len(s); off += groupWidth {
		if off+groupWidth > len(s) {
			errs = append(errs, &FormatError{
				Offset: off,
				Group:  s[off:],
				Reason: "trailing group shorter than 4 characters",
			})
			break
		}
		group := s[off : off+groupWidth]
		entry, skip, err := d.decodeGroup(group)
		if err != nil {
			if fe, ok := err.(*FormatError); ok {
				fe.Offset = off
			}
			errs = append(errs, err)
			continue
		}
		if skip {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, errors.Join(errs...)
}

func (d *Decoder) decodeGroup(group string) (TroubleCodeEntry, bool, error) {
	v, err := strconv.ParseUint(group, 16, 16)
	if err != nil {
		return TroubleCodeEntry{}, false, &FormatError{Group: group, Reason: "not hexadecimal"}
	}
	if v == 0 {
		return TroubleCodeEntry{}, true, nil
	}
	prefix, ok := d.tables.Prefix(group[0])
	if !ok {
		return TroubleCodeEntry{}, false, &LookupError{Table: "prefix", Key: group[:1]}
	}
	code := TroubleCode{Prefix: prefix, Body: strings.ToUpper(group[1:])}
	desc, ok := d.tables.Description(code.String())
	if !ok {
		desc = NotFoundDescription
	}
	return TroubleCodeEntry{Code: code, Description: desc}, false, nil
}
