package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/gocarina/gocsv"

	"elm327-diag/common"
	"elm327-diag/transport"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatCSV  = "csv"
)

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	warnColor   = color.New(color.FgRed, color.Bold)
	okColor     = color.New(color.FgGreen)
	codeColor   = color.New(color.FgYellow, color.Bold)
)

func checkFormat(format string) error {
	switch format {
	case formatText, formatJSON, formatCSV:
		return nil
	default:
		return fmt.Errorf("unknown format %q (want text, json or csv)", format)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeCodesCSV writes one row per code with a header line.
func writeCodesCSV(w io.Writer, codes []common.TroubleCodeEntry) error {
	if codes == nil {
		codes = []common.TroubleCodeEntry{}
	}
	return gocsv.Marshal(&codes, w)
}

func writeReport(w io.Writer, format string, report common.Report) error {
	switch format {
	case formatJSON:
		return writeJSON(w, report)
	case formatCSV:
		return writeCodesCSV(w, report.AllCodes())
	}

	headerColor.Fprintln(w, "Vehicle")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "  VIN\t%s\n", orDash(report.VIN))
	fmt.Fprintf(tw, "  Calibration ID\t%s\n", orDash(report.CalibrationID))
	fmt.Fprintf(tw, "  ECU\t%s\n", orDash(report.ECUName))
	fmt.Fprintf(tw, "  Protocol\t%s\n", orDash(report.Protocol))
	fmt.Fprintf(tw, "  Adapter\t%s\n", orDash(report.Adapter.Version))
	fmt.Fprintf(tw, "  Voltage\t%s\n", orDash(report.Adapter.Voltage))
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprint(w, "  Check engine light: ")
	if report.MILOn {
		warnColor.Fprintln(w, "ON")
	} else {
		okColor.Fprintln(w, "off")
	}

	writeCodeSection(w, "Stored codes", report.Stored)
	writeCodeSection(w, "Pending codes", report.Pending)
	writeCodeSection(w, "Permanent codes", report.Permanent)
	fmt.Fprintf(w, "\nscan %s at %s\n", report.ID, report.Timestamp.Format("2006-01-02 15:04:05 MST"))
	return nil
}

func writeCodeSection(w io.Writer, title string, codes []common.TroubleCodeEntry) {
	fmt.Fprintln(w)
	headerColor.Fprintf(w, "%s (%d)\n", title, len(codes))
	if len(codes) == 0 {
		okColor.Fprintln(w, "  none")
		return
	}
	for _, c := range codes {
		fmt.Fprint(w, "  ")
		codeColor.Fprint(w, c.Code)
		fmt.Fprintf(w, "  %s\n", c.Description)
	}
}

func writeCodes(w io.Writer, format string, codes []common.TroubleCodeEntry) error {
	switch format {
	case formatJSON:
		if codes == nil {
			codes = []common.TroubleCodeEntry{}
		}
		return writeJSON(w, codes)
	case formatCSV:
		return writeCodesCSV(w, codes)
	}
	if len(codes) == 0 {
		okColor.Fprintln(w, "no trouble codes")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, c := range codes {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", c.Code, c.Kind, c.Description)
	}
	return tw.Flush()
}

func writeAdapterInfo(w io.Writer, format string, info common.AdapterInfo) error {
	if format == formatJSON {
		return writeJSON(w, info)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	rows := []struct{ label, value string }{
		{"Version", info.Version},
		{"Identity", info.Identity},
		{"Description", info.Description},
		{"Protocol", info.Protocol},
		{"Voltage", info.Voltage},
		{"CAN status", info.CANStatus},
		{"Key words", info.KeyWords},
		{"Buffer", info.BufferDump},
		{"Parameters", info.Programmable},
	}
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\n", r.label, orDash(r.value))
	}
	return tw.Flush()
}

func writeReadings(w io.Writer, format string, readings []common.Reading) error {
	switch format {
	case formatJSON:
		return writeJSON(w, readings)
	case formatCSV:
		if readings == nil {
			readings = []common.Reading{}
		}
		return gocsv.Marshal(&readings, w)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	for _, r := range readings {
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\t\n", r.PID, r.Name, r.Value, r.Unit)
	}
	return tw.Flush()
}

func writePorts(w io.Writer, ports []transport.PortInfo) error {
	if len(ports) == 0 {
		warnColor.Fprintln(w, "no serial ports found")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PORT\tUSB\tVID:PID\tDESCRIPTION")
	for _, p := range ports {
		ids := ""
		if p.IsUSB {
			ids = p.VID + ":" + p.PID
		}
		fmt.Fprintf(tw, "%s\t%t\t%s\t%s\n", p.Name, p.IsUSB, orDash(ids), orDash(p.Description))
	}
	return tw.Flush()
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
