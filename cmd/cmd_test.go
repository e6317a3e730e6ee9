package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"elm327-diag/common"
	"elm327-diag/elm327"
	"elm327-diag/mqtt"
	"elm327-diag/obd"
	"elm327-diag/testutils"
	"elm327-diag/transport"
)

const testConfig = `
session:
  settle_period: 0s
  reset_period: 0s
  response_timeout: 1s
logging:
  level: error
`

type fakeSink struct {
	mu         sync.Mutex
	cfg        mqtt.Config
	connectErr error
	reports    []common.Report
	readings   []common.Reading
	closed     int
}

func (f *fakeSink) Connect() error { return f.connectErr }

func (f *fakeSink) PublishReport(r common.Report) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, r)
	return nil
}

func (f *fakeSink) PublishReading(_ string, r common.Reading) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readings = append(f.readings, r)
	return nil
}

func (f *fakeSink) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
}

type harness struct {
	app     *app
	port    *testutils.FakeAdapter
	sink    *fakeSink
	opened  int
	cfgPath string
}

func newHarness(t *testing.T, extraConfig string) *harness {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(testConfig+extraConfig), 0o600))

	h := &harness{
		port:    testutils.Healthy(),
		sink:    &fakeSink{},
		cfgPath: cfgPath,
	}
	a := newApp()
	a.clock = clockwork.NewFakeClock()
	a.progress = io.Discard
	a.openPort = func(transport.Config) (transport.Port, error) {
		h.opened++
		return h.port, nil
	}
	a.newSink = func(c mqtt.Config) reportSink {
		h.sink.cfg = c
		return h.sink
	}
	a.readPassword = func() (string, error) { return "prompted", nil }
	h.app = a
	return h
}

func (h *harness) run(ctx context.Context, stdin string, args ...string) (string, error) {
	root := newRootCmd(h.app)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--config", h.cfgPath, "--no-color"}, args...))
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestScan_Text(t *testing.T) {
	h := newHarness(t, "")
	out, err := h.run(context.Background(), "", "scan")
	require.NoError(t, err)

	assert.Contains(t, out, "1G1JC5444R7252367")
	assert.Contains(t, out, "Check engine light: ON")
	assert.Contains(t, out, "Stored codes (2)")
	assert.Contains(t, out, "P0133  O2 Sensor Circuit Slow Response (Bank 1 Sensor 1)")
	assert.Contains(t, out, "P0171  System too Lean (Bank 1)")
	assert.Contains(t, out, "Pending codes (0)")
	assert.Contains(t, out, "AUTO, ISO 15765-4 (CAN 11/500)")
	assert.Equal(t, 1, h.port.CloseCount())
	assert.Empty(t, h.sink.reports, "mqtt disabled")
}

func TestScan_JSON(t *testing.T) {
	h := newHarness(t, "")
	out, err := h.run(context.Background(), "", "scan", "--format", "json")
	require.NoError(t, err)

	var report common.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.NotEmpty(t, report.ID)
	assert.Equal(t, "1G1JC5444R7252367", report.VIN)
	assert.Equal(t, "0123", report.CalibrationID)
	assert.Equal(t, "ECM", report.ECUName)
	assert.True(t, report.MILOn)
	require.Len(t, report.Stored, 2)
	assert.Equal(t, common.TroubleCodeEntry{Kind: "stored", Code: "P0133", Description: "O2 Sensor Circuit Slow Response (Bank 1 Sensor 1)"}, report.Stored[0])
	assert.Empty(t, report.Pending)
	assert.Empty(t, report.Permanent)
	assert.Equal(t, "12.6V", report.Adapter.Voltage)
}

func TestScan_CSV(t *testing.T) {
	h := newHarness(t, "")
	out, err := h.run(context.Background(), "", "scan", "-f", "csv")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "kind,code,description", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "stored,P0133,"))
	assert.True(t, strings.HasPrefix(lines[2], "stored,P0171,"))
}

func TestScan_Publish(t *testing.T) {
	h := newHarness(t, `
mqtt:
  enabled: true
  username: car
`)
	_, err := h.run(context.Background(), "", "scan")
	require.NoError(t, err)

	require.Len(t, h.sink.reports, 1)
	assert.Equal(t, "1G1JC5444R7252367", h.sink.reports[0].VIN)
	assert.Equal(t, "prompted", h.sink.cfg.Password)
	assert.Equal(t, 1, h.sink.closed)
}

func TestScan_PublishConnectError(t *testing.T) {
	h := newHarness(t, "")
	h.sink.connectErr = errors.New("broker down")
	_, err := h.run(context.Background(), "", "scan", "--publish")
	assert.ErrorContains(t, err, "broker down")
	assert.Equal(t, 1, h.port.CloseCount())
}

func TestScan_BusDoesNotAnswer(t *testing.T) {
	h := newHarness(t, "")
	h.port.On("0100", "SEARCHING...\rUNABLE TO CONNECT\r\r")
	h.app.v.Set("session.connect_attempts", 2)

	_, err := h.run(context.Background(), "", "scan")
	require.ErrorIs(t, err, elm327.ErrBusConnect)
	assert.Equal(t, 2, h.port.Calls("0100"))
	assert.Equal(t, 1, h.port.CloseCount())
}

func TestScan_Canceled(t *testing.T) {
	h := newHarness(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.run(ctx, "", "scan")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, h.port.CloseCount())
}

func TestScan_BadFormat(t *testing.T) {
	h := newHarness(t, "")
	_, err := h.run(context.Background(), "", "scan", "--format", "xml")
	assert.ErrorContains(t, err, "unknown format")
	assert.Equal(t, 0, h.opened)
}

func TestCodes(t *testing.T) {
	h := newHarness(t, "")
	out, err := h.run(context.Background(), "", "codes", "--kind", "stored", "--format", "json")
	require.NoError(t, err)

	var codes []common.TroubleCodeEntry
	require.NoError(t, json.Unmarshal([]byte(out), &codes))
	require.Len(t, codes, 2)
	assert.Equal(t, "P0171", codes[1].Code)
	assert.Equal(t, 1, h.port.Calls("03"))
	assert.Equal(t, 0, h.port.Calls("07"))
}

func TestCodes_PartialDecode(t *testing.T) {
	h := newHarness(t, "")
	h.port.On("03", "43013301\r\r")
	out, err := h.run(context.Background(), "", "codes", "-k", "stored")
	require.ErrorIs(t, err, obd.ErrFormat)
	assert.Contains(t, out, "P0133")
}

func TestCodes_UnknownKind(t *testing.T) {
	h := newHarness(t, "")
	_, err := h.run(context.Background(), "", "codes", "--kind", "historic")
	assert.ErrorContains(t, err, "unknown code kind")
	assert.Equal(t, 0, h.opened)
}

func TestClear(t *testing.T) {
	h := newHarness(t, "")
	out, err := h.run(context.Background(), "n\n", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "aborted")
	assert.Equal(t, 0, h.opened)

	out, err = h.run(context.Background(), "y\n", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "trouble codes cleared")
	assert.Equal(t, 1, h.port.Calls("04"))
}

func TestClear_NoAnswerAborts(t *testing.T) {
	h := newHarness(t, "")
	for _, stdin := range []string{"", "\n", "maybe\n"} {
		out, err := h.run(context.Background(), stdin, "clear")
		require.NoError(t, err)
		assert.Contains(t, out, "aborted", "answer %q", stdin)
	}
	assert.Equal(t, 0, h.opened)
	assert.Equal(t, 0, h.port.Calls("04"))
}

func TestConfirm(t *testing.T) {
	for stdin, want := range map[string]bool{"y\n": true, "Y\n": true, "n\n": false, "": false} {
		cmd := &cobra.Command{}
		cmd.SetIn(strings.NewReader(stdin))
		cmd.SetErr(io.Discard)
		assert.Equal(t, want, confirm(cmd, "continue"), "answer %q", stdin)
	}
}

func TestClear_Rejected(t *testing.T) {
	h := newHarness(t, "")
	h.port.On("04", "7F0422\r\r")
	_, err := h.run(context.Background(), "", "clear", "--yes")
	assert.ErrorContains(t, err, "rejected")
}

func TestInfo(t *testing.T) {
	h := newHarness(t, "")
	out, err := h.run(context.Background(), "", "info")
	require.NoError(t, err)
	assert.Contains(t, out, "ELM327 v1.5")
	assert.Contains(t, out, "OBDII to RS232 Interpreter")
	assert.Contains(t, out, "T:00 R:00")
}

func TestPIDs_List(t *testing.T) {
	h := newHarness(t, "")
	out, err := h.run(context.Background(), "", "pids", "--list")
	require.NoError(t, err)
	assert.Contains(t, out, "0C  engine_rpm")
	assert.Contains(t, out, "0D  vehicle_speed")
	assert.Equal(t, 0, h.port.Calls("010C"))
}

func TestPIDs_Read(t *testing.T) {
	h := newHarness(t, "")
	out, err := h.run(context.Background(), "", "pids", "--format", "csv", "--publish")
	require.NoError(t, err)

	assert.Contains(t, out, "pid,name,value,unit,raw")
	assert.Contains(t, out, "0C,engine_rpm,1724,rpm,1AF0")
	assert.Contains(t, out, "0D,vehicle_speed,50,km/h,32")
	require.Len(t, h.sink.readings, 2)
	assert.Equal(t, 1, h.port.Calls("0902"), "VIN read once for topics")
}

func TestPorts(t *testing.T) {
	h := newHarness(t, "")
	h.app.listPorts = func() ([]transport.PortInfo, error) {
		return []transport.PortInfo{
			{Name: "/dev/ttyUSB0", Description: "USB Serial Port", IsUSB: true, VID: "0403", PID: "6001"},
			{Name: "/dev/ttyS0"},
		}, nil
	}
	out, err := h.run(context.Background(), "", "ports")
	require.NoError(t, err)
	assert.Contains(t, out, "/dev/ttyUSB0")
	assert.Contains(t, out, "0403:6001")
	assert.Equal(t, 0, h.opened)
}

func TestParseKinds(t *testing.T) {
	kinds, err := parseKinds("ALL")
	require.NoError(t, err)
	assert.Equal(t, allKinds, kinds)

	kinds, err = parseKinds("permanent")
	require.NoError(t, err)
	assert.Equal(t, []obd.CodeKind{obd.Permanent}, kinds)

	_, err = parseKinds("frozen")
	assert.Error(t, err)
}

func TestPIDs_Freeze(t *testing.T) {
	h := newHarness(t, "")
	out, err := h.run(context.Background(), "", "pids", "--freeze", "0")
	require.NoError(t, err)

	assert.Contains(t, out, "Freeze frame 0 stored by P0133")
	assert.Contains(t, out, "engine_rpm")
	assert.Contains(t, out, "coolant_temperature")
	assert.Equal(t, 1, h.port.Calls("020C00"))
	assert.Equal(t, 0, h.port.Calls("010C"))
	assert.Equal(t, 0, h.port.Calls("0120"))
}

func TestPIDs_FreezeCSV(t *testing.T) {
	h := newHarness(t, "")
	out, err := h.run(context.Background(), "", "pids", "--freeze", "0", "-f", "csv")
	require.NoError(t, err)

	assert.NotContains(t, out, "Freeze frame")
	assert.Contains(t, out, "0C,engine_rpm,1000,rpm,0FA0")
	assert.Contains(t, out, "05,coolant_temperature,83,°C,7B")
}

func TestPIDs_FreezeOutOfRange(t *testing.T) {
	h := newHarness(t, "")
	_, err := h.run(context.Background(), "", "pids", "--freeze", "256")
	assert.ErrorContains(t, err, "--freeze")
	assert.Equal(t, 0, h.opened)
}

func TestLivePIDs(t *testing.T) {
	assert.Equal(t, []byte{0x0C, 0x0D}, livePIDs([]byte{0x01, 0x0C, 0x0D, 0x13, 0x20}))
	assert.Empty(t, livePIDs(nil))
}
