package transport

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

type stubPort struct {
	timeout time.Duration
	closed  bool
}

func (s *stubPort) Read(p []byte) (int, error)           { return 0, nil }
func (s *stubPort) Write(p []byte) (int, error)          { return len(p), nil }
func (s *stubPort) Close() error                         { s.closed = true; return nil }
func (s *stubPort) SetReadTimeout(t time.Duration) error { s.timeout = t; return nil }

type serialCall struct {
	path string
	mode *serial.Mode
}

func stubSerial(t *testing.T) (*stubPort, *serialCall) {
	t.Helper()
	port := &stubPort{}
	call := &serialCall{}

	orig := serialFactory
	serialFactory = func(path string, mode *serial.Mode) (Port, error) {
		call.path = path
		call.mode = mode
		return port, nil
	}
	t.Cleanup(func() { serialFactory = orig })
	return port, call
}

func stubPorts(t *testing.T, details ...*enumerator.PortDetails) {
	t.Helper()
	orig := listPorts
	listPorts = func() ([]*enumerator.PortDetails, error) { return details, nil }
	t.Cleanup(func() { listPorts = orig })
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, KindSerial, cfg.Kind)
	assert.Equal(t, AutoDetect, cfg.DevicePath)
	assert.Equal(t, "USB Serial Port", cfg.DescriptionPattern)
	assert.Equal(t, 9600, cfg.BaudRate)
	assert.Equal(t, 7*time.Second, cfg.ReadTimeout)
}

func TestOpen_Serial(t *testing.T) {
	port, call := stubSerial(t)

	cfg := DefaultConfig()
	cfg.DevicePath = "/dev/ttyUSB0"
	cfg.BaudRate = 38400

	p, err := Open(cfg)
	require.NoError(t, err)
	assert.Same(t, port, p)
	assert.Equal(t, "/dev/ttyUSB0", call.path)
	assert.Equal(t, 38400, call.mode.BaudRate)
	assert.Equal(t, 8, call.mode.DataBits)
	assert.Equal(t, serial.NoParity, call.mode.Parity)
	assert.Equal(t, serial.OneStopBit, call.mode.StopBits)
	assert.Equal(t, 7*time.Second, port.timeout)
}

func TestOpen_AutoDetect(t *testing.T) {
	_, call := stubSerial(t)
	stubPorts(t,
		&enumerator.PortDetails{Name: "/dev/ttyS0"},
		&enumerator.PortDetails{Name: "/dev/ttyUSB0", IsUSB: true, VID: "0403", PID: "6001", Product: "FT232R USB Serial Port"},
	)

	_, err := Open(DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", call.path)
}

func TestOpen_FactoryError(t *testing.T) {
	orig := serialFactory
	serialFactory = func(string, *serial.Mode) (Port, error) { return nil, errors.New("busy") }
	t.Cleanup(func() { serialFactory = orig })

	cfg := DefaultConfig()
	cfg.DevicePath = "/dev/ttyUSB0"
	_, err := Open(cfg)
	assert.ErrorContains(t, err, "/dev/ttyUSB0")
	assert.ErrorContains(t, err, "busy")
}

func TestOpen_UnknownKind(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Kind = "carrier-pigeon"
	cfg.DevicePath = "/dev/null"

	_, err := Open(cfg)
	assert.ErrorContains(t, err, "unknown adapter kind")
}

func TestOpen_RFCOMMNeedsPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Kind = KindRFCOMM

	_, err := Open(cfg)
	assert.Error(t, err)
}

func TestOpenRFCOMM_MissingDevice(t *testing.T) {
	_, err := OpenRFCOMM("/dev/rfcomm-does-not-exist", time.Second)
	assert.Error(t, err)
}

func TestMatchPort(t *testing.T) {
	ports := []PortInfo{
		{Name: "/dev/ttyS0", Description: ""},
		{Name: "/dev/ttyUSB0", Description: "FT232R USB Serial Port", IsUSB: true},
		{Name: "/dev/ttyACM0", Description: "STN1110 OBD"},
	}

	tests := []struct {
		name    string
		pattern string
		want    string
		wantErr error
	}{
		{name: "case insensitive", pattern: "usb serial", want: "/dev/ttyUSB0"},
		{name: "other device", pattern: "STN1110", want: "/dev/ttyACM0"},
		{name: "no match", pattern: "CH340", wantErr: ErrNoPort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MatchPort(ports, tt.pattern)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := MatchPort(ports, "")
	assert.ErrorContains(t, err, "several ports")
}

func TestListPorts(t *testing.T) {
	stubPorts(t,
		&enumerator.PortDetails{Name: "/dev/ttyUSB0", IsUSB: true, VID: "1a86", PID: "7523"},
	)

	ports, err := ListPorts()
	require.NoError(t, err)
	require.Len(t, ports, 1)
	assert.Equal(t, "USB 1a86:7523", ports[0].Description)
}
