package transport

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// Kinds of adapter link.
const (
	KindSerial = "serial"
	KindRFCOMM = "rfcomm"
)

// AutoDetect as DevicePath selects the port by DescriptionPattern.
const AutoDetect = "auto"

// Port is an exclusively owned byte link to the adapter. A read that times
// out returns 0 bytes and a nil error.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// Config describes how to reach the adapter.
type Config struct {
	Kind               string        `mapstructure:"kind"`
	DevicePath         string        `mapstructure:"device_path"`
	DescriptionPattern string        `mapstructure:"description_pattern"`
	BaudRate           int           `mapstructure:"baud_rate"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
}

// DefaultConfig returns the settings for a USB ELM327 clone.
func DefaultConfig() Config {
	return Config{
		Kind:               KindSerial,
		DevicePath:         AutoDetect,
		DescriptionPattern: "USB Serial Port",
		BaudRate:           9600,
		ReadTimeout:        7 * time.Second,
	}
}

// SerialPortFactory opens a serial device.
type SerialPortFactory func(path string, mode *serial.Mode) (Port, error)

// DefaultSerialPortFactory opens real serial ports.
func DefaultSerialPortFactory(path string, mode *serial.Mode) (Port, error) {
	p, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port: %w", err)
	}
	if err := p.ResetInputBuffer(); err != nil {
		logger().Warn().Err(err).Msg("failed to flush input buffer")
	}
	if err := p.ResetOutputBuffer(); err != nil {
		logger().Warn().Err(err).Msg("failed to flush output buffer")
	}
	return p, nil
}

var (
	serialFactory SerialPortFactory = DefaultSerialPortFactory
	listPorts                       = enumerator.GetDetailedPortsList
)

func logger() *zerolog.Logger {
	l := log.With().Str("component", "transport").Logger()
	return &l
}

// Open resolves the device path and opens the link described by cfg.
func Open(cfg Config) (Port, error) {
	path := cfg.DevicePath
	if path == "" || strings.EqualFold(path, AutoDetect) {
		if cfg.Kind == KindRFCOMM {
			return nil, fmt.Errorf("rfcomm links need an explicit device path")
		}
		detected, err := DetectPort(cfg.DescriptionPattern)
		if err != nil {
			return nil, err
		}
		path = detected
	}

	switch cfg.Kind {
	case KindSerial, "":
		return OpenSerial(path, cfg.BaudRate, cfg.ReadTimeout)
	case KindRFCOMM:
		return OpenRFCOMM(path, cfg.ReadTimeout)
	default:
		return nil, fmt.Errorf("unknown adapter kind %q", cfg.Kind)
	}
}

// OpenSerial opens path at 8N1 with the given baud rate and per-read timeout.
func OpenSerial(path string, baudRate int, readTimeout time.Duration) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	p, err := serialFactory(path, mode)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := p.SetReadTimeout(readTimeout); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("%s: failed to set read timeout: %w", path, err)
	}
	logger().Info().Str("port", path).Int("baud", baudRate).Msg("serial port opened")
	return p, nil
}
