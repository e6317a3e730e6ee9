package transport

import (
	"errors"
	"fmt"
	"strings"

	"go.bug.st/serial/enumerator"
)

var ErrNoPort = errors.New("no matching serial port")

// PortInfo describes a serial port found on the host.
type PortInfo struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	IsUSB        bool   `json:"is_usb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
}

// ListPorts returns the serial ports present on the host.
func ListPorts() ([]PortInfo, error) {
	details, err := listPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		ports = append(ports, portInfo(d))
	}
	return ports, nil
}

// DetectPort returns the single port whose description contains pattern
// (case insensitive).
func DetectPort(pattern string) (string, error) {
	ports, err := ListPorts()
	if err != nil {
		return "", err
	}
	return MatchPort(ports, pattern)
}

// MatchPort picks the single port in ports whose description contains
// pattern. Zero or several matches are errors.
func MatchPort(ports []PortInfo, pattern string) (string, error) {
	needle := strings.ToLower(strings.TrimSpace(pattern))
	var matches []string
	for _, p := range ports {
		if needle == "" || strings.Contains(strings.ToLower(p.Description), needle) {
			matches = append(matches, p.Name)
		}
	}

	switch len(matches) {
	case 0:
		names := make([]string, 0, len(ports))
		for _, p := range ports {
			names = append(names, p.Name)
		}
		return "", fmt.Errorf("%w for %q (available: %s)", ErrNoPort, pattern, strings.Join(names, ", "))
	case 1:
		logger().Debug().Str("port", matches[0]).Str("pattern", pattern).Msg("port detected")
		return matches[0], nil
	default:
		return "", fmt.Errorf("pattern %q matches several ports (%s), set adapter.device_path",
			pattern, strings.Join(matches, ", "))
	}
}

func portInfo(d *enumerator.PortDetails) PortInfo {
	desc := d.Product
	if desc == "" && d.IsUSB {
		desc = fmt.Sprintf("USB %s:%s", d.VID, d.PID)
	}
	return PortInfo{
		Name:         d.Name,
		Description:  desc,
		IsUSB:        d.IsUSB,
		VID:          d.VID,
		PID:          d.PID,
		SerialNumber: d.SerialNumber,
	}
}
