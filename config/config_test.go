package config

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"elm327-diag/transport"
)

const sampleConfig = `
adapter:
  kind: rfcomm
  device_path: /dev/rfcomm0
session:
  connect_attempts: 3
  settle_period: 2s
tables:
  description_files:
    - /etc/elm327/generic.txt
    - /etc/elm327/chevrolet.txt
mqtt:
  enabled: true
  broker: tcp://broker.local:1883
  topic: fleet/diag
logging:
  level: debug
`

func memViper(t *testing.T, files map[string]string) (*Config, error) {
	t.Helper()
	fs := afero.NewMemMapFs()
	for name, content := range files {
		require.NoError(t, afero.WriteFile(fs, name, []byte(content), 0o644))
	}
	v := New()
	v.SetFs(fs)

	path := ""
	for name := range files {
		path = name
	}
	cfg, err := Load(v, path)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func TestLoad_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := memViper(t, nil)
	require.NoError(t, err)

	assert.Equal(t, transport.KindSerial, cfg.Adapter.Kind)
	assert.Equal(t, transport.AutoDetect, cfg.Adapter.DevicePath)
	assert.Equal(t, "USB Serial Port", cfg.Adapter.DescriptionPattern)
	assert.Equal(t, 9600, cfg.Adapter.BaudRate)
	assert.Equal(t, 7*time.Second, cfg.Adapter.ReadTimeout)

	assert.Equal(t, uint(5), cfg.Session.ConnectAttempts)
	assert.Equal(t, 5*time.Second, cfg.Session.SettlePeriod)
	assert.Equal(t, time.Second, cfg.Session.ResetPeriod)
	assert.Equal(t, 30*time.Second, cfg.Session.ResponseTimeout)
	assert.NotEmpty(t, cfg.Session.Setup)

	assert.Empty(t, cfg.Tables.PrefixFile)
	assert.Empty(t, cfg.Tables.DescriptionFiles)

	assert.False(t, cfg.MQTT.Enabled)
	assert.Equal(t, "car/diagnostics", cfg.MQTT.Topic)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
	assert.Equal(t, 10*time.Second, cfg.MQTT.ConnectTimeout)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 2, cfg.Logging.MaxBackups)
}

func TestLoad_File(t *testing.T) {
	t.Parallel()

	cfg, err := memViper(t, map[string]string{"/etc/elm327/config.yaml": sampleConfig})
	require.NoError(t, err)

	assert.Equal(t, transport.KindRFCOMM, cfg.Adapter.Kind)
	assert.Equal(t, "/dev/rfcomm0", cfg.Adapter.DevicePath)
	assert.Equal(t, 9600, cfg.Adapter.BaudRate, "unset keys keep defaults")

	assert.Equal(t, uint(3), cfg.Session.ConnectAttempts)
	assert.Equal(t, 2*time.Second, cfg.Session.SettlePeriod)

	assert.Equal(t, []string{"/etc/elm327/generic.txt", "/etc/elm327/chevrolet.txt"}, cfg.Tables.DescriptionFiles)

	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, "tcp://broker.local:1883", cfg.MQTT.Broker)
	assert.Equal(t, "fleet/diag", cfg.MQTT.Topic)

	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_ExplicitFileMissing(t *testing.T) {
	t.Parallel()

	v := New()
	v.SetFs(afero.NewMemMapFs())
	_, err := Load(v, "/nowhere/config.yaml")
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	t.Parallel()

	_, err := memViper(t, map[string]string{"/etc/elm327/config.yaml": "adapter: [unterminated"})
	assert.Error(t, err)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("ELM327_ADAPTER_DEVICE_PATH", "/dev/ttyUSB3")
	t.Setenv("ELM327_SESSION_CONNECT_ATTEMPTS", "9")

	cfg, err := memViper(t, map[string]string{"/etc/elm327/config.yaml": sampleConfig})
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB3", cfg.Adapter.DevicePath)
	assert.Equal(t, uint(9), cfg.Session.ConnectAttempts)
}
