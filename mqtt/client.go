package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqttLib "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"elm327-diag/common"
)

// ErrNotConnected is returned when publishing before Connect.
var ErrNotConnected = errors.New("mqtt: not connected")

// unknownVehicle replaces an empty VIN in topics.
const unknownVehicle = "unknown"

// Config describes the broker diagnostics are published to.
type Config struct {
	Enabled        bool          `mapstructure:"enabled"`
	Broker         string        `mapstructure:"broker"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	ClientID       string        `mapstructure:"client_id"`
	Topic          string        `mapstructure:"topic"`
	QoS            byte          `mapstructure:"qos"`
	Retain         bool          `mapstructure:"retain"`
	KeepAlive      time.Duration `mapstructure:"keep_alive"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// DefaultConfig returns a disabled publisher pointed at a local broker.
func DefaultConfig() Config {
	return Config{
		Broker:         "tcp://localhost:1883",
		Topic:          "car/diagnostics",
		QoS:            1,
		KeepAlive:      60 * time.Second,
		ConnectTimeout: 10 * time.Second,
	}
}

// GenerateClientID returns a random client id.
func GenerateClientID() string {
	return "elm327-diag-" + uuid.NewString()[:8]
}

// ClientFactory builds the underlying paho client.
type ClientFactory func(opts *mqttLib.ClientOptions) mqttLib.Client

// Option configures a Publisher.
type Option func(*Publisher)

// WithClientFactory replaces mqttLib.NewClient.
func WithClientFactory(f ClientFactory) Option {
	return func(p *Publisher) { p.factory = f }
}

// Reading is the message published for one live data value.
type Reading struct {
	VIN       string    `json:"vin"`
	PID       string    `json:"pid"`
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit"`
	Raw       string    `json:"raw,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher sends diagnostic reports and readings to an MQTT broker.
type Publisher struct {
	config  Config
	factory ClientFactory
	log     zerolog.Logger
	now     func() time.Time

	mu     sync.Mutex
	client mqttLib.Client
}

// NewPublisher creates a publisher; Connect must be called before publishing.
func NewPublisher(config Config, opts ...Option) *Publisher {
	if config.ClientID == "" {
		config.ClientID = GenerateClientID()
	}
	p := &Publisher{
		config:  config,
		factory: mqttLib.NewClient,
		log:     log.With().Str("component", "mqtt").Logger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Options builds the paho client options from the config.
func (p *Publisher) Options() *mqttLib.ClientOptions {
	opts := mqttLib.NewClientOptions()
	opts.AddBroker(p.config.Broker)
	opts.SetClientID(p.config.ClientID)
	opts.SetKeepAlive(p.config.KeepAlive)
	opts.SetConnectTimeout(p.config.ConnectTimeout)
	opts.SetAutoReconnect(true)

	if p.config.Username != "" && p.config.Password != "" {
		opts.SetUsername(p.config.Username)
		opts.SetPassword(p.config.Password)
		p.log.Debug().Msg("mqtt authentication enabled")
	} else {
		p.log.Debug().Msg("mqtt authentication disabled (anonymous mode)")
	}

	opts.SetOnConnectHandler(func(mqttLib.Client) {
		p.log.Info().Str("broker", p.config.Broker).Msg("connected to mqtt broker")
	})
	opts.SetConnectionLostHandler(func(_ mqttLib.Client, err error) {
		p.log.Warn().Err(err).Msg("mqtt connection lost")
	})
	opts.SetReconnectingHandler(func(mqttLib.Client, *mqttLib.ClientOptions) {
		p.log.Info().Msg("reconnecting to mqtt broker")
	})
	return opts
}

// Connect dials the broker and waits up to ConnectTimeout.
func (p *Publisher) Connect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return nil
	}

	p.log.Info().Str("broker", p.config.Broker).Msg("connecting to mqtt broker")
	client := p.factory(p.Options())
	token := client.Connect()
	if !token.WaitTimeout(p.config.ConnectTimeout) {
		return fmt.Errorf("connect to mqtt broker %s: timed out after %s", p.config.Broker, p.config.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to mqtt broker %s: %w", p.config.Broker, err)
	}
	p.client = client
	return nil
}

// Close disconnects from the broker. Safe to call more than once.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		return
	}
	if p.client.IsConnected() {
		p.client.Disconnect(1000)
	}
	p.client = nil
	p.log.Debug().Msg("mqtt publisher closed")
}

// ReportTopic returns <topic>/<vin>/report.
func (p *Publisher) ReportTopic(vin string) string {
	return p.topic(vin, "report")
}

// ReadingTopic returns <topic>/<vin>/<metric>.
func (p *Publisher) ReadingTopic(vin, metric string) string {
	return p.topic(vin, metric)
}

func (p *Publisher) topic(vin, leaf string) string {
	vin = strings.TrimSpace(vin)
	if vin == "" {
		vin = unknownVehicle
	}
	return strings.TrimSuffix(p.config.Topic, "/") + "/" + vin + "/" + leaf
}

// PublishReport publishes the full scan report as JSON.
func (p *Publisher) PublishReport(report common.Report) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	return p.publish(p.ReportTopic(report.VIN), payload)
}

// PublishReading publishes a single live value.
func (p *Publisher) PublishReading(vin string, r common.Reading) error {
	msg := Reading{
		VIN:       vin,
		PID:       r.PID,
		Metric:    r.Name,
		Value:     r.Value,
		Unit:      r.Unit,
		Raw:       r.Raw,
		Timestamp: p.now().UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal reading: %w", err)
	}
	return p.publish(p.ReadingTopic(vin, r.Name), payload)
}

func (p *Publisher) publish(topic string, payload []byte) error {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	if client == nil {
		return ErrNotConnected
	}

	token := client.Publish(topic, p.config.QoS, p.config.Retain, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	p.log.Debug().Str("topic", topic).Int("bytes", len(payload)).Msg("published")
	return nil
}
