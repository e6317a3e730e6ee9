package cmd

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"elm327-diag/common"
	"elm327-diag/config"
	"elm327-diag/elm327"
	"elm327-diag/logging"
	"elm327-diag/mqtt"
	"elm327-diag/transport"
)

// reportSink is where scan results and readings are published.
type reportSink interface {
	Connect() error
	PublishReport(report common.Report) error
	PublishReading(vin string, r common.Reading) error
	Close()
}

// app carries what every subcommand shares. Tests replace the hooks.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     config.Config

	clock        clockwork.Clock
	openPort     func(transport.Config) (transport.Port, error)
	listPorts    func() ([]transport.PortInfo, error)
	newSink      func(mqtt.Config) reportSink
	readPassword func() (string, error)
	progress     io.Writer

	logCloser io.Closer
}

func newApp() *app {
	return &app{
		v:         config.New(),
		clock:     clockwork.NewRealClock(),
		openPort:  transport.Open,
		listPorts: transport.ListPorts,
		newSink: func(c mqtt.Config) reportSink {
			return mqtt.NewPublisher(c)
		},
		readPassword: promptPassword,
		progress:     os.Stderr,
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "elm327-diag",
		Short: "ELM327 OBD-II diagnostics",
		Long: `Talks to an ELM327 compatible adapter over USB serial or Bluetooth RFCOMM,
reads the VIN, trouble codes and live data, and optionally publishes
the results to an MQTT broker.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logCloser != nil {
				_ = a.logCloser.Close()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.cfgFile, "config", "c", "", "config file (default ./config.yaml or $HOME/.elm327-diag/config.yaml)")
	flags.StringP("port", "p", transport.AutoDetect, "serial or rfcomm device, auto = detect USB adapter")
	flags.String("kind", transport.KindSerial, "adapter transport: serial or rfcomm")
	flags.IntP("baud", "b", 9600, "serial baud rate")
	flags.BoolP("debug", "d", false, "debug logging")
	flags.Bool("no-color", false, "disable colored output")

	bindFlags(a.v, flags, map[string]string{
		"port":     "adapter.device_path",
		"kind":     "adapter.kind",
		"baud":     "adapter.baud_rate",
		"no-color": "logging.no_color",
	})

	root.AddCommand(
		newScanCmd(a),
		newInfoCmd(a),
		newCodesCmd(a),
		newClearCmd(a),
		newPIDsCmd(a),
		newPortsCmd(a),
	)
	return root
}

// bindFlags lets set flags override the config keys they map to.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for name, key := range keys {
		if f := flags.Lookup(name); f != nil {
			_ = v.BindPFlag(key, f)
		}
	}
}

func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		cfg.Logging.Level = "debug"
	}
	a.cfg = cfg

	closer, err := logging.Setup(cfg.Logging)
	if err != nil {
		return err
	}
	a.logCloser = closer
	color.NoColor = color.NoColor || cfg.Logging.NoColor

	log.Debug().
		Str("kind", cfg.Adapter.Kind).
		Str("port", cfg.Adapter.DevicePath).
		Int("baud", cfg.Adapter.BaudRate).
		Msg("configuration loaded")
	return nil
}

// Execute runs the command line until ctx is canceled.
func Execute(ctx context.Context) error {
	return newRootCmd(newApp()).ExecuteContext(ctx)
}

// sessionConfig returns the session settings with setup steps filled in.
func (a *app) sessionConfig() elm327.Config {
	cfg := a.cfg.Session
	if cfg.Setup == nil {
		cfg.Setup = elm327.DefaultSetup()
	}
	return cfg
}

func (a *app) now() time.Time {
	return a.clock.Now().UTC()
}
