package elm327

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"elm327-diag/common"
	"elm327-diag/obd"
	"elm327-diag/transport"
)

// LinkState is the state of a Session.
type LinkState int

const (
	Disconnected LinkState = iota
	Initializing
	AwaitingBusConnect
	Connected
	Failed
	Closed
)

func (s LinkState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Initializing:
		return "initializing"
	case AwaitingBusConnect:
		return "awaiting bus connect"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("LinkState(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s LinkState) Terminal() bool {
	return s == Failed || s == Closed
}

// Config controls the handshake and bus connect loop.
type Config struct {
	ConnectAttempts uint          `mapstructure:"connect_attempts"`
	SettlePeriod    time.Duration `mapstructure:"settle_period"`
	ResetPeriod     time.Duration `mapstructure:"reset_period"`
	ResponseTimeout time.Duration `mapstructure:"response_timeout"`
	Setup           []SetupStep   `mapstructure:"-"`
}

// DefaultConfig returns the timings used with a real adapter.
func DefaultConfig() Config {
	return Config{
		ConnectAttempts: 5,
		SettlePeriod:    5 * time.Second,
		ResetPeriod:     time.Second,
		ResponseTimeout: 30 * time.Second,
		Setup:           DefaultSetup(),
	}
}

// ConnectObserver is told about each bus connect attempt before its settle
// period starts.
type ConnectObserver func(attempt, total uint)

// Option configures a Session.
type Option func(*Session)

// WithClock replaces the real clock used for the settle and reset waits.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Session) { s.clock = clock }
}

// WithConnectObserver registers fn for bus connect progress.
func WithConnectObserver(fn ConnectObserver) Option {
	return func(s *Session) { s.observer = fn }
}

// WithTables sets the trouble code lookup tables. The embedded defaults are
// used otherwise.
func WithTables(tables *obd.Tables) Option {
	return func(s *Session) { s.decoder = obd.NewDecoder(tables) }
}

var errUnableToConnect = errors.New("adapter reported UNABLE TO CONNECT")

// Session owns one adapter link and drives it through the link states. Only
// one exchange is in flight at a time; Close may be called concurrently and
// interrupts it.
type Session struct {
	port     transport.Port
	cfg      Config
	clock    clockwork.Clock
	framer   *Framer
	decoder  *obd.Decoder
	observer ConnectObserver
	log      zerolog.Logger

	stateMu sync.Mutex
	state   LinkState
	info    common.AdapterInfo
	first01 obd.RawResponse // 0100 reply from Connect

	reqMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// NewSession takes ownership of port.
func NewSession(port transport.Port, cfg Config, opts ...Option) *Session {
	s := &Session{
		port:  port,
		cfg:   cfg,
		clock: clockwork.NewRealClock(),
		log:   log.With().Str("component", "elm327").Logger(),
		state: Disconnected,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.decoder == nil {
		s.decoder = obd.NewDecoder(obd.DefaultTables())
	}
	if s.cfg.Setup == nil {
		s.cfg.Setup = DefaultSetup()
	}
	s.framer = NewFramer(port, s.clock)
	return s
}

// State returns the current link state.
func (s *Session) State() LinkState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// Info returns what the adapter reported during Init.
func (s *Session) Info() common.AdapterInfo {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.info
}

func (s *Session) setState(next LinkState) {
	s.stateMu.Lock()
	prev := s.state
	s.state = next
	s.stateMu.Unlock()
	s.log.Debug().Stringer("from", prev).Stringer("to", next).Msg("link state")
}

// transition moves from one state to another, failing if the session is
// elsewhere.
func (s *Session) transition(op string, from, to LinkState) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.state != from {
		return &StateError{Op: op, State: s.state}
	}
	s.state = to
	s.log.Debug().Stringer("from", from).Stringer("to", to).Msg("link state")
	return nil
}

// Init resets the adapter, applies the setup table and collects the
// informational queries. A silent adapter fails the session.
func (s *Session) Init(ctx context.Context) error {
	if err := s.transition("init", Disconnected, Initializing); err != nil {
		return err
	}

	s.log.Info().Msg("resetting adapter")
	if _, err := s.exchange(ctx, obd.CmdReset); err != nil {
		s.fail()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", ErrAdapterNotResponding, err)
	}
	if err := s.sleep(ctx, s.cfg.ResetPeriod); err != nil {
		s.fail()
		return err
	}

	for _, step := range s.cfg.Setup {
		resp, err := s.exchange(ctx, step.Command)
		if err != nil {
			if ctx.Err() != nil {
				s.fail()
				return ctx.Err()
			}
			if step.Severity == SeverityFatal {
				s.fail()
				return err
			}
			s.log.Warn().Err(err).Str("command", step.Command.String()).Msg("setup command failed")
			continue
		}
		if err := step.Check(resp); err != nil {
			var mm *MismatchError
			if errors.As(err, &mm) {
				s.log.Warn().
					Str("command", mm.Command).
					Str("expected", mm.Expected).
					Str("got", mm.Got).
					Stringer("severity", step.Severity).
					Msg("unexpected setup reply")
			}
			if step.Severity == SeverityFatal {
				s.fail()
				return err
			}
		}
	}

	info := common.AdapterInfo{}
	for _, cmd := range infoQueries {
		resp, err := s.exchange(ctx, cmd)
		if err != nil {
			if ctx.Err() != nil {
				s.fail()
				return ctx.Err()
			}
			s.log.Debug().Err(err).Str("command", cmd.String()).Msg("info query failed")
			continue
		}
		setInfo(&info, cmd, resp)
	}
	s.stateMu.Lock()
	s.info = info
	s.stateMu.Unlock()
	s.log.Info().
		Str("identity", info.Identity).
		Str("voltage", info.Voltage).
		Msg("adapter initialized")

	return s.transition("init", Initializing, AwaitingBusConnect)
}

// Connect sends 0100 until the vehicle bus answers, waiting the settle period
// before every attempt. After ConnectAttempts attempts answered with UNABLE
// TO CONNECT (or a BUS INIT error) the session fails and the port is closed.
func (s *Session) Connect(ctx context.Context) error {
	if state := s.State(); state != AwaitingBusConnect {
		return &StateError{Op: "connect", State: state}
	}

	attempts := max(s.cfg.ConnectAttempts, 1)
	var attempt uint
	err := retry.Do(
		func() error {
			attempt++
			if s.observer != nil {
				s.observer(attempt, attempts)
			}
			if err := s.sleep(ctx, s.cfg.SettlePeriod); err != nil {
				return err
			}
			resp, err := s.exchange(ctx, obd.CmdSupportedPIDs)
			if err != nil {
				return err
			}
			if resp.IsUnableToConnect() {
				return errUnableToConnect
			}
			s.stateMu.Lock()
			s.first01 = resp.WithoutStatus()
			s.stateMu.Unlock()
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(0),
		retry.DelayType(retry.FixedDelay),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, errUnableToConnect)
		}),
		retry.OnRetry(func(n uint, err error) {
			s.log.Warn().Uint("attempt", n+1).Uint("of", attempts).Err(err).Msg("bus connect attempt failed")
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		s.fail()
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, errUnableToConnect):
			return fmt.Errorf("%w after %d attempts", ErrBusConnect, attempt)
		default:
			return fmt.Errorf("%w: %w", ErrBusConnect, err)
		}
	}

	if err := s.transition("connect", AwaitingBusConnect, Connected); err != nil {
		return err
	}
	s.log.Info().Uint("attempts", attempt).Msg("connected to vehicle bus")
	return nil
}

// Open runs Init then Connect.
func (s *Session) Open(ctx context.Context) error {
	if err := s.Init(ctx); err != nil {
		return err
	}
	return s.Connect(ctx)
}

// Query sends cmd and returns the framed response. Adapter directives are
// allowed once the adapter is initialized; service requests only while
// connected. SEARCHING... and BUS INIT: lines are removed from service
// responses.
func (s *Session) Query(ctx context.Context, cmd obd.Command) (obd.RawResponse, error) {
	state := s.State()
	allowed := state == Connected || (cmd.IsAT() && state == AwaitingBusConnect)
	if !allowed {
		return "", &StateError{Op: cmd.String(), State: state}
	}
	resp, err := s.exchange(ctx, cmd)
	if err != nil {
		return "", err
	}
	if !cmd.IsAT() {
		resp = resp.WithoutStatus()
	}
	return resp, nil
}

// AdapterCommand sends an AT directive, e.g. AdapterCommand(ctx, "RV").
func (s *Session) AdapterCommand(ctx context.Context, directive string) (obd.RawResponse, error) {
	return s.Query(ctx, obd.AT(directive))
}

// Close releases the port. It is safe to call from any state and more than
// once; the port is closed exactly once and a failed session stays failed.
func (s *Session) Close() error {
	s.release(Closed)
	return s.closeErr
}

func (s *Session) fail() {
	s.release(Failed)
}

func (s *Session) release(final LinkState) {
	s.closeOnce.Do(func() {
		s.stateMu.Lock()
		if s.state != Failed {
			s.state = final
		}
		state := s.state
		s.stateMu.Unlock()

		s.closeErr = s.port.Close()
		s.log.Info().Stringer("state", state).Msg("port released")
	})
}

func (s *Session) exchange(ctx context.Context, cmd obd.Command) (obd.RawResponse, error) {
	s.reqMu.Lock()
	defer s.reqMu.Unlock()
	if s.State().Terminal() {
		return "", &StateError{Op: cmd.String(), State: s.State()}
	}
	return s.framer.SendAndAwait(ctx, cmd, s.cfg.ResponseTimeout)
}

func (s *Session) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.clock.After(d):
		return nil
	}
}

func setInfo(info *common.AdapterInfo, cmd obd.Command, resp obd.RawResponse) {
	text := resp.Text()
	if text == "?" {
		text = ""
	}
	switch cmd {
	case obd.CmdVersion:
		info.Version = text
	case obd.CmdIdentity:
		info.Identity = text
	case obd.CmdDescription:
		info.Description = text
	case obd.CmdProtocol:
		info.Protocol = text
	case obd.CmdVoltage:
		info.Voltage = text
	case obd.CmdCANStatus:
		info.CANStatus = text
	case obd.CmdKeyWords:
		info.KeyWords = text
	case obd.CmdBufferDump:
		info.BufferDump = text
	case obd.CmdProgrammable:
		info.Programmable = text
	}
}
