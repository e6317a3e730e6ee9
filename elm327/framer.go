package elm327

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"elm327-diag/obd"
	"elm327-diag/transport"
)

const (
	prompt     = '>'
	terminator = '\r'
)

// Framer turns one command into one framed adapter response.
type Framer struct {
	port  transport.Port
	clock clockwork.Clock
	log   zerolog.Logger
}

// NewFramer returns a framer on port. A nil clock means the real clock.
func NewFramer(port transport.Port, clock clockwork.Clock) *Framer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Framer{
		port:  port,
		clock: clock,
		log:   log.With().Str("component", "elm327").Logger(),
	}
}

// SendAndAwait writes cmd followed by CR, then reads byte by byte until the
// prompt. A zero byte read (the driver timeout) or EOF ends the response
// early; if nothing was read by then it is a TimeoutError. timeout bounds the
// whole exchange.
func (f *Framer) SendAndAwait(ctx context.Context, cmd obd.Command, timeout time.Duration) (obd.RawResponse, error) {
	f.log.Debug().Str("command", cmd.String()).Msg("send")
	if _, err := f.port.Write(append(cmd.Bytes(), terminator)); err != nil {
		return "", fmt.Errorf("%s: failed to write: %w", cmd, err)
	}

	start := f.clock.Now()
	var (
		acc strings.Builder
		buf [1]byte
	)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if timeout > 0 && f.clock.Since(start) > timeout {
			return "", &TimeoutError{Command: cmd.String(), Partial: acc.String()}
		}

		n, err := f.port.Read(buf[:])
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("%s: failed to read: %w", cmd, err)
		}
		if n == 0 {
			break
		}

		c := buf[0]
		if c == prompt {
			resp := normalize(acc.String())
			f.log.Debug().Str("command", cmd.String()).Str("response", string(resp)).Msg("received")
			return resp, nil
		}
		if c > 0x7F {
			f.log.Debug().Uint8("byte", c).Msg("rejecting non-ASCII byte")
			continue
		}
		acc.WriteByte(c)
	}

	if acc.Len() == 0 {
		return "", &TimeoutError{Command: cmd.String()}
	}
	resp := normalize(acc.String())
	f.log.Warn().Str("command", cmd.String()).Str("response", string(resp)).
		Msg("read ended before prompt, returning partial response")
	return resp, nil
}

// normalize converts CR to LF and collapses runs of line breaks.
func normalize(s string) obd.RawResponse {
	s = strings.ReplaceAll(s, "\r", "\n")
	for strings.Contains(s, "\n\n") {
		s = strings.ReplaceAll(s, "\n\n", "\n")
	}
	return obd.RawResponse(s)
}
