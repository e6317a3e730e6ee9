package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"elm327-diag/elm327"
	"elm327-diag/obd"
)

// withSession opens the adapter, brings the session up to Connected and
// runs fn. Canceling ctx closes the session so a blocked read returns.
func (a *app) withSession(ctx context.Context, fn func(context.Context, *elm327.Session) error) error {
	tables, err := obd.LoadTables(afero.NewOsFs(), a.cfg.Tables.PrefixFile, a.cfg.Tables.DescriptionFiles...)
	if err != nil {
		return err
	}

	port, err := a.openPort(a.cfg.Adapter)
	if err != nil {
		return err
	}

	cfg := a.sessionConfig()
	bar := a.connectBar(cfg.ConnectAttempts)
	s := elm327.NewSession(port, cfg,
		elm327.WithClock(a.clock),
		elm327.WithTables(tables),
		elm327.WithConnectObserver(func(attempt, total uint) {
			if bar != nil {
				_ = bar.Set(int(attempt))
			}
			log.Debug().Uint("attempt", attempt).Uint("total", total).Msg("waiting for vehicle bus")
		}),
	)

	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			_ = s.Close()
		case <-done:
		}
		return nil
	})
	g.Go(func() error {
		defer close(done)
		err := s.Open(gctx)
		if err == nil {
			if bar != nil {
				_ = bar.Finish()
			}
			err = fn(gctx, s)
		} else {
			if bar != nil {
				_ = bar.Clear()
			}
			err = describeOpenError(err)
		}
		// a session closed by the watcher reports ErrInvalidState
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	})

	err = g.Wait()
	if cerr := s.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("close adapter: %w", cerr)
	}
	return err
}

// connectBar returns nil when progress output is not a terminal.
func (a *app) connectBar(attempts uint) *progressbar.ProgressBar {
	if attempts == 0 {
		attempts = 1
	}
	f, ok := a.progress.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return nil
	}
	return progressbar.NewOptions(
		int(attempts),
		progressbar.OptionSetWriter(f),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(20),
		progressbar.OptionSetDescription("connecting to vehicle bus"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

func describeOpenError(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, elm327.ErrAdapterNotResponding):
		return fmt.Errorf("adapter did not answer the reset, check the port and power: %w", err)
	case errors.Is(err, elm327.ErrBusConnect):
		return fmt.Errorf("vehicle bus did not respond, is the ignition on? %w", err)
	default:
		return err
	}
}
