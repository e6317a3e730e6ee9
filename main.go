package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"elm327-diag/cmd"
)

// shutdownGrace bounds how long a canceled command may take to release
// the adapter.
const shutdownGrace = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		stop()
		time.Sleep(shutdownGrace)
		log.Fatal().Msg("took too long to shut down, forcing exit")
	}()

	if err := cmd.Execute(ctx); err != nil {
		os.Exit(1)
	}
}
