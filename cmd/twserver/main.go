// twserver is the game daemon: one SQLite file, a client port speaking
// newline-framed JSON, a trusted s2s port, and the cron runner.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"
	"github.com/rs/zerolog"

	"github.com/rdearman/twclone-sub004/internal/bus"
	"github.com/rdearman/twclone-sub004/internal/cron"
	"github.com/rdearman/twclone-sub004/internal/game"
	"github.com/rdearman/twclone-sub004/internal/s2s"
	"github.com/rdearman/twclone-sub004/internal/server"
	"github.com/rdearman/twclone-sub004/internal/store"
)

type options struct {
	DB      string `short:"d" long:"db" default:"twclone.db" description:"SQLite database file"`
	Port    int64  `short:"p" long:"port" description:"client port (default from config)"`
	S2SPort int64  `long:"s2s-port" description:"server-to-server port (default from config)"`
	Verbose bool   `short:"v" long:"verbose" description:"debug logging"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	level := zerolog.InfoLevel
	if opts.Verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()

	if err := run(opts, log); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run(opts options, log zerolog.Logger) error {
	st, err := store.Open(opts.DB, log)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Boot(); err != nil {
		if errors.Is(err, store.ErrLegacySchema) {
			log.Error().Msg(err.Error())
		}
		return err
	}

	if opts.Port == 0 {
		opts.Port = st.ConfigInt(st.DB, "server_port", 1234)
	}
	if opts.S2SPort == 0 {
		opts.S2SPort = st.ConfigInt(st.DB, "s2s_port", 4321)
	}

	cast := bus.NewBroadcaster()
	g := game.New(st, cast, log)
	srv := server.New(st, g, cast, log)
	rail := s2s.New(st, log)
	runner := cron.New(st, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runner.Run(ctx)

	errCh := make(chan error, 2)
	go func() { errCh <- srv.ListenAndServe(fmt.Sprintf(":%d", opts.Port)) }()
	go func() { errCh <- rail.ListenAndServe(fmt.Sprintf(":%d", opts.S2SPort)) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			cancel()
			srv.Shutdown()
			rail.Shutdown()
			return err
		}
	}

	cancel()
	srv.Shutdown()
	rail.Shutdown()
	log.Info().Msg("goodbye")
	return nil
}
