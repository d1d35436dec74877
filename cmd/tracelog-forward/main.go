// tracelog-forward reads lines from stdin and ships each one to a Fluent
// server as a raw-string event of a tracelog Provider.
//
// With --json, every line is also logged to stdout as a structured JSON
// record. The formatter options are reloaded from the config file whenever it
// changes, or on SIGHUP.
//
//	tail -F app.log | tracelog-forward --host fluentd.internal --tag app.raw --json
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bitdabbler/tracelog"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		host       string
		port       int
		tag        string
		provider   string
		category   string
		logJSON    bool
	)

	flagSet := pflag.NewFlagSet("tracelog-forward", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to a YAML config file")
	flagSet.StringVar(&host, "host", "", "Fluent server host (overrides forward.host)")
	flagSet.IntVar(&port, "port", 0, "Fluent server port (overrides forward.client.port)")
	flagSet.StringVar(&tag, "tag", "", "Fluent tag (overrides forward.tag)")
	flagSet.StringVar(&provider, "provider", "", "provider name (overrides forward.provider)")
	flagSet.StringVar(&category, "category", "", "log category for --json output (overrides handler.category)")
	flagSet.BoolVar(&logJSON, "json", false, "also log each line to stdout as JSON")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	cfg, err := tracelog.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if flagSet.Changed("host") {
		cfg.Forward.Host = host
	}
	if flagSet.Changed("port") {
		cfg.Forward.Client.Port = port
	}
	if flagSet.Changed("tag") {
		cfg.Forward.Tag = tag
	}
	if flagSet.Changed("provider") {
		cfg.Forward.Provider = provider
	}
	if flagSet.Changed("category") {
		cfg.Handler.Category = category
	}

	pool, err := tracelog.NewEncoderPool(cfg.Forward.Tag, &cfg.Forward.Encoder)
	if err != nil {
		return err
	}
	client, err := tracelog.NewClient(cfg.Forward.Host, &cfg.Forward.Client)
	if err != nil {
		return err
	}
	sink, err := tracelog.NewForwardSink(client, pool, &cfg.Forward.Sink)
	if err != nil {
		return err
	}

	p := tracelog.NewProvider(cfg.Forward.Provider, sink)
	if _, status := p.Register(nil); status != tracelog.StatusOK {
		tracelog.InternalLogger().Warn().Stringer("status", status).Msg("forwarding disabled")
	}

	var (
		logger *slog.Logger
		h      *tracelog.Handler
		out    *tracelog.LineSink
	)
	if logJSON {
		// hide os.Stdout's Close from the sink, which owns its writer
		out, err = tracelog.NewLineSink(struct{ io.Writer }{os.Stdout}, &cfg.Output)
		if err != nil {
			return err
		}
		h = tracelog.NewHandler(out, cfg.Handler.Options(&cfg.Formatter))
		logger = slog.New(h)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reload := func(cfg *tracelog.Config, err error) {
		if err != nil {
			tracelog.InternalLogger().Error().Err(err).Msg("config reload failed")
			return
		}
		h.Reload(&cfg.Formatter)
	}

	if h != nil && len(configPath) > 0 {
		unwatch, err := tracelog.WatchConfig(configPath, reload)
		if err != nil {
			return err
		}
		defer unwatch()

		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		go func() {
			for range hup {
				reload(tracelog.LoadConfig(configPath))
			}
		}()
	}

	// closing the sink also releases a write stuck behind an unreachable
	// server, so a signal always ends the read loop
	shutdown := sync.OnceValue(func() error {
		p.Unregister()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return sink.Close(shutdownCtx)
	})
	go func() {
		<-ctx.Done()
		shutdown()
	}()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		scanErr <- sc.Err()
	}()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			status := p.WriteString(line)
			if ctx.Err() != nil {
				break loop
			}
			if status != tracelog.StatusOK && status != tracelog.StatusNotRegistered {
				tracelog.InternalLogger().Warn().Stringer("status", status).Msg("failed to forward line")
			}
			if logger != nil {
				logger.Info(line)
			}
		}
	}

	err = shutdown()

	if out != nil {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}

	select {
	case serr := <-scanErr:
		if serr != nil && err == nil {
			err = fmt.Errorf("failed to read stdin: %w", serr)
		}
	default:
	}
	return err
}
