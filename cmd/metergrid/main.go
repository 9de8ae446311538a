package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/metergrid/metergrid/pkg/common"
	"github.com/metergrid/metergrid/pkg/config"
	"github.com/metergrid/metergrid/pkg/live"
	"github.com/metergrid/metergrid/pkg/log"
	"github.com/metergrid/metergrid/pkg/metrics"
	"github.com/metergrid/metergrid/pkg/server"
	"github.com/metergrid/metergrid/pkg/shelly"
	"github.com/metergrid/metergrid/pkg/storage"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
)

func main() {
	// init packages
	cfg := config.Configured()

	// init server; the deps are filled in below, after flags are parsed
	var deps server.Deps
	srv := server.Configured(&deps)

	// parse flags
	lflag.Configure()

	var level slog.Level
	// lflag automatically sets llog's level, but we need to set the slog level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	slog.Debug("logger configured", slog.String("level", level.String()))
	slog.Info("starting", slog.String("version", common.Version()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := storage.Open(cfg.DataDir)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to open data dir", "error", err)
		os.Exit(1)
	}

	m := metrics.New()
	client := shelly.New(cfg.Download)
	ring := live.NewRingStore(cfg.Live.Retention(), cfg.Live.PollInterval())
	today := live.NewTodayMeter()
	poller := live.NewPoller(cfg.Directory, client, cfg.Live)
	poller.OnResult = m.PollResult

	deps = server.Deps{
		Directory: cfg.Directory,
		Store:     store,
		Ring:      ring,
		Today:     today,
		Poller:    poller,
		Shelly:    client,
		Metrics:   m,
	}

	go poller.Run(ctx)

	// fan samples out to the ring store, the today counter, metrics and the
	// websocket stream
	go func() {
		hub := srv.Hub()
		for {
			select {
			case <-ctx.Done():
				return
			case sample := <-poller.Samples():
				ring.AppendSample(sample)
				total := sample.PowerW["total"]
				today.Accumulate(sample.DeviceKey, sample.TS, total)
				m.SampleStored(sample.DeviceKey, total)
				hub.BroadcastJSON("sample", sample)
			case pollErr := <-poller.Errors():
				hub.BroadcastJSON("pollError", pollErr)
			}
		}
	}()

	// Run will block until context is canceled or error happens
	if err := srv.Run(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", "error", err)
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
}
