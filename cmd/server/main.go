package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/ya-sfu/internal/adapter/driven/gateway/ws"
	repo "github.com/Wyydra/ya-sfu/internal/adapter/driven/persistence/memory"
	"github.com/Wyydra/ya-sfu/internal/adapter/driven/worker/channel"
	"github.com/Wyydra/ya-sfu/internal/adapter/driven/worker/process"
	handler "github.com/Wyydra/ya-sfu/internal/adapter/driving/http"
	"github.com/Wyydra/ya-sfu/internal/config"
	"github.com/Wyydra/ya-sfu/internal/core/media"
	"github.com/Wyydra/ya-sfu/internal/core/service"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	zerolog.SetGlobalLevel(cfg.LogLevel())
	l := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()
	if cfg.Log.Console {
		l = l.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	log.Logger = l

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := channel.NewMetrics(reg)
	if err != nil {
		l.Fatal().Err(err).Msg("Failed to register metrics")
	}

	proc, err := process.Spawn(ctx, cfg.Worker.ProcessSettings(), l)
	if err != nil {
		l.Fatal().Err(err).Msg("Failed to start worker")
	}

	controlR, controlW := proc.Control()
	payloadR, payloadW := proc.Payload()
	chOpts := []channel.Option{channel.WithLogger(l), channel.WithMetrics(metrics)}
	worker := media.NewWorker(media.WorkerConfig{
		PID:            proc.PID(),
		Channel:        channel.New(controlR, controlW, chOpts...),
		PayloadChannel: channel.NewPayload(payloadR, payloadW, chOpts...),
		Process:        proc,
	})
	worker.OnDied(func(error) { stop() })
	worker.Start(ctx)

	startCtx, cancel := context.WithTimeout(ctx, cfg.Worker.StartTimeout)
	err = worker.WaitRunning(startCtx)
	cancel()
	if err != nil {
		worker.Close()
		l.Fatal().Err(err).Msg("Worker did not start")
	}
	l.Info().Int("worker_pid", worker.PID()).Msg("Worker running")

	codecs, err := cfg.Router.MediaCodecsJSON()
	if err != nil {
		l.Fatal().Err(err).Msg("Invalid media codecs")
	}

	hub := ws.NewHub()
	routerService := service.NewRouterService(worker, repo.NewRouterRepository(), hub, codecs)
	h := handler.NewHandler(routerService, hub, reg)

	go hub.Run()

	srv := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: h.NewRouter(),
	}

	go func() {
		l.Info().Str("addr", cfg.HTTP.Addr).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	<-ctx.Done()
	l.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Error().Err(err).Msg("Server forced to shutdown")
	}

	worker.Close()
	hub.Stop()
	l.Info().Msg("Server exited")
}
