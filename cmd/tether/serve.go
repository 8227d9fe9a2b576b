package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/cfoust/tether/pkg/config"
	"github.com/cfoust/tether/pkg/ingress"
	"github.com/cfoust/tether/pkg/metrics"
	"github.com/cfoust/tether/pkg/mirror"
	"github.com/cfoust/tether/pkg/server"
	"github.com/cfoust/tether/pkg/sim"
	"github.com/cfoust/tether/pkg/state"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

func serverOptions(settings config.ServerSettings) server.Options {
	options := server.DefaultOptions()
	options.TickInterval = settings.TickInterval()
	options.ResyncCadence = settings.ResyncCadence
	options.PositionEpsilon = settings.PositionEpsilon
	options.VelocityEpsilon = settings.VelocityEpsilon
	options.ResumeWindow = settings.ResumeWindow.Std()
	options.InboxSize = settings.InboxSize
	options.OutboxSize = settings.OutboxSize
	options.WatchdogTimeout = settings.WatchdogTimeout.Std()
	options.WelcomeMessage = settings.WelcomeMessage
	options.Bots = settings.Bots
	return options
}

func ingressOptions(settings config.ServerSettings) ingress.Options {
	return ingress.Options{
		SendQueueSize: settings.SendQueueSize,
		WriteTimeout:  settings.WriteTimeout.Std(),
		InputRate:     rate.Limit(settings.InputRate),
		InputBurst:    settings.InputBurst,
	}
}

func mirrorOptions(settings config.RedisSettings) mirror.Options {
	return mirror.Options{
		KeyPrefix:    settings.KeyPrefix,
		QueueSize:    settings.QueueSize,
		MaxRetries:   settings.MaxRetries,
		RetryBackoff: settings.RetryBackoff.Std(),
	}
}

func serve(configs []string) error {
	cfg, err := config.Process(configs)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load tether configuration")
	}

	settings := cfg.Server

	logFile, err := setupLogging(settings.LogDirectory)
	if err != nil {
		return err
	}
	if logFile != nil {
		defer logFile.Close()
	}
	setLevel()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	world := sim.NewWorld(sim.DefaultRules())
	gameServer := server.New(serverOptions(settings), world, m)

	var firstID uint64 = 1
	var ledger *state.Ledger
	if settings.LedgerPath != "" {
		ledger, err = state.Open(settings.LedgerPath)
		if err != nil {
			return err
		}
		defer ledger.Close()

		firstID, err = ledger.NextID()
		if err != nil {
			return err
		}
		log.Info().Str("path", settings.LedgerPath).Uint64("next", firstID).Msg("opened session ledger")
	}

	wsIngress := ingress.NewWSIngress(
		ingressOptions(settings),
		gameServer,
		ingress.NewIDAllocator(firstID),
		m,
	)
	if ledger != nil {
		wsIngress.SetLedger(ledger)
	}

	if settings.Redis.Enabled {
		writer := mirror.NewRedisWriter(settings.Redis)
		defer writer.Close()

		actorMirror := mirror.New(writer, mirrorOptions(settings.Redis), m)
		gameServer.SetMirror(actorMirror)
		go actorMirror.Run(ctx)
		log.Info().Str("address", settings.Redis.Address).Msg("mirroring actors to redis")
	}

	go gameServer.Run(ctx)
	go wsIngress.Dispatch(ctx, gameServer.Outbox())

	httpServer := &http.Server{
		Addr:    settings.Address,
		Handler: routes(wsIngress, gameServer, registry),
	}

	errc := make(chan error, 1)
	go func() {
		errc <- httpServer.ListenAndServe()
	}()
	log.Info().Str("address", settings.Address).Msg("listening")

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("failed to serve")
			return err
		}
	case <-ctx.Done():
		log.Info().Msg("terminating")
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	return httpServer.Shutdown(shutdownCtx)
}
