package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/labstack/gommon/color"

	"stt-consolidation-service/internal/api/ws"
	"stt-consolidation-service/internal/config"
	"stt-consolidation-service/internal/engine"
	"stt-consolidation-service/internal/engine/factory"
	"stt-consolidation-service/internal/events"
	"stt-consolidation-service/internal/llm"
	"stt-consolidation-service/internal/observability"
	"stt-consolidation-service/internal/observability/logging"
	"stt-consolidation-service/internal/observability/metrics"
	"stt-consolidation-service/internal/service/distribute"
	"stt-consolidation-service/internal/service/session"
	"stt-consolidation-service/internal/speaker"
)

func main() {
	cfg := config.Load()

	logging.Init(logging.Config{
		Level:      cfg.Observability.LogLevel,
		Format:     cfg.Observability.LogFormat,
		TimeFormat: time.RFC3339,
	})
	logger := logging.WithComponent("main")

	printBanner()

	ctx, cancelFunc := context.WithCancel(context.Background())
	defer cancelFunc()

	publisher := events.New(&events.Config{
		Enabled:        cfg.Kafka.Enabled,
		Brokers:        cfg.Kafka.Brokers,
		TopicUtterance: cfg.Kafka.TopicUtterance,
		TopicRaw:       cfg.Kafka.TopicRaw,
		TopicError:     cfg.Kafka.TopicError,
		Principal:      cfg.Service.Principal,
	})
	defer publisher.Close()

	var model llm.Client
	if cfg.LLM.Enabled {
		model = llm.NewOllamaClient(cfg.LLM.Endpoint, cfg.LLM.Model, cfg.LLM.Timeout)
		logger.Info().Str("endpoint", cfg.LLM.Endpoint).Str("model", cfg.LLM.Model).Msg("tie-breaker model enabled")
	} else {
		logger.Info().Msg("tie-breaker model disabled, disagreements settle on confidence")
	}

	specs := engineSpecs(cfg)
	if len(specs) == 0 {
		logger.Fatal().Msg("no engines configured")
	}

	manager := session.NewManager(
		session.Config{
			ContextWindow: cfg.Session.ContextWindow,
			IdleTimeout:   cfg.Session.IdleTimeout,
			Margin:        cfg.Consolidation.Margin,
			Distribute: distribute.Config{
				DispatchTimeout: cfg.Consolidation.DispatchTimeout,
				FinalWait:       cfg.Consolidation.FinalWait,
			},
		},
		specs,
		cfg.Engines.Primary,
		factory.New,
		model,
		speaker.NewPatternDetector(),
		publisher,
		metrics.DefaultMetrics,
	)

	obsServer := observability.NewServer(":"+cfg.Observability.MetricsPort, func() error {
		if manager.Draining() {
			return errors.New("draining")
		}
		return nil
	})
	obsServer.Start()

	port, err := strconv.Atoi(cfg.Service.HTTPPort)
	if err != nil {
		logger.Fatal().Err(err).Str("port", cfg.Service.HTTPPort).Msg("bad HTTP port")
	}
	doneCh, err := ws.StartWebServer(&ws.Data{
		Port:    port,
		Handler: ws.NewSpeechHandler(manager),
		Ctx:     ctx,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("can't start web server")
	}

	waitCh := make(chan os.Signal, 2)
	signal.Notify(waitCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-waitCh:
		logger.Info().Msg("Got exit signal")
	case <-doneCh:
		logger.Info().Msg("Service exit")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	manager.Shutdown(shutdownCtx)
	if err := obsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("observability shutdown failed")
	}
	cancelFunc()
	select {
	case <-doneCh:
		logger.Info().Msg("All code returned. Now exit. Bye")
	case <-time.After(15 * time.Second):
		logger.Warn().Msg("Timeout graceful shutdown")
	}
}

// engineSpecs snapshots the configured engine set for new sessions.
func engineSpecs(cfg *config.Configuration) []engine.Spec {
	opts := engine.Options{
		Language:     cfg.Engines.LanguageCode,
		SampleRateHz: cfg.Engines.SampleRateHz,
		Punctuation:  cfg.Engines.Punctuation,
	}
	var specs []engine.Spec
	for _, e := range cfg.Engines.Set {
		spec := engine.Spec{ID: e.ID, Kind: e.Kind, Options: opts}
		if e.Kind == "kaldi" {
			spec.URL = cfg.Engines.KaldiURL
		}
		specs = append(specs, spec)
	}
	return specs
}

var (
	version = "DEV"
)

func printBanner() {
	banner :=
		`
    STT CONSOLIDATION SERVICE v: %s

%s
________________________________________________________

`
	cl := color.New()
	cl.Printf(banner, cl.Red(version), cl.Green("dual-engine transcription consolidation"))
}
