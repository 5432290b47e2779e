// Voicelink - realtime voice conversation client with a web dashboard
// Negotiates a duplex audio+event connection to the OpenAI Realtime API
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/voicelink/voicelink/internal/config"
	"github.com/voicelink/voicelink/internal/log"
	"github.com/voicelink/voicelink/pkg/audio"
	"github.com/voicelink/voicelink/pkg/session"
	"github.com/voicelink/voicelink/pkg/web"
)

func main() {
	cfg := parseFlags()

	log.Init(cfg.LogLevel)
	logger := log.L()

	if err := cfg.Validate(); err != nil {
		logger.Error("configuration", "err", err)
		os.Exit(1)
	}

	mgr := session.NewManager(session.Config{
		APIKey:             cfg.APIKey,
		Endpoint:           cfg.Endpoint,
		Model:              cfg.Model,
		Voice:              cfg.Voice,
		VADThreshold:       cfg.VADThreshold,
		VADPrefixPadding:   cfg.VADPrefixPadding,
		VADSilenceDuration: cfg.VADSilenceDuration,
		Audio:              audio.DefaultConfig(),
	}, logger)
	defer mgr.Close()

	dashboard := web.NewServer(cfg.DashboardPort, mgr, logger)
	dashboard.StartAsync()
	defer dashboard.Shutdown()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if _, err := mgr.Start(ctx, dashboard.Callbacks(), cfg.SystemPrompt); err != nil {
		logger.Error("session negotiation failed", "err", err)
		logger.Info("dashboard stays up; retry with POST /api/start")
	}

	<-ctx.Done()
	logger.Info("shutting down")
}

// parseFlags loads environment configuration and applies flag overrides.
func parseFlags() config.Config {
	cfg := config.Load()

	model := flag.String("model", cfg.Model, "Realtime model name")
	voice := flag.String("voice", cfg.Voice, "Assistant voice identity")
	port := flag.String("port", cfg.DashboardPort, "Dashboard HTTP port")
	logLevel := flag.String("log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	prompt := flag.String("prompt", cfg.SystemPrompt, "System prompt for the assistant persona")
	flag.Parse()

	cfg.Model = *model
	cfg.Voice = *voice
	cfg.DashboardPort = *port
	cfg.LogLevel = *logLevel
	cfg.SystemPrompt = *prompt
	return cfg
}
