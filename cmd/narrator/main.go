package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/satindergrewal/narrator/internal/api"
	"github.com/satindergrewal/narrator/internal/config"
	"github.com/satindergrewal/narrator/internal/device"
	"github.com/satindergrewal/narrator/internal/encoder"
	"github.com/satindergrewal/narrator/internal/ingest"
	"github.com/satindergrewal/narrator/internal/metrics"
	"github.com/satindergrewal/narrator/internal/player"
	"github.com/satindergrewal/narrator/internal/stream"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to parse configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if err := setupLogging(cfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to setup logging")
	}

	log.Debug().
		Str("format", cfg.Format().String()).
		Dur("lookahead", cfg.Lookahead).
		Dur("schedule_ahead", cfg.ScheduleAhead).
		Int("mp3_bitrate", cfg.MP3Bitrate).
		Str("ffmpeg", cfg.FFmpegPath).
		Msg("Configuration loaded")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	mp, metricsHandler, err := metrics.Setup("narrator")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up metrics")
	}
	defer mp.Shutdown(context.Background())
	recorder, err := metrics.New(mp)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create instruments")
	}

	// Output device: renders scheduled narration into 20ms frames
	format := cfg.Format()
	dev := device.NewRealtime(format, component("device"))
	go dev.Run(ctx)

	// Broadcaster: fan-out device frames to live listeners
	broadcaster := stream.NewBroadcaster(component("stream"))
	go broadcaster.Run(ctx, dev.Frames())

	ctrl, err := player.New(dev, player.Config{
		Format:          format,
		Lookahead:       cfg.Lookahead,
		ScheduleAhead:   cfg.ScheduleAhead,
		TickInterval:    cfg.TickInterval,
		MP3Bitrate:      cfg.MP3Bitrate,
		FinalizeTimeout: cfg.FinalizeTimeout,
		Encoder:         encoder.FFmpeg(cfg.FFmpegPath),
		Metrics:         recorder,
	}, component("player"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create player")
	}
	defer ctrl.Close()

	// Chunk ingestion over NATS (optional)
	natsURL := cfg.NATSURL
	if cfg.NATSEmbedded {
		ns, err := ingest.StartEmbedded("127.0.0.1", cfg.NATSPort, component("nats"))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to start embedded NATS")
		}
		defer ns.Shutdown()
		if natsURL == "" {
			natsURL = ns.ClientURL()
		}
	}
	if natsURL != "" {
		conn, err := ingest.Connect(natsURL, component("ingest"))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer conn.Close()
		sub, err := ingest.Subscribe(conn, cfg.NATSSubject, ctrl, component("ingest"))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to subscribe to chunks")
		}
		defer sub.Close()
	} else {
		log.Info().Msg("NATS not configured (set NARRATOR_NATS_URL or --nats-embedded to enable)")
	}

	// HTTP routes
	srv := api.New(ctrl, component("api"))
	srv.Handle("/api/chunks/ws", ingest.NewWebSocketHandler(ctrl, component("ingest")))
	srv.Handle("/metrics", metricsHandler)

	streamOpts := stream.Options{Format: format, BitrateKbps: cfg.StreamBitrate, FFmpegPath: cfg.FFmpegPath}
	srv.Handle("/stream", stream.NewHTTPHandler(broadcaster, streamOpts, component("stream")))
	rtc, err := stream.NewWebRTCHandler(broadcaster, streamOpts, component("webrtc"))
	if err != nil {
		log.Warn().Err(err).Msg("WebRTC listening disabled")
	} else {
		defer rtc.Close()
		srv.Handle("/offer", rtc)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:        addr,
		Handler:     srv,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutting down...")
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		server.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Str("format", format.String()).Msg("narrator listening")
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("HTTP server error")
	}
}

func component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

func setupLogging(cfg config.Config) error {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		log.Logger = zerolog.New(f).With().Timestamp().Logger()
	}

	return nil
}
