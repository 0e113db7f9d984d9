package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/codeduel/go/clients/matchapi"
	"github.com/mcdev12/codeduel/go/internal/matchmaking/config"
	"github.com/mcdev12/codeduel/go/internal/matchmaking/gateway"
	"github.com/mcdev12/codeduel/go/internal/matchmaking/notify"
	"github.com/mcdev12/codeduel/go/internal/matchmaking/session"
	"github.com/mcdev12/codeduel/go/internal/matchmaking/statusapi"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	configPath := flag.String("config", os.Getenv("MATCHMAKING_CONFIG"), "path to a YAML config file")
	userID := flag.Int64("user", 0, "user ID to queue as (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if *userID > 0 {
		cfg.UserID = *userID
	}

	setupLogging(cfg)

	if cfg.UserID <= 0 {
		log.Fatal().Msg("user ID is required (MATCHMAKING_USER_ID or -user)")
	}

	log.Info().
		Int64("user_id", cfg.UserID).
		Str("websocket_url", cfg.Server.WebSocketURL).
		Bool("auto_join", cfg.AutoJoin).
		Str("status_addr", cfg.Status.Addr).
		Str("nats_url", cfg.NATS.URL).
		Msg("starting matchmaking client")

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notifier, closeNotifier := setupNotifier(cfg)
	defer closeNotifier()

	clientConfig := gateway.DefaultClientConfig()
	clientConfig.BaseURL = cfg.Server.WebSocketURL
	clientConfig.ReconnectDelay = cfg.Timing.ReconnectDelay
	transport := gateway.NewClient(clientConfig, nil)

	sess := session.New(ctx, transport, session.Config{
		HeartbeatInterval: cfg.Timing.HeartbeatInterval,
		DisplayTick:       cfg.Timing.DisplayTick,
		Notifier:          notifier,
		Router:            notify.LogRouter{BaseURL: cfg.Server.FrontendURL},
	})

	go logTransitions(ctx, sess)

	if cfg.AutoJoin {
		joiner := session.NewAutoJoiner(sess, matchapi.NewClient(cfg.Server.APIURL))
		go func() {
			if err := joiner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("auto-join stopped")
			}
		}()
	}

	if err := sess.Connect(ctx, cfg.UserID); err != nil {
		log.Fatal().Err(err).Msg("failed to connect session")
	}

	var server *http.Server
	if cfg.Status.Addr != "" {
		server = statusapi.NewServer(cfg.Status.Addr, cfg.Status.AllowedOrigins, sess)
		go func() {
			log.Info().Str("addr", server.Addr).Msg("status server starting")
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatal().Err(err).Msg("status server failed")
			}
		}()
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("status server shutdown failed")
		}
	}

	// Closes the socket with a normal closure so no reconnect is scheduled
	sess.Close()
	cancel()

	log.Info().Msg("matchmaking client shutdown complete")
}

func setupLogging(cfg config.Config) {
	if cfg.Log.Console {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil || level == zerolog.NoLevel {
		log.Warn().Str("level", cfg.Log.Level).Msg("unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

// setupNotifier logs every notification and, when NATS is configured, also
// publishes it. NATS being down never stops the client.
func setupNotifier(cfg config.Config) (notify.Notifier, func()) {
	if cfg.NATS.URL == "" {
		return notify.LogNotifier{}, func() {}
	}

	natsConfig := notify.DefaultNATSConfig()
	natsConfig.URL = cfg.NATS.URL
	natsConfig.SubjectPrefix = cfg.NATS.SubjectPrefix

	nc, err := notify.ConnectNATS(natsConfig)
	if err != nil {
		log.Error().Err(err).Str("nats_url", cfg.NATS.URL).Msg("NATS unavailable, notifications are logged only")
		return notify.LogNotifier{}, func() {}
	}

	log.Info().Str("url", nc.ConnectedUrl()).Str("prefix", natsConfig.SubjectPrefix).Msg("publishing notifications to NATS")
	chain := notify.Chain{notify.LogNotifier{}, notify.NewNATSNotifier(nc, natsConfig.SubjectPrefix)}
	return chain, func() {
		if err := nc.Drain(); err != nil {
			log.Warn().Err(err).Msg("failed to drain NATS connection")
		}
	}
}

// logTransitions prints phase changes and, while a match runs, the clock once a second
func logTransitions(ctx context.Context, sess *session.Session) {
	views, cancel := sess.Subscribe()
	defer cancel()

	var last session.View
	var lastSecond = -1
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-views:
			if !ok {
				return
			}

			if v.Connection != last.Connection || v.Queue != last.Queue || v.Match != last.Match {
				event := log.Info().
					Stringer("connection", v.Connection).
					Stringer("queue", v.Queue).
					Stringer("match", v.Match)
				if v.CurrentMatch != nil {
					event = event.
						Int64("match_id", v.CurrentMatch.ID).
						Str("problem", v.CurrentMatch.Problem.Title).
						Str("opponent", v.CurrentMatch.Opponent.Username)
				}
				event.Msg("session state changed")
			}

			if v.Telemetry != nil && (last.Telemetry == nil || *v.Telemetry != *last.Telemetry) {
				log.Debug().
					Int("queue_size", v.Telemetry.QueueSize).
					Float64("wait_time", v.Telemetry.WaitTime).
					Int("elo_range", v.Telemetry.EloRange).
					Int("potential_matches", v.Telemetry.PotentialMatches).
					Msg(v.Telemetry.Message)
			}

			if v.LastError != "" && v.LastError != last.LastError {
				log.Warn().Str("error", v.LastError).Msg("session error")
			}

			if v.Clock.Ticking && v.Clock.ElapsedSeconds != lastSecond {
				lastSecond = v.Clock.ElapsedSeconds
				log.Debug().Str("clock", v.Clock.Display).Msg("match clock")
			}
			last = v
		}
	}
}
