package main // Entry point package

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"            // metrics registry
	"github.com/prometheus/client_golang/prometheus/collectors" // runtime collectors
	"github.com/redis/go-redis/v9"                              // rate-limit counters
	"github.com/rs/zerolog/log"                                 // structured logging

	"github.com/iliyamo/gatekeeper/internal/config"   // Internal config loader
	"github.com/iliyamo/gatekeeper/internal/database" // MySQL connection and schema
	"github.com/iliyamo/gatekeeper/internal/federation"
	"github.com/iliyamo/gatekeeper/internal/gateway"
	"github.com/iliyamo/gatekeeper/internal/handler"
	"github.com/iliyamo/gatekeeper/internal/logger"
	"github.com/iliyamo/gatekeeper/internal/metrics"
	"github.com/iliyamo/gatekeeper/internal/middleware"
	"github.com/iliyamo/gatekeeper/internal/queue"
	"github.com/iliyamo/gatekeeper/internal/repository"
	"github.com/iliyamo/gatekeeper/internal/router" // Internal router setup
	"github.com/iliyamo/gatekeeper/internal/service"
	"github.com/iliyamo/gatekeeper/internal/utils"
)

func main() {
	cfg, err := config.Load() // Load environment config
	if err != nil {
		logger.Setup("info", false)
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logger.Setup(cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var checks []handler.HealthCheck

	// Credential store: MySQL in production, process memory for local runs.
	var (
		users  repository.CredentialStore
		tokens repository.RefreshTokenStore
	)
	switch cfg.DBDriver {
	case "memory":
		users, tokens = repository.NewMemoryUserStore(), repository.NewMemoryTokenStore()
		log.Warn().Msg("using in-memory credential store; identities are lost on restart")
	default:
		db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
		if err != nil {
			log.Fatal().Err(err).Msg("connect database")
		}
		defer db.Close()
		if err := database.EnsureSchema(ctx, db); err != nil {
			log.Fatal().Err(err).Msg("ensure schema")
		}
		users, tokens = repository.NewUserRepo(db), repository.NewTokenRepo(db)
		checks = append(checks, handler.HealthCheck{Name: "database", Check: pingDB(db)})
	}

	// Redis backs the limiter; when it is down we count in memory instead.
	var rdb *redis.Client
	if cfg.RateLimit.Enabled && cfg.RateLimit.Backend == "redis" {
		rdb, err = config.NewRedisClient(cfg.Redis)
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Address()).Msg("redis unavailable, rate limiting per process")
			rdb = nil
		} else {
			defer rdb.Close()
			checks = append(checks, handler.HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			}})
		}
	}
	limiter := middleware.NewRateLimiterFromConfig(cfg.RateLimit, rdb)

	issuer, err := utils.NewTokenIssuer(cfg.JWTSecret, cfg.AccessTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("token issuer")
	}
	sessions, err := service.NewSessionRegistry(cfg.SessionPolicy, users, tokens, cfg.HashRefreshTokens)
	if err != nil {
		log.Fatal().Err(err).Msg("session registry")
	}
	resolver := service.NewIdentityResolver(users, utils.NewBcryptHasher(cfg.BcryptCost))

	// Lifecycle events: AMQP when enabled, dropped otherwise.
	var events queue.Publisher = queue.NopPublisher{}
	if cfg.Events.Enabled {
		pub := queue.NewAMQPPublisher(cfg.Events.URL)
		defer pub.Close()
		events = pub
		if cfg.Events.ConsumerEnabled {
			sink, closer, err := queue.OpenAuditLog(cfg.Events.LogDir)
			if err != nil {
				log.Fatal().Err(err).Msg("open audit log")
			}
			defer closer.Close()
			go func() {
				if err := queue.StartAuditConsumer(ctx, cfg.Events.URL, sink); err != nil && !errors.Is(err, context.Canceled) {
					log.Error().Err(err).Msg("audit consumer stopped")
				}
			}()
		}
	}

	svc := service.NewAuthService(users, resolver, sessions, issuer, events, cfg.RefreshTTLSeconds())

	var federated *handler.FederatedHandler
	if cfg.Google.Enabled() {
		states := federation.NewStateStore(federation.DefaultStateTTL)
		defer states.Stop()
		provider := federation.NewGoogleProvider(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.CallbackURL)
		federated = handler.NewFederatedHandler(svc, provider, states, cfg.Google.FrontendURL)
	} else {
		federated = handler.NewFederatedHandler(svc, nil, nil, cfg.Google.FrontendURL)
		log.Info().Msg("federated login disabled: GOOGLE_CLIENT_ID, GOOGLE_CLIENT_SECRET or GOOGLE_CALLBACK_URL missing")
	}

	dispatcher, err := gateway.New(gateway.Options{
		BaseURL:               cfg.Gateway.DownstreamURL,
		Prefix:                cfg.Gateway.Prefix,
		RelayErrors:           cfg.Gateway.RelayErrors,
		ResponseHeaderTimeout: cfg.Gateway.Timeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("gateway")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(reg)

	e := router.New(router.Deps{
		Auth:          handler.NewAuthHandler(svc),
		Federated:     federated,
		Health:        &handler.HealthHandler{Checks: checks, Timeout: 2 * time.Second},
		Verifier:      issuer,
		Limiter:       limiter,
		Dispatcher:    dispatcher,
		GatewayPrefix: cfg.Gateway.Prefix,
		GatewayRoles:  cfg.Gateway.Roles,
		Metrics:       metrics.Handler(reg),
	})

	addr := ":" + cfg.Port // Address string with port
	go func() {
		log.Info().Str("addr", addr).Str("env", cfg.Env).Str("downstream", cfg.Gateway.DownstreamURL).
			Str("session_policy", cfg.SessionPolicy).Msg("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server stopped")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown")
	}
}

func pingDB(db *sql.DB) func(context.Context) error {
	return func(ctx context.Context) error { return db.PingContext(ctx) }
}
