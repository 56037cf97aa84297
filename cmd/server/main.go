package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"github.com/xtrntr/escrow/internal/api"
	"github.com/xtrntr/escrow/internal/auth"
	"github.com/xtrntr/escrow/internal/config"
	"github.com/xtrntr/escrow/internal/custody"
	"github.com/xtrntr/escrow/internal/db"
	"github.com/xtrntr/escrow/internal/db/sqlite"
	"github.com/xtrntr/escrow/internal/escrow"
	"github.com/xtrntr/escrow/internal/feed"
	"github.com/xtrntr/escrow/internal/fixtures"
	"github.com/xtrntr/escrow/internal/funds"
	"github.com/xtrntr/escrow/internal/logging"
	"github.com/xtrntr/escrow/internal/metrics"
	"github.com/xtrntr/escrow/internal/models"
	"github.com/xtrntr/escrow/internal/telemetry"
)

const serviceName = "escrow"

func openStore(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (db.Store, error) {
	if cfg.DatabaseURL != "" {
		log.Info("using postgres store")
		pg, err := db.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return pg, nil
	}
	log.WithField("path", cfg.SQLitePath).Info("using sqlite store")
	lite, err := sqlite.Open(ctx, cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	return lite, nil
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return nil
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// Main entry point: sets up storage, the escrow engine and the HTTP server
func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		logrus.Fatalf("Failed to set up logging: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, serviceName, cfg.OTelEndpoint)
	if err != nil {
		logger.Fatalf("Failed to set up tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.WithError(err).Warn("failed to flush traces")
		}
	}()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close(context.Background())

	authService := auth.NewAuthService(store, cfg.JWTSecret, cfg.TokenTTL)

	// External collaborators: the deed registry and the payout bank
	engineAddr := models.Address(cfg.EngineAddress)
	deedsAddr := models.Address(cfg.DeedsAddress)
	deeds := custody.NewDeedRegistry()
	custodians := custody.NewRegistry()
	custodians.Register(deedsAddr, deeds)
	bank := funds.NewBank()

	hub := feed.NewHub(logger, checkOrigin(cfg.AllowedOrigins))
	engine := escrow.New(escrow.Config{Address: engineAddr, MinDuration: cfg.MinDuration}, custodians, bank,
		escrow.WithLogger(logger),
		escrow.WithRecorder(db.NewJournal(store, logger), hub, metrics.EventCounter{}),
	)
	deeds.RegisterReceiver(engineAddr, engine)
	if err := engine.Initialize(ctx); err != nil {
		logger.Fatalf("Failed to initialize engine: %v", err)
	}

	if cfg.FixturesPath != "" {
		fx, err := fixtures.Load(cfg.FixturesPath)
		if err != nil {
			logger.Fatalf("Failed to load fixtures: %v", err)
		}
		if err := fx.MintDeeds(ctx, deeds); err != nil {
			logger.Fatalf("Failed to mint fixture deeds: %v", err)
		}
		created, err := fx.RegisterUsers(ctx, authService, func(err error) bool {
			return errors.Is(err, db.ErrUserExists)
		})
		if err != nil {
			logger.Fatalf("Failed to register fixture users: %v", err)
		}
		logger.WithFields(logrus.Fields{
			"deeds": len(fx.Deeds),
			"users": created,
		}).Info("loaded fixtures")
	}

	handler := &api.Handler{
		Engine:      engine,
		AuthService: authService,
		Events:      store,
		Deeds:       deeds,
		Custodian:   deedsAddr,
		Log:         logger,
	}
	limiter := api.NewRateLimiter(cfg.RateLimit, cfg.RateBurst, logger)
	limiter.StartCleanup(time.Minute, ctx.Done())

	// Set up HTTP router
	r := chi.NewRouter()
	r.Use(metrics.InstrumentHandler)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Handle("/ws", hub)
	r.Handle("/metrics", metrics.Handler())
	r.Mount("/", api.NewRouter(handler, limiter))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("graceful shutdown failed")
	}
}
