package main

import (
	"context"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/happypulse/pulse-backend/internal/config"
	"github.com/happypulse/pulse-backend/internal/database"
	"github.com/happypulse/pulse-backend/internal/eventlog"
	"github.com/happypulse/pulse-backend/internal/handlers"
	"github.com/happypulse/pulse-backend/internal/middleware"
	"github.com/happypulse/pulse-backend/internal/projection"
	"github.com/happypulse/pulse-backend/internal/realtime"
	"github.com/happypulse/pulse-backend/internal/routes"
	"github.com/happypulse/pulse-backend/internal/services"
)

func main() {
	// Load env
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("no .env file found")
	}
	cfg := config.Load()

	// Structured logging: human-readable in development, JSON in production
	if !cfg.IsProduction() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	// Connect to PostgreSQL (user profiles)
	if err := database.ConnectPostgres(cfg.PostgresURI); err != nil {
		log.Fatal().Err(err).Msg("failed to connect to PostgreSQL")
	}
	defer database.DisconnectPostgres()

	// Connect to Redis (event stream, auth tokens, caches, rate limiting)
	if err := database.ConnectRedis(cfg.RedisURI); err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer database.DisconnectRedis()

	// Connect to MongoDB (feed projections)
	if err := database.ConnectMongo(cfg.MongoURI); err != nil {
		log.Fatal().Err(err).Msg("failed to connect to MongoDB")
	}
	defer database.DisconnectMongo()

	if err := services.EnsureFeedIndexes(context.Background()); err != nil {
		log.Warn().Err(err).Msg("failed to ensure MongoDB feed indexes")
	}

	// Initialize Cloudinary for avatar uploads
	if cfg.CloudinaryName != "" && cfg.CloudinaryAPIKey != "" && cfg.CloudinaryAPISecret != "" {
		if err := handlers.InitCloudinaryService(cfg); err != nil {
			log.Warn().Err(err).Msg("failed to initialize Cloudinary, uploads disabled")
		}
	} else {
		log.Warn().Msg("Cloudinary credentials not found, uploads disabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Open the feed event log on its Redis stream and recover the tail
	store := eventlog.NewRedisStore(database.RedisClient, cfg.EventStreamKey)
	feedLog, err := eventlog.Open(ctx, store)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open event log")
	}
	log.Info().Uint64("last_seq", feedLog.LastSeq()).Msg("event log opened")

	// Realtime core: presence observes the session registry, the dispatcher
	// fans out feed events and presence edges to subscribed sessions.
	presence := realtime.NewPresence(cfg.PresenceGrace)
	registry := realtime.NewRegistry(cfg.SessionTTL, presence)
	dispatcher := realtime.NewDispatcher(feedLog, presence, cfg.DispatchQueueSize)

	// Projector rebuilds the post views from the log, then tails it
	projector := projection.New(feedLog, &services.FeedStore{})

	go registry.Run(ctx)
	go dispatcher.Run(ctx)
	go func() {
		if err := projector.Run(ctx); err != nil {
			log.Fatal().Err(err).Msg("projection failed")
		}
	}()

	handlers.Init(feedLog, projector, registry, presence, dispatcher)

	// Setup router
	r := chi.NewRouter()

	// Custom CORS: set headers and respond to OPTIONS with 200 so preflight never gets 403
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Production: SecurityHeaders → GlobalRateLimit → LoginRateLimit
	// Non-production: Redis-based rate limit only
	if cfg.IsProduction() {
		for _, mw := range middleware.ProductionSecurity() {
			r.Use(mw)
		}
		r.Use(middleware.FeedHistoryRateLimit)
		log.Info().Msg("production security enabled")
	} else {
		r.Use(middleware.RateLimitMiddleware)
	}

	// Health check (no rate limit)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	routes.SetupRoutes(r)

	log.Info().Str("port", cfg.Port).Msg("pulse backend running")
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		log.Fatal().Err(err).Msg("failed to start server")
	}
}
