package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ehr/neuroscribe/internal/config"
	"github.com/ehr/neuroscribe/internal/domain/patient"
	"github.com/ehr/neuroscribe/internal/platform/blobstore"
	"github.com/ehr/neuroscribe/internal/platform/clock"
	"github.com/ehr/neuroscribe/internal/platform/eventbus"
	"github.com/ehr/neuroscribe/internal/platform/metrics"
	"github.com/ehr/neuroscribe/internal/platform/middleware"
	"github.com/ehr/neuroscribe/internal/platform/openapi"
	"github.com/ehr/neuroscribe/internal/platform/session"
	"github.com/ehr/neuroscribe/internal/platform/summary"
	"github.com/ehr/neuroscribe/internal/platform/webhook"
	"github.com/ehr/neuroscribe/internal/platform/websocket"
)

// server is the assembled application. Close detaches the store observers,
// stops webhook deliveries and releases the event bus.
type server struct {
	echo     *echo.Echo
	store    *patient.Store
	hub      *websocket.Hub
	bus      eventbus.Bus
	metrics  *metrics.Metrics
	webhooks *webhook.Manager

	cleanup []func()
}

func newServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*server, error) {
	clk := clock.Real()

	// Patient store and classifier
	classifier := patient.NewClassifier(patient.ClassifierConfig{
		Clock:    clk,
		MinDelay: cfg.ClassifyMinDelay,
		MaxDelay: cfg.ClassifyMaxDelay,
	})
	store := patient.NewStore(
		patient.WithClock(clk),
		patient.WithScheduler(classifier),
		patient.WithListLatency(cfg.ListLatency),
		patient.WithLogger(logger),
	)
	blobs, err := newBlobStore(cfg)
	if err != nil {
		return nil, err
	}

	srv := &server{store: store, metrics: metrics.New()}

	// Event bus: Redis when configured, otherwise in-process.
	if cfg.RedisURL != "" {
		bus, err := eventbus.NewRedis(ctx, eventbus.RedisConfig{URL: cfg.RedisURL, Channel: cfg.RedisChannel}, logger)
		if err != nil {
			return nil, err
		}
		srv.bus = bus
		logger.Info().Str("channel", cfg.RedisChannel).Msg("connected to redis event bus")
	} else {
		srv.bus = eventbus.NewLocal()
	}

	srv.hub = websocket.NewHub(logger)
	if err := srv.bus.StartForwarder(ctx, srv.hub.Forward); err != nil {
		srv.bus.Close()
		return nil, err
	}

	srv.webhooks = webhook.NewManager(webhook.WithTopic(patient.TopicPatients), webhook.WithLogger(logger))
	srv.cleanup = append(srv.cleanup, func() { srv.webhooks.Close() })
	for _, u := range cfg.WebhookURLs {
		if _, err := srv.webhooks.Register(u, cfg.WebhookSecret, nil, "config"); err != nil {
			srv.Close()
			return nil, err
		}
	}
	if err := srv.bus.StartForwarder(ctx, srv.webhooks.Forward); err != nil {
		srv.Close()
		return nil, err
	}

	events := patient.NewEventPublisher(srv.bus, logger)
	srv.cleanup = append(srv.cleanup, events.Attach(store), srv.metrics.Attach(store))

	summaries := summary.New(summary.Config{
		APIKey:  cfg.GeminiAPIKey,
		Model:   cfg.GeminiModel,
		BaseURL: cfg.GeminiBaseURL,
		Timeout: cfg.SummaryTimeout,
	}, summary.WithLogger(logger), summary.OnFallback(srv.metrics.SummaryFallback))

	svc := patient.NewService(store, blobs, summaries, logger)
	svc.AddRecorder(srv.metrics, events)

	if cfg.SeedDemoData {
		if err := patient.SeedDemoData(ctx, store, blobs, clk.Now()); err != nil {
			srv.Close()
			return nil, err
		}
		logger.Info().Int("records", store.Len()).Msg("seeded demo records")
	}

	sessions := session.NewManager([]byte(cfg.SessionSecret), cfg.SessionTTL)
	requireSession := session.RequireSession(sessions)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	srv.echo = e

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(cfg.TLSEnabled))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders:     []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		AllowCredentials: true,
	}))
	e.Use(middleware.BodyLimit("1M", cfg.MaxUploadSize))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	if cfg.MetricsEnabled {
		e.Use(srv.metrics.Middleware())
		e.GET("/metrics", echo.WrapHandler(srv.metrics.Handler()))
	}

	e.GET("/health", srv.health)

	// API groups
	apiV1 := e.Group("/api/v1")

	loginLimit := middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           middleware.DefaultRateLimitConfig().IdleTTL,
	})
	session.NewHandler(sessions, cfg.TLSEnabled).RegisterRoutes(apiV1.Group("", loginLimit))

	patient.NewHandler(svc).RegisterRoutes(apiV1, requireSession)
	blobstore.NewBlobHandler(blobs).RegisterRoutes(apiV1.Group("", requireSession))
	webhook.NewHandler(srv.webhooks, session.UserFromContext).RegisterRoutes(apiV1, requireSession)

	openapi.NewGenerator("NeuroScribe API", version, e.Routes).RegisterRoutes(apiV1)

	// Live updates
	websocket.NewHandler(srv.hub, cfg.CORSOrigins, session.UserFromContext).
		RegisterRoutes(e.Group(""), requireSession)

	return srv, nil
}

// newBlobStore keeps scans in memory, sealed with AES-GCM when a key is
// configured.
func newBlobStore(cfg *config.Config) (blobstore.BlobStore, error) {
	limit := middleware.ParseLimit(cfg.MaxUploadSize)
	if cfg.BlobEncryptionKey == "" {
		return blobstore.NewInMemoryBlobStore(limit), nil
	}
	key, err := blobstore.ParseKey(cfg.BlobEncryptionKey)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = blobstore.DefaultMaxFileSize
	}
	enc, err := blobstore.NewEncryptedBlobStore(blobstore.NewInMemoryBlobStore(limit+blobstore.EncryptionOverhead), key, limit)
	if err != nil {
		return nil, err
	}
	return enc, nil
}

type healthResponse struct {
	Status    string `json:"status"`
	Records   int    `json:"records"`
	Observers int    `json:"observers"`
	WSClients int    `json:"ws_clients"`
	Webhooks  int    `json:"webhooks"`
}

func (s *server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		Status:    "ok",
		Records:   s.store.Len(),
		Observers: s.store.SubscriberCount(),
		WSClients: s.hub.ClientCount(),
		Webhooks:  len(s.webhooks.List()),
	})
}

// Close detaches observers and closes the event bus.
func (s *server) Close() error {
	for _, fn := range s.cleanup {
		fn()
	}
	s.cleanup = nil
	if s.bus == nil {
		return nil
	}
	err := s.bus.Close()
	if errors.Is(err, eventbus.ErrClosed) {
		return nil
	}
	return err
}
