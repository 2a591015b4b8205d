package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zapleads/zapleads/internal/config"
	"github.com/zapleads/zapleads/internal/db"
	"github.com/zapleads/zapleads/internal/directory"
	"github.com/zapleads/zapleads/internal/dispatch"
	"github.com/zapleads/zapleads/internal/gateway"
	"github.com/zapleads/zapleads/internal/metrics"
	"github.com/zapleads/zapleads/internal/notify"
	"github.com/zapleads/zapleads/internal/prospect"
	"github.com/zapleads/zapleads/internal/repository"
	"github.com/zapleads/zapleads/internal/validate"
)

// Server is the dashboard backend: the management API plus the engines
// behind it.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	db        *db.DB
	seen      *prospect.SeenStore
	campaigns *repository.CampaignRepository
	leads     *repository.LeadRepository
	logs      *repository.MessageLogRepository

	board      *dispatch.Board
	engine     *dispatch.Engine
	prospector *prospect.Prospector
	metrics    *metrics.Metrics

	router    *chi.Mux
	http      *http.Server
	startTime time.Time
}

// New wires the server together
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	seen, err := prospect.OpenSeenStore(cfg.Directory.SeenDB)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to open seen store: %w", err)
	}

	campaigns := repository.NewCampaignRepository(database.DB)
	leads := repository.NewLeadRepository(database.DB)
	logs := repository.NewMessageLogRepository(database.DB)

	gw := gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.APIKey, cfg.Gateway.Timeout)
	dir := directory.NewClient(cfg.Directory.BaseURL, cfg.Directory.APIKey, cfg.Directory.Timeout)

	board := dispatch.NewBoard(0)
	m := metrics.New()

	var notifier dispatch.Notifier
	if mailer := notify.New(cfg.Notify, logger); mailer != nil {
		notifier = mailer
	}

	engine := dispatch.New(campaigns, leads, logs, gw, board, notifier, m, dispatch.Config{}, logger)

	validator := validate.New(leads, gw, cfg.Validation.Pace, cfg.Validation.DefaultCountryCode, m, logger)
	prospector := prospect.New(campaigns, leads, dir, seen, validator, board,
		cfg.Directory.MaxPages, cfg.Validation.DefaultCountryCode, logger)

	s := &Server{
		cfg:        cfg,
		logger:     logger,
		db:         database,
		seen:       seen,
		campaigns:  campaigns,
		leads:      leads,
		logs:       logs,
		board:      board,
		engine:     engine,
		prospector: prospector,
		metrics:    m,
		router:     chi.NewRouter(),
		startTime:  time.Now(),
	}

	s.setupRoutes()

	s.http = &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", s.metrics.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Use(s.metricsMiddleware)

		r.Route("/campaigns", func(r chi.Router) {
			r.Post("/", s.handleCampaignCreate)
			r.Get("/", s.handleCampaignList)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleCampaignGet)
				r.Put("/", s.handleCampaignUpdate)
				r.Delete("/", s.handleCampaignDelete)

				r.Post("/start", s.handleStart)
				r.Post("/pause", s.handlePause)
				r.Post("/resume", s.handleResume)
				r.Post("/cancel", s.handleCancel)
				r.Get("/progress", s.handleProgress)

				r.Post("/leads", s.handleLeadAdd)
				r.Post("/leads/import", s.handleLeadImport)
				r.Get("/leads", s.handleLeadList)

				r.Post("/prospect", s.handleProspect)
				r.Post("/validate", s.handleValidate)

				r.Get("/logs", s.handleLogList)
			})
		})
	})
}

// Run starts everything and blocks until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	// Campaigns left active by a previous process have no run driving
	// them anymore; pause them so the operator can resume explicitly.
	if err := s.engine.RecoverStale(); err != nil {
		s.logger.Error("stale campaign recovery failed", "error", err)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "addr", s.cfg.Server.ListenAddr)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.shutdown()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http shutdown error", "error", err)
		}
		s.shutdown()
		return nil
	}
}

func (s *Server) shutdown() {
	s.engine.Stop()
	s.prospector.Stop()
	if err := s.seen.Close(); err != nil {
		s.logger.Error("failed to close seen store", "error", err)
	}
	if err := s.db.Close(); err != nil {
		s.logger.Error("failed to close database", "error", err)
	}
}
