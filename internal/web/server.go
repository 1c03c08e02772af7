package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/dkruglov/trade-arena/internal/config"
	"github.com/dkruglov/trade-arena/internal/logger"
	"github.com/dkruglov/trade-arena/internal/market"
	"github.com/dkruglov/trade-arena/internal/storage"
	"github.com/dkruglov/trade-arena/internal/trader"
)

type Server struct {
	httpServer *http.Server
	repo       *storage.Repository
	market     *market.Fetcher
	manager    *trader.Manager
	config     *config.Config
	logger     *logger.Logger
}

func NewServer(
	repo *storage.Repository,
	fetcher *market.Fetcher,
	manager *trader.Manager,
	cfg *config.Config,
	log *logger.Logger,
) *Server {
	s := &Server{
		repo:    repo,
		market:  fetcher,
		manager: manager,
		config:  cfg,
		logger:  log,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/models", s.handleListModels)
		r.Post("/models", s.handleCreateModel)
		r.Put("/models/{id}", s.handleUpdateModel)
		r.Delete("/models/{id}", s.handleDeleteModel)
		r.Get("/models/{id}/portfolio", s.handlePortfolio)
		r.Get("/models/{id}/trades", s.handleTrades)
		r.Get("/models/{id}/conversations", s.handleConversations)
		r.Post("/models/{id}/execute", s.handleExecute)
		r.Get("/market/prices", s.handleMarketPrices)
		r.Get("/leaderboard", s.handleLeaderboard)
	})

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Web.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	s.logger.Info("web server starting", "port", s.config.Web.Port)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("web server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
